package api

import (
	"github.com/gin-gonic/gin"

	"github.com/charlesng35/marketlive/internal/handlers"
	"github.com/charlesng35/marketlive/internal/services"
)

func registerSessionRoutes(api *gin.RouterGroup, live *services.LiveService) error {
	handler, err := handlers.NewSessionHandler(live)
	if err != nil {
		return err
	}

	group := api.Group("/session")
	{
		group.GET("", handler.Get)
		group.PUT("", handler.Put)
		group.DELETE("", handler.Delete)
	}
	return nil
}
