package api

import (
	"github.com/gin-gonic/gin"

	"github.com/charlesng35/marketlive/internal/handlers"
	"github.com/charlesng35/marketlive/internal/notifications"
)

func registerNotificationRoutes(api *gin.RouterGroup, store *notifications.Store) error {
	handler, err := handlers.NewNotificationHandler(store)
	if err != nil {
		return err
	}

	group := api.Group("/notifications")
	{
		group.GET("", handler.List)
		group.GET("/unread", handler.Unread)
		group.POST("/read-all", handler.MarkAllRead)
		group.POST("/:id/read", handler.MarkRead)
	}
	return nil
}
