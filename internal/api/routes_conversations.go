package api

import (
	"github.com/gin-gonic/gin"

	"github.com/charlesng35/marketlive/internal/chat"
	"github.com/charlesng35/marketlive/internal/handlers"
)

func registerConversationRoutes(api *gin.RouterGroup, session *chat.Session) error {
	handler, err := handlers.NewConversationHandler(session)
	if err != nil {
		return err
	}

	group := api.Group("/conversations")
	{
		group.GET("", handler.List)
		group.GET("/:id/messages", handler.Messages)
		group.POST("/:id/messages", handler.Send)
		group.POST("/:id/read", handler.MarkRead)
		group.POST("/:id/messages/:messageID/recall", handler.Recall)
	}
	return nil
}
