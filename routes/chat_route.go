package routes

import (
	"github.com/Ragudos/chat-server/auth"
	"github.com/Ragudos/chat-server/services"

	"github.com/gin-gonic/gin"
)

func SetupChatRoutes(r *gin.Engine, chats *services.ChatHandler, tokens *auth.Tokens) {
	api := r.Group("/api/v1", auth.RequireUser(tokens))

	// Send a message as the logged in user
	api.POST("/messages", chats.SendMessage)

	// Full history between the caller and another user
	api.GET("/chats/:counterpartId/messages", chats.GetMessagesForChat)

	// Live messages of one conversation as server-sent events
	api.GET("/chats/:counterpartId/live", chats.StreamLiveView)

	// Inbox, optionally filtered by ?search=
	api.GET("/users/:userId/chats", chats.ListChatsForUser)

	r.GET("/ws", auth.RequireUser(tokens), chats.ServeWs)
}
