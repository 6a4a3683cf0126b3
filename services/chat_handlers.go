package services

import (
	"errors"
	"io"
	"log"
	"net/http"
	"strconv"

	"github.com/Ragudos/chat-server/auth"
	"github.com/Ragudos/chat-server/broadcast"
	"github.com/gin-contrib/sse"
	"github.com/gin-gonic/gin"
)

const chatUnavailable = "Something went wrong, chat unavailable"

// ChatHandler exposes ChatService over HTTP. Every route expects
// auth.RequireUser to have run.
type ChatHandler struct {
	chats *ChatService
}

func NewChatHandler(chats *ChatService) *ChatHandler {
	return &ChatHandler{chats: chats}
}

type sendMessageRequest struct {
	SenderID   int64  `json:"sender_id" binding:"required"`
	ReceiverID int64  `json:"receiver_id" binding:"required"`
	Body       string `json:"body" binding:"required"`
}

// SendMessage - sends a new message to another user
func (h *ChatHandler) SendMessage(c *gin.Context) {
	callerID, ok := auth.CurrentUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "You need to log in first"})
		return
	}

	var req sendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid message format: " + err.Error()})
		return
	}

	msg, err := h.chats.Send(c.Request.Context(), callerID, req.SenderID, req.ReceiverID, req.Body)
	if err != nil {
		writeError(c, "Failed to send message", err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"status": "Message sent successfully", "message": msg})
}

// GetMessagesForChat returns the caller's conversation with :counterpartId.
func (h *ChatHandler) GetMessagesForChat(c *gin.Context) {
	callerID, ok := auth.CurrentUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "You need to log in first"})
		return
	}

	counterpartID, err := strconv.ParseInt(c.Param("counterpartId"), 10, 64)
	if err != nil || counterpartID <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Select a chat to start chatting."})
		return
	}

	chat, err := h.chats.GetMessages(c.Request.Context(), callerID, counterpartID)
	if err != nil {
		writeError(c, "Failed to get chats", err)
		return
	}
	c.JSON(http.StatusOK, chat)
}

// ListChatsForUser returns the inbox of :userId, which must be the caller.
func (h *ChatHandler) ListChatsForUser(c *gin.Context) {
	callerID, ok := auth.CurrentUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "You need to log in first"})
		return
	}

	userID, err := strconv.ParseInt(c.Param("userId"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid user id"})
		return
	}
	if userID != callerID {
		c.JSON(http.StatusForbidden, gin.H{"error": "You are not authorized to view the chats of User: " + strconv.FormatInt(userID, 10) + "."})
		return
	}

	chats, err := h.chats.GetInbox(c.Request.Context(), userID, c.Query("search"))
	if err != nil {
		writeError(c, "Failed to retrieve chats", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"chats": chats})
}

// StreamLiveView pushes new messages of the caller's conversation with
// :counterpartId as server-sent events until the client goes away or the
// server shuts down.
func (h *ChatHandler) StreamLiveView(c *gin.Context) {
	callerID, ok := auth.CurrentUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "You need to log in first"})
		return
	}

	counterpartID, err := strconv.ParseInt(c.Param("counterpartId"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid user id"})
		return
	}

	view, err := h.chats.OpenLiveView(callerID, callerID, counterpartID)
	if err != nil {
		writeError(c, "Failed to open chat", err)
		return
	}
	defer view.Close()

	ctx := c.Request.Context()
	c.Header("Cache-Control", "no-cache")
	c.Header("X-Accel-Buffering", "no")
	c.Render(-1, sse.Event{Event: "open", Data: gin.H{"receiver_id": counterpartID}})
	c.Writer.Flush()

	log.Printf("User %d opened live view of chat with %d", callerID, counterpartID)
	c.Stream(func(w io.Writer) bool {
		ev, err := view.Next(ctx)
		if err != nil {
			if errors.Is(err, broadcast.ErrClosed) {
				c.Render(-1, sse.Event{Event: "close", Data: "server shutting down"})
			}
			return false
		}
		c.Render(-1, sse.Event{
			Id:    strconv.FormatInt(ev.MessageID, 10),
			Event: "message",
			Data:  view.Render(ev),
		})
		return true
	})
	log.Printf("User %d closed live view of chat with %d", callerID, counterpartID)
}

// writeError maps the chat error taxonomy to a response. Storage failures
// only tell the user the chat is unavailable.
func writeError(c *gin.Context, action string, err error) {
	switch {
	case errors.Is(err, ErrUnauthorized):
		c.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
	case errors.Is(err, ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, ErrInvalidInput):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		log.Printf("%s (request %s): %v", action, c.GetString(RequestIDKey), err)
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": chatUnavailable})
	}
}
