package services

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/Ragudos/chat-server/auth"
	"github.com/Ragudos/chat-server/broadcast"
	"github.com/Ragudos/chat-server/models"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxFrameSize   = 16 * 1024
	sendBufferSize = 32
)

// Upgrader is shared by every websocket connection. Origins are checked by
// the CORS layer in front of it.
var Upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Client is one websocket connection looking at one conversation.
type Client struct {
	id     string
	userID int64
	conn   *websocket.Conn
	send   chan []byte
	view   *LiveView
	chats  *ChatService
}

// inboundFrame is what a client writes to send a message.
type inboundFrame struct {
	SenderID   int64  `json:"sender_id"`
	ReceiverID int64  `json:"receiver_id"`
	Message    string `json:"message"`
}

// outboundFrame is what the server writes: either a new message of the
// conversation or the error of a failed send.
type outboundFrame struct {
	Type    string              `json:"type"`
	Message *models.LiveMessage `json:"message,omitempty"`
	Error   string              `json:"error,omitempty"`
}

// ServeWs upgrades the request and keeps the caller's conversation with
// ?receiver_id= open until either side goes away.
func (h *ChatHandler) ServeWs(c *gin.Context) {
	userID, ok := auth.CurrentUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "You need to log in first"})
		return
	}
	receiverID, err := strconv.ParseInt(c.Query("receiver_id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Select a chat to start chatting."})
		return
	}

	view, err := h.chats.OpenLiveView(userID, userID, receiverID)
	if err != nil {
		writeError(c, "Failed to open chat", err)
		return
	}

	conn, err := Upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		view.Close()
		log.Printf("WebSocket upgrade failed for user %d: %v", userID, err)
		return
	}

	client := &Client{
		id:     uuid.NewString(),
		userID: userID,
		conn:   conn,
		send:   make(chan []byte, sendBufferSize),
		view:   view,
		chats:  h.chats,
	}
	log.Printf("User %d connected on %s, watching chat with %d", userID, client.id, receiverID)

	ctx, cancel := context.WithCancel(context.Background())
	go client.writePump(ctx, cancel)
	go client.livePump(ctx, cancel)
	client.readPump(ctx, cancel)
}

// readPump runs on the handler goroutine and turns every inbound frame into a
// send on behalf of the connected user.
func (c *Client) readPump(ctx context.Context, cancel context.CancelFunc) {
	defer func() {
		cancel()
		c.view.Close()
		c.conn.Close()
		log.Printf("User %d disconnected from %s", c.userID, c.id)
	}()

	c.conn.SetReadLimit(maxFrameSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("error: %v", err)
			}
			return
		}

		var frame inboundFrame
		if err := json.Unmarshal(raw, &frame); err != nil {
			c.enqueue(ctx, outboundFrame{Type: "error", Error: "Invalid message format"})
			continue
		}

		if _, err := c.chats.Send(ctx, c.userID, frame.SenderID, frame.ReceiverID, frame.Message); err != nil {
			c.enqueue(ctx, outboundFrame{Type: "error", Error: frameError(err)})
		}
	}
}

// livePump forwards the conversation's new messages to writePump. It ends the
// connection when the hub closes.
func (c *Client) livePump(ctx context.Context, cancel context.CancelFunc) {
	for {
		ev, err := c.view.Next(ctx)
		if err != nil {
			if errors.Is(err, broadcast.ErrClosed) {
				cancel()
			}
			return
		}
		msg := c.view.Render(ev)
		c.enqueue(ctx, outboundFrame{Type: "message", Message: &msg})
	}
}

// writePump is the only goroutine writing to the connection. A failed write
// ends the whole connection so readPump and livePump stop waiting on it.
func (c *Client) writePump(ctx context.Context, cancel context.CancelFunc) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		cancel()
		c.conn.Close()
	}()

	for {
		select {
		case payload := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				log.Printf("Sending to user %d on %s failed: %v", c.userID, c.id, err)
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-ctx.Done():
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "chat closed"))
			return
		}
	}
}

func (c *Client) enqueue(ctx context.Context, frame outboundFrame) {
	payload, err := json.Marshal(frame)
	if err != nil {
		log.Printf("error: %v", err)
		return
	}
	select {
	case c.send <- payload:
	case <-ctx.Done():
	}
}

// frameError is the error text a websocket client sees. Storage details stay
// in the server log.
func frameError(err error) string {
	switch {
	case errors.Is(err, ErrUnauthorized), errors.Is(err, ErrNotFound), errors.Is(err, ErrInvalidInput):
		return err.Error()
	default:
		log.Printf("Failed to send message: %v", err)
		return chatUnavailable
	}
}
