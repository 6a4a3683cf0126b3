package models

import (
	"fmt"
	"time"
)

// CreatedAtLayout is how message timestamps are shown to the viewer.
const CreatedAtLayout = "Jan 2, 2006 3:04 PM"

// Message is a single stored chat line. It is never modified after Append.
type Message struct {
	ID         int64     `json:"id"`
	SenderID   int64     `json:"sender_id"`
	ReceiverID int64     `json:"receiver_id"`
	Body       string    `json:"body"`
	CreatedAt  time.Time `json:"created_at"`
}

// Pair returns the unordered conversation identity of the message.
func (m Message) Pair() Pair {
	return NewPair(m.SenderID, m.ReceiverID)
}

// Pair is an unordered pair of participants. NewPair normalizes the order so
// two pairs can be compared with ==.
type Pair struct {
	Low  int64
	High int64
}

func NewPair(a, b int64) Pair {
	if a > b {
		a, b = b, a
	}
	return Pair{Low: a, High: b}
}

// Matches reports whether {a, b} is the same conversation as p.
func (p Pair) Matches(a, b int64) bool {
	return p == NewPair(a, b)
}

// Other returns the participant that is not id. For a self-chat it returns id.
func (p Pair) Other(id int64) int64 {
	if p.Low == id {
		return p.High
	}
	return p.Low
}

// MessageView is a Message labeled from the perspective of one viewer.
type MessageView struct {
	ID                   int64     `json:"id"`
	SenderID             int64     `json:"sender_id"`
	ReceiverID           int64     `json:"receiver_id"`
	Message              string    `json:"message"`
	IsCounterpartMessage bool      `json:"is_counterpart_message"`
	DisplayName          string    `json:"display_name"`
	DisplayImage         string    `json:"display_image"`
	CreatedAt            time.Time `json:"created_at"`
	CreatedAtDisplay     string    `json:"created_at_display"`
}

// MessagesInChat is the history of one conversation as seen by its owner.
type MessagesInChat struct {
	// For ex. "sender_id=1&receiver_id=2"
	ID                string        `json:"id"`
	CounterpartID     int64         `json:"receiver_id"`
	CounterpartName   string        `json:"receiver_name"`
	CounterpartAvatar string        `json:"receiver_avatar"`
	OwnerID           int64         `json:"sender_id"`
	OwnerName         string        `json:"sender_name"`
	OwnerAvatar       string        `json:"sender_avatar"`
	Messages          []MessageView `json:"messages"`
}

func ChatID(ownerID, counterpartID int64) string {
	return fmt.Sprintf("sender_id=%d&receiver_id=%d", ownerID, counterpartID)
}

// ConversationSummary is one inbox row: the latest message of a conversation
// together with both participants' display attributes.
type ConversationSummary struct {
	ID              int64     `json:"id"`
	UserID          int64     `json:"user_id"`
	UserName        string    `json:"user_name"`
	UserAvatar      string    `json:"user_avatar"`
	OtherUserID     int64     `json:"other_user_id"`
	OtherUserName   string    `json:"other_user_name"`
	OtherUserAvatar string    `json:"other_user_avatar"`
	LatestSenderID  int64     `json:"latest_sender_id"`
	LatestMessage   string    `json:"latest_message"`
	LatestAt        time.Time `json:"latest_at"`
	LatestAtDisplay string    `json:"latest_at_display"`
}

// BroadcastEvent is what the hub carries to live subscribers after a message
// has been stored.
type BroadcastEvent struct {
	MessageID  int64     `json:"message_id"`
	SenderID   int64     `json:"sender_id"`
	ReceiverID int64     `json:"receiver_id"`
	Body       string    `json:"body"`
	CreatedAt  time.Time `json:"created_at"`
}

func (e BroadcastEvent) Pair() Pair {
	return NewPair(e.SenderID, e.ReceiverID)
}

// LiveMessage is a BroadcastEvent rendered for one viewer of the conversation.
type LiveMessage struct {
	BroadcastEvent
	IsCounterpartMessage bool   `json:"is_counterpart_message"`
	CreatedAtDisplay     string `json:"created_at_display"`
}

// FormatCreatedAt renders t in the viewer-facing layout.
func FormatCreatedAt(t time.Time) string {
	return t.Format(CreatedAtLayout)
}
