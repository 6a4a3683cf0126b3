package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"unicode/utf8"

	"github.com/Ragudos/chat-server/broadcast"
	"github.com/Ragudos/chat-server/models"
)

// DefaultMaxMessageLength bounds a message body in runes.
const DefaultMaxMessageLength = 5000

// ChatService assembles conversation history and the inbox, and runs the
// send pipeline: validate, persist, then publish to the hub.
type ChatService struct {
	store     ChatStore
	directory Directory
	hub       *broadcast.Hub
	maxLength int
}

func NewChatService(store ChatStore, directory Directory, hub *broadcast.Hub, maxLength int) *ChatService {
	if maxLength < 1 {
		maxLength = DefaultMaxMessageLength
	}
	return &ChatService{store: store, directory: directory, hub: hub, maxLength: maxLength}
}

// GetMessages returns the conversation between ownerID and counterpartID,
// oldest first, labeled from the owner's point of view.
func (s *ChatService) GetMessages(ctx context.Context, ownerID, counterpartID int64) (models.MessagesInChat, error) {
	if ownerID <= 0 || counterpartID <= 0 {
		return models.MessagesInChat{}, fmt.Errorf("%w: owner %d, counterpart %d", ErrInvalidInput, ownerID, counterpartID)
	}

	counterpart, err := s.directory.Resolve(ctx, counterpartID)
	if err != nil {
		return models.MessagesInChat{}, err
	}
	owner, err := s.directory.Resolve(ctx, ownerID)
	if err != nil {
		return models.MessagesInChat{}, err
	}

	messages, err := s.store.ListBetween(ctx, ownerID, counterpartID)
	if err != nil {
		return models.MessagesInChat{}, err
	}

	chat := models.MessagesInChat{
		ID:                models.ChatID(ownerID, counterpartID),
		CounterpartID:     counterpart.ID,
		CounterpartName:   counterpart.DisplayName,
		CounterpartAvatar: counterpart.Avatar(),
		OwnerID:           owner.ID,
		OwnerName:         owner.DisplayName,
		OwnerAvatar:       owner.Avatar(),
		Messages:          make([]models.MessageView, 0, len(messages)),
	}

	for _, msg := range messages {
		view := models.MessageView{
			ID:                   msg.ID,
			SenderID:             msg.SenderID,
			ReceiverID:           msg.ReceiverID,
			Message:              msg.Body,
			IsCounterpartMessage: isCounterpartMessage(msg.ReceiverID, counterpartID),
			CreatedAt:            msg.CreatedAt,
			CreatedAtDisplay:     models.FormatCreatedAt(msg.CreatedAt),
		}
		if view.IsCounterpartMessage {
			view.DisplayName, view.DisplayImage = chat.CounterpartName, chat.CounterpartAvatar
		} else {
			view.DisplayName, view.DisplayImage = chat.OwnerName, chat.OwnerAvatar
		}
		chat.Messages = append(chat.Messages, view)
	}

	return chat, nil
}

// isCounterpartMessage is computed from the message alone: it is the
// counterpart's line whenever it was not addressed to the counterpart.
func isCounterpartMessage(receiverID, counterpartID int64) bool {
	return receiverID != counterpartID
}

// GetInbox returns one summary per conversation userID takes part in. A user
// the directory does not know has an empty inbox.
func (s *ChatService) GetInbox(ctx context.Context, userID int64, search string) ([]models.ConversationSummary, error) {
	if userID <= 0 {
		return nil, fmt.Errorf("%w: user %d", ErrInvalidInput, userID)
	}

	latest, err := s.store.LatestPerConversation(ctx, userID, strings.TrimSpace(search))
	if err != nil {
		return nil, err
	}

	user, err := s.directory.Resolve(ctx, userID)
	if errors.Is(err, ErrNotFound) {
		log.Printf("Inbox requested for missing user %d", userID)
		return []models.ConversationSummary{}, nil
	}
	if err != nil {
		return nil, err
	}
	userAvatar := user.Avatar()

	summaries := make([]models.ConversationSummary, 0, len(latest))
	for _, row := range latest {
		other := user
		if row.OtherUserID != userID {
			other, err = s.directory.Resolve(ctx, row.OtherUserID)
			if errors.Is(err, ErrNotFound) {
				log.Printf("Skipping conversation of user %d with missing user %d", userID, row.OtherUserID)
				continue
			}
			if err != nil {
				return nil, err
			}
		}

		summaries = append(summaries, models.ConversationSummary{
			ID:              row.Message.ID,
			UserID:          user.ID,
			UserName:        user.DisplayName,
			UserAvatar:      userAvatar,
			OtherUserID:     other.ID,
			OtherUserName:   other.DisplayName,
			OtherUserAvatar: other.Avatar(),
			LatestSenderID:  row.Message.SenderID,
			LatestMessage:   row.Message.Body,
			LatestAt:        row.Message.CreatedAt,
			LatestAtDisplay: models.FormatCreatedAt(row.Message.CreatedAt),
		})
	}
	return summaries, nil
}

// Send stores a message from senderID to receiverID on behalf of callerID and
// publishes it to live viewers. Once the message is stored Send succeeds, no
// matter how many viewers received it.
func (s *ChatService) Send(ctx context.Context, callerID, senderID, receiverID int64, body string) (models.Message, error) {
	if callerID != senderID {
		return models.Message{}, fmt.Errorf("%w: user %d cannot send as user %d", ErrUnauthorized, callerID, senderID)
	}
	if senderID <= 0 || receiverID <= 0 {
		return models.Message{}, fmt.Errorf("%w: sender %d, receiver %d", ErrInvalidInput, senderID, receiverID)
	}
	body = strings.TrimSpace(body)
	if body == "" {
		return models.Message{}, fmt.Errorf("%w: message is empty", ErrInvalidInput)
	}
	if n := utf8.RuneCountInString(body); n > s.maxLength {
		return models.Message{}, fmt.Errorf("%w: message is %d characters, limit is %d", ErrInvalidInput, n, s.maxLength)
	}

	receiver, err := s.directory.Resolve(ctx, receiverID)
	if err != nil {
		return models.Message{}, err
	}

	msg, err := s.store.Append(ctx, senderID, receiverID, receiver.DisplayName, body)
	if err != nil {
		return models.Message{}, err
	}

	delivered := s.hub.Publish(models.BroadcastEvent{
		MessageID:  msg.ID,
		SenderID:   msg.SenderID,
		ReceiverID: msg.ReceiverID,
		Body:       msg.Body,
		CreatedAt:  msg.CreatedAt,
	})
	log.Printf("Message %d from %d to %d stored, %d live subscribers", msg.ID, senderID, receiverID, delivered)

	return msg, nil
}
