package services

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/Ragudos/chat-server/broadcast"
	"github.com/Ragudos/chat-server/models"
)

// LiveView is one open conversation view: a hub subscription narrowed to a
// single pair of participants.
type LiveView struct {
	sub           *broadcast.Subscription
	pair          models.Pair
	viewerID      int64
	counterpartID int64
}

// OpenLiveView subscribes callerID to new messages between a and b. The
// caller must be one of the two participants.
func (s *ChatService) OpenLiveView(callerID, a, b int64) (*LiveView, error) {
	if a <= 0 || b <= 0 {
		return nil, fmt.Errorf("%w: participants %d and %d", ErrInvalidInput, a, b)
	}
	if callerID != a && callerID != b {
		return nil, fmt.Errorf("%w: user %d is not part of the conversation between %d and %d", ErrUnauthorized, callerID, a, b)
	}

	pair := models.NewPair(a, b)
	return &LiveView{
		sub:           s.hub.Subscribe(),
		pair:          pair,
		viewerID:      callerID,
		counterpartID: pair.Other(callerID),
	}, nil
}

// Next blocks until a message of the watched conversation arrives. Events of
// other conversations are dropped here, and a lagging view skips ahead
// without failing. It returns broadcast.ErrClosed once the view or the hub
// is closed, or ctx.Err().
func (v *LiveView) Next(ctx context.Context) (models.BroadcastEvent, error) {
	for {
		ev, err := v.sub.Recv(ctx)
		if errors.Is(err, broadcast.ErrLagged) {
			log.Printf("Live view of user %d resynchronized: %v", v.viewerID, err)
			continue
		}
		if err != nil {
			return models.BroadcastEvent{}, err
		}
		if ev.Pair() != v.pair {
			continue
		}
		return ev, nil
	}
}

// Render labels ev for the viewer of this live view, the same way
// GetMessages labels stored history.
func (v *LiveView) Render(ev models.BroadcastEvent) models.LiveMessage {
	return models.LiveMessage{
		BroadcastEvent:       ev,
		IsCounterpartMessage: isCounterpartMessage(ev.ReceiverID, v.counterpartID),
		CreatedAtDisplay:     models.FormatCreatedAt(ev.CreatedAt),
	}
}

// Done is closed when the view can no longer deliver events.
func (v *LiveView) Done() <-chan struct{} {
	return v.sub.Done()
}

// Close releases the hub subscription.
func (v *LiveView) Close() {
	v.sub.Cancel()
}
