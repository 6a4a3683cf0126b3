package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Ragudos/chat-server/broadcast"
	"github.com/Ragudos/chat-server/models"
)

type memStore struct {
	mu       sync.Mutex
	messages []models.Message
	names    map[int64]string
	clock    time.Time
	failing  bool
}

func newMemStore() *memStore {
	return &memStore{
		names: map[int64]string{},
		clock: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

func (s *memStore) Append(ctx context.Context, senderID, receiverID int64, receiverDisplayName, body string) (models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failing {
		return models.Message{}, fmt.Errorf("%w: connection refused", ErrStorage)
	}
	s.clock = s.clock.Add(time.Minute)
	msg := models.Message{
		ID:         int64(len(s.messages) + 1),
		SenderID:   senderID,
		ReceiverID: receiverID,
		Body:       body,
		CreatedAt:  s.clock,
	}
	s.messages = append(s.messages, msg)
	s.names[receiverID] = receiverDisplayName
	return msg, nil
}

func (s *memStore) ListBetween(ctx context.Context, a, b int64) ([]models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failing {
		return nil, fmt.Errorf("%w: connection refused", ErrStorage)
	}
	out := []models.Message{}
	for _, m := range s.messages {
		if m.Pair().Matches(a, b) {
			out = append(out, m)
		}
	}
	return out, nil
}

func (s *memStore) LatestPerConversation(ctx context.Context, userID int64, nameFilter string) ([]LatestMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failing {
		return nil, fmt.Errorf("%w: connection refused", ErrStorage)
	}
	latest := map[models.Pair]models.Message{}
	for _, m := range s.messages {
		if m.SenderID != userID && m.ReceiverID != userID {
			continue
		}
		latest[m.Pair()] = m
	}
	out := []LatestMessage{}
	for pair, m := range latest {
		other := pair.Other(userID)
		if nameFilter != "" && !strings.Contains(strings.ToLower(s.names[other]), strings.ToLower(nameFilter)) {
			continue
		}
		out = append(out, LatestMessage{OtherUserID: other, Message: m})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Message.ID > out[j].Message.ID })
	return out, nil
}

func (s *memStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.messages)
}

type memDirectory struct {
	users map[int64]models.User
	err   error
}

func (d *memDirectory) Resolve(ctx context.Context, userID int64) (models.User, error) {
	if d.err != nil {
		return models.User{}, d.err
	}
	u, ok := d.users[userID]
	if !ok {
		return models.User{}, fmt.Errorf("%w: %d", ErrNotFound, userID)
	}
	return u, nil
}

func strPtr(s string) *string { return &s }

func testUsers() *memDirectory {
	return &memDirectory{users: map[int64]models.User{
		1: {ID: 1, DisplayName: "Aaron", DisplayImage: strPtr("https://img.example/aaron.png"), Gender: models.GenderMale},
		2: {ID: 2, DisplayName: "Bea", Gender: models.GenderFemale},
		3: {ID: 3, DisplayName: "Cyd", Gender: models.GenderOther},
		4: {ID: 4, DisplayName: "Dory", Gender: models.GenderFemale},
		5: {ID: 5, DisplayName: "Eli", Gender: models.GenderMale},
		7: {ID: 7, DisplayName: "Gus", Gender: models.GenderMale},
	}}
}

func newTestService(t *testing.T) (*ChatService, *memStore, *broadcast.Hub) {
	t.Helper()
	store := newMemStore()
	hub := broadcast.New(16)
	t.Cleanup(hub.Close)
	return NewChatService(store, testUsers(), hub, 0), store, hub
}

func mustSend(t *testing.T, svc *ChatService, sender, receiver int64, body string) models.Message {
	t.Helper()
	msg, err := svc.Send(context.Background(), sender, sender, receiver, body)
	if err != nil {
		t.Fatalf("send %d->%d: %v", sender, receiver, err)
	}
	return msg
}

func TestSentMessageIsLabeledPerViewer(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	mustSend(t, svc, 1, 2, "hi")

	mine, err := svc.GetMessages(ctx, 1, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(mine.Messages) != 1 || mine.Messages[0].Message != "hi" {
		t.Fatalf("unexpected messages: %+v", mine.Messages)
	}
	if mine.Messages[0].IsCounterpartMessage {
		t.Fatal("sender's own message must not be flagged as the counterpart's")
	}
	if mine.Messages[0].DisplayName != "Aaron" {
		t.Fatalf("own message rendered as %q", mine.Messages[0].DisplayName)
	}
	if mine.ID != "sender_id=1&receiver_id=2" {
		t.Fatalf("chat id = %q", mine.ID)
	}

	theirs, err := svc.GetMessages(ctx, 2, 1)
	if err != nil {
		t.Fatal(err)
	}
	if !theirs.Messages[0].IsCounterpartMessage {
		t.Fatal("receiver must see the message flagged as the counterpart's")
	}
	if theirs.Messages[0].DisplayName != "Aaron" || theirs.Messages[0].DisplayImage != "https://img.example/aaron.png" {
		t.Fatalf("counterpart message rendered as %q %q", theirs.Messages[0].DisplayName, theirs.Messages[0].DisplayImage)
	}
}

func TestHistoryIsSymmetricAndOrdered(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	mustSend(t, svc, 1, 2, "one")
	mustSend(t, svc, 2, 1, "two")
	mustSend(t, svc, 1, 3, "elsewhere")
	mustSend(t, svc, 1, 2, "three")

	a, err := svc.GetMessages(ctx, 1, 2)
	if err != nil {
		t.Fatal(err)
	}
	b, err := svc.GetMessages(ctx, 2, 1)
	if err != nil {
		t.Fatal(err)
	}

	want := []string{"one", "two", "three"}
	if len(a.Messages) != len(want) || len(b.Messages) != len(want) {
		t.Fatalf("got %d and %d messages, want %d", len(a.Messages), len(b.Messages), len(want))
	}
	for i := range want {
		if a.Messages[i].Message != want[i] || a.Messages[i].ID != b.Messages[i].ID {
			t.Fatalf("position %d: %q/%d vs %d", i, a.Messages[i].Message, a.Messages[i].ID, b.Messages[i].ID)
		}
		if i > 0 && a.Messages[i].CreatedAt.Before(a.Messages[i-1].CreatedAt) {
			t.Fatalf("messages out of order at %d", i)
		}
	}
}

func TestPlaceholderAvatarInHistory(t *testing.T) {
	svc, _, _ := newTestService(t)

	mustSend(t, svc, 2, 1, "hey")

	chat, err := svc.GetMessages(context.Background(), 1, 2)
	if err != nil {
		t.Fatal(err)
	}
	if chat.CounterpartAvatar != models.PlaceholderImages[1] {
		t.Fatalf("counterpart avatar = %q", chat.CounterpartAvatar)
	}
	if chat.Messages[0].DisplayImage != models.PlaceholderImages[1] {
		t.Fatalf("message avatar = %q", chat.Messages[0].DisplayImage)
	}
	if chat.OwnerAvatar != "https://img.example/aaron.png" {
		t.Fatalf("owner avatar = %q", chat.OwnerAvatar)
	}
}

func TestInboxShowsLatestMessagePerConversation(t *testing.T) {
	svc, _, _ := newTestService(t)

	mustSend(t, svc, 1, 2, "hi")
	mustSend(t, svc, 2, 1, "hello")

	inbox, err := svc.GetInbox(context.Background(), 1, "")
	if err != nil {
		t.Fatal(err)
	}
	if len(inbox) != 1 {
		t.Fatalf("expected one conversation, got %d", len(inbox))
	}
	got := inbox[0]
	if got.LatestMessage != "hello" || got.LatestSenderID != 2 {
		t.Fatalf("latest = %q from %d", got.LatestMessage, got.LatestSenderID)
	}
	if got.UserID != 1 || got.OtherUserID != 2 || got.OtherUserName != "Bea" {
		t.Fatalf("participants = %d/%d %q", got.UserID, got.OtherUserID, got.OtherUserName)
	}
	if got.OtherUserAvatar != models.PlaceholderImages[1] {
		t.Fatalf("other avatar = %q", got.OtherUserAvatar)
	}
}

func TestInboxSearchAndEdgeRows(t *testing.T) {
	svc, store, _ := newTestService(t)
	ctx := context.Background()

	mustSend(t, svc, 1, 2, "to bea")
	mustSend(t, svc, 3, 1, "from cyd")
	mustSend(t, svc, 1, 1, "note to self")
	// a conversation whose other participant has since been removed
	if _, err := store.Append(ctx, 1, 99, "Ghost", "gone"); err != nil {
		t.Fatal(err)
	}

	all, err := svc.GetInbox(ctx, 1, "")
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 3 {
		t.Fatalf("expected 3 conversations, got %+v", all)
	}
	if all[0].OtherUserID != 1 || all[0].OtherUserName != "Aaron" {
		t.Fatalf("self chat should list the user on both sides, got %+v", all[0])
	}

	found, err := svc.GetInbox(ctx, 1, "  be ")
	if err != nil {
		t.Fatal(err)
	}
	if len(found) != 1 || found[0].OtherUserID != 2 {
		t.Fatalf("search result = %+v", found)
	}

	none, err := svc.GetInbox(ctx, 4, "")
	if err != nil {
		t.Fatal(err)
	}
	if len(none) != 0 {
		t.Fatalf("user without conversations got %+v", none)
	}
}

func TestSendAsSomeoneElseIsUnauthorized(t *testing.T) {
	svc, store, hub := newTestService(t)
	sub := hub.Subscribe()
	defer sub.Cancel()

	_, err := svc.Send(context.Background(), 7, 5, 1, "hi")
	if !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	if store.count() != 0 {
		t.Fatal("nothing must be stored")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := sub.Recv(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("nothing must be published, got %v", err)
	}
}

func TestSendRejectsInvalidInput(t *testing.T) {
	store := newMemStore()
	hub := broadcast.New(4)
	defer hub.Close()
	svc := NewChatService(store, testUsers(), hub, 5)

	cases := []struct {
		name     string
		sender   int64
		receiver int64
		body     string
	}{
		{"empty body", 1, 2, ""},
		{"blank body", 1, 2, " \n\t "},
		{"zero sender", 0, 2, "hi"},
		{"negative receiver", 1, -2, "hi"},
		{"too long", 1, 2, "hello!"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.Send(context.Background(), tc.sender, tc.sender, tc.receiver, tc.body)
			if !errors.Is(err, ErrInvalidInput) {
				t.Fatalf("expected ErrInvalidInput, got %v", err)
			}
		})
	}
	if store.count() != 0 {
		t.Fatalf("%d messages stored", store.count())
	}

	if _, err := svc.Send(context.Background(), 1, 1, 2, "héllo"); err != nil {
		t.Fatalf("a body at the limit is accepted: %v", err)
	}
}

func TestSendToUnknownUser(t *testing.T) {
	svc, store, _ := newTestService(t)

	_, err := svc.Send(context.Background(), 1, 1, 42, "anyone?")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if store.count() != 0 {
		t.Fatal("nothing must be stored")
	}

	if _, err := svc.GetMessages(context.Background(), 1, 42); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestStorageFailuresPropagate(t *testing.T) {
	svc, store, hub := newTestService(t)
	store.failing = true
	sub := hub.Subscribe()
	defer sub.Cancel()
	ctx := context.Background()

	if _, err := svc.Send(ctx, 1, 1, 2, "hi"); !errors.Is(err, ErrStorage) {
		t.Fatalf("send: expected ErrStorage, got %v", err)
	}
	if _, err := svc.GetMessages(ctx, 1, 2); !errors.Is(err, ErrStorage) {
		t.Fatalf("history: expected ErrStorage, got %v", err)
	}
	if _, err := svc.GetInbox(ctx, 1, ""); !errors.Is(err, ErrStorage) {
		t.Fatalf("inbox: expected ErrStorage, got %v", err)
	}

	recvCtx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	if _, err := sub.Recv(recvCtx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("a failed send must not be published, got %v", err)
	}
}

func TestLiveViewOnlySeesItsConversation(t *testing.T) {
	svc, _, _ := newTestService(t)

	view, err := svc.OpenLiveView(1, 1, 2)
	if err != nil {
		t.Fatal(err)
	}
	defer view.Close()

	mustSend(t, svc, 3, 4, "not for you")
	sent := mustSend(t, svc, 2, 1, "for you")

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	ev, err := view.Next(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if ev.MessageID != sent.ID || ev.Body != "for you" {
		t.Fatalf("got event %+v", ev)
	}
	if !ev.CreatedAt.Equal(sent.CreatedAt) {
		t.Fatalf("event time %v, stored %v", ev.CreatedAt, sent.CreatedAt)
	}

	live := view.Render(ev)
	if !live.IsCounterpartMessage {
		t.Fatal("message from the counterpart must be flagged")
	}
	if live.CreatedAtDisplay != models.FormatCreatedAt(sent.CreatedAt) {
		t.Fatalf("display = %q", live.CreatedAtDisplay)
	}
}

func TestOpenLiveViewRequiresParticipant(t *testing.T) {
	svc, _, _ := newTestService(t)

	if _, err := svc.OpenLiveView(3, 1, 2); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	if _, err := svc.OpenLiveView(1, 1, 0); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

func TestLiveViewEndsWhenHubCloses(t *testing.T) {
	svc, _, hub := newTestService(t)

	view, err := svc.OpenLiveView(2, 1, 2)
	if err != nil {
		t.Fatal(err)
	}
	defer view.Close()

	hub.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if _, err := view.Next(ctx); !errors.Is(err, broadcast.ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}

	// sending after shutdown still stores the message
	if _, err := svc.Send(context.Background(), 1, 1, 2, "late"); err != nil {
		t.Fatalf("send after hub close: %v", err)
	}
}

func TestInboxOfUnknownUserIsEmpty(t *testing.T) {
	svc, _, _ := newTestService(t)

	inbox, err := svc.GetInbox(context.Background(), 404, "")
	if err != nil {
		t.Fatalf("expected an empty inbox, got %v", err)
	}
	if inbox == nil || len(inbox) != 0 {
		t.Fatalf("inbox = %#v", inbox)
	}
}
