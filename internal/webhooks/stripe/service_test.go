package stripewebhook

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stripe/stripe-go/v84"

	"github.com/unlockit/unlockit-backend/internal/downloads"
)

type fakeEngine struct {
	events []downloads.SettlementEvent
	err    error
}

func (f *fakeEngine) HandleSettlement(ctx context.Context, event downloads.SettlementEvent) error {
	f.events = append(f.events, event)
	return f.err
}

func TestServiceForwardsCheckoutSessionEvents(t *testing.T) {
	engine := &fakeEngine{}
	service, err := NewService(engine)
	if err != nil {
		t.Fatalf("setup service: %v", err)
	}

	event := &stripe.Event{
		ID:   "evt_1",
		Type: stripe.EventTypeCheckoutSessionCompleted,
		Data: &stripe.EventData{
			Object: map[string]interface{}{
				"object": "checkout.session",
				"id":     "cs_123",
			},
		},
	}
	if err := service.HandleEvent(context.Background(), event); err != nil {
		t.Fatalf("handle event: %v", err)
	}

	if len(engine.events) != 1 {
		t.Fatalf("expected one settlement trigger, got %d", len(engine.events))
	}
	got := engine.events[0]
	if got.EventType != "checkout.session.completed" {
		t.Fatalf("unexpected event type %q", got.EventType)
	}
	if got.ObjectType != "checkout.session" {
		t.Fatalf("unexpected object type %q", got.ObjectType)
	}
	if got.SessionID != "cs_123" {
		t.Fatalf("unexpected session id %q", got.SessionID)
	}
}

func TestServiceRejectsEventsWithoutData(t *testing.T) {
	service, err := NewService(&fakeEngine{})
	if err != nil {
		t.Fatalf("setup service: %v", err)
	}
	if err := service.HandleEvent(context.Background(), &stripe.Event{ID: "evt_2"}); err == nil {
		t.Fatalf("expected error for event without data")
	}
}

func TestServicePropagatesEngineFailures(t *testing.T) {
	engine := &fakeEngine{err: errors.New("reconcile failed")}
	service, err := NewService(engine)
	if err != nil {
		t.Fatalf("setup service: %v", err)
	}

	event := &stripe.Event{
		ID:   "evt_3",
		Type: stripe.EventTypeCheckoutSessionAsyncPaymentSucceeded,
		Data: &stripe.EventData{Object: map[string]interface{}{"object": "checkout.session", "id": "cs_9"}},
	}
	if err := service.HandleEvent(context.Background(), event); err == nil {
		t.Fatalf("expected engine failure to propagate")
	}
}

type inMemoryStore struct {
	mu   sync.Mutex
	keys map[string]string
}

func newInMemoryStore() *inMemoryStore {
	return &inMemoryStore{keys: map[string]string{}}
}

func (s *inMemoryStore) Get(ctx context.Context, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.keys[key], nil
}

func (s *inMemoryStore) SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.keys[key]; exists {
		return false, nil
	}
	s.keys[key] = "1"
	return true, nil
}

func (s *inMemoryStore) IdempotencyKey(scope, id string) string {
	return "test:" + scope + ":" + id
}

func (s *inMemoryStore) Del(ctx context.Context, keys ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, key := range keys {
		delete(s.keys, key)
	}
	return nil
}

func TestIdempotencyGuardMarksAndReleases(t *testing.T) {
	guard, err := NewIdempotencyGuard(newInMemoryStore(), time.Minute, "stripe-webhook")
	if err != nil {
		t.Fatalf("setup guard: %v", err)
	}
	ctx := context.Background()

	seen, err := guard.CheckAndMark(ctx, "evt_1")
	if err != nil {
		t.Fatalf("first check: %v", err)
	}
	if seen {
		t.Fatalf("first delivery should not be marked seen")
	}

	seen, err = guard.CheckAndMark(ctx, "evt_1")
	if err != nil {
		t.Fatalf("second check: %v", err)
	}
	if !seen {
		t.Fatalf("replay should be marked seen")
	}

	if err := guard.Delete(ctx, "evt_1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	seen, err = guard.CheckAndMark(ctx, "evt_1")
	if err != nil {
		t.Fatalf("check after delete: %v", err)
	}
	if seen {
		t.Fatalf("released event should be retryable")
	}
}

func TestIdempotencyGuardRequiresEventID(t *testing.T) {
	guard, err := NewIdempotencyGuard(newInMemoryStore(), time.Minute, "stripe-webhook")
	if err != nil {
		t.Fatalf("setup guard: %v", err)
	}
	if _, err := guard.CheckAndMark(context.Background(), ""); err == nil {
		t.Fatalf("expected error for empty event id")
	}
	if err := guard.Delete(context.Background(), ""); err == nil {
		t.Fatalf("expected error for empty event id")
	}
}
