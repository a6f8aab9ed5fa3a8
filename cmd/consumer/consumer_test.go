package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/example/ride-session/internal/models"
	"github.com/example/ride-session/internal/storage"
)

// fakeSaver fails the first failN saves.
type fakeSaver struct {
	failN int
	calls int
	saved []models.Transition
}

func (f *fakeSaver) SaveTransition(_ context.Context, t models.Transition) error {
	f.calls++
	if f.calls <= f.failN {
		return errors.New("db fail")
	}
	f.saved = append(f.saved, t)
	return nil
}

func sampleTransition() models.Transition {
	return models.Transition{SessionKey: "0-1", RideRequestID: 7, Role: models.RoleDriver, From: "RIDING", To: "COMPLETED", Event: "serverStatus", Points: 120, At: time.Unix(1700000000, 0).UTC()}
}

func TestPersistWithRetry_SucceedsAfterRetries(t *testing.T) {
	f := &fakeSaver{failN: 2}
	start := time.Now()
	if err := persistWithRetry(context.Background(), f, sampleTransition(), 3, 10*time.Millisecond); err != nil {
		t.Fatalf("expected success, got err=%v", err)
	}
	if f.calls != 3 || len(f.saved) != 1 {
		t.Fatalf("expected 3 calls and one save, got calls=%d saved=%d", f.calls, len(f.saved))
	}
	if time.Since(start) < 30*time.Millisecond {
		t.Fatalf("expected backoff between attempts")
	}
}

func TestPersistWithRetry_FailsWhenExhausted(t *testing.T) {
	f := &fakeSaver{failN: 5}
	if err := persistWithRetry(context.Background(), f, sampleTransition(), 3, 5*time.Millisecond); err == nil {
		t.Fatalf("expected error after retries")
	}
	if f.calls != 3 {
		t.Fatalf("expected 3 attempts, got %d", f.calls)
	}
}

// scriptedReader replays messages, then blocks until the context ends.
type scriptedReader struct {
	msgs []kafka.Message
}

func (s *scriptedReader) ReadMessage(ctx context.Context) (kafka.Message, error) {
	if len(s.msgs) == 0 {
		<-ctx.Done()
		return kafka.Message{}, ctx.Err()
	}
	m := s.msgs[0]
	s.msgs = s.msgs[1:]
	return m, nil
}

func TestConsumeStoresValidTransitions(t *testing.T) {
	good, _ := json.Marshal(sampleTransition())
	r := &scriptedReader{msgs: []kafka.Message{
		{Value: []byte("not json")},
		{Value: good},
		{Value: []byte(`{"from":"NONE"}`)},
	}}
	store := storage.NewMemoryStore()
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	consume(ctx, r, store, slog.New(slog.NewJSONHandler(io.Discard, nil)))

	got, _ := store.History(context.Background(), "0-1")
	if len(got) != 1 || got[0].Points != 120 {
		t.Fatalf("unexpected stored transitions %+v", got)
	}
}
