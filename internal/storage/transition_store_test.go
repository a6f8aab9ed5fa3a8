package storage

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/example/ride-session/internal/models"
)

func exerciseStore(t *testing.T, s TransitionStore, key string) {
	t.Helper()
	ctx := context.Background()
	at := time.Unix(1700000000, 0).UTC()
	steps := []models.Transition{
		{SessionKey: key, Role: models.RoleDriver, From: "NONE", To: "REQUESTED", Event: "requestMatch", At: at},
		{SessionKey: key, RideRequestID: 7, Role: models.RoleDriver, From: "REQUESTED", To: "MATCHED", Event: "serverStatus", At: at.Add(time.Second)},
		{SessionKey: "other-" + key, Role: models.RolePassenger, From: "NONE", To: "REQUESTED", Event: "requestMatch", At: at},
	}
	for _, tr := range steps {
		if err := s.SaveTransition(ctx, tr); err != nil {
			t.Fatalf("save: %v", err)
		}
	}
	got, err := s.History(ctx, key)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(got) != 2 || got[0].To != "REQUESTED" || got[1].To != "MATCHED" || got[1].RideRequestID != 7 {
		t.Fatalf("unexpected history %+v", got)
	}
}

func TestMemoryStore(t *testing.T) {
	exerciseStore(t, NewMemoryStore(), "0-1")
}

func TestPostgresStore(t *testing.T) {
	dsn := os.Getenv("PG_DSN")
	if dsn == "" {
		t.Skip("PG_DSN not set")
	}
	s, err := NewPostgresStore(dsn)
	if err != nil {
		t.Skipf("postgres unavailable: %v", err)
	}
	defer s.Close()
	if err := s.EnsureSchema(context.Background()); err != nil {
		t.Fatalf("schema: %v", err)
	}
	exerciseStore(t, s, "test-"+time.Now().Format("150405.000000"))
}
