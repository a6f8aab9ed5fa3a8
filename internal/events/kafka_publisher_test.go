package events

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/example/ride-session/internal/models"
)

func TestDecode(t *testing.T) {
	in := models.Transition{SessionKey: "0-1", RideRequestID: 77, Role: models.RoleDriver, From: "RIDING", To: "COMPLETED", Event: "serverStatus", Points: 120, At: time.Unix(1700000000, 0).UTC()}
	b, _ := json.Marshal(in)
	got, err := Decode(b)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got != in {
		t.Fatalf("expected %+v, got %+v", in, got)
	}
	if _, err := Decode([]byte("{")); err == nil {
		t.Fatalf("expected error for truncated message")
	}
	if _, err := Decode([]byte(`{"from":"NONE"}`)); !errors.Is(err, ErrIncomplete) {
		t.Fatalf("expected ErrIncomplete, got %v", err)
	}
}
