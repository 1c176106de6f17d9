package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/umar/rental-chat/internal/models"
)

func TestErrorCodeUnwraps(t *testing.T) {
	err := fmt.Errorf("failed to append message: %w", models.ErrChatNotFound)
	if got := ErrorCode(err); got != CodeNotFound {
		t.Fatalf("expected %s, got %s", CodeNotFound, got)
	}
	if got := ErrorCode(errors.New("boom")); got != CodeInternal {
		t.Fatalf("expected %s, got %s", CodeInternal, got)
	}
	if got := ErrorCode(models.ErrCallAlreadyInProgress); got != CodeCallInProgress {
		t.Fatalf("expected %s, got %s", CodeCallInProgress, got)
	}
}

func TestEncodeEnvelope(t *testing.T) {
	data, err := Encode(EventUnreadCountUpdate, UnreadCountPayload{Count: 3, Scope: ScopeMessages})
	if err != nil {
		t.Fatal(err)
	}
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		t.Fatal(err)
	}
	if env.Type != EventUnreadCountUpdate {
		t.Fatalf("unexpected type %q", env.Type)
	}
	var p UnreadCountPayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		t.Fatal(err)
	}
	if p.Count != 3 || p.Scope != ScopeMessages {
		t.Fatalf("unexpected payload %+v", p)
	}

	bare, err := Encode(EventPong, nil)
	if err != nil {
		t.Fatal(err)
	}
	if string(bare) != `{"type":"pong"}` {
		t.Fatalf("unexpected bare envelope %s", bare)
	}
}
