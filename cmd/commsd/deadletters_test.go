package main

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/blitzy-public-samples/linkedin-recruiter-zfmk15-sub001/internal/stream"
)

func TestEntryFromMessage(t *testing.T) {
	enqueued := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	msg := &stream.Message{
		ID:         uuid.New(),
		EventType:  "notification",
		Payload:    json.RawMessage(`{"x":1}`),
		EnqueuedAt: enqueued,
	}

	e := entryFromMessage(msg, stream.ReasonUndelivered)

	if e.ID != msg.ID {
		t.Errorf("ID = %v, want %v", e.ID, msg.ID)
	}
	if e.EventType != "notification" {
		t.Errorf("EventType = %q, want %q", e.EventType, "notification")
	}
	if string(e.Payload) != `{"x":1}` {
		t.Errorf("Payload = %s, want %s", e.Payload, `{"x":1}`)
	}
	if e.Reason != stream.ReasonUndelivered {
		t.Errorf("Reason = %q, want %q", e.Reason, stream.ReasonUndelivered)
	}
	if e.Attempts != 0 {
		t.Errorf("Attempts = %d, want 0", e.Attempts)
	}
	if !e.EnqueuedAt.Equal(enqueued) {
		t.Errorf("EnqueuedAt = %v, want %v", e.EnqueuedAt, enqueued)
	}
}
