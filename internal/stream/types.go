package stream

import (
	"encoding/json"
	"errors"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/blitzy-public-samples/linkedin-recruiter-zfmk15-sub001/internal/events"
	"github.com/blitzy-public-samples/linkedin-recruiter-zfmk15-sub001/internal/queue"
)

// Sentinel errors
var (
	ErrInvalidToken   = errors.New("stream token must not be empty")
	ErrConnectionLost = errors.New("connection lost: reconnect attempts exhausted")
	ErrNotStarted     = errors.New("stream manager not started")
	ErrStopped        = errors.New("stream manager stopped")
	ErrDisconnected   = errors.New("disconnected while connecting")
	ErrEmptyEventType = errors.New("event type must not be empty")
)

// State is the connection state.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateClosing
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateClosing:
		return "closing"
	default:
		return "unknown"
	}
}

// Dead-letter reasons.
const (
	ReasonEvicted     = "evicted"
	ReasonUndelivered = "undelivered"
)

// Message is an outbound message waiting in the send queue.
type Message struct {
	ID         uuid.UUID
	EventType  string
	Payload    json.RawMessage
	EnqueuedAt time.Time

	attempts atomic.Int32
}

// Attempts returns how many writes of this message were tried.
func (m *Message) Attempts() int {
	return int(m.attempts.Load())
}

// envelope is the wire format for events in both directions.
type envelope struct {
	Event     string          `json:"event"`
	Data      json.RawMessage `json:"data"`
	Timestamp float64         `json:"timestamp"` // unix ms, may be fractional
}

// controlFrame matches {"type":"ping"} style frames.
type controlFrame struct {
	Type string `json:"type"`
}

// StateChange is the payload of events.TypeConnectionState.
type StateChange struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// LostPayload is the payload of events.TypeConnectionLost.
type LostPayload struct {
	Retries int    `json:"retries"`
	Error   string `json:"error"`
}

// Stats contains runtime statistics.
type Stats struct {
	State           string             `json:"state"`
	RetryCount      int                `json:"retry_count"`
	LastConnectedAt time.Time          `json:"last_connected_at"`
	Reconnects      int64              `json:"reconnects"`
	EventsReceived  int64              `json:"events_received"`
	MalformedFrames int64              `json:"malformed_frames"`
	MessagesSent    int64              `json:"messages_sent"`
	Queue           queue.Stats        `json:"queue"`
	Router          events.RouterStats `json:"router"`
}
