package events

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Reserved event types published by the stream manager itself. They are
// always valid subscription targets.
const (
	TypeConnectionLost  = "connection.lost"
	TypeConnectionState = "connection.state"
)

// Sentinel errors
var (
	ErrInvalidEventType = errors.New("invalid event type")
	ErrSubscription     = errors.New("subscription error")
)

// Event is one inbound push notification.
type Event struct {
	Type      string          `json:"event"`
	Data      json.RawMessage `json:"data"`
	Timestamp time.Time       `json:"-"`
}

// Handler processes an event. A returned error or a panic is reported as a
// CallbackError and does not affect other handlers.
type Handler func(Event) error

// Handle identifies a subscription for Unsubscribe.
type Handle struct {
	ID        uuid.UUID
	EventType string
}

// CallbackError records one failed handler invocation.
type CallbackError struct {
	EventType string
	HandlerID uuid.UUID
	Err       error
	Panic     any // non-nil if the handler panicked
}

func (e *CallbackError) Error() string {
	if e.Panic != nil {
		return fmt.Sprintf("handler %s for %s panicked: %v", e.HandlerID, e.EventType, e.Panic)
	}
	return fmt.Sprintf("handler %s for %s failed: %v", e.HandlerID, e.EventType, e.Err)
}

func (e *CallbackError) Unwrap() error {
	return e.Err
}

// DispatchResult summarizes one Dispatch call.
type DispatchResult struct {
	Invoked int
	Errors  []*CallbackError
}

// RouterStats contains runtime statistics.
type RouterStats struct {
	Subscriptions  map[string]int `json:"subscriptions"`
	Dispatched     int64          `json:"dispatched"`
	CallbackErrors int64          `json:"callback_errors"`
}
