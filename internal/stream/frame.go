package stream

import (
	"encoding/json"
	"errors"
	"math"
	"time"

	"github.com/blitzy-public-samples/linkedin-recruiter-zfmk15-sub001/internal/events"
)

var errMalformedFrame = errors.New("malformed frame")

type frameKind int

const (
	frameEvent frameKind = iota
	frameControl
)

// parseFrame decodes an inbound frame. Frames without an event name are
// control frames if they carry a type, and malformed otherwise. A missing
// timestamp defaults to now.
func parseFrame(data []byte, now time.Time) (events.Event, frameKind, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return events.Event{}, 0, errors.Join(errMalformedFrame, err)
	}
	if env.Event == "" {
		var ctl controlFrame
		if err := json.Unmarshal(data, &ctl); err == nil && ctl.Type != "" {
			return events.Event{}, frameControl, nil
		}
		return events.Event{}, 0, errors.Join(errMalformedFrame, errors.New("missing event name"))
	}

	ts := now
	if us := env.Timestamp * 1e3; us > 0 && us < math.MaxInt64 {
		ts = time.UnixMicro(int64(math.Round(us)))
	}
	return events.Event{Type: env.Event, Data: env.Data, Timestamp: ts}, frameEvent, nil
}

// encodeFrame builds the outbound envelope for msg.
func encodeFrame(msg *Message, now time.Time) ([]byte, error) {
	data := msg.Payload
	if data == nil {
		data = json.RawMessage("null")
	}
	return json.Marshal(envelope{
		Event:     msg.EventType,
		Data:      data,
		Timestamp: float64(now.UnixMilli()),
	})
}
