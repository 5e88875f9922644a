package main

import (
	"log/slog"

	"github.com/blitzy-public-samples/linkedin-recruiter-zfmk15-sub001/internal/deadletter"
	"github.com/blitzy-public-samples/linkedin-recruiter-zfmk15-sub001/internal/metrics"
	"github.com/blitzy-public-samples/linkedin-recruiter-zfmk15-sub001/internal/stream"
)

// outcomeDiscarded labels dead letters that were only logged because
// storage is disabled.
const outcomeDiscarded = "discarded"

// deadLetterSink adapts stream dead letters to the recorder. With a nil
// recorder they are counted and logged only.
func deadLetterSink(rec *deadletter.Recorder, m *metrics.Metrics, logger *slog.Logger) func(*stream.Message, string) {
	if rec == nil {
		return func(msg *stream.Message, reason string) {
			m.IncDeadLetter(outcomeDiscarded)
			logger.Warn("outbound message discarded",
				"message_id", msg.ID,
				"event", msg.EventType,
				"reason", reason,
			)
		}
	}
	return func(msg *stream.Message, reason string) {
		rec.Record(entryFromMessage(msg, reason))
	}
}

func entryFromMessage(msg *stream.Message, reason string) deadletter.Entry {
	return deadletter.Entry{
		ID:         msg.ID,
		EventType:  msg.EventType,
		Payload:    msg.Payload,
		Reason:     reason,
		Attempts:   msg.Attempts(),
		EnqueuedAt: msg.EnqueuedAt,
	}
}
