package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"cloudsentinel/internal/kafka"
	"cloudsentinel/internal/queue"
	"cloudsentinel/internal/schema"
)

// streamRecord is the envelope carried on the Kafka event topic.
type streamRecord struct {
	Provider string         `json:"provider"`
	Record   map[string]any `json:"record"`
}

// KafkaHandler returns a message handler that normalizes raw provider
// records from the stream and enqueues them for scoring.
//
// Malformed or invalid records are logged and committed so a poison
// message cannot wedge the partition. A full queue returns an error,
// which leaves the offset uncommitted for redelivery.
func KafkaHandler(validator *schema.Validator, q *queue.RingBuffer) kafka.MessageHandler {
	return func(ctx context.Context, msg kafka.Message) error {
		var rec streamRecord
		if err := json.Unmarshal(msg.Value, &rec); err != nil {
			slog.Warn("dropping malformed stream record",
				"error", err,
				"topic", msg.Topic,
				"offset", msg.Offset,
			)
			return nil
		}

		// A provider header overrides the envelope, so producers that
		// publish bare records can tag them per message.
		if p := msg.Header("provider"); len(p) > 0 {
			rec.Provider = string(p)
		}

		if rec.Provider == "" || rec.Record == nil {
			slog.Warn("dropping incomplete stream record",
				"topic", msg.Topic,
				"offset", msg.Offset,
			)
			return nil
		}

		event, err := Normalize(rec.Provider, rec.Record)
		if err != nil {
			slog.Warn("dropping unnormalizable stream record",
				"error", err,
				"provider", rec.Provider,
				"offset", msg.Offset,
			)
			return nil
		}

		if err := validator.Validate(event); err != nil {
			slog.Warn("dropping invalid stream record",
				"error", err,
				"provider", rec.Provider,
				"event_type", event.EventType,
				"offset", msg.Offset,
			)
			return nil
		}

		if err := q.Push(event); err != nil {
			return fmt.Errorf("enqueue event %s: %w", event.EventID, err)
		}

		return nil
	}
}
