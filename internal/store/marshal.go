package store

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/lwidev/therockqc/internal/model"
)

// Timestamps are stored as INTEGER unix nanoseconds (UTC).
func encodeTime(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UTC().UnixNano()
}

func decodeTime(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n).UTC()
}

// marshalCounters converts Counters to JSON TEXT for storage.
func marshalCounters(c model.Counters) (string, error) {
	c.LastAppliedAt = c.LastAppliedAt.UTC()
	data, err := json.Marshal(c)
	if err != nil {
		return "", fmt.Errorf("marshal counters: %w", err)
	}
	return string(data), nil
}

// unmarshalCounters parses JSON TEXT to Counters.
func unmarshalCounters(data string) (model.Counters, error) {
	var c model.Counters
	if data == "" || data == "{}" {
		return c, nil
	}
	if err := json.Unmarshal([]byte(data), &c); err != nil {
		return model.Counters{}, fmt.Errorf("unmarshal counters: %w", err)
	}
	return c, nil
}

// marshalEffect converts an Effect to JSON TEXT for the outbox payload.
func marshalEffect(e model.Effect) (string, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return "", fmt.Errorf("marshal effect: %w", err)
	}
	return string(data), nil
}

// unmarshalEffect parses an outbox payload.
func unmarshalEffect(data string) (model.Effect, error) {
	var e model.Effect
	if err := json.Unmarshal([]byte(data), &e); err != nil {
		return model.Effect{}, fmt.Errorf("unmarshal effect: %w", err)
	}
	return e, nil
}
