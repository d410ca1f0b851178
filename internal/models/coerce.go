package models

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"strings"
	"time"

	"github.com/araddon/dateparse"

	"github.com/eldtechnologies/omnirouter/internal/ids"
)

// now is replaced in tests.
var now = time.Now

// CoerceInbound normalizes a loosely shaped payload into a validated
// inbound envelope. The payload may be a bare message or {"message": ...},
// given as a map, JSON bytes/string, or any of this package's types.
// The direction is always forced to "in".
func CoerceInbound(v any) (InboundEnvelope, error) {
	msg, err := coerce(v, DirectionIn)
	if err != nil {
		return InboundEnvelope{}, err
	}
	return InboundEnvelope{Message: msg}, nil
}

// CoerceOutbound is CoerceInbound for replies; the direction is forced to "out".
func CoerceOutbound(v any) (OutboundEnvelope, error) {
	msg, err := coerce(v, DirectionOut)
	if err != nil {
		return OutboundEnvelope{}, err
	}
	return OutboundEnvelope{Message: msg}, nil
}

// IsInbound reports whether v coerces into a valid inbound envelope.
func IsInbound(v any) bool {
	_, err := CoerceInbound(v)
	return err == nil
}

// IsOutbound reports whether v coerces into a valid outbound envelope.
func IsOutbound(v any) bool {
	_, err := CoerceOutbound(v)
	return err == nil
}

func coerce(v any, dir Direction) (Message, error) {
	raw, err := extractMessage(v)
	if err != nil {
		return Message{}, err
	}

	fields := make(map[string]any, len(raw)+4)
	for k, val := range raw {
		if val != nil {
			fields[k] = val
		}
	}

	if isBlank(fields["id"]) {
		fields["id"] = ids.NewMessageID()
	}
	if isBlank(fields["conversationId"]) {
		fields["conversationId"] = threadID(fields)
	}
	fields["timestamp"] = normalizeTimestamp(fields["timestamp"])
	fields["direction"] = string(dir)

	issues, err := validateFields(fields)
	if err != nil {
		return Message{}, fmt.Errorf("load message schema: %w", err)
	}
	if len(issues) > 0 {
		return Message{}, newValidationError(issues)
	}

	data, err := json.Marshal(fields)
	if err != nil {
		return Message{}, err
	}
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return Message{}, newValidationError([]Issue{{Path: "message", Reason: err.Error()}})
	}
	return msg, nil
}

// extractMessage resolves the "bare message | {message: ...}" union into the
// message object itself.
func extractMessage(v any) (map[string]any, error) {
	var obj map[string]any
	switch t := v.(type) {
	case nil:
		return nil, notAnObject()
	case map[string]any:
		obj = t
	case []byte:
		return decodeObject(t)
	case json.RawMessage:
		return decodeObject(t)
	case string:
		return decodeObject([]byte(t))
	case Message:
		return toObject(t)
	case *Message:
		if t == nil {
			return nil, notAnObject()
		}
		return toObject(*t)
	case InboundEnvelope:
		return toObject(t.Message)
	case OutboundEnvelope:
		return toObject(t.Message)
	default:
		m, err := toObject(t)
		if err != nil {
			return nil, err
		}
		obj = m
	}

	if inner, ok := obj["message"].(map[string]any); ok {
		return inner, nil
	}
	return obj, nil
}

func decodeObject(data []byte) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, newValidationError([]Issue{{Path: "message", Reason: "invalid JSON: " + err.Error()}})
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return nil, newValidationError([]Issue{{Path: "message", Reason: "invalid JSON: trailing data after value"}})
	}
	if _, ok := v.(map[string]any); !ok {
		return nil, notAnObject()
	}
	return extractMessage(v)
}

func toObject(v any) (map[string]any, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, newValidationError([]Issue{{Path: "message", Reason: err.Error()}})
	}
	return decodeObject(data)
}

func notAnObject() error {
	return newValidationError([]Issue{{Path: "message", Reason: "must be an object"}})
}

func isBlank(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(t) == ""
	}
	return false
}

func threadID(fields map[string]any) string {
	for _, key := range []string{"threadId", "thread_id"} {
		if s, ok := fields[key].(string); ok && strings.TrimSpace(s) != "" {
			return s
		}
	}
	return ids.NewMessageID()
}

// normalizeTimestamp accepts epoch milliseconds or a date string and falls
// back to the current time.
func normalizeTimestamp(v any) int64 {
	switch t := v.(type) {
	case json.Number:
		if n, err := t.Int64(); err == nil && n >= 0 {
			return n
		}
		if f, err := t.Float64(); err == nil {
			return epochFromFloat(f)
		}
	case float64:
		return epochFromFloat(t)
	case int64:
		if t >= 0 {
			return t
		}
	case int:
		if t >= 0 {
			return int64(t)
		}
	case time.Time:
		if !t.IsZero() {
			return t.UnixMilli()
		}
	case string:
		s := strings.TrimSpace(t)
		if s != "" {
			if parsed, err := dateparse.ParseAny(s); err == nil && parsed.UnixMilli() >= 0 {
				return parsed.UnixMilli()
			}
		}
	}
	return now().UnixMilli()
}

func epochFromFloat(f float64) int64 {
	if math.IsNaN(f) || math.IsInf(f, 0) || f < 0 || f >= math.MaxInt64 {
		return now().UnixMilli()
	}
	return int64(f)
}
