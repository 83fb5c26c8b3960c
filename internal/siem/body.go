package siem

import (
	"time"

	"github.com/aegishook/aegishook/internal/event"
)

// Reserved top-level keys of the outbound payload. Attributes with one
// of these names are dropped from the flattened body rather than
// shadowing envelope fields (they stay visible inside the encoded
// cef/leef string).
var reservedKeys = map[string]struct{}{
	"event_id":    {},
	"tenant_id":   {},
	"kind":        {},
	"severity":    {},
	"subject":     {},
	"occurred_at": {},
	"cef":         {},
	"leef":        {},
}

// BuildBody assembles the webhook POST payload: the event's fields and
// attributes flattened into one JSON object, plus, for CEF/LEEF
// endpoints, the encoded string under a top-level "cef" or "leef" key.
// Receivers read attribute fields like verdict or artifact_id directly
// off the object root.
func BuildBody(e *event.Event, f Format) ([]byte, error) {
	pairs := event.Attributes{
		{Key: "event_id", Value: e.ID},
		{Key: "tenant_id", Value: e.TenantID},
		{Key: "kind", Value: string(e.Kind)},
		{Key: "severity", Value: e.Severity},
		{Key: "subject", Value: e.Subject},
		{Key: "occurred_at", Value: e.CreatedAt.UTC().Format(time.RFC3339Nano)},
	}
	for _, attr := range e.Attributes {
		if _, taken := reservedKeys[attr.Key]; taken {
			continue
		}
		pairs = append(pairs, attr)
	}

	switch f {
	case FormatCEF, FormatLEEF:
		encoded, err := Encode(e, f)
		if err != nil {
			return nil, err
		}
		pairs = append(pairs, event.Attribute{Key: string(f), Value: encoded})
	case FormatJSON:
		// baseline format: the flattened event is the whole payload
	default:
		return nil, &FormatError{Format: f, Reason: ReasonUnknownFormat}
	}
	return pairs.MarshalJSON()
}
