package event

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

// MaxSeverity is the upper bound of the 0-10 severity scale shared with
// downstream SIEM formats.
const MaxSeverity = 10

type Kind string

const (
	KindVerdict Kind = "verdict"
	KindAlert   Kind = "alert"
)

func ParseKind(s string) (Kind, error) {
	switch Kind(s) {
	case KindVerdict, KindAlert:
		return Kind(s), nil
	default:
		return "", fmt.Errorf("unknown event kind %q", s)
	}
}

// Attribute is a single key/value pair of an event's attribute map.
// Attributes keep their original order; SIEM extension blocks are
// order-sensitive and encode the pairs exactly as submitted.
type Attribute struct {
	Key   string
	Value any
}

type Attributes []Attribute

func (a Attributes) Get(key string) (any, bool) {
	for _, attr := range a {
		if attr.Key == key {
			return attr.Value, true
		}
	}
	return nil, false
}

// MarshalJSON renders the attributes as a JSON object with keys in
// slice order (encoding/json map marshaling would sort them).
func (a Attributes) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, attr := range a {
		if i > 0 {
			buf.WriteByte(',')
		}
		k, err := json.Marshal(attr.Key)
		if err != nil {
			return nil, err
		}
		buf.Write(k)
		buf.WriteByte(':')
		v, err := json.Marshal(attr.Value)
		if err != nil {
			return nil, fmt.Errorf("attribute %q: %w", attr.Key, err)
		}
		buf.Write(v)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func (a *Attributes) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*a = nil
		return nil
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return fmt.Errorf("attributes: expected object, got %v", tok)
	}
	var out Attributes
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return err
		}
		key, ok := keyTok.(string)
		if !ok {
			return fmt.Errorf("attributes: non-string key %v", keyTok)
		}
		var val any
		if err := dec.Decode(&val); err != nil {
			return fmt.Errorf("attribute %q: %w", key, err)
		}
		out = append(out, Attribute{Key: key, Value: val})
	}
	if _, err := dec.Token(); err != nil {
		return err
	}
	*a = out
	return nil
}

// Event is one notification produced by the analysis/alerting pipeline.
// Immutable once accepted; the delivery layer fans it out to every
// enabled endpoint of its tenant.
type Event struct {
	ID         string     `json:"id"`
	TenantID   string     `json:"tenant_id"`
	Kind       Kind       `json:"kind"`
	Severity   int        `json:"severity"`
	Subject    string     `json:"subject"`
	Attributes Attributes `json:"attributes,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}

func (e *Event) Validate() error {
	if e.TenantID == "" {
		return fmt.Errorf("tenant_id required")
	}
	if _, err := ParseKind(string(e.Kind)); err != nil {
		return err
	}
	if e.Severity < 0 || e.Severity > MaxSeverity {
		return fmt.Errorf("severity %d out of range 0-%d", e.Severity, MaxSeverity)
	}
	if e.Subject == "" {
		return fmt.Errorf("subject required")
	}
	return nil
}
