package siem

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/aegishook/aegishook/internal/event"
)

func testEvent() *event.Event {
	return &event.Event{
		ID:       "evt-1",
		TenantID: "tenant-a",
		Kind:     event.KindVerdict,
		Severity: 7,
		Subject:  "artifact-9f2c",
		Attributes: event.Attributes{
			{Key: "verdict", Value: "malicious"},
			{Key: "artifact_id", Value: "9f2c"},
			{Key: "score", Value: 97},
		},
		CreatedAt: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestEncodeCEFShape(t *testing.T) {
	got, err := Encode(testEvent(), FormatCEF)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if !strings.HasPrefix(got, "CEF:") {
		t.Errorf("missing CEF: prefix: %q", got)
	}
	parts := strings.Split(got, "|")
	if len(parts) < 7 {
		t.Fatalf("got %d pipe fields, want at least 7: %q", len(parts), got)
	}
	if parts[6] != "7" {
		t.Errorf("severity field = %q, want %q", parts[6], "7")
	}
	if want := "verdict: artifact-9f2c"; parts[5] != want {
		t.Errorf("name field = %q, want %q", parts[5], want)
	}
	ext := parts[len(parts)-1]
	for _, pair := range []string{"subject", "sev", "verdict", "artifact_id", "score"} {
		if !strings.Contains(ext, pair+"\\=") && !strings.Contains(ext, pair+"=") {
			t.Errorf("extension missing %q pair: %q", pair, ext)
		}
	}
}

func TestEncodeLEEFShape(t *testing.T) {
	got, err := Encode(testEvent(), FormatLEEF)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if !strings.HasPrefix(got, "LEEF:") {
		t.Errorf("missing LEEF: prefix: %q", got)
	}
	parts := strings.Split(got, "|")
	if len(parts) < 5 {
		t.Fatalf("got %d pipe fields, want at least 5: %q", len(parts), got)
	}
	ext := parts[len(parts)-1]
	if !strings.Contains(ext, "\t") {
		t.Errorf("extension pairs not tab-separated: %q", ext)
	}
	if !strings.Contains(ext, "verdict=malicious") {
		t.Errorf("extension missing attribute pair: %q", ext)
	}
}

func TestEncodeDeterministic(t *testing.T) {
	for _, f := range []Format{FormatCEF, FormatLEEF, FormatJSON} {
		a, err := Encode(testEvent(), f)
		if err != nil {
			t.Fatalf("%s: %v", f, err)
		}
		b, err := Encode(testEvent(), f)
		if err != nil {
			t.Fatalf("%s: %v", f, err)
		}
		if a != b {
			t.Errorf("%s: encoding not deterministic:\n first %q\nsecond %q", f, a, b)
		}
	}
}

func TestEncodeEscapesDelimiters(t *testing.T) {
	e := testEvent()
	e.Attributes = event.Attributes{
		{Key: "path", Value: `C:\bin|x=1`},
	}
	got, err := Encode(e, FormatCEF)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	for _, want := range []string{`\\`, `\|`, `\=`} {
		if !strings.Contains(got, want) {
			t.Errorf("escaped form %q absent: %q", want, got)
		}
	}
}

func TestEncodeUnsupportedValue(t *testing.T) {
	e := testEvent()
	e.Attributes = append(e.Attributes, event.Attribute{
		Key:   "details",
		Value: map[string]any{"nested": true},
	})

	for _, f := range []Format{FormatCEF, FormatLEEF} {
		_, err := Encode(e, f)
		var fe *FormatError
		if !errors.As(err, &fe) {
			t.Fatalf("%s: got %v, want *FormatError", f, err)
		}
		if fe.Field != "details" || fe.Reason != ReasonUnsupportedValue {
			t.Errorf("%s: FormatError = %+v", f, fe)
		}
	}

	// JSON has no scalar restriction.
	if _, err := Encode(e, FormatJSON); err != nil {
		t.Errorf("json: unexpected error %v", err)
	}
}

func TestEncodeJSONLossless(t *testing.T) {
	src := testEvent()
	got, err := Encode(src, FormatJSON)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	var back event.Event
	if err := json.Unmarshal([]byte(got), &back); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if back.ID != src.ID || back.TenantID != src.TenantID || back.Kind != src.Kind ||
		back.Severity != src.Severity || back.Subject != src.Subject {
		t.Errorf("fields lost: got %+v", back)
	}
	if len(back.Attributes) != len(src.Attributes) {
		t.Fatalf("got %d attributes, want %d", len(back.Attributes), len(src.Attributes))
	}
	for i := range src.Attributes {
		if back.Attributes[i].Key != src.Attributes[i].Key {
			t.Errorf("attribute %d: got key %q, want %q", i, back.Attributes[i].Key, src.Attributes[i].Key)
		}
	}
}

func TestParseFormat(t *testing.T) {
	tests := []struct {
		in      string
		want    Format
		wantErr bool
	}{
		{in: "cef", want: FormatCEF},
		{in: "leef", want: FormatLEEF},
		{in: "json", want: FormatJSON},
		{in: "CEF", wantErr: true},
		{in: "syslog", wantErr: true},
		{in: "", wantErr: true},
	}
	for _, tt := range tests {
		got, err := ParseFormat(tt.in)
		if tt.wantErr {
			if err == nil {
				t.Errorf("ParseFormat(%q): expected error", tt.in)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseFormat(%q): %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseFormat(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
