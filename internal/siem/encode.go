package siem

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/aegishook/aegishook/internal/event"
)

// Identifies this platform as the event source in CEF/LEEF headers.
const (
	deviceVendor  = "Aegis"
	deviceProduct = "AegisHook"
	deviceVersion = "1.0"

	cefVersion  = "0"
	leefVersion = "1.0"
)

// Encode renders e in the requested format. It is a pure function: the
// same event and format always yield the same string, so a redelivered
// body is byte-identical to the original.
func Encode(e *event.Event, f Format) (string, error) {
	switch f {
	case FormatCEF:
		return encodeCEF(e)
	case FormatLEEF:
		return encodeLEEF(e)
	case FormatJSON:
		b, err := json.Marshal(e)
		if err != nil {
			return "", err
		}
		return string(b), nil
	default:
		return "", &FormatError{Format: f, Reason: ReasonUnknownFormat}
	}
}

// CEF:0|vendor|product|version|signatureID|name|severity|extension
// Seven pipe-delimited header fields, then space-separated key=value pairs.
func encodeCEF(e *event.Event) (string, error) {
	ext, err := extension(e, FormatCEF, " ")
	if err != nil {
		return "", err
	}
	name := escape(string(e.Kind) + ": " + e.Subject)
	fields := []string{
		"CEF:" + cefVersion,
		deviceVendor,
		deviceProduct,
		deviceVersion,
		escape(string(e.Kind)),
		name,
		strconv.Itoa(e.Severity),
		ext,
	}
	return strings.Join(fields, "|"), nil
}

// LEEF:1.0|vendor|product|version|eventID|extension
// Five pipe-delimited header fields, then tab-separated key=value pairs.
func encodeLEEF(e *event.Event) (string, error) {
	ext, err := extension(e, FormatLEEF, "\t")
	if err != nil {
		return "", err
	}
	fields := []string{
		"LEEF:" + leefVersion,
		deviceVendor,
		deviceProduct,
		deviceVersion,
		escape(string(e.Kind)),
		ext,
	}
	return strings.Join(fields, "|"), nil
}

// extension builds the key=value block. Subject and severity lead so a
// receiver can parse them without knowing the attribute schema; the
// event's attributes follow in their original order.
func extension(e *event.Event, f Format, sep string) (string, error) {
	pairs := make([]string, 0, len(e.Attributes)+2)
	pairs = append(pairs, "subject="+escape(e.Subject))
	pairs = append(pairs, "sev="+strconv.Itoa(e.Severity))
	for _, attr := range e.Attributes {
		v, ok := scalarString(attr.Value)
		if !ok {
			return "", &FormatError{Format: f, Field: attr.Key, Reason: ReasonUnsupportedValue}
		}
		pairs = append(pairs, escape(attr.Key)+"="+escape(v))
	}
	return strings.Join(pairs, sep), nil
}

var escaper = strings.NewReplacer(`\`, `\\`, `|`, `\|`, `=`, `\=`)

func escape(s string) string {
	return escaper.Replace(s)
}

// scalarString flattens a scalar attribute value to text. Composite
// values (objects, arrays) have no CEF/LEEF representation and are
// rejected rather than lossily stringified.
func scalarString(v any) (string, bool) {
	switch t := v.(type) {
	case nil:
		return "", true
	case string:
		return t, true
	case bool:
		return strconv.FormatBool(t), true
	case json.Number:
		return t.String(), true
	case int:
		return strconv.Itoa(t), true
	case int32:
		return strconv.FormatInt(int64(t), 10), true
	case int64:
		return strconv.FormatInt(t, 10), true
	case float32:
		return strconv.FormatFloat(float64(t), 'g', -1, 32), true
	case float64:
		return strconv.FormatFloat(t, 'g', -1, 64), true
	case fmt.Stringer:
		return t.String(), true
	default:
		return "", false
	}
}
