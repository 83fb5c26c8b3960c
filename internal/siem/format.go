package siem

import "fmt"

// Format selects the interchange encoding for an endpoint. The set is
// closed; Encode dispatches on it exhaustively so adding a format is a
// single-package change.
type Format string

const (
	FormatCEF  Format = "cef"
	FormatLEEF Format = "leef"
	FormatJSON Format = "json"
)

func ParseFormat(s string) (Format, error) {
	switch Format(s) {
	case FormatCEF, FormatLEEF, FormatJSON:
		return Format(s), nil
	default:
		return "", fmt.Errorf("unknown format %q", s)
	}
}

// FormatError reports an event that cannot be rendered in the target
// format. It is permanent: retrying the delivery cannot fix it.
type FormatError struct {
	Format Format
	Field  string
	Reason string
}

const (
	ReasonUnsupportedValue = "unsupported_value"
	ReasonUnknownFormat    = "unknown_format"
)

func (e *FormatError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("format %s: field %q: %s", e.Format, e.Field, e.Reason)
	}
	return fmt.Sprintf("format %s: %s", e.Format, e.Reason)
}
