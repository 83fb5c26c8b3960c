package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/aegishook/aegishook/internal/config"
	"github.com/aegishook/aegishook/internal/logging"
	"github.com/aegishook/aegishook/internal/signature"
)

// receiver is a stand-in SIEM collector for local stacks and demos. It
// verifies webhook signatures, checks that encoded CEF/LEEF payloads are
// well formed, and can inject failures to exercise the retry path.
type receiver struct {
	cfg    config.FakeSIEM
	logger *logging.Logger

	mu    sync.Mutex
	count int
}

func main() {
	cfg := config.FromEnv().FakeSIEM
	logger := logging.New("aegishook-fake-siem")

	rcv := &receiver{cfg: cfg, logger: logger}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"ok":true}`))
	})
	mux.HandleFunc("/hook", rcv.handleHook)

	srv := &http.Server{
		Addr:         cfg.Port,
		Handler:      mux,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}
	logger.Plain().WithField("addr", cfg.Port).Info("fake-siem listening")
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Plain().WithError(err).Fatal("fake-siem server failed")
	}
}

func (rcv *receiver) handleHook(w http.ResponseWriter, r *http.Request) {
	rcv.mu.Lock()
	rcv.count++
	n := rcv.count
	rcv.mu.Unlock()

	body, _ := io.ReadAll(r.Body)
	defer r.Body.Close()

	if rcv.cfg.ResponseDelayMS > 0 {
		time.Sleep(time.Duration(rcv.cfg.ResponseDelayMS) * time.Millisecond)
	}

	if rcv.cfg.EndpointSecret != "" {
		skew := time.Duration(rcv.cfg.SigningLeewaySeconds) * time.Second
		err := signature.Verify(rcv.cfg.EndpointSecret, body,
			r.Header.Get(signature.TimestampHeader),
			r.Header.Get(signature.Header), skew)
		if err != nil {
			rcv.logger.Plain().WithError(err).Warn("signature rejected")
			http.Error(w, "invalid signature: "+err.Error(), http.StatusUnauthorized)
			return
		}
	}

	if err := validatePayload(body); err != nil {
		rcv.logger.Plain().WithError(err).Warn("payload rejected")
		http.Error(w, "bad payload: "+err.Error(), http.StatusBadRequest)
		return
	}

	// Simulate flakiness: fail the first N requests.
	if n <= rcv.cfg.FailFirstN {
		rcv.logger.Plain().WithFields(map[string]any{
			"request": n,
			"of":      rcv.cfg.FailFirstN,
			"status":  rcv.cfg.FailStatus,
		}).Info("injecting failure")
		http.Error(w, "injected failure", rcv.cfg.FailStatus)
		return
	}

	rcv.logger.Plain().WithFields(map[string]any{
		"request": n,
		"bytes":   len(body),
	}).Info("delivery accepted")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`ok`))
}

// validatePayload checks that the delivery body is JSON and that any
// embedded CEF/LEEF encoding has the header shape a collector would
// parse.
func validatePayload(body []byte) error {
	var doc map[string]json.RawMessage
	if err := json.Unmarshal(body, &doc); err != nil {
		return fmt.Errorf("not a JSON object: %w", err)
	}
	if raw, ok := doc["cef"]; ok {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return fmt.Errorf("cef field is not a string")
		}
		if err := validCEF(s); err != nil {
			return err
		}
	}
	if raw, ok := doc["leef"]; ok {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return fmt.Errorf("leef field is not a string")
		}
		if err := validLEEF(s); err != nil {
			return err
		}
	}
	return nil
}

// validCEF requires the 7 header fields of a CEF:0 record:
// CEF:version|vendor|product|device_version|signature|name|severity|extension
func validCEF(s string) error {
	if !strings.HasPrefix(s, "CEF:") {
		return fmt.Errorf("cef record missing CEF: prefix")
	}
	if n := len(splitUnescaped(s, '|')); n < 8 {
		return fmt.Errorf("cef record has %d fields, want 8", n)
	}
	return nil
}

// validLEEF requires the 5 header fields of a LEEF:1.0 record:
// LEEF:version|vendor|product|product_version|event_id|attributes
func validLEEF(s string) error {
	if !strings.HasPrefix(s, "LEEF:") {
		return fmt.Errorf("leef record missing LEEF: prefix")
	}
	if n := len(splitUnescaped(s, '|')); n < 6 {
		return fmt.Errorf("leef record has %d fields, want 6", n)
	}
	return nil
}

// splitUnescaped splits on sep, honoring backslash escapes inside
// fields.
func splitUnescaped(s string, sep byte) []string {
	var out []string
	var cur strings.Builder
	escaped := false
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case escaped:
			cur.WriteByte('\\')
			cur.WriteByte(c)
			escaped = false
		case c == '\\':
			escaped = true
		case c == sep:
			out = append(out, cur.String())
			cur.Reset()
		default:
			cur.WriteByte(c)
		}
	}
	if escaped {
		cur.WriteByte('\\')
	}
	out = append(out, cur.String())
	return out
}
