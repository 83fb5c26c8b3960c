package main

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/aegishook/aegishook/internal/config"
	"github.com/aegishook/aegishook/internal/event"
	"github.com/aegishook/aegishook/internal/logging"
	"github.com/aegishook/aegishook/internal/siem"
	"github.com/aegishook/aegishook/internal/signature"
)

const testSecret = "test-secret"

func newTestReceiver(cfg config.FakeSIEM) (*receiver, *httptest.Server) {
	rcv := &receiver{cfg: cfg, logger: logging.New("fake-siem-test")}
	srv := httptest.NewServer(http.HandlerFunc(rcv.handleHook))
	return rcv, srv
}

func signedPost(t *testing.T, url string, body []byte, secret string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	ts := time.Now().UTC().Format(time.RFC3339)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(signature.TimestampHeader, ts)
	req.Header.Set(signature.Header, signature.Sign(secret, body, ts))
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	resp.Body.Close()
	return resp
}

func sampleBody(t *testing.T, f siem.Format) []byte {
	t.Helper()
	e := &event.Event{
		ID:       "ev-1",
		TenantID: "tenant-a",
		Kind:     event.KindVerdict,
		Severity: 7,
		Subject:  "artifact quarantined",
		Attributes: event.Attributes{
			{Key: "verdict", Value: "malicious"},
			{Key: "artifact_id", Value: "sha256:abc"},
		},
		CreatedAt: time.Now().UTC(),
	}
	b, err := siem.BuildBody(e, f)
	if err != nil {
		t.Fatalf("build body: %v", err)
	}
	return b
}

func TestAcceptsSignedPayloads(t *testing.T) {
	for _, f := range []siem.Format{siem.FormatJSON, siem.FormatCEF, siem.FormatLEEF} {
		t.Run(string(f), func(t *testing.T) {
			_, srv := newTestReceiver(config.FakeSIEM{
				EndpointSecret:       testSecret,
				SigningLeewaySeconds: 300,
			})
			defer srv.Close()

			resp := signedPost(t, srv.URL, sampleBody(t, f), testSecret)
			if resp.StatusCode != http.StatusOK {
				t.Errorf("status = %d, want 200", resp.StatusCode)
			}
		})
	}
}

func TestRejectsBadSignature(t *testing.T) {
	_, srv := newTestReceiver(config.FakeSIEM{
		EndpointSecret:       testSecret,
		SigningLeewaySeconds: 300,
	})
	defer srv.Close()

	resp := signedPost(t, srv.URL, sampleBody(t, siem.FormatJSON), "wrong-secret")
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", resp.StatusCode)
	}
}

func TestFailFirstNThenSucceed(t *testing.T) {
	_, srv := newTestReceiver(config.FakeSIEM{
		FailFirstN: 2,
		FailStatus: http.StatusServiceUnavailable,
	})
	defer srv.Close()

	body := sampleBody(t, siem.FormatJSON)
	for i, want := range []int{503, 503, 200} {
		resp, err := http.Post(srv.URL, "application/json", bytes.NewReader(body))
		if err != nil {
			t.Fatalf("post %d: %v", i, err)
		}
		resp.Body.Close()
		if resp.StatusCode != want {
			t.Errorf("request %d: status = %d, want %d", i+1, resp.StatusCode, want)
		}
	}
}

func TestRejectsMalformedRecords(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{name: "not json", body: `not json at all`},
		{name: "truncated cef header", body: `{"cef":"CEF:0|Aegis|AegisHook"}`},
		{name: "cef wrong prefix", body: `{"cef":"LEEF:1.0|a|b|c|d|e"}`},
		{name: "truncated leef header", body: `{"leef":"LEEF:1.0|Aegis"}`},
		{name: "cef not a string", body: `{"cef":42}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, srv := newTestReceiver(config.FakeSIEM{})
			defer srv.Close()

			resp, err := http.Post(srv.URL, "application/json", bytes.NewReader([]byte(tt.body)))
			if err != nil {
				t.Fatalf("post: %v", err)
			}
			resp.Body.Close()
			if resp.StatusCode != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", resp.StatusCode)
			}
		})
	}
}

func TestSplitUnescaped(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want int
	}{
		{name: "plain fields", in: "a|b|c", want: 3},
		{name: "escaped pipe stays in field", in: `a|b\|still-b|c`, want: 3},
		{name: "trailing separator", in: "a|b|", want: 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := splitUnescaped(tt.in, '|'); len(got) != tt.want {
				t.Errorf("splitUnescaped(%q) = %d fields %v, want %d", tt.in, len(got), got, tt.want)
			}
		})
	}
}
