package dispatch

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"time"
)

// Request is one outbound webhook POST.
type Request struct {
	URL     string
	Body    []byte
	Headers map[string]string
}

// Transport performs the network send for one attempt. It is an
// interface so tests script outcomes through a double instead of
// flipping global failure toggles.
type Transport interface {
	Deliver(ctx context.Context, req Request) (status int, err error)
}

// HTTPTransport posts the body with a bounded per-request timeout.
type HTTPTransport struct {
	client *http.Client
}

func NewHTTPTransport(timeout time.Duration) *HTTPTransport {
	return &HTTPTransport{client: &http.Client{Timeout: timeout}}
}

func (t *HTTPTransport) Deliver(ctx context.Context, req Request) (int, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, req.URL, bytes.NewReader(req.Body))
	if err != nil {
		return 0, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	for k, v := range req.Headers {
		httpReq.Header.Set(k, v)
	}

	resp, err := t.client.Do(httpReq)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	// Drain so the connection can be reused.
	_, _ = io.Copy(io.Discard, resp.Body)
	return resp.StatusCode, nil
}
