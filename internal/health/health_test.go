package health

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func TestHTTPHandler_NilDeps(t *testing.T) {
	handler := HTTPHandler(nil, nil)
	req := httptest.NewRequest("GET", "/healthz", nil)
	w := httptest.NewRecorder()

	handler(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("HTTPHandler(nil, nil) status code = %d, want %d", w.Code, http.StatusOK)
	}

	contentType := w.Header().Get("Content-Type")
	if contentType != "application/json" {
		t.Errorf("HTTPHandler() Content-Type = %q, want %q", contentType, "application/json")
	}

	var status Status
	if err := json.Unmarshal(w.Body.Bytes(), &status); err != nil {
		t.Fatalf("HTTPHandler(nil, nil) JSON parse error: %v", err)
	}

	if !status.OK {
		t.Errorf("HTTPHandler(nil, nil) Status.OK = false, want true")
	}
	if status.Message != "ok" {
		t.Errorf("HTTPHandler(nil, nil) Status.Message = %q, want %q", status.Message, "ok")
	}
	if !status.Database {
		t.Errorf("HTTPHandler(nil, nil) Status.Database = false, want true")
	}
	if !status.Redis {
		t.Errorf("HTTPHandler(nil, nil) Status.Redis = false, want true")
	}
}

func TestHTTPHandler_RedisUp(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	handler := HTTPHandler(nil, rdb)
	req := httptest.NewRequest("GET", "/healthz", nil)
	w := httptest.NewRecorder()

	handler(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("HTTPHandler() status code = %d, want %d", w.Code, http.StatusOK)
	}

	var status Status
	if err := json.Unmarshal(w.Body.Bytes(), &status); err != nil {
		t.Fatalf("HTTPHandler() JSON parse error: %v", err)
	}
	if !status.OK || !status.Redis {
		t.Errorf("HTTPHandler() Status = %+v, want OK and Redis true", status)
	}
}

func TestHTTPHandler_RedisDown(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	// Stop the server so the ping fails.
	mr.Close()

	handler := HTTPHandler(nil, rdb)
	req := httptest.NewRequest("GET", "/healthz", nil)
	w := httptest.NewRecorder()

	handler(w, req)

	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("HTTPHandler() status code = %d, want %d", w.Code, http.StatusServiceUnavailable)
	}

	var status Status
	if err := json.Unmarshal(w.Body.Bytes(), &status); err != nil {
		t.Fatalf("HTTPHandler() JSON parse error: %v", err)
	}
	if status.OK {
		t.Errorf("HTTPHandler() Status.OK = true, want false")
	}
	if status.Message != "redis ping failed" {
		t.Errorf("HTTPHandler() Status.Message = %q, want %q", status.Message, "redis ping failed")
	}
	if status.Redis {
		t.Errorf("HTTPHandler() Status.Redis = true, want false")
	}
}

func TestStatusJSONSerialization(t *testing.T) {
	tests := []struct {
		name   string
		status Status
	}{
		{
			name: "healthy status",
			status: Status{
				OK:       true,
				Message:  "ok",
				Database: true,
				Redis:    true,
			},
		},
		{
			name: "unhealthy database",
			status: Status{
				OK:       false,
				Message:  "db ping failed",
				Database: false,
				Redis:    true,
			},
		},
		{
			name: "unhealthy redis",
			status: Status{
				OK:       false,
				Message:  "redis ping failed",
				Database: true,
				Redis:    false,
			},
		},
		{
			name: "status with empty message",
			status: Status{
				OK:       true,
				Database: true,
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			jsonData, err := json.Marshal(tt.status)
			if err != nil {
				t.Errorf("Status JSON marshal error: %v", err)
			}

			var unmarshaled Status
			err = json.Unmarshal(jsonData, &unmarshaled)
			if err != nil {
				t.Errorf("Status JSON unmarshal error: %v", err)
			}

			if unmarshaled.OK != tt.status.OK {
				t.Errorf("JSON round-trip OK mismatch: got %v, want %v", unmarshaled.OK, tt.status.OK)
			}
			if unmarshaled.Message != tt.status.Message {
				t.Errorf("JSON round-trip Message mismatch: got %q, want %q", unmarshaled.Message, tt.status.Message)
			}
			if unmarshaled.Database != tt.status.Database {
				t.Errorf("JSON round-trip Database mismatch: got %v, want %v", unmarshaled.Database, tt.status.Database)
			}
			if unmarshaled.Redis != tt.status.Redis {
				t.Errorf("JSON round-trip Redis mismatch: got %v, want %v", unmarshaled.Redis, tt.status.Redis)
			}
		})
	}
}
