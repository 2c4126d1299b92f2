package sync

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/tablekit/ordersync/internal/errors"
	"github.com/tablekit/ordersync/internal/models"
)

func testOperation() models.Operation {
	return models.Operation{
		ID:      "op-123",
		Action:  "create_order",
		Payload: json.RawMessage(`{"table":7}`),
	}
}

// TestHTTPTransportExecute_success verifies the request shape and the
// OK result mapping.
func TestHTTPTransportExecute_success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		if r.URL.Path != "/v1/operations/create_order" {
			t.Errorf("path = %s, want /v1/operations/create_order", r.URL.Path)
		}
		if r.Header.Get("Idempotency-Key") != "op-123" {
			t.Errorf("Idempotency-Key = %q, want op-123", r.Header.Get("Idempotency-Key"))
		}
		if r.Header.Get("Authorization") != "Bearer token-abc" {
			t.Errorf("Authorization = %q, want bearer token", r.Header.Get("Authorization"))
		}

		var op models.Operation
		if err := json.NewDecoder(r.Body).Decode(&op); err != nil {
			t.Errorf("decode body failed: %v", err)
		}
		if op.Action != "create_order" {
			t.Errorf("body action = %q, want create_order", op.Action)
		}

		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"order_id":"srv-1"}`))
	}))
	defer server.Close()

	transport := NewHTTPTransport(server.URL, "token-abc")

	result, err := transport.Execute(context.Background(), testOperation())
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if result.Status != ResultOK {
		t.Errorf("Status = %v, want ok", result.Status)
	}
	if string(result.Payload) != `{"order_id":"srv-1"}` {
		t.Errorf("Payload = %s, want server body", result.Payload)
	}
}

// TestHTTPTransportExecute_conflict verifies 409 maps to a conflict
// result carrying the server state.
func TestHTTPTransportExecute_conflict(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		w.Write([]byte(`{"remote_payload":{"table":9},"remote_timestamp":1748779200000}`))
	}))
	defer server.Close()

	transport := NewHTTPTransport(server.URL, "")

	result, err := transport.Execute(context.Background(), testOperation())
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if result.Status != ResultConflict {
		t.Errorf("Status = %v, want conflict", result.Status)
	}
	if string(result.RemotePayload) != `{"table":9}` {
		t.Errorf("RemotePayload = %s, want server state", result.RemotePayload)
	}
	if result.RemoteTimestamp != 1748779200000 {
		t.Errorf("RemoteTimestamp = %d, want 1748779200000", result.RemoteTimestamp)
	}
}

// TestHTTPTransportExecute_errorMapping verifies the status taxonomy.
func TestHTTPTransportExecute_errorMapping(t *testing.T) {
	tests := []struct {
		name       string
		statusCode int
		wantCode   errors.ErrorCode
	}{
		{"server error", http.StatusInternalServerError, errors.ErrTransientNetwork},
		{"bad gateway", http.StatusBadGateway, errors.ErrTransientNetwork},
		{"rate limited", http.StatusTooManyRequests, errors.ErrTransientNetwork},
		{"bad request", http.StatusBadRequest, errors.ErrValidation},
		{"unprocessable", http.StatusUnprocessableEntity, errors.ErrValidation},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.statusCode)
			}))
			defer server.Close()

			transport := NewHTTPTransport(server.URL, "")

			_, err := transport.Execute(context.Background(), testOperation())
			if err == nil {
				t.Fatal("Execute should fail")
			}
			if !errors.Is(err, tt.wantCode) {
				t.Errorf("error code = %v, want %v", errors.Code(err), tt.wantCode)
			}
		})
	}
}

// TestHTTPTransportExecute_connectionFailure verifies unreachable hosts
// classify as transient.
func TestHTTPTransportExecute_connectionFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	server.Close() // refuse connections

	transport := NewHTTPTransport(server.URL, "")

	_, err := transport.Execute(context.Background(), testOperation())
	if !errors.Is(err, errors.ErrTransientNetwork) {
		t.Errorf("error = %v, want TRANSIENT_NETWORK", err)
	}
}
