// Package sync orchestrates draining the offline queue against the
// remote order API: batching, retry with backoff, conflict resolution,
// and dead-lettering.
package sync

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/tablekit/ordersync/internal/errors"
	"github.com/tablekit/ordersync/internal/models"
)

// ResultStatus classifies a transport execution outcome.
type ResultStatus string

const (
	ResultOK       ResultStatus = "ok"
	ResultConflict ResultStatus = "conflict"
)

// Result is the outcome of executing one operation against the server.
// On conflict, RemotePayload and RemoteTimestamp carry the server's
// current state for the resolver.
type Result struct {
	Status          ResultStatus
	Payload         json.RawMessage
	RemotePayload   json.RawMessage
	RemoteTimestamp int64 // unix milliseconds
}

// Transport executes operations against the remote side. Implementations
// must be idempotent under a retried Operation.ID. Errors are classified
// through the errors package codes: transient errors are retried with
// backoff, validation errors dead-letter immediately.
type Transport interface {
	Execute(ctx context.Context, op models.Operation) (*Result, error)
}

// conflictBody is the server's 409 response envelope.
type conflictBody struct {
	RemotePayload   json.RawMessage `json:"remote_payload"`
	RemoteTimestamp int64           `json:"remote_timestamp"`
}

// HTTPTransport is a JSON-over-HTTP Transport for the order API. The
// engine itself stays transport-agnostic; this implementation exists for
// daemon wiring.
type HTTPTransport struct {
	baseURL    string
	authToken  string
	httpClient *http.Client
}

// NewHTTPTransport creates an HTTPTransport targeting the given base URL.
func NewHTTPTransport(baseURL, authToken string) *HTTPTransport {
	return &HTTPTransport{
		baseURL:   baseURL,
		authToken: authToken,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				MaxIdleConns:       10,
				IdleConnTimeout:    30 * time.Second,
				DisableCompression: false,
			},
		},
	}
}

// Execute posts one operation to the server and maps the HTTP outcome to
// the engine's error taxonomy.
func (t *HTTPTransport) Execute(ctx context.Context, op models.Operation) (*Result, error) {
	body, err := json.Marshal(op)
	if err != nil {
		return nil, errors.Wrap(errors.ErrInternal, "marshal operation", err)
	}

	url := fmt.Sprintf("%s/v1/operations/%s", t.baseURL, op.Action)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, errors.Wrap(errors.ErrInternal, "create request", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", op.ID)
	if t.authToken != "" {
		req.Header.Set("Authorization", "Bearer "+t.authToken)
	}

	resp, err := t.httpClient.Do(req)
	if err != nil {
		// Timeouts and connection failures are retryable.
		return nil, errors.Wrap(errors.ErrTransientNetwork, "execute request", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusCreated:
		payload, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, errors.Wrap(errors.ErrTransientNetwork, "read response body", err)
		}
		return &Result{Status: ResultOK, Payload: payload}, nil

	case resp.StatusCode == http.StatusConflict:
		var cb conflictBody
		if err := json.NewDecoder(resp.Body).Decode(&cb); err != nil {
			return nil, errors.Wrap(errors.ErrTransientNetwork, "decode conflict body", err)
		}
		return &Result{
			Status:          ResultConflict,
			RemotePayload:   cb.RemotePayload,
			RemoteTimestamp: cb.RemoteTimestamp,
		}, nil

	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		body, _ := io.ReadAll(resp.Body)
		return nil, errors.New(errors.ErrTransientNetwork,
			fmt.Sprintf("server returned status %d: %s", resp.StatusCode, truncate(body)))

	default:
		// Remaining 4xx: the operation itself is bad, retrying cannot help.
		body, _ := io.ReadAll(resp.Body)
		return nil, errors.New(errors.ErrValidation,
			fmt.Sprintf("server rejected operation with status %d: %s", resp.StatusCode, truncate(body)))
	}
}

// truncate bounds error-message bodies.
func truncate(b []byte) string {
	const max = 256
	if len(b) > max {
		return string(b[:max]) + "..."
	}
	return string(b)
}
