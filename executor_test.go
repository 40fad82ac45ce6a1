package autoextract

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func newTestClient(t *testing.T, handler http.HandlerFunc, opts ...Option) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	allOpts := append([]Option{WithEndpoint(srv.URL), WithHTTPClient(srv.Client())}, opts...)
	c, err := NewClient("test-key", allOpts...)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	return c
}

func writeJSON(t *testing.T, w http.ResponseWriter, v any) {
	t.Helper()
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		t.Fatalf("encode response: %v", err)
	}
}

func TestExecuteBatchSucceedsInOneAttempt(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, []map[string]any{
			{"query": map[string]any{"id": "1", "userQuery": map[string]any{"url": "https://a.example"}}, "article": map[string]any{}},
		})
	})

	res, err := c.executeBatch(context.Background(), []map[string]any{{"url": "https://a.example"}})
	if err != nil {
		t.Fatalf("executeBatch: %v", err)
	}
	if res.Attempts != 1 {
		t.Errorf("Attempts = %d, want 1", res.Attempts)
	}
	if len(res.Results) != 1 {
		t.Fatalf("len(Results) = %d, want 1", len(res.Results))
	}
	if len(res.ResponseStats) != 1 {
		t.Errorf("len(ResponseStats) = %d, want 1", len(res.ResponseStats))
	}
}

func TestExecuteBatchNonRetriableQueryErrorIsTerminalInOneAttempt(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, []map[string]any{
			{"query": map[string]any{"id": "1", "userQuery": map[string]any{"url": "https://a.example"}}, "error": "Downloader error: http404"},
		})
	}, WithMaxQueryErrorRetries(3))

	res, err := c.executeBatch(context.Background(), []map[string]any{{"url": "https://a.example"}})
	if err != nil {
		t.Fatalf("executeBatch: %v", err)
	}
	if res.Attempts != 1 {
		t.Errorf("Attempts = %d, want 1 (non-retriable error must not trigger another attempt)", res.Attempts)
	}
}

func TestExecuteBatchNonRetriableRequestErrorPropagatesImmediately(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"reason":"bad request"}`))
	})

	res, err := c.executeBatch(context.Background(), []map[string]any{{"url": "https://a.example"}})
	if err == nil {
		t.Fatal("expected an error for a 400 response")
	}
	if res != nil {
		t.Errorf("expected a nil Result on a fatal error, got %v", res)
	}
}

func TestExecuteBatchThrottlingRespectsContextCancellationDuringWait(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := c.executeBatch(ctx, []map[string]any{{"url": "https://a.example"}})
	if err == nil {
		t.Fatal("expected a context error once the wait budget is exceeded")
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Errorf("executeBatch took %v, want it to bail out on ctx cancellation quickly", elapsed)
	}
}
