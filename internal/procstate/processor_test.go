package procstate

import (
	"errors"
	"reflect"
	"testing"
)

func successResult(url string) map[string]any {
	return map[string]any{
		"url":       url,
		"browserHtml": "<html></html>",
		"query": map[string]any{
			"id": url,
			"userQuery": map[string]any{
				"url": url,
			},
		},
	}
}

func errorResult(url, message string) map[string]any {
	return map[string]any{
		"url":   url,
		"error": message,
		"query": map[string]any{
			"id": url,
			"userQuery": map[string]any{
				"url":      url,
				"pageType": "article",
			},
		},
	}
}

// TestProcessResultsPartialSuccessRetries covers S2: one success and one
// retriable per-query error in the same attempt. ProcessResults must return
// a *RetriableBatchError and leave Pending() holding exactly the still-failed
// query's userQuery, untouched apart from the stripped userAgent.
func TestProcessResultsPartialSuccessRetries(t *testing.T) {
	initial := []map[string]any{
		{"url": "A"},
		{"url": "B", "pageType": "article"},
	}
	p := New(initial, 3)

	attempt1 := []map[string]any{
		successResult("A"),
		errorResult("B", "query timed out"),
	}

	results, err := p.ProcessResults(attempt1)
	if results != nil {
		t.Fatalf("expected nil results on a retriable batch, got %v", results)
	}
	var rbe *RetriableBatchError
	if !errors.As(err, &rbe) {
		t.Fatalf("expected *RetriableBatchError, got %T: %v", err, err)
	}
	if len(rbe.Causes) != 1 {
		t.Fatalf("Causes = %d, want 1", len(rbe.Causes))
	}

	want := []map[string]any{{"url": "B", "pageType": "article"}}
	if !reflect.DeepEqual(p.Pending(), want) {
		t.Errorf("Pending() = %v, want %v", p.Pending(), want)
	}

	attempt2 := []map[string]any{
		successResult("B"),
	}
	results, err = p.ProcessResults(attempt2)
	if err != nil {
		t.Fatalf("unexpected error on terminal attempt: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("len(results) = %d, want 2", len(results))
	}
	for _, r := range results {
		if _, hasError := r["error"]; hasError {
			t.Errorf("terminal results must carry no errors, got %v", r)
		}
	}
	if len(p.Pending()) != 0 {
		t.Errorf("Pending() after terminal attempt = %v, want empty", p.Pending())
	}
}

// TestProcessResultsNonRetriableErrorIsTerminal covers S3: a per-query error
// that does not match any retriable pattern must be treated as terminal in
// the very first attempt — no error returned, both items present, nothing
// left pending.
func TestProcessResultsNonRetriableErrorIsTerminal(t *testing.T) {
	initial := []map[string]any{
		{"url": "A"},
		{"url": "B"},
	}
	p := New(initial, 3)

	attempt := []map[string]any{
		successResult("A"),
		errorResult("B", "Malformed URL"),
	}

	results, err := p.ProcessResults(attempt)
	if err != nil {
		t.Fatalf("non-retriable error must not trigger a RetriableBatchError: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("len(results) = %d, want 2", len(results))
	}
	if len(p.Pending()) != 0 {
		t.Errorf("Pending() = %v, want empty", p.Pending())
	}
}

// TestProcessResultsZeroMaxRetriesIsAlwaysTerminal covers the maxRetries=0
// gate: even a message that matches a retriable substring must not be
// resubmitted when per-query retries are disabled.
func TestProcessResultsZeroMaxRetriesIsAlwaysTerminal(t *testing.T) {
	initial := []map[string]any{{"url": "A"}}
	p := New(initial, 0)

	results, err := p.ProcessResults([]map[string]any{errorResult("A", "query timed out")})
	if err != nil {
		t.Fatalf("maxRetries=0 must never retry: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("len(results) = %d, want 1", len(results))
	}
	if len(p.Pending()) != 0 {
		t.Errorf("Pending() = %v, want empty", p.Pending())
	}
}

// TestLatestResultsRecoversPartialOnExhaustion covers S4: when the caller
// gives up retrying (e.g. internal/retry.Policy.Stop returns true), the last
// RetriableBatchError's still-pending queries must still be recoverable via
// LatestResults, carrying their final error rather than being dropped.
func TestLatestResultsRecoversPartialOnExhaustion(t *testing.T) {
	initial := []map[string]any{
		{"url": "A"},
		{"url": "B"},
	}
	p := New(initial, 1)

	attempt := []map[string]any{
		successResult("A"),
		errorResult("B", "query timed out"),
	}
	if _, err := p.ProcessResults(attempt); err == nil {
		t.Fatal("expected a RetriableBatchError")
	}

	latest := p.LatestResults()
	if len(latest) != 2 {
		t.Fatalf("LatestResults() len = %d, want 2 (1 complete + 1 errored pending)", len(latest))
	}

	var sawError bool
	for _, r := range latest {
		if msg, ok := r["error"]; ok {
			if msg != "query timed out" {
				t.Errorf("recovered error message = %v, want %q", msg, "query timed out")
			}
			sawError = true
		}
	}
	if !sawError {
		t.Error("LatestResults() must surface the pending query's last-known error on exhaustion")
	}
}

// TestProcessResultsCountsTrackExtractionAndBilling exercises Counts()
// across a mixed attempt: one clean success, one non-billable error, one
// retriable error (counted as billable on this attempt, like any error that
// matches no non-billable pattern).
func TestProcessResultsCountsTrackExtractionAndBilling(t *testing.T) {
	initial := []map[string]any{{"url": "A"}, {"url": "B"}, {"url": "C"}}
	p := New(initial, 2)

	attempt := []map[string]any{
		successResult("A"),
		errorResult("B", "Malformed URL"),
		errorResult("C", "query timed out"),
	}
	_, _ = p.ProcessResults(attempt)

	nExtracted, nQueryResponses, nBillable := p.Counts()
	if nExtracted != 1 {
		t.Errorf("nExtracted = %d, want 1", nExtracted)
	}
	if nQueryResponses != 3 {
		t.Errorf("nQueryResponses = %d, want 3", nQueryResponses)
	}
	// A (success, billable) and C (retriable, default billable) count;
	// B (non-billable substring match) does not.
	if nBillable != 2 {
		t.Errorf("nBillable = %d, want 2", nBillable)
	}
}

// TestQueryIDPrefersServerSuppliedID ensures the client-side correlation
// helper never invents an id when the server already supplied one, and
// synthesizes a non-empty one when the server supplied none.
func TestQueryIDPrefersServerSuppliedID(t *testing.T) {
	r := successResult("A")
	if got := QueryID(r); got != "A" {
		t.Errorf("QueryID() = %q, want %q", got, "A")
	}

	withoutID := map[string]any{"query": map[string]any{}}
	if got := QueryID(withoutID); got == "" {
		t.Error("QueryID() must synthesize a non-empty id when the server supplies none")
	}
}
