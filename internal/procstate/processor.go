// Package procstate implements the per-batch request-processor state
// machine: it tracks which sub-queries in one batch are still pending, which
// are done (success or non-retriable error), and merges a retry attempt's
// results back in without ever losing or duplicating a query. The state is
// three slices (pending wire-form queries, completed results, and the
// last-known result of each pending query), and entries only ever move from
// pending to complete, generalized from "poll until terminal" to "retry
// until terminal or exhausted".
package procstate

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/zytedata/autoextract-go/internal/apierr"
)

// Processor owns the mutable retry state of exactly one in-flight batch.
// It must not be shared across batches or reused after the batch reaches a
// terminal state.
type Processor struct {
	maxRetries int

	pending   []map[string]any // wire form to send on the next attempt
	complete  []map[string]any // accumulated, will never be retried again
	retriable []map[string]any // last-known full result record for each pending query

	nExtracted        int
	nQueryResponses   int
	nBillableResponses int
}

// New creates a Processor for one batch's initial queries. maxRetries is the
// per-query retry budget; 0 disables per-query retries entirely (any
// per-query error is immediately terminal).
func New(initial []map[string]any, maxRetries int) *Processor {
	pending := make([]map[string]any, len(initial))
	copy(pending, initial)
	return &Processor{maxRetries: maxRetries, pending: pending}
}

// Pending returns the wire-form queries to send on the next attempt. The
// caller must not mutate the returned slice.
func (p *Processor) Pending() []map[string]any { return p.pending }

// RetriableBatchError signals "wait then resend only the still-pending
// queries". RetrySeconds is the maximum across every retriable QueryError
// observed in the attempt that triggered it, so the engine always waits for
// the largest prescribed delay rather than the first one seen.
type RetriableBatchError struct {
	RetrySeconds float64
	Causes       []*apierr.QueryError
}

func (e *RetriableBatchError) Error() string {
	return fmt.Sprintf("%d retriable query error(s), retry in %.1fs", len(e.Causes), e.RetrySeconds)
}

// ProcessResults classifies one attempt's per-query results, folds
// successes and non-retriable errors into complete, and either returns the
// full merged view (nil error — batch is fully terminal) or a
// *RetriableBatchError describing how long to wait before resending only the
// still-pending subset (Processor.Pending() after this call).
//
// Invariant maintained on every call: every entry in results ends up in
// exactly one of complete or pending, and complete only grows across calls,
// so with one result per pending query len(complete)+len(pending) stays
// equal to the batch's initial query count.
func (p *Processor) ProcessResults(results []map[string]any) ([]map[string]any, error) {
	var retriableResults []map[string]any
	var retriableCauses []*apierr.QueryError
	nextPending := make([]map[string]any, 0, len(p.pending))
	nextRetriable := make([]map[string]any, 0, len(p.pending))

	for _, r := range results {
		p.nQueryResponses++

		msg, hasError := errorMessage(r)
		if !hasError {
			p.nExtracted++
			p.nBillableResponses++
		} else if apierr.Billable(msg) {
			p.nBillableResponses++
		}

		if p.maxRetries > 0 && hasError {
			qErr := &apierr.QueryError{Query: r, Message: msg}
			if qErr.Retriable() {
				retriableResults = append(retriableResults, r)
				retriableCauses = append(retriableCauses, qErr)
				nextPending = append(nextPending, stripUserAgent(userQueryOf(r)))
				nextRetriable = append(nextRetriable, r)
				continue
			}
		}

		p.complete = append(p.complete, r)
	}

	p.pending = nextPending
	p.retriable = nextRetriable

	if len(retriableCauses) > 0 {
		maxRetry := 0.0
		for _, c := range retriableCauses {
			if s := c.RetrySeconds(); s > maxRetry {
				maxRetry = s
			}
		}
		return nil, &RetriableBatchError{RetrySeconds: maxRetry, Causes: retriableCauses}
	}

	return p.LatestResults(), nil
}

// LatestResults returns the best available view at any point: every
// complete query plus every still-pending query's last-known (errored)
// result. Used both on terminal success (pending is then empty, so this is
// just complete) and on retry exhaustion, where it recovers partial data —
// the most recent per-query error record — instead of losing it.
func (p *Processor) LatestResults() []map[string]any {
	out := make([]map[string]any, 0, len(p.complete)+len(p.retriable))
	out = append(out, p.complete...)
	out = append(out, p.retriable...)
	return out
}

// Counts returns the processor's local counters, folded into AggStats by the
// executor once the batch reaches a terminal outcome.
func (p *Processor) Counts() (nExtracted, nQueryResponses, nBillableResponses int) {
	return p.nExtracted, p.nQueryResponses, p.nBillableResponses
}

// QueryID returns result["query"]["id"] if the server supplied one, else a
// freshly synthesized one — used only for client-side log/metric
// correlation, never sent back to the server (the server is always the
// source of truth for id once it has responded).
func QueryID(result map[string]any) string {
	if query, ok := result["query"].(map[string]any); ok {
		if id, ok := query["id"].(string); ok && id != "" {
			return id
		}
	}
	return uuid.NewString()
}

// errorMessage extracts result["error"], reporting whether it was present.
func errorMessage(result map[string]any) (string, bool) {
	v, ok := result["error"]
	if !ok {
		return "", false
	}
	s, _ := v.(string)
	return s, true
}

// userQueryOf extracts result["query"]["userQuery"], the server's echo of
// the originally submitted request.
func userQueryOf(result map[string]any) map[string]any {
	query, _ := result["query"].(map[string]any)
	userQuery, _ := query["userQuery"].(map[string]any)
	if userQuery == nil {
		return map[string]any{}
	}
	cp := make(map[string]any, len(userQuery))
	for k, v := range userQuery {
		cp[k] = v
	}
	return cp
}

// stripUserAgent removes the "userAgent" key from a resubmitted userQuery —
// the server otherwise rejects a retry that still carries the header the
// first attempt sent.
func stripUserAgent(userQuery map[string]any) map[string]any {
	delete(userQuery, "userAgent")
	return userQuery
}
