package autoextract

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/zytedata/autoextract-go/internal/batch"
)

// BatchResult is one completed batch's outcome, delivered on Extract's
// channel in completion order rather than submission order.
type BatchResult struct {
	Result *Result
	Err    error
}

// Extract chunks query into batches of c's configured size and runs each
// batch through the single-batch executor under a concurrency cap of
// c.nConn in-flight batches at once (a semaphore-gated fan-out via
// errgroup.SetLimit).
//
// The returned channel yields one BatchResult per batch, in the order
// batches finish (not submission order), and is closed once every batch
// has completed. Canceling ctx propagates to every in-flight batch's HTTP
// call and retry sleep; a batch that starts after ctx is canceled fails at
// once and reports ctx's error on its BatchResult.
func (c *Client) Extract(ctx context.Context, query Query) (<-chan BatchResult, error) {
	serialized, err := query.Serialize()
	if err != nil {
		return nil, err
	}
	return c.ExtractRaw(ctx, serialized)
}

// ExtractRaw is Extract's escape hatch for callers that already hold
// serialized (or partially hand-rolled) request dicts instead of typed
// Requests — e.g. a JSONL query file re-read verbatim.
func (c *Client) ExtractRaw(ctx context.Context, queries []map[string]any) (<-chan BatchResult, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	chunks := batch.Split(queries, c.batchSize)
	out := make(chan BatchResult, len(chunks))
	if len(chunks) == 0 {
		close(out)
		return out, nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.nConn)

	// g.Go blocks until a slot under the limit is free, so launching must
	// happen in the background too — otherwise ExtractRaw itself blocks
	// until most batches have already finished instead of returning a
	// channel callers can start draining immediately.
	go func() {
		for _, chunk := range chunks {
			chunk := chunk
			g.Go(func() error {
				res, err := c.executeBatch(gctx, chunk)
				out <- BatchResult{Result: res, Err: err}
				// Each batch's own error is reported on its BatchResult, not
				// returned here — a failing batch must not cancel gctx and
				// abort its still-running siblings.
				return nil
			})
		}
		_ = g.Wait()
		close(out)
	}()

	return out, nil
}
