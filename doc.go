// Package autoextract is a client for a hosted web-content extraction
// service: submit a sequence of URL/page-type queries and get back
// structured extraction results.
//
// The package handles the parts a naive HTTP client gets wrong:
//
//   - Batching: queries are grouped into fixed-size batches and sent as one
//     POST each, preserving order within a batch.
//   - Bounded parallelism: at most WithNConn batches are in flight at once;
//     results are delivered in completion order on the channel Extract
//     returns, not submission order.
//   - Retry: throttling (HTTP 429) is retried indefinitely, transport and
//     server faults get a bounded time budget, and per-query errors embedded
//     in an otherwise-successful response are retried individually — a retry
//     only resends the queries that actually failed, never duplicating a
//     success.
//   - Partial-failure recovery: if a batch's retry budget is exhausted, the
//     successfully extracted queries are still returned alongside the
//     still-failing ones' last error, rather than the whole batch being lost.
//   - Statistics: per-attempt latency and running counts of attempts,
//     throttles, errors, and billable responses are available via
//     (*Client).Stats.
//
// A minimal client:
//
//	c, err := autoextract.NewClient("")
//	if err != nil {
//		log.Fatal(err)
//	}
//	ch, err := c.Extract(ctx, autoextract.Query{
//		{URL: "https://example.com/article", PageType: "article"},
//	})
package autoextract
