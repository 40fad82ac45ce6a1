// Package stats implements the throughput/billing counters: a Welford
// running-moments accumulator, per-attempt ResponseStats timestamps, and the
// process-wide AggStats that both render a
// one-line progress suffix and (optionally) back a set of Prometheus
// collectors for callers that scrape metrics rather than tail logs.
package stats

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/prometheus/client_golang/prometheus"
)

// Statistics is a Welford-style running mean/variance accumulator. The zero
// value is ready to use.
type Statistics struct {
	mu    sync.Mutex
	count int64
	mean  float64
	m2    float64
}

// Push folds one observation into the accumulator.
func (s *Statistics) Push(x float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.count++
	delta := x - s.mean
	s.mean += delta / float64(s.count)
	delta2 := x - s.mean
	s.m2 += delta * delta2
}

// Mean returns the running mean, or 0 if no observations were pushed.
func (s *Statistics) Mean() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mean
}

// Variance returns the running (population) variance, or 0 with fewer than
// two observations.
func (s *Statistics) Variance() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.count < 2 {
		return 0
	}
	return s.m2 / float64(s.count)
}

// Count returns the number of observations pushed so far.
func (s *Statistics) Count() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.count
}

// ResponseStats captures the monotonic-clock timeline of a single HTTP
// attempt: requested (attempt start), connected (headers/connection
// established), sent (request body fully written — tracked distinctly from
// "connected" because a slow upload can dominate total time even on a fast
// connection), and received (body fully read). Status and, on error, the raw
// body round out the per-attempt picture the executor appends to its log.
type ResponseStats struct {
	Requested time.Time
	Connected time.Time
	Sent      time.Time
	Received  time.Time
	Status    int
	ErrorBody []byte
}

// ConnectDuration is the time from attempt start to connection established.
func (r ResponseStats) ConnectDuration() time.Duration {
	if r.Connected.IsZero() || r.Requested.IsZero() {
		return 0
	}
	return r.Connected.Sub(r.Requested)
}

// TotalDuration is the time from attempt start to response fully read.
func (r ResponseStats) TotalDuration() time.Duration {
	if r.Received.IsZero() || r.Requested.IsZero() {
		return 0
	}
	return r.Received.Sub(r.Requested)
}

// AggStats accumulates counters across every batch attempt in a run. Updates
// are guarded by a mutex, since the parallel driver runs batches on real
// goroutines and increments can race without one.
type AggStats struct {
	mu sync.Mutex

	Connect Statistics
	Total   Statistics

	NAttempts               int64
	N429                    int64
	NErrors                 int64
	NFatalErrors            int64
	NInputQueries           int64
	NExtractedQueries       int64
	NQueryResponses         int64
	NBillableQueryResponses int64
	NResults                int64

	metrics *promCollectors
}

// promCollectors mirrors AggStats' counters as real Prometheus collectors.
// Held separately so a nil *prometheus.Registry (the common case for a
// library embedded without metrics scraping) costs nothing beyond one nil
// check per update.
type promCollectors struct {
	attempts       prometheus.Counter
	throttled      prometheus.Counter
	errors         prometheus.Counter
	fatalErrors    prometheus.Counter
	extracted      prometheus.Counter
	billable       prometheus.Counter
	connectLatency prometheus.Histogram
	totalLatency   prometheus.Histogram
}

// New creates an AggStats. If reg is non-nil, a family of
// autoextract_client_* collectors is registered on it; registration errors
// (e.g. a duplicate registration) are swallowed and metrics stay disabled,
// since a client library must never fail construction because the caller's
// registry already has a same-named collector from a previous Client.
func New(reg prometheus.Registerer) *AggStats {
	s := &AggStats{}
	if reg == nil {
		return s
	}
	pc := &promCollectors{
		attempts:    prometheus.NewCounter(prometheus.CounterOpts{Name: "autoextract_client_attempts_total", Help: "Number of HTTP attempts made."}),
		throttled:   prometheus.NewCounter(prometheus.CounterOpts{Name: "autoextract_client_throttled_total", Help: "Number of HTTP 429 responses received."}),
		errors:      prometheus.NewCounter(prometheus.CounterOpts{Name: "autoextract_client_errors_total", Help: "Number of non-429 request errors."}),
		fatalErrors: prometheus.NewCounter(prometheus.CounterOpts{Name: "autoextract_client_fatal_errors_total", Help: "Number of batches that ended in an error instead of a result."}),
		extracted:   prometheus.NewCounter(prometheus.CounterOpts{Name: "autoextract_client_extracted_total", Help: "Number of successfully extracted queries."}),
		billable:    prometheus.NewCounter(prometheus.CounterOpts{Name: "autoextract_client_billable_responses_total", Help: "Number of billable per-query responses."}),
		connectLatency: prometheus.NewHistogram(prometheus.HistogramOpts{Name: "autoextract_client_connect_seconds", Help: "Connection latency per attempt.", Buckets: prometheus.DefBuckets}),
		totalLatency:   prometheus.NewHistogram(prometheus.HistogramOpts{Name: "autoextract_client_total_seconds", Help: "Total latency per attempt.", Buckets: prometheus.DefBuckets}),
	}
	for _, c := range []prometheus.Collector{pc.attempts, pc.throttled, pc.errors, pc.fatalErrors, pc.extracted, pc.billable, pc.connectLatency, pc.totalLatency} {
		_ = reg.Register(c) // best-effort; a duplicate registration just leaves the existing collector in place
	}
	s.metrics = pc
	return s
}

// RecordAttempt records the outcome of a single HTTP attempt.
func (s *AggStats) RecordAttempt(rs ResponseStats, isThrottled, isError bool) {
	s.mu.Lock()
	s.NAttempts++
	if isThrottled {
		s.N429++
	} else if isError {
		s.NErrors++
	}
	s.mu.Unlock()

	if connect := rs.ConnectDuration(); connect > 0 {
		s.Connect.Push(connect.Seconds())
	}
	if total := rs.TotalDuration(); total > 0 {
		s.Total.Push(total.Seconds())
	}

	if s.metrics == nil {
		return
	}
	s.metrics.attempts.Inc()
	if isThrottled {
		s.metrics.throttled.Inc()
	} else if isError {
		s.metrics.errors.Inc()
	}
	if connect := rs.ConnectDuration(); connect > 0 {
		s.metrics.connectLatency.Observe(connect.Seconds())
	}
	if total := rs.TotalDuration(); total > 0 {
		s.metrics.totalLatency.Observe(total.Seconds())
	}
}

// RecordFatalError increments the fatal-error counter for a batch that ended
// in an error instead of a Result: a non-retriable error, or exhausted retries
// with no partial result to recover.
func (s *AggStats) RecordFatalError() {
	s.mu.Lock()
	s.NFatalErrors++
	s.mu.Unlock()
	if s.metrics != nil {
		s.metrics.fatalErrors.Inc()
	}
}

// RecordBatch folds a finished (or partially finished) batch's local
// counters into the aggregate. NResults is incremented separately by
// RecordResult, once the caller has produced a Result for the batch.
func (s *AggStats) RecordBatch(nInput, nExtracted, nQueryResponses, nBillable int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.NInputQueries += int64(nInput)
	s.NExtractedQueries += int64(nExtracted)
	s.NQueryResponses += int64(nQueryResponses)
	s.NBillableQueryResponses += int64(nBillable)
	if s.metrics != nil {
		s.metrics.extracted.Add(float64(nExtracted))
		s.metrics.billable.Add(float64(nBillable))
	}
}

// RecordResult increments NResults, the count of Result values produced —
// distinct from NInputQueries, which counts individual queries submitted.
func (s *AggStats) RecordResult() {
	s.mu.Lock()
	s.NResults++
	s.mu.Unlock()
}

// ratio divides a by b, returning 0 instead of NaN/Inf when b is 0.
func ratio(a, b int64) float64 {
	if b == 0 {
		return 0
	}
	return float64(a) / float64(b)
}

// String renders a one-line progress suffix summarizing attempts, errors,
// and extraction counts so far.
func (s *AggStats) String() string {
	s.mu.Lock()
	attempts, n429, nErrors, nFatal := s.NAttempts, s.N429, s.NErrors, s.NFatalErrors
	nExtracted, nInput := s.NExtractedQueries, s.NInputQueries
	s.mu.Unlock()

	nonFatalErrors := nErrors - nFatal
	return fmt.Sprintf(
		"connect=%.2fs resp=%.2fs throttled=%.1f%% errors=%d+%d(%.1f%%) success=%d/%d(%.1f%%)",
		s.Connect.Mean(), s.Total.Mean(),
		ratio(n429, attempts)*100,
		nonFatalErrors, nFatal, ratio(nonFatalErrors+nFatal, attempts)*100,
		nExtracted, nInput, ratio(nExtracted, nInput)*100,
	)
}

// Summary renders the end-of-run multi-line block as a two-column table.
func (s *AggStats) Summary() string {
	s.mu.Lock()
	snap := *s
	s.mu.Unlock()

	t := table.NewWriter()
	t.AppendHeader(table.Row{"metric", "value"})
	t.AppendRows([]table.Row{
		{"attempts", snap.NAttempts},
		{"throttled (429)", snap.N429},
		{"errors", snap.NErrors},
		{"fatal errors", snap.NFatalErrors},
		{"input queries", snap.NInputQueries},
		{"extracted queries", snap.NExtractedQueries},
		{"query responses", snap.NQueryResponses},
		{"billable responses", snap.NBillableQueryResponses},
		{"results", snap.NResults},
		{"mean connect time", fmt.Sprintf("%.3fs", s.Connect.Mean())},
		{"mean total time", fmt.Sprintf("%.3fs", s.Total.Mean())},
	})

	var b strings.Builder
	b.WriteString(t.Render())
	return b.String()
}
