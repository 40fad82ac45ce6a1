package autoextract

import (
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/cristalhq/hedgedhttp"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/zytedata/autoextract-go/internal/batch"
	autoextractstats "github.com/zytedata/autoextract-go/internal/stats"
)

// DefaultEndpoint is the production extraction endpoint.
const DefaultEndpoint = "https://autoextract.scrapinghub.com/v1/extract"

const (
	defaultNConn                = 20
	defaultBatchSize            = 20
	defaultMaxQueryErrorRetries = 0
	defaultConnectionPoolSize   = 100

	// Transport timeouts: total budget leaves headroom above the API's own
	// deadline, socket-read sits just under it, socket-connect stays short.
	defaultAPITimeout     = 600 * time.Second
	defaultTotalTimeout   = defaultAPITimeout + 60*time.Second
	defaultReadTimeout    = defaultAPITimeout + 30*time.Second
	defaultConnectTimeout = 10 * time.Second

	// defaultHedgeDelay is how long a single attempt is allowed to run
	// before hedgedhttp fires a second request on a fresh connection. It is
	// intentionally far shorter than the read timeout above — it mitigates
	// tail latency on an individual attempt, it does not replace the retry
	// engine's own backoff.
	defaultHedgeDelay = 5 * time.Second
)

// Client submits batches of extraction queries to the service and drives the
// multi-mode retry/recovery state machine that classifies and recovers from
// throttling, transport, server, and per-query failures. The zero value is
// not usable; construct with NewClient.
type Client struct {
	endpoint             string
	apiKey               string
	httpClient           *http.Client
	nConn                int
	batchSize            int
	maxQueryErrorRetries int
	extraHeaders         http.Header
	logger               *zap.Logger
	userAgent            string

	aggStats *autoextractstats.AggStats
}

// Option customizes a Client during construction. Errors abort NewClient.
type Option func(*Client) error

// WithEndpoint overrides DefaultEndpoint.
func WithEndpoint(endpoint string) Option {
	return func(c *Client) error {
		if endpoint == "" {
			return errors.New("autoextract: endpoint cannot be empty")
		}
		c.endpoint = endpoint
		return nil
	}
}

// WithHTTPClient replaces the default hedged transport with hc. hc must be
// non-nil.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) error {
		if hc == nil {
			return errors.New("autoextract: http client cannot be nil")
		}
		c.httpClient = hc
		return nil
	}
}

// WithNConn sets the concurrency bound (max in-flight batches). Must be >= 1.
func WithNConn(n int) Option {
	return func(c *Client) error {
		if n < 1 {
			return errors.New("autoextract: nConn must be >= 1")
		}
		c.nConn = n
		return nil
	}
}

// WithBatchSize sets the per-request query count. Must be in [1, batch.MaxBatchSize].
func WithBatchSize(n int) Option {
	return func(c *Client) error {
		if n < 1 || n > batch.MaxBatchSize {
			return errors.New("autoextract: batch size out of range")
		}
		c.batchSize = n
		return nil
	}
}

// WithMaxQueryErrorRetries sets the per-query retry budget; 0 disables
// per-query retries (any per-query error is immediately terminal).
func WithMaxQueryErrorRetries(n int) Option {
	return func(c *Client) error {
		if n < 0 {
			return errors.New("autoextract: maxQueryErrorRetries cannot be negative")
		}
		c.maxQueryErrorRetries = n
		return nil
	}
}

// WithExtraHeaders merges h into every request, after User-Agent/Auth.
func WithExtraHeaders(h http.Header) Option {
	return func(c *Client) error {
		c.extraHeaders = h.Clone()
		return nil
	}
}

// WithLogger attaches a *zap.Logger. Defaults to zap.NewNop() so embedding
// applications never get unsolicited output.
func WithLogger(log *zap.Logger) Option {
	return func(c *Client) error {
		if log == nil {
			return errors.New("autoextract: logger cannot be nil")
		}
		c.logger = log
		return nil
	}
}

// WithRegistry backs AggStats with real Prometheus collectors registered on
// reg. A nil reg (the default) disables metrics registration; the welford
// in-process accumulators still work.
func WithRegistry(reg prometheus.Registerer) Option {
	return func(c *Client) error {
		c.aggStats = autoextractstats.New(reg)
		return nil
	}
}

// NewClient builds a Client with sensible defaults and applies opts in
// order. apiKey may be empty; it is resolved against ZYTE_AUTOEXTRACT_KEY
// by APIKey.
func NewClient(apiKey string, opts ...Option) (*Client, error) {
	key, err := APIKey(apiKey)
	if err != nil {
		return nil, err
	}

	c := &Client{
		endpoint:             DefaultEndpoint,
		apiKey:               key,
		nConn:                defaultNConn,
		batchSize:            defaultBatchSize,
		maxQueryErrorRetries: defaultMaxQueryErrorRetries,
		logger:               zap.NewNop(),
		aggStats:             autoextractstats.New(nil),
	}

	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(c); err != nil {
			return nil, err
		}
	}

	if c.httpClient == nil {
		hc, err := defaultHTTPClient()
		if err != nil {
			return nil, err
		}
		c.httpClient = hc
	}
	c.userAgent = userAgent(c.httpClient)

	return c, nil
}

// Stats returns the client's shared aggregate statistics, safe to read
// concurrently with in-flight Extract calls.
func (c *Client) Stats() *autoextractstats.AggStats { return c.aggStats }

// defaultHTTPClient builds the connection-pooled, hedged transport used as
// the fallback when the caller supplies none.
func defaultHTTPClient() (*http.Client, error) {
	transport := &http.Transport{
		MaxIdleConns:          defaultConnectionPoolSize,
		MaxIdleConnsPerHost:   defaultConnectionPoolSize,
		DialContext:           (&net.Dialer{Timeout: defaultConnectTimeout}).DialContext,
		ResponseHeaderTimeout: defaultReadTimeout,
	}
	base := &http.Client{Transport: transport, Timeout: defaultTotalTimeout}
	return hedgedhttp.NewClient(defaultHedgeDelay, 2, base)
}
