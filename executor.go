package autoextract

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptrace"
	"time"

	"github.com/zytedata/autoextract-go/internal/apierr"
	"github.com/zytedata/autoextract-go/internal/procstate"
	"github.com/zytedata/autoextract-go/internal/retry"
	autoextractstats "github.com/zytedata/autoextract-go/internal/stats"
	"go.uber.org/zap"
)

// maxErrorBodyBytes caps how much of a non-2xx response body we read into a
// RequestError.
const maxErrorBodyBytes = 1 << 16

// executeBatch drives one batch through the request processor across as
// many attempts as the retry engine allows. serialized is the batch's
// wire-format payload (validated when it came through Extract; ExtractRaw
// passes caller dicts through as they are).
func (c *Client) executeBatch(ctx context.Context, serialized []map[string]any) (*Result, error) {
	processor := procstate.New(serialized, c.maxQueryErrorRetries)

	var log []autoextractstats.ResponseStats
	start := time.Now()

	for attempt := 1; ; attempt++ {
		rs, merged, err := c.attempt(ctx, processor)
		log = append(log, rs)

		if err == nil {
			c.finishBatch(processor, len(serialized))
			c.aggStats.RecordResult()
			return &Result{Results: merged, ResponseStats: log, Attempts: attempt}, nil
		}

		mode, retrySeconds, retriable := classify(err)
		if !retriable {
			c.finishBatch(processor, len(serialized))
			c.aggStats.RecordFatalError()
			return nil, err
		}

		policy := retry.New(mode, retrySeconds, c.maxQueryErrorRetries)
		elapsed := time.Since(start)
		if policy.Stop(elapsed, attempt) {
			if mode == retry.ModeQueryError {
				c.finishBatch(processor, len(serialized))
				c.aggStats.RecordResult()
				return &Result{
					Results:       processor.LatestResults(),
					ResponseStats: log,
					Attempts:      attempt,
					Partial:       true,
				}, nil
			}
			c.finishBatch(processor, len(serialized))
			c.aggStats.RecordFatalError()
			return nil, err
		}

		wait := policy.Wait(attempt - 1)
		c.logger.Debug("autoextract: retrying batch",
			zap.String("mode", fmt.Sprint(mode)), zap.Duration("wait", wait), zap.Int("attempt", attempt))
		select {
		case <-ctx.Done():
			c.finishBatch(processor, len(serialized))
			return nil, ctx.Err()
		case <-time.After(wait):
		}
	}
}

// finishBatch folds the processor's cumulative local counters into the
// shared AggStats. Called exactly once per batch regardless of how the batch
// concluded (success, fatal error, exhausted retry budget, or cancellation);
// the callers that return a Result also call RecordResult.
func (c *Client) finishBatch(processor *procstate.Processor, nInput int) {
	nExtracted, nQueryResponses, nBillable := processor.Counts()
	c.aggStats.RecordBatch(nInput, nExtracted, nQueryResponses, nBillable)
}

// classify maps an executeBatch error to the retry mode that governs it, or
// reports that the error is not retriable at all.
func classify(err error) (mode retry.Mode, retrySeconds float64, ok bool) {
	var rbe *procstate.RetriableBatchError
	if errors.As(err, &rbe) {
		return retry.ModeQueryError, rbe.RetrySeconds, true
	}
	if apierr.IsThrottling(err) {
		return retry.ModeThrottling, 0, true
	}
	if apierr.IsServerError(err) {
		return retry.ModeServer, 0, true
	}
	var te *apierr.TransportError
	if errors.As(err, &te) {
		return retry.ModeTransport, 0, true
	}
	return 0, 0, false
}

// attempt performs exactly one HTTP POST and, on a 2xx response, hands the
// decoded per-query results to the processor. It never retries itself — the
// caller's loop in executeBatch owns the retry decision.
func (c *Client) attempt(ctx context.Context, processor *procstate.Processor) (autoextractstats.ResponseStats, []map[string]any, error) {
	pending := processor.Pending()
	rs := autoextractstats.ResponseStats{Requested: time.Now()}

	payload, err := json.Marshal(pending)
	if err != nil {
		rs.Received = time.Now()
		return rs, nil, fmt.Errorf("autoextract: encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
	if err != nil {
		rs.Received = time.Now()
		return rs, nil, fmt.Errorf("autoextract: build request: %w", err)
	}
	req.SetBasicAuth(c.apiKey, "")
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", c.userAgent)
	for k, vv := range c.extraHeaders {
		for _, v := range vv {
			req.Header.Add(k, v)
		}
	}
	req = req.WithContext(httptrace.WithClientTrace(req.Context(), &httptrace.ClientTrace{
		GotConn:      func(httptrace.GotConnInfo) { rs.Connected = time.Now() },
		WroteRequest: func(httptrace.WroteRequestInfo) { rs.Sent = time.Now() },
	}))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		rs.Received = time.Now()
		c.aggStats.RecordAttempt(rs, false, true)
		return rs, nil, &apierr.TransportError{Cause: err}
	}
	defer func() { _ = resp.Body.Close() }()
	if rs.Connected.IsZero() {
		rs.Connected = time.Now()
	}
	rs.Status = resp.StatusCode

	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
		rs.Received = time.Now()
		rs.ErrorBody = body
		c.aggStats.RecordAttempt(rs, resp.StatusCode == http.StatusTooManyRequests, true)
		return rs, nil, &apierr.RequestError{
			Status:  resp.StatusCode,
			Headers: resp.Header.Clone(),
			Reason:  resp.Status,
			Body:    body,
		}
	}

	var decoded []map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		rs.Received = time.Now()
		c.aggStats.RecordAttempt(rs, false, true)
		return rs, nil, fmt.Errorf("autoextract: decode response: %w", err)
	}
	rs.Received = time.Now()
	c.aggStats.RecordAttempt(rs, false, false)

	merged, err := processor.ProcessResults(decoded)
	return rs, merged, err
}
