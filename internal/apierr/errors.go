// Package apierr defines the error taxonomy the autoextract client classifies
// every failure into: a request-level RequestError (non-2xx HTTP response), a
// query-level QueryError (a per-item failure inside a 2xx envelope), and a
// TransportError (the underlying transport never produced a response at all).
// Throttling and "server error" are not separate types — they are predicates
// over RequestError's status code, kept that way so the retry engine can
// dispatch on them without a second type hierarchy.
package apierr

import (
	"encoding/json"
	"fmt"
	"net/http"
	"regexp"
	"strconv"
	"strings"

	"go.uber.org/zap"
)

// RequestError is a non-2xx HTTP response covering an entire batch.
type RequestError struct {
	Status  int
	Headers http.Header
	Reason  string
	Body    []byte
}

func (e *RequestError) Error() string {
	reason := e.Reason
	if reason == "" {
		reason = http.StatusText(e.Status)
	}
	return fmt.Sprintf("request error %d: %s", e.Status, reason)
}

// ErrorData attempts to parse Body as a JSON object. A decode failure or a
// non-object shape is not fatal to the caller — it logs a warning on log (if
// non-nil) and returns an empty map, matching the Python client's
// error_data() which never lets a malformed body break the retry loop.
func (e *RequestError) ErrorData(log *zap.Logger) map[string]any {
	var v any
	if err := json.Unmarshal(e.Body, &v); err != nil {
		if log != nil {
			log.Warn("request error body is not valid JSON", zap.Error(err), zap.Int("status", e.Status))
		}
		return map[string]any{}
	}
	m, ok := v.(map[string]any)
	if !ok {
		if log != nil {
			log.Warn("request error body is not a JSON object", zap.Int("status", e.Status))
		}
		return map[string]any{}
	}
	return m
}

// IsThrottling reports whether err is a RequestError with status 429.
func IsThrottling(err error) bool {
	re, ok := err.(*RequestError)
	return ok && re.Status == http.StatusTooManyRequests
}

// IsServerError reports whether err is a RequestError with status >= 500.
func IsServerError(err error) bool {
	re, ok := err.(*RequestError)
	return ok && re.Status >= 500
}

// TransportError wraps any network, TLS, timeout, or protocol-level failure
// raised before a well-formed HTTP response was available. A RequestError is
// never also a TransportError, even when the underlying transport library
// models a non-2xx response as a Go error: only a completed response (any
// status code) gets classified as RequestError; everything else is
// TransportError.
type TransportError struct {
	Cause error
}

func (e *TransportError) Error() string { return fmt.Sprintf("transport error: %v", e.Cause) }
func (e *TransportError) Unwrap() error { return e.Cause }

// domainOccupiedRe matches the server's "domain occupied" back-off directive,
// e.g. "Domain example.com is occupied, please retry in 23.5 seconds".
var domainOccupiedRe = regexp.MustCompile(`(?i)domain\s+(\S+)\s+is occupied,\s*please retry in\s+([^\s]+)\s+seconds`)

const defaultDomainOccupiedRetrySeconds = 300.0

// retriableSubstrings are case-insensitively matched against a QueryError's
// message; any match marks the query retriable even without a domain-occupied
// directive.
var retriableSubstrings = []string{
	"query timed out",
	"downloader error: no response",
	"downloader error: http50",
	"downloader error: 50",
	"downloader error: globaltimeouterror",
	"downloader error: connectionresetbypeer",
	"proxy error: banned",
	"proxy error: internal_error",
	"proxy error: nxdomain",
	"proxy error: timeout",
	"proxy error: ssl_tunnel_error",
	"proxy error: msgtimeout",
	"proxy error: econnrefused",
	"proxy error: connect_timeout",
}

// QueryError is a per-item error found inside an otherwise-2xx response.
type QueryError struct {
	Query   map[string]any
	Message string
}

func (e *QueryError) Error() string { return fmt.Sprintf("query error: %s", e.Message) }

// DomainOccupiedInfo is the parsed form of a "domain occupied" directive.
type DomainOccupiedInfo struct {
	Domain       string
	RetrySeconds float64
}

// DomainOccupied parses e.Message for a domain-occupied directive. ok is
// false if the message does not match the pattern at all; when it does match
// but the numeric portion fails to parse, RetrySeconds defaults to 300 (five
// minutes) as a deliberate guardrail against an ambiguous server string, not
// an accident.
func (e *QueryError) DomainOccupied() (info DomainOccupiedInfo, ok bool) {
	m := domainOccupiedRe.FindStringSubmatch(e.Message)
	if m == nil {
		return DomainOccupiedInfo{}, false
	}
	seconds, err := strconv.ParseFloat(m[2], 64)
	if err != nil {
		seconds = defaultDomainOccupiedRetrySeconds
	}
	return DomainOccupiedInfo{Domain: m[1], RetrySeconds: seconds}, true
}

// Retriable reports whether e should be resubmitted: either it carries a
// domain-occupied directive, or its message matches one of the known
// transient substrings.
func (e *QueryError) Retriable() bool {
	if _, ok := e.DomainOccupied(); ok {
		return true
	}
	lower := strings.ToLower(e.Message)
	for _, sub := range retriableSubstrings {
		if strings.Contains(lower, sub) {
			return true
		}
	}
	return false
}

// RetrySeconds is the domain-occupied back-off window if present, else 0 —
// internal/procstate takes the max over every retriable QueryError in a
// batch, and internal/retry floors that against the generic transport wait.
func (e *QueryError) RetrySeconds() float64 {
	if info, ok := e.DomainOccupied(); ok {
		return info.RetrySeconds
	}
	return 0
}

// nonBillableSubstrings classify a QueryError message as not billed by the
// server.
var nonBillableSubstrings = []string{
	"malformed url",
	"url cannot be longer than",
	"non-http schemas are not allowed",
	"extraction not permitted for this url",
}

// Billable reports whether a per-query error (message may be empty for a
// success) is charged by the server. Every response is billable by default;
// the non-billable substrings and any domain-occupied directive are the only
// exceptions.
func Billable(message string) bool {
	if message == "" {
		return true
	}
	lower := strings.ToLower(message)
	if domainOccupiedRe.MatchString(message) {
		return false
	}
	for _, sub := range nonBillableSubstrings {
		if strings.Contains(lower, sub) {
			return false
		}
	}
	return true
}
