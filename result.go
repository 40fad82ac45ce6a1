package autoextract

import (
	autoextractstats "github.com/zytedata/autoextract-go/internal/stats"
)

// Result is one batch's terminal outcome: the merged per-query result list
// (successes and, on recovered partial failure, still-erroring items) plus
// the per-attempt response log and how many attempts it took.
type Result struct {
	// Results is the merged per-query list. Its order matches the order of
	// query.userQuery echoes as appended across attempts, not necessarily
	// the original submission order (see RestoreOrder for that).
	Results []map[string]any

	// ResponseStats has one entry per HTTP attempt made for this batch, in
	// attempt order.
	ResponseStats []autoextractstats.ResponseStats

	// Attempts is the number of HTTP attempts made, including the final one.
	Attempts int

	// Partial is true when Results was recovered after retry exhaustion
	// rather than produced by a fully successful terminal attempt.
	Partial bool
}
