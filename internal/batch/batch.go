// Package batch splits a query sequence into fixed-size, order-preserving
// batches, and provides the RecordOrder/RestoreOrder helpers the (external)
// synchronous convenience wrapper uses to restore submission order across
// batches whose completion order is otherwise unspecified.
package batch

import (
	"fmt"
	"sort"
	"strconv"
)

// MaxBatchSize is the server's hard maximum items per request.
const MaxBatchSize = 100

// Split partitions items into contiguous slices of at most size items,
// preserving order. It panics if size is not in [1, MaxBatchSize] — this is
// a programmer error (a caller-supplied constant), not a runtime condition,
// so the check is enforced eagerly rather than per-batch.
func Split[T any](items []T, size int) [][]T {
	if size < 1 {
		panic(fmt.Sprintf("batch: size must be >= 1, got %d", size))
	}
	if size > MaxBatchSize {
		panic(fmt.Sprintf("batch: size %d exceeds server maximum %d", size, MaxBatchSize))
	}
	if len(items) == 0 {
		return nil
	}

	batches := make([][]T, 0, (len(items)+size-1)/size)
	for start := 0; start < len(items); start += size {
		end := start + size
		if end > len(items) {
			end = len(items)
		}
		batches = append(batches, items[start:end])
	}
	return batches
}

// RecordOrder stamps each query dict's "meta" field with its stringified
// positional index, so that out-of-order completions can later be restored
// via RestoreOrder. It returns an error if any query already carries a
// "meta" key, since RecordOrder would silently clobber caller data.
func RecordOrder(queries []map[string]any) error {
	for i, q := range queries {
		if _, present := q["meta"]; present {
			return fmt.Errorf("batch: RecordOrder: query %d already has a meta field", i)
		}
		q["meta"] = strconv.Itoa(i)
	}
	return nil
}

// RestoreOrder sorts results by the integer value of
// result["query"]["userQuery"]["meta"], as recorded by RecordOrder. Results
// whose meta is missing or non-numeric sort after all others, in their
// original relative order.
func RestoreOrder(results []map[string]any) []map[string]any {
	type keyed struct {
		key   int
		ok    bool
		index int
		value map[string]any
	}

	keyedResults := make([]keyed, len(results))
	for i, r := range results {
		k := keyed{index: i, value: r}
		if meta, ok := metaOf(r); ok {
			if n, err := strconv.Atoi(meta); err == nil {
				k.key, k.ok = n, true
			}
		}
		keyedResults[i] = k
	}

	sort.SliceStable(keyedResults, func(i, j int) bool {
		a, b := keyedResults[i], keyedResults[j]
		if a.ok != b.ok {
			return a.ok // ok (has a parsed key) sorts before not-ok
		}
		if a.ok {
			return a.key < b.key
		}
		return a.index < b.index
	})

	out := make([]map[string]any, len(results))
	for i, k := range keyedResults {
		out[i] = k.value
	}
	return out
}

func metaOf(result map[string]any) (string, bool) {
	query, ok := result["query"].(map[string]any)
	if !ok {
		return "", false
	}
	userQuery, ok := query["userQuery"].(map[string]any)
	if !ok {
		return "", false
	}
	meta, ok := userQuery["meta"].(string)
	return meta, ok
}
