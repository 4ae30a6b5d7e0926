package sync

import (
	"fmt"
)

// CollectionResult is the per-collection outcome of a prefetch pass.
// A skipped collection was fresh in cache and never hit the network; its
// Count is the sentinel -1 so skips are distinguishable from empty fetches.
type CollectionResult struct {
	Key     string `json:"key"`
	Count   int    `json:"count"`
	Skipped bool   `json:"skipped"`
	Err     error  `json:"-"`
	// Error carries Err's message for API responses.
	Error string `json:"error,omitempty"`
}

func (r CollectionResult) String() string {
	switch {
	case r.Skipped:
		return fmt.Sprintf("%s: fresh, skipped", r.Key)
	case r.Err != nil:
		return fmt.Sprintf("%s: failed: %v", r.Key, r.Err)
	default:
		return fmt.Sprintf("%s: %d records", r.Key, r.Count)
	}
}

// PrefetchSummary aggregates a whole prefetch pass. Total failure is still a
// summary, never a panic or an error return.
type PrefetchSummary struct {
	Results   []CollectionResult `json:"results"`
	HasErrors bool               `json:"hasErrors"`
}

// DrainResult is the aggregate outcome of one queue drain, for user-facing
// notification. Skipped means another drain held the lock or the client was
// offline.
type DrainResult struct {
	Skipped   bool `json:"skipped"`
	Attempted int  `json:"attempted"`
	Succeeded int  `json:"succeeded"`
	Failed    int  `json:"failed"`
}
