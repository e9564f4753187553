package memory

import (
	"context"

	"github.com/charmbracelet/log"
	"github.com/membank/membank/internal/model"
	registryvector "github.com/membank/membank/internal/registry/vector"
)

// DuplicateDetector decides whether a near-duplicate of a new
// embedding already exists in a collection. It runs a top-1 similarity
// search; a score at or above the threshold (inclusive) reports a
// duplicate. Writers call it before every write; reads never do.
type DuplicateDetector struct {
	vector            registryvector.VectorStore
	nearMissThreshold float64
}

// NewDuplicateDetector creates a detector. nearMissThreshold is the
// score at which non-duplicate writes are logged for diagnostics; zero
// disables near-miss logging.
func NewDuplicateDetector(vector registryvector.VectorStore, nearMissThreshold float64) *DuplicateDetector {
	return &DuplicateDetector{vector: vector, nearMissThreshold: nearMissThreshold}
}

// IsDuplicate reports whether the collection already holds a record
// whose similarity to vector is >= threshold, returning the nearest
// record and its score when it does.
//
// This is a check-then-act read with no atomic guard: two concurrent
// writers of near-identical content can both observe "no duplicate"
// and both write. Callers must not treat suppression as a uniqueness
// guarantee under concurrency.
func (d *DuplicateDetector) IsDuplicate(ctx context.Context, collection string, vector []float32, threshold float64) (bool, *model.MemoryRecord, float64, error) {
	results, err := d.vector.Search(ctx, collection, vector, 1)
	if err != nil {
		return false, nil, 0, err
	}
	if len(results) == 0 {
		return false, nil, 0, nil
	}
	top := results[0]
	if top.Score >= threshold {
		return true, &top.Record, top.Score, nil
	}
	if d.nearMissThreshold > 0 && top.Score >= d.nearMissThreshold {
		log.Debug("duplicate near miss",
			"collection", collection,
			"score", top.Score,
			"threshold", threshold,
			"nearestId", top.Record.ID)
	}
	return false, nil, top.Score, nil
}
