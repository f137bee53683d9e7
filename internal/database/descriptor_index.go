package database

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/coder/hnsw"
	"github.com/kozaktomas/face-auth/internal/apperr"
	"github.com/kozaktomas/face-auth/internal/facematch"
)

// DescriptorIndex keeps every enrolled descriptor in memory for 1:N identification.
// Small sets are scanned linearly; larger ones go through an HNSW graph whose
// candidates are re-scored exactly with facematch.Score.
type DescriptorIndex struct {
	matcher *facematch.Matcher

	mu         sync.RWMutex
	graph      *hnsw.Graph[int64]
	byID       map[int64]StoredDescriptor
	byIdentity map[string][]facematch.Descriptor
	dim        int
	stats      DescriptorStats
	built      bool
	buildTime  time.Time
}

// NewDescriptorIndex creates an empty index that decides acceptance with matcher.
func NewDescriptorIndex(matcher *facematch.Matcher) *DescriptorIndex {
	return &DescriptorIndex{
		matcher:    matcher,
		byID:       make(map[int64]StoredDescriptor),
		byIdentity: make(map[string][]facematch.Descriptor),
	}
}

// Build replaces the index content with descriptors.
func (x *DescriptorIndex) Build(descriptors []StoredDescriptor) {
	byID := make(map[int64]StoredDescriptor, len(descriptors))
	byIdentity := make(map[string][]facematch.Descriptor)
	var maxID int64
	dim := 0

	for _, d := range descriptors {
		if len(d.Descriptor) == 0 {
			continue
		}
		if dim == 0 {
			dim = len(d.Descriptor)
		}
		byID[d.ID] = d
		byIdentity[d.IdentityID] = append(byIdentity[d.IdentityID], d.Descriptor)
		if d.ID > maxID {
			maxID = d.ID
		}
	}

	var g *hnsw.Graph[int64]
	if len(byID) >= HNSWMinSize {
		g = hnsw.NewGraph[int64]()
		g.M = HNSWMaxNeighbors
		g.Ml = 1.0 / float64(HNSWMaxNeighbors)
		g.Distance = hnsw.CosineDistance
		for id, d := range byID {
			if len(d.Descriptor) != dim {
				continue
			}
			g.Add(hnsw.MakeNode(id, []float32(d.Descriptor)))
		}
	}

	x.mu.Lock()
	defer x.mu.Unlock()
	x.graph = g
	x.byID = byID
	x.byIdentity = byIdentity
	x.dim = dim
	x.stats = DescriptorStats{Count: int64(len(byID)), MaxID: maxID}
	x.built = true
	x.buildTime = time.Now()
}

// Sync rebuilds the index when the descriptor table changed since the last build.
// Staleness is detected by comparing descriptor count and max ID.
func (x *DescriptorIndex) Sync(ctx context.Context, reader DescriptorReader) error {
	stats, err := reader.DescriptorStats(ctx)
	if err != nil {
		return fmt.Errorf("reading descriptor stats: %w", err)
	}

	x.mu.RLock()
	fresh := x.built && x.stats == stats
	x.mu.RUnlock()
	if fresh {
		return nil
	}

	all, err := reader.GetAllDescriptors(ctx)
	if err != nil {
		return fmt.Errorf("loading descriptors: %w", err)
	}
	x.Build(all)
	return nil
}

// Identify returns the best matching identity for candidate.
func (x *DescriptorIndex) Identify(candidate facematch.Descriptor) (facematch.MatchResult, error) {
	x.mu.RLock()
	defer x.mu.RUnlock()

	if x.dim != 0 && len(candidate) != x.dim {
		return facematch.MatchResult{}, fmt.Errorf("%w: expected %d values, got %d",
			apperr.ErrInvalidDescriptor, x.dim, len(candidate))
	}
	if x.graph == nil {
		return x.matcher.Identify(candidate, x.byIdentity)
	}

	k := HNSWSearchMultiplier * HNSWMaxNeighbors
	if k > len(x.byID) {
		k = len(x.byID)
	}
	neighbors := x.graph.Search([]float32(candidate), k)

	candidates := make(map[string][]facematch.Descriptor)
	for _, n := range neighbors {
		d, ok := x.byID[n.Key]
		if !ok {
			continue
		}
		if _, seen := candidates[d.IdentityID]; !seen {
			candidates[d.IdentityID] = x.byIdentity[d.IdentityID]
		}
	}
	return x.matcher.Identify(candidate, candidates)
}

// Count returns the number of indexed descriptors.
func (x *DescriptorIndex) Count() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return len(x.byID)
}

// Stats returns the descriptor stats the index was last built from and when.
func (x *DescriptorIndex) Stats() (DescriptorStats, time.Time) {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return x.stats, x.buildTime
}
