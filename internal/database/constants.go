package database

// HNSW index parameters for 128-dim face descriptors
const (
	// HNSWMaxNeighbors (M) is the maximum number of neighbors per node.
	// Higher values improve recall but increase memory and build time.
	HNSWMaxNeighbors = 16

	// HNSWSearchMultiplier is the factor to request more candidates from HNSW
	// so every descriptor of the closest identities is re-scored exactly.
	HNSWSearchMultiplier = 3

	// HNSWMinSize is the descriptor count below which identification scans linearly.
	HNSWMinSize = 64
)
