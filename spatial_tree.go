package tsne

// kdTreeMaxDims is the widest data the KD-tree indexes. Its axis-aligned
// bounds stop pruning well past a few dozen features, so wider data goes
// to the ball tree.
const kdTreeMaxDims = 16

// spatialIndex is the read interface shared by the KD-tree and the ball
// tree. Distances come back in the index's own space (reduced for the
// KD-tree, true for the ball tree) and are only used for ordering.
type spatialIndex interface {
	// QueryKNN returns the k nearest points to query, closest first,
	// skipping the point with index exclude.
	QueryKNN(query []float64, k, exclude int) ([]int, []float64)

	// NumPoints returns the number of points in the index.
	NumPoints() int

	// NumNodes returns the total number of nodes (internal + leaf).
	NumNodes() int
}

// newSpatialIndex picks a tree for data under metric, or returns nil when
// neither tree can prune for it and the caller must compare every pair.
func newSpatialIndex(data []float64, n, dims int, metric DistanceMetric, leafSize int) spatialIndex {
	switch {
	case dims <= kdTreeMaxDims && kdTreeSupports(metric):
		return NewKDTree(data, n, dims, metric, leafSize)
	case ballTreeSupports(metric):
		return NewBallTree(data, n, dims, metric, leafSize)
	default:
		return nil
	}
}
