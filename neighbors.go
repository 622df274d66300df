package tsne

import (
	"context"
	"fmt"
	"sort"
)

// defaultLeafSize is the tree leaf size used for neighbour search.
const defaultLeafSize = 40

// Neighbors is a k-nearest-neighbour graph over n points. Row i lists the
// K nearest other points of i, closest first, with the distances the
// affinities are calibrated on: squared metric distances for feature
// input, the matrix entries for precomputed input.
type Neighbors struct {
	N, K      int
	Indices   [][]int
	Distances [][]float64
}

// NeighborCount returns the number of neighbours the Barnes-Hut method
// uses for a perplexity: min(n-1, int(3*perplexity + 1)).
func NeighborCount(n int, perplexity float64) int {
	return min(n-1, int(3*perplexity+1))
}

// NearestNeighbors finds the k nearest neighbours of every row of data
// (flat row-major, n×dims) under metric. A KD-tree or ball tree is used
// when one can prune for the metric; otherwise every pair is compared.
func NearestNeighbors(ctx context.Context, data []float64, n, dims int, metric DistanceMetric, k, workers int) (*Neighbors, error) {
	if k < 1 || k >= n {
		return nil, fmt.Errorf("%w: k=%d neighbours for %d points", ErrShape, k, n)
	}
	nn := newNeighbors(n, k)

	tree := newSpatialIndex(data, n, dims, metric, defaultLeafSize)

	err := forEachRowRange(ctx, n, resolveWorkers(workers), func(ctx context.Context, start, end int) error {
		row := make([]float64, n)
		for i := start; i < end; i++ {
			if err := ctx.Err(); err != nil {
				return err
			}
			query := data[i*dims : (i+1)*dims]
			if tree != nil {
				idx, _ := tree.QueryKNN(query, k, i)
				nn.Indices[i] = idx
				for c, j := range idx {
					nn.Distances[i][c] = squaredDistance(metric, query, data[j*dims:(j+1)*dims])
				}
				continue
			}
			for j := 0; j < n; j++ {
				if j != i {
					row[j] = squaredDistance(metric, query, data[j*dims:(j+1)*dims])
				}
			}
			nn.Indices[i], nn.Distances[i] = smallestK(row, i, k)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return nn, nil
}

// NearestNeighborsPrecomputed finds the k nearest neighbours of every point
// from a flat n×n distance matrix. Returned distances are the matrix
// entries, unchanged.
func NearestNeighborsPrecomputed(ctx context.Context, distMatrix []float64, n, k, workers int) (*Neighbors, error) {
	if len(distMatrix) != n*n {
		return nil, fmt.Errorf("%w: distMatrix length %d does not match n*n = %d (n=%d)", ErrShape, len(distMatrix), n*n, n)
	}
	if k < 1 || k >= n {
		return nil, fmt.Errorf("%w: k=%d neighbours for %d points", ErrShape, k, n)
	}
	nn := newNeighbors(n, k)

	err := forEachRowRange(ctx, n, resolveWorkers(workers), func(ctx context.Context, start, end int) error {
		for i := start; i < end; i++ {
			if err := ctx.Err(); err != nil {
				return err
			}
			nn.Indices[i], nn.Distances[i] = smallestK(distMatrix[i*n:(i+1)*n], i, k)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return nn, nil
}

func newNeighbors(n, k int) *Neighbors {
	nn := &Neighbors{
		N:         n,
		K:         k,
		Indices:   make([][]int, n),
		Distances: make([][]float64, n),
	}
	for i := range nn.Distances {
		nn.Distances[i] = make([]float64, k)
	}
	return nn
}

// smallestK returns the indices and values of the k smallest entries of
// row, skipping position self. Ties are broken by index.
func smallestK(row []float64, self, k int) ([]int, []float64) {
	order := make([]int, 0, len(row)-1)
	for j := range row {
		if j != self {
			order = append(order, j)
		}
	}
	sort.SliceStable(order, func(a, b int) bool {
		return row[order[a]] < row[order[b]]
	})
	order = order[:k]

	dist := make([]float64, k)
	for c, j := range order {
		dist[c] = row[j]
	}
	return order, dist
}
