package tsne

import (
	"context"
	"testing"
)

func TestBallTree_Construction_BasicProperties(t *testing.T) {
	data := []float64{
		0, 0,
		1, 0,
		2, 0,
		0, 3,
		1, 3,
		2, 3,
	}
	tree := NewBallTree(data, 6, 2, EuclideanMetric{}, 2)

	if tree.NumPoints() != 6 {
		t.Errorf("NumPoints() = %d, want 6", tree.NumPoints())
	}
	if tree.NumNodes() < 3 {
		t.Errorf("NumNodes() = %d, want a split tree", tree.NumNodes())
	}
	// The root ball encloses every point.
	for i := 0; i < 6; i++ {
		d := EuclideanMetric{}.Distance(tree.centroid(0), data[i*2:i*2+2])
		if d > tree.nodes[0].radius+1e-12 {
			t.Errorf("point %d at %v outside root radius %v", i, d, tree.nodes[0].radius)
		}
	}
}

func TestBallTree_Construction_IdenticalPoints(t *testing.T) {
	data := make([]float64, 30)
	tree := NewBallTree(data, 10, 3, EuclideanMetric{}, 1)
	if tree.NumNodes() != 1 {
		t.Errorf("expected a single leaf for identical points, got %d nodes", tree.NumNodes())
	}
	idx, dist := tree.QueryKNN([]float64{0, 0, 0}, 4, 2)
	if len(idx) != 4 {
		t.Fatalf("expected 4 neighbours, got %d", len(idx))
	}
	for c, j := range idx {
		if j == 2 {
			t.Error("excluded point returned")
		}
		if dist[c] != 0 {
			t.Errorf("dist[%d] = %v, want 0", c, dist[c])
		}
	}
}

func TestBallTree_QueryKNN_HandComputed(t *testing.T) {
	data := []float64{
		0, 0,
		1, 0,
		3, 0,
		7, 0,
	}
	tree := NewBallTree(data, 4, 2, EuclideanMetric{}, 1)
	idx, dist := tree.QueryKNN([]float64{0.9, 0}, 2, -1)
	if len(idx) != 2 || idx[0] != 1 || idx[1] != 0 {
		t.Fatalf("idx = %v, want [1 0]", idx)
	}
	// Ball tree distances are true metric distances.
	if !almostEqual(dist[0], 0.1, 1e-12) || !almostEqual(dist[1], 0.9, 1e-12) {
		t.Errorf("dist = %v, want [0.1 0.9]", dist)
	}
}

func TestBallTree_QueryKNN_MatchesBruteForce(t *testing.T) {
	n, dims, k := 250, 24, 6
	data := generateFlatData(n, dims)
	metrics := []DistanceMetric{EuclideanMetric{}, ManhattanMetric{}, ChebyshevMetric{}, MinkowskiMetric{P: 3}}
	for _, metric := range metrics {
		tree := NewBallTree(data, n, dims, metric, 8)
		for i := 0; i < n; i += 13 {
			query := data[i*dims : (i+1)*dims]
			idx, dist := tree.QueryKNN(query, k, i)

			row := make([]float64, n)
			for j := 0; j < n; j++ {
				row[j] = metric.Distance(query, data[j*dims:(j+1)*dims])
			}
			want, wantDist := smallestK(row, i, k)
			for c := range want {
				if idx[c] != want[c] {
					t.Errorf("%T point %d: neighbour %d = %d, want %d", metric, i, c, idx[c], want[c])
				}
				if !almostEqual(dist[c], wantDist[c], 1e-12) {
					t.Errorf("%T point %d: distance %d = %v, want %v", metric, i, c, dist[c], wantDist[c])
				}
			}
		}
	}
}

func TestBallTree_QueryKNN_KLargerThanN(t *testing.T) {
	tree := NewBallTree([]float64{0, 1, 2}, 3, 1, EuclideanMetric{}, 1)
	idx, _ := tree.QueryKNN([]float64{0}, 10, 0)
	if len(idx) != 2 {
		t.Errorf("got %d neighbours, want the 2 remaining points", len(idx))
	}
}

func TestNewSpatialIndex_Selection(t *testing.T) {
	narrow := generateFlatData(20, 3)
	wide := generateFlatData(20, kdTreeMaxDims+1)

	if _, ok := newSpatialIndex(narrow, 20, 3, EuclideanMetric{}, 4).(*KDTree); !ok {
		t.Error("narrow Euclidean data should use the KD-tree")
	}
	if _, ok := newSpatialIndex(wide, 20, kdTreeMaxDims+1, ManhattanMetric{}, 4).(*BallTree); !ok {
		t.Error("wide Manhattan data should use the ball tree")
	}
	if idx := newSpatialIndex(narrow, 20, 3, CosineMetric{}, 4); idx != nil {
		t.Errorf("cosine should fall back to brute force, got %T", idx)
	}
	if idx := newSpatialIndex(wide, 20, kdTreeMaxDims+1, MinkowskiMetric{P: 0.5}, 4); idx != nil {
		t.Errorf("Minkowski p<1 is not a metric, got %T", idx)
	}
}

func TestNearestNeighbors_BallTreeAndBruteAgree(t *testing.T) {
	n, dims, k := 90, 40, 8
	data := generateFlatData(n, dims)
	ctx := context.Background()

	tree, err := NearestNeighbors(ctx, data, n, dims, ManhattanMetric{}, k, 2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	brute, err := NearestNeighbors(ctx, data, n, dims, DistanceFunc(ManhattanMetric{}.Distance), k, 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for i := 0; i < n; i++ {
		for c := 0; c < k; c++ {
			if tree.Indices[i][c] != brute.Indices[i][c] {
				t.Fatalf("row %d neighbour %d: tree %d, brute %d", i, c, tree.Indices[i][c], brute.Indices[i][c])
			}
			if !almostEqual(tree.Distances[i][c], brute.Distances[i][c], 1e-9) {
				t.Errorf("row %d distance %d: tree %v, brute %v", i, c, tree.Distances[i][c], brute.Distances[i][c])
			}
		}
	}
}
