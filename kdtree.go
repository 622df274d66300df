package tsne

import (
	"container/heap"
	"math"
	"sort"
)

// KDTree is a KD-tree spatial index for k-nearest-neighbour queries.
// Points are stored in a flat row-major array and reordered internally via
// an index permutation array. Pruning happens in reduced-distance space, so
// only metrics whose reduced distance decomposes along the axes are
// supported (see kdTreeSupports).
type KDTree struct {
	data     []float64 // flat row-major point data (n * dims)
	n        int       // number of points
	dims     int       // dimensionality
	leafSize int
	metric   DistanceMetric
	idxArray []int // permutation: tree-order position → original index
	nodes    []kdNode
	// boundsMin[node*dims + j] = min value of feature j in node
	boundsMin []float64
	// boundsMax[node*dims + j] = max value of feature j in node
	boundsMax []float64
}

type kdNode struct {
	start, end  int // range in idxArray
	left, right int // child node IDs, -1 for leaves
}

func (nd kdNode) isLeaf() bool { return nd.left < 0 }

// kdTreeSupports reports whether the KD-tree can prune for metric.
func kdTreeSupports(metric DistanceMetric) bool {
	switch metric.(type) {
	case EuclideanMetric, ManhattanMetric, ChebyshevMetric, MinkowskiMetric:
		return true
	default:
		return false
	}
}

// NewKDTree builds a KD-tree from flat row-major data with n points of
// dimensionality dims. leafSize controls the max points per leaf node.
func NewKDTree(data []float64, n, dims int, metric DistanceMetric, leafSize int) *KDTree {
	if leafSize < 1 {
		leafSize = 1
	}

	idxArray := make([]int, n)
	for i := range idxArray {
		idxArray[i] = i
	}

	t := &KDTree{
		data:     data,
		n:        n,
		dims:     dims,
		leafSize: leafSize,
		metric:   metric,
		idxArray: idxArray,
	}
	if n > 0 {
		t.buildNode(0, n)
	}
	return t
}

// buildNode recursively builds the subtree for idxArray[start:end] and
// returns its node ID.
func (t *KDTree) buildNode(start, end int) int {
	id := len(t.nodes)
	t.nodes = append(t.nodes, kdNode{start: start, end: end, left: -1, right: -1})
	t.boundsMin = append(t.boundsMin, make([]float64, t.dims)...)
	t.boundsMax = append(t.boundsMax, make([]float64, t.dims)...)
	t.computeNodeBounds(id, start, end)

	count := end - start
	if count <= t.leafSize {
		return id
	}

	// Find dimension with greatest spread.
	splitDim := 0
	maxSpread := -1.0
	for d := 0; d < t.dims; d++ {
		spread := t.boundsMax[id*t.dims+d] - t.boundsMin[id*t.dims+d]
		if spread > maxSpread {
			maxSpread = spread
			splitDim = d
		}
	}
	if maxSpread <= 0 {
		// All points coincide; splitting cannot separate them.
		return id
	}

	t.sortByDimension(start, end, splitDim)
	mid := start + count/2

	left := t.buildNode(start, mid)
	right := t.buildNode(mid, end)
	t.nodes[id].left = left
	t.nodes[id].right = right
	return id
}

// computeNodeBounds computes min/max per dimension for points idxArray[start:end].
func (t *KDTree) computeNodeBounds(nodeID, start, end int) {
	base := nodeID * t.dims
	for d := 0; d < t.dims; d++ {
		t.boundsMin[base+d] = math.Inf(1)
		t.boundsMax[base+d] = math.Inf(-1)
	}
	for i := start; i < end; i++ {
		ptIdx := t.idxArray[i]
		for d := 0; d < t.dims; d++ {
			v := t.data[ptIdx*t.dims+d]
			if v < t.boundsMin[base+d] {
				t.boundsMin[base+d] = v
			}
			if v > t.boundsMax[base+d] {
				t.boundsMax[base+d] = v
			}
		}
	}
}

// sortByDimension sorts idxArray[start:end] by the given dimension.
func (t *KDTree) sortByDimension(start, end, dim int) {
	sub := t.idxArray[start:end]
	dims := t.dims
	data := t.data
	sort.Slice(sub, func(i, j int) bool {
		return data[sub[i]*dims+dim] < data[sub[j]*dims+dim]
	})
}

// NumPoints returns the number of indexed points.
func (t *KDTree) NumPoints() int { return t.n }

// NumNodes returns the number of tree nodes, internal and leaf.
func (t *KDTree) NumNodes() int { return len(t.nodes) }

// QueryKNN returns the k nearest neighbours of query, closest first, as
// original point indices and reduced distances. The point with index
// exclude (use -1 for none) is skipped, which lets callers query the
// tree's own points without getting themselves back.
func (t *KDTree) QueryKNN(query []float64, k, exclude int) ([]int, []float64) {
	if t.n == 0 || k <= 0 {
		return nil, nil
	}
	h := &knnHeap{}
	t.knnSearch(0, query, k, exclude, h)

	nResults := h.Len()
	idx := make([]int, nResults)
	dist := make([]float64, nResults)
	for i := nResults - 1; i >= 0; i-- {
		item := heap.Pop(h).(knnItem)
		idx[i] = item.index
		dist[i] = item.dist
	}
	return idx, dist
}

// knnSearch performs a single-tree KNN traversal using a max-heap of size k.
func (t *KDTree) knnSearch(nodeID int, query []float64, k, exclude int, h *knnHeap) {
	node := t.nodes[nodeID]

	if node.isLeaf() {
		for i := node.start; i < node.end; i++ {
			ptIdx := t.idxArray[i]
			if ptIdx == exclude {
				continue
			}
			pt := t.data[ptIdx*t.dims : (ptIdx+1)*t.dims]
			d := t.metric.ReducedDistance(query, pt)
			if h.Len() < k {
				heap.Push(h, knnItem{index: ptIdx, dist: d})
			} else if d < (*h)[0].dist || (d == (*h)[0].dist && ptIdx < (*h)[0].index) {
				(*h)[0] = knnItem{index: ptIdx, dist: d}
				heap.Fix(h, 0)
			}
		}
		return
	}

	leftRdist := t.minRdistPoint(node.left, query)
	rightRdist := t.minRdistPoint(node.right, query)

	nearChild, farChild := node.left, node.right
	farRdist := rightRdist
	if rightRdist < leftRdist {
		nearChild, farChild = node.right, node.left
		farRdist = leftRdist
	}

	t.knnSearch(nearChild, query, k, exclude, h)

	// Prune far child if its lower bound exceeds the current k-th distance.
	if h.Len() < k || (*h)[0].dist >= farRdist {
		t.knnSearch(farChild, query, k, exclude, h)
	}
}

// minRdistPoint returns a lower bound in reduced-distance space on the
// distance between a point and any point in the given node.
func (t *KDTree) minRdistPoint(node int, point []float64) float64 {
	base := node * t.dims
	var rdist float64
	for j := 0; j < t.dims; j++ {
		lo := t.boundsMin[base+j]
		hi := t.boundsMax[base+j]
		var d float64
		if point[j] < lo {
			d = lo - point[j]
		} else if point[j] > hi {
			d = point[j] - hi
		}
		switch m := t.metric.(type) {
		case ChebyshevMetric:
			rdist = math.Max(rdist, d)
		case ManhattanMetric:
			rdist += d
		case MinkowskiMetric:
			rdist += math.Pow(d, m.P)
		default:
			rdist += d * d
		}
	}
	return rdist
}

// --- max-heap for KNN queries ---

type knnItem struct {
	index int
	dist  float64
}

// knnHeap is a max-heap of knnItem (largest distance on top) used as a
// bounded priority queue for KNN queries. Equal distances order by index
// so results are deterministic.
type knnHeap []knnItem

func (h knnHeap) Len() int { return len(h) }
func (h knnHeap) Less(i, j int) bool {
	if h[i].dist != h[j].dist {
		return h[i].dist > h[j].dist
	}
	return h[i].index > h[j].index
}
func (h knnHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *knnHeap) Push(x interface{}) { *h = append(*h, x.(knnItem)) }
func (h *knnHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}
