package tsne

import (
	"container/heap"
	"math"
	"sort"
)

// BallTree is a ball tree spatial index for k-nearest-neighbour queries.
// Each node stores the centroid of its points and the radius of the
// smallest ball around that centroid enclosing them. Pruning relies on the
// triangle inequality, so only true metrics are supported (see
// ballTreeSupports). Unlike the KD-tree its bounds do not grow with the
// number of features, which keeps it useful for wide feature tables.
type BallTree struct {
	data     []float64 // flat row-major point data (n * dims)
	n        int       // number of points
	dims     int       // dimensionality
	leafSize int
	metric   DistanceMetric
	idxArray []int // permutation: tree-order position → original index
	nodes    []ballNode
	// centroids[node*dims .. (node+1)*dims) = centroid of node
	centroids []float64
}

type ballNode struct {
	start, end  int // range in idxArray
	left, right int // child node IDs, -1 for leaves
	radius      float64
}

func (nd ballNode) isLeaf() bool { return nd.left < 0 }

// ballTreeSupports reports whether the ball tree can prune for metric.
func ballTreeSupports(metric DistanceMetric) bool {
	switch m := metric.(type) {
	case EuclideanMetric, ManhattanMetric, ChebyshevMetric:
		return true
	case MinkowskiMetric:
		return m.P >= 1
	default:
		return false
	}
}

// NewBallTree builds a ball tree from flat row-major data with n points
// of dimensionality dims. leafSize controls the max points per leaf node.
func NewBallTree(data []float64, n, dims int, metric DistanceMetric, leafSize int) *BallTree {
	if leafSize < 1 {
		leafSize = 1
	}

	idxArray := make([]int, n)
	for i := range idxArray {
		idxArray[i] = i
	}

	t := &BallTree{
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
func (t *BallTree) buildNode(start, end int) int {
	id := len(t.nodes)
	t.nodes = append(t.nodes, ballNode{start: start, end: end, left: -1, right: -1})
	t.centroids = append(t.centroids, make([]float64, t.dims)...)
	t.computeCentroid(id, start, end)

	centroid := t.centroid(id)
	var radius float64
	for i := start; i < end; i++ {
		if d := t.metric.Distance(centroid, t.point(t.idxArray[i])); d > radius {
			radius = d
		}
	}
	t.nodes[id].radius = radius

	count := end - start
	if count <= t.leafSize || radius == 0 {
		return id
	}

	splitDim, spread := t.findSpreadDim(start, end)
	if spread <= 0 {
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

// computeCentroid stores the mean of points idxArray[start:end].
func (t *BallTree) computeCentroid(nodeID, start, end int) {
	c := t.centroid(nodeID)
	for i := start; i < end; i++ {
		pt := t.point(t.idxArray[i])
		for d := range c {
			c[d] += pt[d]
		}
	}
	count := float64(end - start)
	for d := range c {
		c[d] /= count
	}
}

// findSpreadDim returns the dimension with the greatest spread among
// points in idxArray[start:end], and that spread.
func (t *BallTree) findSpreadDim(start, end int) (int, float64) {
	bestDim := 0
	bestSpread := -1.0
	for d := 0; d < t.dims; d++ {
		minVal := math.Inf(1)
		maxVal := math.Inf(-1)
		for i := start; i < end; i++ {
			v := t.data[t.idxArray[i]*t.dims+d]
			minVal = math.Min(minVal, v)
			maxVal = math.Max(maxVal, v)
		}
		if spread := maxVal - minVal; spread > bestSpread {
			bestSpread = spread
			bestDim = d
		}
	}
	return bestDim, bestSpread
}

// sortByDimension sorts idxArray[start:end] by the given dimension.
func (t *BallTree) sortByDimension(start, end, dim int) {
	sub := t.idxArray[start:end]
	dims := t.dims
	data := t.data
	sort.Slice(sub, func(i, j int) bool {
		return data[sub[i]*dims+dim] < data[sub[j]*dims+dim]
	})
}

func (t *BallTree) point(i int) []float64 {
	return t.data[i*t.dims : (i+1)*t.dims]
}

func (t *BallTree) centroid(node int) []float64 {
	return t.centroids[node*t.dims : (node+1)*t.dims]
}

// NumPoints returns the number of indexed points.
func (t *BallTree) NumPoints() int { return t.n }

// NumNodes returns the number of tree nodes, internal and leaf.
func (t *BallTree) NumNodes() int { return len(t.nodes) }

// QueryKNN returns the k nearest neighbours of query, closest first, as
// original point indices and metric distances. The point with index
// exclude (use -1 for none) is skipped.
func (t *BallTree) QueryKNN(query []float64, k, exclude int) ([]int, []float64) {
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

func (t *BallTree) knnSearch(nodeID int, query []float64, k, exclude int, h *knnHeap) {
	node := t.nodes[nodeID]

	if node.isLeaf() {
		for i := node.start; i < node.end; i++ {
			ptIdx := t.idxArray[i]
			if ptIdx == exclude {
				continue
			}
			d := t.metric.Distance(query, t.point(ptIdx))
			if h.Len() < k {
				heap.Push(h, knnItem{index: ptIdx, dist: d})
			} else if d < (*h)[0].dist || (d == (*h)[0].dist && ptIdx < (*h)[0].index) {
				(*h)[0] = knnItem{index: ptIdx, dist: d}
				heap.Fix(h, 0)
			}
		}
		return
	}

	leftDist := t.minDistPoint(node.left, query)
	rightDist := t.minDistPoint(node.right, query)

	nearChild, farChild := node.left, node.right
	farDist := rightDist
	if rightDist < leftDist {
		nearChild, farChild = node.right, node.left
		farDist = leftDist
	}

	t.knnSearch(nearChild, query, k, exclude, h)
	if h.Len() < k || (*h)[0].dist >= farDist {
		t.knnSearch(farChild, query, k, exclude, h)
	}
}

// minDistPoint returns a lower bound on the distance between point and any
// point in the given node.
func (t *BallTree) minDistPoint(node int, point []float64) float64 {
	d := t.metric.Distance(point, t.centroid(node)) - t.nodes[node].radius
	return math.Max(d, 0)
}
