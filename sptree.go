package tsne

import (
	"fmt"
	"math"
)

const (
	// maxTreeDims is the largest embedding dimension the tree handles.
	maxTreeDims = 3
	// treeEpsilon is the per-axis distance under which two points are
	// stored as duplicates of each other.
	treeEpsilon = 1e-6
)

// SPTree is a space-partitioning tree over a low-dimensional embedding: a
// binary tree in 1-D, a quadtree in 2-D and an octree in 3-D. Every cell
// tracks the barycenter and count of the points below it, which is what
// the Barnes-Hut approximation summarizes far-away cells with.
type SPTree struct {
	dims      int
	nChildren int
	cells     []spCell
}

type spCell struct {
	children   [1 << maxTreeDims]int // -1 when absent
	minBounds  [maxTreeDims]float64
	maxBounds  [maxTreeDims]float64
	center     [maxTreeDims]float64
	barycenter [maxTreeDims]float64
	// squaredMaxWidth is the largest squared side length of the cell.
	squaredMaxWidth float64
	size            int
	leaf            bool
	point           int // index of the stored point for leaves, -1 if empty
	depth           int
}

// NewSPTree builds a tree over the points of data (flat row-major, n×dims).
func NewSPTree(data []float64, n, dims int) (*SPTree, error) {
	if dims < 1 || dims > maxTreeDims {
		return nil, fmt.Errorf("%w: got %d dimensions", ErrTooManyComponents, dims)
	}
	if len(data) != n*dims {
		return nil, fmt.Errorf("%w: data length %d does not match n*dims = %d", ErrShape, len(data), n*dims)
	}

	t := &SPTree{dims: dims, nChildren: 1 << dims}

	var lo, hi [maxTreeDims]float64
	for d := 0; d < dims; d++ {
		lo[d] = math.Inf(1)
		hi[d] = math.Inf(-1)
	}
	for i := 0; i < n; i++ {
		for d := 0; d < dims; d++ {
			v := data[i*dims+d]
			lo[d] = math.Min(lo[d], v)
			hi[d] = math.Max(hi[d], v)
		}
	}
	for d := 0; d < dims; d++ {
		if n == 0 {
			lo[d], hi[d] = 0, 0
		}
		// Pad the upper bound so that points on it fall strictly inside.
		sign := 0.0
		if hi[d] > 0 {
			sign = 1
		} else if hi[d] < 0 {
			sign = -1
		}
		hi[d] = math.Max(hi[d]*(1+1e-3*sign), hi[d]+1e-3)
	}
	t.newCell(lo, hi, 0)

	for i := 0; i < n; i++ {
		t.insert(0, data[i*dims:(i+1)*dims], i)
	}
	return t, nil
}

// NumCells returns the number of allocated cells.
func (t *SPTree) NumCells() int { return len(t.cells) }

// Size returns the number of points stored in the tree.
func (t *SPTree) Size() int {
	if len(t.cells) == 0 {
		return 0
	}
	return t.cells[0].size
}

func (t *SPTree) newCell(lo, hi [maxTreeDims]float64, depth int) int {
	c := spCell{minBounds: lo, maxBounds: hi, leaf: true, point: -1, depth: depth}
	for i := range c.children {
		c.children[i] = -1
	}
	for d := 0; d < t.dims; d++ {
		c.center[d] = (lo[d] + hi[d]) / 2
		w := hi[d] - lo[d]
		c.squaredMaxWidth = math.Max(c.squaredMaxWidth, w*w)
	}
	t.cells = append(t.cells, c)
	return len(t.cells) - 1
}

// childFor returns the child of cellID containing point, creating it when
// it does not exist yet.
func (t *SPTree) childFor(cellID int, point []float64) int {
	c := &t.cells[cellID]
	slot := 0
	var lo, hi [maxTreeDims]float64
	for d := 0; d < t.dims; d++ {
		if point[d] >= c.center[d] {
			slot |= 1 << d
			lo[d], hi[d] = c.center[d], c.maxBounds[d]
		} else {
			lo[d], hi[d] = c.minBounds[d], c.center[d]
		}
	}
	if child := c.children[slot]; child >= 0 {
		return child
	}
	depth := c.depth + 1
	child := t.newCell(lo, hi, depth) // may reallocate t.cells
	t.cells[cellID].children[slot] = child
	return child
}

// addToSummary folds one point of weight count into the cell's barycenter.
func (t *SPTree) addToSummary(cellID int, point []float64, count int) {
	c := &t.cells[cellID]
	total := float64(c.size + count)
	for d := 0; d < t.dims; d++ {
		c.barycenter[d] = (float64(c.size)*c.barycenter[d] + float64(count)*point[d]) / total
	}
	c.size += count
}

func (t *SPTree) isDuplicate(a, b []float64) bool {
	for d := 0; d < t.dims; d++ {
		if math.Abs(a[d]-b[d]) > treeEpsilon {
			return false
		}
	}
	return true
}

func (t *SPTree) insert(cellID int, point []float64, idx int) {
	c := &t.cells[cellID]

	if c.leaf {
		if c.point < 0 {
			c.point = idx
			t.addToSummary(cellID, point, 1)
			return
		}
		stored := c.barycenter[:t.dims]
		if t.isDuplicate(stored, point) {
			t.addToSummary(cellID, point, 1)
			return
		}

		// Push the stored point (with its duplicates) down one level, then
		// continue as an internal cell.
		storedPoint := make([]float64, t.dims)
		copy(storedPoint, stored)
		storedIdx, storedSize := c.point, c.size
		c.leaf = false
		c.point = -1

		child := t.childFor(cellID, storedPoint)
		ch := &t.cells[child]
		ch.point = storedIdx
		copy(ch.barycenter[:t.dims], storedPoint)
		ch.size = storedSize
	}

	t.addToSummary(cellID, point, 1)
	t.insert(t.childFor(cellID, point), point, idx)
}

// cellSummary is one term of the Barnes-Hut negative force: the offset of
// the query point from a cell's barycenter, its squared length, and the
// number of points the cell stands for.
type cellSummary struct {
	delta [maxTreeDims]float64
	dist2 float64
	size  float64
}

// summarize appends to out the cells that approximate point under the
// Barnes-Hut criterion maxWidth²/dist² < thetaSq. The leaf holding the
// point itself (and any duplicates of it) is skipped.
func (t *SPTree) summarize(cellID int, point []float64, thetaSq float64, out []cellSummary) []cellSummary {
	c := &t.cells[cellID]
	var s cellSummary
	duplicate := true
	for d := 0; d < t.dims; d++ {
		s.delta[d] = point[d] - c.barycenter[d]
		s.dist2 += s.delta[d] * s.delta[d]
		duplicate = duplicate && math.Abs(s.delta[d]) <= treeEpsilon
	}
	if duplicate && c.leaf {
		return out
	}
	s.size = float64(c.size)
	if c.leaf || c.squaredMaxWidth/s.dist2 < thetaSq {
		return append(out, s)
	}
	for _, child := range c.children[:t.nChildren] {
		if child >= 0 {
			out = t.summarize(child, point, thetaSq, out)
		}
	}
	return out
}
