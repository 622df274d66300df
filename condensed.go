package tsne

import "sort"

// MachineEpsilon is the float64 machine epsilon used to floor probabilities.
const MachineEpsilon = 2.220446049250313e-16

// CondensedLen returns the length of the condensed form of an n×n
// symmetric matrix: n*(n-1)/2.
func CondensedLen(n int) int {
	if n < 2 {
		return 0
	}
	return n * (n - 1) / 2
}

// CondensedIndex returns the position of entry (i, j), i != j, in the
// condensed upper-triangular form of an n×n symmetric matrix.
func CondensedIndex(i, j, n int) int {
	if i > j {
		i, j = j, i
	}
	return n*i - i*(i+1)/2 + (j - i - 1)
}

// Squareform expands a condensed matrix into a flat row-major n×n matrix
// with a zero diagonal.
func Squareform(condensed []float64, n int) []float64 {
	sq := make([]float64, n*n)
	k := 0
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			sq[i*n+j] = condensed[k]
			sq[j*n+i] = condensed[k]
			k++
		}
	}
	return sq
}

// Condense extracts the upper triangle of a flat row-major n×n matrix.
// The lower triangle and diagonal are ignored.
func Condense(square []float64, n int) []float64 {
	out := make([]float64, 0, CondensedLen(n))
	for i := 0; i < n; i++ {
		out = append(out, square[i*n+i+1:(i+1)*n]...)
	}
	return out
}

// SparseMatrix is an n×n matrix in compressed sparse row form. Row i holds
// columns Indices[Indptr[i]:Indptr[i+1]] (ascending) with values Data over
// the same range.
type SparseMatrix struct {
	N       int
	Indptr  []int
	Indices []int
	Data    []float64
}

// NNZ returns the number of stored entries.
func (m *SparseMatrix) NNZ() int { return len(m.Data) }

// Sum returns the sum of all stored entries.
func (m *SparseMatrix) Sum() float64 {
	var s float64
	for _, v := range m.Data {
		s += v
	}
	return s
}

// SparseFromCondensed converts a condensed symmetric matrix into CSR form,
// keeping every off-diagonal entry that is not zero.
func SparseFromCondensed(condensed []float64, n int) *SparseMatrix {
	m := &SparseMatrix{N: n, Indptr: make([]int, n+1)}
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			if i == j {
				continue
			}
			v := condensed[CondensedIndex(i, j, n)]
			if v == 0 {
				continue
			}
			m.Indices = append(m.Indices, j)
			m.Data = append(m.Data, v)
		}
		m.Indptr[i+1] = len(m.Data)
	}
	return m
}

// symmetricSparse builds CSR P + Pᵀ from per-row neighbour lists, summing
// entries that appear in both directions.
func symmetricSparse(n int, neighbors [][]int, values [][]float64) *SparseMatrix {
	rows := make([]map[int]float64, n)
	for i := range rows {
		rows[i] = make(map[int]float64, len(neighbors[i]))
	}
	for i := 0; i < n; i++ {
		for k, j := range neighbors[i] {
			v := values[i][k]
			rows[i][j] += v
			rows[j][i] += v
		}
	}

	m := &SparseMatrix{N: n, Indptr: make([]int, n+1)}
	for i := 0; i < n; i++ {
		cols := make([]int, 0, len(rows[i]))
		for j := range rows[i] {
			cols = append(cols, j)
		}
		sort.Ints(cols)
		for _, j := range cols {
			m.Indices = append(m.Indices, j)
			m.Data = append(m.Data, rows[i][j])
		}
		m.Indptr[i+1] = len(m.Data)
	}
	return m
}
