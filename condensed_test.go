package tsne

import "testing"

// denseOf expands m into a flat row-major n×n slice.
func denseOf(m *SparseMatrix) []float64 {
	out := make([]float64, m.N*m.N)
	for i := 0; i < m.N; i++ {
		for k := m.Indptr[i]; k < m.Indptr[i+1]; k++ {
			out[i*m.N+m.Indices[k]] = m.Data[k]
		}
	}
	return out
}

func TestCondensedIndex_MatchesRowMajorUpperTriangle(t *testing.T) {
	for _, n := range []int{2, 3, 7} {
		k := 0
		for i := 0; i < n; i++ {
			for j := i + 1; j < n; j++ {
				if got := CondensedIndex(i, j, n); got != k {
					t.Errorf("n=%d: CondensedIndex(%d, %d) = %d, want %d", n, i, j, got, k)
				}
				if got := CondensedIndex(j, i, n); got != k {
					t.Errorf("n=%d: CondensedIndex(%d, %d) = %d, want %d", n, j, i, got, k)
				}
				k++
			}
		}
		if k != CondensedLen(n) {
			t.Errorf("n=%d: CondensedLen = %d, want %d", n, CondensedLen(n), k)
		}
	}
}

func TestSquareformCondense_RoundTrip(t *testing.T) {
	condensed := []float64{1, 2, 3, 4, 5, 6}
	sq := Squareform(condensed, 4)
	want := []float64{
		0, 1, 2, 3,
		1, 0, 4, 5,
		2, 4, 0, 6,
		3, 5, 6, 0,
	}
	for i := range want {
		if sq[i] != want[i] {
			t.Errorf("sq[%d] = %v, want %v", i, sq[i], want[i])
		}
	}
	back := Condense(sq, 4)
	for i := range condensed {
		if back[i] != condensed[i] {
			t.Errorf("back[%d] = %v, want %v", i, back[i], condensed[i])
		}
	}
}

func TestSparseFromCondensed_DropsZeros(t *testing.T) {
	condensed := []float64{0.1, 0, 0.3}
	m := SparseFromCondensed(condensed, 3)
	if m.NNZ() != 4 {
		t.Fatalf("NNZ = %d, want 4", m.NNZ())
	}
	dense := denseOf(m)
	want := Squareform(condensed, 3)
	for i := range want {
		if dense[i] != want[i] {
			t.Errorf("dense[%d] = %v, want %v", i, dense[i], want[i])
		}
	}
	if !almostEqual(m.Sum(), 0.8, floatTol) {
		t.Errorf("Sum = %v, want 0.8", m.Sum())
	}
}

func TestSymmetricSparse_SumsBothDirections(t *testing.T) {
	// 0 -> 1 (0.5), 1 -> 0 (0.25), 2 -> 0 (1)
	neighbors := [][]int{{1}, {0}, {0}}
	values := [][]float64{{0.5}, {0.25}, {1}}
	m := symmetricSparse(3, neighbors, values)

	dense := denseOf(m)
	want := []float64{
		0, 0.75, 1,
		0.75, 0, 0,
		1, 0, 0,
	}
	for i := range want {
		if dense[i] != want[i] {
			t.Errorf("dense[%d] = %v, want %v", i, dense[i], want[i])
		}
	}
	for i := 0; i < m.N; i++ {
		for k := m.Indptr[i] + 1; k < m.Indptr[i+1]; k++ {
			if m.Indices[k-1] >= m.Indices[k] {
				t.Errorf("row %d columns not ascending: %v", i, m.Indices[m.Indptr[i]:m.Indptr[i+1]])
			}
		}
	}
}
