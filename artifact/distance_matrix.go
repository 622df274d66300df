// Package artifact defines the typed values q2-tsne methods consume and
// produce, and the plain-text formats they are exchanged in.
package artifact

import (
	"errors"
	"fmt"
	"math"

	tsne "github.com/azhang30/q2-tsne"
)

var (
	// ErrInvalid is returned when an artifact's contents violate its
	// invariants.
	ErrInvalid = errors.New("artifact: invalid contents")

	// ErrFormat is returned when text input cannot be parsed.
	ErrFormat = errors.New("artifact: malformed input")
)

// DistanceMatrix is a labelled, symmetric, hollow matrix of non-negative
// distances. Only the upper triangle is stored, row by row.
type DistanceMatrix struct {
	IDs       []string
	Condensed []float64
}

// NewDistanceMatrix validates ids and condensed and wraps them. The IDs
// must be unique and the distances finite and non-negative.
func NewDistanceMatrix(ids []string, condensed []float64) (*DistanceMatrix, error) {
	dm := &DistanceMatrix{IDs: ids, Condensed: condensed}
	if err := dm.Validate(); err != nil {
		return nil, err
	}
	return dm, nil
}

// FromSquare builds a DistanceMatrix from a full square matrix. The matrix
// must be symmetric with a zero diagonal.
func FromSquare(ids []string, square [][]float64) (*DistanceMatrix, error) {
	n := len(ids)
	if len(square) != n {
		return nil, fmt.Errorf("%w: %d rows for %d ids", ErrInvalid, len(square), n)
	}
	for i, row := range square {
		if len(row) != n {
			return nil, fmt.Errorf("%w: row %q has %d values, want %d", ErrInvalid, ids[i], len(row), n)
		}
	}
	flat := make([]float64, 0, n*n)
	for i, row := range square {
		if row[i] != 0 {
			return nil, fmt.Errorf("%w: non-zero diagonal at %q", ErrInvalid, ids[i])
		}
		for j := i + 1; j < n; j++ {
			if row[j] != square[j][i] {
				return nil, fmt.Errorf("%w: not symmetric at (%q, %q)", ErrInvalid, ids[i], ids[j])
			}
		}
		flat = append(flat, row...)
	}
	return NewDistanceMatrix(ids, tsne.Condense(flat, n))
}

// Validate checks the matrix invariants.
func (dm *DistanceMatrix) Validate() error {
	n := len(dm.IDs)
	if len(dm.Condensed) != tsne.CondensedLen(n) {
		return fmt.Errorf("%w: %d condensed values for %d ids, want %d",
			ErrInvalid, len(dm.Condensed), n, tsne.CondensedLen(n))
	}
	seen := make(map[string]struct{}, n)
	for _, id := range dm.IDs {
		if _, dup := seen[id]; dup {
			return fmt.Errorf("%w: duplicate id %q", ErrInvalid, id)
		}
		seen[id] = struct{}{}
	}
	for k, v := range dm.Condensed {
		if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
			return fmt.Errorf("%w: distance %d is %v", ErrInvalid, k, v)
		}
	}
	return nil
}

// N returns the number of samples.
func (dm *DistanceMatrix) N() int { return len(dm.IDs) }

// At returns the distance between samples i and j.
func (dm *DistanceMatrix) At(i, j int) float64 {
	if i == j {
		return 0
	}
	return dm.Condensed[tsne.CondensedIndex(i, j, dm.N())]
}

// Square returns the full matrix, flat and row-major.
func (dm *DistanceMatrix) Square() []float64 {
	return tsne.Squareform(dm.Condensed, dm.N())
}

// Rows returns the full matrix as one slice per sample.
func (dm *DistanceMatrix) Rows() [][]float64 {
	n := dm.N()
	flat := dm.Square()
	rows := make([][]float64, n)
	for i := range rows {
		rows[i] = flat[i*n : (i+1)*n : (i+1)*n]
	}
	return rows
}
