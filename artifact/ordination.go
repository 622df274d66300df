package artifact

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// OrdinationResults is a table of sample coordinates along ordination
// axes, shaped like a principal coordinates analysis.
type OrdinationResults struct {
	ShortMethodName     string
	LongMethodName      string
	Eigvals             []float64
	ProportionExplained []float64
	SampleIDs           []string
	// Samples holds one row of coordinates per sample.
	Samples [][]float64
}

// NewOrdination wraps an embedding. Each axis is given the variance of its
// coordinates as eigenvalue, and its share of the total variance as the
// proportion explained.
func NewOrdination(short, long string, ids []string, samples [][]float64) (*OrdinationResults, error) {
	o := &OrdinationResults{
		ShortMethodName: short,
		LongMethodName:  long,
		SampleIDs:       ids,
		Samples:         samples,
	}
	k := 0
	if len(samples) > 0 {
		k = len(samples[0])
	}
	o.Eigvals = make([]float64, k)
	col := make([]float64, len(samples))
	for c := 0; c < k; c++ {
		for i, row := range samples {
			if len(row) != k {
				return nil, fmt.Errorf("%w: sample %d has %d coordinates, want %d", ErrInvalid, i, len(row), k)
			}
			col[i] = row[c]
		}
		if len(col) > 1 {
			o.Eigvals[c] = stat.Variance(col, nil)
		}
	}
	o.ProportionExplained = make([]float64, k)
	if total := floats.Sum(o.Eigvals); total > 0 {
		floats.ScaleTo(o.ProportionExplained, 1/total, o.Eigvals)
	}
	if err := o.Validate(); err != nil {
		return nil, err
	}
	return o, nil
}

// Validate checks that every sample has one finite coordinate per axis and
// that the IDs are unique.
func (o *OrdinationResults) Validate() error {
	k := len(o.Eigvals)
	if len(o.ProportionExplained) != k {
		return fmt.Errorf("%w: %d proportions for %d eigenvalues", ErrInvalid, len(o.ProportionExplained), k)
	}
	if len(o.SampleIDs) != len(o.Samples) {
		return fmt.Errorf("%w: %d sample ids for %d rows", ErrInvalid, len(o.SampleIDs), len(o.Samples))
	}
	seen := make(map[string]struct{}, len(o.SampleIDs))
	for i, id := range o.SampleIDs {
		if _, dup := seen[id]; dup {
			return fmt.Errorf("%w: duplicate sample id %q", ErrInvalid, id)
		}
		seen[id] = struct{}{}
		if len(o.Samples[i]) != k {
			return fmt.Errorf("%w: sample %q has %d coordinates, want %d", ErrInvalid, id, len(o.Samples[i]), k)
		}
		for _, v := range o.Samples[i] {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return fmt.Errorf("%w: sample %q has coordinate %v", ErrInvalid, id, v)
			}
		}
	}
	return nil
}

// Dims returns the number of axes.
func (o *OrdinationResults) Dims() int { return len(o.Eigvals) }

// Flat returns the coordinates unraveled row by row.
func (o *OrdinationResults) Flat() []float64 {
	out := make([]float64, 0, len(o.Samples)*o.Dims())
	for _, row := range o.Samples {
		out = append(out, row...)
	}
	return out
}
