package tsne

import (
	"fmt"
	"math"
	"strings"
)

// DistanceMetric provides distance computation with an optional reduced
// distance that preserves ordering (e.g., squared Euclidean skips sqrt).
// t-SNE works on squared distances, so SquaredDistance is derived from
// whichever of the two is cheaper for the metric.
type DistanceMetric interface {
	Distance(a, b []float64) float64
	ReducedDistance(a, b []float64) float64
}

// DistanceFunc adapts a plain function into a DistanceMetric.
// ReducedDistance delegates to the same function.
type DistanceFunc func(a, b []float64) float64

func (f DistanceFunc) Distance(a, b []float64) float64        { return f(a, b) }
func (f DistanceFunc) ReducedDistance(a, b []float64) float64 { return f(a, b) }

// EuclideanMetric computes the Euclidean (L2) distance.
// ReducedDistance returns squared Euclidean distance (skips sqrt).
type EuclideanMetric struct{}

func (EuclideanMetric) Distance(a, b []float64) float64 {
	return math.Sqrt(euclideanSumOfSquares(a, b))
}

func (EuclideanMetric) ReducedDistance(a, b []float64) float64 {
	return euclideanSumOfSquares(a, b)
}

func euclideanSumOfSquares(a, b []float64) float64 {
	var sum float64
	for i := range a {
		d := a[i] - b[i]
		sum += d * d
	}
	return sum
}

// SquaredEuclideanMetric is the squared L2 distance. It is not a true
// metric, so neighbour search always falls back to brute force for it.
type SquaredEuclideanMetric struct{}

func (SquaredEuclideanMetric) Distance(a, b []float64) float64 {
	return euclideanSumOfSquares(a, b)
}

func (m SquaredEuclideanMetric) ReducedDistance(a, b []float64) float64 { return m.Distance(a, b) }

// ManhattanMetric computes the Manhattan (L1 / city-block) distance.
type ManhattanMetric struct{}

func (ManhattanMetric) Distance(a, b []float64) float64 {
	var sum float64
	for i := range a {
		sum += math.Abs(a[i] - b[i])
	}
	return sum
}

func (m ManhattanMetric) ReducedDistance(a, b []float64) float64 { return m.Distance(a, b) }

// CosineMetric computes the cosine distance: 1 - cosine_similarity.
// For two zero vectors, the result is NaN (0/0).
type CosineMetric struct{}

func (CosineMetric) Distance(a, b []float64) float64 {
	var dot, normA, normB float64
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}
	return 1.0 - dot/math.Sqrt(normA*normB)
}

func (m CosineMetric) ReducedDistance(a, b []float64) float64 { return m.Distance(a, b) }

// ChebyshevMetric computes the Chebyshev (L-infinity) distance.
type ChebyshevMetric struct{}

func (ChebyshevMetric) Distance(a, b []float64) float64 {
	var maxVal float64
	for i := range a {
		if v := math.Abs(a[i] - b[i]); v > maxVal {
			maxVal = v
		}
	}
	return maxVal
}

func (m ChebyshevMetric) ReducedDistance(a, b []float64) float64 { return m.Distance(a, b) }

// MinkowskiMetric computes the Minkowski distance parameterized by P.
// P must be >= 1. Panics if P < 1.
// ReducedDistance returns sum(|a[i]-b[i]|^P) without the final root.
type MinkowskiMetric struct {
	P float64
}

func (m MinkowskiMetric) Distance(a, b []float64) float64 {
	return math.Pow(m.rawSum(a, b), 1.0/m.P)
}

func (m MinkowskiMetric) ReducedDistance(a, b []float64) float64 {
	return m.rawSum(a, b)
}

func (m MinkowskiMetric) rawSum(a, b []float64) float64 {
	if m.P < 1 {
		panic("MinkowskiMetric: P must be >= 1")
	}
	var sum float64
	for i := range a {
		sum += math.Pow(math.Abs(a[i]-b[i]), m.P)
	}
	return sum
}

// MetricByName resolves the metric names accepted by the t-SNE method.
// "precomputed" is not a metric and is handled by the caller.
func MetricByName(name string) (DistanceMetric, error) {
	switch strings.ToLower(name) {
	case "euclidean", "l2":
		return EuclideanMetric{}, nil
	case "sqeuclidean":
		return SquaredEuclideanMetric{}, nil
	case "manhattan", "cityblock", "l1":
		return ManhattanMetric{}, nil
	case "cosine":
		return CosineMetric{}, nil
	case "chebyshev":
		return ChebyshevMetric{}, nil
	case "minkowski":
		return MinkowskiMetric{P: 2}, nil
	default:
		return nil, fmt.Errorf("%w: unknown metric %q", ErrInvalidConfig, name)
	}
}

// squaredDistance returns the squared metric distance between a and b.
// For Euclidean the reduced distance already is the square.
func squaredDistance(metric DistanceMetric, a, b []float64) float64 {
	switch metric.(type) {
	case EuclideanMetric:
		return metric.ReducedDistance(a, b)
	}
	d := metric.Distance(a, b)
	return d * d
}
