package tsne

import (
	"context"
	"errors"
	"math"
	"testing"
)

// condensedSquaredEuclidean returns the condensed squared Euclidean
// distances between the rows of data.
func condensedSquaredEuclidean(data []float64, n, dims int) []float64 {
	sq, err := squaredPairwiseDistances(context.Background(), data, n, dims, EuclideanMetric{}, 1)
	if err != nil {
		panic(err)
	}
	return Condense(sq, n)
}

// referenceJointProbabilities bisects each row's precision directly on
// the given distances to high accuracy, then symmetrises and normalises.
func referenceJointProbabilities(condensed []float64, n int, perplexity float64) []float64 {
	d := Squareform(condensed, n)
	target := math.Log(perplexity)
	cond := make([]float64, n*n)
	for i := 0; i < n; i++ {
		row := func(beta float64) (float64, []float64) {
			p := make([]float64, n)
			var sum, weighted float64
			for j := 0; j < n; j++ {
				if j != i {
					p[j] = math.Exp(-beta * d[i*n+j])
					sum += p[j]
					weighted += d[i*n+j] * p[j]
				}
			}
			for j := range p {
				p[j] /= sum
			}
			return math.Log(sum) + beta*weighted/sum, p
		}
		lo, hi := 0.0, 1.0
		for h, _ := row(hi); h > target; h, _ = row(hi) {
			hi *= 2
		}
		for it := 0; it < 200; it++ {
			mid := (lo + hi) / 2
			if h, _ := row(mid); h > target {
				lo = mid
			} else {
				hi = mid
			}
		}
		_, p := row((lo + hi) / 2)
		copy(cond[i*n:(i+1)*n], p)
	}

	P := make([]float64, 0, CondensedLen(n))
	var sum float64
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			v := cond[i*n+j] + cond[j*n+i]
			P = append(P, v)
			sum += 2 * v
		}
	}
	for k := range P {
		P[k] = math.Max(P[k]/sum, MachineEpsilon)
	}
	return P
}

func TestJointProbabilities_Normalised(t *testing.T) {
	n, dims := 30, 4
	d := condensedSquaredEuclidean(generateFlatData(n, dims), n, dims)
	for i := range d {
		d[i] /= 10
	}

	P, err := JointProbabilities(context.Background(), d, n, 5, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(P) != CondensedLen(n) {
		t.Fatalf("len(P) = %d, want %d", len(P), CondensedLen(n))
	}
	var sum float64
	for i, p := range P {
		if p < MachineEpsilon {
			t.Errorf("P[%d] = %v is below machine epsilon", i, p)
		}
		if p > 1 {
			t.Errorf("P[%d] = %v exceeds 1", i, p)
		}
		sum += p
	}
	// The condensed form holds each pair once; the full matrix sums to 1.
	if !almostEqual(2*sum, 1, 1e-9) {
		t.Errorf("full matrix sums to %v, want 1", 2*sum)
	}
}

func TestJointProbabilities_UsesDistancesAsGiven(t *testing.T) {
	distances := []float64{1, 2, 3, 1.5, 2.5, 0.5}
	const n, perplexity = 4, 2.0

	P, err := JointProbabilities(context.Background(), distances, n, perplexity, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := referenceJointProbabilities(distances, n, perplexity)
	for k := range want {
		if !almostEqual(P[k], want[k], 1e-4) {
			t.Errorf("P[%d] = %v, want %v", k, P[k], want[k])
		}
	}

	// Values calibrated on the unsquared matrix, to four decimals.
	known := []float64{0.1832, 0.0341, 0.0179, 0.0517, 0.0213, 0.1918}
	for k := range known {
		if !almostEqual(P[k], known[k], 1e-3) {
			t.Errorf("P[%d] = %v, want about %v", k, P[k], known[k])
		}
	}

	// Squaring the input must change the result.
	squared := make([]float64, len(distances))
	for k, v := range distances {
		squared[k] = v * v
	}
	Psq, err := JointProbabilities(context.Background(), squared, n, perplexity, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var maxDiff float64
	for k := range P {
		maxDiff = math.Max(maxDiff, math.Abs(P[k]-Psq[k]))
	}
	if maxDiff < 1e-3 {
		t.Errorf("squared and unsquared input gave the same P (max diff %v)", maxDiff)
	}
}

func TestJointProbabilities_TwoPoints(t *testing.T) {
	P, err := JointProbabilities(context.Background(), []float64{3}, 2, 1, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !almostEqual(P[0], 0.5, 1e-12) {
		t.Errorf("P = %v, want [0.5]", P)
	}
}

func TestJointProbabilities_Errors(t *testing.T) {
	ctx := context.Background()
	tests := []struct {
		name      string
		distances []float64
		n         int
		want      error
	}{
		{"one sample", nil, 1, ErrShape},
		{"wrong length", []float64{1, 2}, 3, ErrShape},
		{"negative", []float64{1, -2, 3}, 3, ErrNegativeDistance},
		{"nan", []float64{1, math.NaN(), 3}, 3, ErrNonFinite},
		{"inf", []float64{1, math.Inf(1), 3}, 3, ErrNonFinite},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := JointProbabilities(ctx, tt.distances, tt.n, 1, 0); !errors.Is(err, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestJointProbabilitiesNN_MatchesExactWithAllNeighbors(t *testing.T) {
	n, dims := 12, 2
	data := generateFlatData(n, dims)
	for i := range data {
		data[i] /= 20
	}
	ctx := context.Background()
	const perplexity = 3.0

	exact, err := JointProbabilities(ctx, condensedSquaredEuclidean(data, n, dims), n, perplexity, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	nn, err := NearestNeighbors(ctx, data, n, dims, EuclideanMetric{}, n-1, 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	sparse, err := JointProbabilitiesNN(ctx, nn, perplexity, 0, 2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	dense := denseOf(sparse)
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			want := exact[CondensedIndex(i, j, n)]
			if !almostEqual(dense[i*n+j], want, 1e-12) {
				t.Errorf("P[%d,%d] = %v, want %v", i, j, dense[i*n+j], want)
			}
		}
	}
}

func TestJointProbabilitiesNN_SymmetricAndNormalised(t *testing.T) {
	n, dims := 200, 2
	data := generateFlatData(n, dims)
	ctx := context.Background()
	const perplexity = 10.0

	nn, err := NearestNeighbors(ctx, data, n, dims, EuclideanMetric{}, NeighborCount(n, perplexity), 4)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	P, err := JointProbabilitiesNN(ctx, nn, perplexity, 0, 4)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !almostEqual(P.Sum(), 1, 1e-9) {
		t.Errorf("P sums to %v", P.Sum())
	}
	dense := denseOf(P)
	for i := 0; i < n; i++ {
		if dense[i*n+i] != 0 {
			t.Errorf("diagonal %d = %v", i, dense[i*n+i])
		}
		for j := 0; j < i; j++ {
			if dense[i*n+j] != dense[j*n+i] {
				t.Fatalf("P[%d,%d] = %v but P[%d,%d] = %v", i, j, dense[i*n+j], j, i, dense[j*n+i])
			}
			if dense[i*n+j] > 1 {
				t.Errorf("P[%d,%d] = %v exceeds 1", i, j, dense[i*n+j])
			}
		}
	}
}
