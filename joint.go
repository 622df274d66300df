package tsne

import (
	"context"
	"fmt"
	"math"
)

// JointProbabilities computes the symmetric joint probabilities p_ij from
// pairwise distances given in condensed form (length n*(n-1)/2).
//
// The distances are used as given: callers wanting the usual squared
// Euclidean affinities pass squared distances. Each row is calibrated to
// the desired perplexity, and the conditional distributions are
// symmetrised and normalised:
//
//	P = max((P_cond + P_condᵀ) / max(ΣP, ε), ε)
//
// The result is condensed, sums to 1 and has no entry below MachineEpsilon.
func JointProbabilities(ctx context.Context, distances []float64, n int, perplexity float64, verbose int) ([]float64, error) {
	if n < 2 {
		return nil, fmt.Errorf("%w: need at least 2 samples, got %d", ErrShape, n)
	}
	if len(distances) != CondensedLen(n) {
		return nil, fmt.Errorf("%w: condensed distances length %d does not match n*(n-1)/2 = %d (n=%d)",
			ErrShape, len(distances), CondensedLen(n), n)
	}
	if err := checkDistances(distances); err != nil {
		return nil, err
	}

	return jointProbabilitiesSquare(ctx, Squareform(distances, n), n, perplexity, verbose, 0)
}

// jointProbabilitiesSquare is JointProbabilities on a flat n×n distance
// matrix.
func jointProbabilitiesSquare(ctx context.Context, distances []float64, n int, perplexity float64, verbose, workers int) ([]float64, error) {
	conditional, err := BinarySearchPerplexity(ctx, distances, n, n, perplexity, verbose, workers)
	if err != nil {
		return nil, err
	}

	P := make([]float64, CondensedLen(n))
	var sumP float64
	k := 0
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			v := conditional[i*n+j] + conditional[j*n+i]
			P[k] = v
			sumP += 2 * v
			k++
		}
	}
	sumP = math.Max(sumP, MachineEpsilon)
	for i := range P {
		P[i] = math.Max(P[i]/sumP, MachineEpsilon)
	}
	return P, nil
}

// JointProbabilitiesNN computes sparse joint probabilities from a
// k-nearest-neighbour graph, calibrating on the distances in nn. Only
// neighbour pairs receive probability mass; the result is symmetric, sums
// to 1, and every entry is <= 1.
func JointProbabilitiesNN(ctx context.Context, nn *Neighbors, perplexity float64, verbose, workers int) (*SparseMatrix, error) {
	n, k := nn.N, nn.K
	if n < 2 || k < 1 {
		return nil, fmt.Errorf("%w: neighbour graph with n=%d, k=%d", ErrShape, n, k)
	}

	flat := make([]float64, 0, n*k)
	for i := 0; i < n; i++ {
		if len(nn.Distances[i]) != k || len(nn.Indices[i]) != k {
			return nil, fmt.Errorf("%w: row %d has %d neighbours, want %d", ErrShape, i, len(nn.Distances[i]), k)
		}
		flat = append(flat, nn.Distances[i]...)
	}
	if err := checkDistances(flat); err != nil {
		return nil, err
	}

	conditional, err := BinarySearchPerplexity(ctx, flat, n, k, perplexity, verbose, workers)
	if err != nil {
		return nil, err
	}

	values := make([][]float64, n)
	for i := range values {
		values[i] = conditional[i*k : (i+1)*k]
	}
	P := symmetricSparse(n, nn.Indices, values)

	sumP := math.Max(P.Sum(), MachineEpsilon)
	for i := range P.Data {
		P.Data[i] /= sumP
	}
	progress(ctx, verbose, 1, "Computed sparse joint probabilities", "samples", n, "nnz", P.NNZ())
	return P, nil
}

// checkDistances rejects negative or non-finite distances.
func checkDistances(d []float64) error {
	for i, v := range d {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%w: distance[%d] = %v", ErrNonFinite, i, v)
		}
		if v < 0 {
			return fmt.Errorf("%w: distance[%d] = %v", ErrNegativeDistance, i, v)
		}
	}
	return nil
}
