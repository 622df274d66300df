package tsne

import (
	"errors"
	"fmt"
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// initScale is the standard deviation of the first embedding axis after
// initialization.
const initScale = 1e-4

var errDegenerateInit = errors.New("tsne: degenerate initialization")

// randomInit draws n*k coordinates from N(0, initScale²).
func randomInit(rng *rand.Rand, n, k int) []float64 {
	out := make([]float64, n*k)
	for i := range out {
		out[i] = initScale * rng.NormFloat64()
	}
	return out
}

// pcaInit projects the centred data onto its first k principal axes and
// rescales the result.
func pcaInit(data []float64, n, dims, k int) ([]float64, error) {
	if k > min(n, dims) {
		return nil, fmt.Errorf("%w: pca init needs n_components <= min(n_samples, n_features) = %d, got %d",
			ErrInvalidConfig, min(n, dims), k)
	}

	centered := mat.NewDense(n, dims, append([]float64(nil), data...))
	for j := 0; j < dims; j++ {
		col := mat.Col(nil, j, centered)
		mean := stat.Mean(col, nil)
		for i := 0; i < n; i++ {
			centered.Set(i, j, centered.At(i, j)-mean)
		}
	}

	var svd mat.SVD
	if !svd.Factorize(centered, mat.SVDThin) {
		return nil, fmt.Errorf("%w: SVD did not converge", errDegenerateInit)
	}
	var u mat.Dense
	svd.UTo(&u)
	s := svd.Values(nil)

	out := make([]float64, n*k)
	for c := 0; c < k; c++ {
		sign := flipSign(mat.Col(nil, c, &u))
		for i := 0; i < n; i++ {
			out[i*k+c] = sign * u.At(i, c) * s[c]
		}
	}
	return rescaleInit(out, n, k)
}

// PCoA computes classical principal coordinates of a flat n×n matrix of
// squared distances: the top k eigenvectors of the double-centred matrix
// -½·J·D²·J scaled by the square roots of their eigenvalues. It returns the
// flat n×k coordinates and the k eigenvalues in decreasing order.
// Negative eigenvalues contribute zero-length axes.
func PCoA(sqDistances []float64, n, k int) ([]float64, []float64, error) {
	if len(sqDistances) != n*n {
		return nil, nil, fmt.Errorf("%w: distance matrix length %d does not match n*n = %d", ErrShape, len(sqDistances), n*n)
	}
	if k < 1 || k > n {
		return nil, nil, fmt.Errorf("%w: %d principal coordinates for %d samples", ErrShape, k, n)
	}

	rowMean := make([]float64, n)
	var grandMean float64
	for i := 0; i < n; i++ {
		rowMean[i] = stat.Mean(sqDistances[i*n:(i+1)*n], nil)
		grandMean += rowMean[i]
	}
	grandMean /= float64(n)

	b := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			// Symmetric input, so column means equal row means.
			b.SetSym(i, j, -0.5*(sqDistances[i*n+j]-rowMean[i]-rowMean[j]+grandMean))
		}
	}

	var eig mat.EigenSym
	if !eig.Factorize(b, true) {
		return nil, nil, fmt.Errorf("%w: eigendecomposition did not converge", errDegenerateInit)
	}
	values := eig.Values(nil) // ascending
	var vecs mat.Dense
	eig.VectorsTo(&vecs)

	coords := make([]float64, n*k)
	eigvals := make([]float64, k)
	for c := 0; c < k; c++ {
		src := n - 1 - c
		eigvals[c] = values[src]
		scale := math.Sqrt(math.Max(values[src], 0))
		sign := flipSign(mat.Col(nil, src, &vecs))
		for i := 0; i < n; i++ {
			coords[i*k+c] = sign * vecs.At(i, src) * scale
		}
	}
	return coords, eigvals, nil
}

// pcoaInit is the PCA initialization for precomputed distances.
func pcoaInit(sqDistances []float64, n, k int) ([]float64, error) {
	coords, _, err := PCoA(sqDistances, n, k)
	if err != nil {
		return nil, err
	}
	return rescaleInit(coords, n, k)
}

// flipSign returns the sign that makes the largest-magnitude entry of v
// positive, so decompositions are deterministic.
func flipSign(v []float64) float64 {
	var best float64
	for _, x := range v {
		if math.Abs(x) > math.Abs(best) {
			best = x
		}
	}
	if best < 0 {
		return -1
	}
	return 1
}

// rescaleInit scales the embedding so the first axis has population
// standard deviation initScale.
func rescaleInit(y []float64, n, k int) ([]float64, error) {
	first := make([]float64, n)
	for i := 0; i < n; i++ {
		first[i] = y[i*k]
	}
	// stat.StdDev is the unbiased estimate; convert to the population one.
	std := stat.StdDev(first, nil) * math.Sqrt(float64(n-1)/float64(n))
	if std == 0 || math.IsNaN(std) {
		return nil, fmt.Errorf("%w: first component has zero variance", errDegenerateInit)
	}
	for i := range y {
		y[i] = y[i] / std * initScale
	}
	return y, nil
}
