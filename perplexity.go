package tsne

import (
	"context"
	"fmt"
	"log/slog"
	"math"

	"gonum.org/v1/gonum/stat"

	"github.com/azhang30/q2-tsne/internal/ctxlog"
)

const (
	perplexityTolerance = 1e-5
	perplexitySteps     = 100
	// epsilonDbl replaces a row sum that underflowed to zero.
	epsilonDbl = 1e-8
)

// progress logs msg at Info when verbose reaches threshold and at Debug
// otherwise, so verbosity never hides anything from a debug logger.
func progress(ctx context.Context, verbose, threshold int, msg string, args ...any) {
	level := slog.LevelDebug
	if verbose >= threshold {
		level = slog.LevelInfo
	}
	ctxlog.FromContext(ctx).Log(ctx, level, msg, args...)
}

// BinarySearchPerplexity calibrates one Gaussian per row so that the row's
// conditional distribution has the desired perplexity.
//
// sqDistances is flat row-major with n rows of k distances, squared for
// feature input and as given for precomputed matrices. When
// k == n the rows are full distance rows and the diagonal is skipped;
// otherwise each row holds the distances to k nearest neighbours and every
// entry takes part. The returned slice has the same layout and holds the
// conditional probabilities p_{j|i}; each row sums to 1.
func BinarySearchPerplexity(ctx context.Context, sqDistances []float64, n, k int, perplexity float64, verbose, workers int) ([]float64, error) {
	if len(sqDistances) != n*k {
		return nil, fmt.Errorf("%w: %d squared distances for %d rows of %d", ErrShape, len(sqDistances), n, k)
	}
	if !(perplexity > 0) || math.IsInf(perplexity, 0) {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPerplexity, perplexity)
	}
	usingNeighbors := k < n

	P := make([]float64, n*k)
	sigmas := make([]float64, n)
	desiredEntropy := math.Log(perplexity)

	err := forEachRowRange(ctx, n, resolveWorkers(workers), func(ctx context.Context, start, end int) error {
		for i := start; i < end; i++ {
			if err := ctx.Err(); err != nil {
				return err
			}
			beta := calibrateRow(sqDistances[i*k:(i+1)*k], P[i*k:(i+1)*k], i, usingNeighbors, desiredEntropy)
			sigmas[i] = math.Sqrt(1 / beta)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	progress(ctx, verbose, 1, "Computed conditional probabilities", "samples", n)
	progress(ctx, verbose, 1, "Mean sigma", "sigma", stat.Mean(sigmas, nil))
	return P, nil
}

// calibrateRow fills p with the conditional distribution of row i and
// returns the precision beta that was found.
func calibrateRow(sqd, p []float64, i int, usingNeighbors bool, desiredEntropy float64) float64 {
	beta := 1.0
	betaMin := math.Inf(-1)
	betaMax := math.Inf(1)

	for step := 0; step < perplexitySteps; step++ {
		var sumP float64
		for j := range sqd {
			if j != i || usingNeighbors {
				p[j] = math.Exp(-sqd[j] * beta)
				sumP += p[j]
			}
		}
		if sumP == 0 {
			sumP = epsilonDbl
		}

		var sumDistP float64
		for j := range sqd {
			p[j] /= sumP
			sumDistP += sqd[j] * p[j]
		}

		entropy := math.Log(sumP) + beta*sumDistP
		diff := entropy - desiredEntropy
		if math.Abs(diff) <= perplexityTolerance {
			break
		}

		if diff > 0 {
			betaMin = beta
			if math.IsInf(betaMax, 1) {
				beta *= 2
			} else {
				beta = (beta + betaMax) / 2
			}
		} else {
			betaMax = beta
			if math.IsInf(betaMin, -1) {
				beta /= 2
			} else {
				beta = (beta + betaMin) / 2
			}
		}
	}
	return beta
}
