package tsne

import (
	"context"
	"fmt"
	"math"
	"time"

	"gonum.org/v1/gonum/floats"
)

// float32Tiny is the smallest normal float32, used to keep log() finite in
// the Barnes-Hut error term.
const float32Tiny = 1.1754943508222875e-38

// KLDivergenceBH is the Barnes-Hut approximation of the t-SNE objective. P
// holds the joint probabilities of neighbouring pairs in CSR form; the
// repulsive forces are approximated with an SPTree so one evaluation costs
// O(N log N) instead of O(N²).
//
// angle is the Barnes-Hut θ in [0, 1]: a cell is summarized by its
// barycenter when maxWidth/dist < θ, so 0 gives the exact repulsion.
// numThreads <= 0 uses every CPU. Gradient rows for points with index below
// skipNumPoints are left at zero. When computeError is false the divergence
// is NaN.
func KLDivergenceBH(ctx context.Context, params []float64, P *SparseMatrix, degreesOfFreedom float64,
	nSamples, nComponents int, angle float64, skipNumPoints, verbose int, computeError bool, numThreads int,
) (float64, []float64, error) {
	if err := checkObjectiveShape(params, nSamples, nComponents, degreesOfFreedom); err != nil {
		return 0, nil, err
	}
	if nComponents > maxTreeDims {
		return 0, nil, fmt.Errorf("%w: got %d", ErrTooManyComponents, nComponents)
	}
	if P == nil || P.N != nSamples || len(P.Indptr) != nSamples+1 {
		return 0, nil, fmt.Errorf("%w: sparse P does not describe %d samples", ErrShape, nSamples)
	}
	if !(angle >= 0 && angle <= 1) {
		return 0, nil, fmt.Errorf("%w: got %v", ErrInvalidAngle, angle)
	}

	n, d := nSamples, nComponents
	workers := resolveWorkers(numThreads)

	started := time.Now()
	tree, err := NewSPTree(params, n, d)
	if err != nil {
		return 0, nil, err
	}
	progress(ctx, verbose, 11, "Built space-partitioning tree", "cells", tree.NumCells(), "elapsed", time.Since(started))

	negF := make([]float64, n*d)
	rowSumQ := make([]float64, n)
	thetaSq := angle * angle
	exponent := (degreesOfFreedom + 1) / 2

	started = time.Now()
	err = forEachRowRange(ctx, n, workers, func(ctx context.Context, start, end int) error {
		var buf []cellSummary
		for i := start; i < end; i++ {
			if err := ctx.Err(); err != nil {
				return err
			}
			yi := params[i*d : (i+1)*d]
			buf = tree.summarize(0, yi, thetaSq, buf[:0])
			force := negF[i*d : (i+1)*d]
			for _, s := range buf {
				q := degreesOfFreedom / (degreesOfFreedom + s.dist2)
				if degreesOfFreedom != 1 {
					q = math.Pow(q, exponent)
				}
				rowSumQ[i] += s.size * q
				mult := s.size * q * q
				for ax := 0; ax < d; ax++ {
					force[ax] += mult * s.delta[ax]
				}
			}
		}
		return nil
	})
	if err != nil {
		return 0, nil, err
	}
	sumQ := floats.Sum(rowSumQ)
	progress(ctx, verbose, 11, "Computed negative gradient", "elapsed", time.Since(started))

	posF := make([]float64, n*d)
	rowError := make([]float64, n)

	started = time.Now()
	err = forEachRowRange(ctx, n, workers, func(ctx context.Context, start, end int) error {
		buff := make([]float64, d)
		for i := start; i < end; i++ {
			if err := ctx.Err(); err != nil {
				return err
			}
			yi := params[i*d : (i+1)*d]
			force := posF[i*d : (i+1)*d]
			for k := P.Indptr[i]; k < P.Indptr[i+1]; k++ {
				j := P.Indices[k]
				pij := P.Data[k]
				var dij float64
				for ax := 0; ax < d; ax++ {
					buff[ax] = yi[ax] - params[j*d+ax]
					dij += buff[ax] * buff[ax]
				}
				qij := degreesOfFreedom / (degreesOfFreedom + dij)
				if degreesOfFreedom != 1 {
					qij = math.Pow(qij, exponent)
				}
				if computeError {
					q := qij / sumQ
					rowError[i] += pij * math.Log(math.Max(pij, float32Tiny)/math.Max(q, float32Tiny))
				}
				mult := pij * qij
				for ax := 0; ax < d; ax++ {
					force[ax] += mult * buff[ax]
				}
			}
		}
		return nil
	})
	if err != nil {
		return 0, nil, err
	}
	progress(ctx, verbose, 11, "Computed positive gradient", "elapsed", time.Since(started))

	grad := make([]float64, n*d)
	c := 2 * (degreesOfFreedom + 1) / degreesOfFreedom
	for i := max(skipNumPoints, 0) * d; i < n*d; i++ {
		grad[i] = c * (posF[i] - negF[i]/sumQ)
	}

	kl := math.NaN()
	if computeError {
		kl = floats.Sum(rowError)
	}
	return kl, grad, nil
}
