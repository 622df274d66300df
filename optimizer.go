package tsne

import (
	"context"
	"math"
	"time"

	"gonum.org/v1/gonum/floats"
)

const (
	// explorationIters is the length of the early-exaggeration phase.
	explorationIters = 250
	// checkEvery is how often the error is evaluated for convergence.
	checkEvery = 50
	minGain    = 0.01
)

// objective evaluates the divergence (when computeError is set) and its
// gradient at p.
type objective func(ctx context.Context, p []float64, computeError bool) (float64, []float64, error)

// descentParams configures one gradient-descent phase.
type descentParams struct {
	it                   int // first iteration number
	nIter                int // iteration number to stop before
	nIterWithoutProgress int
	momentum             float64
	learningRate         float64
	minGradNorm          float64
	verbose              int
}

// gradientDescent runs batch gradient descent with momentum and adaptive
// per-parameter gains, updating p in place. It returns the last evaluated
// error and the last iteration number.
func gradientDescent(ctx context.Context, obj objective, p []float64, dp descentParams) (float64, int, error) {
	update := make([]float64, len(p))
	gains := make([]float64, len(p))
	for i := range gains {
		gains[i] = 1
	}

	errVal := math.MaxFloat64
	bestError := math.MaxFloat64
	bestIter := dp.it
	i := dp.it
	tic := time.Now()

	for i = dp.it; i < dp.nIter; i++ {
		if err := ctx.Err(); err != nil {
			return errVal, i, err
		}
		checkConvergence := (i+1)%checkEvery == 0
		computeError := checkConvergence || i == dp.nIter-1

		e, grad, err := obj(ctx, p, computeError)
		if err != nil {
			return errVal, i, err
		}
		if computeError {
			errVal = e
		}

		for k := range grad {
			if update[k]*grad[k] < 0 {
				gains[k] += 0.2
			} else {
				gains[k] *= 0.8
			}
			gains[k] = math.Max(gains[k], minGain)
			grad[k] *= gains[k]
			update[k] = dp.momentum*update[k] - dp.learningRate*grad[k]
		}
		floats.Add(p, update)

		if !checkConvergence {
			continue
		}
		gradNorm := floats.Norm(grad, 2)
		progress(ctx, dp.verbose, 2, "Iteration",
			"iteration", i+1, "error", errVal, "grad_norm", gradNorm,
			"iterations", checkEvery, "elapsed", time.Since(tic))
		tic = time.Now()

		if errVal < bestError {
			bestError = errVal
			bestIter = i
		} else if i-bestIter > dp.nIterWithoutProgress {
			progress(ctx, dp.verbose, 2, "Did not make any progress during the last iterations",
				"iteration", i+1, "iterations_without_progress", dp.nIterWithoutProgress)
			break
		}
		if gradNorm <= dp.minGradNorm {
			progress(ctx, dp.verbose, 2, "Gradient norm below threshold",
				"iteration", i+1, "grad_norm", gradNorm)
			break
		}
	}

	if i == dp.nIter {
		i = dp.nIter - 1
	}
	return errVal, i, nil
}
