package tsne

import (
	"fmt"
	"math"
)

// KLDivergence is the exact t-SNE objective: the Kullback-Leibler divergence
// between the joint probabilities P (condensed) and the Student-t
// similarities Q of the embedding params, together with its gradient.
//
// params is the unraveled embedding (nSamples*nComponents values, row-major).
// Gradient rows for points with index below skipNumPoints are left at zero.
// When computeError is false the divergence is not evaluated and NaN is
// returned in its place.
func KLDivergence(params, P []float64, degreesOfFreedom float64, nSamples, nComponents, skipNumPoints int, computeError bool) (float64, []float64, error) {
	if err := checkObjectiveShape(params, nSamples, nComponents, degreesOfFreedom); err != nil {
		return 0, nil, err
	}
	if len(P) != CondensedLen(nSamples) {
		return 0, nil, fmt.Errorf("%w: P length %d does not match n*(n-1)/2 = %d", ErrShape, len(P), CondensedLen(nSamples))
	}

	n, d := nSamples, nComponents
	exponent := (degreesOfFreedom + 1) / -2

	// Student-t kernel on condensed pairs.
	dist := make([]float64, len(P))
	var sumDist float64
	k := 0
	for i := 0; i < n; i++ {
		yi := params[i*d : (i+1)*d]
		for j := i + 1; j < n; j++ {
			v := euclideanSumOfSquares(yi, params[j*d:(j+1)*d])
			v = math.Pow(v/degreesOfFreedom+1, exponent)
			dist[k] = v
			sumDist += v
			k++
		}
	}

	Q := make([]float64, len(P))
	for i, v := range dist {
		Q[i] = math.Max(v/(2*sumDist), MachineEpsilon)
	}

	kl := math.NaN()
	if computeError {
		kl = 0
		for i, p := range P {
			kl += p * math.Log(math.Max(p, MachineEpsilon)/Q[i])
		}
		kl *= 2
	}

	grad := make([]float64, n*d)
	c := 2 * (degreesOfFreedom + 1) / degreesOfFreedom
	for i := max(skipNumPoints, 0); i < n; i++ {
		yi := params[i*d : (i+1)*d]
		gi := grad[i*d : (i+1)*d]
		for j := 0; j < n; j++ {
			if j == i {
				continue
			}
			idx := CondensedIndex(i, j, n)
			pq := (P[idx] - Q[idx]) * dist[idx]
			yj := params[j*d : (j+1)*d]
			for ax := 0; ax < d; ax++ {
				gi[ax] += pq * (yi[ax] - yj[ax])
			}
		}
		for ax := range gi {
			gi[ax] *= c
		}
	}

	return kl, grad, nil
}

// checkObjectiveShape validates the arguments shared by both objectives.
func checkObjectiveShape(params []float64, nSamples, nComponents int, degreesOfFreedom float64) error {
	if nSamples < 2 || nComponents < 1 {
		return fmt.Errorf("%w: nSamples=%d, nComponents=%d", ErrShape, nSamples, nComponents)
	}
	if len(params) != nSamples*nComponents {
		return fmt.Errorf("%w: params length %d does not match nSamples*nComponents = %d",
			ErrShape, len(params), nSamples*nComponents)
	}
	if !(degreesOfFreedom > 0) {
		return fmt.Errorf("%w: got %v", ErrInvalidDegreesOfFreedom, degreesOfFreedom)
	}
	return nil
}
