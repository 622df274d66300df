package tsne

import (
	"context"
	"runtime"

	"golang.org/x/sync/errgroup"
)

// resolveWorkers maps a requested worker count to an effective one.
// Values <= 0 mean "use every CPU".
func resolveWorkers(workers int) int {
	if workers <= 0 {
		return runtime.NumCPU()
	}
	return workers
}

// forEachRowRange splits rows [0, n) into contiguous ranges, one per
// worker, and runs fn on each range concurrently. Ranges never overlap, so
// fn may write to row-indexed output without synchronization. The first
// error cancels the context passed to the remaining workers.
func forEachRowRange(ctx context.Context, n, numWorkers int, fn func(ctx context.Context, start, end int) error) error {
	if numWorkers <= 1 || n <= 1 {
		return fn(ctx, 0, n)
	}

	g, gctx := errgroup.WithContext(ctx)
	rowsPerWorker := (n + numWorkers - 1) / numWorkers

	for w := 0; w < numWorkers; w++ {
		startRow := w * rowsPerWorker
		endRow := min(startRow+rowsPerWorker, n)
		if startRow >= n {
			break
		}
		g.Go(func() error {
			return fn(gctx, startRow, endRow)
		})
	}

	return g.Wait()
}

// ComputePairwiseDistancesParallel computes the full n×n distance matrix
// using numWorkers goroutines (<= 0 means every CPU). data is flat
// row-major with n rows and dims columns. Each worker fills the upper
// triangle of its own rows and mirrors it, so the result does not depend
// on the worker count.
func ComputePairwiseDistancesParallel(ctx context.Context, data []float64, n, dims int, metric DistanceMetric, numWorkers int) ([]float64, error) {
	result := make([]float64, n*n)
	err := forEachRowRange(ctx, n, resolveWorkers(numWorkers), func(ctx context.Context, start, end int) error {
		for i := start; i < end; i++ {
			if err := ctx.Err(); err != nil {
				return err
			}
			for j := i + 1; j < n; j++ {
				d := metric.Distance(data[i*dims:(i+1)*dims], data[j*dims:(j+1)*dims])
				result[i*n+j] = d
				result[j*n+i] = d
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// squaredPairwiseDistances returns the flat n×n matrix of squared metric
// distances used for exact t-SNE on feature rows.
func squaredPairwiseDistances(ctx context.Context, data []float64, n, dims int, metric DistanceMetric, numWorkers int) ([]float64, error) {
	d, err := ComputePairwiseDistancesParallel(ctx, data, n, dims, metric, numWorkers)
	if err != nil {
		return nil, err
	}
	for i := range d {
		d[i] *= d[i]
	}
	return d, nil
}
