package tsne

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"runtime"
	"time"

	"github.com/azhang30/q2-tsne/internal/ctxlog"
)

// Method selects how the gradient of the objective is computed.
type Method string

const (
	// MethodBarnesHut approximates repulsive forces with a space-partitioning
	// tree and attractive forces over a k-nearest-neighbour graph.
	MethodBarnesHut Method = "barnes_hut"
	// MethodExact evaluates every pair; O(N²) time and memory.
	MethodExact Method = "exact"
)

// Init selects how the embedding is initialized.
type Init string

const (
	InitRandom Init = "random"
	// InitPCA uses principal components for feature data and principal
	// coordinates (classical MDS) for precomputed distances.
	InitPCA Init = "pca"
)

// Config controls t-SNE behavior.
// Start with [DefaultConfig] and override the fields you need.
type Config struct {
	// NComponents is the dimension of the embedded space. Must be >= 1,
	// and <= 3 for the Barnes-Hut method. Default: 2.
	NComponents int

	// Perplexity is the effective number of neighbours each point
	// considers. Must be > 0 and smaller than the number of samples.
	// Default: 30.
	Perplexity float64

	// EarlyExaggeration multiplies P during the first 250 iterations so
	// that natural clusters form tight, well-separated groups. Must be >= 1.
	// Default: 12.
	EarlyExaggeration float64

	// LearningRate is the gradient-descent step size. 0 selects
	// max(n/EarlyExaggeration/4, 50). Must be >= 0. Default: 200.
	LearningRate float64

	// NIter is the maximum number of iterations, exaggeration phase
	// included. Must be >= 250. Default: 1000.
	NIter int

	// NIterWithoutProgress stops the optimization after this many
	// iterations without improvement of the error, checked every 50
	// iterations. Default: 300.
	NIterWithoutProgress int

	// MinGradNorm stops the optimization when the gradient norm falls
	// below it. Default: 1e-7.
	MinGradNorm float64

	// Metric measures distances between feature vectors in Embed. Ignored
	// by EmbedPrecomputed. Default: EuclideanMetric.
	Metric DistanceMetric

	// Init selects the starting embedding. Ignored when InitEmbedding is
	// set. Default: "random".
	Init Init

	// InitEmbedding, when non-nil, is used as the starting embedding. It
	// must have one row of NComponents values per sample.
	InitEmbedding [][]float64

	// Verbose promotes progress logging from Debug to Info: 1 for phase
	// summaries, 2 for per-check iteration lines, above 10 for tree
	// timings. Default: 0.
	Verbose int

	// RandomState seeds random initialization. nil seeds from the clock.
	RandomState *uint64

	// Method selects the gradient computation. Default: "barnes_hut".
	Method Method

	// Angle is the Barnes-Hut θ in [0, 1]; smaller is more accurate and
	// slower. Only used with MethodBarnesHut. Default: 0.5.
	Angle float64

	// Workers controls the number of goroutines for distance, neighbour,
	// perplexity and Barnes-Hut gradient computations. 0 means
	// runtime.NumCPU(). Results do not depend on it.
	Workers int
}

// Result contains the output of t-SNE.
type Result struct {
	// Embedding holds one row of NComponents coordinates per sample.
	Embedding [][]float64

	// KLDivergence is the Kullback-Leibler divergence after optimization.
	KLDivergence float64

	// NIter is the number of the last iteration run.
	NIter int

	// LearningRate is the step size that was used, after resolving auto.
	LearningRate float64
}

// DefaultConfig returns a Config with reasonable defaults.
func DefaultConfig() Config {
	return Config{
		NComponents:          2,
		Perplexity:           30,
		EarlyExaggeration:    12,
		LearningRate:         200,
		NIter:                1000,
		NIterWithoutProgress: 300,
		MinGradNorm:          1e-7,
		Metric:               EuclideanMetric{},
		Init:                 InitRandom,
		Method:               MethodBarnesHut,
		Angle:                0.5,
	}
}

// applyDefaults fills in zero-valued config fields with their defaults.
func applyDefaults(cfg *Config) {
	if cfg.Metric == nil {
		cfg.Metric = EuclideanMetric{}
	}
	if cfg.Init == "" {
		cfg.Init = InitRandom
	}
	if cfg.Method == "" {
		cfg.Method = MethodBarnesHut
	}
	if cfg.Workers == 0 {
		cfg.Workers = runtime.NumCPU()
	}
}

// validateConfig checks that cfg fields are valid for n samples and returns
// a descriptive error wrapping ErrInvalidConfig if not.
func validateConfig(cfg *Config, n int) error {
	if cfg.NComponents < 1 {
		return fmt.Errorf("%w: NComponents must be >= 1, got %d", ErrInvalidConfig, cfg.NComponents)
	}
	if !(cfg.Perplexity > 0) || math.IsInf(cfg.Perplexity, 0) {
		return fmt.Errorf("%w: %w: Perplexity must be > 0, got %v", ErrInvalidConfig, ErrInvalidPerplexity, cfg.Perplexity)
	}
	if n > 0 && cfg.Perplexity >= float64(n) {
		return fmt.Errorf("%w: %w: Perplexity (%v) must be less than n_samples (%d)",
			ErrInvalidConfig, ErrInvalidPerplexity, cfg.Perplexity, n)
	}
	if !(cfg.EarlyExaggeration >= 1) {
		return fmt.Errorf("%w: EarlyExaggeration must be >= 1, got %v", ErrInvalidConfig, cfg.EarlyExaggeration)
	}
	if !(cfg.LearningRate >= 0) {
		return fmt.Errorf("%w: LearningRate must be >= 0 (0 means auto), got %v", ErrInvalidConfig, cfg.LearningRate)
	}
	if cfg.NIter < explorationIters {
		return fmt.Errorf("%w: NIter must be >= %d, got %d", ErrInvalidConfig, explorationIters, cfg.NIter)
	}
	if cfg.NIterWithoutProgress < 0 {
		return fmt.Errorf("%w: NIterWithoutProgress must be >= 0, got %d", ErrInvalidConfig, cfg.NIterWithoutProgress)
	}
	if cfg.MinGradNorm < 0 {
		return fmt.Errorf("%w: MinGradNorm must be >= 0, got %v", ErrInvalidConfig, cfg.MinGradNorm)
	}
	switch cfg.Method {
	case MethodExact:
	case MethodBarnesHut:
		if cfg.NComponents > maxTreeDims {
			return fmt.Errorf("%w: %w: NComponents should be inferior to 4 for the barnes_hut algorithm, got %d",
				ErrInvalidConfig, ErrTooManyComponents, cfg.NComponents)
		}
	default:
		return fmt.Errorf("%w: Method must be %q or %q, got %q", ErrInvalidConfig, MethodBarnesHut, MethodExact, cfg.Method)
	}
	if !(cfg.Angle >= 0 && cfg.Angle <= 1) {
		return fmt.Errorf("%w: %w: got %v", ErrInvalidConfig, ErrInvalidAngle, cfg.Angle)
	}
	switch cfg.Init {
	case InitRandom, InitPCA:
	default:
		return fmt.Errorf("%w: Init must be %q or %q, got %q", ErrInvalidConfig, InitRandom, InitPCA, cfg.Init)
	}
	if cfg.InitEmbedding != nil {
		if len(cfg.InitEmbedding) != n {
			return fmt.Errorf("%w: InitEmbedding has %d rows, want %d", ErrShape, len(cfg.InitEmbedding), n)
		}
		for i, row := range cfg.InitEmbedding {
			if len(row) != cfg.NComponents {
				return fmt.Errorf("%w: InitEmbedding row %d has %d values, want %d", ErrShape, i, len(row), cfg.NComponents)
			}
		}
	}
	return nil
}

// Embed runs t-SNE on feature vectors. Each element of data is a point;
// all points must have the same dimensionality.
func Embed(ctx context.Context, data [][]float64, cfg Config) (*Result, error) {
	applyDefaults(&cfg)
	n := len(data)
	if err := validateConfig(&cfg, n); err != nil {
		return nil, err
	}
	if n == 0 {
		return &Result{Embedding: [][]float64{}}, nil
	}

	dims := len(data[0])
	flat := make([]float64, 0, n*dims)
	for i, row := range data {
		if len(row) != dims {
			return nil, fmt.Errorf("%w: row %d has %d features, want %d", ErrShape, i, len(row), dims)
		}
		for j, v := range row {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return nil, fmt.Errorf("%w: data[%d][%d] = %v", ErrNonFinite, i, j, v)
			}
		}
		flat = append(flat, row...)
	}

	var P affinities
	var err error
	if cfg.Method == MethodExact {
		var sq []float64
		sq, err = squaredPairwiseDistances(ctx, flat, n, dims, cfg.Metric, cfg.Workers)
		if err != nil {
			return nil, err
		}
		P.dense, err = jointProbabilitiesSquare(ctx, sq, n, cfg.Perplexity, cfg.Verbose, cfg.Workers)
	} else {
		var nn *Neighbors
		nn, err = NearestNeighbors(ctx, flat, n, dims, cfg.Metric, NeighborCount(n, cfg.Perplexity), cfg.Workers)
		if err != nil {
			return nil, err
		}
		P.sparse, err = JointProbabilitiesNN(ctx, nn, cfg.Perplexity, cfg.Verbose, cfg.Workers)
	}
	if err != nil {
		return nil, err
	}

	y0, err := initialEmbedding(ctx, &cfg, n, func() ([]float64, error) {
		return pcaInit(flat, n, dims, cfg.NComponents)
	})
	if err != nil {
		return nil, err
	}
	return optimize(ctx, &cfg, P, y0, n)
}

// EmbedPrecomputed runs t-SNE on a precomputed distance matrix. distMatrix
// is a flat []float64 of length n*n in row-major order, where
// distMatrix[i*n+j] is the distance between points i and j. Distances are
// calibrated as given, so pass squared distances to reproduce the
// affinities Embed computes for EuclideanMetric. The Config.Metric field is
// ignored.
func EmbedPrecomputed(ctx context.Context, distMatrix []float64, n int, cfg Config) (*Result, error) {
	applyDefaults(&cfg)
	if err := validateConfig(&cfg, n); err != nil {
		return nil, err
	}
	if len(distMatrix) != n*n {
		return nil, fmt.Errorf("%w: distMatrix length %d does not match n*n = %d (n=%d)", ErrShape, len(distMatrix), n*n, n)
	}
	if n == 0 {
		return &Result{Embedding: [][]float64{}}, nil
	}
	if err := checkDistances(distMatrix); err != nil {
		return nil, err
	}

	var P affinities
	var err error
	if cfg.Method == MethodExact {
		P.dense, err = jointProbabilitiesSquare(ctx, distMatrix, n, cfg.Perplexity, cfg.Verbose, cfg.Workers)
	} else {
		var nn *Neighbors
		nn, err = NearestNeighborsPrecomputed(ctx, distMatrix, n, NeighborCount(n, cfg.Perplexity), cfg.Workers)
		if err != nil {
			return nil, err
		}
		P.sparse, err = JointProbabilitiesNN(ctx, nn, cfg.Perplexity, cfg.Verbose, cfg.Workers)
	}
	if err != nil {
		return nil, err
	}

	y0, err := initialEmbedding(ctx, &cfg, n, func() ([]float64, error) {
		sq := make([]float64, len(distMatrix))
		for i, d := range distMatrix {
			sq[i] = d * d
		}
		return pcoaInit(sq, n, cfg.NComponents)
	})
	if err != nil {
		return nil, err
	}
	return optimize(ctx, &cfg, P, y0, n)
}

// affinities holds P in exactly one of its two forms.
type affinities struct {
	dense  []float64     // condensed, exact method
	sparse *SparseMatrix // CSR, Barnes-Hut method
}

func (a affinities) scale(f float64) {
	for i := range a.dense {
		a.dense[i] *= f
	}
	if a.sparse != nil {
		for i := range a.sparse.Data {
			a.sparse.Data[i] *= f
		}
	}
}

// initialEmbedding returns the flat starting embedding. pca is called for
// InitPCA; a degenerate projection falls back to random initialization.
func initialEmbedding(ctx context.Context, cfg *Config, n int, pca func() ([]float64, error)) ([]float64, error) {
	k := cfg.NComponents
	if cfg.InitEmbedding != nil {
		y := make([]float64, 0, n*k)
		for _, row := range cfg.InitEmbedding {
			y = append(y, row...)
		}
		return y, nil
	}

	seed := uint64(time.Now().UnixNano())
	if cfg.RandomState != nil {
		seed = *cfg.RandomState
	}
	rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))

	if cfg.Init == InitPCA {
		y, err := pca()
		if err == nil {
			return y, nil
		}
		if !errors.Is(err, errDegenerateInit) {
			return nil, err
		}
		ctxlog.FromContext(ctx).Warn("PCA initialization is degenerate, falling back to random", "error", err)
	}
	return randomInit(rng, n, k), nil
}

// optimize runs the two optimization phases on P starting from y0.
func optimize(ctx context.Context, cfg *Config, P affinities, y0 []float64, n int) (*Result, error) {
	k := cfg.NComponents
	dof := math.Max(float64(k-1), 1)

	learningRate := cfg.LearningRate
	if learningRate == 0 {
		learningRate = math.Max(float64(n)/cfg.EarlyExaggeration/4, 50)
	}

	var obj objective
	if P.sparse != nil {
		obj = func(ctx context.Context, p []float64, computeError bool) (float64, []float64, error) {
			return KLDivergenceBH(ctx, p, P.sparse, dof, n, k, cfg.Angle, 0, cfg.Verbose, computeError, cfg.Workers)
		}
	} else {
		obj = func(_ context.Context, p []float64, computeError bool) (float64, []float64, error) {
			return KLDivergence(p, P.dense, dof, n, k, 0, computeError)
		}
	}

	dp := descentParams{
		it:                   0,
		nIter:                explorationIters,
		nIterWithoutProgress: explorationIters,
		momentum:             0.5,
		learningRate:         learningRate,
		minGradNorm:          cfg.MinGradNorm,
		verbose:              cfg.Verbose,
	}

	P.scale(cfg.EarlyExaggeration)
	kl, it, err := gradientDescent(ctx, obj, y0, dp)
	if err != nil {
		return nil, err
	}
	progress(ctx, cfg.Verbose, 1, "KL divergence after early exaggeration", "iterations", it+1, "kl_divergence", kl)
	P.scale(1 / cfg.EarlyExaggeration)

	if it+1 < cfg.NIter {
		dp.it = it + 1
		dp.nIter = cfg.NIter
		dp.momentum = 0.8
		dp.nIterWithoutProgress = cfg.NIterWithoutProgress
		kl, it, err = gradientDescent(ctx, obj, y0, dp)
		if err != nil {
			return nil, err
		}
	}
	progress(ctx, cfg.Verbose, 1, "KL divergence after optimization", "iterations", it+1, "kl_divergence", kl)

	embedding := make([][]float64, n)
	for i := range embedding {
		embedding[i] = y0[i*k : (i+1)*k : (i+1)*k]
	}
	return &Result{
		Embedding:    embedding,
		KLDivergence: kl,
		NIter:        it,
		LearningRate: learningRate,
	}, nil
}
