package pluginsetup

import (
	"context"
	"fmt"
	"runtime"
	"slices"

	tsne "github.com/azhang30/q2-tsne"
	"github.com/azhang30/q2-tsne/artifact"
)

const (
	tsneShortName = "t-SNE"
	tsneLongName  = "t-distributed Stochastic Neighbor Embedding"
	gradShortName = "KL-grad"
	gradLongName  = "Gradient of the Kullback-Leibler divergence"
	precomputed   = "precomputed"
)

type jointProbabilitiesArgs struct {
	Distances         *artifact.DistanceMatrix `plugin:"distances"`
	DesiredPerplexity float64                  `plugin:"desired_perplexity"`
	Verbose           int                      `plugin:"verbose"`
}

type jointProbabilitiesResults struct {
	P *artifact.DistanceMatrix `plugin:"P"`
}

func jointProbabilities(ctx context.Context, a *jointProbabilitiesArgs) (*jointProbabilitiesResults, error) {
	P, err := tsne.JointProbabilities(ctx, a.Distances.Condensed, a.Distances.N(), a.DesiredPerplexity, a.Verbose)
	if err != nil {
		return nil, err
	}
	dm, err := artifact.NewDistanceMatrix(slices.Clone(a.Distances.IDs), P)
	if err != nil {
		return nil, err
	}
	return &jointProbabilitiesResults{P: dm}, nil
}

type klDivergenceArgs struct {
	Params           *artifact.OrdinationResults `plugin:"params"`
	P                *artifact.DistanceMatrix    `plugin:"P"`
	DegreesOfFreedom int                         `plugin:"degrees_of_freedom"`
	NSamples         *int                        `plugin:"n_samples"`
	NComponents      *int                        `plugin:"n_components"`
	SkipNumPoints    int                         `plugin:"skip_num_points"`
	ComputeError     bool                        `plugin:"compute_error"`
}

type klDivergenceBHArgs struct {
	Params           *artifact.OrdinationResults `plugin:"params"`
	P                *artifact.DistanceMatrix    `plugin:"P"`
	DegreesOfFreedom int                         `plugin:"degrees_of_freedom"`
	NSamples         *int                        `plugin:"n_samples"`
	NComponents      *int                        `plugin:"n_components"`
	Angle            float64                     `plugin:"angle"`
	SkipNumPoints    int                         `plugin:"skip_num_points"`
	Verbose          int                         `plugin:"verbose"`
	ComputeError     bool                        `plugin:"compute_error"`
	NumThreads       int                         `plugin:"num_threads"`
}

type klDivergenceResults struct {
	KLDivergence float64                     `plugin:"kl_divergence"`
	Grad         *artifact.OrdinationResults `plugin:"grad"`
}

func klDivergence(_ context.Context, a *klDivergenceArgs) (*klDivergenceResults, error) {
	n, d, err := embeddingShape(a.Params, a.P, a.NSamples, a.NComponents)
	if err != nil {
		return nil, err
	}
	kl, grad, err := tsne.KLDivergence(a.Params.Flat(), a.P.Condensed, float64(a.DegreesOfFreedom), n, d, a.SkipNumPoints, a.ComputeError)
	if err != nil {
		return nil, err
	}
	return gradientResults(a.Params.SampleIDs, kl, grad, d)
}

func klDivergenceBH(ctx context.Context, a *klDivergenceBHArgs) (*klDivergenceResults, error) {
	n, d, err := embeddingShape(a.Params, a.P, a.NSamples, a.NComponents)
	if err != nil {
		return nil, err
	}
	P := tsne.SparseFromCondensed(a.P.Condensed, n)
	kl, grad, err := tsne.KLDivergenceBH(ctx, a.Params.Flat(), P, float64(a.DegreesOfFreedom), n, d,
		a.Angle, a.SkipNumPoints, a.Verbose, a.ComputeError, a.NumThreads)
	if err != nil {
		return nil, err
	}
	return gradientResults(a.Params.SampleIDs, kl, grad, d)
}

// embeddingShape checks that the embedding, the joint probabilities and the
// optional explicit sizes describe the same samples.
func embeddingShape(params *artifact.OrdinationResults, P *artifact.DistanceMatrix, nSamples, nComponents *int) (int, int, error) {
	n, d := len(params.SampleIDs), params.Dims()
	if nSamples != nil && *nSamples != n {
		return 0, 0, fmt.Errorf("%w: n_samples is %d but the embedding has %d samples", tsne.ErrShape, *nSamples, n)
	}
	if nComponents != nil && *nComponents != d {
		return 0, 0, fmt.Errorf("%w: n_components is %d but the embedding has %d axes", tsne.ErrShape, *nComponents, d)
	}
	if !slices.Equal(params.SampleIDs, P.IDs) {
		return 0, 0, fmt.Errorf("%w: embedding and joint probabilities have different sample ids", tsne.ErrShape)
	}
	return n, d, nil
}

func gradientResults(ids []string, kl float64, grad []float64, d int) (*klDivergenceResults, error) {
	rows := make([][]float64, len(ids))
	for i := range rows {
		rows[i] = grad[i*d : (i+1)*d]
	}
	o, err := artifact.NewOrdination(gradShortName, gradLongName, slices.Clone(ids), rows)
	if err != nil {
		return nil, err
	}
	return &klDivergenceResults{KLDivergence: kl, Grad: o}, nil
}

type tsneArgs struct {
	X                    *artifact.DistanceMatrix `plugin:"X"`
	NComponents          int                      `plugin:"n_components"`
	Perplexity           float64                  `plugin:"perplexity"`
	EarlyExaggeration    float64                  `plugin:"early_exaggeration"`
	LearningRate         float64                  `plugin:"learning_rate"`
	NIter                int                      `plugin:"n_iter"`
	NIterWithoutProgress int                      `plugin:"n_iter_without_progress"`
	MinGradNorm          float64                  `plugin:"min_grad_norm"`
	Metric               string                   `plugin:"metric"`
	Init                 string                   `plugin:"init"`
	Verbose              int                      `plugin:"verbose"`
	RandomState          *uint64                  `plugin:"random_state"`
	Method               string                   `plugin:"method"`
	Angle                float64                  `plugin:"angle"`
	NJobs                *int                     `plugin:"n_jobs"`
}

type tsneResults struct {
	PCoA *artifact.OrdinationResults `plugin:"pcoa"`
}

// embed runs t-SNE on the matrix. With the precomputed metric the matrix
// holds distances; otherwise its rows are treated as feature vectors.
func embed(ctx context.Context, a *tsneArgs) (*tsneResults, error) {
	workers, err := resolveJobs(a.NJobs)
	if err != nil {
		return nil, err
	}
	cfg := tsne.DefaultConfig()
	cfg.NComponents = a.NComponents
	cfg.Perplexity = a.Perplexity
	cfg.EarlyExaggeration = a.EarlyExaggeration
	cfg.LearningRate = a.LearningRate
	cfg.NIter = a.NIter
	cfg.NIterWithoutProgress = a.NIterWithoutProgress
	cfg.MinGradNorm = a.MinGradNorm
	cfg.Init = tsne.Init(a.Init)
	cfg.Verbose = a.Verbose
	cfg.RandomState = a.RandomState
	cfg.Method = tsne.Method(a.Method)
	cfg.Angle = a.Angle
	cfg.Workers = workers

	var res *tsne.Result
	if a.Metric == precomputed {
		res, err = tsne.EmbedPrecomputed(ctx, a.X.Square(), a.X.N(), cfg)
	} else {
		cfg.Metric, err = tsne.MetricByName(a.Metric)
		if err != nil {
			return nil, err
		}
		res, err = tsne.Embed(ctx, a.X.Rows(), cfg)
	}
	if err != nil {
		return nil, err
	}

	o, err := artifact.NewOrdination(tsneShortName, tsneLongName, slices.Clone(a.X.IDs), res.Embedding)
	if err != nil {
		return nil, err
	}
	return &tsneResults{PCoA: o}, nil
}

// resolveJobs maps n_jobs to a worker count: null is one worker, negative
// values count back from the number of CPUs so -1 uses all of them.
func resolveJobs(nJobs *int) (int, error) {
	switch {
	case nJobs == nil:
		return 1, nil
	case *nJobs == 0:
		return 0, fmt.Errorf("%w: n_jobs must not be 0", tsne.ErrInvalidConfig)
	case *nJobs < 0:
		return max(runtime.NumCPU()+1+*nJobs, 1), nil
	}
	return *nJobs, nil
}
