package tsne

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"testing"
)

// threeBlobs returns 3*perCluster points in dims dimensions around three
// well-separated centres, with their cluster labels.
func threeBlobs(perCluster, dims int) ([][]float64, []int) {
	rng := rand.New(rand.NewSource(42))
	var data [][]float64
	var labels []int
	for c := 0; c < 3; c++ {
		for i := 0; i < perCluster; i++ {
			row := make([]float64, dims)
			for j := range row {
				row[j] = float64(c*20) + rng.NormFloat64()
			}
			data = append(data, row)
			labels = append(labels, c)
		}
	}
	return data, labels
}

// separation returns mean inter-cluster over mean intra-cluster distance.
func separation(emb [][]float64, labels []int) float64 {
	var intra, inter float64
	var nIntra, nInter int
	for i := range emb {
		for j := i + 1; j < len(emb); j++ {
			d := EuclideanMetric{}.Distance(emb[i], emb[j])
			if labels[i] == labels[j] {
				intra += d
				nIntra++
			} else {
				inter += d
				nInter++
			}
		}
	}
	return (inter / float64(nInter)) / (intra / float64(nIntra))
}

func seed(v uint64) *uint64 { return &v }

func TestEmbed_SeparatesClusters(t *testing.T) {
	data, labels := threeBlobs(20, 5)
	for _, method := range []Method{MethodBarnesHut, MethodExact} {
		t.Run(string(method), func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.Perplexity = 10
			cfg.NIter = 500
			cfg.Method = method
			cfg.RandomState = seed(0)

			res, err := Embed(context.Background(), data, cfg)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if len(res.Embedding) != len(data) {
				t.Fatalf("embedding has %d rows, want %d", len(res.Embedding), len(data))
			}
			for i, row := range res.Embedding {
				if len(row) != 2 {
					t.Fatalf("row %d has %d components", i, len(row))
				}
				for _, v := range row {
					if math.IsNaN(v) || math.IsInf(v, 0) {
						t.Fatalf("row %d is not finite: %v", i, row)
					}
				}
			}
			if s := separation(res.Embedding, labels); s < 3 {
				t.Errorf("inter/intra distance ratio = %v, want clusters to separate", s)
			}
			if res.KLDivergence < 0 || math.IsNaN(res.KLDivergence) {
				t.Errorf("KL divergence = %v", res.KLDivergence)
			}
			if res.NIter < explorationIters || res.NIter >= cfg.NIter {
				t.Errorf("NIter = %d, want in [%d, %d)", res.NIter, explorationIters, cfg.NIter)
			}
		})
	}
}

func TestEmbed_Reproducible(t *testing.T) {
	data, _ := threeBlobs(10, 3)
	cfg := DefaultConfig()
	cfg.Perplexity = 5
	cfg.NIter = 300
	cfg.RandomState = seed(123)

	cfg.Workers = 1
	a, err := Embed(context.Background(), data, cfg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	cfg.Workers = 4
	b, err := Embed(context.Background(), data, cfg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for i := range a.Embedding {
		for c := range a.Embedding[i] {
			if a.Embedding[i][c] != b.Embedding[i][c] {
				t.Fatalf("embedding[%d][%d] differs: %v vs %v", i, c, a.Embedding[i][c], b.Embedding[i][c])
			}
		}
	}
}

func TestEmbed_PCAInit(t *testing.T) {
	data, labels := threeBlobs(15, 4)
	cfg := DefaultConfig()
	cfg.Perplexity = 8
	cfg.NIter = 400
	cfg.Init = InitPCA
	cfg.NComponents = 3

	res, err := Embed(context.Background(), data, cfg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(res.Embedding[0]) != 3 {
		t.Errorf("expected 3 components, got %d", len(res.Embedding[0]))
	}
	if s := separation(res.Embedding, labels); s < 3 {
		t.Errorf("inter/intra distance ratio = %v", s)
	}
}

func TestEmbed_AutoLearningRate(t *testing.T) {
	data, _ := threeBlobs(5, 2)
	cfg := DefaultConfig()
	cfg.Perplexity = 3
	cfg.NIter = 250
	cfg.LearningRate = 0
	cfg.RandomState = seed(1)

	res, err := Embed(context.Background(), data, cfg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.LearningRate != 50 {
		t.Errorf("LearningRate = %v, want 50 for a small dataset", res.LearningRate)
	}
}

func TestEmbedPrecomputed_MatchesFeatureInput(t *testing.T) {
	data, _ := threeBlobs(8, 3)
	n := len(data)
	flat := make([]float64, 0, n*3)
	for _, row := range data {
		flat = append(flat, row...)
	}
	// Feature input calibrates on squared Euclidean distances, so the
	// matrix must hold them too.
	dm, err := squaredPairwiseDistances(context.Background(), flat, n, 3, EuclideanMetric{}, 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	for _, method := range []Method{MethodBarnesHut, MethodExact} {
		cfg := DefaultConfig()
		cfg.Perplexity = 5
		cfg.NIter = 300
		cfg.Method = method
		cfg.RandomState = seed(9)

		fromData, err := Embed(context.Background(), data, cfg)
		if err != nil {
			t.Fatalf("%s: unexpected error: %v", method, err)
		}
		fromMatrix, err := EmbedPrecomputed(context.Background(), dm, n, cfg)
		if err != nil {
			t.Fatalf("%s: unexpected error: %v", method, err)
		}
		for i := range fromData.Embedding {
			for c := range fromData.Embedding[i] {
				if !almostEqual(fromData.Embedding[i][c], fromMatrix.Embedding[i][c], 1e-4) {
					t.Fatalf("%s: embedding[%d][%d] = %v from data, %v from matrix",
						method, i, c, fromData.Embedding[i][c], fromMatrix.Embedding[i][c])
				}
			}
		}
	}
}

func TestEmbedPrecomputed_PCAInitUsesPrincipalCoordinates(t *testing.T) {
	data, labels := threeBlobs(10, 3)
	n := len(data)
	flat := make([]float64, 0, n*3)
	for _, row := range data {
		flat = append(flat, row...)
	}
	dm := pairwiseDistances(flat, n, 3, EuclideanMetric{})

	cfg := DefaultConfig()
	cfg.Perplexity = 5
	cfg.NIter = 300
	cfg.Init = InitPCA
	res, err := EmbedPrecomputed(context.Background(), dm, n, cfg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s := separation(res.Embedding, labels); s < 3 {
		t.Errorf("inter/intra distance ratio = %v", s)
	}
}

func TestEmbed_InitEmbedding(t *testing.T) {
	data, _ := threeBlobs(5, 2)
	start := make([][]float64, len(data))
	for i := range start {
		start[i] = []float64{float64(i) * 1e-4, 0}
	}
	cfg := DefaultConfig()
	cfg.Perplexity = 3
	cfg.NIter = 250
	cfg.InitEmbedding = start
	if _, err := Embed(context.Background(), data, cfg); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	cfg.InitEmbedding = start[:3]
	if _, err := Embed(context.Background(), data, cfg); !errors.Is(err, ErrShape) {
		t.Errorf("expected ErrShape, got %v", err)
	}
}

func TestEmbed_Cancelled(t *testing.T) {
	data, _ := threeBlobs(10, 2)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	cfg := DefaultConfig()
	cfg.Perplexity = 5
	if _, err := Embed(ctx, data, cfg); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestEmbed_Empty(t *testing.T) {
	res, err := Embed(context.Background(), nil, DefaultConfig())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(res.Embedding) != 0 {
		t.Errorf("expected empty embedding, got %d rows", len(res.Embedding))
	}
}

func TestEmbed_InputErrors(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Perplexity = 1
	if _, err := Embed(context.Background(), [][]float64{{1, 2}, {3}, {4, 5}}, cfg); !errors.Is(err, ErrShape) {
		t.Errorf("ragged: expected ErrShape, got %v", err)
	}
	if _, err := Embed(context.Background(), [][]float64{{1, 2}, {math.NaN(), 3}, {4, 5}}, cfg); !errors.Is(err, ErrNonFinite) {
		t.Errorf("nan: expected ErrNonFinite, got %v", err)
	}
	if _, err := EmbedPrecomputed(context.Background(), []float64{0, 1, 1}, 2, cfg); !errors.Is(err, ErrShape) {
		t.Errorf("matrix length: expected ErrShape, got %v", err)
	}
	if _, err := EmbedPrecomputed(context.Background(), []float64{0, -1, -1, 0}, 2, cfg); !errors.Is(err, ErrNegativeDistance) {
		t.Errorf("negative: expected ErrNegativeDistance, got %v", err)
	}
}

func TestValidateConfig(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
		n      int
		want   error
	}{
		{"defaults", func(*Config) {}, 100, nil},
		{"zero components", func(c *Config) { c.NComponents = 0 }, 100, ErrInvalidConfig},
		{"zero perplexity", func(c *Config) { c.Perplexity = 0 }, 100, ErrInvalidPerplexity},
		{"perplexity at n", func(c *Config) { c.Perplexity = 100 }, 100, ErrInvalidPerplexity},
		{"exaggeration below one", func(c *Config) { c.EarlyExaggeration = 0.5 }, 100, ErrInvalidConfig},
		{"negative learning rate", func(c *Config) { c.LearningRate = -1 }, 100, ErrInvalidConfig},
		{"too few iterations", func(c *Config) { c.NIter = 249 }, 100, ErrInvalidConfig},
		{"negative patience", func(c *Config) { c.NIterWithoutProgress = -1 }, 100, ErrInvalidConfig},
		{"negative grad norm", func(c *Config) { c.MinGradNorm = -1 }, 100, ErrInvalidConfig},
		{"four components barnes-hut", func(c *Config) { c.NComponents = 4 }, 100, ErrTooManyComponents},
		{"four components exact", func(c *Config) { c.NComponents = 4; c.Method = MethodExact }, 100, nil},
		{"unknown method", func(c *Config) { c.Method = "fast" }, 100, ErrInvalidConfig},
		{"angle above one", func(c *Config) { c.Angle = 1.5 }, 100, ErrInvalidAngle},
		{"unknown init", func(c *Config) { c.Init = "spectral" }, 100, ErrInvalidConfig},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modify(&cfg)
			err := validateConfig(&cfg, tt.n)
			if tt.want == nil {
				if err != nil {
					t.Errorf("unexpected error: %v", err)
				}
				return
			}
			if !errors.Is(err, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, err)
			}
		})
	}
}
