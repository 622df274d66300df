package cli

import (
	"bytes"
	"context"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/azhang30/q2-tsne/artifact"
	_ "github.com/azhang30/q2-tsne/pluginsetup"
)

// writeGrid writes the Euclidean distances between n points on a line,
// split into two groups, and returns the file path.
func writeGrid(t *testing.T, dir string, n int) string {
	t.Helper()
	ids := make([]string, n)
	pos := make([]float64, n)
	for i := range ids {
		ids[i] = fmt.Sprintf("s%d", i)
		pos[i] = float64(i)
		if i >= n/2 {
			pos[i] += 20
		}
	}
	var condensed []float64
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			condensed = append(condensed, math.Abs(pos[i]-pos[j]))
		}
	}
	dm, err := artifact.NewDistanceMatrix(ids, condensed)
	require.NoError(t, err)

	path := filepath.Join(dir, "dm.tsv")
	f, err := os.Create(path)
	require.NoError(t, err)
	require.NoError(t, artifact.WriteDistanceMatrix(f, dm))
	require.NoError(t, f.Close())
	return path
}

func execute(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	err := Execute(context.Background(), args, &out, &errOut)
	return out.String(), errOut.String(), err
}

func requireExitCode(t *testing.T, err error, code int) {
	t.Helper()
	require.Error(t, err)
	var exitErr *ExitError
	require.ErrorAs(t, err, &exitErr)
	assert.Equal(t, code, exitErr.Code, exitErr.Message)
}

func TestMethodsCommand(t *testing.T) {
	out, _, err := execute(t, "methods")
	require.NoError(t, err)
	assert.Contains(t, out, "tsne 0.0.1: t-SNE QIIME2 plugin")
	for _, id := range []string{"joint_probabilities", "kl_divergence", "kl_divergence_bh", "tsne"} {
		assert.Contains(t, out, id)
	}
	assert.Contains(t, out, "Barnes-Hut Kullback-Leibler divergence")
}

func TestDescribeCommand(t *testing.T) {
	out, _, err := execute(t, "describe", "tsne")
	require.NoError(t, err)
	assert.Contains(t, out, "tsne: t-SNE")
	assert.Contains(t, out, "Inputs:")
	assert.Contains(t, out, "DistanceMatrix")
	assert.Contains(t, out, "default 30")
	assert.Contains(t, out, `default "precomputed"`)
	assert.Contains(t, out, "default null")
	assert.Contains(t, out, "one of barnes_hut, exact")
	assert.Contains(t, out, "range [0, 1]")
	assert.Contains(t, out, "PCoAResults")

	_, _, err = execute(t, "describe", "umap")
	requireExitCode(t, err, ExitUsage)
}

func TestRunCommand_JointProbabilities(t *testing.T) {
	dir := t.TempDir()
	dmPath := writeGrid(t, dir, 8)
	outPath := filepath.Join(dir, "P.tsv")

	_, _, err := execute(t, "run", "joint_probabilities",
		"--input", "distances="+dmPath,
		"--param", "desired_perplexity=3",
		"--output", "P="+outPath,
		"--log-level", "warn")
	require.NoError(t, err)

	f, err := os.Open(outPath)
	require.NoError(t, err)
	defer f.Close()
	P, err := artifact.ReadDistanceMatrix(f)
	require.NoError(t, err)
	var sum float64
	for _, v := range P.Condensed {
		sum += v
	}
	assert.InDelta(t, 0.5, sum, 1e-9)
}

func TestRunCommand_KLDivergence(t *testing.T) {
	dir := t.TempDir()
	dmPath := writeGrid(t, dir, 6)
	pPath := filepath.Join(dir, "P.tsv")
	_, _, err := execute(t, "run", "joint_probabilities", "-i", "distances="+dmPath, "-p", "desired_perplexity=2", "-o", "P="+pPath)
	require.NoError(t, err)

	params := &artifact.OrdinationResults{
		ShortMethodName:     "PCoA",
		LongMethodName:      "Principal Coordinate Analysis",
		Eigvals:             []float64{1, 1},
		ProportionExplained: []float64{0.5, 0.5},
		SampleIDs:           []string{"s0", "s1", "s2", "s3", "s4", "s5"},
		Samples:             [][]float64{{0, 0}, {1, 0}, {0, 1}, {5, 5}, {6, 5}, {5, 6}},
	}
	paramsPath := filepath.Join(dir, "params.txt")
	pf, err := os.Create(paramsPath)
	require.NoError(t, err)
	require.NoError(t, artifact.WriteOrdination(pf, params))
	require.NoError(t, pf.Close())

	gradPath := filepath.Join(dir, "grad.txt")
	out, _, err := execute(t, "run", "kl_divergence",
		"-i", "params="+paramsPath, "-i", "P="+pPath, "-o", "grad="+gradPath)
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(out, "kl_divergence\t"), out)

	gf, err := os.Open(gradPath)
	require.NoError(t, err)
	defer gf.Close()
	grad, err := artifact.ReadOrdination(gf)
	require.NoError(t, err)
	assert.Equal(t, params.SampleIDs, grad.SampleIDs)
	assert.Equal(t, 2, grad.Dims())
}

func TestRunCommand_TSNEWithParamsFileAndMetrics(t *testing.T) {
	dir := t.TempDir()
	dmPath := writeGrid(t, dir, 12)
	paramsPath := filepath.Join(dir, "params.toml")
	require.NoError(t, os.WriteFile(paramsPath, []byte(`
[tsne]
perplexity = 3
n_iter = 250
random_state = 7
method = "exact"
`), 0o600))
	metricsPath := filepath.Join(dir, "tsne.prom")

	out, _, err := execute(t, "run", "tsne",
		"--input", "X="+dmPath,
		"--params-file", paramsPath,
		"--param", "init=pca",
		"--metrics-file", metricsPath,
		"--log-format", "json")
	require.NoError(t, err)
	assert.Contains(t, out, "# pcoa")
	assert.Contains(t, out, "Site\t12\t2")

	prom, err := os.ReadFile(metricsPath)
	require.NoError(t, err)
	assert.Contains(t, string(prom), `q2tsne_method_invocations_total{method="tsne",status="ok"}`)
}

func TestRunCommand_UsageErrors(t *testing.T) {
	dir := t.TempDir()
	dmPath := writeGrid(t, dir, 6)

	tests := []struct {
		name string
		args []string
		code int
	}{
		{"unknown flag", []string{"methods", "--verbose-mode"}, ExitUsage},
		{"bad log level", []string{"--log-level", "loud", "methods"}, ExitUsage},
		{"unknown method", []string{"run", "umap", "-i", "X=" + dmPath}, ExitUsage},
		{"unknown input", []string{"run", "tsne", "-i", "Y=" + dmPath}, ExitUsage},
		{"malformed input flag", []string{"run", "tsne", "-i", dmPath}, ExitUsage},
		{"unknown output", []string{"run", "tsne", "-i", "X=" + dmPath, "-o", "coords=x.txt"}, ExitUsage},
		{"invalid parameter", []string{"run", "tsne", "-i", "X=" + dmPath, "-p", "method=fast"}, ExitUsage},
		{"unknown parameter", []string{"run", "tsne", "-i", "X=" + dmPath, "-p", "seed=1"}, ExitUsage},
		{"missing input", []string{"run", "tsne", "-p", "perplexity=2"}, ExitUsage},
		{"bad params file", []string{"run", "tsne", "-i", "X=" + dmPath, "--params-file", "params.ini"}, ExitUsage},
		{"unknown plugin", []string{"--plugin", "q2-umap", "methods"}, ExitUsage},
		{"missing file", []string{"run", "tsne", "-i", "X=" + filepath.Join(dir, "nope.tsv")}, ExitFailure},
		{"method failure", []string{"run", "tsne", "-i", "X=" + dmPath}, ExitFailure},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := execute(t, tt.args...)
			requireExitCode(t, err, tt.code)
		})
	}
}

func TestRunCommand_MalformedArtifact(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.tsv")
	require.NoError(t, os.WriteFile(path, []byte("\ta\tb\na\t0\tx\nb\t1\t0\n"), 0o600))

	_, _, err := execute(t, "run", "joint_probabilities", "-i", "distances="+path)
	requireExitCode(t, err, ExitUsage)
}
