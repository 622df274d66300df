// Package pluginsetup declares the q2-tsne plugin: its manifest, the Go
// functions behind each method and the "q2-tsne" entry point.
//
// Importing the package for its side effect registers the entry point:
//
//	import _ "github.com/azhang30/q2-tsne/pluginsetup"
//
//	p, err := plugin.LoadEntryPoint(ctx, "q2-tsne")
package pluginsetup

import (
	"context"
	_ "embed"
	"sync"

	"github.com/azhang30/q2-tsne/plugin"
)

// EntryPoint is the name the plugin is registered under.
const EntryPoint = "q2-tsne"

//go:embed plugin.hcl
var manifestSrc []byte

var (
	buildOnce sync.Once
	built     *plugin.Plugin
	buildErr  error
)

func init() {
	plugin.RegisterEntryPoint(EntryPoint, Plugin)
}

// Plugin returns the q2-tsne plugin. It is built on the first call; later
// calls return the same value.
func Plugin(ctx context.Context) (*plugin.Plugin, error) {
	buildOnce.Do(func() {
		built, buildErr = build(ctx, manifestSrc)
	})
	return built, buildErr
}

func build(ctx context.Context, src []byte) (*plugin.Plugin, error) {
	m, err := plugin.ParseManifest(src, "plugin.hcl")
	if err != nil {
		return nil, err
	}
	b := plugin.NewBuilder(m)
	register(b)
	return b.Build(ctx)
}

// register binds every method function.
func register(b *plugin.Builder) {
	plugin.RegisterFunction(b, "joint_probabilities", jointProbabilities)
	plugin.RegisterFunction(b, "kl_divergence", klDivergence)
	plugin.RegisterFunction(b, "kl_divergence_bh", klDivergenceBH)
	plugin.RegisterFunction(b, "tsne", embed)
}
