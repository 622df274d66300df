package plugin

import (
	"context"
	"fmt"
	"slices"
	"sync"
)

// Loader returns a plugin. Loaders are expected to build their plugin once
// and return the same value on every call.
type Loader func(ctx context.Context) (*Plugin, error)

var (
	entryPointsMu sync.RWMutex
	entryPoints   = make(map[string]Loader)
)

// RegisterEntryPoint makes a plugin loadable by name. It is meant to be
// called from an init function and panics if the name is already taken or
// the loader is nil.
func RegisterEntryPoint(name string, loader Loader) {
	entryPointsMu.Lock()
	defer entryPointsMu.Unlock()
	if loader == nil {
		panic("plugin: RegisterEntryPoint loader is nil")
	}
	if _, dup := entryPoints[name]; dup {
		panic("plugin: RegisterEntryPoint called twice for " + name)
	}
	entryPoints[name] = loader
}

// LoadEntryPoint loads the plugin registered under name.
func LoadEntryPoint(ctx context.Context, name string) (*Plugin, error) {
	entryPointsMu.RLock()
	loader, ok := entryPoints[name]
	entryPointsMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownEntryPoint, name)
	}
	return loader(ctx)
}

// EntryPoints returns the registered entry point names in sorted order.
func EntryPoints() []string {
	entryPointsMu.RLock()
	defer entryPointsMu.RUnlock()
	names := make([]string, 0, len(entryPoints))
	for name := range entryPoints {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}
