// Package registry provides the global connector registry. Platform
// packages register factories from init so importing a platform package
// makes its connector available by name.
package registry

import (
	"sort"
	"sync"

	"github.com/ideagen/harvester/pkg/config"
	"github.com/ideagen/harvester/pkg/connector/core"
	"github.com/ideagen/harvester/pkg/errors"
)

// AdapterFactory creates a platform adapter from its configuration.
type AdapterFactory func(cfg *config.ConnectorConfig) (core.SourceAdapter, error)

// AdapterInfo describes one registered connector.
type AdapterInfo struct {
	Name        string
	Description string
}

type entry struct {
	factory     AdapterFactory
	description string
}

type registry struct {
	mu      sync.RWMutex
	entries map[string]entry
}

var global = &registry{entries: make(map[string]entry)}

// RegisterAdapter registers a factory under a platform name. Registering
// a duplicate name panics, since registration happens from init.
func RegisterAdapter(name, description string, factory AdapterFactory) {
	global.mu.Lock()
	defer global.mu.Unlock()

	if _, exists := global.entries[name]; exists {
		panic("connector already registered: " + name)
	}
	global.entries[name] = entry{factory: factory, description: description}
}

// CreateAdapter instantiates the named platform adapter.
func CreateAdapter(name string, cfg *config.ConnectorConfig) (core.SourceAdapter, error) {
	global.mu.RLock()
	e, ok := global.entries[name]
	global.mu.RUnlock()

	if !ok {
		return nil, errors.New(errors.ErrorTypeConfig, "unknown connector").
			WithDetail("platform", name)
	}
	return e.factory(cfg)
}

// ListAdapters returns the registered connectors sorted by name.
func ListAdapters() []AdapterInfo {
	global.mu.RLock()
	defer global.mu.RUnlock()

	infos := make([]AdapterInfo, 0, len(global.entries))
	for name, e := range global.entries {
		infos = append(infos, AdapterInfo{Name: name, Description: e.description})
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })
	return infos
}
