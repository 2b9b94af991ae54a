package driver

import (
	"fmt"
	"sort"
	"sync"

	"github.com/flowbridge/bridge/pkg/bridge"
)

// registration pairs a driver kind's zero-value config (for schema
// discovery and decoding) with its constructor.
type registration struct {
	name        string
	newConfig   func() any
	constructor Constructor
}

var (
	registryMu sync.RWMutex
	registry   = map[string]registration{}
)

// Register adds a driver kind under name. newConfig must return a fresh
// zero-value pointer to the driver's config struct, returned by NewConfig.
// Calling Register twice with the same
// name panics at init time rather than silently shadowing a driver — this
// mirrors how the reference drivers self-register from their own package
// init.
func Register(name string, newConfig func() any, constructor Constructor) {
	registryMu.Lock()
	defer registryMu.Unlock()
	if _, exists := registry[name]; exists {
		panic(fmt.Sprintf("driver: duplicate registration for %q", name))
	}
	registry[name] = registration{name: name, newConfig: newConfig, constructor: constructor}
}

// NewConfig returns a fresh zero-value config for the named driver kind, or
// false if the kind is unregistered.
func NewConfig(name string) (any, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	reg, ok := registry[name]
	if !ok {
		return nil, false
	}
	return reg.newConfig(), true
}

// Build constructs a driver instance of the named kind.
func Build(name, instanceID string, config any, router *bridge.Router) (Driver, error) {
	registryMu.RLock()
	reg, ok := registry[name]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("driver: unknown kind %q", name)
	}
	return reg.constructor(instanceID, config, router)
}

// Names returns every registered driver kind, sorted, for diagnostics and
// config-schema listing.
func Names() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	names := make([]string, 0, len(registry))
	for n := range registry {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
