package entity

import (
	"context"
	"sync"
)

// The process-wide registry of entity stores. Stores are constructed at
// startup with New, built in registration order with BuildAll, and torn down
// on shutdown with Reset. Registry mutations happen synchronously under the
// lock; no lock is held across storage I/O.
type registryState struct {
	stores map[string]*Struct
	order  []string
	bus    *Bus
}

var registry = &registryState{
	stores: make(map[string]*Struct),
	bus:    NewBus(),
}

var registryMu sync.Mutex

// reservedTables are bookkeeping tables a store may not claim.
var reservedTables = map[string]bool{
	"versions":          true,
	"schema_migrations": true,
}

// New declares a store with the given name, schema and options, and registers
// it. Constructing a second store with the same name, or declaring an invalid
// schema, is a programming error and panics with *FatalStructError.
func New(name string, schema Schema, opts Options) *Struct {
	if name == "" {
		fatalf(name, "empty store name")
	}
	if !fieldNamePattern.MatchString(name) {
		fatalf(name, "illegal store name")
	}
	if reservedTables[name] {
		fatalf(name, "reserved table name")
	}
	if err := schema.Validate(); err != nil {
		fatalf(name, "%v", err)
	}

	s := &Struct{name: name, schema: schema, opts: opts}

	registryMu.Lock()
	defer registryMu.Unlock()
	if _, dup := registry.stores[name]; dup {
		fatalf(name, "registered twice")
	}
	registry.stores[name] = s
	registry.order = append(registry.order, name)
	return s
}

// Lookup returns the store registered under name, or nil.
func Lookup(name string) *Struct {
	registryMu.Lock()
	defer registryMu.Unlock()
	return registry.stores[name]
}

// Registered returns every store in registration order.
func Registered() []*Struct {
	registryMu.Lock()
	defer registryMu.Unlock()
	out := make([]*Struct, 0, len(registry.order))
	for _, name := range registry.order {
		out = append(out, registry.stores[name])
	}
	return out
}

// BuildAll builds every registered store against the backend, in registration
// order. A storage failure stops the build and is returned; double builds
// panic via Build.
func BuildAll(ctx context.Context, backend Backend) error {
	for _, s := range Registered() {
		if err := s.Build(ctx, backend); err != nil {
			return err
		}
	}
	return nil
}

// Reset empties the registry and replaces the event bus. Intended for
// process shutdown and test teardown.
func Reset() {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry.stores = make(map[string]*Struct)
	registry.order = nil
	registry.bus = NewBus()
}

// DefaultBus returns the process-wide mutation event bus every store
// publishes to.
func DefaultBus() *Bus {
	registryMu.Lock()
	defer registryMu.Unlock()
	return registry.bus
}
