// Package registry maps provider identifiers to their adapters and
// per-operation plug pipelines. Resolving (provider, operation) yields
// the pipeline the client runs a Request through.
package registry

import (
	"fmt"
	"sync"

	"github.com/exllm/exllm/pkg/pipeline"
	"github.com/exllm/exllm/pkg/provider"
)

// Operation is one of the library's request kinds.
type Operation string

const (
	OpChat       Operation = "chat"
	OpStream     Operation = "stream"
	OpEmbeddings Operation = "embeddings"
	OpListModels Operation = "list_models"
	OpCompletion Operation = "completion"
	OpValidate   Operation = "validate"
)

// Entry is one registered provider: its adapter, effective config, and
// compiled pipelines keyed by operation.
type Entry struct {
	Adapter      provider.Provider
	Config       provider.Config
	DefaultModel string
	Pipelines    map[Operation]*pipeline.Pipeline
}

// Registry is the process-wide keyed provider store. It is safe for
// concurrent use; registration after construction is allowed (user
// supplied providers).
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*Entry
}

// New returns an empty registry.
func New() *Registry {
	return &Registry{entries: make(map[string]*Entry)}
}

// Register adds or replaces the entry for id.
func (r *Registry) Register(id string, e *Entry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e.Pipelines == nil {
		e.Pipelines = make(map[Operation]*pipeline.Pipeline)
	}
	r.entries[id] = e
}

// Get looks up the entry for id.
func (r *Registry) Get(id string) (*Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[id]
	return e, ok
}

// Has reports whether id is registered.
func (r *Registry) Has(id string) bool {
	_, ok := r.Get(id)
	return ok
}

// Resolve returns the pipeline for (id, op).
func (r *Registry) Resolve(id string, op Operation) (*pipeline.Pipeline, error) {
	e, ok := r.Get(id)
	if !ok {
		return nil, fmt.Errorf("provider %q is not registered", id)
	}
	p, ok := e.Pipelines[op]
	if !ok {
		return nil, fmt.Errorf("provider %q does not support operation %q", id, op)
	}
	return p, nil
}

// SetPipeline installs the pipeline for (id, op). It returns an error if
// id is unknown.
func (r *Registry) SetPipeline(id string, op Operation, p *pipeline.Pipeline) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[id]
	if !ok {
		return fmt.Errorf("provider %q is not registered", id)
	}
	e.Pipelines[op] = p
	return nil
}

// List returns the registered provider ids.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.entries))
	for id := range r.entries {
		ids = append(ids, id)
	}
	return ids
}
