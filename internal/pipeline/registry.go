package pipeline

import (
	"fmt"
	"sort"
	"sync"

	"pairflow/logger"
)

// Registry holds one pipeline per configured pair.
type Registry struct {
	mu        sync.RWMutex
	pipelines map[string]*Pipeline
}

func NewRegistry() *Registry {
	return &Registry{pipelines: make(map[string]*Pipeline)}
}

// Build creates a registry with a pipeline per spec. strategies may carry a
// per-pair override; pairs without one use def.
func Build(specs []Spec, def Strategy, strategies map[string]Strategy, log *logger.Log) (*Registry, error) {
	r := NewRegistry()
	for _, spec := range specs {
		st, ok := strategies[spec.ID]
		if !ok {
			st = def
		}
		p, err := New(spec, st, log)
		if err != nil {
			return nil, err
		}
		if err := r.Add(p); err != nil {
			return nil, err
		}
	}
	return r, nil
}

func (r *Registry) Add(p *Pipeline) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.pipelines[p.ID()]; ok {
		return fmt.Errorf("duplicate pair id %s", p.ID())
	}
	r.pipelines[p.ID()] = p
	return nil
}

func (r *Registry) Get(id string) (*Pipeline, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.pipelines[id]
	return p, ok
}

// IDs returns the registered pair ids in sorted order.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.pipelines))
	for id := range r.pipelines {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.pipelines)
}
