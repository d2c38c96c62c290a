package threatintel

import (
	"context"
	"sort"
	"sync"

	"github.com/Elara-Tanmoy/elara-mvp-final-sub005/internal/entity"
)

// Source is the uniform client interface to one threat intel provider.
// Lookup returns a report or a declared failure; the aggregator bounds it.
type Source interface {
	ID() string
	Lookup(ctx context.Context, target entity.ScanTarget) (*entity.SourceReport, error)
}

// Registry holds the source clients and their configuration.
// Configuration can be replaced at runtime, clients are fixed at startup.
type Registry struct {
	mu      sync.RWMutex
	clients map[string]Source
	configs map[string]entity.ThreatIntelSource
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{
		clients: make(map[string]Source),
		configs: make(map[string]entity.ThreatIntelSource),
	}
}

// Register adds a client with its configuration
func (r *Registry) Register(client Source, cfg entity.ThreatIntelSource) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cfg.ID = client.ID()
	r.clients[cfg.ID] = client
	r.configs[cfg.ID] = cfg
}

// Configure replaces the configuration of a registered source
func (r *Registry) Configure(cfg entity.ThreatIntelSource) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.clients[cfg.ID]; !ok {
		return false
	}
	r.configs[cfg.ID] = cfg
	return true
}

// Client returns the client for a source id
func (r *Registry) Client(id string) (Source, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.clients[id]
	return c, ok
}

// Enabled returns the enabled source configurations sorted by tier then id
func (r *Registry) Enabled() []entity.ThreatIntelSource {
	all := r.All()
	out := all[:0]
	for _, s := range all {
		if s.Enabled {
			out = append(out, s)
		}
	}
	return out
}

// All returns every source configuration sorted by tier then id
func (r *Registry) All() []entity.ThreatIntelSource {
	r.mu.RLock()
	out := make([]entity.ThreatIntelSource, 0, len(r.configs))
	for _, c := range r.configs {
		out = append(out, c)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Tier != out[j].Tier {
			return out[i].Tier < out[j].Tier
		}
		return out[i].ID < out[j].ID
	})
	return out
}
