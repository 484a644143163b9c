package pipeline

import (
	"fmt"

	"lead-status-sync/internal/connector"
	"lead-status-sync/internal/models"
	"lead-status-sync/internal/resolver"
)

// Resolver turns a raw feed mapping into status records, reporting malformed
// payloads separately so one bad document never poisons the batch.
type Resolver interface {
	Resolve(raw models.RawFeeds) ([]models.StatusRecord, []resolver.ParseError)
}

// ConnectorFactory builds a provider connector for one source configuration.
type ConnectorFactory func(cfg models.SourceConfig) (connector.Connector, error)

// ResolverFactory builds a resolver stamped for one configuration and run.
type ResolverFactory func(cfg models.SourceConfig, executionID string) Resolver

type registration struct {
	newConnector ConnectorFactory
	newResolver  ResolverFactory
}

// Registry maps a source system-type tag to its connector and resolver
// factories. Lookups happen at configuration-load time, keeping source systems
// pluggable without type-name branching in the runner.
type Registry struct {
	entries map[string]registration
}

func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]registration)}
}

// Register binds factories to a system type. Later registrations replace
// earlier ones.
func (r *Registry) Register(systemType string, cf ConnectorFactory, rf ResolverFactory) {
	if systemType == "" || cf == nil || rf == nil {
		return
	}
	r.entries[systemType] = registration{newConnector: cf, newResolver: rf}
}

func (r *Registry) lookup(systemType string) (registration, error) {
	reg, ok := r.entries[systemType]
	if !ok {
		return registration{}, fmt.Errorf("unsupported system type: %s", systemType)
	}
	return reg, nil
}
