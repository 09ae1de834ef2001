package provider

import (
	"context"
	"sync"

	"github.com/rately/ratecore/pkg/domain"
)

// MemoryStore is a thread-safe in-memory Store. It backs tests, the
// simulator, and the file store's loaded snapshot.
type MemoryStore struct {
	mu       sync.RWMutex
	flows    map[string]*domain.Flow
	rules    []domain.Rule
	mappings []domain.MappingDefinition
	systems  map[string]domain.System
	lookups  map[string]map[string]any
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		flows:   make(map[string]*domain.Flow),
		systems: make(map[string]domain.System),
		lookups: make(map[string]map[string]any),
	}
}

// PutFlow stores or replaces the flow for its product line.
func (s *MemoryStore) PutFlow(flow *domain.Flow) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.flows[flow.ProductLineCode] = flow
}

// PutRules appends rule definitions, preserving insertion order.
func (s *MemoryStore) PutRules(rules ...domain.Rule) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rules = append(s.rules, rules...)
}

// PutMapping appends a mapping definition.
func (s *MemoryStore) PutMapping(mapping domain.MappingDefinition) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mappings = append(s.mappings, mapping)
}

// PutSystem stores or replaces a system definition.
func (s *MemoryStore) PutSystem(system domain.System) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.systems[system.Code] = system
}

// PutLookupTable stores or replaces a whole lookup table.
func (s *MemoryStore) PutLookupTable(table string, entries map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lookups[table] = entries
}

// Flow implements FlowProvider.
func (s *MemoryStore) Flow(_ context.Context, productLineCode string) (*domain.Flow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	flow, ok := s.flows[productLineCode]
	if !ok {
		return nil, domain.ErrFlowNotFound
	}
	return flow, nil
}

// RulesForPhase implements RuleProvider. Rules come back in insertion order;
// the rule engine owns priority sorting.
func (s *MemoryStore) RulesForPhase(_ context.Context, productLineCode, phase string) ([]domain.Rule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Rule, 0)
	for _, rule := range s.rules {
		if rule.ProductLineCode == productLineCode && rule.Phase == phase {
			out = append(out, rule)
		}
	}
	return out, nil
}

// Mapping implements MappingProvider. An active definition wins; without one
// the first draft for the product line and direction is resolved.
func (s *MemoryStore) Mapping(_ context.Context, productLineCode, direction string) (*domain.MappingDefinition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var draft *domain.MappingDefinition
	for i := range s.mappings {
		m := &s.mappings[i]
		if m.ProductLineCode != productLineCode || m.Direction != direction {
			continue
		}
		switch m.Status {
		case domain.MappingActive:
			return m, nil
		case domain.MappingDraft:
			if draft == nil {
				draft = m
			}
		}
	}
	if draft != nil {
		return draft, nil
	}
	return nil, domain.ErrMappingNotFound
}

// System implements SystemProvider.
func (s *MemoryStore) System(_ context.Context, code string) (domain.System, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	system, ok := s.systems[code]
	if !ok {
		return domain.System{}, domain.ErrSystemNotFound
	}
	return system, nil
}

// Lookup implements LookupProvider.
func (s *MemoryStore) Lookup(_ context.Context, table, key string) (any, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entries, ok := s.lookups[table]
	if !ok {
		return nil, false, domain.ErrTableNotFound
	}
	value, ok := entries[key]
	return value, ok, nil
}

// Replace swaps the entire store contents in one step. The file store uses
// it to commit a freshly parsed snapshot atomically.
func (s *MemoryStore) Replace(from *MemoryStore) {
	from.mu.RLock()
	flows := from.flows
	rules := from.rules
	mappings := from.mappings
	systems := from.systems
	lookups := from.lookups
	from.mu.RUnlock()

	s.mu.Lock()
	s.flows = flows
	s.rules = rules
	s.mappings = mappings
	s.systems = systems
	s.lookups = lookups
	s.mu.Unlock()
}
