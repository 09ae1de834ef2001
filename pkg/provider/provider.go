// Package provider defines how the rating service sources its configuration
// data: flows, rules, field mappings, external systems, and lookup tables.
// Two implementations ship in this package, a plain in-memory store and a
// YAML directory store with hot reload.
package provider

import (
	"context"
	"time"

	"github.com/rately/ratecore/pkg/domain"
)

// FlowProvider resolves the step flow for a product line.
type FlowProvider interface {
	Flow(ctx context.Context, productLineCode string) (*domain.Flow, error)
}

// RuleProvider supplies rule definitions per product line and phase.
type RuleProvider interface {
	RulesForPhase(ctx context.Context, productLineCode, phase string) ([]domain.Rule, error)
}

// MappingProvider resolves the active mapping definition for a product line
// and direction. Only active mappings are returned.
type MappingProvider interface {
	Mapping(ctx context.Context, productLineCode, direction string) (*domain.MappingDefinition, error)
}

// SystemProvider resolves external system definitions by code.
type SystemProvider interface {
	System(ctx context.Context, code string) (domain.System, error)
}

// LookupProvider answers key lookups against named reference tables. The
// second return reports whether the key was found; a missing key is not an
// error.
type LookupProvider interface {
	Lookup(ctx context.Context, table, key string) (any, bool, error)
}

// Event is one business event emitted by a publish_event step.
type Event struct {
	Type          string         `json:"type"`
	CorrelationID string         `json:"correlationId"`
	ProductLine   string         `json:"productLine"`
	Payload       map[string]any `json:"payload,omitempty"`
	Timestamp     time.Time      `json:"timestamp"`
}

// EventSink delivers events to an external consumer.
type EventSink interface {
	Publish(ctx context.Context, event Event) error
}

// Store aggregates every provider interface. The memory and file stores both
// satisfy it.
type Store interface {
	FlowProvider
	RuleProvider
	MappingProvider
	SystemProvider
	LookupProvider
}
