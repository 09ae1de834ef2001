// Package domain contains the core types shared across the rating engine:
// execution contexts, orchestrator steps, rules, field mappings, and the
// registered external systems. Types here carry no behaviour beyond small
// construction and copy helpers so that the engine, handlers, and providers
// stay decoupled from each other.
package domain
