package handlers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/rately/ratecore/pkg/condition"
	"github.com/rately/ratecore/pkg/domain"
	"github.com/rately/ratecore/pkg/engine/runtime"
	"github.com/rately/ratecore/pkg/fieldpath"
	"github.com/rately/ratecore/pkg/provider"
)

// EnrichHandler resolves lookup-table entries into the execution context.
// Each configured lookup reads a key from the working context and merges the
// table value at a target field; hits are also recorded in Enrichments under
// the table name. Misses are recorded in the step output but never fail the
// step.
type EnrichHandler struct {
	lookups provider.LookupProvider
	logger  *slog.Logger
}

// NewEnrichHandler creates the enrich step handler.
func NewEnrichHandler(lookups provider.LookupProvider, logger *slog.Logger) *EnrichHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &EnrichHandler{lookups: lookups, logger: logger}
}

// Type implements runtime.StepHandler.
func (h *EnrichHandler) Type() string { return "enrich" }

// Execute implements runtime.StepHandler.
func (h *EnrichHandler) Execute(ctx context.Context, ectx *domain.ExecutionContext, config map[string]any) (runtime.HandlerResult, error) {
	entries := cfgSlice(config, "lookups")
	var misses []string
	resolved := 0

	for i, raw := range entries {
		spec, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		table := cfgString(spec, "table")
		keyField := cfgString(spec, "keyField", "key_field")
		targetField := cfgString(spec, "targetField", "target_field")
		if table == "" || keyField == "" || targetField == "" {
			misses = append(misses, fmt.Sprintf("lookup %d: incomplete spec", i))
			continue
		}

		keyValue, found := fieldpath.Get(ectx.Working, keyField)
		if !found {
			misses = append(misses, fmt.Sprintf("%s: key field %q not present", table, keyField))
			continue
		}
		key := condition.Stringify(keyValue)

		value, hit, err := h.lookups.Lookup(ctx, table, key)
		if err != nil {
			if errors.Is(err, domain.ErrTableNotFound) {
				misses = append(misses, fmt.Sprintf("%s: table not found", table))
				continue
			}
			return runtime.HandlerResult{}, fmt.Errorf("lookup %s: %w", table, err)
		}
		if !hit {
			misses = append(misses, fmt.Sprintf("%s: no entry for %q", table, key))
			continue
		}

		// Object hits merge into the target subtree; scalar hits replace it.
		if obj, isMap := value.(map[string]any); isMap {
			fieldpath.Merge(ectx.Working, targetField, obj)
		} else {
			fieldpath.Set(ectx.Working, targetField, value)
		}
		ectx.Enrichments[table] = value
		resolved++
	}

	output := map[string]any{"resolved": resolved}
	if len(misses) > 0 {
		output["misses"] = misses
	}
	return runtime.Completed(output), nil
}

// Validate implements runtime.StepHandler.
func (h *EnrichHandler) Validate(config map[string]any) runtime.ValidationResult {
	var result runtime.ValidationResult
	entries := cfgSlice(config, "lookups")
	if len(entries) == 0 {
		result.Warnings = append(result.Warnings, "enrich step has no lookups configured")
	}
	for i, raw := range entries {
		spec, ok := raw.(map[string]any)
		if !ok {
			result.Errors = append(result.Errors, fmt.Sprintf("lookup %d is not an object", i))
			continue
		}
		if cfgString(spec, "table") == "" {
			result.Errors = append(result.Errors, fmt.Sprintf("lookup %d missing table", i))
		}
		if cfgString(spec, "keyField", "key_field") == "" {
			result.Errors = append(result.Errors, fmt.Sprintf("lookup %d missing keyField", i))
		}
		if cfgString(spec, "targetField", "target_field") == "" {
			result.Errors = append(result.Errors, fmt.Sprintf("lookup %d missing targetField", i))
		}
	}
	return result
}
