package engine

import (
	"context"
	"fmt"
	"hash/fnv"
	"log/slog"
	"sort"
	"strings"

	"github.com/rately/ratecore/pkg/domain"
)

// Simulator produces deterministic responses for simulated external systems.
// A system is simulated when it is flagged as mock or has no base URL; the
// call handlers route such systems here instead of the network. Responses
// depend only on the system and payload so repeated simulations of the same
// request always agree.
type Simulator struct {
	logger *slog.Logger
}

// NewSimulator creates a deterministic system simulator.
func NewSimulator(logger *slog.Logger) *Simulator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Simulator{logger: logger}
}

// Call simulates one request against an external system and returns the
// canned response body.
func (s *Simulator) Call(ctx context.Context, system domain.System, path string, payload map[string]any) (map[string]any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.logger.Debug("simulating external call",
		"system", system.Code,
		"path", path,
	)

	switch {
	case isRatingCall(system, path):
		return s.ratingResponse(payload), nil
	case strings.Contains(strings.ToLower(system.Code), "enrich"):
		return map[string]any{
			"data":      map[string]any{"source": system.Code, "found": true},
			"simulated": true,
		}, nil
	default:
		return map[string]any{
			"status":    "ok",
			"system":    system.Code,
			"simulated": true,
		}, nil
	}
}

// ratingResponse derives a stable premium from the payload contents so
// simulations are repeatable but still vary across requests.
func (s *Simulator) ratingResponse(payload map[string]any) map[string]any {
	base := 500.0 + float64(payloadFingerprint(payload)%1500)
	return map[string]any{
		"premium":  base,
		"currency": "USD",
		"factors": map[string]any{
			"base":   base,
			"loaded": base,
		},
		"simulated": true,
	}
}

// payloadFingerprint hashes the payload's top-level entries in key order.
func payloadFingerprint(payload map[string]any) uint64 {
	keys := make([]string, 0, len(payload))
	for k := range payload {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	h := fnv.New64a()
	for _, k := range keys {
		fmt.Fprintf(h, "%s=%v;", k, payload[k])
	}
	return h.Sum64()
}

func isRatingCall(system domain.System, path string) bool {
	code := strings.ToLower(system.Code)
	return strings.Contains(code, "rating") || strings.Contains(code, "rate") ||
		strings.Contains(strings.ToLower(path), "rate")
}
