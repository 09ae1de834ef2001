package domain

import "errors"

// Common domain errors
var (
	ErrFlowNotFound     = errors.New("flow not found")
	ErrEmptyFlow        = errors.New("flow has no active steps")
	ErrMappingNotFound  = errors.New("mapping definition not found")
	ErrSystemNotFound   = errors.New("system not found")
	ErrTableNotFound    = errors.New("lookup table not found")
	ErrRulesUnavailable = errors.New("rule provider unavailable")
	ErrConfigInvalid    = errors.New("invalid configuration")
)
