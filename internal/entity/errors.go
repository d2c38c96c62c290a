package entity

import "errors"

// Scan error taxonomy. Everything except ErrConfigUnavailable and
// ErrInvalidTarget is absorbed into degraded flags on the ScanResult.
var (
	ErrSourceUnavailable  = errors.New("threat intel source unavailable")
	ErrInsufficientSignal = errors.New("insufficient stage-1 signal")
	ErrBackendUnavailable = errors.New("prediction backend unavailable")
	ErrBackendsExhausted  = errors.New("all prediction backends exhausted")
	ErrBudgetExceeded     = errors.New("latency budget exceeded")
	ErrCacheUnavailable   = errors.New("feature cache unavailable")
	ErrConfigUnavailable  = errors.New("rollout config unavailable")
	ErrInvalidTarget      = errors.New("invalid scan target")
	ErrCircuitOpen        = errors.New("circuit breaker open")
)
