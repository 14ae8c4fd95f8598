package domain

import "errors"

var (
	ErrNotFound          = errors.New("not found")
	ErrAlreadyExists     = errors.New("already exists")
	ErrRateLimited       = errors.New("rate limited")
	ErrUnauthorized      = errors.New("unauthorized")
	ErrInvalidOrder      = errors.New("invalid order parameters")
	ErrOrderTerminal     = errors.New("order already terminal")
	ErrOrderRejected     = errors.New("order rejected by brokerage")
	ErrBrokerUnavailable = errors.New("brokerage unavailable")
	ErrDataUnavailable   = errors.New("market data unavailable")
	ErrGuardrailDenied   = errors.New("guardrail denied")
	ErrMarketClosed      = errors.New("outside trading sessions")
	ErrLockHeld          = errors.New("lock already held")
	ErrContextDone       = errors.New("context cancelled")
)
