package domain

import "errors"

var (
	ErrNotFound       = errors.New("not found")
	ErrStalePosition  = errors.New("position no longer exists on-chain")
	ErrInvalidTrigger = errors.New("invalid trigger")
	ErrNoPrice        = errors.New("price unavailable")
	ErrNotDelegated   = errors.New("operation not permitted by delegation")
	ErrRateLimited    = errors.New("rate limited")
	ErrContextDone    = errors.New("context cancelled")
)
