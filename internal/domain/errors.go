package domain

import "errors"

var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyClosed = errors.New("position already closed")
	ErrRateLimited   = errors.New("rate limited")
	ErrUnauthorized  = errors.New("unauthorized")
	ErrInvalidOrder  = errors.New("invalid order parameters")
	ErrSigningFailed = errors.New("signing failed")

	// Failure taxonomy shared by the engine loops.
	ErrTransientNetwork   = errors.New("transient network error")
	ErrSourceUnavailable  = errors.New("source unavailable")
	ErrDataIntegrity      = errors.New("data integrity error")
	ErrBalanceUnavailable = errors.New("balance unavailable")
	ErrPersistence        = errors.New("persistence error")
	ErrConnectionClosed   = errors.New("connection closed")
	ErrTradingDisabled    = errors.New("trading disabled")
)
