package domain

import "errors"

var (
	ErrNotFound            = errors.New("not found")
	ErrUnauthorized        = errors.New("unauthorized")
	ErrInvalidRequest      = errors.New("invalid request")
	ErrInsufficientCredits = errors.New("insufficient credits")
	ErrQuotaExhausted      = errors.New("free generation quota exhausted")
	ErrSubscriptionExpired = errors.New("subscription expired")
	ErrProviderFailure     = errors.New("provider failure")
)
