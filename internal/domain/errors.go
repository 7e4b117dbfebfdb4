package domain

import "errors"

var (
	ErrConnection    = errors.New("no reachable ledger endpoint")
	ErrTimeout       = errors.New("request deadline exceeded")
	ErrMalformedData = errors.New("malformed ledger data")
	ErrEmptyResult   = errors.New("empty result")
	ErrNotFound      = errors.New("not found")
	ErrNotTracked    = errors.New("pair not tracked")
	ErrInvalidInput  = errors.New("invalid input")
	ErrRateLimited   = errors.New("rate limited")
	ErrUnauthorized  = errors.New("unauthorized")
	ErrLockHeld      = errors.New("lock already held")
)
