package services

import "errors"

var (
	// ErrUnauthorized: the caller is not the participant the operation requires.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrNotFound: the counterpart user does not exist.
	ErrNotFound = errors.New("user not found")
	// ErrStorage: the backing store is unavailable or a query failed.
	ErrStorage = errors.New("chat storage unavailable")
	// ErrInvalidInput: empty body or malformed ids.
	ErrInvalidInput = errors.New("invalid input")
)
