package domain

import "errors"

var (
	ErrNotFound        = errors.New("not found")
	ErrUnauthenticated = errors.New("unauthenticated")
	ErrInvalidPayload  = errors.New("invalid payload")
	ErrInvalidWindow   = errors.New("invalid window")
)
