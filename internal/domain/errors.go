package domain

import "errors"

var (
	ErrInvalidInput        = errors.New("invalid input")
	ErrNotFound            = errors.New("not found")
	ErrUnknownReference    = errors.New("unknown payment reference")
	ErrUnauthorized        = errors.New("unauthorized")
	ErrForbidden           = errors.New("forbidden")
	ErrConflict            = errors.New("conflict")
	ErrIdempotencyRequired = errors.New("idempotency key required")
	ErrIdempotencyConflict = errors.New("idempotency key reused with different payload")
	ErrInvalidTransition   = errors.New("invalid status transition")
	ErrInvalidState        = errors.New("invalid state")
	ErrInsufficientBalance = errors.New("insufficient points balance")
	ErrInsufficientStock   = errors.New("insufficient stock")
	ErrTableAlreadyOpen    = errors.New("table already has an open tab")
	ErrExpired             = errors.New("expired")
	ErrAlreadyRedeemed     = errors.New("already redeemed")
	ErrNotOwnedByUser      = errors.New("not owned by user")
	ErrInvalidSignature    = errors.New("invalid signature")
	ErrUpstreamTransient   = errors.New("upstream transient failure")
	ErrUpstreamRejected    = errors.New("upstream rejected request")
)
