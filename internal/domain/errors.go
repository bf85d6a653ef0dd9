package domain

import "errors"

var (
	ErrNotFound           = errors.New("not found")
	ErrInvalidEvent       = errors.New("invalid storm event")
	ErrInvalidPhone       = errors.New("invalid phone number")
	ErrMissingConversion  = errors.New("converted status requires a job id and conversion date")
	ErrChannelUnavailable = errors.New("channel not configured")
	ErrInvalidStatus      = errors.New("invalid alert status")
	ErrStoreUnavailable   = errors.New("store unavailable")
)
