package domain

import "errors"

var (
	ErrInvalidID        = errors.New("invalid_tax_rate_id")
	ErrInvalidLocation  = errors.New("invalid_location")
	ErrInvalidName      = errors.New("invalid_name")
	ErrInvalidRate      = errors.New("invalid_rate")
	ErrNotFound         = errors.New("tax_rate_not_found")
	ErrDuplicateRate    = errors.New("duplicate_location")
	ErrNoRateConfigured = errors.New("no_rate_for_location")
)
