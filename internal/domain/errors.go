package domain

import "errors"

// Sentinel errors shared across packages.
var (
	ErrNotFound     = errors.New("not found")
	ErrInvalidInput = errors.New("invalid input")
	ErrDataQuality  = errors.New("data quality check failed")
)
