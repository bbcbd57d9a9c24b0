package domain

import "errors"

var (
	// ErrNoData is returned when training is requested with no dataset
	// present. Caller-correctable: generate a dataset first.
	ErrNoData = errors.New("no data: generate a dataset first")

	// ErrNotFound is returned when a record does not exist.
	ErrNotFound = errors.New("record not found")
)
