package dataset

import "errors"

var (
	// ErrStoreUnavailable is returned when the backing store cannot be
	// opened or reached. Callers treat it as a setup failure.
	ErrStoreUnavailable = errors.New("snapshot store unavailable")

	ErrDatasetNotFound = errors.New("dataset not found")
	ErrColumnNotFound  = errors.New("column not found")
	ErrInvalidDataset  = errors.New("invalid dataset name")
	ErrInvalidTable    = errors.New("invalid table")
	ErrInvalidValue    = errors.New("invalid value")
)
