package archive

import "errors"

var (
	// ErrNoRowsToWrite is returned when asked to encode an empty batch.
	ErrNoRowsToWrite = errors.New("no rows to write")

	// ErrArchiverStopped is returned by Start after Stop.
	ErrArchiverStopped = errors.New("archiver stopped")
)
