package domain

import "errors"

var (
	// ErrKeyNotFound is returned when no key record has the given ID.
	ErrKeyNotFound = errors.New("api key not found")

	// ErrEmptyClientID is returned when a key is requested without a client.
	ErrEmptyClientID = errors.New("client_id is required")
)
