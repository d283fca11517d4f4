package nats

import "errors"

// Sentinel errors for the nats package.
var (
	ErrNotConnected     = errors.New("NATS is not connected")
	ErrMalformedMessage = errors.New("malformed notification payload")
	ErrPublishFailed    = errors.New("failed to publish notification")
	ErrRelayStopped     = errors.New("relay already stopped")
)
