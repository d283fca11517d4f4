package gateway

import "errors"

// Sentinel errors for the gateway package.
var (
	ErrInvalidBody   = errors.New("request body must be a valid JSON object")
	ErrBodyTooLarge  = errors.New("request body too large")
	ErrRateLimited   = errors.New("rate limit exceeded")
	ErrNotReady      = errors.New("service not ready")
	ErrUnexpectedAPI = errors.New("unexpected API response")
)
