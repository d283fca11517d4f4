package dedup

import (
	"errors"

	"github.com/SebastienMelki/notifyguard/internal/dedup/internal/domain"
	"github.com/SebastienMelki/notifyguard/internal/dedup/internal/optimizer"
)

var (
	// ErrInvalidConfig is returned when a policy configuration or update
	// fails validation. The previous configuration stays in effect.
	ErrInvalidConfig = domain.ErrInvalidConfig

	// ErrInvalidPolicy is wrapped by ErrInvalidConfig for each offending
	// policy.
	ErrInvalidPolicy = domain.ErrInvalidPolicy

	// ErrTooManyConcurrentRequests is returned when the admission limiter
	// rejects a check. Callers should retry later.
	ErrTooManyConcurrentRequests = optimizer.ErrTooManyConcurrentRequests

	// ErrBatchFailed is returned when the batch holding a check could not
	// be evaluated.
	ErrBatchFailed = optimizer.ErrBatchFailed

	// ErrInvalidComparison is returned by Compare for an unknown method or
	// a threshold outside [0,1].
	ErrInvalidComparison = domain.ErrInvalidComparison

	// ErrPolicyStore is returned when the policy store cannot load or save
	// the configuration.
	ErrPolicyStore = errors.New("policy store failure")

	// ErrPolicyFile is returned when a policy file cannot be read or parsed.
	ErrPolicyFile = errors.New("invalid policy file")
)
