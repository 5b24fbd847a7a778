package lifecycle

import "errors"

// Sentinel errors returned by the lifecycle package's non-FSM helpers.
var (
	ErrInvalidLeaseDuration  = errors.New("lifecycle: notify-lease-duration out of range")
	ErrJobScopedNotRenewable = errors.New("lifecycle: job-scoped subscription cannot be renewed")
	ErrAttributeIndexRange   = errors.New("lifecycle: sparse attribute index out of range")
)
