package intake

import (
	"errors"

	"github.com/docintake/backend/internal/slots"
)

var (
	// ErrUnauthenticated is returned when a gated operation is attempted
	// without a session. The login redirect has already been requested.
	ErrUnauthenticated = errors.New("authentication required")
	// ErrClosed is returned by every operation after Teardown.
	ErrClosed = errors.New("intake controller closed")
)

// CapacityExceededError is raised when a batch arrives at a full slot set.
type CapacityExceededError = slots.CapacityExceededError
