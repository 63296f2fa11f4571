package reconcile

import (
	"errors"
	"fmt"
)

// ErrFragmentNotFound is returned when the live document declares no slot
// for a fragment the response carried. Recoverable: the caller logs a
// warning and applies the response's remaining fragments.
var ErrFragmentNotFound = errors.New("reconcile: fragment slot not found")

// ErrUsageViolation is returned when island boundaries are misused in a
// way parsing cannot catch: a boundary whose computed identity equals an
// enclosing boundary's in the same pass, or one identity claimed twice.
// Fatal to the current navigation attempt only.
var ErrUsageViolation = errors.New("reconcile: island boundary misuse")

func usagef(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrUsageViolation, fmt.Sprintf(format, args...))
}
