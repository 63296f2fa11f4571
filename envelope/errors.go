package envelope

import (
	"errors"
	"fmt"
)

// ErrMalformed is returned when boundary markers are unbalanced, misnested,
// or carry an invalid payload. A malformed envelope aborts the navigation
// attempt that fetched it; it never corrupts committed state.
var ErrMalformed = errors.New("envelope: malformed boundary markers")

// ErrNoPartials is returned when a response fetched through a partial
// navigation carries zero fragment boundaries. This is a hard error: it
// means the target page is not partial-aware, and the attempt must leave
// the displayed document and history untouched.
var ErrNoPartials = errors.New("envelope: Found no partials in response")

func malformedf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrMalformed, fmt.Sprintf(format, args...))
}
