package access

import (
	"errors"
	"fmt"

	"github.com/platinummonkey/gatekeep/pkg/schema"
)

var (
	// ErrNotFound is returned for records the actor may not read. It is
	// indistinguishable from a missing record.
	ErrNotFound = errors.New("record not found")
	// ErrForbidden is returned when a write is denied
	ErrForbidden = errors.New("forbidden")
)

// ForbiddenError describes which permission level denied a write.
// errors.Is(err, ErrForbidden) holds for every ForbiddenError.
type ForbiddenError struct {
	Table  string
	Action schema.Action
	Stage  string
	Field  string // set when a field rule denied the write
}

func (e *ForbiddenError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("forbidden: %s on %s.%s", e.Action, e.Table, e.Field)
	}
	return fmt.Sprintf("forbidden: %s on %s (%s)", e.Action, e.Table, e.Stage)
}

func (e *ForbiddenError) Is(target error) bool {
	return target == ErrForbidden
}

// IsForbidden checks if an error is a write denial
func IsForbidden(err error) bool {
	return errors.Is(err, ErrForbidden)
}

// IsNotFound checks if an error hides an unreadable record
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
