package directory

import (
	"errors"
	"fmt"
)

// FilterKind selects which slice of the directory a broadcast targets.
type FilterKind string

const (
	FilterAll     FilterKind = "all"
	FilterAdmins  FilterKind = "admins"
	FilterMentors FilterKind = "mentors"
	FilterCustom  FilterKind = "custom"
)

// ErrUnknownFilter is returned for filter kinds outside the known set.
var ErrUnknownFilter = errors.New("unknown filter kind")

// ParseFilterKind validates a caller-supplied filter kind. Unknown values are
// rejected rather than widened to "all": a typo must not mail the whole
// directory.
func ParseFilterKind(s string) (FilterKind, error) {
	switch k := FilterKind(s); k {
	case FilterAll, FilterAdmins, FilterMentors, FilterCustom:
		return k, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownFilter, s)
}
