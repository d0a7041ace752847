package artifact

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNotFound is returned when an artifact for the given run / id pair
	// does not exist in the underlying store.
	ErrNotFound = errors.New("artifact not found")

	// ErrInvalidID is returned for run or artifact ids that cannot be used as
	// a single path element.
	ErrInvalidID = errors.New("invalid artifact id")
)

func validateID(kind, id string) error {
	if id == "" || id == "." || id == ".." || strings.ContainsAny(id, `/\`) {
		return fmt.Errorf("%w: %s %q", ErrInvalidID, kind, id)
	}
	return nil
}
