// Package util holds small helpers shared across marlmesh packages. It lives
// in internal to avoid committing to public API stability prematurely.
package util

import "github.com/google/uuid"

// NewID returns a random identifier for runs.
func NewID() string { return uuid.NewString() }

// ShortID returns the first eight characters of id, for log lines and file
// names.
func ShortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
