package replay

import "errors"

var (
	// ErrInvalidTable is returned when a TableSpec fails validation.
	ErrInvalidTable = errors.New("invalid replay table")

	// ErrUnknownTable is returned for operations on a table name the server
	// does not host.
	ErrUnknownTable = errors.New("unknown replay table")

	// ErrSignatureMismatch is returned when an inserted item does not match
	// the table signature.
	ErrSignatureMismatch = errors.New("item does not match table signature")

	// ErrTableClosed is returned by blocked operations when the table closes.
	ErrTableClosed = errors.New("replay table closed")
)
