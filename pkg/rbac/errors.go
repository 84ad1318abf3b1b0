package rbac

import "errors"

var (
	// ErrInvalidPermission is returned when a permission definition is malformed
	ErrInvalidPermission = errors.New("invalid permission")

	// ErrUnknownCategory is returned when a permission names a category outside the fixed set
	ErrUnknownCategory = errors.New("unknown permission category")

	// ErrInvalidGrant is returned when a grant is missing its user or permission
	ErrInvalidGrant = errors.New("invalid grant")

	// ErrLedgerUnavailable is returned by ledgers whose backing store cannot be reached
	ErrLedgerUnavailable = errors.New("grant ledger unavailable")
)
