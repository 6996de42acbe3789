package scope

import "errors"

// ErrInvalidScope indicates a scope was constructed without a usable user id.
var ErrInvalidScope = errors.New("scope: user id required")

// Scope is the mandatory ownership capability threaded through every store
// operation. Queries never run without one, so cross-user reads and writes
// are impossible by construction rather than by per-query filters.
type Scope struct {
	userID int64
}

// ForUser returns a scope bound to the given user id.
func ForUser(userID int64) (Scope, error) {
	if userID <= 0 {
		return Scope{}, ErrInvalidScope
	}
	return Scope{userID: userID}, nil
}

// UserID exposes the owning user id for query construction.
func (s Scope) UserID() int64 {
	return s.userID
}

// Valid reports whether the scope is bound to a user.
func (s Scope) Valid() bool {
	return s.userID > 0
}
