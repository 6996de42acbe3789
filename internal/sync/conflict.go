package sync

import "time"

// pushVerdict is the conflict detector's decision for a single pushed change.
type pushVerdict int

const (
	// verdictCreate: no server record exists, the push materializes it.
	verdictCreate pushVerdict = iota
	// verdictApply: the client edit is at least as new, last write wins.
	verdictApply
	// verdictConflict: the server record is strictly newer, the write is
	// withheld and both timestamps go back to the client.
	verdictConflict
)

// detectConflict compares entity timestamps, never the wall clock of the
// push call. An equal timestamp applies the client's data: the client is
// echoing a state it already pulled, so accepting keeps push idempotent.
func detectConflict(serverUpdatedAt *time.Time, clientUpdatedAt time.Time) pushVerdict {
	if serverUpdatedAt == nil {
		return verdictCreate
	}
	if serverUpdatedAt.After(clientUpdatedAt) {
		return verdictConflict
	}
	return verdictApply
}
