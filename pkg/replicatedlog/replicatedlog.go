// Package replicatedlog declares the boundary between group0 and the
// underlying replicated log. group0's own packages only ever see this interface;
// pkg/group0 supplies the concrete implementation backed by
// github.com/hashicorp/raft.
package replicatedlog

import "context"

// Sentinel errors an implementation's AddEntry may wrap. The submission
// engine (pkg/submit) inspects these with errors.Is to decide whether to
// retry, surface, or treat as a fatal internal inconsistency.
var (
	// ErrDroppedEntry means the log dropped the entry without committing
	// it; internally retried, never surfaced.
	ErrDroppedEntry = newSentinel("replicatedlog: entry dropped before commit")

	// ErrCommitStatusUnknown means the leader is uncertain whether the
	// entry committed; internally retried, never surfaced.
	ErrCommitStatusUnknown = newSentinel("replicatedlog: commit status unknown")

	// ErrNotALeader means this node attempted to submit while not
	// leader. With leader forwarding enabled, the assumed deployment
	// configuration, this indicates a broken invariant and is surfaced as
	// fatal rather than retried.
	ErrNotALeader = newSentinel("replicatedlog: not the leader")
)

type sentinel struct{ msg string }

func (s *sentinel) Error() string { return s.msg }

func newSentinel(msg string) error { return &sentinel{msg: msg} }

// Log is the subset of the replicated log's API group0 depends on.
type Log interface {
	// AddEntry submits data and waits until it has been applied on this
	// node's local state machine, or ctx is done. A non-nil error not
	// wrapping one of the sentinels above is surfaced as-is.
	AddEntry(ctx context.Context, data []byte) error

	// ReadBarrier blocks until this node's state machine has applied
	// every entry committed as of the call.
	ReadBarrier(ctx context.Context) error
}
