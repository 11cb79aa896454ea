// Package submit implements the submission engine: add_entry and
// add_entry_unguarded thread a Command through the
// replicated log, retrying the failure modes the log itself is expected
// to recover from, and detect the case where a guarded command was
// skipped as a no-op because the guard's observed state ID was stale by
// the time it reached this node's applier.
package submit

import (
	"context"
	"errors"
	"fmt"

	"github.com/cuemby/group0/pkg/command"
	"github.com/cuemby/group0/pkg/guard"
	"github.com/cuemby/group0/pkg/history"
	"github.com/cuemby/group0/pkg/log"
	"github.com/cuemby/group0/pkg/metrics"
	"github.com/cuemby/group0/pkg/replicatedlog"
	"github.com/cuemby/group0/pkg/stateid"
)

// ConcurrentModificationError is returned by AddEntry when the command's
// guard observed a state ID that another command superseded before this
// one committed: the applier detects the staleness and skips the command
// as a no-op, and history.Contains confirms it here.
type ConcurrentModificationError struct {
	NewStateID stateid.ID
}

func (e *ConcurrentModificationError) Error() string {
	return fmt.Sprintf("submit: concurrent modification detected for state id %s", e.NewStateID)
}

// Submitter is the submission engine for one node. Construct exactly one
// per node, sharing the same replicatedlog.Log and history.Store the
// guard manager and state-machine applier use.
type Submitter struct {
	log     replicatedlog.Log
	history history.Store

	// leaderForwardingEnabled mirrors the assumed deployment: when true,
	// replicatedlog.ErrNotALeader indicates a broken
	// invariant rather than a retryable condition, and is surfaced as a
	// fatal error instead of retried.
	leaderForwardingEnabled bool
}

// NewSubmitter constructs a Submitter.
func NewSubmitter(rlog replicatedlog.Log, h history.Store, leaderForwardingEnabled bool) *Submitter {
	return &Submitter{log: rlog, history: h, leaderForwardingEnabled: leaderForwardingEnabled}
}

// AddEntry submits cmd under the protection of g:
//
//  1. marshal cmd
//  2. release the apply lock, so this node's applier is free to drain
//     concurrently with the log round-trip
//  3. submit with retry
//  4. confirm the command actually committed under its own state ID,
//     returning ConcurrentModificationError if it did not
//
// g is released in full before AddEntry returns, regardless of outcome.
func (s *Submitter) AddEntry(ctx context.Context, cmd command.Command, g *guard.Guard) error {
	defer g.Release()

	data, err := command.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("submit: marshaling command: %w", err)
	}

	g.ReleaseApplyLock()

	if err := s.submitWithRetry(ctx, cmd.CommandID, data); err != nil {
		return err
	}

	return s.confirmCommitted(cmd.NewStateID)
}

// AddEntryUnguarded submits cmd without any guard: cmd.PrevStateID must
// be nil, since there is no observed state ID to make the apply
// conditional on.
func (s *Submitter) AddEntryUnguarded(ctx context.Context, cmd command.Command) error {
	if cmd.PrevStateID != nil {
		return fmt.Errorf("submit: unguarded command must not carry a prev_state_id")
	}

	data, err := command.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("submit: marshaling command: %w", err)
	}

	return s.submitWithRetry(ctx, cmd.CommandID, data)
}

func (s *Submitter) confirmCommitted(id stateid.ID) error {
	found, err := s.history.Contains(id)
	if err != nil {
		return fmt.Errorf("submit: confirming commit: %w", err)
	}
	if !found {
		metrics.ConcurrentModificationsTotal.Inc()
		return &ConcurrentModificationError{NewStateID: id}
	}
	return nil
}

// submitWithRetry calls Log.AddEntry, retrying internally on the
// "dropped_entry" and "commit_status_unknown" failure modes.
// ErrNotALeader is treated as fatal when leader
// forwarding is the assumed configuration; any other error is surfaced
// as-is.
func (s *Submitter) submitWithRetry(ctx context.Context, commandID string, data []byte) error {
	for {
		err := s.log.AddEntry(ctx, data)
		if err == nil {
			return nil
		}

		if errors.Is(err, replicatedlog.ErrNotALeader) {
			if s.leaderForwardingEnabled {
				return fmt.Errorf("submit: not leader with forwarding enabled, this is a broken invariant: %w", err)
			}
			return err
		}

		if errors.Is(err, replicatedlog.ErrDroppedEntry) || errors.Is(err, replicatedlog.ErrCommitStatusUnknown) {
			metrics.SubmitRetriesTotal.Inc()
			log.WithComponent("submit").Debug().Err(err).Str("command_id", commandID).Msg("retrying entry submission")
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			continue
		}

		return fmt.Errorf("submit: adding entry: %w", err)
	}
}
