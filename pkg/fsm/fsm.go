// Package fsm implements the state-machine applier and the snapshot
// transfer path. It is the raft.FSM this
// module hands to hashicorp/raft: the replicated log calls Apply for
// every committed entry, in order, and pkg/group0 calls TransferSnapshot
// when raft instructs this node to catch up from a peer instead of
// replaying the full log.
package fsm

import (
	"context"
	"fmt"
	"io"

	"github.com/cuemby/group0/pkg/command"
	"github.com/cuemby/group0/pkg/guard"
	"github.com/cuemby/group0/pkg/history"
	"github.com/cuemby/group0/pkg/kvstore"
	"github.com/cuemby/group0/pkg/log"
	"github.com/cuemby/group0/pkg/metrics"
	"github.com/cuemby/group0/pkg/resultchan"
	"github.com/cuemby/group0/pkg/schema"
	"github.com/hashicorp/raft"
)

// Puller fetches the catch-up payload from a peer for snapshot transfer
//. The core piggybacks the history mutation onto
// the schema-pull message; implementations are free to use a dedicated
// RPC as long as they return both.
type Puller interface {
	PullSnapshot(ctx context.Context, peerAddr string) (SnapshotPayload, error)
}

// SnapshotPayload is the catch-up payload pulled from a peer: the schema
// mutations to replay plus the single history mutation capturing the
// peer's current last state ID.
type SnapshotPayload struct {
	SchemaMutations []SchemaMutationEntry
	HistoryMutation history.Mutation
}

// SchemaMutationEntry pairs a schema mutation batch with the origin it
// should be attributed to when merged.
type SchemaMutationEntry struct {
	Batch  []byte
	Origin string
}

// FSM applies committed commands to the history table, k/v table, and
// schema-merge engine, and installs peer snapshots on catch-up.
type FSM struct {
	locks   *guard.Locks
	history history.Store
	kv      *kvstore.Engine
	results *resultchan.Channel
	merger  schema.Merger
}

// New constructs an FSM. locks must be the same *guard.Locks shared with
// this node's guard manager.
func New(locks *guard.Locks, h history.Store, kv *kvstore.Engine, results *resultchan.Channel, merger schema.Merger) *FSM {
	return &FSM{locks: locks, history: h, kv: kv, results: results, merger: merger}
}

// Apply implements raft.FSM. It decodes, conditionally admits, dispatches,
// and records a single committed entry, returning nil, or an error if anything but a
// clean skip-as-no-op occurred. raft surfaces the return value to
// whichever local Apply() call is waiting on this entry's index.
func (f *FSM) Apply(entry *raft.Log) interface{} {
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.ApplyDuration)

	cmd, err := command.Unmarshal(entry.Data)
	if err != nil {
		return fmt.Errorf("fsm: decoding committed entry: %w", err)
	}

	f.locks.LockApply()
	defer f.locks.UnlockApply()

	if cmd.PrevStateID != nil {
		last, err := f.history.Last()
		if err != nil {
			return fmt.Errorf("fsm: reading history.last(): %w", err)
		}
		if last != *cmd.PrevStateID {
			metrics.CommandsSkippedTotal.Inc()
			log.WithComponent("fsm").Debug().
				Str("observed", cmd.PrevStateID.String()).
				Str("actual_last", last.String()).
				Msg("skipping stale command")
			return nil
		}
	}

	if err := f.dispatch(cmd); err != nil {
		return fmt.Errorf("fsm: applying change: %w", err)
	}

	// The history append is the last write: a
	// crash between dispatch and here is recovered by the prev_state_id
	// check re-admitting the command on replay.
	if err := f.history.Apply(cmd.HistoryAppend); err != nil {
		return fmt.Errorf("fsm: applying history append: %w", err)
	}

	return nil
}

func (f *FSM) dispatch(cmd command.Command) error {
	switch cmd.Change.Kind {
	case command.ChangeSchemaMutation:
		return f.merger.Merge(cmd.Change.SchemaMutation.Mutations, cmd.CreatorAddress)
	case command.ChangeKVQuery:
		result, err := f.kv.Execute(*cmd.Change.KVQuery, cmd.NewStateID.Micros())
		if err != nil {
			return err
		}
		f.results.Put(cmd.NewStateID, result)
		return nil
	default:
		return fmt.Errorf("fsm: unsupported change kind %q", cmd.Change.Kind)
	}
}

// Snapshot implements raft.FSM. Raft-level snapshots are a structural
// no-op for this state machine: durable state lives in
// the history and k/v tables, not in a log snapshot, so there is nothing
// to capture here.
func (f *FSM) Snapshot() (raft.FSMSnapshot, error) {
	return nopSnapshot{}, nil
}

// Restore implements raft.FSM. Installing state happens exclusively
// through TransferSnapshot; a raft-level restore has nothing to do.
func (f *FSM) Restore(rc io.ReadCloser) error {
	return rc.Close()
}

type nopSnapshot struct{}

func (nopSnapshot) Persist(sink raft.SnapshotSink) error { return sink.Close() }
func (nopSnapshot) Release()                             {}

// TransferSnapshot implements the catch-up path: pull schema
// and history mutations from peerAddr and install them under the apply
// lock. Applying a snapshot may leapfrog the log's index; subsequent
// entries whose prev_state_id predates the transferred last become
// no-ops naturally through Apply's own check.
func (f *FSM) TransferSnapshot(ctx context.Context, puller Puller, peerAddr string) error {
	payload, err := puller.PullSnapshot(ctx, peerAddr)
	if err != nil {
		return fmt.Errorf("fsm: pulling snapshot from %s: %w", peerAddr, err)
	}

	f.locks.LockApply()
	defer f.locks.UnlockApply()

	for _, m := range payload.SchemaMutations {
		if err := f.merger.Merge(m.Batch, m.Origin); err != nil {
			return fmt.Errorf("fsm: merging transferred schema mutation: %w", err)
		}
	}

	if err := f.history.Apply(payload.HistoryMutation); err != nil {
		return fmt.Errorf("fsm: applying transferred history mutation: %w", err)
	}

	metrics.SnapshotTransfersTotal.Inc()
	log.WithComponent("fsm").Info().
		Str("peer", peerAddr).
		Str("new_last", payload.HistoryMutation.ID.String()).
		Msg("installed snapshot transfer")

	return nil
}
