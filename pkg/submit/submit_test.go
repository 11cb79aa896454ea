package submit

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/cuemby/group0/pkg/command"
	"github.com/cuemby/group0/pkg/guard"
	"github.com/cuemby/group0/pkg/history"
	"github.com/cuemby/group0/pkg/replicatedlog"
	"github.com/cuemby/group0/pkg/stateid"
	"github.com/stretchr/testify/require"
)

type scriptedLog struct {
	errs []error
	call int

	onAddEntry func(data []byte)
}

func (l *scriptedLog) AddEntry(ctx context.Context, data []byte) error {
	if l.onAddEntry != nil {
		l.onAddEntry(data)
	}
	if l.call >= len(l.errs) {
		return nil
	}
	err := l.errs[l.call]
	l.call++
	return err
}

func (l *scriptedLog) ReadBarrier(ctx context.Context) error { return nil }

func newTestHistory(t *testing.T) history.Store {
	t.Helper()
	s, err := history.Open(filepath.Join(t.TempDir(), "history.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func sampleCommand(newID stateid.ID) command.Command {
	return command.Command{
		Change: command.Change{
			Kind: command.ChangeKVQuery,
			KVQuery: &command.KVQuery{
				Kind:   command.KVQuerySelect,
				Select: &command.SelectQuery{Key: []byte("k")},
			},
		},
		NewStateID: newID,
	}
}

func TestAddEntrySucceedsAndReleasesGuard(t *testing.T) {
	h := newTestHistory(t)
	gen := stateid.NewGenerator()
	newID, _ := gen.Next(stateid.Zero)

	l := &scriptedLog{
		onAddEntry: func(data []byte) {
			require.NoError(t, h.Apply(h.BuildAppend(newID, "select", 0)))
		},
	}
	s := NewSubmitter(l, h, true)

	locks := guard.NewLocks()
	gm := guard.NewManager(l, h, gen, locks, true)
	g, err := gm.StartOperation(context.Background())
	require.NoError(t, err)

	cmd := sampleCommand(newID)
	err = s.AddEntry(context.Background(), cmd, g)
	require.NoError(t, err)

	// Guard must be fully released: a subsequent StartOperation must not
	// block.
	g2, err := gm.StartOperation(context.Background())
	require.NoError(t, err)
	g2.Release()
}

func TestAddEntryDetectsConcurrentModification(t *testing.T) {
	h := newTestHistory(t)
	gen := stateid.NewGenerator()
	newID, _ := gen.Next(stateid.Zero)

	// AddEntry succeeds but nothing ever records newID in history: this
	// simulates the applier skipping the command as a stale no-op.
	l := &scriptedLog{}
	s := NewSubmitter(l, h, true)

	locks := guard.NewLocks()
	gm := guard.NewManager(l, h, gen, locks, true)
	g, err := gm.StartOperation(context.Background())
	require.NoError(t, err)

	cmd := sampleCommand(newID)
	err = s.AddEntry(context.Background(), cmd, g)
	require.Error(t, err)

	var cmErr *ConcurrentModificationError
	require.ErrorAs(t, err, &cmErr)
	require.Equal(t, newID, cmErr.NewStateID)
}

func TestSubmitRetriesOnDroppedEntry(t *testing.T) {
	h := newTestHistory(t)
	gen := stateid.NewGenerator()
	newID, _ := gen.Next(stateid.Zero)

	l := &scriptedLog{errs: []error{replicatedlog.ErrDroppedEntry, replicatedlog.ErrCommitStatusUnknown}}
	l.onAddEntry = func(data []byte) {
		if l.call == len(l.errs) {
			require.NoError(t, h.Apply(h.BuildAppend(newID, "select", 0)))
		}
	}
	s := NewSubmitter(l, h, true)

	err := s.AddEntryUnguarded(context.Background(), sampleCommand(newID))
	require.NoError(t, err)
	require.Equal(t, 2, l.call)
}

func TestSubmitNotLeaderFatalWhenForwardingEnabled(t *testing.T) {
	h := newTestHistory(t)
	gen := stateid.NewGenerator()
	newID, _ := gen.Next(stateid.Zero)

	l := &scriptedLog{errs: []error{replicatedlog.ErrNotALeader}}
	s := NewSubmitter(l, h, true)

	err := s.AddEntryUnguarded(context.Background(), sampleCommand(newID))
	require.Error(t, err)
	require.True(t, errors.Is(err, replicatedlog.ErrNotALeader))
}

func TestSubmitNotLeaderSurfacedWhenForwardingDisabled(t *testing.T) {
	h := newTestHistory(t)
	gen := stateid.NewGenerator()
	newID, _ := gen.Next(stateid.Zero)

	l := &scriptedLog{errs: []error{replicatedlog.ErrNotALeader}}
	s := NewSubmitter(l, h, false)

	err := s.AddEntryUnguarded(context.Background(), sampleCommand(newID))
	require.Error(t, err)
	require.True(t, errors.Is(err, replicatedlog.ErrNotALeader))
}

func TestUnguardedRejectsPrevStateID(t *testing.T) {
	h := newTestHistory(t)
	gen := stateid.NewGenerator()
	newID, _ := gen.Next(stateid.Zero)

	l := &scriptedLog{}
	s := NewSubmitter(l, h, true)

	cmd := sampleCommand(newID)
	prev := stateid.Zero
	cmd.PrevStateID = &prev

	err := s.AddEntryUnguarded(context.Background(), cmd)
	require.Error(t, err)
}
