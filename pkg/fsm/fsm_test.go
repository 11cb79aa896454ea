package fsm

import (
	"context"
	"io"
	"path/filepath"
	"strings"
	"testing"

	bolt "go.etcd.io/bbolt"

	"github.com/cuemby/group0/pkg/command"
	"github.com/cuemby/group0/pkg/guard"
	"github.com/cuemby/group0/pkg/history"
	"github.com/cuemby/group0/pkg/kvstore"
	"github.com/cuemby/group0/pkg/resultchan"
	"github.com/cuemby/group0/pkg/schema"
	"github.com/cuemby/group0/pkg/stateid"
	"github.com/hashicorp/raft"
	"github.com/stretchr/testify/require"
)

type recordingMerger struct {
	batches []string
	origins []string
}

func (m *recordingMerger) Merge(batch []byte, origin string) error {
	m.batches = append(m.batches, string(batch))
	m.origins = append(m.origins, origin)
	return nil
}

func newTestFSM(t *testing.T) (*FSM, history.Store, *resultchan.Channel, *recordingMerger) {
	t.Helper()
	h, err := history.Open(filepath.Join(t.TempDir(), "history.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = h.Close() })

	db, err := bolt.Open(filepath.Join(t.TempDir(), "kv.db"), 0600, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	kv, err := kvstore.NewEngine(db)
	require.NoError(t, err)

	results := resultchan.New()
	merger := &recordingMerger{}
	f := New(guard.NewLocks(), h, kv, results, merger)
	return f, h, results, merger
}

func kvUpdateCommand(id stateid.ID, prev *stateid.ID, key, value []byte) command.Command {
	return command.Command{
		Change: command.Change{
			Kind: command.ChangeKVQuery,
			KVQuery: &command.KVQuery{
				Kind:   command.KVQueryUpdate,
				Update: &command.UpdateQuery{Key: key, NewValue: value},
			},
		},
		HistoryAppend: history.Mutation{ID: id, Description: "update"},
		PrevStateID:   prev,
		NewStateID:    id,
	}
}

func TestApplyUnconditionalCommand(t *testing.T) {
	f, h, results, _ := newTestFSM(t)
	gen := stateid.NewGenerator()
	id, _ := gen.Next(stateid.Zero)

	cmd := kvUpdateCommand(id, nil, []byte("k"), []byte("v"))
	data, err := command.Marshal(cmd)
	require.NoError(t, err)

	res := f.Apply(&raft.Log{Data: data})
	require.Nil(t, res)

	last, err := h.Last()
	require.NoError(t, err)
	require.Equal(t, id, last)

	_, ok := results.Take(id)
	require.True(t, ok)
}

func TestApplySkipsStaleCommand(t *testing.T) {
	f, h, _, _ := newTestFSM(t)
	gen := stateid.NewGenerator()
	id1, _ := gen.Next(stateid.Zero)
	id2, _ := gen.Next(id1)

	cmd1 := kvUpdateCommand(id1, nil, []byte("k"), []byte("v1"))
	data1, _ := command.Marshal(cmd1)
	require.Nil(t, f.Apply(&raft.Log{Data: data1}))

	// cmd2 claims a stale prev_state_id (zero instead of id1): must be
	// skipped as a no-op, leaving history.Last() unchanged.
	zero := stateid.Zero
	cmd2 := kvUpdateCommand(id2, &zero, []byte("k"), []byte("v2"))
	data2, _ := command.Marshal(cmd2)
	require.Nil(t, f.Apply(&raft.Log{Data: data2}))

	last, err := h.Last()
	require.NoError(t, err)
	require.Equal(t, id1, last)
}

func TestApplyAdmitsCommandWithMatchingPrevStateID(t *testing.T) {
	f, h, _, _ := newTestFSM(t)
	gen := stateid.NewGenerator()
	id1, _ := gen.Next(stateid.Zero)
	id2, _ := gen.Next(id1)

	cmd1 := kvUpdateCommand(id1, nil, []byte("k"), []byte("v1"))
	data1, _ := command.Marshal(cmd1)
	require.Nil(t, f.Apply(&raft.Log{Data: data1}))

	cmd2 := kvUpdateCommand(id2, &id1, []byte("k"), []byte("v2"))
	data2, _ := command.Marshal(cmd2)
	require.Nil(t, f.Apply(&raft.Log{Data: data2}))

	last, err := h.Last()
	require.NoError(t, err)
	require.Equal(t, id2, last)
}

func TestApplySchemaMutationDispatchesToMerger(t *testing.T) {
	f, _, _, merger := newTestFSM(t)
	gen := stateid.NewGenerator()
	id, _ := gen.Next(stateid.Zero)

	cmd := command.Command{
		Change: command.Change{
			Kind:           command.ChangeSchemaMutation,
			SchemaMutation: &command.SchemaMutationBatch{Mutations: []byte("batch-1")},
		},
		HistoryAppend:  history.Mutation{ID: id, Description: "schema"},
		NewStateID:     id,
		CreatorAddress: "node-a",
	}
	data, err := command.Marshal(cmd)
	require.NoError(t, err)

	res := f.Apply(&raft.Log{Data: data})
	require.Nil(t, res)
	require.Equal(t, []string{"batch-1"}, merger.batches)
	require.Equal(t, []string{"node-a"}, merger.origins)
}

func TestApplyRejectsUndecodableEntry(t *testing.T) {
	f, _, _, _ := newTestFSM(t)
	res := f.Apply(&raft.Log{Data: []byte("not json")})
	err, ok := res.(error)
	require.True(t, ok)
	require.Error(t, err)
}

type fakePuller struct {
	payload SnapshotPayload
	err     error
}

func (p *fakePuller) PullSnapshot(ctx context.Context, peerAddr string) (SnapshotPayload, error) {
	return p.payload, p.err
}

func TestTransferSnapshotInstallsSchemaAndHistory(t *testing.T) {
	f, h, _, merger := newTestFSM(t)
	gen := stateid.NewGenerator()
	id, _ := gen.Next(stateid.Zero)

	puller := &fakePuller{payload: SnapshotPayload{
		SchemaMutations: []SchemaMutationEntry{{Batch: []byte("remote-batch"), Origin: "peer-1"}},
		HistoryMutation: history.Mutation{ID: id, Description: "snapshot"},
	}}

	err := f.TransferSnapshot(context.Background(), puller, "peer-1")
	require.NoError(t, err)

	require.Equal(t, []string{"remote-batch"}, merger.batches)

	last, err := h.Last()
	require.NoError(t, err)
	require.Equal(t, id, last)
}

func TestTransferSnapshotSurfacesPullError(t *testing.T) {
	f, _, _, _ := newTestFSM(t)
	puller := &fakePuller{err: context.DeadlineExceeded}

	err := f.TransferSnapshot(context.Background(), puller, "peer-1")
	require.Error(t, err)
}

func TestSnapshotAndRestoreAreStructuralNoOps(t *testing.T) {
	f, _, _, _ := newTestFSM(t)
	snap, err := f.Snapshot()
	require.NoError(t, err)
	require.NotNil(t, snap)
	snap.Release()

	require.NoError(t, f.Restore(io.NopCloser(strings.NewReader(""))))
}
