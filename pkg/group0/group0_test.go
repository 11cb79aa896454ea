package group0

import (
	"context"
	"testing"
	"time"

	"github.com/cuemby/group0/pkg/command"
	"github.com/cuemby/group0/pkg/schema"
	"github.com/stretchr/testify/require"
)

func newBootstrappedNode(t *testing.T) *Coordinator {
	t.Helper()
	cfg := Config{
		NodeID:                  "node-1",
		BindAddr:                "127.0.0.1:0",
		DataDir:                 t.TempDir(),
		GuardEnabled:            true,
		LeaderForwardingEnabled: true,
		ApplyTimeout:            2 * time.Second,
	}
	c, err := New(cfg, schema.NopMerger{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Shutdown() })

	require.NoError(t, c.Bootstrap())
	waitForLeader(t, c)
	return c
}

func waitForLeader(t *testing.T, c *Coordinator) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if c.IsLeader() {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("node never became leader")
}

func TestProposeKVUpdateThenSelect(t *testing.T) {
	c := newBootstrappedNode(t)
	ctx := context.Background()

	_, err := c.ProposeKV(ctx, command.KVQuery{
		Kind:   command.KVQueryUpdate,
		Update: &command.UpdateQuery{Key: []byte("k"), NewValue: []byte("v1")},
	})
	require.NoError(t, err)

	res, err := c.ProposeKV(ctx, command.KVQuery{
		Kind:   command.KVQuerySelect,
		Select: &command.SelectQuery{Key: []byte("k")},
	})
	require.NoError(t, err)
	require.Equal(t, command.KVResultSelect, res.Kind)
	require.NotNil(t, res.Select.Value)
	require.Equal(t, []byte("v1"), *res.Select.Value)
}

func TestProposeKVConditionalUpdate(t *testing.T) {
	c := newBootstrappedNode(t)
	ctx := context.Background()

	_, err := c.ProposeKV(ctx, command.KVQuery{
		Kind:   command.KVQueryUpdate,
		Update: &command.UpdateQuery{Key: []byte("k"), NewValue: []byte("v1")},
	})
	require.NoError(t, err)

	cond := []byte("v1")
	res, err := c.ProposeKV(ctx, command.KVQuery{
		Kind: command.KVQueryUpdate,
		Update: &command.UpdateQuery{
			Key:            []byte("k"),
			NewValue:       []byte("v2"),
			ValueCondition: &cond,
		},
	})
	require.NoError(t, err)
	require.Equal(t, command.KVResultConditionalUpdate, res.Kind)
	require.True(t, res.ConditionalUpdate.Applied)

	wrongCond := []byte("stale")
	res2, err := c.ProposeKV(ctx, command.KVQuery{
		Kind: command.KVQueryUpdate,
		Update: &command.UpdateQuery{
			Key:            []byte("k"),
			NewValue:       []byte("v3"),
			ValueCondition: &wrongCond,
		},
	})
	require.NoError(t, err)
	require.False(t, res2.ConditionalUpdate.Applied)
}

func TestHistoryAdvancesAcrossProposals(t *testing.T) {
	c := newBootstrappedNode(t)
	ctx := context.Background()

	first, err := c.history.Last()
	require.NoError(t, err)
	require.True(t, first.IsZero())

	_, err = c.ProposeKV(ctx, command.KVQuery{
		Kind:   command.KVQueryUpdate,
		Update: &command.UpdateQuery{Key: []byte("k"), NewValue: []byte("v1")},
	})
	require.NoError(t, err)

	last, err := c.history.Last()
	require.NoError(t, err)
	require.False(t, last.IsZero())
}
