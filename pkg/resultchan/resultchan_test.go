package resultchan

import (
	"testing"

	"github.com/cuemby/group0/pkg/command"
	"github.com/cuemby/group0/pkg/stateid"
	"github.com/stretchr/testify/require"
)

func TestPutThenTake(t *testing.T) {
	c := New()
	gen := stateid.NewGenerator()
	id, _ := gen.Next(stateid.Zero)

	c.Put(id, command.KVQueryResult{Kind: command.KVResultNone})

	res, ok := c.Take(id)
	require.True(t, ok)
	require.Equal(t, command.KVResultNone, res.Kind)

	_, ok = c.Take(id)
	require.False(t, ok, "take removes the entry")
}

func TestTakeMissingIDReturnsFalse(t *testing.T) {
	c := New()
	gen := stateid.NewGenerator()
	id, _ := gen.Next(stateid.Zero)

	_, ok := c.Take(id)
	require.False(t, ok)
}
