package stateid

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestGeneratorMonotonicSameMicrosecond(t *testing.T) {
	g := NewGenerator()
	a, err := g.Next(Zero)
	require.NoError(t, err)
	b, err := g.Next(Zero)
	require.NoError(t, err)
	require.True(t, a.Less(b), "second id must order after first even within the same microsecond")
}

func TestGeneratorRespectsFuturePredecessor(t *testing.T) {
	g := NewGenerator()
	future := time.Now().Add(time.Hour).UnixMicro()
	var pred ID
	pred = Zero
	predBytes := pred
	_ = predBytes
	pred = idFromMicros(future)

	next, err := g.Next(pred)
	require.NoError(t, err)
	require.True(t, pred.Less(next), "generated id must exceed a predecessor whose timestamp is in the future")
}

func TestZeroIDIsZero(t *testing.T) {
	require.True(t, Zero.IsZero())
	g := NewGenerator()
	id, err := g.Next(Zero)
	require.NoError(t, err)
	require.False(t, id.IsZero())
}

func TestCompareTotalOrder(t *testing.T) {
	g := NewGenerator()
	a, _ := g.Next(Zero)
	b, _ := g.Next(a)
	require.Equal(t, -1, a.Compare(b))
	require.Equal(t, 1, b.Compare(a))
	require.Equal(t, 0, a.Compare(a))
}

func TestMarshalRoundTrip(t *testing.T) {
	g := NewGenerator()
	id, _ := g.Next(Zero)
	data, err := id.MarshalBinary()
	require.NoError(t, err)

	var out ID
	require.NoError(t, out.UnmarshalBinary(data))
	require.Equal(t, id, out)
}

func idFromMicros(micros int64) ID {
	var id ID
	for i := 7; i >= 0; i-- {
		id[i] = byte(micros)
		micros >>= 8
	}
	return id
}
