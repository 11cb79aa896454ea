package command

import (
	"testing"
	"time"

	"github.com/cuemby/group0/pkg/history"
	"github.com/cuemby/group0/pkg/stateid"
	"github.com/stretchr/testify/require"
)

func sampleCommand() Command {
	gen := stateid.NewGenerator()
	prev, _ := gen.Next(stateid.Zero)
	next, _ := gen.Next(prev)
	cond := []byte("v0")
	return Command{
		Change: Change{
			Kind: ChangeKVQuery,
			KVQuery: &KVQuery{
				Kind: KVQueryUpdate,
				Update: &UpdateQuery{
					Key:            []byte("k"),
					NewValue:       []byte("v1"),
					ValueCondition: &cond,
				},
			},
		},
		HistoryAppend:  history.Mutation{ID: next, Description: "kv update", GCAfter: time.Hour},
		PrevStateID:    &prev,
		NewStateID:     next,
		CreatorAddress: "10.0.0.1:7000",
		CreatorNodeID:  "node-a",
	}
}

func TestCommandRoundTrip(t *testing.T) {
	orig := sampleCommand()
	data, err := Marshal(orig)
	require.NoError(t, err)

	decoded, err := Unmarshal(data)
	require.NoError(t, err)
	require.Equal(t, orig, decoded)
}

func TestCommandRoundTripUnguarded(t *testing.T) {
	orig := sampleCommand()
	orig.PrevStateID = nil

	data, err := Marshal(orig)
	require.NoError(t, err)
	decoded, err := Unmarshal(data)
	require.NoError(t, err)
	require.Nil(t, decoded.PrevStateID)
	require.Equal(t, orig, decoded)
}

func TestUnknownChangeKindRejected(t *testing.T) {
	var c Change
	err := c.UnmarshalJSON([]byte(`{"kind":"future_variant"}`))
	require.Error(t, err)
}

func TestUnknownKVQueryKindRejected(t *testing.T) {
	var q KVQuery
	err := q.UnmarshalJSON([]byte(`{"kind":"range_scan"}`))
	require.Error(t, err)
}

func TestSelectResultRoundTrip(t *testing.T) {
	val := []byte("hello")
	r := KVQueryResult{Kind: KVResultSelect, Select: &SelectResult{Value: &val}}
	data, err := r.MarshalJSON()
	require.NoError(t, err)

	var decoded KVQueryResult
	require.NoError(t, decoded.UnmarshalJSON(data))
	require.Equal(t, r, decoded)
}

func TestNoneResultRoundTrip(t *testing.T) {
	r := KVQueryResult{Kind: KVResultNone}
	data, err := r.MarshalJSON()
	require.NoError(t, err)

	var decoded KVQueryResult
	require.NoError(t, decoded.UnmarshalJSON(data))
	require.Equal(t, r, decoded)
}
