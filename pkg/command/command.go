// Package command defines the payload that crosses the replicated log: a
// tagged-union Change (schema mutation batch or k/v query) plus the
// state-ID bookkeeping needed to make apply conditional and to record the
// history append.
//
// Serialization is JSON with an explicit "kind" discriminator on every
// tagged union, so a decoder facing a tag it does not recognize — e.g. a
// variant added by a newer version — fails loudly instead of silently
// misinterpreting the payload.
package command

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/cuemby/group0/pkg/history"
	"github.com/cuemby/group0/pkg/stateid"
)

// ChangeKind discriminates the two payload variants a Command may carry.
type ChangeKind string

const (
	ChangeSchemaMutation ChangeKind = "schema_mutation"
	ChangeKVQuery        ChangeKind = "kv_query"
)

// SchemaMutationBatch is an opaque batch of mutations against schema
// tables. The schema-merge engine that actually applies these is an
// external collaborator; group0 only needs to
// carry the bytes and hand them off with an origin identifier.
type SchemaMutationBatch struct {
	Mutations []byte `json:"mutations"`
}

// Change is the tagged union carried by a Command: exactly one of
// SchemaMutation or KVQuery is set, matching Kind.
type Change struct {
	Kind          ChangeKind
	SchemaMutation *SchemaMutationBatch
	KVQuery        *KVQuery
}

type changeWire struct {
	Kind           ChangeKind           `json:"kind"`
	SchemaMutation *SchemaMutationBatch `json:"schema_mutation,omitempty"`
	KVQuery        *KVQuery             `json:"kv_query,omitempty"`
}

// MarshalJSON implements the tagged-union encoding for Change.
func (c Change) MarshalJSON() ([]byte, error) {
	return json.Marshal(changeWire{Kind: c.Kind, SchemaMutation: c.SchemaMutation, KVQuery: c.KVQuery})
}

// UnmarshalJSON implements the tagged-union decoding for Change, rejecting
// unrecognized kinds rather than silently producing a zero-value Change.
func (c *Change) UnmarshalJSON(data []byte) error {
	var w changeWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	switch w.Kind {
	case ChangeSchemaMutation:
		if w.SchemaMutation == nil {
			return fmt.Errorf("command: schema_mutation change missing its payload")
		}
	case ChangeKVQuery:
		if w.KVQuery == nil {
			return fmt.Errorf("command: kv_query change missing its payload")
		}
	default:
		return fmt.Errorf("command: unsupported change kind %q: %w", w.Kind, errUnknownTag)
	}
	*c = Change{Kind: w.Kind, SchemaMutation: w.SchemaMutation, KVQuery: w.KVQuery}
	return nil
}

var errUnknownTag = fmt.Errorf("unknown tag, likely produced by a newer version of this decoder")

// KVQueryKind discriminates the k/v query variants.
type KVQueryKind string

const (
	KVQuerySelect KVQueryKind = "select"
	KVQueryUpdate KVQueryKind = "update"
)

// KVQuery is the tagged variant select{key} | update{key, new_value,
// optional value_condition}.
type KVQuery struct {
	Kind   KVQueryKind
	Select *SelectQuery
	Update *UpdateQuery
}

// SelectQuery requests the current value for Key.
type SelectQuery struct {
	Key []byte `json:"key"`
}

// UpdateQuery upserts Key to NewValue, unconditionally unless
// ValueCondition is non-nil, in which case the update only applies when
// the partition's current value equals *ValueCondition.
type UpdateQuery struct {
	Key            []byte  `json:"key"`
	NewValue       []byte  `json:"new_value"`
	ValueCondition *[]byte `json:"value_condition,omitempty"`
}

type kvQueryWire struct {
	Kind   KVQueryKind  `json:"kind"`
	Select *SelectQuery `json:"select,omitempty"`
	Update *UpdateQuery `json:"update,omitempty"`
}

func (q KVQuery) MarshalJSON() ([]byte, error) {
	return json.Marshal(kvQueryWire{Kind: q.Kind, Select: q.Select, Update: q.Update})
}

func (q *KVQuery) UnmarshalJSON(data []byte) error {
	var w kvQueryWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	switch w.Kind {
	case KVQuerySelect:
		if w.Select == nil {
			return fmt.Errorf("command: select query missing its payload")
		}
	case KVQueryUpdate:
		if w.Update == nil {
			return fmt.Errorf("command: update query missing its payload")
		}
	default:
		return fmt.Errorf("command: unsupported kv query kind %q: %w", w.Kind, errUnknownTag)
	}
	*q = KVQuery{Kind: w.Kind, Select: w.Select, Update: w.Update}
	return nil
}

// KVQueryResultKind discriminates the k/v query result variants.
type KVQueryResultKind string

const (
	KVResultNone              KVQueryResultKind = "none"
	KVResultSelect            KVQueryResultKind = "select"
	KVResultConditionalUpdate KVQueryResultKind = "conditional_update"
)

// KVQueryResult is the tagged variant none | select{optional value} |
// conditional_update{applied, previous_value}.
type KVQueryResult struct {
	Kind              KVQueryResultKind
	Select            *SelectResult
	ConditionalUpdate *ConditionalUpdateResult
}

type SelectResult struct {
	Value *[]byte `json:"value,omitempty"`
}

type ConditionalUpdateResult struct {
	Applied       bool    `json:"applied"`
	PreviousValue *[]byte `json:"previous_value,omitempty"`
}

type kvResultWire struct {
	Kind              KVQueryResultKind       `json:"kind"`
	Select            *SelectResult           `json:"select,omitempty"`
	ConditionalUpdate *ConditionalUpdateResult `json:"conditional_update,omitempty"`
}

func (r KVQueryResult) MarshalJSON() ([]byte, error) {
	return json.Marshal(kvResultWire{Kind: r.Kind, Select: r.Select, ConditionalUpdate: r.ConditionalUpdate})
}

func (r *KVQueryResult) UnmarshalJSON(data []byte) error {
	var w kvResultWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	switch w.Kind {
	case KVResultNone:
	case KVResultSelect:
		if w.Select == nil {
			return fmt.Errorf("command: select result missing its payload")
		}
	case KVResultConditionalUpdate:
		if w.ConditionalUpdate == nil {
			return fmt.Errorf("command: conditional_update result missing its payload")
		}
	default:
		return fmt.Errorf("command: unsupported kv result kind %q: %w", w.Kind, errUnknownTag)
	}
	*r = KVQueryResult{Kind: w.Kind, Select: w.Select, ConditionalUpdate: w.ConditionalUpdate}
	return nil
}

// Command is the payload unit carried through the replicated log.
//
// CommandID is a random identifier distinct from NewStateID: it is
// assigned once per proposal attempt and stays fixed across submission
// retries of the same marshaled bytes, so a log line or trace can follow
// one logical proposal through retries without overloading the state-ID
// field, which only gets its real meaning once the command commits.
type Command struct {
	CommandID      string            `json:"command_id"`
	Change         Change            `json:"change"`
	HistoryAppend  history.Mutation  `json:"history_append"`
	PrevStateID    *stateid.ID       `json:"prev_state_id,omitempty"`
	NewStateID     stateid.ID        `json:"new_state_id"`
	CreatorAddress string            `json:"creator_address"`
	CreatorNodeID  string            `json:"creator_node_id"`
}

// NewCommandID returns a fresh random command identifier.
func NewCommandID() string {
	return uuid.NewString()
}

// wireVersion is bumped only if the envelope shape changes incompatibly;
// new Change/KVQuery/KVQueryResult tags do not require a bump, since
// decoders reject unknown tags explicitly rather than relying on the
// envelope version to gate them.
const wireVersion = 1

type commandWire struct {
	Version        int               `json:"version"`
	CommandID      string            `json:"command_id"`
	Change         Change            `json:"change"`
	HistoryAppend  history.Mutation  `json:"history_append"`
	PrevStateID    *stateid.ID       `json:"prev_state_id,omitempty"`
	NewStateID     stateid.ID        `json:"new_state_id"`
	CreatorAddress string            `json:"creator_address"`
	CreatorNodeID  string            `json:"creator_node_id"`
}

// Marshal serializes c to its stable wire form.
func Marshal(c Command) ([]byte, error) {
	w := commandWire{
		Version:        wireVersion,
		CommandID:      c.CommandID,
		Change:         c.Change,
		HistoryAppend:  c.HistoryAppend,
		PrevStateID:    c.PrevStateID,
		NewStateID:     c.NewStateID,
		CreatorAddress: c.CreatorAddress,
		CreatorNodeID:  c.CreatorNodeID,
	}
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(w); err != nil {
		return nil, fmt.Errorf("command: marshaling: %w", err)
	}
	return buf.Bytes(), nil
}

// Unmarshal decodes data produced by Marshal. It returns an error rather
// than a partially-populated Command if data names a tag this decoder does
// not know.
func Unmarshal(data []byte) (Command, error) {
	var w commandWire
	dec := json.NewDecoder(bytes.NewReader(data))
	if err := dec.Decode(&w); err != nil {
		return Command{}, fmt.Errorf("command: unmarshaling: %w", err)
	}
	if w.Version > wireVersion {
		return Command{}, fmt.Errorf("command: wire version %d is newer than this decoder (%d): %w", w.Version, wireVersion, errUnknownTag)
	}
	return Command{
		CommandID:      w.CommandID,
		Change:         w.Change,
		HistoryAppend:  w.HistoryAppend,
		PrevStateID:    w.PrevStateID,
		NewStateID:     w.NewStateID,
		CreatorAddress: w.CreatorAddress,
		CreatorNodeID:  w.CreatorNodeID,
	}, nil
}
