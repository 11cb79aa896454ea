// Package kvstore executes select/update/conditional-update payloads
// against the single-column-per-row group0_kv_store table, with write
// timestamps derived from the applying command's new state ID.
//
// Reads are local: the caller is expected to already hold the apply lock,
// so a local read reflects every commit applied so far on this node.
package kvstore

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/cuemby/group0/pkg/command"
	"github.com/cuemby/group0/pkg/metrics"
	bolt "go.etcd.io/bbolt"
)

var bucketKV = []byte("group0_kv_store")

// ErrMultipleRows names the rejection of more than one clustering row per
// partition key. Engine never returns it: a key holds exactly one cell and
// no query shape in this package can address a second row.
var ErrMultipleRows = fmt.Errorf("kvstore: only one row per partition key is supported in this version")

type cell struct {
	Value     []byte `json:"value"`
	Timestamp int64  `json:"timestamp"`
}

// Engine executes k/v queries against a bbolt-backed table.
type Engine struct {
	db *bolt.DB
}

// NewEngine wraps db, creating the group0_kv_store bucket if absent.
// pkg/group0 opens db as a file of its own, separate from the history
// store's file, so the payload write and the history append are two
// separate bbolt transactions, not one.
func NewEngine(db *bolt.DB) (*Engine, error) {
	err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketKV)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("kvstore: creating bucket: %w", err)
	}
	return &Engine{db: db}, nil
}

// Execute runs q against the table, using newStateMicros as the
// write-timestamp source for any mutation it performs.
func (e *Engine) Execute(q command.KVQuery, newStateMicros int64) (command.KVQueryResult, error) {
	switch q.Kind {
	case command.KVQuerySelect:
		metrics.KVQueriesTotal.WithLabelValues("select").Inc()
		return e.execSelect(q.Select)
	case command.KVQueryUpdate:
		metrics.KVQueriesTotal.WithLabelValues("update").Inc()
		return e.execUpdate(q.Update, newStateMicros)
	default:
		return command.KVQueryResult{}, fmt.Errorf("kvstore: unsupported query kind %q", q.Kind)
	}
}

func (e *Engine) execSelect(q *command.SelectQuery) (command.KVQueryResult, error) {
	var result command.SelectResult
	err := e.db.View(func(tx *bolt.Tx) error {
		c, err := getCell(tx, q.Key)
		if err != nil {
			return err
		}
		if c != nil {
			v := append([]byte(nil), c.Value...)
			result.Value = &v
		}
		return nil
	})
	if err != nil {
		return command.KVQueryResult{}, err
	}
	return command.KVQueryResult{Kind: command.KVResultSelect, Select: &result}, nil
}

func (e *Engine) execUpdate(q *command.UpdateQuery, newStateMicros int64) (command.KVQueryResult, error) {
	var result command.ConditionalUpdateResult
	unconditional := q.ValueCondition == nil

	err := e.db.Update(func(tx *bolt.Tx) error {
		existing, err := getCell(tx, q.Key)
		if err != nil {
			return err
		}

		var previousValue *[]byte
		if existing != nil {
			v := append([]byte(nil), existing.Value...)
			previousValue = &v
		}
		result.PreviousValue = previousValue

		if !unconditional {
			matches := existing != nil && bytes.Equal(existing.Value, *q.ValueCondition)
			if !matches {
				result.Applied = false
				return nil
			}
		}

		ts := newStateMicros
		if existing != nil && existing.Timestamp+1 > ts {
			ts = existing.Timestamp + 1
		}

		newCell := cell{Value: q.NewValue, Timestamp: ts}
		data, err := json.Marshal(newCell)
		if err != nil {
			return fmt.Errorf("kvstore: marshaling cell: %w", err)
		}
		if err := tx.Bucket(bucketKV).Put(q.Key, data); err != nil {
			return err
		}
		result.Applied = true
		return nil
	})
	if err != nil {
		return command.KVQueryResult{}, err
	}

	if unconditional {
		return command.KVQueryResult{Kind: command.KVResultNone}, nil
	}
	return command.KVQueryResult{Kind: command.KVResultConditionalUpdate, ConditionalUpdate: &result}, nil
}

func getCell(tx *bolt.Tx, key []byte) (*cell, error) {
	data := tx.Bucket(bucketKV).Get(key)
	if data == nil {
		return nil, nil
	}
	var c cell
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("kvstore: decoding cell: %w", err)
	}
	return &c, nil
}
