// Package history implements the group0_history table: an append-only,
// persistent, linearly ordered record of state IDs of successfully applied
// commands.
//
// The store's BuildAppend does not itself write to disk. It builds a Mutation
// value that the caller threads through the same command pipeline as the
// payload mutation, and persists with Apply, normally as the last step of
// the state-machine applier. This mirrors the storage engine's
// mutate_locally boundary: history is a table like any other, not a
// side-table with its own write path.
package history

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/cuemby/group0/pkg/log"
	"github.com/cuemby/group0/pkg/metrics"
	"github.com/cuemby/group0/pkg/stateid"
	bolt "go.etcd.io/bbolt"
)

var bucketHistory = []byte("group0_history")

// Mutation is the not-yet-persisted record of a single history append.
// Its ID becomes the new history key once Apply runs.
type Mutation struct {
	ID          stateid.ID
	Description string
	GCAfter     time.Duration
}

// Entry is one persisted history row, as reported to introspection callers.
type Entry struct {
	ID          stateid.ID
	Description string
}

type entry struct {
	Description string        `json:"description"`
	GCAfter     time.Duration `json:"gc_after"`
	AppliedAt   time.Time     `json:"applied_at"`
}

// Store is the history-table interface consumed by the guard manager,
// submission engine, and state-machine applier.
type Store interface {
	// BuildAppend constructs the mutation recording id into the history.
	// It performs no I/O; the caller is responsible for persisting the
	// result via Apply.
	BuildAppend(id stateid.ID, description string, gcAfter time.Duration) Mutation

	// Apply persists a previously built mutation.
	Apply(m Mutation) error

	// Last returns the most recently applied state ID, or stateid.Zero
	// if the history is empty.
	Last() (stateid.ID, error)

	// Contains reports whether id has been recorded.
	Contains(id stateid.ID) (bool, error)

	// Count returns the number of entries currently retained.
	Count() (int, error)

	// Tail returns up to n of the most recent entries, newest last. n <= 0
	// returns an empty slice.
	Tail(n int) ([]Entry, error)

	// GC reclaims entries whose gc_after has elapsed, always pinning the
	// newest entry.
	GC() error

	Close() error
}

// BoltStore is a bbolt-backed Store. Keys are the 16-byte state ID, which
// sorts identically to the ID's own total order, so "last" is simply the
// bucket's last key — no separate watermark is needed.
type BoltStore struct {
	db *bolt.DB
}

// Open opens (creating if absent) a bbolt-backed history store at path.
func Open(path string) (*BoltStore, error) {
	db, err := bolt.Open(path, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("history: opening db: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketHistory)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("history: creating bucket: %w", err)
	}
	return &BoltStore{db: db}, nil
}

func (s *BoltStore) BuildAppend(id stateid.ID, description string, gcAfter time.Duration) Mutation {
	return Mutation{ID: id, Description: description, GCAfter: gcAfter}
}

func (s *BoltStore) Apply(m Mutation) error {
	e := entry{Description: m.Description, GCAfter: m.GCAfter, AppliedAt: time.Now().UTC()}
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("history: marshaling entry: %w", err)
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketHistory)
		return b.Put(m.ID[:], data)
	})
}

func (s *BoltStore) Last() (stateid.ID, error) {
	var last stateid.ID
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketHistory).Cursor()
		k, _ := c.Last()
		if k == nil {
			return nil
		}
		var err error
		last, err = idFromKey(k)
		return err
	})
	return last, err
}

func (s *BoltStore) Contains(id stateid.ID) (bool, error) {
	var found bool
	err := s.db.View(func(tx *bolt.Tx) error {
		found = tx.Bucket(bucketHistory).Get(id[:]) != nil
		return nil
	})
	return found, err
}

func (s *BoltStore) Count() (int, error) {
	var n int
	err := s.db.View(func(tx *bolt.Tx) error {
		n = tx.Bucket(bucketHistory).Stats().KeyN
		return nil
	})
	return n, err
}

// Tail returns up to n of the most recently applied entries, newest last,
// by walking the bucket's cursor backward from its last key. n <= 0
// returns an empty slice without touching the database.
func (s *BoltStore) Tail(n int) ([]Entry, error) {
	if n <= 0 {
		return nil, nil
	}
	var entries []Entry
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketHistory).Cursor()
		for k, v := c.Last(); k != nil && len(entries) < n; k, v = c.Prev() {
			id, err := idFromKey(k)
			if err != nil {
				return err
			}
			var e entry
			if err := json.Unmarshal(v, &e); err != nil {
				return fmt.Errorf("history: decoding entry during tail: %w", err)
			}
			entries = append(entries, Entry{ID: id, Description: e.Description})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	for i, j := 0, len(entries)-1; i < j; i, j = i+1, j-1 {
		entries[i], entries[j] = entries[j], entries[i]
	}
	return entries, nil
}

// GC deletes entries whose gc_after has elapsed since they were applied,
// never touching the newest entry. Entries with a zero gc_after are never
// deleted.
func (s *BoltStore) GC() error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketHistory)
		c := b.Cursor()
		lastKey, _ := c.Last()
		if lastKey == nil {
			return nil
		}
		now := time.Now().UTC()

		var toDelete [][]byte
		for k, v := c.First(); k != nil; k, v = c.Next() {
			if string(k) == string(lastKey) {
				continue
			}
			var e entry
			if err := json.Unmarshal(v, &e); err != nil {
				return fmt.Errorf("history: decoding entry during gc: %w", err)
			}
			if e.GCAfter > 0 && now.Sub(e.AppliedAt) > e.GCAfter {
				key := make([]byte, len(k))
				copy(key, k)
				toDelete = append(toDelete, key)
			}
		}
		for _, k := range toDelete {
			if err := b.Delete(k); err != nil {
				return err
			}
		}
		if len(toDelete) > 0 {
			metrics.HistoryGCedTotal.Add(float64(len(toDelete)))
			log.WithComponent("history").Debug().Int("count", len(toDelete)).Msg("garbage collected history entries")
		}
		return nil
	})
}

func (s *BoltStore) Close() error {
	return s.db.Close()
}

func idFromKey(k []byte) (stateid.ID, error) {
	var id stateid.ID
	if len(k) != 16 {
		return id, fmt.Errorf("history: corrupt key length %d", len(k))
	}
	copy(id[:], k)
	return id, nil
}
