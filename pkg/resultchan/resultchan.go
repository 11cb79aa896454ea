// Package resultchan implements the result side-channel: a transient,
// in-process mapping from a command's
// new state ID to the query result produced when that command was
// applied. It is populated on every node that applies a command, but only
// the node that proposed it ever calls Take.
package resultchan

import (
	"sync"

	"github.com/cuemby/group0/pkg/command"
	"github.com/cuemby/group0/pkg/stateid"
)

// Channel is a single process-wide side-channel; construct exactly one
// per node, alongside the guard manager and apply lock.
type Channel struct {
	mu      sync.Mutex
	results map[stateid.ID]command.KVQueryResult
}

// New returns an empty Channel.
func New() *Channel {
	return &Channel{results: make(map[stateid.ID]command.KVQueryResult)}
}

// Put stores result under id, overwriting any previous (stale) entry for
// the same id. Called by the state-machine applier for every applied
// k/v command, on every node.
func (c *Channel) Put(id stateid.ID, result command.KVQueryResult) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.results[id] = result
}

// Take removes and returns the result stored for id, if any. Called by the
// coordinator (pkg/group0) on the proposing node, after add_entry observes
// the command applied. A missing entry means apply skipped the command as a
// no-op.
func (c *Channel) Take(id stateid.ID) (command.KVQueryResult, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	r, ok := c.results[id]
	if ok {
		delete(c.results, id)
	}
	return r, ok
}
