// Package guard implements the per-node locks and the start_operation
// sequence: it mediates the start of every proposed operation, acquiring
// the operation lock, running the read barrier, acquiring the apply
// lock, and snapshotting/pre-allocating the state-ID pair a command will
// use.
package guard

import (
	"context"
	"fmt"
	"sync"

	"github.com/cuemby/group0/pkg/history"
	"github.com/cuemby/group0/pkg/log"
	"github.com/cuemby/group0/pkg/metrics"
	"github.com/cuemby/group0/pkg/replicatedlog"
	"github.com/cuemby/group0/pkg/stateid"
)

// Locks is the pair of per-node mutexes shared between the guard manager
// and the state-machine applier: the operation lock serializes local
// proposers, and the apply lock is mutually exclusive between guard
// issuance, command application, and snapshot installation. Construct
// exactly one Locks per node.
type Locks struct {
	opMu    sync.Mutex
	applyMu sync.Mutex
}

// NewLocks returns a fresh, unheld lock pair.
func NewLocks() *Locks {
	return &Locks{}
}

// LockApply acquires the apply lock. Used directly by the state-machine
// applier and snapshot installer, and indirectly by Manager.StartOperation.
func (l *Locks) LockApply() { l.applyMu.Lock() }

// UnlockApply releases the apply lock.
func (l *Locks) UnlockApply() { l.applyMu.Unlock() }

// Guard is the proposer-side token returned by StartOperation: it owns
// both per-node locks for the duration of one operation and carries the
// (observed, new) state-ID pair.
type Guard struct {
	ObservedStateID stateid.ID
	NewStateID      stateid.ID

	locks *Locks

	mu        sync.Mutex
	opHeld    bool
	applyHeld bool
	hasLocks  bool // false for the legacy/disabled-core guard, which owns no locks
}

// Guarded reports whether this guard went through the locked path and
// therefore carries a meaningful ObservedStateID. A guard from the
// legacy/disabled-core path returns false: its commands must be
// submitted unconditionally, not gated on ObservedStateID, since no read
// barrier ever ran to justify treating it as current.
func (g *Guard) Guarded() bool { return g.hasLocks }

// ReleaseApplyLock releases the apply lock only, leaving the operation
// lock held. The submission engine calls this immediately after
// serializing the command, so this node's applier can make progress on
// this and prior commands while the log round-trip is in flight.
func (g *Guard) ReleaseApplyLock() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.hasLocks && g.applyHeld {
		g.locks.UnlockApply()
		g.applyHeld = false
	}
}

// Release releases whatever locks this guard still holds. It is safe to
// call more than once; only the first call after each lock is acquired has
// an effect. Dropping a Guard without calling Release leaks the operation
// lock and starves every other local proposer, so callers must defer it
// immediately after StartOperation succeeds.
func (g *Guard) Release() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.hasLocks {
		return
	}
	if g.applyHeld {
		g.locks.UnlockApply()
		g.applyHeld = false
	}
	if g.opHeld {
		g.locks.opMu.Unlock()
		g.opHeld = false
	}
}

// Manager implements start_operation.
type Manager struct {
	locks   *Locks
	history history.Store
	gen     *stateid.Generator
	rlog    replicatedlog.Log
	enabled bool
}

// NewManager constructs the guard manager. When enabled is false,
// StartOperation follows the legacy path: it returns a guard that owns no
// locks, has a zero ObservedStateID, and still allocates a fresh
// NewStateID.
func NewManager(rlog replicatedlog.Log, h history.Store, gen *stateid.Generator, locks *Locks, enabled bool) *Manager {
	return &Manager{locks: locks, history: h, gen: gen, rlog: rlog, enabled: enabled}
}

// StartOperation runs the guard-acquisition sequence: operation lock,
// read barrier, apply lock, observe history.last(), allocate
// new_state_id. On any failure it releases whatever locks it had already
// acquired before returning the error.
func (m *Manager) StartOperation(ctx context.Context) (*Guard, error) {
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.GuardWaitDuration)

	if !m.enabled {
		newID, err := m.gen.Next(stateid.Zero)
		if err != nil {
			return nil, fmt.Errorf("guard: generating state id on legacy path: %w", err)
		}
		return &Guard{NewStateID: newID, hasLocks: false}, nil
	}

	m.locks.opMu.Lock()
	g := &Guard{locks: m.locks, hasLocks: true, opHeld: true}

	if err := ctx.Err(); err != nil {
		g.Release()
		return nil, err
	}

	if err := m.rlog.ReadBarrier(ctx); err != nil {
		g.Release()
		return nil, fmt.Errorf("guard: read barrier: %w", err)
	}

	// The apply lock is acquired only after the barrier returns: the
	// barrier itself may need to take the apply lock to let this node's
	// applier drain, so acquiring apply first would deadlock.
	m.locks.LockApply()
	g.applyHeld = true

	if err := ctx.Err(); err != nil {
		g.Release()
		return nil, err
	}

	observed, err := m.history.Last()
	if err != nil {
		g.Release()
		return nil, fmt.Errorf("guard: reading history.last(): %w", err)
	}

	newID, err := m.gen.Next(observed)
	if err != nil {
		g.Release()
		return nil, fmt.Errorf("guard: generating new state id: %w", err)
	}

	g.ObservedStateID = observed
	g.NewStateID = newID

	log.WithComponent("guard").Debug().
		Str("observed_state_id", observed.String()).
		Str("new_state_id", newID.String()).
		Msg("operation started")

	return g, nil
}
