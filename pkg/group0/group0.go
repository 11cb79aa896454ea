// Package group0 wires the guard manager, submission engine, state
// machine, history and k/v tables, and result side-channel onto a
// concrete hashicorp/raft replicated log, and exposes the small surface
// a node's CLI and admin API actually call: bootstrap, join, and the two
// proposal entry points (schema mutation, k/v query).
package group0

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/hashicorp/raft"
	raftboltdb "github.com/hashicorp/raft-boltdb"
	bolt "go.etcd.io/bbolt"
	"gopkg.in/yaml.v3"

	"github.com/cuemby/group0/pkg/command"
	"github.com/cuemby/group0/pkg/fsm"
	"github.com/cuemby/group0/pkg/guard"
	"github.com/cuemby/group0/pkg/history"
	"github.com/cuemby/group0/pkg/kvstore"
	"github.com/cuemby/group0/pkg/log"
	"github.com/cuemby/group0/pkg/metrics"
	"github.com/cuemby/group0/pkg/replicatedlog"
	"github.com/cuemby/group0/pkg/resultchan"
	"github.com/cuemby/group0/pkg/schema"
	"github.com/cuemby/group0/pkg/stateid"
	"github.com/cuemby/group0/pkg/submit"
)

// Config holds the settings needed to construct a Coordinator. It is
// plain and exported so callers can populate it directly or decode it
// from YAML.
type Config struct {
	NodeID   string `yaml:"node_id"`
	BindAddr string `yaml:"bind_addr"`
	DataDir  string `yaml:"data_dir"`

	// GuardEnabled selects between the fully guarded start_operation path
	// and the legacy path; it exists for migrating a
	// cluster onto this core incrementally.
	GuardEnabled bool `yaml:"guard_enabled"`

	// LeaderForwardingEnabled mirrors the deployment this core assumes
	// when true, a not-leader response from the replicated
	// log is a fatal broken invariant rather than a retryable condition.
	LeaderForwardingEnabled bool `yaml:"leader_forwarding_enabled"`

	ApplyTimeout time.Duration `yaml:"apply_timeout"`

	// HistoryGCInterval, when positive, runs history.Store.GC on this
	// period. Zero disables background GC.
	HistoryGCInterval time.Duration `yaml:"history_gc_interval"`
}

func (c *Config) setDefaults() {
	if c.ApplyTimeout == 0 {
		c.ApplyTimeout = 5 * time.Second
	}
}

// LoadConfigFile reads and decodes a YAML config file at path. Fields
// absent from the file keep Go's zero value; setDefaults is applied later
// by New, not here, so callers can still inspect an unpopulated field
// before construction.
func LoadConfigFile(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("group0: reading config file: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("group0: decoding config file: %w", err)
	}
	return cfg, nil
}

// Coordinator is one node's complete group0 core: raft transport and FSM,
// guard manager, submission engine, and the history/k/v tables and
// result side-channel the FSM operates on.
type Coordinator struct {
	cfg Config

	raft *raft.Raft
	fsm  *fsm.FSM

	guards    *guard.Manager
	submitter *submit.Submitter
	rlog      *raftLog
	history   history.Store
	kv        *kvstore.Engine
	results   *resultchan.Channel
	gen       *stateid.Generator

	stopGC chan struct{}
}

// New constructs a Coordinator's storage and application layers without
// starting raft. Call Bootstrap or Join next.
func New(cfg Config, merger schema.Merger) (*Coordinator, error) {
	cfg.setDefaults()

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("group0: creating data dir: %w", err)
	}

	h, err := history.Open(filepath.Join(cfg.DataDir, "group0-history.db"))
	if err != nil {
		return nil, fmt.Errorf("group0: opening history store: %w", err)
	}

	kvDB, err := bolt.Open(filepath.Join(cfg.DataDir, "group0-kv.db"), 0o600, nil)
	if err != nil {
		return nil, fmt.Errorf("group0: opening kv store: %w", err)
	}
	kv, err := kvstore.NewEngine(kvDB)
	if err != nil {
		return nil, fmt.Errorf("group0: initializing kv engine: %w", err)
	}

	locks := guard.NewLocks()
	results := resultchan.New()
	f := fsm.New(locks, h, kv, results, merger)
	gen := stateid.NewGenerator()

	c := &Coordinator{
		cfg:     cfg,
		fsm:     f,
		history: h,
		kv:      kv,
		results: results,
		gen:     gen,
	}

	rlog := &raftLog{applyTimeout: cfg.ApplyTimeout}
	c.rlog = rlog
	c.guards = guard.NewManager(rlog, h, gen, locks, cfg.GuardEnabled)
	c.submitter = submit.NewSubmitter(rlog, h, cfg.LeaderForwardingEnabled)

	return c, nil
}

// raftLog adapts *raft.Raft to replicatedlog.Log, the boundary kept
// external to this core. It is filled in with the live
// *raft.Raft once Bootstrap or Join constructs it, since both need the
// FSM constructed first.
type raftLog struct {
	raft         *raft.Raft
	applyTimeout time.Duration
}

func (r *raftLog) AddEntry(ctx context.Context, data []byte) error {
	if r.raft == nil {
		return fmt.Errorf("group0: raft not started")
	}
	future := r.raft.Apply(data, r.applyTimeout)
	errCh := make(chan error, 1)
	go func() { errCh <- future.Error() }()
	var err error
	select {
	case <-ctx.Done():
		return ctx.Err()
	case err = <-errCh:
	}
	if err != nil {
		return classifyRaftError(err)
	}
	if resp := future.Response(); resp != nil {
		if err, ok := resp.(error); ok && err != nil {
			return err
		}
	}
	return nil
}

func (r *raftLog) ReadBarrier(ctx context.Context) error {
	if r.raft == nil {
		return fmt.Errorf("group0: raft not started")
	}
	future := r.raft.Barrier(r.applyTimeout)
	if err := future.Error(); err != nil {
		return classifyRaftError(err)
	}
	return nil
}

// classifyRaftError maps hashicorp/raft's own sentinel errors onto the
// replicatedlog sentinels the submission engine understands.
func classifyRaftError(err error) error {
	switch {
	case errors.Is(err, raft.ErrNotLeader), errors.Is(err, raft.ErrLeadershipLost):
		return fmt.Errorf("group0: %w: %w", replicatedlog.ErrNotALeader, err)
	case errors.Is(err, raft.ErrEnqueueTimeout):
		return fmt.Errorf("group0: %w: %w", replicatedlog.ErrDroppedEntry, err)
	case errors.Is(err, raft.ErrRaftShutdown):
		return fmt.Errorf("group0: raft shutdown: %w", err)
	default:
		return fmt.Errorf("group0: %w: %w", replicatedlog.ErrCommitStatusUnknown, err)
	}
}

func raftConfig(nodeID string) *raft.Config {
	cfg := raft.DefaultConfig()
	cfg.LocalID = raft.ServerID(nodeID)
	return cfg
}

func (c *Coordinator) newRaft(fsmImpl raft.FSM) (*raft.Raft, raft.ServerAddress, error) {
	addr, err := net.ResolveTCPAddr("tcp", c.cfg.BindAddr)
	if err != nil {
		return nil, "", fmt.Errorf("group0: resolving bind address: %w", err)
	}

	transport, err := raft.NewTCPTransport(c.cfg.BindAddr, addr, 3, 10*time.Second, os.Stderr)
	if err != nil {
		return nil, "", fmt.Errorf("group0: creating raft transport: %w", err)
	}

	snapshotStore, err := raft.NewFileSnapshotStore(c.cfg.DataDir, 2, os.Stderr)
	if err != nil {
		return nil, "", fmt.Errorf("group0: creating snapshot store: %w", err)
	}

	logStore, err := raftboltdb.NewBoltStore(filepath.Join(c.cfg.DataDir, "raft-log.db"))
	if err != nil {
		return nil, "", fmt.Errorf("group0: creating raft log store: %w", err)
	}

	stableStore, err := raftboltdb.NewBoltStore(filepath.Join(c.cfg.DataDir, "raft-stable.db"))
	if err != nil {
		return nil, "", fmt.Errorf("group0: creating raft stable store: %w", err)
	}

	r, err := raft.NewRaft(raftConfig(c.cfg.NodeID), fsmImpl, logStore, stableStore, snapshotStore, transport)
	if err != nil {
		return nil, "", fmt.Errorf("group0: starting raft: %w", err)
	}
	return r, transport.LocalAddr(), nil
}

// Bootstrap starts a brand-new single-node cluster.
func (c *Coordinator) Bootstrap() error {
	r, localAddr, err := c.newRaft(c.fsm)
	if err != nil {
		return err
	}

	future := r.BootstrapCluster(raft.Configuration{
		Servers: []raft.Server{{ID: raft.ServerID(c.cfg.NodeID), Address: localAddr}},
	})
	if err := future.Error(); err != nil {
		return fmt.Errorf("group0: bootstrapping cluster: %w", err)
	}

	c.raft = r
	c.attachRaft(r)
	c.startBackgroundGC()
	log.WithComponent("group0").Info().Str("node_id", c.cfg.NodeID).Msg("bootstrapped new cluster")
	return nil
}

// Join starts raft on this node without bootstrapping a configuration;
// the caller is expected to have already asked an existing leader to
// AddVoter this node: cluster membership is the replicated log's own
// concern, not something this core drives itself.
func (c *Coordinator) Join() error {
	r, _, err := c.newRaft(c.fsm)
	if err != nil {
		return err
	}
	c.raft = r
	c.attachRaft(r)
	c.startBackgroundGC()
	log.WithComponent("group0").Info().Str("node_id", c.cfg.NodeID).Msg("joined cluster")
	return nil
}

func (c *Coordinator) attachRaft(r *raft.Raft) {
	// Both guards and submitter hold the same *raftLog built in New; fill
	// in the live raft handle now that it exists.
	c.rlog.raft = r
}

// AddVoter adds a new member to the cluster; must be called on the
// leader; cluster membership is the replicated log's own concern.
func (c *Coordinator) AddVoter(nodeID, addr string) error {
	if c.raft.State() != raft.Leader {
		return fmt.Errorf("group0: not leader, current leader is %s", c.raft.Leader())
	}
	future := c.raft.AddVoter(raft.ServerID(nodeID), raft.ServerAddress(addr), 0, 10*time.Second)
	return future.Error()
}

// IsLeader reports whether this node currently holds raft leadership.
func (c *Coordinator) IsLeader() bool { return c.raft != nil && c.raft.State() == raft.Leader }

// ProposeKV runs the full guarded path for a single k/v query: acquire
// a guard, build the command, submit it, and return the result produced
// when it was applied.
func (c *Coordinator) ProposeKV(ctx context.Context, q command.KVQuery) (command.KVQueryResult, error) {
	timer := metrics.NewTimer()
	defer timer.ObserveDurationVec(metrics.ProposeDuration, "kv_query")

	g, err := c.guards.StartOperation(ctx)
	if err != nil {
		return command.KVQueryResult{}, fmt.Errorf("group0: starting operation: %w", err)
	}

	cmd := command.Command{
		CommandID:      command.NewCommandID(),
		Change:         command.Change{Kind: command.ChangeKVQuery, KVQuery: &q},
		HistoryAppend:  c.history.BuildAppend(g.NewStateID, describeKVQuery(q), 0),
		PrevStateID:    guardedPrevStateID(g),
		NewStateID:     g.NewStateID,
		CreatorAddress: c.cfg.BindAddr,
		CreatorNodeID:  c.cfg.NodeID,
	}

	if err := c.submitter.AddEntry(ctx, cmd, g); err != nil {
		return command.KVQueryResult{}, err
	}

	result, ok := c.results.Take(cmd.NewStateID)
	if !ok {
		return command.KVQueryResult{}, fmt.Errorf("group0: no result recorded for state id %s", cmd.NewStateID)
	}
	return result, nil
}

// ProposeSchemaMutation submits a schema mutation batch through the
// guarded path, with no query result to return.
func (c *Coordinator) ProposeSchemaMutation(ctx context.Context, batch []byte) error {
	timer := metrics.NewTimer()
	defer timer.ObserveDurationVec(metrics.ProposeDuration, "schema_mutation")

	g, err := c.guards.StartOperation(ctx)
	if err != nil {
		return fmt.Errorf("group0: starting operation: %w", err)
	}

	cmd := command.Command{
		CommandID:      command.NewCommandID(),
		Change:         command.Change{Kind: command.ChangeSchemaMutation, SchemaMutation: &command.SchemaMutationBatch{Mutations: batch}},
		HistoryAppend:  c.history.BuildAppend(g.NewStateID, "schema_mutation", 0),
		PrevStateID:    guardedPrevStateID(g),
		NewStateID:     g.NewStateID,
		CreatorAddress: c.cfg.BindAddr,
		CreatorNodeID:  c.cfg.NodeID,
	}

	return c.submitter.AddEntry(ctx, cmd, g)
}

// guardedPrevStateID returns a pointer to g's observed state ID when g
// went through the locked guard path, or nil when it did not: the
// distinction between a guarded submission (conditional apply) and the
// unguarded/legacy path (unconditional apply).
func guardedPrevStateID(g *guard.Guard) *stateid.ID {
	if !g.Guarded() {
		return nil
	}
	observed := g.ObservedStateID
	return &observed
}

func describeKVQuery(q command.KVQuery) string {
	switch q.Kind {
	case command.KVQuerySelect:
		return "select " + string(q.Select.Key)
	case command.KVQueryUpdate:
		return "update " + string(q.Update.Key)
	default:
		return "kv_query"
	}
}

func (c *Coordinator) startBackgroundGC() {
	if c.cfg.HistoryGCInterval <= 0 {
		return
	}
	c.stopGC = make(chan struct{})
	go func() {
		ticker := time.NewTicker(c.cfg.HistoryGCInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if err := c.history.GC(); err != nil {
					log.WithComponent("group0").Warn().Err(err).Msg("history gc failed")
				}
			case <-c.stopGC:
				return
			}
		}
	}()
}

// Shutdown stops background work and the raft instance.
func (c *Coordinator) Shutdown() error {
	if c.stopGC != nil {
		close(c.stopGC)
	}
	if c.raft == nil {
		return nil
	}
	return c.raft.Shutdown().Error()
}

// History exposes the history store for read-only introspection
// (pkg/adminapi).
func (c *Coordinator) History() history.Store { return c.history }

// HistoryCount reports the number of entries currently retained in the
// history table, for metrics polling (pkg/metrics.Collector).
func (c *Coordinator) HistoryCount() (int, error) { return c.history.Count() }

// NodeID returns this node's configured raft server ID, for status
// reporting (pkg/adminapi).
func (c *Coordinator) NodeID() string { return c.cfg.NodeID }

// KV exposes the k/v engine for read-only introspection.
func (c *Coordinator) KV() *kvstore.Engine { return c.kv }

// Raft exposes the underlying *raft.Raft for status reporting
// (pkg/adminapi, pkg/metrics).
func (c *Coordinator) Raft() *raft.Raft { return c.raft }
