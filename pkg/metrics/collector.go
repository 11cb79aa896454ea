package metrics

import (
	"time"

	"github.com/hashicorp/raft"
)

// RaftCoordinator is the narrow surface Collector needs to poll a node's
// raft and history state. *group0.Coordinator satisfies it; the interface
// lives here, instead of importing pkg/group0 directly, so that pkg/group0
// is free to import pkg/metrics itself to update the counters and
// histograms declared in metrics.go directly from the events that produce
// them.
type RaftCoordinator interface {
	Raft() *raft.Raft
	IsLeader() bool
	HistoryCount() (int, error)
}

// Collector periodically samples a Coordinator's raft and history state
// into the gauges declared in metrics.go. Counters and histograms (GuardWaitDuration,
// ApplyDuration, ConcurrentModificationsTotal, ...) are updated directly
// by the packages that own those events; Collector only handles values
// that must be polled.
type Collector struct {
	coord  RaftCoordinator
	stopCh chan struct{}
}

// NewCollector creates a new metrics collector for coord.
func NewCollector(coord RaftCoordinator) *Collector {
	return &Collector{
		coord:  coord,
		stopCh: make(chan struct{}),
	}
}

// Start begins collecting metrics on a fixed interval.
func (c *Collector) Start() {
	ticker := time.NewTicker(15 * time.Second)
	go func() {
		c.collect()
		for {
			select {
			case <-ticker.C:
				c.collect()
			case <-c.stopCh:
				ticker.Stop()
				return
			}
		}
	}()
}

// Stop stops the collector.
func (c *Collector) Stop() {
	close(c.stopCh)
}

func (c *Collector) collect() {
	c.collectRaftMetrics()
	c.collectHistoryMetrics()
}

func (c *Collector) collectRaftMetrics() {
	r := c.coord.Raft()
	if r == nil {
		return
	}

	if c.coord.IsLeader() {
		RaftLeader.Set(1)
	} else {
		RaftLeader.Set(0)
	}

	RaftLogIndex.Set(float64(r.LastIndex()))
	RaftAppliedIndex.Set(float64(r.AppliedIndex()))

	future := r.GetConfiguration()
	if err := future.Error(); err == nil {
		RaftPeers.Set(float64(len(future.Configuration().Servers)))
	}
}

func (c *Collector) collectHistoryMetrics() {
	n, err := c.coord.HistoryCount()
	if err != nil {
		return
	}
	HistoryLength.Set(float64(n))
}
