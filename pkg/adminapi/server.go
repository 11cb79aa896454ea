package adminapi

import (
	"context"
	"fmt"

	"github.com/cuemby/group0/pkg/command"
	"github.com/cuemby/group0/pkg/group0"
)

// server implements Server over a live Coordinator. No RPC changes a k/v
// value: ClusterStatus and HistoryTail read local state directly,
// and GetKV runs a select through the same guarded proposal path a
// regular client would use, so its answer reflects the linearized
// history rather than a potentially stale local read. That select is a
// committed command, so it appends one history entry.
type server struct {
	coord *group0.Coordinator
}

// NewServer wraps coord as a Server.
func NewServer(coord *group0.Coordinator) Server {
	return &server{coord: coord}
}

func (s *server) ClusterStatus(ctx context.Context, req *ClusterStatusRequest) (*ClusterStatusResponse, error) {
	r := s.coord.Raft()
	if r == nil {
		return nil, fmt.Errorf("adminapi: raft not started")
	}

	peers := 0
	if future := r.GetConfiguration(); future.Error() == nil {
		peers = len(future.Configuration().Servers)
	}

	n, err := s.coord.History().Count()
	if err != nil {
		return nil, fmt.Errorf("adminapi: reading history length: %w", err)
	}

	return &ClusterStatusResponse{
		NodeID:        s.coord.NodeID(),
		IsLeader:      s.coord.IsLeader(),
		LeaderAddress: string(r.Leader()),
		RaftState:     r.State().String(),
		Peers:         peers,
		LastLogIndex:  r.LastIndex(),
		AppliedIndex:  r.AppliedIndex(),
		HistoryLength: n,
	}, nil
}

func (s *server) HistoryTail(ctx context.Context, req *HistoryTailRequest) (*HistoryTailResponse, error) {
	n := req.Count
	if n <= 0 {
		n = 1
	}
	tail, err := s.coord.History().Tail(n)
	if err != nil {
		return nil, fmt.Errorf("adminapi: reading history tail: %w", err)
	}
	entries := make([]HistoryEntry, len(tail))
	for i, e := range tail {
		entries[i] = HistoryEntry{StateID: e.ID.String(), Description: e.Description}
	}
	return &HistoryTailResponse{Entries: entries}, nil
}

func (s *server) GetKV(ctx context.Context, req *GetKVRequest) (*GetKVResponse, error) {
	result, err := s.coord.ProposeKV(ctx, command.KVQuery{
		Kind:   command.KVQuerySelect,
		Select: &command.SelectQuery{Key: []byte(req.Key)},
	})
	if err != nil {
		return nil, fmt.Errorf("adminapi: querying key: %w", err)
	}
	if result.Select == nil || result.Select.Value == nil {
		return &GetKVResponse{Found: false}, nil
	}
	return &GetKVResponse{Found: true, Value: string(*result.Select.Value)}, nil
}
