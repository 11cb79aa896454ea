package adminapi

import (
	"context"

	"google.golang.org/grpc"
)

// ClusterStatusRequest carries no fields; defined as a struct rather than
// reusing an empty interface so the JSON codec always has a concrete
// type to decode into.
type ClusterStatusRequest struct{}

// ClusterStatusResponse reports this node's view of the raft cluster and
// the size of its history table.
type ClusterStatusResponse struct {
	NodeID        string `json:"node_id"`
	IsLeader      bool   `json:"is_leader"`
	LeaderAddress string `json:"leader_address"`
	RaftState     string `json:"raft_state"`
	Peers         int    `json:"peers"`
	LastLogIndex  uint64 `json:"last_log_index"`
	AppliedIndex  uint64 `json:"applied_index"`
	HistoryLength int    `json:"history_length"`
}

// HistoryTailRequest asks for the most recent N history entries.
type HistoryTailRequest struct {
	Count int `json:"count"`
}

// HistoryTailResponse carries the tail of the history table, newest
// last.
type HistoryTailResponse struct {
	Entries []HistoryEntry `json:"entries"`
}

// HistoryEntry is one row of the history table, rendered for
// introspection.
type HistoryEntry struct {
	StateID     string `json:"state_id"`
	Description string `json:"description"`
}

// GetKVRequest asks for the current value of a single key.
type GetKVRequest struct {
	Key string `json:"key"`
}

// GetKVResponse carries the current value, if any.
type GetKVResponse struct {
	Found bool   `json:"found"`
	Value string `json:"value,omitempty"`
}

// Server is the interface a concrete implementation (server.go) and any
// test double must satisfy.
type Server interface {
	ClusterStatus(ctx context.Context, req *ClusterStatusRequest) (*ClusterStatusResponse, error)
	HistoryTail(ctx context.Context, req *HistoryTailRequest) (*HistoryTailResponse, error)
	GetKV(ctx context.Context, req *GetKVRequest) (*GetKVResponse, error)
}

// Client is the interface RegisterServer's counterpart, NewClient,
// returns.
type Client interface {
	ClusterStatus(ctx context.Context, req *ClusterStatusRequest) (*ClusterStatusResponse, error)
	HistoryTail(ctx context.Context, req *HistoryTailRequest) (*HistoryTailResponse, error)
	GetKV(ctx context.Context, req *GetKVRequest) (*GetKVResponse, error)
}

const serviceName = "group0.admin.AdminService"

var serviceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*Server)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "ClusterStatus", Handler: clusterStatusHandler},
		{MethodName: "HistoryTail", Handler: historyTailHandler},
		{MethodName: "GetKV", Handler: getKVHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "pkg/adminapi/service.go",
}

func clusterStatusHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(ClusterStatusRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(Server).ClusterStatus(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + serviceName + "/ClusterStatus"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(Server).ClusterStatus(ctx, req.(*ClusterStatusRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func historyTailHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(HistoryTailRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(Server).HistoryTail(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + serviceName + "/HistoryTail"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(Server).HistoryTail(ctx, req.(*HistoryTailRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func getKVHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(GetKVRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(Server).GetKV(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + serviceName + "/GetKV"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(Server).GetKV(ctx, req.(*GetKVRequest))
	}
	return interceptor(ctx, in, info, handler)
}

// RegisterServer registers srv with s under the AdminService name.
func RegisterServer(s *grpc.Server, srv Server) {
	s.RegisterService(&serviceDesc, srv)
}
