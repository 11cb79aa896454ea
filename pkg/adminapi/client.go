package adminapi

import (
	"context"
	"fmt"

	"google.golang.org/grpc"
)

// client is a thin wrapper around a *grpc.ClientConn, invoking the
// AdminService methods through the JSON codec registered in codec.go.
type client struct {
	cc *grpc.ClientConn
}

// NewClient wraps cc as a Client. Every call passes
// grpc.CallContentSubtype(codecName) itself, so cc needs no default call
// options for the JSON codec to be selected.
func NewClient(cc *grpc.ClientConn) Client {
	return &client{cc: cc}
}

func (c *client) ClusterStatus(ctx context.Context, req *ClusterStatusRequest) (*ClusterStatusResponse, error) {
	out := new(ClusterStatusResponse)
	if err := c.cc.Invoke(ctx, "/"+serviceName+"/ClusterStatus", req, out, callOpts()...); err != nil {
		return nil, fmt.Errorf("adminapi: ClusterStatus: %w", err)
	}
	return out, nil
}

func (c *client) HistoryTail(ctx context.Context, req *HistoryTailRequest) (*HistoryTailResponse, error) {
	out := new(HistoryTailResponse)
	if err := c.cc.Invoke(ctx, "/"+serviceName+"/HistoryTail", req, out, callOpts()...); err != nil {
		return nil, fmt.Errorf("adminapi: HistoryTail: %w", err)
	}
	return out, nil
}

func (c *client) GetKV(ctx context.Context, req *GetKVRequest) (*GetKVResponse, error) {
	out := new(GetKVResponse)
	if err := c.cc.Invoke(ctx, "/"+serviceName+"/GetKV", req, out, callOpts()...); err != nil {
		return nil, fmt.Errorf("adminapi: GetKV: %w", err)
	}
	return out, nil
}

func callOpts() []grpc.CallOption {
	return []grpc.CallOption{grpc.CallContentSubtype(codecName)}
}
