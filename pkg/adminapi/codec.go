// Package adminapi exposes a small gRPC introspection surface over a
// Coordinator: cluster status, a tail of the history table, and a
// linearized k/v lookup. It intentionally does not use protoc-generated
// messages (the repository's DESIGN.md documents why); instead it
// registers a JSON grpc.Codec and a hand-written grpc.ServiceDesc, so the
// wire format is plain JSON over HTTP/2 rather than protobuf.
package adminapi

import (
	"encoding/json"
	"fmt"

	"google.golang.org/grpc/encoding"
)

const codecName = "json"

// jsonCodec implements encoding.Codec (google.golang.org/grpc/encoding)
// using encoding/json instead of protobuf wire encoding.
type jsonCodec struct{}

func (jsonCodec) Marshal(v interface{}) ([]byte, error) {
	return json.Marshal(v)
}

func (jsonCodec) Unmarshal(data []byte, v interface{}) error {
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("adminapi: decoding json message: %w", err)
	}
	return nil
}

func (jsonCodec) Name() string { return codecName }

func init() {
	encoding.RegisterCodec(jsonCodec{})
}
