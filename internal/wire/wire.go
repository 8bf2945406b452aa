// Package wire lets plain Go structs travel over gRPC without generated
// protobuf code. Importing it replaces the default "proto" codec with a thin
// wrapper that JSON-encodes any [Message] and hands every real protobuf
// message to the standard proto codec.
package wire

import (
	"encoding/json"
	"fmt"

	"google.golang.org/grpc/encoding"
	_ "google.golang.org/grpc/encoding/proto" // ensure default proto codec is registered first
	"google.golang.org/protobuf/proto"
)

// Message is implemented by request and reply types that travel as JSON.
type Message interface {
	JSONMessage()
}

func init() {
	encoding.RegisterCodec(Codec{})
}

// Codec is the registered "proto" codec.
type Codec struct{}

func (Codec) Name() string { return "proto" }

func (Codec) Marshal(v any) ([]byte, error) {
	if _, ok := v.(Message); ok {
		return json.Marshal(v)
	}
	if m, ok := v.(proto.Message); ok {
		return proto.Marshal(m)
	}
	return nil, fmt.Errorf("wire: unsupported message type %T", v)
}

func (Codec) Unmarshal(data []byte, v any) error {
	if _, ok := v.(Message); ok {
		return json.Unmarshal(data, v)
	}
	if m, ok := v.(proto.Message); ok {
		return proto.Unmarshal(data, m)
	}
	return fmt.Errorf("wire: unsupported message type %T", v)
}
