package rpc

import (
	"encoding/json"

	"google.golang.org/grpc/encoding"
)

// jsonCodecName is the content subtype diagnostics calls are made with.
const jsonCodecName = "json"

// jsonCodec lets plain Go structs travel over gRPC without generated stubs.
type jsonCodec struct{}

func (jsonCodec) Marshal(v any) ([]byte, error)      { return json.Marshal(v) }
func (jsonCodec) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }
func (jsonCodec) Name() string                       { return jsonCodecName }

func init() {
	encoding.RegisterCodec(jsonCodec{})
}
