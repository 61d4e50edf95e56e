package handler

import (
	"encoding/json"

	"google.golang.org/grpc/encoding"
)

// jsonCodec carries plain Go structs over gRPC. Clients select it with
// grpc.CallContentSubtype(jsonCodecName).
type jsonCodec struct{}

const jsonCodecName = "json"

func init() {
	encoding.RegisterCodec(jsonCodec{})
}

func (jsonCodec) Marshal(v any) ([]byte, error) {
	return json.Marshal(v)
}

func (jsonCodec) Unmarshal(data []byte, v any) error {
	return json.Unmarshal(data, v)
}

func (jsonCodec) Name() string {
	return jsonCodecName
}
