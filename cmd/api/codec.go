package main

import (
	"encoding/json"

	"google.golang.org/grpc"
	"google.golang.org/grpc/encoding"
)

// The chat stream carries the same JSON frames as the websocket endpoint, so
// it uses a JSON codec and a hand-declared service descriptor instead of
// generated protobuf stubs. Clients select the codec with the "json"
// content-subtype.

const (
	chatServiceName   = "chat.v1.ChatService"
	connectMethod     = "/" + chatServiceName + "/Connect"
	jsonCodecName     = "json"
	connectStreamName = "Connect"
)

func init() {
	encoding.RegisterCodec(jsonCodec{})
}

type jsonCodec struct{}

func (jsonCodec) Name() string { return jsonCodecName }

// Marshal passes raw frames through untouched and encodes everything else
// with encoding/json.
func (jsonCodec) Marshal(v any) ([]byte, error) {
	switch m := v.(type) {
	case json.RawMessage:
		return m, nil
	case *json.RawMessage:
		return *m, nil
	}
	return json.Marshal(v)
}

func (jsonCodec) Unmarshal(b []byte, v any) error {
	if raw, ok := v.(*json.RawMessage); ok {
		*raw = append((*raw)[:0], b...)
		return nil
	}
	return json.Unmarshal(b, v)
}

// chatStreamer is the handler type of chatServiceDesc.
type chatStreamer interface {
	Connect(stream grpc.ServerStream) error
}

func connectHandler(srv any, stream grpc.ServerStream) error {
	return srv.(chatStreamer).Connect(stream)
}

var chatServiceDesc = grpc.ServiceDesc{
	ServiceName: chatServiceName,
	HandlerType: (*chatStreamer)(nil),
	Streams: []grpc.StreamDesc{
		{
			StreamName:    connectStreamName,
			Handler:       connectHandler,
			ServerStreams: true,
			ClientStreams: true,
		},
	},
	Metadata: "chat/v1/chat.proto",
}
