package heartbeatpb

import (
	"fmt"

	"google.golang.org/grpc/encoding"
)

// CodecName is the content-subtype the codec is sent as. It matches the
// default grpc codec so that controllers using generated bindings interoperate.
const CodecName = "proto"

// Codec encodes the messages of this package. It is passed explicitly with
// grpc.ForceCodec and grpc.ForceServerCodec instead of being registered, so the
// process wide proto codec is left untouched.
type Codec struct{}

var _ encoding.Codec = Codec{}

// Marshal encodes the message to a byte array
func (Codec) Marshal(v interface{}) ([]byte, error) {
	msg, ok := v.(Message)
	if !ok {
		return nil, fmt.Errorf("failed to marshal, message is %T, want heartbeatpb.Message", v)
	}
	return msg.Marshal()
}

// Unmarshal decodes the byte array to the provided value
func (Codec) Unmarshal(data []byte, v interface{}) error {
	msg, ok := v.(Message)
	if !ok {
		return fmt.Errorf("failed to unmarshal, message is %T, want heartbeatpb.Message", v)
	}
	return msg.Unmarshal(data)
}

// Name returns the name of the codec
func (Codec) Name() string {
	return CodecName
}
