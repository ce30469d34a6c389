package adminapi

import (
	"encoding/json"
	"fmt"
	"reflect"

	"google.golang.org/grpc/encoding"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/dynamicpb"
)

// CodecName is the gRPC content subtype of the admin service.
const CodecName = "adminpb"

// protoCodec puts admin messages on the wire in protobuf binary form. The Go
// structs map onto the schema in File through their JSON field names, which
// match the proto field names.
type protoCodec struct{}

var (
	toProto   = protojson.UnmarshalOptions{DiscardUnknown: true}
	fromProto = protojson.MarshalOptions{UseProtoNames: true}
)

func dynamicFor(v any) (*dynamicpb.Message, error) {
	t := reflect.TypeOf(v)
	if t == nil || t.Kind() != reflect.Pointer || t.Elem().Kind() != reflect.Struct {
		return nil, fmt.Errorf("adminapi: cannot encode %T", v)
	}
	md, err := messageDescriptor(t.Elem().Name())
	if err != nil {
		return nil, err
	}
	return dynamicpb.NewMessage(md), nil
}

func (protoCodec) Marshal(v any) ([]byte, error) {
	if m, ok := v.(proto.Message); ok {
		return proto.Marshal(m)
	}
	dm, err := dynamicFor(v)
	if err != nil {
		return nil, err
	}
	j, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	if err := toProto.Unmarshal(j, dm); err != nil {
		return nil, fmt.Errorf("adminapi: %s: %w", dm.Descriptor().FullName(), err)
	}
	return proto.Marshal(dm)
}

func (protoCodec) Unmarshal(data []byte, v any) error {
	if m, ok := v.(proto.Message); ok {
		return proto.Unmarshal(data, m)
	}
	dm, err := dynamicFor(v)
	if err != nil {
		return err
	}
	if err := proto.Unmarshal(data, dm); err != nil {
		return err
	}
	j, err := fromProto.Marshal(dm)
	if err != nil {
		return err
	}
	return json.Unmarshal(j, v)
}

func (protoCodec) Name() string {
	return CodecName
}

func init() {
	encoding.RegisterCodec(protoCodec{})
}
