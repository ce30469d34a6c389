package adminapi

import (
	"fmt"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protodesc"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/reflect/protoregistry"
	"google.golang.org/protobuf/types/descriptorpb"
)

const (
	protoPackage = "scanrebate.admin.v1"
	protoFile    = "scanrebate/admin/v1/admin.proto"
)

type fieldKind int

const (
	kString fieldKind = iota
	kInt32
	kInt64
	kDouble
	kBool
	kMessage
	kRepeatedMessage
)

type fieldSpec struct {
	name    string
	kind    fieldKind
	message string
}

func str(name string) fieldSpec              { return fieldSpec{name: name, kind: kString} }
func num(name string, k fieldKind) fieldSpec { return fieldSpec{name: name, kind: k} }
func msg(name, message string) fieldSpec {
	return fieldSpec{name: name, kind: kMessage, message: message}
}
func repeated(name, message string) fieldSpec {
	return fieldSpec{name: name, kind: kRepeatedMessage, message: message}
}
func fields(specs ...fieldSpec) []fieldSpec { return specs }

// messageSpecs mirrors admin.proto. Field numbers follow list order.
var messageSpecs = []struct {
	name   string
	fields []fieldSpec
}{
	{"LoginRequest", fields(str("username"), str("password"))},
	{"LoginResponse", fields(str("access_token"))},
	{"ListReceiptsRequest", fields(str("status"), num("limit", kInt32))},
	{"ListReceiptsResponse", fields(repeated("receipts", "Receipt"))},
	{"GetReceiptRequest", fields(str("id"))},
	{"GetReceiptResponse", fields(msg("receipt", "Receipt"), msg("scan", "Scan"), str("receipt_image_url"), str("scan_image_url"))},
	{"ApproveReceiptRequest", fields(str("id"))},
	{"RejectReceiptRequest", fields(str("id"), str("reason"))},
	{"ReviewResponse", fields(msg("receipt", "Receipt"), msg("payout", "PayoutOutcome"))},
	{"ResolvePayoutRequest", fields(str("id"))},
	{"PayoutResponse", fields(msg("payout", "PayoutOutcome"))},
	{"RejectScanRequest", fields(str("session_id"))},
	{"RejectScanResponse", nil},
	{"Receipt", fields(
		str("id"), str("session_id"), str("recipient"), str("amount"), str("currency"), str("label"),
		num("confidence", kDouble), str("status"), str("review_reason"), str("reviewed_by"),
		str("payout_state"), num("payout_attempt", kInt32), str("payout_reference"),
		str("paid_at"), str("settled_at"), num("version", kInt64), str("created_at"), str("updated_at"),
	)},
	{"Scan", fields(str("session_id"), str("source_address"), str("label"), num("confidence", kDouble), str("status"), str("created_at"))},
	{"PayoutOutcome", fields(str("kind"), str("reference"), str("reason"), num("retryable", kBool), num("retry_after_seconds", kInt64))},
}

var methodSpecs = []struct {
	name, in, out string
}{
	{"Login", "LoginRequest", "LoginResponse"},
	{"ListReceipts", "ListReceiptsRequest", "ListReceiptsResponse"},
	{"GetReceipt", "GetReceiptRequest", "GetReceiptResponse"},
	{"ApproveReceipt", "ApproveReceiptRequest", "ReviewResponse"},
	{"RejectReceipt", "RejectReceiptRequest", "ReviewResponse"},
	{"ResolvePayout", "ResolvePayoutRequest", "PayoutResponse"},
	{"RejectScan", "RejectScanRequest", "RejectScanResponse"},
}

func typeName(message string) *string {
	return proto.String("." + protoPackage + "." + message)
}

func (f fieldSpec) descriptor(number int32) *descriptorpb.FieldDescriptorProto {
	fd := &descriptorpb.FieldDescriptorProto{
		Name:   proto.String(f.name),
		Number: proto.Int32(number),
		Label:  descriptorpb.FieldDescriptorProto_LABEL_OPTIONAL.Enum(),
	}
	switch f.kind {
	case kString:
		fd.Type = descriptorpb.FieldDescriptorProto_TYPE_STRING.Enum()
	case kInt32:
		fd.Type = descriptorpb.FieldDescriptorProto_TYPE_INT32.Enum()
	case kInt64:
		fd.Type = descriptorpb.FieldDescriptorProto_TYPE_INT64.Enum()
	case kDouble:
		fd.Type = descriptorpb.FieldDescriptorProto_TYPE_DOUBLE.Enum()
	case kBool:
		fd.Type = descriptorpb.FieldDescriptorProto_TYPE_BOOL.Enum()
	case kMessage, kRepeatedMessage:
		fd.Type = descriptorpb.FieldDescriptorProto_TYPE_MESSAGE.Enum()
		fd.TypeName = typeName(f.message)
		if f.kind == kRepeatedMessage {
			fd.Label = descriptorpb.FieldDescriptorProto_LABEL_REPEATED.Enum()
		}
	}
	return fd
}

func buildFile() (protoreflect.FileDescriptor, error) {
	fdp := &descriptorpb.FileDescriptorProto{
		Name:    proto.String(protoFile),
		Package: proto.String(protoPackage),
		Syntax:  proto.String("proto3"),
		Options: &descriptorpb.FileOptions{
			GoPackage: proto.String("github.com/dmitrijs2005/scanrebate/internal/adminapi"),
		},
	}
	for _, m := range messageSpecs {
		dp := &descriptorpb.DescriptorProto{Name: proto.String(m.name)}
		for i, f := range m.fields {
			dp.Field = append(dp.Field, f.descriptor(int32(i+1)))
		}
		fdp.MessageType = append(fdp.MessageType, dp)
	}

	svc := &descriptorpb.ServiceDescriptorProto{Name: proto.String("AdminService")}
	for _, m := range methodSpecs {
		svc.Method = append(svc.Method, &descriptorpb.MethodDescriptorProto{
			Name:       proto.String(m.name),
			InputType:  typeName(m.in),
			OutputType: typeName(m.out),
		})
	}
	fdp.Service = append(fdp.Service, svc)

	return protodesc.NewFile(fdp, new(protoregistry.Files))
}

// File is the admin service schema.
var File = func() protoreflect.FileDescriptor {
	fd, err := buildFile()
	if err != nil {
		panic(fmt.Sprintf("adminapi: invalid descriptor: %v", err))
	}
	return fd
}()

func messageDescriptor(name string) (protoreflect.MessageDescriptor, error) {
	md := File.Messages().ByName(protoreflect.Name(name))
	if md == nil {
		return nil, fmt.Errorf("adminapi: no message %s.%s", protoPackage, name)
	}
	return md, nil
}
