// Package adminapi describes the operator admin service: request and
// response messages, the gRPC service descriptor and a typed client.
//
// The schema is admin.proto; File holds the same schema as a descriptor.
// Messages travel as protobuf through a codec registered under the
// "adminpb" content subtype, so both sides must use
// CallContentSubtype(CodecName).
package adminapi
