package config

import (
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protodesc"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/types/descriptorpb"
)

// The configuration record uses proto2 semantics. The descriptor is
// built at startup instead of being generated, the same way the rest
// of the schema machinery works with runtime descriptors.

var configurationDescriptor = mustBuildDescriptor()

func mustBuildDescriptor() protoreflect.MessageDescriptor {
	optional := descriptorpb.FieldDescriptorProto_LABEL_OPTIONAL
	required := descriptorpb.FieldDescriptorProto_LABEL_REQUIRED
	repeated := descriptorpb.FieldDescriptorProto_LABEL_REPEATED

	typeString := descriptorpb.FieldDescriptorProto_TYPE_STRING
	typeBytes := descriptorpb.FieldDescriptorProto_TYPE_BYTES
	typeUint32 := descriptorpb.FieldDescriptorProto_TYPE_UINT32
	typeUint64 := descriptorpb.FieldDescriptorProto_TYPE_UINT64
	typeMessage := descriptorpb.FieldDescriptorProto_TYPE_MESSAGE

	file := &descriptorpb.FileDescriptorProto{
		Name:   proto.String("configuration.proto"),
		Syntax: proto.String("proto2"),
		MessageType: []*descriptorpb.DescriptorProto{
			{
				Name: proto.String("DeviceDescriptor"),
				Field: []*descriptorpb.FieldDescriptorProto{
					{
						Name:   proto.String("vendor_id"),
						Number: proto.Int32(1),
						Label:  &optional,
						Type:   &typeUint32,
					},
					{
						Name:   proto.String("product_id"),
						Number: proto.Int32(2),
						Label:  &optional,
						Type:   &typeUint32,
					},
				},
			},
			{
				Name: proto.String("Configuration"),
				Field: []*descriptorpb.FieldDescriptorProto{
					{
						Name:   proto.String("whitelist_urls"),
						Number: proto.Int32(1),
						Label:  &repeated,
						Type:   &typeString,
					},
					{
						Name:   proto.String("blacklist_urls"),
						Number: proto.Int32(2),
						Label:  &repeated,
						Type:   &typeString,
					},
					{
						Name:   proto.String("wire_protocol"),
						Number: proto.Int32(3),
						Label:  &required,
						Type:   &typeBytes,
					},
					{
						Name:   proto.String("valid_until"),
						Number: proto.Int32(4),
						Label:  &optional,
						Type:   &typeUint64,
					},
					{
						Name:     proto.String("known_devices"),
						Number:   proto.Int32(5),
						Label:    &repeated,
						Type:     &typeMessage,
						TypeName: proto.String(".DeviceDescriptor"),
					},
				},
			},
		},
	}

	fd, err := protodesc.NewFile(file, nil)
	if err != nil {
		panic("config: building configuration descriptor: " + err.Error())
	}
	return fd.Messages().ByName("Configuration")
}
