// Package protob implements the runtime message schema. The daemon
// ships with no compiled-in token messages; the signed configuration
// carries a serialized FileDescriptorSet, and this package turns it
// into a registry keyed by the MessageType enum, plus codecs between
// the typed JSON form and the binary wire form.
package protob

import (
	"errors"
	"fmt"
	"strings"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protodesc"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/reflect/protoregistry"
	"google.golang.org/protobuf/types/descriptorpb"
	"google.golang.org/protobuf/types/dynamicpb"
)

const (
	enumName        = "MessageType"
	enumValuePrefix = "MessageType_"
)

var (
	ErrInvalidSchema  = errors.New("invalid message schema")
	ErrUnknownMessage = errors.New("unknown message")
)

// Store resolves message kinds. Kinds are the numbers of the schema's
// MessageType enum; each value name, stripped of the MessageType_
// prefix, names a message in the same schema.
type Store struct {
	files  *protoregistry.Files
	byKind map[uint16]protoreflect.MessageDescriptor
	byName map[string]uint16
	names  map[uint16]string
}

// Build parses a serialized FileDescriptorSet and indexes it.
func Build(descriptorSet []byte) (*Store, error) {
	var set descriptorpb.FileDescriptorSet
	if err := proto.Unmarshal(descriptorSet, &set); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSchema, err)
	}

	files, err := protodesc.NewFiles(&set)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSchema, err)
	}

	s := &Store{
		files:  files,
		byKind: make(map[uint16]protoreflect.MessageDescriptor),
		byName: make(map[string]uint16),
		names:  make(map[uint16]string),
	}

	enum := findEnum(files, enumName)
	if enum == nil {
		return nil, fmt.Errorf("%w: enum %s not found", ErrInvalidSchema, enumName)
	}

	values := enum.Values()
	for i := 0; i < values.Len(); i++ {
		value := values.Get(i)
		name := strings.TrimPrefix(string(value.Name()), enumValuePrefix)
		kind := uint16(value.Number())

		s.byName[name] = kind
		s.names[kind] = name

		// a value without a matching message stays unresolvable
		// until someone actually asks for it
		if md := findMessage(files, name); md != nil {
			s.byKind[kind] = md
		}
	}

	return s, nil
}

// DescriptorByKind returns the message descriptor for a wire kind.
func (s *Store) DescriptorByKind(kind uint16) (protoreflect.MessageDescriptor, error) {
	md, ok := s.byKind[kind]
	if !ok {
		return nil, fmt.Errorf("%w: kind %d", ErrUnknownMessage, kind)
	}
	return md, nil
}

// KindByName returns the wire kind for a message name.
func (s *Store) KindByName(name string) (uint16, error) {
	kind, ok := s.byName[name]
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrUnknownMessage, name)
	}
	if _, ok := s.byKind[kind]; !ok {
		return 0, fmt.Errorf("%w: %q", ErrUnknownMessage, name)
	}
	return kind, nil
}

// NameByKind returns the message name for a wire kind.
func (s *Store) NameByKind(kind uint16) (string, error) {
	name, ok := s.names[kind]
	if !ok {
		return "", fmt.Errorf("%w: kind %d", ErrUnknownMessage, kind)
	}
	return name, nil
}

// NewMessage makes an empty dynamic message for a descriptor.
func (s *Store) NewMessage(md protoreflect.MessageDescriptor) *dynamicpb.Message {
	return dynamicpb.NewMessage(md)
}

func findEnum(files *protoregistry.Files, name string) protoreflect.EnumDescriptor {
	var found protoreflect.EnumDescriptor
	files.RangeFiles(func(fd protoreflect.FileDescriptor) bool {
		if ed := fd.Enums().ByName(protoreflect.Name(name)); ed != nil {
			found = ed
			return false
		}
		return true
	})
	return found
}

func findMessage(files *protoregistry.Files, name string) protoreflect.MessageDescriptor {
	var found protoreflect.MessageDescriptor
	files.RangeFiles(func(fd protoreflect.FileDescriptor) bool {
		if md := fd.Messages().ByName(protoreflect.Name(name)); md != nil {
			found = md
			return false
		}
		return true
	})
	return found
}
