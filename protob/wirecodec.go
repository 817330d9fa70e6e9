package protob

import (
	"fmt"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protoreflect"

	"github.com/trezor/bridged/wire"
)

// DecodeWire parses a framed message into its dynamic form.
func (s *Store) DecodeWire(msg *wire.Message) (string, protoreflect.Message, error) {
	md, err := s.DescriptorByKind(msg.Kind)
	if err != nil {
		return "", nil, err
	}
	name, err := s.NameByKind(msg.Kind)
	if err != nil {
		return "", nil, err
	}

	m := s.NewMessage(md)
	if err := proto.Unmarshal(msg.Data, m); err != nil {
		return "", nil, fmt.Errorf("decoding %s: %w", name, err)
	}
	return name, m, nil
}

// EncodeWire serializes a dynamic message into its framed form.
func (s *Store) EncodeWire(name string, m protoreflect.Message) (*wire.Message, error) {
	kind, err := s.KindByName(name)
	if err != nil {
		return nil, err
	}

	data, err := proto.Marshal(m.Interface())
	if err != nil {
		return nil, fmt.Errorf("encoding %s: %w", name, err)
	}
	return &wire.Message{
		Kind: kind,
		Data: data,
	}, nil
}
