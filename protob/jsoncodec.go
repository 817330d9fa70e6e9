package protob

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"

	"google.golang.org/protobuf/reflect/protoreflect"
)

// The JSON form of a token message is an envelope naming the type:
//
//	{"type": "Ping", "message": {"message": "hello"}}
//
// Bytes fields are lowercase hex, enums are symbolic names and 64-bit
// integers travel as JSON numbers kept in string form to survive
// double rounding.

type envelope struct {
	Type    string          `json:"type"`
	Message json.RawMessage `json:"message"`
}

// EncodeJSON renders a dynamic message into the JSON envelope.
func (s *Store) EncodeJSON(name string, m protoreflect.Message) ([]byte, error) {
	body, err := messageToJSON(m)
	if err != nil {
		return nil, err
	}
	raw, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	return json.Marshal(envelope{
		Type:    name,
		Message: raw,
	})
}

// DecodeJSON parses a JSON envelope into a dynamic message. Unknown
// members of the body are ignored.
func (s *Store) DecodeJSON(data []byte) (string, protoreflect.Message, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var env envelope
	if err := dec.Decode(&env); err != nil {
		return "", nil, fmt.Errorf("malformed message envelope: %w", err)
	}

	kind, err := s.KindByName(env.Type)
	if err != nil {
		return "", nil, err
	}
	md, err := s.DescriptorByKind(kind)
	if err != nil {
		return "", nil, err
	}

	m := s.NewMessage(md)
	if len(env.Message) > 0 {
		bodyDec := json.NewDecoder(bytes.NewReader(env.Message))
		bodyDec.UseNumber()
		var body map[string]interface{}
		if err := bodyDec.Decode(&body); err != nil {
			return "", nil, fmt.Errorf("malformed message body: %w", err)
		}
		if err := jsonToMessage(m, body); err != nil {
			return "", nil, err
		}
	}
	return env.Type, m, nil
}

func messageToJSON(m protoreflect.Message) (map[string]interface{}, error) {
	body := make(map[string]interface{})
	fields := m.Descriptor().Fields()

	for i := 0; i < fields.Len(); i++ {
		fd := fields.Get(i)

		if fd.IsList() {
			list := m.Get(fd).List()
			if list.Len() == 0 {
				continue
			}
			arr := make([]interface{}, 0, list.Len())
			for j := 0; j < list.Len(); j++ {
				v, err := valueToJSON(fd, list.Get(j))
				if err != nil {
					return nil, err
				}
				arr = append(arr, v)
			}
			body[string(fd.Name())] = arr
			continue
		}

		if !m.Has(fd) {
			continue
		}
		v, err := valueToJSON(fd, m.Get(fd))
		if err != nil {
			return nil, err
		}
		body[string(fd.Name())] = v
	}
	return body, nil
}

func valueToJSON(fd protoreflect.FieldDescriptor, v protoreflect.Value) (interface{}, error) {
	switch fd.Kind() {
	case protoreflect.BoolKind:
		return v.Bool(), nil
	case protoreflect.Int32Kind, protoreflect.Sint32Kind, protoreflect.Sfixed32Kind:
		return int32(v.Int()), nil
	case protoreflect.Uint32Kind, protoreflect.Fixed32Kind:
		return uint32(v.Uint()), nil
	case protoreflect.Int64Kind, protoreflect.Sint64Kind, protoreflect.Sfixed64Kind:
		return json.Number(strconv.FormatInt(v.Int(), 10)), nil
	case protoreflect.Uint64Kind, protoreflect.Fixed64Kind:
		return json.Number(strconv.FormatUint(v.Uint(), 10)), nil
	case protoreflect.FloatKind, protoreflect.DoubleKind:
		return v.Float(), nil
	case protoreflect.StringKind:
		return v.String(), nil
	case protoreflect.BytesKind:
		return hex.EncodeToString(v.Bytes()), nil
	case protoreflect.EnumKind:
		ev := fd.Enum().Values().ByNumber(v.Enum())
		if ev == nil {
			return nil, fmt.Errorf("field %s: enum value %d has no name", fd.FullName(), v.Enum())
		}
		return string(ev.Name()), nil
	case protoreflect.MessageKind:
		return messageToJSON(v.Message())
	default:
		return nil, fmt.Errorf("field %s: unsupported kind %s", fd.FullName(), fd.Kind())
	}
}

func jsonToMessage(m protoreflect.Message, body map[string]interface{}) error {
	fields := m.Descriptor().Fields()

	for key, raw := range body {
		fd := fields.ByName(protoreflect.Name(key))
		if fd == nil {
			continue
		}

		if fd.IsList() {
			arr, ok := raw.([]interface{})
			if !ok {
				return fmt.Errorf("field %s: expected an array", fd.FullName())
			}
			list := m.Mutable(fd).List()
			for _, elem := range arr {
				if fd.Kind() == protoreflect.MessageKind {
					sub, ok := elem.(map[string]interface{})
					if !ok {
						return fmt.Errorf("field %s: expected an object", fd.FullName())
					}
					el := list.NewElement()
					if err := jsonToMessage(el.Message(), sub); err != nil {
						return err
					}
					list.Append(el)
				} else {
					v, err := valueFromJSON(fd, elem)
					if err != nil {
						return err
					}
					list.Append(v)
				}
			}
			continue
		}

		if fd.Kind() == protoreflect.MessageKind {
			sub, ok := raw.(map[string]interface{})
			if !ok {
				return fmt.Errorf("field %s: expected an object", fd.FullName())
			}
			if err := jsonToMessage(m.Mutable(fd).Message(), sub); err != nil {
				return err
			}
			continue
		}

		v, err := valueFromJSON(fd, raw)
		if err != nil {
			return err
		}
		m.Set(fd, v)
	}
	return nil
}

func valueFromJSON(fd protoreflect.FieldDescriptor, raw interface{}) (protoreflect.Value, error) {
	var zero protoreflect.Value

	switch fd.Kind() {
	case protoreflect.BoolKind:
		b, ok := raw.(bool)
		if !ok {
			return zero, fmt.Errorf("field %s: expected a bool", fd.FullName())
		}
		return protoreflect.ValueOfBool(b), nil

	case protoreflect.Int32Kind, protoreflect.Sint32Kind, protoreflect.Sfixed32Kind:
		i, err := intFromJSON(fd, raw, 32)
		if err != nil {
			return zero, err
		}
		return protoreflect.ValueOfInt32(int32(i)), nil

	case protoreflect.Int64Kind, protoreflect.Sint64Kind, protoreflect.Sfixed64Kind:
		i, err := intFromJSON(fd, raw, 64)
		if err != nil {
			return zero, err
		}
		return protoreflect.ValueOfInt64(i), nil

	case protoreflect.Uint32Kind, protoreflect.Fixed32Kind:
		u, err := uintFromJSON(fd, raw, 32)
		if err != nil {
			return zero, err
		}
		return protoreflect.ValueOfUint32(uint32(u)), nil

	case protoreflect.Uint64Kind, protoreflect.Fixed64Kind:
		u, err := uintFromJSON(fd, raw, 64)
		if err != nil {
			return zero, err
		}
		return protoreflect.ValueOfUint64(u), nil

	case protoreflect.FloatKind:
		f, err := floatFromJSON(fd, raw, 32)
		if err != nil {
			return zero, err
		}
		return protoreflect.ValueOfFloat32(float32(f)), nil

	case protoreflect.DoubleKind:
		f, err := floatFromJSON(fd, raw, 64)
		if err != nil {
			return zero, err
		}
		return protoreflect.ValueOfFloat64(f), nil

	case protoreflect.StringKind:
		s, ok := raw.(string)
		if !ok {
			return zero, fmt.Errorf("field %s: expected a string", fd.FullName())
		}
		return protoreflect.ValueOfString(s), nil

	case protoreflect.BytesKind:
		s, ok := raw.(string)
		if !ok {
			return zero, fmt.Errorf("field %s: expected a hex string", fd.FullName())
		}
		b, err := hex.DecodeString(s)
		if err != nil {
			return zero, fmt.Errorf("field %s: %v", fd.FullName(), err)
		}
		return protoreflect.ValueOfBytes(b), nil

	case protoreflect.EnumKind:
		s, ok := raw.(string)
		if !ok {
			return zero, fmt.Errorf("field %s: expected an enum name", fd.FullName())
		}
		ev := fd.Enum().Values().ByName(protoreflect.Name(s))
		if ev == nil {
			return zero, fmt.Errorf("field %s: unknown enum value %q", fd.FullName(), s)
		}
		return protoreflect.ValueOfEnum(ev.Number()), nil

	default:
		return zero, fmt.Errorf("field %s: unsupported kind %s", fd.FullName(), fd.Kind())
	}
}

func intFromJSON(fd protoreflect.FieldDescriptor, raw interface{}, bits int) (int64, error) {
	num, ok := raw.(json.Number)
	if !ok {
		return 0, fmt.Errorf("field %s: expected a number", fd.FullName())
	}
	i, err := strconv.ParseInt(num.String(), 10, bits)
	if err != nil {
		return 0, fmt.Errorf("field %s: %v", fd.FullName(), err)
	}
	return i, nil
}

func uintFromJSON(fd protoreflect.FieldDescriptor, raw interface{}, bits int) (uint64, error) {
	num, ok := raw.(json.Number)
	if !ok {
		return 0, fmt.Errorf("field %s: expected a number", fd.FullName())
	}
	u, err := strconv.ParseUint(num.String(), 10, bits)
	if err != nil {
		return 0, fmt.Errorf("field %s: %v", fd.FullName(), err)
	}
	return u, nil
}

func floatFromJSON(fd protoreflect.FieldDescriptor, raw interface{}, bits int) (float64, error) {
	num, ok := raw.(json.Number)
	if !ok {
		return 0, fmt.Errorf("field %s: expected a number", fd.FullName())
	}
	f, err := strconv.ParseFloat(num.String(), bits)
	if err != nil {
		return 0, fmt.Errorf("field %s: %v", fd.FullName(), err)
	}
	return f, nil
}
