package corun

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

// This file defines Serializable versions of builtin types, so that
// instrumented code can keep common locals in frame storage.

// Int is a Serializable int.
type Int int

// String is a Serializable string.
type String string

// Bool is a Serializable bool.
type Bool bool

// Bytes is a Serializable byte slice.
type Bytes []byte

var (
	_ Serializable = Int(0)
	_ Serializable = String("")
	_ Serializable = Bool(false)
	_ Serializable = Bytes(nil)

	_ Deserializable = (*Int)(nil)
	_ Deserializable = (*String)(nil)
	_ Deserializable = (*Bool)(nil)
	_ Deserializable = (*Bytes)(nil)

	_ UnmarshalSerializable = UnmarshalInt
)

func (i Int) MarshalAppend(b []byte) ([]byte, error) {
	return protowire.AppendVarint(b, protowire.EncodeZigZag(int64(i))), nil
}

func (i *Int) Unmarshal(b []byte) (int, error) {
	v, n := protowire.ConsumeVarint(b)
	if n < 0 {
		return 0, fmt.Errorf("invalid Int: %v", b)
	}
	value := protowire.DecodeZigZag(v)
	if int64(Int(value)) != value {
		return 0, fmt.Errorf("invalid Int: %d overflows int", value)
	}
	*i = Int(value)
	return n, nil
}

func UnmarshalInt(b []byte) (_ Serializable, n int, err error) {
	var value Int
	n, err = value.Unmarshal(b)
	return value, n, err
}

func (s String) MarshalAppend(b []byte) ([]byte, error) {
	return protowire.AppendString(b, string(s)), nil
}

func (s *String) Unmarshal(b []byte) (int, error) {
	v, n := protowire.ConsumeString(b)
	if n < 0 {
		return 0, fmt.Errorf("invalid String: %w", protowire.ParseError(n))
	}
	*s = String(v)
	return n, nil
}

func (v Bool) MarshalAppend(b []byte) ([]byte, error) {
	return protowire.AppendVarint(b, protowire.EncodeBool(bool(v))), nil
}

func (v *Bool) Unmarshal(b []byte) (int, error) {
	x, n := protowire.ConsumeVarint(b)
	if n < 0 || x > 1 {
		return 0, fmt.Errorf("invalid Bool: %v", b)
	}
	*v = Bool(protowire.DecodeBool(x))
	return n, nil
}

func (v Bytes) MarshalAppend(b []byte) ([]byte, error) {
	return protowire.AppendBytes(b, v), nil
}

func (v *Bytes) Unmarshal(b []byte) (int, error) {
	x, n := protowire.ConsumeBytes(b)
	if n < 0 {
		return 0, fmt.Errorf("invalid Bytes: %w", protowire.ParseError(n))
	}
	*v = append(Bytes{}, x...)
	return n, nil
}

func init() {
	RegisterSerializableConstructor(Int(0), UnmarshalInt)
	RegisterSerializable(String(""))
	RegisterSerializable(Bool(false))
	RegisterSerializable(Bytes(nil))
}
