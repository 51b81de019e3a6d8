package corun

import (
	"fmt"
	"reflect"
	"sync"

	farm "github.com/dgryski/go-farm"
	"google.golang.org/protobuf/encoding/protowire"
)

// Serializable is implemented by values that can be stored in a frame.
type Serializable interface {
	// MarshalAppend appends the encoded value to b.
	MarshalAppend(b []byte) ([]byte, error)
}

// Deserializable is implemented by values that can be decoded from the
// bytes produced by their MarshalAppend method.
type Deserializable interface {
	// Unmarshal decodes the value from b and returns the number of bytes
	// consumed.
	Unmarshal(b []byte) (n int, err error)
}

// UnmarshalSerializable decodes a value of a registered type from b and
// returns the number of bytes consumed.
type UnmarshalSerializable func(b []byte) (Serializable, int, error)

// MarshalAppend appends s to b, prefixed with the identifier of its type so
// that Unmarshal can rebuild a value of the same type. The type of s must
// have been registered.
func MarshalAppend(b []byte, s Serializable) ([]byte, error) {
	t, ok := registry.byType(reflect.TypeOf(s))
	if !ok {
		return nil, fmt.Errorf("serializable type %T has not been registered", s)
	}
	b = protowire.AppendVarint(b, t.id)
	return s.MarshalAppend(b)
}

// Unmarshal decodes a value written by MarshalAppend. It returns the value
// and the number of bytes consumed.
func Unmarshal(b []byte) (Serializable, int, error) {
	id, n := protowire.ConsumeVarint(b)
	if n < 0 {
		return nil, 0, fmt.Errorf("invalid serializable type id: %w", protowire.ParseError(n))
	}
	t, ok := registry.byID(id)
	if !ok {
		return nil, 0, fmt.Errorf("serializable type %#x not registered", id)
	}
	v, vn, err := t.constructor(b[n:])
	return v, n + vn, err
}

// RegisterSerializable registers the type of s. Either the type or a pointer
// to it must implement Deserializable; the constructor is derived with
// reflection. Use RegisterSerializableConstructor to avoid the reflection.
func RegisterSerializable(s Serializable) {
	t := reflect.TypeOf(s)

	switch {
	case t.Implements(deserializableType):
		RegisterSerializableConstructor(s, func(b []byte) (Serializable, int, error) {
			v := reflect.Zero(t).Interface()
			n, err := v.(Deserializable).Unmarshal(b)
			return v.(Serializable), n, err
		})
	case reflect.PointerTo(t).Implements(deserializableType):
		RegisterSerializableConstructor(s, func(b []byte) (Serializable, int, error) {
			p := reflect.New(t)
			n, err := p.Interface().(Deserializable).Unmarshal(b)
			return p.Elem().Interface().(Serializable), n, err
		})
	default:
		panic(fmt.Sprintf("type %T is not Deserializable", s))
	}
}

// RegisterSerializableConstructor registers the type of s with an explicit
// constructor.
//
// Types are identified by a fingerprint of their package path and name, so
// state written by one build of a program can be read by another as long
// as the type keeps its name and encoding. Registering a type twice panics.
func RegisterSerializableConstructor(s Serializable, constructor UnmarshalSerializable) {
	t := reflect.TypeOf(s)
	name := typeName(t)
	registry.add(t, &serializableType{
		id:          farm.Fingerprint64([]byte(name)),
		name:        name,
		constructor: constructor,
	})
}

var deserializableType = reflect.TypeOf((*Deserializable)(nil)).Elem()

type serializableType struct {
	id          uint64
	name        string
	constructor UnmarshalSerializable
}

type serializableRegistry struct {
	mu     sync.RWMutex
	types  map[reflect.Type]*serializableType
	values map[uint64]*serializableType
}

var registry = &serializableRegistry{
	types:  make(map[reflect.Type]*serializableType),
	values: make(map[uint64]*serializableType),
}

func (r *serializableRegistry) add(t reflect.Type, st *serializableType) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.types[t]; ok {
		panic(fmt.Sprintf("serializable type %s already registered", st.name))
	}
	if other, ok := r.values[st.id]; ok {
		panic(fmt.Sprintf("serializable type %s collides with %s", st.name, other.name))
	}
	r.types[t] = st
	r.values[st.id] = st
}

func (r *serializableRegistry) byType(t reflect.Type) (*serializableType, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	st, ok := r.types[t]
	return st, ok
}

func (r *serializableRegistry) byID(id uint64) (*serializableType, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	st, ok := r.values[id]
	return st, ok
}

func typeName(t reflect.Type) string {
	if t.Kind() == reflect.Pointer {
		return "*" + typeName(t.Elem())
	}
	if t.PkgPath() == "" {
		return t.String()
	}
	return t.PkgPath() + "." + t.Name()
}
