package corun

import (
	"fmt"
	"slices"
	"strconv"

	"google.golang.org/protobuf/encoding/protowire"
)

// Storage is a sparse collection of local variables, indexed by the slot
// numbers the instrumented code assigns to them.
type Storage struct {
	// This is private so that the data structure is allowed to switch
	// the in-memory representation dynamically (e.g. a map[int]any
	// may be more efficient for very sparse maps).
	objects []any
}

// NewStorage creates a Storage.
func NewStorage(objects []any) Storage {
	return Storage{objects: objects}
}

// Len returns one past the highest slot that may hold an object.
func (v *Storage) Len() int {
	return len(v.objects)
}

// Has is true if an object is defined for a specific index.
func (v *Storage) Has(i int) bool {
	return i >= 0 && i < len(v.objects) && v.objects[i] != nil
}

// Get gets the object for a specific index.
func (v *Storage) Get(i int) any {
	if !v.Has(i) {
		panic("missing object " + strconv.Itoa(i))
	}
	return v.objects[i]
}

// Delete deletes the object for a specific index.
func (v *Storage) Delete(i int) {
	if !v.Has(i) {
		panic("missing object " + strconv.Itoa(i))
	}
	v.objects[i] = nil
}

// Set sets the object for a specific index.
func (v *Storage) Set(i int, value any) {
	if i < 0 {
		panic("negative storage index " + strconv.Itoa(i))
	}
	if n := i + 1; n > len(v.objects) {
		v.objects = slices.Grow(v.objects, n-len(v.objects))
		v.objects = v.objects[:n]
	}
	v.objects[i] = value
}

func (v *Storage) shrink() {
	i := len(v.objects) - 1
	for i >= 0 && v.objects[i] == nil {
		i--
	}
	v.objects = v.objects[:i+1]
}

const (
	storageFieldSize  protowire.Number = 1
	storageFieldEntry protowire.Number = 2

	entryFieldSlot   protowire.Number = 1
	entryFieldObject protowire.Number = 2
)

// MarshalAppend appends the objects to the provided buffer. Every object
// must be Serializable and registered.
func (v *Storage) MarshalAppend(b []byte) ([]byte, error) {
	v.shrink()

	// The length is only a hint for the deserializer so that it can
	// preallocate the necessary space; slots are encoded with each entry.
	b = protowire.AppendTag(b, storageFieldSize, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(len(v.objects)))

	for i, o := range v.objects {
		if o == nil {
			continue
		}
		s, ok := o.(Serializable)
		if !ok {
			return nil, fmt.Errorf("storage slot %d: %T is not serializable", i, o)
		}
		ob, err := MarshalAppend(nil, s)
		if err != nil {
			return nil, fmt.Errorf("storage slot %d: %w", i, err)
		}

		var e []byte
		e = protowire.AppendTag(e, entryFieldSlot, protowire.VarintType)
		e = protowire.AppendVarint(e, uint64(i))
		e = protowire.AppendTag(e, entryFieldObject, protowire.BytesType)
		e = protowire.AppendBytes(e, ob)

		b = protowire.AppendTag(b, storageFieldEntry, protowire.BytesType)
		b = protowire.AppendBytes(b, e)
	}
	return b, nil
}

// Unmarshal deserializes a Storage from the provided buffer, returning
// the number of bytes that were read in order to reconstruct the
// storage.
func (v *Storage) Unmarshal(b []byte) (int, error) {
	var objects []any
	n, err := consumeFields(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch {
		case num == storageFieldSize && typ == protowire.VarintType:
			size, n := protowire.ConsumeVarint(b)
			if n < 0 || size > maxStorageSlot+1 {
				return 0, fmt.Errorf("invalid storage size: %v", b)
			}
			if objects == nil {
				objects = make([]any, 0, size)
			}
			return n, nil
		case num == storageFieldEntry && typ == protowire.BytesType:
			e, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return 0, fmt.Errorf("invalid storage entry: %w", protowire.ParseError(n))
			}
			slot, obj, err := unmarshalEntry(e)
			if err != nil {
				return 0, err
			}
			if slot >= len(objects) {
				objects = slices.Grow(objects, slot+1-len(objects))
				objects = objects[:slot+1]
			}
			objects[slot] = obj
			return n, nil
		default:
			return skipField(num, typ, b)
		}
	})
	if err != nil {
		return 0, err
	}
	v.objects = objects
	return n, nil
}

func unmarshalEntry(b []byte) (slot int, obj Serializable, err error) {
	slot = -1
	_, err = consumeFields(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch {
		case num == entryFieldSlot && typ == protowire.VarintType:
			id, n := protowire.ConsumeVarint(b)
			if n < 0 || id > uint64(maxStorageSlot) {
				return 0, fmt.Errorf("invalid storage slot: %v", b)
			}
			slot = int(id)
			return n, nil
		case num == entryFieldObject && typ == protowire.BytesType:
			ob, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return 0, fmt.Errorf("invalid storage object: %w", protowire.ParseError(n))
			}
			s, _, err := Unmarshal(ob)
			if err != nil {
				return 0, fmt.Errorf("invalid storage object: %w", err)
			}
			obj = s
			return n, nil
		default:
			return skipField(num, typ, b)
		}
	})
	if err == nil && (slot < 0 || obj == nil) {
		err = fmt.Errorf("incomplete storage entry: %v", b)
	}
	return slot, obj, err
}

const maxStorageSlot = 1 << 20
