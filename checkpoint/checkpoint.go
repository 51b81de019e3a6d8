// Package checkpoint persists the captured state of suspended coroutines so
// that they can be resumed by a later process.
//
// A Record carries the serialized continuation of one coroutine run along
// with what is needed to rebuild the coroutine that consumes it: the name of
// the program and its parameters. Records are identified by the run ID,
// which stays the same across cycles, so a store only ever keeps the latest
// checkpoint of each run.
package checkpoint

import (
	"errors"
	"fmt"
	"io"
	"maps"
	"slices"
	"time"

	farm "github.com/dgryski/go-farm"
	"github.com/google/uuid"
	"github.com/shamaton/msgpack/v2"
)

var (
	// ErrNotFound is returned when no checkpoint exists for a run ID.
	ErrNotFound = errors.New("checkpoint not found")

	// ErrCorrupted is returned when the state of a checkpoint does not
	// match the hash it was saved with.
	ErrCorrupted = errors.New("checkpoint corrupted")
)

// Store is implemented by checkpoint backends.
type Store interface {
	// Save stores r, replacing any checkpoint previously saved for the
	// same run ID.
	Save(r Record) error

	// Load returns the checkpoint saved for id.
	Load(id uuid.UUID) (Record, error)

	// Delete removes the checkpoint saved for id.
	Delete(id uuid.UUID) error

	// List returns the run IDs that have a checkpoint, sorted.
	List() ([]uuid.UUID, error)
}

// Record is the checkpoint of one coroutine run.
type Record struct {
	ID      uuid.UUID
	Program string
	Params  map[string]int

	// Cycle is the execution cycle after which State was captured.
	Cycle int

	// State is the serialized continuation, and Hash its fingerprint.
	State []byte
	Hash  uint64

	CreatedAt time.Time
}

// NewRecord creates the first checkpoint of a new run.
func NewRecord(program string, params map[string]int) Record {
	return Record{
		ID:      uuid.New(),
		Program: program,
		Params:  params,
	}
}

// Update returns a copy of r holding the state captured after cycle.
func (r Record) Update(cycle int, state []byte) Record {
	r.Cycle = cycle
	r.State = state
	r.Hash = farm.Fingerprint64(state)
	r.CreatedAt = time.Now().UTC()
	return r
}

// Verify checks that the state matches its hash.
func (r *Record) Verify() error {
	if h := farm.Fingerprint64(r.State); h != r.Hash {
		return fmt.Errorf("%w: run %s: hash %016x, expected %016x", ErrCorrupted, r.ID, h, r.Hash)
	}
	return nil
}

// Clone returns a copy of r that shares no memory with it.
func (r Record) Clone() Record {
	r.Params = maps.Clone(r.Params)
	r.State = slices.Clone(r.State)
	return r
}

// record is the msgpack representation of a Record.
type record struct {
	ID        string         `msgpack:"id"`
	Program   string         `msgpack:"program"`
	Params    map[string]int `msgpack:"params"`
	Cycle     int            `msgpack:"cycle"`
	State     []byte         `msgpack:"state"`
	Hash      uint64         `msgpack:"hash"`
	CreatedAt int64          `msgpack:"created_at"`
}

// Serialize writes r to w.
func (r *Record) Serialize(w io.Writer) error {
	return msgpack.MarshalWrite(w, &record{
		ID:        r.ID.String(),
		Program:   r.Program,
		Params:    r.Params,
		Cycle:     r.Cycle,
		State:     r.State,
		Hash:      r.Hash,
		CreatedAt: r.CreatedAt.UnixNano(),
	})
}

// Deserialize reads r from rd and verifies its state.
func (r *Record) Deserialize(rd io.Reader) error {
	var v record
	if err := msgpack.UnmarshalRead(rd, &v); err != nil {
		return fmt.Errorf("decoding checkpoint: %w", err)
	}
	id, err := uuid.Parse(v.ID)
	if err != nil {
		return fmt.Errorf("decoding checkpoint: %w", err)
	}
	*r = Record{
		ID:        id,
		Program:   v.Program,
		Params:    v.Params,
		Cycle:     v.Cycle,
		State:     v.State,
		Hash:      v.Hash,
		CreatedAt: time.Unix(0, v.CreatedAt).UTC(),
	}
	return r.Verify()
}
