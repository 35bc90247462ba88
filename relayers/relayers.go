// Package relayers manages the bounded relayer allow-list each unit keeps.
// The set can never exceed its cap and, once seeded, can never be emptied:
// the protocol requires at least one live relayer to make progress.
package relayers

import (
	"errors"
	"fmt"

	"github.com/syndtr/goleveldb/leveldb"
	"golang.org/x/exp/slices"

	"github.com/qanchornet/qanchor/db"
	"github.com/qanchornet/qanchor/shared"
)

const (
	// MaxRelayers caps the set size.
	MaxRelayers = 10
	// MinRelayers is the liveness floor.
	MinRelayers = 1
)

var (
	ErrCapExceeded  = errors.New("relayer cap reached")
	ErrFloorReached = errors.New("cannot drop the last relayer")
	ErrEmptySeed    = errors.New("initial relayer set must not be empty")
)

var keyPrefix = []byte("relayer/")

func key(addr shared.Address) []byte {
	return append(append([]byte{}, keyPrefix...), addr.Bytes()...)
}

// Set is a unit's relayer allow-list, mirrored in memory and persisted in
// the unit's store. The owning unit serializes access.
type Set struct {
	kv      *db.KV
	members map[shared.Address]struct{}
}

// Load reads the persisted set, seeding it from initial when the store has
// none yet. The resulting set must be non-empty.
func Load(kv *db.KV, initial []shared.Address) (*Set, error) {
	s := &Set{kv: kv, members: make(map[shared.Address]struct{})}

	iter := kv.Iterator(keyPrefix)
	defer iter.Release()
	for iter.Next() {
		var addr shared.Address
		copy(addr[:], iter.Key()[len(keyPrefix):])
		s.members[addr] = struct{}{}
	}
	if err := iter.Error(); err != nil {
		return nil, fmt.Errorf("loading relayer set: %w", err)
	}

	if len(s.members) > 0 {
		return s, nil
	}

	if len(initial) == 0 {
		return nil, ErrEmptySeed
	}
	if len(initial) > MaxRelayers {
		return nil, fmt.Errorf("%w: seeding %d relayers", ErrCapExceeded, len(initial))
	}
	batch := new(leveldb.Batch)
	for _, addr := range initial {
		s.members[addr] = struct{}{}
		batch.Put(key(addr), []byte{1})
	}
	if err := kv.Write(batch); err != nil {
		return nil, fmt.Errorf("seeding relayer set: %w", err)
	}
	return s, nil
}

func (s *Set) Authorized(addr shared.Address) bool {
	_, ok := s.members[addr]
	return ok
}

func (s *Set) Count() int {
	return len(s.members)
}

// Snapshot returns the members in a stable order.
func (s *Set) Snapshot() []shared.Address {
	members := make([]shared.Address, 0, len(s.members))
	for addr := range s.members {
		members = append(members, addr)
	}
	slices.SortFunc(members, func(a, b shared.Address) bool {
		return a.Hex() < b.Hex()
	})
	return members
}

// Stage validates a membership change against the cap and the liveness
// floor and stages its persistence into batch. It returns an apply function
// the caller invokes after committing the batch to update the in-memory
// set, and changed=false for a toggle that is already in effect.
func (s *Set) Stage(
	addr shared.Address,
	authorized bool,
	batch *leveldb.Batch,
) (apply func(), changed bool, err error) {
	_, member := s.members[addr]
	if member == authorized {
		return func() {}, false, nil
	}

	if authorized {
		if len(s.members) >= MaxRelayers {
			return nil, false, fmt.Errorf("%w: %d members", ErrCapExceeded, len(s.members))
		}
		batch.Put(key(addr), []byte{1})
		return func() { s.members[addr] = struct{}{} }, true, nil
	}

	if len(s.members) <= MinRelayers {
		return nil, false, fmt.Errorf("%w: %s is the only member", ErrFloorReached, addr)
	}
	batch.Delete(key(addr))
	return func() { delete(s.members, addr) }, true, nil
}
