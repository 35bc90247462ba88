// Package timelock implements the schedule/execute governance primitive the
// protocol units share. Every sensitive parameter change is first scheduled
// under a proposal id derived from the action name and the encoded parameters,
// then executed once its mandatory delay has passed.
//
// There is no cancellation. Scheduling a new value for an action replaces the
// pending value; the previous proposal's unlock entry stays in storage,
// unreachable, because execution always keys off the currently-pending value.
package timelock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/syndtr/goleveldb/leveldb"
	"go.uber.org/zap"

	"github.com/qanchornet/qanchor/db"
	"github.com/qanchornet/qanchor/logging"
	"github.com/qanchornet/qanchor/shared"
)

type option func(*Timelock)

// WithClock overrides the time source. Tests use it to step through delays.
func WithClock(c shared.Clock) option {
	return func(t *Timelock) {
		t.clock = c
	}
}

// Timelock keeps its proposal entries and pending values inside the owning
// unit's store, under its own key prefix. The owning unit serializes calls.
type Timelock struct {
	kv    *db.KV
	delay time.Duration
	clock shared.Clock
}

type entryData struct {
	// Unlock is the earliest execution time, unix nanoseconds.
	Unlock      int64
	ScheduledAt int64
}

func New(kv *db.KV, delay time.Duration, opts ...option) *Timelock {
	t := &Timelock{
		kv:    kv,
		delay: delay,
		clock: shared.SystemClock(),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

func entryKey(pid shared.ProposalID) []byte {
	return append([]byte("timelock/e/"), pid.Bytes()...)
}

func pendingKey(action string) []byte {
	return append([]byte("timelock/p/"), action...)
}

// Schedule stores params as the single pending value for action and opens a
// proposal that unlocks after the configured delay. A pending value scheduled
// earlier for the same action is replaced; its proposal entry is not cleared.
func (t *Timelock) Schedule(
	ctx context.Context,
	action string,
	params []byte,
) (shared.ProposalID, time.Time, error) {
	pid, err := shared.DeriveProposalID(action, params)
	if err != nil {
		return shared.ProposalID{}, time.Time{}, fmt.Errorf("deriving proposal id: %w", err)
	}

	now := t.clock.Now()
	unlock := now.Add(t.delay)
	data, err := db.Marshal(&entryData{Unlock: unlock.UnixNano(), ScheduledAt: now.UnixNano()})
	if err != nil {
		return shared.ProposalID{}, time.Time{}, err
	}

	batch := new(leveldb.Batch)
	batch.Put(entryKey(pid), data)
	batch.Put(pendingKey(action), params)
	if err := t.kv.Write(batch); err != nil {
		return shared.ProposalID{}, time.Time{}, fmt.Errorf("storing proposal: %w", err)
	}

	logging.FromContext(ctx).Debug(
		"scheduled timelock proposal",
		zap.String("action", action),
		zap.Stringer("proposal", pid),
		zap.Time("unlock", unlock),
	)
	return pid, unlock, nil
}

// Execute validates that the currently-pending value for action is unlocked
// and stages the removal of the proposal entry and the pending value into
// batch. The caller stages its own parameter change into the same batch and
// commits, so consumption of the proposal and the change land atomically.
//
// With nothing pending the proposal id is recomputed from empty parameters,
// misses, and the call fails as unknown. The same happens on a repeated
// execute after success.
func (t *Timelock) Execute(
	ctx context.Context,
	action string,
	batch *leveldb.Batch,
) ([]byte, shared.ProposalID, error) {
	params, err := t.Pending(action)
	if err != nil {
		return nil, shared.ProposalID{}, err
	}
	pid, err := shared.DeriveProposalID(action, params)
	if err != nil {
		return nil, shared.ProposalID{}, fmt.Errorf("deriving proposal id: %w", err)
	}

	var e entryData
	switch err := t.kv.GetObject(entryKey(pid), &e); {
	case errors.Is(err, db.ErrNotFound):
		return nil, pid, &UnknownProposalError{ID: pid, Action: action}
	case err != nil:
		return nil, pid, fmt.Errorf("loading proposal: %w", err)
	}

	now := t.clock.Now()
	unlock := time.Unix(0, e.Unlock)
	if now.Before(unlock) {
		return nil, pid, &NotExpiredError{ID: pid, Action: action, Unlock: unlock}
	}

	batch.Delete(entryKey(pid))
	batch.Delete(pendingKey(action))

	logging.FromContext(ctx).Debug(
		"executing timelock proposal",
		zap.String("action", action),
		zap.Stringer("proposal", pid),
	)
	return params, pid, nil
}

// Pending returns the currently-pending parameters for action. No pending
// value yields nil, which is also what Execute hashes in that case.
func (t *Timelock) Pending(action string) ([]byte, error) {
	params, err := t.kv.Get(pendingKey(action))
	switch {
	case errors.Is(err, db.ErrNotFound):
		return nil, nil
	case err != nil:
		return nil, fmt.Errorf("loading pending value: %w", err)
	}
	return params, nil
}

// Unlock reports the unlock time of a proposal, with ok false when no entry
// for pid exists (never scheduled, or consumed by a successful execute).
func (t *Timelock) Unlock(pid shared.ProposalID) (unlock time.Time, ok bool, err error) {
	var e entryData
	switch err := t.kv.GetObject(entryKey(pid), &e); {
	case errors.Is(err, db.ErrNotFound):
		return time.Time{}, false, nil
	case err != nil:
		return time.Time{}, false, fmt.Errorf("loading proposal: %w", err)
	}
	return time.Unix(0, e.Unlock), true, nil
}
