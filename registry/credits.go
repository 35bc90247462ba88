package registry

import (
	"context"
	"fmt"

	"github.com/holiman/uint256"
	"github.com/syndtr/goleveldb/leveldb"
	"go.uber.org/zap"

	"github.com/qanchornet/qanchor/logging"
	"github.com/qanchornet/qanchor/shared"
	"github.com/qanchornet/qanchor/transport"
)

// DepositRelayerCredits pulls tokens from the calling relayer into the
// registry's pool account and credits the relayer's pooled balance.
func (r *Registry) DepositRelayerCredits(ctx context.Context, caller shared.Address, amount *uint256.Int) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if !r.isRelayer(caller) {
		return fmt.Errorf("%w: %s does not hold the relayer role", ErrUnauthorized, caller)
	}
	if amount == nil || amount.IsZero() {
		return ErrZeroAmount
	}

	pool, err := amountAt(r.kv, poolKey(caller))
	if err != nil {
		return fmt.Errorf("loading credit pool: %w", err)
	}
	next, overflow := new(uint256.Int).AddOverflow(pool, amount)
	if overflow {
		return fmt.Errorf("%w: pool %s, deposit %s", ErrAmountOverflow, pool, amount)
	}

	if err := r.ledger.TransferFrom(ctx, r.addr, caller, r.addr, amount); err != nil {
		return fmt.Errorf("pulling deposit: %w", err)
	}
	encoded := next.Bytes32()
	if err := r.kv.Put(poolKey(caller), encoded[:]); err != nil {
		logging.FromContext(ctx).Error(
			"deposit pulled but pool update failed",
			zap.Stringer("relayer", caller),
			zap.Error(err),
		)
		return fmt.Errorf("storing credit pool: %w", err)
	}
	creditPoolMetric.WithLabelValues(caller.String()).Set(next.Float64())

	logging.FromContext(ctx).Info(
		"relayer credits deposited",
		zap.Stringer("relayer", caller),
		zap.String("amount", amount.Dec()),
		zap.String("pool", next.Dec()),
	)
	r.emitter.Publish(ctx, transport.KindCreditsDeposited, transport.CreditsDeposited{
		Relayer: caller,
		Amount:  *amount,
		Pool:    *next,
	})
	return nil
}

// AllocateUserCredits moves part of the caller's pool into the (relayer,
// user) slice that fee debits draw from.
func (r *Registry) AllocateUserCredits(ctx context.Context, caller, user shared.Address, amount *uint256.Int) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if !r.isRelayer(caller) {
		return fmt.Errorf("%w: %s does not hold the relayer role", ErrUnauthorized, caller)
	}
	if user == (shared.Address{}) {
		return ErrZeroAddress
	}
	if amount == nil || amount.IsZero() {
		return ErrZeroAmount
	}

	pool, err := amountAt(r.kv, poolKey(caller))
	if err != nil {
		return fmt.Errorf("loading credit pool: %w", err)
	}
	if pool.Cmp(amount) < 0 {
		return &InsufficientCreditsError{Required: amount.Clone(), Available: pool}
	}
	allocation, err := amountAt(r.kv, allocKey(caller, user))
	if err != nil {
		return fmt.Errorf("loading credit allocation: %w", err)
	}
	nextAllocation, overflow := new(uint256.Int).AddOverflow(allocation, amount)
	if overflow {
		return fmt.Errorf("%w: allocation %s, amount %s", ErrAmountOverflow, allocation, amount)
	}
	nextPool := new(uint256.Int).Sub(pool, amount)

	batch := new(leveldb.Batch)
	encodedPool := nextPool.Bytes32()
	batch.Put(poolKey(caller), encodedPool[:])
	encodedAllocation := nextAllocation.Bytes32()
	batch.Put(allocKey(caller, user), encodedAllocation[:])
	if err := r.kv.Write(batch); err != nil {
		return fmt.Errorf("storing credit allocation: %w", err)
	}
	creditPoolMetric.WithLabelValues(caller.String()).Set(nextPool.Float64())

	logging.FromContext(ctx).Info(
		"user credits allocated",
		zap.Stringer("relayer", caller),
		zap.Stringer("user", user),
		zap.String("amount", amount.Dec()),
		zap.String("pool", nextPool.Dec()),
	)
	r.emitter.Publish(ctx, transport.KindCreditsAllocated, transport.CreditsAllocated{
		Relayer:   caller,
		User:      user,
		Amount:    *amount,
		Remaining: *nextPool,
	})
	return nil
}

// RelayerPool returns a relayer's pooled credit balance.
func (r *Registry) RelayerPool(relayer shared.Address) (*uint256.Int, error) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	return amountAt(r.kv, poolKey(relayer))
}

// UserAllocation returns the (relayer, user) credit slice.
func (r *Registry) UserAllocation(relayer, user shared.Address) (*uint256.Int, error) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	return amountAt(r.kv, allocKey(relayer, user))
}
