package registry

import (
	"context"
	"fmt"

	"github.com/holiman/uint256"
	"github.com/syndtr/goleveldb/leveldb"

	"github.com/qanchornet/qanchor/shared"
	"github.com/qanchornet/qanchor/token"
)

// feeCharge describes how one verification fee was settled.
type feeCharge struct {
	Fee         *uint256.Int
	Treasury    *uint256.Int
	Burn        *uint256.Int
	FromCredits bool
}

// totalFee computes baseFee + perChainFee × chains, rejecting overflow.
func (r *Registry) totalFee(chains int) (*uint256.Int, error) {
	base := new(uint256.Int).SetBytes(r.state.BaseFee[:])
	perChain := new(uint256.Int).SetBytes(r.state.PerChainFee[:])

	chainFees, overflow := new(uint256.Int).MulOverflow(perChain, uint256.NewInt(uint64(chains)))
	if overflow {
		return nil, &FeeOverflowError{Base: base, PerChain: perChain, Chains: chains}
	}
	total, overflow := new(uint256.Int).AddOverflow(base, chainFees)
	if overflow {
		return nil, &FeeOverflowError{Base: base, PerChain: perChain, Chains: chains}
	}
	return total, nil
}

// splitFee divides a fee into treasury and burn shares:
// treasury = floor(fee × bps / 10000), burn = the remainder.
func splitFee(fee *uint256.Int, bps uint32) (treasury, burn *uint256.Int) {
	treasury, _ = new(uint256.Int).MulDivOverflow(fee, uint256.NewInt(uint64(bps)), uint256.NewInt(BpsDenominator))
	burn = new(uint256.Int).Sub(fee, treasury)
	return treasury, burn
}

// burnWallet resolves the configured burn wallet, defaulting to the
// conventional dead address.
func (r *Registry) burnWallet() shared.Address {
	if r.state.Burn == (shared.Address{}) {
		return shared.DeadAddress
	}
	return r.state.Burn
}

// chargeFee settles a verification fee, trying the credit path first. A
// credit debit is staged into batch so it commits together with the record;
// token transfers run before that commit and abort the call on failure.
func (r *Registry) chargeFee(
	ctx context.Context,
	batch *leveldb.Batch,
	relayer, user shared.Address,
	fee *uint256.Int,
) (*feeCharge, error) {
	treasury, burn := splitFee(fee, r.state.TreasuryBps)
	charge := &feeCharge{Fee: fee, Treasury: treasury, Burn: burn}
	if fee.IsZero() {
		return charge, nil
	}

	if r.cfg.CreditsEnabled {
		allocation, err := amountAt(r.kv, allocKey(relayer, user))
		if err != nil {
			return nil, fmt.Errorf("loading credit allocation: %w", err)
		}
		if allocation.Cmp(fee) >= 0 {
			remaining := new(uint256.Int).Sub(allocation, fee)
			encoded := remaining.Bytes32()
			batch.Put(allocKey(relayer, user), encoded[:])
			if err := r.distribute(ctx, treasury, burn); err != nil {
				return nil, err
			}
			charge.FromCredits = true
			return charge, nil
		}
	}

	// Direct path: both shares are pulled from the user's standing
	// allowance, checked up front so the two pulls cannot half-apply.
	allowance, err := r.ledger.Allowance(ctx, user, r.addr)
	if err != nil {
		return nil, fmt.Errorf("loading allowance: %w", err)
	}
	if allowance.Cmp(fee) < 0 {
		return nil, fmt.Errorf("%w: allowance %s, fee %s", token.ErrInsufficientAllowance, allowance, fee)
	}
	balance, err := r.ledger.BalanceOf(ctx, user)
	if err != nil {
		return nil, fmt.Errorf("loading balance: %w", err)
	}
	if balance.Cmp(fee) < 0 {
		return nil, fmt.Errorf("%w: balance %s, fee %s", token.ErrInsufficientBalance, balance, fee)
	}
	if !treasury.IsZero() {
		if err := r.ledger.TransferFrom(ctx, r.addr, user, r.state.Treasury, treasury); err != nil {
			return nil, fmt.Errorf("pulling treasury share: %w", err)
		}
	}
	if !burn.IsZero() {
		if err := r.ledger.TransferFrom(ctx, r.addr, user, r.burnWallet(), burn); err != nil {
			return nil, fmt.Errorf("pulling burn share: %w", err)
		}
	}
	return charge, nil
}

// distribute pays the treasury and burn shares out of the registry's own
// held balance, built up by relayer deposits.
func (r *Registry) distribute(ctx context.Context, treasury, burn *uint256.Int) error {
	if !treasury.IsZero() {
		if err := r.ledger.Transfer(ctx, r.addr, r.state.Treasury, treasury); err != nil {
			return fmt.Errorf("transferring treasury share: %w", err)
		}
	}
	if !burn.IsZero() {
		if err := r.ledger.Transfer(ctx, r.addr, r.burnWallet(), burn); err != nil {
			return fmt.Errorf("transferring burn share: %w", err)
		}
	}
	return nil
}
