// Package token defines the asset-ledger collaborator the protocol charges
// fees against. The protocol never holds token logic of its own; it moves
// balances through this interface and keeps only credit bookkeeping locally.
package token

import (
	"context"
	"errors"

	"github.com/holiman/uint256"

	"github.com/qanchornet/qanchor/shared"
)

//go:generate mockgen -package mocks -destination mocks/ledger.go . Ledger

var (
	ErrInsufficientBalance   = errors.New("insufficient balance")
	ErrInsufficientAllowance = errors.New("insufficient allowance")
)

// Ledger is the external asset ledger. Callers are explicit: there is no
// ambient transaction sender, so every operation names the account acting.
type Ledger interface {
	// BalanceOf returns the spendable balance of account.
	BalanceOf(ctx context.Context, account shared.Address) (*uint256.Int, error)

	// Allowance returns what spender may still pull from owner.
	Allowance(ctx context.Context, owner, spender shared.Address) (*uint256.Int, error)

	// Approve sets spender's allowance over owner's balance to amount,
	// replacing any previous value.
	Approve(ctx context.Context, owner, spender shared.Address, amount *uint256.Int) error

	// Transfer moves amount from the caller's own account to `to`.
	Transfer(ctx context.Context, from, to shared.Address, amount *uint256.Int) error

	// TransferFrom moves amount from `from` to `to` on behalf of spender,
	// consuming spender's allowance.
	TransferFrom(ctx context.Context, spender, from, to shared.Address, amount *uint256.Int) error
}
