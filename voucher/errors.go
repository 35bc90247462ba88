package voucher

import (
	"errors"
	"fmt"

	"github.com/qanchornet/qanchor/shared"
)

var (
	ErrUnauthorized     = errors.New("unauthorized caller")
	ErrPaused           = errors.New("hub is paused")
	ErrNotPaused        = errors.New("hub is not paused")
	ErrCreationPaused   = errors.New("voucher creation is paused")
	ErrNoTargetChains   = errors.New("no target chains")
	ErrVoucherExists    = errors.New("voucher already exists")
	ErrUnknownVoucher   = errors.New("unknown voucher")
	ErrChainNotTarget   = errors.New("chain is not a voucher target")
	ErrAlreadyFulfilled = errors.New("fulfillment already observed")
	ErrQHashMismatch    = errors.New("qhash does not match voucher")
	ErrReasonRequired   = errors.New("reason must not be empty")
)

// VoucherExistsError rejects a creation whose derived id is already taken:
// a counter or timestamp reuse colliding loudly instead of aliasing.
type VoucherExistsError struct {
	ID shared.VoucherID
}

func (e *VoucherExistsError) Error() string {
	return fmt.Sprintf("%s: %s", ErrVoucherExists, e.ID)
}

func (e *VoucherExistsError) Unwrap() error { return ErrVoucherExists }

type UnknownVoucherError struct {
	ID shared.VoucherID
}

func (e *UnknownVoucherError) Error() string {
	return fmt.Sprintf("%s: %s", ErrUnknownVoucher, e.ID)
}

func (e *UnknownVoucherError) Unwrap() error { return ErrUnknownVoucher }

type ChainNotTargetError struct {
	ID    shared.VoucherID
	Chain shared.ChainID
}

func (e *ChainNotTargetError) Error() string {
	return fmt.Sprintf("%s: chain %d, voucher %s", ErrChainNotTarget, e.Chain, e.ID)
}

func (e *ChainNotTargetError) Unwrap() error { return ErrChainNotTarget }

// AlreadyFulfilledError rejects a repeated hub-side confirmation. Unlike the
// spokes, the hub reports duplicates loudly so relayer double-submission is
// visible to indexers.
type AlreadyFulfilledError struct {
	ID    shared.VoucherID
	Chain shared.ChainID
}

func (e *AlreadyFulfilledError) Error() string {
	return fmt.Sprintf("%s: chain %d, voucher %s", ErrAlreadyFulfilled, e.Chain, e.ID)
}

func (e *AlreadyFulfilledError) Unwrap() error { return ErrAlreadyFulfilled }
