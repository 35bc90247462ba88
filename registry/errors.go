package registry

import (
	"errors"
	"fmt"

	"github.com/holiman/uint256"

	"github.com/qanchornet/qanchor/shared"
)

// Sentinel errors. Rejections carrying an offending identifier use the typed
// wrappers below so callers can tell "already done" from "must fix and
// retry".
var (
	ErrUnauthorized     = errors.New("caller is not authorized")
	ErrPaused           = errors.New("registry is paused")
	ErrNotPaused        = errors.New("registry is not paused")
	ErrCrossChainPaused = errors.New("cross-chain operation is paused")
	ErrReasonRequired   = errors.New("a reason is required")

	ErrZeroAddress  = errors.New("user address must not be zero")
	ErrZeroQHash    = errors.New("qhash must not be zero")
	ErrEmptyProofID = errors.New("proof id must not be empty")
	ErrEmptyType    = errors.New("verification type must not be empty")

	ErrAlreadyVerified  = errors.New("qhash already verified")
	ErrUnknownQHash     = errors.New("unknown qhash")
	ErrChainNotTarget   = errors.New("chain is not a verification target")
	ErrAlreadyConfirmed = errors.New("chain verification already confirmed")
	ErrLengthMismatch   = errors.New("qhash and chain arrays differ in length")

	ErrFeeOverflow         = errors.New("fee computation overflows")
	ErrAmountOverflow      = errors.New("amount overflows")
	ErrInsufficientCredits = errors.New("insufficient credits")
	ErrZeroAmount          = errors.New("amount must not be zero")
	ErrInvalidBps          = errors.New("treasury bps exceeds 10000")

	ErrHubUnconfigured = errors.New("voucher hub is not configured")

	ErrVerifierExists   = errors.New("verification type already registered")
	ErrUnknownVerifier  = errors.New("unknown verifier")
	ErrVerifierActive   = errors.New("verifier is already active")
	ErrVerifierInactive = errors.New("verifier is already inactive")
)

type AlreadyVerifiedError struct {
	QHash shared.QHash
}

func (e *AlreadyVerifiedError) Error() string {
	return fmt.Sprintf("%s: %s", ErrAlreadyVerified, e.QHash)
}

func (e *AlreadyVerifiedError) Unwrap() error { return ErrAlreadyVerified }

type UnknownQHashError struct {
	QHash shared.QHash
}

func (e *UnknownQHashError) Error() string {
	return fmt.Sprintf("%s: %s", ErrUnknownQHash, e.QHash)
}

func (e *UnknownQHashError) Unwrap() error { return ErrUnknownQHash }

type ChainNotTargetError struct {
	QHash shared.QHash
	Chain shared.ChainID
}

func (e *ChainNotTargetError) Error() string {
	return fmt.Sprintf("%s: chain %d, qhash %s", ErrChainNotTarget, e.Chain, e.QHash)
}

func (e *ChainNotTargetError) Unwrap() error { return ErrChainNotTarget }

type AlreadyConfirmedError struct {
	QHash shared.QHash
	Chain shared.ChainID
}

func (e *AlreadyConfirmedError) Error() string {
	return fmt.Sprintf("%s: chain %d, qhash %s", ErrAlreadyConfirmed, e.Chain, e.QHash)
}

func (e *AlreadyConfirmedError) Unwrap() error { return ErrAlreadyConfirmed }

// FeeOverflowError rejects a fee computation that would wrap around instead
// of wrapping silently.
type FeeOverflowError struct {
	Base     *uint256.Int
	PerChain *uint256.Int
	Chains   int
}

func (e *FeeOverflowError) Error() string {
	return fmt.Sprintf("%s: base %s, per-chain %s, %d chains", ErrFeeOverflow, e.Base, e.PerChain, e.Chains)
}

func (e *FeeOverflowError) Unwrap() error { return ErrFeeOverflow }

type InsufficientCreditsError struct {
	Required  *uint256.Int
	Available *uint256.Int
}

func (e *InsufficientCreditsError) Error() string {
	return fmt.Sprintf("%s: required %s, available %s", ErrInsufficientCredits, e.Required, e.Available)
}

func (e *InsufficientCreditsError) Unwrap() error { return ErrInsufficientCredits }

type VerifierExistsError struct {
	Type string
	ID   shared.VerifierID
}

func (e *VerifierExistsError) Error() string {
	return fmt.Sprintf("%s: %q (%s)", ErrVerifierExists, e.Type, e.ID)
}

func (e *VerifierExistsError) Unwrap() error { return ErrVerifierExists }
