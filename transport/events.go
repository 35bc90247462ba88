package transport

import (
	"time"

	"github.com/holiman/uint256"

	"github.com/qanchornet/qanchor/shared"
)

// Kind names an event type. Envelopes carry the emitting unit separately,
// so kinds shared by several units (relayer changes, pauses, timelock) stay
// unit-agnostic.
type Kind string

const (
	KindVerificationCompleted  Kind = "verification-completed"
	KindVerificationRejected   Kind = "verification-rejected"
	KindVoucherFallback        Kind = "voucher-fallback"
	KindVoucherCreated         Kind = "voucher-created"
	KindHubFulfillmentObserved Kind = "hub-fulfillment-observed"
	KindVoucherFulfilled       Kind = "voucher-fulfilled"
	KindBatchCompleted         Kind = "batch-completed"
	KindChainConfirmed         Kind = "chain-verification-confirmed"
	KindChainsConfirmed        Kind = "chain-verifications-confirmed"
	KindRelayerSetChanged      Kind = "relayer-set-changed"
	KindVerifierRegistered     Kind = "verifier-registered"
	KindVerifierStatusChanged  Kind = "verifier-status-changed"
	KindCreditsDeposited       Kind = "credits-deposited"
	KindCreditsAllocated       Kind = "credits-allocated"
	KindFeesChanged            Kind = "fees-changed"
	KindCreationFeeChanged     Kind = "creation-fee-changed"
	KindTreasurySplitChanged   Kind = "treasury-split-changed"
	KindCollectorChanged       Kind = "fee-collector-changed"
	KindHubAddressChanged      Kind = "hub-address-changed"
	KindRegistryAddressChanged Kind = "registry-address-changed"
	KindTimelockScheduled      Kind = "timelock-scheduled"
	KindTimelockExecuted       Kind = "timelock-executed"
	KindPaused                 Kind = "paused"
	KindResumed                Kind = "resumed"
)

// VerificationCompleted reports a successfully anchored verification and the
// voucher id(s) propagating it.
type VerificationCompleted struct {
	QHash        shared.QHash
	User         shared.Address
	Relayer      shared.Address
	VoucherIDs   []shared.VoucherID
	TargetChains []shared.ChainID
	Fee          uint256.Int
	Sequence     uint64
	Nonce        uint64
}

// VerificationRejected reports a verification attempt rejected before any
// state change, with the reason callers and indexers classify by.
type VerificationRejected struct {
	QHash   shared.QHash
	Relayer shared.Address
	Reason  string
}

// VoucherFallback reports that voucher creation failed and the verification
// was anchored under a locally-derived substitute id instead.
type VoucherFallback struct {
	QHash      shared.QHash
	User       shared.Address
	FallbackID shared.VoucherID
	Reason     string
}

// VoucherCreated lists every target chain of the new voucher in one shot.
type VoucherCreated struct {
	VoucherID    shared.VoucherID
	QHash        shared.QHash
	VerifierID   shared.VerifierID
	TargetChains []shared.ChainID
	Creator      shared.Address
}

// HubFulfillmentObserved reports the hub-side fulfillment flag flip.
type HubFulfillmentObserved struct {
	VoucherID shared.VoucherID
	QHash     shared.QHash
	Chain     shared.ChainID
	Relayer   shared.Address
}

// VoucherFulfilled reports a spoke-local fulfillment flag flip.
type VoucherFulfilled struct {
	Chain     shared.ChainID
	BatchID   shared.BatchID
	VoucherID shared.VoucherID
	QHash     shared.QHash
}

// BatchCompleted aggregates one spoke fulfillment batch. Root commits to the
// batch content so a batch id reuse attempt is auditable.
type BatchCompleted struct {
	Chain     shared.ChainID
	BatchID   shared.BatchID
	Total     uint32
	Fulfilled uint32
	Skipped   uint32
	Root      []byte
}

// ChainConfirmed reports a single registry-side per-chain confirmation.
type ChainConfirmed struct {
	QHash   shared.QHash
	Chain   shared.ChainID
	Relayer shared.Address
}

// ChainsConfirmed aggregates a batch confirmation call.
type ChainsConfirmed struct {
	Relayer   shared.Address
	Total     uint32
	Confirmed uint32
	Skipped   uint32
}

type RelayerSetChanged struct {
	Relayer    shared.Address
	Authorized bool
	Count      uint32
}

type VerifierRegistered struct {
	VerifierID       shared.VerifierID
	VerificationType string
}

type VerifierStatusChanged struct {
	VerifierID  shared.VerifierID
	Active      bool
	ActiveCount uint32
}

type CreditsDeposited struct {
	Relayer shared.Address
	Amount  uint256.Int
	Pool    uint256.Int
}

type CreditsAllocated struct {
	Relayer   shared.Address
	User      shared.Address
	Amount    uint256.Int
	Remaining uint256.Int
}

// FeesChanged reports the registry verification fee parameters after a
// timelocked update.
type FeesChanged struct {
	BaseFee     uint256.Int
	PerChainFee uint256.Int
}

// CreationFeeChanged reports the hub voucher-creation fee after a timelocked
// update.
type CreationFeeChanged struct {
	Fee uint256.Int
}

type TreasurySplitChanged struct {
	TreasuryBps uint32
	Treasury    shared.Address
	Burn        shared.Address
}

type CollectorChanged struct {
	Collector shared.Address
}

type HubAddressChanged struct {
	Address shared.Address
}

type RegistryAddressChanged struct {
	Address shared.Address
}

type TimelockScheduled struct {
	Action     string
	ProposalID shared.ProposalID
	Unlock     time.Time
}

type TimelockExecuted struct {
	Action     string
	ProposalID shared.ProposalID
}

// Paused reports an emergency stop. Scope is one of ScopeGlobal,
// ScopeCrossChain, ScopeCreation; the reason is mandatory.
type Paused struct {
	Scope  string
	Reason string
}

type Resumed struct {
	Scope  string
	Reason string
}

// Pause scopes. Global and the scoped flags compose by AND at call sites.
const (
	ScopeGlobal     = "global"
	ScopeCrossChain = "crosschain"
	ScopeCreation   = "creation"
)
