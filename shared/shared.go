package shared

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/zeebo/blake3"
)

// Protocol identifier types. All content-addressed ids are 32-byte hashes
// sharing the common.Hash representation; the aliases document intent at
// API boundaries.
type (
	// QHash is the canonical content fingerprint anchoring a verification
	// record. It is the protocol's primary key and arrives from callers.
	QHash = common.Hash

	// VoucherID identifies a propagation-intent record on the hub.
	VoucherID = common.Hash

	// VerifierID is derived deterministically from a verification-type
	// string.
	VerifierID = common.Hash

	// ProposalID identifies a scheduled timelock change.
	ProposalID = common.Hash

	// BatchID names a spoke fulfillment batch. Relayers choose it; the
	// spoke tracks completion under it.
	BatchID = common.Hash

	// Address is a ledger account (wallet, unit, treasury, ...).
	Address = common.Address
)

// ChainID identifies a target chain a verification should propagate to.
type ChainID uint64

// DeadAddress is the conventional burn sink used when no explicit burn
// wallet is configured.
var DeadAddress = common.HexToAddress("0x000000000000000000000000000000000000dEaD")

// HashBatchTreeNode calculates an internal node of the batch commitment
// merkle tree built over fulfillment descriptors.
func HashBatchTreeNode(buf, lChild, rChild []byte) []byte {
	hasher := blake3.New()
	_, _ = hasher.Write([]byte{0x01})
	_, _ = hasher.Write(lChild)
	_, _ = hasher.Write(rChild)
	return hasher.Sum(buf)
}
