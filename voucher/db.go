package voucher

import (
	"encoding/binary"

	"github.com/qanchornet/qanchor/shared"
)

// Key layout inside the hub store. Timelock entries share the store under
// their own prefix.
var (
	voucherPrefix   = []byte("voucher/")
	fulfilledPrefix = []byte("fulfilled/")
	counterKey      = []byte("state/counter")
	stateKey        = []byte("state/config")
)

func voucherKey(id shared.VoucherID) []byte {
	return append(append([]byte{}, voucherPrefix...), id.Bytes()...)
}

func fulfilledKey(id shared.VoucherID, chain shared.ChainID) []byte {
	key := append(append([]byte{}, fulfilledPrefix...), id.Bytes()...)
	return binary.BigEndian.AppendUint64(key, uint64(chain))
}

// voucherData is the stored form of a voucher. The record is created once;
// only Active ever changes afterwards, flipped when the last target chain's
// fulfillment is observed.
type voucherData struct {
	QHash     shared.QHash
	Verifier  shared.VerifierID
	Chains    []shared.ChainID
	CreatedAt int64
	Active    bool
	Creator   shared.Address
}

// stateData is the hub's mutable configuration, one record rewritten as a
// whole on every admin change.
type stateData struct {
	Registry       shared.Address
	Collector      shared.Address
	CreationFee    [32]byte
	Paused         bool
	CreationPaused bool
}
