package spoke

import (
	"github.com/qanchornet/qanchor/shared"
)

// Key layout inside a spoke store. Timelock entries share the store under
// their own prefix.
var (
	fulfilledPrefix = []byte("fulfilled/")
	batchPrefix     = []byte("batch/")
	stateKey        = []byte("state/config")
)

func fulfilledKey(id shared.VoucherID) []byte {
	return append(append([]byte{}, fulfilledPrefix...), id.Bytes()...)
}

func batchKey(id shared.BatchID) []byte {
	return append(append([]byte{}, batchPrefix...), id.Bytes()...)
}

// fulfilledData records which batch flipped a voucher's local flag. The flag
// never regresses; the record is written once.
type fulfilledData struct {
	QHash shared.QHash
	Batch shared.BatchID
	At    int64
}

// batchData marks a batch id complete. Root commits to the submitted
// descriptors, so a later reuse attempt under the same id is auditable.
type batchData struct {
	Total     uint32
	Fulfilled uint32
	Skipped   uint32
	Root      []byte
	At        int64
}

// stateData is the spoke's configuration record. Hub is fixed at genesis;
// the timelocked rotation consumes proposals without rewriting it.
type stateData struct {
	Hub    shared.Address
	Paused bool
}
