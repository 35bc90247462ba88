package registry

import (
	"encoding/binary"
	"errors"

	"github.com/holiman/uint256"

	"github.com/qanchornet/qanchor/db"
	"github.com/qanchornet/qanchor/shared"
)

// Key layout inside the registry store. Relayer membership and timelock
// entries share the store under their own prefixes.
var (
	recordPrefix    = []byte("record/")
	confirmedPrefix = []byte("confirmed/")
	noncePrefix     = []byte("nonce/")
	verifierPrefix  = []byte("verifier/")
	poolPrefix      = []byte("credit/pool/")
	allocPrefix     = []byte("credit/alloc/")
	counterKey      = []byte("state/counter")
	stateKey        = []byte("state/config")
)

func recordKey(qHash shared.QHash) []byte {
	return append(append([]byte{}, recordPrefix...), qHash.Bytes()...)
}

func confirmedKey(qHash shared.QHash, chain shared.ChainID) []byte {
	key := append(append([]byte{}, confirmedPrefix...), qHash.Bytes()...)
	return binary.BigEndian.AppendUint64(key, uint64(chain))
}

func nonceKey(addr shared.Address) []byte {
	return append(append([]byte{}, noncePrefix...), addr.Bytes()...)
}

func verifierKey(id shared.VerifierID) []byte {
	return append(append([]byte{}, verifierPrefix...), id.Bytes()...)
}

func poolKey(relayer shared.Address) []byte {
	return append(append([]byte{}, poolPrefix...), relayer.Bytes()...)
}

func allocKey(relayer, user shared.Address) []byte {
	key := append(append([]byte{}, allocPrefix...), relayer.Bytes()...)
	return append(key, user.Bytes()...)
}

// recordData is the stored form of a verification record: an immutable audit
// entry written exactly once. Chains is kept so later per-chain confirmations
// can validate their target.
type recordData struct {
	User     shared.Address
	Verified bool
	At       int64
	Sequence uint64
	ProofID  string
	Type     string
	Nonce    uint64
	Chains   []shared.ChainID
}

type confirmationData struct {
	Relayer shared.Address
	At      int64
}

type verifierData struct {
	Type   string
	Active bool
	At     int64
}

// stateData is the registry's mutable configuration, one record rewritten as
// a whole on every admin change. A zero Burn address routes the burn share to
// the conventional dead address.
type stateData struct {
	BaseFee     [32]byte
	PerChainFee [32]byte
	TreasuryBps uint32
	Treasury    shared.Address
	Burn        shared.Address
	Collector   shared.Address
	Hub         shared.Address
	Paused      bool
	CrossPaused bool
}

// amountAt reads a stored big-endian credit amount, zero when absent.
func amountAt(kv *db.KV, key []byte) (*uint256.Int, error) {
	raw, err := kv.Get(key)
	switch {
	case errors.Is(err, db.ErrNotFound):
		return uint256.NewInt(0), nil
	case err != nil:
		return nil, err
	}
	return new(uint256.Int).SetBytes(raw), nil
}
