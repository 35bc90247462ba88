package shared

import (
	"bytes"
	"fmt"
	"time"

	"github.com/minio/sha256-simd"
	"github.com/spacemeshos/go-scale"
)

// Domain tags keep the id spaces disjoint: two different kinds of ids can
// never collide even for identical inputs.
const (
	voucherTag  = "qanchor/voucher/v1"
	fallbackTag = "qanchor/voucher-fallback/v1"
	verifierTag = "qanchor/verifier/v1"
	proposalTag = "qanchor/proposal/v1"
)

const maxIdInputLen = 1 << 10

// voucherSeed is the canonical input of a voucher id.
// Scale encoding is implemented by hand to pin the byte layout.
type voucherSeed struct {
	QHash    QHash
	Verifier VerifierID
	Unix     uint64
	Counter  uint64
}

func (s *voucherSeed) EncodeScale(enc *scale.Encoder) (total int, err error) {
	{
		n, err := scale.EncodeByteArray(enc, s.QHash[:])
		if err != nil {
			return total, err
		}
		total += n
	}
	{
		n, err := scale.EncodeByteArray(enc, s.Verifier[:])
		if err != nil {
			return total, err
		}
		total += n
	}
	{
		n, err := scale.EncodeCompact64(enc, s.Unix)
		if err != nil {
			return total, err
		}
		total += n
	}
	{
		n, err := scale.EncodeCompact64(enc, s.Counter)
		if err != nil {
			return total, err
		}
		total += n
	}
	return total, nil
}

type fallbackSeed struct {
	QHash   QHash
	User    Address
	Unix    uint64
	Context string
}

func (s *fallbackSeed) EncodeScale(enc *scale.Encoder) (total int, err error) {
	{
		n, err := scale.EncodeByteArray(enc, s.QHash[:])
		if err != nil {
			return total, err
		}
		total += n
	}
	{
		n, err := scale.EncodeByteArray(enc, s.User[:])
		if err != nil {
			return total, err
		}
		total += n
	}
	{
		n, err := scale.EncodeCompact64(enc, s.Unix)
		if err != nil {
			return total, err
		}
		total += n
	}
	{
		n, err := scale.EncodeStringWithLimit(enc, s.Context, maxIdInputLen)
		if err != nil {
			return total, err
		}
		total += n
	}
	return total, nil
}

type proposalSeed struct {
	Action string
	Params []byte
}

func (s *proposalSeed) EncodeScale(enc *scale.Encoder) (total int, err error) {
	{
		n, err := scale.EncodeStringWithLimit(enc, s.Action, maxIdInputLen)
		if err != nil {
			return total, err
		}
		total += n
	}
	{
		n, err := scale.EncodeByteSliceWithLimit(enc, s.Params, maxIdInputLen)
		if err != nil {
			return total, err
		}
		total += n
	}
	return total, nil
}

func hashSeed(tag string, seed scale.Encodable) ([32]byte, error) {
	var buf bytes.Buffer
	if _, err := seed.EncodeScale(scale.NewEncoder(&buf)); err != nil {
		return [32]byte{}, fmt.Errorf("encoding %s seed: %w", tag, err)
	}
	hasher := sha256.New()
	hasher.Write([]byte(tag))
	hasher.Write(buf.Bytes())
	var id [32]byte
	hasher.Sum(id[:0])
	return id, nil
}

// DeriveVoucherID derives the content-addressed id of a voucher from its
// business inputs plus the hub's running counter. Identical inputs with an
// identical counter and timestamp produce the same id on purpose, so a
// counter or timestamp reuse collides loudly instead of aliasing a voucher.
func DeriveVoucherID(qHash QHash, verifier VerifierID, at time.Time, counter uint64) (VoucherID, error) {
	return hashSeed(voucherTag, &voucherSeed{
		QHash:    qHash,
		Verifier: verifier,
		Unix:     uint64(at.Unix()),
		Counter:  counter,
	})
}

// DeriveFallbackVoucherID derives the substitute voucher id used when the
// hub cannot be reached during verification. The failure context string is
// part of the seed so distinct outages yield distinct ids.
func DeriveFallbackVoucherID(qHash QHash, user Address, at time.Time, context string) (VoucherID, error) {
	return hashSeed(fallbackTag, &fallbackSeed{
		QHash:   qHash,
		User:    user,
		Unix:    uint64(at.Unix()),
		Context: context,
	})
}

// DeriveVerifierID maps a verification-type string to its verifier id.
func DeriveVerifierID(verificationType string) VerifierID {
	hasher := sha256.New()
	hasher.Write([]byte(verifierTag))
	hasher.Write([]byte(verificationType))
	var id VerifierID
	hasher.Sum(id[:0])
	return id
}

// DeriveProposalID derives a timelock proposal id from the action name and
// the canonical encoding of its parameters.
func DeriveProposalID(action string, params []byte) (ProposalID, error) {
	return hashSeed(proposalTag, &proposalSeed{Action: action, Params: params})
}
