package transport

import (
	"bytes"
	"crypto/ed25519"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/minio/sha256-simd"
	xdr "github.com/nullstyle/go-xdr/xdr3"
	"github.com/spacemeshos/go-scale"

	"github.com/qanchornet/qanchor/signing"
)

var ErrNotSigned = errors.New("envelope is not signed")

// Envelope wraps an event for fan-out. When the bus carries a service
// identity, PubKey and Signature authenticate the envelope header, which
// commits to the payload through its digest.
type Envelope struct {
	ID        uuid.UUID
	Unit      string
	Seq       uint64
	Time      time.Time
	Kind      Kind
	Event     any
	PubKey    []byte
	Signature []byte
}

// envelopeHeader is the signed portion of an envelope. Scale encoding is
// hand-written to pin the byte layout indexers verify against.
type envelopeHeader struct {
	ID     [16]byte
	Unit   string
	Seq    uint64
	Kind   string
	At     uint64
	Digest [32]byte
}

const maxHeaderStringLen = 1 << 6

func (h *envelopeHeader) EncodeScale(enc *scale.Encoder) (total int, err error) {
	{
		n, err := scale.EncodeByteArray(enc, h.ID[:])
		if err != nil {
			return total, err
		}
		total += n
	}
	{
		n, err := scale.EncodeStringWithLimit(enc, h.Unit, maxHeaderStringLen)
		if err != nil {
			return total, err
		}
		total += n
	}
	{
		n, err := scale.EncodeCompact64(enc, h.Seq)
		if err != nil {
			return total, err
		}
		total += n
	}
	{
		n, err := scale.EncodeStringWithLimit(enc, h.Kind, maxHeaderStringLen)
		if err != nil {
			return total, err
		}
		total += n
	}
	{
		n, err := scale.EncodeCompact64(enc, h.At)
		if err != nil {
			return total, err
		}
		total += n
	}
	{
		n, err := scale.EncodeByteArray(enc, h.Digest[:])
		if err != nil {
			return total, err
		}
		total += n
	}
	return total, nil
}

func (e *Envelope) header() (envelopeHeader, error) {
	var buf bytes.Buffer
	if _, err := xdr.Marshal(&buf, e.Event); err != nil {
		return envelopeHeader{}, fmt.Errorf("encoding event payload: %w", err)
	}
	return envelopeHeader{
		ID:     [16]byte(e.ID),
		Unit:   e.Unit,
		Seq:    e.Seq,
		Kind:   string(e.Kind),
		At:     uint64(e.Time.UnixNano()),
		Digest: sha256.Sum256(buf.Bytes()),
	}, nil
}

func (e *Envelope) seal(key ed25519.PrivateKey) error {
	header, err := e.header()
	if err != nil {
		return err
	}
	signed, err := signing.Sign[envelopeHeader](header, key)
	if err != nil {
		return err
	}
	e.PubKey = signed.PubKey()
	e.Signature = signed.Signature()
	return nil
}

// Verify authenticates a signed envelope: the header fields and the payload
// digest must match the signature.
func (e *Envelope) Verify() error {
	if len(e.Signature) == 0 {
		return ErrNotSigned
	}
	header, err := e.header()
	if err != nil {
		return err
	}
	if _, err := signing.Open[envelopeHeader](header, e.Signature, e.PubKey); err != nil {
		return err
	}
	return nil
}
