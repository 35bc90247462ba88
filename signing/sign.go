// Package signing wraps payloads with the service identity signature. The
// daemon signs every outbound event envelope so indexers consuming the feed
// can authenticate its origin.
package signing

import (
	"bytes"
	"crypto/ed25519"
	"errors"
	"fmt"

	"github.com/spacemeshos/go-scale"
)

var (
	ErrSigningFailed    = errors.New("couldn't sign")
	ErrSignatureInvalid = errors.New("signature is invalid")
	ErrInvalidPubkeyLen = errors.New("pubkey has invalid length")
)

// Signed represents signed T data with read-only access.
type Signed[T any] interface {
	// Data retrieves the underlying data.
	// The received data is READ ONLY.
	Data() *T
	PubKey() []byte
	Signature() []byte
}

type signedData[T any] struct {
	data      T
	pubkey    []byte
	signature []byte
}

func (d *signedData[T]) Data() *T {
	return &d.data
}

func (d *signedData[T]) PubKey() []byte {
	return d.pubkey
}

func (d *signedData[T]) Signature() []byte {
	return d.signature
}

type encodable[P any] interface {
	scale.Encodable
	*P
}

// Sign signs the canonical encoding of data with the identity key.
// *T must implement scale.Encodable.
func Sign[T any, E encodable[T]](data T, key ed25519.PrivateKey) (Signed[T], error) {
	var buf bytes.Buffer
	if _, err := E(&data).EncodeScale(scale.NewEncoder(&buf)); err != nil {
		return nil, fmt.Errorf("failed to serialize data (%w)", err)
	}
	if l := len(key); l != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("%w: bad private key size %d", ErrSigningFailed, l)
	}
	return &signedData[T]{
		data:      data,
		pubkey:    key.Public().(ed25519.PublicKey),
		signature: ed25519.Sign(key, buf.Bytes()),
	}, nil
}

// Open verifies signature over the canonical encoding of data and returns the
// signed wrapper. *T must implement scale.Encodable.
func Open[T any, E encodable[T]](data T, signature, pubkey []byte) (Signed[T], error) {
	var buf bytes.Buffer
	if _, err := E(&data).EncodeScale(scale.NewEncoder(&buf)); err != nil {
		return nil, err
	}
	if l := len(pubkey); l != ed25519.PublicKeySize {
		return nil, ErrInvalidPubkeyLen
	}
	if !ed25519.Verify(ed25519.PublicKey(pubkey), buf.Bytes(), signature) {
		return nil, ErrSignatureInvalid
	}

	return &signedData[T]{
		data:      data,
		pubkey:    pubkey,
		signature: signature,
	}, nil
}
