package signing_test

import (
	"crypto/ed25519"
	"testing"

	"github.com/spacemeshos/go-scale"
	"github.com/stretchr/testify/require"

	"github.com/qanchornet/qanchor/signing"
)

type note struct {
	Seq  uint64
	Text string
}

func (n *note) EncodeScale(enc *scale.Encoder) (int, error) {
	total, err := scale.EncodeCompact64(enc, n.Seq)
	if err != nil {
		return total, err
	}
	m, err := scale.EncodeStringWithLimit(enc, n.Text, 256)
	return total + m, err
}

func TestSignAndOpen(t *testing.T) {
	t.Parallel()
	req := require.New(t)

	pub, priv, err := ed25519.GenerateKey(nil)
	req.NoError(err)

	signed, err := signing.Sign[note](note{Seq: 9, Text: "anchored"}, priv)
	req.NoError(err)
	req.Equal([]byte(pub), signed.PubKey())
	req.Equal(uint64(9), signed.Data().Seq)

	opened, err := signing.Open[note](*signed.Data(), signed.Signature(), signed.PubKey())
	req.NoError(err)
	req.Equal("anchored", opened.Data().Text)
}

func TestOpenRejectsTamperedData(t *testing.T) {
	t.Parallel()
	req := require.New(t)

	_, priv, err := ed25519.GenerateKey(nil)
	req.NoError(err)

	signed, err := signing.Sign[note](note{Seq: 1, Text: "original"}, priv)
	req.NoError(err)

	tampered := note{Seq: 1, Text: "forged"}
	_, err = signing.Open[note](tampered, signed.Signature(), signed.PubKey())
	req.ErrorIs(err, signing.ErrSignatureInvalid)
}

func TestOpenRejectsBadPubkey(t *testing.T) {
	t.Parallel()
	req := require.New(t)

	_, priv, err := ed25519.GenerateKey(nil)
	req.NoError(err)

	signed, err := signing.Sign[note](note{Seq: 2, Text: "x"}, priv)
	req.NoError(err)

	_, err = signing.Open[note](*signed.Data(), signed.Signature(), []byte("short"))
	req.ErrorIs(err, signing.ErrInvalidPubkeyLen)
}
