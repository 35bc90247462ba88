package shared_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/qanchornet/qanchor/shared"
)

func TestDeriveVoucherID(t *testing.T) {
	t.Parallel()
	qHash := shared.QHash{0x01}
	verifier := shared.DeriveVerifierID("content/v1")
	at := time.Unix(1700000000, 0)

	id, err := shared.DeriveVoucherID(qHash, verifier, at, 7)
	require.NoError(t, err)
	require.NotEqual(t, shared.VoucherID{}, id)

	t.Run("deterministic", func(t *testing.T) {
		again, err := shared.DeriveVoucherID(qHash, verifier, at, 7)
		require.NoError(t, err)
		require.Equal(t, id, again)
	})
	t.Run("counter changes the id", func(t *testing.T) {
		other, err := shared.DeriveVoucherID(qHash, verifier, at, 8)
		require.NoError(t, err)
		require.NotEqual(t, id, other)
	})
	t.Run("timestamp changes the id", func(t *testing.T) {
		other, err := shared.DeriveVoucherID(qHash, verifier, at.Add(time.Second), 7)
		require.NoError(t, err)
		require.NotEqual(t, id, other)
	})
}

func TestIdSpacesAreDisjoint(t *testing.T) {
	t.Parallel()
	qHash := shared.QHash{0xaa}
	user := shared.Address{0xbb}
	at := time.Unix(1700000000, 0)

	voucher, err := shared.DeriveVoucherID(qHash, shared.VerifierID{}, at, 0)
	require.NoError(t, err)
	fallback, err := shared.DeriveFallbackVoucherID(qHash, user, at, "")
	require.NoError(t, err)
	require.NotEqual(t, voucher, fallback)
}

func TestDeriveVerifierID(t *testing.T) {
	t.Parallel()
	a := shared.DeriveVerifierID("image/perceptual")
	b := shared.DeriveVerifierID("image/perceptual")
	c := shared.DeriveVerifierID("audio/chromaprint")
	require.Equal(t, a, b)
	require.NotEqual(t, a, c)
}

func TestDeriveProposalID(t *testing.T) {
	t.Parallel()
	a, err := shared.DeriveProposalID("update-fees", []byte{1, 2, 3})
	require.NoError(t, err)
	b, err := shared.DeriveProposalID("update-fees", []byte{1, 2, 3})
	require.NoError(t, err)
	require.Equal(t, a, b)

	c, err := shared.DeriveProposalID("update-fees", []byte{1, 2, 4})
	require.NoError(t, err)
	require.NotEqual(t, a, c)

	d, err := shared.DeriveProposalID("update-treasury", []byte{1, 2, 3})
	require.NoError(t, err)
	require.NotEqual(t, a, d)
}

func TestHashBatchTreeNode(t *testing.T) {
	t.Parallel()
	left := make([]byte, 32)
	right := make([]byte, 32)
	right[0] = 1

	node := shared.HashBatchTreeNode(nil, left, right)
	require.Len(t, node, 32)
	require.NotEqual(t, node, shared.HashBatchTreeNode(nil, right, left))
}
