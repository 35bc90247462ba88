package registry_test

import (
	"context"
	"testing"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/qanchornet/qanchor/registry"
	"github.com/qanchornet/qanchor/shared"
	"github.com/qanchornet/qanchor/token"
	"github.com/qanchornet/qanchor/transport"
)

func mintAndApprove(t *testing.T, rt *registryTest, account shared.Address, v uint64) {
	t.Helper()
	rt.ledger.Mint(account, uint256.NewInt(v))
	require.NoError(t, rt.ledger.Approve(context.Background(), account, unitAddr, uint256.NewInt(v)))
}

func balance(t *testing.T, rt *registryTest, account shared.Address) uint64 {
	t.Helper()
	b, err := rt.ledger.BalanceOf(context.Background(), account)
	require.NoError(t, err)
	return b.Uint64()
}

func TestFeeSplit(t *testing.T) {
	t.Parallel()
	req := require.New(t)
	ctx := context.Background()

	cfg := testConfig()
	cfg.BaseFee = amount(1_000_000_000_000_000_000)
	cfg.PerChainFee = amount(100_000_000_000_000_000)
	rt := newRegistryTest(t, cfg, transport.KindVerificationCompleted)
	mintAndApprove(t, rt, user, 2_000_000_000_000_000_000)

	qHash := shared.QHash{0x11}
	rt.hub.EXPECT().CreateVoucher(gomock.Any(), qHash, gomock.Any(), gomock.Any()).Return(shared.VoucherID{0x12}, nil)
	_, err := rt.reg.VerifyData(ctx, relayer, user, qHash, []shared.ChainID{101, 102}, "proof-1", "image/v1")
	req.NoError(err)

	// base 1.0 + 2 × 0.1 = 1.2; at 7000 bps that is 0.84 to the treasury
	// and the 0.36 remainder to the burn wallet
	req.Equal(uint64(840_000_000_000_000_000), balance(t, rt, treasury))
	req.Equal(uint64(360_000_000_000_000_000), balance(t, rt, burnWallet))
	req.Equal(uint64(800_000_000_000_000_000), balance(t, rt, user))

	env := <-rt.events
	completed, ok := env.Event.(transport.VerificationCompleted)
	req.True(ok)
	req.Equal(uint64(1_200_000_000_000_000_000), completed.Fee.Uint64())
}

func TestFeeRequiresAllowanceAndBalance(t *testing.T) {
	t.Parallel()
	req := require.New(t)
	ctx := context.Background()

	cfg := testConfig()
	cfg.BaseFee = amount(5)
	rt := newRegistryTest(t, cfg, transport.KindVerificationRejected)

	_, err := rt.reg.VerifyData(ctx, relayer, user, shared.QHash{0x21}, nil, "proof-1", "image/v1")
	req.ErrorIs(err, token.ErrInsufficientAllowance)

	rt.ledger.Mint(user, uint256.NewInt(3))
	req.NoError(rt.ledger.Approve(ctx, user, unitAddr, uint256.NewInt(10)))
	_, err = rt.reg.VerifyData(ctx, relayer, user, shared.QHash{0x21}, nil, "proof-1", "image/v1")
	req.ErrorIs(err, token.ErrInsufficientBalance)

	// nothing was anchored and nothing moved
	verified, err := rt.reg.IsVerified(shared.QHash{0x21})
	req.NoError(err)
	req.False(verified)
	req.Equal(uint64(3), balance(t, rt, user))

	for i := 0; i < 2; i++ {
		env := <-rt.events
		_, ok := env.Event.(transport.VerificationRejected)
		req.True(ok)
	}
}

func TestFeeOverflowRejected(t *testing.T) {
	t.Parallel()
	req := require.New(t)
	ctx := context.Background()

	cfg := testConfig()
	cfg.PerChainFee = shared.Amount(*new(uint256.Int).SetAllOne())
	rt := newRegistryTest(t, cfg)

	_, err := rt.reg.VerifyData(ctx, relayer, user, shared.QHash{0x31}, []shared.ChainID{1, 2}, "proof-1", "image/v1")
	req.ErrorIs(err, registry.ErrFeeOverflow)
	var overflowErr *registry.FeeOverflowError
	req.ErrorAs(err, &overflowErr)
	req.Equal(2, overflowErr.Chains)
}

func TestBurnWalletDefaultsToDeadAddress(t *testing.T) {
	t.Parallel()
	req := require.New(t)
	ctx := context.Background()

	cfg := testConfig()
	cfg.BaseFee = amount(10)
	ledger := token.NewInMemoryLedger()
	reg, err := registry.New(ctx, t.TempDir(), ledger, registry.Genesis{
		Owner:    owner,
		Address:  unitAddr,
		Treasury: treasury,
		Relayers: []shared.Address{relayer},
	}, registry.WithConfig(cfg))
	req.NoError(err)
	t.Cleanup(func() { reg.Close() })

	_, gotTreasury, gotBurn := reg.TreasurySplit()
	req.Equal(treasury, gotTreasury)
	req.Equal(shared.DeadAddress, gotBurn)

	ledger.Mint(user, uint256.NewInt(10))
	req.NoError(ledger.Approve(ctx, user, unitAddr, uint256.NewInt(10)))
	_, err = reg.VerifyData(ctx, relayer, user, shared.QHash{0x41}, nil, "proof-1", "image/v1")
	req.NoError(err)

	dead, err := ledger.BalanceOf(ctx, shared.DeadAddress)
	req.NoError(err)
	req.Equal(uint64(3), dead.Uint64())
}

func TestCreditDepositAndAllocation(t *testing.T) {
	t.Parallel()
	req := require.New(t)
	ctx := context.Background()

	cfg := testConfig()
	cfg.CreditsEnabled = true
	rt := newRegistryTest(t, cfg, transport.KindCreditsDeposited, transport.KindCreditsAllocated)

	req.ErrorIs(rt.reg.DepositRelayerCredits(ctx, stranger, uint256.NewInt(1)), registry.ErrUnauthorized)
	req.ErrorIs(rt.reg.DepositRelayerCredits(ctx, relayer, nil), registry.ErrZeroAmount)
	req.ErrorIs(rt.reg.DepositRelayerCredits(ctx, relayer, uint256.NewInt(0)), registry.ErrZeroAmount)

	// the deposit pull needs a standing allowance for the unit account
	err := rt.reg.DepositRelayerCredits(ctx, relayer, uint256.NewInt(100))
	req.ErrorIs(err, token.ErrInsufficientAllowance)

	mintAndApprove(t, rt, relayer, 100)
	req.NoError(rt.reg.DepositRelayerCredits(ctx, relayer, uint256.NewInt(100)))
	req.Equal(uint64(100), balance(t, rt, unitAddr))
	req.Zero(balance(t, rt, relayer))

	pool, err := rt.reg.RelayerPool(relayer)
	req.NoError(err)
	req.Equal(uint64(100), pool.Uint64())

	env := <-rt.events
	deposited, ok := env.Event.(transport.CreditsDeposited)
	req.True(ok)
	req.Equal(relayer, deposited.Relayer)
	req.Equal(uint64(100), deposited.Amount.Uint64())
	req.Equal(uint64(100), deposited.Pool.Uint64())

	req.ErrorIs(rt.reg.AllocateUserCredits(ctx, relayer, shared.Address{}, uint256.NewInt(1)), registry.ErrZeroAddress)
	req.ErrorIs(rt.reg.AllocateUserCredits(ctx, relayer, user, uint256.NewInt(0)), registry.ErrZeroAmount)

	err = rt.reg.AllocateUserCredits(ctx, relayer, user, uint256.NewInt(101))
	req.ErrorIs(err, registry.ErrInsufficientCredits)
	var creditsErr *registry.InsufficientCreditsError
	req.ErrorAs(err, &creditsErr)
	req.Equal(uint64(100), creditsErr.Available.Uint64())

	req.NoError(rt.reg.AllocateUserCredits(ctx, relayer, user, uint256.NewInt(10)))
	pool, err = rt.reg.RelayerPool(relayer)
	req.NoError(err)
	req.Equal(uint64(90), pool.Uint64())
	allocation, err := rt.reg.UserAllocation(relayer, user)
	req.NoError(err)
	req.Equal(uint64(10), allocation.Uint64())

	env = <-rt.events
	allocated, ok := env.Event.(transport.CreditsAllocated)
	req.True(ok)
	req.Equal(user, allocated.User)
	req.Equal(uint64(10), allocated.Amount.Uint64())
	req.Equal(uint64(90), allocated.Remaining.Uint64())
}

func TestCreditFeePath(t *testing.T) {
	t.Parallel()
	req := require.New(t)
	ctx := context.Background()

	cfg := testConfig()
	cfg.CreditsEnabled = true
	cfg.BaseFee = amount(5)
	rt := newRegistryTest(t, cfg, transport.KindVerificationCompleted)

	mintAndApprove(t, rt, relayer, 100)
	req.NoError(rt.reg.DepositRelayerCredits(ctx, relayer, uint256.NewInt(100)))
	req.NoError(rt.reg.AllocateUserCredits(ctx, relayer, user, uint256.NewInt(10)))

	qHash := shared.QHash{0x51}
	rt.hub.EXPECT().CreateVoucher(gomock.Any(), qHash, gomock.Any(), gomock.Any()).Return(shared.VoucherID{0x52}, nil)
	_, err := rt.reg.VerifyData(ctx, relayer, user, qHash, nil, "proof-1", "image/v1")
	req.NoError(err)

	// the fee came out of the allocation; the user holds no tokens at all
	allocation, err := rt.reg.UserAllocation(relayer, user)
	req.NoError(err)
	req.Equal(uint64(5), allocation.Uint64())
	req.Zero(balance(t, rt, user))

	// shares are paid out of the unit's pooled deposits
	req.Equal(uint64(95), balance(t, rt, unitAddr))
	req.Equal(uint64(3), balance(t, rt, treasury))
	req.Equal(uint64(2), balance(t, rt, burnWallet))

	env := <-rt.events
	completed, ok := env.Event.(transport.VerificationCompleted)
	req.True(ok)
	req.Equal(uint64(5), completed.Fee.Uint64())
}

func TestCreditShortfallFallsBackToDirectPath(t *testing.T) {
	t.Parallel()
	req := require.New(t)
	ctx := context.Background()

	cfg := testConfig()
	cfg.CreditsEnabled = true
	cfg.BaseFee = amount(5)
	rt := newRegistryTest(t, cfg)

	mintAndApprove(t, rt, relayer, 100)
	req.NoError(rt.reg.DepositRelayerCredits(ctx, relayer, uint256.NewInt(100)))
	req.NoError(rt.reg.AllocateUserCredits(ctx, relayer, user, uint256.NewInt(7)))

	rt.hub.EXPECT().CreateVoucher(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).
		Return(shared.VoucherID{0x62}, nil)
	_, err := rt.reg.VerifyData(ctx, relayer, user, shared.QHash{0x61}, nil, "proof-1", "image/v1")
	req.NoError(err)

	// 2 credits left cannot cover the next fee, so payment falls back to
	// the user's own tokens, which they have not approved
	_, err = rt.reg.VerifyData(ctx, relayer, user, shared.QHash{0x62}, nil, "proof-2", "image/v1")
	req.ErrorIs(err, token.ErrInsufficientAllowance)

	allocation, err := rt.reg.UserAllocation(relayer, user)
	req.NoError(err)
	req.Equal(uint64(2), allocation.Uint64())

	// with an allowance in place the direct path settles the fee
	mintAndApprove(t, rt, user, 5)
	rt.hub.EXPECT().CreateVoucher(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).
		Return(shared.VoucherID{0x63}, nil)
	_, err = rt.reg.VerifyData(ctx, relayer, user, shared.QHash{0x62}, nil, "proof-2", "image/v1")
	req.NoError(err)
	req.Zero(balance(t, rt, user))

	allocation, err = rt.reg.UserAllocation(relayer, user)
	req.NoError(err)
	req.Equal(uint64(2), allocation.Uint64())
}

func TestCreditsDisabledIgnoresAllocations(t *testing.T) {
	t.Parallel()
	req := require.New(t)
	ctx := context.Background()

	cfg := testConfig()
	cfg.BaseFee = amount(5)
	rt := newRegistryTest(t, cfg)

	// allocations exist but the credit path is switched off
	mintAndApprove(t, rt, relayer, 100)
	req.NoError(rt.reg.DepositRelayerCredits(ctx, relayer, uint256.NewInt(100)))
	req.NoError(rt.reg.AllocateUserCredits(ctx, relayer, user, uint256.NewInt(10)))

	_, err := rt.reg.VerifyData(ctx, relayer, user, shared.QHash{0x71}, nil, "proof-1", "image/v1")
	req.ErrorIs(err, token.ErrInsufficientAllowance)

	allocation, err := rt.reg.UserAllocation(relayer, user)
	req.NoError(err)
	req.Equal(uint64(10), allocation.Uint64())
}
