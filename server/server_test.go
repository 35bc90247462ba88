package server_test

// End to end tests running a qanchor server and driving a verification
// through the registry, the hub and the spokes over its Go API.

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"testing"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/qanchornet/qanchor/server"
	"github.com/qanchornet/qanchor/shared"
	"github.com/qanchornet/qanchor/spoke"
	"github.com/qanchornet/qanchor/transport"
)

var (
	owner           = shared.Address{0x0a}
	relayer         = shared.Address{0x0b}
	user            = shared.Address{0x0c}
	registryAccount = shared.Address{0xcc}
	hubAccount      = shared.Address{0xdd}
)

func testConfig(t *testing.T) server.Config {
	t.Helper()
	cfg := server.DefaultConfig()
	cfg.QanchorDir = t.TempDir()
	cfg.Genesis = &server.GenesisConfig{
		Owner:           shared.HexAddress(owner),
		RegistryAccount: shared.HexAddress(registryAccount),
		HubAccount:      shared.HexAddress(hubAccount),
		Treasury:        shared.HexAddress(shared.Address{0xaa}),
		Collector:       shared.HexAddress(shared.Address{0xfe}),
		Relayers:        []shared.HexAddress{shared.HexAddress(relayer)},
		Chains:          []shared.ChainID{101, 137},
	}
	cfg.Registry.BaseFee = shared.Amount(*uint256.NewInt(10))
	cfg.Registry.PerChainFee = shared.Amount(*uint256.NewInt(1))

	cfg, err := server.SetupConfig(cfg)
	require.NoError(t, err)
	return *cfg
}

func spawnServer(t *testing.T, cfg server.Config) *server.Server {
	t.Helper()
	srv, err := server.New(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { assert.NoError(t, srv.Close()) })
	return srv
}

// Test qanchor service startup and the metrics endpoint.
func TestServerStart(t *testing.T) {
	t.Parallel()
	req := require.New(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg := testConfig(t)
	metricsPort := uint16(0)
	cfg.MetricsPort = &metricsPort

	srv := spawnServer(t, cfg)

	var eg errgroup.Group
	eg.Go(func() error {
		return srv.Start(ctx)
	})

	port := srv.MetricsAddr().(*net.TCPAddr).Port
	resp, err := http.Get(fmt.Sprintf("http://localhost:%d/metrics", port))
	req.NoError(err)
	body, err := io.ReadAll(resp.Body)
	req.NoError(err)
	req.NoError(resp.Body.Close())
	req.Contains(string(body), "qanchor_registry_verifications_total")
	req.Contains(string(body), "qanchor_hub_vouchers_created_total")
	req.Contains(string(body), "qanchor_spoke_vouchers_fulfilled_total")

	cancel()
	req.NoError(eg.Wait())
}

// Test a verification flowing registry -> hub -> spokes -> hub, with every
// event signed under the daemon's identity.
func TestVerifyDataEndToEnd(t *testing.T) {
	t.Parallel()
	req := require.New(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	srv := spawnServer(t, testConfig(t))

	var eg errgroup.Group
	eg.Go(func() error {
		return srv.Start(ctx)
	})

	events, unsubscribe := srv.Bus().Subscribe(
		transport.KindVerificationCompleted,
		transport.KindVoucherCreated,
		transport.KindVoucherFulfilled,
	)
	defer unsubscribe()

	qHash := shared.QHash{0x42}
	chains := []shared.ChainID{101, 137}

	// The fee for two target chains is base 10 plus 2 * 1 per chain.
	srv.Ledger().Mint(user, uint256.NewInt(12))
	req.NoError(srv.Ledger().Approve(ctx, user, registryAccount, uint256.NewInt(12)))

	id, err := srv.Registry().VerifyData(ctx, relayer, user, qHash, chains, "proof-1", "image/v1")
	req.NoError(err)

	record, err := srv.Registry().Record(qHash)
	req.NoError(err)
	req.True(record.Verified)
	req.Equal(user, record.User)
	req.Equal(chains, record.TargetChains)

	info, err := srv.Hub().Voucher(ctx, id)
	req.NoError(err)
	req.Equal(qHash, info.QHash)
	req.True(info.Active)

	balance, err := srv.Ledger().BalanceOf(ctx, user)
	req.NoError(err)
	req.True(balance.IsZero())

	// Fulfill on every target chain and report back to the hub.
	for _, chain := range chains {
		sp := srv.Spoke(chain)
		req.NotNil(sp)
		result, err := sp.FulfillBatch(ctx, relayer, shared.BatchID{byte(chain)}, []spoke.FulfillmentParams{
			{VoucherID: id, QHash: qHash},
		})
		req.NoError(err)
		req.Equal(1, result.Fulfilled)

		req.NoError(srv.Hub().ConfirmFulfilled(ctx, relayer, id, qHash, chain))
	}
	req.Nil(srv.Spoke(1))

	info, err = srv.Hub().Voucher(ctx, id)
	req.NoError(err)
	req.False(info.Active)

	units := make(map[string]int)
	for i := 0; i < 4; i++ {
		env := <-events
		req.NoError(env.Verify())
		req.Equal([]byte(srv.PublicKey()), env.PubKey)
		units[env.Unit]++
	}
	req.Equal(map[string]int{"registry": 1, "hub": 1, "spoke-101": 1, "spoke-137": 1}, units)

	cancel()
	req.NoError(eg.Wait())
}

// Test that a restart keeps the service identity and the unit state.
func TestServerRestart(t *testing.T) {
	t.Parallel()
	req := require.New(t)
	ctx := context.Background()

	cfg := testConfig(t)
	qHash := shared.QHash{0x07}

	srv, err := server.New(ctx, cfg)
	req.NoError(err)
	publicKey := srv.PublicKey()

	srv.Ledger().Mint(user, uint256.NewInt(10))
	req.NoError(srv.Ledger().Approve(ctx, user, registryAccount, uint256.NewInt(10)))
	_, err = srv.Registry().VerifyData(ctx, relayer, user, qHash, nil, "proof-7", "doc/v1")
	req.NoError(err)
	req.NoError(srv.Close())

	srv, err = server.New(ctx, cfg)
	req.NoError(err)
	t.Cleanup(func() { assert.NoError(t, srv.Close()) })

	req.Equal(publicKey, srv.PublicKey())
	req.EqualValues(1, srv.Registry().Counter())
	record, err := srv.Registry().Record(qHash)
	req.NoError(err)
	req.True(record.Verified)
	req.Equal("proof-7", record.ProofID)
	req.EqualValues(1, srv.Hub().Counter())
}
