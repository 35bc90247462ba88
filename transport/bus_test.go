package transport_test

import (
	"context"
	"crypto/ed25519"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/qanchornet/qanchor/logging"
	"github.com/qanchornet/qanchor/shared"
	"github.com/qanchornet/qanchor/transport"
)

func TestPublishSubscribe(t *testing.T) {
	t.Parallel()
	req := require.New(t)
	ctx := context.Background()

	bus := transport.NewBus()
	t.Cleanup(bus.Close)
	events, cancel := bus.Subscribe()
	t.Cleanup(cancel)

	emitter := bus.Emitter("registry")
	emitter.Publish(ctx, transport.KindChainConfirmed, transport.ChainConfirmed{
		QHash: shared.QHash{0x01},
		Chain: 5,
	})
	emitter.Publish(ctx, transport.KindPaused, transport.Paused{
		Scope:  transport.ScopeGlobal,
		Reason: "drill",
	})

	env := <-events
	req.Equal("registry", env.Unit)
	req.Equal(transport.KindChainConfirmed, env.Kind)
	req.Equal(uint64(1), env.Seq)
	confirmed, ok := env.Event.(transport.ChainConfirmed)
	req.True(ok)
	req.Equal(shared.ChainID(5), confirmed.Chain)

	env = <-events
	req.Equal(transport.KindPaused, env.Kind)
	req.Equal(uint64(2), env.Seq)
}

func TestKindFilter(t *testing.T) {
	t.Parallel()
	req := require.New(t)
	ctx := context.Background()

	bus := transport.NewBus()
	t.Cleanup(bus.Close)
	events, cancel := bus.Subscribe(transport.KindVoucherCreated)
	t.Cleanup(cancel)

	emitter := bus.Emitter("hub")
	emitter.Publish(ctx, transport.KindPaused, transport.Paused{Scope: "global", Reason: "x"})
	emitter.Publish(ctx, transport.KindVoucherCreated, transport.VoucherCreated{
		VoucherID: shared.VoucherID{0xaa},
	})
	bus.Close()

	env, open := <-events
	req.True(open)
	req.Equal(transport.KindVoucherCreated, env.Kind)
	_, open = <-events
	req.False(open)
}

func TestSlowSubscriberDropsEvents(t *testing.T) {
	t.Parallel()
	req := require.New(t)
	ctx := logging.NewContext(context.Background(), zaptest.NewLogger(t))

	bus := transport.NewBus(transport.WithSubscriberBuffer(1))
	t.Cleanup(bus.Close)
	events, cancel := bus.Subscribe()
	t.Cleanup(cancel)

	emitter := bus.Emitter("spoke-7")
	for i := 0; i < 3; i++ {
		emitter.Publish(ctx, transport.KindVoucherFulfilled, transport.VoucherFulfilled{Chain: 7})
	}

	// only the first event fit the buffer
	env := <-events
	req.Equal(uint64(1), env.Seq)
	req.Empty(events)
}

func TestSignedEnvelopes(t *testing.T) {
	t.Parallel()
	req := require.New(t)
	ctx := context.Background()

	pub, priv, err := ed25519.GenerateKey(nil)
	req.NoError(err)

	bus := transport.NewBus(transport.WithIdentity(priv))
	t.Cleanup(bus.Close)
	events, cancel := bus.Subscribe()
	t.Cleanup(cancel)

	bus.Emitter("registry").Publish(ctx, transport.KindChainConfirmed, transport.ChainConfirmed{
		QHash: shared.QHash{0x42},
		Chain: 1,
	})

	env := <-events
	req.Equal([]byte(pub), env.PubKey)
	req.NoError(env.Verify())

	// any header tamper invalidates the signature
	forged := env
	forged.Unit = "hub"
	req.Error(forged.Verify())

	// payload tamper too: the header digest commits to the event
	forged = env
	forged.Event = transport.ChainConfirmed{QHash: shared.QHash{0x43}, Chain: 1}
	req.Error(forged.Verify())
}

func TestUnsignedEnvelopeVerify(t *testing.T) {
	t.Parallel()
	req := require.New(t)

	bus := transport.NewBus()
	t.Cleanup(bus.Close)
	events, cancel := bus.Subscribe()
	t.Cleanup(cancel)

	bus.Emitter("hub").Publish(context.Background(), transport.KindResumed, transport.Resumed{
		Scope:  transport.ScopeCreation,
		Reason: "maintenance over",
	})

	env := <-events
	req.ErrorIs(env.Verify(), transport.ErrNotSigned)
}

func TestUnsubscribe(t *testing.T) {
	t.Parallel()
	req := require.New(t)
	ctx := context.Background()

	bus := transport.NewBus()
	t.Cleanup(bus.Close)
	events, cancel := bus.Subscribe()
	cancel()

	bus.Emitter("registry").Publish(ctx, transport.KindPaused, transport.Paused{Scope: "global", Reason: "x"})
	_, open := <-events
	req.False(open)
}

type recordingHub struct {
	caller shared.Address
	chains []shared.ChainID
}

func (h *recordingHub) CreateVoucher(
	_ context.Context,
	caller shared.Address,
	_ shared.QHash,
	targetChains []shared.ChainID,
	_ shared.VerifierID,
) (shared.VoucherID, error) {
	h.caller = caller
	h.chains = targetChains
	return shared.VoucherID{0x01}, nil
}

func TestHubBindingPresentsBoundCaller(t *testing.T) {
	t.Parallel()
	req := require.New(t)

	hub := &recordingHub{}
	registryAddr := shared.Address{0x11, 0x22}
	binding := transport.NewHubBinding(hub, registryAddr)

	id, err := binding.CreateVoucher(
		context.Background(),
		shared.QHash{0xab},
		[]shared.ChainID{3, 9},
		shared.VerifierID{0xcc},
	)
	req.NoError(err)
	req.Equal(shared.VoucherID{0x01}, id)
	req.Equal(registryAddr, hub.caller)
	req.Equal([]shared.ChainID{3, 9}, hub.chains)
}
