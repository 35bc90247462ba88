package spoke_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/qanchornet/qanchor/relayers"
	"github.com/qanchornet/qanchor/shared"
	"github.com/qanchornet/qanchor/shared/mocks"
	"github.com/qanchornet/qanchor/spoke"
	"github.com/qanchornet/qanchor/timelock"
	"github.com/qanchornet/qanchor/transport"
)

var (
	owner    = shared.Address{0x0a}
	relayer  = shared.Address{0x0b}
	stranger = shared.Address{0x0c}
	hubAddr  = shared.Address{0x0d}
)

type spokeTest struct {
	spoke  *spoke.Spoke
	events <-chan transport.Envelope
	now    *time.Time
}

func newSpokeTest(t *testing.T, chain shared.ChainID, kinds ...transport.Kind) *spokeTest {
	t.Helper()
	req := require.New(t)

	now := time.Unix(1700000000, 0)
	clk := mocks.NewMockClock(gomock.NewController(t))
	clk.EXPECT().Now().DoAndReturn(func() time.Time { return now }).AnyTimes()

	bus := transport.NewBus()
	t.Cleanup(bus.Close)
	events, cancel := bus.Subscribe(kinds...)
	t.Cleanup(cancel)

	cfg := spoke.DefaultConfig()
	cfg.TimelockDelay = time.Hour
	s, err := spoke.New(
		context.Background(),
		t.TempDir(),
		chain,
		spoke.Genesis{Owner: owner, Hub: hubAddr, Relayers: []shared.Address{relayer}},
		spoke.WithConfig(cfg),
		spoke.WithClock(clk),
		spoke.WithEmitter(bus.Emitter("spoke")),
	)
	req.NoError(err)
	t.Cleanup(func() { s.Close() })

	return &spokeTest{spoke: s, events: events, now: &now}
}

func descriptors(n int, first byte) []spoke.FulfillmentParams {
	params := make([]spoke.FulfillmentParams, n)
	for i := range params {
		params[i] = spoke.FulfillmentParams{
			VoucherID: shared.VoucherID{first, byte(i)},
			QHash:     shared.QHash{first, byte(i), 0x01},
		}
	}
	return params
}

func TestFulfillBatch(t *testing.T) {
	t.Parallel()
	req := require.New(t)
	ctx := context.Background()
	st := newSpokeTest(t, 101, transport.KindVoucherFulfilled, transport.KindBatchCompleted)

	batchID := shared.BatchID{0x01}
	params := descriptors(3, 0x10)

	res, err := st.spoke.FulfillBatch(ctx, relayer, batchID, params)
	req.NoError(err)
	req.Equal(3, res.Total)
	req.Equal(3, res.Fulfilled)
	req.Zero(res.Skipped)
	req.Len(res.Root, 32)

	for _, p := range params {
		ok, err := st.spoke.Fulfilled(p.VoucherID)
		req.NoError(err)
		req.True(ok)
	}

	info, err := st.spoke.Batch(batchID)
	req.NoError(err)
	req.Equal(3, info.Total)
	req.Equal(3, info.Fulfilled)
	req.Equal(res.Root, info.Root)

	// three per-voucher events, then the aggregate
	for i := 0; i < 3; i++ {
		env := <-st.events
		fulfilled, ok := env.Event.(transport.VoucherFulfilled)
		req.True(ok)
		req.Equal(params[i].VoucherID, fulfilled.VoucherID)
		req.Equal(shared.ChainID(101), fulfilled.Chain)
	}
	env := <-st.events
	completed, ok := env.Event.(transport.BatchCompleted)
	req.True(ok)
	req.Equal(uint32(3), completed.Total)
	req.Equal(res.Root, completed.Root)
}

func TestFulfillBatchSkipsFulfilled(t *testing.T) {
	t.Parallel()
	req := require.New(t)
	ctx := context.Background()
	st := newSpokeTest(t, 101)

	params := descriptors(2, 0x20)
	_, err := st.spoke.FulfillBatch(ctx, relayer, shared.BatchID{0x01}, params)
	req.NoError(err)

	// overlap with the first batch skips silently instead of failing
	next := []spoke.FulfillmentParams{params[1], {VoucherID: shared.VoucherID{0x21, 0x02}, QHash: shared.QHash{0x22}}}
	res, err := st.spoke.FulfillBatch(ctx, relayer, shared.BatchID{0x02}, next)
	req.NoError(err)
	req.Equal(2, res.Total)
	req.Equal(1, res.Fulfilled)
	req.Equal(1, res.Skipped)

	// a voucher repeated within one call counts once
	dup := []spoke.FulfillmentParams{
		{VoucherID: shared.VoucherID{0x23}, QHash: shared.QHash{0x24}},
		{VoucherID: shared.VoucherID{0x23}, QHash: shared.QHash{0x24}},
	}
	res, err = st.spoke.FulfillBatch(ctx, relayer, shared.BatchID{0x03}, dup)
	req.NoError(err)
	req.Equal(1, res.Fulfilled)
	req.Equal(1, res.Skipped)
}

func TestFulfillBatchValidation(t *testing.T) {
	t.Parallel()
	req := require.New(t)
	ctx := context.Background()
	st := newSpokeTest(t, 101)

	_, err := st.spoke.FulfillBatch(ctx, stranger, shared.BatchID{0x01}, descriptors(1, 0x30))
	req.ErrorIs(err, spoke.ErrUnauthorized)

	_, err = st.spoke.FulfillBatch(ctx, relayer, shared.BatchID{0x01}, nil)
	req.ErrorIs(err, spoke.ErrEmptyBatch)

	_, err = st.spoke.FulfillBatch(ctx, relayer, shared.BatchID{0x01}, descriptors(spoke.MaxBatchSize+1, 0x30))
	req.ErrorIs(err, spoke.ErrBatchTooLarge)
	var tooLarge *spoke.BatchTooLargeError
	req.ErrorAs(err, &tooLarge)
	req.Equal(spoke.MaxBatchSize+1, tooLarge.Size)
	req.Equal(spoke.MaxBatchSize, tooLarge.Max)

	// a batch at the cap passes
	res, err := st.spoke.FulfillBatch(ctx, relayer, shared.BatchID{0x01}, descriptors(spoke.MaxBatchSize, 0x30))
	req.NoError(err)
	req.Equal(spoke.MaxBatchSize, res.Fulfilled)

	// completion is tracked per batch id, regardless of content
	_, err = st.spoke.FulfillBatch(ctx, relayer, shared.BatchID{0x01}, descriptors(1, 0x40))
	req.ErrorIs(err, spoke.ErrBatchCompleted)
	var completed *spoke.BatchCompletedError
	req.ErrorAs(err, &completed)
	req.Equal(res.Root, completed.Root)
}

func TestBatchRootCommitsToContent(t *testing.T) {
	t.Parallel()
	req := require.New(t)
	ctx := context.Background()
	st := newSpokeTest(t, 101)

	params := descriptors(4, 0x50)

	// identical content under distinct batch ids commits to the same root,
	// even though the second pass flips nothing
	first, err := st.spoke.FulfillBatch(ctx, relayer, shared.BatchID{0x01}, params)
	req.NoError(err)
	second, err := st.spoke.FulfillBatch(ctx, relayer, shared.BatchID{0x02}, params)
	req.NoError(err)
	req.Equal(first.Root, second.Root)
	req.Zero(second.Fulfilled)
	req.Equal(4, second.Skipped)

	// order is part of the commitment
	reversed := []spoke.FulfillmentParams{params[3], params[2], params[1], params[0]}
	third, err := st.spoke.FulfillBatch(ctx, relayer, shared.BatchID{0x03}, reversed)
	req.NoError(err)
	req.NotEqual(first.Root, third.Root)
}

func TestPause(t *testing.T) {
	t.Parallel()
	req := require.New(t)
	ctx := context.Background()
	st := newSpokeTest(t, 101)

	req.ErrorIs(st.spoke.Pause(ctx, stranger, "nope"), spoke.ErrUnauthorized)
	req.ErrorIs(st.spoke.Pause(ctx, owner, " "), spoke.ErrReasonRequired)

	req.NoError(st.spoke.Pause(ctx, owner, "incident"))
	_, err := st.spoke.FulfillBatch(ctx, relayer, shared.BatchID{0x01}, descriptors(1, 0x60))
	req.ErrorIs(err, spoke.ErrPaused)
	req.ErrorIs(st.spoke.Pause(ctx, owner, "again"), spoke.ErrPaused)

	req.NoError(st.spoke.Resume(ctx, owner, "incident resolved"))
	req.ErrorIs(st.spoke.Resume(ctx, owner, "again"), spoke.ErrNotPaused)
	_, err = st.spoke.FulfillBatch(ctx, relayer, shared.BatchID{0x01}, descriptors(1, 0x60))
	req.NoError(err)
}

func TestSetRelayerIsChainLocal(t *testing.T) {
	t.Parallel()
	req := require.New(t)
	ctx := context.Background()
	first := newSpokeTest(t, 101)
	second := newSpokeTest(t, 102)

	req.NoError(first.spoke.SetRelayer(ctx, owner, stranger, true))
	req.Len(first.spoke.Relayers(), 2)
	req.Len(second.spoke.Relayers(), 1)

	// the liveness floor holds per chain
	req.NoError(first.spoke.SetRelayer(ctx, owner, stranger, false))
	err := first.spoke.SetRelayer(ctx, owner, relayer, false)
	req.ErrorIs(err, relayers.ErrFloorReached)
}

func TestHubAddressRotationIsBookkeeping(t *testing.T) {
	t.Parallel()
	req := require.New(t)
	ctx := context.Background()
	st := newSpokeTest(t, 101, transport.KindHubAddressChanged)

	announced := shared.Address{0xaa}
	_, unlock, err := st.spoke.ScheduleSetHubAddress(ctx, owner, announced)
	req.NoError(err)

	err = st.spoke.ExecuteSetHubAddress(ctx, owner)
	req.ErrorIs(err, timelock.ErrTimelockNotExpired)

	*st.now = unlock
	req.NoError(st.spoke.ExecuteSetHubAddress(ctx, owner))

	// the event carries the announced address; the wired one stays fixed
	env := <-st.events
	changed, ok := env.Event.(transport.HubAddressChanged)
	req.True(ok)
	req.Equal(announced, changed.Address)
	req.Equal(hubAddr, st.spoke.HubAddress())

	err = st.spoke.ExecuteSetHubAddress(ctx, owner)
	req.ErrorIs(err, timelock.ErrUnknownProposal)
}

func TestStateSurvivesRestart(t *testing.T) {
	t.Parallel()
	req := require.New(t)
	ctx := context.Background()
	dir := t.TempDir()

	genesis := spoke.Genesis{Owner: owner, Hub: hubAddr, Relayers: []shared.Address{relayer}}
	s, err := spoke.New(ctx, dir, 101, genesis)
	req.NoError(err)

	batchID := shared.BatchID{0x01}
	params := descriptors(2, 0x70)
	res, err := s.FulfillBatch(ctx, relayer, batchID, params)
	req.NoError(err)
	req.NoError(s.Pause(ctx, owner, "maintenance"))
	req.NoError(s.Close())

	// a different genesis is ignored once state exists
	s, err = spoke.New(ctx, dir, 101, spoke.Genesis{
		Owner:    owner,
		Hub:      shared.Address{0x99},
		Relayers: []shared.Address{stranger},
	})
	req.NoError(err)
	t.Cleanup(func() { s.Close() })

	req.Equal(hubAddr, s.HubAddress())
	req.Equal([]shared.Address{relayer}, s.Relayers())
	req.True(s.Paused())

	ok, err := s.Fulfilled(params[0].VoucherID)
	req.NoError(err)
	req.True(ok)

	info, err := s.Batch(batchID)
	req.NoError(err)
	req.Equal(res.Root, info.Root)

	_, err = s.Batch(shared.BatchID{0xff})
	req.ErrorIs(err, spoke.ErrUnknownBatch)
}
