// Package spoke implements a voucher spoke: the per-chain unit a trusted
// relayer drives to mark vouchers fulfilled on its chain, in idempotent
// batches committed under relayer-chosen batch ids.
package spoke

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/spacemeshos/go-scale"
	"github.com/spacemeshos/merkle-tree"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/zeebo/blake3"
	"go.uber.org/zap"

	"github.com/qanchornet/qanchor/db"
	"github.com/qanchornet/qanchor/logging"
	"github.com/qanchornet/qanchor/relayers"
	"github.com/qanchornet/qanchor/shared"
	"github.com/qanchornet/qanchor/timelock"
	"github.com/qanchornet/qanchor/transport"
)

var (
	fulfilledMetric = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "qanchor",
		Subsystem: "spoke",
		Name:      "vouchers_fulfilled_total",
		Help:      "Number of vouchers marked fulfilled",
	}, []string{"chain"})

	batchesMetric = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "qanchor",
		Subsystem: "spoke",
		Name:      "batches_completed_total",
		Help:      "Number of completed fulfillment batches",
	}, []string{"chain"})

	batchWriteLatencyMetric = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "qanchor",
		Subsystem: "spoke",
		Name:      "batch_write_latency_seconds",
		Help:      "Latency of batch write operations",
		Buckets:   prometheus.ExponentialBuckets(0.001, 1.5, 20),
	})
)

const actionSetHub = "set-hub-address"

// FulfillmentParams is one descriptor in a fulfillment batch.
type FulfillmentParams struct {
	VoucherID shared.VoucherID
	QHash     shared.QHash
}

func (p *FulfillmentParams) EncodeScale(enc *scale.Encoder) (total int, err error) {
	{
		n, err := scale.EncodeByteArray(enc, p.VoucherID[:])
		if err != nil {
			return total, err
		}
		total += n
	}
	{
		n, err := scale.EncodeByteArray(enc, p.QHash[:])
		if err != nil {
			return total, err
		}
		total += n
	}
	return total, nil
}

// BatchResult reports what one FulfillBatch call did.
type BatchResult struct {
	Total     int
	Fulfilled int
	Skipped   int
	Root      []byte
}

// BatchInfo is the read form of a completed batch record.
type BatchInfo struct {
	ID        shared.BatchID
	Total     int
	Fulfilled int
	Skipped   int
	Root      []byte
	At        time.Time
}

type newSpokeOptionFunc func(*newSpokeOptions)

type newSpokeOptions struct {
	cfg     Config
	clock   shared.Clock
	emitter *transport.Emitter
}

func WithConfig(cfg Config) newSpokeOptionFunc {
	return func(opts *newSpokeOptions) {
		opts.cfg = cfg
	}
}

func WithClock(clock shared.Clock) newSpokeOptionFunc {
	return func(opts *newSpokeOptions) {
		opts.clock = clock
	}
}

func WithEmitter(emitter *transport.Emitter) newSpokeOptionFunc {
	return func(opts *newSpokeOptions) {
		opts.emitter = emitter
	}
}

// Spoke is one chain's fulfillment unit. Every entry point is one serialized
// atomic call; a whole batch lands or none of it does.
type Spoke struct {
	chain   shared.ChainID
	owner   shared.Address
	clock   shared.Clock
	emitter *transport.Emitter

	mutex    sync.RWMutex
	kv       *db.KV
	tl       *timelock.Timelock
	relayers *relayers.Set

	fulfilledCounter prometheus.Counter
	batchesCounter   prometheus.Counter

	state stateData
}

func New(
	ctx context.Context,
	dbdir string,
	chain shared.ChainID,
	genesis Genesis,
	opts ...newSpokeOptionFunc,
) (*Spoke, error) {
	options := newSpokeOptions{
		cfg:   DefaultConfig(),
		clock: shared.SystemClock(),
	}
	for _, opt := range opts {
		opt(&options)
	}

	kv, err := db.Open(filepath.Join(dbdir, fmt.Sprintf("spoke-%d", chain)))
	if err != nil {
		return nil, fmt.Errorf("opening spoke database: %w", err)
	}

	set, err := relayers.Load(kv, genesis.Relayers)
	if err != nil {
		return nil, errors.Join(err, kv.Close())
	}

	label := strconv.FormatUint(uint64(chain), 10)
	s := &Spoke{
		chain:            chain,
		owner:            genesis.Owner,
		clock:            options.clock,
		emitter:          options.emitter,
		kv:               kv,
		tl:               timelock.New(kv, options.cfg.TimelockDelay, timelock.WithClock(options.clock)),
		relayers:         set,
		fulfilledCounter: fulfilledMetric.WithLabelValues(label),
		batchesCounter:   batchesMetric.WithLabelValues(label),
	}
	if err := s.loadState(genesis); err != nil {
		return nil, errors.Join(err, kv.Close())
	}

	logging.FromContext(ctx).Info(
		"voucher spoke ready",
		zap.Uint64("chain", uint64(chain)),
		zap.Stringer("hub", s.state.Hub),
		zap.Int("relayers", set.Count()),
	)
	return s, nil
}

func (s *Spoke) loadState(genesis Genesis) error {
	switch err := s.kv.GetObject(stateKey, &s.state); {
	case errors.Is(err, db.ErrNotFound):
		s.state = stateData{Hub: genesis.Hub}
		if err := s.kv.PutObject(stateKey, &s.state); err != nil {
			return fmt.Errorf("seeding spoke state: %w", err)
		}
	case err != nil:
		return fmt.Errorf("loading spoke state: %w", err)
	}
	return nil
}

func (s *Spoke) Close() error {
	return s.kv.Close()
}

// FulfillBatch flips the local fulfillment flag for every descriptor not
// already fulfilled, skipping the rest silently, and marks batchID complete.
// A completed batch id is rejected on reuse regardless of content.
func (s *Spoke) FulfillBatch(
	ctx context.Context,
	caller shared.Address,
	batchID shared.BatchID,
	params []FulfillmentParams,
) (*BatchResult, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if !s.relayers.Authorized(caller) {
		return nil, fmt.Errorf("%w: %s is not a relayer on chain %d", ErrUnauthorized, caller, s.chain)
	}
	if s.state.Paused {
		return nil, ErrPaused
	}
	if len(params) == 0 {
		return nil, ErrEmptyBatch
	}
	if len(params) > MaxBatchSize {
		return nil, &BatchTooLargeError{Size: len(params), Max: MaxBatchSize}
	}
	switch prior, err := s.completedBatch(batchID); {
	case err == nil:
		return nil, &BatchCompletedError{ID: batchID, Root: prior.Root}
	case !errors.Is(err, db.ErrNotFound):
		return nil, fmt.Errorf("checking batch id: %w", err)
	}

	root, err := batchRoot(params)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	batch := new(leveldb.Batch)
	flipped := make([]FulfillmentParams, 0, len(params))
	staged := make(map[shared.VoucherID]struct{}, len(params))
	skipped := 0
	for i := range params {
		id := params[i].VoucherID
		if _, ok := staged[id]; ok {
			skipped++
			continue
		}
		switch done, err := s.kv.Has(fulfilledKey(id)); {
		case err != nil:
			return nil, fmt.Errorf("checking fulfillment flag: %w", err)
		case done:
			skipped++
			continue
		}

		record := fulfilledData{QHash: params[i].QHash, Batch: batchID, At: now.UnixNano()}
		encoded, err := db.Marshal(&record)
		if err != nil {
			return nil, err
		}
		batch.Put(fulfilledKey(id), encoded)
		staged[id] = struct{}{}
		flipped = append(flipped, params[i])
	}

	completion := batchData{
		Total:     uint32(len(params)),
		Fulfilled: uint32(len(flipped)),
		Skipped:   uint32(skipped),
		Root:      root,
		At:        now.UnixNano(),
	}
	encoded, err := db.Marshal(&completion)
	if err != nil {
		return nil, err
	}
	batch.Put(batchKey(batchID), encoded)

	start := time.Now()
	if err := s.kv.Write(batch); err != nil {
		return nil, fmt.Errorf("storing fulfillment batch: %w", err)
	}
	batchWriteLatencyMetric.Observe(time.Since(start).Seconds())
	s.fulfilledCounter.Add(float64(len(flipped)))
	s.batchesCounter.Inc()

	logging.FromContext(ctx).Info(
		"fulfillment batch completed",
		zap.Stringer("batch", batchID),
		zap.Uint64("chain", uint64(s.chain)),
		zap.Int("total", len(params)),
		zap.Int("fulfilled", len(flipped)),
		zap.Int("skipped", skipped),
	)
	for _, p := range flipped {
		s.emitter.Publish(ctx, transport.KindVoucherFulfilled, transport.VoucherFulfilled{
			Chain:     s.chain,
			BatchID:   batchID,
			VoucherID: p.VoucherID,
			QHash:     p.QHash,
		})
	}
	s.emitter.Publish(ctx, transport.KindBatchCompleted, transport.BatchCompleted{
		Chain:     s.chain,
		BatchID:   batchID,
		Total:     completion.Total,
		Fulfilled: completion.Fulfilled,
		Skipped:   completion.Skipped,
		Root:      root,
	})
	return &BatchResult{
		Total:     len(params),
		Fulfilled: len(flipped),
		Skipped:   skipped,
		Root:      root,
	}, nil
}

// batchRoot builds the content commitment over the scale-encoded
// descriptors, in submission order.
func batchRoot(params []FulfillmentParams) ([]byte, error) {
	mtree, err := merkle.NewTreeBuilder().
		WithHashFunc(shared.HashBatchTreeNode).
		Build()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize merkle tree: %v", err)
	}
	for i := range params {
		var buf bytes.Buffer
		if _, err := params[i].EncodeScale(scale.NewEncoder(&buf)); err != nil {
			return nil, fmt.Errorf("encoding descriptor %d: %w", i, err)
		}
		leaf := blake3.Sum256(buf.Bytes())
		if err := mtree.AddLeaf(leaf[:]); err != nil {
			return nil, err
		}
	}
	return mtree.Root(), nil
}

func (s *Spoke) completedBatch(id shared.BatchID) (batchData, error) {
	var data batchData
	if err := s.kv.GetObject(batchKey(id), &data); err != nil {
		return batchData{}, err
	}
	return data, nil
}

func (s *Spoke) ChainID() shared.ChainID {
	return s.chain
}

func (s *Spoke) HubAddress() shared.Address {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return s.state.Hub
}

func (s *Spoke) Paused() bool {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return s.state.Paused
}

func (s *Spoke) Relayers() []shared.Address {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return s.relayers.Snapshot()
}

// Fulfilled reports whether the voucher's local flag is set.
func (s *Spoke) Fulfilled(id shared.VoucherID) (bool, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return s.kv.Has(fulfilledKey(id))
}

// Batch returns the completion record of a batch id, or ErrUnknownBatch.
func (s *Spoke) Batch(id shared.BatchID) (*BatchInfo, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	data, err := s.completedBatch(id)
	switch {
	case errors.Is(err, db.ErrNotFound):
		return nil, fmt.Errorf("%w: %s", ErrUnknownBatch, id)
	case err != nil:
		return nil, err
	}
	return &BatchInfo{
		ID:        id,
		Total:     int(data.Total),
		Fulfilled: int(data.Fulfilled),
		Skipped:   int(data.Skipped),
		Root:      data.Root,
		At:        time.Unix(0, data.At),
	}, nil
}

func (s *Spoke) SetRelayer(ctx context.Context, caller, relayer shared.Address, authorized bool) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if caller != s.owner {
		return fmt.Errorf("%w: %s is not the owner", ErrUnauthorized, caller)
	}

	batch := new(leveldb.Batch)
	apply, changed, err := s.relayers.Stage(relayer, authorized, batch)
	if err != nil {
		return err
	}
	if !changed {
		return nil
	}
	if err := s.kv.Write(batch); err != nil {
		return fmt.Errorf("storing relayer set: %w", err)
	}
	apply()

	logging.FromContext(ctx).Info(
		"relayer set changed",
		zap.Uint64("chain", uint64(s.chain)),
		zap.Stringer("relayer", relayer),
		zap.Bool("authorized", authorized),
		zap.Int("count", s.relayers.Count()),
	)
	s.emitter.Publish(ctx, transport.KindRelayerSetChanged, transport.RelayerSetChanged{
		Relayer:    relayer,
		Authorized: authorized,
		Count:      uint32(s.relayers.Count()),
	})
	return nil
}

// Pause stops fulfillment on this chain. The reason is mandatory and travels
// with the event.
func (s *Spoke) Pause(ctx context.Context, caller shared.Address, reason string) error {
	return s.setPause(ctx, caller, reason, true)
}

func (s *Spoke) Resume(ctx context.Context, caller shared.Address, reason string) error {
	return s.setPause(ctx, caller, reason, false)
}

func (s *Spoke) setPause(ctx context.Context, caller shared.Address, reason string, pause bool) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if caller != s.owner {
		return fmt.Errorf("%w: %s is not the owner", ErrUnauthorized, caller)
	}
	if strings.TrimSpace(reason) == "" {
		return ErrReasonRequired
	}
	if s.state.Paused == pause {
		if pause {
			return ErrPaused
		}
		return ErrNotPaused
	}

	next := s.state
	next.Paused = pause
	if err := s.kv.PutObject(stateKey, &next); err != nil {
		return fmt.Errorf("storing spoke state: %w", err)
	}
	s.state = next

	logging.FromContext(ctx).Warn(
		"pause state changed",
		zap.Uint64("chain", uint64(s.chain)),
		zap.Bool("paused", pause),
		zap.String("reason", reason),
	)
	if pause {
		s.emitter.Publish(ctx, transport.KindPaused, transport.Paused{Scope: transport.ScopeGlobal, Reason: reason})
	} else {
		s.emitter.Publish(ctx, transport.KindResumed, transport.Resumed{Scope: transport.ScopeGlobal, Reason: reason})
	}
	return nil
}

// ScheduleSetHubAddress schedules a hub-address rotation.
func (s *Spoke) ScheduleSetHubAddress(
	ctx context.Context,
	caller, hub shared.Address,
) (shared.ProposalID, time.Time, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if caller != s.owner {
		return shared.ProposalID{}, time.Time{}, fmt.Errorf("%w: %s is not the owner", ErrUnauthorized, caller)
	}
	pid, unlock, err := s.tl.Schedule(ctx, actionSetHub, hub.Bytes())
	if err != nil {
		return shared.ProposalID{}, time.Time{}, err
	}
	s.emitter.Publish(ctx, transport.KindTimelockScheduled, transport.TimelockScheduled{
		Action:     actionSetHub,
		ProposalID: pid,
		Unlock:     unlock,
	})
	return pid, unlock, nil
}

// ExecuteSetHubAddress consumes an expired rotation proposal and emits the
// bookkeeping events. The wired hub address is fixed at deployment; the
// stored record stays untouched.
func (s *Spoke) ExecuteSetHubAddress(ctx context.Context, caller shared.Address) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if caller != s.owner {
		return fmt.Errorf("%w: %s is not the owner", ErrUnauthorized, caller)
	}

	batch := new(leveldb.Batch)
	params, pid, err := s.tl.Execute(ctx, actionSetHub, batch)
	if err != nil {
		return err
	}
	var announced shared.Address
	if len(params) != len(announced) {
		return fmt.Errorf("invalid address parameters: %d bytes", len(params))
	}
	copy(announced[:], params)
	if err := s.kv.Write(batch); err != nil {
		return fmt.Errorf("consuming proposal: %w", err)
	}

	logging.FromContext(ctx).Info(
		"executed timelocked change",
		zap.String("action", actionSetHub),
		zap.Stringer("proposal", pid),
		zap.Stringer("announced", announced),
	)
	s.emitter.Publish(ctx, transport.KindTimelockExecuted, transport.TimelockExecuted{
		Action:     actionSetHub,
		ProposalID: pid,
	})
	s.emitter.Publish(ctx, transport.KindHubAddressChanged, transport.HubAddressChanged{Address: announced})
	return nil
}
