// Package voucher implements the voucher hub: the unit that mints
// propagation-intent records for verified content and tracks, per target
// chain, whether fulfillment was observed hub-side.
package voucher

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru"
	"github.com/holiman/uint256"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/syndtr/goleveldb/leveldb"
	"go.uber.org/zap"
	"golang.org/x/exp/slices"

	"github.com/qanchornet/qanchor/db"
	"github.com/qanchornet/qanchor/logging"
	"github.com/qanchornet/qanchor/relayers"
	"github.com/qanchornet/qanchor/shared"
	"github.com/qanchornet/qanchor/timelock"
	"github.com/qanchornet/qanchor/transport"
)

var (
	vouchersCreatedMetric = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "qanchor",
		Subsystem: "hub",
		Name:      "vouchers_created_total",
		Help:      "Number of vouchers created",
	})

	fulfillmentsMetric = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "qanchor",
		Subsystem: "hub",
		Name:      "fulfillments_observed_total",
		Help:      "Number of hub-side fulfillment observations",
	})
)

// Timelocked hub actions.
const (
	actionSetRegistry    = "set-registry-address"
	actionSetCollector   = "set-fee-collector"
	actionSetCreationFee = "set-creation-fee"
)

// VoucherInfo is the read form of a voucher record.
type VoucherInfo struct {
	ID           shared.VoucherID
	QHash        shared.QHash
	VerifierID   shared.VerifierID
	TargetChains []shared.ChainID
	CreatedAt    time.Time
	Active       bool
	Creator      shared.Address
}

type newHubOptionFunc func(*newHubOptions)

type newHubOptions struct {
	cfg     Config
	clock   shared.Clock
	emitter *transport.Emitter
}

func WithConfig(cfg Config) newHubOptionFunc {
	return func(opts *newHubOptions) {
		opts.cfg = cfg
	}
}

func WithClock(clock shared.Clock) newHubOptionFunc {
	return func(opts *newHubOptions) {
		opts.clock = clock
	}
}

func WithEmitter(emitter *transport.Emitter) newHubOptionFunc {
	return func(opts *newHubOptions) {
		opts.emitter = emitter
	}
}

// Hub is the voucher hub unit. Every entry point is one serialized atomic
// call: the mutex makes it exclusive, a store batch makes it all-or-nothing
// on disk.
type Hub struct {
	cfg     Config
	owner   shared.Address
	clock   shared.Clock
	emitter *transport.Emitter

	mutex    sync.RWMutex
	kv       *db.KV
	tl       *timelock.Timelock
	relayers *relayers.Set
	cache    *lru.Cache

	counter uint64
	state   stateData
}

func New(ctx context.Context, dbdir string, genesis Genesis, opts ...newHubOptionFunc) (*Hub, error) {
	options := newHubOptions{
		cfg:   DefaultConfig(),
		clock: shared.SystemClock(),
	}
	for _, opt := range opts {
		opt(&options)
	}

	kv, err := db.Open(filepath.Join(dbdir, "hub"))
	if err != nil {
		return nil, fmt.Errorf("opening hub database: %w", err)
	}

	set, err := relayers.Load(kv, genesis.Relayers)
	if err != nil {
		return nil, errors.Join(err, kv.Close())
	}

	cacheSize := options.cfg.CacheSize
	if cacheSize <= 0 {
		cacheSize = DefaultConfig().CacheSize
	}
	cache, err := lru.New(cacheSize)
	if err != nil {
		return nil, errors.Join(err, kv.Close())
	}

	h := &Hub{
		cfg:      options.cfg,
		owner:    genesis.Owner,
		clock:    options.clock,
		emitter:  options.emitter,
		kv:       kv,
		tl:       timelock.New(kv, options.cfg.TimelockDelay, timelock.WithClock(options.clock)),
		relayers: set,
		cache:    cache,
	}
	if err := h.loadState(genesis); err != nil {
		return nil, errors.Join(err, kv.Close())
	}

	logging.FromContext(ctx).Info(
		"voucher hub ready",
		zap.Uint64("counter", h.counter),
		zap.Stringer("registry", h.state.Registry),
		zap.Int("relayers", set.Count()),
	)
	return h, nil
}

// loadState restores the persisted counter and configuration, seeding both
// from genesis and the static config on first boot.
func (h *Hub) loadState(genesis Genesis) error {
	switch err := h.kv.GetObject(counterKey, &h.counter); {
	case errors.Is(err, db.ErrNotFound):
		h.counter = 0
	case err != nil:
		return fmt.Errorf("loading voucher counter: %w", err)
	}

	switch err := h.kv.GetObject(stateKey, &h.state); {
	case errors.Is(err, db.ErrNotFound):
		h.state = stateData{
			Registry:    genesis.Registry,
			Collector:   genesis.Collector,
			CreationFee: h.cfg.CreationFee.Int().Bytes32(),
		}
		if err := h.kv.PutObject(stateKey, &h.state); err != nil {
			return fmt.Errorf("seeding hub state: %w", err)
		}
	case err != nil:
		return fmt.Errorf("loading hub state: %w", err)
	}
	return nil
}

func (h *Hub) Close() error {
	return h.kv.Close()
}

// CreateVoucher mints one voucher spanning every target chain. Only the
// configured registry address may call it.
func (h *Hub) CreateVoucher(
	ctx context.Context,
	caller shared.Address,
	qHash shared.QHash,
	targetChains []shared.ChainID,
	verifier shared.VerifierID,
) (shared.VoucherID, error) {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	if caller != h.state.Registry {
		return shared.VoucherID{}, fmt.Errorf("%w: %s is not the registry", ErrUnauthorized, caller)
	}
	if err := h.creationAllowed(); err != nil {
		return shared.VoucherID{}, err
	}

	return h.create(ctx, caller, qHash, slices.Clone(targetChains), verifier, h.clock.Now(), h.counter+1)
}

// CreateVouchersPerChain mints one single-chain voucher per target chain,
// all of them or none.
//
// Deprecated: relayers predating full target-chain lists in creation events
// consume these minimal vouchers. CreateVoucher supersedes it.
func (h *Hub) CreateVouchersPerChain(
	ctx context.Context,
	caller shared.Address,
	qHash shared.QHash,
	targetChains []shared.ChainID,
	verifier shared.VerifierID,
) ([]shared.VoucherID, error) {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	if caller != h.state.Registry {
		return nil, fmt.Errorf("%w: %s is not the registry", ErrUnauthorized, caller)
	}
	if err := h.creationAllowed(); err != nil {
		return nil, err
	}
	if len(targetChains) == 0 {
		return nil, ErrNoTargetChains
	}

	now := h.clock.Now()
	batch := new(leveldb.Batch)
	ids := make([]shared.VoucherID, 0, len(targetChains))
	records := make([]voucherData, 0, len(targetChains))
	counter := h.counter
	for _, chain := range targetChains {
		counter++
		id, data, err := h.stageVoucher(batch, qHash, []shared.ChainID{chain}, verifier, caller, now, counter)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
		records = append(records, data)
	}
	if err := h.commitVouchers(batch, counter); err != nil {
		return nil, err
	}
	for i, id := range ids {
		h.cache.Add(id, records[i])
		h.emitCreated(ctx, id, records[i])
	}
	return ids, nil
}

// create derives the voucher id from the given instant and counter value and
// stores the record. Callers hold the lock; the public entry points pass the
// current clock and the next counter value.
func (h *Hub) create(
	ctx context.Context,
	creator shared.Address,
	qHash shared.QHash,
	targetChains []shared.ChainID,
	verifier shared.VerifierID,
	at time.Time,
	counter uint64,
) (shared.VoucherID, error) {
	batch := new(leveldb.Batch)
	id, data, err := h.stageVoucher(batch, qHash, targetChains, verifier, creator, at, counter)
	if err != nil {
		return shared.VoucherID{}, err
	}
	if err := h.commitVouchers(batch, counter); err != nil {
		return shared.VoucherID{}, err
	}
	h.cache.Add(id, data)
	h.emitCreated(ctx, id, data)
	return id, nil
}

// stageVoucher derives the id, rejects a collision and stages the record.
func (h *Hub) stageVoucher(
	batch *leveldb.Batch,
	qHash shared.QHash,
	targetChains []shared.ChainID,
	verifier shared.VerifierID,
	creator shared.Address,
	at time.Time,
	counter uint64,
) (shared.VoucherID, voucherData, error) {
	id, err := shared.DeriveVoucherID(qHash, verifier, at, counter)
	if err != nil {
		return shared.VoucherID{}, voucherData{}, fmt.Errorf("deriving voucher id: %w", err)
	}
	switch ok, err := h.kv.Has(voucherKey(id)); {
	case err != nil:
		return shared.VoucherID{}, voucherData{}, fmt.Errorf("checking voucher id: %w", err)
	case ok:
		return shared.VoucherID{}, voucherData{}, &VoucherExistsError{ID: id}
	}

	data := voucherData{
		QHash:     qHash,
		Verifier:  verifier,
		Chains:    targetChains,
		CreatedAt: at.UnixNano(),
		Active:    len(targetChains) > 0,
		Creator:   creator,
	}
	encoded, err := db.Marshal(&data)
	if err != nil {
		return shared.VoucherID{}, voucherData{}, err
	}
	batch.Put(voucherKey(id), encoded)
	return id, data, nil
}

// commitVouchers persists the staged records together with the advanced
// counter, so a counter value can never be reused after a crash.
func (h *Hub) commitVouchers(batch *leveldb.Batch, counter uint64) error {
	encoded, err := db.Marshal(&counter)
	if err != nil {
		return err
	}
	batch.Put(counterKey, encoded)
	if err := h.kv.Write(batch); err != nil {
		return fmt.Errorf("storing voucher: %w", err)
	}
	h.counter = counter
	return nil
}

func (h *Hub) emitCreated(ctx context.Context, id shared.VoucherID, data voucherData) {
	vouchersCreatedMetric.Inc()
	logging.FromContext(ctx).Info(
		"voucher created",
		zap.Stringer("voucher", id),
		zap.Stringer("qhash", data.QHash),
		zap.Int("chains", len(data.Chains)),
	)
	h.emitter.Publish(ctx, transport.KindVoucherCreated, transport.VoucherCreated{
		VoucherID:    id,
		QHash:        data.QHash,
		VerifierID:   data.Verifier,
		TargetChains: data.Chains,
		Creator:      data.Creator,
	})
}

func (h *Hub) creationAllowed() error {
	if h.state.Paused {
		return ErrPaused
	}
	if h.state.CreationPaused {
		return ErrCreationPaused
	}
	return nil
}

// ConfirmFulfilled records the hub-side observation that a voucher was
// fulfilled on a target chain. The flag is one-way; a repeated confirmation
// is an explicit rejection, not a no-op.
func (h *Hub) ConfirmFulfilled(
	ctx context.Context,
	caller shared.Address,
	id shared.VoucherID,
	qHash shared.QHash,
	chain shared.ChainID,
) error {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	if !h.relayers.Authorized(caller) {
		return fmt.Errorf("%w: %s is not a relayer", ErrUnauthorized, caller)
	}
	if h.state.Paused {
		return ErrPaused
	}

	data, err := h.voucherData(id)
	if err != nil {
		return err
	}
	if data.QHash != qHash {
		return fmt.Errorf("%w: voucher %s anchors %s", ErrQHashMismatch, id, data.QHash)
	}
	if !slices.Contains(data.Chains, chain) {
		return &ChainNotTargetError{ID: id, Chain: chain}
	}
	switch ok, err := h.kv.Has(fulfilledKey(id, chain)); {
	case err != nil:
		return fmt.Errorf("checking fulfillment flag: %w", err)
	case ok:
		return &AlreadyFulfilledError{ID: id, Chain: chain}
	}

	batch := new(leveldb.Batch)
	batch.Put(fulfilledKey(id, chain), []byte{1})

	done, err := h.allFulfilled(id, data, chain)
	if err != nil {
		return err
	}
	if done {
		data.Active = false
		encoded, err := db.Marshal(&data)
		if err != nil {
			return err
		}
		batch.Put(voucherKey(id), encoded)
	}
	if err := h.kv.Write(batch); err != nil {
		return fmt.Errorf("storing fulfillment flag: %w", err)
	}
	h.cache.Add(id, data)

	fulfillmentsMetric.Inc()
	logging.FromContext(ctx).Info(
		"fulfillment observed",
		zap.Stringer("voucher", id),
		zap.Uint64("chain", uint64(chain)),
		zap.Bool("complete", done),
	)
	h.emitter.Publish(ctx, transport.KindHubFulfillmentObserved, transport.HubFulfillmentObserved{
		VoucherID: id,
		QHash:     qHash,
		Chain:     chain,
		Relayer:   caller,
	})
	return nil
}

// allFulfilled reports whether every target chain of the voucher has its
// flag set, treating justConfirmed as set.
func (h *Hub) allFulfilled(id shared.VoucherID, data voucherData, justConfirmed shared.ChainID) (bool, error) {
	for _, c := range data.Chains {
		if c == justConfirmed {
			continue
		}
		switch ok, err := h.kv.Has(fulfilledKey(id, c)); {
		case err != nil:
			return false, fmt.Errorf("checking fulfillment flag: %w", err)
		case !ok:
			return false, nil
		}
	}
	return true, nil
}

func (h *Hub) voucherData(id shared.VoucherID) (voucherData, error) {
	if cached, ok := h.cache.Get(id); ok {
		return cached.(voucherData), nil
	}
	var data voucherData
	switch err := h.kv.GetObject(voucherKey(id), &data); {
	case errors.Is(err, db.ErrNotFound):
		return voucherData{}, &UnknownVoucherError{ID: id}
	case err != nil:
		return voucherData{}, fmt.Errorf("loading voucher: %w", err)
	}
	h.cache.Add(id, data)
	return data, nil
}

// Voucher returns the stored voucher record.
func (h *Hub) Voucher(ctx context.Context, id shared.VoucherID) (*VoucherInfo, error) {
	h.mutex.RLock()
	defer h.mutex.RUnlock()

	data, err := h.voucherData(id)
	if err != nil {
		return nil, err
	}
	return &VoucherInfo{
		ID:           id,
		QHash:        data.QHash,
		VerifierID:   data.Verifier,
		TargetChains: slices.Clone(data.Chains),
		CreatedAt:    time.Unix(0, data.CreatedAt),
		Active:       data.Active,
		Creator:      data.Creator,
	}, nil
}

// Fulfilled reports the hub-side fulfillment flag.
func (h *Hub) Fulfilled(id shared.VoucherID, chain shared.ChainID) (bool, error) {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	ok, err := h.kv.Has(fulfilledKey(id, chain))
	if err != nil {
		return false, fmt.Errorf("checking fulfillment flag: %w", err)
	}
	return ok, nil
}

func (h *Hub) Counter() uint64 {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return h.counter
}

func (h *Hub) RegistryAddress() shared.Address {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return h.state.Registry
}

func (h *Hub) FeeCollector() shared.Address {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return h.state.Collector
}

func (h *Hub) CreationFee() *uint256.Int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return new(uint256.Int).SetBytes(h.state.CreationFee[:])
}

func (h *Hub) Relayers() []shared.Address {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return h.relayers.Snapshot()
}

// Paused reports the global and the creation-only pause flags.
func (h *Hub) Paused() (global, creation bool) {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return h.state.Paused, h.state.CreationPaused
}

// SetRelayer toggles hub relayer membership, bounded by the shared cap and
// liveness floor. A toggle already in effect changes nothing.
func (h *Hub) SetRelayer(ctx context.Context, caller, relayer shared.Address, authorized bool) error {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	if caller != h.owner {
		return fmt.Errorf("%w: %s is not the owner", ErrUnauthorized, caller)
	}

	batch := new(leveldb.Batch)
	apply, changed, err := h.relayers.Stage(relayer, authorized, batch)
	if err != nil {
		return err
	}
	if !changed {
		return nil
	}
	if err := h.kv.Write(batch); err != nil {
		return fmt.Errorf("storing relayer set: %w", err)
	}
	apply()

	logging.FromContext(ctx).Info(
		"relayer set changed",
		zap.Stringer("relayer", relayer),
		zap.Bool("authorized", authorized),
		zap.Int("count", h.relayers.Count()),
	)
	h.emitter.Publish(ctx, transport.KindRelayerSetChanged, transport.RelayerSetChanged{
		Relayer:    relayer,
		Authorized: authorized,
		Count:      uint32(h.relayers.Count()),
	})
	return nil
}

// Pause stops the whole hub. The reason is mandatory and travels with the
// event.
func (h *Hub) Pause(ctx context.Context, caller shared.Address, reason string) error {
	return h.setPause(ctx, caller, transport.ScopeGlobal, reason, true)
}

func (h *Hub) Resume(ctx context.Context, caller shared.Address, reason string) error {
	return h.setPause(ctx, caller, transport.ScopeGlobal, reason, false)
}

// PauseCreation stops voucher creation only; confirmations keep working.
func (h *Hub) PauseCreation(ctx context.Context, caller shared.Address, reason string) error {
	return h.setPause(ctx, caller, transport.ScopeCreation, reason, true)
}

func (h *Hub) ResumeCreation(ctx context.Context, caller shared.Address, reason string) error {
	return h.setPause(ctx, caller, transport.ScopeCreation, reason, false)
}

func (h *Hub) setPause(ctx context.Context, caller shared.Address, scope, reason string, pause bool) error {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	if caller != h.owner {
		return fmt.Errorf("%w: %s is not the owner", ErrUnauthorized, caller)
	}
	if strings.TrimSpace(reason) == "" {
		return ErrReasonRequired
	}

	next := h.state
	var current *bool
	if scope == transport.ScopeGlobal {
		current = &next.Paused
	} else {
		current = &next.CreationPaused
	}
	if *current == pause {
		if pause {
			return fmt.Errorf("%w: %s", ErrPaused, scope)
		}
		return fmt.Errorf("%w: %s", ErrNotPaused, scope)
	}
	*current = pause

	if err := h.kv.PutObject(stateKey, &next); err != nil {
		return fmt.Errorf("storing hub state: %w", err)
	}
	h.state = next

	logging.FromContext(ctx).Warn(
		"pause state changed",
		zap.String("scope", scope),
		zap.Bool("paused", pause),
		zap.String("reason", reason),
	)
	if pause {
		h.emitter.Publish(ctx, transport.KindPaused, transport.Paused{Scope: scope, Reason: reason})
	} else {
		h.emitter.Publish(ctx, transport.KindResumed, transport.Resumed{Scope: scope, Reason: reason})
	}
	return nil
}

// ScheduleSetRegistryAddress schedules rotating the only address allowed to
// create vouchers.
func (h *Hub) ScheduleSetRegistryAddress(
	ctx context.Context,
	caller, registry shared.Address,
) (shared.ProposalID, time.Time, error) {
	return h.schedule(ctx, caller, actionSetRegistry, registry.Bytes())
}

func (h *Hub) ExecuteSetRegistryAddress(ctx context.Context, caller shared.Address) error {
	return h.executeStateChange(ctx, caller, actionSetRegistry, func(next *stateData, params []byte) (func(), error) {
		addr, err := decodeAddressParams(params)
		if err != nil {
			return nil, err
		}
		next.Registry = addr
		return func() {
			h.emitter.Publish(ctx, transport.KindRegistryAddressChanged, transport.RegistryAddressChanged{
				Address: addr,
			})
		}, nil
	})
}

func (h *Hub) ScheduleSetFeeCollector(
	ctx context.Context,
	caller, collector shared.Address,
) (shared.ProposalID, time.Time, error) {
	return h.schedule(ctx, caller, actionSetCollector, collector.Bytes())
}

func (h *Hub) ExecuteSetFeeCollector(ctx context.Context, caller shared.Address) error {
	return h.executeStateChange(ctx, caller, actionSetCollector, func(next *stateData, params []byte) (func(), error) {
		addr, err := decodeAddressParams(params)
		if err != nil {
			return nil, err
		}
		next.Collector = addr
		return func() {
			h.emitter.Publish(ctx, transport.KindCollectorChanged, transport.CollectorChanged{Collector: addr})
		}, nil
	})
}

func (h *Hub) ScheduleSetCreationFee(
	ctx context.Context,
	caller shared.Address,
	fee *uint256.Int,
) (shared.ProposalID, time.Time, error) {
	params := fee.Bytes32()
	return h.schedule(ctx, caller, actionSetCreationFee, params[:])
}

func (h *Hub) ExecuteSetCreationFee(ctx context.Context, caller shared.Address) error {
	return h.executeStateChange(ctx, caller, actionSetCreationFee, func(next *stateData, params []byte) (func(), error) {
		fee, err := decodeAmountParams(params)
		if err != nil {
			return nil, err
		}
		next.CreationFee = fee.Bytes32()
		return func() {
			h.emitter.Publish(ctx, transport.KindCreationFeeChanged, transport.CreationFeeChanged{Fee: *fee})
		}, nil
	})
}

func (h *Hub) schedule(
	ctx context.Context,
	caller shared.Address,
	action string,
	params []byte,
) (shared.ProposalID, time.Time, error) {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	if caller != h.owner {
		return shared.ProposalID{}, time.Time{}, fmt.Errorf("%w: %s is not the owner", ErrUnauthorized, caller)
	}
	pid, unlock, err := h.tl.Schedule(ctx, action, params)
	if err != nil {
		return shared.ProposalID{}, time.Time{}, err
	}
	h.emitter.Publish(ctx, transport.KindTimelockScheduled, transport.TimelockScheduled{
		Action:     action,
		ProposalID: pid,
		Unlock:     unlock,
	})
	return pid, unlock, nil
}

// executeStateChange runs a timelocked configuration change: the proposal
// consumption and the rewritten state record commit in one batch.
func (h *Hub) executeStateChange(
	ctx context.Context,
	caller shared.Address,
	action string,
	mutate func(next *stateData, params []byte) (emit func(), err error),
) error {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	if caller != h.owner {
		return fmt.Errorf("%w: %s is not the owner", ErrUnauthorized, caller)
	}

	batch := new(leveldb.Batch)
	params, pid, err := h.tl.Execute(ctx, action, batch)
	if err != nil {
		return err
	}
	next := h.state
	emit, err := mutate(&next, params)
	if err != nil {
		return err
	}
	encoded, err := db.Marshal(&next)
	if err != nil {
		return err
	}
	batch.Put(stateKey, encoded)
	if err := h.kv.Write(batch); err != nil {
		return fmt.Errorf("storing hub state: %w", err)
	}
	h.state = next

	logging.FromContext(ctx).Info(
		"executed timelocked change",
		zap.String("action", action),
		zap.Stringer("proposal", pid),
	)
	h.emitter.Publish(ctx, transport.KindTimelockExecuted, transport.TimelockExecuted{
		Action:     action,
		ProposalID: pid,
	})
	emit()
	return nil
}

func decodeAddressParams(params []byte) (shared.Address, error) {
	var addr shared.Address
	if len(params) != len(addr) {
		return addr, fmt.Errorf("invalid address parameters: %d bytes", len(params))
	}
	copy(addr[:], params)
	return addr, nil
}

func decodeAmountParams(params []byte) (*uint256.Int, error) {
	if len(params) != 32 {
		return nil, fmt.Errorf("invalid amount parameters: %d bytes", len(params))
	}
	return new(uint256.Int).SetBytes(params), nil
}
