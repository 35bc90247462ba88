// Package registry implements the verification registry: the unit anchoring
// content verifications, charging fees, and driving voucher creation on the
// hub. It owns the relayer set, the verifier sub-registry and the credit
// ledger.
package registry

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
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
	"github.com/qanchornet/qanchor/token"
	"github.com/qanchornet/qanchor/transport"
)

var (
	verificationsMetric = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "qanchor",
		Subsystem: "registry",
		Name:      "verifications_total",
		Help:      "Number of anchored verifications",
	})

	rejectedMetric = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "qanchor",
		Subsystem: "registry",
		Name:      "verifications_rejected_total",
		Help:      "Number of rejected verification attempts",
	})

	fallbacksMetric = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "qanchor",
		Subsystem: "registry",
		Name:      "voucher_fallbacks_total",
		Help:      "Number of verifications anchored under a fallback voucher id",
	})

	confirmationsMetric = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "qanchor",
		Subsystem: "registry",
		Name:      "chain_confirmations_total",
		Help:      "Number of per-chain verification confirmations",
	})

	creditPoolMetric = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "qanchor",
		Subsystem: "registry",
		Name:      "credit_pool_balance",
		Help:      "Unallocated credit pool balance per relayer",
	}, []string{"relayer"})
)

// Timelocked registry actions.
const (
	actionSetBaseFee       = "set-base-fee"
	actionSetPerChainFee   = "set-per-chain-fee"
	actionSetTreasurySplit = "set-treasury-split"
	actionSetHub           = "set-hub-address"
	actionSetCollector     = "set-fee-collector"
)

//go:generate mockgen -package mocks -destination mocks/voucherservice.go . VoucherService

// VoucherService is the hub surface the registry drives when anchoring a
// verification. Failures are absorbed by the fallback-id branch.
type VoucherService interface {
	CreateVoucher(
		ctx context.Context,
		qHash shared.QHash,
		targetChains []shared.ChainID,
		verifier shared.VerifierID,
	) (shared.VoucherID, error)
}

// RecordInfo is the read form of a verification record.
type RecordInfo struct {
	QHash            shared.QHash
	User             shared.Address
	Verified         bool
	At               time.Time
	Sequence         uint64
	ProofID          string
	VerificationType string
	Nonce            uint64
	TargetChains     []shared.ChainID
}

type newRegistryOptionFunc func(*newRegistryOptions)

type newRegistryOptions struct {
	cfg     Config
	clock   shared.Clock
	emitter *transport.Emitter
	hub     VoucherService
}

func WithConfig(cfg Config) newRegistryOptionFunc {
	return func(opts *newRegistryOptions) {
		opts.cfg = cfg
	}
}

func WithClock(clock shared.Clock) newRegistryOptionFunc {
	return func(opts *newRegistryOptions) {
		opts.clock = clock
	}
}

func WithEmitter(emitter *transport.Emitter) newRegistryOptionFunc {
	return func(opts *newRegistryOptions) {
		opts.emitter = emitter
	}
}

// WithVoucherService wires the hub the registry requests vouchers from.
// Without it every verification anchors under a fallback id.
func WithVoucherService(hub VoucherService) newRegistryOptionFunc {
	return func(opts *newRegistryOptions) {
		opts.hub = hub
	}
}

// Registry is the verification registry unit. Every entry point is one
// serialized atomic call: the mutex makes it exclusive, a store batch makes
// it all-or-nothing on disk.
type Registry struct {
	cfg     Config
	owner   shared.Address
	addr    shared.Address
	clock   shared.Clock
	emitter *transport.Emitter
	ledger  token.Ledger
	hub     VoucherService

	mutex    sync.RWMutex
	kv       *db.KV
	tl       *timelock.Timelock
	relayers *relayers.Set

	counter         uint64
	activeVerifiers int
	state           stateData
}

func New(
	ctx context.Context,
	dbdir string,
	ledger token.Ledger,
	genesis Genesis,
	opts ...newRegistryOptionFunc,
) (*Registry, error) {
	options := newRegistryOptions{
		cfg:   DefaultConfig(),
		clock: shared.SystemClock(),
	}
	for _, opt := range opts {
		opt(&options)
	}
	if options.cfg.TreasuryBps > BpsDenominator {
		return nil, fmt.Errorf("%w: %d", ErrInvalidBps, options.cfg.TreasuryBps)
	}

	kv, err := db.Open(filepath.Join(dbdir, "registry"))
	if err != nil {
		return nil, fmt.Errorf("opening registry database: %w", err)
	}

	set, err := relayers.Load(kv, genesis.Relayers)
	if err != nil {
		return nil, errors.Join(err, kv.Close())
	}

	r := &Registry{
		cfg:      options.cfg,
		owner:    genesis.Owner,
		addr:     genesis.Address,
		clock:    options.clock,
		emitter:  options.emitter,
		ledger:   ledger,
		hub:      options.hub,
		kv:       kv,
		tl:       timelock.New(kv, options.cfg.TimelockDelay, timelock.WithClock(options.clock)),
		relayers: set,
	}
	if err := r.loadState(genesis); err != nil {
		return nil, errors.Join(err, kv.Close())
	}

	logging.FromContext(ctx).Info(
		"verification registry ready",
		zap.Uint64("counter", r.counter),
		zap.Int("relayers", set.Count()),
		zap.Int("verifiers", r.activeVerifiers),
		zap.Bool("credits", r.cfg.CreditsEnabled),
	)
	return r, nil
}

func (r *Registry) loadState(genesis Genesis) error {
	switch err := r.kv.GetObject(counterKey, &r.counter); {
	case errors.Is(err, db.ErrNotFound):
		r.counter = 0
	case err != nil:
		return fmt.Errorf("loading verification counter: %w", err)
	}

	switch err := r.kv.GetObject(stateKey, &r.state); {
	case errors.Is(err, db.ErrNotFound):
		r.state = stateData{
			BaseFee:     r.cfg.BaseFee.Int().Bytes32(),
			PerChainFee: r.cfg.PerChainFee.Int().Bytes32(),
			TreasuryBps: r.cfg.TreasuryBps,
			Treasury:    genesis.Treasury,
			Burn:        genesis.Burn,
			Collector:   genesis.Collector,
			Hub:         genesis.Hub,
		}
		if err := r.kv.PutObject(stateKey, &r.state); err != nil {
			return fmt.Errorf("seeding registry state: %w", err)
		}
	case err != nil:
		return fmt.Errorf("loading registry state: %w", err)
	}

	iter := r.kv.Iterator(verifierPrefix)
	defer iter.Release()
	for iter.Next() {
		var data verifierData
		if err := db.Unmarshal(iter.Value(), &data); err != nil {
			return fmt.Errorf("loading verifier table: %w", err)
		}
		if data.Active {
			r.activeVerifiers++
		}
	}
	if err := iter.Error(); err != nil {
		return fmt.Errorf("loading verifier table: %w", err)
	}
	return nil
}

func (r *Registry) Close() error {
	return r.kv.Close()
}

// The relayer and trusted-relayer roles are deliberately the same stored
// set; they cannot currently be granted independently.
func (r *Registry) isRelayer(addr shared.Address) bool {
	return r.relayers.Authorized(addr)
}

func (r *Registry) isTrustedRelayer(addr shared.Address) bool {
	return r.relayers.Authorized(addr)
}

// VerifyData anchors a verification: charges the fee, stores the immutable
// record, and requests a voucher from the hub, falling back to a derived id
// when that call fails. Rejections after the role and pause gates emit a
// verification-rejected event with the reason.
func (r *Registry) VerifyData(
	ctx context.Context,
	caller, user shared.Address,
	qHash shared.QHash,
	targetChains []shared.ChainID,
	proofID, verificationType string,
) (shared.VoucherID, error) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if !r.isRelayer(caller) {
		return shared.VoucherID{}, fmt.Errorf("%w: %s does not hold the relayer role", ErrUnauthorized, caller)
	}
	if r.state.Paused {
		return shared.VoucherID{}, ErrPaused
	}
	if len(targetChains) > 0 && r.state.CrossPaused {
		return shared.VoucherID{}, ErrCrossChainPaused
	}

	id, err := r.verify(ctx, caller, user, qHash, slices.Clone(targetChains), proofID, verificationType)
	if err != nil {
		rejectedMetric.Inc()
		r.emitter.Publish(ctx, transport.KindVerificationRejected, transport.VerificationRejected{
			QHash:   qHash,
			Relayer: caller,
			Reason:  err.Error(),
		})
		return shared.VoucherID{}, err
	}
	return id, nil
}

func (r *Registry) verify(
	ctx context.Context,
	caller, user shared.Address,
	qHash shared.QHash,
	targetChains []shared.ChainID,
	proofID, verificationType string,
) (shared.VoucherID, error) {
	if user == (shared.Address{}) {
		return shared.VoucherID{}, ErrZeroAddress
	}
	if qHash == (shared.QHash{}) {
		return shared.VoucherID{}, ErrZeroQHash
	}
	if proofID == "" {
		return shared.VoucherID{}, ErrEmptyProofID
	}
	switch ok, err := r.kv.Has(recordKey(qHash)); {
	case err != nil:
		return shared.VoucherID{}, fmt.Errorf("checking record: %w", err)
	case ok:
		return shared.VoucherID{}, &AlreadyVerifiedError{QHash: qHash}
	}

	fee, err := r.totalFee(len(targetChains))
	if err != nil {
		return shared.VoucherID{}, err
	}

	batch := new(leveldb.Batch)
	charge, err := r.chargeFee(ctx, batch, caller, user, fee)
	if err != nil {
		return shared.VoucherID{}, err
	}

	now := r.clock.Now()
	id, hubErr, err := r.requestVoucher(ctx, qHash, targetChains, verificationType, user, now)
	if err != nil {
		return shared.VoucherID{}, err
	}

	nonce, err := r.nonceOf(caller)
	if err != nil {
		return shared.VoucherID{}, err
	}
	nonce++
	sequence := r.counter + 1

	record := recordData{
		User:     user,
		Verified: true,
		At:       now.UnixNano(),
		Sequence: sequence,
		ProofID:  proofID,
		Type:     verificationType,
		Nonce:    nonce,
		Chains:   targetChains,
	}
	encoded, err := db.Marshal(&record)
	if err != nil {
		return shared.VoucherID{}, err
	}
	batch.Put(recordKey(qHash), encoded)
	encodedNonce, err := db.Marshal(&nonce)
	if err != nil {
		return shared.VoucherID{}, err
	}
	batch.Put(nonceKey(caller), encodedNonce)
	encodedCounter, err := db.Marshal(&sequence)
	if err != nil {
		return shared.VoucherID{}, err
	}
	batch.Put(counterKey, encodedCounter)
	if err := r.kv.Write(batch); err != nil {
		logging.FromContext(ctx).Error(
			"fee settled but record commit failed",
			zap.Stringer("qhash", qHash),
			zap.Error(err),
		)
		return shared.VoucherID{}, fmt.Errorf("storing verification: %w", err)
	}
	r.counter = sequence

	verificationsMetric.Inc()
	logging.FromContext(ctx).Info(
		"verification anchored",
		zap.Stringer("qhash", qHash),
		zap.Stringer("user", user),
		zap.Stringer("voucher", id),
		zap.Int("chains", len(targetChains)),
		zap.String("fee", fee.Dec()),
		zap.Bool("credits", charge.FromCredits),
	)
	if hubErr != nil {
		fallbacksMetric.Inc()
		logging.FromContext(ctx).Warn(
			"voucher creation failed, anchored under fallback id",
			zap.Stringer("qhash", qHash),
			zap.Stringer("fallback", id),
			zap.Error(hubErr),
		)
		r.emitter.Publish(ctx, transport.KindVoucherFallback, transport.VoucherFallback{
			QHash:      qHash,
			User:       user,
			FallbackID: id,
			Reason:     hubErr.Error(),
		})
	}
	r.emitter.Publish(ctx, transport.KindVerificationCompleted, transport.VerificationCompleted{
		QHash:        qHash,
		User:         user,
		Relayer:      caller,
		VoucherIDs:   []shared.VoucherID{id},
		TargetChains: targetChains,
		Fee:          *charge.Fee,
		Sequence:     sequence,
		Nonce:        nonce,
	})
	return id, nil
}

// requestVoucher asks the hub for a voucher. On any hub failure it derives
// the deterministic fallback id instead, so the verification is never lost
// to a propagation outage; hubErr reports the absorbed failure.
func (r *Registry) requestVoucher(
	ctx context.Context,
	qHash shared.QHash,
	targetChains []shared.ChainID,
	verificationType string,
	user shared.Address,
	at time.Time,
) (id shared.VoucherID, hubErr error, err error) {
	verifier := shared.DeriveVerifierID(verificationType)
	if r.hub == nil {
		hubErr = ErrHubUnconfigured
	} else {
		id, hubErr = r.hub.CreateVoucher(ctx, qHash, targetChains, verifier)
		if hubErr == nil {
			return id, nil, nil
		}
	}
	fallback, err := shared.DeriveFallbackVoucherID(qHash, user, at, hubErr.Error())
	if err != nil {
		return shared.VoucherID{}, nil, fmt.Errorf("deriving fallback id: %w", err)
	}
	return fallback, hubErr, nil
}

func (r *Registry) nonceOf(addr shared.Address) (uint64, error) {
	var nonce uint64
	switch err := r.kv.GetObject(nonceKey(addr), &nonce); {
	case errors.Is(err, db.ErrNotFound):
		return 0, nil
	case err != nil:
		return 0, fmt.Errorf("loading nonce: %w", err)
	}
	return nonce, nil
}

func (r *Registry) loadRecord(qHash shared.QHash) (recordData, error) {
	var data recordData
	switch err := r.kv.GetObject(recordKey(qHash), &data); {
	case errors.Is(err, db.ErrNotFound):
		return recordData{}, &UnknownQHashError{QHash: qHash}
	case err != nil:
		return recordData{}, fmt.Errorf("loading verification record: %w", err)
	}
	return data, nil
}

// ConfirmChainVerification flips the registry-side confirmation flag for one
// (qHash, chain) pair. Re-confirming is an explicit rejection.
func (r *Registry) ConfirmChainVerification(
	ctx context.Context,
	caller shared.Address,
	qHash shared.QHash,
	chain shared.ChainID,
) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if !r.isTrustedRelayer(caller) {
		return fmt.Errorf("%w: %s does not hold the trusted-relayer role", ErrUnauthorized, caller)
	}
	if r.state.Paused {
		return ErrPaused
	}

	record, err := r.loadRecord(qHash)
	if err != nil {
		return err
	}
	if !slices.Contains(record.Chains, chain) {
		return &ChainNotTargetError{QHash: qHash, Chain: chain}
	}
	switch ok, err := r.kv.Has(confirmedKey(qHash, chain)); {
	case err != nil:
		return fmt.Errorf("checking confirmation: %w", err)
	case ok:
		return &AlreadyConfirmedError{QHash: qHash, Chain: chain}
	}

	data := confirmationData{Relayer: caller, At: r.clock.Now().UnixNano()}
	if err := r.kv.PutObject(confirmedKey(qHash, chain), &data); err != nil {
		return fmt.Errorf("storing confirmation: %w", err)
	}
	confirmationsMetric.Inc()

	logging.FromContext(ctx).Info(
		"chain verification confirmed",
		zap.Stringer("qhash", qHash),
		zap.Uint64("chain", uint64(chain)),
	)
	r.emitter.Publish(ctx, transport.KindChainConfirmed, transport.ChainConfirmed{
		QHash:   qHash,
		Chain:   chain,
		Relayer: caller,
	})
	return nil
}

// ConfirmChainVerifications applies same-index (qHash, chain) pairs in one
// atomic call. Every pair is validated before any flag flips; pairs already
// confirmed are skipped instead of rejected.
func (r *Registry) ConfirmChainVerifications(
	ctx context.Context,
	caller shared.Address,
	qHashes []shared.QHash,
	chains []shared.ChainID,
) (confirmed, skipped int, err error) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if !r.isTrustedRelayer(caller) {
		return 0, 0, fmt.Errorf("%w: %s does not hold the trusted-relayer role", ErrUnauthorized, caller)
	}
	if r.state.Paused {
		return 0, 0, ErrPaused
	}
	if len(qHashes) != len(chains) {
		return 0, 0, fmt.Errorf("%w: %d qhashes, %d chains", ErrLengthMismatch, len(qHashes), len(chains))
	}
	if len(qHashes) == 0 {
		return 0, 0, nil
	}

	var merr *multierror.Error
	for i := range qHashes {
		record, err := r.loadRecord(qHashes[i])
		if err != nil {
			merr = multierror.Append(merr, err)
			continue
		}
		if !slices.Contains(record.Chains, chains[i]) {
			merr = multierror.Append(merr, &ChainNotTargetError{QHash: qHashes[i], Chain: chains[i]})
		}
	}
	if err := merr.ErrorOrNil(); err != nil {
		return 0, 0, err
	}

	now := r.clock.Now()
	batch := new(leveldb.Batch)
	staged := make(map[string]struct{}, len(qHashes))
	newly := make([]int, 0, len(qHashes))
	for i := range qHashes {
		key := confirmedKey(qHashes[i], chains[i])
		if _, ok := staged[string(key)]; ok {
			skipped++
			continue
		}
		switch ok, err := r.kv.Has(key); {
		case err != nil:
			return 0, 0, fmt.Errorf("checking confirmation: %w", err)
		case ok:
			skipped++
			continue
		}
		data := confirmationData{Relayer: caller, At: now.UnixNano()}
		encoded, err := db.Marshal(&data)
		if err != nil {
			return 0, 0, err
		}
		batch.Put(key, encoded)
		staged[string(key)] = struct{}{}
		newly = append(newly, i)
	}
	if err := r.kv.Write(batch); err != nil {
		return 0, 0, fmt.Errorf("storing confirmations: %w", err)
	}
	confirmationsMetric.Add(float64(len(newly)))

	logging.FromContext(ctx).Info(
		"chain verifications confirmed",
		zap.Int("total", len(qHashes)),
		zap.Int("confirmed", len(newly)),
		zap.Int("skipped", skipped),
	)
	for _, i := range newly {
		r.emitter.Publish(ctx, transport.KindChainConfirmed, transport.ChainConfirmed{
			QHash:   qHashes[i],
			Chain:   chains[i],
			Relayer: caller,
		})
	}
	r.emitter.Publish(ctx, transport.KindChainsConfirmed, transport.ChainsConfirmed{
		Relayer:   caller,
		Total:     uint32(len(qHashes)),
		Confirmed: uint32(len(newly)),
		Skipped:   uint32(skipped),
	})
	return len(newly), skipped, nil
}

// Record returns the verification record anchored under qHash.
func (r *Registry) Record(qHash shared.QHash) (*RecordInfo, error) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	data, err := r.loadRecord(qHash)
	if err != nil {
		return nil, err
	}
	return &RecordInfo{
		QHash:            qHash,
		User:             data.User,
		Verified:         data.Verified,
		At:               time.Unix(0, data.At),
		Sequence:         data.Sequence,
		ProofID:          data.ProofID,
		VerificationType: data.Type,
		Nonce:            data.Nonce,
		TargetChains:     data.Chains,
	}, nil
}

// IsVerified reports whether qHash has been anchored.
func (r *Registry) IsVerified(qHash shared.QHash) (bool, error) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	return r.kv.Has(recordKey(qHash))
}

// Confirmed reports whether a (qHash, chain) pair has been confirmed.
func (r *Registry) Confirmed(qHash shared.QHash, chain shared.ChainID) (bool, error) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	return r.kv.Has(confirmedKey(qHash, chain))
}

// Nonce returns an address's current nonce.
func (r *Registry) Nonce(addr shared.Address) (uint64, error) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	return r.nonceOf(addr)
}

// Counter returns the number of anchored verifications.
func (r *Registry) Counter() uint64 {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	return r.counter
}

func (r *Registry) Relayers() []shared.Address {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	return r.relayers.Snapshot()
}

func (r *Registry) IsRelayer(addr shared.Address) bool {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	return r.isRelayer(addr)
}

func (r *Registry) IsTrustedRelayer(addr shared.Address) bool {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	return r.isTrustedRelayer(addr)
}

func (r *Registry) BaseFee() *uint256.Int {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	return new(uint256.Int).SetBytes(r.state.BaseFee[:])
}

func (r *Registry) PerChainFee() *uint256.Int {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	return new(uint256.Int).SetBytes(r.state.PerChainFee[:])
}

// TreasurySplit returns the fee split configuration. The burn wallet is
// resolved, never zero.
func (r *Registry) TreasurySplit() (bps uint32, treasury, burn shared.Address) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	return r.state.TreasuryBps, r.state.Treasury, r.burnWallet()
}

func (r *Registry) HubAddress() shared.Address {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	return r.state.Hub
}

func (r *Registry) FeeCollector() shared.Address {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	return r.state.Collector
}

func (r *Registry) Paused() (global, crossChain bool) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	return r.state.Paused, r.state.CrossPaused
}

// SetRelayer toggles both the relayer and trusted-relayer roles together.
// A toggle already in effect changes nothing.
func (r *Registry) SetRelayer(ctx context.Context, caller, relayer shared.Address, authorized bool) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if caller != r.owner {
		return fmt.Errorf("%w: %s is not the owner", ErrUnauthorized, caller)
	}

	batch := new(leveldb.Batch)
	apply, changed, err := r.relayers.Stage(relayer, authorized, batch)
	if err != nil {
		return err
	}
	if !changed {
		return nil
	}
	if err := r.kv.Write(batch); err != nil {
		return fmt.Errorf("storing relayer set: %w", err)
	}
	apply()

	logging.FromContext(ctx).Info(
		"relayer set changed",
		zap.Stringer("relayer", relayer),
		zap.Bool("authorized", authorized),
		zap.Int("count", r.relayers.Count()),
	)
	r.emitter.Publish(ctx, transport.KindRelayerSetChanged, transport.RelayerSetChanged{
		Relayer:    relayer,
		Authorized: authorized,
		Count:      uint32(r.relayers.Count()),
	})
	return nil
}

// Pause stops the whole registry. The reason is mandatory and travels with
// the event.
func (r *Registry) Pause(ctx context.Context, caller shared.Address, reason string) error {
	return r.setPause(ctx, caller, transport.ScopeGlobal, reason, true)
}

func (r *Registry) Resume(ctx context.Context, caller shared.Address, reason string) error {
	return r.setPause(ctx, caller, transport.ScopeGlobal, reason, false)
}

// PauseCrossChain stops verifications with target chains only; single-chain
// anchoring keeps working.
func (r *Registry) PauseCrossChain(ctx context.Context, caller shared.Address, reason string) error {
	return r.setPause(ctx, caller, transport.ScopeCrossChain, reason, true)
}

func (r *Registry) ResumeCrossChain(ctx context.Context, caller shared.Address, reason string) error {
	return r.setPause(ctx, caller, transport.ScopeCrossChain, reason, false)
}

func (r *Registry) setPause(ctx context.Context, caller shared.Address, scope, reason string, pause bool) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if caller != r.owner {
		return fmt.Errorf("%w: %s is not the owner", ErrUnauthorized, caller)
	}
	if strings.TrimSpace(reason) == "" {
		return ErrReasonRequired
	}

	next := r.state
	var current *bool
	if scope == transport.ScopeGlobal {
		current = &next.Paused
	} else {
		current = &next.CrossPaused
	}
	if *current == pause {
		if pause {
			return fmt.Errorf("%w: %s", ErrPaused, scope)
		}
		return fmt.Errorf("%w: %s", ErrNotPaused, scope)
	}
	*current = pause

	if err := r.kv.PutObject(stateKey, &next); err != nil {
		return fmt.Errorf("storing registry state: %w", err)
	}
	r.state = next

	logging.FromContext(ctx).Warn(
		"pause state changed",
		zap.String("scope", scope),
		zap.Bool("paused", pause),
		zap.String("reason", reason),
	)
	if pause {
		r.emitter.Publish(ctx, transport.KindPaused, transport.Paused{Scope: scope, Reason: reason})
	} else {
		r.emitter.Publish(ctx, transport.KindResumed, transport.Resumed{Scope: scope, Reason: reason})
	}
	return nil
}

// ScheduleSetBaseFee schedules changing the verification base fee.
func (r *Registry) ScheduleSetBaseFee(
	ctx context.Context,
	caller shared.Address,
	fee *uint256.Int,
) (shared.ProposalID, time.Time, error) {
	params := fee.Bytes32()
	return r.schedule(ctx, caller, actionSetBaseFee, params[:])
}

func (r *Registry) ExecuteSetBaseFee(ctx context.Context, caller shared.Address) error {
	return r.executeStateChange(ctx, caller, actionSetBaseFee, func(next *stateData, params []byte) (func(), error) {
		fee, err := decodeAmountParams(params)
		if err != nil {
			return nil, err
		}
		next.BaseFee = fee.Bytes32()
		return func() {
			r.emitFeesChanged(ctx)
		}, nil
	})
}

// ScheduleSetPerChainFee schedules changing the per-target-chain fee.
func (r *Registry) ScheduleSetPerChainFee(
	ctx context.Context,
	caller shared.Address,
	fee *uint256.Int,
) (shared.ProposalID, time.Time, error) {
	params := fee.Bytes32()
	return r.schedule(ctx, caller, actionSetPerChainFee, params[:])
}

func (r *Registry) ExecuteSetPerChainFee(ctx context.Context, caller shared.Address) error {
	return r.executeStateChange(ctx, caller, actionSetPerChainFee, func(next *stateData, params []byte) (func(), error) {
		fee, err := decodeAmountParams(params)
		if err != nil {
			return nil, err
		}
		next.PerChainFee = fee.Bytes32()
		return func() {
			r.emitFeesChanged(ctx)
		}, nil
	})
}

func (r *Registry) emitFeesChanged(ctx context.Context) {
	r.emitter.Publish(ctx, transport.KindFeesChanged, transport.FeesChanged{
		BaseFee:     *new(uint256.Int).SetBytes(r.state.BaseFee[:]),
		PerChainFee: *new(uint256.Int).SetBytes(r.state.PerChainFee[:]),
	})
}

// ScheduleSetTreasurySplit schedules changing the treasury share and the
// treasury/burn wallets. A zero burn wallet routes the burn share to the
// conventional dead address.
func (r *Registry) ScheduleSetTreasurySplit(
	ctx context.Context,
	caller shared.Address,
	bps uint32,
	treasury, burn shared.Address,
) (shared.ProposalID, time.Time, error) {
	if bps > BpsDenominator {
		return shared.ProposalID{}, time.Time{}, fmt.Errorf("%w: %d", ErrInvalidBps, bps)
	}
	if treasury == (shared.Address{}) {
		return shared.ProposalID{}, time.Time{}, fmt.Errorf("treasury wallet: %w", ErrZeroAddress)
	}
	return r.schedule(ctx, caller, actionSetTreasurySplit, encodeSplitParams(bps, treasury, burn))
}

func (r *Registry) ExecuteSetTreasurySplit(ctx context.Context, caller shared.Address) error {
	return r.executeStateChange(ctx, caller, actionSetTreasurySplit, func(next *stateData, params []byte) (func(), error) {
		bps, treasury, burn, err := decodeSplitParams(params)
		if err != nil {
			return nil, err
		}
		if bps > BpsDenominator {
			return nil, fmt.Errorf("%w: %d", ErrInvalidBps, bps)
		}
		next.TreasuryBps = bps
		next.Treasury = treasury
		next.Burn = burn
		return func() {
			r.emitter.Publish(ctx, transport.KindTreasurySplitChanged, transport.TreasurySplitChanged{
				TreasuryBps: bps,
				Treasury:    treasury,
				Burn:        burn,
			})
		}, nil
	})
}

// ScheduleSetHubAddress schedules rotating the hub binding address.
func (r *Registry) ScheduleSetHubAddress(
	ctx context.Context,
	caller, hub shared.Address,
) (shared.ProposalID, time.Time, error) {
	return r.schedule(ctx, caller, actionSetHub, hub.Bytes())
}

func (r *Registry) ExecuteSetHubAddress(ctx context.Context, caller shared.Address) error {
	return r.executeStateChange(ctx, caller, actionSetHub, func(next *stateData, params []byte) (func(), error) {
		addr, err := decodeAddressParams(params)
		if err != nil {
			return nil, err
		}
		next.Hub = addr
		return func() {
			r.emitter.Publish(ctx, transport.KindHubAddressChanged, transport.HubAddressChanged{Address: addr})
		}, nil
	})
}

// ScheduleSetFeeCollector schedules rotating the fee collector.
func (r *Registry) ScheduleSetFeeCollector(
	ctx context.Context,
	caller, collector shared.Address,
) (shared.ProposalID, time.Time, error) {
	return r.schedule(ctx, caller, actionSetCollector, collector.Bytes())
}

func (r *Registry) ExecuteSetFeeCollector(ctx context.Context, caller shared.Address) error {
	return r.executeStateChange(ctx, caller, actionSetCollector, func(next *stateData, params []byte) (func(), error) {
		addr, err := decodeAddressParams(params)
		if err != nil {
			return nil, err
		}
		next.Collector = addr
		return func() {
			r.emitter.Publish(ctx, transport.KindCollectorChanged, transport.CollectorChanged{Collector: addr})
		}, nil
	})
}

func (r *Registry) schedule(
	ctx context.Context,
	caller shared.Address,
	action string,
	params []byte,
) (shared.ProposalID, time.Time, error) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if caller != r.owner {
		return shared.ProposalID{}, time.Time{}, fmt.Errorf("%w: %s is not the owner", ErrUnauthorized, caller)
	}
	pid, unlock, err := r.tl.Schedule(ctx, action, params)
	if err != nil {
		return shared.ProposalID{}, time.Time{}, err
	}
	r.emitter.Publish(ctx, transport.KindTimelockScheduled, transport.TimelockScheduled{
		Action:     action,
		ProposalID: pid,
		Unlock:     unlock,
	})
	return pid, unlock, nil
}

// executeStateChange runs a timelocked configuration change: the proposal
// consumption and the rewritten state record commit in one batch.
func (r *Registry) executeStateChange(
	ctx context.Context,
	caller shared.Address,
	action string,
	mutate func(next *stateData, params []byte) (emit func(), err error),
) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if caller != r.owner {
		return fmt.Errorf("%w: %s is not the owner", ErrUnauthorized, caller)
	}

	batch := new(leveldb.Batch)
	params, pid, err := r.tl.Execute(ctx, action, batch)
	if err != nil {
		return err
	}
	next := r.state
	emit, err := mutate(&next, params)
	if err != nil {
		return err
	}
	encoded, err := db.Marshal(&next)
	if err != nil {
		return err
	}
	batch.Put(stateKey, encoded)
	if err := r.kv.Write(batch); err != nil {
		return fmt.Errorf("storing registry state: %w", err)
	}
	r.state = next

	logging.FromContext(ctx).Info(
		"executed timelocked change",
		zap.String("action", action),
		zap.Stringer("proposal", pid),
	)
	r.emitter.Publish(ctx, transport.KindTimelockExecuted, transport.TimelockExecuted{
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

func encodeSplitParams(bps uint32, treasury, burn shared.Address) []byte {
	params := binary.BigEndian.AppendUint32(nil, bps)
	params = append(params, treasury.Bytes()...)
	return append(params, burn.Bytes()...)
}

func decodeSplitParams(params []byte) (uint32, shared.Address, shared.Address, error) {
	var treasury, burn shared.Address
	if len(params) != 4+2*len(treasury) {
		return 0, treasury, burn, fmt.Errorf("invalid treasury split parameters: %d bytes", len(params))
	}
	bps := binary.BigEndian.Uint32(params[:4])
	copy(treasury[:], params[4:4+len(treasury)])
	copy(burn[:], params[4+len(treasury):])
	return bps, treasury, burn, nil
}
