package server

import (
	"context"
	"crypto/ed25519"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/qanchornet/qanchor/db"
	"github.com/qanchornet/qanchor/logging"
	"github.com/qanchornet/qanchor/registry"
	"github.com/qanchornet/qanchor/shared"
	"github.com/qanchornet/qanchor/spoke"
	"github.com/qanchornet/qanchor/token"
	"github.com/qanchornet/qanchor/transport"
	"github.com/qanchornet/qanchor/voucher"
)

// Server wires the verification registry, the voucher hub and one spoke per
// configured chain over a shared signed event bus: standalone mode's whole
// engine in one process.
type Server struct {
	cfg Config

	bus      *transport.Bus
	ledger   *token.InMemoryLedger
	registry *registry.Registry
	hub      *voucher.Hub
	spokes   map[shared.ChainID]*spoke.Spoke

	metricsListener net.Listener
	privateKey      ed25519.PrivateKey
}

func New(ctx context.Context, cfg Config) (*Server, error) {
	if _, err := os.Stat(cfg.DataDir); os.IsNotExist(err) {
		if err := os.MkdirAll(cfg.DataDir, 0o700); err != nil {
			return nil, err
		}
	}

	st, err := loadState(ctx, cfg.DataDir, os.Getenv(KeyEnvVar))
	if err != nil {
		return nil, fmt.Errorf("loading state: %w", err)
	}
	if err := saveState(cfg.DataDir, st); err != nil {
		return nil, fmt.Errorf("saving state: %w", err)
	}
	privateKey := ed25519.PrivateKey(st.PrivKey)

	// Unit databases once lived under the data directory.
	migrateCtx := logging.NewContext(ctx, logging.FromContext(ctx).Named("migrations"))
	for _, unit := range unitDbNames(cfg.Genesis.Chains) {
		if err := db.Migrate(migrateCtx, filepath.Join(cfg.DbDir, unit), filepath.Join(cfg.DataDir, unit)); err != nil {
			return nil, fmt.Errorf("migrating %s database: %w", unit, err)
		}
	}

	var metricsListener net.Listener
	if cfg.MetricsPort != nil {
		metricsListener, err = net.Listen("tcp", fmt.Sprintf(":%d", *cfg.MetricsPort))
		if err != nil {
			return nil, fmt.Errorf("failed to listen: %w", err)
		}
	}

	bus := transport.NewBus(transport.WithIdentity(privateKey))
	ledger := token.NewInMemoryLedger()
	relayers := cfg.Genesis.relayerAddresses()

	hub, err := voucher.New(
		logging.NewContext(ctx, logging.FromContext(ctx).Named("hub")),
		cfg.DbDir,
		voucher.Genesis{
			Owner:     cfg.Genesis.Owner.Address(),
			Registry:  cfg.Genesis.RegistryAccount.Address(),
			Collector: cfg.Genesis.Collector.Address(),
			Relayers:  relayers,
		},
		voucher.WithConfig(cfg.Hub),
		voucher.WithEmitter(bus.Emitter("hub")),
	)
	if err != nil {
		return nil, fmt.Errorf("creating voucher hub: %w", err)
	}

	reg, err := registry.New(
		logging.NewContext(ctx, logging.FromContext(ctx).Named("registry")),
		cfg.DbDir,
		ledger,
		registry.Genesis{
			Owner:     cfg.Genesis.Owner.Address(),
			Address:   cfg.Genesis.RegistryAccount.Address(),
			Treasury:  cfg.Genesis.Treasury.Address(),
			Burn:      cfg.Genesis.Burn.Address(),
			Collector: cfg.Genesis.Collector.Address(),
			Hub:       cfg.Genesis.HubAccount.Address(),
			Relayers:  relayers,
		},
		registry.WithConfig(cfg.Registry),
		registry.WithEmitter(bus.Emitter("registry")),
		registry.WithVoucherService(transport.NewHubBinding(hub, cfg.Genesis.RegistryAccount.Address())),
	)
	if err != nil {
		return nil, errors.Join(fmt.Errorf("creating verification registry: %w", err), hub.Close())
	}

	spokes := make(map[shared.ChainID]*spoke.Spoke, len(cfg.Genesis.Chains))
	closeUnits := func() error {
		err := errors.Join(reg.Close(), hub.Close())
		for _, sp := range spokes {
			err = errors.Join(err, sp.Close())
		}
		return err
	}
	for _, chain := range cfg.Genesis.Chains {
		if _, ok := spokes[chain]; ok {
			return nil, errors.Join(fmt.Errorf("chain %d configured twice", chain), closeUnits())
		}
		sp, err := spoke.New(
			logging.NewContext(ctx, logging.FromContext(ctx).Named(fmt.Sprintf("spoke-%d", chain))),
			cfg.DbDir,
			chain,
			spoke.Genesis{
				Owner:    cfg.Genesis.Owner.Address(),
				Hub:      cfg.Genesis.HubAccount.Address(),
				Relayers: relayers,
			},
			spoke.WithConfig(cfg.Spoke),
			spoke.WithEmitter(bus.Emitter(fmt.Sprintf("spoke-%d", chain))),
		)
		if err != nil {
			return nil, errors.Join(fmt.Errorf("creating spoke for chain %d: %w", chain, err), closeUnits())
		}
		spokes[chain] = sp
	}

	return &Server{
		cfg:             cfg,
		bus:             bus,
		ledger:          ledger,
		registry:        reg,
		hub:             hub,
		spokes:          spokes,
		metricsListener: metricsListener,
		privateKey:      privateKey,
	}, nil
}

func unitDbNames(chains []shared.ChainID) []string {
	names := []string{"registry", "hub"}
	for _, chain := range chains {
		names = append(names, fmt.Sprintf("spoke-%d", chain))
	}
	return names
}

func (s *Server) Close() error {
	s.bus.Close()
	err := errors.Join(s.registry.Close(), s.hub.Close())
	for _, sp := range s.spokes {
		err = errors.Join(err, sp.Close())
	}
	if s.metricsListener != nil {
		if closeErr := s.metricsListener.Close(); closeErr != nil && !errors.Is(closeErr, net.ErrClosed) {
			err = errors.Join(err, closeErr)
		}
	}
	return err
}

// Registry returns the verification registry unit.
func (s *Server) Registry() *registry.Registry {
	return s.registry
}

// Hub returns the voucher hub unit.
func (s *Server) Hub() *voucher.Hub {
	return s.hub
}

// Spoke returns the spoke serving the given chain, or nil.
func (s *Server) Spoke(chain shared.ChainID) *spoke.Spoke {
	return s.spokes[chain]
}

// Bus returns the signed event bus shared by all units.
func (s *Server) Bus() *transport.Bus {
	return s.bus
}

// Ledger returns the in-memory token ledger fees settle against.
func (s *Server) Ledger() *token.InMemoryLedger {
	return s.ledger
}

// MetricsAddr returns the address the metrics server is listening on, or
// nil when metrics are disabled.
func (s *Server) MetricsAddr() net.Addr {
	if s.metricsListener == nil {
		return nil
	}
	return s.metricsListener.Addr()
}

func (s *Server) PublicKey() ed25519.PublicKey {
	return s.privateKey.Public().(ed25519.PublicKey)
}

// Start runs the daemon until the context is canceled: the metrics endpoint
// when configured, and a mirror of the event feed into the log.
func (s *Server) Start(ctx context.Context) error {
	ctx, stop := context.WithCancel(ctx)
	defer stop()
	serverGroup, ctx := errgroup.WithContext(ctx)

	logger := logging.FromContext(ctx)

	events, unsubscribe := s.bus.Subscribe()
	defer unsubscribe()
	serverGroup.Go(func() error {
		for {
			select {
			case <-ctx.Done():
				return nil
			case env, ok := <-events:
				if !ok {
					return nil
				}
				logger.Debug(
					"event published",
					zap.Stringer("id", env.ID),
					zap.String("unit", env.Unit),
					zap.String("kind", string(env.Kind)),
					zap.Uint64("seq", env.Seq),
				)
			}
		}
	})

	var metricsServer *http.Server
	if s.metricsListener != nil {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		metricsServer = &http.Server{Handler: mux, ReadHeaderTimeout: time.Second * 5}
		serverGroup.Go(func() error {
			logger.Sugar().Infof("metrics server listening on %s", s.metricsListener.Addr())
			err := metricsServer.Serve(s.metricsListener)
			if errors.Is(err, http.ErrServerClosed) {
				return nil
			}
			return err
		})
	}

	// Wait for the server to shut down gracefully
	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second*10)
	defer cancel()
	if metricsServer != nil {
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			logger.Sugar().Errorf("failed to shutdown metrics server: %s", err)
		}
	}
	if err := serverGroup.Wait(); err != nil {
		logger.Sugar().Errorf("error when waiting to shutdown servers: %s", err)
	}
	return nil
}
