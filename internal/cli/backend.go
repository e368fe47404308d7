package cli

import (
	"context"
	"log/slog"

	"github.com/roach88/vaultharness/internal/chain"
	"github.com/roach88/vaultharness/internal/chain/simchain"
	"github.com/roach88/vaultharness/internal/config"
	"github.com/roach88/vaultharness/internal/harness"
	"github.com/roach88/vaultharness/internal/store"
)

// session is what a scenario command needs: a backend, the run log and
// the harness options built from the configuration.
type session struct {
	cfg     *config.Config
	backend chain.Backend
	store   *store.Store
	logger  *slog.Logger
	closers []func()
}

// openSession connects the configured backend and opens the run log.
// The caller must call close.
func openSession(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*session, error) {
	s := &session{cfg: cfg, logger: logger}

	switch cfg.Backend {
	case config.BackendRPC:
		flavor, err := chain.ParseNodeFlavor(cfg.NodeFlavor)
		if err != nil {
			return nil, WrapExitError(ExitCommandError, "invalid node flavor", err)
		}
		logger.Info("dialing node", "url", cfg.RPCURL, "flavor", flavor)
		b, err := chain.DialRPC(ctx, cfg.RPCURL,
			chain.WithNodeFlavor(flavor),
			chain.WithTxTimeout(cfg.TxTimeout),
			chain.WithRPCLogger(logger),
		)
		if err != nil {
			return nil, WrapExitError(ExitCommandError, "failed to connect to node", err)
		}
		s.backend = b
		s.closers = append(s.closers, b.Close)
	default:
		s.backend = simchain.New(simchain.WithLogger(logger))
	}

	st, err := store.Open(cfg.DB)
	if err != nil {
		s.close()
		return nil, WrapExitError(ExitCommandError, "failed to open run log", err)
	}
	s.store = st
	s.closers = append(s.closers, func() {
		if err := st.Close(); err != nil {
			logger.Error("error closing run log", "error", err)
		}
	})
	return s, nil
}

func (s *session) close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
	s.closers = nil
}

// runOptions are the harness options every run shares.
func (s *session) runOptions(fixtureDir string) ([]harness.Option, error) {
	opts := []harness.Option{
		harness.WithLogger(s.logger),
		harness.WithStore(s.store),
		harness.WithBackendName(s.cfg.Backend),
	}
	if fixtureDir != "" {
		opts = append(opts, harness.WithFixtureDir(fixtureDir))
	}
	tol, err := s.cfg.ParsedTolerance()
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "invalid tolerance", err)
	}
	if tol != nil {
		opts = append(opts, harness.WithTolerance(*tol))
	}
	return opts, nil
}

// forget drops an earlier recording of a fixed run id so the scenario can
// be recorded again.
func (s *session) forget(ctx context.Context, scenario *harness.Scenario) error {
	if scenario.RunID == "" {
		return nil
	}
	return s.store.DeleteRun(ctx, scenario.RunID)
}
