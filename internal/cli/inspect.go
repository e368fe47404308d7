package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/vaultharness/internal/chain"
	"github.com/roach88/vaultharness/internal/env"
	"github.com/roach88/vaultharness/internal/inspect"
)

// InspectOutput is the JSON payload of the inspect command.
type InspectOutput struct {
	Fixture  string            `json:"fixture"`
	Backend  string            `json:"backend"`
	Vault    string            `json:"vault"`
	Strategy string            `json:"strategy"`
	State    map[string]any    `json:"strategy_state"`
	Vaults   map[string]any    `json:"vault_state"`
	Actors   map[string]string `json:"actors"`
}

// NewInspectCommand creates the inspect command.
func NewInspectCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "inspect <fixture>",
		Short: "Provision a fixture and print the strategy and vault state",
		Long: `Provision the environment a fixture describes and print the
state of the freshly registered strategy and its vault.

On a backend that supports snapshots the chain is restored afterwards.

Examples:
  vaultharness inspect ./testdata/fixtures/inverse.cue
  vaultharness inspect ./fixtures/inverse.cue --backend rpc --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInspect(rootOpts, args[0], cmd)
		},
	}

	return cmd
}

func runInspect(opts *RootOptions, fixturePath string, cmd *cobra.Command) (err error) {
	fixture, err := env.LoadFixture(fixturePath)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load fixture", err)
	}

	cfg, err := opts.settings(cmd)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	logger := opts.logger(cmd.ErrOrStderr())

	sess, err := openSession(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer sess.close()

	if snap, ok := sess.backend.(chain.Snapshotter); ok {
		id, serr := snap.Snapshot(ctx)
		if serr != nil {
			return WrapExitError(ExitCommandError, "failed to snapshot chain", serr)
		}
		defer func() {
			if rerr := snap.Revert(context.WithoutCancel(ctx), id); rerr != nil && err == nil {
				err = WrapExitError(ExitCommandError, "failed to restore chain", rerr)
			}
		}()
	}

	e, err := env.Provision(ctx, sess.backend, fixture, env.WithLogger(logger))
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to provision fixture", err)
	}

	strat, err := inspect.Strategy(ctx, e.Strategy, e.Want)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read strategy", err)
	}
	vault, err := inspect.Vault(ctx, e.Vault, e.Strategy, e.Want)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read vault", err)
	}

	if opts.Format == "json" {
		actors := make(map[string]string, len(e.Actors))
		for role, addr := range e.Actors {
			actors[role] = addr.Hex()
		}
		return opts.formatter(cmd).Success(InspectOutput{
			Fixture:  fixture.Name,
			Backend:  cfg.Backend,
			Vault:    e.Vault.Address.Hex(),
			Strategy: e.Strategy.Address.Hex(),
			State:    inspect.Metrics(strat),
			Vaults:   inspect.Metrics(vault),
			Actors:   actors,
		})
	}

	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "fixture %s on %s: vault %s, strategy %s\n\n", fixture.Name, cfg.Backend, e.Vault.Address.Hex(), e.Strategy.Address.Hex())
	if err := inspect.Print(w, strat); err != nil {
		return err
	}
	fmt.Fprintln(w)
	return inspect.Print(w, vault)
}
