package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"pdl_sync/internal/adapters/observability"
	"pdl_sync/internal/bootstrap"
	"pdl_sync/internal/shared"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var deps *bootstrap.Deps

	root := &cobra.Command{
		Use:           "syncer",
		Short:         "One-shot agency and property sync against the upstream provider",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg := shared.Load()
			log.Logger = observability.NewLogger(cfg.AppEnv, cfg.LogLevel)
			d, err := bootstrap.Build(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			deps = d
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if deps != nil {
				deps.Close()
			}
		},
	}

	root.AddCommand(
		&cobra.Command{
			Use:   "run",
			Short: "Sync agencies, then the properties of every agency",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				rep, err := deps.Orch.RunFull(cmd.Context())
				printJSON(rep)
				return report(err)
			},
		},
		&cobra.Command{
			Use:   "agencies",
			Short: "Sync the agency list only",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				rep, err := deps.Orch.SyncAgencies(cmd.Context())
				printJSON(rep)
				return report(err)
			},
		},
		&cobra.Command{
			Use:   "properties <agency-key>",
			Short: "Sync the properties of one stored agency",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				res, err := deps.Orch.SyncAgencyProperties(cmd.Context(), args[0])
				printJSON(res)
				return report(err)
			},
		},
	)
	return root
}

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		log.Error().Err(err).Msg("encode report failed")
	}
}

func report(err error) error {
	if err != nil {
		log.Error().Err(err).Msg("sync failed")
		return fmt.Errorf("sync: %w", err)
	}
	return nil
}
