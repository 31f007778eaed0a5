package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/xaenox/replydesk/internal/registry"
	"github.com/xaenox/replydesk/pkg/config"
	"go.uber.org/zap"
)

var statusAs string

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Delete expired claims once and exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		reg, closeStore, err := openRegistry(cmd)
		if err != nil {
			return err
		}
		defer closeStore()

		n, err := reg.Sweep(cmd.Context())
		if err != nil {
			return err
		}
		logger.Info("Sweep finished", zap.Int64("deleted", n))
		fmt.Fprintf(cmd.OutOrStdout(), "deleted %d expired claims\n", n)
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:   "status <thread>",
	Short: "Show who is handling a conversation",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		reg, closeStore, err := openRegistry(cmd)
		if err != nil {
			return err
		}
		defer closeStore()

		status, err := reg.Status(cmd.Context(), args[0], statusAs)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if !status.IsAssigned {
			fmt.Fprintf(out, "%s: unassigned\n", args[0])
			return nil
		}
		fmt.Fprintf(out, "%s: assigned to %s (message %s) since %s\n",
			args[0], status.AssignedTo, status.MessageID, status.AssignedAt.UTC().Format("2006-01-02 15:04:05 MST"))
		if status.CanTakeOver {
			fmt.Fprintf(out, "%s can take over\n", statusAs)
		}
		return nil
	},
}

func openRegistry(cmd *cobra.Command) (*registry.Registry, func(), error) {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}
	store, err := openStore(cmd.Context(), cfg.Database, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize storage: %w", err)
	}
	closeStore := func() {
		if err := store.Close(); err != nil {
			logger.Warn("Failed to close storage", zap.Error(err))
		}
	}
	return registry.New(store, logger, registry.WithExpiry(cfg.Assignment.Expiry)), closeStore, nil
}
