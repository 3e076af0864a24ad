package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/zulandar/relayhub/internal/relay"
)

func newMappingsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mappings",
		Short: "Manage delivery mappings",
	}

	cmd.AddCommand(newMappingsPruneCmd())
	return cmd
}

func newMappingsPruneCmd() *cobra.Command {
	var (
		configPath string
		days       int
	)

	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Delete old delivery mappings",
		Long: "Deletes delivery mappings older than the retention window. Replies to " +
			"pruned forwards are silently dropped.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMappingsPrune(cmd, configPath, days)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "relayhub.yaml", "path to relayhub config file")
	cmd.Flags().IntVar(&days, "older-than-days", 0, "retention window in days (default retention.max_age_days)")
	return cmd
}

func runMappingsPrune(cmd *cobra.Command, configPath string, days int) error {
	out := cmd.OutOrStdout()

	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	if days < 0 {
		return fmt.Errorf("--older-than-days must be positive")
	}
	maxAge := cfg.Retention.MaxAge()
	if days > 0 {
		maxAge = time.Duration(days) * 24 * time.Hour
	}

	ctx := context.Background()
	st, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	pruner, err := relay.NewPruner(relay.PrunerOpts{Store: st, MaxAge: maxAge})
	if err != nil {
		return err
	}
	n, err := pruner.PruneOnce(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Pruned %d mappings older than %s\n", n, maxAge)
	return nil
}
