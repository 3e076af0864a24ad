package main

import (
	"context"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/zulandar/relayhub/internal/relay"
)

func newBotsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "bots",
		Short: "Inspect registered bots",
	}

	cmd.AddCommand(newBotsListCmd())
	return cmd
}

func newBotsListCmd() *cobra.Command {
	var (
		configPath string
		owner      string
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List registered bots",
		Long:  "Lists registered bots with their owner and platform. Credentials are shown masked.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBotsList(cmd, configPath, owner)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "relayhub.yaml", "path to relayhub config file")
	cmd.Flags().StringVar(&owner, "owner", "", "only list bots owned by this user id")
	return cmd
}

func runBotsList(cmd *cobra.Command, configPath, owner string) error {
	out := cmd.OutOrStdout()

	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	ctx := context.Background()
	st, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	bots, err := st.ListBots(ctx, owner)
	if err != nil {
		return fmt.Errorf("list bots: %w", err)
	}
	if len(bots) == 0 {
		fmt.Fprintln(out, "No bots registered.")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "BOT\tPLATFORM\tOWNER\tREGISTERED")
	for _, b := range bots {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
			relay.BotLabel(b), b.Platform, b.OwnerID,
			b.CreatedAt.Format("2006-01-02 15:04"))
	}
	return w.Flush()
}
