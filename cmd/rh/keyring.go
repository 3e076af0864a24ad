package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/zalando/go-keyring"

	"github.com/zulandar/relayhub/internal/config"
)

func newKeyringCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "keyring",
		Short: "Manage the hub token in the OS keyring",
	}

	cmd.AddCommand(newKeyringSetCmd())
	return cmd
}

func newKeyringSetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set <token>",
		Short: "Store the hub bot token in the OS keyring",
		Long:  "Stores the hub bot token so relayhub.yaml can use hub.token_from_keyring instead of a plaintext token.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := keyring.Set(config.KeyringService, config.KeyringAccount, args[0]); err != nil {
				return fmt.Errorf("keyring: store hub token: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Hub token stored in keyring (service %q)\n", config.KeyringService)
			return nil
		},
	}
}
