package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/pders01/fwrdsync/internal/account"
	"github.com/pders01/fwrdsync/internal/backend/feedwrangler"
	"github.com/pders01/fwrdsync/internal/backend/readerapi"
	"github.com/pders01/fwrdsync/internal/config"
	"github.com/pders01/fwrdsync/internal/transport"
	"github.com/pders01/fwrdsync/internal/tui"
	"github.com/pders01/fwrdsync/internal/validation"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
}

var configGenCmd = &cobra.Command{
	Use:   "generate",
	Short: "Generate a default configuration file",
	Long: `Write the default configuration as TOML.

Examples:
  fwrdsync config generate
  fwrdsync config generate --path ./config.toml --force`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		path, _ := cmd.Flags().GetString("path")
		force, _ := cmd.Flags().GetBool("force")
		if path == "" {
			path = config.DefaultPath()
		}
		path, err := validation.ValidatePath(path)
		if err != nil {
			return fmt.Errorf("config path: %w", err)
		}
		if _, err := os.Stat(path); err == nil && !force {
			return fmt.Errorf("%s already exists (use --force to overwrite)", path)
		}
		if err := config.GenerateDefaultConfig(path); err != nil {
			return fmt.Errorf("generating config: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Generated default configuration at: %s\n", path)
		return nil
	},
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check the configuration",
	Long: `Check the loaded configuration. With --remote, also try to log in to a
Reader API service without changing any stored state.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		remote, _ := cmd.Flags().GetBool("remote")
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("invalid configuration: %w", err)
		}
		printStatus(cmd, tui.StatusSuccess, "Configuration is valid")

		if !remote {
			return nil
		}
		var (
			validate account.ValidateFunc
			creds    *transport.Credentials
			endpoint = cfg.Backend.Endpoint
		)
		switch cfg.Backend.Kind {
		case config.BackendReaderAPI:
			validate, creds = readerapi.ValidateCredentials(readerConfig(cfg)), readerCredentials(cfg)
		case config.BackendFeedWrangler:
			validate, creds = feedwrangler.ValidateCredentials(wranglerConfig(cfg)), wranglerCredentials(cfg)
			if endpoint == "" {
				endpoint = feedwrangler.DefaultEndpoint
			}
		default:
			printStatus(cmd, tui.StatusInfo, fmt.Sprintf("backend %q has no credentials to check", cfg.Backend.Kind))
			return nil
		}
		if _, err := validate(cmd.Context(), newTransport(cfg), creds); err != nil {
			return fmt.Errorf("logging in to %s: %w", endpoint, err)
		}
		printStatus(cmd, tui.StatusSuccess, "Credentials accepted by "+endpoint)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configGenCmd, configValidateCmd)

	configGenCmd.Flags().String("path", "", "where to write the file (default is ~/.config/fwrdsync/config.toml)")
	configGenCmd.Flags().Bool("force", false, "overwrite an existing file")
	configValidateCmd.Flags().Bool("remote", false, "also check the backend credentials")
}
