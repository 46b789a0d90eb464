package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/pders01/fwrdsync/internal/config"
	"github.com/pders01/fwrdsync/internal/debuglog"
	"github.com/pders01/fwrdsync/internal/tui"
)

var (
	cfgFile  string
	dbPath   string
	logLevel string
	quiet    bool
	cfg      *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "fwrdsync",
	Short: "Keep feed subscriptions and read state in sync",
	Long: `fwrdsync mirrors an account's folders, feeds, articles and article
statuses in a local database and keeps them in sync with a backend: feeds
fetched directly (local), a Google Reader API service (readerapi) or a shared
cloud record store (cloud).

Example usage:
  fwrdsync add https://go.dev/blog/feed.atom --folder Go
  fwrdsync refresh             # one sync pass with progress
  fwrdsync refresh --watch     # sync every sync.refresh_interval
  fwrdsync articles --unread   # list unread articles
  fwrdsync mark <id> --read    # queue a status change
  fwrdsync status              # account summary`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return initConfig()
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		if !quiet {
			tui.ShowBanner(cmd.OutOrStdout(), Version)
		}
		return cmd.Help()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ~/.config/fwrdsync/config.toml)")
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "", "path to database file (overrides config)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "debug, info, warn, error or off (overrides config)")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "skip banner and progress output")
}

// initConfig loads the configuration, applies flag overrides and sets up
// logging and the color theme.
func initConfig() error {
	var err error
	cfg, err = config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if dbPath != "" {
		cfg.Database.Path = dbPath
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}

	if err := debuglog.Setup(debuglog.ParseLogLevel(cfg.Log.Level), cfg.Log.File); err != nil {
		return err
	}
	debuglog.WithFields(map[string]any{"config": cfgFile, "backend": cfg.Backend.Kind}).
		Debugf("configuration loaded")

	tui.ApplyTheme(cfg.UI.Colors)
	return nil
}

// terminalWidth is the width of stdout, or 100 when it is not a terminal.
func terminalWidth() int {
	if w, _, err := term.GetSize(int(os.Stdout.Fd())); err == nil && w > 0 {
		return w
	}
	return 100
}

func isTerminal() bool {
	return term.IsTerminal(int(os.Stdout.Fd()))
}

// withSession opens the account for the duration of fn.
func withSession(cmd *cobra.Command, fn func(s *session) error) error {
	s, err := openSession(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer s.Close()
	return fn(s)
}

func printStatus(cmd *cobra.Command, kind tui.StatusKind, msg string) {
	fmt.Fprintln(cmd.OutOrStdout(), tui.RenderStatus(kind, msg))
}
