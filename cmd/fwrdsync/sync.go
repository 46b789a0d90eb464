package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/pders01/fwrdsync/internal/config"
	"github.com/pders01/fwrdsync/internal/debuglog"
	"github.com/pders01/fwrdsync/internal/storage"
	"github.com/pders01/fwrdsync/internal/tui"
)

var refreshCmd = &cobra.Command{
	Use:     "refresh",
	Aliases: []string{"sync"},
	Short:   "Run a sync pass",
	Long: `Send pending status changes, fetch subscriptions and articles, and pull
remote status changes. With --watch the pass repeats every
sync.refresh_interval until interrupted.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		watch, _ := cmd.Flags().GetBool("watch")
		force, _ := cmd.Flags().GetBool("force")
		noProgress, _ := cmd.Flags().GetBool("no-progress")

		return withSession(cmd, func(s *session) error {
			if force && !s.setForceRefresh(true) {
				printStatus(cmd, tui.StatusInfo, fmt.Sprintf("--force has no effect on the %s backend", cfg.Backend.Kind))
			}
			showProgress := isTerminal() && !quiet && !noProgress

			if err := refreshOnce(cmd, s, showProgress); err != nil {
				return err
			}
			if !watch {
				return nil
			}

			interval := cfg.Sync.RefreshInterval
			if interval <= 0 {
				interval = 15 * time.Minute
			}
			ticker := time.NewTicker(interval)
			defer ticker.Stop()
			for {
				select {
				case <-cmd.Context().Done():
					return nil
				case <-ticker.C:
					if err := refreshOnce(cmd, s, false); err != nil {
						if errors.Is(err, context.Canceled) {
							return nil
						}
						printStatus(cmd, tui.StatusError, err.Error())
					}
				}
			}
		})
	},
}

func refreshOnce(cmd *cobra.Command, s *session, showProgress bool) error {
	if s.account.Refreshing() {
		printStatus(cmd, tui.StatusWarn, tui.MsgAlreadyRunning)
		return nil
	}
	start := time.Now()
	var err error
	if showProgress {
		err = tui.RunRefresh(cmd.Context(), s.account.Progress(), tui.RefreshOptions{Out: cmd.OutOrStdout()}, s.account.RefreshAll)
	} else {
		err = s.account.RefreshAll(cmd.Context())
	}
	if err != nil {
		return err
	}
	debuglog.WithFields(map[string]any{"elapsed": time.Since(start).String()}).Infof("refresh complete")

	summary, err := refreshSummary(s)
	if err != nil {
		return err
	}
	printStatus(cmd, tui.StatusSuccess, summary)
	return nil
}

func refreshSummary(s *session) (string, error) {
	feeds, err := s.Mirror().FlattenedFeeds()
	if err != nil {
		return "", err
	}
	articles, err := s.store.GetArticles("", 0)
	if err != nil {
		return "", err
	}
	read, err := s.store.ArticleIDsWithStatus(storage.StatusRead, true)
	if err != nil {
		return "", err
	}
	unread := 0
	for _, a := range articles {
		if !read[a.ID] {
			unread++
		}
	}
	pending, err := s.store.PendingCount()
	if err != nil {
		return "", err
	}
	return tui.MsgRefreshSummary(len(feeds), len(articles), unread, pending, s.docCount()), nil
}

var flushCmd = &cobra.Command{
	Use:   "flush",
	Short: "Send pending status changes now",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSession(cmd, func(s *session) error {
			before, err := s.store.PendingCount()
			if err != nil {
				return err
			}
			if before == 0 {
				printStatus(cmd, tui.StatusInfo, tui.MsgNothingPending)
				return nil
			}
			if err := s.account.SendArticleStatus(cmd.Context()); err != nil {
				return err
			}
			after, err := s.store.PendingCount()
			if err != nil {
				return err
			}
			kind := tui.StatusSuccess
			if after > 0 {
				kind = tui.StatusWarn
			}
			printStatus(cmd, kind, tui.MsgFlushed(before, after))
			return nil
		})
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the account summary",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSession(cmd, func(s *session) error {
			st, err := accountStatus(s)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), tui.RenderAccountStatus(st))
			return nil
		})
	},
}

func accountStatus(s *session) (tui.AccountStatus, error) {
	st := tui.AccountStatus{
		AccountID:  s.account.ID(),
		Kind:       string(s.account.Kind()),
		StorePath:  s.store.Path(),
		Threshold:  cfg.Sync.FlushThreshold,
		DocCount:   s.docCount(),
		Progress:   s.account.Progress().Snapshot(),
		Refreshing: s.account.Refreshing(),
	}
	if cfg.Backend.Kind != config.BackendLocal {
		st.Endpoint = cfg.Backend.Endpoint
	}

	folders, err := s.Mirror().Folders()
	if err != nil {
		return st, err
	}
	st.Folders = len(folders)
	feeds, err := s.Mirror().FlattenedFeeds()
	if err != nil {
		return st, err
	}
	st.Feeds = len(feeds)

	articles, err := s.store.GetArticles("", 0)
	if err != nil {
		return st, err
	}
	st.Articles = len(articles)
	read, err := s.store.ArticleIDsWithStatus(storage.StatusRead, true)
	if err != nil {
		return st, err
	}
	starred, err := s.store.ArticleIDsWithStatus(storage.StatusStarred, true)
	if err != nil {
		return st, err
	}
	for _, a := range articles {
		if !read[a.ID] {
			st.Unread++
		}
		if starred[a.ID] {
			st.Starred++
		}
	}

	if st.Pending, err = s.store.PendingCount(); err != nil {
		return st, err
	}
	if st.LastFetch, err = s.store.LastArticleFetch(); err != nil {
		return st, err
	}
	return st, nil
}

func init() {
	rootCmd.AddCommand(refreshCmd, flushCmd, statusCmd)

	refreshCmd.Flags().Bool("watch", false, "keep refreshing every sync.refresh_interval")
	refreshCmd.Flags().Bool("force", false, "ignore cached validators and download every feed in full")
	refreshCmd.Flags().Bool("no-progress", false, "do not draw the progress bar")
}
