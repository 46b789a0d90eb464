package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/pders01/fwrdsync/internal/debuglog"
	"github.com/pders01/fwrdsync/internal/discover"
	"github.com/pders01/fwrdsync/internal/storage"
	"github.com/pders01/fwrdsync/internal/tui"
)

var (
	addName       string
	addFolder     string
	addNoDiscover bool
)

var addCmd = &cobra.Command{
	Use:   "add <url>",
	Short: "Subscribe to a feed",
	Long: `Subscribe to a feed and download its articles.

Examples:
  fwrdsync add https://go.dev/blog/feed.atom
  fwrdsync add example.com/rss --name "Example" --folder News
  fwrdsync add https://www.reddit.com/r/golang

Known sites are rewritten to their feed, and an HTML page is searched for
the feed it links to, unless --no-discover is given.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSession(cmd, func(s *session) error {
			container, err := resolveContainer(s.Mirror(), addFolder)
			if err != nil {
				return err
			}
			feedURL, name, err := discoverFeed(cmd, s, args[0])
			if err != nil {
				return err
			}
			f, err := s.account.CreateFeed(cmd.Context(), feedURL, name, container)
			if err != nil {
				return err
			}
			articles, err := s.store.GetArticles(f.ID, 0)
			if err != nil {
				return err
			}
			printStatus(cmd, tui.StatusSuccess, tui.MsgAddedFeed(f.DisplayName(), len(articles)))
			fmt.Fprintln(cmd.OutOrStdout(), tui.MutedStyle.Render("id "+f.ID))
			return nil
		})
	},
}

// discoverFeed validates input and resolves it to a feed URL and a
// suggested name.
func discoverFeed(cmd *cobra.Command, s *session, input string) (string, string, error) {
	normalized, err := s.validator.ValidateAndNormalize(input)
	if err != nil {
		return "", "", err
	}
	if addNoDiscover {
		return normalized, addName, nil
	}
	res, err := discover.New(newTransport(s.cfg)).Discover(cmd.Context(), normalized)
	if err != nil {
		return "", "", err
	}
	name := addName
	if name == "" {
		name = res.Title
	}
	if res.FeedURL != normalized {
		debuglog.WithFields(map[string]any{"input": normalized, "feed": res.FeedURL, "via": res.Resolver}).
			Infof("discovered feed")
		printStatus(cmd, tui.StatusInfo, "Using feed "+res.FeedURL)
	}
	return res.FeedURL, name, nil
}

var rmCmd = &cobra.Command{
	Use:     "rm <feed>",
	Aliases: []string{"unsubscribe"},
	Short:   "Unsubscribe from a feed",
	Long:    `Remove a feed, its articles and statuses. <feed> is an id, id prefix, URL or name.`,
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSession(cmd, func(s *session) error {
			f, err := resolveFeed(s.Mirror(), args[0])
			if err != nil {
				return err
			}
			if err := s.account.RemoveFeed(cmd.Context(), f, f.FolderID); err != nil {
				return err
			}
			printStatus(cmd, tui.StatusSuccess, tui.MsgFeedRemoved)
			return nil
		})
	},
}

var mvCmd = &cobra.Command{
	Use:   "mv <feed> <folder>",
	Short: "Move a feed to another folder",
	Long:  `Move a feed between folders. Use "/" as <folder> for the account root.`,
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSession(cmd, func(s *session) error {
			f, err := resolveFeed(s.Mirror(), args[0])
			if err != nil {
				return err
			}
			to, err := resolveContainer(s.Mirror(), args[1])
			if err != nil {
				return err
			}
			if err := s.account.MoveFeed(cmd.Context(), f, f.FolderID, to); err != nil {
				return err
			}
			printStatus(cmd, tui.StatusSuccess, tui.MsgFeedMoved)
			return nil
		})
	},
}

var renameCmd = &cobra.Command{
	Use:   "rename <feed> <name>",
	Short: "Rename a feed",
	Long:  `Set the feed's display name. An empty name restores the feed's own title.`,
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSession(cmd, func(s *session) error {
			f, err := resolveFeed(s.Mirror(), args[0])
			if err != nil {
				return err
			}
			if err := s.account.RenameFeed(cmd.Context(), f, strings.Join(args[1:], " ")); err != nil {
				return err
			}
			printStatus(cmd, tui.StatusSuccess, tui.MsgFeedRenamed)
			return nil
		})
	},
}

var lsCmd = &cobra.Command{
	Use:   "ls",
	Short: "List folders and feeds with unread counts",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSession(cmd, func(s *session) error {
			folders, err := s.Mirror().Folders()
			if err != nil {
				return err
			}
			feeds, err := s.Mirror().FlattenedFeeds()
			if err != nil {
				return err
			}
			unread, err := unreadByFeed(s)
			if err != nil {
				return err
			}
			tree := tui.BuildFeedTree(folders, feeds, unread)
			fmt.Fprintln(cmd.OutOrStdout(), tui.RenderFeedTree(tree, terminalWidth()))
			return nil
		})
	},
}

// unreadByFeed counts downloaded articles without a read status.
func unreadByFeed(s *session) (map[string]int, error) {
	articles, err := s.store.GetArticles("", 0)
	if err != nil {
		return nil, err
	}
	read, err := s.store.ArticleIDsWithStatus(storage.StatusRead, true)
	if err != nil {
		return nil, err
	}
	counts := make(map[string]int)
	for _, a := range articles {
		if !read[a.ID] {
			counts[a.FeedID]++
		}
	}
	return counts, nil
}

func init() {
	rootCmd.AddCommand(addCmd, rmCmd, mvCmd, renameCmd, lsCmd)

	addCmd.Flags().StringVar(&addName, "name", "", "display name instead of the feed's title")
	addCmd.Flags().StringVar(&addFolder, "folder", "", "folder to add the feed to (default: account root)")
	addCmd.Flags().BoolVar(&addNoDiscover, "no-discover", false, "subscribe to the address exactly as given")
}
