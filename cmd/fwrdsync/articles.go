package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/pders01/fwrdsync/internal/storage"
	"github.com/pders01/fwrdsync/internal/tui"
)

var articlesCmd = &cobra.Command{
	Use:   "articles [feed]",
	Short: "List downloaded articles, newest first",
	Long: `List articles of one feed or of every feed.

Examples:
  fwrdsync articles --unread
  fwrdsync articles "Go Blog" --limit 5
  fwrdsync articles --starred`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		unreadOnly, _ := cmd.Flags().GetBool("unread")
		starredOnly, _ := cmd.Flags().GetBool("starred")
		limit, _ := cmd.Flags().GetInt("limit")

		return withSession(cmd, func(s *session) error {
			feedID := ""
			if len(args) == 1 {
				f, err := resolveFeed(s.Mirror(), args[0])
				if err != nil {
					return err
				}
				feedID = f.ID
			}
			articles, err := s.store.GetArticles(feedID, 0)
			if err != nil {
				return err
			}

			rows := make([]tui.ArticleRow, 0, len(articles))
			for _, a := range articles {
				st, err := articleStatus(s.store, a.ID)
				if err != nil {
					return err
				}
				if unreadOnly && st != nil && st.Read {
					continue
				}
				if starredOnly && (st == nil || !st.Starred) {
					continue
				}
				rows = append(rows, tui.ArticleRow{Article: a, Status: st})
				if limit > 0 && len(rows) == limit {
					break
				}
			}
			fmt.Fprintln(cmd.OutOrStdout(), tui.RenderArticleList(rows, terminalWidth(), cfg.UI.Article.MaxDescriptionLength))
			return nil
		})
	},
}

// articleStatus is nil for an article that has no status yet.
func articleStatus(store *storage.Store, id string) (*storage.ArticleStatus, error) {
	st, err := store.GetStatus(id)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	return st, err
}

var markCmd = &cobra.Command{
	Use:   "mark <article>...",
	Short: "Change the read or starred status of articles",
	Long: `Mark articles read, unread, starred or unstarred. Changes are queued and
sent to the backend once enough are pending, or on the next flush or refresh.
Articles are given by id or unique id prefix; --feed marks every article of
a feed instead.

Examples:
  fwrdsync mark 3f2a9c:item-1 --read
  fwrdsync mark --feed "Go Blog" --read
  fwrdsync mark 3f2a9c:item-1 --star`,
	RunE: func(cmd *cobra.Command, args []string) error {
		key, flag, what, err := markFlags(cmd)
		if err != nil {
			return err
		}
		feedRef, _ := cmd.Flags().GetString("feed")
		if len(args) == 0 && feedRef == "" {
			return errors.New("name at least one article or use --feed")
		}

		return withSession(cmd, func(s *session) error {
			ids, err := resolveArticles(s.store, args)
			if err != nil {
				return err
			}
			if feedRef != "" {
				f, err := resolveFeed(s.Mirror(), feedRef)
				if err != nil {
					return err
				}
				articles, err := s.store.GetArticles(f.ID, 0)
				if err != nil {
					return err
				}
				for _, a := range articles {
					ids = append(ids, a.ID)
				}
			}
			changed, err := s.account.MarkArticles(cmd.Context(), ids, key, flag)
			if err != nil {
				return err
			}
			printStatus(cmd, tui.StatusSuccess, tui.MsgMarked(len(changed), len(ids), what))
			return nil
		})
	},
}

// markFlags reads the one status flag the user chose.
func markFlags(cmd *cobra.Command) (storage.StatusKey, bool, string, error) {
	choices := []struct {
		name string
		key  storage.StatusKey
		flag bool
	}{
		{"read", storage.StatusRead, true},
		{"unread", storage.StatusRead, false},
		{"star", storage.StatusStarred, true},
		{"unstar", storage.StatusStarred, false},
	}
	var picked []int
	for i, c := range choices {
		if on, _ := cmd.Flags().GetBool(c.name); on {
			picked = append(picked, i)
		}
	}
	if len(picked) != 1 {
		return "", false, "", errors.New("use exactly one of --read, --unread, --star, --unstar")
	}
	c := choices[picked[0]]
	what := c.name
	switch c.name {
	case "star":
		what = "starred"
	case "unstar":
		what = "unstarred"
	}
	return c.key, c.flag, what, nil
}

var showCmd = &cobra.Command{
	Use:   "show <article>",
	Short: "Render an article and mark it read",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		keepUnread, _ := cmd.Flags().GetBool("keep-unread")

		return withSession(cmd, func(s *session) error {
			ids, err := resolveArticles(s.store, args)
			if err != nil {
				return err
			}
			a, err := s.store.GetArticle(ids[0])
			if err != nil {
				return err
			}
			f, err := s.Mirror().Feed(a.FeedID)
			if err != nil && !errors.Is(err, storage.ErrNotFound) {
				return err
			}
			st, err := articleStatus(s.store, a.ID)
			if err != nil {
				return err
			}

			style := ""
			if !isTerminal() {
				style = "notty"
			}
			out, err := tui.NewArticleRenderer(cfg.UI.Article, style).Render(a, f, st, terminalWidth())
			if err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), out)

			if keepUnread || (st != nil && st.Read) {
				return nil
			}
			_, err = s.account.MarkArticles(cmd.Context(), ids, storage.StatusRead, true)
			return err
		})
	},
}

func init() {
	rootCmd.AddCommand(articlesCmd, markCmd, showCmd)

	articlesCmd.Flags().Bool("unread", false, "only unread articles")
	articlesCmd.Flags().Bool("starred", false, "only starred articles")
	articlesCmd.Flags().Int("limit", 50, "maximum number of articles (0 for all)")

	markCmd.Flags().Bool("read", false, "mark read")
	markCmd.Flags().Bool("unread", false, "mark unread")
	markCmd.Flags().Bool("star", false, "mark starred")
	markCmd.Flags().Bool("unstar", false, "remove the star")
	markCmd.Flags().String("feed", "", "mark every article of this feed")

	showCmd.Flags().Bool("keep-unread", false, "do not mark the article read")
}
