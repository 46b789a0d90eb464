package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/pders01/fwrdsync/internal/search"
	"github.com/pders01/fwrdsync/internal/tui"
)

var searchCmd = &cobra.Command{
	Use:   "search <query>...",
	Short: "Search feeds and articles",
	Long: `Search titles, descriptions, content and URLs. With database.search_index
set the bleve index answers, otherwise the mirror is scanned.

Examples:
  fwrdsync search generics
  fwrdsync search "error handling" --limit 5
  fwrdsync search context --in 3f2a9c:item-1`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		in, _ := cmd.Flags().GetString("in")
		query := strings.Join(args, " ")
		if strings.TrimSpace(query) == "" {
			return errors.New("empty query")
		}

		return withSession(cmd, func(s *session) error {
			var (
				results []*search.Result
				err     error
			)
			if in != "" {
				ids, rerr := resolveArticles(s.store, []string{in})
				if rerr != nil {
					return rerr
				}
				article, gerr := s.store.GetArticle(ids[0])
				if gerr != nil {
					return gerr
				}
				results, err = s.searcher.SearchInArticle(article, query)
			} else {
				results, err = s.searcher.Search(query, limit)
			}
			if err != nil {
				return fmt.Errorf("searching for %q: %w", query, err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), tui.RenderSearchResults(results, terminalWidth()))
			return nil
		})
	},
}

func init() {
	rootCmd.AddCommand(searchCmd)

	searchCmd.Flags().Int("limit", 20, "maximum number of results")
	searchCmd.Flags().String("in", "", "search inside one article")
}
