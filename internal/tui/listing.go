package tui

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/pders01/fwrdsync/internal/progress"
	"github.com/pders01/fwrdsync/internal/search"
	"github.com/pders01/fwrdsync/internal/storage"
)

// FeedRow is one feed with its unread count.
type FeedRow struct {
	Feed   *storage.Feed
	Unread int
}

// FolderGroup is a folder and its feeds. A nil Folder is the account root.
type FolderGroup struct {
	Folder *storage.Folder
	Feeds  []FeedRow
}

// BuildFeedTree groups feeds under their folders, root first, each level
// sorted by display name. Empty folders are kept.
func BuildFeedTree(folders []*storage.Folder, feeds []*storage.Feed, unread map[string]int) []FolderGroup {
	byFolder := make(map[string][]FeedRow)
	for _, f := range feeds {
		byFolder[f.FolderID] = append(byFolder[f.FolderID], FeedRow{Feed: f, Unread: unread[f.ID]})
	}
	sortRows := func(rows []FeedRow) []FeedRow {
		sort.Slice(rows, func(i, j int) bool {
			return strings.ToLower(rows[i].Feed.DisplayName()) < strings.ToLower(rows[j].Feed.DisplayName())
		})
		return rows
	}

	sorted := append([]*storage.Folder(nil), folders...)
	sort.Slice(sorted, func(i, j int) bool {
		return strings.ToLower(sorted[i].Name) < strings.ToLower(sorted[j].Name)
	})

	var groups []FolderGroup
	if rows := byFolder[""]; len(rows) > 0 {
		groups = append(groups, FolderGroup{Feeds: sortRows(rows)})
	}
	for _, folder := range sorted {
		groups = append(groups, FolderGroup{Folder: folder, Feeds: sortRows(byFolder[folder.ID])})
	}
	return groups
}

// RenderFeedTree lists folders and feeds with unread counts and ids.
func RenderFeedTree(groups []FolderGroup, width int) string {
	if len(groups) == 0 {
		return MutedStyle.Render("No subscriptions yet. Add one with: " + AppName + " add <url>")
	}
	var b strings.Builder
	for _, g := range groups {
		indent := ""
		if g.Folder != nil {
			unread := 0
			for _, row := range g.Feeds {
				unread += row.Unread
			}
			fmt.Fprintf(&b, "%s %s\n", FolderStyle.Render("▸ "+g.Folder.Name), countBadge(unread))
			indent = "  "
		}
		for _, row := range g.Feeds {
			name := truncateEnd(row.Feed.DisplayName(), width-len(indent)-24)
			fmt.Fprintf(&b, "%s%s %s %s\n", indent, FeedTitleStyle.Render(name), countBadge(row.Unread),
				MutedStyle.Render(shortID(row.Feed.ID)))
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

func countBadge(n int) string {
	if n == 0 {
		return ReadItemStyle.Render("(0)")
	}
	return UnreadItemStyle.Render(fmt.Sprintf("(%d)", n))
}

// shortID keeps ids readable in listings; lookups accept any unique prefix.
func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}

// ArticleRow is one article with its status, which may be missing.
type ArticleRow struct {
	Article *storage.Article
	Status  *storage.ArticleStatus
}

// RenderArticleList renders one line per article with a muted description.
func RenderArticleList(rows []ArticleRow, width, descLen int) string {
	if len(rows) == 0 {
		return MutedStyle.Render("No articles")
	}
	var b strings.Builder
	for _, row := range rows {
		a := row.Article
		read := row.Status != nil && row.Status.Read
		starred := row.Status != nil && row.Status.Starred

		marker := "●"
		style := UnreadItemStyle
		if read {
			marker = " "
			style = ReadItemStyle
		}
		star := " "
		if starred {
			star = StarStyle.Render("★")
		}
		title := truncateEnd(a.Title, width-20)
		fmt.Fprintf(&b, "%s%s %s %s\n", style.Render(marker), star, style.Render(title), TimeStyle.Render(formatTime(a.Published)))

		desc := truncateEnd(strings.Join(strings.Fields(a.Description), " "), descLen)
		line := MutedStyle.Render("   " + a.ID)
		if desc != "" {
			line += MutedStyle.Render(" • " + desc)
		}
		b.WriteString(line + "\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Local().Format("Jan 2, 15:04")
}

// RenderSearchResults renders feeds and articles with their best snippet.
func RenderSearchResults(results []*search.Result, width int) string {
	if len(results) == 0 {
		return MutedStyle.Render(MsgNoResults)
	}
	var b strings.Builder
	b.WriteString(HeaderStyle.Render(MsgResultsCount(len(results))) + "\n")
	for _, r := range results {
		if r.IsArticle && r.Article != nil {
			feedName := "Unknown Feed"
			if r.Feed != nil {
				feedName = r.Feed.DisplayName()
			}
			fmt.Fprintf(&b, "📄 %s %s\n", UnreadItemStyle.Render(truncateEnd(r.Article.Title, width-10)),
				TimeStyle.Render(formatTime(r.Article.Published)))
			b.WriteString(MutedStyle.Render("   "+r.Article.ID+" • from "+truncateMiddle(feedName, 40)) + "\n")
		} else if r.Feed != nil {
			fmt.Fprintf(&b, "📁 %s\n", FeedTitleStyle.Bold(true).Render(truncateEnd(r.Feed.DisplayName(), width-10)))
			b.WriteString(MutedStyle.Render("   "+truncateMiddle(r.Feed.URL, width-4)) + "\n")
		}
		if len(r.Matches) > 0 && r.Matches[0].Text != "" {
			b.WriteString(MutedStyle.Italic(true).Render("   “"+truncateEnd(r.Matches[0].Text, width-8)+"”") + "\n")
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

// AccountStatus summarizes one account for the status command.
type AccountStatus struct {
	AccountID  string
	Kind       string
	Endpoint   string
	Folders    int
	Feeds      int
	Articles   int
	Unread     int
	Starred    int
	Pending    int
	Threshold  int
	LastFetch  time.Time
	DocCount   int
	Progress   progress.Snapshot
	StorePath  string
	Refreshing bool
}

// RenderAccountStatus renders a key/value table.
func RenderAccountStatus(s AccountStatus) string {
	lastFetch := "never"
	if !s.LastFetch.IsZero() {
		lastFetch = s.LastFetch.Local().Format(time.RFC1123)
	}
	rows := [][2]string{
		{"account", s.AccountID},
		{"backend", s.Kind},
	}
	if s.Endpoint != "" {
		rows = append(rows, [2]string{"endpoint", truncateMiddle(s.Endpoint, 60)})
	}
	rows = append(rows,
		[2]string{"database", s.StorePath},
		[2]string{"folders", fmt.Sprint(s.Folders)},
		[2]string{"feeds", fmt.Sprint(s.Feeds)},
		[2]string{"articles", fmt.Sprintf("%d (%d unread, %d starred)", s.Articles, s.Unread, s.Starred)},
		[2]string{"pending changes", fmt.Sprintf("%d (flush above %d)", s.Pending, s.Threshold)},
		[2]string{"last refresh", lastFetch},
	)
	if s.DocCount >= 0 {
		rows = append(rows, [2]string{"search index", fmt.Sprintf("%d docs", s.DocCount)})
	}
	if s.Refreshing {
		rows = append(rows, [2]string{"refreshing", "yes"})
	}
	if !s.Progress.Complete() {
		rows = append(rows, [2]string{"in progress", fmt.Sprintf("%d of %d tasks left", s.Progress.Remaining, s.Progress.Total)})
	}

	lines := make([]string, 0, len(rows)+1)
	lines = append(lines, HeaderStyle.Render(AppName+" status"))
	for _, r := range rows {
		lines = append(lines, KeyStyle.Render(r[0])+lipgloss.NewStyle().Foreground(TextColor).Render(r[1]))
	}
	return lipgloss.JoinVertical(lipgloss.Left, lines...)
}

// truncateEnd shortens s to at most limit runes, ending in an ellipsis.
func truncateEnd(s string, limit int) string {
	if limit <= 0 {
		return ""
	}
	r := []rune(s)
	if len(r) <= limit {
		return s
	}
	if limit == 1 {
		return "…"
	}
	return string(r[:limit-1]) + "…"
}

// truncateMiddle keeps both ends of s, which matters for URLs and paths.
func truncateMiddle(s string, limit int) string {
	if limit <= 0 {
		return ""
	}
	r := []rune(s)
	if len(r) <= limit {
		return s
	}
	if limit == 1 {
		return "…"
	}
	keep := limit - 1
	left := keep / 2
	right := keep - left
	return string(r[:left]) + "…" + string(r[len(r)-right:])
}
