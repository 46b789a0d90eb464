// Package search finds feeds and articles in the mirror.
package search

import "github.com/pders01/fwrdsync/internal/storage"

// Searcher is the query API used by the CLI.
type Searcher interface {
	Search(query string, limit int) ([]*Result, error)
	SearchInArticle(article *storage.Article, query string) ([]*Result, error)
}

// Result is one match. Article is nil for a feed match.
type Result struct {
	Feed      *storage.Feed
	Article   *storage.Article
	IsArticle bool
	Score     float64
	Matches   []Match
}

// Match records where text was found.
type Match struct {
	Field  string // "title", "description", "content", "url"
	Text   string
	Weight float64
}

// DocCounter reports index size, for status output.
type DocCounter interface {
	DocCount() (int, error)
}
