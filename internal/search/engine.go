package search

import (
	"math"
	"sort"
	"strings"
	"time"
	"unicode"

	"github.com/pders01/fwrdsync/internal/storage"
)

// articlesPerFeed bounds the articles scanned per feed.
const articlesPerFeed = 200

// Engine scans the store on every query. It needs no index and is used when
// none is configured.
type Engine struct {
	store *storage.Store
	now   func() time.Time
}

var _ Searcher = (*Engine)(nil)

func NewEngine(store *storage.Store) *Engine {
	return &Engine{store: store, now: time.Now}
}

func (e *Engine) Search(query string, limit int) ([]*Result, error) {
	if len(strings.TrimSpace(query)) < 2 {
		return []*Result{}, nil
	}
	terms := tokenize(query)
	if len(terms) == 0 {
		return []*Result{}, nil
	}

	feeds, err := e.store.AllFeeds()
	if err != nil {
		return nil, err
	}

	var results []*Result
	for _, feed := range feeds {
		if r := e.searchFeed(feed, terms); r != nil {
			results = append(results, r)
		}
		articles, err := e.store.GetArticles(feed.ID, articlesPerFeed)
		if err != nil {
			continue
		}
		for _, article := range articles {
			if r := e.searchArticle(feed, article, terms); r != nil {
				results = append(results, r)
			}
		}
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})
	if limit > 0 && len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

// SearchInArticle matches query against one article only.
func (e *Engine) SearchInArticle(article *storage.Article, query string) ([]*Result, error) {
	return searchInArticle(e, article, query), nil
}

func searchInArticle(e *Engine, article *storage.Article, query string) []*Result {
	if len(strings.TrimSpace(query)) < 2 || article == nil {
		return []*Result{}
	}
	terms := tokenize(query)
	if len(terms) == 0 {
		return []*Result{}
	}
	feed := &storage.Feed{ID: article.FeedID}
	if r := e.searchArticle(feed, article, terms); r != nil {
		return []*Result{r}
	}
	return []*Result{}
}

func (e *Engine) searchFeed(feed *storage.Feed, terms []string) *Result {
	var matches []Match
	var total float64

	if s := scoreField(feed.DisplayName(), terms, 3.0); s > 0 {
		matches = append(matches, Match{Field: "title", Text: feed.DisplayName(), Weight: s})
		total += s
	}
	if s := scoreField(feed.URL, terms, 0.5); s > 0 {
		matches = append(matches, Match{Field: "url", Text: feed.URL, Weight: s})
		total += s
	}
	if total == 0 {
		return nil
	}
	return &Result{Feed: feed, Score: total, Matches: matches}
}

func (e *Engine) searchArticle(feed *storage.Feed, article *storage.Article, terms []string) *Result {
	var matches []Match
	var total float64

	if s := scoreField(article.Title, terms, 4.0); s > 0 {
		matches = append(matches, Match{Field: "title", Text: article.Title, Weight: s})
		total += s
	}
	if s := scoreField(article.Description, terms, 2.0); s > 0 {
		matches = append(matches, Match{Field: "description", Text: truncate(article.Description, 150), Weight: s})
		total += s
	}
	if s := scoreField(article.Content, terms, 1.0); s > 0 {
		matches = append(matches, Match{Field: "content", Text: bestSnippet(article.Content, terms, 200), Weight: s})
		total += s
	}
	if total == 0 {
		return nil
	}
	total *= 1.0 + recencyBoost(article.Published, e.now())
	return &Result{Feed: feed, Article: article, IsArticle: true, Score: total, Matches: matches}
}

// scoreField rewards substring, whole-word and prefix matches, and boosts
// fields matching several terms.
func scoreField(text string, terms []string, weight float64) float64 {
	if text == "" {
		return 0
	}
	lower := strings.ToLower(text)
	words := tokenize(text)
	if len(words) == 0 {
		return 0
	}

	var score float64
	matched := 0
	for _, term := range terms {
		if strings.Contains(lower, term) {
			score += 2.0
			matched++
		}
		for _, word := range words {
			switch {
			case word == term:
				score += 1.5
				matched++
			case strings.HasPrefix(word, term), strings.HasSuffix(word, term):
				score += 1.0
				matched++
			case strings.Contains(word, term):
				score += 0.5
				matched++
			}
		}
	}
	if len(terms) > 1 && matched > 1 {
		score *= 1.0 + float64(matched)/float64(len(terms))
	}
	tf := float64(matched) / float64(len(words))
	return score * (1.0 + math.Log(1.0+tf)) * weight
}

func bestSnippet(text string, terms []string, maxLength int) string {
	words := strings.Fields(text)
	window := maxLength / 8
	if window >= len(words) {
		return truncate(text, maxLength)
	}

	best, bestStart := 0, 0
	for i := 0; i+window <= len(words); i++ {
		chunk := strings.ToLower(strings.Join(words[i:i+window], " "))
		score := 0
		for _, term := range terms {
			if strings.Contains(chunk, term) {
				score++
			}
		}
		if score > best {
			best, bestStart = score, i
		}
	}
	return truncate(strings.Join(words[bestStart:bestStart+window], " "), maxLength)
}

// tokenize lowercases text and splits it into terms of two or more letters
// or digits.
func tokenize(text string) []string {
	var terms []string
	var current strings.Builder
	flush := func() {
		if current.Len() > 1 {
			terms = append(terms, current.String())
		}
		current.Reset()
	}
	for _, r := range text {
		if unicode.IsLetter(r) || unicode.IsNumber(r) {
			current.WriteRune(unicode.ToLower(r))
			continue
		}
		flush()
	}
	flush()
	return terms
}

func truncate(text string, maxLen int) string {
	if len(text) <= maxLen {
		return text
	}
	return text[:maxLen-1] + "…"
}

// recencyBoost is 0.1 for articles of the past week, falling linearly to
// 0 at thirty days.
func recencyBoost(published, now time.Time) float64 {
	if published.IsZero() {
		return 0
	}
	age := now.Sub(published)
	switch {
	case age < 7*24*time.Hour:
		return 0.1
	case age > 30*24*time.Hour:
		return 0
	default:
		return 0.1 * float64(30*24*time.Hour-age) / float64(23*24*time.Hour)
	}
}
