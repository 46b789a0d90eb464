package feed

import (
	"crypto/sha256"
	"fmt"
	"io"
	"regexp"

	"github.com/mmcdole/gofeed"

	"github.com/pders01/fwrdsync/internal/storage"
)

var (
	imgRegex   = regexp.MustCompile(`<img[^>]+src=["']([^"']+)["']`)
	videoRegex = regexp.MustCompile(`<video[^>]+src=["']([^"']+)["']`)
)

// Parsed is a downloaded feed document.
type Parsed struct {
	Title       string
	HomePageURL string
	Articles    []*storage.Article
}

type Parser struct {
	parser *gofeed.Parser
}

func NewParser() *Parser {
	return &Parser{
		parser: gofeed.NewParser(),
	}
}

// Parse reads an RSS, Atom or JSON feed. Articles are stamped with the
// feed's ID and AccountID.
func (p *Parser) Parse(reader io.Reader, feed *storage.Feed) (*Parsed, error) {
	doc, err := p.parser.Parse(reader)
	if err != nil {
		return nil, fmt.Errorf("parsing feed: %w", err)
	}

	parsed := &Parsed{
		Title:       doc.Title,
		HomePageURL: doc.Link,
		Articles:    make([]*storage.Article, 0, len(doc.Items)),
	}
	for _, item := range doc.Items {
		article := &storage.Article{
			ID:          ArticleID(feed.ID, itemKey(item)),
			AccountID:   feed.AccountID,
			FeedID:      feed.ID,
			Title:       item.Title,
			Description: item.Description,
			Content:     getContent(item),
			URL:         item.Link,
			MediaURLs:   extractMediaURLs(item),
		}
		if item.PublishedParsed != nil {
			article.Published = *item.PublishedParsed
		}
		if item.UpdatedParsed != nil {
			article.Updated = *item.UpdatedParsed
		}
		if article.Published.IsZero() {
			article.Published = article.Updated
		}
		parsed.Articles = append(parsed.Articles, article)
	}
	return parsed, nil
}

// itemKey picks the most stable identity an item offers so re-downloads
// map onto the same article.
func itemKey(item *gofeed.Item) string {
	switch {
	case item.GUID != "":
		return item.GUID
	case item.Link != "":
		return item.Link
	default:
		return fmt.Sprintf("%x", sha256.Sum256([]byte(item.Title+"\x00"+item.Description)))
	}
}

// ArticleID derives the local article id from its feed and item key.
func ArticleID(feedID, key string) string {
	return fmt.Sprintf("%s:%s", feedID, key)
}

// GenerateFeedID derives the local feed id from its normalized URL.
func GenerateFeedID(url string) string {
	return fmt.Sprintf("%x", sha256.Sum256([]byte(url)))
}

func getContent(item *gofeed.Item) string {
	if item.Content != "" {
		return item.Content
	}
	return item.Description
}

func extractMediaURLs(item *gofeed.Item) []string {
	var urls []string
	for _, enclosure := range item.Enclosures {
		if enclosure.URL != "" {
			urls = append(urls, enclosure.URL)
		}
	}
	if item.Image != nil && item.Image.URL != "" {
		urls = append(urls, item.Image.URL)
	}

	html := item.Content + " " + item.Description
	for _, re := range []*regexp.Regexp{imgRegex, videoRegex} {
		for _, match := range re.FindAllStringSubmatch(html, -1) {
			urls = append(urls, match[1])
		}
	}
	return uniqueStrings(urls)
}

func uniqueStrings(strs []string) []string {
	seen := make(map[string]bool)
	result := []string{}
	for _, s := range strs {
		if !seen[s] {
			seen[s] = true
			result = append(result, s)
		}
	}
	return result
}
