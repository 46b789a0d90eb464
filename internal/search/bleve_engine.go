package search

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/keyword"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/standard"
	"github.com/blevesearch/bleve/v2/mapping"
	bleveQuery "github.com/blevesearch/bleve/v2/search/query"

	"github.com/pders01/fwrdsync/internal/account"
	"github.com/pders01/fwrdsync/internal/debuglog"
	"github.com/pders01/fwrdsync/internal/storage"
)

const deleteBatchSize = 1000

// Index is a persistent bleve index over the mirror. Registered as a mirror
// listener it follows every ingest and feed deletion.
type Index struct {
	store *storage.Store
	idx   bleve.Index
	scan  *Engine
}

var (
	_ Searcher         = (*Index)(nil)
	_ account.Listener = (*Index)(nil)
	_ DocCounter       = (*Index)(nil)
)

// OpenIndex opens or creates the index at indexPath. A new index is filled
// from the store.
func OpenIndex(store *storage.Store, indexPath string) (*Index, error) {
	if err := os.MkdirAll(filepath.Dir(indexPath), 0o755); err != nil {
		return nil, fmt.Errorf("creating index directory: %w", err)
	}

	created := false
	idx, err := bleve.Open(indexPath)
	if err != nil {
		idx, err = bleve.New(indexPath, buildIndexMapping())
		if err != nil {
			return nil, fmt.Errorf("creating index %s: %w", indexPath, err)
		}
		created = true
	}

	ix := &Index{store: store, idx: idx, scan: NewEngine(store)}
	if created {
		if err := ix.Reindex(); err != nil {
			idx.Close()
			return nil, err
		}
	}
	return ix, nil
}

func (ix *Index) Close() error { return ix.idx.Close() }

func buildIndexMapping() mapping.IndexMapping {
	im := bleve.NewIndexMapping()
	im.DefaultAnalyzer = standard.Name
	dm := bleve.NewDocumentMapping()

	title := bleve.NewTextFieldMapping()
	title.Store = true
	title.IncludeTermVectors = true

	desc := bleve.NewTextFieldMapping()
	desc.Store = true

	content := bleve.NewTextFieldMapping()
	content.Store = false

	url := bleve.NewTextFieldMapping()
	url.Store = true

	// Exact ids so deletions can select every article of a feed.
	feedID := bleve.NewTextFieldMapping()
	feedID.Analyzer = keyword.Name
	feedID.Store = true

	dm.AddFieldMappingsAt("title", title)
	dm.AddFieldMappingsAt("description", desc)
	dm.AddFieldMappingsAt("content", content)
	dm.AddFieldMappingsAt("url", url)
	dm.AddFieldMappingsAt("feed_id", feedID)

	im.DefaultMapping = dm
	return im
}

func feedDoc(f *storage.Feed) map[string]any {
	return map[string]any{
		"type":    "feed",
		"feed_id": f.ID,
		"title":   f.DisplayName(),
		"url":     f.URL,
	}
}

func articleDoc(a *storage.Article) map[string]any {
	return map[string]any{
		"type":        "article",
		"feed_id":     a.FeedID,
		"title":       a.Title,
		"description": a.Description,
		"content":     a.Content,
		"url":         a.URL,
	}
}

// Reindex indexes every feed and article in the store.
func (ix *Index) Reindex() error {
	feeds, err := ix.store.AllFeeds()
	if err != nil {
		return err
	}
	batch := ix.idx.NewBatch()
	for _, f := range feeds {
		if err := batch.Index(docIDForFeed(f.ID), feedDoc(f)); err != nil {
			return err
		}
		articles, err := ix.store.GetArticles(f.ID, 0)
		if err != nil {
			return err
		}
		for _, a := range articles {
			if err := batch.Index(docIDForArticle(a.ID), articleDoc(a)); err != nil {
				return err
			}
		}
	}
	return ix.idx.Batch(batch)
}

// Search ORs per-term match and prefix queries, boosting title over
// description over content over url.
func (ix *Index) Search(query string, limit int) ([]*Result, error) {
	if len(strings.TrimSpace(query)) < 2 {
		return []*Result{}, nil
	}
	var qs []bleveQuery.Query
	for _, tok := range tokenize(query) {
		for _, f := range []struct {
			name         string
			match, prefx float64
		}{
			{"title", 4.0, 3.5},
			{"description", 2.0, 1.8},
			{"content", 1.0, 0.8},
			{"url", 0.5, 0.3},
		} {
			mq := bleve.NewMatchQuery(tok)
			mq.SetField(f.name)
			mq.SetBoost(f.match)
			pq := bleve.NewPrefixQuery(tok)
			pq.SetField(f.name)
			pq.SetBoost(f.prefx)
			qs = append(qs, mq, pq)
		}
	}
	if len(qs) == 0 {
		return []*Result{}, nil
	}
	if limit <= 0 {
		limit = 50
	}

	req := bleve.NewSearchRequestOptions(bleve.NewDisjunctionQuery(qs...), limit, 0, false)
	req.Fields = []string{"title", "description", "feed_id", "url"}
	res, err := ix.idx.Search(req)
	if err != nil {
		return nil, err
	}

	out := make([]*Result, 0, len(res.Hits))
	for _, h := range res.Hits {
		str := func(field string) string {
			s, _ := h.Fields[field].(string)
			return s
		}
		r := &Result{Score: h.Score}
		switch {
		case strings.HasPrefix(h.ID, "feed:"):
			r.Feed = &storage.Feed{ID: strings.TrimPrefix(h.ID, "feed:"), Name: str("title"), URL: str("url")}
		case strings.HasPrefix(h.ID, "article:"):
			r.IsArticle = true
			r.Article = &storage.Article{
				ID:          strings.TrimPrefix(h.ID, "article:"),
				FeedID:      str("feed_id"),
				Title:       str("title"),
				Description: str("description"),
				URL:         str("url"),
			}
			if f, err := ix.store.GetFeed(r.Article.FeedID); err == nil {
				r.Feed = f
			}
		default:
			continue
		}
		out = append(out, r)
	}
	return out, nil
}

func (ix *Index) SearchInArticle(article *storage.Article, query string) ([]*Result, error) {
	return searchInArticle(ix.scan, article, query), nil
}

// OnDataUpdated indexes the feed and the changed articles.
func (ix *Index) OnDataUpdated(feed *storage.Feed, articles []*storage.Article) {
	batch := ix.idx.NewBatch()
	if feed != nil {
		_ = batch.Index(docIDForFeed(feed.ID), feedDoc(feed))
	}
	for _, a := range articles {
		_ = batch.Index(docIDForArticle(a.ID), articleDoc(a))
	}
	if err := ix.idx.Batch(batch); err != nil {
		debuglog.Warnf("search: indexing %d articles: %v", len(articles), err)
	}
}

// OnFeedDeleted removes the feed document and every article of the feed.
func (ix *Index) OnFeedDeleted(feedID string) {
	batch := ix.idx.NewBatch()
	batch.Delete(docIDForFeed(feedID))

	tq := bleve.NewTermQuery(feedID)
	tq.SetField("feed_id")
	for from := 0; ; from += deleteBatchSize {
		req := bleve.NewSearchRequestOptions(tq, deleteBatchSize, from, false)
		res, err := ix.idx.Search(req)
		if err != nil {
			debuglog.Warnf("search: finding articles of %s: %v", feedID, err)
			break
		}
		for _, h := range res.Hits {
			batch.Delete(h.ID)
		}
		if len(res.Hits) < deleteBatchSize {
			break
		}
	}
	if err := ix.idx.Batch(batch); err != nil {
		debuglog.Warnf("search: removing feed %s: %v", feedID, err)
	}
}

func (ix *Index) DocCount() (int, error) {
	n, err := ix.idx.DocCount()
	return int(n), err
}

func docIDForFeed(feedID string) string   { return "feed:" + feedID }
func docIDForArticle(artID string) string { return "article:" + artID }
