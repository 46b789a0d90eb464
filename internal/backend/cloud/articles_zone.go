package cloud

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/pders01/fwrdsync/internal/account"
	"github.com/pders01/fwrdsync/internal/debuglog"
	"github.com/pders01/fwrdsync/internal/storage"
	"github.com/pders01/fwrdsync/internal/syncerr"
)

const (
	ArticlesZoneName = "Articles"

	recordStatus  = "ArticleStatus"
	recordArticle = "Article"

	statusPrefix  = "s|"
	articlePrefix = "a|"

	fieldFeedExternalID = "webFeedExternalID"
	fieldRead           = "read"
	fieldStarred        = "starred"
	fieldTitle          = "title"
	fieldContent        = "contentHTML"
	fieldArticleURL     = "url"
	fieldPublished      = "datePublished"
	fieldUpdated        = "dateModified"
)

func statusRecordID(articleID string) string  { return statusPrefix + articleID }
func articleRecordID(articleID string) string { return articlePrefix + articleID }

func boolField(b bool) string {
	if b {
		return "1"
	}
	return "0"
}

// ArticlesZone holds one status record per article, plus the article
// content for articles first seen by this client.
type ArticlesZone struct {
	*Zone
	mirror    *account.Mirror
	chunkSize int
}

func NewArticlesZone(db Database, mirror *account.Mirror, chunkSize int) *ArticlesZone {
	if chunkSize <= 0 {
		chunkSize = account.DefaultChunkSize
	}
	z := &ArticlesZone{
		Zone:      NewZone(ArticlesZoneName, db, mirror.Store()),
		mirror:    mirror,
		chunkSize: chunkSize,
	}
	z.SetDelegate(&articlesZoneDelegate{mirror: mirror})
	return z
}

// articleUpdate collects the pending rows of one article and the records
// they turn into.
type articleUpdate struct {
	rows   []storage.SyncStatus
	save   []*Record
	delete []string
}

// SendStatus pushes every pending mutation, grouped by article, in chunks
// of chunkSize articles. Rows of a failed chunk return to pending and the
// remaining chunks are still attempted.
func (z *ArticlesZone) SendStatus(ctx context.Context) error {
	store := z.mirror.Store()
	rows, err := store.SelectForProcessing(0)
	if err != nil || len(rows) == 0 {
		return err
	}

	updates, err := z.buildUpdates(rows)
	if err != nil {
		if rerr := store.ResetSelected(rows); rerr != nil {
			err = errors.Join(err, rerr)
		}
		return err
	}
	debuglog.Debugf("cloud: sending %d statuses for %d articles", len(rows), len(updates))

	var errs []error
	chunks := account.Chunk(updates, z.chunkSize)
	for i, chunk := range chunks {
		save, delIDs, selected := flatten(chunk)
		err := z.Save(ctx, save)
		if err == nil {
			err = z.Delete(ctx, delIDs)
		}
		if err == nil {
			if err := store.DeleteSelected(selected); err != nil {
				errs = append(errs, err)
			}
			continue
		}

		errs = append(errs, err)
		fatal := syncerr.IsKind(err, syncerr.ZoneInvalidated) || ctx.Err() != nil
		if fatal {
			// Later chunks are not attempted; return them to pending too.
			for _, rest := range chunks[i+1:] {
				_, _, more := flatten(rest)
				selected = append(selected, more...)
			}
		}
		if rerr := store.ResetSelected(selected); rerr != nil {
			errs = append(errs, rerr)
		}
		if fatal {
			break
		}
	}
	return errors.Join(errs...)
}

func flatten(chunk []*articleUpdate) (save []*Record, del []string, rows []storage.SyncStatus) {
	for _, u := range chunk {
		save = append(save, u.save...)
		del = append(del, u.delete...)
		rows = append(rows, u.rows...)
	}
	return save, del, rows
}

func (z *ArticlesZone) buildUpdates(rows []storage.SyncStatus) ([]*articleUpdate, error) {
	byArticle := make(map[string]*articleUpdate)
	var order []string
	for _, row := range rows {
		u, ok := byArticle[row.ArticleID]
		if !ok {
			u = &articleUpdate{}
			byArticle[row.ArticleID] = u
			order = append(order, row.ArticleID)
		}
		u.rows = append(u.rows, row)
	}

	feedIDs := make(map[string]string)
	updates := make([]*articleUpdate, 0, len(order))
	for _, id := range order {
		u := byArticle[id]
		if err := z.fillUpdate(id, u, feedIDs); err != nil {
			return nil, err
		}
		updates = append(updates, u)
	}
	return updates, nil
}

func (z *ArticlesZone) fillUpdate(articleID string, u *articleUpdate, feedIDs map[string]string) error {
	store := z.mirror.Store()
	var deleted, sendContent bool
	for _, row := range u.rows {
		switch row.Key {
		case storage.StatusDeleted:
			deleted = deleted || row.Flag
		case storage.StatusNew:
			sendContent = true
		}
	}
	if deleted {
		u.delete = []string{statusRecordID(articleID), articleRecordID(articleID)}
		return nil
	}

	st, err := store.GetStatus(articleID)
	if errors.Is(err, storage.ErrNotFound) {
		u.delete = []string{statusRecordID(articleID), articleRecordID(articleID)}
		return nil
	}
	if err != nil {
		return err
	}
	status := NewRecord(recordStatus, statusRecordID(articleID))
	status.Set(fieldRead, boolField(st.Read))
	status.Set(fieldStarred, boolField(st.Starred))
	u.save = append(u.save, status)

	article, err := store.GetArticle(articleID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	feedExternalID, ok := feedIDs[article.FeedID]
	if !ok {
		if f, err := store.GetFeed(article.FeedID); err == nil {
			feedExternalID = f.ExternalID
		}
		feedIDs[article.FeedID] = feedExternalID
	}
	if feedExternalID != "" {
		status.Set(fieldFeedExternalID, feedExternalID)
	}
	if sendContent {
		u.save = append(u.save, articleRecord(article, feedExternalID))
	}
	return nil
}

func articleRecord(a *storage.Article, feedExternalID string) *Record {
	r := NewRecord(recordArticle, articleRecordID(a.ID))
	r.Set(fieldTitle, a.Title)
	r.Set(fieldContent, a.Content)
	r.Set(fieldArticleURL, a.URL)
	r.Set(fieldFeedExternalID, feedExternalID)
	if !a.Published.IsZero() {
		r.Set(fieldPublished, a.Published.UTC().Format(time.RFC3339))
	}
	if !a.Updated.IsZero() {
		r.Set(fieldUpdated, a.Updated.UTC().Format(time.RFC3339))
	}
	r.Refs = []string{statusRecordID(a.ID)}
	return r
}

// DeleteArticles removes the status and article records of one feed.
func (z *ArticlesZone) DeleteArticles(ctx context.Context, feedExternalID string) error {
	statuses, err := z.Query(ctx, Filter{Type: recordStatus, Field: fieldFeedExternalID, Value: feedExternalID})
	if err != nil {
		return err
	}
	ids := make([]string, 0, len(statuses)*2)
	for _, r := range statuses {
		articleID := strings.TrimPrefix(r.ID, statusPrefix)
		ids = append(ids, r.ID, articleRecordID(articleID))
	}
	for _, chunk := range account.Chunk(ids, z.chunkSize) {
		if err := z.Delete(ctx, chunk); err != nil {
			return err
		}
	}
	return nil
}

type articlesZoneDelegate struct {
	mirror *account.Mirror
}

// ApplyChanges copies remote statuses and article content into the mirror.
// Articles with a queued local change keep their local status.
func (d *articlesZoneDelegate) ApplyChanges(_ context.Context, updated []*Record, deleted []string) error {
	store := d.mirror.Store()
	pendingRead, err := store.PendingArticleIDs(storage.StatusRead)
	if err != nil {
		return err
	}
	pendingStarred, err := store.PendingArticleIDs(storage.StatusStarred)
	if err != nil {
		return err
	}

	flags := map[storage.StatusKey]map[bool][]string{
		storage.StatusRead:    {},
		storage.StatusStarred: {},
	}
	feeds := make(map[string]*storage.Feed)
	var articles []*storage.Article
	for _, r := range updated {
		switch r.Type {
		case recordStatus:
			id := strings.TrimPrefix(r.ID, statusPrefix)
			if !pendingRead[id] {
				read := r.Get(fieldRead) == "1"
				flags[storage.StatusRead][read] = append(flags[storage.StatusRead][read], id)
			}
			if !pendingStarred[id] {
				starred := r.Get(fieldStarred) == "1"
				flags[storage.StatusStarred][starred] = append(flags[storage.StatusStarred][starred], id)
			}
		case recordArticle:
			a, err := d.article(r, feeds)
			if err != nil {
				return err
			}
			if a != nil {
				articles = append(articles, a)
			}
		}
	}

	for key, byFlag := range flags {
		for flag, ids := range byFlag {
			if _, err := d.mirror.UpdateStatuses(ids, key, flag); err != nil {
				return err
			}
		}
	}
	if _, err := d.mirror.IngestArticles(articles); err != nil {
		return err
	}

	var gone []string
	for _, id := range deleted {
		if strings.HasPrefix(id, articlePrefix) {
			gone = append(gone, strings.TrimPrefix(id, articlePrefix))
		}
	}
	if len(gone) == 0 {
		return nil
	}
	return store.DeleteArticles(gone)
}

func (d *articlesZoneDelegate) article(r *Record, feeds map[string]*storage.Feed) (*storage.Article, error) {
	feedExternalID := r.Get(fieldFeedExternalID)
	f, ok := feeds[feedExternalID]
	if !ok {
		var err error
		if f, err = d.mirror.FeedByExternalID(feedExternalID); err != nil {
			return nil, err
		}
		feeds[feedExternalID] = f
	}
	if f == nil {
		return nil, nil
	}
	a := &storage.Article{
		ID:      strings.TrimPrefix(r.ID, articlePrefix),
		FeedID:  f.ID,
		Title:   r.Get(fieldTitle),
		Content: r.Get(fieldContent),
		URL:     r.Get(fieldArticleURL),
	}
	a.Published, _ = time.Parse(time.RFC3339, r.Get(fieldPublished))
	a.Updated, _ = time.Parse(time.RFC3339, r.Get(fieldUpdated))
	return a, nil
}

// ZoneWasDeleted keeps feeds and articles, which the account zone still
// describes, and queues every local article for upload so the next send
// repopulates the recreated zone with content and statuses.
func (d *articlesZoneDelegate) ZoneWasDeleted() error {
	store := d.mirror.Store()
	articles, err := store.GetArticles("", 0)
	if err != nil {
		return err
	}
	rows := make([]storage.SyncStatus, 0, len(articles))
	for _, a := range articles {
		rows = append(rows, storage.SyncStatus{ArticleID: a.ID, Key: storage.StatusNew, Flag: true})
	}
	return store.InsertStatuses(rows)
}
