package account

import (
	"context"
	"time"

	"github.com/pders01/fwrdsync/internal/debuglog"
	"github.com/pders01/fwrdsync/internal/storage"
)

// Flusher queues status changes for the remote and pushes them once the
// queue grows past the threshold.
type Flusher struct {
	mirror    *Mirror
	threshold int
	send      func(ctx context.Context) error
}

func NewFlusher(mirror *Mirror, threshold int, send func(ctx context.Context) error) *Flusher {
	if threshold <= 0 {
		threshold = DefaultFlushThreshold
	}
	return &Flusher{mirror: mirror, threshold: threshold, send: send}
}

func (f *Flusher) Threshold() int { return f.threshold }

// MarkArticles applies the status locally, queues a mutation for every
// article that changed and flushes when the pending count exceeds the
// threshold. A failed flush is logged; the mutations stay queued.
func (f *Flusher) MarkArticles(ctx context.Context, ids []string, key storage.StatusKey, flag bool) ([]string, error) {
	changed, err := f.mirror.UpdateStatuses(ids, key, flag)
	if err != nil {
		return nil, err
	}
	if err := f.Enqueue(changed, key, flag); err != nil {
		return changed, err
	}
	f.FlushIfNeeded(ctx)
	return changed, nil
}

// Enqueue writes the mutations durably.
func (f *Flusher) Enqueue(ids []string, key storage.StatusKey, flag bool) error {
	if len(ids) == 0 {
		return nil
	}
	now := time.Now()
	statuses := make([]storage.SyncStatus, 0, len(ids))
	for _, id := range ids {
		statuses = append(statuses, storage.SyncStatus{ArticleID: id, Key: key, Flag: flag, EnqueuedAt: now})
	}
	return f.mirror.Store().InsertStatuses(statuses)
}

// FlushIfNeeded pushes the queue when it holds more than the threshold.
func (f *Flusher) FlushIfNeeded(ctx context.Context) {
	count, err := f.mirror.Store().PendingCount()
	if err != nil {
		debuglog.Warnf("counting pending statuses: %v", err)
		return
	}
	if count <= f.threshold {
		return
	}
	debuglog.Infof("%d pending statuses over threshold %d, flushing", count, f.threshold)
	if err := f.send(ctx); err != nil {
		debuglog.Warnf("flushing statuses: %v", err)
	}
}
