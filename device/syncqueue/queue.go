// Package syncqueue buffers attendance mutations made while the device is
// offline and pushes them to the server in batches when it can.
package syncqueue

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"punchcard.com/punchcard/attendance/core"
	"punchcard.com/punchcard/attendance/model"
	v1 "punchcard.com/punchcard/punchcard/v1"
	"punchcard.com/punchcard/utils"
)

// MaxBatch is the most records the server accepts in one sync request.
const MaxBatch = core.MaxSyncBatch

var ErrFlushInProgress = errors.New("flush already in progress")

// Remote is the server side of the queue. *v1.AttendanceEndpoint satisfies it.
type Remote interface {
	Sync(ctx context.Context, records []v1.SyncRecordDTO) (*v1.SyncResponse, error)
	Recent(ctx context.Context, userID *int64, days int) ([]model.AttendanceRecord, error)
}

type FlushResult struct {
	Sent    int
	Cleared int
	Acks    []v1.SyncAckDTO
}

type Queue struct {
	store    *LocalStore
	remote   Remote
	clock    clockwork.Clock
	logger   *slog.Logger
	flushing atomic.Bool
}

func New(store *LocalStore, remote Remote, clock clockwork.Clock, logger *slog.Logger) *Queue {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Queue{store: store, remote: remote, clock: clock, logger: logger}
}

// Enqueue records rec as the latest local snapshot for its (user, date) and
// flags it for the next flush.
func (q *Queue) Enqueue(ctx context.Context, rec model.AttendanceRecord) (*PendingItem, error) {
	item, err := q.store.Upsert(ctx, rec, uuid.NewString(), q.clock.Now())
	if err != nil {
		return nil, err
	}
	q.logger.Debug("queued record", "user", item.UserID, "date", item.Date, "revision", item.Revision)
	return item, nil
}

func (q *Queue) Pending(ctx context.Context) ([]PendingItem, error) {
	return q.store.Pending(ctx)
}

// Flush sends every pending item, at most MaxBatch per request. It is
// single-flight: a call made while another flush is running returns
// ErrFlushInProgress at once. Each chunk is cleared only after its own
// request succeeds; on error the failing chunk and the ones after it stay
// pending exactly as they were.
func (q *Queue) Flush(ctx context.Context) (FlushResult, error) {
	if !q.flushing.CompareAndSwap(false, true) {
		return FlushResult{}, ErrFlushInProgress
	}
	defer q.flushing.Store(false)

	items, err := q.store.Pending(ctx)
	if err != nil {
		return FlushResult{}, err
	}

	var result FlushResult
	for start := 0; start < len(items); start += MaxBatch {
		chunk := items[start:min(start+MaxBatch, len(items))]
		cleared, acks, err := q.send(ctx, chunk)
		result.Sent += len(chunk)
		result.Cleared += cleared
		result.Acks = append(result.Acks, acks...)
		if err != nil {
			q.logger.Warn("flush failed, will retry", "pending", len(items)-start, "error", err)
			return result, err
		}
	}
	if result.Sent > 0 {
		q.logger.Info("flushed pending records", "sent", result.Sent, "cleared", result.Cleared)
	}
	return result, nil
}

func (q *Queue) send(ctx context.Context, items []PendingItem) (int, []v1.SyncAckDTO, error) {
	batch := make([]v1.SyncRecordDTO, len(items))
	for i := range items {
		batch[i] = items[i].DTO()
	}

	resp, err := q.remote.Sync(ctx, batch)
	if err != nil {
		return 0, nil, err
	}

	messages := map[string]string{}
	for _, ack := range resp.Acks {
		if ack.Message != "" {
			messages[ack.ClientID] = ack.Message
		}
		if ack.Record == nil {
			continue
		}
		if err := q.store.PutCached(ctx, *ack.Record); err != nil {
			q.logger.Warn("failed to cache acknowledged record", "clientId", ack.ClientID, "error", err)
		}
	}

	cleared, err := q.store.MarkSynced(ctx, items, messages, q.clock.Now())
	return cleared, resp.Acks, err
}

// Reconcile replaces the local cache with the server's recent list.
// Pending items are kept and still overlay the cache in View.
func (q *Queue) Reconcile(ctx context.Context, userID *int64, days int) ([]model.AttendanceRecord, error) {
	records, err := q.remote.Recent(ctx, userID, days)
	if err != nil {
		return nil, err
	}
	if err := q.store.ReplaceCache(ctx, records); err != nil {
		return nil, err
	}
	return records, nil
}

// Remember caches a record the server just returned.
func (q *Queue) Remember(ctx context.Context, rec model.AttendanceRecord) error {
	return q.store.PutCached(ctx, rec)
}

// View is the user's records as the device believes them to be: the cache
// with pending items laid over it, newest first.
func (q *Queue) View(ctx context.Context, userID int64) ([]model.AttendanceRecord, error) {
	cached, err := q.store.Cached(ctx, userID)
	if err != nil {
		return nil, err
	}
	items, err := q.store.Items(ctx, userID)
	if err != nil {
		return nil, err
	}

	byDate := make(map[string]model.AttendanceRecord, len(cached)+len(items))
	for _, rec := range cached {
		byDate[rec.Date] = rec
	}
	for i := range items {
		if _, ok := byDate[items[i].Date]; ok && !items[i].PendingSync {
			continue
		}
		byDate[items[i].Date] = items[i].Record()
	}

	view := make([]model.AttendanceRecord, 0, len(byDate))
	for _, rec := range byDate {
		view = append(view, rec)
	}
	sort.Slice(view, func(i, j int) bool { return view[i].Date > view[j].Date })
	return view, nil
}

// Local returns the device's best copy of one day, or nil.
func (q *Queue) Local(ctx context.Context, userID int64, date string) (*model.AttendanceRecord, error) {
	view, err := q.View(ctx, userID)
	if err != nil {
		return nil, err
	}
	return utils.Find(view, func(r model.AttendanceRecord) bool { return r.Date == date }), nil
}

// Prune drops synced items older than retain.
func (q *Queue) Prune(ctx context.Context, retain time.Duration) (int64, error) {
	n, err := q.store.Prune(ctx, q.clock.Now().Add(-retain))
	if err != nil {
		return 0, err
	}
	if n > 0 {
		q.logger.Debug("pruned synced items", "count", n)
	}
	return n, nil
}
