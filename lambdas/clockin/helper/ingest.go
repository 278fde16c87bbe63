package helper

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"punchcard.com/punchcard/attendance/core"
	"punchcard.com/punchcard/security"
	"punchcard.com/punchcard/utils"
)

// SystemIdentity is the actor recorded on imported punches.
var SystemIdentity = security.Identity{UserID: -1, UniqueName: "clockin-import", Roles: []string{security.RoleAdmin}}

type Syncer interface {
	SyncBatch(ctx context.Context, actor security.Identity, items []core.SyncItem) ([]core.SyncAck, error)
}

type Stats struct {
	Rows    int
	Days    int
	Skipped int
	Acks    map[core.SyncStatus]int
}

// Ingest parses a kiosk export and pushes it through the batch sync in
// chunks of core.MaxSyncBatch. A chunk that fails stops the import.
func Ingest(ctx context.Context, r io.Reader, loc *time.Location, syncer Syncer, logger *slog.Logger) (Stats, error) {
	stats := Stats{Acks: map[core.SyncStatus]int{}}

	records, err := ParseClockInCSV(r, loc)
	if err != nil {
		return stats, err
	}
	stats.Rows = len(records)

	groups := GroupRecords(records)
	stats.Days = len(groups)

	items := make([]core.SyncItem, 0, len(groups))
	for _, group := range groups {
		item, err := ToSyncItem(group)
		if err != nil {
			logger.Warn("skipping day", "user", group.UserID, "date", group.Date, "error", err)
			stats.Skipped++
			continue
		}
		items = append(items, item)
	}

	for start := 0; start < len(items); start += core.MaxSyncBatch {
		end := min(start+core.MaxSyncBatch, len(items))
		acks, err := syncer.SyncBatch(ctx, SystemIdentity, items[start:end])
		if err != nil {
			return stats, fmt.Errorf("sync rows %d-%d: %w", start, end, err)
		}
		for _, ack := range acks {
			stats.Acks[ack.Status]++
		}
		for _, ack := range utils.Filter(acks, func(a core.SyncAck) bool { return a.Status == core.SyncRejected }) {
			logger.Warn("row rejected", "clientId", ack.ClientID, "reason", ack.Message)
		}
	}
	return stats, nil
}
