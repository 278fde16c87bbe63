package syncqueue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"punchcard.com/punchcard/attendance/model"
	dbcore "punchcard.com/punchcard/core"
	v1 "punchcard.com/punchcard/punchcard/v1"
)

// PendingItem is the device-side copy of one (user, date) record. Revision
// increases on every local mutation so a flush only clears the snapshot it
// actually sent.
type PendingItem struct {
	LocalID    string           `gorm:"primaryKey;column:local_id;type:varchar(36)"`
	UserID     int64            `gorm:"column:user_id;not null;uniqueIndex:idx_pending_user_date"`
	Date       string           `gorm:"column:date;type:varchar(10);not null;uniqueIndex:idx_pending_user_date"`
	ClockIn    model.TimeOfDay  `gorm:"column:clock_in;not null"`
	ClockOut   *model.TimeOfDay `gorm:"column:clock_out"`
	BreakStart *model.TimeOfDay `gorm:"column:break_start"`
	BreakEnd   *model.TimeOfDay `gorm:"column:break_end"`
	TotalHours float64          `gorm:"column:total_hours;not null"`
	Method     model.Method     `gorm:"column:method;type:varchar(20);not null"`
	ShiftID    *string          `gorm:"column:shift_id;type:varchar(64)"`

	PendingSync bool       `gorm:"column:pending_sync;not null;index"`
	Revision    int64      `gorm:"column:revision;not null"`
	QueuedAt    time.Time  `gorm:"column:queued_at;not null"`
	SyncedAt    *time.Time `gorm:"column:synced_at"`
	LastError   string     `gorm:"column:last_error"`
}

func (PendingItem) TableName() string {
	return "pending_items"
}

// Record is the optimistic local view of the item.
func (p *PendingItem) Record() model.AttendanceRecord {
	return model.AttendanceRecord{
		ID:         p.LocalID,
		UserID:     p.UserID,
		Date:       p.Date,
		ClockIn:    p.ClockIn,
		ClockOut:   p.ClockOut,
		BreakStart: p.BreakStart,
		BreakEnd:   p.BreakEnd,
		TotalHours: p.TotalHours,
		Method:     p.Method,
		Approved:   true,
		ShiftID:    p.ShiftID,
		CreatedAt:  p.QueuedAt,
		UpdatedAt:  p.QueuedAt,
	}
}

// DTO strips the bookkeeping fields.
func (p *PendingItem) DTO() v1.SyncRecordDTO {
	return v1.SyncRecordDTO{
		ClientID:   p.LocalID,
		UserID:     p.UserID,
		Date:       p.Date,
		ClockIn:    p.ClockIn,
		ClockOut:   p.ClockOut,
		BreakStart: p.BreakStart,
		BreakEnd:   p.BreakEnd,
		Method:     p.Method,
		ShiftID:    p.ShiftID,
	}
}

func (p *PendingItem) apply(rec model.AttendanceRecord) {
	p.UserID = rec.UserID
	p.Date = rec.Date
	p.ClockIn = rec.ClockIn
	p.ClockOut = rec.ClockOut
	p.BreakStart = rec.BreakStart
	p.BreakEnd = rec.BreakEnd
	p.TotalHours = rec.TotalHours
	p.Method = rec.Method
	p.ShiftID = rec.ShiftID
}

// CachedRecord is the last server-side list the device saw.
type CachedRecord struct {
	model.AttendanceRecord `gorm:"embedded"`
}

func (CachedRecord) TableName() string {
	return "cached_records"
}

// LocalStore keeps pending items and the record cache in a device-local
// SQLite file.
type LocalStore struct {
	dm *dbcore.DatabaseManager
}

func OpenLocalStore(path string) (*LocalStore, error) {
	dm, err := dbcore.OpenSQLite(path, dbcore.LogLevelSilent)
	if err != nil {
		return nil, err
	}
	if err := dm.Migrate(&PendingItem{}, &CachedRecord{}); err != nil {
		dm.Close()
		return nil, err
	}
	return &LocalStore{dm: dm}, nil
}

func (s *LocalStore) Close() error {
	return s.dm.Close()
}

func (s *LocalStore) FindItem(ctx context.Context, userID int64, date string) (*PendingItem, error) {
	var item PendingItem
	err := s.dm.DB.WithContext(ctx).Where("user_id = ? AND date = ?", userID, date).Take(&item).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch pending item: %w", err)
	}
	return &item, nil
}

// Upsert stores rec as the pending snapshot for its (user, date).
func (s *LocalStore) Upsert(ctx context.Context, rec model.AttendanceRecord, localID string, now time.Time) (*PendingItem, error) {
	var item PendingItem
	err := s.dm.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Where("user_id = ? AND date = ?", rec.UserID, rec.Date).Take(&item).Error
		isNew := errors.Is(err, gorm.ErrRecordNotFound)
		if err != nil && !isNew {
			return err
		}
		if isNew {
			item = PendingItem{LocalID: localID}
		}
		item.apply(rec)
		item.PendingSync = true
		item.Revision++
		item.QueuedAt = now
		item.LastError = ""
		if isNew {
			return tx.Create(&item).Error
		}
		return tx.Save(&item).Error
	})
	if err != nil {
		return nil, fmt.Errorf("failed to queue record: %w", err)
	}
	return &item, nil
}

func (s *LocalStore) Pending(ctx context.Context) ([]PendingItem, error) {
	var items []PendingItem
	err := s.dm.DB.WithContext(ctx).
		Where("pending_sync = ?", true).
		Order("queued_at ASC").
		Find(&items).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list pending items: %w", err)
	}
	return items, nil
}

// MarkSynced clears the pending flag of the sent revisions in place. Items
// mutated after they were sent keep their flag. Returns the cleared count.
func (s *LocalStore) MarkSynced(ctx context.Context, sent []PendingItem, messages map[string]string, now time.Time) (int, error) {
	cleared := 0
	err := s.dm.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, item := range sent {
			res := tx.Model(&PendingItem{}).
				Where("local_id = ? AND revision = ?", item.LocalID, item.Revision).
				Updates(map[string]any{
					"pending_sync": false,
					"synced_at":    now,
					"last_error":   messages[item.LocalID],
				})
			if res.Error != nil {
				return res.Error
			}
			cleared += int(res.RowsAffected)
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to mark items synced: %w", err)
	}
	return cleared, nil
}

// ReplaceCache swaps the whole cache for records.
func (s *LocalStore) ReplaceCache(ctx context.Context, records []model.AttendanceRecord) error {
	err := s.dm.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("1 = 1").Delete(&CachedRecord{}).Error; err != nil {
			return err
		}
		if len(records) == 0 {
			return nil
		}
		rows := make([]CachedRecord, len(records))
		for i, rec := range records {
			rows[i] = CachedRecord{AttendanceRecord: rec}
		}
		return tx.Create(&rows).Error
	})
	if err != nil {
		return fmt.Errorf("failed to replace record cache: %w", err)
	}
	return nil
}

// PutCached stores one server record, replacing any cached row for the same
// (user, date).
func (s *LocalStore) PutCached(ctx context.Context, rec model.AttendanceRecord) error {
	err := s.dm.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("user_id = ? AND date = ?", rec.UserID, rec.Date).Delete(&CachedRecord{}).Error; err != nil {
			return err
		}
		return tx.Clauses(clause.OnConflict{UpdateAll: true}).Create(&CachedRecord{AttendanceRecord: rec}).Error
	})
	if err != nil {
		return fmt.Errorf("failed to cache record: %w", err)
	}
	return nil
}

func (s *LocalStore) Cached(ctx context.Context, userID int64) ([]model.AttendanceRecord, error) {
	var rows []CachedRecord
	err := s.dm.DB.WithContext(ctx).Where("user_id = ?", userID).Order("date DESC").Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list cached records: %w", err)
	}
	records := make([]model.AttendanceRecord, len(rows))
	for i := range rows {
		records[i] = rows[i].AttendanceRecord
	}
	return records, nil
}

func (s *LocalStore) Items(ctx context.Context, userID int64) ([]PendingItem, error) {
	var items []PendingItem
	if err := s.dm.DB.WithContext(ctx).Where("user_id = ?", userID).Find(&items).Error; err != nil {
		return nil, fmt.Errorf("failed to list pending items: %w", err)
	}
	return items, nil
}

// Prune deletes synced items acknowledged before cutoff.
func (s *LocalStore) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	res := s.dm.DB.WithContext(ctx).
		Where("pending_sync = ? AND synced_at < ?", false, cutoff).
		Delete(&PendingItem{})
	if res.Error != nil {
		return 0, fmt.Errorf("failed to prune synced items: %w", res.Error)
	}
	return res.RowsAffected, nil
}
