package core

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/go-sql-driver/mysql"
	"gorm.io/gorm"
	"punchcard.com/punchcard/attendance/model"
)

// Store is the authoritative attendance record storage. Implementations must
// enforce (user, date) uniqueness atomically and report violations as
// ErrDuplicate.
type Store interface {
	Create(ctx context.Context, rec *model.AttendanceRecord) error
	Save(ctx context.Context, rec *model.AttendanceRecord) error
	FindByID(ctx context.Context, id string) (*model.AttendanceRecord, error)
	FindByUserDate(ctx context.Context, userID int64, date string) (*model.AttendanceRecord, error)
	ListByUser(ctx context.Context, userID int64, from, to string) ([]model.AttendanceRecord, error)
	Transaction(ctx context.Context, fn func(tx Store) error) error
}

type GormStore struct {
	db *gorm.DB
}

func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

func (s *GormStore) Create(ctx context.Context, rec *model.AttendanceRecord) error {
	if err := s.db.WithContext(ctx).Create(rec).Error; err != nil {
		if isDuplicateKey(err) {
			return fmt.Errorf("%w: user %d on %s", ErrDuplicate, rec.UserID, rec.Date)
		}
		return fmt.Errorf("failed to create attendance record: %w", err)
	}
	return nil
}

func (s *GormStore) Save(ctx context.Context, rec *model.AttendanceRecord) error {
	if err := s.db.WithContext(ctx).Save(rec).Error; err != nil {
		if isDuplicateKey(err) {
			return fmt.Errorf("%w: user %d on %s", ErrDuplicate, rec.UserID, rec.Date)
		}
		return fmt.Errorf("failed to save attendance record: %w", err)
	}
	return nil
}

func (s *GormStore) FindByID(ctx context.Context, id string) (*model.AttendanceRecord, error) {
	var rec model.AttendanceRecord
	err := s.db.WithContext(ctx).Where("id = ?", id).Take(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch attendance record: %w", err)
	}
	return &rec, nil
}

func (s *GormStore) FindByUserDate(ctx context.Context, userID int64, date string) (*model.AttendanceRecord, error) {
	var rec model.AttendanceRecord
	err := s.db.WithContext(ctx).Where("user_id = ? AND date = ?", userID, date).Take(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch attendance record: %w", err)
	}
	return &rec, nil
}

func (s *GormStore) ListByUser(ctx context.Context, userID int64, from, to string) ([]model.AttendanceRecord, error) {
	var records []model.AttendanceRecord
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND date >= ? AND date <= ?", userID, from, to).
		Order("date desc").
		Find(&records).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list attendance records: %w", err)
	}
	return records, nil
}

func (s *GormStore) Transaction(ctx context.Context, fn func(tx Store) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&GormStore{db: tx})
	})
}

func isDuplicateKey(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) && myErr.Number == 1062 {
		return true
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
