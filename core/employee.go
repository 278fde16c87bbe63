package core

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"gorm.io/gorm"
)

// ErrUnknownBadge is returned when a scanned badge matches no employee.
var ErrUnknownBadge = errors.New("unknown badge")

type Employee struct {
	EmployeeId        int64   `gorm:"primaryKey;autoIncrement"`
	Code              string  `gorm:"uniqueIndex;size:32"`
	FirstName         string  `gorm:"size:100"`
	Surname           string  `gorm:"size:100"`
	Email             *string `gorm:"index"`
	IdentificationTag *string `gorm:"uniqueIndex;size:64"`
	Status            string  `gorm:"size:20;default:active"`
	ReportsToId       *int64
}

func FindEmployeeByID(db *gorm.DB, id int64) (*Employee, error) {
	var emp Employee
	result := db.First(&emp, id)
	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return nil, nil // not found
	}
	if result.Error != nil {
		return nil, result.Error
	}
	return &emp, nil
}

func FindEmployeeByTag(db *gorm.DB, tag string) (*Employee, error) {
	var emp Employee
	result := db.Where("identification_tag = ?", tag).Take(&emp)
	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if result.Error != nil {
		return nil, result.Error
	}
	return &emp, nil
}

// EmployeeDirectory resolves scanned badge tags against the employees table.
type EmployeeDirectory struct {
	dm *DatabaseManager
}

func NewEmployeeDirectory(dm *DatabaseManager) *EmployeeDirectory {
	return &EmployeeDirectory{dm: dm}
}

func (d *EmployeeDirectory) ResolveBadge(ctx context.Context, badge string) (int64, error) {
	tag := strings.TrimSpace(badge)
	if tag == "" {
		return 0, ErrUnknownBadge
	}

	var emp *Employee
	if err := d.dm.Exec(ctx, func(db *gorm.DB) error {
		var err error
		emp, err = FindEmployeeByTag(db, tag)
		return err
	}); err != nil {
		return 0, fmt.Errorf("resolve badge: %w", err)
	}
	if emp == nil || emp.Status != "active" {
		return 0, fmt.Errorf("%w: %s", ErrUnknownBadge, tag)
	}
	return emp.EmployeeId, nil
}
