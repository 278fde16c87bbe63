package model

import "time"

type Method string

const (
	MethodTokenScan     Method = "token-scan"
	MethodManual        Method = "manual"
	MethodAdminOverride Method = "admin-override"
)

func (m Method) Valid() bool {
	switch m {
	case MethodTokenScan, MethodManual, MethodAdminOverride:
		return true
	}
	return false
}

type State string

const (
	StateNone   State = "none"
	StateOpen   State = "open"
	StateClosed State = "closed"
)

type BreakState string

const (
	BreakNone   BreakState = "no_break"
	BreakActive BreakState = "break_active"
	BreakDone   BreakState = "break_done"
)

// AttendanceRecord is the single punch record of a user for a calendar day.
// The (user_id, date) unique index is what makes duplicate clock-ins safe
// under concurrency.
type AttendanceRecord struct {
	ID         string     `gorm:"primaryKey;column:id;type:varchar(36)" json:"id"`
	UserID     int64      `gorm:"column:user_id;not null;uniqueIndex:idx_attendance_user_date" json:"userId"`
	Date       string     `gorm:"column:date;type:varchar(10);not null;uniqueIndex:idx_attendance_user_date" json:"date"`
	ClockIn    TimeOfDay  `gorm:"column:clock_in;not null" json:"clockIn"`
	ClockOut   *TimeOfDay `gorm:"column:clock_out" json:"clockOut"`
	BreakStart *TimeOfDay `gorm:"column:break_start" json:"breakStart"`
	BreakEnd   *TimeOfDay `gorm:"column:break_end" json:"breakEnd"`
	TotalHours float64    `gorm:"column:total_hours;type:decimal(10,2);not null" json:"totalHours"`
	Method     Method     `gorm:"column:method;type:varchar(20);not null" json:"method"`
	Approved   bool       `gorm:"column:approved;not null" json:"approved"`
	ShiftID    *string    `gorm:"column:shift_id;type:varchar(64)" json:"shiftId,omitempty"`
	RecordedBy int64      `gorm:"column:recorded_by" json:"recordedBy"`

	CreatedAt time.Time `gorm:"column:created_at" json:"createdAt"`
	UpdatedAt time.Time `gorm:"column:updated_at" json:"updatedAt"`
}

func (AttendanceRecord) TableName() string {
	return "attendance_records"
}

func (r *AttendanceRecord) State() State {
	switch {
	case r == nil:
		return StateNone
	case r.ClockOut != nil:
		return StateClosed
	default:
		return StateOpen
	}
}

func (r *AttendanceRecord) BreakState() BreakState {
	switch {
	case r == nil || r.BreakStart == nil:
		return BreakNone
	case r.BreakEnd == nil:
		return BreakActive
	default:
		return BreakDone
	}
}

// Clone returns a deep copy so callers can mutate optional fields safely.
func (r *AttendanceRecord) Clone() *AttendanceRecord {
	if r == nil {
		return nil
	}
	c := *r
	c.ClockOut = cloneTime(r.ClockOut)
	c.BreakStart = cloneTime(r.BreakStart)
	c.BreakEnd = cloneTime(r.BreakEnd)
	if r.ShiftID != nil {
		s := *r.ShiftID
		c.ShiftID = &s
	}
	return &c
}

func cloneTime(t *TimeOfDay) *TimeOfDay {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
