package core

import (
	"math"

	"punchcard.com/punchcard/attendance/model"
)

// TotalHours is (clockOut - clockIn) minus the break when both break ends
// are set, clamped at zero and rounded to two decimals. An open record
// counts zero hours.
//
// Negative spans (out-of-order edits, overnight shifts) clamp to zero rather
// than being rejected; see DESIGN.md.
func TotalHours(clockIn model.TimeOfDay, clockOut, breakStart, breakEnd *model.TimeOfDay) float64 {
	if clockOut == nil {
		return 0
	}
	worked := clockOut.Sub(clockIn)
	if breakStart != nil && breakEnd != nil {
		worked -= breakEnd.Sub(*breakStart)
	}
	if worked <= 0 {
		return 0
	}
	return math.Round(worked.Hours()*100) / 100
}

// Recompute refreshes the derived TotalHours of rec.
func Recompute(rec *model.AttendanceRecord) {
	rec.TotalHours = TotalHours(rec.ClockIn, rec.ClockOut, rec.BreakStart, rec.BreakEnd)
}
