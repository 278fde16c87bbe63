package core

import (
	"punchcard.com/punchcard/attendance/model"
)

// The Apply* functions are the pure record state machine. They mutate rec
// only on success, recompute hours, and are shared by the server and by the
// device's optimistic offline view.

func ApplyClockOut(rec *model.AttendanceRecord, at model.TimeOfDay) error {
	if rec == nil {
		return notFoundf("no open attendance record")
	}
	if rec.ClockOut != nil {
		return conflict("already clocked out", rec)
	}
	if rec.BreakState() == model.BreakActive {
		// closing the day ends a running break at the same instant
		end := at
		rec.BreakEnd = &end
	}
	out := at
	rec.ClockOut = &out
	Recompute(rec)
	return nil
}

func ApplyBreakStart(rec *model.AttendanceRecord, at model.TimeOfDay) error {
	if rec == nil {
		return notFoundf("no open attendance record")
	}
	if rec.ClockOut != nil {
		return conflict("record is already closed", rec)
	}
	switch rec.BreakState() {
	case model.BreakActive:
		return conflict("break already active", rec)
	case model.BreakDone:
		return conflict("break already taken", rec)
	}
	start := at
	rec.BreakStart = &start
	Recompute(rec)
	return nil
}

func ApplyBreakEnd(rec *model.AttendanceRecord, at model.TimeOfDay) error {
	if rec == nil {
		return notFoundf("no open attendance record")
	}
	if rec.ClockOut != nil {
		return conflict("record is already closed", rec)
	}
	if rec.BreakState() != model.BreakActive {
		return notFoundf("no active break to end")
	}
	end := at
	rec.BreakEnd = &end
	Recompute(rec)
	return nil
}

// CheckInvariants validates the field pairing rules of a record.
func CheckInvariants(rec *model.AttendanceRecord) error {
	if !rec.ClockIn.Valid() {
		return validationf("clockIn is out of range")
	}
	for name, t := range map[string]*model.TimeOfDay{
		"clockOut":   rec.ClockOut,
		"breakStart": rec.BreakStart,
		"breakEnd":   rec.BreakEnd,
	} {
		if t != nil && !t.Valid() {
			return validationf("%s is out of range", name)
		}
	}
	if rec.BreakEnd != nil && rec.BreakStart == nil {
		return validationf("breakEnd requires breakStart")
	}
	if !rec.Method.Valid() {
		return validationf("unknown method %q", rec.Method)
	}
	return nil
}
