package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"punchcard.com/punchcard/attendance/model"
)

func tod(s string) model.TimeOfDay {
	t, err := model.ParseTimeOfDay(s)
	if err != nil {
		panic(err)
	}
	return t
}

func todp(s string) *model.TimeOfDay {
	t := tod(s)
	return &t
}

func TestTotalHours(t *testing.T) {
	tests := []struct {
		name       string
		clockIn    string
		clockOut   *model.TimeOfDay
		breakStart *model.TimeOfDay
		breakEnd   *model.TimeOfDay
		expected   float64
	}{
		{"open record", "09:00", nil, nil, nil, 0},
		{"no break", "09:00", todp("17:00"), nil, nil, 8},
		{"with break", "09:00", todp("17:30"), todp("13:00"), todp("14:00"), 7.5},
		{"break without end is ignored", "09:00", todp("17:00"), todp("12:00"), nil, 8},
		{"out before in clamps", "17:00", todp("09:00"), nil, nil, 0},
		{"break longer than shift clamps", "09:00", todp("10:00"), todp("09:00"), todp("12:00"), 0},
		{"rounds to cents", "09:00", todp("09:20"), nil, nil, 0.33},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := TotalHours(tod(tt.clockIn), tt.clockOut, tt.breakStart, tt.breakEnd)
			assert.Equal(t, tt.expected, got)
			assert.GreaterOrEqual(t, got, 0.0)
		})
	}
}

func TestTransitions(t *testing.T) {
	rec := &model.AttendanceRecord{ClockIn: tod("09:00"), Method: model.MethodManual}

	require.NoError(t, ApplyBreakStart(rec, tod("13:00")))
	assert.ErrorIs(t, ApplyBreakStart(rec, tod("13:05")), ErrConflict)

	require.NoError(t, ApplyBreakEnd(rec, tod("14:00")))
	assert.ErrorIs(t, ApplyBreakEnd(rec, tod("14:05")), ErrNotFound)
	assert.ErrorIs(t, ApplyBreakStart(rec, tod("15:00")), ErrConflict, "one break per day")

	require.NoError(t, ApplyClockOut(rec, tod("17:30")))
	assert.Equal(t, 7.5, rec.TotalHours)

	err := ApplyClockOut(rec, tod("18:00"))
	assert.ErrorIs(t, err, ErrConflict)
	assert.Same(t, rec, ConflictRecord(err))
	assert.Equal(t, "17:30", rec.ClockOut.String(), "failed transition leaves record untouched")

	assert.ErrorIs(t, ApplyBreakStart(rec, tod("18:00")), ErrConflict)
	assert.ErrorIs(t, ApplyBreakEnd(rec, tod("18:00")), ErrConflict)
	assert.ErrorIs(t, ApplyClockOut(nil, tod("18:00")), ErrNotFound)
}

func TestClockOutEndsActiveBreak(t *testing.T) {
	rec := &model.AttendanceRecord{ClockIn: tod("09:00"), Method: model.MethodManual}
	require.NoError(t, ApplyBreakStart(rec, tod("16:00")))
	require.NoError(t, ApplyClockOut(rec, tod("17:00")))

	require.NotNil(t, rec.BreakEnd)
	assert.Equal(t, "17:00", rec.BreakEnd.String())
	assert.Equal(t, 7.0, rec.TotalHours)
}

func TestCheckInvariants(t *testing.T) {
	rec := &model.AttendanceRecord{ClockIn: tod("09:00"), Method: model.MethodManual, BreakEnd: todp("12:00")}
	assert.ErrorIs(t, CheckInvariants(rec), ErrValidation)

	rec.BreakStart = todp("11:00")
	assert.NoError(t, CheckInvariants(rec))

	rec.Method = "carrier-pigeon"
	assert.ErrorIs(t, CheckInvariants(rec), ErrValidation)
}
