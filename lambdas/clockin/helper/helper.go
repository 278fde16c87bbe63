package helper

import (
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"time"

	"punchcard.com/punchcard/attendance/core"
	"punchcard.com/punchcard/attendance/model"
	"punchcard.com/punchcard/utils"
)

type Kind string

const (
	KindIn         Kind = "in"
	KindOut        Kind = "out"
	KindBreakStart Kind = "break_start"
	KindBreakEnd   Kind = "break_end"
)

// Method is what imported records are tagged with.
const Method = model.MethodManual

// Record is one row of a kiosk export.
type Record struct {
	ID        int
	UserID    int64
	Timestamp time.Time
	Date      string
	Kind      Kind
}

// ClockRecord is every row of one user on one day.
type ClockRecord struct {
	UserID  int64
	Date    string
	From    time.Time
	To      time.Time
	Records []Record
}

// ParseClockInCSV reads rows of id,userId,timestamp,kind after a header
// line. Timestamps are RFC3339 and are bucketed into days in loc.
func ParseClockInCSV(r io.Reader, loc *time.Location) ([]Record, error) {
	rows, err := utils.ParseCSV(r)
	if err != nil {
		return nil, err
	}

	var records []Record
	for i, row := range rows {
		if i == 0 {
			continue
		}

		if len(row) < 4 {
			return nil, fmt.Errorf("row %d: expected 4 columns, got %d", i, len(row))
		}

		id, err := strconv.Atoi(strings.TrimSpace(row[0]))
		if err != nil {
			return nil, fmt.Errorf("row %d: invalid ID: %w", i, err)
		}

		userID, err := strconv.ParseInt(strings.TrimSpace(row[1]), 10, 64)
		if err != nil || userID <= 0 {
			return nil, fmt.Errorf("row %d: invalid user id %q", i, row[1])
		}

		ts, err := utils.ParseISOTime(strings.TrimSpace(row[2]))
		if err != nil {
			return nil, fmt.Errorf("row %d: invalid timestamp: %w", i, err)
		}
		timestamp := ts.In(loc)

		kind := Kind(strings.ToLower(strings.TrimSpace(row[3])))
		switch kind {
		case KindIn, KindOut, KindBreakStart, KindBreakEnd:
		default:
			return nil, fmt.Errorf("row %d: unknown kind %q", i, row[3])
		}

		records = append(records, Record{
			ID:        id,
			UserID:    userID,
			Timestamp: timestamp,
			Date:      utils.DateKey(timestamp),
			Kind:      kind,
		})
	}

	return records, nil
}

type dayKey struct {
	userID int64
	date   string
}

// GroupRecords groups rows per (user, date), ordered by user then date.
func GroupRecords(records []Record) []ClockRecord {
	grouped := utils.GroupBy(records, func(r Record) dayKey { return dayKey{r.UserID, r.Date} })

	clockRecords := make([]ClockRecord, 0, len(grouped))
	for key, rows := range grouped {
		sort.SliceStable(rows, func(i, j int) bool {
			return rows[i].Timestamp.Before(rows[j].Timestamp)
		})
		clockRecords = append(clockRecords, ClockRecord{
			UserID:  key.userID,
			Date:    key.date,
			From:    rows[0].Timestamp,
			To:      rows[len(rows)-1].Timestamp,
			Records: rows,
		})
	}
	sort.Slice(clockRecords, func(i, j int) bool {
		if clockRecords[i].UserID != clockRecords[j].UserID {
			return clockRecords[i].UserID < clockRecords[j].UserID
		}
		return clockRecords[i].Date < clockRecords[j].Date
	})

	return clockRecords
}

// ToSyncItem turns one day of rows into a record snapshot: the first in is
// the clock-in, the last out the clock-out and the first break pair the
// break. A day without an in row is skipped by the caller.
func ToSyncItem(cr ClockRecord) (core.SyncItem, error) {
	var clockIn, clockOut, breakStart, breakEnd *model.TimeOfDay
	for _, r := range cr.Records {
		at := model.TimeOfDayFrom(r.Timestamp)
		switch r.Kind {
		case KindIn:
			if clockIn == nil {
				clockIn = utils.Ptr(at)
			}
		case KindOut:
			clockOut = utils.Ptr(at)
		case KindBreakStart:
			if breakStart == nil {
				breakStart = utils.Ptr(at)
			}
		case KindBreakEnd:
			if breakStart != nil && breakEnd == nil {
				breakEnd = utils.Ptr(at)
			}
		}
	}
	if clockIn == nil {
		return core.SyncItem{}, fmt.Errorf("user %d on %s has no clock-in row", cr.UserID, cr.Date)
	}

	return core.SyncItem{
		ClientID:   fmt.Sprintf("csv-%d-%s", cr.UserID, cr.Date),
		UserID:     cr.UserID,
		Date:       cr.Date,
		ClockIn:    *clockIn,
		ClockOut:   clockOut,
		BreakStart: breakStart,
		BreakEnd:   breakEnd,
		Method:     Method,
	}, nil
}
