package v1

import (
	"context"
	"encoding/json"
	"errors"
	"net/url"
	"strconv"

	"punchcard.com/punchcard/attendance/model"
	"punchcard.com/punchcard/punchcard/v1/common"
)

const apiPrefix = "/api/v1"

type PunchRequest struct {
	UserID *int64           `json:"userId,omitempty"`
	Badge  string           `json:"badge,omitempty"`
	Date   string           `json:"date,omitempty"`
	Time   *model.TimeOfDay `json:"time,omitempty"`
	Method model.Method     `json:"method,omitempty"`
	Token  string           `json:"token,omitempty"`
}

type OverrideRequest struct {
	ClockIn    *model.TimeOfDay `json:"clockIn,omitempty"`
	ClockOut   *model.TimeOfDay `json:"clockOut,omitempty"`
	BreakStart *model.TimeOfDay `json:"breakStart,omitempty"`
	BreakEnd   *model.TimeOfDay `json:"breakEnd,omitempty"`
	Approved   *bool            `json:"approved,omitempty"`
	Clear      []string         `json:"clear,omitempty"`
}

// SyncRecordDTO is a record snapshot as the server accepts it: only the
// record fields, nothing the device keeps for its own bookkeeping.
type SyncRecordDTO struct {
	ClientID   string           `json:"clientId"`
	UserID     int64            `json:"userId"`
	Date       string           `json:"date"`
	ClockIn    model.TimeOfDay  `json:"clockIn"`
	ClockOut   *model.TimeOfDay `json:"clockOut,omitempty"`
	BreakStart *model.TimeOfDay `json:"breakStart,omitempty"`
	BreakEnd   *model.TimeOfDay `json:"breakEnd,omitempty"`
	Method     model.Method     `json:"method"`
	ShiftID    *string          `json:"shiftId,omitempty"`
}

type SyncAckDTO struct {
	ClientID string                  `json:"clientId"`
	Status   string                  `json:"status"`
	Record   *model.AttendanceRecord `json:"record,omitempty"`
	Message  string                  `json:"message,omitempty"`
}

type SyncResponse struct {
	Acks         []SyncAckDTO `json:"acks"`
	LastPushedAt int64        `json:"lastPushedAt"`
}

type AttendanceEndpoint struct {
	transport *Transport
}

func (e *AttendanceEndpoint) punch(ctx context.Context, path string, req PunchRequest) (*model.AttendanceRecord, error) {
	resp, err := e.transport.Post(ctx, apiPrefix+path, req)
	if err != nil {
		return nil, err
	}
	return decode[*model.AttendanceRecord](resp)
}

func (e *AttendanceEndpoint) ClockIn(ctx context.Context, req PunchRequest) (*model.AttendanceRecord, error) {
	return e.punch(ctx, "/attendance/clock-in", req)
}

func (e *AttendanceEndpoint) ClockOut(ctx context.Context, req PunchRequest) (*model.AttendanceRecord, error) {
	return e.punch(ctx, "/attendance/clock-out", req)
}

func (e *AttendanceEndpoint) BreakStart(ctx context.Context, req PunchRequest) (*model.AttendanceRecord, error) {
	return e.punch(ctx, "/attendance/break/start", req)
}

func (e *AttendanceEndpoint) BreakEnd(ctx context.Context, req PunchRequest) (*model.AttendanceRecord, error) {
	return e.punch(ctx, "/attendance/break/end", req)
}

// Today returns nil when there is no record yet.
func (e *AttendanceEndpoint) Today(ctx context.Context, userID *int64) (*model.AttendanceRecord, error) {
	query := url.Values{}
	if userID != nil {
		query.Set("userId", strconv.FormatInt(*userID, 10))
	}
	resp, err := e.transport.Get(ctx, apiPrefix+"/attendance/today", query)
	if err != nil {
		return nil, err
	}
	return decode[*model.AttendanceRecord](resp)
}

func (e *AttendanceEndpoint) Recent(ctx context.Context, userID *int64, days int) ([]model.AttendanceRecord, error) {
	query := url.Values{}
	if userID != nil {
		query.Set("userId", strconv.FormatInt(*userID, 10))
	}
	if days > 0 {
		query.Set("days", strconv.Itoa(days))
	}
	resp, err := e.transport.Get(ctx, apiPrefix+"/attendance/records", query)
	if err != nil {
		return nil, err
	}
	var env common.SearchEnvelope[model.AttendanceRecord]
	if err := json.Unmarshal(resp.Data, &env); err != nil {
		return nil, err
	}
	return env.Data, nil
}

func (e *AttendanceEndpoint) Override(ctx context.Context, id string, req OverrideRequest) (*model.AttendanceRecord, error) {
	resp, err := e.transport.Put(ctx, apiPrefix+"/attendance/records/"+url.PathEscape(id), req)
	if err != nil {
		return nil, err
	}
	return decode[*model.AttendanceRecord](resp)
}

func (e *AttendanceEndpoint) Sync(ctx context.Context, records []SyncRecordDTO) (*SyncResponse, error) {
	if records == nil {
		records = []SyncRecordDTO{}
	}
	resp, err := e.transport.Post(ctx, apiPrefix+"/attendance/sync", map[string]any{"records": records})
	if err != nil {
		return nil, err
	}
	return decode[*SyncResponse](resp)
}

// ConflictRecord returns the existing record carried by a 409 answer.
func ConflictRecord(err error) *model.AttendanceRecord {
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != 409 || len(apiErr.Data) == 0 {
		return nil
	}
	var rec model.AttendanceRecord
	if json.Unmarshal(apiErr.Data, &rec) != nil {
		return nil
	}
	return &rec
}
