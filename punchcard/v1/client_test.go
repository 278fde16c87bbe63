package v1

import (
	"context"
	"encoding/base64"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"punchcard.com/punchcard/attendance/core"
	"punchcard.com/punchcard/attendance/model"
	common "punchcard.com/punchcard/attendance/web/common"
	"punchcard.com/punchcard/attendance/web/server"
	dbcore "punchcard.com/punchcard/core"
	"punchcard.com/punchcard/device/throttle"
	"punchcard.com/punchcard/security"
)

var testSecret = base64.StdEncoding.EncodeToString([]byte("0123456789abcdef0123456789abcdef"))

func newServer(t *testing.T) *httptest.Server {
	t.Helper()
	gin.SetMode(gin.TestMode)

	dm, err := dbcore.OpenSQLite(filepath.Join(t.TempDir(), "client.db"), dbcore.LogLevelSilent)
	require.NoError(t, err)
	t.Cleanup(func() { dm.Close() })
	require.NoError(t, dm.Migrate(&model.AttendanceRecord{}))

	clock := clockwork.NewFakeClockAt(time.Date(2025, 1, 15, 9, 0, 0, 0, time.UTC))
	schedule := security.Schedule{Location: time.UTC}
	svc := core.NewService(core.NewGormStore(dm.DB), core.Options{
		Clock:    clock,
		Location: time.UTC,
		Tokens:   security.NewScanTokenValidator(schedule, clock, security.ValidatorOptions{}),
	})
	secret, err := security.DecodeSecret(testSecret)
	require.NoError(t, err)

	srv := httptest.NewServer(server.NewRouter(secret, &common.Handler{
		Service: svc,
		Issuer:  security.NewScanTokenIssuer(schedule, clock),
		Clock:   clock,
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newClient(t *testing.T, baseURL string, userID int64, guard Guard, roles ...string) *PunchcardClient {
	t.Helper()
	token, err := security.CreateIdentityToken(&security.Identity{UserID: userID, Roles: roles}, testSecret, 3600)
	require.NoError(t, err)
	return NewPunchcardClient(baseURL, token, 5*time.Second, guard)
}

func tod(s string) *model.TimeOfDay {
	v, err := model.ParseTimeOfDay(s)
	if err != nil {
		panic(err)
	}
	return &v
}

func TestAttendanceRoundTrip(t *testing.T) {
	srv := newServer(t)
	client := newClient(t, srv.URL, 42, nil, security.RoleEmployee)
	ctx := context.Background()

	rec, err := client.Attendance.Today(ctx, nil)
	require.NoError(t, err)
	assert.Nil(t, rec)

	rec, err = client.Attendance.ClockIn(ctx, PunchRequest{Time: tod("09:00")})
	require.NoError(t, err)
	assert.Equal(t, int64(42), rec.UserID)

	_, err = client.Attendance.ClockIn(ctx, PunchRequest{Time: tod("09:00")})
	require.Error(t, err)
	assert.Equal(t, http.StatusConflict, StatusCode(err))
	existing := ConflictRecord(err)
	require.NotNil(t, existing)
	assert.Equal(t, rec.ID, existing.ID)

	_, err = client.Attendance.BreakStart(ctx, PunchRequest{Time: tod("13:00")})
	require.NoError(t, err)
	_, err = client.Attendance.BreakEnd(ctx, PunchRequest{Time: tod("14:00")})
	require.NoError(t, err)
	rec, err = client.Attendance.ClockOut(ctx, PunchRequest{Time: tod("17:30")})
	require.NoError(t, err)
	assert.Equal(t, 7.5, rec.TotalHours)

	records, err := client.Attendance.Recent(ctx, nil, 7)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, rec.ID, records[0].ID)

	_, err = client.Attendance.Override(ctx, rec.ID, OverrideRequest{Approved: new(bool)})
	assert.Equal(t, http.StatusForbidden, StatusCode(err))
}

func TestSync(t *testing.T) {
	srv := newServer(t)
	client := newClient(t, srv.URL, 42, nil, security.RoleEmployee)

	res, err := client.Attendance.Sync(context.Background(), []SyncRecordDTO{
		{ClientID: "a", UserID: 42, Date: "2025-01-14", ClockIn: *tod("08:00"), ClockOut: tod("12:00"), Method: model.MethodManual},
	})
	require.NoError(t, err)
	require.Len(t, res.Acks, 1)
	assert.Equal(t, "created", res.Acks[0].Status)
	assert.Equal(t, 4.0, res.Acks[0].Record.TotalHours)

	res, err = client.Attendance.Sync(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, res.Acks)
}

func TestTokens(t *testing.T) {
	srv := newServer(t)
	kiosk := newClient(t, srv.URL, 900, nil, security.RoleKiosk)
	ada := newClient(t, srv.URL, 42, nil, security.RoleEmployee)
	ctx := context.Background()

	token, err := kiosk.Tokens.Current(ctx, "shift", "night-1")
	require.NoError(t, err)
	assert.Equal(t, "shift", token.Action)
	assert.Equal(t, int64(300000), token.IntervalMs)

	rec, err := ada.Attendance.ClockIn(ctx, PunchRequest{Token: token.Value})
	require.NoError(t, err)
	require.NotNil(t, rec.ShiftID)
	assert.Equal(t, "night-1", *rec.ShiftID)

	_, err = ada.Tokens.Current(ctx, "", "")
	assert.Equal(t, http.StatusForbidden, StatusCode(err))
}

func TestThrottleGuard(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Write([]byte(`{"data":null}`))
	}))
	defer srv.Close()

	guard := throttle.New(throttle.Options{
		Rules: []throttle.Rule{{Match: "/attendance/today", Interval: time.Minute}},
		Clock: clockwork.NewFakeClock(),
	})
	defer guard.Close()
	client := newClient(t, srv.URL, 42, guard)

	_, err := client.Attendance.Today(context.Background(), nil)
	require.NoError(t, err)
	assert.False(t, guard.InFlight("/api/v1/attendance/today"))

	_, err = client.Attendance.Today(context.Background(), nil)
	assert.ErrorIs(t, err, ErrThrottled)
	assert.Equal(t, int32(1), hits.Load())

	// a different endpoint is not affected
	_, err = client.Attendance.Recent(context.Background(), nil, 0)
	assert.NoError(t, err)
}

func TestUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	srv.Close()

	client := newClient(t, srv.URL, 42, nil)
	_, err := client.Attendance.Today(context.Background(), nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnreachable))
	assert.Equal(t, 0, StatusCode(err))
}

func TestAPIErrorWithoutEnvelope(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		w.Write([]byte("upstream down"))
	}))
	defer srv.Close()

	client := newClient(t, srv.URL, 42, nil)
	_, err := client.Attendance.Sync(context.Background(), nil)
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadGateway, apiErr.StatusCode)
	assert.Equal(t, "Bad Gateway", apiErr.Message)
	assert.Nil(t, ConflictRecord(err))
}
