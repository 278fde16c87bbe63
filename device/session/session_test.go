package session

import (
	"context"
	"encoding/base64"
	"net/http/httptest"
	"path/filepath"
	"sync"
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
	"punchcard.com/punchcard/device/connectivity"
	"punchcard.com/punchcard/device/syncqueue"
	"punchcard.com/punchcard/device/throttle"
	v1 "punchcard.com/punchcard/punchcard/v1"
	"punchcard.com/punchcard/security"
)

var testSecret = base64.StdEncoding.EncodeToString([]byte("0123456789abcdef0123456789abcdef"))

type fixture struct {
	srv     *httptest.Server
	api     *v1.PunchcardClient
	clock   *clockwork.FakeClock
	session *Session
	queue   *syncqueue.Queue
	conn    *connectivity.Manual
	issuer  *security.ScanTokenIssuer
}

func newFixture(t *testing.T, status connectivity.Status, roles []string, opts Options) *fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	dm, err := dbcore.OpenSQLite(filepath.Join(t.TempDir(), "server.db"), dbcore.LogLevelSilent)
	require.NoError(t, err)
	t.Cleanup(func() { dm.Close() })
	require.NoError(t, dm.Migrate(&model.AttendanceRecord{}))

	clock := clockwork.NewFakeClockAt(time.Date(2025, 1, 15, 9, 0, 0, 0, time.UTC))
	schedule := security.Schedule{
		RushWindows:  []security.Window{{Start: 0, End: 24}},
		RushInterval: time.Minute,
		Location:     time.UTC,
	}
	validator := security.NewScanTokenValidator(schedule, clock, security.ValidatorOptions{})
	svc := core.NewService(core.NewGormStore(dm.DB), core.Options{Clock: clock, Location: time.UTC, Tokens: validator})
	secret, err := security.DecodeSecret(testSecret)
	require.NoError(t, err)
	issuer := security.NewScanTokenIssuer(schedule, clock)

	srv := httptest.NewServer(server.NewRouter(secret, &common.Handler{Service: svc, Issuer: issuer, Clock: clock}))
	t.Cleanup(srv.Close)

	token, err := security.CreateIdentityToken(&security.Identity{UserID: 42, Roles: roles}, testSecret, 3600)
	require.NoError(t, err)
	guard := throttle.New(throttle.Options{
		Clock: clock,
		Rules: []throttle.Rule{
			{Match: "/attendance/clock-", Interval: 300 * time.Millisecond},
			{Match: "/attendance/break/", Interval: 300 * time.Millisecond},
		},
	})
	client := v1.NewPunchcardClient(srv.URL, token, 5*time.Second, guard)

	store, err := syncqueue.OpenLocalStore(filepath.Join(t.TempDir(), "device.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	queue := syncqueue.New(store, client.Attendance, clock, nil)

	conn := connectivity.NewManual(status)
	opts.UserID = 42
	opts.Location = time.UTC
	opts.Clock = clock
	opts.Tokens = validator
	if opts.FlushInterval == 0 {
		opts.FlushInterval = 30 * time.Second
	}
	if opts.RecentRefreshInterval == 0 {
		opts.RecentRefreshInterval = time.Minute
	}
	s, err := New(client, queue, conn, opts)
	require.NoError(t, err)
	t.Cleanup(s.Close)

	api := v1.NewPunchcardClient(srv.URL, token, 5*time.Second, nil)
	return &fixture{srv: srv, api: api, clock: clock, session: s, queue: queue, conn: conn, issuer: issuer}
}

func tod(s string) *model.TimeOfDay {
	v, err := model.ParseTimeOfDay(s)
	if err != nil {
		panic(err)
	}
	return &v
}

func (f *fixture) pending(t *testing.T) int {
	items, err := f.queue.Pending(context.Background())
	require.NoError(t, err)
	return len(items)
}

func TestOnlinePunchGoesToServer(t *testing.T) {
	f := newFixture(t, connectivity.Online, []string{security.RoleEmployee}, Options{})
	ctx := context.Background()

	res, err := f.session.Punch(ctx, ClockIn, v1.PunchRequest{Time: tod("09:00")})
	require.NoError(t, err)
	assert.Equal(t, Sent, res.Outcome)
	assert.Equal(t, "09:00", res.Record.ClockIn.String())
	assert.Zero(t, f.pending(t))

	view, err := f.session.View(ctx)
	require.NoError(t, err)
	require.Len(t, view, 1)
	assert.Equal(t, res.Record.ID, view[0].ID)

	res, err = f.session.Punch(ctx, ClockIn, v1.PunchRequest{Time: tod("09:00")})
	assert.Equal(t, 409, v1.StatusCode(err))
	require.NotNil(t, res.Record)
	assert.Equal(t, view[0].ID, res.Record.ID)
}

func TestMalformedPunchNeverReachesServer(t *testing.T) {
	f := newFixture(t, connectivity.Online, []string{security.RoleEmployee}, Options{})
	ctx := context.Background()

	_, err := f.session.Punch(ctx, ClockIn, v1.PunchRequest{Date: "2025-13-40", Time: tod("09:00")})
	assert.ErrorIs(t, err, core.ErrValidation)

	late := model.TimeOfDay(25 * 60 * 60)
	_, err = f.session.Punch(ctx, ClockIn, v1.PunchRequest{Time: &late})
	assert.ErrorIs(t, err, core.ErrValidation)

	_, err = f.session.Punch(ctx, Kind("lunch"), v1.PunchRequest{})
	assert.ErrorIs(t, err, core.ErrValidation)

	// the clock-in endpoint was never guarded, so this is not throttled
	res, err := f.session.Punch(ctx, ClockIn, v1.PunchRequest{Time: tod("09:00")})
	require.NoError(t, err)
	assert.Equal(t, Sent, res.Outcome)
	assert.Zero(t, f.pending(t))
}

func TestOfflinePunchesFlushWhenOnline(t *testing.T) {
	f := newFixture(t, connectivity.Offline, []string{security.RoleEmployee}, Options{})
	ctx := context.Background()
	f.session.Start(ctx)

	var (
		mu   sync.Mutex
		seen [][]model.AttendanceRecord
	)
	f.session.OnRecords(func(v []model.AttendanceRecord) {
		mu.Lock()
		seen = append(seen, v)
		mu.Unlock()
	})

	res, err := f.session.Punch(ctx, ClockIn, v1.PunchRequest{Time: tod("09:00")})
	require.NoError(t, err)
	assert.Equal(t, Queued, res.Outcome)

	_, err = f.session.Punch(ctx, BreakStart, v1.PunchRequest{Time: tod("13:00")})
	require.NoError(t, err)
	_, err = f.session.Punch(ctx, BreakEnd, v1.PunchRequest{Time: tod("14:00")})
	require.NoError(t, err)
	res, err = f.session.Punch(ctx, ClockOut, v1.PunchRequest{Time: tod("17:30")})
	require.NoError(t, err)
	assert.Equal(t, Queued, res.Outcome)
	assert.Equal(t, 7.5, res.Record.TotalHours)
	assert.Equal(t, 1, f.pending(t))

	rec, err := f.api.Attendance.Today(ctx, nil)
	require.NoError(t, err)
	assert.Nil(t, rec)

	f.conn.Set(connectivity.Online)
	assert.Eventually(t, func() bool { return f.pending(t) == 0 }, 2*time.Second, 10*time.Millisecond)

	rec, err = f.api.Attendance.Today(ctx, nil)
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, 7.5, rec.TotalHours)

	mu.Lock()
	defer mu.Unlock()
	assert.NotEmpty(t, seen)
}

func TestOfflineStateMachine(t *testing.T) {
	f := newFixture(t, connectivity.Offline, []string{security.RoleEmployee}, Options{})
	ctx := context.Background()

	_, err := f.session.Punch(ctx, ClockOut, v1.PunchRequest{Time: tod("17:00")})
	assert.ErrorIs(t, err, core.ErrNotFound)

	first, err := f.session.Punch(ctx, ClockIn, v1.PunchRequest{Time: tod("09:00")})
	require.NoError(t, err)

	res, err := f.session.Punch(ctx, ClockIn, v1.PunchRequest{Time: tod("09:30")})
	assert.ErrorIs(t, err, core.ErrConflict)
	require.NotNil(t, res.Record)
	assert.Equal(t, first.Record.ID, res.Record.ID)

	_, err = f.session.Punch(ctx, BreakEnd, v1.PunchRequest{Time: tod("13:00")})
	assert.ErrorIs(t, err, core.ErrNotFound)

	_, err = f.session.Punch(ctx, ClockIn, v1.PunchRequest{Badge: "04A245E2"})
	assert.ErrorIs(t, err, core.ErrValidation)
}

func TestOfflineTokenIsCheckedLocally(t *testing.T) {
	f := newFixture(t, connectivity.Offline, []string{security.RoleEmployee}, Options{})
	ctx := context.Background()

	tok, err := f.issuer.Issue(security.ActionShift, "shift-7")
	require.NoError(t, err)
	f.clock.Advance(150 * time.Second)

	_, err = f.session.Punch(ctx, ClockIn, v1.PunchRequest{Token: tok.Value})
	assert.ErrorIs(t, err, security.ErrTokenRejected)

	tok, err = f.issuer.Issue(security.ActionShift, "shift-7")
	require.NoError(t, err)
	res, err := f.session.Punch(ctx, ClockIn, v1.PunchRequest{Token: tok.Value})
	require.NoError(t, err)
	assert.Equal(t, model.MethodTokenScan, res.Record.Method)
	require.NotNil(t, res.Record.ShiftID)
	assert.Equal(t, "shift-7", *res.Record.ShiftID)
}

func TestUnreachableServerQueues(t *testing.T) {
	f := newFixture(t, connectivity.Unknown, []string{security.RoleEmployee}, Options{})
	f.srv.Close()

	res, err := f.session.Punch(context.Background(), ClockIn, v1.PunchRequest{Time: tod("09:00")})
	require.NoError(t, err)
	assert.Equal(t, Queued, res.Outcome)
	assert.Equal(t, 1, f.pending(t))
}

func TestCloseStopsBackgroundWork(t *testing.T) {
	f := newFixture(t, connectivity.Offline, []string{security.RoleEmployee}, Options{})
	ctx := context.Background()
	f.session.Start(ctx)

	_, err := f.session.Punch(ctx, ClockIn, v1.PunchRequest{Time: tod("09:00")})
	require.NoError(t, err)

	f.session.Close()
	f.session.Close()
	f.conn.Set(connectivity.Online)
	f.clock.Advance(time.Hour)

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, f.pending(t))

	// explicit sync still works after the background jobs are gone
	require.NoError(t, f.session.Sync(ctx))
	assert.Zero(t, f.pending(t))
}

func TestKioskTokenRefresh(t *testing.T) {
	f := newFixture(t, connectivity.Online, []string{security.RoleKiosk}, Options{
		DisplayTokens:        true,
		TokenAction:          string(security.ActionPunch),
		TokenRefreshInterval: time.Minute,
	})
	ctx := context.Background()

	tokens := make(chan v1.TokenDTO, 8)
	f.session.OnToken(func(tok v1.TokenDTO) {
		select {
		case tokens <- tok:
		default:
		}
	})
	f.session.Start(ctx)

	var first v1.TokenDTO
	select {
	case first = <-tokens:
	case <-time.After(2 * time.Second):
		t.Fatal("no token fetched on start")
	}
	assert.NotEmpty(t, first.Value)
	assert.Equal(t, first.Value, f.session.Token().Value)
	assert.Equal(t, int64(60000), first.IntervalMs)

	// moving into later buckets makes the ticker fetch a new code
	assert.Eventually(t, func() bool {
		select {
		case next := <-tokens:
			return next.Value != first.Value
		default:
			f.clock.Advance(time.Minute)
			return false
		}
	}, 2*time.Second, 20*time.Millisecond)
}
