package server

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
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
	dbcore "punchcard.com/punchcard/core"
	"punchcard.com/punchcard/security"
)

var testSecret = base64.StdEncoding.EncodeToString([]byte("0123456789abcdef0123456789abcdef"))

type recordingNotifier struct {
	mu     sync.Mutex
	titles []string
}

func (n *recordingNotifier) Notify(_ context.Context, title, _ string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.titles = append(n.titles, title)
	return nil
}

type memoryArchiver struct {
	mu   sync.Mutex
	keys []string
}

func (a *memoryArchiver) Archive(_ context.Context, key string, _ any) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.keys = append(a.keys, key)
	return nil
}

type fixture struct {
	router   *gin.Engine
	dm       *dbcore.DatabaseManager
	clock    *clockwork.FakeClock
	notifier *recordingNotifier
	archiver *memoryArchiver
}

type envelope struct {
	Data    json.RawMessage `json:"data"`
	Message string          `json:"message"`
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	dm, err := dbcore.OpenSQLite(filepath.Join(t.TempDir(), "server.db"), dbcore.LogLevelSilent)
	require.NoError(t, err)
	t.Cleanup(func() { dm.Close() })
	require.NoError(t, dm.Migrate(&model.AttendanceRecord{}))

	clock := clockwork.NewFakeClockAt(time.Date(2025, 1, 15, 9, 0, 0, 0, time.UTC))
	schedule := security.Schedule{
		RushWindows:  []security.Window{{Start: 0, End: 24}},
		RushInterval: 60 * time.Second,
		Location:     time.UTC,
	}
	svc := core.NewService(core.NewGormStore(dm.DB), core.Options{
		Clock:    clock,
		Location: time.UTC,
		Tokens:   security.NewScanTokenValidator(schedule, clock, security.ValidatorOptions{}),
	})

	notifier := &recordingNotifier{}
	archiver := &memoryArchiver{}
	secret, err := security.DecodeSecret(testSecret)
	require.NoError(t, err)

	router := NewRouter(secret, &common.Handler{
		Service:  svc,
		Issuer:   security.NewScanTokenIssuer(schedule, clock),
		Clock:    clock,
		Notifier: notifier,
		Archiver: archiver,
	})
	return &fixture{router: router, dm: dm, clock: clock, notifier: notifier, archiver: archiver}
}

func sessionFor(t *testing.T, userID int64, roles ...string) string {
	t.Helper()
	token, err := security.CreateIdentityToken(&security.Identity{UserID: userID, Roles: roles}, testSecret, 3600)
	require.NoError(t, err)
	return token
}

func (f *fixture) do(t *testing.T, method, path, session string, body any) (int, envelope) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if session != "" {
		req.Header.Set("Authorization", "Bearer "+session)
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)

	var env envelope
	if w.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env), w.Body.String())
	}
	return w.Code, env
}

func decodeRecord(t *testing.T, raw json.RawMessage) model.AttendanceRecord {
	t.Helper()
	var rec model.AttendanceRecord
	require.NoError(t, json.Unmarshal(raw, &rec))
	return rec
}

func TestPing(t *testing.T) {
	f := newFixture(t)
	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "pong")
}

func TestRequiresSession(t *testing.T) {
	f := newFixture(t)
	status, _ := f.do(t, http.MethodGet, "/api/v1/attendance/today", "", nil)
	assert.Equal(t, http.StatusUnauthorized, status)
}

func TestWorkday(t *testing.T) {
	f := newFixture(t)
	ada := sessionFor(t, 42, security.RoleEmployee)

	status, env := f.do(t, http.MethodGet, "/api/v1/attendance/today", ada, nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "null", string(env.Data))

	status, env = f.do(t, http.MethodPost, "/api/v1/attendance/clock-in", ada, gin.H{"date": "2025-01-15", "time": "09:00"})
	require.Equal(t, http.StatusCreated, status)
	created := decodeRecord(t, env.Data)
	assert.Equal(t, "09:00", created.ClockIn.String())

	status, env = f.do(t, http.MethodPost, "/api/v1/attendance/clock-in", ada, gin.H{"date": "2025-01-15", "time": "09:00"})
	require.Equal(t, http.StatusConflict, status)
	assert.Equal(t, created.ID, decodeRecord(t, env.Data).ID)

	status, _ = f.do(t, http.MethodPost, "/api/v1/attendance/break/start", ada, gin.H{"time": "13:00"})
	require.Equal(t, http.StatusOK, status)
	status, _ = f.do(t, http.MethodPost, "/api/v1/attendance/break/end", ada, gin.H{"time": "14:00"})
	require.Equal(t, http.StatusOK, status)
	status, env = f.do(t, http.MethodPost, "/api/v1/attendance/clock-out", ada, gin.H{"time": "17:30"})
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, 7.5, decodeRecord(t, env.Data).TotalHours)

	status, env = f.do(t, http.MethodPost, "/api/v1/attendance/clock-out", ada, gin.H{"time": "18:00"})
	require.Equal(t, http.StatusConflict, status)
	assert.Equal(t, "17:30", decodeRecord(t, env.Data).ClockOut.String())

	status, env = f.do(t, http.MethodGet, "/api/v1/attendance/records?days=7", ada, nil)
	require.Equal(t, http.StatusOK, status)
	var records []model.AttendanceRecord
	require.NoError(t, json.Unmarshal(env.Data, &records))
	assert.Len(t, records, 1)
}

func TestPunchFailures(t *testing.T) {
	f := newFixture(t)
	ada := sessionFor(t, 42, security.RoleEmployee)

	tests := []struct {
		name   string
		path   string
		body   any
		status int
	}{
		{"clock out without record", "/api/v1/attendance/clock-out", gin.H{}, http.StatusNotFound},
		{"break end without record", "/api/v1/attendance/break/end", gin.H{}, http.StatusNotFound},
		{"empty body", "/api/v1/attendance/clock-in", nil, http.StatusBadRequest},
		{"bad date", "/api/v1/attendance/clock-in", gin.H{"date": "15/01/2025"}, http.StatusBadRequest},
		{"bad time", "/api/v1/attendance/clock-in", gin.H{"time": "25:00"}, http.StatusBadRequest},
		{"bad method", "/api/v1/attendance/clock-in", gin.H{"method": "fax"}, http.StatusBadRequest},
		{"token-scan without token", "/api/v1/attendance/clock-in", gin.H{"method": "token-scan"}, http.StatusBadRequest},
		{"proxy without capability", "/api/v1/attendance/clock-in", gin.H{"userId": 43}, http.StatusForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, env := f.do(t, http.MethodPost, tt.path, ada, tt.body)
			assert.Equal(t, tt.status, status)
			assert.NotEmpty(t, env.Message)
		})
	}
}

func TestTokenScan(t *testing.T) {
	f := newFixture(t)
	front := sessionFor(t, 900, security.RoleKiosk)
	ada := sessionFor(t, 42, security.RoleEmployee)

	status, _ := f.do(t, http.MethodGet, "/api/v1/tokens/current", ada, nil)
	require.Equal(t, http.StatusForbidden, status)

	status, _ = f.do(t, http.MethodGet, "/api/v1/tokens/current?action=shift", front, nil)
	require.Equal(t, http.StatusBadRequest, status)

	status, env := f.do(t, http.MethodGet, "/api/v1/tokens/current", front, nil)
	require.Equal(t, http.StatusOK, status)
	var token struct {
		Value          string `json:"value"`
		IssuedAtBucket int64  `json:"issuedAtBucket"`
		IntervalMs     int64  `json:"intervalMs"`
		ValidUntil     int64  `json:"validUntil"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &token))
	assert.Equal(t, int64(60000), token.IntervalMs)
	assert.Equal(t, token.IssuedAtBucket+120000, token.ValidUntil)

	f.clock.Advance(150 * time.Second)
	status, env = f.do(t, http.MethodPost, "/api/v1/attendance/clock-in", ada, gin.H{"token": token.Value})
	assert.Equal(t, http.StatusUnprocessableEntity, status)
	assert.Equal(t, "expired code, rescan", env.Message)

	status, env = f.do(t, http.MethodGet, "/api/v1/tokens/current", front, nil)
	require.Equal(t, http.StatusOK, status)
	require.NoError(t, json.Unmarshal(env.Data, &token))
	status, env = f.do(t, http.MethodPost, "/api/v1/attendance/clock-in", ada, gin.H{"token": token.Value})
	require.Equal(t, http.StatusCreated, status)
	assert.Equal(t, model.MethodTokenScan, decodeRecord(t, env.Data).Method)
}

func TestConcurrentClockIn(t *testing.T) {
	f := newFixture(t)
	ada := sessionFor(t, 42, security.RoleEmployee)

	const callers = 10
	statuses := make([]int, callers)
	ids := make([]string, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			status, env := f.do(t, http.MethodPost, "/api/v1/attendance/clock-in", ada, gin.H{"time": "09:00"})
			statuses[i] = status
			if len(env.Data) > 0 {
				var rec model.AttendanceRecord
				if json.Unmarshal(env.Data, &rec) == nil {
					ids[i] = rec.ID
				}
			}
		}(i)
	}
	wg.Wait()

	createdCount := 0
	for i, status := range statuses {
		switch status {
		case http.StatusCreated:
			createdCount++
		case http.StatusConflict:
		default:
			t.Fatalf("caller %d got %d", i, status)
		}
		assert.Equal(t, ids[0], ids[i])
	}
	assert.Equal(t, 1, createdCount)
	assert.NotEmpty(t, ids[0])
}

func TestOverride(t *testing.T) {
	f := newFixture(t)
	ada := sessionFor(t, 42, security.RoleEmployee)
	boss := sessionFor(t, 1, security.RoleAdmin)

	status, env := f.do(t, http.MethodPost, "/api/v1/attendance/clock-in", ada, gin.H{"time": "09:00"})
	require.Equal(t, http.StatusCreated, status)
	id := decodeRecord(t, env.Data).ID

	status, _ = f.do(t, http.MethodPut, "/api/v1/attendance/records/"+id, ada, gin.H{"clockOut": "17:00"})
	assert.Equal(t, http.StatusForbidden, status)

	status, _ = f.do(t, http.MethodPut, "/api/v1/attendance/records/"+id, boss, gin.H{"clear": []string{"clockIn"}})
	assert.Equal(t, http.StatusBadRequest, status)

	status, env = f.do(t, http.MethodPut, "/api/v1/attendance/records/"+id, boss, gin.H{"clockOut": "17:00", "approved": false})
	require.Equal(t, http.StatusOK, status)
	rec := decodeRecord(t, env.Data)
	assert.Equal(t, 8.0, rec.TotalHours)
	assert.Equal(t, model.MethodAdminOverride, rec.Method)
	assert.False(t, rec.Approved)

	status, _ = f.do(t, http.MethodPut, "/api/v1/attendance/records/missing", boss, gin.H{})
	assert.Equal(t, http.StatusNotFound, status)
}

func TestSync(t *testing.T) {
	f := newFixture(t)
	ada := sessionFor(t, 42, security.RoleEmployee)

	body := gin.H{"records": []gin.H{
		{"clientId": "l-1", "userId": 42, "date": "2025-01-14", "clockIn": "08:00", "clockOut": "16:30", "method": "manual"},
		{"clientId": "l-2", "userId": 42, "date": "2025-01-15", "clockIn": "09:00", "method": "token-scan"},
	}}
	status, env := f.do(t, http.MethodPost, "/api/v1/attendance/sync", ada, body)
	require.Equal(t, http.StatusOK, status)

	var res struct {
		Acks []core.SyncAck `json:"acks"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &res))
	require.Len(t, res.Acks, 2)
	assert.Equal(t, core.SyncCreated, res.Acks[0].Status)
	assert.Equal(t, 8.5, res.Acks[0].Record.TotalHours)
	assert.Len(t, f.archiver.keys, 1)

	status, _ = f.do(t, http.MethodPost, "/api/v1/attendance/sync", ada, gin.H{"records": []gin.H{{"clientId": "x"}}})
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestInternalErrorIsGeneric(t *testing.T) {
	f := newFixture(t)
	ada := sessionFor(t, 42, security.RoleEmployee)
	require.NoError(t, f.dm.Close())

	status, env := f.do(t, http.MethodGet, "/api/v1/attendance/today", ada, nil)
	assert.Equal(t, http.StatusInternalServerError, status)
	assert.Equal(t, "internal server error", env.Message)
	assert.Len(t, f.notifier.titles, 1)
}
