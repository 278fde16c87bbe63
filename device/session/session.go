// Package session ties the device pieces together: punches go to the server
// when it answers and into the offline queue when it does not, while
// background jobs flush the queue and keep tokens and recent records fresh.
package session

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"punchcard.com/punchcard/attendance/core"
	"punchcard.com/punchcard/attendance/model"
	"punchcard.com/punchcard/device/connectivity"
	"punchcard.com/punchcard/device/scheduler"
	"punchcard.com/punchcard/device/syncqueue"
	v1 "punchcard.com/punchcard/punchcard/v1"
	"punchcard.com/punchcard/security"
	"punchcard.com/punchcard/utils"
)

type Kind string

const (
	ClockIn    Kind = "clock-in"
	ClockOut   Kind = "clock-out"
	BreakStart Kind = "break-start"
	BreakEnd   Kind = "break-end"
)

func ParseKind(s string) (Kind, error) {
	switch k := Kind(s); k {
	case ClockIn, ClockOut, BreakStart, BreakEnd:
		return k, nil
	}
	return "", fmt.Errorf("%w: unknown punch %q", core.ErrValidation, s)
}

type Outcome string

const (
	Sent   Outcome = "sent"
	Queued Outcome = "queued"
)

type Result struct {
	Record  *model.AttendanceRecord
	Outcome Outcome
}

const (
	JobFlush  = "flush"
	JobTokens = "tokens"
	JobRecent = "recent"
)

type TokenValidator interface {
	Validate(value string) (security.ScanToken, error)
}

type Options struct {
	// UserID owns the punches that name no one else.
	UserID   int64
	Location *time.Location
	// Tokens checks scan codes locally while offline. Nil accepts them as is.
	Tokens TokenValidator

	// DisplayTokens makes the session poll the code a kiosk shows.
	DisplayTokens bool
	TokenAction   string
	TokenTarget   string

	RecentDays            int
	FlushInterval         time.Duration
	TokenRefreshInterval  time.Duration
	RecentRefreshInterval time.Duration
	PruneAfter            time.Duration

	Clock  clockwork.Clock
	Logger *slog.Logger
}

type Session struct {
	client *v1.PunchcardClient
	queue  *syncqueue.Queue
	conn   connectivity.Observer
	opts   Options
	sched  *scheduler.Scheduler

	mu          sync.Mutex
	handle      *scheduler.Handle
	unsubscribe func()
	token       *v1.TokenDTO

	tokens  connectivity.Feed[v1.TokenDTO]
	records connectivity.Feed[[]model.AttendanceRecord]
}

func New(client *v1.PunchcardClient, queue *syncqueue.Queue, conn connectivity.Observer, opts Options) (*Session, error) {
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Location == nil {
		opts.Location = utils.BrisbaneTZ
	}

	s := &Session{
		client: client,
		queue:  queue,
		conn:   conn,
		opts:   opts,
		sched:  scheduler.New(opts.Clock, opts.Logger),
	}

	jobs := []scheduler.Job{
		{Key: JobFlush, Interval: opts.FlushInterval, Run: s.flush},
		{Key: JobRecent, Interval: opts.RecentRefreshInterval, Run: s.refreshRecent},
	}
	if opts.DisplayTokens {
		jobs = append(jobs, scheduler.Job{Key: JobTokens, Interval: opts.TokenRefreshInterval, Run: s.refreshToken})
	}
	for _, job := range jobs {
		if err := s.sched.Add(job); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Start launches the periodic jobs and listens for connectivity. Every
// transition to online triggers a flush and a recent refresh.
func (s *Session) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.handle != nil {
		return
	}
	handle := s.sched.Start(ctx)
	s.handle = handle
	s.unsubscribe = s.conn.Subscribe(func(status connectivity.Status) {
		if status != connectivity.Online {
			return
		}
		handle.Trigger(JobFlush)
		handle.Trigger(JobRecent)
	})

	if s.conn.Status() != connectivity.Offline {
		handle.Trigger(JobFlush)
		handle.Trigger(JobRecent)
	}
	if s.opts.DisplayTokens {
		handle.Trigger(JobTokens)
	}
}

// Close cancels the connectivity subscription and stops every job. It
// waits for running jobs to return.
func (s *Session) Close() {
	s.mu.Lock()
	handle, unsubscribe := s.handle, s.unsubscribe
	s.handle, s.unsubscribe = nil, nil
	s.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}
	if handle != nil {
		handle.Stop()
	}
}

func (s *Session) OnToken(fn func(v1.TokenDTO)) func() {
	return s.tokens.OnChange(fn)
}

func (s *Session) OnRecords(fn func([]model.AttendanceRecord)) func() {
	return s.records.OnChange(fn)
}

func (s *Session) Token() *v1.TokenDTO {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.token
}

// Sync runs a flush now, sharing any flush already running.
func (s *Session) Sync(ctx context.Context) error {
	return s.sched.Run(ctx, JobFlush)
}

func (s *Session) Refresh(ctx context.Context) error {
	return s.sched.Run(ctx, JobRecent)
}

func (s *Session) View(ctx context.Context) ([]model.AttendanceRecord, error) {
	return s.queue.View(ctx, s.opts.UserID)
}

// Punch records one punch. While the server answers, the result is the
// server's; a network failure or a known offline state falls back to the
// local state machine and queues the outcome.
func (s *Session) Punch(ctx context.Context, kind Kind, req v1.PunchRequest) (Result, error) {
	if err := checkRequest(kind, req); err != nil {
		return Result{}, err
	}
	if s.conn.Status() != connectivity.Offline {
		rec, err := s.send(ctx, kind, req)
		switch {
		case err == nil:
			if err := s.queue.Remember(ctx, *rec); err != nil {
				s.opts.Logger.Warn("failed to cache punch", "error", err)
			}
			s.publishView(ctx)
			return Result{Record: rec, Outcome: Sent}, nil
		case !errors.Is(err, v1.ErrUnreachable):
			return Result{Record: v1.ConflictRecord(err), Outcome: Sent}, err
		}
		s.opts.Logger.Info("server unreachable, queueing punch", "punch", string(kind))
	}
	return s.punchOffline(ctx, kind, req)
}

// checkRequest rejects what neither path could accept, before any network call.
func checkRequest(kind Kind, req v1.PunchRequest) error {
	switch kind {
	case ClockIn, ClockOut, BreakStart, BreakEnd:
	default:
		return fmt.Errorf("%w: unknown punch %q", core.ErrValidation, kind)
	}
	if req.Date != "" {
		if _, err := utils.ParseDate(req.Date); err != nil {
			return fmt.Errorf("%w: %v", core.ErrValidation, err)
		}
	}
	if req.Time != nil && !req.Time.Valid() {
		return fmt.Errorf("%w: time is out of range", core.ErrValidation)
	}
	return nil
}

func (s *Session) send(ctx context.Context, kind Kind, req v1.PunchRequest) (*model.AttendanceRecord, error) {
	switch kind {
	case ClockIn:
		return s.client.Attendance.ClockIn(ctx, req)
	case ClockOut:
		return s.client.Attendance.ClockOut(ctx, req)
	case BreakStart:
		return s.client.Attendance.BreakStart(ctx, req)
	case BreakEnd:
		return s.client.Attendance.BreakEnd(ctx, req)
	}
	return nil, fmt.Errorf("%w: unknown punch %q", core.ErrValidation, kind)
}

func (s *Session) punchOffline(ctx context.Context, kind Kind, req v1.PunchRequest) (Result, error) {
	if req.Badge != "" {
		return Result{}, fmt.Errorf("%w: badge punches need the server", core.ErrValidation)
	}
	userID := cmp.Or(utils.Deref(req.UserID), s.opts.UserID)
	if userID == 0 {
		return Result{}, fmt.Errorf("%w: no user to punch for", core.ErrValidation)
	}

	method := req.Method
	if method == "" {
		method = model.MethodManual
		if req.Token != "" {
			method = model.MethodTokenScan
		}
	}
	var shiftID *string
	if req.Token != "" && s.opts.Tokens != nil {
		tok, err := s.opts.Tokens.Validate(req.Token)
		if err != nil {
			return Result{}, err
		}
		if tok.Action == security.ActionShift {
			shiftID = utils.Ptr(tok.TargetID)
		}
	}

	now := s.opts.Clock.Now().In(s.opts.Location)
	date := utils.DateKey(now)
	if req.Date != "" {
		date = req.Date
	}
	at := model.TimeOfDayFrom(now)
	if req.Time != nil {
		at = *req.Time
	}

	current, err := s.queue.Local(ctx, userID, date)
	if err != nil {
		return Result{}, err
	}

	var rec *model.AttendanceRecord
	switch kind {
	case ClockIn:
		if current != nil {
			return Result{Record: current}, &core.ConflictError{Reason: "already clocked in", Record: current}
		}
		rec = &model.AttendanceRecord{
			UserID:   userID,
			Date:     date,
			ClockIn:  at,
			Method:   method,
			Approved: true,
			ShiftID:  shiftID,
		}
		core.Recompute(rec)
	case ClockOut, BreakStart, BreakEnd:
		rec = current.Clone()
		apply := map[Kind]func(*model.AttendanceRecord, model.TimeOfDay) error{
			ClockOut:   core.ApplyClockOut,
			BreakStart: core.ApplyBreakStart,
			BreakEnd:   core.ApplyBreakEnd,
		}[kind]
		if err := apply(rec, at); err != nil {
			return Result{Record: core.ConflictRecord(err)}, err
		}
	default:
		return Result{}, fmt.Errorf("%w: unknown punch %q", core.ErrValidation, kind)
	}
	if err := core.CheckInvariants(rec); err != nil {
		return Result{}, err
	}

	item, err := s.queue.Enqueue(ctx, *rec)
	if err != nil {
		return Result{}, err
	}
	queued := item.Record()
	s.publishView(ctx)
	return Result{Record: &queued, Outcome: Queued}, nil
}

// flush never fails the job: the queue keeps its items and the next tick
// retries at the same interval.
func (s *Session) flush(ctx context.Context) error {
	res, err := s.queue.Flush(ctx)
	switch {
	case errors.Is(err, syncqueue.ErrFlushInProgress):
		return nil
	case err != nil:
		s.opts.Logger.Debug("flush deferred", "error", err)
		return nil
	}
	if res.Sent > 0 {
		s.publishView(ctx)
	}
	if s.opts.PruneAfter > 0 {
		if _, err := s.queue.Prune(ctx, s.opts.PruneAfter); err != nil {
			s.opts.Logger.Warn("prune failed", "error", err)
		}
	}
	return nil
}

func (s *Session) refreshRecent(ctx context.Context) error {
	if _, err := s.queue.Reconcile(ctx, nil, s.opts.RecentDays); err != nil {
		s.opts.Logger.Debug("recent refresh deferred", "error", err)
		return nil
	}
	s.publishView(ctx)
	return nil
}

func (s *Session) refreshToken(ctx context.Context) error {
	tok, err := s.client.Tokens.Current(ctx, s.opts.TokenAction, s.opts.TokenTarget)
	if err != nil {
		s.opts.Logger.Debug("token refresh deferred", "error", err)
		return nil
	}
	s.mu.Lock()
	changed := s.token == nil || s.token.Value != tok.Value
	s.token = tok
	s.mu.Unlock()
	if changed {
		s.tokens.Publish(*tok)
	}
	return nil
}

func (s *Session) publishView(ctx context.Context) {
	if s.records.Len() == 0 {
		return
	}
	view, err := s.queue.View(ctx, s.opts.UserID)
	if err != nil {
		s.opts.Logger.Warn("failed to load local view", "error", err)
		return
	}
	s.records.Publish(view)
}
