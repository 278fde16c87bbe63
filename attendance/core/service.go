package core

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"punchcard.com/punchcard/attendance/model"
	dbcore "punchcard.com/punchcard/core"
	"punchcard.com/punchcard/security"
	"punchcard.com/punchcard/utils"
)

const (
	DefaultRecentDays = 14
	MaxRecentDays     = 92
)

// Directory resolves a scanned badge to a user id.
type Directory interface {
	ResolveBadge(ctx context.Context, badge string) (int64, error)
}

type TokenValidator interface {
	Validate(value string) (security.ScanToken, error)
}

type Options struct {
	Clock     clockwork.Clock
	Location  *time.Location
	Tokens    TokenValidator
	Directory Directory
	Logger    *slog.Logger

	// RequireApproval creates records unapproved so the back office must
	// sign them off.
	RequireApproval bool
}

// PunchInput describes one punch. Zero Date/Time mean "now" in the service
// location. OnBehalfOf and Badge need the proxy capability.
type PunchInput struct {
	OnBehalfOf *int64
	Badge      string
	Date       string
	Time       *model.TimeOfDay
	Method     model.Method
	Token      string
}

type OverrideFields struct {
	ClockIn    *model.TimeOfDay
	ClockOut   *model.TimeOfDay
	BreakStart *model.TimeOfDay
	BreakEnd   *model.TimeOfDay
	Approved   *bool
	// Clear nulls optional fields: clockOut, breakStart, breakEnd.
	Clear []string
}

type Service struct {
	store Store
	opts  Options
}

func NewService(store Store, opts Options) *Service {
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.Location == nil {
		opts.Location = utils.BrisbaneTZ
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Service{store: store, opts: opts}
}

func (s *Service) now() time.Time {
	return s.opts.Clock.Now().In(s.opts.Location)
}

// Today is the service's current calendar date.
func (s *Service) Today() string {
	return utils.DateKey(s.now())
}

func (s *Service) ClockIn(ctx context.Context, actor security.Identity, in PunchInput) (*model.AttendanceRecord, error) {
	userID, err := s.subject(ctx, actor, in.OnBehalfOf, in.Badge)
	if err != nil {
		return nil, err
	}
	method, token, err := s.checkMethod(actor, in)
	if err != nil {
		return nil, err
	}
	date, at, err := s.resolveWhen(in)
	if err != nil {
		return nil, err
	}

	existing, err := s.store.FindByUserDate(ctx, userID, date)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, conflict("already clocked in", existing)
	}

	rec := &model.AttendanceRecord{
		ID:         uuid.NewString(),
		UserID:     userID,
		Date:       date,
		ClockIn:    at,
		Method:     method,
		Approved:   !s.opts.RequireApproval,
		RecordedBy: actor.UserID,
	}
	if token != nil && token.Action == security.ActionShift {
		rec.ShiftID = utils.Ptr(token.TargetID)
	}
	Recompute(rec)

	if err := s.store.Create(ctx, rec); err != nil {
		if !errors.Is(err, ErrDuplicate) {
			return nil, err
		}
		// lost the insert race; the winner's row is the answer
		existing, ferr := s.store.FindByUserDate(ctx, userID, date)
		if ferr != nil {
			return nil, ferr
		}
		s.opts.Logger.Info("concurrent clock-in resolved as conflict", "user", userID, "date", date)
		return nil, conflict("already clocked in", existing)
	}

	s.opts.Logger.Info("clock in", "user", userID, "date", date, "at", at.String(), "method", method, "recordedBy", actor.UserID)
	return rec, nil
}

func (s *Service) ClockOut(ctx context.Context, actor security.Identity, in PunchInput) (*model.AttendanceRecord, error) {
	return s.mutate(ctx, actor, in, "clock out", ApplyClockOut)
}

func (s *Service) BreakStart(ctx context.Context, actor security.Identity, in PunchInput) (*model.AttendanceRecord, error) {
	return s.mutate(ctx, actor, in, "break start", ApplyBreakStart)
}

func (s *Service) BreakEnd(ctx context.Context, actor security.Identity, in PunchInput) (*model.AttendanceRecord, error) {
	return s.mutate(ctx, actor, in, "break end", ApplyBreakEnd)
}

func (s *Service) mutate(
	ctx context.Context,
	actor security.Identity,
	in PunchInput,
	op string,
	apply func(*model.AttendanceRecord, model.TimeOfDay) error,
) (*model.AttendanceRecord, error) {
	userID, err := s.subject(ctx, actor, in.OnBehalfOf, in.Badge)
	if err != nil {
		return nil, err
	}
	if _, _, err := s.checkMethod(actor, in); err != nil {
		return nil, err
	}
	date, at, err := s.resolveWhen(in)
	if err != nil {
		return nil, err
	}

	rec, err := s.store.FindByUserDate(ctx, userID, date)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, notFoundf("no open attendance record for user %d on %s", userID, date)
	}
	if err := apply(rec, at); err != nil {
		return nil, err
	}
	if err := s.store.Save(ctx, rec); err != nil {
		return nil, err
	}

	s.opts.Logger.Info(op, "user", userID, "date", date, "at", at.String(), "totalHours", rec.TotalHours, "recordedBy", actor.UserID)
	return rec, nil
}

// TodayRecord returns today's record for the caller (or for userID when the
// caller may act on their behalf). A nil record with nil error means none.
func (s *Service) TodayRecord(ctx context.Context, actor security.Identity, userID *int64) (*model.AttendanceRecord, error) {
	subject, err := s.subject(ctx, actor, userID, "")
	if err != nil {
		return nil, err
	}
	return s.store.FindByUserDate(ctx, subject, s.Today())
}

// Recent lists the last `days` calendar days of records, newest first.
func (s *Service) Recent(ctx context.Context, actor security.Identity, userID *int64, days int) ([]model.AttendanceRecord, error) {
	subject, err := s.subject(ctx, actor, userID, "")
	if err != nil {
		return nil, err
	}
	if days <= 0 {
		days = DefaultRecentDays
	}
	if days > MaxRecentDays {
		return nil, validationf("days must be at most %d", MaxRecentDays)
	}
	now := s.now()
	from := utils.DateKey(now.AddDate(0, 0, -(days - 1)))
	return s.store.ListByUser(ctx, subject, from, utils.DateKey(now))
}

func (s *Service) AdminOverride(ctx context.Context, actor security.Identity, id string, fields OverrideFields) (*model.AttendanceRecord, error) {
	if !actor.IsAdmin() {
		return nil, forbiddenf("admin override requires the admin role")
	}
	rec, err := s.store.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, notFoundf("attendance record %s", id)
	}

	for _, name := range fields.Clear {
		switch name {
		case "clockOut":
			rec.ClockOut = nil
		case "breakStart":
			rec.BreakStart = nil
		case "breakEnd":
			rec.BreakEnd = nil
		default:
			return nil, validationf("field %q cannot be cleared", name)
		}
	}
	if fields.ClockIn != nil {
		rec.ClockIn = *fields.ClockIn
	}
	if fields.ClockOut != nil {
		rec.ClockOut = utils.Ptr(*fields.ClockOut)
	}
	if fields.BreakStart != nil {
		rec.BreakStart = utils.Ptr(*fields.BreakStart)
	}
	if fields.BreakEnd != nil {
		rec.BreakEnd = utils.Ptr(*fields.BreakEnd)
	}
	if fields.Approved != nil {
		rec.Approved = *fields.Approved
	}
	rec.Method = model.MethodAdminOverride

	if err := CheckInvariants(rec); err != nil {
		return nil, err
	}
	Recompute(rec)
	if err := s.store.Save(ctx, rec); err != nil {
		return nil, err
	}

	s.opts.Logger.Info("admin override", "record", rec.ID, "user", rec.UserID, "date", rec.Date, "admin", actor.UserID)
	return rec, nil
}

func (s *Service) subject(ctx context.Context, actor security.Identity, onBehalfOf *int64, badge string) (int64, error) {
	if badge != "" {
		if !actor.CanProxy() {
			return 0, forbiddenf("badge punches require a kiosk or admin session")
		}
		if s.opts.Directory == nil {
			return 0, validationf("badge lookup is not available")
		}
		id, err := s.opts.Directory.ResolveBadge(ctx, badge)
		if errors.Is(err, dbcore.ErrUnknownBadge) {
			return 0, notFoundf("badge %s is not assigned", badge)
		}
		if err != nil {
			return 0, err
		}
		return id, nil
	}
	if onBehalfOf != nil && *onBehalfOf != actor.UserID {
		if !actor.CanProxy() {
			return 0, forbiddenf("acting for user %d requires the proxy capability", *onBehalfOf)
		}
		return *onBehalfOf, nil
	}
	if actor.UserID == 0 {
		return 0, validationf("no user to act for")
	}
	return actor.UserID, nil
}

// checkMethod validates the punch method and, for token scans, the token.
func (s *Service) checkMethod(actor security.Identity, in PunchInput) (model.Method, *security.ScanToken, error) {
	method := in.Method
	if method == "" {
		method = model.MethodManual
		if in.Token != "" {
			method = model.MethodTokenScan
		}
	}

	switch method {
	case model.MethodTokenScan:
		if in.Token == "" {
			return "", nil, validationf("token is required for token-scan punches")
		}
		if s.opts.Tokens == nil {
			return "", nil, validationf("token scanning is not available")
		}
		token, err := s.opts.Tokens.Validate(in.Token)
		if err != nil {
			return "", nil, err
		}
		return method, &token, nil
	case model.MethodManual:
		return method, nil, nil
	case model.MethodAdminOverride:
		if !actor.IsAdmin() {
			return "", nil, forbiddenf("admin-override punches require the admin role")
		}
		return method, nil, nil
	}
	return "", nil, validationf("unknown method %q", method)
}

func (s *Service) resolveWhen(in PunchInput) (string, model.TimeOfDay, error) {
	now := s.now()
	date := in.Date
	if date == "" {
		date = utils.DateKey(now)
	} else if _, err := utils.ParseDate(date); err != nil {
		return "", 0, validationf("%v", err)
	}

	at := model.TimeOfDayFrom(now)
	if in.Time != nil {
		if !in.Time.Valid() {
			return "", 0, validationf("time is out of range")
		}
		at = *in.Time
	}
	return date, at, nil
}
