package security

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
)

// ErrTokenRejected is returned for any scan token that is expired or
// unreadable. The user recovers by rescanning.
var ErrTokenRejected = errors.New("expired code, rescan")

type Action string

const (
	ActionPunch Action = "punch"
	ActionShift Action = "shift"
)

const (
	DefaultRushInterval     = 60 * time.Second
	DefaultStandardInterval = 300 * time.Second
	DefaultBypassPrefix     = "BYPASS-"

	tokenVersion = "pc1."
)

// Window is a rush period in local hours, [Start, End).
type Window struct {
	Start int `yaml:"start" json:"start"`
	End   int `yaml:"end" json:"end"`
}

func (w Window) Contains(hour int) bool {
	if w.Start <= w.End {
		return hour >= w.Start && hour < w.End
	}
	// wraps midnight, e.g. 22-2
	return hour >= w.Start || hour < w.End
}

// Schedule decides the token bucket width for a given wall-clock time.
type Schedule struct {
	RushWindows      []Window
	RushInterval     time.Duration
	StandardInterval time.Duration
	Location         *time.Location
}

func (s Schedule) Interval(now time.Time) time.Duration {
	rush, standard := s.RushInterval, s.StandardInterval
	if rush <= 0 {
		rush = DefaultRushInterval
	}
	if standard <= 0 {
		standard = DefaultStandardInterval
	}
	loc := s.Location
	if loc == nil {
		loc = time.UTC
	}
	hour := now.In(loc).Hour()
	for _, w := range s.RushWindows {
		if w.Contains(hour) {
			return rush
		}
	}
	return standard
}

// Bucket returns the start of the bucket containing now, in unix millis.
func (s Schedule) Bucket(now time.Time) int64 {
	width := s.Interval(now).Milliseconds()
	ms := now.UnixMilli()
	return ms - ms%width
}

// Valid applies the double-width grace rule: a token is accepted while
// now - issuedAtBucket < 2 * interval(now). A bucket more than one interval
// ahead of now is rejected; one interval of clock skew is tolerated.
func (s Schedule) Valid(issuedAtBucket int64, now time.Time) bool {
	width := s.Interval(now).Milliseconds()
	age := now.UnixMilli() - issuedAtBucket
	return age < 2*width && age >= -width
}

type ScanToken struct {
	Value          string `json:"value"`
	IssuedAtBucket int64  `json:"issuedAtBucket"`
	Action         Action `json:"action"`
	TargetID       string `json:"targetId,omitempty"`
}

// ScanTokenIssuer produces the code shown on a kiosk display. It keeps no
// state; any issuer with a synchronized clock and the same schedule produces
// tokens every validator accepts.
type ScanTokenIssuer struct {
	schedule Schedule
	clock    clockwork.Clock
}

func NewScanTokenIssuer(schedule Schedule, clock clockwork.Clock) *ScanTokenIssuer {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &ScanTokenIssuer{schedule: schedule, clock: clock}
}

func (i *ScanTokenIssuer) Issue(action Action, targetID string) (ScanToken, error) {
	switch action {
	case "":
		action = ActionPunch
	case ActionPunch:
	case ActionShift:
		if targetID == "" {
			return ScanToken{}, fmt.Errorf("shift token requires a target id")
		}
	default:
		return ScanToken{}, fmt.Errorf("unknown token action %q", action)
	}
	if strings.Contains(targetID, "|") {
		return ScanToken{}, fmt.Errorf("target id must not contain '|'")
	}

	bucket := i.schedule.Bucket(i.clock.Now())
	raw := strings.Join([]string{
		string(action),
		strconv.FormatInt(bucket, 10),
		targetID,
		uuid.NewString(),
	}, "|")

	return ScanToken{
		Value:          tokenVersion + base64.RawURLEncoding.EncodeToString([]byte(raw)),
		IssuedAtBucket: bucket,
		Action:         action,
		TargetID:       targetID,
	}, nil
}

// Schedule exposes the issuer's bucket schedule, e.g. for display refresh.
func (i *ScanTokenIssuer) Schedule() Schedule {
	return i.schedule
}

type ValidatorOptions struct {
	// AllowBypass accepts any token starting with BypassPrefix. Offline and
	// test rigs only; never enable in a production deployment.
	AllowBypass  bool
	BypassPrefix string
}

type ScanTokenValidator struct {
	schedule Schedule
	clock    clockwork.Clock
	opts     ValidatorOptions
}

func NewScanTokenValidator(schedule Schedule, clock clockwork.Clock, opts ValidatorOptions) *ScanTokenValidator {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if opts.BypassPrefix == "" {
		opts.BypassPrefix = DefaultBypassPrefix
	}
	return &ScanTokenValidator{schedule: schedule, clock: clock, opts: opts}
}

// Validate decodes value and checks it against the current time. Tokens are
// never recorded, so the same value is accepted any number of times within
// its window.
func (v *ScanTokenValidator) Validate(value string) (ScanToken, error) {
	now := v.clock.Now()

	if strings.HasPrefix(value, v.opts.BypassPrefix) {
		if !v.opts.AllowBypass {
			return ScanToken{}, fmt.Errorf("%w: bypass tokens are disabled", ErrTokenRejected)
		}
		return ScanToken{
			Value:          value,
			IssuedAtBucket: now.UnixMilli(),
			Action:         ActionPunch,
		}, nil
	}

	token, err := DecodeScanToken(value)
	if err != nil {
		return ScanToken{}, err
	}
	if !v.schedule.Valid(token.IssuedAtBucket, now) {
		return ScanToken{}, fmt.Errorf("%w: issued %dms ago", ErrTokenRejected, now.UnixMilli()-token.IssuedAtBucket)
	}
	return token, nil
}

func DecodeScanToken(value string) (ScanToken, error) {
	encoded, ok := strings.CutPrefix(value, tokenVersion)
	if !ok {
		return ScanToken{}, fmt.Errorf("%w: unrecognised code", ErrTokenRejected)
	}
	raw, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return ScanToken{}, fmt.Errorf("%w: unreadable code", ErrTokenRejected)
	}
	parts := strings.Split(string(raw), "|")
	if len(parts) != 4 {
		return ScanToken{}, fmt.Errorf("%w: malformed code", ErrTokenRejected)
	}
	bucket, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return ScanToken{}, fmt.Errorf("%w: malformed bucket", ErrTokenRejected)
	}
	action := Action(parts[0])
	if action != ActionPunch && action != ActionShift {
		return ScanToken{}, fmt.Errorf("%w: unknown action", ErrTokenRejected)
	}
	return ScanToken{
		Value:          value,
		IssuedAtBucket: bucket,
		Action:         action,
		TargetID:       parts[2],
	}, nil
}
