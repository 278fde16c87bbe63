// Package scheduler runs periodic device jobs and coalesces overlapping
// runs of the same job.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/singleflight"
)

var ErrUnknownJob = errors.New("unknown job")

type Job struct {
	Key      string
	Interval time.Duration
	Run      func(ctx context.Context) error
}

type Scheduler struct {
	clock  clockwork.Clock
	logger *slog.Logger
	group  singleflight.Group

	mu   sync.Mutex
	jobs map[string]Job
	keys []string
}

func New(clock clockwork.Clock, logger *slog.Logger) *Scheduler {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{clock: clock, logger: logger, jobs: map[string]Job{}}
}

func (s *Scheduler) Add(job Job) error {
	if job.Key == "" || job.Run == nil {
		return errors.New("job needs a key and a run function")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[job.Key]; ok {
		return fmt.Errorf("job %q already registered", job.Key)
	}
	s.jobs[job.Key] = job
	s.keys = append(s.keys, job.Key)
	return nil
}

// Run executes job key now. Callers arriving while a run of the same job is
// in progress wait for it and share its result instead of starting another.
func (s *Scheduler) Run(ctx context.Context, key string) error {
	s.mu.Lock()
	job, ok := s.jobs[key]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownJob, key)
	}

	_, err, shared := s.group.Do(key, func() (any, error) {
		return nil, job.Run(ctx)
	})
	if shared {
		s.logger.Debug("coalesced job run", "job", key)
	}
	return err
}

// Start launches one ticker per job. Everything it starts is torn down by
// the returned handle.
func (s *Scheduler) Start(ctx context.Context) *Handle {
	ctx, cancel := context.WithCancel(ctx)
	h := &Handle{scheduler: s, ctx: ctx, cancel: cancel}

	s.mu.Lock()
	jobs := make([]Job, 0, len(s.keys))
	for _, k := range s.keys {
		jobs = append(jobs, s.jobs[k])
	}
	s.mu.Unlock()

	for _, job := range jobs {
		if job.Interval <= 0 {
			continue
		}
		h.wg.Add(1)
		go func(job Job) {
			defer h.wg.Done()
			s.loop(ctx, job)
		}(job)
	}
	return h
}

func (s *Scheduler) loop(ctx context.Context, job Job) {
	ticker := s.clock.NewTicker(job.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			if err := s.Run(ctx, job.Key); err != nil && ctx.Err() == nil {
				s.logger.Debug("job failed", "job", job.Key, "error", err)
			}
		}
	}
}

// Handle is the lifecycle of a started scheduler.
type Handle struct {
	scheduler *Scheduler
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	stopOnce  sync.Once

	// mu orders wg.Add in Trigger against wg.Wait in Stop
	mu      sync.Mutex
	stopped bool
}

// Trigger runs job key in the background, coalesced with any run already in
// progress. It does nothing after Stop.
func (h *Handle) Trigger(key string) {
	h.mu.Lock()
	if h.stopped || h.ctx.Err() != nil {
		h.mu.Unlock()
		return
	}
	h.wg.Add(1)
	h.mu.Unlock()

	go func() {
		defer h.wg.Done()
		if err := h.scheduler.Run(h.ctx, key); err != nil && h.ctx.Err() == nil {
			h.scheduler.logger.Debug("triggered job failed", "job", key, "error", err)
		}
	}()
}

// Stop cancels every job and waits for running ones to return.
func (h *Handle) Stop() {
	h.stopOnce.Do(func() {
		h.mu.Lock()
		h.stopped = true
		h.mu.Unlock()
		h.cancel()
		h.wg.Wait()
	})
}

func (h *Handle) Done() <-chan struct{} {
	return h.ctx.Done()
}
