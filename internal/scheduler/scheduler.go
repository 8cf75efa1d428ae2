// Package scheduler runs pipeline jobs on cron expressions while the server
// is up.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Job is a scheduled unit of work. It receives a context that is cancelled
// when the scheduler stops.
type Job func(ctx context.Context) error

// Scheduler manages cron-based job scheduling with timezone support.
type Scheduler struct {
	cron     *cron.Cron
	location *time.Location

	mu      sync.Mutex
	entries map[string]cron.EntryID
	ctx     context.Context
	cancel  context.CancelFunc
}

// New creates a scheduler for the given timezone. Overlapping firings of the
// same job are skipped.
func New(timezone string) (*Scheduler, error) {
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		return nil, fmt.Errorf("load timezone %q: %w", timezone, err)
	}

	logger := cronLogger{log.Logger.With().Str("component", "scheduler").Logger()}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cron: cron.New(
			cron.WithLocation(loc),
			cron.WithLogger(logger),
			cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
		),
		location: loc,
		entries:  make(map[string]cron.EntryID),
		ctx:      ctx,
		cancel:   cancel,
	}, nil
}

// Add registers a named job on a standard 5-field cron spec. Adding a name
// twice replaces the earlier entry.
func (s *Scheduler) Add(name, spec string, job Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if id, ok := s.entries[name]; ok {
		s.cron.Remove(id)
	}

	id, err := s.cron.AddFunc(spec, func() {
		start := time.Now()
		l := log.With().Str("job", name).Logger()
		l.Info().Msg("scheduled job started")
		if err := job(s.ctx); err != nil {
			l.Error().Err(err).Dur("took", time.Since(start)).Msg("scheduled job failed")
			return
		}
		l.Info().Dur("took", time.Since(start)).Msg("scheduled job finished")
	})
	if err != nil {
		return fmt.Errorf("add cron job %s: %w", name, err)
	}
	s.entries[name] = id
	return nil
}

// Next returns the next firing time of a named job.
func (s *Scheduler) Next(name string) (time.Time, bool) {
	s.mu.Lock()
	id, ok := s.entries[name]
	s.mu.Unlock()
	if !ok {
		return time.Time{}, false
	}
	e := s.cron.Entry(id)
	if e.Schedule == nil {
		return time.Time{}, false
	}
	return e.Schedule.Next(time.Now().In(s.location)), true
}

// Run starts the scheduler and blocks until ctx is done, then waits for
// running jobs to finish.
func (s *Scheduler) Run(ctx context.Context) error {
	s.cron.Start()
	<-ctx.Done()
	s.cancel()
	<-s.cron.Stop().Done()
	return nil
}

// cronLogger adapts zerolog to cron.Logger.
type cronLogger struct{ l zerolog.Logger }

func (c cronLogger) Info(msg string, keysAndValues ...any) {
	c.l.Debug().Fields(keysAndValues).Msg(msg)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...any) {
	c.l.Error().Err(err).Fields(keysAndValues).Msg(msg)
}
