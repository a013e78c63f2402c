package jobs

import (
	"context"
	"errors"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/charlesng35/marketlive/internal/cache"
	"github.com/charlesng35/marketlive/internal/clientstate"
	"github.com/charlesng35/marketlive/pkg/logger"
)

const (
	defaultPollSpec  = "@every 30s"
	defaultPurgeSpec = "@hourly"
	jobTimeout       = 15 * time.Second
)

// UnreadPoller refreshes the notification unread counter from the backend.
type UnreadPoller interface {
	RefreshUnread(ctx context.Context) error
}

// SessionSource reports whether a user is signed in.
type SessionSource interface {
	Snapshot(ctx context.Context) (clientstate.Snapshot, error)
}

// Scheduler runs the periodic unread poll and the expired state purge.
type Scheduler struct {
	poller  UnreadPoller
	session SessionSource
	purger  cache.Purger
	cron    *cron.Cron
	now     func() time.Time
	log     *zap.Logger

	pollSchedule  string
	purgeSchedule string
}

// Option customises the Scheduler.
type Option func(*Scheduler)

// WithCron injects a preconfigured cron instance, primarily for testing.
func WithCron(c *cron.Cron) Option {
	return func(s *Scheduler) {
		if c != nil {
			s.cron = c
		}
	}
}

// WithNow overrides the clock used in job logs.
func WithNow(now func() time.Time) Option {
	return func(s *Scheduler) {
		if now != nil {
			s.now = now
		}
	}
}

// WithUnreadPoll enables the unread poll. The poll is skipped while no session exists.
func WithUnreadPoll(poller UnreadPoller, session SessionSource, spec string) Option {
	return func(s *Scheduler) {
		s.poller = poller
		s.session = session
		if spec != "" {
			s.pollSchedule = spec
		}
	}
}

// WithStatePurge enables purging expired entries from stores that need it.
func WithStatePurge(store cache.Store, spec string) Option {
	return func(s *Scheduler) {
		if purger, ok := store.(cache.Purger); ok {
			s.purger = purger
		}
		if spec != "" {
			s.purgeSchedule = spec
		}
	}
}

// New constructs a Scheduler. Jobs without dependencies are skipped.
func New(opts ...Option) *Scheduler {
	s := &Scheduler{
		now:           time.Now,
		pollSchedule:  defaultPollSpec,
		purgeSchedule: defaultPurgeSpec,
		log:           logger.WithModule("jobs"),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.cron == nil {
		s.cron = cron.New(cron.WithLogger(cron.DiscardLogger))
	}
	return s
}

// Start registers the enabled jobs and launches the scheduler.
func (s *Scheduler) Start() error {
	if s.poller == nil && s.purger == nil {
		return nil
	}

	if s.poller != nil {
		if _, err := s.cron.AddFunc(s.pollSchedule, func() {
			ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
			defer cancel()
			if err := s.PollUnread(ctx); err != nil {
				s.log.Warn("unread poll failed", zap.Error(err))
			}
		}); err != nil {
			return err
		}
	}

	if s.purger != nil {
		if _, err := s.cron.AddFunc(s.purgeSchedule, func() {
			ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
			defer cancel()
			if _, err := s.PurgeState(ctx); err != nil {
				s.log.Warn("state purge failed", zap.Error(err))
			}
		}); err != nil {
			return err
		}
	}

	s.cron.Start()
	return nil
}

// Stop halts the scheduler; the returned context is done once running jobs complete.
func (s *Scheduler) Stop() context.Context {
	if s.cron == nil {
		return context.Background()
	}
	return s.cron.Stop()
}

// PollUnread refreshes the unread counter when a session exists.
func (s *Scheduler) PollUnread(ctx context.Context) error {
	if s.poller == nil {
		return nil
	}
	if s.session != nil {
		snap, err := s.session.Snapshot(ctx)
		if err != nil {
			return err
		}
		if !snap.Authenticated {
			return nil
		}
	}
	return s.poller.RefreshUnread(ctx)
}

// PurgeState removes expired entries from the state store.
func (s *Scheduler) PurgeState(ctx context.Context) (int64, error) {
	if s.purger == nil {
		return 0, errors.New("jobs: state store does not support purging")
	}
	removed, err := s.purger.PurgeExpired(ctx)
	if err != nil {
		return 0, err
	}
	if removed > 0 {
		s.log.Debug("purged expired state", zap.Int64("removed", removed), zap.Time("at", s.now()))
	}
	return removed, nil
}

// RunOnce executes every enabled job sequentially.
func (s *Scheduler) RunOnce(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	var errs error
	if s.poller != nil {
		errs = multierr.Append(errs, s.PollUnread(ctx))
	}
	if s.purger != nil {
		_, err := s.PurgeState(ctx)
		errs = multierr.Append(errs, err)
	}
	return errs
}
