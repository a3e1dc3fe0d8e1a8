// Package scheduler runs the periodic jobs: code dispatch ahead of upcoming
// events and code expiry after past ones.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/AlexTLDR/evite-checkin/internal/database"
	"github.com/AlexTLDR/evite-checkin/internal/rsvp"
)

type EventLister interface {
	ListEventsStartingBetween(ctx context.Context, from, to time.Time) ([]*database.Event, error)
}

// Dispatcher sends the codes that have not been delivered yet.
type Dispatcher interface {
	DispatchPending(ctx context.Context, eventID int64) ([]rsvp.DispatchResult, error)
}

type Expirer interface {
	ExpireEvent(ctx context.Context, eventID int64) (int64, error)
}

type Config struct {
	// DispatchSchedule and ExpireSchedule are cron specs; an empty spec
	// disables the job.
	DispatchSchedule string
	DispatchLead     time.Duration
	ExpireSchedule   string
	ExpireGrace      time.Duration
	Location         *time.Location
	// JobTimeout bounds a single run.
	JobTimeout time.Duration
}

type Scheduler struct {
	cron       *cron.Cron
	cfg        Config
	events     EventLister
	dispatcher Dispatcher
	expirer    Expirer
	log        logrus.FieldLogger
	now        func() time.Time
}

func New(cfg Config, events EventLister, dispatcher Dispatcher, expirer Expirer, log logrus.FieldLogger) *Scheduler {
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.JobTimeout <= 0 {
		cfg.JobTimeout = 10 * time.Minute
	}
	log = log.WithField("component", "scheduler")
	return &Scheduler{
		cron: cron.New(
			cron.WithLocation(cfg.Location),
			cron.WithChain(cron.SkipIfStillRunning(cron.PrintfLogger(log))),
		),
		cfg:        cfg,
		events:     events,
		dispatcher: dispatcher,
		expirer:    expirer,
		log:        log,
		now:        time.Now,
	}
}

// Start registers the configured jobs and starts the cron runner.
func (s *Scheduler) Start() error {
	jobs := []struct {
		name string
		spec string
		run  func(context.Context) error
	}{
		{"dispatch", s.cfg.DispatchSchedule, s.RunDispatch},
		{"expire", s.cfg.ExpireSchedule, s.RunExpiry},
	}

	for _, job := range jobs {
		if job.spec == "" {
			continue
		}
		_, err := s.cron.AddFunc(job.spec, func() {
			ctx, cancel := context.WithTimeout(context.Background(), s.cfg.JobTimeout)
			defer cancel()
			if err := job.run(ctx); err != nil {
				s.log.WithField("job", job.name).WithError(err).Error("scheduled job failed")
			}
		})
		if err != nil {
			return fmt.Errorf("failed to schedule %s job %q: %w", job.name, job.spec, err)
		}
		s.log.WithFields(logrus.Fields{"job": job.name, "schedule": job.spec}).Info("job scheduled")
	}

	s.cron.Start()
	return nil
}

// Stop stops the runner. The returned context is done when running jobs
// have finished.
func (s *Scheduler) Stop() context.Context {
	return s.cron.Stop()
}

// RunDispatch sends the undelivered codes of every event starting within the
// dispatch lead. Guests already sent their code are skipped.
func (s *Scheduler) RunDispatch(ctx context.Context) error {
	now := s.now()
	events, err := s.events.ListEventsStartingBetween(ctx, now, now.Add(s.cfg.DispatchLead))
	if err != nil {
		return err
	}

	for _, e := range events {
		results, err := s.dispatcher.DispatchPending(ctx, e.ID)
		if err != nil {
			s.log.WithField("event_id", e.ID).WithError(err).Error("dispatch failed")
			continue
		}
		s.log.WithFields(logrus.Fields{
			"event_id": e.ID,
			"guests":   len(results),
		}).Info("scheduled dispatch done")
	}
	return nil
}

// RunExpiry expires the active codes of events that started more than the
// grace period ago.
func (s *Scheduler) RunExpiry(ctx context.Context) error {
	cutoff := s.now().Add(-s.cfg.ExpireGrace)
	events, err := s.events.ListEventsStartingBetween(ctx, time.Unix(0, 0), cutoff)
	if err != nil {
		return err
	}

	var total int64
	for _, e := range events {
		n, err := s.expirer.ExpireEvent(ctx, e.ID)
		if err != nil {
			s.log.WithField("event_id", e.ID).WithError(err).Error("expiry failed")
			continue
		}
		total += n
	}
	if total > 0 {
		s.log.WithField("count", total).Info("expired codes of past events")
	}
	return nil
}
