package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/phuslu/log"
	"github.com/robfig/cron/v3"

	"github.com/elonfeng/marketnews/internal/config"
	"github.com/elonfeng/marketnews/internal/pipeline"
	"github.com/elonfeng/marketnews/internal/queue"
)

// Poller is the ingestion job.
type Poller interface {
	Poll(ctx context.Context, force bool) (pipeline.PollStats, error)
}

// DigestJob dispatches the digest window due now, if any.
type DigestJob interface {
	Run(ctx context.Context) (*pipeline.DigestReport, error)
}

// Handler processes one queue message body.
type Handler interface {
	HandleMessage(ctx context.Context, body []byte) error
}

// Scheduler fires the poll and digest jobs on cron schedules evaluated in
// the market timezone.
type Scheduler struct {
	cron    *cron.Cron
	poller  Poller
	digests DigestJob
	logger  *log.Logger

	mu      sync.Mutex
	running map[string]bool
}

// New registers the poll and digest jobs. A nil job is not scheduled.
func New(cfg config.ScheduleConfig, loc *time.Location, poller Poller, digests DigestJob, logger *log.Logger) (*Scheduler, error) {
	if loc == nil {
		loc = time.UTC
	}
	s := &Scheduler{
		cron:    cron.New(cron.WithLocation(loc)),
		poller:  poller,
		digests: digests,
		logger:  logger,
		running: make(map[string]bool),
	}
	if poller != nil {
		if _, err := s.cron.AddFunc(cfg.PollCron, func() { s.guard("poll", s.poll) }); err != nil {
			return nil, fmt.Errorf("schedule poll %q: %w", cfg.PollCron, err)
		}
	}
	if digests != nil {
		if _, err := s.cron.AddFunc(cfg.DigestCron, func() { s.guard("digest", s.digest) }); err != nil {
			return nil, fmt.Errorf("schedule digest %q: %w", cfg.DigestCron, err)
		}
	}
	return s, nil
}

// Run starts the cron scheduler and blocks until ctx is cancelled, then
// waits for running jobs to finish.
func (s *Scheduler) Run(ctx context.Context) error {
	s.cron.Start()
	s.logger.Info().Int("jobs", len(s.cron.Entries())).Msg("scheduler running")

	<-ctx.Done()
	<-s.cron.Stop().Done()
	s.logger.Info().Msg("scheduler stopped")
	return ctx.Err()
}

// guard skips a firing while the previous run of the same job is active.
func (s *Scheduler) guard(name string, job func()) {
	s.mu.Lock()
	if s.running[name] {
		s.mu.Unlock()
		s.logger.Warn().Str("job", name).Msg("previous run still active, skipping")
		return
	}
	s.running[name] = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.running[name] = false
		s.mu.Unlock()
	}()
	job()
}

func (s *Scheduler) poll() {
	ctx, cancel := context.WithTimeout(context.Background(), 4*time.Minute)
	defer cancel()
	if _, err := s.poller.Poll(ctx, false); err != nil {
		s.logger.Error().Err(err).Msg("poll")
	}
}

func (s *Scheduler) digest() {
	ctx, cancel := context.WithTimeout(context.Background(), 4*time.Minute)
	defer cancel()
	if _, err := s.digests.Run(ctx); err != nil {
		s.logger.Error().Err(err).Msg("digest")
	}
}

// Work runs workers goroutines that dequeue and handle messages until ctx
// is cancelled. A message whose handling fails is dead-lettered with the
// error.
func Work(ctx context.Context, q queue.Queue, h Handler, workers int, logger *log.Logger) error {
	if workers < 1 {
		workers = 1
	}
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			worker(ctx, id, q, h, logger)
		}(i)
	}
	logger.Info().Int("workers", workers).Msg("queue workers running")
	wg.Wait()
	return ctx.Err()
}

func worker(ctx context.Context, id int, q queue.Queue, h Handler, logger *log.Logger) {
	for ctx.Err() == nil {
		body, err := q.Dequeue(ctx)
		if errors.Is(err, queue.ErrEmpty) {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Error().Int("worker", id).Err(err).Msg("dequeue")
			sleep(ctx, time.Second)
			continue
		}
		if err := h.HandleMessage(ctx, body); err != nil {
			logger.Error().Int("worker", id).Err(err).Msg("process message")
			if dlErr := q.DeadLetter(context.WithoutCancel(ctx), body, err.Error()); dlErr != nil {
				logger.Error().Int("worker", id).Err(dlErr).Msg("dead letter")
			}
		}
	}
}

func sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
