// Package scheduler provides cron-based scheduling of KPI digest runs.
package scheduler

import (
	"context"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/opsmetric-team/opsmetric/internal/config"
	"github.com/opsmetric-team/opsmetric/internal/engine"
	"github.com/opsmetric-team/opsmetric/internal/model"
	"github.com/opsmetric-team/opsmetric/internal/notifier"
	"github.com/opsmetric-team/opsmetric/internal/source"
)

// DefaultDigestTimeout is the default timeout for digest runs.
const DefaultDigestTimeout = 5 * time.Minute

// Scheduler manages scheduled digest jobs. Each run invalidates the
// session cache first, so a digest always reflects fresh source data.
type Scheduler struct {
	cron          *cron.Cron
	engine        *engine.Engine
	session       *source.Session
	notifier      notifier.Notifier
	digest        config.DigestConfig
	digestTimeout time.Duration

	mu      sync.Mutex
	running bool
	busy    int32 // atomic flag to prevent concurrent runs
}

// New creates a new Scheduler. Cron expressions are interpreted in loc;
// if loc is nil, UTC is used.
func New(eng *engine.Engine, sess *source.Session, notify notifier.Notifier, digest config.DigestConfig, loc *time.Location) *Scheduler {
	if loc == nil {
		loc = time.UTC
	}
	return &Scheduler{
		cron:          cron.New(cron.WithSeconds(), cron.WithLocation(loc)),
		engine:        eng,
		session:       sess,
		notifier:      notify,
		digest:        digest,
		digestTimeout: DefaultDigestTimeout,
	}
}

// SetDigestTimeout sets the timeout for digest runs.
func (s *Scheduler) SetDigestTimeout(timeout time.Duration) {
	s.digestTimeout = timeout
}

// Schedule adds a job with the given cron expression.
func (s *Scheduler) Schedule(cronExpr string) error {
	_, err := s.cron.AddFunc(cronExpr, func() {
		s.runDigest()
	})
	return err
}

// Start begins running scheduled jobs.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return
	}

	s.cron.Start()
	s.running = true
	log.Println("Scheduler started")
}

// Stop halts all scheduled jobs.
func (s *Scheduler) Stop() context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return context.Background()
	}

	ctx := s.cron.Stop()
	s.running = false
	log.Println("Scheduler stopped")
	return ctx
}

// RunNow triggers an immediate digest run (bypassing the schedule).
func (s *Scheduler) RunNow() {
	s.runDigest()
}

// runDigest refreshes the cache, computes every KPI and delivers the
// digest. An atomic flag prevents overlapping runs.
func (s *Scheduler) runDigest() {
	if !atomic.CompareAndSwapInt32(&s.busy, 0, 1) {
		log.Println("Digest already in progress, skipping this run")
		return
	}
	defer atomic.StoreInt32(&s.busy, 0)

	ctx, cancel := context.WithTimeout(context.Background(), s.digestTimeout)
	defer cancel()

	log.Println("Starting scheduled digest...")
	s.session.Invalidate()

	digest, err := BuildDigest(ctx, s.engine, s.digest)
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			log.Printf("Digest timed out after %v", s.digestTimeout)
		} else {
			log.Printf("Digest failed: %v", err)
		}
		return
	}

	log.Printf("Digest complete: %d KPIs for %s / %s",
		len(digest.Results), digest.Country, digest.Week)

	if err := s.notifier.Send(ctx, digest); err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			log.Printf("Notification timed out")
		} else {
			log.Printf("Notification failed: %v", err)
		}
		return
	}

	log.Printf("Digest sent via %s", s.notifier.Name())
}

// BuildDigest computes every catalogue KPI for the configured country and
// week. An empty configured week resolves to the latest week present in
// the weeks table.
func BuildDigest(ctx context.Context, eng *engine.Engine, cfg config.DigestConfig) (*model.Digest, error) {
	week := cfg.Week
	if week == "" {
		weeks, err := eng.Weeks(ctx, cfg.WeeksTable)
		if err != nil {
			return nil, fmt.Errorf("discovering latest week: %w", err)
		}
		if len(weeks) > 0 {
			week = weeks[len(weeks)-1]
		}
	}

	fc := model.FilterContext{Country: cfg.Country, Week: week}
	results, errs := eng.ComputeAll(ctx, fc)
	for _, err := range errs {
		log.Printf("Warning: digest: %v", err)
	}
	if len(results) == 0 && len(errs) > 0 {
		return nil, errs[0]
	}

	return &model.Digest{
		ReqID:       fmt.Sprintf("opsmetric-%d", time.Now().UnixNano()),
		GeneratedAt: time.Now(),
		Country:     cfg.Country,
		Week:        week,
		Results:     results,
	}, nil
}

// IsRunning returns whether the scheduler is currently active.
func (s *Scheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// IsBusy returns whether a digest is currently in progress.
func (s *Scheduler) IsBusy() bool {
	return atomic.LoadInt32(&s.busy) == 1
}
