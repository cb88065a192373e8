package job

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/digitaldrywood/taskpulse/internal/auth"
	"github.com/digitaldrywood/taskpulse/internal/logger"
)

// Runner performs one recompute.
type Runner interface {
	Run(ctx context.Context, a auth.Authorizer, trigger string) (*Result, error)
}

// Identity supplies the authorizer for scheduled runs and saves whatever the
// run changed about it.
type Identity interface {
	Authorizer() auth.Authorizer
	Persist(ctx context.Context) error
}

// Scheduler runs the recompute on a fixed interval, independent of requests.
type Scheduler struct {
	runner   Runner
	identity Identity
	interval time.Duration

	mu      sync.Mutex
	lastRun time.Time
	lastErr error

	// Control
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewScheduler(runner Runner, identity Identity, interval time.Duration) *Scheduler {
	if interval <= 0 {
		interval = 5 * time.Minute
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Scheduler{
		runner:   runner,
		identity: identity,
		interval: interval,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start runs once immediately and then every interval.
func (s *Scheduler) Start() {
	s.wg.Add(1)
	go s.loop()
	logger.Info("scheduler started", "interval", s.interval)
}

// Stop cancels a run in flight and waits for the loop to exit.
func (s *Scheduler) Stop() {
	s.cancel()
	s.wg.Wait()
	logger.Info("scheduler stopped")
}

func (s *Scheduler) loop() {
	defer s.wg.Done()

	s.tick()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.tick()
		}
	}
}

// tick runs one recompute. Errors and panics are logged and never stop the
// loop; ticks missed while a run is in progress are dropped by the ticker.
func (s *Scheduler) tick() {
	started := time.Now()
	err := s.runSafely()
	if perr := s.identity.Persist(context.WithoutCancel(s.ctx)); perr != nil {
		logger.Warn("failed to persist service credential", "error", perr)
	}

	s.mu.Lock()
	s.lastRun, s.lastErr = started, err
	s.mu.Unlock()

	if err != nil {
		logger.Error("scheduled recompute failed", "at", started.Format(time.RFC3339), "error", err)
	}
}

func (s *Scheduler) runSafely() (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("recompute panicked: %v", r)
		}
	}()

	_, err = s.runner.Run(s.ctx, s.identity.Authorizer(), TriggerSchedule)
	return err
}

// Last reports when the latest scheduled run started and how it ended.
func (s *Scheduler) Last() (time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastRun, s.lastErr
}
