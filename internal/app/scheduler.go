package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"pdl_sync/internal/domain"
)

// Scheduler triggers full runs on a fixed interval.
type Scheduler struct {
	orch *Orchestrator

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}

	bg       sync.WaitGroup
	bgCancel []context.CancelFunc
}

func NewScheduler(o *Orchestrator) *Scheduler { return &Scheduler{orch: o} }

// Start arms the ticker. A scheduler that is already armed is disarmed first.
func (s *Scheduler) Start(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		return fmt.Errorf("scheduler: interval must be positive, got %s", interval)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopLocked()

	loopCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	s.cancel, s.done = cancel, done
	go s.loop(loopCtx, interval, done)
	log.Info().Dur("interval", interval).Msg("auto sync armed")
	return nil
}

// Stop disarms the ticker, cancels a background bootstrap and waits for
// both (and any run they started) to return.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopLocked()
	for _, cancel := range s.bgCancel {
		cancel()
	}
	s.bgCancel = nil
	s.bg.Wait()
}

func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancel != nil
}

func (s *Scheduler) stopLocked() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
	s.cancel, s.done = nil, nil
	log.Info().Msg("auto sync disarmed")
}

func (s *Scheduler) loop(ctx context.Context, interval time.Duration, done chan struct{}) {
	defer close(done)
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if _, err := s.orch.RunFull(ctx); err != nil {
				if errors.Is(err, domain.ErrRunInProgress) || ctx.Err() != nil {
					continue
				}
				log.Error().Err(err).Msg("scheduled sync failed")
			}
		}
	}
}

// BootstrapInBackground runs BootstrapIfEmpty on its own goroutine.
func (s *Scheduler) BootstrapInBackground(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	bctx, cancel := context.WithCancel(ctx)
	s.bgCancel = append(s.bgCancel, cancel)
	s.bg.Add(1)
	go func() {
		defer s.bg.Done()
		defer cancel()
		if _, err := s.BootstrapIfEmpty(bctx); err != nil && bctx.Err() == nil {
			log.Error().Err(err).Msg("bootstrap sync failed")
		}
	}()
}

// BootstrapIfEmpty runs one full sync when the store holds no agencies. It
// acts at most once per orchestrator; ran reports whether a run was
// started.
func (s *Scheduler) BootstrapIfEmpty(ctx context.Context) (ran bool, err error) {
	if !s.orch.claimBootstrap() {
		return false, nil
	}
	n, err := s.orch.store.CountAgencies(ctx)
	if err != nil {
		s.orch.releaseBootstrap()
		return false, fmt.Errorf("count agencies: %w", err)
	}
	if n > 0 {
		log.Info().Int("agencies", n).Msg("store already populated, skipping bootstrap")
		return false, nil
	}
	log.Info().Msg("store empty, bootstrapping")
	_, err = s.orch.RunFull(ctx)
	return true, err
}
