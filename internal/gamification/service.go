package gamification

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/pharm-prep/backend/internal/clock"
)

// Service keeps one Engine per learner and wires the shared backends into it.
type Service struct {
	store   Store
	opts    Options
	clock   clock.Clock
	scores  ScoreRecorder
	fetcher StreakStatusFetcher

	mu       sync.Mutex
	engines  map[int64]*Engine
	lastUsed map[int64]time.Time
	// closing holds learners whose engine is still flushing; a new engine for
	// them waits so it never loads a stale record.
	closing map[int64]chan struct{}
}

// NewService builds a registry. scores and fetcher may be nil.
func NewService(store Store, opts Options, scores ScoreRecorder, fetcher StreakStatusFetcher) *Service {
	return &Service{
		store:    store,
		opts:     opts,
		clock:    opts.withDefaults().Clock,
		scores:   scores,
		fetcher:  fetcher,
		engines:  make(map[int64]*Engine),
		lastUsed: make(map[int64]time.Time),
		closing:  make(map[int64]chan struct{}),
	}
}

// Engine returns the learner's engine, loading it on first use.
func (s *Service) Engine(ctx context.Context, userID int64) (*Engine, error) {
	for {
		s.mu.Lock()
		if e, ok := s.engines[userID]; ok {
			s.lastUsed[userID] = s.clock.Now()
			s.mu.Unlock()
			return e, nil
		}
		done, flushing := s.closing[userID]
		if !flushing {
			break
		}
		s.mu.Unlock()
		select {
		case <-done:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	defer s.mu.Unlock()

	e, err := NewEngine(ctx, userID, s.store, s.opts)
	if err != nil {
		return nil, fmt.Errorf("init engine for user %d: %w", userID, err)
	}
	s.engines[userID] = e
	s.lastUsed[userID] = s.clock.Now()
	return e, nil
}

// detachLocked removes the learner's engine from the registry and marks it
// as closing. Callers must hand the result to closeDetached.
func (s *Service) detachLocked(userID int64) (*Engine, chan struct{}) {
	e, ok := s.engines[userID]
	if !ok {
		return nil, nil
	}
	delete(s.engines, userID)
	delete(s.lastUsed, userID)
	done := make(chan struct{})
	s.closing[userID] = done
	return e, done
}

func (s *Service) closeDetached(ctx context.Context, e *Engine, done chan struct{}) error {
	err := e.Close(ctx)
	s.mu.Lock()
	delete(s.closing, e.UserID())
	s.mu.Unlock()
	close(done)
	return err
}

// Resume refreshes the server streak row, rolls the league and returns a
// fresh snapshot. A failed refresh keeps the last good row.
func (s *Service) Resume(ctx context.Context, userID int64) (*Engine, error) {
	e, err := s.Engine(ctx, userID)
	if err != nil {
		return nil, err
	}
	if err := e.RefreshServerStreak(ctx, s.fetcher); err != nil {
		log.Printf("[progress] user %d: %v", userID, err)
	}
	if _, err := e.Resume(ctx); err != nil {
		return nil, err
	}
	return e, nil
}

// Suspend waits for the learner's pending write.
func (s *Service) Suspend(ctx context.Context, userID int64) error {
	s.mu.Lock()
	e, ok := s.engines[userID]
	s.mu.Unlock()
	if !ok {
		return nil
	}
	return e.Suspend(ctx)
}

// Teardown flushes and forgets the learner's engine. The next request loads
// the stored record again, picking up writes made outside this process.
func (s *Service) Teardown(ctx context.Context, userID int64) error {
	s.mu.Lock()
	e, done := s.detachLocked(userID)
	s.mu.Unlock()
	if e == nil {
		return nil
	}
	return s.closeDetached(ctx, e, done)
}

// EvictIdle tears down every engine unused for at least maxIdle and returns
// how many were evicted.
func (s *Service) EvictIdle(ctx context.Context, maxIdle time.Duration) (int, error) {
	now := s.clock.Now()
	type detached struct {
		e    *Engine
		done chan struct{}
	}
	var idle []detached
	s.mu.Lock()
	for id, used := range s.lastUsed {
		if now.Sub(used) < maxIdle {
			continue
		}
		e, done := s.detachLocked(id)
		if e != nil {
			idle = append(idle, detached{e, done})
		}
	}
	s.mu.Unlock()

	var errs []error
	for _, d := range idle {
		if err := s.closeDetached(ctx, d.e, d.done); err != nil {
			errs = append(errs, err)
		}
	}
	return len(idle), errors.Join(errs...)
}

// StartIdleEvictionWorker sweeps idle engines every maxIdle/2 until ctx ends.
func (s *Service) StartIdleEvictionWorker(ctx context.Context, maxIdle time.Duration) {
	ticker := time.NewTicker(max(maxIdle/2, time.Second))
	defer ticker.Stop()

	log.Printf("[progress] idle eviction worker started (max idle %s)", maxIdle)

	for {
		select {
		case <-ctx.Done():
			log.Println("[progress] idle eviction worker shutting down")
			return
		case <-ticker.C:
			n, err := s.EvictIdle(ctx, maxIdle)
			if err != nil {
				log.Printf("[progress] idle eviction: %v", err)
			}
			if n > 0 {
				log.Printf("[progress] evicted %d idle engine(s)", n)
			}
		}
	}
}

// Shutdown closes every engine, waiting for their writes.
func (s *Service) Shutdown(ctx context.Context) error {
	type detached struct {
		e    *Engine
		done chan struct{}
	}
	s.mu.Lock()
	all := make([]detached, 0, len(s.engines))
	for id := range s.engines {
		e, done := s.detachLocked(id)
		all = append(all, detached{e, done})
	}
	s.mu.Unlock()

	var errs []error
	for _, d := range all {
		if err := s.closeDetached(ctx, d.e, d.done); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		log.Printf("[progress] shutdown: %d engine(s) did not flush", len(errs))
	}
	return errors.Join(errs...)
}

// Loaded reports how many engines are resident.
func (s *Service) Loaded() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.engines)
}

// PushScore submits the learner's weekly XP to the leaderboard. Failures are
// logged; the local aggregate is unaffected.
func (s *Service) PushScore(ctx context.Context, e *Engine) {
	if s.scores == nil {
		return
	}
	week, tier, xp := e.LeagueStanding()
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := s.scores.RecordWeeklyXP(ctx, e.UserID(), week, tier, xp); err != nil {
		log.Printf("[league] user %d: score push failed: %v", e.UserID(), err)
	}
}
