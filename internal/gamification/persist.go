package gamification

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"
)

// persister writes the latest encoded aggregate behind the engine. Writes are
// coalesced: only the newest snapshot matters because each one is complete.
type persister struct {
	store  Store
	userID int64

	retryBase    time.Duration
	retryMax     time.Duration
	writeTimeout time.Duration
	warnAfter    int

	mu       sync.Mutex
	latest   []byte
	version  uint64
	saved    uint64
	failures int
	degraded bool
	changed  chan struct{}

	kick chan struct{}
	stop chan struct{}
	done chan struct{}
}

func newPersister(store Store, userID int64, opts Options) *persister {
	p := &persister{
		store:        store,
		userID:       userID,
		retryBase:    opts.RetryBase,
		retryMax:     opts.RetryMax,
		writeTimeout: opts.WriteTimeout,
		warnAfter:    3,
		changed:      make(chan struct{}),
		kick:         make(chan struct{}, 1),
		stop:         make(chan struct{}),
		done:         make(chan struct{}),
	}
	go p.run()
	return p
}

func (p *persister) enqueue(data []byte) {
	p.mu.Lock()
	p.latest = data
	p.version++
	p.mu.Unlock()
	select {
	case p.kick <- struct{}{}:
	default:
	}
}

func (p *persister) isDegraded() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.degraded
}

func (p *persister) broadcastLocked() {
	close(p.changed)
	p.changed = make(chan struct{})
}

func (p *persister) run() {
	defer close(p.done)
	for {
		select {
		case <-p.kick:
		case <-p.stop:
			return
		}
		if !p.drain() {
			return
		}
	}
}

// drain writes until the newest version is durable. It returns false if the
// persister was stopped while waiting to retry.
func (p *persister) drain() bool {
	for {
		p.mu.Lock()
		if p.saved >= p.version {
			p.mu.Unlock()
			return true
		}
		data, v := p.latest, p.version
		p.mu.Unlock()

		ctx, cancel := context.WithTimeout(context.Background(), p.writeTimeout)
		err := p.store.Save(ctx, p.userID, data)
		cancel()

		p.mu.Lock()
		if err == nil {
			if v > p.saved {
				p.saved = v
			}
			if p.degraded {
				log.Printf("[persist] user %d: progress writes recovered", p.userID)
			}
			p.failures = 0
			p.degraded = false
			p.broadcastLocked()
			p.mu.Unlock()
			continue
		}

		p.failures++
		if p.failures == p.warnAfter {
			p.degraded = true
			log.Printf("[persist] user %d: progress write failing repeatedly, keeping in-memory state: %v", p.userID, err)
			p.broadcastLocked()
		}
		delay := p.backoff(p.failures)
		p.mu.Unlock()

		select {
		case <-time.After(delay):
		case <-p.stop:
			return false
		}
	}
}

func (p *persister) backoff(failures int) time.Duration {
	d := p.retryBase
	for i := 1; i < failures && d < p.retryMax; i++ {
		d *= 2
	}
	if d > p.retryMax {
		d = p.retryMax
	}
	return d
}

// flush waits until everything enqueued so far is durable.
func (p *persister) flush(ctx context.Context) error {
	p.mu.Lock()
	target := p.version
	p.mu.Unlock()

	for {
		p.mu.Lock()
		if p.saved >= target {
			p.mu.Unlock()
			return nil
		}
		ch := p.changed
		p.mu.Unlock()

		select {
		case <-ch:
		case <-ctx.Done():
			return fmt.Errorf("flushing progress for user %d: %w", p.userID, ctx.Err())
		}
	}
}

// close flushes and stops the writer goroutine.
func (p *persister) close(ctx context.Context) error {
	err := p.flush(ctx)
	close(p.stop)
	<-p.done
	return err
}
