package providers

import (
	"context"
	"sync"
	"time"

	dserrors "github.com/systmms/cloudsecrets/internal/errors"
	"github.com/systmms/cloudsecrets/internal/logging"
)

// PollState is the lifecycle position of a poller.
type PollState int

const (
	PollIdle PollState = iota
	PollScheduled
	PollFiring
	PollCancelled
)

func (s PollState) String() string {
	switch s {
	case PollIdle:
		return "idle"
	case PollScheduled:
		return "scheduled"
	case PollFiring:
		return "firing"
	case PollCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// poller runs cycle every interval until stopped. The loop owns its own
// context so a poll never outlives Stop.
type poller struct {
	interval time.Duration
	cycle    func(ctx context.Context) error
	backend  string
	logger   *logging.Logger

	mu     sync.Mutex
	state  PollState
	cancel context.CancelFunc
	done   chan struct{}
}

func newPoller(backend string, interval time.Duration, cycle func(ctx context.Context) error, logger *logging.Logger) *poller {
	return &poller{
		interval: interval,
		cycle:    cycle,
		backend:  backend,
		logger:   logger,
		state:    PollIdle,
	}
}

// Start schedules the first cycle one interval from now. Starting a poller
// that is not idle does nothing.
func (p *poller) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.state != PollIdle {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	p.done = make(chan struct{})
	p.state = PollScheduled

	go p.run(ctx)
}

// Stop cancels the loop and waits for an in-flight cycle to return.
// It is safe to call more than once.
func (p *poller) Stop() {
	p.mu.Lock()
	prev := p.state
	p.state = PollCancelled
	cancel, done := p.cancel, p.done
	p.mu.Unlock()

	if prev == PollIdle || prev == PollCancelled {
		return
	}

	cancel()
	<-done
}

// State returns the current lifecycle position.
func (p *poller) State() PollState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// transition moves to next unless the poller has been cancelled.
func (p *poller) transition(next PollState) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state == PollCancelled {
		return false
	}
	p.state = next
	return true
}

func (p *poller) run(ctx context.Context) {
	defer close(p.done)

	timer := time.NewTimer(p.interval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		// A timer that fired after Stop is stale.
		if ctx.Err() != nil || !p.transition(PollFiring) {
			return
		}

		err := p.cycle(ctx)
		recordPollCycle(p.backend, err)
		if err != nil && ctx.Err() == nil {
			if dserrors.IsRetryable(err) {
				p.logger.Warn("Background refresh of %s failed, retrying in %s: %v", p.backend, p.interval, err)
			} else {
				p.logger.Error("Background refresh of %s failed: %v", p.backend, err)
			}
		}

		if ctx.Err() != nil || !p.transition(PollScheduled) {
			return
		}
		timer.Reset(p.interval)
	}
}
