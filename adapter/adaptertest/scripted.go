// Package adaptertest provides a scripted adapter for tests.
package adaptertest

import (
	"context"
	"sync"
	"time"

	"github.com/c360/bcistream/adapter"
	"github.com/c360/bcistream/errors"
)

// Step is the result of one PollEvents call.
type Step struct {
	Events []adapter.Event
	Err    error
}

// Scripted replays a fixed sequence of poll results. Once the script is
// exhausted, PollEvents blocks until the timeout elapses or the adapter stops.
type Scripted struct {
	mu         sync.Mutex
	steps      []Step
	running    bool
	stopCh     chan struct{}
	startErr   error
	startFails int
	stopErr    error
	startCalls int
	stopCalls  int
	polls      int
}

var _ adapter.Adapter = (*Scripted)(nil)

// New returns a stopped adapter that will replay steps in order.
func New(steps ...Step) *Scripted {
	return &Scripted{steps: steps}
}

// FailStart makes the next n StartStream calls return err.
func (s *Scripted) FailStart(n int, err error) *Scripted {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.startFails, s.startErr = n, err
	return s
}

// FailStop makes StopStream return err.
func (s *Scripted) FailStop(err error) *Scripted {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopErr = err
	return s
}

// Append adds steps to the end of the script.
func (s *Scripted) Append(steps ...Step) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.steps = append(s.steps, steps...)
}

func (s *Scripted) Name() string { return "scripted" }

func (s *Scripted) StartStream(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.startCalls++
	if s.startFails > 0 {
		s.startFails--
		return s.startErr
	}
	if s.running {
		return nil
	}
	s.running = true
	s.stopCh = make(chan struct{})
	return nil
}

func (s *Scripted) StopStream() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.stopCalls++
	if s.running {
		s.running = false
		close(s.stopCh)
	}
	return s.stopErr
}

func (s *Scripted) PollEvents(ctx context.Context, timeout time.Duration) ([]adapter.Event, error) {
	s.mu.Lock()
	s.polls++
	if !s.running {
		s.mu.Unlock()
		return nil, errors.ErrAdapterStopped
	}
	if len(s.steps) > 0 {
		step := s.steps[0]
		s.steps = s.steps[1:]
		s.mu.Unlock()
		return step.Events, step.Err
	}
	stopCh := s.stopCh
	s.mu.Unlock()

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-stopCh:
		return nil, errors.ErrAdapterStopped
	case <-timer.C:
		return []adapter.Event{}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Running reports whether the adapter is started.
func (s *Scripted) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Calls returns how many times each method was invoked.
func (s *Scripted) Calls() (start, stop, poll int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.startCalls, s.stopCalls, s.polls
}

// Remaining returns the number of unplayed steps.
func (s *Scripted) Remaining() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.steps)
}
