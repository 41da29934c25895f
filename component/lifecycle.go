package component

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/c360/bcistream/errors"
)

// State represents the current lifecycle state of a component
type State int

const (
	// StateCreated indicates component was created but not initialized
	StateCreated State = iota
	// StateInitialized indicates component was initialized but not started
	StateInitialized
	// StateStarted indicates component is running
	StateStarted
	// StateStopped indicates component was stopped
	StateStopped
	// StateFailed indicates component failed during lifecycle operation
	StateFailed
)

// String returns a string representation of the component state
func (cs State) String() string {
	switch cs {
	case StateCreated:
		return "created"
	case StateInitialized:
		return "initialized"
	case StateStarted:
		return "started"
	case StateStopped:
		return "stopped"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// LifecycleComponent defines components that support full lifecycle management
type LifecycleComponent interface {
	Discoverable
	Initialize() error
	Start(ctx context.Context) error
	Stop(timeout time.Duration) error
}

// ManagedComponent tracks a component and its lifecycle state
type ManagedComponent struct {
	Name      string
	Component LifecycleComponent
	State     State

	// Context is the child context passed to Start. Only the Manager holds it.
	Context context.Context
	Cancel  context.CancelFunc

	// StartOrder tracks the order components were started for reverse shutdown
	StartOrder int

	// LastError tracks the last error that occurred during lifecycle operations
	LastError error
}

// Manager runs a fixed set of components.
type Manager struct {
	logger *slog.Logger

	mu         sync.Mutex
	components []*ManagedComponent
	started    int
}

// NewManager returns an empty manager.
func NewManager(logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{logger: logger.With("component", "manager")}
}

// Add registers c under name. Names must be unique.
func (m *Manager) Add(name string, c LifecycleComponent) error {
	if c == nil {
		return errors.Invalidf(errors.ErrInvalidConfig, "Manager", "Add", "component %q is nil", name)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, mc := range m.components {
		if mc.Name == name {
			return errors.Invalidf(errors.ErrInvalidConfig, "Manager", "Add", "component %q already registered", name)
		}
	}
	m.components = append(m.components, &ManagedComponent{Name: name, Component: c, State: StateCreated})
	return nil
}

// Start initializes and starts every component in registration order. If one
// fails, the components already started are stopped again.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, mc := range m.components {
		if mc.State == StateStarted {
			continue
		}
		if err := mc.Component.Initialize(); err != nil {
			mc.State, mc.LastError = StateFailed, err
			m.stopLocked(5 * time.Second)
			return errors.Wrap(err, "Manager", "Start", fmt.Sprintf("initialize %s", mc.Name))
		}
		mc.State = StateInitialized

		mc.Context, mc.Cancel = context.WithCancel(ctx)
		if err := mc.Component.Start(mc.Context); err != nil {
			mc.Cancel()
			mc.State, mc.LastError = StateFailed, err
			m.stopLocked(5 * time.Second)
			return errors.Wrap(err, "Manager", "Start", fmt.Sprintf("start %s", mc.Name))
		}
		m.started++
		mc.StartOrder = m.started
		mc.State = StateStarted
		m.logger.Info("Component started", "name", mc.Name, "type", mc.Component.Meta().Type)
	}
	return nil
}

// Stop stops started components in reverse start order, giving each the full
// timeout.
func (m *Manager) Stop(timeout time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stopLocked(timeout)
}

func (m *Manager) stopLocked(timeout time.Duration) error {
	var errs []error
	for i := len(m.components) - 1; i >= 0; i-- {
		mc := m.components[i]
		if mc.State != StateStarted {
			continue
		}
		err := mc.Component.Stop(timeout)
		mc.Cancel()
		if err != nil {
			mc.State, mc.LastError = StateFailed, err
			m.logger.Error("Component stop failed", "name", mc.Name, "error", err)
			errs = append(errs, fmt.Errorf("stop %s: %w", mc.Name, err))
			continue
		}
		mc.State = StateStopped
		m.logger.Info("Component stopped", "name", mc.Name)
	}
	return stderrors.Join(errs...)
}

// States returns the lifecycle state of every component.
func (m *Manager) States() map[string]State {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]State, len(m.components))
	for _, mc := range m.components {
		out[mc.Name] = mc.State
	}
	return out
}

// Health returns the health of every component. A component that is not
// running is reported unhealthy with its last lifecycle error.
func (m *Manager) Health() map[string]HealthStatus {
	m.mu.Lock()
	components := make([]*ManagedComponent, len(m.components))
	copy(components, m.components)
	states := make([]State, len(components))
	lastErrs := make([]error, len(components))
	for i, mc := range components {
		states[i], lastErrs[i] = mc.State, mc.LastError
	}
	m.mu.Unlock()

	out := make(map[string]HealthStatus, len(components))
	for i, mc := range components {
		hs := mc.Component.Health()
		if states[i] != StateStarted {
			hs.Healthy = false
			if lastErrs[i] != nil {
				hs.LastError = lastErrs[i].Error()
			} else if hs.LastError == "" {
				hs.LastError = "component " + states[i].String()
			}
		}
		out[mc.Name] = hs
	}
	return out
}

// IsLifecycleComponent checks if a component supports lifecycle management
func IsLifecycleComponent(comp Discoverable) bool {
	_, ok := comp.(LifecycleComponent)
	return ok
}
