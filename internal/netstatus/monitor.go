package netstatus

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Status is the process-wide connectivity state
type Status struct {
	IsOnline          bool       `json:"isOnline"`
	IsReconnecting    bool       `json:"isReconnecting"`
	ReconnectAttempts int        `json:"reconnectAttempts"`
	LastConnectedAt   *time.Time `json:"lastConnectedAt"`
}

// Source is the runtime connectivity signal
type Source interface {
	// Online reports current connectivity
	Online() bool
	// Watch delivers connectivity values until ctx is done
	Watch(ctx context.Context) <-chan bool
}

// Monitor owns Status. Connectivity fields change only through
// HandleConnectivity; the reconnect fields only through the reconnect mutators.
type Monitor struct {
	source Source
	log    *logrus.Entry
	now    func() time.Time

	mu           sync.RWMutex
	status       Status
	onChange     []func(Status)
	onTransition []func(online bool)
}

// NewMonitor initializes the status from the source's current signal.
// A Notifier source is subscribed immediately.
func NewMonitor(source Source, log *logrus.Entry) *Monitor {
	m := &Monitor{
		source: source,
		log:    log.WithField("component", "netstatus"),
		now:    time.Now,
	}
	m.status.IsOnline = source.Online()
	if m.status.IsOnline {
		now := m.now()
		m.status.LastConnectedAt = &now
	}
	if n, ok := source.(Notifier); ok {
		n.Subscribe(m.HandleConnectivity)
	}
	return m
}

// Run feeds connectivity changes from the source into the monitor until ctx
// is done. It first reconciles with the source's current signal. Notifier
// sources are already applied synchronously, so Run only waits.
func (m *Monitor) Run(ctx context.Context) error {
	if _, ok := m.source.(Notifier); ok {
		<-ctx.Done()
		return ctx.Err()
	}

	updates := m.source.Watch(ctx)
	m.HandleConnectivity(m.source.Online())
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case online, ok := <-updates:
			if !ok {
				return nil
			}
			m.HandleConnectivity(online)
		}
	}
}

// OnChange registers a listener called after every status change
func (m *Monitor) OnChange(fn func(Status)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onChange = append(m.onChange, fn)
}

// OnTransition registers a listener called after each online/offline transition
func (m *Monitor) OnTransition(fn func(online bool)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onTransition = append(m.onTransition, fn)
}

// HandleConnectivity applies a connectivity signal. Repeating the current
// state is a no-op.
func (m *Monitor) HandleConnectivity(online bool) {
	m.mu.Lock()
	if m.status.IsOnline == online {
		m.mu.Unlock()
		return
	}

	m.status.IsOnline = online
	m.status.IsReconnecting = false
	if online {
		now := m.now()
		m.status.LastConnectedAt = &now
		m.status.ReconnectAttempts = 0
	}
	snapshot := m.snapshotLocked()
	changeFns := append([]func(Status){}, m.onChange...)
	transitionFns := append([]func(bool){}, m.onTransition...)
	m.mu.Unlock()

	if online {
		m.log.Info("Network: online")
	} else {
		m.log.Warn("Network: offline")
	}

	for _, fn := range changeFns {
		fn(snapshot)
	}
	for _, fn := range transitionFns {
		fn(online)
	}
}

// Status returns a copy of the current status
func (m *Monitor) Status() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.snapshotLocked()
}

// IsOnline reports the last connectivity signal
func (m *Monitor) IsOnline() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.status.IsOnline
}

// IncrementReconnectAttempts adds one attempt and returns the new count
func (m *Monitor) IncrementReconnectAttempts() int {
	var attempts int
	m.update(func(s *Status) {
		s.ReconnectAttempts++
		attempts = s.ReconnectAttempts
	})
	return attempts
}

// ResetReconnectAttempts sets the attempt counter back to zero
func (m *Monitor) ResetReconnectAttempts() {
	m.update(func(s *Status) { s.ReconnectAttempts = 0 })
}

// SetReconnecting marks whether a reconnect is in progress
func (m *Monitor) SetReconnecting(reconnecting bool) {
	m.update(func(s *Status) { s.IsReconnecting = reconnecting })
}

func (m *Monitor) update(fn func(*Status)) {
	m.mu.Lock()
	before := m.status
	fn(&m.status)
	if before == m.status {
		m.mu.Unlock()
		return
	}
	snapshot := m.snapshotLocked()
	changeFns := append([]func(Status){}, m.onChange...)
	m.mu.Unlock()

	for _, fn := range changeFns {
		fn(snapshot)
	}
}

func (m *Monitor) snapshotLocked() Status {
	s := m.status
	if s.LastConnectedAt != nil {
		t := *s.LastConnectedAt
		s.LastConnectedAt = &t
	}
	return s
}
