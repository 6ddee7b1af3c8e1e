package netstatus

import (
	"context"
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *logrus.Entry {
	log := logrus.New()
	log.SetLevel(logrus.ErrorLevel)
	return logrus.NewEntry(log)
}

func TestNewMonitor_InitialState(t *testing.T) {
	online := NewMonitor(NewManualSource(true), testLogger())
	s := online.Status()
	assert.True(t, s.IsOnline)
	assert.NotNil(t, s.LastConnectedAt)
	assert.False(t, s.IsReconnecting)
	assert.Zero(t, s.ReconnectAttempts)

	offline := NewMonitor(NewManualSource(false), testLogger())
	assert.False(t, offline.IsOnline())
	assert.Nil(t, offline.Status().LastConnectedAt)
}

func TestMonitor_Transitions(t *testing.T) {
	m := NewMonitor(NewManualSource(true), testLogger())

	var transitions []bool
	m.OnTransition(func(online bool) { transitions = append(transitions, online) })

	m.SetReconnecting(true)
	m.IncrementReconnectAttempts()
	m.IncrementReconnectAttempts()

	m.HandleConnectivity(false)
	s := m.Status()
	assert.False(t, s.IsOnline)
	assert.False(t, s.IsReconnecting)
	assert.Equal(t, 2, s.ReconnectAttempts)

	// Repeated signal is ignored
	m.HandleConnectivity(false)

	before := time.Now()
	m.HandleConnectivity(true)
	s = m.Status()
	assert.True(t, s.IsOnline)
	assert.False(t, s.IsReconnecting)
	assert.Zero(t, s.ReconnectAttempts)
	require.NotNil(t, s.LastConnectedAt)
	assert.False(t, s.LastConnectedAt.Before(before))

	assert.Equal(t, []bool{false, true}, transitions)
}

func TestMonitor_ReconnectMutatorsNotify(t *testing.T) {
	m := NewMonitor(NewManualSource(true), testLogger())

	var changes []Status
	m.OnChange(func(s Status) { changes = append(changes, s) })

	assert.Equal(t, 1, m.IncrementReconnectAttempts())
	assert.Equal(t, 2, m.IncrementReconnectAttempts())
	m.SetReconnecting(true)
	m.SetReconnecting(true) // no change, no event
	m.ResetReconnectAttempts()

	require.Len(t, changes, 4)
	assert.Equal(t, 1, changes[0].ReconnectAttempts)
	assert.Equal(t, 2, changes[1].ReconnectAttempts)
	assert.True(t, changes[2].IsReconnecting)
	assert.Zero(t, changes[3].ReconnectAttempts)
}

func TestMonitor_StatusIsACopy(t *testing.T) {
	m := NewMonitor(NewManualSource(true), testLogger())
	s := m.Status()
	*s.LastConnectedAt = time.Time{}
	assert.False(t, m.Status().LastConnectedAt.IsZero())
}

func TestMonitor_RunWithManualSource(t *testing.T) {
	src := NewManualSource(true)
	m := NewMonitor(src, testLogger())

	var (
		mu          sync.Mutex
		transitions []bool
	)
	m.OnTransition(func(online bool) {
		mu.Lock()
		transitions = append(transitions, online)
		mu.Unlock()
	})

	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		m.Run(ctx)
	}()

	// Signals apply before Set returns, whether or not Run has started
	src.Set(false)
	assert.False(t, m.IsOnline())
	src.Set(true)
	assert.True(t, m.IsOnline())
	src.Set(true)

	cancel()
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []bool{false, true}, transitions)
}

func TestManualSource_WatchKeepsLatest(t *testing.T) {
	src := NewManualSource(true)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	updates := src.Watch(ctx)

	src.Set(false)
	src.Set(true)
	src.Set(false)

	assert.False(t, <-updates)
	select {
	case v := <-updates:
		t.Fatalf("unexpected queued value %v", v)
	default:
	}
}

func TestManualSource_SubscribeDeliversCurrent(t *testing.T) {
	src := NewManualSource(false)

	var got []bool
	unsubscribe := src.Subscribe(func(online bool) { got = append(got, online) })
	src.Set(true)
	unsubscribe()
	src.Set(false)

	assert.Equal(t, []bool{false, true}, got)
}

// flipSource reports a settable state and never pushes changes
type flipSource struct {
	online atomic.Bool
}

func (s *flipSource) Online() bool { return s.online.Load() }

func (s *flipSource) Watch(ctx context.Context) <-chan bool {
	return make(chan bool)
}

func TestMonitor_RunReconcilesOnEntry(t *testing.T) {
	src := &flipSource{}
	src.online.Store(true)
	m := NewMonitor(src, testLogger())
	require.True(t, m.IsOnline())

	// Connectivity drops between construction and Run
	src.online.Store(false)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		m.Run(ctx)
	}()

	require.Eventually(t, func() bool { return !m.IsOnline() }, 2*time.Second, 10*time.Millisecond)
	cancel()
	<-done
}

func TestMonitor_RunWithDialSourceDroppedBeforeRun(t *testing.T) {
	ln := listenAndAccept(t)

	src := &DialSource{Address: ln.Addr().String(), Interval: 10 * time.Millisecond, Timeout: 200 * time.Millisecond}
	m := NewMonitor(src, testLogger())
	require.True(t, m.IsOnline())

	require.NoError(t, ln.Close())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		m.Run(ctx)
	}()

	require.Eventually(t, func() bool { return !m.IsOnline() }, 2*time.Second, 10*time.Millisecond)
	cancel()
	<-done
}

func listenAndAccept(t *testing.T) net.Listener {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			conn.Close()
		}
	}()
	return ln
}

func TestDialSource(t *testing.T) {
	ln := listenAndAccept(t)

	src := &DialSource{Address: ln.Addr().String(), Interval: 10 * time.Millisecond, Timeout: 200 * time.Millisecond}
	assert.True(t, src.Online())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	updates := src.Watch(ctx)

	// The current state comes first
	select {
	case online := <-updates:
		assert.True(t, online)
	case <-time.After(2 * time.Second):
		t.Fatal("no initial state observed")
	}

	require.NoError(t, ln.Close())

	select {
	case online := <-updates:
		assert.False(t, online)
	case <-time.After(2 * time.Second):
		t.Fatal("no connectivity change observed")
	}

	cancel()
	for range updates {
	}
}
