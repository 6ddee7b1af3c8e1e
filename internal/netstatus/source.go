package netstatus

import (
	"context"
	"net"
	"sync"
	"time"
)

// DialSource treats a successful TCP dial to Address as being online
type DialSource struct {
	Address  string
	Interval time.Duration
	Timeout  time.Duration
}

// Online dials once
func (s *DialSource) Online() bool {
	timeout := s.Timeout
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	conn, err := net.DialTimeout("tcp", s.Address, timeout)
	if err != nil {
		return false
	}
	conn.Close()
	return true
}

// Watch sends the current state, then polls every Interval and sends the
// result when it changes
func (s *DialSource) Watch(ctx context.Context) <-chan bool {
	interval := s.Interval
	if interval <= 0 {
		interval = 5 * time.Second
	}

	ch := make(chan bool, 1)
	go func() {
		defer close(ch)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		last := s.Online()
		select {
		case ch <- last:
		case <-ctx.Done():
			return
		}
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				online := s.Online()
				if online == last {
					continue
				}
				last = online
				select {
				case ch <- online:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return ch
}

// Notifier is implemented by sources that push signals synchronously.
// Subscribe delivers the current state first.
type Notifier interface {
	Subscribe(fn func(online bool)) (unsubscribe func())
}

// ManualSource is driven by the host through Set
type ManualSource struct {
	setMu sync.Mutex // orders Set calls end to end

	mu       sync.Mutex
	online   bool
	nextID   int
	subs     map[int]func(bool)
	watchers map[*watcher]struct{}
}

type watcher struct {
	ch chan bool
}

// NewManualSource starts in the given state
func NewManualSource(online bool) *ManualSource {
	return &ManualSource{
		online:   online,
		subs:     make(map[int]func(bool)),
		watchers: make(map[*watcher]struct{}),
	}
}

// Online implements Source
func (s *ManualSource) Online() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.online
}

// Set records a connectivity signal. Subscribers run before Set returns;
// watchers only ever hold the latest value.
func (s *ManualSource) Set(online bool) {
	s.setMu.Lock()
	defer s.setMu.Unlock()

	s.mu.Lock()
	s.online = online
	subs := make([]func(bool), 0, len(s.subs))
	for _, fn := range s.subs {
		subs = append(subs, fn)
	}
	for w := range s.watchers {
		select {
		case <-w.ch:
		default:
		}
		w.ch <- online
	}
	s.mu.Unlock()

	for _, fn := range subs {
		fn(online)
	}
}

// Subscribe implements Notifier. fn receives the current state before
// Subscribe returns.
func (s *ManualSource) Subscribe(fn func(online bool)) func() {
	s.setMu.Lock()
	defer s.setMu.Unlock()

	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.subs[id] = fn
	online := s.online
	s.mu.Unlock()

	fn(online)
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.subs, id)
	}
}

// Watch implements Source. The channel is not closed; stop reading when ctx is done.
func (s *ManualSource) Watch(ctx context.Context) <-chan bool {
	w := &watcher{ch: make(chan bool, 1)}

	s.mu.Lock()
	s.watchers[w] = struct{}{}
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		s.mu.Lock()
		delete(s.watchers, w)
		s.mu.Unlock()
	}()
	return w.ch
}
