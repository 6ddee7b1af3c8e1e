package reconnect

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Config defines the backoff for reconnect probes
type Config struct {
	MaxAttempts  int
	BaseDelay    time.Duration
	MaxDelay     time.Duration
	ProbeTimeout time.Duration
}

// DefaultConfig returns the default exponential backoff strategy
func DefaultConfig() Config {
	return Config{
		MaxAttempts:  5,
		BaseDelay:    time.Second,
		MaxDelay:     30 * time.Second,
		ProbeTimeout: 10 * time.Second,
	}
}

// Monitor is the part of the network status the coordinator reads and writes.
// The coordinator calls the mutators while holding its own lock, so they must
// not call back into transition listeners.
type Monitor interface {
	IsOnline() bool
	OnTransition(fn func(online bool))
	IncrementReconnectAttempts() int
	ResetReconnectAttempts()
	SetReconnecting(reconnecting bool)
}

// episode is one run of automatic probes; stop is closed when it is abandoned
type episode struct {
	id   uint64
	stop chan struct{}
}

// Coordinator probes the remote service with capped exponential backoff
// whenever connectivity returns
type Coordinator struct {
	monitor Monitor
	prober  Prober
	cfg     Config
	log     *logrus.Entry

	mu                sync.Mutex
	current           *episode // nil when idle
	nextID            uint64
	resolved          bool // a probe succeeded since the last offline transition
	onReconnected     func()
	onReconnectFailed func(attempts int)

	ctx      context.Context
	cancel   context.CancelFunc
	workerWg sync.WaitGroup
}

// New creates a coordinator. Zero config fields take defaults.
func New(monitor Monitor, prober Prober, cfg Config, log *logrus.Entry) *Coordinator {
	def := DefaultConfig()
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = def.BaseDelay
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = def.MaxDelay
	}
	if cfg.MaxDelay < cfg.BaseDelay {
		cfg.MaxDelay = cfg.BaseDelay
	}
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = def.ProbeTimeout
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Coordinator{
		monitor: monitor,
		prober:  prober,
		cfg:     cfg,
		log:     log.WithField("component", "reconnect"),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// SetOnReconnected sets the callback for a successful probe
func (c *Coordinator) SetOnReconnected(callback func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onReconnected = callback
}

// SetOnReconnectFailed sets the callback for an exhausted retry budget
func (c *Coordinator) SetOnReconnectFailed(callback func(attempts int)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onReconnectFailed = callback
}

// Start subscribes to connectivity transitions and probes right away if online
func (c *Coordinator) Start() {
	c.monitor.OnTransition(c.handleTransition)
	if c.monitor.IsOnline() {
		c.handleTransition(true)
	}
}

// Delay returns the wait after the given zero-based failed attempt:
// min(BaseDelay * 2^attempt, MaxDelay)
func (c *Coordinator) Delay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	d := c.cfg.BaseDelay
	for i := 0; i < attempt; i++ {
		if d >= c.cfg.MaxDelay/2 {
			return c.cfg.MaxDelay
		}
		d *= 2
	}
	if d > c.cfg.MaxDelay {
		return c.cfg.MaxDelay
	}
	return d
}

// Reconnecting reports whether an episode is probing
func (c *Coordinator) Reconnecting() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current != nil
}

// ManualRetry resets the attempt counter and restarts probing, even after the
// budget was exhausted or a probe already succeeded. Offline it only resets.
func (c *Coordinator) ManualRetry() {
	c.log.Info("Manual retry requested")

	c.mu.Lock()
	c.abandonLocked()
	c.resolved = false
	c.mu.Unlock()

	c.monitor.ResetReconnectAttempts()

	if !c.monitor.IsOnline() {
		c.log.Info("Network offline, waiting for network")
		return
	}

	c.mu.Lock()
	c.abandonLocked()
	c.beginLocked()
	c.mu.Unlock()
}

// Close stops probing and waits for the worker to exit
func (c *Coordinator) Close() {
	c.mu.Lock()
	c.abandonLocked()
	c.mu.Unlock()
	c.cancel()
	c.workerWg.Wait()
}

func (c *Coordinator) handleTransition(online bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !online {
		// An in-flight probe is left to finish; its result is ignored
		c.abandonLocked()
		c.resolved = false
		c.monitor.SetReconnecting(false)
		return
	}
	if c.resolved || c.current != nil {
		return
	}
	c.beginLocked()
}

func (c *Coordinator) beginLocked() {
	if c.ctx.Err() != nil {
		return
	}
	c.nextID++
	ep := &episode{id: c.nextID, stop: make(chan struct{})}
	c.current = ep

	c.workerWg.Add(1)
	go c.run(ep)
}

func (c *Coordinator) abandonLocked() {
	if c.current != nil {
		close(c.current.stop)
		c.current = nil
	}
}

// active reports whether ep is still the current episode
func (c *Coordinator) active(ep *episode) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current == ep
}

// beginAttempt records the next attempt of ep. The episode check and the
// status writes share one critical section with handleTransition.
func (c *Coordinator) beginAttempt(ep *episode) (attempt int, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current != ep || !c.monitor.IsOnline() {
		return 0, false
	}
	c.monitor.SetReconnecting(true)
	return c.monitor.IncrementReconnectAttempts(), true
}

// finish ends ep if it is still current, settles the status and returns the
// callbacks to fire
func (c *Coordinator) finish(ep *episode, resolved bool) (func(), func(int), bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current != ep {
		return nil, nil, false
	}
	c.current = nil
	c.resolved = resolved
	c.monitor.SetReconnecting(false)
	if resolved {
		c.monitor.ResetReconnectAttempts()
	}
	return c.onReconnected, c.onReconnectFailed, true
}

func (c *Coordinator) run(ep *episode) {
	defer c.workerWg.Done()
	log := c.log.WithField("episode", ep.id)

	for {
		attempt, ok := c.beginAttempt(ep)
		if !ok {
			log.Info("Episode ended or network offline, waiting for network")
			return
		}
		log.Infof("Reconnect attempt %d/%d", attempt, c.cfg.MaxAttempts)

		err := c.probe()

		if !c.active(ep) {
			log.Debug("Probe finished after episode was abandoned, ignoring result")
			return
		}

		if err == nil {
			onReconnected, _, ok := c.finish(ep, true)
			if !ok {
				return
			}
			log.Info("Reconnected successfully")
			if onReconnected != nil {
				onReconnected()
			}
			return
		}

		if attempt >= c.cfg.MaxAttempts {
			_, onFailed, ok := c.finish(ep, false)
			if !ok {
				return
			}
			log.WithError(err).Warnf("Max reconnect attempts reached (%d)", attempt)
			if onFailed != nil {
				onFailed(attempt)
			}
			return
		}

		delay := c.Delay(attempt - 1)
		log.WithError(err).Infof("Reconnect failed, retrying in %s", delay)

		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-ep.stop:
			timer.Stop()
			return
		case <-c.ctx.Done():
			timer.Stop()
			return
		}
	}
}

// probe runs one liveness check. Its context is not tied to the episode, so
// going offline does not cancel it.
func (c *Coordinator) probe() error {
	ctx, cancel := context.WithTimeout(c.ctx, c.cfg.ProbeTimeout)
	defer cancel()
	return c.prober.Probe(ctx)
}
