package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/conix/hybridlauncher/event"
	"github.com/conix/hybridlauncher/session"
	"github.com/conix/hybridlauncher/worker"
	"go.uber.org/zap"
)

// Publisher sends pairing notifications to workers.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload []byte) error
}

// Transition records one applied event and the effects it produced.
type Transition struct {
	Time    time.Time
	Event   string
	Scene   string
	Effects []string
}

// Manager serializes events into a Controller and executes the effects it returns.
// State transitions are applied in arrival order under a single lock. Spawning, killing and publishing
// run on their own goroutines afterwards, so a slow process start never holds up unrelated scenes.
type Manager struct {
	log       *zap.SugaredLogger
	launcher  worker.Launcher
	publisher Publisher

	mu     sync.Mutex
	ctrl   *Controller
	slots  map[string]*slot
	closed bool

	// ctx bounds process starts and publishes; it is canceled by Close.
	ctx    context.Context
	cancel func()
	wg     sync.WaitGroup

	subsMu sync.Mutex
	subs   map[chan Transition]struct{}
}

// slot is a worker whose launch has been requested. ready is closed once Launch returns,
// so a Terminate issued right after a Spawn waits for the process to exist before killing it.
type slot struct {
	ready  chan struct{}
	handle worker.Handle
	err    error
}

type ManagerOption func(m *Manager)

func WithManagerLogger(l *zap.SugaredLogger) ManagerOption {
	return func(m *Manager) {
		m.log = l.Named("manager")
	}
}

func NewManager(ctrl *Controller, launcher worker.Launcher, publisher Publisher, opts ...ManagerOption) *Manager {
	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		log:       zap.NewNop().Sugar(),
		launcher:  launcher,
		publisher: publisher,
		ctrl:      ctrl,
		slots:     map[string]*slot{},
		ctx:       ctx,
		cancel:    cancel,
		subs:      map[chan Transition]struct{}{},
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// HandlePayload decodes a raw notification and applies it. Malformed notifications are logged and dropped.
func (m *Manager) HandlePayload(kind event.Kind, payload []byte) {
	evt, err := event.Decode(kind, payload)
	if err != nil {
		m.log.Warnw("dropping notification", "Kind", kind, "Error", err)
		return
	}
	m.Handle(evt)
}

// Handle applies a single event and dispatches its effects.
func (m *Manager) Handle(evt event.Event) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		m.log.Debugw("manager closed, dropping event", "Event", evt.String())
		return
	}
	effects := m.ctrl.Apply(evt)
	if exited, ok := evt.(event.WorkerExited); ok {
		delete(m.slots, exited.LaunchID)
	}
	calls := m.prepareLocked(effects)
	m.broadcast(evt.String(), evt.Scene(), effects)
	m.mu.Unlock()

	m.log.Debugw("applied event", "Event", evt.String(), "Effects", len(effects))
	m.dispatch(calls)
}

// Prewarm starts n workers ahead of demand.
func (m *Manager) Prewarm(n int) {
	if n <= 0 {
		return
	}
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	effects := m.ctrl.Prewarm(n)
	calls := m.prepareLocked(effects)
	m.broadcast(fmt.Sprintf("prewarm %d", n), "", effects)
	m.mu.Unlock()

	m.dispatch(calls)
}

// prepareLocked turns effects into dispatchable calls, registering and releasing worker slots
// in effect order. The calls are counted in m.wg here, under the lock, so Close never waits on a
// group that is still growing. Must be called with m.mu held.
func (m *Manager) prepareLocked(effects []Effect) []func() {
	var calls []func()
	for _, eff := range effects {
		switch e := eff.(type) {
		case Spawn:
			s := &slot{ready: make(chan struct{})}
			m.slots[e.LaunchID] = s
			calls = append(calls, func() { m.spawn(e.LaunchID, s) })
		case Terminate:
			s, ok := m.slots[e.LaunchID]
			if !ok {
				m.log.Warnw("no worker to terminate", "Scene", e.SceneID, "LaunchID", e.LaunchID)
				continue
			}
			delete(m.slots, e.LaunchID)
			calls = append(calls, func() { m.terminate(e, s) })
		case Publish:
			calls = append(calls, func() { m.publish(e) })
		default:
			m.log.Warnf("ignoring unsupported effect %T", eff)
		}
	}
	m.wg.Add(len(calls))
	return calls
}

func (m *Manager) dispatch(calls []func()) {
	for _, call := range calls {
		call := call
		go func() {
			defer m.wg.Done()
			call()
		}()
	}
}

func (m *Manager) spawn(launchID string, s *slot) {
	h, err := m.launcher.Launch(m.ctx, launchID)
	s.handle, s.err = h, err
	close(s.ready)
	if err != nil {
		m.log.Errorw("launching worker", "LaunchID", launchID, "Error", err)
		m.Handle(event.WorkerExited{LaunchID: launchID, Err: err})
		return
	}

	<-h.Done()
	m.Handle(event.WorkerExited{LaunchID: launchID, Err: h.Err()})
}

func (m *Manager) terminate(t Terminate, s *slot) {
	<-s.ready
	if s.err != nil {
		// never started, nothing to kill
		return
	}
	err := s.handle.Terminate()
	if errors.Is(err, worker.ErrProcessNotFound) {
		m.log.Warnw("process does not exist", "Scene", t.SceneID, "LaunchID", t.LaunchID, "Error", err)
		return
	}
	if err != nil {
		m.log.Errorw("terminating worker", "Scene", t.SceneID, "LaunchID", t.LaunchID, "Error", err)
		return
	}
	m.log.Debugw("terminated worker", "Scene", t.SceneID, "LaunchID", t.LaunchID, "PID", s.handle.PID())
}

func (m *Manager) publish(p Publish) {
	clearing := len(p.Payload) == 0
	err := m.publisher.Publish(m.ctx, p.Topic, p.Payload)
	if err != nil {
		m.log.Errorw("publishing pairing notification", "Topic", p.Topic, "LaunchID", p.LaunchID, "Clear", clearing, "Error", err)
		return
	}
	m.log.Debugw("published pairing notification", "Topic", p.Topic, "LaunchID", p.LaunchID, "Clear", clearing)
}

// Scenes returns a snapshot of the session table and the unpaired launch identifiers.
func (m *Manager) Scenes() ([]session.Snapshot, []string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ctrl.Scenes(), m.ctrl.Pending()
}

// Subscribe returns a channel receiving every transition applied after the call.
// Slow subscribers miss transitions rather than blocking the manager.
func (m *Manager) Subscribe() (<-chan Transition, func()) {
	ch := make(chan Transition, 64)
	m.subsMu.Lock()
	m.subs[ch] = struct{}{}
	m.subsMu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			m.subsMu.Lock()
			delete(m.subs, ch)
			m.subsMu.Unlock()
		})
	}
}

// broadcast is called with m.mu held, so subscribers see transitions in the order they were applied.
func (m *Manager) broadcast(evt, scene string, effects []Effect) {
	m.subsMu.Lock()
	defer m.subsMu.Unlock()
	if len(m.subs) == 0 {
		return
	}
	t := Transition{Time: time.Now(), Event: evt, Scene: scene}
	for _, e := range effects {
		t.Effects = append(t.Effects, e.String())
	}
	for ch := range m.subs {
		select {
		case ch <- t:
		default:
			m.log.Debug("subscriber is behind, dropping transition")
		}
	}
}

// Close terminates every worker, stops accepting events and waits for outstanding work until ctx is done.
func (m *Manager) Close(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	effects := m.ctrl.Apply(event.Shutdown{})
	calls := m.prepareLocked(effects)
	m.broadcast(event.Shutdown{}.String(), "", effects)
	m.closed = true
	m.mu.Unlock()

	m.log.Debugw("shutting down", "Effects", len(effects))
	m.dispatch(calls)

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	var err error
	select {
	case <-done:
	case <-ctx.Done():
		err = fmt.Errorf("waiting for workers to stop: %w", ctx.Err())
	}
	m.cancel()
	return err
}
