package lifecycle

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/conix/hybridlauncher/event"
	"github.com/conix/hybridlauncher/session"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ErrUnknownScene is logged when a disconnect or status report names a scene with no entry.
var ErrUnknownScene = errors.New("unknown scene")

// Controller is the state machine over scene identities. Each scene is Absent (no entry),
// Launching (entry created, worker spawned, not yet paired) or Active (paired, non-empty session set).
// Launching only exists for the duration of a single Apply call.
//
// Controller is not goroutine-safe. It owns the session table and pending-spawn queue
// and is the only thing that mutates them; callers serialize Apply (see Manager).
type Controller struct {
	log *zap.SugaredLogger

	table *session.Table
	queue session.Queue

	pairingTopic string
	clearPairing bool
	strict       bool
	newLaunchID  func() string
	now          func() time.Time
}

type ControllerOption func(c *Controller)

// WithStrictAccounting makes the controller panic on a pending-spawn queue underflow
// instead of logging it and dropping the pairing.
func WithStrictAccounting(strict bool) ControllerOption {
	return func(c *Controller) {
		c.strict = strict
	}
}

// WithClearPairing publishes an empty notification on a worker's pairing topic once its scene ends,
// so a retained pairing does not outlive the worker on the broker.
func WithClearPairing(enabled bool) ControllerOption {
	return func(c *Controller) {
		c.clearPairing = enabled
	}
}

func WithControllerLogger(l *zap.SugaredLogger) ControllerOption {
	return func(c *Controller) {
		c.log = l.Named("controller")
	}
}

// WithLaunchIDs overrides launch identifier generation.
func WithLaunchIDs(f func() string) ControllerOption {
	return func(c *Controller) {
		c.newLaunchID = f
	}
}

func WithClock(now func() time.Time) ControllerOption {
	return func(c *Controller) {
		c.now = now
	}
}

// NewLaunchID returns a time-based UUID, falling back to a random one if the clock sequence is unavailable.
func NewLaunchID() string {
	id, err := uuid.NewUUID()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

// NewController builds a controller that publishes pairing notifications under pairingTopic.
func NewController(pairingTopic string, opts ...ControllerOption) *Controller {
	c := &Controller{
		log:          zap.NewNop().Sugar(),
		table:        session.NewTable(),
		pairingTopic: strings.TrimSuffix(pairingTopic, "/"),
		newLaunchID:  NewLaunchID,
		now:          time.Now,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Apply applies one event to the session table and pending-spawn queue and returns the side effects to execute, in order.
func (c *Controller) Apply(evt event.Event) []Effect {
	switch e := evt.(type) {
	case event.ConnectRequested:
		return c.connect(e)
	case event.DisconnectRequested:
		return c.disconnect(e)
	case event.StatusReported:
		c.status(e)
		return nil
	case event.WorkerExited:
		return c.workerExited(e)
	case event.Shutdown:
		return c.shutdown()
	}
	c.log.Warnf("ignoring unsupported event %T", evt)
	return nil
}

// Prewarm spawns n workers ahead of demand. Their launch identifiers wait in the pending-spawn
// queue and are handed out, oldest first, to the next scenes that connect.
func (c *Controller) Prewarm(n int) []Effect {
	var effects []Effect
	for i := 0; i < n; i++ {
		effects = append(effects, c.spawn())
	}
	return effects
}

func (c *Controller) spawn() Effect {
	id := c.newLaunchID()
	c.queue.Push(id)
	c.log.Debugw("spawning worker", "LaunchID", id, "Pending", c.queue.Len())
	return Spawn{LaunchID: id}
}

func (c *Controller) connect(e event.ConnectRequested) []Effect {
	if entry, ok := c.table.Get(e.SceneID); ok {
		entry.Add(e.ClientID)
		c.log.Debugw("client joined scene", "Scene", e.SceneID, "Client", e.ClientID, "Sessions", entry.Len())
		return nil
	}

	// Absent -> Launching
	effects := []Effect{c.spawn()}
	entry := c.table.Create(e.SceneID, c.now())

	pub, ok := c.pair(entry, e)
	if !ok {
		return effects
	}
	effects = append(effects, pub)

	// Launching -> Active
	entry.Add(e.ClientID)
	c.log.Debugw("scene activated", "Scene", e.SceneID, "Client", e.ClientID, "LaunchID", entry.LaunchID)
	return effects
}

// pair binds the oldest outstanding launch to a freshly created entry and builds the pairing notification for it.
// If there is nothing to pair with the entry is removed again, so no scene is left without a worker.
func (c *Controller) pair(entry *session.Entry, e event.ConnectRequested) (Effect, bool) {
	launchID, err := c.consumeNextPendingLaunch()
	if err != nil {
		c.table.Delete(entry.SceneID)
		return nil, false
	}
	entry.LaunchID = launchID

	payload, err := event.PairingPayload(e.Request)
	if err != nil {
		// the worker still runs for this scene, it just won't learn its assignment
		c.log.Errorw("building pairing payload", "Scene", e.SceneID, "LaunchID", launchID, "Error", err)
		payload = e.Request
	}
	return Publish{
		LaunchID: launchID,
		Topic:    c.topicFor(launchID),
		Payload:  payload,
	}, true
}

func (c *Controller) topicFor(launchID string) string {
	return c.pairingTopic + "/" + launchID
}

// closeScene removes a scene's entry. The worker is killed unless it is already gone.
func (c *Controller) closeScene(entry *session.Entry, kill bool) []Effect {
	c.table.Delete(entry.SceneID)
	var effects []Effect
	if kill {
		effects = append(effects, Terminate{SceneID: entry.SceneID, LaunchID: entry.LaunchID})
	}
	if c.clearPairing {
		effects = append(effects, Publish{LaunchID: entry.LaunchID, Topic: c.topicFor(entry.LaunchID)})
	}
	return effects
}

func (c *Controller) consumeNextPendingLaunch() (string, error) {
	id, err := c.queue.Pop()
	if err != nil {
		if c.strict {
			panic(fmt.Sprintf("consuming pending launch: %s", err))
		}
		c.log.Errorw("dropping pairing", "Error", err)
		return "", err
	}
	return id, nil
}

func (c *Controller) disconnect(e event.DisconnectRequested) []Effect {
	entry, ok := c.table.Get(e.SceneID)
	if !ok {
		c.log.Debugw("ignoring disconnect", "Scene", e.SceneID, "Client", e.ClientID, "Error", ErrUnknownScene)
		return nil
	}
	if !entry.Remove(e.ClientID) {
		c.log.Debugw("client was not in scene", "Scene", e.SceneID, "Client", e.ClientID)
	}
	if entry.Len() > 0 {
		c.log.Debugw("client left scene", "Scene", e.SceneID, "Client", e.ClientID, "Sessions", entry.Len())
		return nil
	}

	// Active -> Absent
	c.log.Debugw("last client left, closing scene", "Scene", e.SceneID, "LaunchID", entry.LaunchID)
	return c.closeScene(entry, true)
}

// status records the render status. A negative report never tears the scene down;
// only an empty session set or a worker exit does.
func (c *Controller) status(e event.StatusReported) {
	entry, ok := c.table.Get(e.SceneID)
	if !ok {
		c.log.Debugw("dropping status report", "Scene", e.SceneID, "Error", ErrUnknownScene)
		return
	}
	rendering := e.Rendering
	entry.Rendering = &rendering
	c.log.Debugw("render status", "Scene", e.SceneID, "Rendering", rendering)
}

func (c *Controller) workerExited(e event.WorkerExited) []Effect {
	if entry, ok := c.table.ByLaunch(e.LaunchID); ok {
		c.log.Warnw("worker exited, dropping scene", "Scene", entry.SceneID, "LaunchID", e.LaunchID, "Sessions", entry.Len(), "Error", e.Err)
		return c.closeScene(entry, false)
	}
	if c.queue.Remove(e.LaunchID) {
		c.log.Warnw("unpaired worker exited", "LaunchID", e.LaunchID, "Error", e.Err)
	}
	return nil
}

func (c *Controller) shutdown() []Effect {
	var effects []Effect
	for _, entry := range c.table.Entries() {
		effects = append(effects, c.closeScene(entry, true)...)
	}
	for _, id := range c.queue.Clear() {
		effects = append(effects, Terminate{LaunchID: id})
	}
	return effects
}

// Scenes returns a snapshot of every scene entry.
func (c *Controller) Scenes() []session.Snapshot {
	return c.table.Snapshots()
}

// Pending returns the launch identifiers of workers that have not been paired yet, oldest first.
func (c *Controller) Pending() []string {
	return c.queue.Items()
}
