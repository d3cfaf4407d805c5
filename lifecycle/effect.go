package lifecycle

import "fmt"

// Effect is a side effect requested by the controller. The controller never performs these itself;
// the Manager executes them after the state transition has been applied.
type Effect interface {
	String() string
}

// Spawn starts a worker process with the given launch identifier.
type Spawn struct {
	LaunchID string
}

func (s Spawn) String() string { return fmt.Sprintf("spawn launch=%s", s.LaunchID) }

// Terminate kills the worker serving a scene. SceneID is empty for an unpaired, pre-warmed worker.
type Terminate struct {
	SceneID  string
	LaunchID string
}

func (t Terminate) String() string {
	return fmt.Sprintf("terminate scene=%s launch=%s", t.SceneID, t.LaunchID)
}

// Publish sends the pairing notification that tells a worker which connect request it serves.
// An empty payload clears the pairing.
type Publish struct {
	LaunchID string
	Topic    string
	Payload  []byte
}

func (p Publish) String() string {
	if len(p.Payload) == 0 {
		return fmt.Sprintf("clear topic=%s", p.Topic)
	}
	return fmt.Sprintf("publish topic=%s", p.Topic)
}
