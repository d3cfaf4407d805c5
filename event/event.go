package event

import "fmt"

// Kind identifies which topic family a notification arrived on.
type Kind string

const (
	KindConnect    Kind = "connect"
	KindDisconnect Kind = "disconnect"
	KindStatus     Kind = "status"
)

// Event is one of ConnectRequested, DisconnectRequested, StatusReported,
// or one of the internal events raised by the lifecycle manager itself.
type Event interface {
	// Scene returns the scene identity the event applies to, or "" if it is not scene-scoped.
	Scene() string
	String() string
}

// ConnectRequested is a client declaring interest in a scene.
type ConnectRequested struct {
	ClientID string
	SceneID  string

	// Request is the raw connect payload, forwarded to the worker when it is paired.
	Request []byte
}

func (e ConnectRequested) Scene() string { return e.SceneID }
func (e ConnectRequested) String() string {
	return fmt.Sprintf("connect client=%s scene=%s", e.ClientID, e.SceneID)
}

// DisconnectRequested is a client dropping its interest in a scene.
type DisconnectRequested struct {
	ClientID string
	SceneID  string
}

func (e DisconnectRequested) Scene() string { return e.SceneID }
func (e DisconnectRequested) String() string {
	return fmt.Sprintf("disconnect client=%s scene=%s", e.ClientID, e.SceneID)
}

// StatusReported is a client's report of whether a scene is being remotely rendered.
type StatusReported struct {
	SceneID   string
	Rendering bool
}

func (e StatusReported) Scene() string { return e.SceneID }
func (e StatusReported) String() string {
	return fmt.Sprintf("status scene=%s rendering=%t", e.SceneID, e.Rendering)
}

// WorkerExited is raised when a worker process exits, whether it was killed or died on its own.
type WorkerExited struct {
	LaunchID string
	Err      error
}

func (e WorkerExited) Scene() string { return "" }
func (e WorkerExited) String() string {
	return fmt.Sprintf("worker exited launch=%s err=%v", e.LaunchID, e.Err)
}

// Shutdown tears down every scene and pending worker.
type Shutdown struct{}

func (Shutdown) Scene() string  { return "" }
func (Shutdown) String() string { return "shutdown" }
