package worker

import (
	"context"
	"errors"
)

// ErrProcessNotFound is returned when terminating a worker that has already exited.
var ErrProcessNotFound = errors.New("process not found")

// Handle is a started worker process. The lifecycle manager is its only owner and the only caller of Terminate.
type Handle interface {
	LaunchID() string
	PID() int
	// Done is closed once the worker is gone. For a detached command that is only after Terminate.
	Done() <-chan struct{}
	// Err is the launched process's exit error, nil while it runs.
	Err() error
	// Terminate kills the process, returning ErrProcessNotFound if it has already exited.
	// Detached workers report no error when the launching process is already gone.
	Terminate() error
}

// Launcher starts worker processes.
type Launcher interface {
	Launch(ctx context.Context, launchID string) (Handle, error)
}
