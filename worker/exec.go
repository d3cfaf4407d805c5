package worker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"

	"go.uber.org/zap"
)

// ExecLauncher launches workers as child processes of the launcher.
type ExecLauncher struct {
	Log     *zap.SugaredLogger
	Command Command

	// Stdout and Stderr receive the worker's output. Nil discards it.
	Stdout io.Writer
	Stderr io.Writer
}

func (l *ExecLauncher) Launch(ctx context.Context, launchID string) (Handle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	path := l.Command.Resolve()
	args := l.Command.Argv(launchID)

	// The worker must outlive ctx, so this is not exec.CommandContext.
	cmd := exec.Command(path, args...)
	cmd.Dir = l.Command.Dir
	if len(l.Command.Env) > 0 {
		cmd.Env = append(os.Environ(), l.Command.Env...)
	}
	cmd.Stdout = l.Stdout
	cmd.Stderr = l.Stderr

	err := cmd.Start()
	if err != nil {
		return nil, fmt.Errorf("starting worker %q: %w", path, err)
	}
	l.Log.Debugw("worker started", "LaunchID", launchID, "PID", cmd.Process.Pid, "Path", path, "Args", args)

	p := &process{
		launchID: launchID,
		cmd:      cmd,
		detached: l.Command.Detached,
		exited:   make(chan struct{}),
		done:     make(chan struct{}),
	}
	go func() {
		err := cmd.Wait()
		if err != nil {
			if _, ok := err.(*exec.ExitError); !ok {
				l.Log.Debugf("unexpected wait error for worker %s: %s", launchID, err)
			}
		}
		p.err = err
		l.Log.Debugw("worker exited", "LaunchID", launchID, "PID", cmd.Process.Pid, "ExitCode", cmd.ProcessState.ExitCode(), "Detached", p.detached)
		close(p.exited)
		if !p.detached {
			p.release()
		}
	}()

	return p, nil
}

// process is a launched worker. exited is closed when the child process has been reaped.
// done follows exited, except for detached workers, where it is closed by Terminate.
type process struct {
	launchID string
	cmd      *exec.Cmd
	detached bool

	exited   chan struct{}
	done     chan struct{}
	doneOnce sync.Once
	err      error
}

func (p *process) LaunchID() string      { return p.launchID }
func (p *process) PID() int              { return p.cmd.Process.Pid }
func (p *process) Done() <-chan struct{} { return p.done }

func (p *process) release() {
	p.doneOnce.Do(func() { close(p.done) })
}

func (p *process) Err() error {
	select {
	case <-p.exited:
		return p.err
	default:
		return nil
	}
}

func (p *process) Terminate() error {
	if p.detached {
		defer p.release()
	}
	select {
	case <-p.exited:
		if p.detached {
			// the launching process was expected to be gone already
			return nil
		}
		return fmt.Errorf("%w: worker %s (pid %d) already exited", ErrProcessNotFound, p.launchID, p.PID())
	default:
	}
	err := p.cmd.Process.Kill()
	if errors.Is(err, os.ErrProcessDone) {
		if p.detached {
			return nil
		}
		return fmt.Errorf("%w: worker %s (pid %d) already exited", ErrProcessNotFound, p.launchID, p.PID())
	}
	if err != nil {
		return fmt.Errorf("killing worker %s: %w", p.launchID, err)
	}
	return nil
}
