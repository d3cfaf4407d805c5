package worker

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/conix/hybridlauncher/internal/files"
)

// LaunchIDPlaceholder is replaced in Command.Args by the launch identifier.
const LaunchIDPlaceholder = "{launch_id}"

// Command describes how to invoke the render worker.
type Command struct {
	Path string
	Args []string
	Dir  string
	Env  []string

	// Detached is for commands that hand the worker off to another process and return, like "open" without -W.
	// The launched process exiting is then not taken as the worker exiting.
	Detached bool
}

// DefaultCommand returns the conventional invocation of the render worker on the given OS.
func DefaultCommand(goos string) Command {
	if goos == "darwin" {
		// -W keeps open running until the app quits and -n starts a new instance per launch.
		// Killing open does not quit the app.
		return Command{
			Path: "open",
			Args: []string{"-W", "-n", "RenderFusionExe.app", "--args", LaunchIDPlaceholder},
		}
	}
	return Command{
		Path: "./arena-renderfusion.x86_64",
		Args: []string{LaunchIDPlaceholder},
	}
}

// Argv returns the arguments for a launch. If no argument carries the placeholder, the identifier is appended.
func (c Command) Argv(launchID string) []string {
	args := make([]string, 0, len(c.Args)+1)
	substituted := false
	for _, a := range c.Args {
		if strings.Contains(a, LaunchIDPlaceholder) {
			a = strings.ReplaceAll(a, LaunchIDPlaceholder, launchID)
			substituted = true
		}
		args = append(args, a)
	}
	if !substituted {
		args = append(args, launchID)
	}
	return args
}

// Resolve finds the executable for a relative path like "./worker.x86_64".
// If it isn't in the working directory, its parents are searched. Bare names are left for PATH lookup.
func (c Command) Resolve() string {
	if filepath.IsAbs(c.Path) || !strings.ContainsRune(c.Path, os.PathSeparator) {
		return c.Path
	}
	dir := c.Dir
	if dir == "" {
		wd, err := os.Getwd()
		if err != nil {
			return c.Path
		}
		dir = wd
	}
	candidate := filepath.Join(dir, c.Path)
	if _, err := os.Stat(candidate); err == nil {
		return candidate
	}
	if found := files.FindUp(filepath.Base(c.Path), dir); found != "" {
		return found
	}
	return c.Path
}
