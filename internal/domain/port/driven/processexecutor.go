package driven

import "context"

// ProcessExecutor defines the driven port for running the user's test command.
// An executor runs at most one command; Cancel may be called from any
// goroutine, before, during or after Execute.
type ProcessExecutor interface {
	// Execute runs command through a shell with env added to the inherited
	// environment. It returns nil only on a zero exit code; otherwise the
	// error is a *model.TestCommandError.
	Execute(ctx context.Context, command string, env map[string]string) error
	Cancel()
}
