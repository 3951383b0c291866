package system

import (
	"os"
	"sync"
)

// RestartExitCode is the exit status meaning "relaunch me".
// The boot supervisor restarts the daemon immediately on this code and loads
// the current boot target.
const RestartExitCode = 3

// Restarter is the unconditional restart primitive.
//
// Restart does not return in production. Test doubles may return, so callers
// must not rely on that for correctness beyond not touching state afterwards.
type Restarter interface {
	Restart(reason string)
}

// Logger is the logging interface used by this package.
type Logger interface {
	Error(msg string, args ...any)
}

// RestarterFunc adapts a function to the Restarter interface.
type RestarterFunc func(reason string)

// Restart implements Restarter.
func (f RestarterFunc) Restart(reason string) { f(reason) }

// ExitRestarter restarts the process by exiting with RestartExitCode.
//
// Functions registered with BeforeExit run first (flushing telemetry,
// closing the settings database).
type ExitRestarter struct {
	logger Logger
	exit   func(code int)

	mu     sync.Mutex
	hooks  []func()
	exited bool
}

// NewExitRestarter creates a restarter that logs through logger and exits
// the process.
func NewExitRestarter(logger Logger) *ExitRestarter {
	return &ExitRestarter{
		logger: logger,
		exit:   os.Exit,
	}
}

// BeforeExit registers a hook run before the process exits.
func (r *ExitRestarter) BeforeExit(fn func()) {
	r.mu.Lock()
	r.hooks = append(r.hooks, fn)
	r.mu.Unlock()
}

// Restart implements Restarter. Only the first call has any effect.
func (r *ExitRestarter) Restart(reason string) {
	r.mu.Lock()
	if r.exited {
		r.mu.Unlock()
		return
	}
	r.exited = true
	hooks := r.hooks
	r.mu.Unlock()

	if r.logger != nil {
		r.logger.Error("restarting process", "reason", reason)
	}

	for i := len(hooks) - 1; i >= 0; i-- {
		hooks[i]()
	}

	r.exit(RestartExitCode)
}
