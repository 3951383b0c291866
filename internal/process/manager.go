package process

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"
)

// Status represents the current state of the supervised process.
type Status string

const (
	StatusStopped  Status = "stopped"
	StatusStarting Status = "starting"
	StatusRunning  Status = "running"
	StatusFailed   Status = "failed"
)

// Defaults for Config zero values.
const (
	DefaultRestartDelay    = 5 * time.Second
	DefaultGracefulTimeout = 10 * time.Second
	DefaultRestartExitCode = 3
)

// ErrAlreadyRunning is returned by Start while the process is supervised.
var ErrAlreadyRunning = errors.New("process: already running")

// Config holds supervisor settings.
type Config struct {
	// Name is a human-readable identifier for logging.
	Name string

	// Resolve returns the path of the binary to launch. It is called before
	// every launch.
	Resolve func() (string, error)

	// Args are command-line arguments passed to the binary.
	Args []string

	// Env are additional environment variables (key=value format).
	// If nil, the parent environment is inherited unchanged.
	Env []string

	// WorkDir is the working directory for the process.
	WorkDir string

	// RestartExitCode is the exit status requesting an immediate relaunch.
	RestartExitCode int

	// RestartDelay is the wait before relaunching after a crash.
	RestartDelay time.Duration

	// MaxRestartAttempts limits consecutive crash restarts. 0 means unlimited.
	MaxRestartAttempts int

	// GracefulTimeout is how long Stop waits after SIGTERM before SIGKILL.
	GracefulTimeout time.Duration

	// OnStart is called after each successful launch.
	OnStart func(binary string, pid int)

	// OnExit is called after each exit with the exit code (-1 if the
	// process did not run to completion) and the wait error.
	OnExit func(code int, err error)
}

// StaticBinary returns a resolver that always launches path.
func StaticBinary(path string) func() (string, error) {
	return func() (string, error) { return path, nil }
}

// Logger defines the logging interface for the supervisor.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Manager supervises one process.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
type Manager struct {
	config Config
	logger Logger

	mu            sync.RWMutex
	cmd           *exec.Cmd
	binary        string
	status        Status
	restartCount  int
	relaunches    int
	lastError     error
	startTime     time.Time
	stopRequested bool
	done          chan struct{}
}

// NewManager creates a supervisor with the given configuration.
func NewManager(cfg Config) *Manager {
	if cfg.RestartDelay <= 0 {
		cfg.RestartDelay = DefaultRestartDelay
	}
	if cfg.GracefulTimeout <= 0 {
		cfg.GracefulTimeout = DefaultGracefulTimeout
	}
	if cfg.RestartExitCode == 0 {
		cfg.RestartExitCode = DefaultRestartExitCode
	}

	return &Manager{
		config: cfg,
		logger: noopLogger{},
		status: StatusStopped,
	}
}

// SetLogger sets the logger for the manager.
func (m *Manager) SetLogger(logger Logger) {
	m.mu.Lock()
	m.logger = logger
	m.mu.Unlock()
}

func (m *Manager) log() Logger {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.logger
}

// Start launches the process and begins supervising it. An error is
// returned only if the first launch fails.
func (m *Manager) Start(ctx context.Context) error {
	if m.config.Resolve == nil {
		return fmt.Errorf("process %s: no binary resolver", m.config.Name)
	}

	m.mu.Lock()
	if m.status == StatusRunning || m.status == StatusStarting {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrAlreadyRunning, m.config.Name)
	}
	m.status = StatusStarting
	m.stopRequested = false
	m.restartCount = 0
	m.done = make(chan struct{})
	m.mu.Unlock()

	if err := m.launch(ctx); err != nil {
		m.mu.Lock()
		m.status = StatusFailed
		m.lastError = err
		close(m.done)
		m.mu.Unlock()
		return err
	}

	go m.monitor(ctx)
	return nil
}

// launch resolves the binary and starts it.
func (m *Manager) launch(ctx context.Context) error {
	binary, err := m.config.Resolve()
	if err != nil {
		return fmt.Errorf("resolving %s binary: %w", m.config.Name, err)
	}

	logger := m.log()
	logger.Info("starting process",
		"name", m.config.Name,
		"binary", binary,
		"args", m.config.Args,
	)

	cmd := exec.CommandContext(ctx, binary, m.config.Args...) //nolint:gosec // binary comes from the committed boot slot

	// Own process group so Stop reaches the daemon's children too.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	if m.config.Env != nil {
		cmd.Env = append(os.Environ(), m.config.Env...)
	}
	if m.config.WorkDir != "" {
		cmd.Dir = m.config.WorkDir
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("creating stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("creating stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("starting %s: %w", m.config.Name, err)
	}

	m.mu.Lock()
	m.cmd = cmd
	m.binary = binary
	m.status = StatusRunning
	m.startTime = time.Now()
	stopping := m.stopRequested
	m.mu.Unlock()

	// Stop raced with a relaunch; the monitor reaps the exit.
	if stopping {
		_ = syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}

	go m.captureOutput("stdout", stdout)
	go m.captureOutput("stderr", stderr)

	logger.Info("process started",
		"name", m.config.Name,
		"pid", cmd.Process.Pid,
	)

	if m.config.OnStart != nil {
		m.config.OnStart(binary, cmd.Process.Pid)
	}
	return nil
}

// captureOutput logs each line the process writes.
func (m *Manager) captureOutput(stream string, r io.Reader) {
	logger := m.log()
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		logger.Debug("process output",
			"name", m.config.Name,
			"stream", stream,
			"output", scanner.Text(),
		)
	}
}

// exitCode extracts the exit status from a Wait error.
func exitCode(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	return -1
}

// monitor waits for each exit and decides whether to relaunch.
func (m *Manager) monitor(ctx context.Context) {
	m.mu.RLock()
	done := m.done
	m.mu.RUnlock()
	defer close(done)

	var launchErr error
	for {
		m.mu.RLock()
		cmd := m.cmd
		m.mu.RUnlock()

		err := launchErr
		code := -1
		if cmd != nil {
			err = cmd.Wait()
			code = exitCode(err)
			if m.config.OnExit != nil {
				m.config.OnExit(code, err)
			}
		}

		if !m.afterExit(ctx, code, err) {
			return
		}

		launchErr = m.launch(ctx)
		if launchErr != nil {
			m.log().Error("failed to relaunch process",
				"name", m.config.Name,
				"error", launchErr,
			)
			m.mu.Lock()
			m.cmd = nil
			m.mu.Unlock()
		}
	}
}

// afterExit records an exit and reports whether to launch again, waiting
// out the crash delay when needed.
func (m *Manager) afterExit(ctx context.Context, code int, err error) bool {
	logger := m.log()

	m.mu.Lock()
	if m.stopRequested || ctx.Err() != nil {
		m.status = StatusStopped
		m.mu.Unlock()
		logger.Info("process stopped", "name", m.config.Name)
		return false
	}

	switch {
	case code == m.config.RestartExitCode:
		m.relaunches++
		m.restartCount = 0
		m.status = StatusStarting
		m.mu.Unlock()
		logger.Info("process requested restart", "name", m.config.Name)
		return true

	case code == 0:
		m.status = StatusStopped
		m.mu.Unlock()
		logger.Info("process exited cleanly", "name", m.config.Name)
		return false
	}

	if err == nil {
		err = fmt.Errorf("exit status %d", code)
	}
	m.lastError = err
	m.status = StatusFailed
	m.restartCount++
	attempt := m.restartCount
	m.mu.Unlock()

	logger.Warn("process exited unexpectedly",
		"name", m.config.Name,
		"code", code,
		"error", err,
	)

	if m.config.MaxRestartAttempts > 0 && attempt > m.config.MaxRestartAttempts {
		logger.Error("max restart attempts reached",
			"name", m.config.Name,
			"attempts", attempt,
		)
		return false
	}

	logger.Info("restarting process",
		"name", m.config.Name,
		"attempt", attempt,
		"delay", m.config.RestartDelay,
	)

	timer := time.NewTimer(m.config.RestartDelay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stopRequested {
		m.status = StatusStopped
		return false
	}
	m.status = StatusStarting
	return true
}

// Stop terminates the process group and ends supervision.
// It sends SIGTERM, then SIGKILL after GracefulTimeout.
func (m *Manager) Stop() error {
	m.mu.Lock()
	m.stopRequested = true
	cmd := m.cmd
	done := m.done
	running := m.status == StatusRunning
	m.mu.Unlock()

	if done == nil {
		return nil
	}
	if !running || cmd == nil || cmd.Process == nil {
		<-done
		return nil
	}

	logger := m.log()
	pid := cmd.Process.Pid
	logger.Info("stopping process", "name", m.config.Name, "pid", pid)

	if err := syscall.Kill(-pid, syscall.SIGTERM); err != nil && !errors.Is(err, syscall.ESRCH) {
		logger.Warn("failed to send SIGTERM to process group", "name", m.config.Name, "error", err)
	}

	select {
	case <-done:
		return nil
	case <-time.After(m.config.GracefulTimeout):
		logger.Warn("graceful shutdown timeout, sending SIGKILL",
			"name", m.config.Name,
			"timeout", m.config.GracefulTimeout,
		)
	}

	if err := syscall.Kill(-pid, syscall.SIGKILL); err != nil && !errors.Is(err, syscall.ESRCH) {
		return fmt.Errorf("killing process group %s: %w", m.config.Name, err)
	}
	<-done
	return nil
}

// Done is closed when supervision ends. It is nil before Start.
func (m *Manager) Done() <-chan struct{} {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.done
}

// Status returns the current status.
func (m *Manager) Status() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.status
}

// IsRunning returns true if the process is currently running.
func (m *Manager) IsRunning() bool {
	return m.Status() == StatusRunning
}

// LastError returns the cause of the last crash.
func (m *Manager) LastError() error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastError
}

// RestartCount returns the number of consecutive crashes.
func (m *Manager) RestartCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.restartCount
}

// Relaunches returns how many times the process asked to be restarted.
func (m *Manager) Relaunches() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.relaunches
}

// Stats is a snapshot of the supervisor.
type Stats struct {
	Name         string        `json:"name"`
	Binary       string        `json:"binary"`
	Status       Status        `json:"status"`
	PID          int           `json:"pid,omitempty"`
	Uptime       time.Duration `json:"uptime,omitempty"`
	RestartCount int           `json:"restart_count"`
	Relaunches   int           `json:"relaunches"`
	LastError    string        `json:"last_error,omitempty"`
}

// Stats returns current statistics.
func (m *Manager) Stats() Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stats := Stats{
		Name:         m.config.Name,
		Binary:       m.binary,
		Status:       m.status,
		RestartCount: m.restartCount,
		Relaunches:   m.relaunches,
	}
	if m.cmd != nil && m.cmd.Process != nil && m.status == StatusRunning {
		stats.PID = m.cmd.Process.Pid
		stats.Uptime = time.Since(m.startTime)
	}
	if m.lastError != nil {
		stats.LastError = m.lastError.Error()
	}
	return stats
}
