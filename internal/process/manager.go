package process

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"
)

// Status represents the current state of a managed process.
type Status string

const (
	StatusStopped  Status = "stopped"
	StatusStarting Status = "starting"
	StatusRunning  Status = "running"
	StatusFailed   Status = "failed"
)

var (
	// ErrAlreadyRunning is returned by Start on a running manager.
	ErrAlreadyRunning = errors.New("process: already running")

	// ErrNoBinary is returned by Start when Config.Binary is empty.
	ErrNoBinary = errors.New("process: no binary configured")

	// ErrNotReady is returned by Start when Address never accepted a
	// connection within ReadyTimeout.
	ErrNotReady = errors.New("process: not ready")
)

// Defaults applied by NewManager to zero Config fields.
const (
	DefaultRestartDelay    = 2 * time.Second
	DefaultMaxRestartDelay = time.Minute
	DefaultStableAfter     = 2 * time.Minute
	DefaultGracefulTimeout = 10 * time.Second
	DefaultReadyTimeout    = 10 * time.Second
	DefaultHealthInterval  = 15 * time.Second
	DefaultHealthFailures  = 3

	readyPollInterval = 100 * time.Millisecond
	probeTimeout      = 2 * time.Second
)

// Config describes the adapter process to supervise.
type Config struct {
	// Name identifies the process in logs.
	Name string

	Binary  string
	Args    []string
	Env     []string // appended to the parent environment
	WorkDir string

	// Address is the host:port the process serves. When set, Start waits
	// for it to accept connections and the watchdog probes it.
	Address string

	// ReadyTimeout bounds the wait for Address after the first start.
	ReadyTimeout time.Duration

	// RestartDelay is the first delay after an unexpected exit. It doubles
	// on each consecutive failure up to MaxRestartDelay, and resets once a
	// run lasts StableAfter.
	RestartDelay    time.Duration
	MaxRestartDelay time.Duration
	StableAfter     time.Duration

	// MaxRestarts limits consecutive restarts. 0 means unlimited.
	MaxRestarts int

	// GracefulTimeout is how long Stop waits after SIGTERM before SIGKILL.
	GracefulTimeout time.Duration

	// HealthInterval and HealthFailures control the watchdog: after
	// HealthFailures consecutive failed probes of Address the process is
	// killed and restarted.
	HealthInterval time.Duration
	HealthFailures int
}

// Logger defines the logging interface for the process manager.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Manager supervises one subprocess: it restarts it when it exits or stops
// answering on its address.
//
// Thread Safety: all methods are safe for concurrent use.
type Manager struct {
	config Config
	logger Logger

	mu            sync.RWMutex
	current       *run
	status        Status
	restarts      int
	lastError     error
	stopRequested bool
	stop          chan struct{} // closed by Stop
	done          chan struct{} // closed when supervision ends
}

// run is one instance of the process.
type run struct {
	cmd     *exec.Cmd
	started time.Time
	exited  chan struct{} // closed after Wait returns
	err     error         // Wait result, valid once exited is closed
}

// NewManager applies defaults to cfg. It does not start anything.
func NewManager(cfg Config, logger Logger) *Manager {
	if cfg.Name == "" {
		cfg.Name = "adapter"
	}
	if cfg.RestartDelay <= 0 {
		cfg.RestartDelay = DefaultRestartDelay
	}
	if cfg.MaxRestartDelay < cfg.RestartDelay {
		cfg.MaxRestartDelay = max(DefaultMaxRestartDelay, cfg.RestartDelay)
	}
	if cfg.StableAfter <= 0 {
		cfg.StableAfter = DefaultStableAfter
	}
	if cfg.GracefulTimeout <= 0 {
		cfg.GracefulTimeout = DefaultGracefulTimeout
	}
	if cfg.ReadyTimeout <= 0 {
		cfg.ReadyTimeout = DefaultReadyTimeout
	}
	if cfg.HealthInterval <= 0 {
		cfg.HealthInterval = DefaultHealthInterval
	}
	if cfg.HealthFailures <= 0 {
		cfg.HealthFailures = DefaultHealthFailures
	}
	if logger == nil {
		logger = noopLogger{}
	}
	return &Manager{config: cfg, logger: logger, status: StatusStopped}
}

// Start launches the process, waits for its address to accept connections
// and begins supervising it. The process is stopped when ctx ends.
//
// Returns:
//   - error: ErrAlreadyRunning, ErrNoBinary, a start failure, or ErrNotReady
//     (the process is stopped again in that case)
func (m *Manager) Start(ctx context.Context) error {
	if m.config.Binary == "" {
		return ErrNoBinary
	}

	m.mu.Lock()
	if m.status == StatusRunning || m.status == StatusStarting {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrAlreadyRunning, m.config.Name)
	}
	m.status = StatusStarting
	m.stopRequested = false
	m.restarts = 0
	m.stop = make(chan struct{})
	m.done = make(chan struct{})
	done := m.done
	m.mu.Unlock()

	r, err := m.launch(ctx)
	if err != nil {
		m.fail(err)
		close(done)
		return err
	}

	if err := m.waitReady(ctx, r); err != nil {
		m.terminate(r)
		m.fail(err)
		close(done)
		return err
	}

	go m.monitor(ctx, done)
	return nil
}

func (m *Manager) fail(err error) {
	m.mu.Lock()
	m.status = StatusFailed
	m.lastError = err
	m.mu.Unlock()
}

// launch starts one instance of the process.
func (m *Manager) launch(ctx context.Context) (*run, error) {
	m.logger.Info("starting process", "name", m.config.Name, "binary", m.config.Binary, "args", m.config.Args)

	cmd := exec.CommandContext(ctx, m.config.Binary, m.config.Args...) //nolint:gosec // binary comes from operator configuration
	// A process group lets signals reach the adapter's children too.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error { return signalGroup(cmd, syscall.SIGTERM) }
	cmd.WaitDelay = m.config.GracefulTimeout
	if m.config.Env != nil {
		cmd.Env = append(os.Environ(), m.config.Env...)
	}
	cmd.Dir = m.config.WorkDir

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("creating stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("creating stderr pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("starting %s: %w", m.config.Name, err)
	}

	r := &run{cmd: cmd, started: time.Now(), exited: make(chan struct{})}
	var pipes sync.WaitGroup
	pipes.Add(2)
	go m.captureOutput("stdout", stdout, &pipes)
	go m.captureOutput("stderr", stderr, &pipes)
	// Wait must not run before the pipes are drained.
	go func() {
		pipes.Wait()
		r.err = cmd.Wait()
		close(r.exited)
	}()

	m.mu.Lock()
	m.current = r
	m.status = StatusRunning
	m.mu.Unlock()

	m.logger.Info("process started", "name", m.config.Name, "pid", cmd.Process.Pid)
	return r, nil
}

// captureOutput logs each line the process writes.
func (m *Manager) captureOutput(stream string, r io.Reader, wg *sync.WaitGroup) {
	defer wg.Done()
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		m.logger.Info("process output", "name", m.config.Name, "stream", stream, "line", sc.Text())
	}
}

// waitReady polls Address until it accepts a connection.
func (m *Manager) waitReady(ctx context.Context, r *run) error {
	if m.config.Address == "" {
		return nil
	}
	deadline := time.NewTimer(m.config.ReadyTimeout)
	defer deadline.Stop()
	ticker := time.NewTicker(readyPollInterval)
	defer ticker.Stop()

	for {
		if m.probe(ctx) == nil {
			m.logger.Info("process ready", "name", m.config.Name, "address", m.config.Address)
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-r.exited:
			return fmt.Errorf("%w: %s exited before listening: %v", ErrNotReady, m.config.Name, r.err)
		case <-deadline.C:
			return fmt.Errorf("%w: %s did not listen on %s within %v", ErrNotReady, m.config.Name, m.config.Address, m.config.ReadyTimeout)
		case <-ticker.C:
		}
	}
}

// probe dials Address once.
func (m *Manager) probe(ctx context.Context) error {
	d := net.Dialer{Timeout: probeTimeout}
	conn, err := d.DialContext(ctx, "tcp", m.config.Address)
	if err != nil {
		return err
	}
	return conn.Close()
}

// watch waits for r to exit, killing it when the watchdog gives up on it.
func (m *Manager) watch(ctx context.Context, r *run) error {
	if m.config.Address == "" {
		<-r.exited
		return r.err
	}

	ticker := time.NewTicker(m.config.HealthInterval)
	defer ticker.Stop()
	failures := 0
	for {
		select {
		case <-r.exited:
			return r.err
		case <-ticker.C:
			if err := m.probe(ctx); err != nil {
				failures++
				m.logger.Warn("health probe failed", "name", m.config.Name, "error", err, "consecutive_failures", failures)
				if failures < m.config.HealthFailures {
					continue
				}
				m.logger.Error("process unresponsive, killing", "name", m.config.Name, "failures", failures)
				_ = signalGroup(r.cmd, syscall.SIGKILL) //nolint:errcheck // exit is observed below
				<-r.exited
				return fmt.Errorf("killed after %d failed health probes", failures)
			}
			if failures > 0 {
				m.logger.Info("health probe recovered", "name", m.config.Name, "previous_failures", failures)
			}
			failures = 0
		}
	}
}

// monitor restarts the process until Stop, ctx cancellation or the restart
// limit.
func (m *Manager) monitor(ctx context.Context, done chan struct{}) {
	defer close(done)
	delay := m.config.RestartDelay

	m.mu.RLock()
	r, stop := m.current, m.stop
	m.mu.RUnlock()

	// sleep waits d unless supervision ends first.
	sleep := func(d time.Duration) bool {
		select {
		case <-ctx.Done():
		case <-stop:
		case <-time.After(d):
			return true
		}
		m.mu.Lock()
		m.status = StatusStopped
		m.mu.Unlock()
		return false
	}

	for {
		err := m.watch(ctx, r)

		m.mu.Lock()
		if m.stopRequested || ctx.Err() != nil {
			m.status = StatusStopped
			m.mu.Unlock()
			m.logger.Info("process stopped", "name", m.config.Name)
			return
		}
		if time.Since(r.started) >= m.config.StableAfter {
			m.restarts = 0
			delay = m.config.RestartDelay
		}
		m.status = StatusFailed
		m.lastError = err
		attempt := m.restarts + 1
		if m.config.MaxRestarts > 0 && attempt > m.config.MaxRestarts {
			m.mu.Unlock()
			m.logger.Error("restart limit reached", "name", m.config.Name, "restarts", m.config.MaxRestarts, "error", err)
			return
		}
		m.restarts = attempt
		m.mu.Unlock()

		m.logger.Warn("process exited unexpectedly, restarting",
			"name", m.config.Name, "error", err, "attempt", attempt, "delay", delay)

		for {
			if !sleep(delay) {
				return
			}
			delay = min(delay*2, m.config.MaxRestartDelay)
			next, err := m.launch(ctx)
			if err == nil {
				r = next
				break
			}
			m.fail(err)
			m.logger.Error("failed to restart process", "name", m.config.Name, "error", err)
		}
	}
}

// Stop sends SIGTERM to the process group, escalating to SIGKILL after
// GracefulTimeout, and waits for supervision to end.
func (m *Manager) Stop() error {
	m.mu.Lock()
	if m.done == nil {
		m.mu.Unlock()
		return nil
	}
	if !m.stopRequested {
		m.stopRequested = true
		close(m.stop)
	}
	r, done := m.current, m.done
	m.mu.Unlock()

	if r != nil {
		m.terminate(r)
	}
	<-done
	return nil
}

// terminate stops r and waits for it to exit.
func (m *Manager) terminate(r *run) {
	select {
	case <-r.exited:
		return
	default:
	}
	m.logger.Info("stopping process", "name", m.config.Name, "pid", r.cmd.Process.Pid)
	if err := signalGroup(r.cmd, syscall.SIGTERM); err != nil {
		m.logger.Debug("SIGTERM failed", "name", m.config.Name, "error", err)
	}
	select {
	case <-r.exited:
		return
	case <-time.After(m.config.GracefulTimeout):
		m.logger.Warn("graceful shutdown timed out, sending SIGKILL", "name", m.config.Name, "timeout", m.config.GracefulTimeout)
	}
	if err := signalGroup(r.cmd, syscall.SIGKILL); err != nil {
		m.logger.Warn("SIGKILL failed", "name", m.config.Name, "error", err)
	}
	<-r.exited
}

// signalGroup signals cmd's whole process group.
func signalGroup(cmd *exec.Cmd, sig syscall.Signal) error {
	if cmd.Process == nil {
		return nil
	}
	err := syscall.Kill(-cmd.Process.Pid, sig)
	if errors.Is(err, syscall.ESRCH) {
		return nil
	}
	return err
}

// Status returns the current status.
func (m *Manager) Status() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.status
}

// IsRunning reports whether the process is up.
func (m *Manager) IsRunning() bool {
	return m.Status() == StatusRunning
}

// RestartCount returns the number of consecutive restarts.
func (m *Manager) RestartCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.restarts
}

// LastError returns why the process last exited unexpectedly.
func (m *Manager) LastError() error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastError
}

// Stats describes the supervised process.
type Stats struct {
	Name          string `json:"name"`
	Status        Status `json:"status"`
	PID           int    `json:"pid,omitempty"`
	UptimeSeconds int64  `json:"uptime_seconds,omitempty"`
	Restarts      int    `json:"restarts"`
	LastError     string `json:"last_error,omitempty"`
}

// Stats returns a snapshot for health reporting.
func (m *Manager) Stats() Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	st := Stats{Name: m.config.Name, Status: m.status, Restarts: m.restarts}
	if m.status == StatusRunning && m.current != nil {
		st.PID = m.current.cmd.Process.Pid
		st.UptimeSeconds = int64(time.Since(m.current.started).Seconds())
	}
	if m.lastError != nil {
		st.LastError = m.lastError.Error()
	}
	return st
}
