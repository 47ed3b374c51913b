package daemon

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"
)

// LifecycleManager owns the daemon's PID file
type LifecycleManager struct {
	daemon  *Daemon
	pidFile string
}

// DefaultPIDFile returns ~/.moonlight/moonlight.pid
func DefaultPIDFile() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), "moonlight.pid")
	}
	return filepath.Join(home, ".moonlight", "moonlight.pid")
}

// NewLifecycleManager creates a new lifecycle manager. An empty pidFile
// selects DefaultPIDFile.
func NewLifecycleManager(d *Daemon, pidFile string) *LifecycleManager {
	if pidFile == "" {
		pidFile = DefaultPIDFile()
	}
	return &LifecycleManager{
		daemon:  d,
		pidFile: pidFile,
	}
}

// Start writes the PID file, refusing when another live daemon owns it
func (l *LifecycleManager) Start() error {
	if pid, running := ProcessRunning(l.pidFile); running && pid != os.Getpid() {
		return fmt.Errorf("daemon already running with PID %d", pid)
	}

	if err := os.MkdirAll(filepath.Dir(l.pidFile), 0755); err != nil {
		return fmt.Errorf("failed to create PID directory: %w", err)
	}

	if err := l.writePIDFile(); err != nil {
		return fmt.Errorf("failed to write PID file: %w", err)
	}

	l.daemon.log.Info().
		Str("pid_file", l.pidFile).
		Int("pid", os.Getpid()).
		Msg("Lifecycle manager started")

	return nil
}

// Stop removes the PID file
func (l *LifecycleManager) Stop() error {
	if err := os.Remove(l.pidFile); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove PID file: %w", err)
	}

	l.daemon.log.Info().Msg("Lifecycle manager stopped")
	return nil
}

func (l *LifecycleManager) writePIDFile() error {
	return os.WriteFile(l.pidFile, []byte(strconv.Itoa(os.Getpid())), 0644)
}

// PIDFile returns the managed path
func (l *LifecycleManager) PIDFile() string {
	return l.pidFile
}

// GetUptime returns the daemon uptime
func (l *LifecycleManager) GetUptime() time.Duration {
	return l.daemon.Status().Uptime
}

// ReadPID returns the PID stored in path
func ReadPID(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}

	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("invalid PID file: %w", err)
	}
	return pid, nil
}

// ProcessRunning reports the PID in path and whether that process is alive
func ProcessRunning(path string) (int, bool) {
	pid, err := ReadPID(path)
	if err != nil {
		return 0, false
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		return pid, false
	}

	// FindProcess always succeeds on Unix; signal 0 checks for existence
	err = process.Signal(syscall.Signal(0))
	return pid, err == nil || errors.Is(err, syscall.EPERM)
}
