package browser

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"
)

const endpointPollInterval = 100 * time.Millisecond

// Process is a started browser and the endpoint it is listening on
type Process struct {
	Endpoint    string
	Family      Family
	UserDataDir string
	PID         int

	tempDir  bool
	kill     func() error
	killOnce sync.Once
	killErr  error
}

// NewProcess wraps a browser started by a Launcher outside this package.
// kill stops it; a nil kill marks the process as attached.
func NewProcess(endpoint string, family Family, kill func() error) *Process {
	return &Process{Endpoint: endpoint, Family: family, kill: kill}
}

// Owned reports whether the process was started by its launcher. Attached
// processes are neither asked to exit nor killed.
func (p *Process) Owned() bool {
	return p.kill != nil
}

// Kill stops the browser process. Processes that were attached to rather
// than started are left running.
func (p *Process) Kill() error {
	p.killOnce.Do(func() {
		if p.kill != nil {
			p.killErr = p.kill()
		}
	})
	return p.killErr
}

// Cleanup kills the process and removes its profile directory if it was
// created for this launch.
func (p *Process) Cleanup() error {
	err := p.Kill()
	if p.tempDir && p.UserDataDir != "" {
		if rmErr := os.RemoveAll(p.UserDataDir); rmErr != nil {
			err = errors.Join(err, rmErr)
		}
	}
	return err
}

// ensureUserDataDir returns the profile directory to use and whether it is
// a temporary one owned by the launch.
func ensureUserDataDir(dir string) (string, bool, error) {
	if dir == "" {
		tmp, err := os.MkdirTemp("", "moonlight-profile-")
		if err != nil {
			return "", false, &BrowserError{
				Code:    ErrCodeConfiguration,
				Message: "failed to create temporary user data directory",
				Err:     err,
			}
		}
		return tmp, true, nil
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", false, &BrowserError{
			Code:    ErrCodeConfiguration,
			Message: fmt.Sprintf("failed to create user data directory %s", dir),
			Err:     err,
		}
	}
	return dir, false, nil
}

// waitForEndpoint polls the family's endpoint file until it parses, the
// process exits, or timeout elapses.
func waitForEndpoint(ctx context.Context, family Family, userDataDir string, timeout, interval time.Duration, exited <-chan struct{}) (string, error) {
	path := family.EndpointFile(userDataDir)

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var lastErr error
	for {
		data, err := os.ReadFile(path)
		if err == nil {
			endpoint, parseErr := family.ParseEndpoint(data)
			if parseErr == nil {
				return endpoint, nil
			}
			// the browser may still be writing the file
			lastErr = parseErr
		}

		select {
		case <-ctx.Done():
			return "", &BrowserError{Code: ErrCodeTimeout, Message: "endpoint discovery cancelled", Err: ctx.Err()}
		case <-exited:
			return "", &BrowserError{Code: ErrCodeBrowserCrash, Message: fmt.Sprintf("%s exited before publishing its endpoint", family.Name())}
		case <-timer.C:
			return "", &BrowserError{
				Code:    ErrCodeTimeout,
				Message: fmt.Sprintf("%s endpoint not available after %v", family.Name(), timeout),
				Details: path,
				Err:     lastErr,
			}
		case <-ticker.C:
		}
	}
}
