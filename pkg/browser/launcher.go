package browser

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sort"
	"strings"
	"time"

	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/launcher/flags"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Launcher starts a browser and reports its remote-debugging endpoint
type Launcher interface {
	Launch(ctx context.Context, opts LaunchOptions) (*Process, error)
}

// NewLauncher returns the launcher suited to family
func NewLauncher(family Family) Launcher {
	logger := log.Logger.With().Str("component", "launcher").Str("browser_type", family.Name()).Logger()
	if family.Name() == Chromium {
		return &RodLauncher{Logger: logger}
	}
	return &ExecLauncher{Family: family, Logger: logger}
}

// RodLauncher starts Chromium through go-rod's launcher, which also locates
// (and if needed downloads) the browser binary.
type RodLauncher struct {
	Logger zerolog.Logger
}

type rodResult struct {
	url string
	err error
}

func (l *RodLauncher) Launch(ctx context.Context, opts LaunchOptions) (*Process, error) {
	dir, temp, err := ensureUserDataDir(opts.UserDataDir)
	if err != nil {
		return nil, err
	}

	rl := launcher.New().
		Headless(opts.Headless).
		UserDataDir(dir)

	if opts.NoSandbox {
		rl = rl.NoSandbox(true)
	}
	if opts.ExecutablePath != "" {
		rl = rl.Bin(opts.ExecutablePath)
	}
	for _, raw := range opts.Args {
		name, val, hasVal := strings.Cut(strings.TrimLeft(raw, "-"), "=")
		if hasVal {
			rl = rl.Set(flags.Flag(name), val)
		} else {
			rl = rl.Set(flags.Flag(name))
		}
	}
	if len(opts.Env) > 0 {
		rl = rl.Env(append(os.Environ(), envList(opts.Env)...)...)
	}

	done := make(chan rodResult, 1)
	go func() {
		u, err := rl.Launch()
		done <- rodResult{url: u, err: err}
	}()

	timer := time.NewTimer(opts.timeout())
	defer timer.Stop()

	abandon := func(cause error) (*Process, error) {
		// reap a launch that completes after we gave up on it
		go func() {
			if r := <-done; r.err == nil {
				rl.Kill()
			}
			removeTemp(dir, temp)
		}()
		return nil, &BrowserError{Code: ErrCodeTimeout, Message: "chromium launch did not complete", Err: cause}
	}

	select {
	case r := <-done:
		if r.err != nil {
			removeTemp(dir, temp)
			return nil, &BrowserError{Code: ErrCodeLaunch, Message: "failed to launch chromium", Err: r.err}
		}

		l.Logger.Debug().Str("endpoint", r.url).Int("pid", rl.PID()).Msg("Chromium launched")

		return &Process{
			Endpoint:    r.url,
			Family:      chromiumFamily{},
			UserDataDir: dir,
			PID:         rl.PID(),
			tempDir:     temp,
			kill: func() error {
				rl.Kill()
				return nil
			},
		}, nil
	case <-ctx.Done():
		return abandon(ctx.Err())
	case <-timer.C:
		return abandon(fmt.Errorf("no endpoint after %v", opts.timeout()))
	}
}

// ExecLauncher spawns the family's executable directly and discovers the
// endpoint by polling the file the browser writes into its profile.
type ExecLauncher struct {
	Family       Family
	PollInterval time.Duration
	Logger       zerolog.Logger
}

func (l *ExecLauncher) Launch(ctx context.Context, opts LaunchOptions) (*Process, error) {
	bin, err := l.resolveExecutable(opts.ExecutablePath)
	if err != nil {
		return nil, err
	}

	dir, temp, err := ensureUserDataDir(opts.UserDataDir)
	if err != nil {
		return nil, err
	}

	// a reused profile may still carry the previous endpoint
	_ = os.Remove(l.Family.EndpointFile(dir))

	cmd := exec.Command(bin, l.Family.Args(dir, opts)...)
	cmd.Env = append(os.Environ(), envList(opts.Env)...)

	if err := cmd.Start(); err != nil {
		removeTemp(dir, temp)
		return nil, &BrowserError{
			Code:    ErrCodeLaunch,
			Message: fmt.Sprintf("failed to start %s", bin),
			Err:     err,
		}
	}

	exited := make(chan struct{})
	go func() {
		_ = cmd.Wait()
		close(exited)
	}()

	kill := func() error {
		if err := cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
			return err
		}
		select {
		case <-exited:
		case <-time.After(5 * time.Second):
			return fmt.Errorf("%s (pid %d) did not exit after kill", bin, cmd.Process.Pid)
		}
		return nil
	}

	interval := l.PollInterval
	if interval <= 0 {
		interval = endpointPollInterval
	}

	endpoint, err := waitForEndpoint(ctx, l.Family, dir, opts.timeout(), interval, exited)
	if err != nil {
		_ = kill()
		removeTemp(dir, temp)
		return nil, err
	}

	l.Logger.Debug().Str("endpoint", endpoint).Int("pid", cmd.Process.Pid).Msg("Browser launched")

	return &Process{
		Endpoint:    endpoint,
		Family:      l.Family,
		UserDataDir: dir,
		PID:         cmd.Process.Pid,
		tempDir:     temp,
		kill:        kill,
	}, nil
}

func (l *ExecLauncher) resolveExecutable(path string) (string, error) {
	if path != "" {
		if _, err := os.Stat(path); err != nil {
			return "", &BrowserError{
				Code:    ErrCodeNotFound,
				Message: fmt.Sprintf("%s executable not found at %s", l.Family.Name(), path),
				Err:     err,
			}
		}
		return path, nil
	}

	for _, name := range l.Family.Executables() {
		if p, err := exec.LookPath(name); err == nil {
			return p, nil
		}
	}

	return "", &BrowserError{
		Code:    ErrCodeNotFound,
		Message: fmt.Sprintf("no %s executable found on PATH", l.Family.Name()),
		Details: l.Family.Executables(),
	}
}

// AttachLauncher connects to a browser that is already running. Endpoint may
// be a ws:// URL or an http(s) address or port of the debugging server.
type AttachLauncher struct {
	Endpoint string
	Family   Family
}

func (l *AttachLauncher) Launch(ctx context.Context, _ LaunchOptions) (*Process, error) {
	if err := ctx.Err(); err != nil {
		return nil, &BrowserError{Code: ErrCodeTimeout, Message: "attach cancelled", Err: err}
	}

	family := l.Family
	if family == nil {
		family = chromiumFamily{}
	}

	endpoint := l.Endpoint
	if !strings.HasPrefix(endpoint, "ws://") && !strings.HasPrefix(endpoint, "wss://") {
		resolved, err := launcher.ResolveURL(endpoint)
		if err != nil {
			return nil, &BrowserError{
				Code:    ErrCodeConnection,
				Message: fmt.Sprintf("failed to resolve debugger URL from %q", endpoint),
				Err:     err,
			}
		}
		endpoint = resolved
	}

	return &Process{Endpoint: endpoint, Family: family}, nil
}

func envList(env map[string]string) []string {
	out := make([]string, 0, len(env))
	for k, v := range env {
		out = append(out, k+"="+v)
	}
	sort.Strings(out)
	return out
}

func removeTemp(dir string, temp bool) {
	if temp {
		_ = os.RemoveAll(dir)
	}
}
