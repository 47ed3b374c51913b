package browser

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
)

// Family describes how one kind of browser is started and how it publishes
// its remote-debugging endpoint.
type Family interface {
	Name() string
	// Executables lists the binary names looked up on PATH
	Executables() []string
	// Args returns the command line for a profile directory
	Args(userDataDir string, opts LaunchOptions) []string
	// EndpointFile is the file the browser writes once it is listening
	EndpointFile(userDataDir string) string
	// ParseEndpoint extracts the WebSocket URL from the endpoint file
	ParseEndpoint(data []byte) (string, error)
}

// Family names
const (
	Chromium = "chromium"
	Firefox  = "firefox"
	WebKit   = "webkit"
)

// FamilyByName returns the family registered under name
func FamilyByName(name string) (Family, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case Chromium, "chrome":
		return chromiumFamily{}, nil
	case Firefox:
		return firefoxFamily{}, nil
	case WebKit:
		return webkitFamily{}, nil
	default:
		return nil, &BrowserError{
			Code:    ErrCodeValidation,
			Message: fmt.Sprintf("unsupported browser type %q", name),
		}
	}
}

// FamilyNames lists the supported family names
func FamilyNames() []string {
	return []string{Chromium, Firefox, WebKit}
}

type chromiumFamily struct{}

func (chromiumFamily) Name() string { return Chromium }

func (chromiumFamily) Executables() []string {
	return []string{"chromium", "chromium-browser", "google-chrome", "google-chrome-stable", "chrome"}
}

func (chromiumFamily) Args(userDataDir string, opts LaunchOptions) []string {
	args := []string{
		"--user-data-dir=" + userDataDir,
		"--remote-debugging-port=0",
		"--no-first-run",
		"--no-default-browser-check",
	}
	if opts.Headless {
		args = append(args, "--headless")
	}
	if opts.NoSandbox {
		args = append(args, "--no-sandbox")
	}
	return append(args, opts.Args...)
}

func (chromiumFamily) EndpointFile(userDataDir string) string {
	return filepath.Join(userDataDir, "DevToolsActivePort")
}

// ParseEndpoint reads DevToolsActivePort: the port on the first line and the
// browser target path on the second.
func (chromiumFamily) ParseEndpoint(data []byte) (string, error) {
	scanner := bufio.NewScanner(bytes.NewReader(data))

	if !scanner.Scan() {
		return "", fmt.Errorf("empty DevToolsActivePort file")
	}
	port, err := strconv.Atoi(strings.TrimSpace(scanner.Text()))
	if err != nil || port <= 0 || port > 65535 {
		return "", fmt.Errorf("invalid port in DevToolsActivePort: %q", scanner.Text())
	}

	path := "/devtools/browser"
	if scanner.Scan() {
		if p := strings.TrimSpace(scanner.Text()); strings.HasPrefix(p, "/") {
			path = p
		}
	}

	return fmt.Sprintf("ws://127.0.0.1:%d%s", port, path), nil
}

type firefoxFamily struct{}

func (firefoxFamily) Name() string { return Firefox }

func (firefoxFamily) Executables() []string {
	return []string{"firefox", "firefox-esr", "firefox-nightly"}
}

func (firefoxFamily) Args(userDataDir string, opts LaunchOptions) []string {
	args := []string{
		"-profile", userDataDir,
		"-remote-debugging-port", "0",
		"-no-remote",
	}
	if opts.Headless {
		args = append(args, "-headless")
	}
	return append(args, opts.Args...)
}

func (firefoxFamily) EndpointFile(userDataDir string) string {
	return filepath.Join(userDataDir, "firefox_debug.json")
}

func (firefoxFamily) ParseEndpoint(data []byte) (string, error) {
	return parseDebuggerJSON(data)
}

type webkitFamily struct{}

func (webkitFamily) Name() string { return WebKit }

func (webkitFamily) Executables() []string {
	return []string{"webkit", "MiniBrowser", "pw_run.sh"}
}

func (webkitFamily) Args(userDataDir string, opts LaunchOptions) []string {
	args := []string{"--user-data-dir=" + userDataDir}
	if opts.Headless {
		args = append(args, "--headless")
	}
	return append(args, opts.Args...)
}

func (webkitFamily) EndpointFile(userDataDir string) string {
	return filepath.Join(userDataDir, "webkit_debug.json")
}

func (webkitFamily) ParseEndpoint(data []byte) (string, error) {
	return parseDebuggerJSON(data)
}

func parseDebuggerJSON(data []byte) (string, error) {
	var doc struct {
		WebSocketDebuggerURL string `json:"webSocketDebuggerUrl"`
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return "", fmt.Errorf("decode endpoint file: %w", err)
	}
	if doc.WebSocketDebuggerURL == "" {
		return "", fmt.Errorf("endpoint file has no webSocketDebuggerUrl")
	}
	return doc.WebSocketDebuggerURL, nil
}
