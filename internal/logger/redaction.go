package logger

import (
	"io"
	"regexp"
)

const redacted = "[REDACTED]"

type rule struct {
	re   *regexp.Regexp
	repl string
}

// Redactor masks credentials in log output
type Redactor struct {
	rules []rule
}

// NewRedactor creates a redactor with the default rules
func NewRedactor() *Redactor {
	return &Redactor{
		rules: []rule{
			// userinfo in proxy, redis and websocket URLs
			{regexp.MustCompile(`([a-zA-Z][a-zA-Z0-9+.-]*://)[^/\s@"]*:[^/\s@"]+@`), "${1}" + redacted + "@"},

			{regexp.MustCompile(`Bearer\s+[a-zA-Z0-9._~+/=-]+`), "Bearer " + redacted},

			// debugger URLs carry access tokens as query params
			{regexp.MustCompile(`([?&](?:token|access_token|apikey|api_key)=)[^&\s"]+`), "${1}" + redacted},

			{regexp.MustCompile(`(?i)(password|passwd|pwd|secret)(["\s:=]+)[^\s",}]+`), "${1}${2}" + redacted},

			{regexp.MustCompile(`AKIA[0-9A-Z]{16}`), redacted},
		},
	}
}

// AddPattern adds a pattern whose matches are replaced entirely
func (r *Redactor) AddPattern(pattern string) error {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return err
	}
	r.rules = append(r.rules, rule{re: re, repl: redacted})
	return nil
}

// Redact masks every credential found in s
func (r *Redactor) Redact(s string) string {
	for _, rl := range r.rules {
		s = rl.re.ReplaceAllString(s, rl.repl)
	}
	return s
}

// Wrap returns a writer that redacts before writing to w
func (r *Redactor) Wrap(w io.Writer) io.Writer {
	return &redactingWriter{
		writer:   w,
		redactor: r,
	}
}

type redactingWriter struct {
	writer   io.Writer
	redactor *Redactor
}

// Write reports len(p) on success since redaction changes the length
func (w *redactingWriter) Write(p []byte) (int, error) {
	if _, err := w.writer.Write([]byte(w.redactor.Redact(string(p)))); err != nil {
		return 0, err
	}
	return len(p), nil
}
