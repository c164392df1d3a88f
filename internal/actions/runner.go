// Package actions talks to the GitHub Actions runner: step outputs,
// exported variables, log masking, annotations and OIDC ID tokens.
package actions

import (
	"io"
	"net/http"
	"os"

	"github.com/dopplerhq/secrets-fetch-action/env"
	"github.com/dopplerhq/secrets-fetch-action/internal/dopplerhttp"
	"github.com/dopplerhq/secrets-fetch-action/internal/redact"
	"github.com/dopplerhq/secrets-fetch-action/logger"
)

// Runner implements secrets.Runner and credential.IDTokenSource for a step
// running under GitHub Actions.
type Runner struct {
	logger   logger.Logger
	env      *env.Environment
	exported *env.Environment
	stdout   io.Writer

	setenv       func(key, value string) error
	newDelimiter func() string
	httpClient   *http.Client
	debugHTTP    bool
}

type Option func(*Runner)

// WithStdout sets where workflow commands are written. Defaults to
// os.Stdout.
func WithStdout(w io.Writer) Option {
	return func(r *Runner) { r.stdout = w }
}

// WithSetenv replaces os.Setenv, which ExportVariable uses to update the
// current process.
func WithSetenv(f func(key, value string) error) Option {
	return func(r *Runner) { r.setenv = f }
}

func WithHTTPClient(c *http.Client) Option {
	return func(r *Runner) { r.httpClient = c }
}

func WithDebugHTTP(d bool) Option {
	return func(r *Runner) { r.debugHTTP = d }
}

// New returns a Runner reading its configuration from environ, which is
// usually os.Environ().
func New(l logger.Logger, environ []string, opts ...Option) *Runner {
	r := &Runner{
		logger:       l,
		env:          env.FromSlice(environ),
		exported:     env.New(),
		stdout:       os.Stdout,
		setenv:       os.Setenv,
		newDelimiter: newDelimiter,
	}
	for _, o := range opts {
		o(r)
	}
	if r.httpClient == nil {
		r.httpClient = dopplerhttp.NewClient()
	}
	return r
}

// InActions reports whether the process looks like it is running as a
// GitHub Actions step.
func (r *Runner) InActions() bool {
	return r.env.GetBool("GITHUB_ACTIONS", false)
}

// StepDebug reports whether step debug logging is enabled for the run.
func (r *Runner) StepDebug() bool {
	return r.env.GetBool("RUNNER_DEBUG", false)
}

// Exported returns the variables exported so far.
func (r *Runner) Exported() *env.Environment {
	return r.exported
}

// SetOutput sets a step output.
func (r *Runner) SetOutput(key, value string) error {
	if path, _ := r.env.Get("GITHUB_OUTPUT"); path != "" {
		msg, err := keyValueMessage(key, value, r.newDelimiter())
		if err != nil {
			return err
		}
		return appendFileCommand(path, msg)
	}

	if _, err := io.WriteString(r.stdout, "\n"); err != nil {
		return err
	}
	return issueCommand(r.stdout, "set-output", map[string]string{"name": key}, value)
}

// SetSecret registers value with the runner's log masker. Each line of a
// multi-line value is masked on its own as well, since the runner masks
// line by line.
func (r *Runner) SetSecret(value string) {
	for _, v := range redact.Variants(value) {
		if err := issueCommand(r.stdout, "add-mask", nil, v); err != nil {
			r.logger.Error("Couldn't issue add-mask: %v", err)
		}
	}
}

// ExportVariable sets key=value for the current process and for every later
// step in the job.
func (r *Runner) ExportVariable(key, value string) error {
	if err := r.setenv(key, value); err != nil {
		return err
	}
	r.exported.Set(key, value)

	path, _ := r.env.Get("GITHUB_ENV")
	if path == "" {
		r.logger.Debug("GITHUB_ENV is not set, %q is only set for this process", key)
		return nil
	}

	msg, err := keyValueMessage(key, value, r.newDelimiter())
	if err != nil {
		return err
	}
	return appendFileCommand(path, msg)
}

// Warning creates a warning annotation.
func (r *Runner) Warning(msg string) error {
	return issueCommand(r.stdout, "warning", nil, msg)
}

// Error creates an error annotation.
func (r *Runner) Error(msg string) error {
	return issueCommand(r.stdout, "error", nil, msg)
}

// Debug writes a message that only shows up when step debugging is on.
func (r *Runner) Debug(msg string) error {
	return issueCommand(r.stdout, "debug", nil, msg)
}
