package secrets

import (
	"errors"
	"fmt"
	"strings"

	"github.com/dopplerhq/secrets-fetch-action/internal/redact"
	"github.com/dopplerhq/secrets-fetch-action/logger"
)

// Runner is the CI runner the Emitter writes through.
type Runner interface {
	// SetOutput makes key=value available to later steps.
	SetOutput(key, value string) error

	// SetSecret asks the runner to mask value in its logs.
	SetSecret(value string)

	// ExportVariable sets key=value in the environment of this and later
	// steps.
	ExportVariable(key, value string) error
}

// RunStats counts what happened during a run.
type RunStats struct {
	// Total is the number of secrets processed.
	Total int

	// Parsed is the number of secrets successfully decomposed.
	Parsed int

	// DecomposedKeys is the number of outputs produced by decomposition.
	DecomposedKeys int
}

// RunContext holds the state of a single run.
type RunContext struct {
	Stats    RunStats
	Registry *redact.Registry
}

// NewRunContext returns a RunContext that records masked values in reg. If
// reg is nil, a fresh registry is used.
func NewRunContext(reg *redact.Registry) *RunContext {
	if reg == nil {
		reg = redact.NewRegistry()
	}
	return &RunContext{Registry: reg}
}

type EmitterConfig struct {
	Spec ParseSpec

	// InjectEnv exports every output as an environment variable as well.
	InjectEnv bool
}

// Emitter turns secrets into outputs. Problems with an individual secret's
// value are logged and never stop the run.
type Emitter struct {
	logger logger.Logger
	runner Runner
	run    *RunContext
	conf   EmitterConfig

	errs []error
}

func NewEmitter(l logger.Logger, r Runner, run *RunContext, conf EmitterConfig) *Emitter {
	return &Emitter{
		logger: l,
		runner: r,
		run:    run,
		conf:   conf,
	}
}

// Process handles each secret in order, and returns the counters so far.
func (e *Emitter) Process(secrets []Secret) RunStats {
	for _, s := range secrets {
		e.process(s)
	}
	return e.run.Stats
}

func (e *Emitter) process(s Secret) {
	l := e.logger.WithFields(logger.StringField("secret", s.Key))

	if e.shouldDecompose(s) {
		fields, err := Decompose(l, s.ComputedValue, s.Key)
		if err != nil {
			l.Warn("Not decomposing secret: %v", err)
		} else {
			entries := Flatten(fields, e.conf.Spec.Prefix)
			for _, entry := range entries {
				l.Debug("Decomposed %s -> %s", s.Key, entry.OutputKey)
				e.emit(l, entry.OutputKey, entry.Value, true)
				e.run.Stats.DecomposedKeys++
			}
			e.run.Stats.Parsed++
			l.Notice("Decomposed %s into %d keys", s.Key, len(entries))
		}
	}

	// The secret itself is always emitted, whether or not it was decomposed.
	e.emit(l, s.Key, s.ComputedValue, s.ComputedVisibility.Sensitive())
	e.run.Stats.Total++
}

func (e *Emitter) shouldDecompose(s Secret) bool {
	if strings.TrimSpace(s.ComputedValue) == "" {
		return false
	}
	if e.conf.Spec.Forced(s.Key) {
		return true
	}
	return e.conf.Spec.AutoDetect && IsJSONObject(s.ComputedValue)
}

// emit masks (if needed), outputs and optionally exports key=value. Masking
// comes first so that nothing the runner echoes can show the value.
func (e *Emitter) emit(l logger.Logger, key, value string, sensitive bool) {
	if sensitive && !IsMetaKey(key) {
		if e.run.Registry.Add(value) > 0 {
			e.runner.SetSecret(value)
		}
	}

	if err := e.runner.SetOutput(key, value); err != nil {
		e.fail(l, fmt.Errorf("setting output %q: %w", key, err))
	}

	if e.conf.InjectEnv {
		if err := e.runner.ExportVariable(key, value); err != nil {
			e.fail(l, fmt.Errorf("exporting %q: %w", key, err))
		}
	}
}

func (e *Emitter) fail(l logger.Logger, err error) {
	l.Error("%v", err)
	e.errs = append(e.errs, err)
}

// Report logs the run totals.
func (e *Emitter) Report() {
	stats := e.run.Stats
	e.logger.Notice("Processed %d secrets", stats.Total)
	if stats.Parsed > 0 {
		e.logger.Notice("Decomposed %d JSON secrets into %d keys", stats.Parsed, stats.DecomposedKeys)
	}
}

// Err returns the runner failures seen so far, joined, or nil.
func (e *Emitter) Err() error {
	return errors.Join(e.errs...)
}
