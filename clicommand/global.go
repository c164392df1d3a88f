package clicommand

import (
	"context"
	"io"
	"os"
	"time"

	"github.com/dopplerhq/secrets-fetch-action/cliconfig"
	"github.com/dopplerhq/secrets-fetch-action/env"
	"github.com/dopplerhq/secrets-fetch-action/internal/actions"
	"github.com/dopplerhq/secrets-fetch-action/internal/redact"
	"github.com/dopplerhq/secrets-fetch-action/logger"
	"github.com/oleiade/reflections"
	"github.com/urfave/cli"
)

const (
	DefaultAPIDomain = "api.doppler.com"
	DefaultTimeout   = 2 * time.Minute
)

var ConfigFlag = cli.StringFlag{
	Name:   "config",
	Value:  "",
	Usage:  "Path to a config file, either KEY=value lines or YAML",
	EnvVar: "DOPPLER_ACTION_CONFIG",
}

var DebugFlag = cli.BoolFlag{
	Name:   "debug",
	Usage:  "Enable debug mode. Synonym for ′--log-level debug′. Takes precedence over ′--log-level′",
	EnvVar: "DOPPLER_ACTION_DEBUG",
}

var LogLevelFlag = cli.StringFlag{
	Name:   "log-level",
	Value:  "notice",
	Usage:  "Set the log level for the command, making logging more or less verbose. Defaults to notice. Allowed values are: debug, info, notice, warn, error, fatal",
	EnvVar: "DOPPLER_ACTION_LOG_LEVEL",
}

var LogFormatFlag = cli.StringFlag{
	Name:   "log-format",
	Value:  "auto",
	Usage:  "The format to use for log output, one of ′text′, ′json′, ′github′ (workflow command annotations) or ′auto′ (′github′ when running under GitHub Actions, otherwise ′text′)",
	EnvVar: "DOPPLER_ACTION_LOG_FORMAT",
}

var NoColorFlag = cli.BoolFlag{
	Name:   "no-color",
	Usage:  "Don't show colors in logging",
	EnvVar: "DOPPLER_ACTION_NO_COLOR",
}

var DebugHTTPFlag = cli.BoolFlag{
	Name:   "debug-http",
	Usage:  "Log request headers and response summaries for every API request. Bodies and credentials are never logged",
	EnvVar: "DOPPLER_ACTION_DEBUG_HTTP",
}

var NoHTTP2Flag = cli.BoolFlag{
	Name:   "no-http2",
	Usage:  "Disable HTTP2 when communicating with the Doppler API",
	EnvVar: "DOPPLER_ACTION_NO_HTTP2",
}

var TimeoutFlag = cli.DurationFlag{
	Name:   "timeout",
	Value:  DefaultTimeout,
	Usage:  "How long to wait for authentication and fetching secrets to finish",
	EnvVar: "DOPPLER_ACTION_TIMEOUT",
}

var globalFlags = []cli.Flag{
	ConfigFlag,
	NoColorFlag,
	DebugFlag,
	LogLevelFlag,
	LogFormatFlag,
}

var apiFlags = []cli.Flag{
	DebugHTTPFlag,
	NoHTTP2Flag,
	TimeoutFlag,
}

func flatten(flagSets ...[]cli.Flag) []cli.Flag {
	length := 0
	for _, flagSet := range flagSets {
		length += len(flagSet)
	}

	flat := make([]cli.Flag, 0, length)
	for _, flagSet := range flagSets {
		flat = append(flat, flagSet...)
	}

	return flat
}

// commandEnv is what a command needs from its surroundings. Tests swap out
// the streams and the process environment.
type commandEnv struct {
	stdout  io.Writer
	stdin   io.Reader
	environ []string
	setenv  func(key, value string) error
}

func osCommandEnv() commandEnv {
	return commandEnv{
		stdout:  os.Stdout,
		stdin:   os.Stdin,
		environ: os.Environ(),
		setenv:  os.Setenv,
	}
}

// session is the per-invocation state shared by setup and the command.
type session struct {
	logger   logger.Logger
	registry *redact.Registry
	runner   *actions.Runner

	// logWriter redacts the log stream; it must be flushed before exit.
	logWriter *redact.Writer
}

func (s *session) done() {
	_ = s.logWriter.Flush()
}

// setupLoggerAndConfig loads cfg from c and creates a logger whose output
// has every registered secret redacted. If loading fails, the returned
// session still has a usable logger and runner for reporting the error.
func setupLoggerAndConfig[T any](ctx context.Context, c *cli.Context, cenv commandEnv, cfg *T) (context.Context, *session, error) {
	reg := redact.NewRegistry()
	s := &session{
		registry:  reg,
		logWriter: reg.Writer(cenv.stdout),
	}

	loader := cliconfig.Loader{
		CLI:    c,
		Config: cfg,
	}
	warnings, loadErr := loader.Load()

	environ := env.FromSlice(cenv.environ)
	s.logger = CreateLogger(cfg, s.logWriter, environ.GetBool("GITHUB_ACTIONS", false))

	debugHTTP, _ := reflections.GetField(cfg, "DebugHTTP")
	s.runner = actions.New(s.logger, cenv.environ,
		actions.WithStdout(cenv.stdout),
		actions.WithSetenv(cenv.setenv),
		actions.WithDebugHTTP(debugHTTP == true),
	)
	s.logger.SetLevel(logLevel(s.logger, cfg, s.runner.StepDebug()))

	for _, warning := range warnings {
		s.logger.Warn("%s", warning)
	}

	return ctx, s, loadErr
}

// CreateLogger returns a logger printing to w in the format cfg asks for.
func CreateLogger(cfg any, w io.Writer, inActions bool) logger.Logger {
	var printer logger.Printer

	format, _ := reflections.GetField(cfg, "LogFormat")
	if format == "auto" || format == "" {
		format = "text"
		if inActions {
			format = "github"
		}
	}

	switch format {
	case "json":
		printer = logger.NewJSONPrinter(w)
	case "github":
		printer = actions.NewPrinter(w)
	default:
		tp := logger.NewTextPrinter(w)
		if noColor, err := reflections.GetField(cfg, "NoColor"); noColor == true && err == nil {
			tp.Colors = false
		}
		printer = tp
	}

	return logger.NewConsoleLogger(printer, os.Exit)
}

func logLevel(l logger.Logger, cfg any, stepDebug bool) logger.Level {
	if debug, err := reflections.GetField(cfg, "Debug"); (debug == true && err == nil) || stepDebug {
		return logger.DEBUG
	}

	name, _ := reflections.GetField(cfg, "LogLevel")
	s, _ := name.(string)
	if s == "" {
		return logger.NOTICE
	}
	level, err := logger.LevelFromString(s)
	if err != nil {
		l.Warn("%v, using notice", err)
		return logger.NOTICE
	}
	return level
}
