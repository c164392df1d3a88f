package clicommand

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/urfave/cli"
)

type testEnv struct {
	cenv commandEnv

	stdout   *bytes.Buffer
	stderr   *bytes.Buffer
	setenv   map[string]string
	output   string
	envFile  string
	exitCode int
}

func newTestEnv(t *testing.T, stdin string, environ ...string) *testEnv {
	t.Helper()

	dir := t.TempDir()
	te := &testEnv{
		stdout:  &bytes.Buffer{},
		stderr:  &bytes.Buffer{},
		setenv:  map[string]string{},
		output:  filepath.Join(dir, "output"),
		envFile: filepath.Join(dir, "env"),
	}
	require.NoError(t, os.WriteFile(te.output, nil, 0o600))
	require.NoError(t, os.WriteFile(te.envFile, nil, 0o600))

	te.cenv = commandEnv{
		stdout: te.stdout,
		stdin:  strings.NewReader(stdin),
		environ: append([]string{
			"GITHUB_ACTIONS=true",
			"GITHUB_OUTPUT=" + te.output,
			"GITHUB_ENV=" + te.envFile,
		}, environ...),
		setenv: func(k, v string) error {
			te.setenv[k] = v
			return nil
		},
	}
	return te
}

func (te *testEnv) readOutput(t *testing.T) string {
	t.Helper()
	b, err := os.ReadFile(te.output)
	require.NoError(t, err)
	return string(b)
}

func (te *testEnv) readEnvFile(t *testing.T) string {
	t.Helper()
	b, err := os.ReadFile(te.envFile)
	require.NoError(t, err)
	return string(b)
}

// run runs cmd with args, as main does, with te standing in for the
// process's surroundings.
func (te *testEnv) run(t *testing.T, cmd cli.Command, action func(context.Context, *cli.Context, commandEnv) error, args ...string) error {
	t.Helper()

	var runErr error
	cmd.Action = func(c *cli.Context) error {
		runErr = action(context.Background(), c, te.cenv)
		return nil
	}

	app := cli.NewApp()
	app.Name = "doppler-secrets-fetch"
	app.Writer = te.stdout
	app.ErrWriter = te.stderr
	app.Commands = []cli.Command{cmd}

	require.NoError(t, app.Run(append([]string{"doppler-secrets-fetch", cmd.Name}, args...)))
	te.exitCode = PrintMessageAndReturnExitCode(te.stderr, runErr)
	return runErr
}
