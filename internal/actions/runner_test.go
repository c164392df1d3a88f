package actions

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/dopplerhq/secrets-fetch-action/logger"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixedDelimiter() string { return "ghadelimiter_TEST" }

func newTestRunner(t *testing.T, environ []string, opts ...Option) (*Runner, *bytes.Buffer, map[string]string) {
	t.Helper()

	var stdout bytes.Buffer
	setenv := map[string]string{}
	opts = append([]Option{
		WithStdout(&stdout),
		WithSetenv(func(k, v string) error {
			setenv[k] = v
			return nil
		}),
	}, opts...)

	r := New(logger.Discard, environ, opts...)
	r.newDelimiter = fixedDelimiter
	return r, &stdout, setenv
}

func commandFile(t *testing.T, name string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, nil, 0o600))
	return path
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	b, err := os.ReadFile(path)
	require.NoError(t, err)
	return string(b)
}

func TestSetOutputWritesHeredoc(t *testing.T) {
	t.Parallel()

	path := commandFile(t, "output")
	r, stdout, _ := newTestRunner(t, []string{"GITHUB_OUTPUT=" + path})

	require.NoError(t, r.SetOutput("DB_HOST", "db.internal"))
	require.NoError(t, r.SetOutput("CERT", "line1\nline2"))

	want := "DB_HOST<<ghadelimiter_TEST\ndb.internal\nghadelimiter_TEST\n" +
		"CERT<<ghadelimiter_TEST\nline1\nline2\nghadelimiter_TEST\n"
	if diff := cmp.Diff(readFile(t, path), want); diff != "" {
		t.Errorf("GITHUB_OUTPUT diff (-got +want):\n%s", diff)
	}
	assert.Empty(t, stdout.String())
}

func TestSetOutputRejectsDelimiter(t *testing.T) {
	t.Parallel()

	path := commandFile(t, "output")
	r, _, _ := newTestRunner(t, []string{"GITHUB_OUTPUT=" + path})

	err := r.SetOutput("KEY", "sneaky\nghadelimiter_TEST\nINJECTED=1")

	var delimErr *DelimiterError
	require.True(t, errors.As(err, &delimErr), "SetOutput error = %v, want a *DelimiterError", err)
	assert.Equal(t, "value", delimErr.Field)
	assert.Empty(t, readFile(t, path))
}

func TestSetOutputFallsBackToCommand(t *testing.T) {
	t.Parallel()

	r, stdout, _ := newTestRunner(t, nil)

	require.NoError(t, r.SetOutput("PORT", "5432"))
	assert.Equal(t, "\n::set-output name=PORT::5432\n", stdout.String())
}

func TestSetOutputMissingFile(t *testing.T) {
	t.Parallel()

	r, _, _ := newTestRunner(t, []string{"GITHUB_OUTPUT=" + filepath.Join(t.TempDir(), "nope")})

	assert.Error(t, r.SetOutput("A", "b"))
}

func TestSetSecretMasksEachLine(t *testing.T) {
	t.Parallel()

	r, stdout, _ := newTestRunner(t, nil)

	r.SetSecret("hunter2")
	r.SetSecret("-----BEGIN-----\nabc%def\n-----END-----")
	r.SetSecret("")

	want := "::add-mask::hunter2\n" +
		"::add-mask::-----BEGIN-----%0Aabc%25def%0A-----END-----\n" +
		"::add-mask::-----BEGIN-----\n" +
		"::add-mask::abc%25def\n" +
		"::add-mask::-----END-----\n"
	if diff := cmp.Diff(stdout.String(), want); diff != "" {
		t.Errorf("stdout diff (-got +want):\n%s", diff)
	}
}

func TestExportVariable(t *testing.T) {
	t.Parallel()

	path := commandFile(t, "env")
	r, _, setenv := newTestRunner(t, []string{"GITHUB_ENV=" + path})

	require.NoError(t, r.ExportVariable("API_KEY", "abc123"))

	assert.Equal(t, map[string]string{"API_KEY": "abc123"}, setenv)
	assert.Equal(t, "API_KEY<<ghadelimiter_TEST\nabc123\nghadelimiter_TEST\n", readFile(t, path))

	v, ok := r.Exported().Get("API_KEY")
	assert.True(t, ok)
	assert.Equal(t, "abc123", v)
}

func TestExportVariableWithoutEnvFile(t *testing.T) {
	t.Parallel()

	r, stdout, setenv := newTestRunner(t, nil)

	require.NoError(t, r.ExportVariable("API_KEY", "abc123"))
	assert.Equal(t, map[string]string{"API_KEY": "abc123"}, setenv)
	assert.Empty(t, stdout.String())
	assert.Equal(t, 1, r.Exported().Length())
}

func TestExportVariableSetenvError(t *testing.T) {
	t.Parallel()

	r, _, _ := newTestRunner(t, nil, WithSetenv(func(string, string) error {
		return errors.New("invalid argument")
	}))

	assert.Error(t, r.ExportVariable("BAD=KEY", "x"))
	assert.Equal(t, 0, r.Exported().Length())
}

func TestAnnotations(t *testing.T) {
	t.Parallel()

	r, stdout, _ := newTestRunner(t, nil)

	require.NoError(t, r.Warning("Skipping key \"1bad\"\nfrom secret"))
	require.NoError(t, r.Error("invalid configuration: 50%"))
	require.NoError(t, r.Debug("details"))

	want := "::warning::Skipping key \"1bad\"%0Afrom secret\n" +
		"::error::invalid configuration: 50%25\n" +
		"::debug::details\n"
	assert.Equal(t, want, stdout.String())
}

func TestEnvironmentFlags(t *testing.T) {
	t.Parallel()

	r, _, _ := newTestRunner(t, []string{"GITHUB_ACTIONS=true", "RUNNER_DEBUG=1"})
	assert.True(t, r.InActions())
	assert.True(t, r.StepDebug())

	r, _, _ = newTestRunner(t, nil)
	assert.False(t, r.InActions())
	assert.False(t, r.StepDebug())
}

func TestIDToken(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		if got, want := req.Header.Get("Authorization"), "Bearer request-token"; got != want {
			http.Error(w, "bad auth "+got, http.StatusUnauthorized)
			return
		}
		if got, want := req.URL.Query().Get("api-version"), "2.0"; got != want {
			http.Error(w, "api-version "+got, http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"count":1,"value":"id-token-for-` + req.URL.Query().Get("audience") + `"}`))
	}))
	t.Cleanup(server.Close)

	r, _, _ := newTestRunner(t, []string{
		"ACTIONS_ID_TOKEN_REQUEST_URL=" + server.URL + "/token?api-version=2.0",
		"ACTIONS_ID_TOKEN_REQUEST_TOKEN=request-token",
	}, WithHTTPClient(server.Client()))

	got, err := r.IDToken(context.Background(), "https://api.doppler.com")
	require.NoError(t, err)
	assert.Equal(t, "id-token-for-https://api.doppler.com", got)
}

func TestIDTokenErrors(t *testing.T) {
	t.Parallel()

	t.Run("no permission", func(t *testing.T) {
		t.Parallel()
		r, _, _ := newTestRunner(t, nil)
		_, err := r.IDToken(context.Background(), "")
		assert.ErrorIs(t, err, ErrNoIDTokenPermission)
	})

	t.Run("server error", func(t *testing.T) {
		t.Parallel()
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			http.Error(w, "nope", http.StatusForbidden)
		}))
		t.Cleanup(server.Close)

		r, _, _ := newTestRunner(t, []string{
			"ACTIONS_ID_TOKEN_REQUEST_URL=" + server.URL,
			"ACTIONS_ID_TOKEN_REQUEST_TOKEN=request-token",
		}, WithHTTPClient(server.Client()))
		_, err := r.IDToken(context.Background(), "")
		assert.ErrorContains(t, err, "403")
	})

	t.Run("empty value", func(t *testing.T) {
		t.Parallel()
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte(`{}`))
		}))
		t.Cleanup(server.Close)

		r, _, _ := newTestRunner(t, []string{
			"ACTIONS_ID_TOKEN_REQUEST_URL=" + server.URL,
			"ACTIONS_ID_TOKEN_REQUEST_TOKEN=request-token",
		}, WithHTTPClient(server.Client()))
		_, err := r.IDToken(context.Background(), "")
		assert.Error(t, err)
	})
}

func TestPrinter(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	p := NewPrinter(&buf)

	p.Print(logger.NOTICE, "Processed 3 secrets", nil)
	p.Print(logger.WARN, "Not decomposing secret", logger.Fields{logger.StringField("secret", "CONFIG")})
	p.Print(logger.DEBUG, "Decomposed a -> b", nil)
	p.Print(logger.ERROR, "boom", nil)

	want := "Processed 3 secrets\n" +
		"::warning::Not decomposing secret secret=CONFIG\n" +
		"::debug::Decomposed a -> b\n" +
		"::error::boom\n"
	assert.Equal(t, want, buf.String())
}
