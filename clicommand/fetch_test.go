package clicommand

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const dopplerSecrets = `{
  "secrets": {
    "DOPPLER_PROJECT": {"raw": "backend", "computed": "backend", "rawVisibility": "unmasked", "computedVisibility": "unmasked"},
    "DB": {"raw": "{\"host\":\"db.internal\",\"port\":5432,\"1bad\":\"x\"}", "computed": "{\"host\":\"db.internal\",\"port\":5432,\"1bad\":\"x\"}", "rawVisibility": "masked", "computedVisibility": "masked"},
    "LOG_LEVEL": {"raw": "info", "computed": "info", "rawVisibility": "unmasked", "computedVisibility": "unmasked"},
    "API_KEY": {"raw": "sk-live-123", "computed": "sk-live-123", "rawVisibility": "restricted", "computedVisibility": "restricted"}
  }
}`

func dopplerServer(t *testing.T, token string) *httptest.Server {
	t.Helper()

	server := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, req *http.Request) {
		switch {
		case req.URL.Path != "/v3/configs/config/secrets":
			http.Error(rw, `{"messages":["Not Found"]}`, http.StatusNotFound)
		case req.Header.Get("Authorization") != "Bearer "+token:
			http.Error(rw, `{"messages":["Invalid Service token"]}`, http.StatusUnauthorized)
		default:
			fmt.Fprint(rw, dopplerSecrets) //nolint:errcheck // The test would still fail
		}
	}))
	t.Cleanup(server.Close)
	return server
}

func TestFetch(t *testing.T) {
	t.Parallel()

	server := dopplerServer(t, "dp.st.prd.abc")
	te := newTestEnv(t, "")

	err := te.run(t, FetchCommand, runFetch,
		"--doppler-api-domain", server.URL,
		"--doppler-token", "dp.st.prd.abc",
		"--parse-json-secrets", "DB",
		"--json-key-prefix", "DB_",
		"--inject-env-vars", "true",
		"--log-format", "github",
	)
	require.NoError(t, err)
	assert.Equal(t, 0, te.exitCode)

	want := strings.Join([]string{
		"DOPPLER_PROJECT<<D\nbackend\nD",
		"DB_host<<D\ndb.internal\nD",
		"DB_port<<D\n5432\nD",
		`DB<<D` + "\n" + `{"host":"db.internal","port":5432,"1bad":"x"}` + "\nD",
		"LOG_LEVEL<<D\ninfo\nD",
		"API_KEY<<D\nsk-live-123\nD",
		"",
	}, "\n")
	if diff := cmp.Diff(normalizeDelimiters(te.readOutput(t)), want); diff != "" {
		t.Errorf("GITHUB_OUTPUT diff (-got +want):\n%s", diff)
	}
	assert.Equal(t, want, normalizeDelimiters(te.readEnvFile(t)))

	assert.Equal(t, map[string]string{
		"DOPPLER_PROJECT": "backend",
		"DB_host":         "db.internal",
		"DB_port":         "5432",
		"DB":              `{"host":"db.internal","port":5432,"1bad":"x"}`,
		"LOG_LEVEL":       "info",
		"API_KEY":         "sk-live-123",
	}, te.setenv)

	stdout := te.stdout.String()
	for _, masked := range []string{"dp.st.prd.abc", "db.internal", "5432", "sk-live-123"} {
		assert.Contains(t, stdout, "::add-mask::"+masked+"\n")
	}
	for _, unmasked := range []string{"backend", "info"} {
		assert.NotContains(t, stdout, "::add-mask::"+unmasked+"\n")
	}
	assert.Contains(t, stdout, `::warning::Skipping key "1bad" from secret "DB": not a valid output name secret=DB`)
	assert.Contains(t, stdout, "Decomposed DB into 2 keys secret=DB\n")
	assert.Contains(t, stdout, "Processed 4 secrets\n")
	assert.Contains(t, stdout, "Decomposed 1 JSON secrets into 2 keys\n")
	assert.NotContains(t, stdout, "::debug::")
	assert.Empty(t, te.stderr.String())
}

func TestFetchStepDebugEnablesDebugLogging(t *testing.T) {
	t.Parallel()

	server := dopplerServer(t, "dp.st.prd.abc")
	te := newTestEnv(t, "", "RUNNER_DEBUG=1")

	err := te.run(t, FetchCommand, runFetch,
		"--doppler-api-domain", server.URL,
		"--doppler-token", "dp.st.prd.abc",
		"--parse-json-secrets", "DB",
		"--log-format", "github",
	)
	require.NoError(t, err)
	assert.Contains(t, te.stdout.String(), "::debug::Decomposed DB -> host secret=DB\n")
}

func TestFetchWithoutDecomposition(t *testing.T) {
	t.Parallel()

	server := dopplerServer(t, "dp.st.prd.abc")
	te := newTestEnv(t, "")

	err := te.run(t, FetchCommand, runFetch,
		"--doppler-api-domain", server.URL,
		"--doppler-token", "dp.st.prd.abc",
		"--log-format", "json",
	)
	require.NoError(t, err)

	output := normalizeDelimiters(te.readOutput(t))
	assert.NotContains(t, output, "DB_host")
	assert.Contains(t, output, "LOG_LEVEL<<D\ninfo\nD\n")
	assert.Empty(t, te.readEnvFile(t))
	assert.Empty(t, te.setenv)
}

func TestFetchConfigurationErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		args []string
		want string
	}{
		{
			name: "unknown auth method",
			args: []string{"--auth-method", "password"},
			want: `invalid configuration: unsupported auth-method "password", must be "oidc" or "token"`,
		},
		{
			name: "auth method is case sensitive",
			args: []string{"--auth-method", "OIDC", "--doppler-identity-id", "identity-1"},
			want: `invalid configuration: unsupported auth-method "OIDC", must be "oidc" or "token"`,
		},
		{
			name: "oidc without identity",
			args: []string{"--auth-method", "oidc"},
			want: "invalid configuration: doppler-identity-id is required when auth-method is oidc",
		},
		{
			name: "no token",
			args: []string{},
			want: "invalid configuration: doppler-token is required when auth-method is token",
		},
		{
			name: "service account token without project",
			args: []string{"--doppler-token", "dp.sa.abc"},
			want: "invalid configuration: doppler-project and doppler-config are required when using a service account token",
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			t.Parallel()

			server := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, _ *http.Request) {
				t.Error("no request should be made for a configuration error")
				http.Error(rw, "", http.StatusTeapot)
			}))
			t.Cleanup(server.Close)

			te := newTestEnv(t, "")
			args := append([]string{"--doppler-api-domain", server.URL, "--log-format", "text"}, test.args...)

			err := te.run(t, FetchCommand, runFetch, args...)
			require.EqualError(t, err, test.want)

			assert.Equal(t, 1, te.exitCode)
			assert.Equal(t, "doppler-secrets-fetch: fatal: "+test.want+"\n", te.stderr.String())
			assert.Contains(t, te.stdout.String(), "::error::"+test.want+"\n")
			assert.Empty(t, te.readOutput(t))
		})
	}
}

func TestFetchUnauthorized(t *testing.T) {
	t.Parallel()

	server := dopplerServer(t, "dp.st.prd.abc")
	te := newTestEnv(t, "")

	err := te.run(t, FetchCommand, runFetch,
		"--doppler-api-domain", server.URL,
		"--doppler-token", "dp.st.prd.wrong",
		"--log-format", "text",
		"--no-color",
	)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Invalid Service token")
	assert.Equal(t, 1, te.exitCode)
	assert.Empty(t, te.readOutput(t))

	// The token was masked before anything could print it.
	assert.Contains(t, te.stdout.String(), "::add-mask::dp.st.prd.wrong\n")
}

func TestFetchOutputFailureExitsAfterProcessing(t *testing.T) {
	t.Parallel()

	server := dopplerServer(t, "dp.st.prd.abc")
	te := newTestEnv(t, "")
	// Point GITHUB_OUTPUT somewhere that doesn't exist.
	te.cenv.environ = append(te.cenv.environ, "GITHUB_OUTPUT="+te.output+".missing")

	err := te.run(t, FetchCommand, runFetch,
		"--doppler-api-domain", server.URL,
		"--doppler-token", "dp.st.prd.abc",
		"--log-format", "text",
		"--no-color",
	)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "some outputs could not be written")
	assert.Equal(t, 1, strings.Count(err.Error(), `setting output "DB":`), "error = %v", err)
	assert.Equal(t, 1, te.exitCode)
	assert.Contains(t, te.stdout.String(), "Processed 4 secrets")
}

func TestAPIEndpoint(t *testing.T) {
	t.Parallel()

	tests := map[string]string{
		"api.doppler.com":       "https://api.doppler.com",
		" api.doppler.com/ ":    "https://api.doppler.com",
		"http://127.0.0.1:8080": "http://127.0.0.1:8080",
		"https://doppler.corp/": "https://doppler.corp",
	}
	for in, want := range tests {
		assert.Equal(t, want, apiEndpoint(in), "apiEndpoint(%q)", in)
	}
}

// normalizeDelimiters replaces each random heredoc delimiter with "D".
func normalizeDelimiters(s string) string {
	lines := strings.Split(s, "\n")
	for i, line := range lines {
		if k, _, ok := strings.Cut(line, "<<ghadelimiter_"); ok {
			lines[i] = k + "<<D"
			continue
		}
		if strings.HasPrefix(line, "ghadelimiter_") {
			lines[i] = "D"
		}
	}
	return strings.Join(lines, "\n")
}
