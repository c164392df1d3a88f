package clicommand

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/dopplerhq/secrets-fetch-action/api"
	"github.com/dopplerhq/secrets-fetch-action/internal/credential"
	"github.com/dopplerhq/secrets-fetch-action/internal/secrets"
	"github.com/urfave/cli"
)

const fetchDescription = `Usage:

    doppler-secrets-fetch fetch [options...]

Description:

Downloads the secrets of a Doppler config and makes each one available to
later steps of the job as a step output (and, with --inject-env-vars, as an
environment variable). Every value Doppler doesn't classify as unmasked is
registered with the runner so that it's masked in the job's logs.

Secrets holding a JSON object can also be decomposed into one output per
top-level key: list them with --parse-json-secrets, or pass
--auto-detect-json to decompose every secret whose value is a JSON object.
The original secret is always output as well.

When run as a GitHub Action, every option is read from the corresponding
′INPUT_′ environment variable.

Example:

    $ doppler-secrets-fetch fetch --doppler-token dp.st.xxxx \
        --parse-json-secrets DB_CONFIG --json-key-prefix DB_`

type FetchConfig struct {
	AuthMethod       string        `cli:"auth-method"`
	APIDomain        string        `cli:"doppler-api-domain" validate:"required"`
	IdentityID       string        `cli:"doppler-identity-id"`
	Token            string        `cli:"doppler-token"`
	Project          string        `cli:"doppler-project"`
	Config           string        `cli:"doppler-config"`
	OIDCAudience     string        `cli:"oidc-audience"`
	ParseJSONSecrets []string      `cli:"parse-json-secrets" normalize:"list"`
	JSONKeyPrefix    string        `cli:"json-key-prefix"`
	AutoDetectJSON   string        `cli:"auto-detect-json"`
	InjectEnvVars    string        `cli:"inject-env-vars"`
	Timeout          time.Duration `cli:"timeout"`

	// Global flags
	ConfigFile string `cli:"config" normalize:"filepath"`
	Debug      bool   `cli:"debug"`
	LogLevel   string `cli:"log-level"`
	LogFormat  string `cli:"log-format"`
	NoColor    bool   `cli:"no-color"`

	// API config
	DebugHTTP bool `cli:"debug-http"`
	NoHTTP2   bool `cli:"no-http2"`
}

var FetchCommand = cli.Command{
	Name:        "fetch",
	Usage:       "Fetch secrets from Doppler and expose them to later steps",
	Description: fetchDescription,
	Flags: flatten([]cli.Flag{
		cli.StringFlag{
			Name:   "auth-method",
			Value:  string(credential.MethodToken),
			Usage:  "How to authenticate with Doppler: ′token′ (a Doppler token in --doppler-token) or ′oidc′ (exchange the job's OIDC ID token for the service account identity in --doppler-identity-id)",
			EnvVar: "INPUT_AUTH-METHOD",
		},
		cli.StringFlag{
			Name:   "doppler-api-domain",
			Value:  DefaultAPIDomain,
			Usage:  "The Doppler API host",
			EnvVar: "INPUT_DOPPLER-API-DOMAIN",
		},
		cli.StringFlag{
			Name:   "doppler-identity-id",
			Usage:  "The service account identity to authenticate as. Required when --auth-method is ′oidc′",
			EnvVar: "INPUT_DOPPLER-IDENTITY-ID",
		},
		cli.StringFlag{
			Name:   "doppler-token",
			Usage:  "A Doppler service token, service account token or personal token. Required when --auth-method is ′token′",
			EnvVar: "INPUT_DOPPLER-TOKEN,DOPPLER_TOKEN",
		},
		cli.StringFlag{
			Name:   "doppler-project",
			Usage:  "The Doppler project. Required for service account and personal tokens",
			EnvVar: "INPUT_DOPPLER-PROJECT",
		},
		cli.StringFlag{
			Name:   "doppler-config",
			Usage:  "The Doppler config. Required for service account and personal tokens",
			EnvVar: "INPUT_DOPPLER-CONFIG",
		},
		cli.StringFlag{
			Name:   "oidc-audience",
			Usage:  "The audience to request the OIDC ID token for. Defaults to the runner's default audience",
			EnvVar: "INPUT_OIDC-AUDIENCE",
		},
		cli.StringSliceFlag{
			Name:   "parse-json-secrets",
			Value:  &cli.StringSlice{},
			Usage:  "Names of secrets to decompose as JSON objects, comma separated",
			EnvVar: "INPUT_PARSE-JSON-SECRETS",
		},
		cli.StringFlag{
			Name:   "json-key-prefix",
			Usage:  "A prefix for the names of outputs produced by decomposing JSON secrets",
			EnvVar: "INPUT_JSON-KEY-PREFIX",
		},
		cli.StringFlag{
			Name:   "auto-detect-json",
			Value:  "false",
			Usage:  "Set to ′true′ to decompose every secret whose value is a JSON object",
			EnvVar: "INPUT_AUTO-DETECT-JSON",
		},
		cli.StringFlag{
			Name:   "inject-env-vars",
			Value:  "false",
			Usage:  "Set to ′true′ to also export every output as an environment variable for later steps",
			EnvVar: "INPUT_INJECT-ENV-VARS",
		},
	}, apiFlags, globalFlags),
	Action: func(c *cli.Context) error {
		return runFetch(context.Background(), c, osCommandEnv())
	},
}

func runFetch(ctx context.Context, c *cli.Context, cenv commandEnv) error {
	cfg := FetchConfig{}
	ctx, s, err := setupLoggerAndConfig(ctx, c, cenv, &cfg)
	defer s.done()

	if err == nil {
		err = fetch(ctx, cfg, s)
	}
	if err != nil {
		// Surface the failure on the run's summary page too.
		_ = s.runner.Error(err.Error())
		return NewExitError(1, err)
	}
	return nil
}

// fetch authenticates, downloads the secrets and hands them to the Emitter.
// Only failures before any secret is processed are returned as such;
// problems with individual secrets are logged, and failures to write
// outputs are reported once every secret has been processed.
func fetch(ctx context.Context, cfg FetchConfig, s *session) error {
	l := s.logger

	if !s.runner.InActions() {
		l.Warn("GITHUB_ACTIONS is not set, outputs are written as workflow commands on stdout")
	}

	if cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.Timeout)
		defer cancel()
	}

	client := api.NewClient(l, api.Config{
		Endpoint:     apiEndpoint(cfg.APIDomain),
		DisableHTTP2: cfg.NoHTTP2,
		DebugHTTP:    cfg.DebugHTTP,
	})

	run := secrets.NewRunContext(s.registry)
	mask := func(v string) {
		if run.Registry.Add(v) > 0 {
			s.runner.SetSecret(v)
		}
	}

	resolver := &credential.Resolver{
		Logger:    l,
		Exchanger: client,
		IDTokens:  s.runner,
		Mask:      mask,
	}
	ts, kind, err := resolver.Resolve(ctx, credential.Options{
		Method:     cfg.AuthMethod,
		Token:      cfg.Token,
		IdentityID: cfg.IdentityID,
		Project:    cfg.Project,
		Config:     cfg.Config,
		Audience:   cfg.OIDCAudience,
	})
	if err != nil {
		return err
	}
	l.Info("Authenticated with a %s", kind)

	start := time.Now()
	fetched, err := secrets.FetchSecrets(ctx, client.WithTokenSource(ts), &api.SecretsRequest{
		Project:               cfg.Project,
		Config:                cfg.Config,
		IncludeDynamicSecrets: true,
	})
	if err != nil {
		return fmt.Errorf("fetching secrets: %w", err)
	}
	l.Info("Fetched %d secrets in %s", len(fetched), time.Since(start).Round(time.Millisecond))

	emitter := secrets.NewEmitter(l, s.runner, run, secrets.EmitterConfig{
		Spec:      secrets.NewParseSpec(cfg.ParseJSONSecrets, cfg.JSONKeyPrefix, cfg.AutoDetectJSON == "true"),
		InjectEnv: cfg.InjectEnvVars == "true",
	})
	emitter.Process(fetched)
	emitter.Report()

	if n := s.runner.Exported().Length(); n > 0 {
		l.Info("Exported %d environment variables", n)
	}

	if err := emitter.Err(); err != nil {
		return fmt.Errorf("some outputs could not be written: %w", err)
	}
	return nil
}

// apiEndpoint turns the api-domain input into a base URL. A scheme is
// allowed so that tests and proxies can use plain HTTP.
func apiEndpoint(domain string) string {
	domain = strings.TrimRight(strings.TrimSpace(domain), "/")
	if strings.HasPrefix(domain, "http://") || strings.HasPrefix(domain, "https://") {
		return domain
	}
	return "https://" + domain
}
