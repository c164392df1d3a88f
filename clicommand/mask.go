package clicommand

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
	"strings"

	"github.com/dopplerhq/secrets-fetch-action/internal/ordered"
	"github.com/dopplerhq/secrets-fetch-action/logger"
	"github.com/urfave/cli"
)

// Note: if you add a new format string, make sure to add it to
// `maskFormats` and update the usage string in MaskCommand
const (
	FormatStringJSON = "json"
	FormatStringNone = "none"
)

var (
	maskFormats = []string{FormatStringJSON, FormatStringNone}

	errUnknownFormat = errors.New("unknown format")
)

type MaskConfig struct {
	File   string `cli:"arg:0"`
	Format string `cli:"format"`

	// Global flags
	ConfigFile string `cli:"config" normalize:"filepath"`
	Debug      bool   `cli:"debug"`
	LogLevel   string `cli:"log-level"`
	LogFormat  string `cli:"log-format"`
	NoColor    bool   `cli:"no-color"`
}

var MaskCommand = cli.Command{
	Name:  "mask",
	Usage: "Mask values in the rest of the job's logs",
	Description: `Usage:

    doppler-secrets-fetch mask [options...] [file-with-content-to-mask]

Description:

Registers values with the runner so that they are masked in the job's log
output from now on. Secrets output by the ′fetch′ command are masked
automatically; use this for values derived from them, or fetched some
other way.

Example:

To mask the verbatim contents of the file 'id_ed25519':

    $ doppler-secrets-fetch mask id_ed25519

To mask the string 'llamasecret':

    $ echo llamasecret | doppler-secrets-fetch mask

To mask several values at once, pass a flat JSON object whose values are
strings:

    $ echo '{"user":"admin","password":"hunter2"}' | doppler-secrets-fetch mask --format json`,
	Flags: flatten([]cli.Flag{
		cli.StringFlag{
			Name:   "format",
			Usage:  "The format for the input, whose value is either ′json′ or ′none′. ′none′ masks the entire input's content, with the exception of leading and trailing space. ′json′ parses the input's content as a JSON object, and masks the value of each key.",
			EnvVar: "DOPPLER_ACTION_MASK_FORMAT",
			Value:  FormatStringNone,
		},
	}, globalFlags),
	Action: func(c *cli.Context) error {
		return runMask(context.Background(), c, osCommandEnv())
	},
}

func runMask(ctx context.Context, c *cli.Context, cenv commandEnv) error {
	cfg := MaskConfig{}
	_, s, err := setupLoggerAndConfig(ctx, c, cenv, &cfg)
	defer s.done()
	if err != nil {
		return err
	}
	l := s.logger

	if !slices.Contains(maskFormats, cfg.Format) {
		return fmt.Errorf("invalid format: %s, must be one of %q", cfg.Format, maskFormats)
	}

	fileName := "(stdin)"
	input := cenv.stdin
	if cfg.File != "" {
		fileName = cfg.File

		f, err := os.Open(fileName)
		if err != nil {
			return fmt.Errorf("failed to open file %s: %w", fileName, err)
		}
		defer f.Close() //nolint:errcheck // File is only open for read.
		input = f
	}

	l.Info("Reading values to mask from %s", fileName)

	values, err := ParseMaskValues(l, cfg.Format, input)
	if err != nil {
		return err
	}

	masked := 0
	for _, v := range values {
		if s.registry.Add(v) > 0 {
			s.runner.SetSecret(v)
			masked++
		}
	}
	l.Info("Masked %d values", masked)
	return nil
}

// ParseMaskValues reads the values to mask from r, in the given format.
func ParseMaskValues(l logger.Logger, format string, r io.Reader) ([]string, error) {
	switch format {
	case FormatStringJSON:
		data, err := io.ReadAll(r)
		if err != nil {
			return nil, fmt.Errorf("failed to read input: %w", err)
		}
		obj, err := ordered.DecodeJSONObject[string](data)
		if err != nil {
			return nil, fmt.Errorf("failed to parse as string valued JSON: %w", err)
		}

		values := make([]string, 0, obj.Len())
		obj.Range(func(key, value string) error {
			if value == "" {
				l.Debug("Ignoring empty value for %q", key)
				return nil
			}
			values = append(values, value)
			return nil
		})
		return values, nil

	case FormatStringNone:
		data, err := io.ReadAll(r)
		if err != nil {
			return nil, fmt.Errorf("failed to read input: %w", err)
		}
		v := strings.TrimSpace(string(data))
		if v == "" {
			return nil, nil
		}
		return []string{v}, nil

	default:
		return nil, fmt.Errorf("%s: %w", format, errUnknownFormat)
	}
}
