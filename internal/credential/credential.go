// Package credential works out which Doppler API token a run uses, and
// checks that the rest of the configuration suits it.
package credential

import (
	"fmt"
	"strings"
)

// Method is how the API token is obtained.
type Method string

const (
	// MethodToken uses a token supplied in the configuration.
	MethodToken Method = "token"

	// MethodOIDC exchanges the CI provider's OIDC ID token for a Doppler
	// service account identity token.
	MethodOIDC Method = "oidc"
)

// ParseMethod parses an auth-method value, which must be exactly "oidc" or
// "token".
func ParseMethod(s string) (Method, error) {
	switch m := Method(s); m {
	case MethodToken, MethodOIDC:
		return m, nil
	default:
		return "", &ConfigurationError{Reason: fmt.Sprintf("unsupported auth-method %q, must be %q or %q", s, MethodOIDC, MethodToken)}
	}
}

// Kind is the type of a Doppler API token, as told by its prefix.
type Kind int

const (
	KindUnknown Kind = iota
	KindServiceToken
	KindServiceAccount
	KindPersonal
	KindCLI
)

var kindPrefixes = []struct {
	prefix string
	kind   Kind
}{
	{"dp.st.", KindServiceToken},
	{"dp.sa.", KindServiceAccount},
	{"dp.said.", KindServiceAccount},
	{"dp.pt.", KindPersonal},
	{"dp.ct.", KindCLI},
}

// KindOf returns the kind of token.
func KindOf(token string) Kind {
	for _, p := range kindPrefixes {
		if strings.HasPrefix(token, p.prefix) {
			return p.kind
		}
	}
	return KindUnknown
}

func (k Kind) String() string {
	switch k {
	case KindServiceToken:
		return "service token"
	case KindServiceAccount:
		return "service account token"
	case KindPersonal:
		return "personal token"
	case KindCLI:
		return "CLI token"
	default:
		return "unknown token"
	}
}

// RequiresProjectAndConfig reports whether tokens of this kind can reach more
// than one config, so the project and config must be named. Service tokens
// are scoped to a single config.
func RequiresProjectAndConfig(k Kind) bool {
	return k == KindServiceAccount || k == KindPersonal
}

// ConfigurationError is a problem with the run's configuration. It is always
// fatal.
type ConfigurationError struct {
	Reason string
}

func (e *ConfigurationError) Error() string {
	return "invalid configuration: " + e.Reason
}

// Options is the credential part of the run configuration.
type Options struct {
	Method     string
	Token      string
	IdentityID string
	Project    string
	Config     string

	// Audience for the OIDC ID token. Empty means the CI provider's default.
	Audience string
}

// Validate checks opts without contacting anything. For MethodOIDC the token
// kind is only known after the exchange, so Resolve checks it again.
func Validate(opts Options) error {
	method, err := ParseMethod(opts.Method)
	if err != nil {
		return err
	}

	switch method {
	case MethodOIDC:
		if strings.TrimSpace(opts.IdentityID) == "" {
			return &ConfigurationError{Reason: "doppler-identity-id is required when auth-method is oidc"}
		}
	case MethodToken:
		if strings.TrimSpace(opts.Token) == "" {
			return &ConfigurationError{Reason: "doppler-token is required when auth-method is token"}
		}
		return checkScope(KindOf(opts.Token), opts)
	}
	return nil
}

func checkScope(kind Kind, opts Options) error {
	if !RequiresProjectAndConfig(kind) {
		return nil
	}
	var missing []string
	if strings.TrimSpace(opts.Project) == "" {
		missing = append(missing, "doppler-project")
	}
	if strings.TrimSpace(opts.Config) == "" {
		missing = append(missing, "doppler-config")
	}
	switch len(missing) {
	case 0:
		return nil
	case 1:
		return &ConfigurationError{Reason: fmt.Sprintf("%s is required when using a %s", missing[0], kind)}
	default:
		return &ConfigurationError{Reason: fmt.Sprintf("%s are required when using a %s", strings.Join(missing, " and "), kind)}
	}
}
