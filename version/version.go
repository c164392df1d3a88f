// Package version provides the doppler-secrets-fetch version strings.
package version

import (
	_ "embed"
	"runtime"
	"strings"
)

// buildVersion can be set at compile time:
//
//	go build -ldflags "-X github.com/dopplerhq/secrets-fetch-action/version.buildVersion=$(git rev-parse --short HEAD)"

//go:embed VERSION
var baseVersion string
var buildVersion string

func Version() string {
	return strings.TrimSpace(baseVersion)
}

func BuildVersion() string {
	if buildVersion == "" {
		return "x"
	}
	return buildVersion
}

// FullVersion is Version plus BuildVersion, as shown by --version.
func FullVersion() string {
	return Version() + "+" + BuildVersion()
}

func UserAgent() string {
	return "doppler-secrets-fetch/" + Version() + "." + BuildVersion() + " (" + runtime.GOOS + "; " + runtime.GOARCH + ")"
}
