package secrets

import (
	"context"
	"slices"
	"strings"

	"github.com/dopplerhq/secrets-fetch-action/api"
)

// Visibility is how Doppler classifies a secret's value.
type Visibility string

const (
	VisibilityMasked     Visibility = "masked"
	VisibilityUnmasked   Visibility = "unmasked"
	VisibilityRestricted Visibility = "restricted"
)

// Sensitive reports whether values with this visibility must be masked. Only
// unmasked values are safe to show; anything else, including an unknown
// visibility, is treated as masked.
func (v Visibility) Sensitive() bool {
	return v != VisibilityUnmasked
}

// Secret is one secret as downloaded, after references have been resolved.
type Secret struct {
	Key                string
	ComputedValue      string
	ComputedVisibility Visibility
}

// MetaKeys name the metadata Doppler returns alongside the secrets. Their
// values identify the config, not a secret, and are never masked.
var MetaKeys = []string{
	"DOPPLER_PROJECT",
	"DOPPLER_CONFIG",
	"DOPPLER_ENVIRONMENT",
}

// IsMetaKey reports whether key is one of MetaKeys.
func IsMetaKey(key string) bool {
	return slices.Contains(MetaKeys, key)
}

// ParseSpec selects which secrets are decomposed, and how the resulting keys
// are named.
type ParseSpec struct {
	// Keys are always decomposed.
	Keys []string

	// Prefix is prepended to every key produced by decomposition.
	Prefix string

	// AutoDetect decomposes any other secret whose value is a JSON object.
	AutoDetect bool
}

// NewParseSpec builds a ParseSpec, trimming each key and dropping empty ones.
func NewParseSpec(keys []string, prefix string, autoDetect bool) ParseSpec {
	spec := ParseSpec{
		Prefix:     prefix,
		AutoDetect: autoDetect,
	}
	for _, k := range keys {
		k = strings.TrimSpace(k)
		if k == "" || slices.Contains(spec.Keys, k) {
			continue
		}
		spec.Keys = append(spec.Keys, k)
	}
	return spec
}

// Forced reports whether key was listed explicitly.
func (s ParseSpec) Forced(key string) bool {
	return slices.Contains(s.Keys, key)
}

// APIClient is the part of the API client needed to download secrets.
type APIClient interface {
	DownloadSecrets(ctx context.Context, req *api.SecretsRequest) (*api.Secrets, *api.Response, error)
}

// FetchSecrets downloads the secrets of one config, preserving the order the
// API returned them in.
func FetchSecrets(ctx context.Context, client APIClient, req *api.SecretsRequest) ([]Secret, error) {
	download, _, err := client.DownloadSecrets(ctx, req)
	if err != nil {
		return nil, err
	}

	secrets := make([]Secret, 0, download.Secrets.Len())
	download.Secrets.Range(func(name string, s api.Secret) error {
		visibility := Visibility(s.ComputedVisibility)
		if visibility == "" {
			visibility = VisibilityMasked
		}
		secrets = append(secrets, Secret{
			Key:                name,
			ComputedValue:      s.Computed,
			ComputedVisibility: visibility,
		})
		return nil
	})
	return secrets, nil
}
