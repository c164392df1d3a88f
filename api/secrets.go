package api

import (
	"context"

	"github.com/dopplerhq/secrets-fetch-action/internal/ordered"
)

// SecretsRequest selects the config to download. Project and Config may be
// left empty for service tokens, which are scoped to a single config.
type SecretsRequest struct {
	Project               string `url:"project,omitempty"`
	Config                string `url:"config,omitempty"`
	IncludeDynamicSecrets bool   `url:"include_dynamic_secrets"`
}

// Secret is a single secret as returned by the API. Computed is the value
// after references have been resolved.
type Secret struct {
	Raw                string `json:"raw"`
	Computed           string `json:"computed"`
	RawVisibility      string `json:"rawVisibility"`
	ComputedVisibility string `json:"computedVisibility"`
	Note               string `json:"note"`
}

// Secrets holds the secrets of a config, in the order the API sent them.
type Secrets struct {
	Secrets *ordered.Map[string, Secret] `json:"secrets"`
}

// DownloadSecrets fetches every secret in a config.
func (c *Client) DownloadSecrets(ctx context.Context, req *SecretsRequest) (*Secrets, *Response, error) {
	return retry(ctx, c, "Downloading secrets", func() (*Secrets, *Response, error) {
		u, err := addOptions("v3/configs/config/secrets", req)
		if err != nil {
			return nil, nil, err
		}

		httpReq, err := c.newRequest(ctx, "GET", u, nil)
		if err != nil {
			return nil, nil, err
		}

		secrets := &Secrets{}
		resp, err := c.doRequest(httpReq, secrets)
		if err != nil {
			return nil, resp, err
		}
		if secrets.Secrets == nil {
			secrets.Secrets = ordered.NewMap[string, Secret](0)
		}
		return secrets, resp, nil
	})
}
