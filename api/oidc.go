package api

import (
	"context"
	"time"
)

// OIDCExchangeRequest swaps a CI identity token for a Doppler API token.
type OIDCExchangeRequest struct {
	// Identity is the ID of the Doppler service account identity.
	Identity string `json:"identity"`

	// Token is the OIDC ID token issued by the CI provider.
	Token string `json:"token"`
}

// OIDCExchange is a short-lived Doppler API token.
type OIDCExchange struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// ExchangeOIDC exchanges an OIDC ID token for a Doppler API token. The
// request itself is unauthenticated.
func (c *Client) ExchangeOIDC(ctx context.Context, req *OIDCExchangeRequest) (*OIDCExchange, *Response, error) {
	return retry(ctx, c, "Exchanging OIDC token", func() (*OIDCExchange, *Response, error) {
		httpReq, err := c.newRequest(ctx, "POST", "v3/auth/oidc", req)
		if err != nil {
			return nil, nil, err
		}

		t := &OIDCExchange{}
		resp, err := c.doRequest(httpReq, t)
		if err != nil {
			return nil, resp, err
		}
		return t, resp, nil
	})
}
