package actions

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"

	"github.com/dopplerhq/secrets-fetch-action/internal/dopplerhttp"
)

var ErrNoIDTokenPermission = errors.New("ACTIONS_ID_TOKEN_REQUEST_URL and ACTIONS_ID_TOKEN_REQUEST_TOKEN are not set; does the workflow grant `permissions: id-token: write`?")

type idTokenResponse struct {
	Value string `json:"value"`
}

// IDToken requests an OIDC ID token for the job from the runner's token
// service. An empty audience leaves the service's default in place.
func (r *Runner) IDToken(ctx context.Context, audience string) (string, error) {
	rawURL, _ := r.env.Get("ACTIONS_ID_TOKEN_REQUEST_URL")
	bearer, _ := r.env.Get("ACTIONS_ID_TOKEN_REQUEST_TOKEN")
	if rawURL == "" || bearer == "" {
		return "", ErrNoIDTokenPermission
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("parsing ACTIONS_ID_TOKEN_REQUEST_URL: %w", err)
	}
	if audience != "" {
		q := u.Query()
		q.Set("audience", audience)
		u.RawQuery = q.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+bearer)
	req.Header.Set("Accept", "application/json")

	resp, err := dopplerhttp.Do(r.logger, r.httpClient, req, dopplerhttp.WithDebugHTTP(r.debugHTTP))
	if err != nil {
		return "", fmt.Errorf("requesting OIDC ID token: %w", err)
	}
	defer resp.Body.Close() //nolint:errcheck // Response bodies are closed on a best-effort basis.

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("requesting OIDC ID token: %s", resp.Status)
	}

	var body idTokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", fmt.Errorf("decoding OIDC ID token response: %w", err)
	}
	if body.Value == "" {
		return "", errors.New("OIDC ID token response did not contain a token")
	}
	return body.Value, nil
}
