package credential

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/dopplerhq/secrets-fetch-action/api"
	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)

func signedIDToken(t *testing.T, exp time.Time) string {
	t.Helper()

	tok := jwt.New()
	require.NoError(t, tok.Set(jwt.IssuerKey, "https://token.actions.githubusercontent.com"))
	require.NoError(t, tok.Set(jwt.SubjectKey, "repo:octo/app:ref:refs/heads/main"))
	require.NoError(t, tok.Set(jwt.ExpirationKey, exp))

	signed, err := jwt.Sign(tok, jwt.WithKey(jwa.HS256, []byte("not-a-real-key")))
	require.NoError(t, err)
	return string(signed)
}

type fakeIDTokens struct {
	token string
	err   error
	calls int
}

func (f *fakeIDTokens) IDToken(ctx context.Context, audience string) (string, error) {
	f.calls++
	return f.token, f.err
}

type fakeExchanger struct {
	token string
	err   error
	got   []*api.OIDCExchangeRequest
}

func (f *fakeExchanger) ExchangeOIDC(ctx context.Context, req *api.OIDCExchangeRequest) (*api.OIDCExchange, *api.Response, error) {
	f.got = append(f.got, req)
	if f.err != nil {
		return nil, nil, f.err
	}
	return &api.OIDCExchange{Token: f.token, ExpiresAt: time.Now().Add(time.Hour)}, &api.Response{}, nil
}

func TestResolveToken(t *testing.T) {
	t.Parallel()

	var masked []string
	r := &Resolver{Mask: func(v string) { masked = append(masked, v) }}

	ts, kind, err := r.Resolve(context.Background(), Options{Method: "token", Token: "dp.st.prd.abc"})
	require.NoError(t, err)
	assert.Equal(t, KindServiceToken, kind)

	tok, err := ts.Token()
	require.NoError(t, err)
	assert.Equal(t, "dp.st.prd.abc", tok.AccessToken)
	assert.Equal(t, []string{"dp.st.prd.abc"}, masked)
}

func TestResolvePersonalTokenWithoutProjectFailsFirst(t *testing.T) {
	t.Parallel()

	ex := &fakeExchanger{}
	ids := &fakeIDTokens{}
	r := &Resolver{Exchanger: ex, IDTokens: ids}

	_, _, err := r.Resolve(context.Background(), Options{Method: "token", Token: "dp.pt.abc", Config: "prd"})

	var confErr *ConfigurationError
	require.ErrorAs(t, err, &confErr)
	assert.Empty(t, ex.got)
	assert.Zero(t, ids.calls)
}

func TestResolveOIDC(t *testing.T) {
	t.Parallel()

	idToken := signedIDToken(t, testNow.Add(5*time.Minute))
	ids := &fakeIDTokens{token: idToken}
	ex := &fakeExchanger{token: "dp.said.exchanged"}

	var masked []string
	r := &Resolver{
		Exchanger: ex,
		IDTokens:  ids,
		Mask:      func(v string) { masked = append(masked, v) },
		Clock:     func() time.Time { return testNow },
	}

	ts, kind, err := r.Resolve(context.Background(), Options{
		Method:     "oidc",
		IdentityID: "identity-1",
		Project:    "backend",
		Config:     "ci",
	})
	require.NoError(t, err)
	assert.Equal(t, KindServiceAccount, kind)

	tok, err := ts.Token()
	require.NoError(t, err)
	assert.Equal(t, "dp.said.exchanged", tok.AccessToken)

	require.Len(t, ex.got, 1)
	assert.Equal(t, &api.OIDCExchangeRequest{Identity: "identity-1", Token: idToken}, ex.got[0])
	assert.Equal(t, []string{idToken, "dp.said.exchanged"}, masked)
}

func TestResolveOIDCIdentityTokenNeedsProjectAndConfig(t *testing.T) {
	t.Parallel()

	r := &Resolver{
		Exchanger: &fakeExchanger{token: "dp.said.exchanged"},
		IDTokens:  &fakeIDTokens{token: signedIDToken(t, testNow.Add(5*time.Minute))},
		Clock:     func() time.Time { return testNow },
	}

	_, _, err := r.Resolve(context.Background(), Options{Method: "oidc", IdentityID: "identity-1"})

	var confErr *ConfigurationError
	require.ErrorAs(t, err, &confErr)
	assert.Contains(t, err.Error(), "doppler-project and doppler-config are required")
}

func TestResolveOIDCExpiredIDToken(t *testing.T) {
	t.Parallel()

	ex := &fakeExchanger{token: "dp.said.exchanged"}
	r := &Resolver{
		Exchanger: ex,
		IDTokens:  &fakeIDTokens{token: signedIDToken(t, testNow.Add(-time.Hour))},
		Clock:     func() time.Time { return testNow },
	}

	_, _, err := r.Resolve(context.Background(), Options{Method: "oidc", IdentityID: "identity-1", Project: "p", Config: "c"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "OIDC ID token is unusable")
	assert.Empty(t, ex.got, "an expired ID token must not be sent")
}

func TestResolveOIDCErrors(t *testing.T) {
	t.Parallel()

	opts := Options{Method: "oidc", IdentityID: "identity-1", Project: "p", Config: "c"}

	t.Run("no ID token", func(t *testing.T) {
		t.Parallel()
		r := &Resolver{
			Exchanger: &fakeExchanger{},
			IDTokens:  &fakeIDTokens{err: errors.New("ACTIONS_ID_TOKEN_REQUEST_URL is not set")},
		}
		_, _, err := r.Resolve(context.Background(), opts)
		assert.ErrorContains(t, err, "requesting OIDC ID token: ACTIONS_ID_TOKEN_REQUEST_URL is not set")
	})

	t.Run("exchange rejected", func(t *testing.T) {
		t.Parallel()
		r := &Resolver{
			Exchanger: &fakeExchanger{err: errors.New("401 Unauthorized")},
			IDTokens:  &fakeIDTokens{token: signedIDToken(t, testNow.Add(time.Minute))},
			Clock:     func() time.Time { return testNow },
		}
		_, _, err := r.Resolve(context.Background(), opts)
		assert.ErrorContains(t, err, "exchanging OIDC ID token: 401 Unauthorized")
	})

	t.Run("not wired", func(t *testing.T) {
		t.Parallel()
		_, _, err := (&Resolver{}).Resolve(context.Background(), opts)
		assert.Error(t, err)
	})
}
