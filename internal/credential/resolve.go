package credential

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dopplerhq/secrets-fetch-action/api"
	"github.com/dopplerhq/secrets-fetch-action/logger"
	"github.com/lestrrat-go/jwx/v2/jwt"
	"golang.org/x/oauth2"
)

// Exchanger swaps a CI OIDC ID token for a Doppler API token.
type Exchanger interface {
	ExchangeOIDC(ctx context.Context, req *api.OIDCExchangeRequest) (*api.OIDCExchange, *api.Response, error)
}

// IDTokenSource issues OIDC ID tokens for the running CI job.
type IDTokenSource interface {
	IDToken(ctx context.Context, audience string) (string, error)
}

// Resolver turns Options into a token source for the API client.
type Resolver struct {
	Logger    logger.Logger
	Exchanger Exchanger
	IDTokens  IDTokenSource

	// Mask is called with every credential obtained, so it can be hidden
	// from logs. Optional.
	Mask func(string)

	// Clock is used to check ID token expiry. Defaults to time.Now.
	Clock func() time.Time
}

// Resolve validates opts and returns a token source and the kind of token
// it yields. For MethodOIDC the first exchange happens here, so that a
// token of the wrong kind is reported before any secret is fetched.
func (r *Resolver) Resolve(ctx context.Context, opts Options) (oauth2.TokenSource, Kind, error) {
	if err := Validate(opts); err != nil {
		return nil, KindUnknown, err
	}

	method, _ := ParseMethod(opts.Method)
	if method == MethodToken {
		r.mask(opts.Token)
		kind := KindOf(opts.Token)
		r.logger().Debug("Using a %s", kind)
		return oauth2.StaticTokenSource(&oauth2.Token{AccessToken: opts.Token}), kind, nil
	}

	if r.Exchanger == nil || r.IDTokens == nil {
		return nil, KindUnknown, errors.New("OIDC authentication needs an exchanger and an ID token source")
	}

	src := &oidcTokenSource{
		ctx:      ctx,
		resolver: r,
		identity: opts.IdentityID,
		audience: opts.Audience,
	}
	first, err := src.Token()
	if err != nil {
		return nil, KindUnknown, err
	}

	kind := KindOf(first.AccessToken)
	if err := checkScope(kind, opts); err != nil {
		return nil, kind, err
	}
	r.logger().Debug("Using a %s obtained through OIDC", kind)
	return oauth2.ReuseTokenSource(first, src), kind, nil
}

func (r *Resolver) mask(v string) {
	if r.Mask != nil && v != "" {
		r.Mask(v)
	}
}

func (r *Resolver) logger() logger.Logger {
	if r.Logger == nil {
		return logger.Discard
	}
	return r.Logger
}

func (r *Resolver) now() time.Time {
	if r.Clock == nil {
		return time.Now()
	}
	return r.Clock()
}

// oidcTokenSource performs a fresh exchange every time it is asked for a
// token. Wrap it in oauth2.ReuseTokenSource.
type oidcTokenSource struct {
	ctx      context.Context
	resolver *Resolver
	identity string
	audience string
}

func (s *oidcTokenSource) Token() (*oauth2.Token, error) {
	r := s.resolver

	idToken, err := r.IDTokens.IDToken(s.ctx, s.audience)
	if err != nil {
		return nil, fmt.Errorf("requesting OIDC ID token: %w", err)
	}
	r.mask(idToken)

	// Signature verification is left to Doppler.
	claims, err := jwt.ParseString(idToken,
		jwt.WithVerify(false),
		jwt.WithValidate(true),
		jwt.WithClock(jwt.ClockFunc(r.now)),
		jwt.WithAcceptableSkew(30*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("OIDC ID token is unusable: %w", err)
	}
	r.logger().WithFields(
		logger.StringField("iss", claims.Issuer()),
		logger.StringField("sub", claims.Subject()),
	).Debug("Exchanging OIDC ID token for identity %s", s.identity)

	exchange, _, err := r.Exchanger.ExchangeOIDC(s.ctx, &api.OIDCExchangeRequest{
		Identity: s.identity,
		Token:    idToken,
	})
	if err != nil {
		return nil, fmt.Errorf("exchanging OIDC ID token: %w", err)
	}
	if exchange.Token == "" {
		return nil, errors.New("exchanging OIDC ID token: response had no token")
	}
	r.mask(exchange.Token)

	return &oauth2.Token{
		AccessToken: exchange.Token,
		TokenType:   "Bearer",
		Expiry:      exchange.ExpiresAt,
	}, nil
}
