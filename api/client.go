package api

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"reflect"
	"strings"
	"time"

	"github.com/dopplerhq/secrets-fetch-action/internal/dopplerhttp"
	"github.com/dopplerhq/secrets-fetch-action/logger"
	"github.com/dopplerhq/secrets-fetch-action/version"
	"github.com/google/go-querystring/query"
	"golang.org/x/oauth2"
)

const defaultEndpoint = "https://api.doppler.com"

// Config is configuration for the API Client
type Config struct {
	// Endpoint for API requests. Defaults to the public Doppler API.
	Endpoint string

	// Supplies the bearer token. Leave nil for unauthenticated requests,
	// such as the OIDC exchange.
	TokenSource oauth2.TokenSource

	// User agent used when communicating with the Doppler API.
	UserAgent string

	// If true, HTTP2 is disabled
	DisableHTTP2 bool

	// If true, request headers and response summaries are logged
	DebugHTTP bool

	// The http client used, leave nil for the default
	HTTPClient *http.Client

	// optional TLS configuration primarily used for testing
	TLSConfig *tls.Config

	// Used between retries. Defaults to time.Sleep; tests replace it.
	RetrySleepFunc func(time.Duration)
}

// A Client manages communication with the Doppler API.
type Client struct {
	// The client configuration
	conf Config

	// HTTP client used to communicate with the API.
	client *http.Client

	// The logger used
	logger logger.Logger
}

// NewClient returns a new Doppler API Client.
func NewClient(l logger.Logger, conf Config) *Client {
	if conf.Endpoint == "" {
		conf.Endpoint = defaultEndpoint
	}

	if conf.UserAgent == "" {
		conf.UserAgent = version.UserAgent()
	}

	if conf.HTTPClient != nil {
		return &Client{
			logger: l,
			client: conf.HTTPClient,
			conf:   conf,
		}
	}

	opts := []dopplerhttp.ClientOption{
		dopplerhttp.WithAllowHTTP2(!conf.DisableHTTP2),
		dopplerhttp.WithTLSConfig(conf.TLSConfig),
	}
	if conf.TokenSource != nil {
		opts = append(opts, dopplerhttp.WithTokenSource(conf.TokenSource))
	}

	return &Client{
		logger: l,
		client: dopplerhttp.NewClient(opts...),
		conf:   conf,
	}
}

// Config returns the internal configuration for the Client
func (c *Client) Config() Config {
	return c.conf
}

// WithTokenSource returns a copy of the client that authenticates with ts.
func (c *Client) WithTokenSource(ts oauth2.TokenSource) *Client {
	conf := c.conf
	conf.TokenSource = ts
	return NewClient(c.logger, conf)
}

// newRequest creates an API request. urlStr is resolved relative to the
// Endpoint. If specified, the value pointed to by body is JSON encoded and
// included as the request body.
func (c *Client) newRequest(ctx context.Context, method, urlStr string, body any) (*http.Request, error) {
	u := joinURLPath(c.conf.Endpoint, urlStr)

	buf := new(bytes.Buffer)
	if body != nil {
		err := json.NewEncoder(buf).Encode(body)
		if err != nil {
			return nil, err
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, u, buf)
	if err != nil {
		return nil, err
	}

	req.Header.Add("User-Agent", c.conf.UserAgent)
	req.Header.Add("Accept", "application/json")

	if body != nil {
		req.Header.Add("Content-Type", "application/json")
	}

	return req, nil
}

// Response is a Doppler API response. This wraps the standard http.Response.
type Response struct {
	*http.Response
}

// newResponse creates a new Response for the provided http.Response.
func newResponse(r *http.Response) *Response {
	response := &Response{Response: r}
	return response
}

// doRequest sends an API request and returns the API response. The API
// response is JSON decoded and stored in the value pointed to by v, or
// returned as an error if an API error has occurred.
func (c *Client) doRequest(req *http.Request, v any) (*Response, error) {
	resp, err := dopplerhttp.Do(c.logger, c.client, req,
		dopplerhttp.WithDebugHTTP(c.conf.DebugHTTP),
	)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	defer io.Copy(io.Discard, resp.Body) //nolint:errcheck // Best-effort drain.

	response := newResponse(resp)

	if err := checkResponse(resp); err != nil {
		// even though there was an error, we still return the response
		// in case the caller wants to inspect it further
		return response, err
	}

	if v != nil {
		if err = json.NewDecoder(resp.Body).Decode(v); err != nil {
			return response, fmt.Errorf("failed to decode JSON response: %w", err)
		}
	}

	return response, nil
}

// ErrorResponse is a non-2xx response. Doppler reports errors as a list of
// messages.
type ErrorResponse struct {
	Response *http.Response // HTTP response that caused this error
	Messages []string       `json:"messages"`
}

func (r *ErrorResponse) Error() string {
	u := *r.Response.Request.URL
	u.RawQuery = ""
	s := fmt.Sprintf("%v %v: %s", r.Response.Request.Method, u.String(), r.Response.Status)

	if len(r.Messages) > 0 {
		s = fmt.Sprintf("%s: %v", s, strings.Join(r.Messages, "; "))
	}

	return s
}

func IsErrHavingStatus(err error, code int) bool {
	var apierr *ErrorResponse
	return errors.As(err, &apierr) && apierr.Response.StatusCode == code
}

func checkResponse(r *http.Response) error {
	if c := r.StatusCode; 200 <= c && c <= 299 {
		return nil
	}

	errorResponse := &ErrorResponse{Response: r}
	data, err := io.ReadAll(r.Body)
	if err == nil && data != nil {
		json.Unmarshal(data, errorResponse) //nolint:errcheck // The status is enough.
	}

	return errorResponse
}

// addOptions adds the parameters in opt as URL query parameters to s. opt must
// be a struct whose fields may contain "url" tags.
func addOptions(s string, opt any) (string, error) {
	v := reflect.ValueOf(opt)
	if v.Kind() == reflect.Ptr && v.IsNil() {
		return s, nil
	}

	u, err := url.Parse(s)
	if err != nil {
		return s, err
	}

	qs, err := query.Values(opt)
	if err != nil {
		return s, err
	}

	u.RawQuery = qs.Encode()
	return u.String(), nil
}

func joinURLPath(endpoint string, path string) string {
	return strings.TrimRight(endpoint, "/") + "/" + strings.TrimLeft(path, "/")
}
