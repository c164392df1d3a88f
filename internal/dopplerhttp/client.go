// Package dopplerhttp creates standard Go [net/http.Client]s for talking to
// the Doppler API.
package dopplerhttp

import (
	"crypto/tls"
	"net/http"
	"sync"
	"time"

	"golang.org/x/net/http2"
	"golang.org/x/oauth2"
)

// NewClient creates a HTTP client. The default timeout is 30 seconds.
func NewClient(opts ...ClientOption) *http.Client {
	conf := clientConfig{
		TokenSource: nil,
		AllowHTTP2:  true,
		Timeout:     30 * time.Second,
		TLSConfig:   nil,
	}
	for _, opt := range opts {
		opt(&conf)
	}

	cacheKey := transportCacheKey{
		AllowHTTP2: conf.AllowHTTP2,
		TLSConfig:  conf.TLSConfig,
	}

	transportCacheMu.Lock()
	transport := transportCache[cacheKey]
	if transport == nil {
		transport = newTransport(&conf)
		transportCache[cacheKey] = transport
	}
	transportCacheMu.Unlock()

	if conf.TokenSource == nil {
		return &http.Client{
			Timeout:   conf.Timeout,
			Transport: transport,
		}
	}

	// oauth2.Transport adds "Authorization: Bearer <token>" to every request,
	// asking the source for a fresh token when the current one expires.
	return &http.Client{
		Timeout: conf.Timeout,
		Transport: &oauth2.Transport{
			Source: oauth2.ReuseTokenSource(nil, conf.TokenSource),
			Base:   transport,
		},
	}
}

// Various NewClient options.
func WithTokenSource(ts oauth2.TokenSource) ClientOption {
	return func(c *clientConfig) { c.TokenSource = ts }
}
func WithAllowHTTP2(a bool) ClientOption       { return func(c *clientConfig) { c.AllowHTTP2 = a } }
func WithTimeout(d time.Duration) ClientOption { return func(c *clientConfig) { c.Timeout = d } }
func WithTLSConfig(t *tls.Config) ClientOption { return func(c *clientConfig) { c.TLSConfig = t } }

type ClientOption = func(*clientConfig)

func newTransport(conf *clientConfig) *http.Transport {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	// Must be set before http2.ConfigureTransports.
	if conf.TLSConfig != nil {
		transport.TLSClientConfig = conf.TLSConfig
	}

	if conf.AllowHTTP2 {
		// ConfigureTransports alters transport in place; tr2 is only needed to
		// set the health check interval on the HTTP/2 side.
		// See https://github.com/golang/go/issues/59690
		tr2, err := http2.ConfigureTransports(transport)
		if err != nil {
			panic("http2.ConfigureTransports: " + err.Error())
		}
		if tr2 != nil {
			tr2.ReadIdleTimeout = 30 * time.Second
		}
	} else {
		transport.TLSNextProto = make(map[string]func(string, *tls.Conn) http.RoundTripper)
		if transport.TLSClientConfig == nil {
			transport.TLSClientConfig = &tls.Config{}
		}
		transport.TLSClientConfig.NextProtos = []string{"http/1.1"}
	}

	return transport
}

type clientConfig struct {
	// Supplies the bearer token. Nil means unauthenticated requests.
	TokenSource oauth2.TokenSource

	// If false, HTTP2 is disabled
	AllowHTTP2 bool

	// Timeout used as the client timeout.
	Timeout time.Duration

	// optional TLS configuration primarily used for testing
	TLSConfig *tls.Config
}

// Transports are cached so that clients with the same options share
// connections.
type transportCacheKey struct {
	AllowHTTP2 bool
	TLSConfig  *tls.Config
}

var (
	transportCacheMu sync.Mutex
	transportCache   = make(map[transportCacheKey]*http.Transport)
)
