package dopplerhttp

import (
	"net/http"
	"net/http/httptrace"
	"net/http/httputil"
	"time"

	"github.com/dopplerhq/secrets-fetch-action/logger"
	"github.com/dustin/go-humanize"
)

// Do wraps the http.Client's Do method with debug logging.
//
// With WithDebugHTTP, request headers are dumped with the Authorization header
// elided. Bodies are never dumped: responses carry secret values, and requests
// carry identity tokens.
func Do(l logger.Logger, client *http.Client, req *http.Request, opts ...DoOption) (*http.Response, error) {
	var cfg doConfig
	for _, opt := range opts {
		opt(&cfg)
	}

	if cfg.debugHTTP {
		dumpReq := req.Clone(req.Context())
		if dumpReq.Header.Get("Authorization") != "" {
			dumpReq.Header.Set("Authorization", "[REDACTED]")
		}
		requestDump, err := httputil.DumpRequestOut(dumpReq, false)
		if err != nil {
			l.Debug("ERR: %s", err)
		} else {
			l.Debug("%s", string(requestDump))
		}
	}

	var reused bool
	if cfg.debugHTTP {
		req = req.WithContext(httptrace.WithClientTrace(req.Context(), &httptrace.ClientTrace{
			GotConn: func(info httptrace.GotConnInfo) { reused = info.Reused },
		}))
	}

	ts := time.Now()

	l.Debug("%s %s", req.Method, req.URL)

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}

	fields := []logger.Field{
		logger.StringField("proto", resp.Proto),
		logger.IntField("status", resp.StatusCode),
		logger.DurationField("Δ", time.Since(ts)),
	}
	if resp.ContentLength >= 0 {
		fields = append(fields, logger.StringField("size", humanize.Bytes(uint64(resp.ContentLength))))
	}
	if cfg.debugHTTP {
		fields = append(fields, logger.BoolField("reused", reused))
	}
	l.WithFields(fields...).Debug("↳ %s %s", req.Method, req.URL)

	return resp, nil
}

type DoOption = func(*doConfig)

type doConfig struct {
	debugHTTP bool
}

func WithDebugHTTP(d bool) DoOption { return func(c *doConfig) { c.debugHTTP = d } }
