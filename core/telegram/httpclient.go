package telegram

import (
	"io"
	"net"
	"net/http"
	"time"

	"github.com/m3rciful/chainbot/core/netutil"
)

// HTTPOptions tunes the client used for Bot API calls. Zero fields take defaults.
type HTTPOptions struct {
	DialTimeout    time.Duration
	HeaderTimeout  time.Duration
	RequestTimeout time.Duration
	Retries        int
	RetryBackoff   time.Duration
}

func (o HTTPOptions) withDefaults() HTTPOptions {
	if o.DialTimeout <= 0 {
		o.DialTimeout = 5 * time.Second
	}
	if o.HeaderTimeout <= 0 {
		o.HeaderTimeout = 5 * time.Second
	}
	if o.RequestTimeout <= 0 {
		// Must outlive the long poll timeout.
		o.RequestTimeout = 30 * time.Second
	}
	if o.Retries < 0 {
		o.Retries = 0
	} else if o.Retries == 0 {
		o.Retries = 3
	}
	if o.RetryBackoff <= 0 {
		o.RetryBackoff = 500 * time.Millisecond
	}
	return o
}

const maxRetryBackoff = 4 * time.Second

// NewHTTPClient returns a client for Bot API calls that retries dial errors,
// timeouts and gateway failures.
func NewHTTPClient(opts HTTPOptions) *http.Client {
	opts = opts.withDefaults()
	dialer := &net.Dialer{Timeout: opts.DialTimeout, KeepAlive: 30 * time.Second}
	base := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   10,
		IdleConnTimeout:       30 * time.Second,
		TLSHandshakeTimeout:   opts.DialTimeout,
		ResponseHeaderTimeout: opts.HeaderTimeout,
		ExpectContinueTimeout: time.Second,
	}
	return &http.Client{
		Timeout: opts.RequestTimeout,
		Transport: &retryTransport{
			next:    base,
			retries: opts.Retries,
			backoff: opts.RetryBackoff,
		},
	}
}

// retryTransport replays idempotent-safe Bot API requests. Requests whose
// body cannot be rewound are sent once.
type retryTransport struct {
	next    http.RoundTripper
	retries int
	backoff time.Duration
}

func (t *retryTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	next := t.next
	if next == nil {
		next = http.DefaultTransport
	}
	replayable := req.Body == nil || req.Body == http.NoBody || req.GetBody != nil

	for attempt := 1; ; attempt++ {
		resp, err := next.RoundTrip(req)
		last := attempt > t.retries || !replayable
		if last || !retryable(resp, err) {
			return resp, err
		}
		if resp != nil {
			_, _ = io.Copy(io.Discard, resp.Body)
			resp.Body.Close()
		}
		if err := netutil.Sleep(req.Context(), netutil.Backoff(attempt, t.backoff, maxRetryBackoff)); err != nil {
			return nil, err
		}
		if req, err = rewind(req); err != nil {
			return nil, err
		}
	}
}

func retryable(resp *http.Response, err error) bool {
	if err != nil {
		return netutil.ShouldRetry(err)
	}
	switch resp.StatusCode {
	case http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	}
	return false
}

func rewind(req *http.Request) (*http.Request, error) {
	clone := req.Clone(req.Context())
	if req.GetBody == nil {
		return clone, nil
	}
	body, err := req.GetBody()
	if err != nil {
		return nil, err
	}
	clone.Body = body
	return clone, nil
}
