package provider

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/newthinker/marketgate/internal/core"
)

// DefaultTimeout bounds a single upstream call when none is configured.
const DefaultTimeout = 8 * time.Second

// Client is a small wrapper around http.Client that turns upstream failures
// into typed core errors.
type Client struct {
	HTTP      *http.Client
	UserAgent string
}

// NewClient creates a client with pooled connections and the given timeout.
func NewClient(timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           (&net.Dialer{Timeout: 3 * time.Second, KeepAlive: 30 * time.Second}).DialContext,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   20,
		ForceAttemptHTTP2:     true,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   3 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
	return &Client{
		HTTP:      &http.Client{Timeout: timeout, Transport: transport},
		UserAgent: "marketgate/1.0",
	}
}

// GetJSON issues a GET and decodes a JSON body into out.
func (c *Client) GetJSON(ctx context.Context, url string, headers map[string]string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return core.Errorf(core.ErrProviderFailed, "creating request: %v", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.UserAgent != "" {
		req.Header.Set("User-Agent", c.UserAgent)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return Classify(err)
	}
	defer resp.Body.Close()

	if err := CheckStatus(resp); err != nil {
		return err
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		if isTimeout(err) {
			return core.WrapError(core.ErrTimeout, err)
		}
		return core.Errorf(core.ErrBadResponse, "decoding response: %v", err)
	}
	return nil
}

// CheckStatus maps HTTP status codes onto core errors.
func CheckStatus(resp *http.Response) error {
	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return core.Errorf(core.ErrRateLimited, "HTTP 429 from %s", resp.Request.URL.Host)
	case resp.StatusCode == http.StatusNotFound:
		return core.Errorf(core.ErrSymbolNotFound, "HTTP 404 from %s", resp.Request.URL.Host)
	case resp.StatusCode == http.StatusGatewayTimeout:
		return core.Errorf(core.ErrTimeout, "HTTP 504 from %s", resp.Request.URL.Host)
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return core.Errorf(core.ErrProviderFailed, "unexpected status %d: %s", resp.StatusCode, body)
	}
	return nil
}

// Classify maps a transport error onto a core error. Errors that already
// carry a code are returned unchanged.
func Classify(err error) error {
	if err == nil {
		return nil
	}
	if core.CodeOf(err) != "" {
		return err
	}
	if isTimeout(err) {
		return core.WrapError(core.ErrTimeout, err)
	}
	return core.WrapError(core.ErrProviderFailed, err)
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
