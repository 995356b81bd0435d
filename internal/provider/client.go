package provider

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Timothy-py/Candexa-ATS-Intelligence-system/internal/config"
	"github.com/Timothy-py/Candexa-ATS-Intelligence-system/internal/models"
)

// tlsFailureThreshold: after this many consecutive TLS-class failures the
// connection pool is rebuilt without connection reuse.
const tlsFailureThreshold = 2

// APIError is a terminal provider failure carrying full diagnostic context.
type APIError struct {
	Status int
	Body   string
	Method string
	Target string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("provider request %s %s failed: status=%d body=%q", e.Method, e.Target, e.Status, e.Body)
}

// ErrRetriesExhausted wraps the last transient failure once the retry budget
// is spent.
var ErrRetriesExhausted = errors.New("provider retries exhausted")

// Factory builds one client per connector from its stored credentials.
// Clients are owned here, never process-global: two connectors never share
// auth state or a connection pool.
type Factory struct {
	timeout    time.Duration
	maxRetries int
	logger     *zap.SugaredLogger
}

func NewFactory(cfg config.Config, logger *zap.SugaredLogger) *Factory {
	return &Factory{
		timeout:    cfg.ProviderTimeout,
		maxRetries: cfg.ProviderMaxRetries,
		logger:     logger,
	}
}

// ClientFor validates connector credentials and returns a dedicated client.
func (f *Factory) ClientFor(conn models.Connector) (*Client, error) {
	if conn.Subdomain == "" {
		return nil, fmt.Errorf("connector %s has no subdomain", conn.ID)
	}
	if conn.APIKey == "" {
		return nil, fmt.Errorf("connector %s has no api key", conn.ID)
	}
	base := fmt.Sprintf("https://%s.bamboohr.com", conn.Subdomain)
	return NewClient(base, conn.APIKey, f.timeout, f.maxRetries, f.logger), nil
}

// Client talks to the BambooHR applicant-tracking API with the retry contract
// of the gateway: throttling is retried with a capped delay, transient
// network/TLS failures with exponential backoff, everything else surfaces
// immediately as *APIError.
type Client struct {
	baseURL    string
	apiKey     string
	timeout    time.Duration
	maxRetries int
	logger     *zap.SugaredLogger

	mu          sync.Mutex
	httpClient  *http.Client
	tlsFailures int
}

func NewClient(baseURL, apiKey string, timeout time.Duration, maxRetries int, logger *zap.SugaredLogger) *Client {
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	if maxRetries == 0 {
		maxRetries = 4
	}
	c := &Client{
		baseURL:    baseURL,
		apiKey:     apiKey,
		timeout:    timeout,
		maxRetries: maxRetries,
		logger:     logger,
	}
	c.httpClient = c.newHTTPClient(false)
	return c
}

func (c *Client) newHTTPClient(disableKeepAlives bool) *http.Client {
	return &http.Client{
		Timeout: c.timeout,
		Transport: &http.Transport{
			DisableKeepAlives:   disableKeepAlives,
			MaxIdleConnsPerHost: 4,
			TLSHandshakeTimeout: 10 * time.Second,
		},
	}
}

// rebuildPool drops the existing transport and all idle connections. Used
// after repeated TLS-class failures where a poisoned pooled connection keeps
// resurfacing.
func (c *Client) rebuildPool() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if t, ok := c.httpClient.Transport.(*http.Transport); ok {
		t.CloseIdleConnections()
	}
	c.httpClient = c.newHTTPClient(true)
	c.tlsFailures = 0
}

func (c *Client) client() *http.Client {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.httpClient
}

func (c *Client) get(ctx context.Context, path string, params url.Values) (any, error) {
	target := c.baseURL + path
	if len(params) > 0 {
		target += "?" + params.Encode()
	}

	var lastErr error
	for attempt := 0; attempt < c.maxRetries; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
		if err != nil {
			return nil, fmt.Errorf("build provider request: %w", err)
		}
		// documented basic-auth pattern: api key as username, "x" as password
		req.SetBasicAuth(c.apiKey, "x")
		req.Header.Set("Accept", "application/json")

		resp, err := c.client().Do(req)
		if err != nil {
			if !isTransientNetErr(err) {
				return nil, fmt.Errorf("provider request %s: %w", target, err)
			}
			lastErr = err
			delay := time.Duration(attempt+1) * 800 * time.Millisecond
			if isTLSErr(err) {
				c.mu.Lock()
				c.tlsFailures++
				rebuild := c.tlsFailures >= tlsFailureThreshold
				c.mu.Unlock()
				if rebuild {
					c.logger.Warnw("rebuilding provider connection pool after repeated TLS failures", "target", target)
					c.rebuildPool()
				}
			}
			c.logger.Warnw("transient provider network error, retrying",
				"target", target, "attempt", attempt+1, "delay", delay, "err", err)
			if err := sleepCtx(ctx, delay); err != nil {
				return nil, err
			}
			continue
		}

		body, readErr := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
		resp.Body.Close()
		if readErr != nil {
			// truncated or aborted response, same class as a dropped connection
			lastErr = readErr
			delay := time.Duration(attempt+1) * 800 * time.Millisecond
			c.logger.Warnw("failed reading provider response, retrying",
				"target", target, "attempt", attempt+1, "delay", delay, "err", readErr)
			if err := sleepCtx(ctx, delay); err != nil {
				return nil, err
			}
			continue
		}

		switch {
		case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode == http.StatusServiceUnavailable:
			delay := time.Duration(attempt+1) * time.Second
			if delay > 5*time.Second {
				delay = 5 * time.Second
			}
			c.logger.Warnw("provider throttled, retrying",
				"status", resp.StatusCode, "target", target, "attempt", attempt+1, "delay", delay)
			lastErr = &APIError{Status: resp.StatusCode, Body: string(body), Method: http.MethodGet, Target: target}
			if err := sleepCtx(ctx, delay); err != nil {
				return nil, err
			}
			continue
		case resp.StatusCode >= http.StatusBadRequest:
			return nil, &APIError{Status: resp.StatusCode, Body: string(body), Method: http.MethodGet, Target: target}
		}

		c.mu.Lock()
		c.tlsFailures = 0
		c.mu.Unlock()

		var decoded any
		if len(body) > 0 {
			if err := json.Unmarshal(body, &decoded); err != nil {
				return nil, fmt.Errorf("decode provider response from %s: %w", target, err)
			}
		}
		return decoded, nil
	}
	return nil, fmt.Errorf("%w after %d attempts (%s): %v", ErrRetriesExhausted, c.maxRetries, target, lastErr)
}

// ListJobOpenings fetches the ATS job summaries.
func (c *Client) ListJobOpenings(ctx context.Context) ([]Record, error) {
	resp, err := c.get(ctx, "/api/v1/applicant_tracking/jobs", nil)
	if err != nil {
		return nil, err
	}
	return ExtractList(resp), nil
}

// ListApplications fetches one page of applications. The raw response is
// returned alongside the records so callers can read pagination flags.
func (c *Client) ListApplications(ctx context.Context, page int) ([]Record, any, error) {
	params := url.Values{"page": []string{strconv.Itoa(page)}}
	resp, err := c.get(ctx, "/api/v1/applicant_tracking/applications", params)
	if err != nil {
		return nil, nil, err
	}
	return ExtractList(resp), resp, nil
}

// Probe performs a cheap authenticated call to validate credentials.
func (c *Client) Probe(ctx context.Context) error {
	_, err := c.get(ctx, "/api/v1/applicant_tracking/statuses", nil)
	return err
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func isTransientNetErr(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	return isTLSErr(err)
}

func isTLSErr(err error) bool {
	var recordErr tls.RecordHeaderError
	if errors.As(err, &recordErr) {
		return true
	}
	var certErr *tls.CertificateVerificationError
	return errors.As(err, &certErr)
}
