package infra

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/cenk/backoff"
	"github.com/rs/dnscache"
	circuit "github.com/rubyist/circuitbreaker"
	"go.uber.org/zap"

	"github.com/apkdrop/apkdrop/internal/domain"
)

// ErrCatalogDown is returned while the catalog circuit breaker is open.
var ErrCatalogDown = errors.New("catalog service unavailable")

const (
	searchPath  = "/api/v1/search"
	detailsPath = "/api/v1/apps/"

	catalogUserAgent = "apkdrop/1.0"
	maxIconBytes     = 5 << 20
)

// CatalogClient implements domain.Catalog over HTTP. Requests are retried
// with exponential backoff and the upstream is guarded by a circuit breaker
// that trips after consecutive failures.
type CatalogClient struct {
	baseURL    string
	client     *http.Client
	breaker    *circuit.Breaker
	maxRetries uint64
	logger     *zap.Logger
}

// NewCatalogClient creates a catalog client for the given base URL.
func NewCatalogClient(baseURL string, timeout time.Duration, logger *zap.Logger) *CatalogClient {
	// DNS cache with a 5 minute refresh interval; the catalog is hit on
	// every request and its records rarely change.
	resolver := &dnscache.Resolver{}
	go func() {
		ticker := time.NewTicker(5 * time.Minute)
		defer ticker.Stop()
		for range ticker.C {
			resolver.Refresh(true)
		}
	}()

	dialer := &net.Dialer{
		Timeout:   30 * time.Second,
		KeepAlive: 30 * time.Second,
	}

	client := &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			DialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
				host, port, err := net.SplitHostPort(addr)
				if err != nil {
					return nil, err
				}
				ips, err := resolver.LookupHost(ctx, host)
				if err != nil {
					return nil, err
				}
				var lastErr error
				for _, ip := range ips {
					conn, err := dialer.DialContext(ctx, network, net.JoinHostPort(ip, port))
					if err == nil {
						return conn, nil
					}
					lastErr = err
				}
				if lastErr == nil {
					lastErr = fmt.Errorf("no addresses for %s", host)
				}
				return nil, lastErr
			},
			MaxIdleConns:        10,
			IdleConnTimeout:     90 * time.Second,
			TLSHandshakeTimeout: 10 * time.Second,
		},
	}

	// Trips after 5 consecutive failures, reopening on an exponential
	// schedule starting at 30 seconds.
	expBackoff := backoff.NewExponentialBackOff()
	expBackoff.InitialInterval = 30 * time.Second
	expBackoff.MaxInterval = 5 * time.Minute
	expBackoff.Multiplier = 2.0
	expBackoff.Reset()

	breaker := circuit.NewBreakerWithOptions(&circuit.Options{
		BackOff:    expBackoff,
		ShouldTrip: circuit.ThresholdTripFunc(5),
	})

	return &CatalogClient{
		baseURL:    baseURL,
		client:     client,
		breaker:    breaker,
		maxRetries: 3,
		logger:     logger,
	}
}

// Search returns the top matches for a term, best first.
func (c *CatalogClient) Search(ctx context.Context, term string) ([]domain.CatalogMatch, error) {
	query := url.Values{}
	query.Set("q", term)
	query.Set("limit", "1")

	var out struct {
		Results []domain.CatalogMatch `json:"results"`
	}
	if err := c.getJSON(ctx, c.baseURL+searchPath+"?"+query.Encode(), &out); err != nil {
		return nil, err
	}
	return out.Results, nil
}

// Details fetches the full record for an app id.
func (c *CatalogClient) Details(ctx context.Context, appID string) (*domain.CatalogDetails, error) {
	var out domain.CatalogDetails
	if err := c.getJSON(ctx, c.baseURL+detailsPath+url.PathEscape(appID), &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// FetchIcon downloads an icon image by URL. Icon failures degrade the reply
// to plain text, so this skips the breaker and retry machinery.
func (c *CatalogClient) FetchIcon(ctx context.Context, iconURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, iconURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build icon request: %w", err)
	}
	req.Header.Set("User-Agent", catalogUserAgent)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("icon fetch failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("icon fetch returned status %d", resp.StatusCode)
	}
	return io.ReadAll(io.LimitReader(resp.Body, maxIconBytes))
}

// getJSON performs a GET with retry and circuit breaking, decoding the
// response body into out.
func (c *CatalogClient) getJSON(ctx context.Context, requestURL string, out any) error {
	if !c.breaker.Ready() {
		return fmt.Errorf("catalog circuit open: %w", ErrCatalogDown)
	}

	op := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, requestURL, nil)
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("User-Agent", catalogUserAgent)
		req.Header.Set("Accept", "application/json")

		resp, err := c.client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		switch {
		case resp.StatusCode == http.StatusOK:
			if err := decodeJSON(resp.Body, out); err != nil {
				return backoff.Permanent(err)
			}
			return nil
		case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
			return fmt.Errorf("catalog returned status %d", resp.StatusCode)
		default:
			return backoff.Permanent(fmt.Errorf("catalog returned status %d", resp.StatusCode))
		}
	}

	retry := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), c.maxRetries), ctx)
	err := c.breaker.Call(func() error {
		return backoff.Retry(op, retry)
	}, 0)
	if err != nil {
		c.logger.Warn("catalog request failed",
			zap.String("url", requestURL),
			zap.Error(err))
	}
	return err
}

func decodeJSON(r io.Reader, out any) error {
	return json.NewDecoder(r).Decode(out)
}
