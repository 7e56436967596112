package directory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"rendezlink/internal/core/domain"
	"rendezlink/internal/core/ports"
	"rendezlink/pkg/cache"
	"rendezlink/pkg/circuitbreaker"

	"go.uber.org/zap"
)

// ErrEmptyDirectory is returned when the directory lists no endpoint.
var ErrEmptyDirectory = errors.New("directory returned no rendezvous endpoint")

const (
	cacheKey        = "endpoints"
	maxResponseSize = 64 << 10
)

type endpoint struct {
	Host string      `json:"host"`
	Port json.Number `json:"port"`
}

type response struct {
	RendezvousSSL *endpoint `json:"rendezvousssl"`
	Rendezvous    *endpoint `json:"rendezvous"`
}

// Client looks up rendezvous endpoints from a remote HTTP directory.
type Client struct {
	url     string
	http    *http.Client
	cache   *cache.Cache[string, []domain.ServerEndpoint]
	breaker *circuitbreaker.Breaker
	logger  *zap.SugaredLogger
}

var _ ports.ServerDirectory = (*Client)(nil)

func NewClient(url string, timeout, cacheTTL time.Duration, logger *zap.SugaredLogger) *Client {
	breaker := circuitbreaker.New(circuitbreaker.DefaultConfig())
	breaker.OnStateChange(func(from, to circuitbreaker.State) {
		logger.Infow("directory circuit breaker state changed", "from", from.String(), "to", to.String())
	})

	return &Client{
		url:     url,
		http:    &http.Client{Timeout: timeout},
		cache:   cache.New[string, []domain.ServerEndpoint](cacheTTL),
		breaker: breaker,
		logger:  logger,
	}
}

// Lookup returns the secure endpoint first, then the plain one. After
// repeated failures the directory is not contacted until the breaker's open
// period elapses.
func (c *Client) Lookup(ctx context.Context) ([]domain.ServerEndpoint, error) {
	return c.cache.GetOrLoad(ctx, cacheKey, func(ctx context.Context) ([]domain.ServerEndpoint, error) {
		return circuitbreaker.Execute(ctx, c.breaker, c.fetch)
	})
}

// Invalidate drops the cached response.
func (c *Client) Invalidate() {
	c.cache.Delete(cacheKey)
}

func (c *Client) fetch(ctx context.Context) ([]domain.ServerEndpoint, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build directory request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("directory request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("directory returned status %d", resp.StatusCode)
	}

	var body response
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseSize)).Decode(&body); err != nil {
		return nil, fmt.Errorf("failed to decode directory response: %w", err)
	}

	var endpoints []domain.ServerEndpoint
	if ep, ok := body.RendezvousSSL.toDomain(domain.SecureScheme); ok {
		endpoints = append(endpoints, ep)
	}
	if ep, ok := body.Rendezvous.toDomain(domain.DefaultScheme); ok {
		endpoints = append(endpoints, ep)
	}
	if len(endpoints) == 0 {
		return nil, ErrEmptyDirectory
	}

	c.logger.Infow("fetched rendezvous directory", "url", c.url, "endpoints", len(endpoints))
	return endpoints, nil
}

func (e *endpoint) toDomain(scheme string) (domain.ServerEndpoint, bool) {
	if e == nil || e.Host == "" {
		return domain.ServerEndpoint{}, false
	}
	port, err := strconv.Atoi(e.Port.String())
	if err != nil || port <= 0 || port > 65535 {
		return domain.ServerEndpoint{}, false
	}
	return domain.ServerEndpoint{Scheme: scheme, Host: e.Host, Port: strconv.Itoa(port)}, true
}
