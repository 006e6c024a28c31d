package platform

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/teresa-solution/tenant-provisioning-service/internal/config"
	"github.com/teresa-solution/tenant-provisioning-service/internal/model"
	"github.com/teresa-solution/tenant-provisioning-service/internal/monitoring"
	"golang.org/x/time/rate"
)

const userAgent = "tenant-provisioning-service/1.0"

// Deployment is the result of a successful deploy
type Deployment struct {
	ID string
	// ServiceIDs maps logical (template) service names to remote ids
	ServiceIDs map[string]string
}

// ResourceStatus is the platform's view of one resource
type ResourceStatus struct {
	State          string    `json:"state"`
	URL            string    `json:"url"`
	LastDeployedAt time.Time `json:"lastDeployedAt"`
}

// Client talks to the remote platform API. It is safe for concurrent use.
type Client struct {
	baseURL    *url.URL
	apiKey     string
	httpClient *http.Client
	limiter    *rate.Limiter
}

// NewClient creates a Client from cfg. A missing API key is a configuration error.
func NewClient(cfg config.PlatformConfig) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, config.ErrMissingAPIKey
	}
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/") + "/")
	if err != nil {
		return nil, fmt.Errorf("invalid platform base url: %w", err)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}
	burst := cfg.Burst
	if burst < 1 {
		burst = 1
	}
	return &Client{
		baseURL:    base,
		apiKey:     cfg.APIKey,
		httpClient: &http.Client{Timeout: timeout},
		limiter:    rate.NewLimiter(limit, burst),
	}, nil
}

type deployRequest struct {
	Name     string              `json:"name"`
	Services []model.ServiceSpec `json:"services"`
}

type deployResponse struct {
	ID       string `json:"id"`
	Services []struct {
		Name string `json:"name"`
		ID   string `json:"id"`
	} `json:"services"`
}

// Deploy submits spec and returns the ids of the created services
func (c *Client) Deploy(ctx context.Context, spec *model.DeploymentSpec) (*Deployment, error) {
	const op = "deploy"
	body, err := json.Marshal(deployRequest{Name: "tenant-" + spec.TenantSlug, Services: spec.Services})
	if err != nil {
		return nil, &Error{Kind: KindRejected, Op: op, Message: "encode spec", Err: err}
	}

	var out deployResponse
	if err := c.do(ctx, op, http.MethodPost, "deployments", body, &out); err != nil {
		return nil, err
	}

	remote := make(map[string]string, len(out.Services))
	for _, s := range out.Services {
		if s.Name != "" && s.ID != "" {
			remote[s.Name] = s.ID
		}
	}

	dep := &Deployment{ID: out.ID, ServiceIDs: make(map[string]string, len(spec.Services))}
	var missing []string
	for _, svc := range spec.Services {
		id, ok := remote[svc.Name]
		if !ok {
			missing = append(missing, svc.Name)
			continue
		}
		dep.ServiceIDs[svc.LogicalName] = id
	}
	if len(missing) > 0 {
		return nil, &Error{
			Kind:    KindRejected,
			Op:      op,
			Message: "deployment " + out.ID + " is missing services: " + strings.Join(missing, ", "),
		}
	}

	log.Info().Str("deployment_id", dep.ID).Str("tenant_slug", spec.TenantSlug).Msg("Deployment submitted")
	return dep, nil
}

// Delete removes a resource. A resource that no longer exists counts as deleted.
func (c *Client) Delete(ctx context.Context, resourceID string) error {
	err := c.do(ctx, "delete", http.MethodDelete, "resources/"+url.PathEscape(resourceID), nil, nil)
	if KindOf(err) == KindNotFound {
		log.Warn().Str("resource_id", resourceID).Msg("Resource not found, treating as deleted")
		return nil
	}
	return err
}

// Status returns the current state of a resource
func (c *Client) Status(ctx context.Context, resourceID string) (*ResourceStatus, error) {
	var out ResourceStatus
	if err := c.do(ctx, "status", http.MethodGet, "resources/"+url.PathEscape(resourceID), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) do(ctx context.Context, op, method, path string, body []byte, out interface{}) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return &Error{Kind: KindTransient, Op: op, Message: "rate limiter", Err: err}
	}

	// path segments are already escaped by the callers
	u := c.baseURL.String() + path
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return &Error{Kind: KindRejected, Op: op, Message: "build request", Err: err}
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", userAgent)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		monitoring.PlatformRequests.WithLabelValues(op, "error").Inc()
		return &Error{Kind: KindTransient, Op: op, Err: err}
	}
	defer resp.Body.Close()
	monitoring.PlatformRequests.WithLabelValues(op, strconv.Itoa(resp.StatusCode)).Inc()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if out == nil || resp.StatusCode == http.StatusNoContent {
			return nil
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil && !errors.Is(err, io.EOF) {
			return &Error{Kind: KindTransient, Op: op, StatusCode: resp.StatusCode, Message: "decode response", Err: err}
		}
		return nil
	}

	return classify(op, resp)
}

// classify maps a non-2xx response onto the error taxonomy
func classify(op string, resp *http.Response) error {
	e := &Error{Op: op, StatusCode: resp.StatusCode, Message: readMessage(resp.Body)}
	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		e.Kind = KindAuth
	case resp.StatusCode == http.StatusNotFound:
		e.Kind = KindNotFound
	case resp.StatusCode == http.StatusTooManyRequests:
		e.Kind = KindRateLimited
		e.RetryAfter = parseRetryAfter(resp.Header.Get("Retry-After"))
	case resp.StatusCode == http.StatusRequestTimeout || resp.StatusCode >= 500:
		e.Kind = KindTransient
	default:
		e.Kind = KindRejected
	}
	return e
}

func readMessage(r io.Reader) string {
	data, err := io.ReadAll(io.LimitReader(r, 4096))
	if err != nil || len(data) == 0 {
		return ""
	}
	var body struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if json.Unmarshal(data, &body) == nil {
		if body.Message != "" {
			return body.Message
		}
		if body.Error != "" {
			return body.Error
		}
	}
	return strings.TrimSpace(string(data))
}

// parseRetryAfter accepts delta-seconds or an HTTP date
func parseRetryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}
