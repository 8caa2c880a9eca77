package fastly

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Credentials attaches authentication to an outbound request. It is applied
// uniformly to every request the client makes.
type Credentials interface {
	Apply(req *http.Request)
}

// TokenCredentials authenticates with a static API key in the Fastly-Key header
type TokenCredentials struct {
	Key string
}

// Apply sets the Fastly-Key header
func (c TokenCredentials) Apply(req *http.Request) {
	req.Header.Set("Fastly-Key", c.Key)
}

// APIError is returned for any non-success HTTP status from the service
type APIError struct {
	StatusCode int
	Method     string
	Path       string
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s %s: %d %s: %s", e.Method, e.Path, e.StatusCode, http.StatusText(e.StatusCode), e.Body)
}

// HTTPClient implements Client against the service's HTTP/JSON API
type HTTPClient struct {
	baseURL    string
	serviceID  string
	creds      Credentials
	httpClient *http.Client
}

// Options configures an HTTPClient
type Options struct {
	BaseURL   string
	ServiceID string
	Creds     Credentials
	Timeout   time.Duration
}

// NewHTTPClient creates a client for one service
func NewHTTPClient(opts Options) *HTTPClient {
	if opts.Timeout == 0 {
		opts.Timeout = 30 * time.Second
	}

	return &HTTPClient{
		baseURL:   strings.TrimRight(opts.BaseURL, "/"),
		serviceID: opts.ServiceID,
		creds:     opts.Creds,
		httpClient: &http.Client{
			Timeout: opts.Timeout,
			Transport: &http.Transport{
				DialContext: (&net.Dialer{
					Timeout:   10 * time.Second,
					KeepAlive: 30 * time.Second,
				}).DialContext,
				MaxIdleConns:        10,
				IdleConnTimeout:     90 * time.Second,
				TLSHandshakeTimeout: 10 * time.Second,
			},
		},
	}
}

// ListVersions returns every configuration version of the service
func (c *HTTPClient) ListVersions(ctx context.Context) ([]Version, error) {
	var versions []Version
	path := fmt.Sprintf("/service/%s/version", url.PathEscape(c.serviceID))
	if err := c.do(ctx, http.MethodGet, path, nil, &versions); err != nil {
		return nil, fmt.Errorf("failed to list versions: %w", err)
	}
	return versions, nil
}

// ListVCLs returns the VCL files attached to a version
func (c *HTTPClient) ListVCLs(ctx context.Context, version int) ([]VCL, error) {
	var vcls []VCL
	if err := c.do(ctx, http.MethodGet, c.versionPath(version, "vcl"), nil, &vcls); err != nil {
		return nil, fmt.Errorf("failed to list VCLs for version %d: %w", version, err)
	}
	return vcls, nil
}

// CloneVersion creates a new inactive version as a copy of an existing one
func (c *HTTPClient) CloneVersion(ctx context.Context, version int) (Version, error) {
	var clone Version
	if err := c.do(ctx, http.MethodPut, c.versionPath(version, "clone"), nil, &clone); err != nil {
		return Version{}, fmt.Errorf("failed to clone version %d: %w", version, err)
	}
	return clone, nil
}

// CreateVCL adds a new VCL file to a version
func (c *HTTPClient) CreateVCL(ctx context.Context, version int, name, content string) error {
	form := url.Values{"name": {name}, "content": {content}}
	if err := c.do(ctx, http.MethodPost, c.versionPath(version, "vcl"), form, nil); err != nil {
		return fmt.Errorf("failed to create VCL %q on version %d: %w", name, version, err)
	}
	return nil
}

// UpdateVCL replaces the content of an existing VCL file on a version
func (c *HTTPClient) UpdateVCL(ctx context.Context, version int, name, content string) error {
	form := url.Values{"content": {content}}
	if err := c.do(ctx, http.MethodPut, c.vclPath(version, name), form, nil); err != nil {
		return fmt.Errorf("failed to update VCL %q on version %d: %w", name, version, err)
	}
	return nil
}

// DeleteVCL removes a VCL file from a version
func (c *HTTPClient) DeleteVCL(ctx context.Context, version int, name string) error {
	if err := c.do(ctx, http.MethodDelete, c.vclPath(version, name), nil, nil); err != nil {
		return fmt.Errorf("failed to delete VCL %q on version %d: %w", name, version, err)
	}
	return nil
}

// SetMainVCL designates the main entrypoint VCL of a version
func (c *HTTPClient) SetMainVCL(ctx context.Context, version int, name string) error {
	if err := c.do(ctx, http.MethodPut, c.vclPath(version, name)+"/main", nil, nil); err != nil {
		return fmt.Errorf("failed to set main VCL %q on version %d: %w", name, version, err)
	}
	return nil
}

// ValidateVersion asks the service to validate a version
func (c *HTTPClient) ValidateVersion(ctx context.Context, version int) (ValidationResult, error) {
	var result ValidationResult
	if err := c.do(ctx, http.MethodGet, c.versionPath(version, "validate"), nil, &result); err != nil {
		return ValidationResult{}, fmt.Errorf("failed to validate version %d: %w", version, err)
	}
	return result, nil
}

// ActivateVersion makes a version the live configuration
func (c *HTTPClient) ActivateVersion(ctx context.Context, version int) (Version, error) {
	var activated Version
	if err := c.do(ctx, http.MethodPut, c.versionPath(version, "activate"), nil, &activated); err != nil {
		return Version{}, fmt.Errorf("failed to activate version %d: %w", version, err)
	}
	return activated, nil
}

func (c *HTTPClient) versionPath(version int, suffix string) string {
	return fmt.Sprintf("/service/%s/version/%d/%s", url.PathEscape(c.serviceID), version, suffix)
}

func (c *HTTPClient) vclPath(version int, name string) string {
	return fmt.Sprintf("/service/%s/version/%d/vcl/%s", url.PathEscape(c.serviceID), version, url.PathEscape(name))
}

// do issues one request and decodes the JSON response into out (if non-nil).
// Any non-2xx status becomes an *APIError; there is no retry.
func (c *HTTPClient) do(ctx context.Context, method, path string, form url.Values, out any) error {
	var body io.Reader
	if form != nil {
		body = strings.NewReader(form.Encode())
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Accept", "application/json")
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	if c.creds != nil {
		c.creds.Apply(req)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &APIError{
			StatusCode: resp.StatusCode,
			Method:     method,
			Path:       path,
			Body:       strings.TrimSpace(string(data)),
		}
	}

	if out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}

	return nil
}
