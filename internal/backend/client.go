// Package backend is the HTTP client for the image-generation backend: job
// submission, the liveness check, gallery access and the model catalog.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"matrice/internal/infra"
)

// ErrNoResponse marks a submission the backend did not accept with a usable
// answer. Callers surface it as "No response from server".
var ErrNoResponse = errors.New("backend: no response from server")

// ErrUnknownCatalog is returned for a catalog kind the backend does not serve.
var ErrUnknownCatalog = errors.New("backend: unknown catalog kind")

// ErrResponseTooLarge is returned when a response body exceeds its cap.
var ErrResponseTooLarge = errors.New("backend: response too large")

const (
	maxJSONResponseBytes  = 4 << 20
	maxImageResponseBytes = 64 << 20
)

// APIError carries a non-2xx answer. Detail is the backend's `detail` field
// when one was sent.
type APIError struct {
	StatusCode int
	Detail     string
}

func (e *APIError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("backend: status %d: %s", e.StatusCode, e.Detail)
	}
	return fmt.Sprintf("backend: status %d", e.StatusCode)
}

// Is lets errors.Is(err, ErrNoResponse) hold for every rejected submission.
func (e *APIError) Is(target error) bool {
	return target == ErrNoResponse
}

// Options configures the backend client.
type Options struct {
	BaseURL    string
	HTTPClient *http.Client
	Logger     *infra.Logger
	Timeout    time.Duration
}

// Client talks to one backend instance.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *infra.Logger
}

// GenerateResponse is the body of a successful POST /generate.
type GenerateResponse struct {
	JobID string `json:"jobId"`
}

// Status is the body of GET /status.
type Status struct {
	Connected bool `json:"connected"`
}

// Samplers is the body of GET /samplers.
type Samplers struct {
	Samplers   []string `json:"samplers"`
	Schedulers []string `json:"schedulers"`
}

// CatalogKinds lists the model catalog endpoints. Each returns a JSON array
// of names.
var CatalogKinds = []string{
	"models",
	"diffusion-models",
	"loras",
	"vaes",
	"upscalers",
	"controlnets",
	"embeddings",
	"clip-models",
	"ipadapter-models",
	"clip-vision-models",
	"preprocessors",
}

// NewClient constructs a client with sane defaults and injected dependencies.
func NewClient(opts Options) (*Client, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if baseURL == "" {
		baseURL = "http://127.0.0.1:3001/api"
	}
	if u, err := url.Parse(baseURL); err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("backend: invalid base url %q", opts.BaseURL)
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	logger := opts.Logger
	if logger == nil {
		logger = infra.NopLogger()
	}
	return &Client{baseURL: baseURL, httpClient: httpClient, logger: logger}, nil
}

// BaseURL returns the configured API root.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// StreamURL derives the event stream endpoint from the base URL.
func (c *Client) StreamURL() string {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return ""
	}
	return infra.DeriveStreamURL(u)
}

// Generate submits a serialized generation request. Transport failures are
// returned wrapped; a non-2xx answer is an *APIError; an undecodable 2xx body
// is ErrNoResponse.
func (c *Client) Generate(ctx context.Context, body []byte) (GenerateResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/generate", bytes.NewReader(body))
	if err != nil {
		return GenerateResponse{}, fmt.Errorf("backend: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	raw, err := c.do(req)
	if err != nil {
		return GenerateResponse{}, err
	}
	var out GenerateResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return GenerateResponse{}, fmt.Errorf("%w: decode response: %v", ErrNoResponse, err)
	}
	c.logger.Debug().Str("job_id", out.JobID).Msg("backend: generation accepted")
	return out, nil
}

// Status reports whether the backend can reach its inference engine.
func (c *Client) Status(ctx context.Context) (Status, error) {
	var out Status
	if err := c.getJSON(ctx, "/status", &out); err != nil {
		return Status{}, err
	}
	return out, nil
}

// DeleteGalleryImage removes a generated image by filename.
func (c *Client) DeleteGalleryImage(ctx context.Context, filename string) error {
	filename = strings.TrimSpace(filename)
	if filename == "" {
		return errors.New("backend: filename is required")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.baseURL+"/gallery/"+url.PathEscape(filename), nil)
	if err != nil {
		return fmt.Errorf("backend: build request: %w", err)
	}
	_, err = c.do(req)
	return err
}

// FetchGalleryImage downloads a generated image and its content type.
func (c *Client) FetchGalleryImage(ctx context.Context, filename string) ([]byte, string, error) {
	filename = strings.TrimSpace(filename)
	if filename == "" {
		return nil, "", errors.New("backend: filename is required")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/gallery/"+url.PathEscape(filename), nil)
	if err != nil {
		return nil, "", fmt.Errorf("backend: build request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("backend: http request: %w", err)
	}
	defer resp.Body.Close()
	data, err := readLimited(resp.Body, maxImageResponseBytes)
	if err != nil {
		return nil, "", err
	}
	if resp.StatusCode >= 300 {
		return nil, "", newAPIError(resp.StatusCode, data)
	}
	format := resp.Header.Get("Content-Type")
	if format == "" {
		format = "image/png"
	}
	return data, format, nil
}

// ListModels returns one catalog list, e.g. "loras" or "vaes".
func (c *Client) ListModels(ctx context.Context, kind string) ([]string, error) {
	if !knownCatalog(kind) {
		return nil, fmt.Errorf("%w: %q", ErrUnknownCatalog, kind)
	}
	var out []string
	if err := c.getJSON(ctx, "/"+kind, &out); err != nil {
		return nil, err
	}
	if out == nil {
		out = []string{}
	}
	return out, nil
}

// Samplers returns the sampler and scheduler names.
func (c *Client) Samplers(ctx context.Context) (Samplers, error) {
	var out Samplers
	if err := c.getJSON(ctx, "/samplers", &out); err != nil {
		return Samplers{}, err
	}
	return out, nil
}

func (c *Client) getJSON(ctx context.Context, path string, dest any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("backend: build request: %w", err)
	}
	raw, err := c.do(req)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(raw, dest); err != nil {
		return fmt.Errorf("backend: decode %s: %w", path, err)
	}
	return nil
}

func (c *Client) do(req *http.Request) ([]byte, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("backend: http request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := readLimited(resp.Body, maxJSONResponseBytes)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 300 {
		apiErr := newAPIError(resp.StatusCode, raw)
		c.logger.Warn().
			Str("method", req.Method).
			Str("path", req.URL.Path).
			Int("status", resp.StatusCode).
			Str("detail", apiErr.Detail).
			Msg("backend: request rejected")
		return nil, apiErr
	}
	return raw, nil
}

// readLimited reads at most limit bytes and fails rather than truncating.
func readLimited(r io.Reader, limit int64) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return nil, fmt.Errorf("backend: read response: %w", err)
	}
	if int64(len(data)) > limit {
		return nil, fmt.Errorf("%w: over %d bytes", ErrResponseTooLarge, limit)
	}
	return data, nil
}

func newAPIError(status int, raw []byte) *APIError {
	var body struct {
		Detail json.RawMessage `json:"detail"`
	}
	apiErr := &APIError{StatusCode: status}
	if err := json.Unmarshal(raw, &body); err == nil && len(body.Detail) > 0 {
		var s string
		if err := json.Unmarshal(body.Detail, &s); err == nil {
			apiErr.Detail = s
		} else {
			// FastAPI validation errors send a list of objects.
			apiErr.Detail = string(body.Detail)
		}
	}
	return apiErr
}

// FailureMessage renders a submission error as the text shown on a failed
// job: the backend detail when it sent one, otherwise the generic message.
func FailureMessage(err error) string {
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.Detail != "" {
		return apiErr.Detail
	}
	return "No response from server"
}

func knownCatalog(kind string) bool {
	for _, k := range CatalogKinds {
		if k == kind {
			return true
		}
	}
	return false
}
