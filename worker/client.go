package worker

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
)

// DataKeyword is sent with every data upload; the server rejects uploads
// without it.
const DataKeyword = "OpenBench"

var (
	ErrConfigFetch = errors.New("config fetch failed")
	ErrNetFetch    = errors.New("network fetch failed")
)

// StatusError is returned when the server answers with an unexpected status.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d: %s", e.Code, e.Body)
}

// HTTPStatus exposes the code to retry policies outside this package.
func (e *StatusError) HTTPStatus() int { return e.Code }

// Client talks to the coordination API.
type Client struct {
	baseURL        string
	httpClient     *http.Client
	downloadClient *http.Client
}

// NewClient creates a client for the API rooted at baseURL. Regular requests
// are bounded by timeout; network downloads by downloadTimeout.
func NewClient(baseURL string, timeout, downloadTimeout time.Duration) *Client {
	return &Client{
		baseURL:        strings.TrimRight(baseURL, "/"),
		httpClient:     &http.Client{Timeout: timeout},
		downloadClient: &http.Client{Timeout: downloadTimeout},
	}
}

// FetchConfig gets the current run configuration. Fields missing from the
// response take their defaults.
func (c *Client) FetchConfig(ctx context.Context) (RunConfig, error) {
	rc := DefaultRunConfig()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/config", nil)
	if err != nil {
		return rc, fmt.Errorf("%w: failed to create request: %w", ErrConfigFetch, err)
	}
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return rc, fmt.Errorf("%w: %w", ErrConfigFetch, err)
	}
	defer resp.Body.Close()

	if err := checkStatus(resp); err != nil {
		return rc, fmt.Errorf("%w: %w", ErrConfigFetch, err)
	}
	if err := json.NewDecoder(resp.Body).Decode(&rc); err != nil {
		return DefaultRunConfig(), fmt.Errorf("%w: failed to decode response: %w", ErrConfigFetch, err)
	}
	if rc.NetFile == "" {
		rc.NetFile = NoNetwork
	}
	return rc, nil
}

// FetchNetwork streams the named network file into w.
func (c *Client) FetchNetwork(ctx context.Context, name string, w io.Writer) error {
	u := c.baseURL + "/net/" + url.PathEscape(name)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("%w: failed to create request: %w", ErrNetFetch, err)
	}
	resp, err := c.downloadClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrNetFetch, err)
	}
	defer resp.Body.Close()

	if err := checkStatus(resp); err != nil {
		return fmt.Errorf("%w: %w", ErrNetFetch, err)
	}
	if _, err := io.Copy(w, resp.Body); err != nil {
		return fmt.Errorf("%w: failed to read body: %w", ErrNetFetch, err)
	}
	return nil
}

// SendHeartbeat announces this worker as alive.
func (c *Client) SendHeartbeat(ctx context.Context, workerID string, hb Heartbeat) error {
	return c.postJSON(ctx, "/heartbeat/"+url.PathEscape(workerID), hb)
}

// SendReport posts generation progress.
func (c *Client) SendReport(ctx context.Context, workerID string, r Report) error {
	return c.postJSON(ctx, "/report/"+url.PathEscape(workerID), r)
}

// UploadData posts a compressed game file.
func (c *Client) UploadData(ctx context.Context, body io.Reader, size int64) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/data", body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.ContentLength = size
	httpReq.Header.Set("Content-Type", "application/octet-stream")
	httpReq.Header.Set("X-Keyword", DataKeyword)

	resp, err := c.downloadClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()
	return checkStatus(resp)
}

func (c *Client) postJSON(ctx context.Context, path string, v any) error {
	reqBody, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(reqBody))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()
	return checkStatus(resp)
}

func checkStatus(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	return &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(body))}
}
