package cloud

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"

	"github.com/snapbooth/photobooth-agent/internal/logging"
)

const maxErrorBody = 4096

// APIError is a non-2xx answer from the session API.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("session api: HTTP %d: %s", e.StatusCode, e.Body)
}

// IsRetryable returns true for server errors (5xx). Client errors (4xx) are
// considered permanent.
func (e *APIError) IsRetryable() bool {
	return e.StatusCode >= 500
}

// HTTPClient talks to the remote session API.
type HTTPClient struct {
	baseURL    string
	token      string
	boothID    string
	deviceType string
	httpClient *http.Client
	logger     *slog.Logger
}

func NewHTTPClient(baseURL, token, boothID, deviceType string, timeout time.Duration, logger *slog.Logger) *HTTPClient {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &HTTPClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		boothID:    boothID,
		deviceType: deviceType,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logging.WithComponent(logging.OrDiscard(logger), "cloud"),
	}
}

func (c *HTTPClient) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	req.Header.Set("X-Request-Id", uuid.NewString())
	if c.boothID != "" {
		req.Header.Set("X-Booth-Id", c.boothID)
	}
	return req, nil
}

// do sends req and decodes a JSON answer into out when out is non-nil.
func (c *HTTPClient) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("http request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &APIError{StatusCode: resp.StatusCode, Body: string(body)}
	}
	if out == nil {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", req.URL.Path, err)
	}
	return nil
}

func (c *HTTPClient) CreateSession(ctx context.Context) (string, error) {
	body, err := json.Marshal(createSessionRequest{BoothID: c.boothID, DeviceType: c.deviceType})
	if err != nil {
		return "", fmt.Errorf("marshal session request: %w", err)
	}
	req, err := c.newRequest(ctx, http.MethodPost, "/api/sessions", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	var created struct {
		ID string `json:"id"`
	}
	if err := c.do(req, &created); err != nil {
		return "", err
	}
	if created.ID == "" {
		return "", fmt.Errorf("create session: empty id in response")
	}
	c.logger.Info("remote session created", "session_id", created.ID)
	return created.ID, nil
}

// UploadMedia posts one artifact as multipart form data with the file in
// field "file" and its tag in field "type".
func (c *HTTPClient) UploadMedia(ctx context.Context, sessionID string, mediaType MediaType, filename string, data io.Reader) (*Media, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if err := mw.WriteField("type", string(mediaType)); err != nil {
		return nil, fmt.Errorf("write type field: %w", err)
	}
	part, err := mw.CreateFormFile("file", filename)
	if err != nil {
		return nil, fmt.Errorf("create file part: %w", err)
	}
	size, err := io.Copy(part, data)
	if err != nil {
		return nil, fmt.Errorf("copy %s: %w", filename, err)
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("close multipart: %w", err)
	}

	req, err := c.newRequest(ctx, http.MethodPost, "/api/sessions/"+url.PathEscape(sessionID)+"/media", &buf)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	start := time.Now()
	var media Media
	if err := c.do(req, &media); err != nil {
		return nil, err
	}
	c.logger.Info("media uploaded",
		"session_id", sessionID,
		"type", mediaType,
		"size", humanize.Bytes(uint64(size)),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return &media, nil
}

func (c *HTTPClient) CompleteSession(ctx context.Context, sessionID string) error {
	req, err := c.newRequest(ctx, http.MethodPost, "/api/sessions/"+url.PathEscape(sessionID)+"/complete", nil)
	if err != nil {
		return err
	}
	return c.do(req, nil)
}

func (c *HTTPClient) GetSession(ctx context.Context, sessionID string) (*Session, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/api/sessions/"+url.PathEscape(sessionID), nil)
	if err != nil {
		return nil, err
	}
	var s Session
	if err := c.do(req, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

func (c *HTTPClient) ListSessions(ctx context.Context, page, limit int) (*SessionPage, error) {
	q := url.Values{}
	q.Set("page", strconv.Itoa(max(page, 1)))
	q.Set("limit", strconv.Itoa(max(limit, 1)))
	req, err := c.newRequest(ctx, http.MethodGet, "/api/sessions?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
	var p SessionPage
	if err := c.do(req, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

func (c *HTTPClient) Stats(ctx context.Context) (*Stats, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/api/stats", nil)
	if err != nil {
		return nil, err
	}
	var s Stats
	if err := c.do(req, &s); err != nil {
		return nil, err
	}
	return &s, nil
}
