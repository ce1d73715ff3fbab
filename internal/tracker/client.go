package tracker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/marketops/mpimport/internal/domain"
)

// ErrSessionNotFound marks a 404 from the progress endpoint. The server
// no longer knows the session, so the stored reference is stale.
var ErrSessionNotFound = errors.New("import session not found")

// Client talks to the import server.
type Client interface {
	StartImport(ctx context.Context, req domain.ImportRequest) (domain.ImportResponse, error)
	FetchProgress(ctx context.Context, sessionID string) (domain.ImportProgress, error)
}

// HTTPClient is the REST Client implementation.
type HTTPClient struct {
	baseURL string
	http    *http.Client
}

// NewHTTPClient creates a client for the given server base URL, such as
// "http://localhost:8080".
func NewHTTPClient(baseURL string) *HTTPClient {
	return &HTTPClient{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		http:    &http.Client{Timeout: 30 * time.Second},
	}
}

func (c *HTTPClient) StartImport(ctx context.Context, req domain.ImportRequest) (domain.ImportResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return domain.ImportResponse{}, fmt.Errorf("encode request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/import/start", bytes.NewReader(body))
	if err != nil {
		return domain.ImportResponse{}, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return domain.ImportResponse{}, fmt.Errorf("start import: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusAccepted && resp.StatusCode != http.StatusOK {
		return domain.ImportResponse{}, fmt.Errorf("start import: %s: %s", resp.Status, readErrorBody(resp.Body))
	}
	var out domain.ImportResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return domain.ImportResponse{}, fmt.Errorf("decode response: %w", err)
	}
	return out, nil
}

func (c *HTTPClient) FetchProgress(ctx context.Context, sessionID string) (domain.ImportProgress, error) {
	url := fmt.Sprintf("%s/api/import/%s/progress", c.baseURL, sessionID)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return domain.ImportProgress{}, err
	}
	resp, err := c.http.Do(httpReq)
	if err != nil {
		return domain.ImportProgress{}, fmt.Errorf("fetch progress: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return domain.ImportProgress{}, ErrSessionNotFound
	}
	if resp.StatusCode != http.StatusOK {
		return domain.ImportProgress{}, fmt.Errorf("fetch progress: %s: %s", resp.Status, readErrorBody(resp.Body))
	}
	var out domain.ImportProgress
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return domain.ImportProgress{}, fmt.Errorf("decode progress: %w", err)
	}
	return out, nil
}

func readErrorBody(r io.Reader) string {
	raw, err := io.ReadAll(io.LimitReader(r, 1024))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(raw))
}
