package media

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/curatarr/curatarr/rules"
)

// SonarrClient talks to a Sonarr v3 server and implements
// rules.DownloadManager for series.
type SonarrClient struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

// NewSonarrClient creates a client for the Sonarr server at baseURL.
func NewSonarrClient(baseURL, apiKey string) *SonarrClient {
	return &SonarrClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		http:    &http.Client{Timeout: 30 * time.Second},
	}
}

type sonarrSeries struct {
	ID        int64  `json:"id"`
	Title     string `json:"title"`
	TitleSlug string `json:"titleSlug"`
}

// TestConnection verifies the server is reachable with the configured key.
func (c *SonarrClient) TestConnection(ctx context.Context) error {
	if err := c.request(ctx, http.MethodGet, "/api/v3/system/status", nil, &struct{}{}); err != nil {
		return fmt.Errorf("sonarr connection test failed: %w", err)
	}
	return nil
}

// FindByTitle looks a series up by exact title or slug, then by substring.
// Returns nil with no error when nothing matches.
func (c *SonarrClient) FindByTitle(ctx context.Context, title string) (*rules.DownloadRef, error) {
	series, err := c.listSeries(ctx)
	if err != nil {
		return nil, err
	}

	for _, s := range series {
		if s.Title == title || s.TitleSlug == title {
			return &rules.DownloadRef{ID: s.ID, Title: s.Title}, nil
		}
	}
	lowered := strings.ToLower(title)
	for _, s := range series {
		if strings.Contains(strings.ToLower(s.Title), lowered) {
			return &rules.DownloadRef{ID: s.ID, Title: s.Title}, nil
		}
	}
	return nil, nil
}

// DeleteWithFiles removes the series and its files.
func (c *SonarrClient) DeleteWithFiles(ctx context.Context, id int64) (string, error) {
	q := url.Values{"deleteFiles": {"true"}}
	path := fmt.Sprintf("/api/v3/series/%d", id)
	if err := c.request(ctx, http.MethodDelete, path, q, nil); err != nil {
		return "", fmt.Errorf("failed to delete sonarr series %d: %w", id, err)
	}
	return "Series deleted via Sonarr", nil
}

func (c *SonarrClient) listSeries(ctx context.Context) ([]sonarrSeries, error) {
	var series []sonarrSeries
	if err := c.request(ctx, http.MethodGet, "/api/v3/series", nil, &series); err != nil {
		return nil, fmt.Errorf("failed to list sonarr series: %w", err)
	}
	return series, nil
}

func (c *SonarrClient) request(ctx context.Context, method, path string, query url.Values, out any) error {
	headers := map[string]string{"X-Api-Key": c.apiKey}
	return requestJSON(ctx, c.http, method, c.baseURL+path, query, headers, out)
}
