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

// RadarrClient talks to a Radarr v3 server and implements
// rules.DownloadManager for movies.
type RadarrClient struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

// NewRadarrClient creates a client for the Radarr server at baseURL.
func NewRadarrClient(baseURL, apiKey string) *RadarrClient {
	return &RadarrClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		http:    &http.Client{Timeout: 30 * time.Second},
	}
}

type radarrMovie struct {
	ID        int64  `json:"id"`
	Title     string `json:"title"`
	TitleSlug string `json:"titleSlug"`
}

// TestConnection verifies the server is reachable with the configured key.
func (c *RadarrClient) TestConnection(ctx context.Context) error {
	if err := c.request(ctx, http.MethodGet, "/api/v3/system/status", nil, &struct{}{}); err != nil {
		return fmt.Errorf("radarr connection test failed: %w", err)
	}
	return nil
}

// FindByTitle looks a movie up by exact title or slug, then by substring.
// Returns nil with no error when nothing matches.
func (c *RadarrClient) FindByTitle(ctx context.Context, title string) (*rules.DownloadRef, error) {
	var movies []radarrMovie
	if err := c.request(ctx, http.MethodGet, "/api/v3/movie", nil, &movies); err != nil {
		return nil, fmt.Errorf("failed to list radarr movies: %w", err)
	}

	for _, m := range movies {
		if m.Title == title || m.TitleSlug == title {
			return &rules.DownloadRef{ID: m.ID, Title: m.Title}, nil
		}
	}
	lowered := strings.ToLower(title)
	for _, m := range movies {
		if strings.Contains(strings.ToLower(m.Title), lowered) {
			return &rules.DownloadRef{ID: m.ID, Title: m.Title}, nil
		}
	}
	return nil, nil
}

// DeleteWithFiles removes the movie and its files.
func (c *RadarrClient) DeleteWithFiles(ctx context.Context, id int64) (string, error) {
	q := url.Values{"deleteFiles": {"true"}}
	path := fmt.Sprintf("/api/v3/movie/%d", id)
	if err := c.request(ctx, http.MethodDelete, path, q, nil); err != nil {
		return "", fmt.Errorf("failed to delete radarr movie %d: %w", id, err)
	}
	return "Movie deleted via Radarr", nil
}

func (c *RadarrClient) request(ctx context.Context, method, path string, query url.Values, out any) error {
	headers := map[string]string{"X-Api-Key": c.apiKey}
	return requestJSON(ctx, c.http, method, c.baseURL+path, query, headers, out)
}
