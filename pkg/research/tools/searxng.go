package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/mikeboe/sales-research/pkg/research"
)

// searxngResponse is the subset of the SearXNG JSON API we read.
type searxngResponse struct {
	Query   string          `json:"query"`
	Results []searxngResult `json:"results"`
}

type searxngResult struct {
	URL     string `json:"url"`
	Title   string `json:"title"`
	Content string `json:"content"`
}

// SearxngSearch is a research.SearchProvider backed by a SearXNG instance.
type SearxngSearch struct {
	BaseURL    string
	MaxResults int
	Client     *http.Client
	Logger     *slog.Logger
}

// NewSearxngSearch creates a provider whose requests time out after timeout.
func NewSearxngSearch(baseURL string, maxResults int, timeout time.Duration) *SearxngSearch {
	if maxResults <= 0 {
		maxResults = 8
	}
	return &SearxngSearch{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		MaxResults: maxResults,
		Client:     &http.Client{Timeout: timeout},
		Logger:     slog.Default(),
	}
}

// Search queries SearXNG and returns up to MaxResults hits with plain-text snippets.
func (s *SearxngSearch) Search(ctx context.Context, query string) ([]research.SearchHit, error) {
	params := url.Values{}
	params.Add("q", query)
	params.Add("format", "json")
	apiURL := s.BaseURL + "/search?" + params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, apiURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := s.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to make API request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		s.Logger.Error("Search API returned non-200 status code", "status", resp.StatusCode)
		return nil, fmt.Errorf("API returned non-200 status code: %d, body: %s", resp.StatusCode, truncate(string(body), 200))
	}

	var parsed searxngResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("failed to unmarshal search response: %w", err)
	}

	hits := make([]research.SearchHit, 0, len(parsed.Results))
	for _, r := range parsed.Results {
		if len(hits) >= s.MaxResults {
			break
		}
		snippet := StripHTML(r.Content)
		if snippet == "" {
			snippet = StripHTML(r.Title)
		}
		if snippet == "" && r.URL == "" {
			continue
		}
		hits = append(hits, research.SearchHit{Snippet: snippet, URL: r.URL})
	}

	s.Logger.Info("Search response received", "query", query, "results", len(parsed.Results), "kept", len(hits))
	return hits, nil
}

func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
