package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"time"
)

const customSearchBaseURL = "https://www.googleapis.com/customsearch/v1"

// SearchClient resolves a query to a ranked set of candidate URLs.
type SearchClient interface {
	// Search returns up to num results as a url -> title map, in no
	// particular order: web_search fans out to all of them concurrently.
	Search(ctx context.Context, query string, num int) (map[string]string, error)
}

// CustomSearchClient calls the Google Programmable Search (Custom Search
// JSON API), restricted to English research-flavored results the same way
// the original query biases results with orTerms.
type CustomSearchClient struct {
	http            *http.Client
	apiKey          string
	searchEngineID  string
}

// NewCustomSearchClient reads its credentials from the environment
// variables named by apiKeyEnv/searchEngineIDEnv.
func NewCustomSearchClient(apiKeyEnv, searchEngineIDEnv string) *CustomSearchClient {
	return &CustomSearchClient{
		http:           &http.Client{Timeout: 20 * time.Second},
		apiKey:         os.Getenv(apiKeyEnv),
		searchEngineID: os.Getenv(searchEngineIDEnv),
	}
}

type customSearchResponse struct {
	Items []struct {
		Link  string `json:"link"`
		Title string `json:"title"`
	} `json:"items"`
}

func (c *CustomSearchClient) Search(ctx context.Context, query string, num int) (map[string]string, error) {
	if c.apiKey == "" {
		return nil, fmt.Errorf("tools: missing Custom Search API key")
	}
	if c.searchEngineID == "" {
		return nil, fmt.Errorf("tools: missing Custom Search engine ID")
	}

	q := url.Values{}
	q.Set("key", c.apiKey)
	q.Set("cx", c.searchEngineID)
	q.Set("lr", "lang_en")
	q.Set("num", fmt.Sprintf("%d", num))
	q.Set("q", query)
	q.Set("c2coff", "1")
	q.Set("orTerms", "Research Paper|Article|Research Article|Research|Latest|News")
	q.Set("hl", "en")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, customSearchBaseURL+"?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("tools: build search request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("tools: search request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("tools: search request returned status %d", resp.StatusCode)
	}

	var decoded customSearchResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("tools: decode search response: %w", err)
	}

	urls := make(map[string]string, len(decoded.Items))
	for _, item := range decoded.Items {
		if item.Link == "" || item.Title == "" {
			continue
		}
		urls[item.Link] = item.Title
	}
	return urls, nil
}
