package functions

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

const DefaultDestinationURL = "https://en.wikipedia.org/api/rest_v1"

// DestinationInfo summarizes a destination.
type DestinationInfo struct {
	Title   string `json:"title"`
	Summary string `json:"summary"`
	URL     string `json:"url,omitempty"`
}

// DestinationClient retrieves destination summaries from the Wikipedia REST API.
type DestinationClient struct {
	baseURL    string
	httpClient *http.Client
}

// NewDestinationClient creates a client. An empty baseURL selects the public endpoint.
func NewDestinationClient(baseURL string, httpClient *http.Client) *DestinationClient {
	if baseURL == "" {
		baseURL = DefaultDestinationURL
	}
	return &DestinationClient{baseURL: strings.TrimRight(baseURL, "/"), httpClient: httpClient}
}

// Lookup fetches the summary page for destination.
func (c *DestinationClient) Lookup(ctx context.Context, destination string) (*DestinationInfo, error) {
	title := strings.ReplaceAll(strings.TrimSpace(destination), " ", "_")
	if title == "" {
		return nil, fmt.Errorf("destination is required")
	}

	var decoded struct {
		Title       string `json:"title"`
		Extract     string `json:"extract"`
		ContentURLs struct {
			Desktop struct {
				Page string `json:"page"`
			} `json:"desktop"`
		} `json:"content_urls"`
	}
	if err := getJSON(ctx, c.httpClient, c.baseURL+"/page/summary/"+url.PathEscape(title), &decoded); err != nil {
		return nil, fmt.Errorf("destination %q: %w", destination, err)
	}
	if decoded.Extract == "" {
		return nil, fmt.Errorf("destination %q: no summary available", destination)
	}
	return &DestinationInfo{
		Title:   decoded.Title,
		Summary: decoded.Extract,
		URL:     decoded.ContentURLs.Desktop.Page,
	}, nil
}

type destinationArgs struct {
	Destination string `json:"destination" jsonschema:"description=City or country to describe"`
}

func (c *DestinationClient) handle(ctx context.Context, _ *State, args destinationArgs) (map[string]any, error) {
	info, err := c.Lookup(ctx, args.Destination)
	if err != nil {
		return nil, err
	}
	return map[string]any{"destination": info}, nil
}
