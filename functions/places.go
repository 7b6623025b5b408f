package functions

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

const (
	DefaultPlacesURL = "https://nominatim.openstreetmap.org"

	defaultPlacesLimit = 5
	maxPlacesLimit     = 10
)

// PointOfInterest is a search hit.
type PointOfInterest struct {
	Name      string  `json:"name"`
	Address   string  `json:"address"`
	Category  string  `json:"category,omitempty"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// PlacesClient searches points of interest on OpenStreetMap Nominatim.
type PlacesClient struct {
	baseURL    string
	httpClient *http.Client
}

// NewPlacesClient creates a search client. An empty baseURL selects the public endpoint.
func NewPlacesClient(baseURL string, httpClient *http.Client) *PlacesClient {
	if baseURL == "" {
		baseURL = DefaultPlacesURL
	}
	return &PlacesClient{baseURL: strings.TrimRight(baseURL, "/"), httpClient: httpClient}
}

// Search finds up to limit points of interest matching query near location.
func (c *PlacesClient) Search(ctx context.Context, query, location string, limit int) ([]PointOfInterest, error) {
	if limit <= 0 {
		limit = defaultPlacesLimit
	}
	if limit > maxPlacesLimit {
		limit = maxPlacesLimit
	}
	q := strings.TrimSpace(query)
	if location = strings.TrimSpace(location); location != "" {
		q += " in " + location
	}

	params := url.Values{}
	params.Set("q", q)
	params.Set("format", "jsonv2")
	params.Set("limit", strconv.Itoa(limit))

	var decoded []struct {
		Name        string `json:"name"`
		DisplayName string `json:"display_name"`
		Category    string `json:"category"`
		Type        string `json:"type"`
		Lat         string `json:"lat"`
		Lon         string `json:"lon"`
	}
	if err := getJSON(ctx, c.httpClient, c.baseURL+"/search?"+params.Encode(), &decoded); err != nil {
		return nil, fmt.Errorf("search places %q: %w", q, err)
	}

	out := make([]PointOfInterest, 0, len(decoded))
	for _, d := range decoded {
		lat, _ := strconv.ParseFloat(d.Lat, 64)
		lon, _ := strconv.ParseFloat(d.Lon, 64)
		name := d.Name
		if name == "" {
			name, _, _ = strings.Cut(d.DisplayName, ",")
		}
		category := d.Type
		if d.Category != "" && d.Type != "" {
			category = d.Category + "/" + d.Type
		}
		out = append(out, PointOfInterest{
			Name:      name,
			Address:   d.DisplayName,
			Category:  category,
			Latitude:  lat,
			Longitude: lon,
		})
	}
	return out, nil
}

type placesArgs struct {
	Query    string `json:"query" jsonschema:"description=What to look for such as museums or vegan restaurants"`
	Location string `json:"location" jsonschema:"description=City or neighbourhood to search in"`
	Limit    int    `json:"limit,omitempty" jsonschema:"description=Maximum number of results (default 5)"`
}

func (c *PlacesClient) handle(ctx context.Context, _ *State, args placesArgs) (map[string]any, error) {
	places, err := c.Search(ctx, args.Query, args.Location, args.Limit)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"query":   args.Query,
		"results": places,
	}, nil
}
