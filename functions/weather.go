package functions

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/bytedance/sonic"
)

const (
	DefaultGeocodeURL  = "https://geocoding-api.open-meteo.com/v1"
	DefaultForecastURL = "https://api.open-meteo.com/v1"

	maxForecastDays = 16
)

// Place is a geocoded location.
type Place struct {
	Name      string  `json:"name"`
	Country   string  `json:"country,omitempty"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// Geocoder resolves place names through Open-Meteo, memoizing results in a
// Cache shared by all connections.
type Geocoder struct {
	baseURL    string
	httpClient *http.Client
	cache      Cache
}

// NewGeocoder creates a geocoder. An empty baseURL selects the public endpoint.
func NewGeocoder(baseURL string, httpClient *http.Client, cache Cache) *Geocoder {
	if baseURL == "" {
		baseURL = DefaultGeocodeURL
	}
	if cache == nil {
		cache = NewMemoryCache()
	}
	return &Geocoder{baseURL: strings.TrimRight(baseURL, "/"), httpClient: httpClient, cache: cache}
}

// Lookup resolves name to its best match.
func (g *Geocoder) Lookup(ctx context.Context, name string) (*Place, error) {
	key := strings.ToLower(strings.TrimSpace(name))
	if key == "" {
		return nil, fmt.Errorf("location is required")
	}
	if cached, ok := g.cache.Get(ctx, key); ok {
		var p Place
		if err := sonic.ConfigStd.UnmarshalFromString(cached, &p); err == nil {
			return &p, nil
		}
	}

	var decoded struct {
		Results []Place `json:"results"`
	}
	u := fmt.Sprintf("%s/search?name=%s&count=1&format=json", g.baseURL, url.QueryEscape(name))
	if err := getJSON(ctx, g.httpClient, u, &decoded); err != nil {
		return nil, fmt.Errorf("geocode %q: %w", name, err)
	}
	if len(decoded.Results) == 0 {
		return nil, fmt.Errorf("geocode %q: no match", name)
	}
	place := decoded.Results[0]
	if encoded, err := sonic.ConfigStd.MarshalToString(place); err == nil {
		g.cache.Set(ctx, key, encoded)
	}
	return &place, nil
}

// DailyForecast is one day of weather.
type DailyForecast struct {
	Date                string  `json:"date"`
	MaxTempC            float64 `json:"max_temp_c"`
	MinTempC            float64 `json:"min_temp_c"`
	PrecipitationChance float64 `json:"precipitation_chance"`
}

// WeatherClient fetches daily forecasts.
type WeatherClient struct {
	geocoder   *Geocoder
	baseURL    string
	httpClient *http.Client
}

// NewWeatherClient creates a forecast client. An empty baseURL selects the public endpoint.
func NewWeatherClient(geocoder *Geocoder, baseURL string, httpClient *http.Client) *WeatherClient {
	if baseURL == "" {
		baseURL = DefaultForecastURL
	}
	return &WeatherClient{geocoder: geocoder, baseURL: strings.TrimRight(baseURL, "/"), httpClient: httpClient}
}

// Forecast returns up to days of daily forecasts for location.
func (w *WeatherClient) Forecast(ctx context.Context, location string, days int) (*Place, []DailyForecast, error) {
	if days <= 0 {
		days = 3
	}
	if days > maxForecastDays {
		days = maxForecastDays
	}
	place, err := w.geocoder.Lookup(ctx, location)
	if err != nil {
		return nil, nil, err
	}

	q := url.Values{}
	q.Set("latitude", fmt.Sprintf("%.4f", place.Latitude))
	q.Set("longitude", fmt.Sprintf("%.4f", place.Longitude))
	q.Set("daily", "temperature_2m_max,temperature_2m_min,precipitation_probability_max")
	q.Set("forecast_days", fmt.Sprint(days))
	q.Set("timezone", "auto")

	var decoded struct {
		Daily struct {
			Time   []string  `json:"time"`
			Max    []float64 `json:"temperature_2m_max"`
			Min    []float64 `json:"temperature_2m_min"`
			Precip []float64 `json:"precipitation_probability_max"`
		} `json:"daily"`
	}
	if err := getJSON(ctx, w.httpClient, w.baseURL+"/forecast?"+q.Encode(), &decoded); err != nil {
		return nil, nil, fmt.Errorf("forecast for %s: %w", place.Name, err)
	}

	daily := decoded.Daily
	out := make([]DailyForecast, 0, len(daily.Time))
	for i, date := range daily.Time {
		f := DailyForecast{Date: date}
		if i < len(daily.Max) {
			f.MaxTempC = daily.Max[i]
		}
		if i < len(daily.Min) {
			f.MinTempC = daily.Min[i]
		}
		if i < len(daily.Precip) {
			f.PrecipitationChance = daily.Precip[i]
		}
		out = append(out, f)
	}
	return place, out, nil
}

type weatherArgs struct {
	Location string `json:"location" jsonschema:"description=City or region name"`
	Days     int    `json:"days,omitempty" jsonschema:"description=Number of forecast days between 1 and 16 (default 3)"`
}

func (w *WeatherClient) handle(ctx context.Context, _ *State, args weatherArgs) (map[string]any, error) {
	place, forecast, err := w.Forecast(ctx, args.Location, args.Days)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"location": place,
		"forecast": forecast,
	}, nil
}
