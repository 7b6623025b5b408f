package functions

import (
	"net/http"

	"github.com/redis/go-redis/v9"
)

// Tool names
const (
	ToolSearchPlaces       = "search_places"
	ToolGetWeather         = "get_weather"
	ToolGetDestinationInfo = "get_destination_info"
	ToolUpdateItinerary    = "update_itinerary"
)

// Collaborators are the external services behind the travel tools.
type Collaborators struct {
	Places       *PlacesClient
	Weather      *WeatherClient
	Destinations *DestinationClient
}

// Endpoints overrides collaborator base URLs. Empty fields use public endpoints.
type Endpoints struct {
	Places      string
	Geocode     string
	Forecast    string
	Destination string
}

// NewCollaborators builds the default collaborators around one HTTP client
// and a geocode cache backed by rdb when it is non-nil.
func NewCollaborators(httpClient *http.Client, rdb *redis.Client, ep Endpoints) Collaborators {
	if httpClient == nil {
		httpClient = NewHTTPClient(DefaultTimeout)
	}
	geocoder := NewGeocoder(ep.Geocode, httpClient, NewCache(rdb))
	return Collaborators{
		Places:       NewPlacesClient(ep.Places, httpClient),
		Weather:      NewWeatherClient(geocoder, ep.Forecast, httpClient),
		Destinations: NewDestinationClient(ep.Destination, httpClient),
	}
}

// NewTravelDispatcher registers the trip-planning catalog in a stable order.
func NewTravelDispatcher(c Collaborators) *Dispatcher {
	d := NewDispatcher()
	Register(d, ToolSearchPlaces,
		"Search points of interest such as sights, restaurants or hotels in a location.",
		c.Places.handle, FetchesData())
	Register(d, ToolGetWeather,
		"Get the daily weather forecast for a location.",
		c.Weather.handle, FetchesData())
	Register(d, ToolGetDestinationInfo,
		"Get a short encyclopedic overview of a destination.",
		c.Destinations.handle, FetchesData())
	Register(d, ToolUpdateItinerary, itineraryDescription, updateItinerary)
	return d
}
