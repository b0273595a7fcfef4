// Package geocode resolves free-text addresses to coordinates.
package geocode

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
)

// Coords is a resolved latitude/longitude pair.
type Coords struct {
	Lat float64
	Lng float64
}

// Provider is the lookup boundary the enricher depends on.
type Provider interface {
	Geocode(ctx context.Context, address string) (Coords, error)
}

// GoogleProvider calls the Google geocoding JSON API.
type GoogleProvider struct {
	endpoint string
	apiKey   string
	client   *http.Client
}

func NewGoogleProvider(endpoint, apiKey string, client *http.Client) *GoogleProvider {
	if client == nil {
		client = http.DefaultClient
	}
	return &GoogleProvider{
		endpoint: endpoint,
		apiKey:   apiKey,
		client:   client,
	}
}

type googleResponse struct {
	Status  string `json:"status"`
	Results []struct {
		Geometry struct {
			Location struct {
				Lat float64 `json:"lat"`
				Lng float64 `json:"lng"`
			} `json:"location"`
		} `json:"geometry"`
	} `json:"results"`
}

func (g *GoogleProvider) Geocode(ctx context.Context, address string) (Coords, error) {
	q := url.Values{}
	q.Set("address", address)
	q.Set("sensor", "false")
	if g.apiKey != "" {
		q.Set("key", g.apiKey)
	}

	req, err := http.NewRequestWithContext(ctx, "GET", g.endpoint+"?"+q.Encode(), nil)
	if err != nil {
		return Coords{}, err
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return Coords{}, fmt.Errorf("geocode: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Coords{}, fmt.Errorf("geocode status: %d", resp.StatusCode)
	}

	var result googleResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return Coords{}, fmt.Errorf("geocode decode: %w", err)
	}

	if len(result.Results) == 0 {
		return Coords{}, fmt.Errorf("geocode: no results for %q (status %s)", address, result.Status)
	}

	loc := result.Results[0].Geometry.Location
	return Coords{Lat: loc.Lat, Lng: loc.Lng}, nil
}
