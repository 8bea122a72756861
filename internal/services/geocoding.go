package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"slices"
	"time"
)

const googleGeocodeURL = "https://maps.googleapis.com/maps/api/geocode/json"

// GeocodingService handles geocoding and reverse geocoding using Google Maps API
type GeocodingService struct {
	apiKey  string
	baseURL string
	client  *http.Client
}

// Coordinates represents latitude and longitude
type Coordinates struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Address is a resolved place, split into the parts requests and users store
type Address struct {
	FormattedAddress string      `json:"formatted_address"`
	Area             string      `json:"area,omitempty"`
	City             string      `json:"city,omitempty"`
	Pincode          string      `json:"pincode,omitempty"`
	Coordinates      Coordinates `json:"coordinates"`
}

type addressComponent struct {
	LongName string   `json:"long_name"`
	Types    []string `json:"types"`
}

// GoogleGeocodeResponse represents the Google Maps Geocoding API response
type GoogleGeocodeResponse struct {
	Results []struct {
		FormattedAddress  string             `json:"formatted_address"`
		AddressComponents []addressComponent `json:"address_components"`
		Geometry          struct {
			Location Coordinates `json:"location"`
		} `json:"geometry"`
	} `json:"results"`
	Status string `json:"status"`
}

func NewGeocodingService(apiKey string) (*GeocodingService, error) {
	if apiKey == "" {
		return nil, errors.New("GOOGLE_MAPS_API_KEY is required")
	}
	return &GeocodingService{
		apiKey:  apiKey,
		baseURL: googleGeocodeURL,
		client:  &http.Client{Timeout: 5 * time.Second},
	}, nil
}

// ReverseGeocode converts coordinates to an address
func (s *GeocodingService) ReverseGeocode(ctx context.Context, lat, lng float64) (*Address, error) {
	params := url.Values{}
	params.Add("latlng", fmt.Sprintf("%f,%f", lat, lng))

	addr, err := s.lookup(ctx, params)
	if err != nil {
		return nil, err
	}
	addr.Coordinates = Coordinates{Lat: lat, Lng: lng}
	return addr, nil
}

// Geocode converts an address string to coordinates
func (s *GeocodingService) Geocode(ctx context.Context, address string) (*Address, error) {
	params := url.Values{}
	params.Add("address", address)

	addr, err := s.lookup(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", address, err)
	}
	return addr, nil
}

func (s *GeocodingService) lookup(ctx context.Context, params url.Values) (*Address, error) {
	params.Add("key", s.apiKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+"?"+params.Encode(), nil)
	if err != nil {
		return nil, err
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to make request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("API returned status code %d", resp.StatusCode)
	}

	var result GoogleGeocodeResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	if result.Status != "OK" {
		return nil, fmt.Errorf("geocoding API returned status: %s", result.Status)
	}
	if len(result.Results) == 0 {
		return nil, errors.New("no results found")
	}

	first := result.Results[0]
	addr := &Address{
		FormattedAddress: first.FormattedAddress,
		Coordinates:      first.Geometry.Location,
	}
	for _, c := range first.AddressComponents {
		switch {
		case slices.Contains(c.Types, "postal_code"):
			addr.Pincode = c.LongName
		case slices.Contains(c.Types, "locality"):
			addr.City = c.LongName
		case addr.Area == "" && (slices.Contains(c.Types, "sublocality") || slices.Contains(c.Types, "neighborhood")):
			addr.Area = c.LongName
		}
	}
	return addr, nil
}
