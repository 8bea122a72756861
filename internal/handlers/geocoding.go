package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"dharani-backend/internal/geo"
	"dharani-backend/internal/metrics"
	"dharani-backend/internal/models"
	"dharani-backend/internal/services"
	"dharani-backend/pkg/utils"

	"go.uber.org/zap"
)

// AddressResolver converts between coordinates and addresses.
// *services.GeocodingService satisfies it.
type AddressResolver interface {
	Geocoder
	ReverseGeocode(ctx context.Context, lat, lng float64) (*services.Address, error)
}

type ReverseGeocodeRequest struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

type GeocodeRequest struct {
	Address string `json:"address"`
}

// AddressResponse marks whether the address came from the geocoder or is a
// coordinates-only fallback.
type AddressResponse struct {
	services.Address
	Source string `json:"source"`
}

// ReverseGeocode handles POST /api/geocoding/reverse. The app uses it to
// pre-fill a report's address; a geocoder failure still returns 200 with the
// coordinates so the form stays usable.
func ReverseGeocode(resolver AddressResolver, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req ReverseGeocodeRequest
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxJSONBody)).Decode(&req); err != nil {
			utils.RespondError(w, http.StatusBadRequest, "Invalid request body")
			return
		}
		if err := (geo.Point{Latitude: req.Lat, Longitude: req.Lng}).Validate(); err != nil {
			utils.RespondError(w, http.StatusBadRequest, err.Error())
			return
		}

		fallback := AddressResponse{
			Address: services.Address{Coordinates: services.Coordinates{Lat: req.Lat, Lng: req.Lng}},
			Source:  models.SourceFallback,
		}
		if resolver == nil {
			utils.RespondJSON(w, http.StatusOK, fallback)
			return
		}

		address, err := resolver.ReverseGeocode(r.Context(), req.Lat, req.Lng)
		if err != nil {
			metrics.FallbacksTotal.WithLabelValues("address").Inc()
			logger.Warn("⚠️  [GEOCODING] Reverse geocoding failed", zap.Float64("lat", req.Lat), zap.Float64("lng", req.Lng), zap.Error(err))
			utils.RespondJSON(w, http.StatusOK, fallback)
			return
		}
		utils.RespondJSON(w, http.StatusOK, AddressResponse{Address: *address, Source: "geocoder"})
	}
}

// Geocode handles POST /api/geocoding/forward.
func Geocode(resolver AddressResolver, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req GeocodeRequest
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxJSONBody)).Decode(&req); err != nil {
			utils.RespondError(w, http.StatusBadRequest, "Invalid request body")
			return
		}
		if strings.TrimSpace(req.Address) == "" {
			utils.RespondError(w, http.StatusBadRequest, "Address is required")
			return
		}
		if resolver == nil {
			utils.RespondError(w, http.StatusServiceUnavailable, "Geocoding is not configured")
			return
		}

		address, err := resolver.Geocode(r.Context(), req.Address)
		if err != nil {
			logger.Warn("⚠️  [GEOCODING] Geocoding failed", zap.String("address", req.Address), zap.Error(err))
			utils.RespondError(w, http.StatusServiceUnavailable, "Could not geocode address, please try again")
			return
		}
		utils.RespondJSON(w, http.StatusOK, AddressResponse{Address: *address, Source: "geocoder"})
	}
}
