package handlers

import (
	"bytes"
	"context"
	"net/http"

	"dharani-backend/internal/models"
	"dharani-backend/internal/services"
	"dharani-backend/internal/validation"
	"dharani-backend/pkg/utils"

	"github.com/go-chi/chi/v5"
	geojson "github.com/paulmach/go.geojson"
	"go.uber.org/zap"
)

// BinAPI is the bin service surface. *services.BinService satisfies it.
type BinAPI interface {
	AreaBins(ctx context.Context, worker *models.User) ([]models.BinWithPriority, error)
	PriorityBins(ctx context.Context, worker *models.User) ([]models.BinWithPriority, error)
	Route(ctx context.Context, worker *models.User) (services.CollectionRoute, error)
	ReportFill(ctx context.Context, binID string, fill int) (*models.BinWithPriority, error)
	Collect(ctx context.Context, binID, workerID string, req models.CollectBinRequest) (*models.BinWithPriority, error)
}

// GetWorkerBins returns every bin in the worker's area, generating the area
// on first use.
func GetWorkerBins(users UserStore, bins BinAPI, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		worker, ok := currentUser(w, r, users, logger)
		if !ok {
			return
		}
		list, err := bins.AreaBins(r.Context(), worker)
		if err != nil {
			respondServiceError(w, logger, "area bins", err)
			return
		}
		utils.RespondJSON(w, http.StatusOK, map[string]interface{}{
			"area":  worker.Area,
			"city":  worker.City,
			"bins":  list,
			"count": len(list),
		})
	}
}

// GetPriorityBins returns the bins needing collection, highest priority first.
func GetPriorityBins(users UserStore, bins BinAPI, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		worker, ok := currentUser(w, r, users, logger)
		if !ok {
			return
		}
		list, err := bins.PriorityBins(r.Context(), worker)
		if err != nil {
			respondServiceError(w, logger, "priority bins", err)
			return
		}
		total := 0
		for _, b := range list {
			total += b.EstimatedEarnings
		}
		utils.RespondJSON(w, http.StatusOK, map[string]interface{}{
			"bins":                     list,
			"count":                    len(list),
			"total_estimated_earnings": total,
		})
	}
}

// GetBinMap renders the worker's area as a GeoJSON FeatureCollection.
func GetBinMap(users UserStore, bins BinAPI, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		worker, ok := currentUser(w, r, users, logger)
		if !ok {
			return
		}
		list, err := bins.AreaBins(r.Context(), worker)
		if err != nil {
			respondServiceError(w, logger, "bin map", err)
			return
		}
		fc := BinFeatureCollection(list)
		raw, err := fc.MarshalJSON()
		if err != nil {
			respondServiceError(w, logger, "bin map", err)
			return
		}
		w.Header().Set("Content-Type", "application/geo+json")
		w.WriteHeader(http.StatusOK)
		w.Write(raw)
	}
}

// BinFeatureCollection converts bins to point features. GeoJSON positions
// are [longitude, latitude].
func BinFeatureCollection(list []models.BinWithPriority) *geojson.FeatureCollection {
	fc := geojson.NewFeatureCollection()
	for _, b := range list {
		f := geojson.NewPointFeature([]float64{b.Longitude, b.Latitude})
		f.ID = b.ID
		f.SetProperty("landmark", b.Landmark)
		f.SetProperty("bin_type", b.BinType)
		f.SetProperty("fill_level", b.FillLevel)
		f.SetProperty("status", b.EffectiveStatus)
		f.SetProperty("priority_score", b.PriorityScore)
		f.SetProperty("estimated_earnings", b.EstimatedEarnings)
		f.SetProperty("heat_level", b.HeatLevel)
		f.SetProperty("urgency", b.Urgency)
		fc.AddFeature(f)
	}
	return fc
}

func GetCollectionRoute(users UserStore, bins BinAPI, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		worker, ok := currentUser(w, r, users, logger)
		if !ok {
			return
		}
		route, err := bins.Route(r.Context(), worker)
		if err != nil {
			respondServiceError(w, logger, "collection route", err)
			return
		}
		utils.RespondJSON(w, http.StatusOK, route)
	}
}

// ReportFillLevel records a citizen's observation of a bin's fill level.
func ReportFillLevel(bins BinAPI, v *validation.Validator, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		raw, ok := readBody(w, r)
		if !ok {
			return
		}
		var req models.FillReportRequest
		if err := v.Decode(validation.FillReport, raw, &req); err != nil {
			respondServiceError(w, logger, "fill report", err)
			return
		}
		bin, err := bins.ReportFill(r.Context(), chi.URLParam(r, "id"), req.FillLevel)
		if err != nil {
			respondServiceError(w, logger, "fill report", err)
			return
		}
		utils.RespondJSON(w, http.StatusOK, map[string]interface{}{
			"success": true,
			"bin":     bin,
		})
	}
}

// CollectBin marks a bin emptied. A stale expected_fill_level yields 409.
func CollectBin(bins BinAPI, v *validation.Validator, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, ok := claimsOf(w, r)
		if !ok {
			return
		}
		raw, ok := readBody(w, r)
		if !ok {
			return
		}
		if len(bytes.TrimSpace(raw)) == 0 {
			raw = []byte("{}")
		}
		var req models.CollectBinRequest
		if err := v.Decode(validation.CollectBin, raw, &req); err != nil {
			respondServiceError(w, logger, "collect bin", err)
			return
		}
		bin, err := bins.Collect(r.Context(), chi.URLParam(r, "id"), claims.UserID, req)
		if err != nil {
			respondServiceError(w, logger, "collect bin", err)
			return
		}
		utils.RespondJSON(w, http.StatusOK, map[string]interface{}{
			"success": true,
			"bin":     bin,
		})
	}
}

// CollectionLister reads a bin's collection history. *database.Store
// satisfies it.
type CollectionLister interface {
	ListCollections(ctx context.Context, binID string) ([]models.BinCollection, error)
}

// GetBinCollections returns a bin's collection history, newest first.
func GetBinCollections(history CollectionLister, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		list, err := history.ListCollections(r.Context(), id)
		if err != nil {
			respondServiceError(w, logger, "bin collections", err)
			return
		}
		if list == nil {
			list = []models.BinCollection{}
		}
		utils.RespondJSON(w, http.StatusOK, map[string]interface{}{
			"bin_id":      id,
			"collections": list,
		})
	}
}
