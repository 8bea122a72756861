package handlers

import (
	"context"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"

	"dharani-backend/internal/models"
	"dharani-backend/internal/services"
	"dharani-backend/internal/validation"
	"dharani-backend/pkg/utils"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

const maxUploadBytes = 32 << 20

// RequestAPI is the request service surface. *services.RequestService
// satisfies it.
type RequestAPI interface {
	Create(ctx context.Context, caller services.Caller, in services.CreateRequestInput) (*models.ServiceRequest, error)
	List(ctx context.Context, caller services.Caller, status string) ([]models.ServiceRequest, error)
	Get(ctx context.Context, caller services.Caller, id string) (*models.ServiceRequestResponse, error)
	Timeline(ctx context.Context, caller services.Caller, id string) ([]models.TimelineEntryResponse, error)
	Stats(ctx context.Context, caller services.Caller, city string) (*models.RequestStats, error)
}

// LifecycleAPI covers the worker-driven transitions. *lifecycle.Driver
// satisfies it.
type LifecycleAPI interface {
	Accept(ctx context.Context, requestID string, worker *models.User) error
	Start(ctx context.Context, requestID string, worker *models.User) error
	Complete(ctx context.Context, requestID string, worker *models.User, c models.Completion) (*models.EnvironmentalImpact, error)
}

// CreateServiceRequest accepts a multipart report and returns as soon as it
// is stored. Analysis, matching and assignment continue in the background.
func CreateServiceRequest(users UserStore, requests RequestAPI, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, ok := currentUser(w, r, users, logger)
		if !ok {
			return
		}

		r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
		if err := r.ParseMultipartForm(maxUploadBytes); err != nil && !errors.Is(err, http.ErrNotMultipart) {
			utils.RespondError(w, http.StatusBadRequest, "Invalid multipart form")
			return
		}

		lat, errLat := strconv.ParseFloat(strings.TrimSpace(r.FormValue("latitude")), 64)
		lng, errLng := strconv.ParseFloat(strings.TrimSpace(r.FormValue("longitude")), 64)
		if errLat != nil || errLng != nil {
			utils.RespondError(w, http.StatusBadRequest, "latitude and longitude must be numbers")
			return
		}

		in := services.CreateRequestInput{
			Description: r.FormValue("description"),
			Latitude:    lat,
			Longitude:   lng,
			Address:     r.FormValue("address"),
			Images:      formImages(r.MultipartForm),
		}

		req, err := requests.Create(r.Context(), callerOf(user), in)
		if err != nil {
			respondServiceError(w, logger, "create request", err)
			return
		}

		utils.RespondJSON(w, http.StatusAccepted, map[string]interface{}{
			"success":    true,
			"request_id": req.RequestID,
			"status":     req.Status,
			"images":     req.Images,
			"message":    "Request received, processing has started",
		})
	}
}

func formImages(form *multipart.Form) []services.ImageUpload {
	if form == nil {
		return nil
	}
	var out []services.ImageUpload
	for _, key := range []string{"images", "images[]"} {
		for _, fh := range form.File[key] {
			out = append(out, services.ImageUpload{
				Filename:    fh.Filename,
				ContentType: fh.Header.Get("Content-Type"),
				Open:        func() (io.ReadCloser, error) { return fh.Open() },
			})
		}
	}
	return out
}

// ListServiceRequests returns the caller's requests, optionally by ?status=.
func ListServiceRequests(users UserStore, requests RequestAPI, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, ok := currentUser(w, r, users, logger)
		if !ok {
			return
		}
		list, err := requests.List(r.Context(), callerOf(user), r.URL.Query().Get("status"))
		if err != nil {
			respondServiceError(w, logger, "list requests", err)
			return
		}
		if list == nil {
			list = []models.ServiceRequest{}
		}
		utils.RespondJSON(w, http.StatusOK, map[string]interface{}{
			"success":  true,
			"requests": list,
			"count":    len(list),
		})
	}
}

// GetRequestStats summarises the caller's requests. Government callers may
// narrow it with ?city=.
func GetRequestStats(users UserStore, requests RequestAPI, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, ok := currentUser(w, r, users, logger)
		if !ok {
			return
		}
		stats, err := requests.Stats(r.Context(), callerOf(user), r.URL.Query().Get("city"))
		if err != nil {
			respondServiceError(w, logger, "request stats", err)
			return
		}
		utils.RespondJSON(w, http.StatusOK, map[string]interface{}{
			"success": true,
			"stats":   stats,
		})
	}
}

func GetServiceRequest(users UserStore, requests RequestAPI, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, ok := currentUser(w, r, users, logger)
		if !ok {
			return
		}
		resp, err := requests.Get(r.Context(), callerOf(user), chi.URLParam(r, "id"))
		if err != nil {
			respondServiceError(w, logger, "get request", err)
			return
		}
		utils.RespondJSON(w, http.StatusOK, resp)
	}
}

func GetRequestTimeline(users UserStore, requests RequestAPI, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, ok := currentUser(w, r, users, logger)
		if !ok {
			return
		}
		id := chi.URLParam(r, "id")
		timeline, err := requests.Timeline(r.Context(), callerOf(user), id)
		if err != nil {
			respondServiceError(w, logger, "get timeline", err)
			return
		}
		utils.RespondJSON(w, http.StatusOK, map[string]interface{}{
			"request_id": id,
			"timeline":   timeline,
		})
	}
}

func AcceptRequest(users UserStore, lc LifecycleAPI, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		worker, ok := currentUser(w, r, users, logger)
		if !ok {
			return
		}
		id := chi.URLParam(r, "id")
		if err := lc.Accept(r.Context(), id, worker); err != nil {
			respondServiceError(w, logger, "accept request", err)
			return
		}
		utils.RespondJSON(w, http.StatusOK, map[string]interface{}{
			"success":    true,
			"request_id": id,
			"status":     models.StatusAssigned,
		})
	}
}

func StartRequest(users UserStore, lc LifecycleAPI, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		worker, ok := currentUser(w, r, users, logger)
		if !ok {
			return
		}
		id := chi.URLParam(r, "id")
		if err := lc.Start(r.Context(), id, worker); err != nil {
			respondServiceError(w, logger, "start request", err)
			return
		}
		utils.RespondJSON(w, http.StatusOK, map[string]interface{}{
			"success":    true,
			"request_id": id,
			"status":     models.StatusInProgress,
		})
	}
}

// CompleteRequest records the worker's completion report and returns the
// computed environmental impact.
func CompleteRequest(users UserStore, lc LifecycleAPI, v *validation.Validator, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		worker, ok := currentUser(w, r, users, logger)
		if !ok {
			return
		}
		raw, ok := readBody(w, r)
		if !ok {
			return
		}
		var completion models.Completion
		if err := v.Decode(validation.Completion, raw, &completion); err != nil {
			respondServiceError(w, logger, "complete request", err)
			return
		}

		id := chi.URLParam(r, "id")
		impact, err := lc.Complete(r.Context(), id, worker, completion)
		if err != nil {
			respondServiceError(w, logger, "complete request", err)
			return
		}
		utils.RespondJSON(w, http.StatusOK, map[string]interface{}{
			"success":              true,
			"request_id":           id,
			"status":               models.StatusCompleted,
			"environmental_impact": impact,
		})
	}
}
