package main

import (
	"net/http"

	"dharani-backend/internal/handlers"
	"dharani-backend/internal/metrics"
	"dharani-backend/internal/middleware"
	"dharani-backend/internal/models"
	"dharani-backend/internal/validation"
	"dharani-backend/internal/websocket"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"
)

type routerDeps struct {
	db             handlers.Pinger
	users          handlers.UserStore
	locations      handlers.WorkerLocationStore
	requests       handlers.RequestAPI
	lifecycle      handlers.LifecycleAPI
	bins           handlers.BinAPI
	history        handlers.CollectionLister
	addresses      handlers.AddressResolver // nil when geocoding is not configured
	validator      *validation.Validator
	auth           *middleware.Authenticator
	hub            *websocket.Hub
	allowedOrigins []string
	logger         *zap.Logger
}

func newRouter(d routerDeps) http.Handler {
	r := chi.NewRouter()

	// Middleware
	r.Use(chimiddleware.Logger)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   d.allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Get("/health", handlers.Health(d.db))
	r.Handle("/metrics", metrics.Handler())

	r.Post("/api/auth/login", handlers.Login(d.users, d.auth, d.logger))

	// WebSocket endpoint (token passed as a query parameter)
	r.Get("/ws", websocket.HandleWebSocket(d.hub, d.auth, d.allowedOrigins))

	r.Route("/api", func(r chi.Router) {
		r.Use(d.auth.Auth)

		r.Get("/auth/status", handlers.GetAuthStatus(d.users, d.logger))
		r.Post("/fcm-token", handlers.RegisterFCMToken(d.users, d.logger))

		r.Post("/geocoding/reverse", handlers.ReverseGeocode(d.addresses, d.logger))
		r.Post("/geocoding/forward", handlers.Geocode(d.addresses, d.logger))

		r.Get("/requests", handlers.ListServiceRequests(d.users, d.requests, d.logger))
		r.Get("/requests/stats", handlers.GetRequestStats(d.users, d.requests, d.logger))
		r.Get("/requests/{id}", handlers.GetServiceRequest(d.users, d.requests, d.logger))
		r.Get("/requests/{id}/timeline", handlers.GetRequestTimeline(d.users, d.requests, d.logger))

		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireRole(models.RoleCitizen))
			r.Post("/requests", handlers.CreateServiceRequest(d.users, d.requests, d.logger))
		})
		r.With(middleware.RequireRole(models.RoleCitizen, models.RoleWorker)).
			Post("/bins/{id}/fill-report", handlers.ReportFillLevel(d.bins, d.validator, d.logger))

		r.Route("/worker", func(r chi.Router) {
			r.Use(middleware.RequireRole(models.RoleWorker))
			r.Post("/location", handlers.UpdateWorkerLocation(d.locations, d.validator, d.logger))
			r.Get("/bins", handlers.GetWorkerBins(d.users, d.bins, d.logger))
			r.Get("/bins/priority", handlers.GetPriorityBins(d.users, d.bins, d.logger))
			r.Get("/bins/map", handlers.GetBinMap(d.users, d.bins, d.logger))
			r.Get("/bins/route", handlers.GetCollectionRoute(d.users, d.bins, d.logger))
			r.Post("/bins/{id}/collect", handlers.CollectBin(d.bins, d.validator, d.logger))
			r.Get("/bins/{id}/collections", handlers.GetBinCollections(d.history, d.logger))

			r.Post("/requests/{id}/accept", handlers.AcceptRequest(d.users, d.lifecycle, d.logger))
			r.Post("/requests/{id}/start", handlers.StartRequest(d.users, d.lifecycle, d.logger))
			r.Post("/requests/{id}/complete", handlers.CompleteRequest(d.users, d.lifecycle, d.validator, d.logger))
		})

		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireRole(models.RoleGovernment))
			r.Post("/users", handlers.CreateUser(d.users, d.validator, d.addresses, d.logger))
		})
	})

	return r
}
