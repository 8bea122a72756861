package services

import (
	"math"

	"dharani-backend/internal/geo"
	"dharani-backend/internal/models"

	"go.uber.org/zap"
)

// RouteStop is one bin on a collection route.
type RouteStop struct {
	Order      int                    `json:"order"`
	Bin        models.BinWithPriority `json:"bin"`
	LegKm      float64                `json:"leg_km"`
	Cumulative float64                `json:"cumulative_km"`
}

// CollectionRoute is an ordered visit plan starting at the worker's position.
type CollectionRoute struct {
	Start           geo.Point   `json:"start"`
	Stops           []RouteStop `json:"stops"`
	TotalDistanceKm float64     `json:"total_distance_km"`
	TotalEarnings   int         `json:"total_earnings"`
}

// RouteOptimizer orders bins using nearest neighbour TSP
type RouteOptimizer struct {
	logger *zap.Logger
}

func NewRouteOptimizer(logger *zap.Logger) *RouteOptimizer {
	return &RouteOptimizer{logger: logger}
}

// OptimizeRoute minimizes travel by always selecting the closest remaining bin.
func (ro *RouteOptimizer) OptimizeRoute(bins []models.BinWithPriority, start geo.Point) CollectionRoute {
	route := CollectionRoute{Start: start, Stops: make([]RouteStop, 0, len(bins))}
	if len(bins) == 0 {
		return route
	}

	ro.logger.Debug("🎯 [ROUTE] Starting route optimization",
		zap.Float64("lat", start.Latitude), zap.Float64("lng", start.Longitude),
		zap.Int("bins", len(bins)))

	remaining := make([]models.BinWithPriority, len(bins))
	copy(remaining, bins)

	current := start
	total := 0.0
	for len(remaining) > 0 {
		bestIdx := 0
		bestDistance := math.MaxFloat64

		for i, b := range remaining {
			d := geo.MustDistance(current, geo.Point{Latitude: b.Latitude, Longitude: b.Longitude})
			if d < bestDistance {
				bestDistance = d
				bestIdx = i
			}
		}

		best := remaining[bestIdx]
		total += bestDistance
		route.Stops = append(route.Stops, RouteStop{
			Order:      len(route.Stops) + 1,
			Bin:        best,
			LegKm:      round2(bestDistance),
			Cumulative: round2(total),
		})
		route.TotalEarnings += best.EstimatedEarnings

		current = geo.Point{Latitude: best.Latitude, Longitude: best.Longitude}
		remaining = append(remaining[:bestIdx], remaining[bestIdx+1:]...)
	}
	route.TotalDistanceKm = round2(total)

	ro.logger.Info("✅ [ROUTE] Route optimization complete",
		zap.Int("stops", len(route.Stops)),
		zap.Float64("total_km", route.TotalDistanceKm))
	return route
}
