package models

import (
	"database/sql/driver"
	"time"

	"github.com/lib/pq"
)

// RequestStatus is a service request's position in the lifecycle.
type RequestStatus string

const (
	StatusSubmitted  RequestStatus = "submitted"
	StatusAnalyzing  RequestStatus = "analyzing"
	StatusMatching   RequestStatus = "matching"
	StatusAssigned   RequestStatus = "assigned"
	StatusInProgress RequestStatus = "in_progress"
	StatusCompleted  RequestStatus = "completed"
	StatusError      RequestStatus = "error"
)

// Rank orders statuses along the lifecycle. Error is terminal and outranks everything.
func (s RequestStatus) Rank() int {
	switch s {
	case StatusSubmitted:
		return 1
	case StatusAnalyzing:
		return 2
	case StatusMatching:
		return 3
	case StatusAssigned:
		return 4
	case StatusInProgress:
		return 5
	case StatusCompleted:
		return 6
	case StatusError:
		return 99
	}
	return 0
}

func (s RequestStatus) Valid() bool { return s.Rank() > 0 }

// CanAdvanceTo reports whether moving from s to next keeps the status non-decreasing.
func (s RequestStatus) CanAdvanceTo(next RequestStatus) bool {
	if !next.Valid() || s == StatusError {
		return s == next
	}
	return next.Rank() >= s.Rank()
}

// Priority tiers reported by image analysis.
const (
	PriorityLow    = "low"
	PriorityMedium = "medium"
	PriorityHigh   = "high"
)

// Source markers distinguish collaborator results from local substitutes.
const (
	SourceAI       = "ai"
	SourceStub     = "stub"
	SourceFallback = "fallback"
)

// Location is a request's reported position.
type Location struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Address   string  `json:"address,omitempty"`
	Area      string  `json:"area,omitempty"`
	City      string  `json:"city,omitempty"`
}

// WasteAnalysis is the result of the vision collaborator (or its fallback).
type WasteAnalysis struct {
	WasteType        string   `json:"waste_type"`
	Confidence       float64  `json:"confidence"`
	QuantityEstimate string   `json:"quantity_estimate"`
	Recyclable       bool     `json:"recyclable"`
	Priority         string   `json:"priority"`
	SuggestedTools   []string `json:"suggested_tools,omitempty"`
	Summary          string   `json:"summary,omitempty"`
	Source           string   `json:"source"`
	Error            string   `json:"error,omitempty"`
}

func (a WasteAnalysis) Value() (driver.Value, error) { return jsonValue(a) }
func (a *WasteAnalysis) Scan(src interface{}) error  { return jsonScan(src, a) }

// Assignment records who was matched to a request and how far away they were.
type Assignment struct {
	WorkerID   string  `json:"worker_id"`
	WorkerName string  `json:"worker_name"`
	DistanceKm float64 `json:"distance_km"`
	EtaMinutes int     `json:"eta_minutes"`
	Method     string  `json:"method"` // "auto" or "accepted"
	AssignedAt int64   `json:"assigned_at"`
	Candidates int     `json:"candidates"`
}

func (a Assignment) Value() (driver.Value, error) { return jsonValue(a) }
func (a *Assignment) Scan(src interface{}) error  { return jsonScan(src, a) }

// Completion is the payload a worker submits when finishing a request.
type Completion struct {
	WasteCollectedKg float64  `json:"waste_collected_kg"`
	WasteType        string   `json:"waste_type"`
	Recycled         bool     `json:"recycled"`
	RecyclingValue   float64  `json:"recycling_value"`
	Notes            string   `json:"notes,omitempty"`
	PhotoURLs        []string `json:"photo_urls,omitempty"`
}

func (c Completion) Value() (driver.Value, error) { return jsonValue(c) }
func (c *Completion) Scan(src interface{}) error  { return jsonScan(src, c) }

// EnvironmentalImpact summarises what a completed request saved.
type EnvironmentalImpact struct {
	WasteCollectedKg   float64 `json:"waste_collected_kg"`
	CO2SavedKg         float64 `json:"co2_saved_kg"`
	TreesEquivalent    float64 `json:"trees_equivalent"`
	WaterSavedLiters   float64 `json:"water_saved_liters"`
	RecyclingValue     float64 `json:"recycling_value"`
	EnvironmentalScore float64 `json:"environmental_score"`
}

func (e EnvironmentalImpact) Value() (driver.Value, error) { return jsonValue(e) }
func (e *EnvironmentalImpact) Scan(src interface{}) error  { return jsonScan(src, e) }

// ServiceRequest is a citizen's report moving through the lifecycle.
type ServiceRequest struct {
	RequestID           string               `json:"request_id" db:"request_id"`
	UserID              string               `json:"user_id" db:"user_id"`
	UserRole            string               `json:"user_role" db:"user_role"`
	Description         string               `json:"description" db:"description"`
	Images              pq.StringArray       `json:"images" db:"images"`
	Latitude            float64              `json:"latitude" db:"latitude"`
	Longitude           float64              `json:"longitude" db:"longitude"`
	Address             string               `json:"address" db:"address"`
	Area                string               `json:"area" db:"area"`
	City                string               `json:"city" db:"city"`
	WasteCategory       *string              `json:"waste_category,omitempty" db:"waste_category"`
	Priority            string               `json:"priority" db:"priority"`
	Status              RequestStatus        `json:"status" db:"status"`
	StatusRank          int                  `json:"-" db:"status_rank"`
	AssignedWorkerID    *string              `json:"assigned_worker_id,omitempty" db:"assigned_worker_id"`
	Analysis            *WasteAnalysis       `json:"waste_analysis,omitempty" db:"analysis"`
	Assignment          *Assignment          `json:"assignment,omitempty" db:"assignment"`
	Completion          *Completion          `json:"completion,omitempty" db:"completion"`
	EnvironmentalImpact *EnvironmentalImpact `json:"environmental_impact,omitempty" db:"environmental_impact"`
	CreatedAt           int64                `json:"created_at" db:"created_at"`
	UpdatedAt           int64                `json:"updated_at" db:"updated_at"`
	CompletedAt         *int64               `json:"completed_at,omitempty" db:"completed_at"`
}

// Location returns the request's reported position.
func (r *ServiceRequest) Location() Location {
	return Location{
		Latitude:  r.Latitude,
		Longitude: r.Longitude,
		Address:   r.Address,
		Area:      r.Area,
		City:      r.City,
	}
}

// ServiceRequestResponse is a request plus the caller's view of its timeline.
type ServiceRequestResponse struct {
	ServiceRequest
	CreatedAtIso string                  `json:"created_at_iso"`
	Timeline     []TimelineEntryResponse `json:"timeline"`
}

// ToResponse attaches a (role-filtered) timeline to the request.
func (r *ServiceRequest) ToResponse(timeline []TimelineEntry) ServiceRequestResponse {
	resp := ServiceRequestResponse{
		ServiceRequest: *r,
		CreatedAtIso:   time.Unix(r.CreatedAt, 0).UTC().Format(time.RFC3339),
		Timeline:       make([]TimelineEntryResponse, 0, len(timeline)),
	}
	for i := range timeline {
		resp.Timeline = append(resp.Timeline, timeline[i].ToResponse())
	}
	return resp
}
