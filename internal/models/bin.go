package models

import (
	"time"

	"github.com/lib/pq"
)

// Bin statuses. StatusActive is the "normal" state of the scoring tables.
const (
	BinStatusActive           = "active"
	BinStatusNeedsCollection  = "needs_collection"
	BinStatusOverflowing      = "overflowing"
	BinStatusUnderMaintenance = "under_maintenance"
)

// Bin types, derived from the landmark a bin was placed at.
const (
	BinTypeCommercial  = "commercial"
	BinTypeMedical     = "medical"
	BinTypeOffice      = "office"
	BinTypeResidential = "residential"
)

// Bin is a collection point. Priority, earnings and heat are derived on read.
type Bin struct {
	ID                    string         `json:"id" db:"id"`
	Area                  string         `json:"area" db:"area"`
	City                  string         `json:"city" db:"city"`
	Pincode               string         `json:"pincode" db:"pincode"`
	Landmark              string         `json:"landmark" db:"landmark"`
	Address               string         `json:"address" db:"address"`
	Latitude              float64        `json:"latitude" db:"latitude"`
	Longitude             float64        `json:"longitude" db:"longitude"`
	BinType               string         `json:"bin_type" db:"bin_type"`
	CapacityLiters        int            `json:"capacity_liters" db:"capacity_liters"`
	FillLevel             int            `json:"fill_level" db:"fill_level"`
	Status                string         `json:"status" db:"status"`
	LastCollectedAt       *int64         `json:"last_collected_at,omitempty" db:"last_collected_at"` // Unix timestamp
	AssignedWorkerID      *string        `json:"assigned_worker_id,omitempty" db:"assigned_worker_id"`
	WasteTypes            pq.StringArray `json:"waste_types" db:"waste_types"`
	CollectionFrequency   string         `json:"collection_frequency" db:"collection_frequency"`
	PeakHours             pq.StringArray `json:"peak_hours" db:"peak_hours"`
	AvgDailyWasteKg       float64        `json:"avg_daily_waste_kg" db:"avg_daily_waste_kg"`
	TotalCollections      int            `json:"total_collections" db:"total_collections"`
	TotalWasteCollectedKg float64        `json:"total_waste_collected_kg" db:"total_waste_collected_kg"`
	CreatedAt             int64          `json:"created_at" db:"created_at"`
	UpdatedAt             int64          `json:"updated_at" db:"updated_at"`
}

// BinCollection is one entry of a bin's collection history.
type BinCollection struct {
	ID               string  `json:"id" db:"id"`
	BinID            string  `json:"bin_id" db:"bin_id"`
	WorkerID         string  `json:"worker_id" db:"worker_id"`
	WasteCollectedKg float64 `json:"waste_collected_kg" db:"waste_collected_kg"`
	DurationMinutes  int     `json:"duration_minutes" db:"duration_minutes"`
	CollectedAt      int64   `json:"collected_at" db:"collected_at"`
}

// BinWithPriority is what workers see: the stored bin plus every derived field.
type BinWithPriority struct {
	Bin
	EffectiveStatus   string   `json:"effective_status"`
	PriorityScore     float64  `json:"priority_score"`
	EstimatedEarnings int      `json:"estimated_earnings"`
	HeatLevel         string   `json:"heat_level"`
	Urgency           string   `json:"urgency"`
	HoursSinceCollect *float64 `json:"hours_since_collection,omitempty"`
	LastCollectedIso  *string  `json:"last_collected_iso,omitempty"`
	DistanceKm        *float64 `json:"distance_km,omitempty"`
}

// LastCollectedTime returns the last collection as a time, or nil if never collected.
func (b *Bin) LastCollectedTime() *time.Time {
	if b.LastCollectedAt == nil {
		return nil
	}
	t := time.Unix(*b.LastCollectedAt, 0)
	return &t
}

// CollectBinRequest is the request body for POST /api/worker/bins/{id}/collect
type CollectBinRequest struct {
	ExpectedFillLevel *int    `json:"expected_fill_level,omitempty"`
	WasteCollectedKg  float64 `json:"waste_collected_kg"`
	DurationMinutes   int     `json:"duration_minutes"`
}

// FillReportRequest is the request body for POST /api/bins/{id}/fill-report
type FillReportRequest struct {
	FillLevel int `json:"fill_level"`
}
