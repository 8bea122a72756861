package services

import (
	"sort"
	"time"

	"dharani-backend/internal/models"

	"github.com/shopspring/decimal"
)

// Heat buckets shown on the worker map.
const (
	HeatRed    = "red"
	HeatOrange = "orange"
	HeatGreen  = "green"
)

// Urgency tiers derived from the priority score.
const (
	UrgencyCritical = "critical"
	UrgencyHigh     = "high"
	UrgencyMedium   = "medium"
	UrgencyLow      = "low"
)

const (
	baseEarnings        = 150
	staleAfterHours     = 48.0
	needsCollectionFill = 75
)

// round2 rounds to two decimal places without float drift (12.345 -> 12.35).
func round2(v float64) float64 {
	return decimal.NewFromFloat(v).Round(2).InexactFloat64()
}

func round1(v float64) float64 {
	return decimal.NewFromFloat(v).Round(1).InexactFloat64()
}

// hoursSince returns the hours elapsed since the bin's last collection, or nil.
func hoursSince(bin *models.Bin, now time.Time) *float64 {
	if bin.LastCollectedAt == nil {
		return nil
	}
	h := now.Sub(time.Unix(*bin.LastCollectedAt, 0)).Hours()
	if h < 0 {
		h = 0
	}
	return &h
}

// PriorityScore computes the 0-100 priority score as the sum of four
// independently capped components:
//
//  1. Fill level: (fill / 100) * 40
//  2. Staleness: min(30, hours / 24 * 10), flat 30 when never collected
//  3. Status: overflowing 20, needs_collection 15, active 5, maintenance 0
//  4. History: min(10, avg_daily_waste_kg / 5)
func PriorityScore(bin *models.Bin, now time.Time) float64 {
	fill := float64(clampFill(bin.FillLevel))
	score := fill / 100 * 40

	if h := hoursSince(bin, now); h != nil {
		score += min(30.0, *h/24*10)
	} else {
		score += 30
	}

	score += statusUrgency(bin.Status)

	if bin.AvgDailyWasteKg > 0 {
		score += min(10.0, bin.AvgDailyWasteKg/5)
	}

	return round2(score)
}

func statusUrgency(status string) float64 {
	switch status {
	case models.BinStatusOverflowing:
		return 20
	case models.BinStatusNeedsCollection:
		return 15
	case models.BinStatusActive:
		return 5
	default:
		return 0
	}
}

// EstimatedEarnings returns the payout a worker can expect for collecting bin.
func EstimatedEarnings(bin *models.Bin) int {
	earnings := float64(baseEarnings)

	if fill := clampFill(bin.FillLevel); fill > 50 {
		earnings += float64(fill-50) * 2
	}

	switch bin.BinType {
	case models.BinTypeCommercial:
		earnings += 50
	case models.BinTypeMedical:
		earnings += 100
	case models.BinTypeOffice:
		earnings += 30
	}

	switch bin.Status {
	case models.BinStatusOverflowing:
		earnings += 100
	case models.BinStatusNeedsCollection:
		earnings += 50
	}

	return int(decimal.NewFromFloat(earnings).Round(0).IntPart())
}

// NeedsCollection reports whether bin qualifies for the priority queue.
func NeedsCollection(bin *models.Bin, now time.Time) bool {
	if bin.FillLevel >= needsCollectionFill {
		return true
	}
	if bin.Status == models.BinStatusNeedsCollection || bin.Status == models.BinStatusOverflowing {
		return true
	}
	if h := hoursSince(bin, now); h != nil && *h > staleAfterHours {
		return true
	}
	return false
}

// EffectiveStatus derives the status shown to clients from fill level and
// elapsed time. Maintenance is the only state set by hand and it sticks.
func EffectiveStatus(bin *models.Bin, now time.Time) string {
	if bin.Status == models.BinStatusUnderMaintenance {
		return models.BinStatusUnderMaintenance
	}
	switch {
	case bin.FillLevel > 90:
		return models.BinStatusOverflowing
	case bin.FillLevel > 75:
		return models.BinStatusNeedsCollection
	}
	if h := hoursSince(bin, now); h != nil && *h > staleAfterHours && bin.FillLevel >= 50 {
		return models.BinStatusNeedsCollection
	}
	return models.BinStatusActive
}

// HeatLevel buckets a bin for the map view.
func HeatLevel(bin *models.Bin, now time.Time) string {
	if bin.Status == models.BinStatusOverflowing || bin.Status == models.BinStatusUnderMaintenance {
		return HeatRed
	}
	if h := hoursSince(bin, now); h != nil {
		switch {
		case bin.FillLevel > 80 || *h > 48:
			return HeatRed
		case bin.FillLevel > 60 || *h > 24:
			return HeatOrange
		}
		return HeatGreen
	}
	switch {
	case bin.FillLevel > 75:
		return HeatRed
	case bin.FillLevel > 50:
		return HeatOrange
	}
	return HeatGreen
}

// UrgencyForScore maps a priority score onto a tier.
func UrgencyForScore(score float64) string {
	switch {
	case score >= 70:
		return UrgencyCritical
	case score >= 50:
		return UrgencyHigh
	case score >= 30:
		return UrgencyMedium
	}
	return UrgencyLow
}

// Prioritize computes every derived field for bin. The stored status is
// replaced by the derived one before scoring.
func Prioritize(bin models.Bin, now time.Time) models.BinWithPriority {
	derived := bin
	derived.Status = EffectiveStatus(&bin, now)

	score := PriorityScore(&derived, now)
	out := models.BinWithPriority{
		Bin:               bin,
		EffectiveStatus:   derived.Status,
		PriorityScore:     score,
		EstimatedEarnings: EstimatedEarnings(&derived),
		HeatLevel:         HeatLevel(&derived, now),
		Urgency:           UrgencyForScore(score),
	}
	if h := hoursSince(&bin, now); h != nil {
		rounded := round1(*h)
		out.HoursSinceCollect = &rounded
		iso := time.Unix(*bin.LastCollectedAt, 0).UTC().Format(time.RFC3339)
		out.LastCollectedIso = &iso
	}
	return out
}

// RankForCollection keeps the bins that need collection and orders them by
// descending priority. Ties keep their input order.
func RankForCollection(bins []models.Bin, now time.Time) []models.BinWithPriority {
	ranked := make([]models.BinWithPriority, 0, len(bins))
	for i := range bins {
		p := Prioritize(bins[i], now)
		derived := p.Bin
		derived.Status = p.EffectiveStatus
		if !NeedsCollection(&bins[i], now) && !NeedsCollection(&derived, now) {
			continue
		}
		ranked = append(ranked, p)
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].PriorityScore > ranked[j].PriorityScore
	})
	return ranked
}

func clampFill(fill int) int {
	return max(0, min(100, fill))
}
