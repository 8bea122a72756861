package lifecycle

import (
	"strings"

	"dharani-backend/internal/models"

	"github.com/shopspring/decimal"
)

type impactFactor struct {
	co2PerKg   float64
	treesPerKg float64
}

var impactFactors = map[string]impactFactor{
	"plastic": {2.5, 0.1},
	"organic": {1.2, 0.05},
	"e_waste": {4.0, 0.2},
	"mixed":   {2.0, 0.08},
}

const (
	recycledCO2Multiplier   = 1.5
	recycledTreesMultiplier = 1.3
	waterLitersPerKg        = 15
)

// CalculateImpact derives the environmental summary for a completed request.
// Unknown categories use the mixed factors.
func CalculateImpact(c models.Completion) models.EnvironmentalImpact {
	category := strings.ToLower(strings.ReplaceAll(strings.TrimSpace(c.WasteType), "-", "_"))
	f, ok := impactFactors[category]
	if !ok {
		f = impactFactors["mixed"]
	}

	kg := decimal.NewFromFloat(c.WasteCollectedKg)
	co2 := kg.Mul(decimal.NewFromFloat(f.co2PerKg))
	trees := kg.Mul(decimal.NewFromFloat(f.treesPerKg))
	if c.Recycled {
		co2 = co2.Mul(decimal.NewFromFloat(recycledCO2Multiplier))
		trees = trees.Mul(decimal.NewFromFloat(recycledTreesMultiplier))
	}
	water := kg.Mul(decimal.NewFromInt(waterLitersPerKg))
	score := co2.Add(trees.Mul(decimal.NewFromInt(10)))

	return models.EnvironmentalImpact{
		WasteCollectedKg:   c.WasteCollectedKg,
		CO2SavedKg:         co2.Round(2).InexactFloat64(),
		TreesEquivalent:    trees.Round(2).InexactFloat64(),
		WaterSavedLiters:   water.Round(1).InexactFloat64(),
		RecyclingValue:     c.RecyclingValue,
		EnvironmentalScore: score.Round(1).InexactFloat64(),
	}
}
