package lifecycle

import (
	"strings"
	"time"

	"dharani-backend/internal/models"
)

// Visibility says which roles may read a step's timeline entry.
type Visibility struct {
	Submitter bool
	Worker    bool
	Oversight bool
}

// StepDef is the fixed configuration of one lifecycle step.
type StepDef struct {
	Name       string
	Status     models.RequestStatus
	Visibility Visibility
	// Processing is cosmetic pacing before the step is recorded.
	Processing time.Duration
	Fallback   string
}

var steps = map[string]StepDef{
	models.StepSubmitted: {
		Name: models.StepSubmitted, Status: models.StatusSubmitted,
		Visibility: Visibility{Submitter: true, Oversight: true},
		Processing: 500 * time.Millisecond,
		Fallback:   "🌱 Request received! Processing...",
	},
	models.StepAnalyzing: {
		Name: models.StepAnalyzing, Status: models.StatusAnalyzing,
		Visibility: Visibility{Submitter: true, Oversight: true},
		Processing: 2500 * time.Millisecond,
		Fallback:   "🤖 Analyzing images...",
	},
	models.StepMatching: {
		Name: models.StepMatching, Status: models.StatusMatching,
		Visibility: Visibility{Submitter: true, Worker: true, Oversight: true},
		Processing: 1500 * time.Millisecond,
		Fallback:   "🔍 Finding a nearby worker...",
	},
	models.StepAssigned: {
		Name: models.StepAssigned, Status: models.StatusAssigned,
		Visibility: Visibility{Submitter: true, Worker: true, Oversight: true},
		Processing: 800 * time.Millisecond,
		Fallback:   "✅ Worker assigned! Help is on the way.",
	},
	models.StepInProgress: {
		Name: models.StepInProgress, Status: models.StatusInProgress,
		Visibility: Visibility{Submitter: true, Worker: true, Oversight: true},
		Processing: 500 * time.Millisecond,
		Fallback:   "🧹 Cleanup in progress.",
	},
	models.StepCompleted: {
		Name: models.StepCompleted, Status: models.StatusCompleted,
		Visibility: Visibility{Submitter: true, Worker: true, Oversight: true},
		Processing: time.Second,
		Fallback:   "✅ Great job! The area is clean again.",
	},
	models.StepImpactCalculated: {
		Name: models.StepImpactCalculated, Status: models.StatusCompleted,
		Visibility: Visibility{Submitter: true, Worker: true, Oversight: true},
		Processing: time.Second,
		Fallback:   "🌍 Environmental impact calculated.",
	},
	models.StepError: {
		Name: models.StepError, Status: models.StatusError,
		Visibility: Visibility{Submitter: true, Oversight: true},
		Fallback:   "⚠️ We hit a problem processing this request.",
	},
}

// Step returns the definition for name. Unknown names get full visibility,
// half a second of pacing and a generic "<Title> update" fallback.
func Step(name string) StepDef {
	if def, ok := steps[name]; ok {
		return def
	}
	return StepDef{
		Name:       name,
		Visibility: Visibility{Submitter: true, Worker: true, Oversight: true},
		Processing: 500 * time.Millisecond,
		Fallback:   titleCase(name) + " update",
	}
}

// FallbackMessage is the fixed message used when generation fails.
func FallbackMessage(step string) string {
	return Step(step).Fallback
}

func titleCase(s string) string {
	words := strings.Fields(strings.ReplaceAll(s, "_", " "))
	for i, w := range words {
		words[i] = strings.ToUpper(w[:1]) + strings.ToLower(w[1:])
	}
	return strings.Join(words, " ")
}
