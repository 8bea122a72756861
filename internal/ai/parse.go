package ai

import (
	"encoding/json"
	"fmt"
	"strings"

	"dharani-backend/internal/models"
)

// extractJSON strips a markdown code fence around a JSON object if present.
func extractJSON(text string) string {
	s := strings.TrimSpace(text)
	if i := strings.Index(s, "```"); i >= 0 {
		s = s[i+3:]
		s = strings.TrimPrefix(s, "json")
		if j := strings.Index(s, "```"); j >= 0 {
			s = s[:j]
		}
	}
	if start, end := strings.Index(s, "{"), strings.LastIndex(s, "}"); start >= 0 && end > start {
		s = s[start : end+1]
	}
	return strings.TrimSpace(s)
}

// ParseAnalysis decodes a model reply into a normalised WasteAnalysis.
func ParseAnalysis(text, source string) (*models.WasteAnalysis, error) {
	var a models.WasteAnalysis
	if err := json.Unmarshal([]byte(extractJSON(text)), &a); err != nil {
		return nil, fmt.Errorf("decode analysis: %w", err)
	}
	a.WasteType = NormalizeWasteType(a.WasteType)
	a.Confidence = min(1, max(0, a.Confidence))
	switch a.Priority {
	case models.PriorityLow, models.PriorityMedium, models.PriorityHigh:
	default:
		a.Priority = models.PriorityMedium
	}
	a.Source = source
	return &a, nil
}

// NormalizeWasteType maps free-form labels onto the four known categories.
func NormalizeWasteType(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.NewReplacer("-", "_", " ", "_").Replace(s)
	switch {
	case strings.Contains(s, "plastic"):
		return "plastic"
	case strings.Contains(s, "organic"), strings.Contains(s, "food"), strings.Contains(s, "garden"):
		return "organic"
	case strings.Contains(s, "e_waste"), strings.Contains(s, "ewaste"), strings.Contains(s, "electronic"):
		return "e_waste"
	}
	return "mixed"
}
