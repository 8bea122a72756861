package ai

import (
	"context"
	"crypto/sha256"
	"fmt"
	"strings"

	"dharani-backend/internal/lifecycle"
	"dharani-backend/internal/models"
)

// Stub is a deterministic, no-network collaborator for development and
// tests. The same input always produces the same output.
type Stub struct{}

func NewStub() *Stub { return &Stub{} }

func (s *Stub) TimelineMessage(_ context.Context, p lifecycle.MessagePrompt) (string, error) {
	persona := PersonalityFor(p.Role)
	label := models.StepLabel(p.Step)
	if persona.Emojis {
		return fmt.Sprintf("%s %s", stubEmoji(p.Step), stubText(p.Role, label)), nil
	}
	return stubText(p.Role, label), nil
}

func stubText(role, label string) string {
	switch role {
	case models.RoleWorker:
		return label + ": keep going, every job counts!"
	case models.RoleGovernment:
		return label + " recorded."
	default:
		return label + ": thank you for keeping Dharani clean!"
	}
}

func stubEmoji(step string) string {
	switch step {
	case models.StepSubmitted:
		return "🌱"
	case models.StepAnalyzing:
		return "🤖"
	case models.StepMatching:
		return "🔍"
	case models.StepAssigned, models.StepCompleted:
		return "✅"
	case models.StepInProgress:
		return "🧹"
	case models.StepImpactCalculated:
		return "🌍"
	}
	return "ℹ️"
}

// AnalyzeWaste classifies by description keywords and derives confidence
// from a hash of the input.
func (s *Stub) AnalyzeWaste(_ context.Context, req *models.ServiceRequest) (*models.WasteAnalysis, error) {
	wasteType := NormalizeWasteType(keywordCategory(req.Description))
	sum := sha256.Sum256([]byte(req.Description + strings.Join(req.Images, ",")))

	a := &models.WasteAnalysis{
		WasteType:        wasteType,
		Confidence:       0.7 + float64(sum[0]%25)/100,
		QuantityEstimate: fmt.Sprintf("%.1f kg", 1+float64(sum[1]%40)/10),
		Recyclable:       wasteType == "plastic" || wasteType == "e_waste",
		Priority:         models.PriorityMedium,
		SuggestedTools:   []string{"gloves", "pickup_stick", "sorting_bag"},
		Summary:          fmt.Sprintf("Stub analysis of %d image(s)", len(req.Images)),
		Source:           models.SourceStub,
	}
	if wasteType == "e_waste" {
		a.Priority = models.PriorityHigh
	}
	return a, nil
}

func keywordCategory(description string) string {
	d := strings.ToLower(description)
	for _, kw := range []struct{ word, category string }{
		{"plastic", "plastic"},
		{"bottle", "plastic"},
		{"food", "organic"},
		{"vegetable", "organic"},
		{"leaves", "organic"},
		{"battery", "e_waste"},
		{"electronic", "e_waste"},
		{"phone", "e_waste"},
	} {
		if strings.Contains(d, kw.word) {
			return kw.category
		}
	}
	return "mixed"
}
