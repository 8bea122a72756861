// Package ai holds the text and vision collaborators used by the request
// lifecycle: a Gemini-backed client, a deterministic offline stub and a
// small message cache.
package ai

import (
	"encoding/json"
	"fmt"
	"strings"

	"dharani-backend/internal/lifecycle"
	"dharani-backend/internal/models"
)

// Personality shapes the tone of messages for one audience.
type Personality struct {
	Name     string
	Tone     string
	Language string
	Emojis   bool
	Focus    string
}

var personalities = map[string]Personality{
	models.RoleCitizen: {
		Name:     "Dharani EcoWarrior Assistant",
		Tone:     "encouraging, friendly, environmental-focused",
		Language: "Hindi + English mix for relatability",
		Emojis:   true,
		Focus:    "environmental impact and community building",
	},
	models.RoleWorker: {
		Name:     "Dharani Professional Assistant",
		Tone:     "professional, helpful, earnings-focused",
		Language: "Simple Hindi + English",
		Emojis:   true,
		Focus:    "job efficiency, earnings and safety",
	},
	models.RoleGovernment: {
		Name:     "Dharani Analytics Assistant",
		Tone:     "formal, data-driven, actionable",
		Language: "English",
		Emojis:   false,
		Focus:    "data insights and policy follow-up",
	},
}

// PersonalityFor returns the personality for role. Unknown roles get the
// citizen personality.
func PersonalityFor(role string) Personality {
	if p, ok := personalities[role]; ok {
		return p
	}
	return personalities[models.RoleCitizen]
}

var stepTasks = map[string]map[string]string{
	models.RoleCitizen: {
		models.StepSubmitted:        "The user just submitted a waste report. Welcome them warmly.",
		models.StepAnalyzing:        "Images are being analyzed. Share what was detected.",
		models.StepMatching:         "We are finding the best worker near their location.",
		models.StepAssigned:         "A worker has been assigned. Share the worker's name and ETA enthusiastically.",
		models.StepInProgress:       "Cleanup has begun. Appreciate their contribution.",
		models.StepCompleted:        "The job is done. Celebrate the clean area.",
		models.StepImpactCalculated: "Share the environmental impact numbers with pride.",
	},
	models.RoleWorker: {
		models.StepMatching:         "A new earning opportunity is available nearby.",
		models.StepAssigned:         "Job accepted. Give a navigation and safety tip.",
		models.StepInProgress:       "Work in progress. Encourage efficiency and quality.",
		models.StepCompleted:        "Job completed. Celebrate the earnings.",
		models.StepImpactCalculated: "Tell the worker the impact their work had.",
	},
	models.RoleGovernment: {
		models.StepSubmitted:        "Log a new citizen report for oversight.",
		models.StepAnalyzing:        "Summarise the analysis result for oversight.",
		models.StepMatching:         "Report worker matching status.",
		models.StepAssigned:         "Report the assignment with distance and ETA.",
		models.StepCompleted:        "Report completion for the records.",
		models.StepImpactCalculated: "Summarise the environmental impact in figures.",
	},
}

// TimelinePrompt renders the instruction sent to the text model for one step.
func TimelinePrompt(p lifecycle.MessagePrompt) string {
	persona := PersonalityFor(p.Role)

	contextText := "No additional context"
	if len(p.Context) > 0 {
		if b, err := json.Marshal(p.Context); err == nil {
			contextText = string(b)
		}
	}

	task, ok := stepTasks[p.Role][p.Step]
	if !ok {
		task = "General update message for this step."
	}

	var b strings.Builder
	fmt.Fprintf(&b, "You are %s, the assistant for the Dharani waste management service.\n", persona.Name)
	fmt.Fprintf(&b, "User type: %s\n", p.Role)
	fmt.Fprintf(&b, "Current step: %s\n", p.Step)
	fmt.Fprintf(&b, "Tone: %s\n", persona.Tone)
	fmt.Fprintf(&b, "Language style: %s\n", persona.Language)
	fmt.Fprintf(&b, "Use emojis: %t\n", persona.Emojis)
	fmt.Fprintf(&b, "Focus: %s\n", persona.Focus)
	fmt.Fprintf(&b, "Context: %s\n\n", contextText)
	fmt.Fprintf(&b, "Task: %s\n", task)
	b.WriteString("Reply with one short message of at most 100 characters and nothing else.")
	return b.String()
}

const analysisPrompt = `You are inspecting photos of a reported waste pile.
Classify the waste and reply with JSON only, using exactly these fields:
{"waste_type": "plastic|organic|e_waste|mixed", "confidence": 0.0-1.0,
 "quantity_estimate": "e.g. 2.5 kg", "recyclable": true|false,
 "priority": "low|medium|high", "suggested_tools": ["..."], "summary": "one sentence"}
Citizen description: %s`
