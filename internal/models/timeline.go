package models

import "time"

// Timeline step names. Each step maps onto a request status; impact_calculated
// shares the completed status.
const (
	StepSubmitted        = "submitted"
	StepAnalyzing        = "analyzing"
	StepMatching         = "matching"
	StepAssigned         = "assigned"
	StepInProgress       = "in_progress"
	StepCompleted        = "completed"
	StepImpactCalculated = "impact_calculated"
	StepError            = "error"
)

// TimelineEntry is one append-only record of a request's lifecycle.
// Rows are inserted once and never updated.
type TimelineEntry struct {
	ID        string `json:"id" db:"id"`
	RequestID string `json:"request_id" db:"request_id"`
	Seq       int    `json:"seq" db:"seq"`
	Step      string `json:"step" db:"step"`
	Message   string `json:"message" db:"message"`

	// Structured context (analysis, assignment, impact summary, error text)
	Context JSONMap `json:"context" db:"context"`

	// Visibility per role
	SubmitterVisible bool `json:"submitter_visible" db:"submitter_visible"`
	WorkerVisible    bool `json:"worker_visible" db:"worker_visible"`
	OversightVisible bool `json:"oversight_visible" db:"oversight_visible"`

	ProcessingSeconds float64 `json:"processing_seconds" db:"processing_seconds"`
	CreatedAt         int64   `json:"created_at" db:"created_at"`
}

// VisibleTo reports whether a caller with the given role may see this entry.
func (e *TimelineEntry) VisibleTo(role string) bool {
	switch role {
	case RoleCitizen:
		return e.SubmitterVisible
	case RoleWorker:
		return e.WorkerVisible
	case RoleGovernment:
		return e.OversightVisible
	}
	return false
}

// FilterTimeline keeps the entries visible to role, preserving order.
func FilterTimeline(entries []TimelineEntry, role string) []TimelineEntry {
	out := make([]TimelineEntry, 0, len(entries))
	for i := range entries {
		if entries[i].VisibleTo(role) {
			out = append(out, entries[i])
		}
	}
	return out
}

// TimelineEntryResponse includes a formatted timestamp and a display label
type TimelineEntryResponse struct {
	ID        string  `json:"id"`
	Seq       int     `json:"seq"`
	Step      string  `json:"step"`
	StepLabel string  `json:"step_label"`
	Message   string  `json:"message"`
	Context   JSONMap `json:"context,omitempty"`

	CreatedAtIso string `json:"created_at_iso"`
	CreatedAt    int64  `json:"created_at"` // Unix timestamp
}

func (e *TimelineEntry) ToResponse() TimelineEntryResponse {
	return TimelineEntryResponse{
		ID:           e.ID,
		Seq:          e.Seq,
		Step:         e.Step,
		StepLabel:    StepLabel(e.Step),
		Message:      e.Message,
		Context:      e.Context,
		CreatedAtIso: time.Unix(e.CreatedAt, 0).UTC().Format(time.RFC3339),
		CreatedAt:    e.CreatedAt,
	}
}

// StepLabel returns a human-readable label for a step name
func StepLabel(step string) string {
	switch step {
	case StepSubmitted:
		return "Request Submitted"
	case StepAnalyzing:
		return "AI Analysis"
	case StepMatching:
		return "Finding Worker"
	case StepAssigned:
		return "Worker Assigned"
	case StepInProgress:
		return "Work In Progress"
	case StepCompleted:
		return "Completed"
	case StepImpactCalculated:
		return "Environmental Impact"
	case StepError:
		return "Processing Error"
	default:
		return step
	}
}
