package models

import (
	"encoding/json"
	"fmt"
)

// Per-role profile documents. They are validated against the JSON schemas in
// internal/validation before they reach these structs.

type CitizenProfile struct {
	LanguagePreference      string   `json:"language_preference"`
	NotificationPreferences []string `json:"notification_preferences"`
	TotalReports            int      `json:"total_reports"`
	TotalPoints             int      `json:"total_points"`
	Level                   string   `json:"level"`
}

type WorkerProfile struct {
	WorkerCategory   string   `json:"worker_category"` // government_employee, ngo_worker, independent_worker
	WorkerType       string   `json:"worker_type"`
	Specializations  []string `json:"specializations"`
	EquipmentAccess  []string `json:"equipment_access"`
	MaxTravelKm      int      `json:"max_travel_km"`
	ShiftTiming      string   `json:"shift_timing"`
	TotalJobs        int      `json:"total_jobs_completed"`
	AverageRating    float64  `json:"average_rating"`
	TotalEarnings    float64  `json:"total_earnings"`
	OrganizationName string   `json:"organization_name,omitempty"`
}

type GovernmentProfile struct {
	Designation   string   `json:"designation"`
	Department    string   `json:"department"`
	OfficeLevel   string   `json:"office_level"` // state, district, municipal, zone
	Jurisdiction  string   `json:"jurisdiction"`
	AccessLevel   string   `json:"access_level"` // limited, full
	AreaAuthority []string `json:"area_authority"`
}

// DecodeProfile unmarshals a raw profile document into the struct matching role.
func DecodeProfile(role string, raw []byte) (interface{}, error) {
	var dest interface{}
	switch role {
	case RoleCitizen:
		dest = &CitizenProfile{}
	case RoleWorker:
		dest = &WorkerProfile{}
	case RoleGovernment:
		dest = &GovernmentProfile{}
	default:
		return nil, fmt.Errorf("unknown role %q", role)
	}
	if len(raw) == 0 {
		return dest, nil
	}
	if err := json.Unmarshal(raw, dest); err != nil {
		return nil, fmt.Errorf("decode %s profile: %w", role, err)
	}
	return dest, nil
}
