package models

// WorkerLocationUpdate is the body of POST /api/worker/location.
type WorkerLocationUpdate struct {
	Latitude    float64 `json:"latitude"`
	Longitude   float64 `json:"longitude"`
	Area        string  `json:"area,omitempty"`
	City        string  `json:"city,omitempty"`
	IsAvailable *bool   `json:"is_available,omitempty"`
}

// RequestStats summarises the requests visible to one caller.
type RequestStats struct {
	Total     int            `json:"total"`
	Active    int            `json:"active"`
	Completed int            `json:"completed"`
	Failed    int            `json:"failed"`
	ByStatus  map[string]int `json:"by_status"`
	// Impact sums every recorded impact, environmental_score included.
	Impact EnvironmentalImpact `json:"impact"`
}
