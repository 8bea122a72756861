package models

import "github.com/jmoiron/sqlx/types"

const (
	RoleCitizen    = "citizen"
	RoleWorker     = "worker"
	RoleGovernment = "government"
)

// ValidRole reports whether role is one of the three application roles.
func ValidRole(role string) bool {
	switch role {
	case RoleCitizen, RoleWorker, RoleGovernment:
		return true
	}
	return false
}

type User struct {
	ID          string         `json:"id" db:"id"`
	Email       string         `json:"email" db:"email"`
	Password    string         `json:"-" db:"password"` // Never return password in JSON
	Name        string         `json:"name" db:"name"`
	Role        string         `json:"role" db:"role"` // "citizen", "worker" or "government"
	Phone       *string        `json:"phone,omitempty" db:"phone"`
	Area        string         `json:"area" db:"area"`
	City        string         `json:"city" db:"city"`
	Pincode     string         `json:"pincode" db:"pincode"`
	Latitude    *float64       `json:"latitude,omitempty" db:"latitude"`
	Longitude   *float64       `json:"longitude,omitempty" db:"longitude"`
	Profile     types.JSONText `json:"profile" db:"profile"`
	IsAvailable bool           `json:"is_available" db:"is_available"`
	CreatedAt   int64          `json:"created_at" db:"created_at"`
	UpdatedAt   int64          `json:"updated_at" db:"updated_at"`
}

type UserResponse struct {
	ID        string         `json:"id"`
	Email     string         `json:"email"`
	Name      string         `json:"name"`
	Role      string         `json:"role"`
	Area      string         `json:"area,omitempty"`
	City      string         `json:"city,omitempty"`
	Profile   types.JSONText `json:"profile,omitempty"`
	CreatedAt int64          `json:"created_at"`
}

func (u *User) ToUserResponse() UserResponse {
	return UserResponse{
		ID:        u.ID,
		Email:     u.Email,
		Name:      u.Name,
		Role:      u.Role,
		Area:      u.Area,
		City:      u.City,
		Profile:   u.Profile,
		CreatedAt: u.CreatedAt,
	}
}
