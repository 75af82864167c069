package domain

import (
	"time"

	"github.com/google/uuid"
)

type Role string

const (
	RoleStudent Role = "Student"
	RoleStaff   Role = "Staff"
)

func (r Role) Valid() bool {
	return r == RoleStudent || r == RoleStaff
}

type User struct {
	ID          uuid.UUID `json:"id" db:"id"`
	Name        string    `json:"name" db:"name"`
	Role        Role      `json:"role" db:"role"`
	IsDefaulter bool      `json:"is_defaulter" db:"is_defaulter"` // written only by the defaulter classifier
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
}
