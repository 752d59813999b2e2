package model

import "github.com/google/uuid"

type UserRole string

const (
	RoleDoctor  UserRole = "doctor"
	RolePatient UserRole = "patient"
	RoleAdmin   UserRole = "admin"
)

// User holds staff and patient accounts. At most one active doctor may hold
// a given LANR; the pipeline reads users only for mapping.
type User struct {
	Base
	Role       UserRole   `db:"role" json:"role"`
	Name       string     `db:"name" json:"name"`
	Email      string     `db:"email" json:"email"`
	LANR       *string    `db:"lanr" json:"lanr,omitempty"`
	PracticeID *uuid.UUID `db:"practice_id" json:"practice_id,omitempty"`
	Active     bool       `db:"active" json:"active"`
}
