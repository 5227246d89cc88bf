package models

import "github.com/golang-jwt/jwt/v5"

// UserRole represents the available roles for the RBAC system.
type UserRole string

const (
	RoleAdmin   UserRole = "ADMIN"
	RoleSchool  UserRole = "SCHOOL"
	RoleTeacher UserRole = "TEACHER"
)

// Valid reports whether the role is one the API recognises.
func (r UserRole) Valid() bool {
	switch r {
	case RoleAdmin, RoleSchool, RoleTeacher:
		return true
	}
	return false
}

// JWTClaims represents the payload of access tokens issued by the auth backend.
// UserID is the school id for SCHOOL users and the teacher id for TEACHER users.
type JWTClaims struct {
	UserID   string   `json:"user_id"`
	Role     UserRole `json:"role"`
	Email    string   `json:"email"`
	FullName string   `json:"full_name"`
	jwt.RegisteredClaims
}
