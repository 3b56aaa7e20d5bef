package models

import "strings"

// Role enum
type Role string

const (
	RoleAdmin   Role = "admin"
	RoleDoctor  Role = "doctor"
	RolePatient Role = "patient"
	// RoleSystem is used for actions the server takes on its own, such as
	// auto-termination or a queued commit retry.
	RoleSystem Role = "system"
)

// ParseRole normalises a role claim coming from the identity provider.
func ParseRole(s string) Role {
	return Role(strings.ToLower(strings.TrimSpace(s)))
}

// IsGrantable reports whether an identity provider may issue the role.
// RoleSystem is reserved for server-initiated work.
func (r Role) IsGrantable() bool {
	return r == RoleDoctor || r == RolePatient || r == RoleAdmin
}

// IsParticipant reports whether the role takes part in a consultation.
func (r Role) IsParticipant() bool {
	return r == RoleDoctor || r == RolePatient
}

// Actor is the caller identity attached to every core operation.
type Actor struct {
	SubjectID string `json:"subjectId"`
	Role      Role   `json:"role"`
}

// SystemActor returns the actor used for server-initiated transitions.
func SystemActor() Actor {
	return Actor{SubjectID: "system", Role: RoleSystem}
}
