package model

import "github.com/google/uuid"

// Actor is the already-validated identity supplied by the external auth
// system. The pipeline never issues or refreshes credentials.
type Actor struct {
	ID          string      `json:"id"`
	Type        ActorType   `json:"type"`
	Role        UserRole    `json:"role"`
	LANR        *string     `json:"lanr,omitempty"`
	PracticeIDs []uuid.UUID `json:"practice_ids,omitempty"`
}

// SystemActor is used for pipeline-internal state transitions.
func SystemActor() Actor {
	return Actor{ID: "pipeline", Type: ActorTypeSystem, Role: ""}
}
