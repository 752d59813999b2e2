package model

import (
	"time"

	"github.com/google/uuid"
)

type ActorType string

const (
	ActorTypeUser       ActorType = "user"
	ActorTypeSystem     ActorType = "system"
	ActorTypeAdminToken ActorType = "admin-token"
)

// AuditLog rows are append-only: never updated, never deleted by the
// pipeline. One entry per state-changing or access event.
type AuditLog struct {
	ID         uuid.UUID `json:"id" db:"id"`
	ActorID    string    `json:"actor_id" db:"actor_id"`
	ActorType  ActorType `json:"actor_type" db:"actor_type"`
	Action     string    `json:"action" db:"action"`
	EntityType string    `json:"entity_type" db:"entity_type"`
	EntityID   uuid.UUID `json:"entity_id" db:"entity_id"`
	Details    JSONMap   `json:"details" db:"details"`
	IPAddress  string    `json:"ip_address" db:"ip_address"`
	UserAgent  string    `json:"user_agent" db:"user_agent"`
	CreatedAt  time.Time `json:"created_at" db:"created_at"`
}

const (
	// Action types
	AuditActionReceived         = "raw_message.received"
	AuditActionDuplicate        = "raw_message.duplicate"
	AuditActionRejected         = "raw_message.rejected"
	AuditActionValidationFailed = "raw_message.validation_failed"
	AuditActionDeadLettered     = "raw_message.dead_lettered"
	AuditActionReprocessed      = "raw_message.reprocessed"
	AuditActionProcessed        = "raw_message.processed"
	AuditActionResultPersisted  = "result.persisted"
	AuditActionResultDuplicate  = "result.duplicate"
	AuditActionResultPending    = "result.pending_mapping"
	AuditActionResultAssigned   = "result.assigned"
	AuditActionResultRetracted  = "result.retracted"
	AuditActionResultSuperseded = "result.superseded"
	AuditActionReportDownloaded = "result.report_downloaded"
	AuditActionAdminAccess      = "admin.access"

	// Entity types
	AuditEntityRawMessage = "raw_message"
	AuditEntityResult     = "result"
)

// AuditFilter narrows audit listings for the admin surface.
type AuditFilter struct {
	ActorID    string
	Action     string
	EntityType string
	EntityID   *uuid.UUID
	Since      *time.Time
	Until      *time.Time
	Limit      int
	Offset     int
}
