package model

import (
	"time"

	"github.com/google/uuid"
)

type ResultStatus string

const (
	// ResultStatusNew: persisted, not yet seen by any authorized viewer.
	ResultStatusNew ResultStatus = "NEW"
	// ResultStatusAvailable: visible to the mapped patient and doctor.
	ResultStatusAvailable ResultStatus = "AVAILABLE"
	// ResultStatusPendingMapping: held with null references until a human
	// confirms the assignment. Nothing is delivered downstream.
	ResultStatusPendingMapping ResultStatus = "PENDING_MAPPING"
	// ResultStatusRetracted: withdrawn, visible to audit/admin only.
	ResultStatusRetracted ResultStatus = "RETRACTED"
	// ResultStatusUpdated: superseded by a newer result for the same report.
	ResultStatusUpdated ResultStatus = "UPDATED"
)

// Result is the mapped medical-result record derived from exactly one
// RawMessage. Recognized duplicates never gain their own identity: they
// carry DuplicateOfResultID pointing at the canonical row, always flat,
// never a chain.
type Result struct {
	ID                  uuid.UUID    `db:"id" json:"id"`
	PatientID           *uuid.UUID   `db:"patient_id" json:"patient_id,omitempty"`
	PracticeID          *uuid.UUID   `db:"practice_id" json:"practice_id,omitempty"`
	DoctorID            *uuid.UUID   `db:"doctor_id" json:"doctor_id,omitempty"`
	OrderingLANR        string       `db:"ordering_lanr" json:"ordering_lanr"`
	RawMessageID        uuid.UUID    `db:"raw_message_id" json:"raw_message_id"`
	MessageUID          *string      `db:"message_uid" json:"message_uid,omitempty"`
	SHA256              string       `db:"sha256" json:"sha256"`
	ResultDate          time.Time    `db:"result_date" json:"result_date"`
	Status              ResultStatus `db:"status" json:"status"`
	DuplicateOfResultID *uuid.UUID   `db:"duplicate_of_result_id" json:"duplicate_of_result_id,omitempty"`
	SupersededByID      *uuid.UUID   `db:"superseded_by_id" json:"superseded_by_id,omitempty"`
	ReportRef           *string      `db:"report_ref" json:"report_ref,omitempty"`
	CreatedAt           time.Time    `db:"created_at" json:"created_at"`
	UpdatedAt           time.Time    `db:"updated_at" json:"updated_at"`
}

// Canonical reports whether this row is the first persisted result for its
// logical message.
func (r *Result) Canonical() bool {
	return r.DuplicateOfResultID == nil
}
