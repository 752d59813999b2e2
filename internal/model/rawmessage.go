package model

import (
	"time"

	"github.com/google/uuid"
)

// ContentType is the declared format family of an ingested payload.
type ContentType string

const (
	ContentTypeLDT  ContentType = "LDT"
	ContentTypeHL7  ContentType = "HL7"
	ContentTypeFHIR ContentType = "FHIR"
)

func (c ContentType) Valid() bool {
	switch c {
	case ContentTypeLDT, ContentTypeHL7, ContentTypeFHIR:
		return true
	}
	return false
}

type RawMessageStatus string

const (
	RawStatusReceived         RawMessageStatus = "RECEIVED"
	RawStatusParsed           RawMessageStatus = "PARSED"
	RawStatusValidationFailed RawMessageStatus = "VALIDATION_FAILED"
	RawStatusProcessed        RawMessageStatus = "PROCESSED"
	RawStatusDLQ              RawMessageStatus = "DLQ"
)

// Terminal states are immutable; only an explicit administrative reprocess
// moves a message out of them.
func (s RawMessageStatus) Terminal() bool {
	switch s {
	case RawStatusValidationFailed, RawStatusProcessed, RawStatusDLQ:
		return true
	}
	return false
}

// RawMessage is an ingested payload before parsing and mapping. The sha256
// column is globally unique; (source_id, external_message_id) is unique when
// the external id is present. Rows are never deleted.
type RawMessage struct {
	ID                uuid.UUID        `db:"id" json:"id"`
	SourceID          string           `db:"source_id" json:"source_id"`
	ContentType       ContentType      `db:"content_type" json:"content_type"`
	Payload           []byte           `db:"payload" json:"-"`
	PayloadSize       int              `db:"payload_size" json:"payload_size"`
	SHA256            string           `db:"sha256" json:"sha256"`
	ExternalMessageID *string          `db:"external_message_id" json:"external_message_id,omitempty"`
	LANR              *string          `db:"lanr" json:"lanr,omitempty"`
	BSNR              *string          `db:"bsnr" json:"bsnr,omitempty"`
	Status            RawMessageStatus `db:"status" json:"status"`
	ErrorDetail       *string          `db:"error_detail" json:"error_detail,omitempty"`
	Attempts          int              `db:"attempts" json:"attempts"`
	Metadata          JSONMap          `db:"metadata" json:"metadata,omitempty"`
	ReceivedAt        time.Time        `db:"received_at" json:"received_at"`
	UpdatedAt         time.Time        `db:"updated_at" json:"updated_at"`
}
