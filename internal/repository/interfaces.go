package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/befundwerk/ingest-api/internal/model"
)

// ErrResultExists signals a lost insert race on one of the result
// uniqueness indexes; callers re-resolve the canonical row instead of
// propagating it.
var ErrResultExists = errors.New("result already exists")

// All repository interfaces in one file
type (
	// TxRunner scopes repository calls to one transaction. Services use it
	// to commit a state change and its audit entry atomically: repositories
	// invoked with the ctx passed to fn share the transaction.
	TxRunner interface {
		InTx(ctx context.Context, fn func(ctx context.Context) error) error
	}

	// RawMessageRepository owns the dedup guard and the state machine
	// columns of ingested payloads.
	RawMessageRepository interface {
		// Insert attempts an atomic unique insert on the content hash.
		// When the fingerprint (or the (source, external id) pair) has been
		// seen before, inserted is false and existing carries the earlier
		// row; the new bytes are discarded.
		Insert(ctx context.Context, msg *model.RawMessage) (inserted bool, existing *model.RawMessage, err error)
		Get(ctx context.Context, id uuid.UUID) (*model.RawMessage, error)
		// Transition advances the status machine. It is guarded: the update
		// applies only when the row is still in from, so a racing worker or
		// a redelivered item can never regress a terminal state.
		Transition(ctx context.Context, id uuid.UUID, from, to model.RawMessageStatus, errorDetail *string) error
		SetExtractedIdentifiers(ctx context.Context, id uuid.UUID, lanr, bsnr *string) error
		// IncrementAttempts persists retry accounting so a process restart
		// cannot reset the budget.
		IncrementAttempts(ctx context.Context, id uuid.UUID) (int, error)
		ListByStatus(ctx context.Context, status model.RawMessageStatus, limit, offset int) ([]*model.RawMessage, error)
		// ListStranded returns non-terminal rows untouched for longer than
		// age, the poll fallback for lost broker deliveries.
		ListStranded(ctx context.Context, age time.Duration, limit int) ([]*model.RawMessage, error)
		// ResetForReprocess moves a VALIDATION_FAILED or DLQ row back to
		// RECEIVED and zeroes the attempt counter.
		ResetForReprocess(ctx context.Context, id uuid.UUID) error
	}

	// ResultRepository persists derived results and the canonical/duplicate
	// structure.
	ResultRepository interface {
		Insert(ctx context.Context, result *model.Result) error
		Get(ctx context.Context, id uuid.UUID) (*model.Result, error)
		FindByRawMessage(ctx context.Context, rawMessageID uuid.UUID) (*model.Result, error)
		FindByMessageUID(ctx context.Context, messageUID string) (*model.Result, error)
		// FindCanonicalByHash matches non-duplicate rows only.
		FindCanonicalByHash(ctx context.Context, sha256 string) (*model.Result, error)
		// UpdateStatus is guarded the same way raw message transitions are.
		UpdateStatus(ctx context.Context, id uuid.UUID, from, to model.ResultStatus) error
		AssignMapping(ctx context.Context, id, patientID, doctorID uuid.UUID, practiceID *uuid.UUID) error
		MarkSuperseded(ctx context.Context, id, successorID uuid.UUID) error
		SetReportRef(ctx context.Context, id uuid.UUID, ref string) error
		ListByStatus(ctx context.Context, status model.ResultStatus, limit, offset int) ([]*model.Result, error)
	}

	// PatientRepository is read-only; demographics are owned elsewhere.
	PatientRepository interface {
		FindByInsuranceNumber(ctx context.Context, insuranceNumber string) ([]*model.Patient, error)
		FindByPIIHash(ctx context.Context, piiHash string) ([]*model.Patient, error)
		FindByNameAndDOB(ctx context.Context, lastName, firstName string, dob time.Time) ([]*model.Patient, error)
		Get(ctx context.Context, id uuid.UUID) (*model.Patient, error)
	}

	// UserRepository is read-only from the pipeline's perspective.
	UserRepository interface {
		FindActiveDoctorsByLANR(ctx context.Context, lanr string) ([]*model.User, error)
		FindActiveDoctorsByPractice(ctx context.Context, practiceID uuid.UUID) ([]*model.User, error)
		Get(ctx context.Context, id uuid.UUID) (*model.User, error)
	}

	PracticeRepository interface {
		// FindByBSNR returns nil, nil when no practice carries the BSNR.
		FindByBSNR(ctx context.Context, bsnr string) (*model.Practice, error)
		Get(ctx context.Context, id uuid.UUID) (*model.Practice, error)
	}

	// AuditRepository is append-only; there is no update or delete.
	AuditRepository interface {
		Create(ctx context.Context, entry *model.AuditLog) error
		List(ctx context.Context, filter *model.AuditFilter) ([]*model.AuditLog, error)
	}
)
