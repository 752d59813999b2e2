// Package result persists mapped results idempotently and carries the
// administrative operations on them: manual assignment, retraction,
// supersession and report delivery.
package result

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/befundwerk/ingest-api/internal/model"
	"github.com/befundwerk/ingest-api/internal/parser"
	"github.com/befundwerk/ingest-api/internal/repository"
	auditsvc "github.com/befundwerk/ingest-api/internal/service/audit"
	"github.com/befundwerk/ingest-api/internal/service/mapper"
	apperrors "github.com/befundwerk/ingest-api/pkg/errors"
	"github.com/befundwerk/ingest-api/pkg/logger"
	"github.com/befundwerk/ingest-api/pkg/metrics"
	"github.com/befundwerk/ingest-api/pkg/objectstore"
)

type Service struct {
	results repository.ResultRepository
	tx      repository.TxRunner
	audit   *auditsvc.Service
	store   objectstore.Store
	logger  *logger.Logger
	metrics *metrics.Metrics
}

func NewService(
	results repository.ResultRepository,
	tx repository.TxRunner,
	audit *auditsvc.Service,
	store objectstore.Store,
	logger *logger.Logger,
	metrics *metrics.Metrics,
) *Service {
	return &Service{
		results: results,
		tx:      tx,
		audit:   audit,
		store:   store,
		logger:  logger.WithComponent("result"),
		metrics: metrics,
	}
}

// Persist stores the result derived from one raw message. It is idempotent
// under redelivery: a second call for the same raw message returns the row
// created by the first. A logically identical result seen through a
// different raw message becomes a duplicate row pointing at the canonical
// one, never a second independent result.
func (s *Service) Persist(ctx context.Context, raw *model.RawMessage, cand *parser.Candidate, outcome *mapper.Outcome) (*model.Result, error) {
	// Redelivered work item: the earlier attempt already persisted.
	if existing, err := s.results.FindByRawMessage(ctx, raw.ID); err != nil {
		return nil, fmt.Errorf("failed to check for existing result: %w", err)
	} else if existing != nil {
		return existing, nil
	}

	canonical, err := s.findCanonical(ctx, raw, cand)
	if err != nil {
		return nil, err
	}
	if canonical != nil {
		return s.persistDuplicate(ctx, raw, cand, canonical)
	}

	res := &model.Result{
		ID:           uuid.New(),
		OrderingLANR: cand.LANR,
		RawMessageID: raw.ID,
		SHA256:       raw.SHA256,
		ResultDate:   cand.ResultDate,
	}
	if cand.MessageUID != "" {
		uid := cand.MessageUID
		res.MessageUID = &uid
	}

	action := model.AuditActionResultPending
	res.Status = model.ResultStatusPendingMapping
	final := model.ResultStatusPendingMapping
	if outcome.Mapped {
		// a mapped result is born NEW and released to AVAILABLE in the same
		// commit once the mapping is confirmed
		res.Status = model.ResultStatusNew
		final = model.ResultStatusAvailable
		res.PatientID = outcome.PatientID
		res.DoctorID = outcome.DoctorID
		res.PracticeID = outcome.PracticeID
		action = model.AuditActionResultPersisted
	}

	details := model.JSONMap{"status": string(final)}
	if !outcome.Mapped {
		details["reason"] = outcome.Reason
	}

	// The entry and the rows share one transaction, the entry first: a
	// persisted result can never land without its trail.
	err = s.tx.InTx(ctx, func(ctx context.Context) error {
		if err := s.audit.Record(ctx, model.SystemActor(), action,
			model.AuditEntityResult, res.ID, &auditsvc.Options{Details: details}); err != nil {
			return err
		}
		if err := s.results.Insert(ctx, res); err != nil {
			return err
		}
		if outcome.Mapped {
			if err := s.results.UpdateStatus(ctx, res.ID,
				model.ResultStatusNew, model.ResultStatusAvailable); err != nil {
				return err
			}
			res.Status = model.ResultStatusAvailable
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, repository.ErrResultExists) {
			// lost the insert race; the winner's row is now canonical
			return s.reResolve(ctx, raw, cand)
		}
		if errors.Is(err, apperrors.ErrAuditWriteFailed) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to persist result: %w", err)
	}

	s.metrics.ResultsPersisted.WithLabelValues(string(res.Status)).Inc()
	return res, nil
}

// findCanonical looks for an earlier result carrying the same logical
// identity: first by message UID, then by content hash. A hit that is itself
// a duplicate is flattened one hop so references never chain.
func (s *Service) findCanonical(ctx context.Context, raw *model.RawMessage, cand *parser.Candidate) (*model.Result, error) {
	var hit *model.Result
	var err error

	if cand.MessageUID != "" {
		hit, err = s.results.FindByMessageUID(ctx, cand.MessageUID)
		if err != nil {
			return nil, fmt.Errorf("failed to look up result by message uid: %w", err)
		}
	}
	if hit == nil {
		hit, err = s.results.FindCanonicalByHash(ctx, raw.SHA256)
		if err != nil {
			return nil, fmt.Errorf("failed to look up result by content hash: %w", err)
		}
	}
	if hit == nil {
		return nil, nil
	}

	if hit.DuplicateOfResultID != nil {
		hit, err = s.results.Get(ctx, *hit.DuplicateOfResultID)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve canonical result: %w", err)
		}
		if hit == nil {
			return nil, fmt.Errorf("canonical result missing for duplicate reference")
		}
	}
	return hit, nil
}

// persistDuplicate records the raw message as a recognized duplicate of the
// canonical result. The duplicate row carries no message UID; the canonical
// row owns that identity.
func (s *Service) persistDuplicate(ctx context.Context, raw *model.RawMessage, cand *parser.Candidate, canonical *model.Result) (*model.Result, error) {
	dup := &model.Result{
		ID:                  uuid.New(),
		OrderingLANR:        cand.LANR,
		RawMessageID:        raw.ID,
		SHA256:              raw.SHA256,
		ResultDate:          cand.ResultDate,
		Status:              canonical.Status,
		DuplicateOfResultID: &canonical.ID,
	}

	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		if err := s.audit.Record(ctx, model.SystemActor(), model.AuditActionResultDuplicate,
			model.AuditEntityResult, dup.ID,
			&auditsvc.Options{Details: model.JSONMap{"canonical_result_id": canonical.ID.String()}}); err != nil {
			return err
		}
		return s.results.Insert(ctx, dup)
	})
	if err != nil {
		if errors.Is(err, repository.ErrResultExists) {
			return s.reResolve(ctx, raw, cand)
		}
		if errors.Is(err, apperrors.ErrAuditWriteFailed) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to persist duplicate result: %w", err)
	}

	s.metrics.ResultsPersisted.WithLabelValues("duplicate").Inc()
	s.logger.Info("recognized duplicate result",
		"result_id", dup.ID.String(), "canonical_result_id", canonical.ID.String())
	return dup, nil
}

func (s *Service) reResolve(ctx context.Context, raw *model.RawMessage, cand *parser.Candidate) (*model.Result, error) {
	if existing, err := s.results.FindByRawMessage(ctx, raw.ID); err != nil {
		return nil, fmt.Errorf("failed to re-resolve result: %w", err)
	} else if existing != nil {
		return existing, nil
	}
	canonical, err := s.findCanonical(ctx, raw, cand)
	if err != nil {
		return nil, err
	}
	if canonical == nil {
		return nil, fmt.Errorf("insert race lost but no result found for raw message %s", raw.ID)
	}
	return s.persistDuplicate(ctx, raw, cand, canonical)
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*model.Result, error) {
	res, err := s.results.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if res == nil {
		return nil, apperrors.NotFound("result", nil)
	}
	return res, nil
}

func (s *Service) ListByStatus(ctx context.Context, status model.ResultStatus, limit, offset int) ([]*model.Result, error) {
	return s.results.ListByStatus(ctx, status, limit, offset)
}

// Assign resolves a pending result to a confirmed patient and doctor. Only
// PENDING_MAPPING rows accept an assignment.
func (s *Service) Assign(ctx context.Context, actor model.Actor, id, patientID, doctorID uuid.UUID, practiceID *uuid.UUID) (*model.Result, error) {
	res, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !res.Canonical() {
		// a recognized duplicate follows its canonical row; mapping it
		// independently would fork the two
		return nil, apperrors.Conflict("result is a recognized duplicate of another result", nil)
	}
	if res.Status != model.ResultStatusPendingMapping {
		return nil, apperrors.Conflict(fmt.Sprintf("result is %s, not pending mapping", res.Status), nil)
	}

	err = s.tx.InTx(ctx, func(ctx context.Context) error {
		if err := s.audit.Record(ctx, actor, model.AuditActionResultAssigned,
			model.AuditEntityResult, id, &auditsvc.Options{Details: model.JSONMap{
				"patient_id": patientID.String(),
				"doctor_id":  doctorID.String(),
			}}); err != nil {
			return err
		}
		// AssignMapping also moves the row to AVAILABLE, guarded on the
		// pending status so a concurrent assignment cannot apply twice.
		return s.results.AssignMapping(ctx, id, patientID, doctorID, practiceID)
	})
	if err != nil {
		if errors.Is(err, apperrors.ErrAuditWriteFailed) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to assign mapping: %w", err)
	}

	return s.Get(ctx, id)
}

// Retract withdraws a result from delivery. The row and its audit trail
// remain; only visibility changes.
func (s *Service) Retract(ctx context.Context, actor model.Actor, id uuid.UUID, reason string) (*model.Result, error) {
	res, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	switch res.Status {
	case model.ResultStatusRetracted:
		return res, nil
	case model.ResultStatusNew, model.ResultStatusAvailable, model.ResultStatusPendingMapping:
	default:
		return nil, apperrors.Conflict(fmt.Sprintf("result is %s and cannot be retracted", res.Status), nil)
	}

	err = s.tx.InTx(ctx, func(ctx context.Context) error {
		if err := s.audit.Record(ctx, actor, model.AuditActionResultRetracted,
			model.AuditEntityResult, id,
			&auditsvc.Options{Details: model.JSONMap{"reason": reason}}); err != nil {
			return err
		}
		return s.results.UpdateStatus(ctx, id, res.Status, model.ResultStatusRetracted)
	})
	if err != nil {
		if errors.Is(err, apperrors.ErrAuditWriteFailed) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to retract result: %w", err)
	}

	return s.Get(ctx, id)
}

// Supersede marks an earlier result as replaced by a corrected successor.
// The old row stays readable for audit; delivery points at the successor.
func (s *Service) Supersede(ctx context.Context, actor model.Actor, id, successorID uuid.UUID) (*model.Result, error) {
	res, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if _, err := s.Get(ctx, successorID); err != nil {
		return nil, err
	}
	if id == successorID {
		return nil, apperrors.BadRequest("a result cannot supersede itself", nil)
	}
	if res.Status == model.ResultStatusUpdated {
		return res, nil
	}
	if res.Status != model.ResultStatusAvailable {
		return nil, apperrors.Conflict(fmt.Sprintf("result is %s and cannot be superseded", res.Status), nil)
	}

	err = s.tx.InTx(ctx, func(ctx context.Context) error {
		if err := s.audit.Record(ctx, actor, model.AuditActionResultSuperseded,
			model.AuditEntityResult, id,
			&auditsvc.Options{Details: model.JSONMap{"superseded_by": successorID.String()}}); err != nil {
			return err
		}
		// MarkSuperseded also moves the row to UPDATED, guarded on AVAILABLE.
		return s.results.MarkSuperseded(ctx, id, successorID)
	})
	if err != nil {
		if errors.Is(err, apperrors.ErrAuditWriteFailed) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to mark result superseded: %w", err)
	}

	return s.Get(ctx, id)
}

// AttachReport stores a rendered report document and links it to the result.
func (s *Service) AttachReport(ctx context.Context, id uuid.UUID, filename string, content []byte) error {
	if _, err := s.Get(ctx, id); err != nil {
		return err
	}
	key := fmt.Sprintf("results/%s/%s", id, filename)
	ref, err := s.store.Put(ctx, key, content)
	if err != nil {
		return fmt.Errorf("failed to store report: %w", err)
	}
	if err := s.results.SetReportRef(ctx, id, ref); err != nil {
		return fmt.Errorf("failed to link report to result: %w", err)
	}
	return nil
}

// DownloadReport returns the stored report bytes. The access itself is
// audited, not just the state changes.
func (s *Service) DownloadReport(ctx context.Context, actor model.Actor, id uuid.UUID) ([]byte, error) {
	res, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if res.ReportRef == nil {
		return nil, apperrors.NotFound("report", nil)
	}

	data, err := s.store.Get(ctx, *res.ReportRef)
	if err != nil {
		if errors.Is(err, objectstore.ErrNotFound) {
			return nil, apperrors.NotFound("report", err)
		}
		return nil, fmt.Errorf("failed to read report: %w", err)
	}

	if err := s.audit.Record(ctx, actor, model.AuditActionReportDownloaded,
		model.AuditEntityResult, id, nil); err != nil {
		return nil, err
	}
	return data, nil
}
