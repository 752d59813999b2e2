package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/befundwerk/ingest-api/internal/model"
	"github.com/befundwerk/ingest-api/internal/repository"
)

type resultRepository struct {
	BaseRepository
}

func NewResultRepository(base BaseRepository) repository.ResultRepository {
	return &resultRepository{base}
}

const resultColumns = `
	id, patient_id, practice_id, doctor_id, ordering_lanr, raw_message_id,
	message_uid, sha256, result_date, status, duplicate_of_result_id,
	superseded_by_id, report_ref, created_at, updated_at
`

func (r *resultRepository) Insert(ctx context.Context, result *model.Result) error {
	now := time.Now().UTC()
	if result.ID == uuid.Nil {
		result.ID = uuid.New()
	}
	result.CreatedAt = now
	result.UpdatedAt = now

	query := `
		INSERT INTO results (` + resultColumns + `)
		VALUES (
			:id, :patient_id, :practice_id, :doctor_id, :ordering_lanr,
			:raw_message_id, :message_uid, :sha256, :result_date, :status,
			:duplicate_of_result_id, :superseded_by_id, :report_ref,
			:created_at, :updated_at
		)
	`
	if _, err := sqlx.NamedExecContext(ctx, r.ext(ctx), query, result); err != nil {
		if isUniqueViolation(err) {
			// a concurrent worker persisted the same logical message first
			return repository.ErrResultExists
		}
		return fmt.Errorf("failed to insert result: %w", err)
	}
	return nil
}

func (r *resultRepository) Get(ctx context.Context, id uuid.UUID) (*model.Result, error) {
	var result model.Result
	query := `SELECT ` + resultColumns + ` FROM results WHERE id = $1`
	if err := sqlx.GetContext(ctx, r.ext(ctx), &result, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("result %s not found", id)
		}
		return nil, fmt.Errorf("failed to get result: %w", err)
	}
	return &result, nil
}

func (r *resultRepository) FindByRawMessage(ctx context.Context, rawMessageID uuid.UUID) (*model.Result, error) {
	return r.findOne(ctx, `raw_message_id = $1`, rawMessageID)
}

func (r *resultRepository) FindByMessageUID(ctx context.Context, messageUID string) (*model.Result, error) {
	return r.findOne(ctx, `message_uid = $1`, messageUID)
}

func (r *resultRepository) FindCanonicalByHash(ctx context.Context, sha256 string) (*model.Result, error) {
	return r.findOne(ctx, `sha256 = $1 AND duplicate_of_result_id IS NULL`, sha256)
}

func (r *resultRepository) findOne(ctx context.Context, where string, arg interface{}) (*model.Result, error) {
	var result model.Result
	query := `SELECT ` + resultColumns + ` FROM results WHERE ` + where
	if err := sqlx.GetContext(ctx, r.ext(ctx), &result, query, arg); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to find result: %w", err)
	}
	return &result, nil
}

func (r *resultRepository) UpdateStatus(ctx context.Context, id uuid.UUID, from, to model.ResultStatus) error {
	query := `
		UPDATE results
		SET status = $1, updated_at = NOW()
		WHERE id = $2 AND status = $3
	`
	res, err := r.ext(ctx).ExecContext(ctx, query, to, id, from)
	if err != nil {
		return fmt.Errorf("failed to update result status: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return fmt.Errorf("result %s is not in status %s", id, from)
	}
	return nil
}

func (r *resultRepository) AssignMapping(ctx context.Context, id, patientID, doctorID uuid.UUID, practiceID *uuid.UUID) error {
	query := `
		UPDATE results
		SET patient_id = $1, doctor_id = $2, practice_id = $3,
			status = $4, updated_at = NOW()
		WHERE id = $5 AND status = $6
	`
	res, err := r.ext(ctx).ExecContext(ctx, query,
		patientID, doctorID, practiceID,
		model.ResultStatusAvailable, id, model.ResultStatusPendingMapping)
	if err != nil {
		return fmt.Errorf("failed to assign mapping: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return fmt.Errorf("result %s is not pending mapping", id)
	}
	return nil
}

func (r *resultRepository) MarkSuperseded(ctx context.Context, id, successorID uuid.UUID) error {
	query := `
		UPDATE results
		SET status = $1, superseded_by_id = $2, updated_at = NOW()
		WHERE id = $3 AND status = $4
	`
	res, err := r.ext(ctx).ExecContext(ctx, query,
		model.ResultStatusUpdated, successorID, id, model.ResultStatusAvailable)
	if err != nil {
		return fmt.Errorf("failed to mark result superseded: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return fmt.Errorf("result %s is not available", id)
	}
	return nil
}

func (r *resultRepository) SetReportRef(ctx context.Context, id uuid.UUID, ref string) error {
	query := `UPDATE results SET report_ref = $1, updated_at = NOW() WHERE id = $2`
	if _, err := r.ext(ctx).ExecContext(ctx, query, ref, id); err != nil {
		return fmt.Errorf("failed to set report ref: %w", err)
	}
	return nil
}

func (r *resultRepository) ListByStatus(ctx context.Context, status model.ResultStatus, limit, offset int) ([]*model.Result, error) {
	var results []*model.Result
	query := `
		SELECT ` + resultColumns + ` FROM results
		WHERE status = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`
	if err := sqlx.SelectContext(ctx, r.ext(ctx), &results, query, status, limit, offset); err != nil {
		return nil, fmt.Errorf("failed to list results: %w", err)
	}
	return results, nil
}
