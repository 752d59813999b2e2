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

type rawMessageRepository struct {
	BaseRepository
}

func NewRawMessageRepository(base BaseRepository) repository.RawMessageRepository {
	return &rawMessageRepository{base}
}

const rawMessageColumns = `
	id, source_id, content_type, payload, payload_size, sha256,
	external_message_id, lanr, bsnr, status, error_detail, attempts,
	metadata, received_at, updated_at
`

func (r *rawMessageRepository) Insert(ctx context.Context, msg *model.RawMessage) (bool, *model.RawMessage, error) {
	if len(msg.Payload) == 0 {
		return false, nil, fmt.Errorf("raw message payload cannot be empty")
	}

	now := time.Now().UTC()
	msg.ID = uuid.New()
	msg.PayloadSize = len(msg.Payload)
	msg.Status = model.RawStatusReceived
	msg.ReceivedAt = now
	msg.UpdatedAt = now

	// The sha256 unique index is the dedup guard: under concurrent identical
	// submissions exactly one insert lands, everyone else gets zero rows.
	query := `
		INSERT INTO raw_messages (` + rawMessageColumns + `)
		VALUES (
			:id, :source_id, :content_type, :payload, :payload_size, :sha256,
			:external_message_id, :lanr, :bsnr, :status, :error_detail,
			:attempts, :metadata, :received_at, :updated_at
		)
		ON CONFLICT (sha256) DO NOTHING
	`

	res, err := sqlx.NamedExecContext(ctx, r.ext(ctx), query, msg)
	if err != nil {
		if isUniqueViolation(err) {
			// (source_id, external_message_id) collision; resolve to the
			// earlier submission the same way a hash collision is resolved.
			existing, ferr := r.findByExternalID(ctx, msg.SourceID, msg.ExternalMessageID)
			if ferr != nil {
				return false, nil, ferr
			}
			return false, existing, nil
		}
		return false, nil, fmt.Errorf("failed to insert raw message: %w", err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return false, nil, err
	}
	if rows == 0 {
		existing, err := r.findByHash(ctx, msg.SHA256)
		if err != nil {
			return false, nil, err
		}
		return false, existing, nil
	}

	return true, msg, nil
}

func (r *rawMessageRepository) findByHash(ctx context.Context, sha256 string) (*model.RawMessage, error) {
	var msg model.RawMessage
	query := `SELECT ` + rawMessageColumns + ` FROM raw_messages WHERE sha256 = $1`
	if err := sqlx.GetContext(ctx, r.ext(ctx), &msg, query, sha256); err != nil {
		return nil, fmt.Errorf("failed to load raw message by hash: %w", err)
	}
	return &msg, nil
}

func (r *rawMessageRepository) findByExternalID(ctx context.Context, sourceID string, externalID *string) (*model.RawMessage, error) {
	var msg model.RawMessage
	query := `
		SELECT ` + rawMessageColumns + ` FROM raw_messages
		WHERE source_id = $1 AND external_message_id = $2
	`
	if err := sqlx.GetContext(ctx, r.ext(ctx), &msg, query, sourceID, externalID); err != nil {
		return nil, fmt.Errorf("failed to load raw message by external id: %w", err)
	}
	return &msg, nil
}

func (r *rawMessageRepository) Get(ctx context.Context, id uuid.UUID) (*model.RawMessage, error) {
	var msg model.RawMessage
	query := `SELECT ` + rawMessageColumns + ` FROM raw_messages WHERE id = $1`
	if err := sqlx.GetContext(ctx, r.ext(ctx), &msg, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("raw message %s not found", id)
		}
		return nil, fmt.Errorf("failed to get raw message: %w", err)
	}
	return &msg, nil
}

func (r *rawMessageRepository) Transition(ctx context.Context, id uuid.UUID, from, to model.RawMessageStatus, errorDetail *string) error {
	// Guarded update: states progress monotonically, a stale worker that
	// lost the race simply matches zero rows.
	query := `
		UPDATE raw_messages
		SET status = $1, error_detail = $2, updated_at = NOW()
		WHERE id = $3 AND status = $4
	`
	res, err := r.ext(ctx).ExecContext(ctx, query, to, errorDetail, id, from)
	if err != nil {
		return fmt.Errorf("failed to transition raw message: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return fmt.Errorf("raw message %s is not in status %s", id, from)
	}
	return nil
}

func (r *rawMessageRepository) SetExtractedIdentifiers(ctx context.Context, id uuid.UUID, lanr, bsnr *string) error {
	query := `
		UPDATE raw_messages
		SET lanr = $1, bsnr = $2, updated_at = NOW()
		WHERE id = $3
	`
	_, err := r.ext(ctx).ExecContext(ctx, query, lanr, bsnr, id)
	if err != nil {
		return fmt.Errorf("failed to store extracted identifiers: %w", err)
	}
	return nil
}

func (r *rawMessageRepository) IncrementAttempts(ctx context.Context, id uuid.UUID) (int, error) {
	var attempts int
	query := `
		UPDATE raw_messages
		SET attempts = attempts + 1, updated_at = NOW()
		WHERE id = $1
		RETURNING attempts
	`
	if err := sqlx.GetContext(ctx, r.ext(ctx), &attempts, query, id); err != nil {
		return 0, fmt.Errorf("failed to increment attempts: %w", err)
	}
	return attempts, nil
}

func (r *rawMessageRepository) ListByStatus(ctx context.Context, status model.RawMessageStatus, limit, offset int) ([]*model.RawMessage, error) {
	var msgs []*model.RawMessage
	query := `
		SELECT ` + rawMessageColumns + ` FROM raw_messages
		WHERE status = $1
		ORDER BY received_at DESC
		LIMIT $2 OFFSET $3
	`
	if err := sqlx.SelectContext(ctx, r.ext(ctx), &msgs, query, status, limit, offset); err != nil {
		return nil, fmt.Errorf("failed to list raw messages: %w", err)
	}
	return msgs, nil
}

func (r *rawMessageRepository) ListStranded(ctx context.Context, age time.Duration, limit int) ([]*model.RawMessage, error) {
	var msgs []*model.RawMessage
	query := `
		SELECT ` + rawMessageColumns + ` FROM raw_messages
		WHERE status IN ($1, $2)
		AND updated_at < NOW() - ($3 * INTERVAL '1 second')
		ORDER BY updated_at ASC
		LIMIT $4
	`
	err := sqlx.SelectContext(ctx, r.ext(ctx), &msgs, query,
		model.RawStatusReceived, model.RawStatusParsed, int(age.Seconds()), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list stranded raw messages: %w", err)
	}
	return msgs, nil
}

func (r *rawMessageRepository) ResetForReprocess(ctx context.Context, id uuid.UUID) error {
	query := `
		UPDATE raw_messages
		SET status = $1, attempts = 0, error_detail = NULL, updated_at = NOW()
		WHERE id = $2 AND status IN ($3, $4)
	`
	res, err := r.ext(ctx).ExecContext(ctx, query,
		model.RawStatusReceived, id, model.RawStatusValidationFailed, model.RawStatusDLQ)
	if err != nil {
		return fmt.Errorf("failed to reset raw message: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return fmt.Errorf("raw message %s is not eligible for reprocessing", id)
	}
	return nil
}
