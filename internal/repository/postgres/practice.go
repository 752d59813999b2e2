package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/befundwerk/ingest-api/internal/model"
	"github.com/befundwerk/ingest-api/internal/repository"
)

type practiceRepository struct {
	BaseRepository
}

func NewPracticeRepository(base BaseRepository) repository.PracticeRepository {
	return &practiceRepository{base}
}

const practiceColumns = `id, bsnr, name, created_at, updated_at`

func (r *practiceRepository) FindByBSNR(ctx context.Context, bsnr string) (*model.Practice, error) {
	var practice model.Practice
	query := `SELECT ` + practiceColumns + ` FROM practices WHERE bsnr = $1`
	if err := r.db.GetContext(ctx, &practice, query, bsnr); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to find practice by bsnr: %w", err)
	}
	return &practice, nil
}

func (r *practiceRepository) Get(ctx context.Context, id uuid.UUID) (*model.Practice, error) {
	var practice model.Practice
	query := `SELECT ` + practiceColumns + ` FROM practices WHERE id = $1`
	if err := r.db.GetContext(ctx, &practice, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("practice %s not found", id)
		}
		return nil, fmt.Errorf("failed to get practice: %w", err)
	}
	return &practice, nil
}
