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

type userRepository struct {
	BaseRepository
}

func NewUserRepository(base BaseRepository) repository.UserRepository {
	return &userRepository{base}
}

const userColumns = `
	id, role, name, email, lanr, practice_id, active, created_at, updated_at
`

func (r *userRepository) FindActiveDoctorsByLANR(ctx context.Context, lanr string) ([]*model.User, error) {
	var users []*model.User
	query := `
		SELECT ` + userColumns + ` FROM users
		WHERE role = $1 AND active = TRUE AND lanr = $2
	`
	if err := r.db.SelectContext(ctx, &users, query, model.RoleDoctor, lanr); err != nil {
		return nil, fmt.Errorf("failed to find doctors by lanr: %w", err)
	}
	return users, nil
}

func (r *userRepository) FindActiveDoctorsByPractice(ctx context.Context, practiceID uuid.UUID) ([]*model.User, error) {
	var users []*model.User
	query := `
		SELECT ` + userColumns + ` FROM users
		WHERE role = $1 AND active = TRUE AND practice_id = $2
	`
	if err := r.db.SelectContext(ctx, &users, query, model.RoleDoctor, practiceID); err != nil {
		return nil, fmt.Errorf("failed to find doctors by practice: %w", err)
	}
	return users, nil
}

func (r *userRepository) Get(ctx context.Context, id uuid.UUID) (*model.User, error) {
	var user model.User
	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1`
	if err := r.db.GetContext(ctx, &user, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("user %s not found", id)
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return &user, nil
}
