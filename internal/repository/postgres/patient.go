package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/befundwerk/ingest-api/internal/model"
	"github.com/befundwerk/ingest-api/internal/repository"
)

type patientRepository struct {
	BaseRepository
}

func NewPatientRepository(base BaseRepository) repository.PatientRepository {
	return &patientRepository{base}
}

const patientColumns = `
	id, external_ref, last_name, first_name, date_of_birth,
	insurance_number, pii_hash, created_at, updated_at
`

func (r *patientRepository) FindByInsuranceNumber(ctx context.Context, insuranceNumber string) ([]*model.Patient, error) {
	return r.findAll(ctx, `insurance_number = $1`, insuranceNumber)
}

func (r *patientRepository) FindByPIIHash(ctx context.Context, piiHash string) ([]*model.Patient, error) {
	return r.findAll(ctx, `pii_hash = $1`, piiHash)
}

func (r *patientRepository) FindByNameAndDOB(ctx context.Context, lastName, firstName string, dob time.Time) ([]*model.Patient, error) {
	var patients []*model.Patient
	query := `
		SELECT ` + patientColumns + ` FROM patients
		WHERE LOWER(last_name) = LOWER($1)
		AND LOWER(first_name) = LOWER($2)
		AND date_of_birth = $3
	`
	if err := r.db.SelectContext(ctx, &patients, query, lastName, firstName, dob); err != nil {
		return nil, fmt.Errorf("failed to find patients by name and dob: %w", err)
	}
	return patients, nil
}

func (r *patientRepository) Get(ctx context.Context, id uuid.UUID) (*model.Patient, error) {
	var patient model.Patient
	query := `SELECT ` + patientColumns + ` FROM patients WHERE id = $1`
	if err := r.db.GetContext(ctx, &patient, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("patient %s not found", id)
		}
		return nil, fmt.Errorf("failed to get patient: %w", err)
	}
	return &patient, nil
}

func (r *patientRepository) findAll(ctx context.Context, where string, arg interface{}) ([]*model.Patient, error) {
	var patients []*model.Patient
	query := `SELECT ` + patientColumns + ` FROM patients WHERE ` + where
	if err := r.db.SelectContext(ctx, &patients, query, arg); err != nil {
		return nil, fmt.Errorf("failed to find patients: %w", err)
	}
	return patients, nil
}
