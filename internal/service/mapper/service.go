// Package mapper resolves a parsed result candidate to exactly one patient
// and one ordering doctor/practice pair, or refuses. Misattributing a
// medical result is the worst failure mode in this domain, so ambiguity is
// never resolved by guessing: the mapper always prefers "unresolved".
package mapper

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	gocache "github.com/patrickmn/go-cache"

	"github.com/befundwerk/ingest-api/internal/model"
	"github.com/befundwerk/ingest-api/internal/parser"
	"github.com/befundwerk/ingest-api/internal/repository"
	"github.com/befundwerk/ingest-api/pkg/logger"
	"github.com/befundwerk/ingest-api/pkg/security"
)

const (
	cacheTTL     = 30 * time.Second
	cacheCleanup = time.Minute
)

// Outcome reports either a full assignment or the reason the candidate is
// routed to manual review.
type Outcome struct {
	Mapped     bool
	Reason     string
	PatientID  *uuid.UUID
	DoctorID   *uuid.UUID
	PracticeID *uuid.UUID
}

func unresolved(reason string) *Outcome {
	return &Outcome{Reason: reason}
}

type Service struct {
	users     repository.UserRepository
	practices repository.PracticeRepository
	patients  repository.PatientRepository
	hasher    security.PIIHasher
	cache     *gocache.Cache
	logger    *logger.Logger
}

func NewService(
	users repository.UserRepository,
	practices repository.PracticeRepository,
	patients repository.PatientRepository,
	hasher security.PIIHasher,
	logger *logger.Logger,
) *Service {
	return &Service{
		users:     users,
		practices: practices,
		patients:  patients,
		hasher:    hasher,
		cache:     gocache.New(cacheTTL, cacheCleanup),
		logger:    logger.WithComponent("mapper"),
	}
}

// Resolve runs the assignment algorithm: exact LANR match first, BSNR
// disambiguation second, manual review otherwise. A unique LANR match that
// disagrees with the BSNR-implied practice is ambiguous, not a tie-break.
func (s *Service) Resolve(ctx context.Context, cand *parser.Candidate) (*Outcome, error) {
	doctors, err := s.doctorsByLANR(ctx, cand.LANR)
	if err != nil {
		return nil, err
	}

	var practice *model.Practice
	if cand.BSNR != "" {
		practice, err = s.practiceByBSNR(ctx, cand.BSNR)
		if err != nil {
			return nil, err
		}
	}

	var doctor *model.User
	switch len(doctors) {
	case 1:
		doctor = doctors[0]
		if cand.BSNR != "" {
			if practice == nil {
				return unresolved("bsnr does not match any practice"), nil
			}
			if doctor.PracticeID == nil || *doctor.PracticeID != practice.ID {
				return unresolved("lanr and bsnr resolve to different practices"), nil
			}
		}
	case 0:
		if practice == nil {
			return unresolved("no active doctor holds the lanr"), nil
		}
		members, err := s.users.FindActiveDoctorsByPractice(ctx, practice.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to look up practice doctors: %w", err)
		}
		if len(members) != 1 {
			return unresolved("bsnr does not identify a unique doctor"), nil
		}
		doctor = members[0]
	default:
		// the LANR uniqueness invariant was bypassed; refuse to pick
		return unresolved("multiple active doctors hold the lanr"), nil
	}

	patient, reason, err := s.resolvePatient(ctx, cand)
	if err != nil {
		return nil, err
	}
	if patient == nil {
		return unresolved(reason), nil
	}

	practiceID := doctor.PracticeID
	if practice != nil {
		practiceID = &practice.ID
	}

	return &Outcome{
		Mapped:     true,
		PatientID:  &patient.ID,
		DoctorID:   &doctor.ID,
		PracticeID: practiceID,
	}, nil
}

// resolvePatient tries insurance number, then the PII match key, then exact
// name and birth date. Anything but a single hit is unresolved.
func (s *Service) resolvePatient(ctx context.Context, cand *parser.Candidate) (*model.Patient, string, error) {
	if cand.InsuranceNumber != "" {
		patients, err := s.patients.FindByInsuranceNumber(ctx, cand.InsuranceNumber)
		if err != nil {
			return nil, "", fmt.Errorf("failed to look up patients by insurance number: %w", err)
		}
		if len(patients) == 1 {
			return patients[0], "", nil
		}
		if len(patients) > 1 {
			return nil, "insurance number matches multiple patients", nil
		}
	}

	if cand.PatientLastName != "" && cand.PatientDOB != nil {
		key := s.hasher.MatchKey(cand.PatientLastName, cand.PatientFirstName, *cand.PatientDOB)
		patients, err := s.patients.FindByPIIHash(ctx, key)
		if err != nil {
			return nil, "", fmt.Errorf("failed to look up patients by match key: %w", err)
		}
		if len(patients) == 1 {
			return patients[0], "", nil
		}
		if len(patients) > 1 {
			return nil, "match key matches multiple patients", nil
		}

		patients, err = s.patients.FindByNameAndDOB(ctx, cand.PatientLastName, cand.PatientFirstName, *cand.PatientDOB)
		if err != nil {
			return nil, "", fmt.Errorf("failed to look up patients by name: %w", err)
		}
		if len(patients) == 1 {
			return patients[0], "", nil
		}
		if len(patients) > 1 {
			return nil, "demographics match multiple patients", nil
		}
	}

	return nil, "no patient matched", nil
}

func (s *Service) doctorsByLANR(ctx context.Context, lanr string) ([]*model.User, error) {
	key := "lanr:" + lanr
	if v, ok := s.cache.Get(key); ok {
		return v.([]*model.User), nil
	}
	doctors, err := s.users.FindActiveDoctorsByLANR(ctx, lanr)
	if err != nil {
		return nil, fmt.Errorf("failed to look up doctors by lanr: %w", err)
	}
	s.cache.Set(key, doctors, gocache.DefaultExpiration)
	return doctors, nil
}

func (s *Service) practiceByBSNR(ctx context.Context, bsnr string) (*model.Practice, error) {
	key := "bsnr:" + bsnr
	if v, ok := s.cache.Get(key); ok {
		// a cached nil pointer is a cached miss
		return v.(*model.Practice), nil
	}
	practice, err := s.practices.FindByBSNR(ctx, bsnr)
	if err != nil {
		return nil, fmt.Errorf("failed to look up practice by bsnr: %w", err)
	}
	s.cache.Set(key, practice, gocache.DefaultExpiration)
	return practice, nil
}

// Invalidate drops cached lookups after a manual assignment corrected the
// underlying data.
func (s *Service) Invalidate(lanr, bsnr string) {
	if lanr != "" {
		s.cache.Delete("lanr:" + lanr)
	}
	if bsnr != "" {
		s.cache.Delete("bsnr:" + bsnr)
	}
}
