package mapper

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/befundwerk/ingest-api/internal/model"
	"github.com/befundwerk/ingest-api/internal/parser"
	"github.com/befundwerk/ingest-api/pkg/logger"
	"github.com/befundwerk/ingest-api/pkg/security"
)

type fakeUserRepo struct {
	byLANR     map[string][]*model.User
	byPractice map[uuid.UUID][]*model.User
	lanrCalls  int
}

func (f *fakeUserRepo) FindActiveDoctorsByLANR(_ context.Context, lanr string) ([]*model.User, error) {
	f.lanrCalls++
	return f.byLANR[lanr], nil
}

func (f *fakeUserRepo) FindActiveDoctorsByPractice(_ context.Context, practiceID uuid.UUID) ([]*model.User, error) {
	return f.byPractice[practiceID], nil
}

func (f *fakeUserRepo) Get(_ context.Context, id uuid.UUID) (*model.User, error) {
	return nil, nil
}

type fakePracticeRepo struct {
	byBSNR map[string]*model.Practice
}

func (f *fakePracticeRepo) FindByBSNR(_ context.Context, bsnr string) (*model.Practice, error) {
	return f.byBSNR[bsnr], nil
}

func (f *fakePracticeRepo) Get(_ context.Context, id uuid.UUID) (*model.Practice, error) {
	return nil, nil
}

type fakePatientRepo struct {
	byInsurance map[string][]*model.Patient
	byHash      map[string][]*model.Patient
	byName      []*model.Patient
}

func (f *fakePatientRepo) FindByInsuranceNumber(_ context.Context, n string) ([]*model.Patient, error) {
	return f.byInsurance[n], nil
}

func (f *fakePatientRepo) FindByPIIHash(_ context.Context, h string) ([]*model.Patient, error) {
	return f.byHash[h], nil
}

func (f *fakePatientRepo) FindByNameAndDOB(_ context.Context, last, first string, dob time.Time) ([]*model.Patient, error) {
	return f.byName, nil
}

func (f *fakePatientRepo) Get(_ context.Context, id uuid.UUID) (*model.Patient, error) {
	return nil, nil
}

func newDoctor(lanr string, practiceID *uuid.UUID) *model.User {
	return &model.User{
		Base:       model.Base{ID: uuid.New()},
		Role:       model.RoleDoctor,
		LANR:       &lanr,
		PracticeID: practiceID,
		Active:     true,
	}
}

func newPatient(insurance string) *model.Patient {
	return &model.Patient{
		Base:            model.Base{ID: uuid.New()},
		LastName:        "Mustermann",
		FirstName:       "Erika",
		InsuranceNumber: &insurance,
	}
}

func testHasher(t *testing.T) security.PIIHasher {
	t.Helper()
	h, err := security.NewPIIHasher("test-key")
	require.NoError(t, err)
	return h
}

func TestResolveUniqueLANRMatch(t *testing.T) {
	practiceID := uuid.New()
	doctor := newDoctor("123456789", &practiceID)
	patient := newPatient("A123456789")

	users := &fakeUserRepo{byLANR: map[string][]*model.User{"123456789": {doctor}}}
	practices := &fakePracticeRepo{byBSNR: map[string]*model.Practice{
		"987654321": {Base: model.Base{ID: practiceID}, BSNR: "987654321"},
	}}
	patients := &fakePatientRepo{byInsurance: map[string][]*model.Patient{"A123456789": {patient}}}

	svc := NewService(users, practices, patients, testHasher(t), logger.NewNop())

	out, err := svc.Resolve(context.Background(), &parser.Candidate{
		LANR:            "123456789",
		BSNR:            "987654321",
		InsuranceNumber: "A123456789",
	})
	require.NoError(t, err)
	require.True(t, out.Mapped)
	assert.Equal(t, doctor.ID, *out.DoctorID)
	assert.Equal(t, patient.ID, *out.PatientID)
	assert.Equal(t, practiceID, *out.PracticeID)
}

func TestResolveLANRAndBSNRDisagree(t *testing.T) {
	docPractice := uuid.New()
	otherPractice := uuid.New()
	doctor := newDoctor("123456789", &docPractice)

	users := &fakeUserRepo{byLANR: map[string][]*model.User{"123456789": {doctor}}}
	practices := &fakePracticeRepo{byBSNR: map[string]*model.Practice{
		"987654321": {Base: model.Base{ID: otherPractice}, BSNR: "987654321"},
	}}

	svc := NewService(users, practices, &fakePatientRepo{}, testHasher(t), logger.NewNop())

	out, err := svc.Resolve(context.Background(), &parser.Candidate{
		LANR: "123456789",
		BSNR: "987654321",
	})
	require.NoError(t, err)
	assert.False(t, out.Mapped)
	assert.Equal(t, "lanr and bsnr resolve to different practices", out.Reason)
	assert.Nil(t, out.DoctorID)
}

func TestResolveBSNRFallbackSingleDoctor(t *testing.T) {
	practiceID := uuid.New()
	doctor := newDoctor("111111111", &practiceID)
	patient := newPatient("B111")

	users := &fakeUserRepo{
		byLANR:     map[string][]*model.User{},
		byPractice: map[uuid.UUID][]*model.User{practiceID: {doctor}},
	}
	practices := &fakePracticeRepo{byBSNR: map[string]*model.Practice{
		"555555555": {Base: model.Base{ID: practiceID}, BSNR: "555555555"},
	}}
	patients := &fakePatientRepo{byInsurance: map[string][]*model.Patient{"B111": {patient}}}

	svc := NewService(users, practices, patients, testHasher(t), logger.NewNop())

	out, err := svc.Resolve(context.Background(), &parser.Candidate{
		LANR:            "999999999",
		BSNR:            "555555555",
		InsuranceNumber: "B111",
	})
	require.NoError(t, err)
	require.True(t, out.Mapped)
	assert.Equal(t, doctor.ID, *out.DoctorID)
}

func TestResolveBSNRFallbackMultipleDoctors(t *testing.T) {
	practiceID := uuid.New()
	users := &fakeUserRepo{
		byLANR: map[string][]*model.User{},
		byPractice: map[uuid.UUID][]*model.User{practiceID: {
			newDoctor("111111111", &practiceID),
			newDoctor("222222222", &practiceID),
		}},
	}
	practices := &fakePracticeRepo{byBSNR: map[string]*model.Practice{
		"555555555": {Base: model.Base{ID: practiceID}, BSNR: "555555555"},
	}}

	svc := NewService(users, practices, &fakePatientRepo{}, testHasher(t), logger.NewNop())

	out, err := svc.Resolve(context.Background(), &parser.Candidate{
		LANR: "999999999",
		BSNR: "555555555",
	})
	require.NoError(t, err)
	assert.False(t, out.Mapped)
	assert.Equal(t, "bsnr does not identify a unique doctor", out.Reason)
}

func TestResolveNoDoctorMatch(t *testing.T) {
	users := &fakeUserRepo{byLANR: map[string][]*model.User{}}
	practices := &fakePracticeRepo{}

	svc := NewService(users, practices, &fakePatientRepo{}, testHasher(t), logger.NewNop())

	out, err := svc.Resolve(context.Background(), &parser.Candidate{LANR: "999999999"})
	require.NoError(t, err)
	assert.False(t, out.Mapped)
	assert.Equal(t, "no active doctor holds the lanr", out.Reason)
}

func TestResolvePatientByMatchKey(t *testing.T) {
	practiceID := uuid.New()
	doctor := newDoctor("123456789", &practiceID)

	hasher := testHasher(t)
	dob := time.Date(1980, 5, 17, 0, 0, 0, 0, time.UTC)
	key := hasher.MatchKey("Mustermann", "Erika", dob)
	patient := newPatient("")

	users := &fakeUserRepo{byLANR: map[string][]*model.User{"123456789": {doctor}}}
	patients := &fakePatientRepo{byHash: map[string][]*model.Patient{key: {patient}}}

	svc := NewService(users, &fakePracticeRepo{}, patients, hasher, logger.NewNop())

	out, err := svc.Resolve(context.Background(), &parser.Candidate{
		LANR:             "123456789",
		PatientLastName:  "Mustermann",
		PatientFirstName: "Erika",
		PatientDOB:       &dob,
	})
	require.NoError(t, err)
	require.True(t, out.Mapped)
	assert.Equal(t, patient.ID, *out.PatientID)
}

func TestResolveAmbiguousPatient(t *testing.T) {
	practiceID := uuid.New()
	doctor := newDoctor("123456789", &practiceID)

	users := &fakeUserRepo{byLANR: map[string][]*model.User{"123456789": {doctor}}}
	patients := &fakePatientRepo{byInsurance: map[string][]*model.Patient{
		"X1": {newPatient("X1"), newPatient("X1")},
	}}

	svc := NewService(users, &fakePracticeRepo{}, patients, testHasher(t), logger.NewNop())

	out, err := svc.Resolve(context.Background(), &parser.Candidate{
		LANR:            "123456789",
		InsuranceNumber: "X1",
	})
	require.NoError(t, err)
	assert.False(t, out.Mapped)
	assert.Equal(t, "insurance number matches multiple patients", out.Reason)
}

func TestResolveCachesDoctorLookups(t *testing.T) {
	practiceID := uuid.New()
	doctor := newDoctor("123456789", &practiceID)
	patient := newPatient("C1")

	users := &fakeUserRepo{byLANR: map[string][]*model.User{"123456789": {doctor}}}
	patients := &fakePatientRepo{byInsurance: map[string][]*model.Patient{"C1": {patient}}}

	svc := NewService(users, &fakePracticeRepo{}, patients, testHasher(t), logger.NewNop())

	cand := &parser.Candidate{LANR: "123456789", InsuranceNumber: "C1"}
	for i := 0; i < 3; i++ {
		_, err := svc.Resolve(context.Background(), cand)
		require.NoError(t, err)
	}
	assert.Equal(t, 1, users.lanrCalls)

	svc.Invalidate("123456789", "")
	_, err := svc.Resolve(context.Background(), cand)
	require.NoError(t, err)
	assert.Equal(t, 2, users.lanrCalls)
}
