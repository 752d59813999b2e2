package result

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/befundwerk/ingest-api/internal/model"
	"github.com/befundwerk/ingest-api/internal/parser"
	"github.com/befundwerk/ingest-api/internal/repository"
	auditsvc "github.com/befundwerk/ingest-api/internal/service/audit"
	"github.com/befundwerk/ingest-api/internal/service/mapper"
	apperrors "github.com/befundwerk/ingest-api/pkg/errors"
	"github.com/befundwerk/ingest-api/pkg/logger"
	"github.com/befundwerk/ingest-api/pkg/metrics"
)

// passthroughTx satisfies repository.TxRunner without transactional
// semantics; the fakes apply writes directly.
type passthroughTx struct{}

func (passthroughTx) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

// memResultRepo mirrors the uniqueness behavior of the real table: one row
// per raw message, one canonical row per message uid. history records the
// status sequence each row moved through.
type memResultRepo struct {
	rows    map[uuid.UUID]*model.Result
	history map[uuid.UUID][]model.ResultStatus
}

func newMemResultRepo() *memResultRepo {
	return &memResultRepo{
		rows:    map[uuid.UUID]*model.Result{},
		history: map[uuid.UUID][]model.ResultStatus{},
	}
}

func (m *memResultRepo) Insert(_ context.Context, r *model.Result) error {
	for _, row := range m.rows {
		if row.RawMessageID == r.RawMessageID {
			return repository.ErrResultExists
		}
		if r.MessageUID != nil && row.MessageUID != nil && *row.MessageUID == *r.MessageUID {
			return repository.ErrResultExists
		}
	}
	cp := *r
	now := time.Now().UTC()
	cp.CreatedAt = now
	cp.UpdatedAt = now
	m.rows[cp.ID] = &cp
	m.history[cp.ID] = append(m.history[cp.ID], cp.Status)
	return nil
}

func (m *memResultRepo) Get(_ context.Context, id uuid.UUID) (*model.Result, error) {
	if row, ok := m.rows[id]; ok {
		cp := *row
		return &cp, nil
	}
	return nil, nil
}

func (m *memResultRepo) FindByRawMessage(_ context.Context, rawID uuid.UUID) (*model.Result, error) {
	for _, row := range m.rows {
		if row.RawMessageID == rawID {
			cp := *row
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *memResultRepo) FindByMessageUID(_ context.Context, uid string) (*model.Result, error) {
	for _, row := range m.rows {
		if row.MessageUID != nil && *row.MessageUID == uid {
			cp := *row
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *memResultRepo) FindCanonicalByHash(_ context.Context, sha string) (*model.Result, error) {
	for _, row := range m.rows {
		if row.SHA256 == sha && row.DuplicateOfResultID == nil {
			cp := *row
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *memResultRepo) UpdateStatus(_ context.Context, id uuid.UUID, from, to model.ResultStatus) error {
	row, ok := m.rows[id]
	if !ok || row.Status != from {
		return fmt.Errorf("result %s is not in status %s", id, from)
	}
	row.Status = to
	m.history[id] = append(m.history[id], to)
	return nil
}

func (m *memResultRepo) AssignMapping(_ context.Context, id, patientID, doctorID uuid.UUID, practiceID *uuid.UUID) error {
	row, ok := m.rows[id]
	if !ok || row.Status != model.ResultStatusPendingMapping {
		return fmt.Errorf("result %s is not pending mapping", id)
	}
	row.PatientID = &patientID
	row.DoctorID = &doctorID
	row.PracticeID = practiceID
	row.Status = model.ResultStatusAvailable
	return nil
}

func (m *memResultRepo) MarkSuperseded(_ context.Context, id, successorID uuid.UUID) error {
	row, ok := m.rows[id]
	if !ok || row.Status != model.ResultStatusAvailable {
		return fmt.Errorf("result %s is not available", id)
	}
	row.SupersededByID = &successorID
	row.Status = model.ResultStatusUpdated
	return nil
}

func (m *memResultRepo) SetReportRef(_ context.Context, id uuid.UUID, ref string) error {
	if row, ok := m.rows[id]; ok {
		row.ReportRef = &ref
	}
	return nil
}

func (m *memResultRepo) ListByStatus(_ context.Context, status model.ResultStatus, limit, offset int) ([]*model.Result, error) {
	var out []*model.Result
	for _, row := range m.rows {
		if row.Status == status {
			cp := *row
			out = append(out, &cp)
		}
	}
	return out, nil
}

type memAuditRepo struct {
	entries []*model.AuditLog
	fail    bool
}

func (m *memAuditRepo) Create(_ context.Context, e *model.AuditLog) error {
	if m.fail {
		return fmt.Errorf("audit store unavailable")
	}
	m.entries = append(m.entries, e)
	return nil
}

func (m *memAuditRepo) List(_ context.Context, _ *model.AuditFilter) ([]*model.AuditLog, error) {
	return m.entries, nil
}

func (m *memAuditRepo) actions() []string {
	var out []string
	for _, e := range m.entries {
		out = append(out, e.Action)
	}
	return out
}

type memStore struct {
	objects map[string][]byte
}

func newMemStore() *memStore { return &memStore{objects: map[string][]byte{}} }

func (m *memStore) Put(_ context.Context, key string, data []byte) (string, error) {
	m.objects[key] = data
	return key, nil
}

func (m *memStore) Get(_ context.Context, key string) ([]byte, error) {
	return m.objects[key], nil
}

func newTestService(repo *memResultRepo, audit *memAuditRepo) *Service {
	return NewService(repo, passthroughTx{}, auditsvc.NewService(audit), newMemStore(),
		logger.NewNop(), metrics.New("test"))
}

func rawMsg(sha string) *model.RawMessage {
	return &model.RawMessage{ID: uuid.New(), SHA256: sha, Status: model.RawStatusParsed}
}

func mapped() *mapper.Outcome {
	p, d, pr := uuid.New(), uuid.New(), uuid.New()
	return &mapper.Outcome{Mapped: true, PatientID: &p, DoctorID: &d, PracticeID: &pr}
}

func TestPersistMappedResult(t *testing.T) {
	repo := newMemResultRepo()
	audit := &memAuditRepo{}
	svc := newTestService(repo, audit)

	raw := rawMsg("aaa")
	cand := &parser.Candidate{MessageUID: "MSG-1", LANR: "123456789", ResultDate: time.Now().UTC()}

	res, err := svc.Persist(context.Background(), raw, cand, mapped())
	require.NoError(t, err)
	assert.Equal(t, model.ResultStatusAvailable, res.Status)
	assert.True(t, res.Canonical())
	require.NotNil(t, res.MessageUID)
	assert.Equal(t, "MSG-1", *res.MessageUID)
	assert.Equal(t, []string{model.AuditActionResultPersisted}, audit.actions())
}

func TestPersistUnmappedGoesPending(t *testing.T) {
	repo := newMemResultRepo()
	audit := &memAuditRepo{}
	svc := newTestService(repo, audit)

	cand := &parser.Candidate{MessageUID: "MSG-2", LANR: "123456789", ResultDate: time.Now().UTC()}
	out := &mapper.Outcome{Reason: "no patient matched"}

	res, err := svc.Persist(context.Background(), rawMsg("bbb"), cand, out)
	require.NoError(t, err)
	assert.Equal(t, model.ResultStatusPendingMapping, res.Status)
	assert.Nil(t, res.PatientID)
	assert.Equal(t, []string{model.AuditActionResultPending}, audit.actions())
	assert.Equal(t, "no patient matched", audit.entries[0].Details["reason"])
}

func TestPersistIdempotentOnRedelivery(t *testing.T) {
	repo := newMemResultRepo()
	svc := newTestService(repo, &memAuditRepo{})

	raw := rawMsg("ccc")
	cand := &parser.Candidate{MessageUID: "MSG-3", ResultDate: time.Now().UTC()}

	first, err := svc.Persist(context.Background(), raw, cand, mapped())
	require.NoError(t, err)
	second, err := svc.Persist(context.Background(), raw, cand, mapped())
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.Len(t, repo.rows, 1)
}

func TestPersistDuplicateByMessageUID(t *testing.T) {
	repo := newMemResultRepo()
	audit := &memAuditRepo{}
	svc := newTestService(repo, audit)

	cand := &parser.Candidate{MessageUID: "MSG-4", ResultDate: time.Now().UTC()}
	canonical, err := svc.Persist(context.Background(), rawMsg("ddd"), cand, mapped())
	require.NoError(t, err)

	// same logical message, different raw bytes
	dup, err := svc.Persist(context.Background(), rawMsg("eee"), cand, mapped())
	require.NoError(t, err)
	assert.False(t, dup.Canonical())
	assert.Equal(t, canonical.ID, *dup.DuplicateOfResultID)
	assert.Nil(t, dup.MessageUID)
	assert.Contains(t, audit.actions(), model.AuditActionResultDuplicate)
}

func TestPersistFlattensDuplicateChains(t *testing.T) {
	repo := newMemResultRepo()
	svc := newTestService(repo, &memAuditRepo{})

	cand := &parser.Candidate{MessageUID: "MSG-5", ResultDate: time.Now().UTC()}
	canonical, err := svc.Persist(context.Background(), rawMsg("f01"), cand, mapped())
	require.NoError(t, err)
	dup1, err := svc.Persist(context.Background(), rawMsg("f02"), cand, mapped())
	require.NoError(t, err)

	// the third arrival must point at the canonical row, not at dup1
	dup2, err := svc.Persist(context.Background(), rawMsg("f03"), cand, mapped())
	require.NoError(t, err)
	assert.Equal(t, canonical.ID, *dup1.DuplicateOfResultID)
	assert.Equal(t, canonical.ID, *dup2.DuplicateOfResultID)
}

func TestAssignPendingResult(t *testing.T) {
	repo := newMemResultRepo()
	audit := &memAuditRepo{}
	svc := newTestService(repo, audit)

	cand := &parser.Candidate{MessageUID: "MSG-6", ResultDate: time.Now().UTC()}
	res, err := svc.Persist(context.Background(), rawMsg("g01"), cand, &mapper.Outcome{Reason: "no patient matched"})
	require.NoError(t, err)

	actor := model.Actor{ID: "admin-1", Type: model.ActorTypeUser, Role: model.RoleAdmin}
	patientID, doctorID := uuid.New(), uuid.New()
	assigned, err := svc.Assign(context.Background(), actor, res.ID, patientID, doctorID, nil)
	require.NoError(t, err)
	assert.Equal(t, model.ResultStatusAvailable, assigned.Status)
	assert.Equal(t, patientID, *assigned.PatientID)
	assert.Contains(t, audit.actions(), model.AuditActionResultAssigned)

	// a second assignment must be refused
	_, err = svc.Assign(context.Background(), actor, res.ID, uuid.New(), uuid.New(), nil)
	assert.Error(t, err)
}

func TestRetractKeepsRow(t *testing.T) {
	repo := newMemResultRepo()
	audit := &memAuditRepo{}
	svc := newTestService(repo, audit)

	cand := &parser.Candidate{MessageUID: "MSG-7", ResultDate: time.Now().UTC()}
	res, err := svc.Persist(context.Background(), rawMsg("h01"), cand, mapped())
	require.NoError(t, err)

	actor := model.Actor{ID: "admin-1", Type: model.ActorTypeUser, Role: model.RoleAdmin}
	retracted, err := svc.Retract(context.Background(), actor, res.ID, "lab recall")
	require.NoError(t, err)
	assert.Equal(t, model.ResultStatusRetracted, retracted.Status)
	assert.Contains(t, audit.actions(), model.AuditActionResultRetracted)

	// retracting again is a no-op, not an error
	again, err := svc.Retract(context.Background(), actor, res.ID, "lab recall")
	require.NoError(t, err)
	assert.Equal(t, model.ResultStatusRetracted, again.Status)
}

func TestSupersedeMarksOldResult(t *testing.T) {
	repo := newMemResultRepo()
	audit := &memAuditRepo{}
	svc := newTestService(repo, audit)

	old, err := svc.Persist(context.Background(), rawMsg("i01"),
		&parser.Candidate{MessageUID: "MSG-8", ResultDate: time.Now().UTC()}, mapped())
	require.NoError(t, err)
	successor, err := svc.Persist(context.Background(), rawMsg("i02"),
		&parser.Candidate{MessageUID: "MSG-9", ResultDate: time.Now().UTC()}, mapped())
	require.NoError(t, err)

	actor := model.Actor{ID: "admin-1", Type: model.ActorTypeUser, Role: model.RoleAdmin}
	updated, err := svc.Supersede(context.Background(), actor, old.ID, successor.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ResultStatusUpdated, updated.Status)
	assert.Equal(t, successor.ID, *updated.SupersededByID)
	assert.Contains(t, audit.actions(), model.AuditActionResultSuperseded)

	_, err = svc.Supersede(context.Background(), actor, successor.ID, successor.ID)
	assert.Error(t, err)
}

func TestReportRoundTrip(t *testing.T) {
	repo := newMemResultRepo()
	audit := &memAuditRepo{}
	svc := newTestService(repo, audit)

	res, err := svc.Persist(context.Background(), rawMsg("j01"),
		&parser.Candidate{MessageUID: "MSG-10", ResultDate: time.Now().UTC()}, mapped())
	require.NoError(t, err)

	require.NoError(t, svc.AttachReport(context.Background(), res.ID, "report.pdf", []byte("pdf-bytes")))

	actor := model.Actor{ID: "doc-1", Type: model.ActorTypeUser, Role: model.RoleDoctor}
	data, err := svc.DownloadReport(context.Background(), actor, res.ID)
	require.NoError(t, err)
	assert.Equal(t, []byte("pdf-bytes"), data)
	assert.Contains(t, audit.actions(), model.AuditActionReportDownloaded)
}

func TestPersistFailsWhenAuditUnavailable(t *testing.T) {
	repo := newMemResultRepo()
	audit := &memAuditRepo{fail: true}
	svc := newTestService(repo, audit)

	raw := rawMsg("k01")
	cand := &parser.Candidate{MessageUID: "MSG-11", ResultDate: time.Now().UTC()}
	_, err := svc.Persist(context.Background(), raw, cand, mapped())
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrAuditWriteFailed)

	// nothing was persisted without its trail, so the redelivered work item
	// writes both the row and the entry
	assert.Empty(t, repo.rows)

	audit.fail = false
	res, err := svc.Persist(context.Background(), raw, cand, mapped())
	require.NoError(t, err)
	assert.Equal(t, model.ResultStatusAvailable, res.Status)
	assert.Equal(t, []string{model.AuditActionResultPersisted}, audit.actions())
}

func TestMappedResultIsBornNewThenAvailable(t *testing.T) {
	repo := newMemResultRepo()
	svc := newTestService(repo, &memAuditRepo{})

	cand := &parser.Candidate{MessageUID: "MSG-12", ResultDate: time.Now().UTC()}
	res, err := svc.Persist(context.Background(), rawMsg("m01"), cand, mapped())
	require.NoError(t, err)

	assert.Equal(t, model.ResultStatusAvailable, res.Status)
	assert.Equal(t,
		[]model.ResultStatus{model.ResultStatusNew, model.ResultStatusAvailable},
		repo.history[res.ID])
}

func TestAssignRefusesDuplicateRow(t *testing.T) {
	repo := newMemResultRepo()
	svc := newTestService(repo, &memAuditRepo{})

	cand := &parser.Candidate{MessageUID: "MSG-13", ResultDate: time.Now().UTC()}
	unresolved := &mapper.Outcome{Reason: "no patient matched"}
	_, err := svc.Persist(context.Background(), rawMsg("n01"), cand, unresolved)
	require.NoError(t, err)
	dup, err := svc.Persist(context.Background(), rawMsg("n02"), cand, unresolved)
	require.NoError(t, err)
	require.False(t, dup.Canonical())
	require.Equal(t, model.ResultStatusPendingMapping, dup.Status)

	// the duplicate inherits the pending status but follows its canonical
	// row; it never accepts an independent mapping
	actor := model.Actor{ID: "admin-1", Type: model.ActorTypeUser, Role: model.RoleAdmin}
	_, err = svc.Assign(context.Background(), actor, dup.ID, uuid.New(), uuid.New(), nil)
	require.Error(t, err)

	var appErr *apperrors.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, apperrors.ErrConflict, appErr.Code)
}
