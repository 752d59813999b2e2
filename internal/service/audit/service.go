// Package audit writes the immutable trail behind every state-changing or
// access action. A failed audit write is fatal for the enclosing operation:
// the action is not complete until its trail is recorded.
package audit

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/befundwerk/ingest-api/internal/model"
	"github.com/befundwerk/ingest-api/internal/repository"
	apperrors "github.com/befundwerk/ingest-api/pkg/errors"
)

type Service struct {
	repo repository.AuditRepository
}

func NewService(repo repository.AuditRepository) *Service {
	return &Service{repo: repo}
}

// Options carries the optional request metadata of an entry.
type Options struct {
	Details   model.JSONMap
	IPAddress string
	UserAgent string
}

// Record appends one entry. Errors wrap ErrAuditWriteFailed so callers can
// abort the surrounding operation.
func (s *Service) Record(ctx context.Context, actor model.Actor, action, entityType string, entityID uuid.UUID, opts *Options) error {
	entry := &model.AuditLog{
		ID:         uuid.New(),
		ActorID:    actor.ID,
		ActorType:  actor.Type,
		Action:     action,
		EntityType: entityType,
		EntityID:   entityID,
		CreatedAt:  time.Now().UTC(),
	}
	if opts != nil {
		entry.Details = opts.Details
		entry.IPAddress = opts.IPAddress
		entry.UserAgent = opts.UserAgent
	}

	if err := s.repo.Create(ctx, entry); err != nil {
		return fmt.Errorf("%w: %v", apperrors.ErrAuditWriteFailed, err)
	}
	return nil
}

func (s *Service) List(ctx context.Context, filter *model.AuditFilter) ([]*model.AuditLog, error) {
	return s.repo.List(ctx, filter)
}
