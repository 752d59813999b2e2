// Package intake accepts raw result messages, enforces raw-level
// deduplication and hands accepted messages to the pipeline.
package intake

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/befundwerk/ingest-api/internal/model"
	"github.com/befundwerk/ingest-api/internal/repository"
	auditsvc "github.com/befundwerk/ingest-api/internal/service/audit"
	apperrors "github.com/befundwerk/ingest-api/pkg/errors"
	"github.com/befundwerk/ingest-api/pkg/logger"
	"github.com/befundwerk/ingest-api/pkg/messaging"
	"github.com/befundwerk/ingest-api/pkg/metrics"
)

type Service struct {
	raw      repository.RawMessageRepository
	tx       repository.TxRunner
	audit    *auditsvc.Service
	broker   messaging.Broker
	channel  string
	validate *validator.Validate
	logger   *logger.Logger
	metrics  *metrics.Metrics
}

type IngestRequest struct {
	SourceID          string            `validate:"required"`
	ContentType       model.ContentType `validate:"required"`
	Payload           []byte            `validate:"required"`
	ExternalMessageID *string
	IdempotencyKey    *string
	Metadata          model.JSONMap
}

// IngestOutcome is everything a caller learns: accepted-new or
// accepted-duplicate with a reference to the original. The richer pipeline
// taxonomy stays internal.
type IngestOutcome struct {
	RawMessageID uuid.UUID `json:"raw_message_id"`
	SHA256       string    `json:"sha256"`
	Duplicate    bool      `json:"duplicate"`
}

func NewService(
	raw repository.RawMessageRepository,
	tx repository.TxRunner,
	audit *auditsvc.Service,
	broker messaging.Broker,
	channel string,
	logger *logger.Logger,
	metrics *metrics.Metrics,
) *Service {
	return &Service{
		raw:      raw,
		tx:       tx,
		audit:    audit,
		broker:   broker,
		channel:  channel,
		validate: validator.New(),
		logger:   logger.WithComponent("intake"),
		metrics:  metrics,
	}
}

// Ingest validates the request shape, fingerprints the payload server-side
// and performs the atomic dedup insert. Duplicate submissions are an
// idempotent success, not an error.
func (s *Service) Ingest(ctx context.Context, req *IngestRequest) (*IngestOutcome, error) {
	if err := s.validate.Struct(req); err != nil {
		s.metrics.MessagesRejected.Inc()
		return nil, apperrors.BadRequest("invalid ingest request", err)
	}
	if !req.ContentType.Valid() {
		s.metrics.MessagesRejected.Inc()
		return nil, apperrors.BadRequest(fmt.Sprintf("unsupported content type %q", req.ContentType), nil)
	}

	// Client-supplied hashes are never trusted; the fingerprint is always
	// computed here over the exact bytes.
	sum := sha256.Sum256(req.Payload)
	fingerprint := hex.EncodeToString(sum[:])

	msg := &model.RawMessage{
		SourceID:          req.SourceID,
		ContentType:       req.ContentType,
		Payload:           req.Payload,
		SHA256:            fingerprint,
		ExternalMessageID: req.ExternalMessageID,
		Metadata:          req.Metadata,
	}

	// The row and its intake entry commit together: an accepted message can
	// never exist without a trail, and a failed trail write rolls the row
	// back so the client retry starts clean.
	var inserted bool
	var stored *model.RawMessage
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		var err error
		inserted, stored, err = s.raw.Insert(ctx, msg)
		if err != nil {
			return fmt.Errorf("failed to store raw message: %w", err)
		}
		if !inserted {
			return nil
		}
		return s.audit.Record(ctx, model.SystemActor(), model.AuditActionReceived,
			model.AuditEntityRawMessage, stored.ID, nil)
	})
	if err != nil {
		return nil, err
	}

	if !inserted {
		if err := s.audit.Record(ctx, model.SystemActor(), model.AuditActionDuplicate,
			model.AuditEntityRawMessage, stored.ID, nil); err != nil {
			return nil, err
		}
		s.metrics.MessagesDuplicate.Inc()
		s.logger.Info("duplicate submission resolved to existing raw message",
			"raw_message_id", stored.ID.String())
		return &IngestOutcome{
			RawMessageID: stored.ID,
			SHA256:       stored.SHA256,
			Duplicate:    true,
		}, nil
	}

	s.metrics.MessagesIngested.Inc()

	// Publish failure is tolerable: the worker's stranded-row sweep will
	// pick the message up without the broker.
	if err := s.broker.Publish(ctx, s.channel, messaging.WorkItem{RawMessageID: stored.ID.String()}); err != nil {
		s.logger.Error(err, "failed to publish work item, relying on poll fallback",
			"raw_message_id", stored.ID.String())
	}

	return &IngestOutcome{
		RawMessageID: stored.ID,
		SHA256:       stored.SHA256,
		Duplicate:    false,
	}, nil
}
