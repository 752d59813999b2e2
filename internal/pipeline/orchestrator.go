// Package pipeline drives a raw message through parse, validate, map and
// persist. Messages arrive over the broker; a periodic sweep picks up rows
// whose broker delivery was lost. Every step is idempotent because delivery
// is at-least-once.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"

	"github.com/befundwerk/ingest-api/internal/config"
	"github.com/befundwerk/ingest-api/internal/model"
	"github.com/befundwerk/ingest-api/internal/notification"
	"github.com/befundwerk/ingest-api/internal/parser"
	"github.com/befundwerk/ingest-api/internal/repository"
	auditsvc "github.com/befundwerk/ingest-api/internal/service/audit"
	"github.com/befundwerk/ingest-api/internal/service/mapper"
	"github.com/befundwerk/ingest-api/internal/service/result"
	apperrors "github.com/befundwerk/ingest-api/pkg/errors"
	"github.com/befundwerk/ingest-api/pkg/identifier"
	"github.com/befundwerk/ingest-api/pkg/logger"
	"github.com/befundwerk/ingest-api/pkg/messaging"
	"github.com/befundwerk/ingest-api/pkg/metrics"
)

type Orchestrator struct {
	raw      repository.RawMessageRepository
	tx       repository.TxRunner
	parsers  *parser.Registry
	mapper   *mapper.Service
	results  *result.Service
	audit    *auditsvc.Service
	broker   messaging.Broker
	notifier notification.Notifier
	cfg      config.PipelineConfig
	logger   *logger.Logger
	metrics  *metrics.Metrics
}

func NewOrchestrator(
	raw repository.RawMessageRepository,
	tx repository.TxRunner,
	parsers *parser.Registry,
	mapper *mapper.Service,
	results *result.Service,
	audit *auditsvc.Service,
	broker messaging.Broker,
	notifier notification.Notifier,
	cfg config.PipelineConfig,
	logger *logger.Logger,
	metrics *metrics.Metrics,
) *Orchestrator {
	return &Orchestrator{
		raw:      raw,
		tx:       tx,
		parsers:  parsers,
		mapper:   mapper,
		results:  results,
		audit:    audit,
		broker:   broker,
		notifier: notifier,
		cfg:      cfg,
		logger:   logger.WithComponent("pipeline"),
		metrics:  metrics,
	}
}

// Run consumes work items until the context is cancelled. Broker deliveries
// and the stranded-row sweep feed the same worker pool.
func (o *Orchestrator) Run(ctx context.Context) error {
	deliveries, err := o.broker.Subscribe(ctx, o.cfg.Channel)
	if err != nil {
		return fmt.Errorf("failed to subscribe to work channel: %w", err)
	}

	ids := make(chan uuid.UUID)
	var wg sync.WaitGroup
	for i := 0; i < o.cfg.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for id := range ids {
				o.handle(ctx, id)
			}
		}()
	}

	ticker := time.NewTicker(o.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			close(ids)
			wg.Wait()
			return ctx.Err()
		case payload, ok := <-deliveries:
			if !ok {
				close(ids)
				wg.Wait()
				return nil
			}
			var item messaging.WorkItem
			if err := json.Unmarshal(payload, &item); err != nil {
				o.logger.Error(err, "dropping undecodable work item")
				continue
			}
			id, err := uuid.Parse(item.RawMessageID)
			if err != nil {
				o.logger.Error(err, "dropping work item with invalid id",
					"raw_message_id", item.RawMessageID)
				continue
			}
			select {
			case ids <- id:
			case <-ctx.Done():
			}
		case <-ticker.C:
			o.sweep(ctx, ids)
		}
	}
}

// sweep feeds rows that never saw a broker delivery back into the pool.
func (o *Orchestrator) sweep(ctx context.Context, ids chan<- uuid.UUID) {
	stranded, err := o.raw.ListStranded(ctx, o.cfg.StrandedAge, o.cfg.PollBatch)
	if err != nil {
		o.logger.Error(err, "stranded sweep failed")
		return
	}
	for _, msg := range stranded {
		select {
		case ids <- msg.ID:
		case <-ctx.Done():
			return
		}
	}
}

// handle runs one message with the configured retry budget. The attempt
// counter is persisted, so a crash between retries cannot reset the budget.
func (o *Orchestrator) handle(ctx context.Context, id uuid.UUID) {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = o.cfg.BackoffBase
	bo.MaxInterval = o.cfg.BackoffMax
	bo.MaxElapsedTime = 0

	operation := func() error {
		err := o.Process(ctx, id)
		if err == nil {
			return nil
		}
		if !apperrors.IsTransient(err) {
			return backoff.Permanent(err)
		}

		attempts, incErr := o.raw.IncrementAttempts(ctx, id)
		if incErr != nil {
			o.logger.Error(incErr, "failed to record attempt", "raw_message_id", id.String())
			return backoff.Permanent(incErr)
		}
		o.metrics.StageRetries.WithLabelValues(stageOf(err)).Inc()

		if attempts >= o.cfg.MaxAttempts {
			if dlqErr := o.deadLetter(ctx, id, fmt.Sprintf("retry budget exhausted: %v", err)); dlqErr != nil {
				return backoff.Permanent(dlqErr)
			}
			return backoff.Permanent(apperrors.ErrRetryExhausted)
		}
		return err
	}

	if err := backoff.Retry(operation, backoff.WithContext(bo, ctx)); err != nil &&
		!errors.Is(err, apperrors.ErrRetryExhausted) && !errors.Is(err, context.Canceled) {
		o.logger.Error(err, "message processing gave up", "raw_message_id", id.String())
	}
}

func stageOf(err error) string {
	var te *apperrors.TransientError
	if errors.As(err, &te) {
		return te.Op
	}
	return "unknown"
}

// Process runs one attempt of the pipeline for one raw message. Terminal
// rows are a no-op so redeliveries are harmless. Transient failures come
// back as retryable errors; everything else resolves the message to a
// terminal state here.
func (o *Orchestrator) Process(ctx context.Context, id uuid.UUID) error {
	msg, err := o.raw.Get(ctx, id)
	if err != nil {
		return apperrors.Transient("load", err)
	}
	if msg.Status.Terminal() {
		o.logger.Debug("skipping terminal message",
			"raw_message_id", id.String(), "status", string(msg.Status))
		return nil
	}

	cand, err := o.stageParse(ctx, msg)
	if err != nil {
		return err
	}
	if cand == nil {
		// dead-lettered inside parse
		return nil
	}

	ok, err := o.stageValidate(ctx, msg, cand)
	if err != nil || !ok {
		return err
	}

	outcome, err := o.stageMapAndPersist(ctx, msg, cand)
	if err != nil {
		return err
	}

	return o.stageFinalize(ctx, msg, outcome)
}

// Each stage runs under its own deadline so one stuck dependency cannot
// hold a worker forever.
func (o *Orchestrator) stageParse(ctx context.Context, msg *model.RawMessage) (*parser.Candidate, error) {
	ctx, cancel := context.WithTimeout(ctx, o.cfg.StageTimeout)
	defer cancel()
	return o.parse(ctx, msg)
}

func (o *Orchestrator) stageValidate(ctx context.Context, msg *model.RawMessage, cand *parser.Candidate) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, o.cfg.StageTimeout)
	defer cancel()
	return o.validate(ctx, msg, cand)
}

func (o *Orchestrator) stageMapAndPersist(ctx context.Context, msg *model.RawMessage, cand *parser.Candidate) (*mapper.Outcome, error) {
	ctx, cancel := context.WithTimeout(ctx, o.cfg.StageTimeout)
	defer cancel()
	return o.mapAndPersist(ctx, msg, cand)
}

func (o *Orchestrator) stageFinalize(ctx context.Context, msg *model.RawMessage, outcome *mapper.Outcome) error {
	ctx, cancel := context.WithTimeout(ctx, o.cfg.StageTimeout)
	defer cancel()
	return o.finalize(ctx, msg, outcome)
}

// parse extracts a candidate from the payload. Structural malformation is
// permanent and dead-letters the message; a nil candidate with nil error
// signals that outcome. Parsing is pure, so a redelivered PARSED row is
// simply parsed again.
func (o *Orchestrator) parse(ctx context.Context, msg *model.RawMessage) (*parser.Candidate, error) {
	start := time.Now()
	defer o.observe("parse", start)

	p, err := o.parsers.Get(msg.ContentType)
	if err != nil {
		if dlqErr := o.deadLetter(ctx, msg.ID, err.Error()); dlqErr != nil {
			return nil, dlqErr
		}
		return nil, nil
	}

	cand, err := p.Parse(msg.Payload)
	if err != nil {
		if apperrors.IsTransient(err) {
			return nil, apperrors.Transient("parse", err)
		}
		if dlqErr := o.deadLetter(ctx, msg.ID, err.Error()); dlqErr != nil {
			return nil, dlqErr
		}
		return nil, nil
	}

	if msg.Status == model.RawStatusReceived {
		var lanr, bsnr *string
		if cand.LANR != "" {
			lanr = &cand.LANR
		}
		if cand.BSNR != "" {
			bsnr = &cand.BSNR
		}
		if err := o.raw.SetExtractedIdentifiers(ctx, msg.ID, lanr, bsnr); err != nil {
			return nil, apperrors.Transient("parse", err)
		}
		if err := o.raw.Transition(ctx, msg.ID, model.RawStatusReceived, model.RawStatusParsed, nil); err != nil {
			return nil, apperrors.Transient("parse", err)
		}
		msg.Status = model.RawStatusParsed
	}
	return cand, nil
}

// validate applies the syntactic identifier rules. The LANR is mandatory;
// the BSNR is optional but must be well formed when present. Failures are
// terminal and routed to manual remediation, never retried.
func (o *Orchestrator) validate(ctx context.Context, msg *model.RawMessage, cand *parser.Candidate) (bool, error) {
	start := time.Now()
	defer o.observe("validate", start)

	var reason string
	if v := identifier.ValidateLANR(cand.LANR); v != identifier.VerdictValid {
		reason = fmt.Sprintf("lanr %s", v)
	} else if cand.BSNR != "" {
		if v := identifier.ValidateBSNR(cand.BSNR); v != identifier.VerdictValid {
			reason = fmt.Sprintf("bsnr %s", v)
		}
	}
	if reason == "" {
		return true, nil
	}

	// The entry and the transition commit together, the entry first: the
	// row can never reach VALIDATION_FAILED without its trail.
	err := o.tx.InTx(ctx, func(ctx context.Context) error {
		if err := o.audit.Record(ctx, model.SystemActor(), model.AuditActionValidationFailed,
			model.AuditEntityRawMessage, msg.ID,
			&auditsvc.Options{Details: model.JSONMap{"reason": reason}}); err != nil {
			return err
		}
		return o.raw.Transition(ctx, msg.ID, model.RawStatusParsed, model.RawStatusValidationFailed, &reason)
	})
	if err != nil {
		if errors.Is(err, apperrors.ErrAuditWriteFailed) {
			return false, err
		}
		return false, apperrors.Transient("validate", err)
	}
	o.metrics.ValidationFailures.Inc()
	o.notifier.NotifyValidationFailed(msg, reason)
	o.logger.Warn("message failed identifier validation",
		"raw_message_id", msg.ID.String(), "reason", reason)
	return false, nil
}

func (o *Orchestrator) mapAndPersist(ctx context.Context, msg *model.RawMessage, cand *parser.Candidate) (*mapper.Outcome, error) {
	start := time.Now()
	outcome, err := o.mapper.Resolve(ctx, cand)
	o.observe("map", start)
	if err != nil {
		return nil, apperrors.Transient("map", err)
	}

	start = time.Now()
	_, err = o.results.Persist(ctx, msg, cand, outcome)
	o.observe("persist", start)
	if err != nil {
		// includes audit write failures: the result is not done until its
		// trail is recorded, so the whole stage is retried
		return nil, apperrors.Transient("persist", err)
	}
	return outcome, nil
}

func (o *Orchestrator) finalize(ctx context.Context, msg *model.RawMessage, outcome *mapper.Outcome) error {
	details := model.JSONMap{"mapped": outcome.Mapped}
	if !outcome.Mapped {
		details["reason"] = outcome.Reason
	}
	err := o.tx.InTx(ctx, func(ctx context.Context) error {
		if err := o.audit.Record(ctx, model.SystemActor(), model.AuditActionProcessed,
			model.AuditEntityRawMessage, msg.ID, &auditsvc.Options{Details: details}); err != nil {
			return err
		}
		return o.raw.Transition(ctx, msg.ID, model.RawStatusParsed, model.RawStatusProcessed, nil)
	})
	if err != nil {
		if errors.Is(err, apperrors.ErrAuditWriteFailed) {
			return err
		}
		return apperrors.Transient("finalize", err)
	}
	o.logger.Info("message processed",
		"raw_message_id", msg.ID.String(), "mapped", outcome.Mapped)
	return nil
}

// deadLetter resolves a message to the DLQ state from whatever non-terminal
// state it is in.
func (o *Orchestrator) deadLetter(ctx context.Context, id uuid.UUID, reason string) error {
	msg, err := o.raw.Get(ctx, id)
	if err != nil {
		return apperrors.Transient("dlq", err)
	}
	if msg.Status.Terminal() {
		return nil
	}
	err = o.tx.InTx(ctx, func(ctx context.Context) error {
		if err := o.audit.Record(ctx, model.SystemActor(), model.AuditActionDeadLettered,
			model.AuditEntityRawMessage, id,
			&auditsvc.Options{Details: model.JSONMap{"reason": reason}}); err != nil {
			return err
		}
		return o.raw.Transition(ctx, id, msg.Status, model.RawStatusDLQ, &reason)
	})
	if err != nil {
		if errors.Is(err, apperrors.ErrAuditWriteFailed) {
			return err
		}
		return apperrors.Transient("dlq", err)
	}
	o.metrics.DeadLettered.Inc()
	o.notifier.NotifyDeadLettered(msg, reason)
	o.logger.Warn("message dead-lettered", "raw_message_id", id.String(), "reason", reason)
	return nil
}

// Reprocess moves a VALIDATION_FAILED or DLQ message back to RECEIVED with
// a fresh attempt budget and requeues it.
func (o *Orchestrator) Reprocess(ctx context.Context, actor model.Actor, id uuid.UUID) error {
	err := o.tx.InTx(ctx, func(ctx context.Context) error {
		if err := o.audit.Record(ctx, actor, model.AuditActionReprocessed,
			model.AuditEntityRawMessage, id, nil); err != nil {
			return err
		}
		return o.raw.ResetForReprocess(ctx, id)
	})
	if err != nil {
		return err
	}
	if err := o.broker.Publish(ctx, o.cfg.Channel, messaging.WorkItem{RawMessageID: id.String()}); err != nil {
		o.logger.Error(err, "failed to requeue reprocessed message, relying on poll fallback",
			"raw_message_id", id.String())
	}
	return nil
}

func (o *Orchestrator) observe(stage string, start time.Time) {
	o.metrics.StageDuration.WithLabelValues(stage).Observe(time.Since(start).Seconds())
}
