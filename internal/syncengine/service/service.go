// Package service implements the offline sync engine: accepting queued
// mutations from field devices and replaying them against server state with
// retries and last-writer-wins conflict resolution.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	alertmodels "sitegate/internal/alert/models"
	syncmetrics "sitegate/internal/syncengine/metrics"
	"sitegate/internal/syncengine/models"
	id "sitegate/pkg/domain"
	dErrors "sitegate/pkg/domain-errors"
	"sitegate/pkg/platform/audit"
	"sitegate/pkg/platform/sentinel"
	"sitegate/pkg/requestcontext"
)

const (
	// DefaultMaxAttempts is the retry budget before an item is parked as
	// failed and escalated to the dashboard.
	DefaultMaxAttempts = 5
	// defaultBaseBackoff doubles per attempt: 1s, 2s, 4s, 8s, 16s.
	defaultBaseBackoff = time.Second
	maxBackoff         = 16 * time.Second
)

// QueueStore is the persistence contract for the sync queue.
type QueueStore interface {
	CreateIfAbsent(ctx context.Context, item *models.Item) (*models.Item, error)
	FindByID(ctx context.Context, itemID id.SyncItemID) (*models.Item, error)
	ClaimNext(ctx context.Context, now time.Time, limit int) ([]*models.Item, error)
	Execute(ctx context.Context, itemID id.SyncItemID, validate func(*models.Item) error, mutate func(*models.Item)) (*models.Item, error)
	ListByDevice(ctx context.Context, deviceID id.DeviceID, statuses []models.Status) ([]*models.Item, error)
}

// Alerter raises dashboard alerts for items that exhaust their retry budget.
type Alerter interface {
	Raise(ctx context.Context, projectID id.ProjectID, kind alertmodels.Kind, message, dedupeKey string, details any) (*alertmodels.Alert, error)
}

// SyncService owns the queue and the appliers.
type SyncService struct {
	queue       QueueStore
	appliers    map[string]Applier
	alerts      Alerter
	recorder    *audit.Recorder
	logger      *slog.Logger
	metrics     *syncmetrics.Metrics
	tracer      trace.Tracer
	maxAttempts int
	baseBackoff time.Duration
}

// Option configures the service.
type Option func(*SyncService)

// WithMetrics attaches module metrics.
func WithMetrics(m *syncmetrics.Metrics) Option {
	return func(s *SyncService) { s.metrics = m }
}

// WithMaxAttempts overrides the retry budget.
func WithMaxAttempts(n int) Option {
	return func(s *SyncService) {
		if n > 0 {
			s.maxAttempts = n
		}
	}
}

// WithBaseBackoff overrides the first retry delay.
func WithBaseBackoff(d time.Duration) Option {
	return func(s *SyncService) {
		if d > 0 {
			s.baseBackoff = d
		}
	}
}

// NewSyncService builds the service. Each applier registers under its record
// type; items of an unregistered type fail permanently.
func NewSyncService(queue QueueStore, alerts Alerter, recorder *audit.Recorder, logger *slog.Logger, appliers []Applier, opts ...Option) *SyncService {
	s := &SyncService{
		queue:       queue,
		appliers:    make(map[string]Applier, len(appliers)),
		alerts:      alerts,
		recorder:    recorder,
		logger:      logger,
		tracer:      otel.Tracer("syncengine"),
		maxAttempts: DefaultMaxAttempts,
		baseBackoff: defaultBaseBackoff,
	}
	for _, applier := range appliers {
		s.appliers[applier.RecordType()] = applier
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// EnqueueInput is one item of a device batch.
type EnqueueInput struct {
	ItemID     id.SyncItemID
	ProjectID  id.ProjectID
	RecordType string
	RecordID   string
	Payload    json.RawMessage
	Priority   *models.Priority
	CapturedAt time.Time
}

// Enqueue accepts a batch from a device. Items the device already submitted
// are acknowledged without being re-queued, so a batch interrupted mid-upload
// can be sent again wholesale.
func (s *SyncService) Enqueue(ctx context.Context, deviceID id.DeviceID, inputs []EnqueueInput) ([]*models.Item, error) {
	if deviceID.IsNil() {
		return nil, dErrors.New(dErrors.CodeBadRequest, "device id is required")
	}
	if len(inputs) == 0 {
		return nil, dErrors.New(dErrors.CodeBadRequest, "batch is empty")
	}

	now := requestcontext.Now(ctx)
	accepted := make([]*models.Item, 0, len(inputs))
	for _, input := range inputs {
		priority := models.DefaultPriority(input.RecordType)
		if input.Priority != nil {
			priority = *input.Priority
		}
		item, err := models.NewItem(input.ItemID, deviceID, input.ProjectID,
			input.RecordType, input.RecordID, input.Payload, priority, input.CapturedAt, now)
		if err != nil {
			return nil, err
		}

		stored, err := s.queue.CreateIfAbsent(ctx, item)
		if err != nil {
			if errors.Is(err, sentinel.ErrAlreadyExists) {
				if s.metrics != nil {
					s.metrics.ItemsReplayed.Inc()
				}
				accepted = append(accepted, stored)
				continue
			}
			return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to enqueue sync item")
		}
		if s.metrics != nil {
			s.metrics.ItemsEnqueued.WithLabelValues(item.RecordType).Inc()
		}
		accepted = append(accepted, stored)
	}

	s.logger.InfoContext(ctx, "sync batch enqueued",
		"device_id", deviceID.String(),
		"items", len(accepted))
	return accepted, nil
}

// ProcessDue claims and applies up to limit due items. Returns the number of
// items it worked on; zero means the queue is drained.
func (s *SyncService) ProcessDue(ctx context.Context, limit int) (int, error) {
	items, err := s.queue.ClaimNext(ctx, requestcontext.Now(ctx), limit)
	if err != nil {
		return 0, dErrors.Wrap(err, dErrors.CodeInternal, "failed to claim sync items")
	}
	for _, item := range items {
		s.processItem(ctx, item)
	}
	return len(items), nil
}

// GetItem returns one queued item.
func (s *SyncService) GetItem(ctx context.Context, itemID id.SyncItemID) (*models.Item, error) {
	item, err := s.queue.FindByID(ctx, itemID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "sync item not found")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "sync store failure")
	}
	return item, nil
}

// ListByDevice returns a device's items, optionally filtered by status.
func (s *SyncService) ListByDevice(ctx context.Context, deviceID id.DeviceID, statuses []models.Status) ([]*models.Item, error) {
	items, err := s.queue.ListByDevice(ctx, deviceID, statuses)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "sync store failure")
	}
	return items, nil
}

func (s *SyncService) processItem(ctx context.Context, item *models.Item) {
	ctx, span := s.tracer.Start(ctx, "sync.apply", trace.WithAttributes(
		attribute.String("sync.item_id", item.ID.String()),
		attribute.String("sync.record_type", item.RecordType),
		attribute.Int("sync.attempt", item.Attempts+1),
	))
	defer span.End()

	// Replayed mutations act as the device that captured them.
	ctx = requestcontext.WithDevice(ctx, item.DeviceID)
	ctx = requestcontext.WithActor(ctx, "device:"+item.DeviceID.String())

	err := s.apply(ctx, item)
	switch {
	case err == nil:
		span.SetStatus(codes.Ok, "")
		s.markApplied(ctx, item)
	case isConflict(err):
		span.SetStatus(codes.Error, err.Error())
		s.markConflict(ctx, item, err)
	case isPermanent(err):
		span.SetStatus(codes.Error, err.Error())
		s.markFailed(ctx, item, err)
	default:
		span.SetStatus(codes.Error, err.Error())
		s.scheduleRetry(ctx, item, err)
	}
}

func (s *SyncService) apply(ctx context.Context, item *models.Item) error {
	applier, ok := s.appliers[item.RecordType]
	if !ok {
		return dErrors.Newf(dErrors.CodeBadRequest, "no applier for record type %q", item.RecordType)
	}
	return applier.Apply(ctx, item)
}

func isConflict(err error) bool {
	var conflict *models.ConflictError
	return errors.As(err, &conflict)
}

// isPermanent reports whether retrying cannot help: the payload itself is
// unusable or references something that does not exist.
func isPermanent(err error) bool {
	return dErrors.HasCode(err, dErrors.CodeBadRequest) ||
		dErrors.HasCode(err, dErrors.CodeInvalidInput) ||
		dErrors.HasCode(err, dErrors.CodeNotFound)
}

func (s *SyncService) markApplied(ctx context.Context, item *models.Item) {
	now := requestcontext.Now(ctx)
	updated, err := s.queue.Execute(ctx, item.ID,
		func(*models.Item) error { return nil },
		func(i *models.Item) {
			i.Status = models.StatusApplied
			i.Attempts++
			i.LastError = ""
			i.UpdatedAt = now
		})
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to mark sync item applied",
			"item_id", item.ID.String(), "error", err)
		return
	}
	if auditErr := s.recorder.Record(ctx, audit.TableSyncItems, item.ID.String(), audit.ActionSyncApplied, item, updated); auditErr != nil {
		s.logger.ErrorContext(ctx, "failed to audit sync apply",
			"item_id", item.ID.String(), "error", auditErr)
	}
	if s.metrics != nil {
		s.metrics.ItemsApplied.WithLabelValues(item.RecordType).Inc()
	}
	s.logger.InfoContext(ctx, "sync item applied",
		"item_id", item.ID.String(),
		"record_type", item.RecordType,
		"attempts", updated.Attempts)
}

// markConflict parks the item as conflicted. The full discarded payload goes
// into the audit trail so a superintendent can recover anything that mattered.
func (s *SyncService) markConflict(ctx context.Context, item *models.Item, cause error) {
	now := requestcontext.Now(ctx)
	updated, err := s.queue.Execute(ctx, item.ID,
		func(*models.Item) error { return nil },
		func(i *models.Item) {
			i.Status = models.StatusConflict
			i.Attempts++
			i.LastError = cause.Error()
			i.UpdatedAt = now
		})
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to mark sync item conflicted",
			"item_id", item.ID.String(), "error", err)
		return
	}
	if auditErr := s.recorder.Record(ctx, audit.TableSyncItems, item.ID.String(), audit.ActionSyncConflictDiscarded, item, updated); auditErr != nil {
		s.logger.ErrorContext(ctx, "failed to audit sync conflict",
			"item_id", item.ID.String(), "error", auditErr)
	}
	if s.metrics != nil {
		s.metrics.ItemsConflicted.Inc()
	}
	s.logger.WarnContext(ctx, "sync item discarded after conflict",
		"item_id", item.ID.String(),
		"record_type", item.RecordType,
		"reason", cause.Error())
}

func (s *SyncService) markFailed(ctx context.Context, item *models.Item, cause error) {
	now := requestcontext.Now(ctx)
	updated, err := s.queue.Execute(ctx, item.ID,
		func(*models.Item) error { return nil },
		func(i *models.Item) {
			i.Status = models.StatusFailed
			i.Attempts++
			i.LastError = cause.Error()
			i.UpdatedAt = now
		})
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to mark sync item failed",
			"item_id", item.ID.String(), "error", err)
		return
	}
	if auditErr := s.recorder.Record(ctx, audit.TableSyncItems, item.ID.String(), audit.ActionSyncFailed, item, updated); auditErr != nil {
		s.logger.ErrorContext(ctx, "failed to audit sync failure",
			"item_id", item.ID.String(), "error", auditErr)
	}
	if s.metrics != nil {
		s.metrics.ItemsFailed.Inc()
	}
	if _, alertErr := s.alerts.Raise(ctx, item.ProjectID, alertmodels.KindSyncFailed,
		"offline sync item could not be applied",
		"sync:"+item.ID.String()+":failed",
		map[string]any{"record_type": item.RecordType, "record_id": item.RecordID, "error": cause.Error()}); alertErr != nil {
		s.logger.ErrorContext(ctx, "failed to raise sync failure alert",
			"item_id", item.ID.String(), "error", alertErr)
	}
	s.logger.ErrorContext(ctx, "sync item failed",
		"item_id", item.ID.String(),
		"record_type", item.RecordType,
		"error", cause.Error())
}

// scheduleRetry puts the item back in the queue with exponential backoff, or
// parks it as failed once the retry budget is spent.
func (s *SyncService) scheduleRetry(ctx context.Context, item *models.Item, cause error) {
	attempts := item.Attempts + 1
	if attempts >= s.maxAttempts {
		s.markFailed(ctx, item, cause)
		return
	}

	now := requestcontext.Now(ctx)
	backoff := s.baseBackoff << (attempts - 1)
	if backoff > maxBackoff {
		backoff = maxBackoff
	}
	_, err := s.queue.Execute(ctx, item.ID,
		func(*models.Item) error { return nil },
		func(i *models.Item) {
			i.Status = models.StatusPending
			i.Attempts = attempts
			i.NextAttemptAt = now.Add(backoff)
			i.LastError = cause.Error()
			i.UpdatedAt = now
		})
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to reschedule sync item",
			"item_id", item.ID.String(), "error", err)
		return
	}
	if s.metrics != nil {
		s.metrics.ApplyRetries.Inc()
	}
	s.logger.WarnContext(ctx, "sync item apply failed, retrying",
		"item_id", item.ID.String(),
		"record_type", item.RecordType,
		"attempt", attempts,
		"retry_in", backoff.String(),
		"error", cause.Error())
}
