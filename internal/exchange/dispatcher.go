package exchange

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/rmskTV/advPlanner-sub000/internal/domain"
	"github.com/rmskTV/advPlanner-sub000/internal/enterprisedata"
	"github.com/rmskTV/advPlanner-sub000/internal/mapping"
	"github.com/rmskTV/advPlanner-sub000/internal/observability"
	"github.com/rmskTV/advPlanner-sub000/internal/repository"
	"github.com/rmskTV/advPlanner-sub000/internal/sanitize"
)

const defaultSampleProperties = 20

// Object outcomes reported to metrics.
const (
	outcomeCreated   = "created"
	outcomeUpdated   = "updated"
	outcomeUnchanged = "unchanged"
	outcomeFailed    = "failed"
	outcomeUnmapped  = "unmapped"
)

// ProcessingResult summarizes one batch of inbound objects. Per-object
// problems are collected here and never abort the batch.
type ProcessingResult struct {
	Success        bool        `json:"success"`
	ProcessedCount int         `json:"processed_count"`
	CreatedIDs     []uuid.UUID `json:"created_ids"`
	UpdatedIDs     []uuid.UUID `json:"updated_ids"`
	UnchangedIDs   []uuid.UUID `json:"unchanged_ids"`
	UnmappedTypes  []string    `json:"unmapped_types"`
	Errors         []string    `json:"errors"`
	Warnings       []string    `json:"warnings"`
}

func newProcessingResult() ProcessingResult {
	return ProcessingResult{
		CreatedIDs:    []uuid.UUID{},
		UpdatedIDs:    []uuid.UUID{},
		UnchangedIDs:  []uuid.UUID{},
		UnmappedTypes: []string{},
		Errors:        []string{},
		Warnings:      []string{},
	}
}

// Dispatcher routes wire objects to their mappers and upserts the results.
type Dispatcher struct {
	registry    *mapping.Registry
	sanitizer   *sanitize.Sanitizer
	metrics     *observability.Metrics
	logger      *slog.Logger
	now         func() time.Time
	sampleProps int
}

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithDispatcherLogger sets the logger.
func WithDispatcherLogger(logger *slog.Logger) DispatcherOption {
	return func(d *Dispatcher) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// WithDispatcherMetrics sets the metrics sink.
func WithDispatcherMetrics(metrics *observability.Metrics) DispatcherOption {
	return func(d *Dispatcher) {
		if metrics != nil {
			d.metrics = metrics
		}
	}
}

// WithDispatcherClock overrides the clock used for unmapped-object timestamps.
func WithDispatcherClock(now func() time.Time) DispatcherOption {
	return func(d *Dispatcher) {
		if now != nil {
			d.now = now
		}
	}
}

// NewDispatcher creates a dispatcher over registry.
func NewDispatcher(registry *mapping.Registry, sanitizer *sanitize.Sanitizer, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		registry:    registry,
		sanitizer:   sanitizer,
		logger:      slog.Default(),
		now:         time.Now,
		sampleProps: defaultSampleProperties,
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.metrics == nil {
		d.metrics = observability.Global()
	}
	return d
}

// ProcessIncomingObjects groups objects by wire type and applies each group.
// Unmapped types are recorded for diagnosis. Every object is applied inside
// its own savepoint, so a failing object leaves the others intact. The
// returned error is set only when the store can no longer be used; the caller
// must then roll back the whole unit.
func (d *Dispatcher) ProcessIncomingObjects(ctx context.Context, store repository.ExchangeStore, connector domain.Connector, objects []*enterprisedata.Object) (ProcessingResult, error) {
	result := newProcessingResult()
	logger := d.logger.With("connector", connector.Name)

	order, groups := groupByType(objects)
	seq := 0
	for _, objectType := range order {
		group := groups[objectType]
		mapper, ok := d.registry.Resolve(objectType)
		if !ok {
			if err := d.recordUnmapped(ctx, store, connector, objectType, group); err != nil {
				if isFatal(err) {
					return result, err
				}
				result.Warnings = append(result.Warnings, fmt.Sprintf("failed to record unmapped type %s: %v", objectType, err))
			}
			result.UnmappedTypes = append(result.UnmappedTypes, objectType)
			d.metrics.ObjectsProcessed(ctx, objectType, outcomeUnmapped, len(group))
			logger.Warn("no mapper registered for object type", "type", objectType, "objects", len(group))
			continue
		}

		counts := map[string]int{}
		for _, obj := range group {
			seq++
			outcome, err := d.applyObject(ctx, store, connector, mapper, obj, seq, &result)
			if err != nil {
				if isFatal(err) {
					return result, err
				}
				mappingErr := &MappingError{ObjectType: objectType, Ref: obj.Ref, Err: err}
				result.Errors = append(result.Errors, mappingErr.Error())
				logger.Warn("object not applied", "type", objectType, "ref", obj.Ref, "error", err)
				outcome = outcomeFailed
			}
			counts[outcome]++
		}
		for outcome, n := range counts {
			d.metrics.ObjectsProcessed(ctx, objectType, outcome, n)
		}
		logger.Info("processed object group", "type", objectType, "objects", len(group),
			"created", counts[outcomeCreated], "updated", counts[outcomeUpdated], "failed", counts[outcomeFailed])
	}

	result.Success = len(result.Errors) == 0
	return result, nil
}

// applyObject runs sanitize, validate, map and upsert for one object and
// reports its outcome.
func (d *Dispatcher) applyObject(ctx context.Context, store repository.ExchangeStore, connector domain.Connector, mapper mapping.Mapper, obj *enterprisedata.Object, seq int, result *ProcessingResult) (string, error) {
	clean, err := d.sanitizer.SanitizeIncoming(obj)
	if err != nil {
		return "", err
	}

	validation := mapper.ValidateStructure(clean)
	for _, warning := range validation.Warnings {
		result.Warnings = append(result.Warnings, fmt.Sprintf("%s %s: %s: %s", clean.Type, clean.Ref, warning.Field, warning.Message))
	}
	if !validation.IsValid {
		msgs := make([]error, 0, len(validation.Errors))
		for _, verr := range validation.Errors {
			msgs = append(msgs, fmt.Errorf("%s: %s", verr.Field, verr.Message))
		}
		return "", fmt.Errorf("invalid structure: %w", errors.Join(msgs...))
	}

	rec, err := mapper.MapInbound(clean)
	if err != nil {
		return "", fmt.Errorf("failed to map: %w", err)
	}
	rec.ConnectorID = connector.ID
	keys := mapper.IdentityKeys(rec)
	if len(keys) == 0 {
		return "", errors.New("object has no external ref or natural key")
	}

	var (
		outcome string
		stored  domain.Record
	)
	err = store.WithSavepoint(ctx, fmt.Sprintf("exchange_object_%d", seq), func(ctx context.Context) error {
		var err error
		outcome, stored, err = upsert(ctx, store, rec, keys)
		return err
	})
	if err != nil {
		return "", err
	}

	result.ProcessedCount++
	switch outcome {
	case outcomeCreated:
		result.CreatedIDs = append(result.CreatedIDs, stored.ID)
	case outcomeUpdated:
		result.UpdatedIDs = append(result.UpdatedIDs, stored.ID)
	default:
		result.UnchangedIDs = append(result.UnchangedIDs, stored.ID)
	}
	return outcome, nil
}

// lookupKeys returns the keys an incoming record is matched by. A record with an
// external ref is identified by that ref alone; natural keys only identify
// records the peer sent without one.
func lookupKeys(rec domain.Record, keys []domain.IdentityKey) []domain.IdentityKey {
	if rec.ExternalRef == "" {
		return keys
	}
	return []domain.IdentityKey{{Kind: domain.KeyExternalRef, Value: rec.ExternalRef}}
}

// upsert is the idempotency boundary: an existing record is updated only when
// its state actually differs. All keys are claimed so later objects without a
// ref can still be matched by natural key.
func upsert(ctx context.Context, store repository.ExchangeStore, rec domain.Record, keys []domain.IdentityKey) (string, domain.Record, error) {
	existing, found, err := store.FindRecord(ctx, rec.ConnectorID, rec.RecordType, lookupKeys(rec, keys))
	if err != nil {
		return "", domain.Record{}, fmt.Errorf("failed to look up record: %w", err)
	}
	if !found {
		created, err := store.InsertRecord(ctx, rec, keys)
		if err != nil {
			return "", domain.Record{}, fmt.Errorf("failed to insert record: %w", err)
		}
		return outcomeCreated, created, nil
	}

	merged := rec.WithIdentity(existing)
	changes, err := domain.DiffRecords(existing, merged)
	if err != nil {
		return "", domain.Record{}, err
	}
	if len(changes) == 0 && merged.ExternalRef == existing.ExternalRef {
		return outcomeUnchanged, existing, nil
	}
	updated, err := store.UpdateRecord(ctx, merged, keys)
	if err != nil {
		return "", domain.Record{}, fmt.Errorf("failed to update record: %w", err)
	}
	return outcomeUpdated, updated, nil
}

func (d *Dispatcher) recordUnmapped(ctx context.Context, store repository.ExchangeStore, connector domain.Connector, objectType string, group []*enterprisedata.Object) error {
	sample, err := json.Marshal(d.sanitizer.Sample(group[0], d.sampleProps))
	if err != nil {
		return fmt.Errorf("failed to encode sample: %w", err)
	}
	now := d.now()
	return store.WithSavepoint(ctx, "exchange_unmapped", func(ctx context.Context) error {
		return store.RecordUnmapped(ctx, domain.UnmappedObjectRecord{
			ConnectorID:  connector.ID,
			ObjectType:   objectType,
			SampleObject: string(sample),
			Occurrences:  int64(len(group)),
			FirstSeenAt:  now,
			LastSeenAt:   now,
		})
	})
}

// MapOutgoing converts records to wire objects of wireType. It fails on the
// first record the mapper does not accept.
func (d *Dispatcher) MapOutgoing(records []domain.Record, wireType string) ([]*enterprisedata.Object, error) {
	mapper, ok := d.registry.Resolve(wireType)
	if !ok {
		return nil, fmt.Errorf("no mapper registered for %s", wireType)
	}
	objects := make([]*enterprisedata.Object, 0, len(records))
	for _, rec := range records {
		obj, err := mapOutbound(mapper, rec)
		if err != nil {
			return nil, err
		}
		objects = append(objects, obj)
	}
	return objects, nil
}

func mapOutbound(mapper mapping.Mapper, rec domain.Record) (*enterprisedata.Object, error) {
	if rec.RecordType != mapper.RecordType() {
		return nil, &MappingError{
			ObjectType: mapper.ObjectType(),
			Ref:        rec.ExternalRef,
			Err:        fmt.Errorf("record %s is a %s, expected %s", rec.ID, rec.RecordType, mapper.RecordType()),
		}
	}
	obj, err := mapper.MapOutbound(rec)
	if err != nil {
		return nil, &MappingError{ObjectType: mapper.ObjectType(), Ref: rec.ExternalRef, Err: err}
	}
	return obj, nil
}

// groupByType keeps the first-seen order of types.
func groupByType(objects []*enterprisedata.Object) ([]string, map[string][]*enterprisedata.Object) {
	var order []string
	groups := map[string][]*enterprisedata.Object{}
	for _, obj := range objects {
		if obj == nil {
			continue
		}
		if _, ok := groups[obj.Type]; !ok {
			order = append(order, obj.Type)
		}
		groups[obj.Type] = append(groups[obj.Type], obj)
	}
	return order, groups
}
