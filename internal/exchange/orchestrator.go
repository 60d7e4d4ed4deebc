package exchange

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/rmskTV/advPlanner-sub000/internal/domain"
	"github.com/rmskTV/advPlanner-sub000/internal/enterprisedata"
	"github.com/rmskTV/advPlanner-sub000/internal/mapping"
	"github.com/rmskTV/advPlanner-sub000/internal/observability"
	"github.com/rmskTV/advPlanner-sub000/internal/repository"
	"github.com/rmskTV/advPlanner-sub000/internal/retry"
	"github.com/rmskTV/advPlanner-sub000/internal/sanitize"
	"github.com/rmskTV/advPlanner-sub000/internal/transport"
	"github.com/rmskTV/advPlanner-sub000/internal/txn"
)

const (
	defaultWorkers   = 4
	defaultBatchSize = 500
)

// DefaultSupportedVersions lists the EnterpriseData versions accepted when
// nothing is configured.
var DefaultSupportedVersions = []string{"1.6", "1.7", "1.8"}

// Target binds a connector to the file manager of its drop location.
type Target struct {
	Connector domain.Connector
	Files     *transport.Manager
}

// FileOutcome describes what happened to one message file.
type FileOutcome struct {
	FileName   string                `json:"file_name"`
	MessageNo  int64                 `json:"message_no"`
	ReceivedNo int64                 `json:"received_no,omitempty"`
	Status     domain.ExchangeStatus `json:"status,omitempty"`
	Skipped    bool                  `json:"skipped,omitempty"`
	Duplicate  bool                  `json:"duplicate,omitempty"`
	Objects    int                   `json:"objects"`
	Errors     []string              `json:"errors,omitempty"`
	Warnings   []string              `json:"warnings,omitempty"`
}

// CycleReport summarizes one incoming or outgoing cycle of a connector.
type CycleReport struct {
	Connector string           `json:"connector"`
	Direction domain.Direction `json:"direction"`
	StartedAt time.Time        `json:"started_at"`
	Duration  time.Duration    `json:"duration"`
	Files     []FileOutcome    `json:"files"`
}

// Failed counts files that ended in failure.
func (r CycleReport) Failed() int {
	n := 0
	for _, f := range r.Files {
		if f.Status == domain.ExchangeFailed {
			n++
		}
	}
	return n
}

// Dependencies are the collaborators an Orchestrator drives.
type Dependencies struct {
	// Transactor runs units of work.
	Transactor repository.Transactor
	// Store is used outside units of work, for failure logs and bookkeeping.
	Store     repository.ExchangeStore
	Registry  *mapping.Registry
	Sanitizer *sanitize.Sanitizer
	Codec     *enterprisedata.Codec
}

// Orchestrator drives the incoming and outgoing exchange cycles.
type Orchestrator struct {
	transactor    repository.Transactor
	store         repository.ExchangeStore
	registry      *mapping.Registry
	sanitizer     *sanitize.Sanitizer
	codec         *enterprisedata.Codec
	dispatcher    *Dispatcher
	policy        retry.Policy
	workers       int
	batchSize     int
	slowThreshold time.Duration
	versions      []string
	metrics       *observability.Metrics
	logger        *slog.Logger
	now           func() time.Time

	// negotiated holds the format version agreed with each peer, keyed by connector ID.
	negotiated sync.Map
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithWorkers bounds how many files of one cycle are processed in parallel.
func WithWorkers(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.workers = n
		}
	}
}

// WithBatchSize bounds how many queued records one outgoing cycle sends.
func WithBatchSize(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.batchSize = n
		}
	}
}

// WithRetryPolicy sets the retry policy of units of work.
func WithRetryPolicy(policy retry.Policy) Option {
	return func(o *Orchestrator) {
		o.policy = policy
	}
}

// WithSlowThreshold enables slow-exchange warnings.
func WithSlowThreshold(d time.Duration) Option {
	return func(o *Orchestrator) {
		o.slowThreshold = d
	}
}

// WithSupportedVersions sets the EnterpriseData versions this node speaks.
func WithSupportedVersions(versions ...string) Option {
	return func(o *Orchestrator) {
		if len(versions) > 0 {
			o.versions = append([]string(nil), versions...)
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *Orchestrator) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(metrics *observability.Metrics) Option {
	return func(o *Orchestrator) {
		if metrics != nil {
			o.metrics = metrics
		}
	}
}

// WithClock overrides the clock.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) {
		if now != nil {
			o.now = now
		}
	}
}

// NewOrchestrator wires an orchestrator from deps.
func NewOrchestrator(deps Dependencies, opts ...Option) (*Orchestrator, error) {
	if deps.Transactor == nil || deps.Store == nil {
		return nil, errors.New("orchestrator requires a transactor and a store")
	}
	if deps.Registry == nil {
		return nil, errors.New("orchestrator requires a mapping registry")
	}
	o := &Orchestrator{
		transactor: deps.Transactor,
		store:      deps.Store,
		registry:   deps.Registry,
		sanitizer:  deps.Sanitizer,
		codec:      deps.Codec,
		policy:     retry.DefaultPolicy(),
		workers:    defaultWorkers,
		batchSize:  defaultBatchSize,
		versions:   DefaultSupportedVersions,
		logger:     slog.Default(),
		now:        time.Now,
	}
	if o.sanitizer == nil {
		o.sanitizer = sanitize.New(sanitize.DefaultConfig())
	}
	if o.codec == nil {
		o.codec = enterprisedata.NewCodec()
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.metrics == nil {
		o.metrics = observability.Global()
	}
	o.dispatcher = NewDispatcher(o.registry, o.sanitizer,
		WithDispatcherLogger(o.logger),
		WithDispatcherMetrics(o.metrics),
		WithDispatcherClock(o.now),
	)
	return o, nil
}

// Dispatcher returns the dispatcher used for inbound objects.
func (o *Orchestrator) Dispatcher() *Dispatcher {
	return o.dispatcher
}

// RunIncoming scans the connector's drop location and applies every message
// addressed to us. Files are independent: one failing file never blocks the
// others. The returned error is set only when scanning itself failed.
func (o *Orchestrator) RunIncoming(ctx context.Context, target Target) (CycleReport, error) {
	connector := target.Connector
	report := CycleReport{
		Connector: connector.Name,
		Direction: domain.DirectionIncoming,
		StartedAt: o.now(),
		Files:     []FileOutcome{},
	}
	ctx, span := o.metrics.StartSpan(ctx, "exchange.incoming", attribute.String("connector", connector.Name))
	defer span.End()
	logger := o.logger.With("connector", connector.Name, "direction", string(domain.DirectionIncoming))

	names, err := target.Files.ScanIncoming(ctx)
	if err != nil {
		span.RecordError(err)
		return o.finish(ctx, report, logger), fmt.Errorf("failed to scan incoming files: %w", err)
	}
	if len(names) == 0 {
		logger.Debug("no incoming files")
		return o.finish(ctx, report, logger), nil
	}
	logger.Info("incoming exchange started", "files", len(names))

	outcomes := make([]FileOutcome, len(names))
	var g errgroup.Group
	g.SetLimit(o.workers)
	for i, name := range names {
		g.Go(func() error {
			outcomes[i] = o.processIncomingFile(ctx, target, name)
			return nil
		})
	}
	_ = g.Wait()

	report.Files = outcomes
	return o.finish(ctx, report, logger), nil
}

// processIncomingFile walks one file through Lock, Download, Parse, Dispatch,
// Commit, Archive and Unlock. The lock is released on every path.
func (o *Orchestrator) processIncomingFile(ctx context.Context, target Target, name string) FileOutcome {
	connector := target.Connector
	started := o.now()
	outcome := FileOutcome{FileName: name}
	logger := o.logger.With("connector", connector.Name, "direction", string(domain.DirectionIncoming), "file", name)

	ctx, span := o.metrics.StartSpan(ctx, "exchange.incoming.file",
		attribute.String("connector", connector.Name), attribute.String("file", name))
	defer span.End()

	fl, err := target.Files.Lock(ctx, name)
	if err != nil {
		outcome.Skipped = true
		if transport.IsReason(err, transport.ReasonLocked) {
			logger.Info("file is locked by another worker, skipping")
		} else {
			logger.Warn("failed to lock file, skipping", "error", err)
			outcome.Errors = []string{err.Error()}
		}
		return outcome
	}
	defer func() {
		if err := target.Files.Unlock(context.WithoutCancel(ctx), fl); err != nil {
			logger.Error("failed to release file lock", "error", err)
		}
	}()

	entry := domain.NewExchangeLogEntry(connector.ID, domain.DirectionIncoming, name, started)
	fail := func(err error) FileOutcome {
		span.RecordError(err)
		return o.failIncoming(ctx, connector.Name, entry, outcome, err, logger)
	}

	data, err := target.Files.Download(ctx, name)
	if err != nil {
		return fail(err)
	}
	msg, err := o.codec.Parse(data)
	if err != nil {
		return fail(err)
	}

	header := msg.Header
	entry.MessageNo = header.MessageNo
	entry.ObjectsCount = len(msg.Objects)
	outcome.MessageNo = header.MessageNo
	outcome.ReceivedNo = header.ReceivedNo
	outcome.Objects = len(msg.Objects)
	logger = logger.With("message_no", header.MessageNo)

	if !enterprisedata.SupportsFormat(header.Format, o.versions) {
		return fail(fmt.Errorf("unsupported exchange format %q", header.Format))
	}
	entry.Warnings = append(entry.Warnings, o.checkAddressing(connector, header)...)
	o.rememberVersions(connector.ID, header.AvailableVersions)

	var (
		result       ProcessingResult
		duplicate    bool
		acknowledged int64
		applied      domain.ExchangeLogEntry
	)
	err = txn.WithRetry(ctx, o.policy, func(ctx context.Context) error {
		return o.transactor.InTransaction(ctx, func(ctx context.Context, store repository.ExchangeStore) error {
			result, duplicate, acknowledged = ProcessingResult{}, false, 0
			if header.MessageNo > 0 {
				seen, err := store.HasConfirmation(ctx, connector.ID, header.MessageNo)
				if err != nil {
					return err
				}
				duplicate = seen
			}
			if !duplicate {
				res, err := o.dispatcher.ProcessIncomingObjects(ctx, store, connector, msg.Objects)
				if err != nil {
					return err
				}
				result = res
				if header.ReceivedNo > 0 {
					acknowledged, err = store.AcknowledgeOutbound(ctx, connector.ID, header.ReceivedNo, o.now())
					if err != nil {
						return err
					}
				}
			}
			applied = o.appliedEntry(entry, result, duplicate)
			return o.recordApplied(ctx, store, applied, !duplicate)
		})
	})
	if err != nil {
		return fail(err)
	}
	entry = applied
	if duplicate {
		logger.Warn("duplicate message, archiving without applying")
	}

	if dest, err := target.Files.Archive(ctx, name); err != nil {
		logger.Warn("failed to archive processed file", "error", err)
		entry.Warnings = append(entry.Warnings, fmt.Sprintf("archive failed: %v", err))
	} else {
		logger.Debug("archived processed file", "archive", dest)
	}

	outcome.Status = domain.ExchangeCompleted
	outcome.Duplicate = duplicate
	outcome.Errors = entry.Errors
	outcome.Warnings = entry.Warnings
	o.metrics.FileProcessed(ctx, connector.Name, string(domain.DirectionIncoming), string(domain.ExchangeCompleted))
	logger.Info("incoming file processed",
		"objects", len(msg.Objects),
		"processed", result.ProcessedCount,
		"created", len(result.CreatedIDs),
		"updated", len(result.UpdatedIDs),
		"errors", len(result.Errors),
		"acknowledged", acknowledged,
	)
	o.warnIfSlow(logger, "file", o.now().Sub(started))
	return outcome
}

// appliedEntry completes the log entry of a message whose unit of work is
// about to commit.
func (o *Orchestrator) appliedEntry(entry domain.ExchangeLogEntry, result ProcessingResult, duplicate bool) domain.ExchangeLogEntry {
	entry.Errors = append(append([]string{}, entry.Errors...), result.Errors...)
	entry.Warnings = append(append([]string{}, entry.Warnings...), result.Warnings...)
	for _, objectType := range result.UnmappedTypes {
		entry.Warnings = append(entry.Warnings, fmt.Sprintf("no mapper for %s", objectType))
	}
	if duplicate {
		entry.Warnings = append(entry.Warnings, fmt.Sprintf("message %d was already applied", entry.MessageNo))
	}
	entry.Status = domain.ExchangeCompleted
	entry.CompletedAt = o.now()
	return entry
}

// recordApplied writes the completed log entry and the confirmation inside the
// unit of work that applied the message, so data and bookkeeping commit together.
func (o *Orchestrator) recordApplied(ctx context.Context, store repository.ExchangeStore, entry domain.ExchangeLogEntry, confirm bool) error {
	if err := store.AppendExchangeLog(ctx, entry); err != nil {
		return fmt.Errorf("failed to write exchange log: %w", err)
	}
	if !confirm || entry.MessageNo <= 0 {
		return nil
	}
	if err := store.CreateConfirmation(ctx, domain.IncomingConfirmation{
		ConnectorID: entry.ConnectorID,
		MessageNo:   entry.MessageNo,
		ProcessedAt: entry.CompletedAt,
	}); err != nil {
		return fmt.Errorf("failed to confirm message %d: %w", entry.MessageNo, err)
	}
	return nil
}

func (o *Orchestrator) failIncoming(ctx context.Context, connectorName string, entry domain.ExchangeLogEntry, outcome FileOutcome, cause error, logger *slog.Logger) FileOutcome {
	entry.Status = domain.ExchangeFailed
	entry.CompletedAt = o.now()
	entry.Errors = append(entry.Errors, cause.Error())
	if err := o.store.AppendExchangeLog(context.WithoutCancel(ctx), entry); err != nil {
		logger.Error("failed to write exchange log", "error", err)
	}
	o.metrics.FileProcessed(ctx, connectorName, string(domain.DirectionIncoming), string(domain.ExchangeFailed))
	logger.Error("incoming file failed", "error", cause)

	outcome.Status = domain.ExchangeFailed
	outcome.Errors = entry.Errors
	outcome.Warnings = entry.Warnings
	return outcome
}

// checkAddressing returns warnings for a header addressed to other nodes.
func (o *Orchestrator) checkAddressing(connector domain.Connector, header enterprisedata.Header) []string {
	var warnings []string
	if header.From != "" && !strings.EqualFold(header.From, connector.PeerNode()) {
		warnings = append(warnings, fmt.Sprintf("message is from %q, expected %q", header.From, connector.PeerNode()))
	}
	if header.To != "" && !strings.EqualFold(header.To, connector.OurNode()) {
		warnings = append(warnings, fmt.Sprintf("message is addressed to %q, expected %q", header.To, connector.OurNode()))
	}
	return warnings
}

func (o *Orchestrator) rememberVersions(connectorID uuid.UUID, theirs []string) {
	if len(theirs) == 0 {
		return
	}
	if version, ok := enterprisedata.NegotiateVersion(o.versions, theirs); ok {
		o.negotiated.Store(connectorID, version)
	}
}

// outboundVersion is the version negotiated with the peer, or our highest one.
func (o *Orchestrator) outboundVersion(connectorID uuid.UUID) string {
	if v, ok := o.negotiated.Load(connectorID); ok {
		return v.(string)
	}
	if version, ok := enterprisedata.NegotiateVersion(o.versions, o.versions); ok {
		return version
	}
	return enterprisedata.DefaultVersion
}

func (o *Orchestrator) objectTypes() []enterprisedata.ObjectTypeInfo {
	types := o.registry.ObjectTypes()
	infos := make([]enterprisedata.ObjectTypeInfo, 0, len(types))
	for _, name := range types {
		infos = append(infos, enterprisedata.ObjectTypeInfo{Name: name, Sending: "*", Receiving: "*"})
	}
	return infos
}

func (o *Orchestrator) finish(ctx context.Context, report CycleReport, logger *slog.Logger) CycleReport {
	report.Duration = o.now().Sub(report.StartedAt)
	o.metrics.CycleFinished(ctx, report.Connector, string(report.Direction), report.Duration)
	if len(report.Files) > 0 {
		logger.Info("exchange cycle finished", "files", len(report.Files), "failed", report.Failed(), "duration", report.Duration)
	}
	o.warnIfSlow(logger, "cycle", report.Duration)
	return report
}

func (o *Orchestrator) warnIfSlow(logger *slog.Logger, scope string, elapsed time.Duration) {
	if o.slowThreshold > 0 && elapsed > o.slowThreshold {
		logger.Warn("slow exchange", "scope", scope, "duration", elapsed, "threshold", o.slowThreshold)
	}
}
