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

	"github.com/rmskTV/advPlanner-sub000/internal/lock"
)

const defaultPollInterval = time.Minute

// ErrUnknownConnector is returned when a trigger names no configured connector.
var ErrUnknownConnector = errors.New("unknown connector")

// RunDirection selects which cycles a run performs.
type RunDirection string

const (
	RunIncoming RunDirection = "incoming"
	RunOutgoing RunDirection = "outgoing"
	RunBoth     RunDirection = "both"
)

// ParseRunDirection accepts incoming, outgoing or both; empty means both.
func ParseRunDirection(s string) (RunDirection, error) {
	switch RunDirection(strings.ToLower(strings.TrimSpace(s))) {
	case RunIncoming:
		return RunIncoming, nil
	case RunOutgoing:
		return RunOutgoing, nil
	case RunBoth, "":
		return RunBoth, nil
	default:
		return "", fmt.Errorf("invalid direction %q: want incoming, outgoing or both", s)
	}
}

// Scheduler polls every connector, running the incoming cycle and then the
// outgoing one, and sweeps expired locks when the locker needs it.
type Scheduler struct {
	orchestrator *Orchestrator
	targets      []Target
	byID         map[uuid.UUID]int
	running      []sync.Mutex
	locker       lock.Locker
	interval     time.Duration
	logger       *slog.Logger
}

// SchedulerOption configures a Scheduler.
type SchedulerOption func(*Scheduler)

// WithPollInterval sets the time between polls.
func WithPollInterval(d time.Duration) SchedulerOption {
	return func(s *Scheduler) {
		if d > 0 {
			s.interval = d
		}
	}
}

// WithLockSweeper sweeps expired entries of locker after every poll when it
// implements lock.Sweeper.
func WithLockSweeper(locker lock.Locker) SchedulerOption {
	return func(s *Scheduler) {
		s.locker = locker
	}
}

// WithSchedulerLogger sets the logger.
func WithSchedulerLogger(logger *slog.Logger) SchedulerOption {
	return func(s *Scheduler) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewScheduler creates a scheduler over targets.
func NewScheduler(orchestrator *Orchestrator, targets []Target, opts ...SchedulerOption) *Scheduler {
	s := &Scheduler{
		orchestrator: orchestrator,
		targets:      targets,
		byID:         make(map[uuid.UUID]int, len(targets)),
		running:      make([]sync.Mutex, len(targets)),
		interval:     defaultPollInterval,
		logger:       slog.Default(),
	}
	for i, target := range targets {
		s.byID[target.Connector.ID] = i
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Targets returns the configured targets.
func (s *Scheduler) Targets() []Target {
	return s.targets
}

// Target finds a target by connector ID.
func (s *Scheduler) Target(id uuid.UUID) (Target, bool) {
	idx, ok := s.byID[id]
	if !ok {
		return Target{}, false
	}
	return s.targets[idx], true
}

// Run polls until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	s.logger.Info("scheduler started", "connectors", len(s.targets), "interval", s.interval)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		s.RunOnce(ctx)
		select {
		case <-ctx.Done():
			s.logger.Info("scheduler stopped")
			return nil
		case <-ticker.C:
		}
	}
}

// RunOnce runs both cycles for every connector, then sweeps expired locks.
// Failures are logged; one connector never blocks the next.
func (s *Scheduler) RunOnce(ctx context.Context) {
	for _, target := range s.targets {
		if ctx.Err() != nil {
			return
		}
		if _, err := s.Trigger(ctx, target.Connector.ID, RunBoth); err != nil {
			s.logger.Error("exchange run failed", "connector", target.Connector.Name, "error", err)
		}
	}
	s.sweep(ctx)
}

// Trigger runs the requested cycles for one connector now. Runs of the same
// connector inside this process are serialized.
func (s *Scheduler) Trigger(ctx context.Context, connectorID uuid.UUID, direction RunDirection) ([]CycleReport, error) {
	idx, ok := s.byID[connectorID]
	if !ok {
		return nil, fmt.Errorf("%s: %w", connectorID, ErrUnknownConnector)
	}
	target := s.targets[idx]
	s.running[idx].Lock()
	defer s.running[idx].Unlock()

	var (
		reports []CycleReport
		errs    []error
	)
	if direction == RunIncoming || direction == RunBoth {
		report, err := s.orchestrator.RunIncoming(ctx, target)
		reports = append(reports, report)
		if err != nil {
			errs = append(errs, err)
		}
	}
	if direction == RunOutgoing || direction == RunBoth {
		report, err := s.orchestrator.RunOutgoing(ctx, target)
		reports = append(reports, report)
		if err != nil {
			errs = append(errs, err)
		}
	}
	return reports, errors.Join(errs...)
}

func (s *Scheduler) sweep(ctx context.Context) {
	sweeper, ok := s.locker.(lock.Sweeper)
	if !ok {
		return
	}
	removed, err := sweeper.Sweep(ctx)
	if err != nil {
		s.logger.Warn("lock sweep failed", "error", err)
		return
	}
	if removed > 0 {
		s.logger.Info("expired locks reclaimed", "count", removed)
	}
}
