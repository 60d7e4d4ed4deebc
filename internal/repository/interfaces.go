package repository

import (
	"context"
	"errors"
	"time"

	"github.com/rmskTV/advPlanner-sub000/internal/domain"

	"github.com/google/uuid"
)

// ErrNotFound is returned when a looked-up row does not exist.
var ErrNotFound = errors.New("not found")

// RecordRepository stores the local records produced by inbound mapping.
type RecordRepository interface {
	// FindRecord tries keys in order and returns the first record matching one.
	FindRecord(ctx context.Context, connectorID uuid.UUID, recordType string, keys []domain.IdentityKey) (domain.Record, bool, error)
	GetRecord(ctx context.Context, id uuid.UUID) (domain.Record, error)
	// InsertRecord stores a new record and claims its identity keys.
	InsertRecord(ctx context.Context, rec domain.Record, keys []domain.IdentityKey) (domain.Record, error)
	// UpdateRecord overwrites properties and sections and bumps the version.
	UpdateRecord(ctx context.Context, rec domain.Record, keys []domain.IdentityKey) (domain.Record, error)
	CountRecords(ctx context.Context, connectorID uuid.UUID) (map[string]int64, error)
}

// OutboundQueueRepository tracks records waiting to be sent to a peer.
type OutboundQueueRepository interface {
	EnqueueOutbound(ctx context.Context, connectorID uuid.UUID, recordID uuid.UUID) (uuid.UUID, error)
	ListPendingOutbound(ctx context.Context, connectorID uuid.UUID, limit int) ([]domain.OutboundItem, error)
	MarkOutboundSent(ctx context.Context, queueIDs []uuid.UUID, messageNo int64, sentAt time.Time) error
	// AcknowledgeOutbound marks items sent in messages up to messageNo as received by the peer.
	AcknowledgeOutbound(ctx context.Context, connectorID uuid.UUID, messageNo int64, at time.Time) (int64, error)
}

// CounterRepository hands out outbound message numbers.
type CounterRepository interface {
	// NextOutboundMessageNo increments and returns the connector's counter. The
	// increment is a single statement so concurrent callers never share a number.
	NextOutboundMessageNo(ctx context.Context, connectorID uuid.UUID) (int64, error)
}

// ConfirmationRepository tracks applied inbound messages until they are acknowledged.
type ConfirmationRepository interface {
	HasConfirmation(ctx context.Context, connectorID uuid.UUID, messageNo int64) (bool, error)
	// CreateConfirmation never resets an existing row.
	CreateConfirmation(ctx context.Context, confirmation domain.IncomingConfirmation) error
	// MaxUnconfirmed returns the highest applied message number not yet acknowledged.
	MaxUnconfirmed(ctx context.Context, connectorID uuid.UUID) (int64, bool, error)
	// ConfirmUpTo flips every unconfirmed row with message_no <= upTo.
	ConfirmUpTo(ctx context.Context, connectorID uuid.UUID, upTo int64, at time.Time) (int64, error)
	ListConfirmations(ctx context.Context, connectorID uuid.UUID) ([]domain.IncomingConfirmation, error)
}

// ExchangeLogRepository appends and lists exchange log entries.
type ExchangeLogRepository interface {
	AppendExchangeLog(ctx context.Context, entry domain.ExchangeLogEntry) error
	ListExchangeLogs(ctx context.Context, connectorID uuid.UUID, limit int, offset int) ([]domain.ExchangeLogEntry, error)
}

// UnmappedObjectRepository keeps diagnostics about wire types without a mapper.
type UnmappedObjectRepository interface {
	// RecordUnmapped keeps the first-seen time and sample and counts occurrences.
	RecordUnmapped(ctx context.Context, record domain.UnmappedObjectRecord) error
	ListUnmapped(ctx context.Context, connectorID uuid.UUID) ([]domain.UnmappedObjectRecord, error)
}

// ExchangeStore is everything the exchange engine persists.
type ExchangeStore interface {
	RecordRepository
	OutboundQueueRepository
	CounterRepository
	ConfirmationRepository
	ExchangeLogRepository
	UnmappedObjectRepository

	// WithSavepoint runs fn so that its writes can be discarded alone when it
	// fails. Outside a transaction fn simply runs.
	WithSavepoint(ctx context.Context, name string, fn func(ctx context.Context) error) error
}

// Transactor runs a unit of work against a store bound to one transaction.
type Transactor interface {
	InTransaction(ctx context.Context, fn func(ctx context.Context, store ExchangeStore) error) error
}
