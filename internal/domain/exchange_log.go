package domain

import (
	"time"

	"github.com/google/uuid"
)

// Direction of an exchange relative to this node.
type Direction string

const (
	DirectionIncoming Direction = "in"
	DirectionOutgoing Direction = "out"
)

// ExchangeStatus is the outcome recorded for one processed file or batch.
type ExchangeStatus string

const (
	ExchangeCompleted ExchangeStatus = "completed"
	ExchangeFailed    ExchangeStatus = "failed"
)

// ExchangeLogEntry is the append-only record written once per processed file or batch.
type ExchangeLogEntry struct {
	ID           uuid.UUID      `json:"id"`
	ConnectorID  uuid.UUID      `json:"connector_id"`
	Direction    Direction      `json:"direction"`
	MessageNo    int64          `json:"message_no"`
	FileName     string         `json:"file_name"`
	ObjectsCount int            `json:"objects_count"`
	Status       ExchangeStatus `json:"status"`
	StartedAt    time.Time      `json:"started_at"`
	CompletedAt  time.Time      `json:"completed_at"`
	Errors       []string       `json:"errors"`
	Warnings     []string       `json:"warnings"`
}

// NewExchangeLogEntry starts an entry; callers fill in the outcome before appending it.
func NewExchangeLogEntry(connectorID uuid.UUID, direction Direction, fileName string, startedAt time.Time) ExchangeLogEntry {
	return ExchangeLogEntry{
		ID:          uuid.New(),
		ConnectorID: connectorID,
		Direction:   direction,
		FileName:    fileName,
		StartedAt:   startedAt,
		Errors:      []string{},
		Warnings:    []string{},
	}
}
