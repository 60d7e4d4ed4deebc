package domain

import (
	"time"

	"github.com/google/uuid"
)

// IncomingConfirmation tracks a durably applied inbound message until an outbound
// message has carried its number back to the peer as ReceivedNo.
type IncomingConfirmation struct {
	ConnectorID uuid.UUID  `json:"connector_id"`
	MessageNo   int64      `json:"message_no"`
	ProcessedAt time.Time  `json:"processed_at"`
	Confirmed   bool       `json:"confirmed"`
	ConfirmedAt *time.Time `json:"confirmed_at,omitempty"`
}
