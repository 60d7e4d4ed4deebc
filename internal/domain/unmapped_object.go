package domain

import (
	"time"

	"github.com/google/uuid"
)

// UnmappedObjectRecord captures a wire type with no registered mapper. It is
// diagnostic only and never applied to the domain store.
type UnmappedObjectRecord struct {
	ConnectorID  uuid.UUID `json:"connector_id"`
	ObjectType   string    `json:"object_type"`
	SampleObject string    `json:"sample_object"`
	Occurrences  int64     `json:"occurrences"`
	FirstSeenAt  time.Time `json:"first_seen_at"`
	LastSeenAt   time.Time `json:"last_seen_at"`
}
