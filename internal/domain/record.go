package domain

import (
	"time"

	"github.com/google/uuid"
)

// Identity key kinds in the order mappers usually prefer them.
const (
	KeyExternalRef = "external_ref"
	KeyTaxID       = "inn"
	KeyNumberDate  = "number_date"
	KeyCode        = "code"
	KeyName        = "name"
)

// IdentityKey is one way to find an existing record for an incoming object.
type IdentityKey struct {
	Kind  string `json:"kind"`
	Value string `json:"value"`
}

// Record is a local business record as it crosses the domain-store boundary.
type Record struct {
	ID          uuid.UUID                   `json:"id"`
	ConnectorID uuid.UUID                   `json:"connector_id"`
	RecordType  string                      `json:"record_type"`
	ExternalRef string                      `json:"external_ref,omitempty"`
	NaturalKey  *IdentityKey                `json:"natural_key,omitempty"`
	Properties  map[string]any              `json:"properties"`
	Sections    map[string][]map[string]any `json:"sections,omitempty"`
	Version     int64                       `json:"version"`
	CreatedAt   time.Time                   `json:"created_at"`
	UpdatedAt   time.Time                   `json:"updated_at"`
}

// NewRecord creates a record of the given type with copied properties.
func NewRecord(recordType string, properties map[string]any) Record {
	return Record{
		RecordType: recordType,
		Properties: cloneProperties(properties),
		Sections:   map[string][]map[string]any{},
	}
}

// String returns the string form of a property, or "" when missing.
func (r Record) String(key string) string {
	value, ok := r.Properties[key]
	if !ok || value == nil {
		return ""
	}
	if s, ok := value.(string); ok {
		return s
	}
	return ""
}

// HasState reports whether the record carries anything worth sending.
func (r Record) HasState() bool {
	if len(r.Properties) > 0 {
		return true
	}
	for _, rows := range r.Sections {
		if len(rows) > 0 {
			return true
		}
	}
	return false
}

// WithIdentity returns a copy carrying the persisted identity of existing.
func (r Record) WithIdentity(existing Record) Record {
	r.ID = existing.ID
	r.Version = existing.Version
	r.CreatedAt = existing.CreatedAt
	if r.ExternalRef == "" {
		r.ExternalRef = existing.ExternalRef
	}
	if r.NaturalKey == nil {
		r.NaturalKey = existing.NaturalKey
	}
	return r
}

// OutboundItem is a record queued for sending to a peer.
type OutboundItem struct {
	QueueID    uuid.UUID `json:"queue_id"`
	Record     Record    `json:"record"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}
