package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rmskTV/advPlanner-sub000/internal/domain"

	"github.com/google/uuid"
)

type recordRef struct {
	connectorID uuid.UUID
	recordType  string
	kind        string
	value       string
}

type queueEntry struct {
	id             uuid.UUID
	connectorID    uuid.UUID
	recordID       uuid.UUID
	enqueuedAt     time.Time
	messageNo      int64
	sentAt         *time.Time
	acknowledgedAt *time.Time
}

type unmappedRef struct {
	connectorID uuid.UUID
	objectType  string
}

type memoryState struct {
	records       map[uuid.UUID]domain.Record
	keys          map[recordRef]uuid.UUID
	queue         []queueEntry
	counters      map[uuid.UUID]int64
	confirmations map[uuid.UUID]map[int64]domain.IncomingConfirmation
	logs          []domain.ExchangeLogEntry
	unmapped      map[unmappedRef]domain.UnmappedObjectRecord
}

func newMemoryState() *memoryState {
	return &memoryState{
		records:       map[uuid.UUID]domain.Record{},
		keys:          map[recordRef]uuid.UUID{},
		counters:      map[uuid.UUID]int64{},
		confirmations: map[uuid.UUID]map[int64]domain.IncomingConfirmation{},
		unmapped:      map[unmappedRef]domain.UnmappedObjectRecord{},
	}
}

// clone copies the indexes. Stored records are never mutated in place, so
// sharing them between snapshots is safe.
func (s *memoryState) clone() *memoryState {
	out := newMemoryState()
	for id, rec := range s.records {
		out.records[id] = rec
	}
	for key, id := range s.keys {
		out.keys[key] = id
	}
	out.queue = append([]queueEntry(nil), s.queue...)
	for id, n := range s.counters {
		out.counters[id] = n
	}
	for id, byNo := range s.confirmations {
		copied := make(map[int64]domain.IncomingConfirmation, len(byNo))
		for no, c := range byNo {
			copied[no] = c
		}
		out.confirmations[id] = copied
	}
	out.logs = append([]domain.ExchangeLogEntry(nil), s.logs...)
	for key, rec := range s.unmapped {
		out.unmapped[key] = rec
	}
	return out
}

// MemoryStore is an in-process ExchangeStore for tests and dry runs.
// Transactions are serialized; a failed unit of work restores the state
// captured when it began. Records pass through JSON on the way in, the same
// as with the PostgreSQL store.
type MemoryStore struct {
	txMu  sync.Mutex
	mu    sync.Mutex
	state *memoryState
	now   func() time.Time
}

// MemoryOption configures a MemoryStore.
type MemoryOption func(*MemoryStore)

// WithMemoryClock overrides the clock used for timestamps.
func WithMemoryClock(now func() time.Time) MemoryOption {
	return func(s *MemoryStore) {
		if now != nil {
			s.now = now
		}
	}
}

// NewMemoryStore creates an empty store.
func NewMemoryStore(opts ...MemoryOption) *MemoryStore {
	s := &MemoryStore{state: newMemoryState(), now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

var (
	_ ExchangeStore = (*MemoryStore)(nil)
	_ Transactor    = (*MemoryStore)(nil)
)

// InTransaction runs fn against the store, rolling every change back when fn fails.
func (s *MemoryStore) InTransaction(ctx context.Context, fn func(ctx context.Context, store ExchangeStore) error) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()

	s.mu.Lock()
	snapshot := s.state.clone()
	s.mu.Unlock()

	if err := fn(ctx, s); err != nil {
		s.mu.Lock()
		s.state = snapshot
		s.mu.Unlock()
		return err
	}
	return nil
}

func (s *MemoryStore) WithSavepoint(ctx context.Context, _ string, fn func(ctx context.Context) error) error {
	s.mu.Lock()
	snapshot := s.state.clone()
	s.mu.Unlock()

	if err := fn(ctx); err != nil {
		s.mu.Lock()
		s.state = snapshot
		s.mu.Unlock()
		return err
	}
	return nil
}

func normalizeRecord(rec domain.Record) (domain.Record, error) {
	encoded, err := json.Marshal(struct {
		Properties map[string]any              `json:"properties"`
		Sections   map[string][]map[string]any `json:"sections"`
	}{rec.Properties, rec.Sections})
	if err != nil {
		return rec, fmt.Errorf("failed to encode record state: %w", err)
	}
	var decoded struct {
		Properties map[string]any              `json:"properties"`
		Sections   map[string][]map[string]any `json:"sections"`
	}
	if err := json.Unmarshal(encoded, &decoded); err != nil {
		return rec, fmt.Errorf("failed to decode record state: %w", err)
	}
	rec.Properties = decoded.Properties
	if rec.Properties == nil {
		rec.Properties = map[string]any{}
	}
	rec.Sections = decoded.Sections
	if rec.Sections == nil {
		rec.Sections = map[string][]map[string]any{}
	}
	if rec.NaturalKey != nil {
		key := *rec.NaturalKey
		rec.NaturalKey = &key
	}
	return rec, nil
}

func (s *MemoryStore) FindRecord(_ context.Context, connectorID uuid.UUID, recordType string, keys []domain.IdentityKey) (domain.Record, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, key := range keys {
		id, ok := s.state.keys[recordRef{connectorID, recordType, key.Kind, key.Value}]
		if !ok {
			continue
		}
		rec, err := normalizeRecord(s.state.records[id])
		return rec, err == nil, err
	}
	return domain.Record{}, false, nil
}

func (s *MemoryStore) GetRecord(_ context.Context, id uuid.UUID) (domain.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.state.records[id]
	if !ok {
		return domain.Record{}, fmt.Errorf("record %s: %w", id, ErrNotFound)
	}
	return normalizeRecord(rec)
}

func (s *MemoryStore) InsertRecord(_ context.Context, rec domain.Record, keys []domain.IdentityKey) (domain.Record, error) {
	stored, err := normalizeRecord(rec)
	if err != nil {
		return domain.Record{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if stored.ID == uuid.Nil {
		stored.ID = uuid.New()
	}
	if stored.ExternalRef != "" {
		ref := recordRef{stored.ConnectorID, stored.RecordType, domain.KeyExternalRef, stored.ExternalRef}
		if _, taken := s.state.keys[ref]; taken {
			return domain.Record{}, fmt.Errorf("failed to insert %s record: external ref %q already exists", stored.RecordType, stored.ExternalRef)
		}
	}
	now := s.now()
	stored.Version = 1
	stored.CreatedAt = now
	stored.UpdatedAt = now
	s.state.records[stored.ID] = stored
	s.claimKeysLocked(stored, keys)
	return normalizeRecord(stored)
}

func (s *MemoryStore) UpdateRecord(_ context.Context, rec domain.Record, keys []domain.IdentityKey) (domain.Record, error) {
	stored, err := normalizeRecord(rec)
	if err != nil {
		return domain.Record{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.state.records[stored.ID]
	if !ok {
		return domain.Record{}, fmt.Errorf("record %s: %w", stored.ID, ErrNotFound)
	}
	if stored.ExternalRef == "" {
		stored.ExternalRef = existing.ExternalRef
	}
	if stored.NaturalKey == nil {
		stored.NaturalKey = existing.NaturalKey
	}
	stored.ConnectorID = existing.ConnectorID
	stored.RecordType = existing.RecordType
	stored.Version = existing.Version + 1
	stored.CreatedAt = existing.CreatedAt
	stored.UpdatedAt = s.now()
	s.state.records[stored.ID] = stored
	s.claimKeysLocked(stored, keys)
	return normalizeRecord(stored)
}

func (s *MemoryStore) claimKeysLocked(rec domain.Record, keys []domain.IdentityKey) {
	if rec.ExternalRef != "" {
		keys = append([]domain.IdentityKey{{Kind: domain.KeyExternalRef, Value: rec.ExternalRef}}, keys...)
	}
	for _, key := range keys {
		if key.Value == "" {
			continue
		}
		ref := recordRef{rec.ConnectorID, rec.RecordType, key.Kind, key.Value}
		if _, taken := s.state.keys[ref]; !taken {
			s.state.keys[ref] = rec.ID
		}
	}
}

func (s *MemoryStore) CountRecords(_ context.Context, connectorID uuid.UUID) (map[string]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	counts := map[string]int64{}
	for _, rec := range s.state.records {
		if rec.ConnectorID == connectorID {
			counts[rec.RecordType]++
		}
	}
	return counts, nil
}

func (s *MemoryStore) EnqueueOutbound(_ context.Context, connectorID uuid.UUID, recordID uuid.UUID) (uuid.UUID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.state.records[recordID]; !ok {
		return uuid.Nil, fmt.Errorf("failed to enqueue record %s: %w", recordID, ErrNotFound)
	}
	id := uuid.New()
	s.state.queue = append(s.state.queue, queueEntry{
		id:          id,
		connectorID: connectorID,
		recordID:    recordID,
		enqueuedAt:  s.now(),
	})
	return id, nil
}

func (s *MemoryStore) ListPendingOutbound(_ context.Context, connectorID uuid.UUID, limit int) ([]domain.OutboundItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if limit <= 0 {
		limit = 500
	}
	items := []domain.OutboundItem{}
	for _, entry := range s.state.queue {
		if entry.connectorID != connectorID || entry.sentAt != nil {
			continue
		}
		rec, err := normalizeRecord(s.state.records[entry.recordID])
		if err != nil {
			return nil, err
		}
		items = append(items, domain.OutboundItem{QueueID: entry.id, Record: rec, EnqueuedAt: entry.enqueuedAt})
		if len(items) == limit {
			break
		}
	}
	return items, nil
}

func (s *MemoryStore) MarkOutboundSent(_ context.Context, queueIDs []uuid.UUID, messageNo int64, sentAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	wanted := make(map[uuid.UUID]struct{}, len(queueIDs))
	for _, id := range queueIDs {
		wanted[id] = struct{}{}
	}
	for idx := range s.state.queue {
		if _, ok := wanted[s.state.queue[idx].id]; ok {
			at := sentAt
			s.state.queue[idx].sentAt = &at
			s.state.queue[idx].messageNo = messageNo
		}
	}
	return nil
}

func (s *MemoryStore) AcknowledgeOutbound(_ context.Context, connectorID uuid.UUID, messageNo int64, at time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var affected int64
	for idx := range s.state.queue {
		entry := &s.state.queue[idx]
		if entry.connectorID != connectorID || entry.sentAt == nil || entry.acknowledgedAt != nil || entry.messageNo > messageNo {
			continue
		}
		ackAt := at
		entry.acknowledgedAt = &ackAt
		affected++
	}
	return affected, nil
}

// OutboundStatus reports the message number and acknowledgement of a queue item.
func (s *MemoryStore) OutboundStatus(queueID uuid.UUID) (messageNo int64, sent bool, acknowledged bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, entry := range s.state.queue {
		if entry.id == queueID {
			return entry.messageNo, entry.sentAt != nil, entry.acknowledgedAt != nil
		}
	}
	return 0, false, false
}

func (s *MemoryStore) NextOutboundMessageNo(_ context.Context, connectorID uuid.UUID) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.state.counters[connectorID]++
	return s.state.counters[connectorID], nil
}

func (s *MemoryStore) HasConfirmation(_ context.Context, connectorID uuid.UUID, messageNo int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.state.confirmations[connectorID][messageNo]
	return ok, nil
}

func (s *MemoryStore) CreateConfirmation(_ context.Context, confirmation domain.IncomingConfirmation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	byNo, ok := s.state.confirmations[confirmation.ConnectorID]
	if !ok {
		byNo = map[int64]domain.IncomingConfirmation{}
		s.state.confirmations[confirmation.ConnectorID] = byNo
	}
	if _, exists := byNo[confirmation.MessageNo]; exists {
		return nil
	}
	confirmation.Confirmed = false
	confirmation.ConfirmedAt = nil
	byNo[confirmation.MessageNo] = confirmation
	return nil
}

func (s *MemoryStore) MaxUnconfirmed(_ context.Context, connectorID uuid.UUID) (int64, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var (
		maxNo int64
		found bool
	)
	for no, c := range s.state.confirmations[connectorID] {
		if !c.Confirmed && (!found || no > maxNo) {
			maxNo = no
			found = true
		}
	}
	return maxNo, found, nil
}

func (s *MemoryStore) ConfirmUpTo(_ context.Context, connectorID uuid.UUID, upTo int64, at time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var affected int64
	for no, c := range s.state.confirmations[connectorID] {
		if c.Confirmed || no > upTo {
			continue
		}
		confirmedAt := at
		c.Confirmed = true
		c.ConfirmedAt = &confirmedAt
		s.state.confirmations[connectorID][no] = c
		affected++
	}
	return affected, nil
}

func (s *MemoryStore) ListConfirmations(_ context.Context, connectorID uuid.UUID) ([]domain.IncomingConfirmation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]domain.IncomingConfirmation, 0, len(s.state.confirmations[connectorID]))
	for _, c := range s.state.confirmations[connectorID] {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].MessageNo < out[j].MessageNo })
	return out, nil
}

func (s *MemoryStore) AppendExchangeLog(_ context.Context, entry domain.ExchangeLogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	entry.Errors = append([]string{}, entry.Errors...)
	entry.Warnings = append([]string{}, entry.Warnings...)
	s.state.logs = append(s.state.logs, entry)
	return nil
}

func (s *MemoryStore) ListExchangeLogs(_ context.Context, connectorID uuid.UUID, limit int, offset int) ([]domain.ExchangeLogEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if limit <= 0 {
		limit = 200
	}
	if offset < 0 {
		offset = 0
	}
	matching := []domain.ExchangeLogEntry{}
	for idx := len(s.state.logs) - 1; idx >= 0; idx-- {
		if s.state.logs[idx].ConnectorID == connectorID {
			matching = append(matching, s.state.logs[idx])
		}
	}
	if offset >= len(matching) {
		return []domain.ExchangeLogEntry{}, nil
	}
	end := min(offset+limit, len(matching))
	return matching[offset:end], nil
}

func (s *MemoryStore) RecordUnmapped(_ context.Context, record domain.UnmappedObjectRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := unmappedRef{record.ConnectorID, record.ObjectType}
	occurrences := max(record.Occurrences, 1)
	existing, ok := s.state.unmapped[key]
	if !ok {
		record.Occurrences = occurrences
		record.LastSeenAt = record.FirstSeenAt
		s.state.unmapped[key] = record
		return nil
	}
	existing.Occurrences += occurrences
	existing.LastSeenAt = record.FirstSeenAt
	s.state.unmapped[key] = existing
	return nil
}

func (s *MemoryStore) ListUnmapped(_ context.Context, connectorID uuid.UUID) ([]domain.UnmappedObjectRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := []domain.UnmappedObjectRecord{}
	for key, rec := range s.state.unmapped {
		if key.connectorID == connectorID {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ObjectType < out[j].ObjectType })
	return out, nil
}
