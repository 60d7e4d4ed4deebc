package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rmskTV/advPlanner-sub000/internal/domain"
	"github.com/rmskTV/advPlanner-sub000/internal/txn"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
)

// DBTX is satisfied by *pgxpool.Pool, *pgx.Conn and pgx.Tx.
type DBTX interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store implements ExchangeStore on PostgreSQL.
type Store struct {
	db DBTX
}

// NewStore wires a store over a pool, connection or transaction.
func NewStore(db DBTX) *Store {
	return &Store{db: db}
}

var _ ExchangeStore = (*Store)(nil)

const recordColumns = `r.id, r.connector_id, r.record_type, r.external_ref, r.natural_key_kind, r.natural_key_value,
	r.properties, r.sections, r.version, r.created_at, r.updated_at`

func (s *Store) ready() error {
	if s == nil || s.db == nil {
		return fmt.Errorf("exchange store not initialized")
	}
	return nil
}

func scanRecord(row pgx.Row) (domain.Record, error) {
	var (
		rec        domain.Record
		externalID pgtype.Text
		keyKind    pgtype.Text
		keyValue   pgtype.Text
		properties []byte
		sections   []byte
	)
	if err := row.Scan(
		&rec.ID,
		&rec.ConnectorID,
		&rec.RecordType,
		&externalID,
		&keyKind,
		&keyValue,
		&properties,
		&sections,
		&rec.Version,
		&rec.CreatedAt,
		&rec.UpdatedAt,
	); err != nil {
		return rec, err
	}
	if externalID.Valid {
		rec.ExternalRef = externalID.String
	}
	if keyKind.Valid && keyValue.Valid {
		rec.NaturalKey = &domain.IdentityKey{Kind: keyKind.String, Value: keyValue.String}
	}
	rec.Properties = map[string]any{}
	if len(properties) > 0 {
		if err := json.Unmarshal(properties, &rec.Properties); err != nil {
			return rec, fmt.Errorf("failed to decode record properties: %w", err)
		}
	}
	rec.Sections = map[string][]map[string]any{}
	if len(sections) > 0 {
		if err := json.Unmarshal(sections, &rec.Sections); err != nil {
			return rec, fmt.Errorf("failed to decode record sections: %w", err)
		}
	}
	return rec, nil
}

func nullableText(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func naturalKeyArgs(key *domain.IdentityKey) (any, any) {
	if key == nil {
		return nil, nil
	}
	return key.Kind, key.Value
}

func marshalRecordState(rec domain.Record) ([]byte, []byte, error) {
	properties := rec.Properties
	if properties == nil {
		properties = map[string]any{}
	}
	sections := rec.Sections
	if sections == nil {
		sections = map[string][]map[string]any{}
	}
	propsJSON, err := json.Marshal(properties)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to encode record properties: %w", err)
	}
	sectionsJSON, err := json.Marshal(sections)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to encode record sections: %w", err)
	}
	return propsJSON, sectionsJSON, nil
}

func (s *Store) FindRecord(ctx context.Context, connectorID uuid.UUID, recordType string, keys []domain.IdentityKey) (domain.Record, bool, error) {
	if err := s.ready(); err != nil {
		return domain.Record{}, false, err
	}

	for _, key := range keys {
		var row pgx.Row
		if key.Kind == domain.KeyExternalRef {
			row = s.db.QueryRow(ctx,
				`SELECT `+recordColumns+`
				 FROM exchange_records r
				 WHERE r.connector_id = $1 AND r.record_type = $2 AND r.external_ref = $3`,
				connectorID, recordType, key.Value,
			)
		} else {
			row = s.db.QueryRow(ctx,
				`SELECT `+recordColumns+`
				 FROM exchange_record_keys k
				 JOIN exchange_records r ON r.id = k.record_id
				 WHERE k.connector_id = $1 AND k.record_type = $2 AND k.kind = $3 AND k.value = $4`,
				connectorID, recordType, key.Kind, key.Value,
			)
		}
		rec, err := scanRecord(row)
		if errors.Is(err, pgx.ErrNoRows) {
			continue
		}
		if err != nil {
			return domain.Record{}, false, fmt.Errorf("failed to find %s record by %s: %w", recordType, key.Kind, err)
		}
		return rec, true, nil
	}
	return domain.Record{}, false, nil
}

func (s *Store) GetRecord(ctx context.Context, id uuid.UUID) (domain.Record, error) {
	if err := s.ready(); err != nil {
		return domain.Record{}, err
	}
	rec, err := scanRecord(s.db.QueryRow(ctx, `SELECT `+recordColumns+` FROM exchange_records r WHERE r.id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Record{}, fmt.Errorf("record %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return domain.Record{}, fmt.Errorf("failed to get record: %w", err)
	}
	return rec, nil
}

func (s *Store) InsertRecord(ctx context.Context, rec domain.Record, keys []domain.IdentityKey) (domain.Record, error) {
	if err := s.ready(); err != nil {
		return domain.Record{}, err
	}
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	propsJSON, sectionsJSON, err := marshalRecordState(rec)
	if err != nil {
		return domain.Record{}, err
	}
	keyKind, keyValue := naturalKeyArgs(rec.NaturalKey)

	err = s.db.QueryRow(ctx,
		`INSERT INTO exchange_records
			(id, connector_id, record_type, external_ref, natural_key_kind, natural_key_value, properties, sections, version)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, 1)
		 RETURNING version, created_at, updated_at`,
		rec.ID, rec.ConnectorID, rec.RecordType, nullableText(rec.ExternalRef), keyKind, keyValue, propsJSON, sectionsJSON,
	).Scan(&rec.Version, &rec.CreatedAt, &rec.UpdatedAt)
	if err != nil {
		return domain.Record{}, fmt.Errorf("failed to insert %s record: %w", rec.RecordType, err)
	}

	if err := s.claimKeys(ctx, rec, keys); err != nil {
		return domain.Record{}, err
	}
	return rec, nil
}

func (s *Store) UpdateRecord(ctx context.Context, rec domain.Record, keys []domain.IdentityKey) (domain.Record, error) {
	if err := s.ready(); err != nil {
		return domain.Record{}, err
	}
	propsJSON, sectionsJSON, err := marshalRecordState(rec)
	if err != nil {
		return domain.Record{}, err
	}
	keyKind, keyValue := naturalKeyArgs(rec.NaturalKey)

	err = s.db.QueryRow(ctx,
		`UPDATE exchange_records
		 SET external_ref = COALESCE($2, external_ref),
		     natural_key_kind = COALESCE($3, natural_key_kind),
		     natural_key_value = COALESCE($4, natural_key_value),
		     properties = $5,
		     sections = $6,
		     version = version + 1,
		     updated_at = NOW()
		 WHERE id = $1
		 RETURNING version, created_at, updated_at`,
		rec.ID, nullableText(rec.ExternalRef), keyKind, keyValue, propsJSON, sectionsJSON,
	).Scan(&rec.Version, &rec.CreatedAt, &rec.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Record{}, fmt.Errorf("record %s: %w", rec.ID, ErrNotFound)
	}
	if err != nil {
		return domain.Record{}, fmt.Errorf("failed to update %s record: %w", rec.RecordType, err)
	}

	if err := s.claimKeys(ctx, rec, keys); err != nil {
		return domain.Record{}, err
	}
	return rec, nil
}

// claimKeys registers natural keys for rec; a key already owned by another
// record stays with its first owner.
func (s *Store) claimKeys(ctx context.Context, rec domain.Record, keys []domain.IdentityKey) error {
	for _, key := range keys {
		if key.Kind == domain.KeyExternalRef || key.Value == "" {
			continue
		}
		if _, err := s.db.Exec(ctx,
			`INSERT INTO exchange_record_keys (connector_id, record_type, kind, value, record_id)
			 VALUES ($1, $2, $3, $4, $5)
			 ON CONFLICT (connector_id, record_type, kind, value) DO NOTHING`,
			rec.ConnectorID, rec.RecordType, key.Kind, key.Value, rec.ID,
		); err != nil {
			return fmt.Errorf("failed to store %s key for record %s: %w", key.Kind, rec.ID, err)
		}
	}
	return nil
}

func (s *Store) CountRecords(ctx context.Context, connectorID uuid.UUID) (map[string]int64, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	rows, err := s.db.Query(ctx,
		`SELECT record_type, COUNT(*) FROM exchange_records WHERE connector_id = $1 GROUP BY record_type`,
		connectorID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to count records: %w", err)
	}
	defer rows.Close()

	counts := map[string]int64{}
	for rows.Next() {
		var (
			recordType string
			count      int64
		)
		if err := rows.Scan(&recordType, &count); err != nil {
			return nil, fmt.Errorf("failed to scan record count: %w", err)
		}
		counts[recordType] = count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate record counts: %w", err)
	}
	return counts, nil
}

func (s *Store) EnqueueOutbound(ctx context.Context, connectorID uuid.UUID, recordID uuid.UUID) (uuid.UUID, error) {
	if err := s.ready(); err != nil {
		return uuid.Nil, err
	}
	id := uuid.New()
	if _, err := s.db.Exec(ctx,
		`INSERT INTO outbound_queue (id, connector_id, record_id) VALUES ($1, $2, $3)`,
		id, connectorID, recordID,
	); err != nil {
		return uuid.Nil, fmt.Errorf("failed to enqueue record %s: %w", recordID, err)
	}
	return id, nil
}

// ListPendingOutbound locks the returned queue rows for the surrounding
// transaction; rows locked by a concurrent cycle are skipped.
func (s *Store) ListPendingOutbound(ctx context.Context, connectorID uuid.UUID, limit int) ([]domain.OutboundItem, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 500
	}
	rows, err := s.db.Query(ctx,
		`SELECT q.id, q.enqueued_at, `+recordColumns+`
		 FROM outbound_queue q
		 JOIN exchange_records r ON r.id = q.record_id
		 WHERE q.connector_id = $1 AND q.sent_at IS NULL
		 ORDER BY q.enqueued_at, q.id
		 LIMIT $2
		 FOR UPDATE OF q SKIP LOCKED`,
		connectorID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending outbound records: %w", err)
	}
	defer rows.Close()

	items := []domain.OutboundItem{}
	for rows.Next() {
		var item domain.OutboundItem
		rec, scanErr := scanRecord(prefixedRow{rows: rows, prefix: []any{&item.QueueID, &item.EnqueuedAt}})
		if scanErr != nil {
			return nil, fmt.Errorf("failed to scan outbound item: %w", scanErr)
		}
		item.Record = rec
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate outbound items: %w", err)
	}
	return items, nil
}

// prefixedRow lets scanRecord read rows that carry extra leading columns.
type prefixedRow struct {
	rows   pgx.Rows
	prefix []any
}

func (p prefixedRow) Scan(dest ...any) error {
	return p.rows.Scan(append(append([]any{}, p.prefix...), dest...)...)
}

func uuidStrings(ids []uuid.UUID) []string {
	out := make([]string, len(ids))
	for idx, id := range ids {
		out[idx] = id.String()
	}
	return out
}

func (s *Store) MarkOutboundSent(ctx context.Context, queueIDs []uuid.UUID, messageNo int64, sentAt time.Time) error {
	if err := s.ready(); err != nil {
		return err
	}
	if len(queueIDs) == 0 {
		return nil
	}
	if _, err := s.db.Exec(ctx,
		`UPDATE outbound_queue SET sent_at = $1, message_no = $2 WHERE id = ANY($3::uuid[])`,
		sentAt, messageNo, uuidStrings(queueIDs),
	); err != nil {
		return fmt.Errorf("failed to mark outbound items sent: %w", err)
	}
	return nil
}

func (s *Store) AcknowledgeOutbound(ctx context.Context, connectorID uuid.UUID, messageNo int64, at time.Time) (int64, error) {
	if err := s.ready(); err != nil {
		return 0, err
	}
	tag, err := s.db.Exec(ctx,
		`UPDATE outbound_queue SET acknowledged_at = $3
		 WHERE connector_id = $1 AND message_no <= $2 AND sent_at IS NOT NULL AND acknowledged_at IS NULL`,
		connectorID, messageNo, at,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to acknowledge outbound items: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (s *Store) NextOutboundMessageNo(ctx context.Context, connectorID uuid.UUID) (int64, error) {
	if err := s.ready(); err != nil {
		return 0, err
	}
	var next int64
	err := s.db.QueryRow(ctx,
		`INSERT INTO exchange_counters (connector_id, last_outbound_no) VALUES ($1, 1)
		 ON CONFLICT (connector_id) DO UPDATE SET last_outbound_no = exchange_counters.last_outbound_no + 1
		 RETURNING last_outbound_no`,
		connectorID,
	).Scan(&next)
	if err != nil {
		return 0, fmt.Errorf("failed to allocate outbound message number: %w", err)
	}
	return next, nil
}

func (s *Store) HasConfirmation(ctx context.Context, connectorID uuid.UUID, messageNo int64) (bool, error) {
	if err := s.ready(); err != nil {
		return false, err
	}
	var exists bool
	err := s.db.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM incoming_confirmations WHERE connector_id = $1 AND message_no = $2)`,
		connectorID, messageNo,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check confirmation: %w", err)
	}
	return exists, nil
}

func (s *Store) CreateConfirmation(ctx context.Context, confirmation domain.IncomingConfirmation) error {
	if err := s.ready(); err != nil {
		return err
	}
	if _, err := s.db.Exec(ctx,
		`INSERT INTO incoming_confirmations (connector_id, message_no, processed_at, confirmed, confirmed_at)
		 VALUES ($1, $2, $3, FALSE, NULL)
		 ON CONFLICT (connector_id, message_no) DO NOTHING`,
		confirmation.ConnectorID, confirmation.MessageNo, confirmation.ProcessedAt,
	); err != nil {
		return fmt.Errorf("failed to create confirmation: %w", err)
	}
	return nil
}

func (s *Store) MaxUnconfirmed(ctx context.Context, connectorID uuid.UUID) (int64, bool, error) {
	if err := s.ready(); err != nil {
		return 0, false, err
	}
	var maxNo pgtype.Int8
	err := s.db.QueryRow(ctx,
		`SELECT MAX(message_no) FROM incoming_confirmations WHERE connector_id = $1 AND NOT confirmed`,
		connectorID,
	).Scan(&maxNo)
	if err != nil {
		return 0, false, fmt.Errorf("failed to read unconfirmed messages: %w", err)
	}
	if !maxNo.Valid {
		return 0, false, nil
	}
	return maxNo.Int64, true, nil
}

func (s *Store) ConfirmUpTo(ctx context.Context, connectorID uuid.UUID, upTo int64, at time.Time) (int64, error) {
	if err := s.ready(); err != nil {
		return 0, err
	}
	tag, err := s.db.Exec(ctx,
		`UPDATE incoming_confirmations SET confirmed = TRUE, confirmed_at = $3
		 WHERE connector_id = $1 AND message_no <= $2 AND NOT confirmed`,
		connectorID, upTo, at,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to confirm messages: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (s *Store) ListConfirmations(ctx context.Context, connectorID uuid.UUID) ([]domain.IncomingConfirmation, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	rows, err := s.db.Query(ctx,
		`SELECT connector_id, message_no, processed_at, confirmed, confirmed_at
		 FROM incoming_confirmations WHERE connector_id = $1 ORDER BY message_no`,
		connectorID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list confirmations: %w", err)
	}
	defer rows.Close()

	confirmations := []domain.IncomingConfirmation{}
	for rows.Next() {
		var (
			c           domain.IncomingConfirmation
			confirmedAt pgtype.Timestamptz
		)
		if err := rows.Scan(&c.ConnectorID, &c.MessageNo, &c.ProcessedAt, &c.Confirmed, &confirmedAt); err != nil {
			return nil, fmt.Errorf("failed to scan confirmation: %w", err)
		}
		if confirmedAt.Valid {
			t := confirmedAt.Time
			c.ConfirmedAt = &t
		}
		confirmations = append(confirmations, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate confirmations: %w", err)
	}
	return confirmations, nil
}

func (s *Store) AppendExchangeLog(ctx context.Context, entry domain.ExchangeLogEntry) error {
	if err := s.ready(); err != nil {
		return err
	}
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	errorsJSON, err := json.Marshal(nonNil(entry.Errors))
	if err != nil {
		return fmt.Errorf("failed to encode exchange log errors: %w", err)
	}
	warningsJSON, err := json.Marshal(nonNil(entry.Warnings))
	if err != nil {
		return fmt.Errorf("failed to encode exchange log warnings: %w", err)
	}
	if _, err := s.db.Exec(ctx,
		`INSERT INTO exchange_logs
			(id, connector_id, direction, message_no, file_name, objects_count, status, started_at, completed_at, errors, warnings)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		entry.ID, entry.ConnectorID, string(entry.Direction), entry.MessageNo, entry.FileName, entry.ObjectsCount,
		string(entry.Status), entry.StartedAt, entry.CompletedAt, errorsJSON, warningsJSON,
	); err != nil {
		return fmt.Errorf("failed to append exchange log: %w", err)
	}
	return nil
}

func nonNil(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}

func (s *Store) ListExchangeLogs(ctx context.Context, connectorID uuid.UUID, limit int, offset int) ([]domain.ExchangeLogEntry, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 200
	}
	if offset < 0 {
		offset = 0
	}
	rows, err := s.db.Query(ctx,
		`SELECT id, connector_id, direction, message_no, file_name, objects_count, status, started_at, completed_at, errors, warnings
		 FROM exchange_logs
		 WHERE connector_id = $1
		 ORDER BY started_at DESC
		 LIMIT $2 OFFSET $3`,
		connectorID, limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list exchange logs: %w", err)
	}
	defer rows.Close()

	logs := []domain.ExchangeLogEntry{}
	for rows.Next() {
		var (
			entry        domain.ExchangeLogEntry
			direction    string
			status       string
			errorsJSON   []byte
			warningsJSON []byte
		)
		if err := rows.Scan(
			&entry.ID,
			&entry.ConnectorID,
			&direction,
			&entry.MessageNo,
			&entry.FileName,
			&entry.ObjectsCount,
			&status,
			&entry.StartedAt,
			&entry.CompletedAt,
			&errorsJSON,
			&warningsJSON,
		); err != nil {
			return nil, fmt.Errorf("failed to scan exchange log: %w", err)
		}
		entry.Direction = domain.Direction(direction)
		entry.Status = domain.ExchangeStatus(status)
		if err := json.Unmarshal(errorsJSON, &entry.Errors); err != nil {
			return nil, fmt.Errorf("failed to decode exchange log errors: %w", err)
		}
		if err := json.Unmarshal(warningsJSON, &entry.Warnings); err != nil {
			return nil, fmt.Errorf("failed to decode exchange log warnings: %w", err)
		}
		logs = append(logs, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate exchange logs: %w", err)
	}
	return logs, nil
}

func (s *Store) RecordUnmapped(ctx context.Context, record domain.UnmappedObjectRecord) error {
	if err := s.ready(); err != nil {
		return err
	}
	sample := record.SampleObject
	if sample == "" || !json.Valid([]byte(sample)) {
		encoded, err := json.Marshal(sample)
		if err != nil {
			return fmt.Errorf("failed to encode unmapped sample: %w", err)
		}
		sample = string(encoded)
	}
	if _, err := s.db.Exec(ctx,
		`INSERT INTO unmapped_objects (connector_id, object_type, sample_object, occurrences, first_seen_at, last_seen_at)
		 VALUES ($1, $2, $3::jsonb, GREATEST($4, 1), $5, $5)
		 ON CONFLICT (connector_id, object_type) DO UPDATE
		 SET occurrences = unmapped_objects.occurrences + GREATEST(EXCLUDED.occurrences, 1),
		     last_seen_at = EXCLUDED.last_seen_at`,
		record.ConnectorID, record.ObjectType, sample, record.Occurrences, record.FirstSeenAt,
	); err != nil {
		return fmt.Errorf("failed to record unmapped object %s: %w", record.ObjectType, err)
	}
	return nil
}

func (s *Store) ListUnmapped(ctx context.Context, connectorID uuid.UUID) ([]domain.UnmappedObjectRecord, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	rows, err := s.db.Query(ctx,
		`SELECT connector_id, object_type, sample_object::text, occurrences, first_seen_at, last_seen_at
		 FROM unmapped_objects WHERE connector_id = $1 ORDER BY object_type`,
		connectorID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list unmapped objects: %w", err)
	}
	defer rows.Close()

	records := []domain.UnmappedObjectRecord{}
	for rows.Next() {
		var record domain.UnmappedObjectRecord
		if err := rows.Scan(
			&record.ConnectorID,
			&record.ObjectType,
			&record.SampleObject,
			&record.Occurrences,
			&record.FirstSeenAt,
			&record.LastSeenAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan unmapped object: %w", err)
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate unmapped objects: %w", err)
	}
	return records, nil
}

// WithSavepoint uses a real savepoint when the store is bound to a transaction.
func (s *Store) WithSavepoint(ctx context.Context, name string, fn func(ctx context.Context) error) error {
	if tx, ok := s.db.(pgx.Tx); ok {
		return txn.WithSavepoint(ctx, tx, name, fn)
	}
	return fn(ctx)
}
