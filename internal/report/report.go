package report

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/xuri/excelize/v2"

	"github.com/rmskTV/advPlanner-sub000/internal/domain"
)

// Sheet names of the workbook.
const (
	SheetSummary  = "Summary"
	SheetLog      = "Log"
	SheetUnmapped = "Unmapped"
)

const defaultLogLimit = 1000

// Source is the read side of the exchange store a report needs.
type Source interface {
	CountRecords(ctx context.Context, connectorID uuid.UUID) (map[string]int64, error)
	ListConfirmations(ctx context.Context, connectorID uuid.UUID) ([]domain.IncomingConfirmation, error)
	ListExchangeLogs(ctx context.Context, connectorID uuid.UUID, limit int, offset int) ([]domain.ExchangeLogEntry, error)
	ListUnmapped(ctx context.Context, connectorID uuid.UUID) ([]domain.UnmappedObjectRecord, error)
}

// Writer renders exchange activity of one connector as an xlsx workbook.
type Writer struct {
	source   Source
	logLimit int
	now      func() time.Time
}

// Option configures a Writer.
type Option func(*Writer)

// WithLogLimit caps how many log entries are written.
func WithLogLimit(n int) Option {
	return func(w *Writer) {
		if n > 0 {
			w.logLimit = n
		}
	}
}

// WithClock overrides the generation timestamp.
func WithClock(now func() time.Time) Option {
	return func(w *Writer) {
		if now != nil {
			w.now = now
		}
	}
}

// NewWriter creates a report writer over source.
func NewWriter(source Source, opts ...Option) *Writer {
	w := &Writer{source: source, logLimit: defaultLogLimit, now: time.Now}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Write builds the workbook for connector and streams it to out.
func (w *Writer) Write(ctx context.Context, connector domain.Connector, out io.Writer) error {
	f, err := w.Build(ctx, connector)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()
	if _, err := f.WriteTo(out); err != nil {
		return fmt.Errorf("failed to write workbook: %w", err)
	}
	return nil
}

// Build assembles the summary, log and unmapped-types sheets.
func (w *Writer) Build(ctx context.Context, connector domain.Connector) (*excelize.File, error) {
	counts, err := w.source.CountRecords(ctx, connector.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to count records: %w", err)
	}
	confirmations, err := w.source.ListConfirmations(ctx, connector.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to list confirmations: %w", err)
	}
	logs, err := w.source.ListExchangeLogs(ctx, connector.ID, w.logLimit, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to list exchange logs: %w", err)
	}
	unmapped, err := w.source.ListUnmapped(ctx, connector.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to list unmapped types: %w", err)
	}

	f := excelize.NewFile()
	ok := false
	defer func() {
		if !ok {
			_ = f.Close()
		}
	}()

	if err := f.SetSheetName("Sheet1", SheetSummary); err != nil {
		return nil, fmt.Errorf("failed to name summary sheet: %w", err)
	}
	for _, sheet := range []string{SheetLog, SheetUnmapped} {
		if _, err := f.NewSheet(sheet); err != nil {
			return nil, fmt.Errorf("failed to add sheet %s: %w", sheet, err)
		}
	}
	header, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return nil, fmt.Errorf("failed to create header style: %w", err)
	}

	if err := w.writeSummary(f, header, connector, counts, confirmations); err != nil {
		return nil, err
	}
	if err := writeLogs(f, header, logs); err != nil {
		return nil, err
	}
	if err := writeUnmapped(f, header, unmapped); err != nil {
		return nil, err
	}
	ok = true
	return f, nil
}

func (w *Writer) writeSummary(f *excelize.File, header int, connector domain.Connector, counts map[string]int64, confirmations []domain.IncomingConfirmation) error {
	var pending, lastReceived int64
	for _, c := range confirmations {
		if !c.Confirmed {
			pending++
		}
		lastReceived = max(lastReceived, c.MessageNo)
	}

	rows := [][]any{
		{"Connector", connector.Name},
		{"Our node", connector.OurNode()},
		{"Peer node", connector.PeerNode()},
		{"Generated at", w.now().UTC().Format(time.RFC3339)},
		{"Last received message", lastReceived},
		{"Unconfirmed messages", pending},
		{},
		{"Record type", "Records"},
	}
	types := make([]string, 0, len(counts))
	for recordType := range counts {
		types = append(types, recordType)
	}
	sort.Strings(types)
	for _, recordType := range types {
		rows = append(rows, []any{recordType, counts[recordType]})
	}

	if err := writeRows(f, SheetSummary, rows); err != nil {
		return err
	}
	if err := f.SetCellStyle(SheetSummary, "A8", "B8", header); err != nil {
		return fmt.Errorf("failed to style summary: %w", err)
	}
	return f.SetColWidth(SheetSummary, "A", "A", 28)
}

func writeLogs(f *excelize.File, header int, logs []domain.ExchangeLogEntry) error {
	rows := [][]any{{"Started", "Completed", "Direction", "File", "Message", "Objects", "Status", "Errors", "Warnings"}}
	for _, entry := range logs {
		rows = append(rows, []any{
			formatTime(entry.StartedAt),
			formatTime(entry.CompletedAt),
			string(entry.Direction),
			entry.FileName,
			entry.MessageNo,
			entry.ObjectsCount,
			string(entry.Status),
			strings.Join(entry.Errors, "\n"),
			strings.Join(entry.Warnings, "\n"),
		})
	}
	if err := writeRows(f, SheetLog, rows); err != nil {
		return err
	}
	if err := f.SetRowStyle(SheetLog, 1, 1, header); err != nil {
		return fmt.Errorf("failed to style log header: %w", err)
	}
	return f.SetColWidth(SheetLog, "D", "D", 36)
}

func writeUnmapped(f *excelize.File, header int, unmapped []domain.UnmappedObjectRecord) error {
	rows := [][]any{{"Object type", "Occurrences", "First seen", "Last seen", "Sample"}}
	for _, rec := range unmapped {
		rows = append(rows, []any{
			rec.ObjectType,
			rec.Occurrences,
			formatTime(rec.FirstSeenAt),
			formatTime(rec.LastSeenAt),
			rec.SampleObject,
		})
	}
	if err := writeRows(f, SheetUnmapped, rows); err != nil {
		return err
	}
	if err := f.SetRowStyle(SheetUnmapped, 1, 1, header); err != nil {
		return fmt.Errorf("failed to style unmapped header: %w", err)
	}
	return f.SetColWidth(SheetUnmapped, "A", "A", 40)
}

func writeRows(f *excelize.File, sheet string, rows [][]any) error {
	for idx, row := range rows {
		if len(row) == 0 {
			continue
		}
		cell, err := excelize.CoordinatesToCellName(1, idx+1)
		if err != nil {
			return err
		}
		values := row
		if err := f.SetSheetRow(sheet, cell, &values); err != nil {
			return fmt.Errorf("failed to write %s row %d: %w", sheet, idx+1, err)
		}
	}
	return nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format("2006-01-02 15:04:05")
}
