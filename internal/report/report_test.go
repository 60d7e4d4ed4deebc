package report

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/rmskTV/advPlanner-sub000/internal/domain"
	"github.com/rmskTV/advPlanner-sub000/internal/repository"
)

func TestWriteProducesReadableWorkbook(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 3, 7, 9, 5, 0, 0, time.UTC)
	store := repository.NewMemoryStore(repository.WithMemoryClock(func() time.Time { return now }))
	connector := domain.Connector{ID: uuid.New(), Name: "erp", OurPrefix: "US", PeerPrefix: "PEER"}

	rec := domain.NewRecord("counterparty", map[string]any{"name": "Acme"})
	rec.ConnectorID = connector.ID
	_, err := store.InsertRecord(ctx, rec, []domain.IdentityKey{{Kind: domain.KeyName, Value: "acme"}})
	require.NoError(t, err)

	require.NoError(t, store.CreateConfirmation(ctx, domain.IncomingConfirmation{ConnectorID: connector.ID, MessageNo: 7, ProcessedAt: now}))

	entry := domain.NewExchangeLogEntry(connector.ID, domain.DirectionIncoming, "Message_PEER_US.xml", now)
	entry.MessageNo = 7
	entry.ObjectsCount = 1
	entry.Status = domain.ExchangeCompleted
	entry.CompletedAt = now
	entry.Warnings = []string{"no mapper for Справочник.Склады"}
	require.NoError(t, store.AppendExchangeLog(ctx, entry))

	require.NoError(t, store.RecordUnmapped(ctx, domain.UnmappedObjectRecord{
		ConnectorID:  connector.ID,
		ObjectType:   "Справочник.Склады",
		SampleObject: `{"type":"Справочник.Склады"}`,
		Occurrences:  3,
		FirstSeenAt:  now,
	}))

	var buf bytes.Buffer
	writer := NewWriter(store, WithClock(func() time.Time { return now }))
	require.NoError(t, writer.Write(ctx, connector, &buf))

	f, err := excelize.OpenReader(bytes.NewReader(buf.Bytes()))
	require.NoError(t, err)
	defer func() { _ = f.Close() }()

	assert.Equal(t, []string{SheetSummary, SheetLog, SheetUnmapped}, f.GetSheetList())

	summary, err := f.GetRows(SheetSummary)
	require.NoError(t, err)
	assert.Equal(t, []string{"Connector", "erp"}, summary[0])
	assert.Equal(t, []string{"Last received message", "7"}, summary[4])
	assert.Equal(t, []string{"Unconfirmed messages", "1"}, summary[5])
	assert.Equal(t, []string{"counterparty", "1"}, summary[len(summary)-1])

	logs, err := f.GetRows(SheetLog)
	require.NoError(t, err)
	require.Len(t, logs, 2)
	assert.Equal(t, "Message_PEER_US.xml", logs[1][3])
	assert.Equal(t, "completed", logs[1][6])
	assert.Equal(t, "no mapper for Справочник.Склады", logs[1][8])

	unmapped, err := f.GetRows(SheetUnmapped)
	require.NoError(t, err)
	require.Len(t, unmapped, 2)
	assert.Equal(t, "Справочник.Склады", unmapped[1][0])
	assert.Equal(t, "3", unmapped[1][1])
}
