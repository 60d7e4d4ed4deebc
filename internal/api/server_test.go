package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rmskTV/advPlanner-sub000/internal/domain"
	"github.com/rmskTV/advPlanner-sub000/internal/exchange"
	"github.com/rmskTV/advPlanner-sub000/internal/repository"
)

type fakeRunner struct {
	targets   []exchange.Target
	triggered []exchange.RunDirection
	err       error
}

func (f *fakeRunner) Targets() []exchange.Target { return f.targets }

func (f *fakeRunner) Target(id uuid.UUID) (exchange.Target, bool) {
	for _, target := range f.targets {
		if target.Connector.ID == id {
			return target, true
		}
	}
	return exchange.Target{}, false
}

func (f *fakeRunner) Trigger(_ context.Context, id uuid.UUID, direction exchange.RunDirection) ([]exchange.CycleReport, error) {
	f.triggered = append(f.triggered, direction)
	return []exchange.CycleReport{{Connector: "erp", Direction: domain.DirectionIncoming, Files: []exchange.FileOutcome{}}}, f.err
}

func newTestServer(t *testing.T) (*fakeRunner, *repository.MemoryStore, http.Handler, domain.Connector) {
	t.Helper()
	connector := domain.Connector{
		ID:         uuid.New(),
		Name:       "erp",
		OurPrefix:  "US",
		PeerPrefix: "PEER",
		Transport:  domain.TransportSettings{Kind: domain.TransportFTP, Password: "hunter2"},
	}
	runner := &fakeRunner{targets: []exchange.Target{{Connector: connector}}}
	store := repository.NewMemoryStore()
	server := NewServer(runner, store, WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	return runner, store, server.Handler(), connector
}

func do(t *testing.T, handler http.Handler, method, target string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(method, target, nil))
	return rec
}

func TestHealthAndConnectors(t *testing.T) {
	_, _, handler, connector := newTestServer(t)

	rec := do(t, handler, http.MethodGet, "/healthz")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, handler, http.MethodGet, "/connectors")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotContains(t, rec.Body.String(), "hunter2")

	var views []map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &views))
	require.Len(t, views, 1)
	assert.Equal(t, connector.ID.String(), views[0]["id"])
}

func TestListLogs(t *testing.T) {
	_, store, handler, connector := newTestServer(t)
	for i := 1; i <= 3; i++ {
		entry := domain.NewExchangeLogEntry(connector.ID, domain.DirectionIncoming, "Message_PEER_US.xml", time.Now())
		entry.MessageNo = int64(i)
		entry.Status = domain.ExchangeCompleted
		require.NoError(t, store.AppendExchangeLog(context.Background(), entry))
	}

	rec := do(t, handler, http.MethodGet, "/connectors/"+connector.ID.String()+"/logs?limit=2")
	require.Equal(t, http.StatusOK, rec.Code)
	var logs []domain.ExchangeLogEntry
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &logs))
	require.Len(t, logs, 2)
	assert.Equal(t, int64(3), logs[0].MessageNo)

	tests := []struct {
		target string
		status int
	}{
		{"/connectors/" + connector.ID.String() + "/logs?limit=0", http.StatusBadRequest},
		{"/connectors/" + connector.ID.String() + "/logs?offset=-1", http.StatusBadRequest},
		{"/connectors/not-a-uuid/logs", http.StatusBadRequest},
		{"/connectors/" + uuid.NewString() + "/logs", http.StatusNotFound},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.status, do(t, handler, http.MethodGet, tt.target).Code, tt.target)
	}
}

func TestUnmappedAndReport(t *testing.T) {
	_, store, handler, connector := newTestServer(t)
	require.NoError(t, store.RecordUnmapped(context.Background(), domain.UnmappedObjectRecord{
		ConnectorID: connector.ID,
		ObjectType:  "Справочник.Склады",
		Occurrences: 2,
		FirstSeenAt: time.Now(),
	}))

	rec := do(t, handler, http.MethodGet, "/connectors/"+connector.ID.String()+"/unmapped")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Справочник.Склады")

	rec = do(t, handler, http.MethodGet, "/connectors/"+connector.ID.String()+"/report.xlsx")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "erp-exchange.xlsx")
	assert.Equal(t, "PK", rec.Body.String()[:2])
}

func TestRun(t *testing.T) {
	runner, _, handler, connector := newTestServer(t)
	base := "/connectors/" + connector.ID.String() + "/run"

	rec := do(t, handler, http.MethodPost, base+"?direction=incoming")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []exchange.RunDirection{exchange.RunIncoming}, runner.triggered)

	rec = do(t, handler, http.MethodPost, base+"?direction=sideways")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, handler, http.MethodGet, base)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)

	runner.err = errors.New("ftp unreachable")
	rec = do(t, handler, http.MethodPost, base)
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	var resp runResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "ftp unreachable", resp.Error)
	assert.Len(t, resp.Reports, 1)
	assert.Equal(t, exchange.RunBoth, runner.triggered[len(runner.triggered)-1])
}
