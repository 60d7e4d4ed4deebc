package exchange

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"

	"github.com/rmskTV/advPlanner-sub000/internal/domain"
	"github.com/rmskTV/advPlanner-sub000/internal/enterprisedata"
	"github.com/rmskTV/advPlanner-sub000/internal/lock"
	"github.com/rmskTV/advPlanner-sub000/internal/mapping"
	"github.com/rmskTV/advPlanner-sub000/internal/repository"
	"github.com/rmskTV/advPlanner-sub000/internal/retry"
	"github.com/rmskTV/advPlanner-sub000/internal/transport"
)

var testNow = time.Date(2024, 3, 7, 9, 5, 0, 0, time.UTC)

func fixedClock() time.Time { return testNow }

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConnector() domain.Connector {
	return domain.Connector{
		ID:           uuid.MustParse("0d7f3c4e-2a61-4f0b-9a55-3f1c2e8b7d01"),
		Name:         "erp",
		OurPrefix:    "US",
		PeerPrefix:   "PEER",
		ExchangePlan: "СинхронизацияДанныхЧерезУниверсальныйФормат",
	}
}

type harness struct {
	fs     afero.Fs
	store  *repository.MemoryStore
	locker *lock.MemoryLocker
	files  *transport.Manager
	orch   *Orchestrator
	target Target
}

type harnessConfig struct {
	driver     func(transport.Driver) transport.Driver
	transactor func(*repository.MemoryStore) repository.Transactor
	manager    []transport.ManagerOption
	orch       []Option
}

func newHarness(t *testing.T, cfg harnessConfig) *harness {
	t.Helper()
	registry, err := mapping.DefaultRegistry()
	require.NoError(t, err)

	fs := afero.NewMemMapFs()
	var driver transport.Driver = transport.NewFSDriver(fs)
	if cfg.driver != nil {
		driver = cfg.driver(driver)
	}
	locker := lock.NewMemoryLocker()
	connector := testConnector()
	managerOpts := append([]transport.ManagerOption{transport.WithManagerClock(fixedClock)}, cfg.manager...)
	files, err := transport.NewManager(connector, driver, locker, managerOpts...)
	require.NoError(t, err)

	store := repository.NewMemoryStore(repository.WithMemoryClock(fixedClock))
	var transactor repository.Transactor = store
	if cfg.transactor != nil {
		transactor = cfg.transactor(store)
	}
	orchOpts := append([]Option{
		WithRetryPolicy(retry.Policy{MaxAttempts: 1}),
		WithLogger(discardLogger()),
		WithClock(fixedClock),
	}, cfg.orch...)
	orch, err := NewOrchestrator(Dependencies{
		Transactor: transactor,
		Store:      store,
		Registry:   registry,
		Codec:      enterprisedata.NewCodec(),
	}, orchOpts...)
	require.NoError(t, err)

	return &harness{
		fs:     fs,
		store:  store,
		locker: locker,
		files:  files,
		orch:   orch,
		target: Target{Connector: connector, Files: files},
	}
}

func (h *harness) write(t *testing.T, name string, data []byte) {
	t.Helper()
	require.NoError(t, afero.WriteFile(h.fs, "/"+name, data, 0o644))
}

func (h *harness) exists(t *testing.T, name string) bool {
	t.Helper()
	ok, err := afero.Exists(h.fs, "/"+name)
	require.NoError(t, err)
	return ok
}

func (h *harness) read(t *testing.T, name string) *enterprisedata.Message {
	t.Helper()
	data, err := afero.ReadFile(h.fs, "/"+name)
	require.NoError(t, err)
	msg, err := enterprisedata.NewCodec().Parse(data)
	require.NoError(t, err)
	return msg
}

func (h *harness) logs(t *testing.T) []domain.ExchangeLogEntry {
	t.Helper()
	entries, err := h.store.ListExchangeLogs(context.Background(), h.target.Connector.ID, 100, 0)
	require.NoError(t, err)
	return entries
}

func counterparty(ref, name, inn string) *enterprisedata.Object {
	keyed := &enterprisedata.Object{}
	keyed.Set("Наименование", enterprisedata.StringValue(name))
	if inn != "" {
		keyed.Set("ИНН", enterprisedata.StringValue(inn))
	}
	obj := enterprisedata.NewObject("Справочник.Контрагенты", ref)
	obj.Set(mapping.KeyedSection, enterprisedata.ObjectValue(keyed))
	return obj
}

func product(ref, name, article string) *enterprisedata.Object {
	keyed := &enterprisedata.Object{}
	keyed.Set("Наименование", enterprisedata.StringValue(name))
	keyed.Set("Артикул", enterprisedata.StringValue(article))
	obj := enterprisedata.NewObject("Справочник.Номенклатура", ref)
	obj.Set(mapping.KeyedSection, enterprisedata.ObjectValue(keyed))
	return obj
}

// peerMessage builds a message as the peer would send it to us.
func peerMessage(t *testing.T, messageNo, receivedNo int64, objects ...*enterprisedata.Object) []byte {
	t.Helper()
	data, err := enterprisedata.NewCodec().Generate(objects, enterprisedata.Header{
		Format:            enterprisedata.FormatURI("1.8"),
		CreationDate:      testNow,
		ExchangePlan:      testConnector().ExchangePlan,
		From:              "PEER",
		To:                "US",
		MessageNo:         messageNo,
		ReceivedNo:        receivedNo,
		AvailableVersions: []string{"1.7", "1.8"},
	})
	require.NoError(t, err)
	return data
}

func incomingName(seq int) string {
	if seq <= 1 {
		return "Message_PEER_US.xml"
	}
	return fmt.Sprintf("Message_PEER_US_%d.xml", seq)
}
