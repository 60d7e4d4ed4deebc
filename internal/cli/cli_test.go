package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/rmskTV/advPlanner-sub000/internal/domain"
	"github.com/rmskTV/advPlanner-sub000/internal/enterprisedata"
	"github.com/rmskTV/advPlanner-sub000/internal/exchange"
	"github.com/rmskTV/advPlanner-sub000/internal/mapping"
)

func TestRootCommand(t *testing.T) {
	cmd := NewRootCommand()
	require.NotNil(t, cmd)
	assert.Equal(t, "exchange", cmd.Use)

	for _, name := range []string{"serve", "run", "migrate", "report"} {
		t.Run(name, func(t *testing.T) {
			sub, _, err := cmd.Find([]string{name})
			require.NoError(t, err)
			assert.Equal(t, name, sub.Name())
		})
	}

	configFlag := cmd.PersistentFlags().Lookup("config")
	require.NotNil(t, configFlag)
	assert.Equal(t, "c", configFlag.Shorthand)
}

func TestGetExitCode(t *testing.T) {
	assert.Equal(t, ExitSuccess, GetExitCode(nil))
	assert.Equal(t, ExitFailure, GetExitCode(errors.New("boom")))
	wrapped := WrapExitError(ExitCommandError, "bad flag", errors.New("boom"))
	assert.Equal(t, ExitCommandError, GetExitCode(wrapped))
	assert.Equal(t, "bad flag: boom", wrapped.Error())
}

// writeConfig creates config.yaml for one local connector and returns the
// config directory and the drop directory.
func writeConfig(t *testing.T) (string, string) {
	t.Helper()
	configDir := t.TempDir()
	dropDir := t.TempDir()
	yaml := `observability:
  log_format: text
  log_level: error
connectors:
  - name: erp
    our_prefix: US
    peer_prefix: PEER
    exchange_plan: СинхронизацияДанныхЧерезУниверсальныйФормат
    transport:
      kind: local
      dir: ` + dropDir + "\n"
	require.NoError(t, os.WriteFile(filepath.Join(configDir, "config.yaml"), []byte(yaml), 0o644))
	return configDir, dropDir
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCommand()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return stdout.String(), err
}

func TestRunProcessesLocalDrop(t *testing.T) {
	configDir, dropDir := writeConfig(t)

	keyed := &enterprisedata.Object{}
	keyed.Set("Наименование", enterprisedata.StringValue("Acme"))
	keyed.Set("ИНН", enterprisedata.StringValue("7701234567"))
	obj := enterprisedata.NewObject("Справочник.Контрагенты", "0b8c6e1e-8d1e-4d7b-9a55-0d0f0b3b1a01")
	obj.Set(mapping.KeyedSection, enterprisedata.ObjectValue(keyed))
	data, err := enterprisedata.NewCodec().Generate([]*enterprisedata.Object{obj}, enterprisedata.Header{
		Format:       enterprisedata.FormatURI("1.8"),
		CreationDate: time.Now(),
		ExchangePlan: "СинхронизацияДанныхЧерезУниверсальныйФормат",
		From:         "PEER",
		To:           "US",
		MessageNo:    1,
	})
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dropDir, "Message_PEER_US.xml"), data, 0o644))

	out, err := execute(t, "run", "--config", configDir, "--connector", "erp")
	require.NoError(t, err)

	var reports []exchange.CycleReport
	require.NoError(t, json.Unmarshal([]byte(out), &reports))
	require.Len(t, reports, 2)
	assert.Equal(t, domain.DirectionIncoming, reports[0].Direction)
	require.Len(t, reports[0].Files, 1)
	assert.Equal(t, domain.ExchangeCompleted, reports[0].Files[0].Status)
	assert.Equal(t, 1, reports[0].Files[0].Objects)

	_, err = os.Stat(filepath.Join(dropDir, "Message_PEER_US.xml"))
	assert.True(t, os.IsNotExist(err), "processed message is archived")
	// The applied message is confirmed back to the peer.
	_, err = os.Stat(filepath.Join(dropDir, "Message_US_PEER.xml"))
	assert.NoError(t, err)
}

func TestRunRejectsBadInput(t *testing.T) {
	configDir, _ := writeConfig(t)

	_, err := execute(t, "run", "--config", configDir, "--direction", "sideways")
	assert.Equal(t, ExitCommandError, GetExitCode(err))

	_, err = execute(t, "run", "--config", configDir, "--connector", "missing")
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.ErrorIs(t, err, exchange.ErrUnknownConnector)
}

func TestMigrateRequiresDatabase(t *testing.T) {
	configDir, _ := writeConfig(t)
	_, err := execute(t, "migrate", "--config", configDir)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestReportWritesWorkbook(t *testing.T) {
	configDir, _ := writeConfig(t)
	output := filepath.Join(t.TempDir(), "erp.xlsx")

	_, err := execute(t, "report", "--config", configDir, "--connector", "erp", "--out", output)
	require.NoError(t, err)

	f, err := excelize.OpenFile(output)
	require.NoError(t, err)
	defer func() { _ = f.Close() }()
	rows, err := f.GetRows("Summary")
	require.NoError(t, err)
	assert.Equal(t, []string{"Connector", "erp"}, rows[0])
}
