package cli

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ChuLiYu/ledger-preexec/internal/metrics"
)

func TestBuildCLI(t *testing.T) {
	cmd := BuildCLI()

	assert.NotNil(t, cmd, "BuildCLI should return a non-nil command")
	assert.Equal(t, "ledger-preexec", cmd.Use)
	assert.Equal(t, "1.0.0", cmd.Version)

	commands := cmd.Commands()
	assert.Len(t, commands, 3, "should have 3 subcommands")

	commandNames := make(map[string]bool)
	for _, c := range commands {
		commandNames[c.Name()] = true
	}

	assert.True(t, commandNames["serve"], "should have 'serve' command")
	assert.True(t, commandNames["submit"], "should have 'submit' command")
	assert.True(t, commandNames["status"], "should have 'status' command")

	configFlag := cmd.PersistentFlags().Lookup("config")
	require.NotNil(t, configFlag, "should have --config flag")
	assert.Equal(t, "configs/default.yaml", configFlag.DefValue)
}

func TestBuildServeCommand(t *testing.T) {
	cmd := buildServeCommand()

	assert.Equal(t, "serve", cmd.Use)
	assert.NotNil(t, cmd.RunE)
}

func TestBuildSubmitCommand(t *testing.T) {
	cmd := buildSubmitCommand()

	assert.Equal(t, "submit", cmd.Use)

	fileFlag := cmd.Flags().Lookup("file")
	require.NotNil(t, fileFlag, "should have --file flag")
	assert.Equal(t, "f", fileFlag.Shorthand)

	modeFlag := cmd.Flags().Lookup("mode")
	require.NotNil(t, modeFlag)
	assert.Equal(t, "sync-pre", modeFlag.DefValue)

	assert.NotNil(t, cmd.RunE)
}

func TestBuildStatusCommand(t *testing.T) {
	cmd := buildStatusCommand()

	assert.Equal(t, "status", cmd.Use)
	assert.Contains(t, cmd.Short, "configuration")
	assert.NotNil(t, cmd.RunE)
}

func TestShowStatus(t *testing.T) {
	configFile = filepath.Join(t.TempDir(), "missing.yaml")
	err := showStatus()
	assert.NoError(t, err, "showStatus falls back to defaults and should not error")
}

func TestConsensusValueFile_ToConsensusValue(t *testing.T) {
	raw := consensusValueFile{
		LedgerSeq: 7,
		CloseTime: 1234,
		Transactions: []struct {
			SourceAddress string `json:"source_address"`
		}{
			{SourceAddress: "a"},
			{SourceAddress: "b"},
		},
	}

	cv := raw.toConsensusValue()
	assert.Equal(t, uint32(7), cv.LedgerSeq)
	assert.Equal(t, int64(1234), cv.CloseTime)
	require.Len(t, cv.Transactions, 2)
	assert.Equal(t, "a", cv.Transactions[0].SourceAddress)
}

func TestRunSubmit_SyncMode(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cv.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"ledger_seq": 1, "close_time": 100}`), 0o644))

	configFile = filepath.Join(dir, "missing-config.yaml")
	err := runSubmit(path, "sync", time.Second)
	assert.NoError(t, err)
}

func TestRunSubmit_InvalidFile(t *testing.T) {
	configFile = filepath.Join(t.TempDir(), "missing-config.yaml")
	err := runSubmit("/nonexistent/cv.json", "sync", time.Second)
	assert.Error(t, err)
}

func TestRunSubmit_InvalidJSON(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	configFile = filepath.Join(dir, "missing-config.yaml")
	err := runSubmit(path, "sync", time.Second)
	assert.Error(t, err)
}

func TestRunSubmit_UnknownMode(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cv.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"ledger_seq": 1}`), 0o644))

	configFile = filepath.Join(dir, "missing-config.yaml")
	err := runSubmit(path, "bogus", time.Second)
	assert.Error(t, err)
}

func TestDemoDeps(t *testing.T) {
	deps := demoDeps(nil)
	assert.NotNil(t, deps.Applier)
	assert.NotNil(t, deps.Interpreter)
	assert.NotNil(t, deps.Accounts)
	assert.NotNil(t, deps.KeyGen)
	assert.NotNil(t, deps.Clock)
	assert.NotNil(t, deps.LedgerView)
	assert.Nil(t, deps.Metrics)

	collector := metrics.NewCollector()
	deps = demoDeps(collector)
	assert.Same(t, collector, deps.Metrics)
}
