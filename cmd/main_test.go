package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "split.yaml")
	body := "symbols: [XYZ, ABC]\n" +
		"ledger_file: " + filepath.Join(dir, "ledgers.json") + "\n" +
		"log_file: " + filepath.Join(dir, "split.log") + "\n" +
		"broker:\n  kind: paper\n  paper_cash: 1000000\n  api_key: secret\n"
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestConfigCommandHidesSecrets(t *testing.T) {
	out, err := execute(t, "config", "--config", writeConfig(t))
	require.NoError(t, err)
	assert.Contains(t, out, "- XYZ")
	assert.Contains(t, out, "kind: paper")
	assert.NotContains(t, out, "secret")
}

func TestReconcileCommandOnEmptyLedgers(t *testing.T) {
	out, err := execute(t, "reconcile", "--config", writeConfig(t))
	require.NoError(t, err)
	assert.Contains(t, out, "ledgers match the broker")
}

func TestMigrateNeedsPostgres(t *testing.T) {
	_, err := execute(t, "migrate", "--config", writeConfig(t))
	assert.ErrorContains(t, err, "postgres")
}
