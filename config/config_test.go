package config

import (
	"io/ioutil"
	"path/filepath"
	"testing"

	"github.com/cellfabric/fabric/cellagent"
	"github.com/stretchr/testify/require"
)

func TestSaveThenLoadRoundTrip(t *testing.T) {
	cfg := Default()
	cfg.OutputTracePath = "/var/log/cellfabric/trace.ndjson"
	cfg.QuenchPolicy = "root_port"
	cfg.MaxPortsPerCell = 8
	cfg.ContinueOnError = false
	cfg.Debug.PE = true
	cfg.Debug.FlowControl = true
	cfg.AutoBreak = "C:a:3"

	path := filepath.Join(t.TempDir(), "cellfabric.toml")
	require.NoError(t, cfg.Save(path))

	got, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, cfg, got)
}

func TestLoadMissingFieldsFallBackToDefault(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cellfabric.toml")
	require.NoError(t, ioutil.WriteFile(path, []byte("QuenchPolicy = \"root_port\"\n"), 0o644))

	got, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "root_port", got.QuenchPolicy)
	require.Equal(t, Default().MaxPortsPerCell, got.MaxPortsPerCell)
	require.Equal(t, Default().ContinueOnError, got.ContinueOnError)
}

func TestQuenchPolicyValue(t *testing.T) {
	cfg := Default()
	require.Equal(t, cellagent.QuenchSimple, cfg.QuenchPolicyValue())

	cfg.QuenchPolicy = "root_port"
	require.Equal(t, cellagent.QuenchRootPort, cfg.QuenchPolicyValue())

	cfg.QuenchPolicy = "bogus"
	require.Equal(t, cellagent.QuenchSimple, cfg.QuenchPolicyValue())
}
