package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	t.Cleanup(func() { cfgFile = "" })
	err := rootCmd.Execute()
	return out.String(), err
}

func TestVersion(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "marketgate dev")
}

func TestConfigShow_MasksSecrets(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
providers:
  twelvedata:
    enabled: true
    api_key: "td-secret"
`), 0644))

	out, err := execute(t, "config", "show", "--config", path)
	require.NoError(t, err)
	assert.NotContains(t, out, "td-secret")

	var shown map[string]any
	require.NoError(t, yaml.Unmarshal([]byte(out), &shown))
	providers := shown["providers"].(map[string]any)
	assert.Equal(t, "***", providers["twelvedata"].(map[string]any)["api_key"])
	assert.NotContains(t, providers, "yahoo")
}

func TestConfigShow_InvalidConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
providers:
  finnhub:
    enabled: true
`), 0644))

	_, err := execute(t, "config", "show", "--config", path)
	assert.Error(t, err)
}

func TestSeries_BadResolution(t *testing.T) {
	_, err := execute(t, "series", "AAPL", "--resolution", "2w")
	assert.Error(t, err)
}
