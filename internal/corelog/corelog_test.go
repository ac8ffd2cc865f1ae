package corelog

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigureInvalidLevel(t *testing.T) {
	_, err := Configure("loud", "", slog.HandlerOptions{})
	assert.Error(t, err)
}

func TestConfigureNoneDiscards(t *testing.T) {
	f, err := Configure("none", "", slog.HandlerOptions{})
	require.NoError(t, err)
	assert.Nil(t, f)
}

func TestConfigureStdoutWhenNoFile(t *testing.T) {
	f, err := Configure("debug", "", slog.HandlerOptions{})
	require.NoError(t, err)
	assert.Nil(t, f)
}

func TestConfigureFileOpensJSONHandler(t *testing.T) {
	path := filepath.Join(t.TempDir(), "core.log")
	f, err := Configure("info", path, slog.HandlerOptions{})
	require.NoError(t, err)
	require.NotNil(t, f)
	defer f.Close()

	slog.Info("hello", "k", "v")
	f.Sync()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"msg":"hello"`)
}
