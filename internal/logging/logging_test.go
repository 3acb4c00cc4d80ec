package logging

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestNewWritesJSONToRotatedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hyperfand.log")
	log, err := New(Options{Path: path})
	require.NoError(t, err)
	defer log.Sync()

	log.Info("daemon started", zap.String("socket", "/var/run/hyperfand.sock"))
	require.NoError(t, log.Sync())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "daemon started")
	assert.Contains(t, string(data), "\"socket\":\"/var/run/hyperfand.sock\"")
}

func TestNewAcceptsPathInMissingDirectory(t *testing.T) {
	_, err := New(Options{Path: filepath.Join(t.TempDir(), "sub", "hyperfand.log")})
	require.NoError(t, err)
}
