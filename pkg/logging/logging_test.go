package logging

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/pario-ai/agentpay/pkg/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewWritesRotatedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "agentpay.log")
	log, err := New(config.LogConfig{Level: "debug", Format: "console", File: path, MaxSizeMB: 1})
	require.NoError(t, err)

	log.Info("settled")
	_ = log.Sync()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"message":"settled"`)
}

func TestNewRejectsBadLevel(t *testing.T) {
	_, err := New(config.LogConfig{Level: "loud"})
	assert.Error(t, err)
}
