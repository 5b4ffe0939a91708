package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drexelwireless/smartlink/internal/radio"
)

func TestLoadWithoutFileReturnsDefault(t *testing.T) {
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags := RegisterFlags(fs)
	require.NoError(t, fs.Parse(nil))

	cfg, err := flags.Load()
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoopbackFlagOverridesPeerTopology(t *testing.T) {
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags := RegisterFlags(fs)
	require.NoError(t, fs.Parse([]string{"-l"}))

	cfg, err := flags.Load()
	require.NoError(t, err)
	assert.True(t, cfg.Loopback)
	assert.EqualValues(t, 1, cfg.NodeID)
	assert.Equal(t, []radio.NodeId{1, 2}, cfg.Peers)
	assert.Equal(t, 1, cfg.PacketsPerSlot)
	assert.Equal(t, 1, cfg.RxThreadPoolSize)
}

func TestNodeIDFlagOverridesFileValue(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "node.yaml")
	require.NoError(t, os.WriteFile(path, []byte("node_id: 2\npeers: [1, 2, 3]\n"), 0o644))

	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags := RegisterFlags(fs)
	require.NoError(t, fs.Parse([]string{"-c", path, "-n", "3"}))

	cfg, err := flags.Load()
	require.NoError(t, err)
	assert.EqualValues(t, 3, cfg.NodeID)
	assert.Equal(t, []radio.NodeId{1, 2, 3}, cfg.Peers)
	assert.EqualValues(t, 3, cfg.SlotRank())
}

func TestValidateRejectsNodeIDNotInPeers(t *testing.T) {
	cfg := Default()
	cfg.NodeID = 9
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not a member of peers")
}

func TestValidateRejectsEmptyPeers(t *testing.T) {
	cfg := Default()
	cfg.Peers = nil
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "peers must be non-empty")
}

func TestSlotRankIsOneBasedPosition(t *testing.T) {
	cfg := Default()
	cfg.Peers = []radio.NodeId{5, 1, 7}
	cfg.NodeID = 1
	assert.EqualValues(t, 2, cfg.SlotRank())
}
