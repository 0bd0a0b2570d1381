package config

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadRequiresNodeAddr(t *testing.T) {
	t.Setenv("NODE_ADDR", "")
	_, err := Load()
	require.ErrorIs(t, err, ErrNodeAddrRequired)
}

func TestLoadAppliesDefaults(t *testing.T) {
	t.Setenv("NODE_ADDR", "localhost:3000")
	t.Setenv("TREE_DIR", "")
	t.Setenv("BLOCKS_TREE", "")
	t.Setenv("CENTRAL_NODE", "")
	t.Setenv("MINING_ADDR", "")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, DefaultTreeDir, cfg.TreeDir)
	require.Equal(t, DefaultBlocksTree, cfg.BlocksTree)
	require.Equal(t, DefaultCentralNode, cfg.CentralNode)
	require.False(t, cfg.IsMiner())
	require.False(t, cfg.IsSeedNode())
}

func TestIsSeedNodeMatchesCentralNode(t *testing.T) {
	t.Setenv("NODE_ADDR", "localhost:23333")
	t.Setenv("CENTRAL_NODE", "localhost:23333")
	t.Setenv("MINING_ADDR", "")
	t.Setenv("TREE_DIR", "")
	t.Setenv("BLOCKS_TREE", "")

	cfg, err := Load()
	require.NoError(t, err)
	require.True(t, cfg.IsSeedNode())
}

func TestIsMinerRequiresMiningAddr(t *testing.T) {
	t.Setenv("NODE_ADDR", "localhost:3001")
	t.Setenv("MINING_ADDR", "1FakeAddress")
	t.Setenv("CENTRAL_NODE", "")
	t.Setenv("TREE_DIR", "")
	t.Setenv("BLOCKS_TREE", "")

	cfg, err := Load()
	require.NoError(t, err)
	require.True(t, cfg.IsMiner())
}
