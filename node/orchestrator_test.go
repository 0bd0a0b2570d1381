package node

import (
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"lightchain/config"
	"lightchain/core"
)

func TestNewCreatesGenesisForSeedMiner(t *testing.T) {
	dir := t.TempDir()
	cfg := config.Config{
		TreeDir:     dir,
		BlocksTree:  "blocks1",
		CentralNode: "127.0.0.1:23333",
		NodeAddr:    "127.0.0.1:23333",
		MiningAddr:  "",
	}

	// Mint a mining address up front since config.Config has no wallet
	// creation helper of its own; genesis pays this address, so it must be
	// a valid address, not just a non-empty string.
	wallets, err := loadOrCreateTestWallets(t, dir)
	require.NoError(t, err)
	cfg.MiningAddr = wallets

	orchestrator, err := New(cfg, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { orchestrator.Close() })

	height, err := orchestrator.store.BestHeight()
	require.NoError(t, err)
	require.Equal(t, uint64(1), height)

	count, err := orchestrator.utxo.CountEntries()
	require.NoError(t, err)
	require.Equal(t, 1, count)
}

func TestNewDoesNotCreateGenesisForNonSeedNode(t *testing.T) {
	dir := t.TempDir()
	cfg := config.Config{
		TreeDir:     dir,
		BlocksTree:  "blocks1",
		CentralNode: "127.0.0.1:23333",
		NodeAddr:    "127.0.0.1:4000",
		MiningAddr:  "",
	}

	orchestrator, err := New(cfg, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { orchestrator.Close() })

	empty, err := orchestrator.store.IsEmpty()
	require.NoError(t, err)
	require.True(t, empty)
}

func TestNewSeedsRegistryFromCentralNode(t *testing.T) {
	dir := t.TempDir()
	cfg := config.Config{
		TreeDir:     dir,
		BlocksTree:  "blocks1",
		CentralNode: "127.0.0.1:23333",
		NodeAddr:    "127.0.0.1:4001",
	}

	orchestrator, err := New(cfg, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { orchestrator.Close() })

	require.True(t, orchestrator.registry.IsKnown("127.0.0.1:23333"))
}

func loadOrCreateTestWallets(t *testing.T, dir string) (string, error) {
	t.Helper()
	wallets := core.NewWallets()
	addr, err := wallets.Create()
	if err != nil {
		return "", err
	}
	if err := wallets.Save(filepath.Join(dir, "wallets.dat")); err != nil {
		return "", err
	}
	return addr.String(), nil
}
