// Grounded on network/pseudo_p2p.go's constants (CentralNode, the
// hardcoded "lightChain.db" db file, the implicit "Blocks"/"ChainState"
// bucket names) and on original_source/src/domain/blockchain.rs's
// TREE_DIR/BLOCKS_TREE env var lookups. Replaces both with an explicit
// struct per spec §9's "re-architect as explicit context objects" note,
// no package-level globals.
package config

import "os"

// Defaults match the original hardcoded constants.
const (
	DefaultTreeDir    = "."
	DefaultBlocksTree = "blocks1"
	DefaultCentralNode = "localhost:23333"
)

// Config holds the environment-derived settings spec §6 names.
type Config struct {
	TreeDir     string // storage directory
	BlocksTree  string // bucket/tree name for the chain store
	CentralNode string // seed node address
	NodeAddr    string // this node's listen address
	MiningAddr  string // optional; enables mining when set
}

// Load reads TREE_DIR, BLOCKS_TREE, CENTRAL_NODE, NODE_ADDR, MINING_ADDR
// from the environment, applying the defaults above where unset.
// NODE_ADDR has no default: the orchestrator cannot bind a socket without
// it.
func Load() (Config, error) {
	cfg := Config{
		TreeDir:     getOr("TREE_DIR", DefaultTreeDir),
		BlocksTree:  getOr("BLOCKS_TREE", DefaultBlocksTree),
		CentralNode: getOr("CENTRAL_NODE", DefaultCentralNode),
		NodeAddr:    os.Getenv("NODE_ADDR"),
		MiningAddr:  os.Getenv("MINING_ADDR"),
	}
	if cfg.NodeAddr == "" {
		return Config{}, ErrNodeAddrRequired
	}
	return cfg, nil
}

// IsMiner reports whether this configuration enables mining.
func (c Config) IsMiner() bool {
	return c.MiningAddr != ""
}

// IsSeedNode reports whether this node is the network's configured seed.
func (c Config) IsSeedNode() bool {
	return c.NodeAddr == c.CentralNode
}

func getOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
