// Follows the shape of a classic StartNode: open/create the local chain,
// dial the central node if this isn't it, then accept connections forever,
// one goroutine per connection. Built around the explicit
// config/store/engine/handler objects spec §9 calls for instead of
// package-level globals.
package node

import (
	"net"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	"lightchain/config"
	"lightchain/core"
	"lightchain/mempool"
	"lightchain/p2p"
	"lightchain/peer"
)

// Orchestrator owns every long-lived component of a running node (spec
// §4.11, C11).
type Orchestrator struct {
	cfg       config.Config
	store     *core.ChainStore
	utxo      *core.UTXOIndex
	consensus *core.ConsensusEngine
	mempool   *mempool.Mempool
	inTransit *mempool.InTransit
	registry  *peer.Registry
	client    *p2p.Client
	handler   *p2p.Handler
	wallets   *core.Wallets
	log       zerolog.Logger
}

// New opens the chain store (creating genesis if this is a mining seed
// node's first run) and wires every component. It does not yet bind a socket.
func New(cfg config.Config, log zerolog.Logger) (*Orchestrator, error) {
	dbPath := filepath.Join(cfg.TreeDir, "lightchain.db")
	store, err := core.OpenChainStore(dbPath, cfg.BlocksTree, log)
	if err != nil {
		return nil, err
	}

	utxo, err := core.OpenUTXOIndex(store.DB(), log)
	if err != nil {
		return nil, err
	}
	consensus := core.NewConsensusEngine(store, utxo, log)

	walletsPath := filepath.Join(cfg.TreeDir, "wallets.dat")
	wallets, err := core.LoadWallets(walletsPath)
	if err != nil {
		return nil, err
	}

	if cfg.IsSeedNode() && cfg.IsMiner() {
		if _, err := store.CreateIfMissing(cfg.MiningAddr, time.Now().UnixMilli()); err != nil {
			return nil, err
		}
		if err := utxo.Reindex(store); err != nil {
			return nil, err
		}
	}

	registry := peer.New(cfg.CentralNode)
	client := p2p.NewClient(registry, log)
	mp := mempool.New()
	inTransit := mempool.NewInTransit()
	handler := p2p.NewHandler(cfg, store, utxo, consensus, mp, inTransit, registry, client, wallets, log)

	return &Orchestrator{
		cfg:       cfg,
		store:     store,
		utxo:      utxo,
		consensus: consensus,
		mempool:   mp,
		inTransit: inTransit,
		registry:  registry,
		client:    client,
		handler:   handler,
		wallets:   wallets,
		log:       log.With().Str("component", "node").Logger(),
	}, nil
}

// Close releases the chain store's database handle.
func (o *Orchestrator) Close() error {
	return o.store.Close()
}

// Run binds the listen socket and serves inbound connections until
// listener.Accept fails (spec §4.11).
func (o *Orchestrator) Run() error {
	listener, err := net.Listen("tcp", o.cfg.NodeAddr)
	if err != nil {
		return err
	}
	defer listener.Close()

	if !o.cfg.IsSeedNode() {
		o.client.Send(o.cfg.CentralNode, p2p.Package{
			Type: p2p.PkgVersion, AddrFrom: o.cfg.NodeAddr, Version: 1,
			BestHeight: o.bestHeightOrZero(),
		})
	}

	o.log.Info().Str("addr", o.cfg.NodeAddr).Bool("seed", o.cfg.IsSeedNode()).Bool("miner", o.cfg.IsMiner()).Msg("node listening")

	for {
		conn, err := listener.Accept()
		if err != nil {
			return err
		}
		go o.handler.ServeConn(conn)
	}
}

func (o *Orchestrator) bestHeightOrZero() uint64 {
	height, err := o.store.BestHeight()
	if err != nil {
		return 0
	}
	return height
}
