package p2p

import (
	"encoding/hex"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"lightchain/config"
	"lightchain/core"
	"lightchain/mempool"
	"lightchain/peer"
)

type testNode struct {
	cfg       config.Config
	store     *core.ChainStore
	utxo      *core.UTXOIndex
	consensus *core.ConsensusEngine
	mempool   *mempool.Mempool
	inTransit *mempool.InTransit
	registry  *peer.Registry
	client    *Client
	handler   *Handler
	wallets   *core.Wallets
}

func newTestNode(t *testing.T, nodeAddr, centralNode, miningAddr string) *testNode {
	t.Helper()
	log := zerolog.Nop()

	path := filepath.Join(t.TempDir(), "lightchain.db")
	store, err := core.OpenChainStore(path, "blocks1", log)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	utxo, err := core.OpenUTXOIndex(store.DB(), log)
	require.NoError(t, err)
	consensus := core.NewConsensusEngine(store, utxo, log)

	cfg := config.Config{TreeDir: t.TempDir(), BlocksTree: "blocks1", CentralNode: centralNode, NodeAddr: nodeAddr, MiningAddr: miningAddr}
	registry := peer.New(centralNode)
	client := NewClient(registry, log)
	mp := mempool.New()
	inTransit := mempool.NewInTransit()
	wallets := core.NewWallets()

	handler := NewHandler(cfg, store, utxo, consensus, mp, inTransit, registry, client, wallets, log)
	return &testNode{cfg: cfg, store: store, utxo: utxo, consensus: consensus, mempool: mp, inTransit: inTransit, registry: registry, client: client, handler: handler, wallets: wallets}
}

// fakePeer is a bare TCP listener that decodes every framed Package it
// receives onto a channel, standing in for a remote node in handler tests.
type fakePeer struct {
	addr     string
	received chan Package
	listener net.Listener
}

func newFakePeer(t *testing.T) *fakePeer {
	t.Helper()
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	fp := &fakePeer{addr: listener.Addr().String(), received: make(chan Package, 16), listener: listener}
	go func() {
		for {
			conn, err := listener.Accept()
			if err != nil {
				return
			}
			go func() {
				defer conn.Close()
				pkg, err := ReadFramed(conn)
				if err == nil {
					fp.received <- pkg
				}
			}()
		}
	}()
	t.Cleanup(func() { listener.Close() })
	return fp
}

func (fp *fakePeer) expect(t *testing.T, want PackageType) Package {
	t.Helper()
	select {
	case pkg := <-fp.received:
		require.Equal(t, want, pkg.Type)
		return pkg
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for %s", want)
		return Package{}
	}
}

func TestHandleVersionRequestsBlocksWhenPeerAhead(t *testing.T) {
	node := newTestNode(t, "127.0.0.1:1", "127.0.0.1:1", "")
	remote := newFakePeer(t)

	err := node.handler.Dispatch(Package{Type: PkgVersion, AddrFrom: remote.addr, Version: 1, BestHeight: 5})
	require.NoError(t, err)

	remote.expect(t, PkgGetBlocks)
	require.True(t, node.registry.IsKnown(remote.addr))
}

func TestHandleGetBlocksRepliesWithInventory(t *testing.T) {
	node := newTestNode(t, "127.0.0.1:1", "127.0.0.1:1", "")
	w := newWallet(t, node.wallets)

	genesis, err := node.store.CreateIfMissing(w, time.Now().UnixMilli())
	require.NoError(t, err)
	require.NoError(t, node.utxo.Reindex(node.store))

	remote := newFakePeer(t)
	err = node.handler.Dispatch(Package{Type: PkgGetBlocks, AddrFrom: remote.addr})
	require.NoError(t, err)

	pkg := remote.expect(t, PkgInv)
	require.Equal(t, OpBlock, pkg.OpType)
	require.Len(t, pkg.Items, 1)
	require.Equal(t, genesis.Hash, hex.EncodeToString(pkg.Items[0]))
}

func TestProcessTransactionMinesAtThreshold(t *testing.T) {
	node := newTestNode(t, "127.0.0.1:1", "127.0.0.1:1", "")
	minerAddr := newWallet(t, node.wallets)
	node.handler.cfg.MiningAddr = minerAddr
	node.cfg.MiningAddr = minerAddr

	_, err := node.store.CreateIfMissing(minerAddr, time.Now().UnixMilli())
	require.NoError(t, err)
	require.NoError(t, node.utxo.Reindex(node.store))

	require.NoError(t, node.handler.processTransaction(&core.Transaction{ID: "01", Vin: []core.TXInput{{PrevTxID: "", Vout: -1}}}, "127.0.0.1:9"))
	height, err := node.store.BestHeight()
	require.NoError(t, err)
	require.Equal(t, uint64(1), height)

	require.NoError(t, node.handler.processTransaction(&core.Transaction{ID: "02", Vin: []core.TXInput{{PrevTxID: "", Vout: -1}}}, "127.0.0.1:9"))

	height, err = node.store.BestHeight()
	require.NoError(t, err)
	require.Equal(t, uint64(2), height)
	require.Equal(t, 0, node.mempool.Len())
}

func TestHandleBlockAcceptsMinedBlockFromPeer(t *testing.T) {
	miner := newTestNode(t, "127.0.0.1:1", "127.0.0.1:1", "")
	minerAddr := newWallet(t, miner.wallets)
	miner.handler.cfg.MiningAddr = minerAddr

	genesis, err := miner.store.CreateIfMissing(minerAddr, time.Now().UnixMilli())
	require.NoError(t, err)
	require.NoError(t, miner.utxo.Reindex(miner.store))

	follower := newTestNode(t, "127.0.0.1:2", "127.0.0.1:1", "")
	require.NoError(t, follower.consensus.AcceptBlock(genesis))

	coinbase, err := core.NewCoinbaseTx(minerAddr)
	require.NoError(t, err)
	next, err := core.NewBlock([]*core.Transaction{coinbase}, genesis.Hash, genesis.Height+1, time.Now().UnixMilli())
	require.NoError(t, err)

	raw, err := next.Serialize()
	require.NoError(t, err)
	require.NoError(t, follower.handler.Dispatch(Package{Type: PkgBlock, AddrFrom: miner.cfg.NodeAddr, Block: raw}))

	tip, err := follower.store.GetTipHash()
	require.NoError(t, err)
	require.Equal(t, next.Hash, tip)
}

func newWallet(t *testing.T, wallets *core.Wallets) string {
	t.Helper()
	addr, err := wallets.Create()
	require.NoError(t, err)
	return addr.String()
}

