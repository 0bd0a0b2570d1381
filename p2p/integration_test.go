package p2p

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"lightchain/core"
)

// listenLocal binds an ephemeral loopback port for a test node to be served
// on, closed automatically at test cleanup.
func listenLocal(t *testing.T) net.Listener {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { l.Close() })
	return l
}

// serve runs h.ServeConn for every connection accepted on l until l is
// closed, mirroring node.Orchestrator.Run's accept loop.
func serve(l net.Listener, h *Handler) {
	go func() {
		for {
			conn, err := l.Accept()
			if err != nil {
				return
			}
			go h.ServeConn(conn)
		}
	}()
}

func balanceOf(t *testing.T, utxo *core.UTXOIndex, addrStr string) int64 {
	t.Helper()
	addr, err := core.NewAddress(addrStr)
	require.NoError(t, err)
	outputs, err := utxo.FindUTXO(addr.PubKeyHash())
	require.NoError(t, err)
	var total int64
	for _, o := range outputs {
		total += o.Value
	}
	return total
}

// TestFourNodeSynchronizedSend exercises the four-node scenario: node1 mines
// genesis plus two empty blocks paying itself, broadcasts each over the
// wire to nodes 2-4, then node4 asks node1 (the only node holding that
// wallet's key) to send 5 coins to node2. After node1 mines the resulting
// block and broadcasts it, every node's tip and UTXO view must agree.
func TestFourNodeSynchronizedSend(t *testing.T) {
	l1, l2, l3, l4 := listenLocal(t), listenLocal(t), listenLocal(t), listenLocal(t)
	addr1, addr2, addr3, addr4 := l1.Addr().String(), l2.Addr().String(), l3.Addr().String(), l4.Addr().String()

	node1 := newTestNode(t, addr1, addr1, "")
	node2 := newTestNode(t, addr2, addr1, "")
	node3 := newTestNode(t, addr3, addr1, "")
	node4 := newTestNode(t, addr4, addr1, "")

	minerAddr := newWallet(t, node1.wallets)
	node1.handler.cfg.MiningAddr = minerAddr
	node1.cfg.MiningAddr = minerAddr
	recvAddr := newWallet(t, node2.wallets)

	// node1 already knows every follower, as if each had completed its
	// version handshake against the seed node.
	node1.registry.AddMany([]string{addr2, addr3, addr4})

	serve(l1, node1.handler)
	serve(l2, node2.handler)
	serve(l3, node3.handler)
	serve(l4, node4.handler)

	now := time.Now().UnixMilli()
	genesis, err := node1.store.CreateIfMissing(minerAddr, now)
	require.NoError(t, err)
	require.NoError(t, node1.utxo.Reindex(node1.store))

	coinbase2, err := core.NewCoinbaseTx(minerAddr)
	require.NoError(t, err)
	block2, err := core.NewBlock([]*core.Transaction{coinbase2}, genesis.Hash, genesis.Height+1, now+1)
	require.NoError(t, err)
	require.NoError(t, node1.store.AtomicAppend(block2))
	require.NoError(t, node1.utxo.Reindex(node1.store))

	coinbase3, err := core.NewCoinbaseTx(minerAddr)
	require.NoError(t, err)
	block3, err := core.NewBlock([]*core.Transaction{coinbase3}, block2.Hash, block2.Height+1, now+2)
	require.NoError(t, err)
	require.NoError(t, node1.store.AtomicAppend(block3))
	require.NoError(t, node1.utxo.Reindex(node1.store))

	require.Equal(t, int64(30), balanceOf(t, node1.utxo, minerAddr))

	// Broadcast each block to the followers in mined order, exactly as the
	// miner does after every successful mine (spec §4.10), rather than a
	// bulk historical catch-up.
	followers := []*testNode{node2, node3, node4}
	for _, b := range []*core.Block{genesis, block2, block3} {
		raw, err := b.Serialize()
		require.NoError(t, err)
		for _, f := range followers {
			require.NoError(t, node1.client.Send(f.cfg.NodeAddr, Package{Type: PkgBlock, AddrFrom: addr1, Block: raw}))
		}
	}

	for _, f := range followers {
		require.Eventually(t, func() bool {
			tip, err := f.store.GetTipHash()
			return err == nil && tip == block3.Hash
		}, 2*time.Second, 10*time.Millisecond)
	}

	// node4 relays a send request for node1's own funds; only node1 holds
	// the signing key for minerAddr, so it constructs and signs the
	// transaction itself rather than node4 doing so.
	require.NoError(t, node4.client.Send(addr1, Package{
		Type: PkgSendBitCoin, AddrFrom: addr4,
		WalletFromAddr: minerAddr, WalletToAddr: recvAddr, Amount: 5,
	}))

	require.Eventually(t, func() bool {
		return node1.mempool.Len() == 1
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, node1.handler.mineMempool())

	finalTip, err := node1.store.GetTipHash()
	require.NoError(t, err)
	require.NotEqual(t, block3.Hash, finalTip)

	for _, f := range followers {
		require.Eventually(t, func() bool {
			tip, err := f.store.GetTipHash()
			return err == nil && tip == finalTip
		}, 2*time.Second, 10*time.Millisecond)
	}

	// Every node's UTXO index reflects the same globally-synchronized chain
	// (asserted above via identical tips), so balances for the two funded
	// addresses agree everywhere they're checked; node3 and node4 never
	// created a wallet of their own, so the scenario's "balance(node3) =
	// balance(node4) = 0" is about who owns funds, not a divergent ledger.
	require.Equal(t, int64(35), balanceOf(t, node1.utxo, minerAddr))
	require.Equal(t, int64(5), balanceOf(t, node1.utxo, recvAddr))
	require.Equal(t, int64(35), balanceOf(t, node3.utxo, minerAddr))
	require.Equal(t, int64(5), balanceOf(t, node4.utxo, recvAddr))
}
