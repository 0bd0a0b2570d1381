// Grounded on network/pseudo_p2p.go's handle* functions (handleVersion,
// handleAddr, handleInv, handleGetBlocks, handleGetData,
// handleBlock, handleTx): same message-to-action table, same sender-address
// convention. Mining-on-threshold is lifted out of handleTx into
// processTransaction per spec §4.10, and the one-authority UTXO-apply
// discipline is enforced here: this file never calls UTXOIndex.Apply or
// .Rollback directly; only core.ConsensusEngine does (spec §9's documented
// prior bug: "the P2P handler must not separately invoke UTXO.apply").
package p2p

import (
	"encoding/hex"
	"errors"
	"io"
	"net"
	"time"

	"github.com/rs/zerolog"

	"lightchain/config"
	"lightchain/core"
	"lightchain/mempool"
	"lightchain/peer"
)

// TransactionThreshold is the mempool size that triggers automatic mining,
// grounded on the original txNum4Mining constant.
const TransactionThreshold = 2

// Handler dispatches inbound Package messages against the node's state.
// Every dependency is an explicit field, no package-level globals, per
// spec §9's "re-architect as explicit context objects" note.
type Handler struct {
	cfg       config.Config
	store     *core.ChainStore
	utxo      *core.UTXOIndex
	consensus *core.ConsensusEngine
	mempool   *mempool.Mempool
	inTransit *mempool.InTransit
	registry  *peer.Registry
	client    *Client
	wallets   *core.Wallets
	log       zerolog.Logger
	now       func() int64
}

// NewHandler wires a Handler from its dependencies.
func NewHandler(cfg config.Config, store *core.ChainStore, utxo *core.UTXOIndex, consensus *core.ConsensusEngine, mp *mempool.Mempool, inTransit *mempool.InTransit, registry *peer.Registry, client *Client, wallets *core.Wallets, log zerolog.Logger) *Handler {
	return &Handler{
		cfg:       cfg,
		store:     store,
		utxo:      utxo,
		consensus: consensus,
		mempool:   mp,
		inTransit: inTransit,
		registry:  registry,
		client:    client,
		wallets:   wallets,
		log:       log.With().Str("component", "p2p.handler").Logger(),
		now:       func() int64 { return time.Now().UnixMilli() },
	}
}

// ServeConn reads framed Packages from conn until EOF, dispatching each in
// arrival order (spec §4.10: "each inbound connection reads a stream of
// messages until EOF").
func (h *Handler) ServeConn(conn net.Conn) {
	defer conn.Close()
	for {
		pkg, err := ReadFramed(conn)
		if err == io.EOF {
			return
		}
		if err != nil {
			h.log.Warn().Err(err).Msg("dropping malformed message")
			return
		}
		if err := h.Dispatch(pkg); err != nil {
			h.log.Warn().Err(err).Str("type", string(pkg.Type)).Msg("error handling message")
		}
	}
}

// Dispatch routes pkg to its handler per spec §4.10's message table.
func (h *Handler) Dispatch(pkg Package) error {
	switch pkg.Type {
	case PkgVersion:
		return h.handleVersion(pkg)
	case PkgGetBlocks:
		return h.handleGetBlocks(pkg)
	case PkgInv:
		return h.handleInv(pkg)
	case PkgGetData:
		return h.handleGetData(pkg)
	case PkgBlock:
		return h.handleBlock(pkg)
	case PkgTx:
		return h.handleTx(pkg)
	case PkgSendBitCoin:
		return h.handleSendBitCoin(pkg)
	case PkgKnownNodes:
		return h.handleKnownNodes(pkg)
	case PkgAdminNodeQuery:
		return h.handleAdminNodeQuery(pkg)
	default:
		h.log.Warn().Str("type", string(pkg.Type)).Msg("unknown package type")
		return nil
	}
}

func (h *Handler) sendVersion(addr string) {
	height, err := h.store.BestHeight()
	if err != nil {
		h.log.Error().Err(err).Msg("failed to read best height for version")
		return
	}
	h.client.Send(addr, Package{Type: PkgVersion, AddrFrom: h.cfg.NodeAddr, Version: 1, BestHeight: height})
}

func (h *Handler) handleVersion(pkg Package) error {
	localHeight, err := h.store.BestHeight()
	if err != nil {
		return err
	}
	if pkg.BestHeight > localHeight {
		h.client.Send(pkg.AddrFrom, Package{Type: PkgGetBlocks, AddrFrom: h.cfg.NodeAddr})
	} else if localHeight > pkg.BestHeight {
		h.sendVersion(pkg.AddrFrom)
	}
	if h.registry.Add(pkg.AddrFrom) {
		h.log.Info().Str("addr", pkg.AddrFrom).Msg("discovered new peer via version")
	}
	return nil
}

func (h *Handler) handleGetBlocks(pkg Package) error {
	var hashes [][]byte
	err := h.store.IterateFromTip(func(b *core.Block) (bool, error) {
		hash, err := hex.DecodeString(b.Hash)
		if err != nil {
			return false, err
		}
		hashes = append(hashes, hash)
		return true, nil
	})
	if err != nil {
		return err
	}
	h.client.Send(pkg.AddrFrom, Package{Type: PkgInv, AddrFrom: h.cfg.NodeAddr, OpType: OpBlock, Items: hashes})
	return nil
}

func (h *Handler) handleInv(pkg Package) error {
	if pkg.OpType == OpBlock {
		var hashes []string
		for _, item := range pkg.Items {
			hashes = append(hashes, hex.EncodeToString(item))
		}
		h.inTransit.AddMany(hashes)
		if len(hashes) > 0 {
			first, _ := hex.DecodeString(hashes[0])
			h.client.Send(pkg.AddrFrom, Package{Type: PkgGetData, AddrFrom: h.cfg.NodeAddr, OpType: OpBlock, ID: first})
		}
		return nil
	}
	if pkg.OpType == OpTx {
		for _, item := range pkg.Items {
			txID := hex.EncodeToString(item)
			if !h.mempool.Contains(txID) {
				h.client.Send(pkg.AddrFrom, Package{Type: PkgGetData, AddrFrom: h.cfg.NodeAddr, OpType: OpTx, ID: item})
			}
		}
	}
	return nil
}

func (h *Handler) handleGetData(pkg Package) error {
	if pkg.OpType == OpBlock {
		block, err := h.store.GetBlock(hex.EncodeToString(pkg.ID))
		if err == core.ErrBlockNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		raw, err := block.Serialize()
		if err != nil {
			return err
		}
		h.client.Send(pkg.AddrFrom, Package{Type: PkgBlock, AddrFrom: h.cfg.NodeAddr, Block: raw})
		return nil
	}
	if pkg.OpType == OpTx {
		tx, ok := h.mempool.Get(hex.EncodeToString(pkg.ID))
		if !ok {
			return nil
		}
		raw, err := tx.Serialize()
		if err != nil {
			return err
		}
		h.client.Send(pkg.AddrFrom, Package{Type: PkgTx, AddrFrom: h.cfg.NodeAddr, Transaction: raw})
	}
	return nil
}

func (h *Handler) handleBlock(pkg Package) error {
	block, err := core.DeserializeBlock(pkg.Block)
	if err != nil {
		h.log.Warn().Err(err).Msg("dropping malformed block")
		return nil
	}

	if err := h.consensus.AcceptBlock(block); err != nil {
		h.log.Error().Err(err).Str("hash", block.Hash).Msg("failed to accept block")
		return err
	}

	h.inTransit.Remove(block.Hash)
	for _, tx := range block.Transactions {
		h.mempool.Remove(tx.ID)
	}

	if next, ok := h.inTransit.First(); ok {
		id, err := hex.DecodeString(next)
		if err != nil {
			return err
		}
		h.client.Send(pkg.AddrFrom, Package{Type: PkgGetData, AddrFrom: h.cfg.NodeAddr, OpType: OpBlock, ID: id})
	}
	return nil
}

func (h *Handler) handleTx(pkg Package) error {
	tx, err := core.DeserializeTransaction(pkg.Transaction)
	if err != nil {
		h.log.Warn().Err(err).Msg("dropping malformed transaction")
		return nil
	}
	return h.processTransaction(tx, pkg.AddrFrom)
}

// processTransaction implements spec §4.10's mempool-admission and
// mining-trigger orchestration. A transaction is verified against the
// chain before admission (invariant I4): forged signatures and outputs
// exceeding inputs never reach the pool.
func (h *Handler) processTransaction(tx *core.Transaction, senderAddr string) error {
	ok, err := h.store.VerifyTransaction(tx)
	if err != nil {
		return err
	}
	if !ok {
		h.log.Warn().Str("tx", tx.ID).Str("from", senderAddr).Msg("rejecting invalid transaction")
		return h.errorReply(senderAddr, core.ErrInvalidTransaction)
	}

	if err := h.mempool.Add(tx); err != nil {
		var dup *core.ErrTransactionAlreadyInMempool
		if errors.As(err, &dup) {
			h.client.Send(senderAddr, Package{
				Type: PkgMessage, AddrFrom: h.cfg.NodeAddr,
				MessageType: MsgError, Message: err.Error(),
			})
			return nil
		}
		return err
	}
	if err := h.utxo.SetMempoolFlag(tx, true); err != nil {
		return err
	}

	if h.cfg.IsSeedNode() {
		for _, addr := range h.registry.GetAll() {
			if addr != senderAddr && addr != h.cfg.NodeAddr {
				h.client.Send(addr, Package{Type: PkgInv, AddrFrom: h.cfg.NodeAddr, OpType: OpTx, Items: [][]byte{idBytes(tx.ID)}})
			}
		}
	}

	if h.mempool.Len() >= TransactionThreshold && h.cfg.IsMiner() {
		return h.mineMempool()
	}
	return nil
}

// mineMempool mines a block containing every pending transaction plus a
// coinbase, bypassing full consensus since it always builds on the current
// tip (spec §4.10, §9: mining path and consensus).
func (h *Handler) mineMempool() error {
	return h.consensus.WithWriterLock(func() error {
		pending := h.mempool.GetAll()
		if len(pending) == 0 {
			return nil
		}

		var verified []*core.Transaction
		for _, tx := range pending {
			ok, err := h.store.VerifyTransaction(tx)
			if err != nil {
				return err
			}
			if !ok {
				h.log.Warn().Str("tx", tx.ID).Msg("dropping invalid transaction from mempool")
				h.mempool.Remove(tx.ID)
				if err := h.utxo.SetMempoolFlag(tx, false); err != nil {
					return err
				}
				continue
			}
			verified = append(verified, tx)
		}
		if len(verified) == 0 {
			return nil
		}

		coinbase, err := core.NewCoinbaseTx(h.cfg.MiningAddr)
		if err != nil {
			return err
		}
		txs := append([]*core.Transaction{coinbase}, verified...)

		tip, err := h.store.GetTipHash()
		if err != nil {
			return err
		}
		height, err := h.store.BestHeight()
		if err != nil {
			return err
		}

		block, err := core.NewBlock(txs, tip, height+1, h.now())
		if err != nil {
			return err
		}
		if err := h.store.AtomicAppend(block); err != nil {
			return err
		}
		if err := h.utxo.Reindex(h.store); err != nil {
			return err
		}
		for _, tx := range verified {
			h.mempool.Remove(tx.ID)
		}

		h.log.Info().Str("hash", block.Hash).Int("txs", len(txs)).Msg("mined block")
		for _, addr := range h.registry.GetAll() {
			if addr == h.cfg.NodeAddr {
				continue
			}
			h.client.Send(addr, Package{Type: PkgInv, AddrFrom: h.cfg.NodeAddr, OpType: OpBlock, Items: [][]byte{idBytes(block.Hash)}})
		}
		return nil
	})
}

func (h *Handler) handleSendBitCoin(pkg Package) error {
	fromAddr, err := core.NewAddress(pkg.WalletFromAddr)
	if err != nil {
		return h.errorReply(pkg.AddrFrom, core.ErrInvalidAddress)
	}
	if _, err := core.NewAddress(pkg.WalletToAddr); err != nil {
		return h.errorReply(pkg.AddrFrom, core.ErrInvalidAddress)
	}

	wallet, err := h.wallets.Get(fromAddr.String())
	if err != nil {
		return h.errorReply(pkg.AddrFrom, err)
	}

	tx, err := core.NewUTXOTx(wallet, pkg.WalletFromAddr, pkg.WalletToAddr, pkg.Amount, h.utxo, h.store)
	if err != nil {
		return h.errorReply(pkg.AddrFrom, err)
	}
	return h.processTransaction(tx, pkg.AddrFrom)
}

func (h *Handler) handleKnownNodes(pkg Package) error {
	var fresh []string
	for _, addr := range pkg.Nodes {
		if !h.registry.IsKnown(addr) {
			fresh = append(fresh, addr)
		}
	}
	h.registry.AddMany(pkg.Nodes)
	if len(fresh) == 0 {
		return nil
	}

	h.log.Info().Strs("addrs", fresh).Msg("discovered new peers")
	all := h.registry.GetAll()
	announce := Package{Type: PkgKnownNodes, AddrFrom: h.cfg.NodeAddr, Nodes: all}
	for _, addr := range fresh {
		h.client.Send(addr, announce)
		h.sendVersion(addr)
	}
	return nil
}

func (h *Handler) errorReply(addr string, err error) error {
	h.client.Send(addr, Package{Type: PkgMessage, AddrFrom: h.cfg.NodeAddr, MessageType: MsgError, Message: err.Error()})
	return nil
}

func idBytes(hexID string) []byte {
	b, _ := hex.DecodeString(hexID)
	return b
}
