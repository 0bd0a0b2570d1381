// New surface: no prior admin interface over the wire existed (the old CLI
// talked to the chain in-process). Grounded on
// original_source/src/server/operations.rs's admin dispatch and
// network/operations.rs::mine_empty_block, adapted to this wire protocol's
// AdminNodeQuery variant (spec §6, D3).
package p2p

import (
	"fmt"

	"lightchain/core"
)

func (h *Handler) handleAdminNodeQuery(pkg Package) error {
	switch pkg.QueryType {
	case AdminGetBalance:
		return h.adminGetBalance(pkg)
	case AdminGetAllTransactions:
		return h.adminGetAllTransactions(pkg)
	case AdminGetBlockHeight:
		return h.adminGetBlockHeight(pkg)
	case AdminMineEmptyBlock:
		return h.adminMineEmptyBlock(pkg)
	case AdminReindexUtxo:
		return h.adminReindexUtxo(pkg)
	default:
		return h.errorReply(pkg.AddrFrom, fmt.Errorf("p2p: unknown admin query type %q", pkg.QueryType))
	}
}

func (h *Handler) adminGetBalance(pkg Package) error {
	addr, err := core.NewAddress(pkg.QueryAddr)
	if err != nil {
		return h.errorReply(pkg.AddrFrom, err)
	}
	outputs, err := h.utxo.FindUTXO(addr.PubKeyHash())
	if err != nil {
		return h.errorReply(pkg.AddrFrom, err)
	}
	var balance int64
	for _, o := range outputs {
		balance += o.Value
	}
	h.client.Send(pkg.AddrFrom, Package{
		Type: PkgMessage, AddrFrom: h.cfg.NodeAddr,
		MessageType: MsgSuccess, Message: fmt.Sprintf("%d", balance),
	})
	return nil
}

func (h *Handler) adminGetAllTransactions(pkg Package) error {
	txs, err := h.store.FindAllTransactions()
	if err != nil {
		return h.errorReply(pkg.AddrFrom, err)
	}
	h.client.Send(pkg.AddrFrom, Package{
		Type: PkgMessage, AddrFrom: h.cfg.NodeAddr,
		MessageType: MsgSuccess, Message: fmt.Sprintf("%d transactions", len(txs)),
	})
	return nil
}

func (h *Handler) adminGetBlockHeight(pkg Package) error {
	height, err := h.store.BestHeight()
	if err != nil {
		return h.errorReply(pkg.AddrFrom, err)
	}
	h.client.Send(pkg.AddrFrom, Package{
		Type: PkgMessage, AddrFrom: h.cfg.NodeAddr,
		MessageType: MsgSuccess, Message: fmt.Sprintf("%d", height),
	})
	return nil
}

// adminMineEmptyBlock mines with only a coinbase transaction, bypassing
// the mempool threshold entirely (spec §4.10: "empty-block mining is an
// admin-triggered variant").
func (h *Handler) adminMineEmptyBlock(pkg Package) error {
	if !h.cfg.IsMiner() {
		return h.errorReply(pkg.AddrFrom, fmt.Errorf("p2p: node has no mining address configured"))
	}

	err := h.consensus.WithWriterLock(func() error {
		coinbase, err := core.NewCoinbaseTx(h.cfg.MiningAddr)
		if err != nil {
			return err
		}
		tip, err := h.store.GetTipHash()
		if err != nil {
			return err
		}
		height, err := h.store.BestHeight()
		if err != nil {
			return err
		}
		block, err := core.NewBlock([]*core.Transaction{coinbase}, tip, height+1, h.now())
		if err != nil {
			return err
		}
		if err := h.store.AtomicAppend(block); err != nil {
			return err
		}
		if err := h.utxo.Reindex(h.store); err != nil {
			return err
		}

		for _, addr := range h.registry.GetAll() {
			if addr == h.cfg.NodeAddr {
				continue
			}
			h.client.Send(addr, Package{Type: PkgInv, AddrFrom: h.cfg.NodeAddr, OpType: OpBlock, Items: [][]byte{idBytes(block.Hash)}})
		}
		return nil
	})
	if err != nil {
		return h.errorReply(pkg.AddrFrom, err)
	}
	h.client.Send(pkg.AddrFrom, Package{Type: PkgMessage, AddrFrom: h.cfg.NodeAddr, MessageType: MsgAck, Message: "mined empty block"})
	return nil
}

func (h *Handler) adminReindexUtxo(pkg Package) error {
	err := h.consensus.WithWriterLock(func() error {
		return h.utxo.Reindex(h.store)
	})
	if err != nil {
		return h.errorReply(pkg.AddrFrom, err)
	}
	h.client.Send(pkg.AddrFrom, Package{Type: PkgMessage, AddrFrom: h.cfg.NodeAddr, MessageType: MsgAck, Message: "reindexed utxo"})
	return nil
}
