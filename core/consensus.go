// New file: separates fork handling out of chain storage entirely into the
// canonical-chain selector spec §4.7 requires: height comparison,
// chain-work tie-break, and reorganization via common-ancestor walk.
// Grounded on an Iterator-based traversal style and single-writer
// db.Update pattern.
package core

import (
	"sync"

	"github.com/rs/zerolog"
)

// ConsensusEngine is the sole authority permitted to call UTXOIndex.Apply
// and UTXOIndex.Rollback (spec §9: one-authority discipline; the P2P
// handler must never invoke them directly).
type ConsensusEngine struct {
	store *ChainStore
	utxo  *UTXOIndex
	mu    sync.Mutex
	log   zerolog.Logger
}

// NewConsensusEngine wires a chain store and UTXO index under a single
// writer lock.
func NewConsensusEngine(store *ChainStore, utxo *UTXOIndex, log zerolog.Logger) *ConsensusEngine {
	return &ConsensusEngine{store: store, utxo: utxo, log: log.With().Str("component", "consensus").Logger()}
}

// AcceptBlock is the engine's single entry point (spec §4.7).
func (c *ConsensusEngine) AcceptBlock(newBlock *Block) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	exists, err := c.store.HasBlock(newBlock.Hash)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}

	empty, err := c.store.IsEmpty()
	if err != nil {
		return err
	}
	if empty {
		if err := c.store.AtomicAppend(newBlock); err != nil {
			return err
		}
		if err := c.utxo.Apply(newBlock); err != nil {
			return err
		}
		c.log.Info().Str("hash", newBlock.Hash).Msg("accepted first block of empty chain")
		return nil
	}

	tip, err := c.store.GetTipHash()
	if err != nil {
		return err
	}
	tipHeight, err := c.store.BestHeight()
	if err != nil {
		return err
	}

	switch {
	case newBlock.Height > tipHeight:
		return c.acceptHigher(newBlock, tip)
	case newBlock.Height < tipHeight:
		c.log.Debug().Str("hash", newBlock.Hash).Msg("rejected block: height below tip")
		return nil
	default:
		return c.acceptEqualHeight(newBlock, tip)
	}
}

// acceptHigher handles spec §4.7 Case A. A block extending the current tip
// directly is appended on the fast path; a higher block extending a
// different branch requires a full reorganization so the UTXO index keeps
// tracking exactly the canonical chain (invariant I3).
func (c *ConsensusEngine) acceptHigher(newBlock *Block, tip string) error {
	if newBlock.PrevBlockHash == tip {
		if err := c.store.AtomicAppend(newBlock); err != nil {
			return err
		}
		if err := c.utxo.Apply(newBlock); err != nil {
			return err
		}
		c.log.Info().Str("hash", newBlock.Hash).Uint64("height", newBlock.Height).Msg("accepted block extending tip")
		return nil
	}

	if err := c.store.PutBlock(newBlock); err != nil {
		return err
	}
	if err := c.reorganize(newBlock.Hash); err != nil {
		if derr := c.store.DeleteBlock(newBlock.Hash); derr != nil {
			return derr
		}
		return err
	}
	c.log.Info().Str("hash", newBlock.Hash).Uint64("height", newBlock.Height).Msg("accepted block via reorganization")
	return nil
}

// acceptEqualHeight handles spec §4.7 Case C.
func (c *ConsensusEngine) acceptEqualHeight(newBlock *Block, tip string) error {
	if newBlock.PrevBlockHash == tip {
		if err := c.store.AtomicAppend(newBlock); err != nil {
			return err
		}
		if err := c.utxo.Apply(newBlock); err != nil {
			return err
		}
		c.log.Info().Str("hash", newBlock.Hash).Msg("accepted defensive same-height successor")
		return nil
	}

	if err := c.store.PutBlock(newBlock); err != nil {
		return err
	}

	workNew, err := c.ChainWork(newBlock.Hash)
	if err != nil {
		return err
	}
	workTip, err := c.ChainWork(tip)
	if err != nil {
		return err
	}

	accept := false
	switch {
	case workNew > workTip:
		accept = true
	case workNew < workTip:
		accept = false
	default:
		accept = newBlock.Hash > tip
	}

	if !accept {
		// newBlock is valid and stays persisted (PutBlock above) even
		// though it loses the tie-break: a later block may yet extend it
		// into the canonical chain, as in the reorganization case above.
		c.log.Debug().Str("hash", newBlock.Hash).Msg("rejected competing block at equal height")
		return nil
	}

	if err := c.reorganize(newBlock.Hash); err != nil {
		if derr := c.store.DeleteBlock(newBlock.Hash); derr != nil {
			return derr
		}
		return err
	}
	c.log.Info().Str("hash", newBlock.Hash).Msg("accepted competing block via tie-break")
	return nil
}

// ChainWork walks from hash back to genesis summing one unit of work per
// block (spec §4.7, §9: constant-per-block convention).
func (c *ConsensusEngine) ChainWork(hash string) (uint64, error) {
	var work uint64
	cur := hash
	for cur != GenesisPrevHash {
		block, err := c.store.GetBlock(cur)
		if err != nil {
			return 0, err
		}
		work++
		cur = block.PrevBlockHash
	}
	return work, nil
}

// reorganize walks the current tip and target chains back to their nearest
// common ancestor, rolls back the abandoned branch, and applies the new
// branch forward, finally moving the tip (spec §4.7).
func (c *ConsensusEngine) reorganize(target string) error {
	tip, err := c.store.GetTipHash()
	if err != nil {
		return err
	}

	ancestor, err := c.commonAncestor(tip, target)
	if err != nil {
		return err
	}

	cur := tip
	for cur != ancestor {
		block, err := c.store.GetBlock(cur)
		if err != nil {
			return err
		}
		if block.PrevBlockHash == GenesisPrevHash {
			return &ErrConsensusNoCommonAncestor{TipA: tip, TipB: target}
		}
		if err := c.utxo.Rollback(block, c.store); err != nil {
			return err
		}
		cur = block.PrevBlockHash
	}

	var forward []*Block
	cur = target
	for cur != ancestor {
		block, err := c.store.GetBlock(cur)
		if err != nil {
			return err
		}
		forward = append(forward, block)
		cur = block.PrevBlockHash
	}
	for i := len(forward) - 1; i >= 0; i-- {
		if err := c.utxo.Apply(forward[i]); err != nil {
			return err
		}
	}

	return c.store.SetTip(target)
}

// commonAncestor finds the nearest shared hash between the chains rooted
// at a and b by walking both back to genesis.
func (c *ConsensusEngine) commonAncestor(a, b string) (string, error) {
	ancestorsOfA := make(map[string]bool)
	cur := a
	for {
		ancestorsOfA[cur] = true
		block, err := c.store.GetBlock(cur)
		if err != nil {
			return "", err
		}
		if block.PrevBlockHash == GenesisPrevHash {
			break
		}
		cur = block.PrevBlockHash
	}

	cur = b
	for {
		if ancestorsOfA[cur] {
			return cur, nil
		}
		block, err := c.store.GetBlock(cur)
		if err != nil {
			return "", err
		}
		if block.PrevBlockHash == GenesisPrevHash {
			return "", &ErrConsensusNoCommonAncestor{TipA: a, TipB: b}
		}
		cur = block.PrevBlockHash
	}
}

// WithWriterLock runs fn while holding the same writer lock AcceptBlock
// uses, so the miner's fast path (which bypasses AcceptBlock because it
// always builds directly on the current tip) stays serialized with
// concurrent accept_block calls. The miner runs its whole mine-and-commit
// sequence, nonce search included, inside fn.
func (c *ConsensusEngine) WithWriterLock(fn func() error) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return fn()
}

// Store returns the underlying chain store.
func (c *ConsensusEngine) Store() *ChainStore { return c.store }

// UTXO returns the underlying UTXO index.
func (c *ConsensusEngine) UTXO() *UTXOIndex { return c.utxo }
