// Block construction and serialization. Field set and types follow spec §3
// exactly: millisecond timestamps, hex string hashes (rather than raw
// bytes), a height counter, and an int64 nonce. Mining (nonce search) lives
// in pow.go.
package core

import (
	"bytes"
	"encoding/gob"
	"encoding/hex"

	"lightchain/crypto"
)

// GenesisPrevHash is the sentinel previous-hash value carried by the
// genesis block (spec §3: "pre_block_hash = \"None\"").
const GenesisPrevHash = "None"

// Block is one entry of the canonical chain (spec §3).
type Block struct {
	Timestamp     int64 // milliseconds since epoch
	PrevBlockHash string
	Hash          string
	Transactions  []*Transaction
	Nonce         int64
	Height        uint64
}

// NewBlock mines a block containing txs on top of prevHash at height, via
// proof-of-work nonce search.
func NewBlock(txs []*Transaction, prevHash string, height uint64, nowMillis int64) (*Block, error) {
	block := &Block{
		Timestamp:     nowMillis,
		PrevBlockHash: prevHash,
		Transactions:  txs,
		Height:        height,
	}

	pow := NewPoW(block)
	nonce, hash, err := pow.Run()
	if err != nil {
		return nil, err
	}
	block.Nonce = nonce
	block.Hash = hash
	return block, nil
}

// NewGenesisBlock mines the chain's first block, height 1, containing only
// coinbaseTx.
func NewGenesisBlock(coinbaseTx *Transaction, nowMillis int64) (*Block, error) {
	return NewBlock([]*Transaction{coinbaseTx}, GenesisPrevHash, 1, nowMillis)
}

// Serialize returns block's canonical byte encoding (spec §6: the same
// encoding used on the wire, in the chain store, and as the hash input for
// embedded transactions).
func (block *Block) Serialize() ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(block); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// DeserializeBlock is the inverse of Serialize.
func DeserializeBlock(data []byte) (*Block, error) {
	var block Block
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&block); err != nil {
		return nil, ErrBlockMalformed
	}
	return &block, nil
}

// MerkleCommitment concatenates every transaction id in block and hashes the
// result once with SHA-256. This is deliberately not a full binary merkle
// tree (spec §4.4).
func (block *Block) MerkleCommitment() ([]byte, error) {
	var ids [][]byte
	for _, tx := range block.Transactions {
		id, err := hex.DecodeString(tx.ID)
		if err != nil {
			return nil, ErrTransactionMalformed
		}
		ids = append(ids, id)
	}
	return crypto.Sha256(bytes.Join(ids, []byte{})), nil
}
