// Proof-of-work nonce search and target comparison. The hash input, per
// spec §4.4, runs over the merkle-ish transaction commitment rather than a
// raw transaction-hash field; Run/Validate work in terms of hex-encoded
// hashes rather than raw bytes.
package core

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"math"
	"math/big"

	"lightchain/crypto"
)

// TargetBits is the fixed proof-of-work difficulty (spec §4.4): chosen so
// that single-core commodity hardware finds a nonce in well under a second.
// This implementation does not retarget.
const TargetBits = 16

// maxNonce bounds the 63-bit nonce search space (spec §4.4: exhaustion is
// fatal and never reached in practice).
const maxNonce = math.MaxInt64

// ProofOfWork searches for a nonce over a single block.
type ProofOfWork struct {
	block  *Block
	target *big.Int
}

// NewPoW builds the proof-of-work context for block, with target
// 1 << (256 - TargetBits).
func NewPoW(block *Block) *ProofOfWork {
	target := big.NewInt(1)
	target.Lsh(target, uint(256-TargetBits))
	return &ProofOfWork{block: block, target: target}
}

func int64ToBytes(v int64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, uint64(v))
	return buf
}

// prepareData joins pre_block_hash, the merkle commitment, the timestamp,
// target_bits, and nonce into the canonical hash input (spec §4.4).
func (pow *ProofOfWork) prepareData(nonce int64) ([]byte, error) {
	merkle, err := pow.block.MerkleCommitment()
	if err != nil {
		return nil, err
	}

	var prevHash []byte
	if pow.block.PrevBlockHash != GenesisPrevHash {
		prevHash, err = hex.DecodeString(pow.block.PrevBlockHash)
		if err != nil {
			return nil, ErrBlockMalformed
		}
	}

	return bytes.Join(
		[][]byte{
			prevHash,
			merkle,
			int64ToBytes(pow.block.Timestamp),
			int64ToBytes(int64(TargetBits)),
			int64ToBytes(nonce),
		},
		[]byte{},
	), nil
}

// Run searches for a nonce whose hash meets pow.target, returning the nonce
// and the resulting hex-encoded hash.
func (pow *ProofOfWork) Run() (int64, string, error) {
	var hashInt big.Int
	var hash []byte
	var nonce int64

	for nonce < maxNonce {
		data, err := pow.prepareData(nonce)
		if err != nil {
			return 0, "", err
		}
		hash = crypto.Sha256(data)
		hashInt.SetBytes(hash)
		if hashInt.Cmp(pow.target) == -1 {
			break
		}
		nonce++
	}
	if nonce == maxNonce {
		return 0, "", ErrInternalInvariantBroken
	}
	return nonce, hex.EncodeToString(hash), nil
}

// Validate reports whether block's stored nonce and hash meet the target
// (spec invariant I5).
func (pow *ProofOfWork) Validate() (bool, error) {
	data, err := pow.prepareData(pow.block.Nonce)
	if err != nil {
		return false, err
	}
	hash := crypto.Sha256(data)
	if hex.EncodeToString(hash) != pow.block.Hash {
		return false, nil
	}

	var hashInt big.Int
	hashInt.SetBytes(hash)
	return hashInt.Cmp(pow.target) == -1, nil
}
