// Chain storage on top of boltdb, keeping the open/iterate/append shape of
// a classic block-keyed bucket with a separate tip pointer. Split from the
// consensus engine (consensus.go) per spec §4.5 and §4.7; the tip pointer
// is stored as a hex string rather than raw bytes (spec §6).
package core

import (
	"encoding/hex"
	"os"
	"path/filepath"
	"time"

	"github.com/boltdb/bolt"
	"github.com/rs/zerolog"
)

const tipKey = "tip_block_hash"

// ChainStore is the persistent, boltdb-backed block index (spec §4.5).
type ChainStore struct {
	db     *bolt.DB
	bucket string
	log    zerolog.Logger
}

// OpenChainStore opens (or creates) the boltdb file at dbPath and ensures
// bucket exists.
func OpenChainStore(dbPath, bucket string, log zerolog.Logger) (*ChainStore, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, ErrStorageOpenFailed
		}
	}

	db, err := bolt.Open(dbPath, 0644, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		log.Error().Err(err).Str("path", dbPath).Msg("failed to open chain store")
		return nil, ErrStorageOpenFailed
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(bucket))
		return err
	})
	if err != nil {
		return nil, ErrStorageOpenFailed
	}

	return &ChainStore{db: db, bucket: bucket, log: log.With().Str("component", "store").Logger()}, nil
}

// Close releases the underlying database handle.
func (s *ChainStore) Close() error {
	return s.db.Close()
}

// DB returns the underlying boltdb handle so the UTXO index can share it
// (spec §6: both trees live in one ordered-key directory).
func (s *ChainStore) DB() *bolt.DB {
	return s.db
}

// CreateIfMissing mines and persists a genesis block paying genesisAddress
// if the store has no tip yet (spec §4.5).
func (s *ChainStore) CreateIfMissing(genesisAddress string, nowMillis int64) (*Block, error) {
	existingTip, err := s.tipHashOrEmpty()
	if err != nil {
		return nil, err
	}
	if existingTip != "" {
		return s.GetBlock(existingTip)
	}

	coinbase, err := NewCoinbaseTx(genesisAddress)
	if err != nil {
		return nil, err
	}
	genesis, err := NewGenesisBlock(coinbase, nowMillis)
	if err != nil {
		return nil, err
	}
	if err := s.AtomicAppend(genesis); err != nil {
		return nil, err
	}
	s.log.Info().Str("hash", genesis.Hash).Msg("created genesis block")
	return genesis, nil
}

func (s *ChainStore) tipHashOrEmpty() (string, error) {
	var tip string
	err := s.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(s.bucket))
		val := bucket.Get([]byte(tipKey))
		if val != nil {
			tip = string(val)
		}
		return nil
	})
	if err != nil {
		return "", ErrStorageReadFailed
	}
	return tip, nil
}

// GetTipHash returns the current canonical tip, or ErrBlockchainTipInvalid
// if no tip has been set.
func (s *ChainStore) GetTipHash() (string, error) {
	tip, err := s.tipHashOrEmpty()
	if err != nil {
		return "", err
	}
	if tip == "" {
		return "", ErrBlockchainTipInvalid
	}
	return tip, nil
}

// IsEmpty reports whether the store has no blocks yet.
func (s *ChainStore) IsEmpty() (bool, error) {
	tip, err := s.tipHashOrEmpty()
	if err != nil {
		return false, err
	}
	return tip == "", nil
}

// GetBlock looks up the block stored under hash. hash is validated as a
// 32-byte SHA-256 hex digest before the lookup runs, so a malformed hash
// arriving off the wire (e.g. a get_data request for an arbitrary-length
// id) fails fast as ErrBlockMalformed rather than silently missing.
func (s *ChainStore) GetBlock(hash string) (*Block, error) {
	if _, err := hexHash(hash); err != nil {
		return nil, err
	}

	var raw []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(s.bucket))
		val := bucket.Get([]byte(hash))
		if val != nil {
			raw = append([]byte(nil), val...)
		}
		return nil
	})
	if err != nil {
		return nil, ErrStorageReadFailed
	}
	if raw == nil {
		return nil, ErrBlockNotFound
	}
	return DeserializeBlock(raw)
}

// HasBlock reports whether hash is already stored (used by accept_block's
// dedup step).
func (s *ChainStore) HasBlock(hash string) (bool, error) {
	_, err := s.GetBlock(hash)
	if err == ErrBlockNotFound {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// BestHeight returns the height of the current tip, or 0 if the store is
// empty.
func (s *ChainStore) BestHeight() (uint64, error) {
	empty, err := s.IsEmpty()
	if err != nil {
		return 0, err
	}
	if empty {
		return 0, nil
	}
	tip, err := s.GetTipHash()
	if err != nil {
		return 0, err
	}
	block, err := s.GetBlock(tip)
	if err != nil {
		return 0, err
	}
	return block.Height, nil
}

// PutBlock writes block under its own hash without touching the tip
// pointer. Used by reorganization and by accept_block's speculative
// persist-before-compare step (spec §4.7).
func (s *ChainStore) PutBlock(block *Block) error {
	raw, err := block.Serialize()
	if err != nil {
		return err
	}
	err = s.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(s.bucket))
		return bucket.Put([]byte(block.Hash), raw)
	})
	if err != nil {
		return ErrStorageWriteFailed
	}
	return nil
}

// DeleteBlock removes hash from the store. Used to undo a speculative
// PutBlock when the reorganization onto that block fails. A competing block
// that loses the equal-height comparison is not deleted; it stays stored.
func (s *ChainStore) DeleteBlock(hash string) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(s.bucket))
		return bucket.Delete([]byte(hash))
	})
	if err != nil {
		return ErrStorageWriteFailed
	}
	return nil
}

// SetTip overwrites the tip pointer to hash.
func (s *ChainStore) SetTip(hash string) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(s.bucket))
		return bucket.Put([]byte(tipKey), []byte(hash))
	})
	if err != nil {
		return ErrStorageWriteFailed
	}
	return nil
}

// AtomicAppend writes block under its hash and advances the tip in a single
// store transaction (spec §4.5).
func (s *ChainStore) AtomicAppend(block *Block) error {
	raw, err := block.Serialize()
	if err != nil {
		return err
	}
	err = s.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(s.bucket))
		if err := bucket.Put([]byte(block.Hash), raw); err != nil {
			return err
		}
		return bucket.Put([]byte(tipKey), []byte(block.Hash))
	})
	if err != nil {
		return ErrStorageWriteFailed
	}
	return nil
}

// IterateFromTip walks the canonical chain from the tip back to genesis,
// invoking visit for each block. Stops early if visit returns false.
func (s *ChainStore) IterateFromTip(visit func(*Block) (bool, error)) error {
	tip, err := s.GetTipHash()
	if err == ErrBlockchainTipInvalid {
		return nil
	}
	if err != nil {
		return err
	}

	cur := tip
	for {
		block, err := s.GetBlock(cur)
		if err != nil {
			return err
		}
		cont, err := visit(block)
		if err != nil {
			return err
		}
		if !cont || block.PrevBlockHash == GenesisPrevHash {
			return nil
		}
		cur = block.PrevBlockHash
	}
}

// FindTransaction implements PrevTxFinder by scanning the canonical chain
// from the tip for a transaction with the given hex id.
func (s *ChainStore) FindTransaction(txID string) (*Transaction, error) {
	var found *Transaction
	err := s.IterateFromTip(func(block *Block) (bool, error) {
		for _, tx := range block.Transactions {
			if tx.ID == txID {
				found = tx
				return false, nil
			}
		}
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	if found == nil {
		return nil, ErrTransactionNotFound
	}
	return found, nil
}

// VerifyTransaction checks tx's signatures against previous outputs
// resolved through this store.
func (s *ChainStore) VerifyTransaction(tx *Transaction) (bool, error) {
	return tx.Verify(s)
}

// FindAllTransactions is a debug/admin helper returning a flattened
// view of every transaction on the canonical chain, most recent first.
func (s *ChainStore) FindAllTransactions() ([]*Transaction, error) {
	var all []*Transaction
	err := s.IterateFromTip(func(block *Block) (bool, error) {
		all = append(all, block.Transactions...)
		return true, nil
	})
	return all, err
}

// hexHash validates h decodes as a 32-byte SHA-256 hex digest.
func hexHash(h string) ([]byte, error) {
	decoded, err := hex.DecodeString(h)
	if err != nil || len(decoded) != 32 {
		return nil, ErrBlockMalformed
	}
	return decoded, nil
}
