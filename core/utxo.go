// UTXO index on top of boltdb's chainstate bucket. Update/Rebuild become
// apply/reindex; rollback is newly authored to support reorganization per
// spec §4.6. The chainstate bucket keys entries by raw 32-byte txid bytes
// rather than hex strings, and each entry is a sparse map of vout index to
// output so spent outputs can be removed and restored without shifting
// indices (spec §4.6).
package core

import (
	"bytes"
	"encoding/gob"
	"encoding/hex"

	"github.com/boltdb/bolt"
	"github.com/rs/zerolog"
)

const chainStateBucket = "ChainState"

// utxoEntry is the per-transaction record stored in the chainstate bucket:
// the subset of tx's outputs that remain unspent, keyed by their original
// vout index.
type utxoEntry struct {
	Outputs map[int]TXOutput
}

func encodeUTXOEntry(e utxoEntry) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(e); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decodeUTXOEntry(data []byte) (utxoEntry, error) {
	var e utxoEntry
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&e); err != nil {
		return utxoEntry{}, ErrTransactionMalformed
	}
	return e, nil
}

// UTXOIndex is the persistent unspent-output index (spec §4.6). It is a
// projection derivable from the canonical chain; the consensus engine is
// its sole writer (apply/rollback), never the P2P handler.
type UTXOIndex struct {
	db  *bolt.DB
	log zerolog.Logger
}

// OpenUTXOIndex opens the chainstate bucket in the same database as the
// chain store.
func OpenUTXOIndex(db *bolt.DB, log zerolog.Logger) (*UTXOIndex, error) {
	err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(chainStateBucket))
		return err
	})
	if err != nil {
		return nil, ErrStorageOpenFailed
	}
	return &UTXOIndex{db: db, log: log.With().Str("component", "utxo").Logger()}, nil
}

func txKey(hexID string) ([]byte, error) {
	key, err := hex.DecodeString(hexID)
	if err != nil {
		return nil, ErrTransactionMalformed
	}
	return key, nil
}

func (u *UTXOIndex) getEntry(tx *bolt.Tx, key []byte) (utxoEntry, bool, error) {
	bucket := tx.Bucket([]byte(chainStateBucket))
	raw := bucket.Get(key)
	if raw == nil {
		return utxoEntry{}, false, nil
	}
	entry, err := decodeUTXOEntry(raw)
	if err != nil {
		return utxoEntry{}, false, err
	}
	return entry, true, nil
}

func (u *UTXOIndex) putEntry(tx *bolt.Tx, key []byte, entry utxoEntry) error {
	bucket := tx.Bucket([]byte(chainStateBucket))
	if len(entry.Outputs) == 0 {
		return bucket.Delete(key)
	}
	raw, err := encodeUTXOEntry(entry)
	if err != nil {
		return err
	}
	return bucket.Put(key, raw)
}

// Apply folds block into the index: for each non-coinbase input, the spent
// output is removed from its creating transaction's entry; every
// transaction's outputs (coinbase included) are then written under its own
// id (spec §4.6).
func (u *UTXOIndex) Apply(block *Block) error {
	err := u.db.Update(func(boltTx *bolt.Tx) error {
		for _, tx := range block.Transactions {
			if !tx.IsCoinbase() {
				for _, in := range tx.Vin {
					prevKey, err := txKey(in.PrevTxID)
					if err != nil {
						return err
					}
					entry, ok, err := u.getEntry(boltTx, prevKey)
					if err != nil {
						return err
					}
					if !ok {
						return ErrUTXONotFound
					}
					delete(entry.Outputs, in.Vout)
					if err := u.putEntry(boltTx, prevKey, entry); err != nil {
						return err
					}
				}
			}

			ownKey, err := txKey(tx.ID)
			if err != nil {
				return err
			}
			own := utxoEntry{Outputs: make(map[int]TXOutput, len(tx.Vout))}
			for i, out := range tx.Vout {
				own.Outputs[i] = out
			}
			if err := u.putEntry(boltTx, ownKey, own); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	u.log.Debug().Str("block", block.Hash).Int("txs", len(block.Transactions)).Msg("applied block to utxo index")
	return nil
}

// Rollback undoes Apply(block): each transaction's own entry is deleted,
// and for every non-coinbase input the spent output is restored into the
// entry of the transaction that created it, resolved through chain
// (spec §4.6).
func (u *UTXOIndex) Rollback(block *Block, chain PrevTxFinder) error {
	for i := len(block.Transactions) - 1; i >= 0; i-- {
		tx := block.Transactions[i]

		err := u.db.Update(func(boltTx *bolt.Tx) error {
			ownKey, err := txKey(tx.ID)
			if err != nil {
				return err
			}
			bucket := boltTx.Bucket([]byte(chainStateBucket))
			if err := bucket.Delete(ownKey); err != nil {
				return err
			}

			if tx.IsCoinbase() {
				return nil
			}
			for _, in := range tx.Vin {
				prevTx, err := chain.FindTransaction(in.PrevTxID)
				if err != nil {
					return err
				}
				if in.Vout >= len(prevTx.Vout) {
					return ErrUTXONotFound
				}
				prevKey, err := txKey(in.PrevTxID)
				if err != nil {
					return err
				}
				entry, ok, err := u.getEntry(boltTx, prevKey)
				if err != nil {
					return err
				}
				if !ok {
					entry = utxoEntry{Outputs: make(map[int]TXOutput)}
				}
				entry.Outputs[in.Vout] = prevTx.Vout[in.Vout]
				if err := u.putEntry(boltTx, prevKey, entry); err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			return err
		}
	}
	u.log.Debug().Str("block", block.Hash).Msg("rolled back block from utxo index")
	return nil
}

// Reindex rebuilds the index from scratch by folding the canonical chain
// from genesis forward (spec §4.6), which also clears every in-mempool
// soft-lock flag. Called after mining, by the ReindexUtxo admin query, and
// at seed-node startup; reorganization uses Rollback/Apply instead.
func (u *UTXOIndex) Reindex(store *ChainStore) error {
	var chronological []*Block
	err := store.IterateFromTip(func(b *Block) (bool, error) {
		chronological = append(chronological, b)
		return true, nil
	})
	if err != nil {
		return err
	}

	err = u.db.Update(func(boltTx *bolt.Tx) error {
		if err := boltTx.DeleteBucket([]byte(chainStateBucket)); err != nil && err != bolt.ErrBucketNotFound {
			return err
		}
		_, err := boltTx.CreateBucket([]byte(chainStateBucket))
		return err
	})
	if err != nil {
		return ErrStorageWriteFailed
	}

	for i := len(chronological) - 1; i >= 0; i-- {
		if err := u.Apply(chronological[i]); err != nil {
			return err
		}
	}
	u.log.Info().Int("blocks", len(chronological)).Msg("reindexed utxo index")
	return nil
}

// FindSpendableOutputs returns outputs locked to pubKeyHash, accumulating
// value until it reaches amount (spec §4.3). Outputs currently soft-locked
// by a pending mempool transaction are skipped.
func (u *UTXOIndex) FindSpendableOutputs(pubKeyHash []byte, amount int64) (int64, map[string][]int, error) {
	unspent := make(map[string][]int)
	var accumulated int64

	err := u.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(chainStateBucket))
		cursor := bucket.Cursor()
		for key, raw := cursor.First(); key != nil; key, raw = cursor.Next() {
			entry, err := decodeUTXOEntry(raw)
			if err != nil {
				return err
			}
			txID := hex.EncodeToString(key)
			for vout, out := range entry.Outputs {
				if accumulated >= amount {
					break
				}
				if out.InMempool || !out.IsLockedWithKey(pubKeyHash) {
					continue
				}
				accumulated += out.Value
				unspent[txID] = append(unspent[txID], vout)
			}
		}
		return nil
	})
	if err != nil {
		return 0, nil, ErrStorageReadFailed
	}
	return accumulated, unspent, nil
}

// FindUTXO returns every output in the index locked to pubKeyHash, used for
// balance queries.
func (u *UTXOIndex) FindUTXO(pubKeyHash []byte) ([]TXOutput, error) {
	var out []TXOutput
	err := u.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(chainStateBucket))
		cursor := bucket.Cursor()
		for key, raw := cursor.First(); key != nil; key, raw = cursor.Next() {
			entry, err := decodeUTXOEntry(raw)
			if err != nil {
				return err
			}
			for _, o := range entry.Outputs {
				if o.IsLockedWithKey(pubKeyHash) {
					out = append(out, o)
				}
			}
		}
		return nil
	})
	if err != nil {
		return nil, ErrStorageReadFailed
	}
	return out, nil
}

// SetMempoolFlag flips the soft-lock flag on every output tx spends,
// purely advisory bookkeeping that never affects a hashed identity
// (spec §4.6).
func (u *UTXOIndex) SetMempoolFlag(tx *Transaction, flag bool) error {
	if tx.IsCoinbase() {
		return nil
	}
	return u.db.Update(func(boltTx *bolt.Tx) error {
		for _, in := range tx.Vin {
			prevKey, err := txKey(in.PrevTxID)
			if err != nil {
				return err
			}
			entry, ok, err := u.getEntry(boltTx, prevKey)
			if err != nil {
				return err
			}
			if !ok {
				continue
			}
			out, ok := entry.Outputs[in.Vout]
			if !ok {
				continue
			}
			out.InMempool = flag
			entry.Outputs[in.Vout] = out
			if err := u.putEntry(boltTx, prevKey, entry); err != nil {
				return err
			}
		}
		return nil
	})
}

// CountEntries returns the number of transactions tracked by the index,
// for diagnostics.
func (u *UTXOIndex) CountEntries() (int, error) {
	count := 0
	err := u.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(chainStateBucket))
		cursor := bucket.Cursor()
		for key, _ := cursor.First(); key != nil; key, _ = cursor.Next() {
			count++
		}
		return nil
	})
	if err != nil {
		return 0, ErrStorageReadFailed
	}
	return count, nil
}
