// Transaction construction, signing, and verification. Inputs are signed
// one at a time against a trimmed copy with the referenced output's locking
// hash substituted in, using secp256k1 Schnorr (lightchain/crypto). Id and
// prev-tx-id fields are canonical hex strings (spec §3); a coinbase input's
// signature field carries a random 16-byte nonce instead of text.
package core

import (
	"bytes"
	"encoding/gob"
	"encoding/hex"
	"fmt"

	"github.com/davecgh/go-spew/spew"
	"github.com/google/uuid"

	"lightchain/crypto"
)

// Subsidy is the fixed coinbase reward (spec glossary).
const Subsidy = int64(10)

// TXInput is one input of a Transaction (spec §3).
type TXInput struct {
	PrevTxID  string // hex-encoded id of the transaction holding the spent output
	Vout      int
	Signature []byte
	PubKey    []byte
}

// IsCoinbase reports whether this input is the distinguished coinbase input:
// empty PrevTxID, empty PubKey, vout sentinel -1.
func (in TXInput) IsCoinbase() bool {
	return in.PrevTxID == "" && len(in.PubKey) == 0 && in.Vout == -1
}

// UsesKey reports whether in was authorized by pubKeyHash.
func (in TXInput) UsesKey(pubKeyHash []byte) bool {
	return bytes.Equal(crypto.PubKeyHash(in.PubKey), pubKeyHash)
}

// TXOutput is one output of a Transaction (spec §3). InMempool is a soft
// lock maintained by the UTXO index; it is deliberately excluded from the
// hashed serialization used for the transaction id.
type TXOutput struct {
	Value      int64
	PubKeyHash []byte
	InMempool  bool
}

// NewTXOutput locks value to the given address.
func NewTXOutput(value int64, address string) (TXOutput, error) {
	pubKeyHash, err := crypto.DecodeAddress(address)
	if err != nil {
		return TXOutput{}, ErrInvalidAddress
	}
	return TXOutput{Value: value, PubKeyHash: pubKeyHash}, nil
}

// IsLockedWithKey reports whether out can be spent by pubKeyHash.
func (out TXOutput) IsLockedWithKey(pubKeyHash []byte) bool {
	return bytes.Equal(out.PubKeyHash, pubKeyHash)
}

// Transaction is a set of inputs and outputs identified by a content hash.
type Transaction struct {
	ID   string
	Vin  []TXInput
	Vout []TXOutput
}

// IsCoinbase reports whether tx is a coinbase transaction: exactly one input
// and that input is the coinbase sentinel (spec §3).
func (tx *Transaction) IsCoinbase() bool {
	return len(tx.Vin) == 1 && tx.Vin[0].IsCoinbase()
}

// gobEncode is the canonical structural serialization used on the wire, in
// the chain store, and as the hash input (spec §6).
func gobEncode(v interface{}) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Serialize returns tx's canonical byte encoding.
func (tx Transaction) Serialize() ([]byte, error) {
	return gobEncode(tx)
}

// DeserializeTransaction is the inverse of Serialize.
func DeserializeTransaction(data []byte) (*Transaction, error) {
	var tx Transaction
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&tx); err != nil {
		return nil, ErrTransactionMalformed
	}
	return &tx, nil
}

// hash computes SHA-256 over tx's canonical serialization with ID zeroed and
// every output's InMempool flag cleared, since neither is part of the
// identity of a transaction (spec §3).
func (tx *Transaction) hash() (string, error) {
	cp := *tx
	cp.ID = ""
	cp.Vout = make([]TXOutput, len(tx.Vout))
	for i, out := range tx.Vout {
		out.InMempool = false
		cp.Vout[i] = out
	}
	data, err := gobEncode(cp)
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(crypto.Sha256(data)), nil
}

// SetID recomputes and stores tx's id.
func (tx *Transaction) SetID() error {
	id, err := tx.hash()
	if err != nil {
		return err
	}
	tx.ID = id
	return nil
}

// String renders a verbose dump of tx for CLI/debug use, backed by go-spew
// instead of a hand-rolled Sprintf join.
func (tx Transaction) String() string {
	return fmt.Sprintf("Transaction %s:\n%s", tx.ID, spew.Sdump(tx))
}

// NewCoinbaseTx builds the single coinbase transaction for a block, paying
// Subsidy to toAddress. The input carries a fresh random 16-byte nonce
// (spec §3) so that two coinbases never collide on id.
func NewCoinbaseTx(toAddress string) (*Transaction, error) {
	nonce := uuid.New()
	in := TXInput{PrevTxID: "", Vout: -1, Signature: nonce[:], PubKey: nil}
	out, err := NewTXOutput(Subsidy, toAddress)
	if err != nil {
		return nil, err
	}
	tx := &Transaction{Vin: []TXInput{in}, Vout: []TXOutput{out}}
	if err := tx.SetID(); err != nil {
		return nil, err
	}
	return tx, nil
}

// SpendableOutputsFinder is satisfied by UTXOIndex; kept as an interface so
// transaction construction can be tested against a fake.
type SpendableOutputsFinder interface {
	FindSpendableOutputs(pubKeyHash []byte, amount int64) (int64, map[string][]int, error)
}

// PrevTxFinder is satisfied by ChainStore; it resolves the transaction that
// produced an output being spent, needed to sign/verify inputs.
type PrevTxFinder interface {
	FindTransaction(txID string) (*Transaction, error)
}

// NewUTXOTx builds a transaction sending amount from the wallet at fromAddr
// to toAddr, sourcing inputs from utxoIndex, and signs it (spec §4.3).
func NewUTXOTx(fromWallet *Wallet, fromAddr, toAddr string, amount int64, utxoIndex SpendableOutputsFinder, chain PrevTxFinder) (*Transaction, error) {
	pubKeyHash := crypto.PubKeyHash(fromWallet.PubKey)
	accumulated, unspent, err := utxoIndex.FindSpendableOutputs(pubKeyHash, amount)
	if err != nil {
		return nil, err
	}
	if accumulated < amount {
		return nil, ErrNotEnoughFunds
	}

	var vin []TXInput
	for txID, outIdxs := range unspent {
		for _, outIdx := range outIdxs {
			vin = append(vin, TXInput{PrevTxID: txID, Vout: outIdx, PubKey: fromWallet.PubKey})
		}
	}

	var vout []TXOutput
	paidOut, err := NewTXOutput(amount, toAddr)
	if err != nil {
		return nil, err
	}
	vout = append(vout, paidOut)
	if accumulated > amount {
		change, err := NewTXOutput(accumulated-amount, fromAddr)
		if err != nil {
			return nil, err
		}
		vout = append(vout, change)
	}

	tx := &Transaction{Vin: vin, Vout: vout}
	if err := tx.SetID(); err != nil {
		return nil, err
	}
	if err := tx.Sign(fromWallet.SecretKey, chain); err != nil {
		return nil, err
	}
	return tx, nil
}

// trimmedCopy builds the per-input signing/verification target described in
// spec §4.3: every input's signature cleared, every input's pub key cleared
// except the one being signed, which instead carries the referenced output's
// pub-key-hash, then the id recomputed.
func (tx *Transaction) trimmedCopy(inputIdx int, lockingHash []byte) (Transaction, error) {
	vin := make([]TXInput, len(tx.Vin))
	for i, in := range tx.Vin {
		vin[i] = TXInput{PrevTxID: in.PrevTxID, Vout: in.Vout}
	}
	vin[inputIdx].PubKey = lockingHash

	vout := make([]TXOutput, len(tx.Vout))
	for i, out := range tx.Vout {
		out.InMempool = false
		vout[i] = out
	}

	cp := Transaction{Vin: vin, Vout: vout}
	id, err := cp.hash()
	if err != nil {
		return Transaction{}, err
	}
	cp.ID = id
	cp.Vin[inputIdx].PubKey = nil
	return cp, nil
}

// Sign signs every non-coinbase input of tx with secretKey, resolving each
// referenced previous transaction through chain (spec §4.3).
func (tx *Transaction) Sign(secretKey []byte, chain PrevTxFinder) error {
	if tx.IsCoinbase() {
		return nil
	}

	for i, in := range tx.Vin {
		prevTx, err := chain.FindTransaction(in.PrevTxID)
		if err != nil {
			return ErrTransactionNotFound
		}
		if in.Vout >= len(prevTx.Vout) {
			return ErrUTXONotFound
		}
		lockingHash := prevTx.Vout[in.Vout].PubKeyHash
		cp, err := tx.trimmedCopy(i, lockingHash)
		if err != nil {
			return err
		}
		digest, err := hex.DecodeString(cp.ID)
		if err != nil {
			return ErrTransactionMalformed
		}
		sig, err := crypto.SchnorrSign(secretKey, digest)
		if err != nil {
			return ErrInvalidSignature
		}
		tx.Vin[i].Signature = sig
	}
	return nil
}

// Verify checks every non-coinbase input's signature against the pub-key
// hash of the output it references, and that input value sums to at least
// output value sums (spec §4.3, invariant I4). A coinbase always verifies.
func (tx *Transaction) Verify(chain PrevTxFinder) (bool, error) {
	if tx.IsCoinbase() {
		return true, nil
	}

	var inputSum, outputSum int64
	for i, in := range tx.Vin {
		prevTx, err := chain.FindTransaction(in.PrevTxID)
		if err != nil {
			return false, ErrTransactionNotFound
		}
		if in.Vout >= len(prevTx.Vout) {
			return false, ErrUTXONotFound
		}
		referenced := prevTx.Vout[in.Vout]
		inputSum += referenced.Value

		cp, err := tx.trimmedCopy(i, referenced.PubKeyHash)
		if err != nil {
			return false, err
		}
		digest, err := hex.DecodeString(cp.ID)
		if err != nil {
			return false, ErrTransactionMalformed
		}
		if !crypto.SchnorrVerify(in.PubKey, in.Signature, digest) {
			return false, nil
		}
	}
	for _, out := range tx.Vout {
		outputSum += out.Value
	}
	return inputSum >= outputSum, nil
}
