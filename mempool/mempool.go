// Grounded on network/pseudo_p2p.go's txPool: a map[string]core.Transaction
// guarded only by single-goroutine access. This version makes the map a
// concurrency-safe collection (spec §4.8), since the orchestrator now runs
// a real accept loop spawning one goroutine per inbound connection.
package mempool

import (
	"sync"

	"lightchain/core"
)

// Mempool is a thread-safe collection of pending, unconfirmed transactions.
type Mempool struct {
	mu  sync.RWMutex
	txs map[string]*core.Transaction
}

// New returns an empty Mempool.
func New() *Mempool {
	return &Mempool{txs: make(map[string]*core.Transaction)}
}

// Add inserts tx, rejecting an exact duplicate id.
func (m *Mempool) Add(tx *core.Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.txs[tx.ID]; ok {
		return &core.ErrTransactionAlreadyInMempool{TxID: tx.ID}
	}
	m.txs[tx.ID] = tx
	return nil
}

// Remove evicts txID, a no-op if absent.
func (m *Mempool) Remove(txID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.txs, txID)
}

// Contains reports whether txID is pending.
func (m *Mempool) Contains(txID string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.txs[txID]
	return ok
}

// Get returns the pending transaction with txID, if any.
func (m *Mempool) Get(txID string) (*core.Transaction, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	tx, ok := m.txs[txID]
	return tx, ok
}

// GetAll returns every pending transaction, in unspecified order.
func (m *Mempool) GetAll() []*core.Transaction {
	m.mu.RLock()
	defer m.mu.RUnlock()
	all := make([]*core.Transaction, 0, len(m.txs))
	for _, tx := range m.txs {
		all = append(all, tx)
	}
	return all
}

// Len returns the number of pending transactions.
func (m *Mempool) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.txs)
}
