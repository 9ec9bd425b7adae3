package state

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"sync"

	"deedmarket/core/types"
	"deedmarket/native/auction"
	"deedmarket/native/escrow"
	"deedmarket/native/registry"
	"deedmarket/storage"
)

// Key prefixes. Entity keys embed a zero-padded decimal id so LevelDB
// iteration yields records in id order.
const (
	prefixAccount     = "account/"
	prefixAsset       = "asset/"
	prefixAuction     = "auction/"
	prefixTransaction = "escrowtx/"
	prefixParam       = "param/"
	prefixSequence    = "seq/"

	seqAsset       = "seq/asset"
	seqAuction     = "seq/auction"
	seqTransaction = "seq/escrowtx"
)

func entityKey(prefix string, id uint64) []byte {
	return []byte(fmt.Sprintf("%s%020d", prefix, id))
}

// Manager is the single state backend shared by the ledger and the engines.
// Entities live in memory for reads; every put is also persisted to the
// underlying key-value store, and the full working set reloads on start.
// Sequential ids are 1-based, monotonic, and never reused.
type Manager struct {
	mu sync.RWMutex
	db storage.Database

	accounts     map[string]*types.Account
	assets       map[uint64]*registry.Asset
	auctions     map[uint64]*auction.Auction
	transactions map[uint64]*escrow.Transaction
	params       map[string][]byte

	nextAssetID       uint64
	nextAuctionID     uint64
	nextTransactionID uint64
}

// NewManager loads all persisted records from db into memory.
func NewManager(db storage.Database) (*Manager, error) {
	m := &Manager{
		db:                db,
		accounts:          make(map[string]*types.Account),
		assets:            make(map[uint64]*registry.Asset),
		auctions:          make(map[uint64]*auction.Auction),
		transactions:      make(map[uint64]*escrow.Transaction),
		params:            make(map[string][]byte),
		nextAssetID:       1,
		nextAuctionID:     1,
		nextTransactionID: 1,
	}
	if err := m.load(); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Manager) load() error {
	if err := m.db.IteratePrefix([]byte(prefixAccount), func(key, value []byte) error {
		var acc types.Account
		if err := json.Unmarshal(value, &acc); err != nil {
			return fmt.Errorf("state: decode account %s: %w", key, err)
		}
		m.accounts[string(key[len(prefixAccount):])] = &acc
		return nil
	}); err != nil {
		return err
	}
	if err := m.db.IteratePrefix([]byte(prefixAsset), func(key, value []byte) error {
		var stored storedAsset
		if err := json.Unmarshal(value, &stored); err != nil {
			return fmt.Errorf("state: decode asset %s: %w", key, err)
		}
		asset, err := fromStoredAsset(&stored)
		if err != nil {
			return fmt.Errorf("state: decode asset %s: %w", key, err)
		}
		m.assets[asset.ID] = asset
		return nil
	}); err != nil {
		return err
	}
	if err := m.db.IteratePrefix([]byte(prefixAuction), func(key, value []byte) error {
		var stored storedAuction
		if err := json.Unmarshal(value, &stored); err != nil {
			return fmt.Errorf("state: decode auction %s: %w", key, err)
		}
		a, err := fromStoredAuction(&stored)
		if err != nil {
			return fmt.Errorf("state: decode auction %s: %w", key, err)
		}
		m.auctions[a.ID] = a
		return nil
	}); err != nil {
		return err
	}
	if err := m.db.IteratePrefix([]byte(prefixTransaction), func(key, value []byte) error {
		var stored storedTransaction
		if err := json.Unmarshal(value, &stored); err != nil {
			return fmt.Errorf("state: decode transaction %s: %w", key, err)
		}
		tx, err := fromStoredTransaction(&stored)
		if err != nil {
			return fmt.Errorf("state: decode transaction %s: %w", key, err)
		}
		m.transactions[tx.ID] = tx
		return nil
	}); err != nil {
		return err
	}
	if err := m.db.IteratePrefix([]byte(prefixParam), func(key, value []byte) error {
		m.params[string(key[len(prefixParam):])] = append([]byte(nil), value...)
		return nil
	}); err != nil {
		return err
	}
	return m.db.IteratePrefix([]byte(prefixSequence), func(key, value []byte) error {
		next, err := strconv.ParseUint(string(value), 10, 64)
		if err != nil {
			return fmt.Errorf("state: decode sequence %s: %w", key, err)
		}
		switch string(key) {
		case seqAsset:
			m.nextAssetID = next
		case seqAuction:
			m.nextAuctionID = next
		case seqTransaction:
			m.nextTransactionID = next
		}
		return nil
	})
}

func (m *Manager) persist(key []byte, record interface{}) error {
	raw, err := json.Marshal(record)
	if err != nil {
		return err
	}
	return m.db.Put(key, raw)
}

func (m *Manager) nextID(counter *uint64, seqKey string) (uint64, error) {
	id := *counter
	*counter = id + 1
	if err := m.db.Put([]byte(seqKey), []byte(strconv.FormatUint(*counter, 10))); err != nil {
		*counter = id
		return 0, err
	}
	return id, nil
}

// --- Accounts (ledger backend) ---

func (m *Manager) GetAccount(addr []byte) (*types.Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	acc, ok := m.accounts[string(addr)]
	if !ok {
		return nil, nil
	}
	return acc.Clone(), nil
}

func (m *Manager) PutAccount(addr []byte, account *types.Account) error {
	if account == nil {
		return fmt.Errorf("state: nil account")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	clone := account.Clone()
	if err := m.persist(append([]byte(prefixAccount), addr...), clone); err != nil {
		return err
	}
	m.accounts[string(addr)] = clone
	return nil
}

// --- Assets (registry backend) ---

func (m *Manager) AssetPut(a *registry.Asset) error {
	if a == nil {
		return fmt.Errorf("state: nil asset")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	clone := a.Clone()
	if err := m.persist(entityKey(prefixAsset, clone.ID), toStoredAsset(clone)); err != nil {
		return err
	}
	m.assets[clone.ID] = clone
	return nil
}

func (m *Manager) AssetGet(id uint64) (*registry.Asset, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.assets[id]
	if !ok {
		return nil, false
	}
	return a.Clone(), true
}

func (m *Manager) AssetIDs() []uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return sortedIDs(m.assets)
}

func (m *Manager) NextAssetID() (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.nextID(&m.nextAssetID, seqAsset)
}

// --- Auctions ---

func (m *Manager) AuctionPut(a *auction.Auction) error {
	if a == nil {
		return fmt.Errorf("state: nil auction")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	clone := a.Clone()
	if err := m.persist(entityKey(prefixAuction, clone.ID), toStoredAuction(clone)); err != nil {
		return err
	}
	m.auctions[clone.ID] = clone
	return nil
}

func (m *Manager) AuctionGet(id uint64) (*auction.Auction, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.auctions[id]
	if !ok {
		return nil, false
	}
	return a.Clone(), true
}

func (m *Manager) AuctionIDs() []uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return sortedIDs(m.auctions)
}

func (m *Manager) NextAuctionID() (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.nextID(&m.nextAuctionID, seqAuction)
}

// --- Escrow transactions ---

func (m *Manager) TransactionPut(t *escrow.Transaction) error {
	if t == nil {
		return fmt.Errorf("state: nil transaction")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	clone := t.Clone()
	if err := m.persist(entityKey(prefixTransaction, clone.ID), toStoredTransaction(clone)); err != nil {
		return err
	}
	m.transactions[clone.ID] = clone
	return nil
}

func (m *Manager) TransactionGet(id uint64) (*escrow.Transaction, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.transactions[id]
	if !ok {
		return nil, false
	}
	return t.Clone(), true
}

func (m *Manager) TransactionIDs() []uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return sortedIDs(m.transactions)
}

func (m *Manager) NextTransactionID() (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.nextID(&m.nextTransactionID, seqTransaction)
}

// --- Generic parameters ---

func (m *Manager) ParamPut(key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := append([]byte(nil), value...)
	if err := m.db.Put(append([]byte(prefixParam), key...), cp); err != nil {
		return err
	}
	m.params[key] = cp
	return nil
}

func (m *Manager) ParamGet(key string) ([]byte, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	value, ok := m.params[key]
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), value...), true, nil
}

func sortedIDs[V any](entities map[uint64]V) []uint64 {
	ids := make([]uint64, 0, len(entities))
	for id := range entities {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
