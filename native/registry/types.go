package registry

import "math/big"

// Asset is a property record tracked by the registry. The registry entry is
// the source of truth for current legal ownership; engines mutate it only at
// the single moment of finalization.
type Asset struct {
	ID            uint64
	Owner         [20]byte
	Verified      bool
	ListedForSale bool
	Price         *big.Int
	MetaHash      [32]byte
	ListingHash   [32]byte
	CreatedAt     int64
}

// Clone returns a deep copy so callers can safely mutate the result without
// affecting the stored instance.
func (a *Asset) Clone() *Asset {
	if a == nil {
		return nil
	}
	clone := *a
	if a.Price != nil {
		clone.Price = new(big.Int).Set(a.Price)
	} else {
		clone.Price = big.NewInt(0)
	}
	return &clone
}
