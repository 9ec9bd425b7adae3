package auction

import "math/big"

// Auction is the full record of one ascending-price auction over a single
// asset. CurrentBid is nil and CurrentBidder the zero address until a first
// bid lands. Withdrawable tracks funds owed to accounts that no longer hold
// the top bid; they are claimed through WithdrawBid, never pushed back.
type Auction struct {
	ID            uint64
	AssetID       uint64
	Seller        [20]byte
	StartingPrice *big.Int
	ReservePrice  *big.Int
	BidIncrement  *big.Int
	EndTime       int64
	CurrentBid    *big.Int
	CurrentBidder [20]byte
	Withdrawable  map[[20]byte]*big.Int
	Bidders       [][20]byte
	Ended         bool
	Cancelled     bool
	CreatedAt     int64
}

// HasBid reports whether any bid is currently standing.
func (a *Auction) HasBid() bool {
	return a != nil && a.CurrentBidder != ([20]byte{})
}

// Finalized reports whether the auction reached a terminal flag. At most one
// of Ended/Cancelled is ever true.
func (a *Auction) Finalized() bool {
	return a != nil && (a.Ended || a.Cancelled)
}

// Clone returns a deep copy of the auction so callers can safely mutate the
// copy without affecting the stored instance.
func (a *Auction) Clone() *Auction {
	if a == nil {
		return nil
	}
	clone := *a
	clone.StartingPrice = cloneAmount(a.StartingPrice)
	clone.ReservePrice = cloneAmount(a.ReservePrice)
	clone.BidIncrement = cloneAmount(a.BidIncrement)
	if a.CurrentBid != nil {
		clone.CurrentBid = new(big.Int).Set(a.CurrentBid)
	}
	clone.Withdrawable = make(map[[20]byte]*big.Int, len(a.Withdrawable))
	for addr, amt := range a.Withdrawable {
		clone.Withdrawable[addr] = cloneAmount(amt)
	}
	clone.Bidders = append([][20]byte(nil), a.Bidders...)
	return &clone
}

func cloneAmount(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}
