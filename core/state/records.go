package state

import (
	"encoding/hex"
	"fmt"
	"math/big"

	"deedmarket/native/auction"
	"deedmarket/native/escrow"
	"deedmarket/native/registry"
)

// Stored record forms. Addresses and hashes are hex strings and amounts
// decimal strings so the persisted JSON stays greppable during incident
// review.

type storedAsset struct {
	ID            uint64 `json:"id"`
	Owner         string `json:"owner"`
	Verified      bool   `json:"verified"`
	ListedForSale bool   `json:"listedForSale"`
	Price         string `json:"price"`
	MetaHash      string `json:"metaHash"`
	ListingHash   string `json:"listingHash"`
	CreatedAt     int64  `json:"createdAt"`
}

type storedAuction struct {
	ID            uint64            `json:"id"`
	AssetID       uint64            `json:"assetId"`
	Seller        string            `json:"seller"`
	StartingPrice string            `json:"startingPrice"`
	ReservePrice  string            `json:"reservePrice"`
	BidIncrement  string            `json:"bidIncrement"`
	EndTime       int64             `json:"endTime"`
	CurrentBid    string            `json:"currentBid,omitempty"`
	CurrentBidder string            `json:"currentBidder,omitempty"`
	Withdrawable  map[string]string `json:"withdrawable,omitempty"`
	Bidders       []string          `json:"bidders,omitempty"`
	Ended         bool              `json:"ended"`
	Cancelled     bool              `json:"cancelled"`
	CreatedAt     int64             `json:"createdAt"`
}

type storedTransaction struct {
	ID             uint64 `json:"id"`
	AssetID        uint64 `json:"assetId"`
	Seller         string `json:"seller"`
	Buyer          string `json:"buyer"`
	Price          string `json:"price"`
	Status         uint8  `json:"status"`
	Completed      bool   `json:"completed"`
	EscrowedAmount string `json:"escrowedAmount"`
	CancelReason   string `json:"cancelReason,omitempty"`
	CreatedAt      int64  `json:"createdAt"`
	UpdatedAt      int64  `json:"updatedAt"`
}

func encodeAddr(addr [20]byte) string { return hex.EncodeToString(addr[:]) }

func decodeAddr(s string) ([20]byte, error) {
	var addr [20]byte
	raw, err := hex.DecodeString(s)
	if err != nil {
		return addr, err
	}
	if len(raw) != 20 {
		return addr, fmt.Errorf("address must be 20 bytes, got %d", len(raw))
	}
	copy(addr[:], raw)
	return addr, nil
}

func encodeHash(h [32]byte) string { return hex.EncodeToString(h[:]) }

func decodeHash(s string) ([32]byte, error) {
	var h [32]byte
	if s == "" {
		return h, nil
	}
	raw, err := hex.DecodeString(s)
	if err != nil {
		return h, err
	}
	if len(raw) != 32 {
		return h, fmt.Errorf("hash must be 32 bytes, got %d", len(raw))
	}
	copy(h[:], raw)
	return h, nil
}

func encodeAmount(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

func decodeAmount(s string) (*big.Int, error) {
	if s == "" {
		return big.NewInt(0), nil
	}
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("invalid amount %q", s)
	}
	return v, nil
}

func toStoredAsset(a *registry.Asset) *storedAsset {
	return &storedAsset{
		ID:            a.ID,
		Owner:         encodeAddr(a.Owner),
		Verified:      a.Verified,
		ListedForSale: a.ListedForSale,
		Price:         encodeAmount(a.Price),
		MetaHash:      encodeHash(a.MetaHash),
		ListingHash:   encodeHash(a.ListingHash),
		CreatedAt:     a.CreatedAt,
	}
}

func fromStoredAsset(s *storedAsset) (*registry.Asset, error) {
	owner, err := decodeAddr(s.Owner)
	if err != nil {
		return nil, err
	}
	price, err := decodeAmount(s.Price)
	if err != nil {
		return nil, err
	}
	metaHash, err := decodeHash(s.MetaHash)
	if err != nil {
		return nil, err
	}
	listingHash, err := decodeHash(s.ListingHash)
	if err != nil {
		return nil, err
	}
	return &registry.Asset{
		ID:            s.ID,
		Owner:         owner,
		Verified:      s.Verified,
		ListedForSale: s.ListedForSale,
		Price:         price,
		MetaHash:      metaHash,
		ListingHash:   listingHash,
		CreatedAt:     s.CreatedAt,
	}, nil
}

func toStoredAuction(a *auction.Auction) *storedAuction {
	stored := &storedAuction{
		ID:            a.ID,
		AssetID:       a.AssetID,
		Seller:        encodeAddr(a.Seller),
		StartingPrice: encodeAmount(a.StartingPrice),
		ReservePrice:  encodeAmount(a.ReservePrice),
		BidIncrement:  encodeAmount(a.BidIncrement),
		EndTime:       a.EndTime,
		Ended:         a.Ended,
		Cancelled:     a.Cancelled,
		CreatedAt:     a.CreatedAt,
	}
	if a.HasBid() {
		stored.CurrentBid = encodeAmount(a.CurrentBid)
		stored.CurrentBidder = encodeAddr(a.CurrentBidder)
	}
	if len(a.Withdrawable) > 0 {
		stored.Withdrawable = make(map[string]string, len(a.Withdrawable))
		for addr, amt := range a.Withdrawable {
			stored.Withdrawable[encodeAddr(addr)] = encodeAmount(amt)
		}
	}
	for _, bidder := range a.Bidders {
		stored.Bidders = append(stored.Bidders, encodeAddr(bidder))
	}
	return stored
}

func fromStoredAuction(s *storedAuction) (*auction.Auction, error) {
	seller, err := decodeAddr(s.Seller)
	if err != nil {
		return nil, err
	}
	startingPrice, err := decodeAmount(s.StartingPrice)
	if err != nil {
		return nil, err
	}
	reservePrice, err := decodeAmount(s.ReservePrice)
	if err != nil {
		return nil, err
	}
	bidIncrement, err := decodeAmount(s.BidIncrement)
	if err != nil {
		return nil, err
	}
	out := &auction.Auction{
		ID:            s.ID,
		AssetID:       s.AssetID,
		Seller:        seller,
		StartingPrice: startingPrice,
		ReservePrice:  reservePrice,
		BidIncrement:  bidIncrement,
		EndTime:       s.EndTime,
		Withdrawable:  make(map[[20]byte]*big.Int, len(s.Withdrawable)),
		Ended:         s.Ended,
		Cancelled:     s.Cancelled,
		CreatedAt:     s.CreatedAt,
	}
	if s.CurrentBidder != "" {
		bidder, err := decodeAddr(s.CurrentBidder)
		if err != nil {
			return nil, err
		}
		bid, err := decodeAmount(s.CurrentBid)
		if err != nil {
			return nil, err
		}
		out.CurrentBidder = bidder
		out.CurrentBid = bid
	}
	for rawAddr, rawAmt := range s.Withdrawable {
		addr, err := decodeAddr(rawAddr)
		if err != nil {
			return nil, err
		}
		amt, err := decodeAmount(rawAmt)
		if err != nil {
			return nil, err
		}
		out.Withdrawable[addr] = amt
	}
	for _, rawBidder := range s.Bidders {
		bidder, err := decodeAddr(rawBidder)
		if err != nil {
			return nil, err
		}
		out.Bidders = append(out.Bidders, bidder)
	}
	return out, nil
}

func toStoredTransaction(t *escrow.Transaction) *storedTransaction {
	return &storedTransaction{
		ID:             t.ID,
		AssetID:        t.AssetID,
		Seller:         encodeAddr(t.Seller),
		Buyer:          encodeAddr(t.Buyer),
		Price:          encodeAmount(t.Price),
		Status:         uint8(t.Status),
		Completed:      t.Completed,
		EscrowedAmount: encodeAmount(t.EscrowedAmount),
		CancelReason:   t.CancelReason,
		CreatedAt:      t.CreatedAt,
		UpdatedAt:      t.UpdatedAt,
	}
}

func fromStoredTransaction(s *storedTransaction) (*escrow.Transaction, error) {
	seller, err := decodeAddr(s.Seller)
	if err != nil {
		return nil, err
	}
	buyer, err := decodeAddr(s.Buyer)
	if err != nil {
		return nil, err
	}
	price, err := decodeAmount(s.Price)
	if err != nil {
		return nil, err
	}
	escrowed, err := decodeAmount(s.EscrowedAmount)
	if err != nil {
		return nil, err
	}
	status := escrow.Status(s.Status)
	if !status.Valid() {
		return nil, fmt.Errorf("invalid escrow status %d", s.Status)
	}
	return &escrow.Transaction{
		ID:             s.ID,
		AssetID:        s.AssetID,
		Seller:         seller,
		Buyer:          buyer,
		Price:          price,
		Status:         status,
		Completed:      s.Completed,
		EscrowedAmount: escrowed,
		CancelReason:   s.CancelReason,
		CreatedAt:      s.CreatedAt,
		UpdatedAt:      s.UpdatedAt,
	}, nil
}
