package auction

import (
	"math/big"
	"strconv"

	"deedmarket/core/types"
	"deedmarket/crypto"
)

const (
	EventTypeAuctionCreated   = "auction.created"
	EventTypeBidPlaced        = "auction.bid_placed"
	EventTypeBidWithdrawn     = "auction.bid_withdrawn"
	EventTypeAuctionEnded     = "auction.ended"
	EventTypeAuctionCancelled = "auction.cancelled"
	EventTypeFeeUpdated       = "auction.fee_updated"
	EventTypeFeesWithdrawn    = "auction.fees_withdrawn"
)

// NewCreatedEvent returns the canonical payload for a newly created auction.
func NewCreatedEvent(a *Auction) *types.Event {
	evt := newAuctionEvent(EventTypeAuctionCreated, a)
	if a != nil {
		evt.Attributes["startingPrice"] = formatAmount(a.StartingPrice)
		evt.Attributes["reservePrice"] = formatAmount(a.ReservePrice)
		evt.Attributes["bidIncrement"] = formatAmount(a.BidIncrement)
	}
	return evt
}

// NewBidPlacedEvent returns the payload emitted for every accepted bid,
// carrying the new leader and the possibly extended end time.
func NewBidPlacedEvent(a *Auction) *types.Event {
	evt := newAuctionEvent(EventTypeBidPlaced, a)
	if a != nil && a.HasBid() {
		evt.Attributes["bidder"] = addressString(a.CurrentBidder)
		evt.Attributes["amount"] = formatAmount(a.CurrentBid)
	}
	return evt
}

// NewBidWithdrawnEvent returns the payload emitted when a withdrawable
// balance is claimed.
func NewBidWithdrawnEvent(a *Auction, account [20]byte, amount *big.Int) *types.Event {
	evt := newAuctionEvent(EventTypeBidWithdrawn, a)
	evt.Attributes["account"] = addressString(account)
	evt.Attributes["amount"] = formatAmount(amount)
	return evt
}

// NewEndedEvent returns the payload for a finalized auction. When sold is
// false the amount carries the best (reserve-unmet) bid if any.
func NewEndedEvent(a *Auction, sold bool, bidder [20]byte, amount, fee *big.Int) *types.Event {
	evt := newAuctionEvent(EventTypeAuctionEnded, a)
	evt.Attributes["sold"] = strconv.FormatBool(sold)
	if bidder != ([20]byte{}) {
		evt.Attributes["winner"] = addressString(bidder)
	}
	if amount != nil {
		evt.Attributes["amount"] = formatAmount(amount)
	}
	if fee != nil {
		evt.Attributes["fee"] = formatAmount(fee)
	}
	return evt
}

// NewCancelledEvent returns the payload for a seller-cancelled auction.
func NewCancelledEvent(a *Auction) *types.Event {
	return newAuctionEvent(EventTypeAuctionCancelled, a)
}

// NewFeeUpdatedEvent returns the payload emitted when the administrator
// changes the platform fee rate.
func NewFeeUpdatedEvent(bps uint32) *types.Event {
	return &types.Event{
		Type: EventTypeFeeUpdated,
		Attributes: map[string]string{
			"feeBps": strconv.FormatUint(uint64(bps), 10),
		},
	}
}

// NewFeesWithdrawnEvent returns the payload emitted when the fee pool is
// drained to the administrator account.
func NewFeesWithdrawnEvent(to [20]byte, amount *big.Int) *types.Event {
	return &types.Event{
		Type: EventTypeFeesWithdrawn,
		Attributes: map[string]string{
			"to":     addressString(to),
			"amount": formatAmount(amount),
		},
	}
}

func newAuctionEvent(eventType string, a *Auction) *types.Event {
	attrs := make(map[string]string)
	if a == nil {
		return &types.Event{Type: eventType, Attributes: attrs}
	}
	attrs["auctionId"] = strconv.FormatUint(a.ID, 10)
	attrs["assetId"] = strconv.FormatUint(a.AssetID, 10)
	attrs["seller"] = addressString(a.Seller)
	attrs["endTime"] = strconv.FormatInt(a.EndTime, 10)
	return &types.Event{Type: eventType, Attributes: attrs}
}

func addressString(addr [20]byte) string {
	return crypto.NewAddress(crypto.DeedPrefix, addr[:]).String()
}

func formatAmount(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}
