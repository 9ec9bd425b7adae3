package registry

import (
	"encoding/hex"
	"strconv"

	"deedmarket/core/types"
	"deedmarket/crypto"
)

const (
	EventTypeAssetRegistered      = "registry.asset_registered"
	EventTypeAssetVerified        = "registry.asset_verified"
	EventTypeAssetListed          = "registry.asset_listed"
	EventTypeAssetDelisted        = "registry.asset_delisted"
	EventTypeOwnershipTransferred = "registry.ownership_transferred"
)

// NewRegisteredEvent returns the canonical payload for a newly registered
// asset.
func NewRegisteredEvent(a *Asset) *types.Event { return newAssetEvent(EventTypeAssetRegistered, a) }

// NewVerifiedEvent returns the payload emitted when the verifier approves an
// asset.
func NewVerifiedEvent(a *Asset) *types.Event { return newAssetEvent(EventTypeAssetVerified, a) }

// NewListedEvent returns the payload emitted when an asset is listed for sale.
func NewListedEvent(a *Asset) *types.Event { return newAssetEvent(EventTypeAssetListed, a) }

// NewDelistedEvent returns the payload emitted when a listing is withdrawn or
// cleared at settlement.
func NewDelistedEvent(a *Asset) *types.Event { return newAssetEvent(EventTypeAssetDelisted, a) }

// NewOwnershipTransferredEvent returns the payload emitted when legal
// ownership moves to a new account.
func NewOwnershipTransferredEvent(a *Asset, previous [20]byte) *types.Event {
	evt := newAssetEvent(EventTypeOwnershipTransferred, a)
	if a != nil {
		evt.Attributes["previousOwner"] = crypto.NewAddress(crypto.DeedPrefix, previous[:]).String()
	}
	return evt
}

func newAssetEvent(eventType string, a *Asset) *types.Event {
	attrs := make(map[string]string)
	if a == nil {
		return &types.Event{Type: eventType, Attributes: attrs}
	}
	attrs["assetId"] = strconv.FormatUint(a.ID, 10)
	attrs["owner"] = crypto.NewAddress(crypto.DeedPrefix, a.Owner[:]).String()
	attrs["verified"] = strconv.FormatBool(a.Verified)
	attrs["listedForSale"] = strconv.FormatBool(a.ListedForSale)
	if a.Price != nil && a.Price.Sign() > 0 {
		attrs["price"] = a.Price.String()
	}
	if a.ListingHash != ([32]byte{}) {
		attrs["listingHash"] = hex.EncodeToString(a.ListingHash[:])
	}
	return &types.Event{Type: eventType, Attributes: attrs}
}
