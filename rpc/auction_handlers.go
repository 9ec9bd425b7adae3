package rpc

import (
	"net/http"
	"time"

	"deedmarket/native/auction"
	"deedmarket/observability"
)

type auctionCreateParams struct {
	AssetID         uint64 `json:"assetId"`
	Seller          string `json:"seller"`
	StartingPrice   string `json:"startingPrice"`
	ReservePrice    string `json:"reservePrice,omitempty"`
	BidIncrement    string `json:"bidIncrement"`
	DurationSeconds int64  `json:"durationSeconds"`
}

type auctionBidParams struct {
	ID     uint64 `json:"id"`
	Bidder string `json:"bidder"`
	Amount string `json:"amount"`
}

type auctionActorParams struct {
	ID     uint64 `json:"id"`
	Caller string `json:"caller"`
}

type auctionIDParams struct {
	ID uint64 `json:"id"`
}

type auctionFeeParams struct {
	Caller string `json:"caller"`
	Bps    uint32 `json:"bps"`
}

type auctionCallerParams struct {
	Caller string `json:"caller"`
}

type auctionJSON struct {
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
	Ended         bool              `json:"ended"`
	Cancelled     bool              `json:"cancelled"`
	CreatedAt     int64             `json:"createdAt"`
}

func auctionToJSON(a *auction.Auction) *auctionJSON {
	if a == nil {
		return nil
	}
	out := &auctionJSON{
		ID:            a.ID,
		AssetID:       a.AssetID,
		Seller:        addressString(a.Seller),
		StartingPrice: amountString(a.StartingPrice),
		ReservePrice:  amountString(a.ReservePrice),
		BidIncrement:  amountString(a.BidIncrement),
		EndTime:       a.EndTime,
		Ended:         a.Ended,
		Cancelled:     a.Cancelled,
		CreatedAt:     a.CreatedAt,
	}
	if a.HasBid() {
		out.CurrentBid = amountString(a.CurrentBid)
		out.CurrentBidder = addressString(a.CurrentBidder)
	}
	if len(a.Withdrawable) > 0 {
		out.Withdrawable = make(map[string]string, len(a.Withdrawable))
		for addr, amount := range a.Withdrawable {
			out.Withdrawable[addressString(addr)] = amountString(amount)
		}
	}
	return out
}

func (s *Server) handleAuctionCreate(_ *http.Request, req *RPCRequest) (interface{}, error) {
	var params auctionCreateParams
	if err := singleParam(req, &params); err != nil {
		return nil, err
	}
	seller, err := parseBech32Address(params.Seller)
	if err != nil {
		return nil, err
	}
	startingPrice, err := parsePositiveBigInt(params.StartingPrice)
	if err != nil {
		return nil, err
	}
	bidIncrement, err := parsePositiveBigInt(params.BidIncrement)
	if err != nil {
		return nil, err
	}
	reservePrice := startingPrice
	if params.ReservePrice != "" {
		reservePrice, err = parsePositiveBigInt(params.ReservePrice)
		if err != nil {
			return nil, err
		}
	}
	duration := time.Duration(params.DurationSeconds) * time.Second
	created, err := s.auction.CreateAuction(params.AssetID, seller, startingPrice, reservePrice, bidIncrement, duration)
	if err != nil {
		return nil, err
	}
	return auctionToJSON(created), nil
}

func (s *Server) handleAuctionPlaceBid(_ *http.Request, req *RPCRequest) (interface{}, error) {
	var params auctionBidParams
	if err := singleParam(req, &params); err != nil {
		return nil, err
	}
	bidder, err := parseBech32Address(params.Bidder)
	if err != nil {
		return nil, err
	}
	amount, err := parsePositiveBigInt(params.Amount)
	if err != nil {
		return nil, err
	}
	if err := s.auction.PlaceBid(params.ID, bidder, amount); err != nil {
		return nil, err
	}
	observability.Metrics().BidPlaced()
	current, err := s.auction.Get(params.ID)
	if err != nil {
		return nil, err
	}
	return auctionToJSON(current), nil
}

func (s *Server) handleAuctionEnd(_ *http.Request, req *RPCRequest) (interface{}, error) {
	var params auctionIDParams
	if err := singleParam(req, &params); err != nil {
		return nil, err
	}
	if err := s.auction.EndAuction(params.ID); err != nil {
		return nil, err
	}
	ended, err := s.auction.Get(params.ID)
	if err != nil {
		return nil, err
	}
	outcome := "sold"
	if !ended.HasBid() {
		outcome = "reserve_not_met"
	}
	observability.Metrics().AuctionEnded(outcome)
	return auctionToJSON(ended), nil
}

func (s *Server) handleAuctionCancel(_ *http.Request, req *RPCRequest) (interface{}, error) {
	var params auctionActorParams
	if err := singleParam(req, &params); err != nil {
		return nil, err
	}
	caller, err := parseBech32Address(params.Caller)
	if err != nil {
		return nil, err
	}
	if err := s.auction.CancelAuction(params.ID, caller); err != nil {
		return nil, err
	}
	cancelled, err := s.auction.Get(params.ID)
	if err != nil {
		return nil, err
	}
	return auctionToJSON(cancelled), nil
}

func (s *Server) handleAuctionWithdrawBid(_ *http.Request, req *RPCRequest) (interface{}, error) {
	var params auctionActorParams
	if err := singleParam(req, &params); err != nil {
		return nil, err
	}
	caller, err := parseBech32Address(params.Caller)
	if err != nil {
		return nil, err
	}
	amount, err := s.auction.WithdrawBid(params.ID, caller)
	if err != nil {
		return nil, err
	}
	return map[string]string{"withdrawn": amountString(amount)}, nil
}

func (s *Server) handleAuctionGet(_ *http.Request, req *RPCRequest) (interface{}, error) {
	var params auctionIDParams
	if err := singleParam(req, &params); err != nil {
		return nil, err
	}
	found, err := s.auction.Get(params.ID)
	if err != nil {
		return nil, err
	}
	return auctionToJSON(found), nil
}

func (s *Server) handleAuctionList(_ *http.Request, req *RPCRequest) (interface{}, error) {
	all, err := s.auction.List()
	if err != nil {
		return nil, err
	}
	out := make([]*auctionJSON, 0, len(all))
	for _, a := range all {
		out = append(out, auctionToJSON(a))
	}
	return out, nil
}

func (s *Server) handleAuctionFeePool(_ *http.Request, req *RPCRequest) (interface{}, error) {
	pool, err := s.auction.FeePool()
	if err != nil {
		return nil, err
	}
	bps, err := s.auction.PlatformFeeBps()
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{
		"feePool":        amountString(pool),
		"platformFeeBps": bps,
	}, nil
}

func (s *Server) handleAuctionSetPlatformFee(_ *http.Request, req *RPCRequest) (interface{}, error) {
	var params auctionFeeParams
	if err := singleParam(req, &params); err != nil {
		return nil, err
	}
	caller, err := parseBech32Address(params.Caller)
	if err != nil {
		return nil, err
	}
	if err := s.auction.SetPlatformFee(caller, params.Bps); err != nil {
		return nil, err
	}
	return map[string]uint32{"platformFeeBps": params.Bps}, nil
}

func (s *Server) handleAuctionWithdrawFees(_ *http.Request, req *RPCRequest) (interface{}, error) {
	var params auctionCallerParams
	if err := singleParam(req, &params); err != nil {
		return nil, err
	}
	caller, err := parseBech32Address(params.Caller)
	if err != nil {
		return nil, err
	}
	amount, err := s.auction.WithdrawFees(caller)
	if err != nil {
		return nil, err
	}
	return map[string]string{"withdrawn": amountString(amount)}, nil
}
