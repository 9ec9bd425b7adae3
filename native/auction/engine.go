package auction

import (
	"math/big"
	"strconv"
	"sync"
	"time"

	coreerrors "deedmarket/core/errors"
	"deedmarket/core/events"
	"deedmarket/core/types"
	nativecommon "deedmarket/native/common"
)

const moduleName = "auction"

// Policy constants. Durations outside the allowed band are rejected at
// creation; a bid inside the closing window pushes the end time out so at
// least AntiSnipeWindow remains.
const (
	MinDuration     = time.Hour
	MaxDuration     = 30 * 24 * time.Hour
	AntiSnipeWindow = 10 * time.Minute

	// MaxPlatformFeeBps caps the configurable platform fee at 10%.
	MaxPlatformFeeBps uint32 = 1000
	// DefaultPlatformFeeBps applies until an administrator sets a fee.
	DefaultPlatformFeeBps uint32 = 250

	feeDenominator = 10_000
)

const (
	paramFeeBps  = "auction/platformFeeBps"
	paramFeePool = "auction/feePool"
)

var (
	errNilState        = coreerrors.E(coreerrors.KindInternal, "auction engine: state not configured")
	errNilLedger       = coreerrors.E(coreerrors.KindInternal, "auction engine: ledger not configured")
	errNilRegistry     = coreerrors.E(coreerrors.KindInternal, "auction engine: registry not configured")
	errAuctionNotFound = coreerrors.E(coreerrors.KindNotFound, "auction engine: auction not found")
)

type engineState interface {
	AuctionPut(*Auction) error
	AuctionGet(id uint64) (*Auction, bool)
	AuctionIDs() []uint64
	NextAuctionID() (uint64, error)
	ParamPut(key string, value []byte) error
	ParamGet(key string) ([]byte, bool, error)
}

// assetRegistry is the slice of the registry the auction engine consumes.
// Reads are point-in-time, taken once per operation.
type assetRegistry interface {
	IsOwner(assetID uint64, addr [20]byte) (bool, error)
	TransferOwnership(assetID uint64, newOwner [20]byte) error
	SetListedForSale(assetID uint64, listed bool) error
}

// valueLedger moves value between accounts and the custody vault. PayOut is
// atomic: it either fully delivers or fails with no balance change.
type valueLedger interface {
	Custody(from [20]byte, amount *big.Int) error
	PayOut(to [20]byte, amount *big.Int) error
}

type auctionEvent struct {
	evt *types.Event
}

func (e auctionEvent) EventType() string {
	if e.evt == nil {
		return ""
	}
	return e.evt.Type
}

func (e auctionEvent) Event() *types.Event { return e.evt }

// Engine runs the lifecycle of ascending-price auctions: bid accumulation,
// anti-sniping end-time extension, winner/reserve resolution, pull-pattern
// refunds for outbid accounts, and platform fee collection.
type Engine struct {
	state    engineState
	registry assetRegistry
	ledger   valueLedger
	emitter  events.Emitter
	policy   nativecommon.Policy
	pauses   nativecommon.PauseView
	pauseCtl *nativecommon.PauseRegistry
	nowFn    func() int64
	locks    *nativecommon.IDLocks

	// feeMu serializes fee-pool and fee-rate mutations against concurrent
	// EndAuction calls crediting the pool.
	feeMu sync.Mutex
}

// NewEngine creates an auction engine with a no-op emitter. The state backend,
// registry and ledger must be configured before use.
func NewEngine(policy nativecommon.Policy) *Engine {
	return &Engine{
		emitter: events.NoopEmitter{},
		policy:  policy,
		nowFn:   func() int64 { return time.Now().Unix() },
		locks:   nativecommon.NewIDLocks(),
	}
}

// SetState configures the state backend used by the engine.
func (e *Engine) SetState(state engineState) { e.state = state }

// SetRegistry configures the asset registry collaborator.
func (e *Engine) SetRegistry(r assetRegistry) { e.registry = r }

// SetLedger configures the value ledger collaborator.
func (e *Engine) SetLedger(l valueLedger) { e.ledger = l }

// SetPauses configures a read-only pause view consulted before mutations.
func (e *Engine) SetPauses(p nativecommon.PauseView) { e.pauses = p }

// SetPauseControl wires the pause registry so Pause/Unpause can flip the
// module flag. The registry doubles as the pause view.
func (e *Engine) SetPauseControl(r *nativecommon.PauseRegistry) {
	e.pauseCtl = r
	e.pauses = r
}

// SetEmitter configures the event emitter used by the engine. Passing nil
// resets the emitter to a no-op implementation.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

// SetNowFunc overrides the time source used by the engine. Primarily intended
// for tests to provide deterministic timestamps.
func (e *Engine) SetNowFunc(now func() int64) {
	if now == nil {
		e.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	e.nowFn = now
}

func (e *Engine) emit(event *types.Event) {
	if e == nil || e.emitter == nil || event == nil {
		return
	}
	e.emitter.Emit(auctionEvent{evt: event})
}

func (e *Engine) now() int64 {
	if e == nil || e.nowFn == nil {
		return time.Now().Unix()
	}
	return e.nowFn()
}

func (e *Engine) ready() error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if e.ledger == nil {
		return errNilLedger
	}
	if e.registry == nil {
		return errNilRegistry
	}
	return nil
}

func (e *Engine) loadAuction(id uint64) (*Auction, error) {
	auction, ok := e.state.AuctionGet(id)
	if !ok {
		return nil, errAuctionNotFound
	}
	return auction, nil
}

// CreateAuction opens a new auction over assetID owned by seller. Duration is
// clamped to nothing: out-of-band values are rejected outright.
func (e *Engine) CreateAuction(assetID uint64, seller [20]byte, startingPrice, reservePrice, bidIncrement *big.Int, duration time.Duration) (*Auction, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return nil, err
	}
	if startingPrice == nil || startingPrice.Sign() <= 0 {
		return nil, coreerrors.E(coreerrors.KindInvalidParams, "auction: starting price must be positive")
	}
	if reservePrice == nil || reservePrice.Cmp(startingPrice) < 0 {
		return nil, coreerrors.E(coreerrors.KindInvalidParams, "auction: reserve price below starting price")
	}
	if bidIncrement == nil || bidIncrement.Sign() <= 0 {
		return nil, coreerrors.E(coreerrors.KindInvalidParams, "auction: bid increment must be positive")
	}
	if duration < MinDuration || duration > MaxDuration {
		return nil, coreerrors.E(coreerrors.KindInvalidParams, "auction: invalid duration")
	}
	owns, err := e.registry.IsOwner(assetID, seller)
	if err != nil {
		return nil, err
	}
	if !owns {
		return nil, coreerrors.E(coreerrors.KindUnauthorized, "auction: not the property owner")
	}
	id, err := e.state.NextAuctionID()
	if err != nil {
		return nil, coreerrors.Wrap(coreerrors.KindInternal, err, "auction: allocate id")
	}
	now := e.now()
	auction := &Auction{
		ID:            id,
		AssetID:       assetID,
		Seller:        seller,
		StartingPrice: new(big.Int).Set(startingPrice),
		ReservePrice:  new(big.Int).Set(reservePrice),
		BidIncrement:  new(big.Int).Set(bidIncrement),
		EndTime:       now + int64(duration/time.Second),
		Withdrawable:  make(map[[20]byte]*big.Int),
		CreatedAt:     now,
	}
	if err := e.state.AuctionPut(auction); err != nil {
		return nil, coreerrors.Wrap(coreerrors.KindInternal, err, "auction: store auction")
	}
	e.emit(NewCreatedEvent(auction))
	return auction.Clone(), nil
}

// PlaceBid registers a new highest bid. The outbid leader's stake moves into
// their withdrawable balance; it is never pushed back synchronously, so a
// failing refund can never block the new bid.
func (e *Engine) PlaceBid(auctionID uint64, bidder [20]byte, amount *big.Int) error {
	if err := e.ready(); err != nil {
		return err
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	if amount == nil || amount.Sign() <= 0 {
		return coreerrors.E(coreerrors.KindInvalidParams, "auction: bid amount must be positive")
	}
	unlock := e.locks.Lock(auctionID)
	defer unlock()
	auction, err := e.loadAuction(auctionID)
	if err != nil {
		return err
	}
	if auction.Finalized() {
		return coreerrors.E(coreerrors.KindInvalidState, "auction: auction not active")
	}
	now := e.now()
	if now >= auction.EndTime {
		return coreerrors.E(coreerrors.KindInvalidState, "auction: bidding closed")
	}
	if bidder == auction.Seller {
		return coreerrors.E(coreerrors.KindUnauthorized, "auction: seller cannot bid")
	}
	minBid := new(big.Int)
	if auction.HasBid() {
		minBid.Add(auction.CurrentBid, auction.BidIncrement)
	} else {
		minBid.Set(auction.StartingPrice)
	}
	if amount.Cmp(minBid) < 0 {
		return coreerrors.E(coreerrors.KindInsufficientFunds, "auction: bid too low")
	}
	// Take custody before touching the record: a failed custody leaves the
	// auction byte-for-byte unchanged.
	if err := e.ledger.Custody(bidder, amount); err != nil {
		return err
	}
	if auction.HasBid() {
		previous := auction.CurrentBidder
		owed := auction.Withdrawable[previous]
		if owed == nil {
			owed = big.NewInt(0)
		}
		auction.Withdrawable[previous] = new(big.Int).Add(owed, auction.CurrentBid)
	}
	auction.CurrentBid = new(big.Int).Set(amount)
	auction.CurrentBidder = bidder
	if !containsBidder(auction.Bidders, bidder) {
		auction.Bidders = append(auction.Bidders, bidder)
	}
	if auction.EndTime-now <= int64(AntiSnipeWindow/time.Second) {
		auction.EndTime = now + int64(AntiSnipeWindow/time.Second)
	}
	if err := e.state.AuctionPut(auction); err != nil {
		return coreerrors.Wrap(coreerrors.KindInternal, err, "auction: store auction")
	}
	e.emit(NewBidPlacedEvent(auction))
	return nil
}

// EndAuction finalizes an expired auction. Anyone may invoke it; nothing fires
// automatically at the end time. The record is marked ended before any value
// moves, so a repeat call or a hostile re-entrant ledger observes a finalized
// auction and fails.
func (e *Engine) EndAuction(auctionID uint64) error {
	if err := e.ready(); err != nil {
		return err
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	unlock := e.locks.Lock(auctionID)
	defer unlock()
	auction, err := e.loadAuction(auctionID)
	if err != nil {
		return err
	}
	if auction.Finalized() {
		return coreerrors.E(coreerrors.KindInvalidState, "auction: already finalized")
	}
	if e.now() < auction.EndTime {
		return coreerrors.E(coreerrors.KindInvalidState, "auction: auction still active")
	}

	if !auction.HasBid() || auction.CurrentBid.Cmp(auction.ReservePrice) < 0 {
		// Reserve not met (or no bids): the leader's stake becomes
		// withdrawable and no value reaches the seller.
		winnerless := auction.Clone()
		if auction.HasBid() {
			bidder := auction.CurrentBidder
			owed := auction.Withdrawable[bidder]
			if owed == nil {
				owed = big.NewInt(0)
			}
			auction.Withdrawable[bidder] = new(big.Int).Add(owed, auction.CurrentBid)
			auction.CurrentBid = nil
			auction.CurrentBidder = [20]byte{}
		}
		auction.Ended = true
		if err := e.state.AuctionPut(auction); err != nil {
			return coreerrors.Wrap(coreerrors.KindInternal, err, "auction: store auction")
		}
		e.emit(NewEndedEvent(auction, false, winnerless.CurrentBidder, winnerless.CurrentBid, nil))
		return nil
	}

	winner := auction.CurrentBidder
	winningBid := new(big.Int).Set(auction.CurrentBid)
	feeBps, err := e.platformFeeBps()
	if err != nil {
		return err
	}
	fee := new(big.Int).Mul(winningBid, new(big.Int).SetUint64(uint64(feeBps)))
	fee.Div(fee, big.NewInt(feeDenominator))
	proceeds := new(big.Int).Sub(winningBid, fee)

	auction.Ended = true
	if err := e.state.AuctionPut(auction); err != nil {
		return coreerrors.Wrap(coreerrors.KindInternal, err, "auction: store auction")
	}

	if fee.Sign() > 0 {
		if err := e.creditFeePool(fee); err != nil {
			return err
		}
	}
	if proceeds.Sign() > 0 {
		if err := e.ledger.PayOut(auction.Seller, proceeds); err != nil {
			// The record is already final. Park the proceeds in the
			// seller's withdrawable balance so they stay claimable.
			owed := auction.Withdrawable[auction.Seller]
			if owed == nil {
				owed = big.NewInt(0)
			}
			auction.Withdrawable[auction.Seller] = new(big.Int).Add(owed, proceeds)
			if putErr := e.state.AuctionPut(auction); putErr != nil {
				return coreerrors.Wrap(coreerrors.KindInternal, putErr, "auction: store auction")
			}
		}
	}
	if err := e.registry.TransferOwnership(auction.AssetID, winner); err != nil {
		// Funds have already settled and the record is final; a failed
		// handoff leaves ownership with the seller until an operator
		// replays the transfer through the registry.
		return coreerrors.Wrap(coreerrors.KindInternal, err, "auction: transfer ownership")
	}
	if err := e.registry.SetListedForSale(auction.AssetID, false); err != nil {
		return coreerrors.Wrap(coreerrors.KindInternal, err, "auction: clear listing")
	}
	e.emit(NewEndedEvent(auction, true, winner, winningBid, fee))
	return nil
}

// CancelAuction aborts a bid-free auction. Only the seller may cancel.
func (e *Engine) CancelAuction(auctionID uint64, caller [20]byte) error {
	if err := e.ready(); err != nil {
		return err
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	unlock := e.locks.Lock(auctionID)
	defer unlock()
	auction, err := e.loadAuction(auctionID)
	if err != nil {
		return err
	}
	if caller != auction.Seller {
		return coreerrors.E(coreerrors.KindUnauthorized, "auction: only the seller may cancel")
	}
	if auction.Finalized() {
		return coreerrors.E(coreerrors.KindInvalidState, "auction: already finalized")
	}
	if auction.HasBid() || len(auction.Bidders) > 0 {
		return coreerrors.E(coreerrors.KindInvalidState, "auction: cannot cancel auction with bids")
	}
	auction.Cancelled = true
	if err := e.state.AuctionPut(auction); err != nil {
		return coreerrors.Wrap(coreerrors.KindInternal, err, "auction: store auction")
	}
	e.emit(NewCancelledEvent(auction))
	return nil
}

// WithdrawBid claims the caller's withdrawable balance. The balance is zeroed
// and persisted before the ledger transfer is attempted: a hostile ledger
// re-entering WithdrawBid mid-transfer finds nothing left to claim.
func (e *Engine) WithdrawBid(auctionID uint64, caller [20]byte) (*big.Int, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return nil, err
	}
	unlock := e.locks.Lock(auctionID)
	defer unlock()
	auction, err := e.loadAuction(auctionID)
	if err != nil {
		return nil, err
	}
	if !auction.Finalized() && auction.CurrentBidder == caller {
		return nil, coreerrors.E(coreerrors.KindInvalidState, "auction: cannot withdraw current winning bid")
	}
	owed := auction.Withdrawable[caller]
	if owed == nil || owed.Sign() == 0 {
		return nil, coreerrors.E(coreerrors.KindInvalidState, "auction: no bid to withdraw")
	}
	amount := new(big.Int).Set(owed)
	delete(auction.Withdrawable, caller)
	if err := e.state.AuctionPut(auction); err != nil {
		return nil, coreerrors.Wrap(coreerrors.KindInternal, err, "auction: store auction")
	}
	if err := e.ledger.PayOut(caller, amount); err != nil {
		// Restore the claim; the transfer moved nothing.
		auction.Withdrawable[caller] = amount
		if putErr := e.state.AuctionPut(auction); putErr != nil {
			return nil, coreerrors.Wrap(coreerrors.KindInternal, putErr, "auction: store auction")
		}
		return nil, err
	}
	e.emit(NewBidWithdrawnEvent(auction, caller, amount))
	return amount, nil
}

// Get returns a copy of the auction record.
func (e *Engine) Get(auctionID uint64) (*Auction, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	auction, err := e.loadAuction(auctionID)
	if err != nil {
		return nil, err
	}
	return auction.Clone(), nil
}

// List returns copies of all auctions in id order.
func (e *Engine) List() ([]*Auction, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	ids := e.state.AuctionIDs()
	out := make([]*Auction, 0, len(ids))
	for _, id := range ids {
		if auction, ok := e.state.AuctionGet(id); ok {
			out = append(out, auction.Clone())
		}
	}
	return out, nil
}

// --- Administration ---

// SetPlatformFee updates the platform fee rate. Administrator-only; values
// above MaxPlatformFeeBps are rejected.
func (e *Engine) SetPlatformFee(caller [20]byte, bps uint32) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if !e.policy.IsAdmin(caller) {
		return coreerrors.E(coreerrors.KindUnauthorized, "auction: administrator role required")
	}
	if bps > MaxPlatformFeeBps {
		return coreerrors.E(coreerrors.KindInvalidParams, "auction: fee above %d bps", MaxPlatformFeeBps)
	}
	e.feeMu.Lock()
	defer e.feeMu.Unlock()
	if err := e.state.ParamPut(paramFeeBps, []byte(strconv.FormatUint(uint64(bps), 10))); err != nil {
		return coreerrors.Wrap(coreerrors.KindInternal, err, "auction: store fee rate")
	}
	e.emit(NewFeeUpdatedEvent(bps))
	return nil
}

// SeedPlatformFee stores the configured fee rate only when none has been
// persisted yet, so a node restart does not revert a rate the administrator
// set at runtime.
func (e *Engine) SeedPlatformFee(caller [20]byte, bps uint32) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if !e.policy.IsAdmin(caller) {
		return coreerrors.E(coreerrors.KindUnauthorized, "auction: administrator role required")
	}
	if bps > MaxPlatformFeeBps {
		return coreerrors.E(coreerrors.KindInvalidParams, "auction: fee above %d bps", MaxPlatformFeeBps)
	}
	e.feeMu.Lock()
	defer e.feeMu.Unlock()
	if _, ok, err := e.state.ParamGet(paramFeeBps); err != nil {
		return coreerrors.Wrap(coreerrors.KindInternal, err, "auction: load fee rate")
	} else if ok {
		return nil
	}
	if err := e.state.ParamPut(paramFeeBps, []byte(strconv.FormatUint(uint64(bps), 10))); err != nil {
		return coreerrors.Wrap(coreerrors.KindInternal, err, "auction: store fee rate")
	}
	e.emit(NewFeeUpdatedEvent(bps))
	return nil
}

// WithdrawFees drains the accumulated fee pool to the administrator account.
func (e *Engine) WithdrawFees(caller [20]byte) (*big.Int, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	if !e.policy.IsAdmin(caller) {
		return nil, coreerrors.E(coreerrors.KindUnauthorized, "auction: administrator role required")
	}
	e.feeMu.Lock()
	defer e.feeMu.Unlock()
	pool, err := e.feePool()
	if err != nil {
		return nil, err
	}
	if pool.Sign() == 0 {
		return nil, coreerrors.E(coreerrors.KindInvalidState, "auction: no fees accrued")
	}
	if err := e.state.ParamPut(paramFeePool, []byte("0")); err != nil {
		return nil, coreerrors.Wrap(coreerrors.KindInternal, err, "auction: store fee pool")
	}
	if err := e.ledger.PayOut(e.policy.Admin, pool); err != nil {
		if putErr := e.state.ParamPut(paramFeePool, []byte(pool.String())); putErr != nil {
			return nil, coreerrors.Wrap(coreerrors.KindInternal, putErr, "auction: store fee pool")
		}
		return nil, err
	}
	e.emit(NewFeesWithdrawnEvent(e.policy.Admin, pool))
	return pool, nil
}

// Pause stops all state-changing auction entry points.
func (e *Engine) Pause(caller [20]byte) error {
	return e.setPaused(caller, true)
}

// Unpause resumes auction operations.
func (e *Engine) Unpause(caller [20]byte) error {
	return e.setPaused(caller, false)
}

func (e *Engine) setPaused(caller [20]byte, paused bool) error {
	if !e.policy.IsAdmin(caller) {
		return coreerrors.E(coreerrors.KindUnauthorized, "auction: administrator role required")
	}
	if e.pauseCtl == nil {
		return coreerrors.E(coreerrors.KindInternal, "auction: pause control not configured")
	}
	e.pauseCtl.SetPaused(moduleName, paused)
	return nil
}

// FeePool reports the current accumulated platform fees.
func (e *Engine) FeePool() (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	e.feeMu.Lock()
	defer e.feeMu.Unlock()
	return e.feePool()
}

// PlatformFeeBps reports the effective fee rate.
func (e *Engine) PlatformFeeBps() (uint32, error) {
	if e == nil || e.state == nil {
		return 0, errNilState
	}
	return e.platformFeeBps()
}

func (e *Engine) platformFeeBps() (uint32, error) {
	raw, ok, err := e.state.ParamGet(paramFeeBps)
	if err != nil {
		return 0, coreerrors.Wrap(coreerrors.KindInternal, err, "auction: load fee rate")
	}
	if !ok {
		return DefaultPlatformFeeBps, nil
	}
	bps, err := strconv.ParseUint(string(raw), 10, 32)
	if err != nil {
		return 0, coreerrors.Wrap(coreerrors.KindInternal, err, "auction: parse fee rate")
	}
	return uint32(bps), nil
}

func (e *Engine) feePool() (*big.Int, error) {
	raw, ok, err := e.state.ParamGet(paramFeePool)
	if err != nil {
		return nil, coreerrors.Wrap(coreerrors.KindInternal, err, "auction: load fee pool")
	}
	if !ok {
		return big.NewInt(0), nil
	}
	pool, valid := new(big.Int).SetString(string(raw), 10)
	if !valid {
		return nil, coreerrors.E(coreerrors.KindInternal, "auction: corrupt fee pool value")
	}
	return pool, nil
}

func (e *Engine) creditFeePool(fee *big.Int) error {
	e.feeMu.Lock()
	defer e.feeMu.Unlock()
	pool, err := e.feePool()
	if err != nil {
		return err
	}
	pool.Add(pool, fee)
	if err := e.state.ParamPut(paramFeePool, []byte(pool.String())); err != nil {
		return coreerrors.Wrap(coreerrors.KindInternal, err, "auction: store fee pool")
	}
	return nil
}

func containsBidder(bidders [][20]byte, addr [20]byte) bool {
	for _, b := range bidders {
		if b == addr {
			return true
		}
	}
	return false
}
