package registry

import (
	"encoding/binary"
	"math/big"
	"time"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	coreerrors "deedmarket/core/errors"
	"deedmarket/core/events"
	"deedmarket/core/types"
	nativecommon "deedmarket/native/common"
)

const moduleName = "registry"

var (
	errNilState      = coreerrors.E(coreerrors.KindInternal, "registry engine: state not configured")
	errAssetNotFound = coreerrors.E(coreerrors.KindNotFound, "registry engine: asset not found")
)

type engineState interface {
	AssetPut(*Asset) error
	AssetGet(id uint64) (*Asset, bool)
	NextAssetID() (uint64, error)
}

type registryEvent struct {
	evt *types.Event
}

func (e registryEvent) EventType() string {
	if e.evt == nil {
		return ""
	}
	return e.evt.Type
}

func (e registryEvent) Event() *types.Event { return e.evt }

// Engine tracks property records: who owns an asset, whether it has passed
// verification, and whether it is currently listed for sale. It serves the
// auction and escrow engines as their point-in-time ownership oracle.
type Engine struct {
	state    engineState
	emitter  events.Emitter
	policy   nativecommon.Policy
	pauses   nativecommon.PauseView
	pauseCtl *nativecommon.PauseRegistry
	nowFn    func() int64
	locks    *nativecommon.IDLocks
}

// NewEngine creates a registry engine with a no-op emitter. Callers can
// override the emitter via SetEmitter.
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

// SetPauses configures the pause switchboard consulted before mutations.
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
	e.emitter.Emit(registryEvent{evt: event})
}

func (e *Engine) now() int64 {
	if e == nil || e.nowFn == nil {
		return time.Now().Unix()
	}
	return e.nowFn()
}

func (e *Engine) loadAsset(id uint64) (*Asset, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	asset, ok := e.state.AssetGet(id)
	if !ok {
		return nil, errAssetNotFound
	}
	return asset, nil
}

// Register creates a new unverified, unlisted property record owned by owner.
func (e *Engine) Register(owner [20]byte, metaHash [32]byte) (*Asset, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return nil, err
	}
	if owner == ([20]byte{}) {
		return nil, coreerrors.E(coreerrors.KindInvalidParams, "registry: owner required")
	}
	id, err := e.state.NextAssetID()
	if err != nil {
		return nil, coreerrors.Wrap(coreerrors.KindInternal, err, "registry: allocate asset id")
	}
	asset := &Asset{
		ID:        id,
		Owner:     owner,
		MetaHash:  metaHash,
		Price:     big.NewInt(0),
		CreatedAt: e.now(),
	}
	if err := e.state.AssetPut(asset); err != nil {
		return nil, coreerrors.Wrap(coreerrors.KindInternal, err, "registry: store asset")
	}
	e.emit(NewRegisteredEvent(asset))
	return asset.Clone(), nil
}

// Verify marks the asset as verified. Only the configured verifier may call.
func (e *Engine) Verify(id uint64, caller [20]byte) error {
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	if !e.policy.IsVerifier(caller) {
		return coreerrors.E(coreerrors.KindUnauthorized, "registry: verifier role required")
	}
	unlock := e.locks.Lock(id)
	defer unlock()
	asset, err := e.loadAsset(id)
	if err != nil {
		return err
	}
	if asset.Verified {
		return nil
	}
	asset.Verified = true
	if err := e.state.AssetPut(asset); err != nil {
		return coreerrors.Wrap(coreerrors.KindInternal, err, "registry: store asset")
	}
	e.emit(NewVerifiedEvent(asset))
	return nil
}

// SetListed lists the asset for sale at the given price. Only the owner of a
// verified asset may list it.
func (e *Engine) SetListed(id uint64, caller [20]byte, price *big.Int) error {
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	if price == nil || price.Sign() <= 0 {
		return coreerrors.E(coreerrors.KindInvalidParams, "registry: listing price must be positive")
	}
	unlock := e.locks.Lock(id)
	defer unlock()
	asset, err := e.loadAsset(id)
	if err != nil {
		return err
	}
	if asset.Owner != caller {
		return coreerrors.E(coreerrors.KindUnauthorized, "registry: not the property owner")
	}
	if !asset.Verified {
		return coreerrors.E(coreerrors.KindInvalidState, "registry: asset not verified")
	}
	asset.ListedForSale = true
	asset.Price = new(big.Int).Set(price)
	asset.ListingHash = listingHash(asset)
	if err := e.state.AssetPut(asset); err != nil {
		return coreerrors.Wrap(coreerrors.KindInternal, err, "registry: store asset")
	}
	e.emit(NewListedEvent(asset))
	return nil
}

// Delist removes the asset from sale. Only the owner may call.
func (e *Engine) Delist(id uint64, caller [20]byte) error {
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	unlock := e.locks.Lock(id)
	defer unlock()
	asset, err := e.loadAsset(id)
	if err != nil {
		return err
	}
	if asset.Owner != caller {
		return coreerrors.E(coreerrors.KindUnauthorized, "registry: not the property owner")
	}
	if !asset.ListedForSale {
		return nil
	}
	asset.ListedForSale = false
	if err := e.state.AssetPut(asset); err != nil {
		return coreerrors.Wrap(coreerrors.KindInternal, err, "registry: store asset")
	}
	e.emit(NewDelistedEvent(asset))
	return nil
}

// TransferOwnership reassigns the asset to newOwner. It is invoked by the
// settlement paths of the auction and escrow engines, never directly from the
// RPC surface.
func (e *Engine) TransferOwnership(id uint64, newOwner [20]byte) error {
	if newOwner == ([20]byte{}) {
		return coreerrors.E(coreerrors.KindInvalidParams, "registry: new owner required")
	}
	unlock := e.locks.Lock(id)
	defer unlock()
	asset, err := e.loadAsset(id)
	if err != nil {
		return err
	}
	previous := asset.Owner
	asset.Owner = newOwner
	if err := e.state.AssetPut(asset); err != nil {
		return coreerrors.Wrap(coreerrors.KindInternal, err, "registry: store asset")
	}
	e.emit(NewOwnershipTransferredEvent(asset, previous))
	return nil
}

// SetListedForSale flips the for-sale flag without touching the price. Used
// by the engines to clear the listing once a sale settles.
func (e *Engine) SetListedForSale(id uint64, listed bool) error {
	unlock := e.locks.Lock(id)
	defer unlock()
	asset, err := e.loadAsset(id)
	if err != nil {
		return err
	}
	if asset.ListedForSale == listed {
		return nil
	}
	asset.ListedForSale = listed
	if err := e.state.AssetPut(asset); err != nil {
		return coreerrors.Wrap(coreerrors.KindInternal, err, "registry: store asset")
	}
	if !listed {
		e.emit(NewDelistedEvent(asset))
	} else {
		e.emit(NewListedEvent(asset))
	}
	return nil
}

// Get returns a copy of the asset record.
func (e *Engine) Get(id uint64) (*Asset, error) {
	asset, err := e.loadAsset(id)
	if err != nil {
		return nil, err
	}
	return asset.Clone(), nil
}

// OwnerOf returns the current legal owner of the asset.
func (e *Engine) OwnerOf(id uint64) ([20]byte, error) {
	asset, err := e.loadAsset(id)
	if err != nil {
		return [20]byte{}, err
	}
	return asset.Owner, nil
}

// IsOwner reports whether addr currently owns the asset.
func (e *Engine) IsOwner(id uint64, addr [20]byte) (bool, error) {
	asset, err := e.loadAsset(id)
	if err != nil {
		return false, err
	}
	return asset.Owner == addr, nil
}

// IsVerified reports whether the asset has passed verification.
func (e *Engine) IsVerified(id uint64) (bool, error) {
	asset, err := e.loadAsset(id)
	if err != nil {
		return false, err
	}
	return asset.Verified, nil
}

// IsListedForSale reports whether the asset is currently listed.
func (e *Engine) IsListedForSale(id uint64) (bool, error) {
	asset, err := e.loadAsset(id)
	if err != nil {
		return false, err
	}
	return asset.ListedForSale, nil
}

// GetPrice returns the current listing price.
func (e *Engine) GetPrice(id uint64) (*big.Int, error) {
	asset, err := e.loadAsset(id)
	if err != nil {
		return nil, err
	}
	if asset.Price == nil {
		return big.NewInt(0), nil
	}
	return new(big.Int).Set(asset.Price), nil
}

// Pause stops all state-changing registry entry points.
func (e *Engine) Pause(caller [20]byte) error {
	return e.setPaused(caller, true)
}

// Unpause resumes registry operations.
func (e *Engine) Unpause(caller [20]byte) error {
	return e.setPaused(caller, false)
}

func (e *Engine) setPaused(caller [20]byte, paused bool) error {
	if !e.policy.IsAdmin(caller) {
		return coreerrors.E(coreerrors.KindUnauthorized, "registry: administrator role required")
	}
	if e.pauseCtl == nil {
		return coreerrors.E(coreerrors.KindInternal, "registry: pause control not configured")
	}
	e.pauseCtl.SetPaused(moduleName, paused)
	return nil
}

// listingHash commits to the owner, asset and price at listing time. Recorded
// for audit: a later dispute can prove what terms the owner listed under.
func listingHash(asset *Asset) [32]byte {
	var idBytes [8]byte
	binary.BigEndian.PutUint64(idBytes[:], asset.ID)
	price := asset.Price
	if price == nil {
		price = big.NewInt(0)
	}
	return ethcrypto.Keccak256Hash(asset.Owner[:], idBytes[:], price.Bytes())
}
