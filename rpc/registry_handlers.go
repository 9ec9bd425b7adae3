package rpc

import (
	"encoding/hex"
	"net/http"
	"strings"

	coreerrors "deedmarket/core/errors"
	"deedmarket/native/registry"
)

type registryRegisterParams struct {
	Owner    string `json:"owner"`
	MetaHash string `json:"metaHash"`
}

type registryActorParams struct {
	ID     uint64 `json:"id"`
	Caller string `json:"caller"`
}

type registrySetListedParams struct {
	ID     uint64 `json:"id"`
	Caller string `json:"caller"`
	Price  string `json:"price"`
}

type registryIDParams struct {
	ID uint64 `json:"id"`
}

type assetJSON struct {
	ID            uint64 `json:"id"`
	Owner         string `json:"owner"`
	Verified      bool   `json:"verified"`
	ListedForSale bool   `json:"listedForSale"`
	Price         string `json:"price"`
	MetaHash      string `json:"metaHash"`
	ListingHash   string `json:"listingHash,omitempty"`
	CreatedAt     int64  `json:"createdAt"`
}

func assetToJSON(asset *registry.Asset) *assetJSON {
	if asset == nil {
		return nil
	}
	out := &assetJSON{
		ID:            asset.ID,
		Owner:         addressString(asset.Owner),
		Verified:      asset.Verified,
		ListedForSale: asset.ListedForSale,
		Price:         amountString(asset.Price),
		MetaHash:      hex.EncodeToString(asset.MetaHash[:]),
		CreatedAt:     asset.CreatedAt,
	}
	if asset.ListingHash != ([32]byte{}) {
		out.ListingHash = hex.EncodeToString(asset.ListingHash[:])
	}
	return out
}

func parseHash32(value string) ([32]byte, error) {
	var hash [32]byte
	trimmed := strings.TrimPrefix(strings.TrimSpace(value), "0x")
	raw, err := hex.DecodeString(trimmed)
	if err != nil {
		return hash, coreerrors.Wrap(coreerrors.KindInvalidParams, err, "invalid hash encoding")
	}
	if len(raw) != 32 {
		return hash, coreerrors.E(coreerrors.KindInvalidParams, "hash must be 32 bytes, got %d", len(raw))
	}
	copy(hash[:], raw)
	return hash, nil
}

func (s *Server) handleRegistryRegister(_ *http.Request, req *RPCRequest) (interface{}, error) {
	var params registryRegisterParams
	if err := singleParam(req, &params); err != nil {
		return nil, err
	}
	owner, err := parseBech32Address(params.Owner)
	if err != nil {
		return nil, err
	}
	metaHash, err := parseHash32(params.MetaHash)
	if err != nil {
		return nil, err
	}
	asset, err := s.registry.Register(owner, metaHash)
	if err != nil {
		return nil, err
	}
	return assetToJSON(asset), nil
}

func (s *Server) handleRegistryVerify(_ *http.Request, req *RPCRequest) (interface{}, error) {
	var params registryActorParams
	if err := singleParam(req, &params); err != nil {
		return nil, err
	}
	caller, err := parseBech32Address(params.Caller)
	if err != nil {
		return nil, err
	}
	if err := s.registry.Verify(params.ID, caller); err != nil {
		return nil, err
	}
	asset, err := s.registry.Get(params.ID)
	if err != nil {
		return nil, err
	}
	return assetToJSON(asset), nil
}

func (s *Server) handleRegistrySetListed(_ *http.Request, req *RPCRequest) (interface{}, error) {
	var params registrySetListedParams
	if err := singleParam(req, &params); err != nil {
		return nil, err
	}
	caller, err := parseBech32Address(params.Caller)
	if err != nil {
		return nil, err
	}
	price, err := parsePositiveBigInt(params.Price)
	if err != nil {
		return nil, err
	}
	if err := s.registry.SetListed(params.ID, caller, price); err != nil {
		return nil, err
	}
	asset, err := s.registry.Get(params.ID)
	if err != nil {
		return nil, err
	}
	return assetToJSON(asset), nil
}

func (s *Server) handleRegistryDelist(_ *http.Request, req *RPCRequest) (interface{}, error) {
	var params registryActorParams
	if err := singleParam(req, &params); err != nil {
		return nil, err
	}
	caller, err := parseBech32Address(params.Caller)
	if err != nil {
		return nil, err
	}
	if err := s.registry.Delist(params.ID, caller); err != nil {
		return nil, err
	}
	asset, err := s.registry.Get(params.ID)
	if err != nil {
		return nil, err
	}
	return assetToJSON(asset), nil
}

func (s *Server) handleRegistryGet(_ *http.Request, req *RPCRequest) (interface{}, error) {
	var params registryIDParams
	if err := singleParam(req, &params); err != nil {
		return nil, err
	}
	asset, err := s.registry.Get(params.ID)
	if err != nil {
		return nil, err
	}
	return assetToJSON(asset), nil
}
