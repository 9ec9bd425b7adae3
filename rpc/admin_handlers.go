package rpc

import (
	"net/http"

	coreerrors "deedmarket/core/errors"
)

type adminPauseParams struct {
	Caller string `json:"caller"`
	Module string `json:"module"`
}

type bankBalanceParams struct {
	Address string `json:"address"`
}

type eventsPollParams struct {
	After uint64 `json:"after"`
	Limit int    `json:"limit,omitempty"`
}

func (s *Server) handleAdminPause(_ *http.Request, req *RPCRequest) (interface{}, error) {
	return s.setModulePaused(req, true)
}

func (s *Server) handleAdminResume(_ *http.Request, req *RPCRequest) (interface{}, error) {
	return s.setModulePaused(req, false)
}

func (s *Server) setModulePaused(req *RPCRequest, paused bool) (interface{}, error) {
	var params adminPauseParams
	if err := singleParam(req, &params); err != nil {
		return nil, err
	}
	caller, err := parseBech32Address(params.Caller)
	if err != nil {
		return nil, err
	}
	var opErr error
	switch params.Module {
	case "registry":
		if paused {
			opErr = s.registry.Pause(caller)
		} else {
			opErr = s.registry.Unpause(caller)
		}
	case "auction":
		if paused {
			opErr = s.auction.Pause(caller)
		} else {
			opErr = s.auction.Unpause(caller)
		}
	case "escrow":
		if paused {
			opErr = s.escrow.Pause(caller)
		} else {
			opErr = s.escrow.Unpause(caller)
		}
	default:
		return nil, coreerrors.E(coreerrors.KindInvalidParams, "unknown module %q", params.Module)
	}
	if opErr != nil {
		return nil, opErr
	}
	return map[string]interface{}{"module": params.Module, "paused": paused}, nil
}

func (s *Server) handleBankGetBalance(_ *http.Request, req *RPCRequest) (interface{}, error) {
	var params bankBalanceParams
	if err := singleParam(req, &params); err != nil {
		return nil, err
	}
	addr, err := parseBech32Address(params.Address)
	if err != nil {
		return nil, err
	}
	balance, err := s.ledger.BalanceOf(addr)
	if err != nil {
		return nil, err
	}
	return map[string]string{
		"address": addressString(addr),
		"balance": amountString(balance),
	}, nil
}

func (s *Server) handleEventsPoll(_ *http.Request, req *RPCRequest) (interface{}, error) {
	params := eventsPollParams{}
	if len(req.Params) > 0 {
		if err := singleParam(req, &params); err != nil {
			return nil, err
		}
	}
	if s.broadcaster == nil {
		return nil, coreerrors.E(coreerrors.KindInternal, "event broadcaster not configured")
	}
	entries := s.broadcaster.After(params.After, params.Limit)
	return entries, nil
}
