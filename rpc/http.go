package rpc

import (
	"bytes"
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	coreerrors "deedmarket/core/errors"
	"deedmarket/core/events"
	"deedmarket/crypto"
	"deedmarket/ledger"
	"deedmarket/native/auction"
	nativecommon "deedmarket/native/common"
	"deedmarket/native/escrow"
	"deedmarket/native/registry"
	"deedmarket/observability"
)

const (
	jsonRPCVersion  = "2.0"
	maxRequestBytes = 1 << 20 // 1 MiB
)

const (
	codeParseError     = -32700
	codeInvalidRequest = -32600
	codeMethodNotFound = -32601
	codeUnauthorized   = -32001
	codeRateLimited    = -32020

	codeInvalidParams     = -32021
	codeNotFound          = -32022
	codeForbidden         = -32023
	codeConflict          = -32024
	codeInternal          = -32025
	codeInsufficientFunds = -32026
	codePaused            = -32027
)

type Server struct {
	registry    *registry.Engine
	auction     *auction.Engine
	escrow      *escrow.Engine
	ledger      *ledger.Ledger
	broadcaster *events.Broadcaster
	pauses      *nativecommon.PauseRegistry
	audit       *AuditStore
	log         *slog.Logger

	authToken string
	limit     rate.Limit
	burst     int

	mu       sync.Mutex
	limiters map[string]*rate.Limiter

	httpServer *http.Server
}

// Options configures the JSON-RPC server surface.
type Options struct {
	AuthToken string
	RateLimit float64
	RateBurst int
	Logger    *slog.Logger
}

func NewServer(
	reg *registry.Engine,
	auc *auction.Engine,
	esc *escrow.Engine,
	led *ledger.Ledger,
	broadcaster *events.Broadcaster,
	pauses *nativecommon.PauseRegistry,
	opts Options,
) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	limit := rate.Limit(opts.RateLimit)
	if limit <= 0 {
		limit = rate.Limit(50)
	}
	burst := opts.RateBurst
	if burst <= 0 {
		burst = 100
	}
	return &Server{
		registry:    reg,
		auction:     auc,
		escrow:      esc,
		ledger:      led,
		broadcaster: broadcaster,
		pauses:      pauses,
		log:         logger,
		authToken:   strings.TrimSpace(opts.AuthToken),
		limit:       limit,
		burst:       burst,
		limiters:    make(map[string]*rate.Limiter),
	}
}

// SetAuditStore attaches the persistent audit log. Without it mutating calls
// are still served but leave no audit trail.
func (s *Server) SetAuditStore(store *AuditStore) {
	s.audit = store
}

// Start serves JSON-RPC on addr until the context is cancelled.
func (s *Server) Start(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handle)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("json-rpc server listening", "addr", addr)
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.httpServer.Shutdown(shutdownCtx)
	case err, ok := <-errCh:
		if ok {
			return err
		}
		return nil
	}
}

type RPCRequest struct {
	JSONRPC string            `json:"jsonrpc"`
	Method  string            `json:"method"`
	Params  []json.RawMessage `json:"params"`
	ID      int               `json:"id"`
}

type RPCResponse struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      interface{} `json:"id"`
	Result  interface{} `json:"result,omitempty"`
	Error   *RPCError   `json:"error,omitempty"`
}

type RPCError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

func writeError(w http.ResponseWriter, status int, id interface{}, code int, message string, data interface{}) {
	if status <= 0 {
		status = http.StatusBadRequest
	}
	if status != http.StatusOK {
		w.WriteHeader(status)
	}
	errObj := &RPCError{Code: code, Message: message}
	if data != nil {
		errObj.Data = data
	}
	resp := RPCResponse{JSONRPC: jsonRPCVersion, ID: id, Error: errObj}
	_ = json.NewEncoder(w).Encode(resp)
}

func writeResult(w http.ResponseWriter, id interface{}, result interface{}) {
	resp := RPCResponse{JSONRPC: jsonRPCVersion, ID: id, Result: result}
	_ = json.NewEncoder(w).Encode(resp)
}

// handlerFunc executes one RPC method. Classified errors are mapped onto
// JSON-RPC codes by the dispatcher.
type handlerFunc func(r *http.Request, req *RPCRequest) (interface{}, error)

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	reader := http.MaxBytesReader(w, r.Body, maxRequestBytes)
	defer func() {
		_ = reader.Close()
	}()

	w.Header().Set("Content-Type", "application/json")

	source := clientSource(r)
	if !s.allowSource(source) {
		writeError(w, http.StatusTooManyRequests, nil, codeRateLimited, "rate limit exceeded", source)
		return
	}

	body, err := io.ReadAll(reader)
	if err != nil {
		status := http.StatusBadRequest
		message := "failed to read request body"
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			status = http.StatusRequestEntityTooLarge
			message = fmt.Sprintf("request body exceeds %d bytes", maxRequestBytes)
		}
		writeError(w, status, nil, codeInvalidRequest, message, err.Error())
		return
	}
	if len(bytes.TrimSpace(body)) == 0 {
		writeError(w, http.StatusBadRequest, nil, codeInvalidRequest, "request body required", nil)
		return
	}

	req := &RPCRequest{}
	if err := json.Unmarshal(body, req); err != nil {
		writeError(w, http.StatusBadRequest, nil, codeParseError, "invalid JSON payload", err.Error())
		return
	}
	if req.JSONRPC != "" && req.JSONRPC != jsonRPCVersion {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidRequest, "unsupported jsonrpc version", req.JSONRPC)
		return
	}
	if req.Method == "" {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidRequest, "method required", nil)
		return
	}

	handler, ok := s.route(req.Method)
	if !ok {
		writeError(w, http.StatusNotFound, req.ID, codeMethodNotFound, "method not found", req.Method)
		return
	}
	if requiresAuth(req.Method) {
		if authErr := s.requireAuth(r); authErr != nil {
			writeError(w, http.StatusUnauthorized, req.ID, authErr.Code, authErr.Message, authErr.Data)
			s.recordAudit(req.Method, source, "unauthorized")
			return
		}
	}

	start := time.Now()
	result, err := handler(r, req)
	metrics := observability.Metrics()
	if err != nil {
		kind := coreerrors.KindOf(err)
		metrics.ObserveRequest(req.Method, "error", start)
		metrics.ObserveError(req.Method, kind.String())
		if isMutating(req.Method) {
			s.recordAudit(req.Method, source, kind.String())
		}
		s.writeClassifiedError(w, req.ID, err)
		return
	}
	metrics.ObserveRequest(req.Method, "ok", start)
	if isMutating(req.Method) {
		s.recordAudit(req.Method, source, "ok")
	}
	writeResult(w, req.ID, result)
}

func (s *Server) route(method string) (handlerFunc, bool) {
	switch method {
	case "registry_register":
		return s.handleRegistryRegister, true
	case "registry_verify":
		return s.handleRegistryVerify, true
	case "registry_setListed":
		return s.handleRegistrySetListed, true
	case "registry_delist":
		return s.handleRegistryDelist, true
	case "registry_get":
		return s.handleRegistryGet, true
	case "auction_create":
		return s.handleAuctionCreate, true
	case "auction_placeBid":
		return s.handleAuctionPlaceBid, true
	case "auction_end":
		return s.handleAuctionEnd, true
	case "auction_cancel":
		return s.handleAuctionCancel, true
	case "auction_withdrawBid":
		return s.handleAuctionWithdrawBid, true
	case "auction_get":
		return s.handleAuctionGet, true
	case "auction_list":
		return s.handleAuctionList, true
	case "auction_feePool":
		return s.handleAuctionFeePool, true
	case "auction_setPlatformFee":
		return s.handleAuctionSetPlatformFee, true
	case "auction_withdrawFees":
		return s.handleAuctionWithdrawFees, true
	case "escrow_create":
		return s.handleEscrowCreate, true
	case "escrow_updateStatus":
		return s.handleEscrowUpdateStatus, true
	case "escrow_complete":
		return s.handleEscrowComplete, true
	case "escrow_cancel":
		return s.handleEscrowCancel, true
	case "escrow_get":
		return s.handleEscrowGet, true
	case "escrow_list":
		return s.handleEscrowList, true
	case "admin_pause":
		return s.handleAdminPause, true
	case "admin_resume":
		return s.handleAdminResume, true
	case "bank_getBalance":
		return s.handleBankGetBalance, true
	case "events_poll":
		return s.handleEventsPoll, true
	default:
		return nil, false
	}
}

func requiresAuth(method string) bool {
	switch method {
	case "auction_setPlatformFee", "auction_withdrawFees", "admin_pause", "admin_resume":
		return true
	default:
		return false
	}
}

func isMutating(method string) bool {
	switch method {
	case "registry_get", "auction_get", "auction_list", "auction_feePool",
		"escrow_get", "escrow_list", "bank_getBalance", "events_poll":
		return false
	default:
		return true
	}
}

func (s *Server) writeClassifiedError(w http.ResponseWriter, id interface{}, err error) {
	status := http.StatusInternalServerError
	code := codeInternal
	message := "internal_error"
	switch coreerrors.KindOf(err) {
	case coreerrors.KindInvalidParams:
		status = http.StatusBadRequest
		code = codeInvalidParams
		message = "invalid_params"
	case coreerrors.KindNotFound:
		status = http.StatusNotFound
		code = codeNotFound
		message = "not_found"
	case coreerrors.KindUnauthorized:
		status = http.StatusForbidden
		code = codeForbidden
		message = "forbidden"
	case coreerrors.KindInvalidState:
		status = http.StatusConflict
		code = codeConflict
		message = "conflict"
	case coreerrors.KindInsufficientFunds:
		status = http.StatusPaymentRequired
		code = codeInsufficientFunds
		message = "insufficient_funds"
	case coreerrors.KindPaused:
		status = http.StatusServiceUnavailable
		code = codePaused
		message = "module_paused"
	}
	writeError(w, status, id, code, message, err.Error())
}

func (s *Server) requireAuth(r *http.Request) *RPCError {
	if s.authToken == "" {
		return &RPCError{Code: codeUnauthorized, Message: "RPC authentication token not configured"}
	}
	header := r.Header.Get("Authorization")
	if header == "" {
		return &RPCError{Code: codeUnauthorized, Message: "missing Authorization header"}
	}
	if !strings.HasPrefix(header, "Bearer ") {
		return &RPCError{Code: codeUnauthorized, Message: "Authorization header must use Bearer scheme"}
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	if token == "" {
		return &RPCError{Code: codeUnauthorized, Message: "missing bearer token"}
	}
	if subtle.ConstantTimeCompare([]byte(token), []byte(s.authToken)) != 1 {
		return &RPCError{Code: codeUnauthorized, Message: "invalid RPC credentials"}
	}
	return nil
}

func (s *Server) allowSource(source string) bool {
	if source == "" {
		source = "unknown"
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	limiter, ok := s.limiters[source]
	if !ok {
		limiter = rate.NewLimiter(s.limit, s.burst)
		s.limiters[source] = limiter
	}
	return limiter.Allow()
}

func (s *Server) recordAudit(method, source, outcome string) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Record(method, source, outcome); err != nil {
		s.log.Warn("audit record failed", "method", method, "error", err)
	}
}

func clientSource(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		parts := strings.Split(forwarded, ",")
		if len(parts) > 0 {
			candidate := strings.TrimSpace(parts[0])
			if candidate != "" {
				return candidate
			}
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func parseBech32Address(value string) ([20]byte, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return [20]byte{}, coreerrors.E(coreerrors.KindInvalidParams, "address required")
	}
	addr, err := crypto.DecodeAddress(trimmed)
	if err != nil {
		return [20]byte{}, coreerrors.E(coreerrors.KindInvalidParams, "invalid address %q: %v", trimmed, err)
	}
	return addr.Raw(), nil
}

func parsePositiveBigInt(value string) (*big.Int, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil, coreerrors.E(coreerrors.KindInvalidParams, "amount required")
	}
	amount, ok := new(big.Int).SetString(trimmed, 10)
	if !ok {
		return nil, coreerrors.E(coreerrors.KindInvalidParams, "invalid amount %q", trimmed)
	}
	if amount.Sign() <= 0 {
		return nil, coreerrors.E(coreerrors.KindInvalidParams, "amount must be positive")
	}
	return amount, nil
}

func singleParam(req *RPCRequest, target interface{}) error {
	if len(req.Params) != 1 {
		return coreerrors.E(coreerrors.KindInvalidParams, "exactly one parameter object expected")
	}
	if err := json.Unmarshal(req.Params[0], target); err != nil {
		return coreerrors.Wrap(coreerrors.KindInvalidParams, err, "malformed parameter object")
	}
	return nil
}

func addressString(addr [20]byte) string {
	return crypto.NewAddress(crypto.DeedPrefix, append([]byte(nil), addr[:]...)).String()
}

func amountString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}
