package rpc

import (
	"bytes"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"coopchain/core"
	"coopchain/native/bank"
	"coopchain/native/coop"
	"coopchain/observability"
)

const (
	jsonRPCVersion  = "2.0"
	maxRequestBytes = 1 << 20 // 1 MiB
	rateLimitWindow = time.Minute
	maxTxPerWindow  = 20
)

const (
	codeParseError     = -32700
	codeInvalidRequest = -32600
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
	codeUnauthorized   = -32001
	codeNotFound       = -32004
	codeConflict       = -32009
	codeValueFailure   = -32012
	codeServerError    = -32000
	codeRateLimited    = -32020
)

type rateLimiter struct {
	count       int
	windowStart time.Time
}

// Server exposes the node's transitions and queries over JSON-RPC 2.0.
// Mutating methods require bearer-token authentication and are rate limited
// per client source.
type Server struct {
	node *core.Node

	mu           sync.Mutex
	rateLimiters map[string]*rateLimiter
	authToken    string
}

// NewServer constructs a server for the node. An empty auth token disables
// the bearer check, which is only acceptable for local development.
func NewServer(node *core.Node, authToken string) *Server {
	return &Server{
		node:         node,
		rateLimiters: make(map[string]*rateLimiter),
		authToken:    strings.TrimSpace(authToken),
	}
}

// Start blocks serving JSON-RPC requests on addr.
func (s *Server) Start(addr string) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handle)
	return http.ListenAndServe(addr, mux)
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

// writeTransitionError maps the protocol error taxonomy onto transport
// status and error codes.
func writeTransitionError(w http.ResponseWriter, id interface{}, err error) {
	switch coop.Categorize(err) {
	case coop.CategoryUnauthorized:
		writeError(w, http.StatusForbidden, id, codeUnauthorized, err.Error(), nil)
	case coop.CategoryNotFound:
		writeError(w, http.StatusNotFound, id, codeNotFound, err.Error(), nil)
	case coop.CategoryConflict:
		writeError(w, http.StatusConflict, id, codeConflict, err.Error(), nil)
	case coop.CategoryValue:
		writeError(w, http.StatusBadRequest, id, codeValueFailure, err.Error(), nil)
	case coop.CategoryStructural:
		writeError(w, http.StatusBadRequest, id, codeInvalidParams, err.Error(), nil)
	default:
		writeError(w, http.StatusInternalServerError, id, codeServerError, err.Error(), nil)
	}
}

// InstructionResult is the wire form of a settlement instruction.
type InstructionResult struct {
	Kind   string `json:"kind"`
	Denom  string `json:"denom,omitempty"`
	Token  string `json:"token,omitempty"`
	From   string `json:"from"`
	To     string `json:"to"`
	Amount string `json:"amount"`
}

func instructionResults(instructions []bank.Instruction) []InstructionResult {
	out := make([]InstructionResult, len(instructions))
	for i, ins := range instructions {
		kind := "native_send"
		switch ins.Kind {
		case bank.KindTokenTransfer:
			kind = "token_transfer"
		case bank.KindTokenTransferFrom:
			kind = "token_transfer_from"
		}
		amount := "0"
		if ins.Amount != nil {
			amount = ins.Amount.String()
		}
		out[i] = InstructionResult{
			Kind:   kind,
			Denom:  ins.Denom,
			Token:  ins.Token,
			From:   ins.From.String(),
			To:     ins.To.String(),
			Amount: amount,
		}
	}
	return out
}

func parseAmount(raw string) (*big.Int, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil, fmt.Errorf("amount required")
	}
	amount, ok := new(big.Int).SetString(trimmed, 10)
	if !ok {
		return nil, fmt.Errorf("invalid amount %q", raw)
	}
	return amount, nil
}

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	reader := http.MaxBytesReader(w, r.Body, maxRequestBytes)
	defer func() {
		_ = reader.Close()
	}()

	w.Header().Set("Content-Type", "application/json")

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

	started := time.Now()
	status := s.dispatch(w, r, req)
	module := req.Method
	if idx := strings.IndexByte(module, '_'); idx > 0 {
		module = module[:idx]
	}
	observability.ModuleMetrics().Observe(module, req.Method, status, time.Since(started))
}

// dispatch routes to the method handler and returns the HTTP status recorded
// for metrics.
func (s *Server) dispatch(w http.ResponseWriter, r *http.Request, req *RPCRequest) int {
	recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

	mutating := false
	switch req.Method {
	case "coop_createCooperative", "coop_fund", "coop_withdraw",
		"lend_borrow", "lend_repay",
		"gov_propose", "gov_vote", "gov_withdrawWeight", "gov_execute",
		"oracle_updatePrice":
		mutating = true
	}

	if mutating {
		if authErr := s.requireAuth(r); authErr != nil {
			writeError(recorder, http.StatusUnauthorized, req.ID, authErr.Code, authErr.Message, authErr.Data)
			return recorder.status
		}
		source := clientSource(r)
		if !s.allowSource(source, time.Now()) {
			observability.ModuleMetrics().RecordThrottle(req.Method, "rate_limit")
			writeError(recorder, http.StatusTooManyRequests, req.ID, codeRateLimited, "request rate limit exceeded", source)
			return recorder.status
		}
	}

	switch req.Method {
	case "coop_createCooperative":
		s.handleCreateCooperative(recorder, req)
	case "coop_fund":
		s.handleFund(recorder, req)
	case "coop_withdraw":
		s.handleWithdraw(recorder, req)
	case "coop_getCooperative":
		s.handleGetCooperative(recorder, req)
	case "coop_getMemberInfo":
		s.handleGetMemberInfo(recorder, req)
	case "coop_getContributionAndShare":
		s.handleGetContributionAndShare(recorder, req)
	case "coop_listCooperatives":
		s.handleListCooperatives(recorder, req)
	case "coop_getWhitelistedTokens":
		s.handleGetWhitelistedTokens(recorder, req)
	case "coop_getAssetID":
		s.handleGetAssetID(recorder, req)
	case "coop_memberCooperatives":
		s.handleMemberCooperatives(recorder, req)
	case "coop_protocolInfo":
		s.handleProtocolInfo(recorder, req)
	case "lend_borrow":
		s.handleBorrow(recorder, req)
	case "lend_repay":
		s.handleRepay(recorder, req)
	case "gov_propose":
		s.handlePropose(recorder, req)
	case "gov_vote":
		s.handleVote(recorder, req)
	case "gov_withdrawWeight":
		s.handleWithdrawWeight(recorder, req)
	case "gov_execute":
		s.handleExecuteProposal(recorder, req)
	case "gov_getProposal":
		s.handleGetProposal(recorder, req)
	case "gov_listProposals":
		s.handleListProposals(recorder, req)
	case "oracle_updatePrice":
		s.handleUpdatePrice(recorder, req)
	case "oracle_getPrice":
		s.handleGetPrice(recorder, req)
	default:
		writeError(recorder, http.StatusNotFound, req.ID, codeMethodNotFound, fmt.Sprintf("unknown method %s", req.Method), nil)
	}
	return recorder.status
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (s *Server) requireAuth(r *http.Request) *RPCError {
	if s.authToken == "" {
		return nil
	}
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if header == "" {
		return &RPCError{Code: codeUnauthorized, Message: "missing RPC credentials"}
	}
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return &RPCError{Code: codeUnauthorized, Message: "invalid RPC credentials"}
	}
	token := strings.TrimSpace(header[len(prefix):])
	if subtle.ConstantTimeCompare([]byte(token), []byte(s.authToken)) != 1 {
		return &RPCError{Code: codeUnauthorized, Message: "invalid RPC credentials"}
	}
	return nil
}

func (s *Server) allowSource(source string, now time.Time) bool {
	if source == "" {
		source = "unknown"
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	limiter, ok := s.rateLimiters[source]
	if !ok {
		limiter = &rateLimiter{windowStart: now}
		s.rateLimiters[source] = limiter
	}
	if now.Sub(limiter.windowStart) >= rateLimitWindow {
		limiter.windowStart = now
		limiter.count = 0
	}
	if limiter.count >= maxTxPerWindow {
		return false
	}
	limiter.count++
	return true
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
