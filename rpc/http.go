package rpc

import (
	"crypto/subtle"
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strings"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	"pegvault/native/registry"
	"pegvault/native/token"
	"pegvault/native/vault"
	"pegvault/observability"
	"pegvault/state"
)

const (
	jsonRPCVersion  = "2.0"
	maxRequestBytes = 1 << 20 // 1 MiB
)

const (
	codeParseError     = -32700
	codeInvalidRequest = -32600
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
	codeUnauthorized   = -32001
	codeServerError    = -32000
	codeRateLimited    = -32020
)

// Server exposes the registry, vaults, and token ledgers over JSON-RPC.
// Mutating methods run inside a buffered state transaction that commits only
// on success, giving each operation all-or-nothing semantics. A process-wide
// read/write lock serializes mutating operations against each other and
// against read-only methods, so a read never observes an engine bound to an
// uncommitted transaction; racing liquidations are resolved by whichever
// request takes the lock first.
type Server struct {
	registry  *registry.Registry
	store     *state.Store
	pegLedger *token.Ledger
	custody   map[string]*token.Ledger
	logger    *slog.Logger
	metrics   *observability.VaultMetrics

	authToken string

	opMu sync.RWMutex

	limiterMu sync.Mutex
	limiters  map[string]*rate.Limiter
	rateLimit rate.Limit
	rateBurst int
}

// NewServer wires the RPC surface. The bearer token for governance methods is
// read from PEGVAULT_RPC_TOKEN; when unset, governance methods are rejected.
func NewServer(reg *registry.Registry, store *state.Store, pegLedger *token.Ledger, custody map[string]*token.Ledger, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		registry:  reg,
		store:     store,
		pegLedger: pegLedger,
		custody:   custody,
		logger:    logger.With("component", "rpc"),
		metrics:   observability.Metrics(),
		authToken: strings.TrimSpace(os.Getenv("PEGVAULT_RPC_TOKEN")),
		limiters:  make(map[string]*rate.Limiter),
		rateLimit: rate.Limit(10),
		rateBurst: 20,
	}
}

// Router assembles the HTTP surface: the JSON-RPC endpoint plus health and
// metrics probes.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.Handler())
	r.Post("/", s.handle)
	return r
}

// Start serves the router on addr, blocking until the listener fails.
func (s *Server) Start(addr string) error {
	s.logger.Info("starting JSON-RPC server", "addr", addr)
	return http.ListenAndServe(addr, s.Router())
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
	_ = json.NewEncoder(w).Encode(RPCResponse{JSONRPC: jsonRPCVersion, ID: id, Error: errObj})
}

func writeResult(w http.ResponseWriter, id interface{}, result interface{}) {
	_ = json.NewEncoder(w).Encode(RPCResponse{JSONRPC: jsonRPCVersion, ID: id, Result: result})
}

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if !s.allow(clientIP(r)) {
		writeError(w, http.StatusTooManyRequests, nil, codeRateLimited, "rate limit exceeded", nil)
		return
	}

	body, err := readBody(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, nil, codeParseError, "unable to read request body", err.Error())
		return
	}
	var req RPCRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, http.StatusBadRequest, nil, codeParseError, "invalid JSON-RPC request", err.Error())
		return
	}
	if req.JSONRPC != jsonRPCVersion || strings.TrimSpace(req.Method) == "" {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidRequest, "invalid JSON-RPC envelope", nil)
		return
	}

	handler, ok := s.methods()[req.Method]
	if !ok {
		writeError(w, http.StatusNotFound, req.ID, codeMethodNotFound, "method not found", req.Method)
		return
	}
	if handler.governance && !s.authorized(r) {
		writeError(w, http.StatusUnauthorized, req.ID, codeUnauthorized, "governance token required", nil)
		return
	}
	handler.fn(w, r, &req)
}

type methodHandler struct {
	fn         func(http.ResponseWriter, *http.Request, *RPCRequest)
	governance bool
}

func (s *Server) methods() map[string]methodHandler {
	return map[string]methodHandler{
		"registry_deployVault": {fn: s.handleRegistryDeployVault, governance: true},
		"registry_lookup":      {fn: s.handleRegistryLookup},
		"registry_list":        {fn: s.handleRegistryList},

		"vault_getPosition":        {fn: s.handleVaultGetPosition},
		"vault_getParams":          {fn: s.handleVaultGetParams},
		"vault_healthFactor":       {fn: s.handleVaultHealthFactor},
		"vault_previewMint":        {fn: s.handleVaultPreviewMint},
		"vault_previewLiquidation": {fn: s.handleVaultPreviewLiquidation},
		"vault_deposit":            {fn: s.handleVaultDeposit},
		"vault_mint":               {fn: s.handleVaultMint},
		"vault_withdraw":           {fn: s.handleVaultWithdraw},
		"vault_repay":              {fn: s.handleVaultRepay},
		"vault_liquidate":          {fn: s.handleVaultLiquidate},
		"vault_setParam":           {fn: s.handleVaultSetParam, governance: true},

		"token_balanceOf": {fn: s.handleTokenBalanceOf},
		"token_approve":   {fn: s.handleTokenApprove},
	}
}

func (s *Server) authorized(r *http.Request) bool {
	if s.authToken == "" {
		return false
	}
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return false
	}
	presented := strings.TrimSpace(strings.TrimPrefix(header, prefix))
	return subtle.ConstantTimeCompare([]byte(presented), []byte(s.authToken)) == 1
}

func (s *Server) allow(client string) bool {
	s.limiterMu.Lock()
	defer s.limiterMu.Unlock()
	limiter, ok := s.limiters[client]
	if !ok {
		limiter = rate.NewLimiter(s.rateLimit, s.rateBurst)
		s.limiters[client] = limiter
	}
	return limiter.Allow()
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func readBody(r *http.Request) ([]byte, error) {
	defer r.Body.Close()
	return io.ReadAll(http.MaxBytesReader(nil, r.Body, maxRequestBytes))
}

// withTxn runs fn inside a buffered state transaction. Engines and ledgers
// are pointed at the transaction for the duration, so every state write —
// including the ledger/custody writes triggered by engine interactions —
// lands in the same buffer and is committed or discarded as one unit.
func (s *Server) withTxn(fn func() error) error {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	txn := s.store.Begin()
	s.bindState(txn)
	defer s.bindState(s.store)

	if err := fn(); err != nil {
		txn.Discard()
		return err
	}
	return txn.Commit()
}

// withRead runs fn while holding the operation lock shared. bindState points
// every engine and ledger at the in-flight transaction for the duration of a
// mutating request, so reads must exclude writers to see only committed state.
func (s *Server) withRead(fn func() error) error {
	s.opMu.RLock()
	defer s.opMu.RUnlock()
	return fn()
}

func (s *Server) bindState(st interface {
	vault.State
	token.State
}) {
	for _, engine := range s.registry.Engines() {
		engine.SetState(st)
	}
	s.pegLedger.SetState(st)
	for _, ledger := range s.custody {
		ledger.SetState(st)
	}
}
