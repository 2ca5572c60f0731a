package rpc

import (
	"errors"
	"math/big"
	"net/http"
	"strings"

	"pegvault/crypto"
	"pegvault/native/registry"
	"pegvault/native/token"
	"pegvault/native/vault"
)

type registryDeployParams struct {
	Caller                  string `json:"caller"`
	Asset                   string `json:"asset"`
	CollateralDecimals      uint8  `json:"collateralDecimals"`
	FeedRef                 string `json:"feedRef"`
	FeedPrecision           uint8  `json:"feedPrecision"`
	LiquidationThresholdPct uint64 `json:"liquidationThresholdPct"`
	LiquidationSpreadPct    uint64 `json:"liquidationSpreadPct"`
	CloseFactorPct          uint64 `json:"closeFactorPct"`
}

type registryEntryResult struct {
	Asset string `json:"asset"`
	Vault string `json:"vault"`
}

func writeRegistryError(w http.ResponseWriter, id interface{}, err error) {
	switch {
	case errors.Is(err, registry.ErrUnauthorized):
		writeError(w, http.StatusForbidden, id, codeUnauthorized, err.Error(), nil)
	case errors.Is(err, registry.ErrDuplicateCollateral):
		writeError(w, http.StatusConflict, id, codeInvalidParams, err.Error(), nil)
	case errors.Is(err, registry.ErrVaultNotFound):
		writeError(w, http.StatusNotFound, id, codeInvalidParams, err.Error(), nil)
	case errors.Is(err, vault.ErrInvalidPercentage), errors.Is(err, vault.ErrInvalidAddress):
		writeError(w, http.StatusBadRequest, id, codeInvalidParams, err.Error(), nil)
	default:
		writeError(w, http.StatusInternalServerError, id, codeServerError, err.Error(), nil)
	}
}

func (s *Server) handleRegistryDeployVault(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params registryDeployParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid parameters", err.Error())
		return
	}
	caller, err := parseAddress(params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid caller", err.Error())
		return
	}
	cfg := vault.Config{
		CollateralAssetID:   strings.TrimSpace(params.Asset),
		CollateralPrecision: params.CollateralDecimals,
		Params: vault.Params{
			LiquidationThreshold: params.LiquidationThresholdPct,
			LiquidationSpread:    params.LiquidationSpreadPct,
			CloseFactor:          params.CloseFactorPct,
			PriceFeedRef:         strings.TrimSpace(params.FeedRef),
			PriceFeedPrecision:   params.FeedPrecision,
		},
	}
	var vaultAddr string
	err = s.withTxn(func() error {
		addr, deployErr := s.registry.DeployVault(caller, cfg)
		if deployErr != nil {
			return deployErr
		}
		vaultAddr = addr.String()
		return nil
	})
	s.metrics.ObserveOperation(cfg.CollateralAssetID, "deployVault", err)
	if err != nil {
		writeRegistryError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, registryEntryResult{Asset: cfg.CollateralAssetID, Vault: vaultAddr})
}

func (s *Server) handleRegistryLookup(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params vaultAssetParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid parameters", err.Error())
		return
	}
	asset := strings.TrimSpace(params.Asset)
	var (
		addr crypto.Address
		ok   bool
	)
	err := s.withRead(func() error {
		var readErr error
		addr, ok, readErr = s.registry.Lookup(asset)
		return readErr
	})
	if err != nil {
		writeRegistryError(w, req.ID, err)
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, req.ID, codeInvalidParams, registry.ErrVaultNotFound.Error(), nil)
		return
	}
	writeResult(w, req.ID, registryEntryResult{Asset: asset, Vault: addr.String()})
}

func (s *Server) handleRegistryList(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var entries []registry.DirectoryEntry
	err := s.withRead(func() error {
		var readErr error
		entries, readErr = s.registry.Entries()
		return readErr
	})
	if err != nil {
		writeRegistryError(w, req.ID, err)
		return
	}
	out := make([]registryEntryResult, 0, len(entries))
	for _, entry := range entries {
		out = append(out, registryEntryResult{Asset: entry.AssetID, Vault: entry.Vault.String()})
	}
	writeResult(w, req.ID, out)
}

type tokenBalanceParams struct {
	Symbol  string `json:"symbol"`
	Address string `json:"address"`
}

type tokenApproveParams struct {
	Symbol  string `json:"symbol"`
	Owner   string `json:"owner"`
	Spender string `json:"spender"`
	Amount  string `json:"amount"`
}

func (s *Server) ledgerFor(symbol string) (*token.Ledger, bool) {
	symbol = strings.TrimSpace(symbol)
	if symbol == "" || strings.EqualFold(symbol, s.pegLedger.Symbol()) {
		return s.pegLedger, true
	}
	ledger, ok := s.custody[symbol]
	return ledger, ok
}

func (s *Server) handleTokenBalanceOf(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params tokenBalanceParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid parameters", err.Error())
		return
	}
	ledger, ok := s.ledgerFor(params.Symbol)
	if !ok {
		writeError(w, http.StatusNotFound, req.ID, codeInvalidParams, "unknown token symbol", params.Symbol)
		return
	}
	addr, err := parseAddress(params.Address)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid address", err.Error())
		return
	}
	var balance *big.Int
	err = s.withRead(func() error {
		var readErr error
		balance, readErr = ledger.BalanceOf(addr)
		return readErr
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, req.ID, codeServerError, err.Error(), nil)
		return
	}
	writeResult(w, req.ID, map[string]interface{}{
		"symbol":   ledger.Symbol(),
		"decimals": ledger.Decimals(),
		"balance":  balance.String(),
	})
}

// handleTokenApprove records an allowance on behalf of the stated owner. The
// RPC surface carries no end-user authentication, so the owner is taken from
// the request as-is; deployments that need caller identity must front this
// endpoint with an authenticating proxy or gate it like the governance
// methods.
func (s *Server) handleTokenApprove(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params tokenApproveParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid parameters", err.Error())
		return
	}
	ledger, ok := s.ledgerFor(params.Symbol)
	if !ok {
		writeError(w, http.StatusNotFound, req.ID, codeInvalidParams, "unknown token symbol", params.Symbol)
		return
	}
	owner, err := parseAddress(params.Owner)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid owner", err.Error())
		return
	}
	spender, err := parseAddress(params.Spender)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid spender", err.Error())
		return
	}
	amount, err := parseAmount(params.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid amount", err.Error())
		return
	}
	err = s.withTxn(func() error {
		return ledger.Approve(owner, spender, amount)
	})
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	writeResult(w, req.ID, map[string]bool{"ok": true})
}
