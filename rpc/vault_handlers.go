package rpc

import (
	"encoding/json"
	"errors"
	"math/big"
	"net/http"
	"strings"

	"pegvault/crypto"
	"pegvault/native/oracle"
	"pegvault/native/vault"
)

type vaultAccountParams struct {
	Asset   string `json:"asset"`
	Address string `json:"address"`
}

type vaultAssetParams struct {
	Asset string `json:"asset"`
}

type vaultDepositParams struct {
	Asset  string `json:"asset"`
	From   string `json:"from"`
	Amount string `json:"amount"`
}

type vaultMintParams struct {
	Asset   string `json:"asset"`
	Account string `json:"account"`
	Amount  string `json:"amount"`
}

type vaultWithdrawParams struct {
	Asset    string `json:"asset"`
	Account  string `json:"account"`
	Receiver string `json:"receiver"`
	Amount   string `json:"amount"`
}

type vaultRepayParams struct {
	Asset   string `json:"asset"`
	Payer   string `json:"payer"`
	Account string `json:"account"`
	Amount  string `json:"amount"`
}

type vaultLiquidateParams struct {
	Asset      string `json:"asset"`
	Liquidator string `json:"liquidator"`
	Account    string `json:"account"`
	Amount     string `json:"amount"`
}

type vaultSetParamParams struct {
	Asset         string `json:"asset"`
	Caller        string `json:"caller"`
	Name          string `json:"name"`
	Value         uint64 `json:"value,omitempty"`
	FeedRef       string `json:"feedRef,omitempty"`
	FeedPrecision uint8  `json:"feedPrecision,omitempty"`
}

type vaultPositionResult struct {
	Address    string `json:"address"`
	Collateral string `json:"collateral"`
	Debt       string `json:"debt"`
}

type vaultParamsResult struct {
	LiquidationThreshold uint64 `json:"liquidationThreshold"`
	LiquidationSpread    uint64 `json:"liquidationSpread"`
	CloseFactor          uint64 `json:"closeFactor"`
	PriceFeedRef         string `json:"priceFeedRef"`
	PriceFeedPrecision   uint8  `json:"priceFeedPrecision"`
}

type vaultHealthResult struct {
	HealthFactor string `json:"healthFactor"`
	Scale        string `json:"scale"`
}

type vaultPreviewLiquidationResult struct {
	HealthFactor       string `json:"healthFactor"`
	CloseFactorCeiling string `json:"closeFactorCeiling"`
}

type vaultLiquidateResult struct {
	SeizedCollateral string `json:"seizedCollateral"`
}

func decodeParams(req *RPCRequest, out interface{}) error {
	if len(req.Params) != 1 {
		return errors.New("expected a single params object")
	}
	return json.Unmarshal(req.Params[0], out)
}

func parseAmount(raw string) (*big.Int, error) {
	amount, ok := new(big.Int).SetString(strings.TrimSpace(raw), 10)
	if !ok {
		return nil, errors.New("amount must be a base-10 integer string")
	}
	return amount, nil
}

func parseAddress(raw string) (crypto.Address, error) {
	return crypto.DecodeAddress(strings.TrimSpace(raw))
}

// writeEngineError maps engine failures onto JSON-RPC error envelopes,
// carrying the relevant parameters (close-factor ceiling, measured health
// factor) so callers see why the operation was rejected.
func writeEngineError(w http.ResponseWriter, id interface{}, err error) {
	var closeFactorErr *vault.CloseFactorError
	if errors.As(err, &closeFactorErr) {
		writeError(w, http.StatusBadRequest, id, codeInvalidParams, err.Error(),
			map[string]string{"ceiling": closeFactorErr.Ceiling.String()})
		return
	}
	var notLiquidatable *vault.NotLiquidatableError
	if errors.As(err, &notLiquidatable) {
		writeError(w, http.StatusBadRequest, id, codeInvalidParams, err.Error(),
			map[string]string{"healthFactor": notLiquidatable.HealthFactor.String()})
		return
	}
	var solvency *vault.SolvencyError
	if errors.As(err, &solvency) {
		writeError(w, http.StatusBadRequest, id, codeInvalidParams, err.Error(),
			map[string]string{"healthFactor": solvency.HealthFactor.String()})
		return
	}
	switch {
	case errors.Is(err, vault.ErrUnauthorized):
		writeError(w, http.StatusForbidden, id, codeUnauthorized, err.Error(), nil)
	case errors.Is(err, vault.ErrInvalidAmount),
		errors.Is(err, vault.ErrInvalidAddress),
		errors.Is(err, vault.ErrInvalidPercentage),
		errors.Is(err, vault.ErrInsufficientCollateral),
		errors.Is(err, vault.ErrRepayExceedsDebt),
		errors.Is(err, vault.ErrHealthNotImproved):
		writeError(w, http.StatusBadRequest, id, codeInvalidParams, err.Error(), nil)
	case errors.Is(err, oracle.ErrOracleFault):
		writeError(w, http.StatusBadGateway, id, codeServerError, err.Error(), nil)
	default:
		writeError(w, http.StatusInternalServerError, id, codeServerError, err.Error(), nil)
	}
}

func (s *Server) engineFor(w http.ResponseWriter, id interface{}, assetID string) (*vault.Engine, bool) {
	engine, err := s.registry.Engine(strings.TrimSpace(assetID))
	if err != nil {
		writeError(w, http.StatusNotFound, id, codeInvalidParams, err.Error(), nil)
		return nil, false
	}
	return engine, true
}

func (s *Server) handleVaultGetPosition(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params vaultAccountParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid parameters", err.Error())
		return
	}
	engine, ok := s.engineFor(w, req.ID, params.Asset)
	if !ok {
		return
	}
	addr, err := parseAddress(params.Address)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid address", err.Error())
		return
	}
	var pos *vault.Position
	err = s.withRead(func() error {
		var readErr error
		pos, readErr = engine.Position(addr)
		return readErr
	})
	if err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, vaultPositionResult{
		Address:    addr.String(),
		Collateral: pos.Collateral.String(),
		Debt:       pos.Debt.String(),
	})
}

func (s *Server) handleVaultGetParams(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params vaultAssetParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid parameters", err.Error())
		return
	}
	engine, ok := s.engineFor(w, req.ID, params.Asset)
	if !ok {
		return
	}
	var riskParams vault.Params
	err := s.withRead(func() error {
		var readErr error
		riskParams, readErr = engine.Params()
		return readErr
	})
	if err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, vaultParamsResult{
		LiquidationThreshold: riskParams.LiquidationThreshold,
		LiquidationSpread:    riskParams.LiquidationSpread,
		CloseFactor:          riskParams.CloseFactor,
		PriceFeedRef:         riskParams.PriceFeedRef,
		PriceFeedPrecision:   riskParams.PriceFeedPrecision,
	})
}

func (s *Server) handleVaultHealthFactor(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params vaultAccountParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid parameters", err.Error())
		return
	}
	engine, ok := s.engineFor(w, req.ID, params.Asset)
	if !ok {
		return
	}
	addr, err := parseAddress(params.Address)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid address", err.Error())
		return
	}
	var hf *big.Int
	err = s.withRead(func() error {
		var readErr error
		hf, readErr = engine.HealthFactor(addr)
		return readErr
	})
	if err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, vaultHealthResult{
		HealthFactor: hf.String(),
		Scale:        vault.HealthFactorScale().String(),
	})
}

func (s *Server) handleVaultPreviewMint(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params vaultAccountParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid parameters", err.Error())
		return
	}
	engine, ok := s.engineFor(w, req.ID, params.Asset)
	if !ok {
		return
	}
	addr, err := parseAddress(params.Address)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid address", err.Error())
		return
	}
	var headroom *big.Int
	err = s.withRead(func() error {
		var readErr error
		headroom, readErr = engine.MaxMintable(addr)
		return readErr
	})
	if err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, map[string]string{"maxMintable": headroom.String()})
}

func (s *Server) handleVaultPreviewLiquidation(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params vaultAccountParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid parameters", err.Error())
		return
	}
	engine, ok := s.engineFor(w, req.ID, params.Asset)
	if !ok {
		return
	}
	addr, err := parseAddress(params.Address)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid address", err.Error())
		return
	}
	var hf, ceiling *big.Int
	err = s.withRead(func() error {
		var readErr error
		if hf, readErr = engine.HealthFactor(addr); readErr != nil {
			return readErr
		}
		ceiling, readErr = engine.CloseFactorCeiling(addr)
		return readErr
	})
	if err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, vaultPreviewLiquidationResult{
		HealthFactor:       hf.String(),
		CloseFactorCeiling: ceiling.String(),
	})
}

func (s *Server) handleVaultDeposit(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params vaultDepositParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid parameters", err.Error())
		return
	}
	engine, ok := s.engineFor(w, req.ID, params.Asset)
	if !ok {
		return
	}
	from, err := parseAddress(params.From)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid address", err.Error())
		return
	}
	amount, err := parseAmount(params.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid amount", err.Error())
		return
	}
	err = s.withTxn(func() error {
		return engine.DepositCollateral(from, amount)
	})
	s.metrics.ObserveOperation(engine.AssetID(), "deposit", err)
	if err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, map[string]bool{"ok": true})
}

func (s *Server) handleVaultMint(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params vaultMintParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid parameters", err.Error())
		return
	}
	engine, ok := s.engineFor(w, req.ID, params.Asset)
	if !ok {
		return
	}
	account, err := parseAddress(params.Account)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid address", err.Error())
		return
	}
	amount, err := parseAmount(params.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid amount", err.Error())
		return
	}
	err = s.withTxn(func() error {
		return engine.MintDebt(account, amount)
	})
	s.metrics.ObserveOperation(engine.AssetID(), "mint", err)
	if err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, map[string]bool{"ok": true})
}

func (s *Server) handleVaultWithdraw(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params vaultWithdrawParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid parameters", err.Error())
		return
	}
	engine, ok := s.engineFor(w, req.ID, params.Asset)
	if !ok {
		return
	}
	account, err := parseAddress(params.Account)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid account", err.Error())
		return
	}
	receiver, err := parseAddress(params.Receiver)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid receiver", err.Error())
		return
	}
	amount, err := parseAmount(params.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid amount", err.Error())
		return
	}
	err = s.withTxn(func() error {
		return engine.WithdrawCollateral(account, receiver, amount)
	})
	s.metrics.ObserveOperation(engine.AssetID(), "withdraw", err)
	if err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, map[string]bool{"ok": true})
}

func (s *Server) handleVaultRepay(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params vaultRepayParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid parameters", err.Error())
		return
	}
	engine, ok := s.engineFor(w, req.ID, params.Asset)
	if !ok {
		return
	}
	payer, err := parseAddress(params.Payer)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid payer", err.Error())
		return
	}
	account, err := parseAddress(params.Account)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid account", err.Error())
		return
	}
	amount, err := parseAmount(params.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid amount", err.Error())
		return
	}
	err = s.withTxn(func() error {
		return engine.RepayDebt(payer, account, amount)
	})
	s.metrics.ObserveOperation(engine.AssetID(), "repay", err)
	if err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, map[string]bool{"ok": true})
}

func (s *Server) handleVaultLiquidate(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params vaultLiquidateParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid parameters", err.Error())
		return
	}
	engine, ok := s.engineFor(w, req.ID, params.Asset)
	if !ok {
		return
	}
	liquidator, err := parseAddress(params.Liquidator)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid liquidator", err.Error())
		return
	}
	account, err := parseAddress(params.Account)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid account", err.Error())
		return
	}
	amount, err := parseAmount(params.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid amount", err.Error())
		return
	}
	var seized *big.Int
	err = s.withTxn(func() error {
		var liqErr error
		seized, liqErr = engine.Liquidate(liquidator, account, amount)
		return liqErr
	})
	s.metrics.ObserveOperation(engine.AssetID(), "liquidate", err)
	if err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	s.metrics.ObserveLiquidation(engine.AssetID())
	writeResult(w, req.ID, vaultLiquidateResult{SeizedCollateral: seized.String()})
}

func (s *Server) handleVaultSetParam(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params vaultSetParamParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid parameters", err.Error())
		return
	}
	engine, ok := s.engineFor(w, req.ID, params.Asset)
	if !ok {
		return
	}
	caller, err := parseAddress(params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid caller", err.Error())
		return
	}
	name := strings.TrimSpace(params.Name)
	switch name {
	case "liquidationThreshold", "liquidationSpread", "closeFactor", "priceFeedRef":
	default:
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "unknown parameter name", name)
		return
	}
	err = s.withTxn(func() error {
		switch name {
		case "liquidationThreshold":
			return engine.SetLiquidationThreshold(caller, params.Value)
		case "liquidationSpread":
			return engine.SetLiquidationSpread(caller, params.Value)
		case "closeFactor":
			return engine.SetCloseFactor(caller, params.Value)
		default:
			return engine.SetPriceFeed(caller, params.FeedRef, params.FeedPrecision)
		}
	})
	s.metrics.ObserveOperation(engine.AssetID(), "setParam", err)
	if err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, map[string]bool{"ok": true})
}
