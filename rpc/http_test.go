package rpc

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"golang.org/x/time/rate"

	"pegvault/crypto"
	"pegvault/native/oracle"
	"pegvault/native/registry"
	"pegvault/native/token"
	"pegvault/native/vault"
	"pegvault/state"
	"pegvault/storage"
)

const testGovernanceToken = "test-governance-token"

type rpcHarness struct {
	server    *Server
	ts        *httptest.Server
	store     *state.Store
	registry  *registry.Registry
	pegLedger *token.Ledger
	atom      *token.Ledger
	authority crypto.Address
}

func fillAddr(fill byte) crypto.Address {
	raw := make([]byte, crypto.AddressLength)
	for i := range raw {
		raw[i] = fill
	}
	return crypto.NewAddress(crypto.AccountPrefix, raw)
}

func newRPCHarness(t *testing.T) *rpcHarness {
	t.Helper()
	t.Setenv("PEGVAULT_RPC_TOKEN", testGovernanceToken)

	store := state.NewStore(storage.NewMemDB())
	pegLedger := token.NewLedger("PGD", 18)
	pegLedger.SetState(store)
	atom := token.NewLedger("ATOM", 18)
	atom.SetState(store)
	custody := map[string]*token.Ledger{"ATOM": atom}

	feed := oracle.NewStaticFeed()
	feed.Set("ATOM/USD", big.NewInt(200000000), 8)
	feed.Set("PGD/USD", big.NewInt(100000000), 8)
	valuer := vault.NewValuer(oracle.NewAdapter(feed), "PGD/USD", 18)

	authority := fillAddr(0xA0)
	wire := func(engine *vault.Engine) {
		engine.SetState(store)
		engine.SetValuer(valuer)
		engine.SetLedger(pegLedger)
		if ledger, ok := custody[engine.AssetID()]; ok {
			engine.SetCustody(ledger)
		}
	}
	reg := registry.NewRegistry(authority, store, pegLedger, wire)

	server := NewServer(reg, store, pegLedger, custody, nil)
	ts := httptest.NewServer(server.Router())
	t.Cleanup(ts.Close)

	return &rpcHarness{
		server:    server,
		ts:        ts,
		store:     store,
		registry:  reg,
		pegLedger: pegLedger,
		atom:      atom,
		authority: authority,
	}
}

func (h *rpcHarness) call(t *testing.T, method string, params interface{}, bearer string) *RPCResponse {
	t.Helper()
	var rawParams []json.RawMessage
	if params != nil {
		encoded, err := json.Marshal(params)
		if err != nil {
			t.Fatalf("encode params: %v", err)
		}
		rawParams = []json.RawMessage{encoded}
	}
	body, err := json.Marshal(map[string]interface{}{
		"jsonrpc": jsonRPCVersion,
		"id":      1,
		"method":  method,
		"params":  rawParams,
	})
	if err != nil {
		t.Fatalf("encode request: %v", err)
	}

	req, err := http.NewRequest(http.MethodPost, h.ts.URL+"/", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("call %s: %v", method, err)
	}
	defer resp.Body.Close()

	var decoded RPCResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return &decoded
}

func (h *rpcHarness) mustCall(t *testing.T, method string, params interface{}, bearer string) json.RawMessage {
	t.Helper()
	resp := h.call(t, method, params, bearer)
	if resp.Error != nil {
		t.Fatalf("%s failed: %+v", method, resp.Error)
	}
	raw, err := json.Marshal(resp.Result)
	if err != nil {
		t.Fatalf("re-encode result: %v", err)
	}
	return raw
}

func (h *rpcHarness) deployAtomVault(t *testing.T) crypto.Address {
	t.Helper()
	raw := h.mustCall(t, "registry_deployVault", map[string]interface{}{
		"caller":                  h.authority.String(),
		"asset":                   "ATOM",
		"collateralDecimals":      18,
		"feedRef":                 "ATOM/USD",
		"feedPrecision":           8,
		"liquidationThresholdPct": 80,
		"liquidationSpreadPct":    10,
		"closeFactorPct":          50,
	}, testGovernanceToken)

	var result registryEntryResult
	if err := json.Unmarshal(raw, &result); err != nil {
		t.Fatalf("decode deploy result: %v", err)
	}
	addr, err := crypto.DecodeAddress(result.Vault)
	if err != nil {
		t.Fatalf("decode vault address: %v", err)
	}
	return addr
}

func TestGovernanceMethodsRequireBearerToken(t *testing.T) {
	h := newRPCHarness(t)

	resp := h.call(t, "registry_deployVault", map[string]interface{}{"asset": "ATOM"}, "")
	if resp.Error == nil || resp.Error.Code != codeUnauthorized {
		t.Fatalf("expected unauthorized error, got %+v", resp.Error)
	}
	resp = h.call(t, "registry_deployVault", map[string]interface{}{"asset": "ATOM"}, "wrong-token")
	if resp.Error == nil || resp.Error.Code != codeUnauthorized {
		t.Fatalf("expected unauthorized error for bad token, got %+v", resp.Error)
	}
}

func TestMethodNotFound(t *testing.T) {
	h := newRPCHarness(t)
	resp := h.call(t, "vault_doesNotExist", nil, "")
	if resp.Error == nil || resp.Error.Code != codeMethodNotFound {
		t.Fatalf("expected method-not-found, got %+v", resp.Error)
	}
}

func TestVaultLifecycleOverRPC(t *testing.T) {
	h := newRPCHarness(t)
	vaultAddr := h.deployAtomVault(t)

	user := fillAddr(0x01)
	hundred := new(big.Int).Mul(big.NewInt(100), big.NewInt(1_000_000_000_000_000_000))
	if err := h.atom.Credit(user, hundred); err != nil {
		t.Fatalf("seed collateral: %v", err)
	}

	// The vault pulls deposits through the custody allowance.
	h.mustCall(t, "token_approve", map[string]interface{}{
		"symbol":  "ATOM",
		"owner":   user.String(),
		"spender": vaultAddr.String(),
		"amount":  hundred.String(),
	}, "")

	h.mustCall(t, "vault_deposit", map[string]interface{}{
		"asset":  "ATOM",
		"from":   user.String(),
		"amount": "10000000000000000000",
	}, "")

	h.mustCall(t, "vault_mint", map[string]interface{}{
		"asset":   "ATOM",
		"account": user.String(),
		"amount":  "16000000000000000000",
	}, "")

	var position vaultPositionResult
	raw := h.mustCall(t, "vault_getPosition", map[string]interface{}{
		"asset":   "ATOM",
		"address": user.String(),
	}, "")
	if err := json.Unmarshal(raw, &position); err != nil {
		t.Fatalf("decode position: %v", err)
	}
	if position.Collateral != "10000000000000000000" || position.Debt != "16000000000000000000" {
		t.Fatalf("unexpected position %+v", position)
	}

	var health vaultHealthResult
	raw = h.mustCall(t, "vault_healthFactor", map[string]interface{}{
		"asset":   "ATOM",
		"address": user.String(),
	}, "")
	if err := json.Unmarshal(raw, &health); err != nil {
		t.Fatalf("decode health: %v", err)
	}
	if health.HealthFactor != "1000000000000000000" {
		t.Fatalf("expected boundary health factor, got %s", health.HealthFactor)
	}

	var balance struct {
		Balance string `json:"balance"`
	}
	raw = h.mustCall(t, "token_balanceOf", map[string]interface{}{
		"symbol":  "PGD",
		"address": user.String(),
	}, "")
	if err := json.Unmarshal(raw, &balance); err != nil {
		t.Fatalf("decode balance: %v", err)
	}
	if balance.Balance != "16000000000000000000" {
		t.Fatalf("expected minted balance, got %s", balance.Balance)
	}
}

func TestMintBeyondLimitRollsBack(t *testing.T) {
	h := newRPCHarness(t)
	vaultAddr := h.deployAtomVault(t)

	user := fillAddr(0x01)
	ten := mustAmount(t, "10000000000000000000")
	if err := h.atom.Credit(user, ten); err != nil {
		t.Fatalf("seed collateral: %v", err)
	}
	h.mustCall(t, "token_approve", map[string]interface{}{
		"symbol":  "ATOM",
		"owner":   user.String(),
		"spender": vaultAddr.String(),
		"amount":  ten.String(),
	}, "")
	h.mustCall(t, "vault_deposit", map[string]interface{}{
		"asset":  "ATOM",
		"from":   user.String(),
		"amount": ten.String(),
	}, "")

	resp := h.call(t, "vault_mint", map[string]interface{}{
		"asset":   "ATOM",
		"account": user.String(),
		"amount":  "16000000000000000001",
	}, "")
	if resp.Error == nil || resp.Error.Code != codeInvalidParams {
		t.Fatalf("expected solvency rejection, got %+v", resp.Error)
	}

	// The rejected mint must leave no trace in debt or balances.
	var position vaultPositionResult
	raw := h.mustCall(t, "vault_getPosition", map[string]interface{}{
		"asset":   "ATOM",
		"address": user.String(),
	}, "")
	if err := json.Unmarshal(raw, &position); err != nil {
		t.Fatalf("decode position: %v", err)
	}
	if position.Debt != "0" {
		t.Fatalf("expected zero debt after rollback, got %s", position.Debt)
	}
	balance, err := h.pegLedger.BalanceOf(user)
	if err != nil {
		t.Fatalf("read balance: %v", err)
	}
	if balance.Sign() != 0 {
		t.Fatalf("expected zero peg balance after rollback, got %s", balance)
	}
}

// readDebt queries vault_getPosition without the testing.T helpers so it can
// run from a background goroutine.
func (h *rpcHarness) readDebt(addr crypto.Address) (string, error) {
	body, err := json.Marshal(map[string]interface{}{
		"jsonrpc": jsonRPCVersion,
		"id":      1,
		"method":  "vault_getPosition",
		"params":  []interface{}{map[string]string{"asset": "ATOM", "address": addr.String()}},
	})
	if err != nil {
		return "", err
	}
	resp, err := http.Post(h.ts.URL+"/", "application/json", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	var decoded struct {
		Result vaultPositionResult `json:"result"`
		Error  *RPCError           `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return "", err
	}
	if decoded.Error != nil {
		return "", fmt.Errorf("getPosition: %s", decoded.Error.Message)
	}
	return decoded.Result.Debt, nil
}

func TestReadsExcludeInFlightTransactions(t *testing.T) {
	h := newRPCHarness(t)
	h.server.rateLimit = rate.Inf
	vaultAddr := h.deployAtomVault(t)

	user := fillAddr(0x01)
	ten := mustAmount(t, "10000000000000000000")
	if err := h.atom.Credit(user, ten); err != nil {
		t.Fatalf("seed collateral: %v", err)
	}
	h.mustCall(t, "token_approve", map[string]interface{}{
		"symbol":  "ATOM",
		"owner":   user.String(),
		"spender": vaultAddr.String(),
		"amount":  ten.String(),
	}, "")
	h.mustCall(t, "vault_deposit", map[string]interface{}{
		"asset":  "ATOM",
		"from":   user.String(),
		"amount": ten.String(),
	}, "")

	stop := make(chan struct{})
	errc := make(chan error, 1)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-stop:
				return
			default:
			}
			debt, err := h.readDebt(user)
			if err != nil {
				select {
				case errc <- err:
				default:
				}
				return
			}
			if debt != "0" {
				select {
				case errc <- fmt.Errorf("read observed uncommitted debt %s", debt):
				default:
				}
				return
			}
		}
	}()

	// Every mint overshoots the collateral limit, so each transaction is
	// discarded; the concurrent reads above must keep seeing the committed
	// zero-debt position throughout.
	for i := 0; i < 25; i++ {
		resp := h.call(t, "vault_mint", map[string]interface{}{
			"asset":   "ATOM",
			"account": user.String(),
			"amount":  "16000000000000000001",
		}, "")
		if resp.Error == nil || resp.Error.Code != codeInvalidParams {
			t.Fatalf("expected solvency rejection, got %+v", resp.Error)
		}
	}
	close(stop)
	wg.Wait()
	select {
	case err := <-errc:
		t.Fatal(err)
	default:
	}
}

func TestRegistryLookupAndList(t *testing.T) {
	h := newRPCHarness(t)
	vaultAddr := h.deployAtomVault(t)

	var entry registryEntryResult
	raw := h.mustCall(t, "registry_lookup", map[string]interface{}{"asset": "ATOM"}, "")
	if err := json.Unmarshal(raw, &entry); err != nil {
		t.Fatalf("decode lookup: %v", err)
	}
	if entry.Vault != vaultAddr.String() {
		t.Fatalf("lookup returned %s, deployed %s", entry.Vault, vaultAddr)
	}

	resp := h.call(t, "registry_lookup", map[string]interface{}{"asset": "OSMO"}, "")
	if resp.Error == nil || resp.Error.Code != codeInvalidParams {
		t.Fatalf("expected not-found error, got %+v", resp.Error)
	}

	var entries []registryEntryResult
	raw = h.mustCall(t, "registry_list", nil, "")
	if err := json.Unmarshal(raw, &entries); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if len(entries) != 1 || entries[0].Asset != "ATOM" {
		t.Fatalf("unexpected entries %+v", entries)
	}
}

func mustAmount(t *testing.T, value string) *big.Int {
	t.Helper()
	out, ok := new(big.Int).SetString(value, 10)
	if !ok {
		t.Fatalf("invalid amount literal %q", value)
	}
	return out
}
