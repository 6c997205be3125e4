package handler_test

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/hexresearch/hexstody-sub000/handler"
	"github.com/hexresearch/hexstody-sub000/model"
	"github.com/hexresearch/hexstody-sub000/router"
	"github.com/hexresearch/hexstody-sub000/service"
	"github.com/hexresearch/hexstody-sub000/signature"
	"github.com/hexresearch/hexstody-sub000/state"
	"github.com/hexresearch/hexstody-sub000/user_service"
)

const (
	testMnemonic   = "abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon about"
	operatorDomain = "http://operator.test"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type memLog struct {
	mu sync.Mutex
	n  uint64
}

func (m *memLog) Append(_ context.Context, upd state.Update) (uint64, error) {
	if _, _, _, err := state.Encode(upd.Body); err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.n++
	return m.n, nil
}

type env struct {
	t        *testing.T
	shared   *service.SharedState
	worker   *service.Worker
	pool     *service.HDAddressPool
	public   *gin.Engine
	operator *gin.Engine
	keys     []*ecdsa.PrivateKey
	nonce    uint64
}

func newEnv(t *testing.T) *env {
	t.Helper()
	shared := service.NewSharedState(state.New(model.Regtest))
	w := service.NewWorker(service.WorkerConfig{RetryDelay: time.Millisecond}, &memLog{}, shared, zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	go w.Run(ctx)
	t.Cleanup(func() {
		cancel()
		<-w.Done()
	})

	pool, err := service.NewHDAddressPool(testMnemonic, model.Regtest)
	require.NoError(t, err)

	var keys []*ecdsa.PrivateKey
	var pubs []*ecdsa.PublicKey
	for i := 0; i < 2; i++ {
		k, err := signature.GenerateKey()
		require.NoError(t, err)
		keys = append(keys, k)
		pubs = append(pubs, &k.PublicKey)
	}
	gate, err := signature.NewGate(pubs)
	require.NoError(t, err)

	thresholds := service.Thresholds{Withdraw: 2, ChangeLimit: 2, Exchange: 1}
	wallet := service.NewWalletService(shared, w, pool, nil, nil, thresholds)
	op := service.NewOperatorService(shared, w, nil, nil, thresholds)
	tokens := user_service.NewTokenManager(bytes.Repeat([]byte{7}, 64), "hexstody", time.Hour)
	users := user_service.NewService(wallet, tokens)

	return &env{
		t:        t,
		shared:   shared,
		worker:   w,
		pool:     pool,
		public:   router.NewPublicRouter(zap.NewNop(), handler.NewWalletHandler(wallet, users), tokens),
		operator: router.NewOperatorRouter(zap.NewNop(), handler.NewOperatorHandler(op), gate, operatorDomain),
		keys:     keys,
	}
}

func encode(t *testing.T, body any) []byte {
	t.Helper()
	if body == nil {
		return nil
	}
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	return raw
}

func serve(r http.Handler, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

// do sends an operator request signed by keys[key].
func (e *env) do(key int, method, path string, body any) *httptest.ResponseRecorder {
	e.t.Helper()
	raw := encode(e.t, body)
	e.nonce++
	hdr, err := signature.Sign(e.keys[key], operatorDomain+path, raw, e.nonce)
	require.NoError(e.t, err)
	req := httptest.NewRequest(method, path, bytes.NewReader(raw))
	req.Header.Set(signature.HeaderName, hdr)
	req.Header.Set("Content-Type", "application/json")
	return serve(e.operator, req)
}

func (e *env) user(token, method, path string, body any) *httptest.ResponseRecorder {
	e.t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewReader(encode(e.t, body)))
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return serve(e.public, req)
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func requireError(t *testing.T, rec *httptest.ResponseRecorder, status int, subtype string) {
	t.Helper()
	require.Equal(t, status, rec.Code, rec.Body.String())
	body := decode[map[string]any](t, rec)
	require.Equal(t, subtype, body["subtype"])
	require.EqualValues(t, status, body["status"])
}

// register creates an account through the API and returns its session token.
func (e *env) register(name string) string {
	e.t.Helper()
	rec := e.do(0, http.MethodPost, "/api/operator/invite/generate", map[string]string{"label": name})
	require.Equal(e.t, http.StatusOK, rec.Code, rec.Body.String())
	inv := decode[model.InviteRecord](e.t, rec)

	rec = e.user("", http.MethodPost, "/api/wallet/signup", map[string]any{
		"username": name, "password": "secret-pass", "invite": inv.Invite, "email": name + "@example.com",
	})
	require.Equal(e.t, http.StatusOK, rec.Code, rec.Body.String())

	rec = e.user("", http.MethodPost, "/api/wallet/signin", map[string]string{"username": name, "password": "secret-pass"})
	require.Equal(e.t, http.StatusOK, rec.Code, rec.Body.String())
	return decode[map[string]string](e.t, rec)["token"]
}

func (e *env) deposit(token string, amount int64) string {
	e.t.Helper()
	rec := e.user(token, http.MethodGet, "/api/wallet/deposit/address?currency=BTC", nil)
	require.Equal(e.t, http.StatusOK, rec.Code, rec.Body.String())
	addr := decode[map[string]string](e.t, rec)["address"]
	_, err := e.worker.Send(context.Background(), state.BtcTxUpdate{
		Direction: state.Deposit, Txid: "dep-" + addr, Address: addr, Amount: amount, Confirmations: 6, Timestamp: time.Now().UTC(),
	})
	require.NoError(e.t, err)
	return addr
}

func TestSignupAndSignin(t *testing.T) {
	e := newEnv(t)
	token := e.register("alice")
	require.NotEmpty(t, token)

	var email *string
	e.shared.Read(func(st *state.State) { email = st.Users["alice"].Config.Email })
	require.NotNil(t, email)
	require.Equal(t, "alice@example.com", *email)

	rec := e.user("", http.MethodPost, "/api/wallet/signin", map[string]string{"username": "alice", "password": "wrong-pass"})
	requireError(t, rec, http.StatusUnauthorized, "signin_failed")

	rec = e.user("", http.MethodPost, "/api/wallet/signup", map[string]any{"username": "bob", "password": "secret-pass", "invite": "nope"})
	require.Equal(t, http.StatusNotFound, rec.Code, rec.Body.String())
	require.Equal(t, "invite_not_found", decode[map[string]any](t, rec)["subtype"])

	rec = e.user("", http.MethodPost, "/api/wallet/signup", map[string]any{"username": "bo", "password": "secret-pass", "invite": "x"})
	requireError(t, rec, http.StatusBadRequest, "signup_name_too_short")
}

func TestAuthRequired(t *testing.T) {
	e := newEnv(t)
	rec := e.user("", http.MethodGet, "/api/wallet/balance", nil)
	requireError(t, rec, http.StatusUnauthorized, "auth_required")

	rec = e.user("garbage", http.MethodGet, "/api/wallet/balance", nil)
	requireError(t, rec, http.StatusUnauthorized, "invalid_session")
}

func TestBalanceAndHistory(t *testing.T) {
	e := newEnv(t)
	token := e.register("alice")
	e.deposit(token, 150_000_000)

	rec := e.user(token, http.MethodGet, "/api/wallet/balance", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	rows := decode[[]map[string]any](t, rec)
	require.Len(t, rows, 2)
	byCur := map[string]map[string]any{}
	for _, r := range rows {
		byCur[r["currency"].(string)] = r
	}
	require.Equal(t, "1.5", byCur["BTC"]["total"])
	require.Equal(t, "1.5", byCur["BTC"]["available"])
	require.Equal(t, "0", byCur["ETH"]["total"])

	rec = e.user(token, http.MethodGet, "/api/wallet/history?currency=BTC&limit=10", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	items := decode[[]map[string]any](t, rec)
	require.Len(t, items, 1)
	require.Equal(t, "deposit", items[0]["kind"])
	require.Equal(t, "1.5", items[0]["amount"])

	rec = e.user(token, http.MethodGet, "/api/wallet/history?limit=-1", nil)
	requireError(t, rec, http.StatusBadRequest, "bad_request")
}

func TestWithdrawNeedsOperators(t *testing.T) {
	e := newEnv(t)
	token := e.register("alice")
	e.deposit(token, 100_000_000)
	dest, err := e.pool.NewAddress(context.Background(), model.BTC, 50)
	require.NoError(t, err)

	rec := e.user(token, http.MethodPost, "/api/wallet/withdraw", map[string]string{"currency": "BTC", "address": dest, "amount": "0.000000001"})
	requireError(t, rec, http.StatusBadRequest, "bad_request")

	rec = e.user(token, http.MethodPost, "/api/wallet/withdraw", map[string]string{"currency": "BTC", "address": dest, "amount": "0.4"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	w := decode[map[string]any](t, rec)
	require.Equal(t, "overlimit", w["request_type"])
	require.Equal(t, "in_progress", w["status"])
	id := w["id"].(string)

	rec = e.do(0, http.MethodGet, "/api/operator/request", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.Len(t, decode[[]model.WithdrawalRequest](t, rec), 1)

	decision := map[string]string{"id": id, "user": "alice"}
	rec = e.do(0, http.MethodPost, "/api/operator/confirm", decision)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	rec = e.do(0, http.MethodPost, "/api/operator/confirm", decision)
	requireError(t, rec, http.StatusConflict, "withdrawal_request_already_confirmed_by_this_key")
	rec = e.do(1, http.MethodPost, "/api/operator/confirm", decision)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var status model.WithdrawalStatusKind
	e.shared.Read(func(st *state.State) {
		_, r := st.Users["alice"].FindWithdrawal(id)
		status = r.Status.Kind
	})
	require.Equal(t, model.WithdrawalConfirmed, status)

	rec = e.user(token, http.MethodGet, "/api/wallet/balance", nil)
	for _, r := range decode[[]map[string]any](t, rec) {
		if r["currency"] == "BTC" {
			require.Equal(t, "0.4", r["reserved"])
			require.Equal(t, "0.6", r["available"])
		}
	}
}

func TestLimitChangeFlow(t *testing.T) {
	e := newEnv(t)
	token := e.register("alice")

	rec := e.user(token, http.MethodPost, "/api/wallet/limits", map[string]string{"currency": "BTC", "amount": "0.1", "span": "year"})
	requireError(t, rec, http.StatusBadRequest, "bad_request")

	rec = e.user(token, http.MethodPost, "/api/wallet/limits", map[string]string{"currency": "BTC", "amount": "0.1", "span": "week"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	id := decode[map[string]string](t, rec)["id"]

	rec = e.do(0, http.MethodGet, "/api/operator/changes", nil)
	require.Len(t, decode[[]model.LimitChangeRequest](t, rec), 1)

	for key := 0; key < 2; key++ {
		rec = e.do(key, http.MethodPost, "/api/operator/limits/confirm", map[string]string{"id": id, "user": "alice", "currency": "BTC"})
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	}

	rec = e.user(token, http.MethodGet, "/api/wallet/limits", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	for _, l := range decode[[]map[string]any](t, rec) {
		if l["currency"] == "BTC" {
			require.Equal(t, "0.1", l["amount"])
			require.Equal(t, "week", l["span"])
			require.Nil(t, l["pending"])
		}
	}
}

func TestProfileAndTokens(t *testing.T) {
	e := newEnv(t)
	token := e.register("alice")

	rec := e.user(token, http.MethodPost, "/api/wallet/profile/config", map[string]string{"phone": "12"})
	requireError(t, rec, http.StatusBadRequest, "invalid_phone")

	rec = e.user(token, http.MethodPost, "/api/wallet/profile/config", map[string]string{"phone": "+15550100200", "tg": "@alice"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = e.user(token, http.MethodPost, "/api/wallet/profile/language", map[string]string{"language": "ru"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = e.user(token, http.MethodPost, "/api/wallet/tokens/enable", map[string]string{"currency": "USDT"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	rec = e.user(token, http.MethodPost, "/api/wallet/tokens/enable", map[string]string{"currency": "USDT"})
	require.Equal(t, "token_already_enabled", decode[map[string]any](t, rec)["subtype"])

	e.shared.Read(func(st *state.State) {
		u := st.Users["alice"]
		require.Equal(t, "ru", u.Language)
		require.Equal(t, "+15550100200", *u.Config.Phone)
		require.NotNil(t, u.Currency(model.TokenCurrency(model.SupportedTokens[0])))
	})
}

func TestOperatorSignatureRequired(t *testing.T) {
	e := newEnv(t)

	req := httptest.NewRequest(http.MethodGet, "/api/operator/request", nil)
	rec := serve(e.operator, req)
	require.Equal(t, http.StatusUnauthorized, rec.Code, rec.Body.String())

	// signed for another body
	raw := []byte(`{"label":"a"}`)
	hdr, err := signature.Sign(e.keys[0], operatorDomain+"/api/operator/invite/generate", raw, 1)
	require.NoError(t, err)
	req = httptest.NewRequest(http.MethodPost, "/api/operator/invite/generate", bytes.NewReader([]byte(`{"label":"b"}`)))
	req.Header.Set(signature.HeaderName, hdr)
	rec = serve(e.operator, req)
	require.Equal(t, http.StatusUnauthorized, rec.Code, rec.Body.String())

	// signed for another endpoint
	raw = []byte(`{"id":"r","user":"alice"}`)
	hdr, err = signature.Sign(e.keys[0], operatorDomain+"/api/operator/confirm", raw, 42)
	require.NoError(t, err)
	req = httptest.NewRequest(http.MethodPost, "/api/operator/reject", bytes.NewReader(raw))
	req.Header.Set(signature.HeaderName, hdr)
	rec = serve(e.operator, req)
	require.Equal(t, http.StatusUnauthorized, rec.Code, rec.Body.String())

	stranger, err := signature.GenerateKey()
	require.NoError(t, err)
	hdr, err = signature.Sign(stranger, operatorDomain+"/api/operator/request", nil, 1)
	require.NoError(t, err)
	req = httptest.NewRequest(http.MethodGet, "/api/operator/request", nil)
	req.Header.Set(signature.HeaderName, hdr)
	rec = serve(e.operator, req)
	require.Equal(t, http.StatusForbidden, rec.Code, rec.Body.String())
}

func TestInvitesArePerOperator(t *testing.T) {
	e := newEnv(t)
	require.Equal(t, http.StatusOK, e.do(0, http.MethodPost, "/api/operator/invite/generate", map[string]string{"label": "one"}).Code)
	require.Equal(t, http.StatusOK, e.do(1, http.MethodPost, "/api/operator/invite/generate", map[string]string{"label": "two"}).Code)

	rec := e.do(0, http.MethodGet, "/api/operator/invite/listmy", nil)
	list := decode[[]model.InviteRecord](t, rec)
	require.Len(t, list, 1)
	require.Equal(t, "one", list[0].Label)
}

func TestExchangeFlow(t *testing.T) {
	e := newEnv(t)
	token := e.register("alice")
	e.deposit(token, 100_000_000)

	rec := e.user(token, http.MethodPost, "/api/wallet/exchange", map[string]string{"from": "BTC", "to": "ETH", "amount_from": "0.1", "amount_to": "1.5"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	id := decode[map[string]string](t, rec)["id"]

	rec = e.do(0, http.MethodGet, "/api/operator/exchange", nil)
	require.Len(t, decode[[]model.ExchangeOrder](t, rec), 1)

	rec = e.do(0, http.MethodPost, "/api/operator/exchange/confirm", map[string]string{"id": id, "user": "alice", "currency": "BTC"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = e.user(token, http.MethodGet, "/api/wallet/balance", nil)
	for _, r := range decode[[]map[string]any](t, rec) {
		switch r["currency"] {
		case "BTC":
			require.Equal(t, "0.9", r["finalized"])
		case "ETH":
			require.Equal(t, "1.5", r["finalized"])
		}
	}
}

func TestHealth(t *testing.T) {
	e := newEnv(t)
	rec := serve(e.public, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)
}
