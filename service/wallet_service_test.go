package service

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"github.com/hexresearch/hexstody-sub000/adapter"
	"github.com/hexresearch/hexstody-sub000/model"
	"github.com/hexresearch/hexstody-sub000/state"
)

type fakeFees struct {
	fees *adapter.Fees
	err  error
}

func (f fakeFees) GetFees(context.Context) (*adapter.Fees, error) { return f.fees, f.err }

func walletHarness(t *testing.T) (*harness, *WalletService, *fakeNode) {
	t.Helper()
	h := newHarness(t, WorkerConfig{})
	node := newFakeNode(0)
	ws := NewWalletService(h.shared, h.worker, h.pool, node, fakeFees{fees: &adapter.Fees{FeeRate: 2}}, Thresholds{Withdraw: 2, ChangeLimit: 2, Exchange: 1})
	return h, ws, node
}

func TestWalletSignup(t *testing.T) {
	h, ws, _ := walletHarness(t)
	ctx := context.Background()
	h.send(state.GenInvite{InviteRecord: model.InviteRecord{Invite: "inv", Invitor: "op"}})

	auth := model.AuthMaterial{Kind: model.AuthPassword, PasswordHash: "hash"}
	require.NoError(t, ws.Signup(ctx, "bob", "inv", auth))
	requireFoldKind(t, ws.Signup(ctx, "carol", "inv", auth), state.InviteNotFound)
	requireFoldKind(t, ws.Signup(ctx, "eve", "missing", auth), state.InviteNotFound)

	u, err := ws.User("bob")
	require.NoError(t, err)
	require.Equal(t, "inv", u.Invite)
	_, err = ws.User("nobody")
	requireFoldKind(t, err, state.UserNotFound)
}

func TestWalletDepositAddress(t *testing.T) {
	h, ws, _ := walletHarness(t)
	h.signup("alice")
	h.signup("bob")
	ctx := context.Background()

	a1, err := ws.DepositAddress(ctx, "alice", "BTC", false)
	require.NoError(t, err)
	require.Equal(t, h.addr(model.BTC, 0), a1.Address)

	again, err := ws.DepositAddress(ctx, "alice", "BTC", false)
	require.NoError(t, err)
	require.Equal(t, a1, again)

	// indexes are global across users
	b1, err := ws.DepositAddress(ctx, "bob", "BTC", false)
	require.NoError(t, err)
	require.Equal(t, h.addr(model.BTC, 1), b1.Address)

	a2, err := ws.DepositAddress(ctx, "alice", "BTC", true)
	require.NoError(t, err)
	require.Equal(t, h.addr(model.BTC, 2), a2.Address)

	// tokens share the ethereum address
	require.NoError(t, ws.UpdateToken(ctx, "alice", "USDT", state.TokenEnable))
	tok, err := ws.DepositAddress(ctx, "alice", "USDT", false)
	require.NoError(t, err)
	eth, err := ws.DepositAddress(ctx, "alice", "ETH", false)
	require.NoError(t, err)
	require.Equal(t, eth.Address, tok.Address)
	require.Equal(t, "USDT", tok.Currency.Ticker())

	_, err = ws.DepositAddress(ctx, "alice", "CRV", false)
	requireFoldKind(t, err, state.UserMissingCurrency)
	_, err = ws.DepositAddress(ctx, "alice", "DOGE", false)
	requireFoldKind(t, err, state.UnknownCurrency)

	noSource := NewWalletService(h.shared, h.worker, nil, nil, nil, Thresholds{})
	_, err = noSource.DepositAddress(ctx, "bob", "ETH", false)
	requireServiceKind(t, err, NoAddressSource)
}

func TestWalletWithdraw(t *testing.T) {
	h, ws, _ := walletHarness(t)
	h.signup("alice")
	h.fund("alice", 0, 10_000)
	ctx := context.Background()
	dest := h.addr(model.BTC, 8)

	_, err := ws.Withdraw(ctx, "alice", "BTC", "not-an-address", 100)
	requireServiceKind(t, err, InvalidInput)
	_, err = ws.Withdraw(ctx, "alice", "BTC", dest, 0)
	requireServiceKind(t, err, InvalidInput)
	_, err = ws.Withdraw(ctx, "alice", "BTC", dest, 9_800)
	requireFoldKind(t, err, state.InsufficientFunds)

	req, err := ws.Withdraw(ctx, "alice", "BTC", dest, 1_000)
	require.NoError(t, err)
	require.Equal(t, int64(2*btcWithdrawVBytes), req.Fee)
	require.Equal(t, model.OverLimit, req.RequestType)
	require.Equal(t, model.WithdrawalInProgress, req.Status.Kind)
	require.Equal(t, 2, req.ConfirmationsRequired)

	bal, err := ws.Balances(ctx, "alice")
	require.NoError(t, err)
	require.Equal(t, "BTC", bal[0].Currency.Ticker())
	require.Equal(t, int64(1_000+2*btcWithdrawVBytes), bal[0].Reserved)
	require.Equal(t, int64(10_000-1_000-2*btcWithdrawVBytes), bal[0].Available)

	failing := NewWalletService(h.shared, h.worker, h.pool, nil, fakeFees{err: errors.New("down")}, Thresholds{})
	_, err = failing.Withdraw(ctx, "alice", "BTC", dest, 10)
	requireServiceKind(t, err, AdapterFailure)
}

func TestWalletEstimateFee(t *testing.T) {
	_, ws, node := walletHarness(t)
	ctx := context.Background()
	node.gasFee = 420_001

	cases := []struct {
		cur  model.Currency
		want int64
	}{
		{model.BTC, 2 * btcWithdrawVBytes},
		{model.ETH, 420_001},
		{model.TokenCurrency(model.SupportedTokens[0]), 0},
	}
	for _, c := range cases {
		fee, err := ws.EstimateFee(ctx, c.cur)
		require.NoError(t, err)
		require.Equal(t, c.want, fee, c.cur.Ticker())
	}
}

func TestWalletUnderLimit(t *testing.T) {
	h, ws, _ := walletHarness(t)
	h.signup("alice")
	h.fund("alice", 0, 10_000)
	ctx := context.Background()

	id, err := ws.RequestLimitChange(ctx, "alice", "BTC", model.Limit{Amount: 5_000, Span: model.SpanDay})
	require.NoError(t, err)
	for _, key := range []string{"P1", "P2"} {
		h.send(state.LimitChangeDecision{ID: id, User: "alice", Currency: model.BTC, Kind: state.Confirm, Signature: sig(key)})
	}

	req, err := ws.Withdraw(ctx, "alice", "BTC", h.addr(model.BTC, 8), 1_000)
	require.NoError(t, err)
	require.Equal(t, model.UnderLimit, req.RequestType)
	require.Equal(t, model.WithdrawalConfirmed, req.Status.Kind)

	limits, err := ws.Limits("alice")
	require.NoError(t, err)
	require.Equal(t, "BTC", limits[0].Currency.Ticker())
	require.Equal(t, int64(5_000), limits[0].Limit.Amount)
	require.Equal(t, int64(1_000+2*btcWithdrawVBytes), limits[0].Spent)
}

func TestWalletTokenWithdraw(t *testing.T) {
	h, ws, node := walletHarness(t)
	h.signup("alice")
	ctx := context.Background()
	require.NoError(t, ws.UpdateToken(ctx, "alice", "USDT", state.TokenEnable))
	addr, err := ws.DepositAddress(ctx, "alice", "USDT", false)
	require.NoError(t, err)

	usdtContract := common.HexToAddress(usdt.Contract)
	node.balances[usdtContract.Hex()+common.HexToAddress(addr.Address).Hex()] = big.NewInt(700)

	bal, err := ws.Balances(ctx, "alice")
	require.NoError(t, err)
	var token *CurrencyBalance
	for i := range bal {
		if bal[i].Currency.Ticker() == "USDT" {
			token = &bal[i]
		}
	}
	require.NotNil(t, token)
	require.Equal(t, int64(700), token.Token.Int64())

	dest := h.addr(model.ETH, 9)
	_, err = ws.Withdraw(ctx, "alice", "USDT", dest, 701)
	requireFoldKind(t, err, state.InsufficientFunds)
	req, err := ws.Withdraw(ctx, "alice", "USDT", dest, 700)
	require.NoError(t, err)
	require.Zero(t, req.Fee)
	require.Equal(t, model.WithdrawalInProgress, req.Status.Kind)

	// open and completed requests both hold the projection
	_, err = ws.Withdraw(ctx, "alice", "USDT", dest, 700)
	requireFoldKind(t, err, state.InsufficientFunds)
	for _, key := range []string{"P1", "P2"} {
		h.send(state.WithdrawalDecision{RequestID: req.ID, User: "alice", Kind: state.Confirm, Signature: sig(key)})
	}
	h.send(state.WithdrawalNodeUpdate{RequestID: req.ID, User: "alice", Completed: &model.CompletedInfo{ConfirmedAt: time.Now().UTC(), Txid: "0xpaid"}})
	_, err = ws.Withdraw(ctx, "alice", "USDT", dest, 1)
	requireFoldKind(t, err, state.InsufficientFunds)

	// fresh deposits on the addresses free the difference
	node.balances[usdtContract.Hex()+common.HexToAddress(addr.Address).Hex()] = big.NewInt(1_000)
	_, err = ws.Withdraw(ctx, "alice", "USDT", dest, 300)
	require.NoError(t, err)

	requireFoldKind(t, ws.UpdateToken(ctx, "alice", "USDT", state.TokenDisable), state.TokenNonZeroBalance)
	requireFoldKind(t, ws.UpdateToken(ctx, "alice", "BTC", state.TokenEnable), state.UnknownCurrency)
}

func TestWalletHistory(t *testing.T) {
	h, ws, _ := walletHarness(t)
	h.signup("alice")
	addr := h.fund("alice", 0, 10_000)
	ctx := context.Background()
	h.send(state.BtcTxUpdate{Direction: state.Deposit, Txid: "later", Address: addr, Amount: 300, Confirmations: 1, Timestamp: time.Now().UTC().Add(time.Hour)})
	_, err := ws.Withdraw(ctx, "alice", "BTC", h.addr(model.BTC, 8), 1_000)
	require.NoError(t, err)

	items, err := ws.History("alice", "", 0)
	require.NoError(t, err)
	require.Len(t, items, 3)
	require.Equal(t, "later", items[0].Txid)
	require.Equal(t, HistoryDeposit, items[0].Kind)

	var kinds []HistoryKind
	for _, it := range items {
		kinds = append(kinds, it.Kind)
	}
	require.Contains(t, kinds, HistoryWithdrawal)

	limited, err := ws.History("alice", "BTC", 1)
	require.NoError(t, err)
	require.Len(t, limited, 1)

	eth, err := ws.History("alice", "ETH", 0)
	require.NoError(t, err)
	require.Empty(t, eth)
}

func TestWalletLimitChanges(t *testing.T) {
	h, ws, _ := walletHarness(t)
	h.signup("alice")
	ctx := context.Background()

	_, err := ws.RequestLimitChange(ctx, "alice", "BTC", model.Limit{Amount: -1, Span: model.SpanDay})
	requireServiceKind(t, err, InvalidInput)
	_, err = ws.RequestLimitChange(ctx, "alice", "BTC", model.Limit{Amount: 1, Span: "year"})
	requireServiceKind(t, err, InvalidInput)
	_, err = ws.RequestLimitChange(ctx, "alice", "BTC", model.Limit{Amount: model.MaxLimitAmount + 1, Span: model.SpanDay})
	requireFoldKind(t, err, state.LimitOverflow)

	first, err := ws.RequestLimitChange(ctx, "alice", "BTC", model.Limit{Amount: 10, Span: model.SpanWeek})
	require.NoError(t, err)
	second, err := ws.RequestLimitChange(ctx, "alice", "BTC", model.Limit{Amount: 20, Span: model.SpanWeek})
	require.NoError(t, err)
	require.NotEqual(t, first, second)

	limits, err := ws.Limits("alice")
	require.NoError(t, err)
	require.Equal(t, second, limits[0].Pending.ID)

	require.NoError(t, ws.CancelLimitChange(ctx, "alice", "BTC"))
	requireFoldKind(t, ws.CancelLimitChange(ctx, "alice", "BTC"), state.LimitChangeNotFound)
}

func TestWalletProfile(t *testing.T) {
	h, ws, _ := walletHarness(t)
	h.signup("alice")
	ctx := context.Background()

	require.NoError(t, ws.SetLanguage(ctx, "alice", " RU "))
	requireServiceKind(t, ws.SetLanguage(ctx, "alice", "x"), InvalidInput)

	email := "a@example.com"
	require.NoError(t, ws.UpdateConfig(ctx, state.ConfigUpdate{User: "alice", Email: &email}))
	key := "MFkwEwYHKoZIzj0CAQYIKoZIzj0DAQcDQgAE"
	require.NoError(t, ws.SetPublicKey(ctx, "alice", &key))

	u, err := ws.User("alice")
	require.NoError(t, err)
	require.Equal(t, "ru", u.Language)
	require.Equal(t, email, *u.Config.Email)
	require.Equal(t, key, *u.PublicKey)

	require.NoError(t, ws.SetPublicKey(ctx, "alice", nil))
	u, _ = ws.User("alice")
	require.Nil(t, u.PublicKey)
}

func TestWalletExchange(t *testing.T) {
	h, ws, _ := walletHarness(t)
	h.signup("alice")
	h.fund("alice", 0, 10_000)
	ctx := context.Background()

	_, err := ws.Exchange(ctx, "alice", "BTC", "BTC", 1, 1)
	requireServiceKind(t, err, InvalidInput)
	_, err = ws.Exchange(ctx, "alice", "BTC", "ETH", 20_000, 1)
	requireFoldKind(t, err, state.InsufficientFunds)

	id, err := ws.Exchange(ctx, "alice", "BTC", "ETH", 4_000, 70)
	require.NoError(t, err)
	u, _ := ws.User("alice")
	require.Contains(t, u.Currency(model.BTC).ExchangeRequests, id)
	require.Equal(t, int64(6_000), state.UserBalances(u, model.BTC).Available)
	require.True(t, IsFoldError(&state.FoldError{Kind: state.UserNotFound}))
	require.False(t, IsFoldError(errors.New("x")))
}
