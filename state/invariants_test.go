package state

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/hexresearch/hexstody-sub000/model"
)

func TestWindowSpendCountsEveryRequestType(t *testing.T) {
	cases := []struct {
		name string
		// moves the over-limit request BIG to its final status
		settle func(f *fixture)
		want   model.WithdrawalRequestType
	}{
		{"pending", func(*fixture) {}, model.UnderLimit},
		{"confirmed", func(f *fixture) {
			f.must(WithdrawalDecision{RequestID: "BIG", User: "alice", Kind: Confirm, Signature: sig("P1")})
		}, model.OverLimit},
		{"completed", func(f *fixture) {
			f.must(WithdrawalDecision{RequestID: "BIG", User: "alice", Kind: Confirm, Signature: sig("P1")})
			f.must(WithdrawalNodeUpdate{RequestID: "BIG", User: "alice", Completed: &model.CompletedInfo{ConfirmedAt: f.now, Txid: "big"}})
		}, model.OverLimit},
		{"operator rejected", func(f *fixture) {
			f.must(WithdrawalDecision{RequestID: "BIG", User: "alice", Kind: Reject, Signature: sig("P1")})
		}, model.UnderLimit},
		{"node rejected", func(f *fixture) {
			f.must(WithdrawalDecision{RequestID: "BIG", User: "alice", Kind: Confirm, Signature: sig("P1")})
			reason := "dust"
			f.must(WithdrawalNodeUpdate{RequestID: "BIG", User: "alice", Rejected: &reason})
		}, model.UnderLimit},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			f := newFixture(t)
			f.signup("alice")
			f.deposit("alice", "dep1", 100_000, 6)
			setLimit(f, "alice", 1000, model.SpanDay)

			f.withdraw("alice", "BIG", 50_000, 1)
			require.Equal(t, model.OverLimit, f.btc("alice").WithdrawalRequests["BIG"].RequestType)
			c.settle(f)

			f.withdraw("alice", "NEXT", 1000, 2)
			info := f.btc("alice")
			require.Equal(t, c.want, info.WithdrawalRequests["NEXT"].RequestType)
			require.LessOrEqual(t, info.LimitInfo.Spent, info.LimitInfo.Limit.Amount)
		})
	}
}

func TestTokenProjectionSpentOnce(t *testing.T) {
	usdt := model.SupportedTokens[0]
	cur := model.TokenCurrency(usdt)
	dest := model.CurrencyAddress{Currency: cur, Address: "0x2"}
	projected := int64(700)

	cases := []struct {
		name   string
		settle func(f *fixture)
		ok     bool
	}{
		{"pending", func(*fixture) {}, false},
		{"confirmed", func(f *fixture) {
			f.must(WithdrawalDecision{RequestID: "T1", User: "alice", Kind: Confirm, Signature: sig("P1")})
		}, false},
		{"completed", func(f *fixture) {
			f.must(WithdrawalDecision{RequestID: "T1", User: "alice", Kind: Confirm, Signature: sig("P1")})
			f.must(WithdrawalNodeUpdate{RequestID: "T1", User: "alice", Completed: &model.CompletedInfo{ConfirmedAt: f.now, Txid: "0xt1"}})
		}, false},
		{"operator rejected", func(f *fixture) {
			f.must(WithdrawalDecision{RequestID: "T1", User: "alice", Kind: Reject, Signature: sig("P1")})
		}, true},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			f := newFixture(t)
			f.signup("alice")
			f.must(TokenUpdate{User: "alice", Token: usdt, Action: TokenEnable})

			_, err := f.apply(WithdrawalRequestInfo{ID: "T0", User: "alice", Address: dest, Amount: projected + 1, ConfirmationsRequired: 1, TokenBalance: &projected})
			requireKind(t, err, InsufficientFunds)
			f.must(WithdrawalRequestInfo{ID: "T1", User: "alice", Address: dest, Amount: projected, ConfirmationsRequired: 1, TokenBalance: &projected})
			c.settle(f)

			// the deposit addresses still hold the same balance
			_, err = f.apply(WithdrawalRequestInfo{ID: "T2", User: "alice", Address: dest, Amount: projected, ConfirmationsRequired: 1, TokenBalance: &projected})
			if c.ok {
				require.NoError(t, err)
				return
			}
			requireKind(t, err, InsufficientFunds)
			require.Equal(t, int64(0), TokenAvailable(f.st.Users["alice"].Currency(cur), projected))
		})
	}
}

func TestFinalizedNeverNegative(t *testing.T) {
	cases := []struct {
		name     string
		reserved int64
		network  int64
		onChain  bool
	}{
		{"network fee above reserve", 100, 150, false},
		{"network fee above reserve seen on chain", 100, 150, true},
		{"nothing reserved", 0, 150, false},
		{"network fee equal to reserve", 100, 100, true},
		{"network fee below reserve", 100, 40, false},
		{"network fee below reserve seen on chain", 100, 40, true},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			f := newFixture(t)
			f.signup("alice")
			f.deposit("alice", "dep1", 1000, 6)
			amount := 1000 - c.reserved
			f.must(WithdrawalRequestInfo{ID: "R", User: "alice", Address: model.CurrencyAddress{Currency: model.BTC, Address: "bcrt1qexternal"}, Amount: amount, Fee: c.reserved, ConfirmationsRequired: 1})
			require.Equal(t, int64(0), f.balances("alice").Available)

			f.must(WithdrawalDecision{RequestID: "R", User: "alice", Kind: Confirm, Signature: sig("P1")})
			f.must(WithdrawalNodeUpdate{RequestID: "R", User: "alice", Completed: &model.CompletedInfo{ConfirmedAt: f.now, Txid: "out1", Fee: c.network}})
			if c.onChain {
				fee := c.network
				f.must(BtcTxUpdate{Direction: Withdraw, Txid: "out1", Address: "bcrt1qexternal", Amount: amount, Confirmations: 6, Timestamp: f.now, Fee: &fee})
			}

			b := f.balances("alice")
			require.GreaterOrEqual(t, b.Finalized, int64(0))
			require.GreaterOrEqual(t, b.Total, int64(0))
			require.Equal(t, c.reserved-min(c.network, c.reserved), b.Finalized)
			require.Equal(t, b.Finalized, b.Available)
		})
	}
}
