package state

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/hexresearch/hexstody-sub000/model"
)

func history(f *fixture) []Update {
	bodies := []Body{
		GenInvite{model.InviteRecord{Invite: "inv", Invitor: "op", Label: "alice"}},
		SignupInfo{Username: "alice", Invite: "inv", Auth: model.AuthMaterial{Kind: model.AuthPassword, PasswordHash: "h"}},
		DepositAllocation{User: "alice", Address: model.CurrencyAddress{Currency: model.BTC, Address: depositAddr}},
		BtcTxUpdate{Direction: Deposit, Txid: "T1", Address: depositAddr, Amount: 5000, Confirmations: 1, Timestamp: t0},
		BtcTxUpdate{Direction: Deposit, Txid: "T1", Address: depositAddr, Amount: 5000, Confirmations: 6, Timestamp: t0},
		LimitChangeUpd{ID: "L", User: "alice", Currency: model.BTC, Limit: model.Limit{Amount: 1000, Span: model.SpanWeek}, ConfirmationsRequired: 1},
		LimitChangeDecision{ID: "L", User: "alice", Currency: model.BTC, Kind: Confirm, Signature: sig("P1")},
		WithdrawalRequestInfo{ID: "W", User: "alice", Address: model.CurrencyAddress{Currency: model.BTC, Address: "bcrt1qext"}, Amount: 2000, ConfirmationsRequired: 2},
		WithdrawalDecision{RequestID: "W", User: "alice", Kind: Confirm, Signature: sig("P1")},
		BtcBestBlock{Height: 101, Hash: "00ff"},
	}
	out := make([]Update, len(bodies))
	for i, b := range bodies {
		out[i] = Update{Created: f.tick(), Body: b}
	}
	return out
}

// roundTrip stores an update the way the log does.
func roundTrip(t *testing.T, u Update) Update {
	t.Helper()
	tag, ver, raw, err := Encode(u.Body)
	require.NoError(t, err)
	body, err := Decode(tag, ver, raw)
	require.NoError(t, err)
	return Update{Created: u.Created, Body: body}
}

func TestSnapshotReplay(t *testing.T) {
	f := newFixture(t)
	events := history(f)

	full := New(model.Regtest)
	for _, e := range events {
		_, err := full.Apply(roundTrip(t, e))
		require.NoError(t, err)
	}

	prefix := New(model.Regtest)
	for _, e := range events[:7] {
		_, err := prefix.Apply(roundTrip(t, e))
		require.NoError(t, err)
	}
	snap := roundTrip(t, Update{Created: events[6].Created, Body: Snapshot{State: prefix.Clone()}})

	// replay from the snapshot forward, starting from an unrelated state
	replayed := New(model.Mainnet)
	_, err := replayed.Apply(snap)
	require.NoError(t, err)
	for _, e := range events[7:] {
		_, err := replayed.Apply(roundTrip(t, e))
		require.NoError(t, err)
	}

	require.JSONEq(t, mustJSON(t, full), mustJSON(t, replayed))
	require.Equal(t, model.Regtest, replayed.Network)
	require.Equal(t, model.InProgress(1), replayed.Users["alice"].Currency(model.BTC).WithdrawalRequests["W"].Status)
}

func TestCloneIsDeep(t *testing.T) {
	f := newFixture(t)
	f.signup("alice")
	f.deposit("alice", "T", 100, 6)
	f.withdraw("alice", "W", 10, 2)

	cp := f.st.Clone()
	require.Equal(t, mustJSON(t, f.st), mustJSON(t, cp))

	_, err := cp.Apply(Update{Created: f.tick(), Body: WithdrawalDecision{RequestID: "W", User: "alice", Kind: Confirm, Signature: sig("P1")}})
	require.NoError(t, err)
	require.Empty(t, f.btc("alice").WithdrawalRequests["W"].Confirmations)
	require.Len(t, cp.Users["alice"].Currency(model.BTC).WithdrawalRequests["W"].Confirmations, 1)
}
