package state

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/hexresearch/hexstody-sub000/model"
)

var t0 = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

const depositAddr = "bcrt1qw508d6qejxtdg4y5r3zarvary0c5xw7kygt080"

type fixture struct {
	t   *testing.T
	st  *State
	now time.Time
}

func newFixture(t *testing.T) *fixture {
	return &fixture{t: t, st: New(model.Regtest), now: t0}
}

func (f *fixture) tick() time.Time {
	f.now = f.now.Add(time.Minute)
	return f.now
}

// apply folds into a clone and commits only on success.
func (f *fixture) apply(b Body) (*Derived, error) {
	next := f.st.Clone()
	d, err := next.Apply(Update{Created: f.tick(), Body: b})
	if err != nil {
		return nil, err
	}
	f.st = next
	return d, nil
}

func (f *fixture) must(b Body) *Derived {
	f.t.Helper()
	d, err := f.apply(b)
	require.NoError(f.t, err)
	return d
}

func (f *fixture) signup(user string) {
	f.t.Helper()
	inv := "invite-" + user
	f.must(GenInvite{model.InviteRecord{Invite: inv, Invitor: "op", Label: user}})
	f.must(SignupInfo{Username: user, Invite: inv, Auth: model.AuthMaterial{Kind: model.AuthPassword, PasswordHash: "hash"}})
}

func (f *fixture) deposit(user, txid string, amount, confs int64) {
	f.t.Helper()
	if _, pci := f.st.UserByAddress(model.BTC, depositAddr); pci == nil {
		f.must(DepositAllocation{User: user, Address: model.CurrencyAddress{Currency: model.BTC, Address: depositAddr}})
	}
	f.must(BtcTxUpdate{
		Direction:     Deposit,
		Txid:          txid,
		Address:       depositAddr,
		Amount:        amount,
		Confirmations: confs,
		Timestamp:     f.now,
	})
}

func (f *fixture) withdraw(user, id string, amount int64, k int) *Derived {
	f.t.Helper()
	return f.must(WithdrawalRequestInfo{
		ID:                    id,
		User:                  user,
		Address:               model.CurrencyAddress{Currency: model.BTC, Address: "bcrt1qexternal"},
		Amount:                amount,
		Fee:                   0,
		ConfirmationsRequired: k,
	})
}

func (f *fixture) btc(user string) *model.PerCurrencyInfo {
	return f.st.Users[user].Currency(model.BTC)
}

func (f *fixture) balances(user string) Balances {
	return UserBalances(f.st.Users[user], model.BTC)
}

func sig(key string) model.SignatureData {
	return model.SignatureData{Signature: "sig-" + key, Nonce: 1, PublicKey: key}
}

func requireKind(t *testing.T, err error, kind FoldErrorKind) {
	t.Helper()
	require.Error(t, err)
	var fe *FoldError
	require.ErrorAs(t, err, &fe)
	require.Equal(t, kind, fe.Kind, err.Error())
}

func mustJSON(t *testing.T, v any) string {
	t.Helper()
	raw, err := json.Marshal(v)
	require.NoError(t, err)
	return string(raw)
}
