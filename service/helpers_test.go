package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/hexresearch/hexstody-sub000/model"
	"github.com/hexresearch/hexstody-sub000/state"
)

const testMnemonic = "abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon about"

var errDisk = errors.New("disk unavailable")

// memLog is an in-memory update log; bodies go through the codec like in
// the database.
type memLog struct {
	mu      sync.Mutex
	records []state.Update
	failN   int
	failAll bool
	// blocks every append until its context ends
	hang bool
}

func (m *memLog) Append(ctx context.Context, upd state.Update) (uint64, error) {
	m.mu.Lock()
	if m.hang {
		m.mu.Unlock()
		<-ctx.Done()
		return 0, ctx.Err()
	}
	defer m.mu.Unlock()
	if m.failAll {
		return 0, errDisk
	}
	if m.failN > 0 {
		m.failN--
		return 0, errDisk
	}
	tag, ver, raw, err := state.Encode(upd.Body)
	if err != nil {
		return 0, err
	}
	body, err := state.Decode(tag, ver, raw)
	if err != nil {
		return 0, err
	}
	m.records = append(m.records, state.Update{Created: upd.Created, Body: body})
	return uint64(len(m.records)), nil
}

func (m *memLog) tags() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.records))
	for i, r := range m.records {
		out[i] = r.Body.Tag()
	}
	return out
}

type harness struct {
	t      *testing.T
	log    *memLog
	shared *SharedState
	worker *Worker
	pool   *HDAddressPool
	cancel context.CancelFunc
}

func newHarness(t *testing.T, cfg WorkerConfig) *harness {
	t.Helper()
	cfg.RetryDelay = time.Millisecond
	log := &memLog{}
	shared := NewSharedState(state.New(model.Regtest))
	w := NewWorker(cfg, log, shared, zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	go w.Run(ctx)
	t.Cleanup(func() {
		cancel()
		<-w.Done()
	})
	pool, err := NewHDAddressPool(testMnemonic, model.Regtest)
	require.NoError(t, err)
	return &harness{t: t, log: log, shared: shared, worker: w, pool: pool, cancel: cancel}
}

func (h *harness) send(body state.Body) Result {
	h.t.Helper()
	res, err := h.worker.Send(context.Background(), body)
	require.NoError(h.t, err)
	return res
}

func (h *harness) addr(cur model.Currency, index int) string {
	h.t.Helper()
	a, err := h.pool.NewAddress(context.Background(), cur, index)
	require.NoError(h.t, err)
	return a
}

func (h *harness) signup(user string) {
	h.t.Helper()
	h.send(state.GenInvite{InviteRecord: model.InviteRecord{Invite: "inv-" + user, Invitor: "op"}})
	h.send(state.SignupInfo{Username: user, Invite: "inv-" + user, Auth: model.AuthMaterial{Kind: model.AuthPassword, PasswordHash: "h"}})
}

// fund allocates the BTC address of the given pool index and credits a
// finalized deposit to it.
func (h *harness) fund(user string, index int, amount int64) string {
	h.t.Helper()
	a := h.addr(model.BTC, index)
	h.send(state.DepositAllocation{User: user, Address: model.CurrencyAddress{Currency: model.BTC, Address: a}})
	h.send(state.BtcTxUpdate{Direction: state.Deposit, Txid: "fund-" + user, Address: a, Amount: amount, Confirmations: 6, Timestamp: time.Now().UTC()})
	return a
}

func (h *harness) user(id string) *model.UserInfo {
	var u *model.UserInfo
	h.shared.Read(func(st *state.State) { u = st.Users[id].Clone() })
	return u
}

func (h *harness) btcRequest(user, id string) *model.WithdrawalRequest {
	u := h.user(user)
	if u == nil {
		return nil
	}
	return u.Currency(model.BTC).WithdrawalRequests[id]
}

func sig(key string) model.SignatureData {
	return model.SignatureData{Signature: "c2ln", Nonce: 1, PublicKey: key}
}

func requireServiceKind(t *testing.T, err error, kind ErrorKind) {
	t.Helper()
	var se *Error
	require.ErrorAs(t, err, &se)
	require.Equal(t, kind, se.Kind, err.Error())
}

func requireFoldKind(t *testing.T, err error, kind state.FoldErrorKind) {
	t.Helper()
	var fe *state.FoldError
	require.ErrorAs(t, err, &fe)
	require.Equal(t, kind, fe.Kind, err.Error())
}
