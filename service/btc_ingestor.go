package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/hexresearch/hexstody-sub000/adapter"
	"github.com/hexresearch/hexstody-sub000/model"
	"github.com/hexresearch/hexstody-sub000/state"
)

type BtcPoller interface {
	PollEvents(ctx context.Context, height int64, hash string) (*adapter.BtcEvents, error)
}

type IngestConfig struct {
	PollInterval time.Duration
	ErrorBackoff time.Duration
	RPCTimeout   time.Duration
}

func (c *IngestConfig) defaults() {
	if c.PollInterval <= 0 {
		c.PollInterval = 30 * time.Second
	}
	if c.ErrorBackoff <= 0 {
		c.ErrorBackoff = 60 * time.Second
	}
	if c.RPCTimeout <= 0 {
		c.RPCTimeout = adapter.DefaultTimeout
	}
}

// BtcIngestor turns the BTC adapter's event stream into updates.
type BtcIngestor struct {
	cfg     IngestConfig
	poller  BtcPoller
	updater Updater
	shared  *SharedState
	logger  *zap.Logger
}

func NewBtcIngestor(cfg IngestConfig, poller BtcPoller, updater Updater, shared *SharedState, logger *zap.Logger) *BtcIngestor {
	cfg.defaults()
	return &BtcIngestor{
		cfg:     cfg,
		poller:  poller,
		updater: updater,
		shared:  shared,
		logger:  logger.With(zap.String("component", "btc_ingestor")),
	}
}

// Run polls until ctx ends, backing off after failures.
func (b *BtcIngestor) Run(ctx context.Context) {
	for {
		wait := b.cfg.PollInterval
		if err := b.PollOnce(ctx); err != nil {
			if ctx.Err() != nil {
				return
			}
			b.logger.Error("poll failed", zap.Error(err), zap.Duration("backoff", b.cfg.ErrorBackoff))
			wait = b.cfg.ErrorBackoff
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}
	}
}

// PollOnce fetches the changes since the recorded best block and submits
// them. The best block only moves once every event is committed, so a
// failed round is fetched again.
func (b *BtcIngestor) PollOnce(ctx context.Context) error {
	var from state.BtcState
	b.shared.Read(func(st *state.State) { from = st.BtcState })

	pctx, cancel := context.WithTimeout(ctx, b.cfg.RPCTimeout)
	events, err := b.poller.PollEvents(pctx, from.Height, from.Hash)
	cancel()
	if err != nil {
		return adapterError(err)
	}

	for _, ev := range events.Events {
		body, known := b.translate(ev)
		if !known {
			continue
		}
		if _, err := b.updater.Send(ctx, body); err != nil {
			return err
		}
	}
	if events.Height != from.Height || events.Hash != from.Hash {
		if _, err := b.updater.Send(ctx, state.BtcBestBlock{Height: events.Height, Hash: events.Hash}); err != nil {
			return err
		}
		b.logger.Debug("best block", zap.Int64("height", events.Height), zap.String("hash", events.Hash))
	}
	return nil
}

// translate maps an adapter event to an update. Events of outputs no user
// owns are dropped here instead of in the log.
func (b *BtcIngestor) translate(ev adapter.BtcEvent) (state.Body, bool) {
	tx := ev.Tx
	dir := state.Deposit
	if tx.Direction == string(state.Withdraw) {
		dir = state.Withdraw
	}
	known := false
	b.shared.Read(func(st *state.State) {
		switch {
		case ev.Kind == adapter.BtcEventCancel:
			known = hasBtcTx(st, tx.Txid, tx.Vout)
		case dir == state.Withdraw:
			_, _, r := st.WithdrawalByTxid(model.BTC, tx.Txid)
			known = r != nil
		default:
			_, known = st.AddressOwner(model.BTC, tx.Address)
		}
	})
	if !known {
		return nil, false
	}
	if ev.Kind == adapter.BtcEventCancel {
		return state.BtcTxCancel{Direction: dir, Txid: tx.Txid, Vout: tx.Vout, Address: tx.Address, Amount: tx.Amount}, true
	}
	return state.BtcTxUpdate{
		Direction:     dir,
		Txid:          tx.Txid,
		Vout:          tx.Vout,
		Address:       tx.Address,
		Amount:        tx.Amount,
		Confirmations: tx.Confirmations,
		Timestamp:     tx.Time(),
		Conflicts:     tx.Conflicts,
		Fee:           tx.Fee,
	}, true
}

func hasBtcTx(st *state.State, txid string, vout uint32) bool {
	for _, u := range st.Users {
		if info := u.Currency(model.BTC); info != nil && info.FindTransaction(txid, vout) >= 0 {
			return true
		}
	}
	return false
}
