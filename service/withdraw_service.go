package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/hexresearch/hexstody-sub000/adapter"
	"github.com/hexresearch/hexstody-sub000/model"
	"github.com/hexresearch/hexstody-sub000/state"
)

// Updater submits updates to the worker.
type Updater interface {
	Send(ctx context.Context, body state.Body) (Result, error)
}

// Dispatcher broadcasts confirmed withdrawals through the chain adapters
// and reports the outcome back as node updates.
type Dispatcher struct {
	btc     adapter.ChainAdapter
	eth     adapter.ChainAdapter
	updater Updater
	shared  *SharedState
	logger  *zap.Logger
	resync  time.Duration
	now     func() time.Time

	mu sync.Mutex
	// broadcast by the adapter, node update not committed yet
	sent     map[string]model.CompletedInfo
	inflight map[string]bool
}

func NewDispatcher(btc, eth adapter.ChainAdapter, updater Updater, shared *SharedState, resync time.Duration, logger *zap.Logger) *Dispatcher {
	if resync <= 0 {
		resync = time.Minute
	}
	return &Dispatcher{
		btc:      btc,
		eth:      eth,
		updater:  updater,
		shared:   shared,
		logger:   logger.With(zap.String("component", "dispatcher")),
		resync:   resync,
		now:      func() time.Time { return time.Now().UTC() },
		sent:     map[string]model.CompletedInfo{},
		inflight: map[string]bool{},
	}
}

// Run handles derived results until the channel closes or ctx ends. It
// also rescans the state for confirmed requests, which covers restarts
// and results dropped by a full channel.
func (d *Dispatcher) Run(ctx context.Context, derived <-chan state.Derived) {
	ticker := time.NewTicker(d.resync)
	defer ticker.Stop()
	d.Resync(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case dr, ok := <-derived:
			if !ok {
				return
			}
			if dr.Request != nil {
				d.Dispatch(ctx, dr.Request)
			}
		case <-ticker.C:
			d.Resync(ctx)
		}
	}
}

// Resync dispatches every request that is confirmed in the state.
func (d *Dispatcher) Resync(ctx context.Context) {
	var pending []*model.WithdrawalRequest
	d.shared.Read(func(st *state.State) {
		for _, r := range st.WithdrawalsByStatus(model.WithdrawalConfirmed) {
			pending = append(pending, r.Clone())
		}
	})
	for _, r := range pending {
		if ctx.Err() != nil {
			return
		}
		d.Dispatch(ctx, r)
	}
}

func (d *Dispatcher) chain(cur model.Currency) adapter.ChainAdapter {
	if cur.IsEthereum() {
		return d.eth
	}
	return d.btc
}

// Dispatch broadcasts one request unless that already happened.
func (d *Dispatcher) Dispatch(ctx context.Context, req *model.WithdrawalRequest) {
	d.mu.Lock()
	if d.inflight[req.ID] {
		d.mu.Unlock()
		return
	}
	d.inflight[req.ID] = true
	done, broadcast := d.sent[req.ID]
	d.mu.Unlock()
	defer func() {
		d.mu.Lock()
		delete(d.inflight, req.ID)
		d.mu.Unlock()
	}()

	log := d.logger.With(zap.String("request", req.ID), zap.String("user", req.User), zap.String("currency", req.Address.Currency.Ticker()))
	if !broadcast {
		var rejected *string
		done, rejected = d.broadcast(ctx, req, log)
		if rejected != nil {
			d.report(ctx, state.WithdrawalNodeUpdate{RequestID: req.ID, User: req.User, Rejected: rejected}, log)
			return
		}
		if done.Txid == "" {
			return
		}
		d.mu.Lock()
		d.sent[req.ID] = done
		d.mu.Unlock()
	}
	info := done
	if d.report(ctx, state.WithdrawalNodeUpdate{RequestID: req.ID, User: req.User, Completed: &info}, log) {
		d.mu.Lock()
		delete(d.sent, req.ID)
		d.mu.Unlock()
	}
}

// broadcast returns the completed info, or a rejection reason, or neither
// when the adapter failed transiently.
func (d *Dispatcher) broadcast(ctx context.Context, req *model.WithdrawalRequest, log *zap.Logger) (model.CompletedInfo, *string) {
	c := d.chain(req.Address.Currency)
	if c == nil {
		log.Error("no adapter for currency")
		return model.CompletedInfo{}, nil
	}
	w := adapter.Withdrawal{
		ID:      req.ID,
		User:    req.User,
		Address: req.Address.Address,
		Amount:  req.Amount,
	}
	if req.Address.Currency.IsToken() {
		w.Contract = req.Address.Currency.Token.Contract
	}
	b, err := c.SendWithdrawal(ctx, w)
	if err != nil {
		if adapter.IsRejected(err) {
			var re *adapter.RejectedError
			errors.As(err, &re)
			reason := re.Reason
			log.Warn("withdrawal rejected by adapter", zap.String("reason", reason))
			return model.CompletedInfo{}, &reason
		}
		log.Error("withdrawal broadcast failed", zap.Error(err))
		return model.CompletedInfo{}, nil
	}
	log.Info("withdrawal broadcast", zap.String("txid", b.Txid))
	return model.CompletedInfo{
		ConfirmedAt:     d.now(),
		Txid:            b.Txid,
		Fee:             b.Fee,
		InputAddresses:  b.InputAddresses,
		OutputAddresses: b.OutputAddresses,
	}, nil
}

// report reports whether the node update is settled, committed or refused
// by the fold.
func (d *Dispatcher) report(ctx context.Context, upd state.WithdrawalNodeUpdate, log *zap.Logger) bool {
	_, err := d.updater.Send(ctx, upd)
	if err == nil {
		return true
	}
	var fe *state.FoldError
	if errors.As(err, &fe) {
		log.Warn("node update refused", zap.Error(err))
		return true
	}
	log.Error("node update not committed", zap.Error(err))
	return false
}
