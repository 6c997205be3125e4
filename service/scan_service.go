package service

import (
	"context"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/hexresearch/hexstody-sub000/adapter"
	"github.com/hexresearch/hexstody-sub000/model"
	"github.com/hexresearch/hexstody-sub000/state"
)

const (
	initialStep      = uint64(200)
	minStep          = uint64(10)
	maxStep          = uint64(2000)
	successThreshold = 5
	failureThreshold = 1
	reorgCheckDepth  = 100
)

// BlockStore records the scanner's progress.
type BlockStore interface {
	Last(ctx context.Context) (int64, string, error)
	Save(ctx context.Context, number int64, hash string) error
	Recent(ctx context.Context, depth int) ([]model.ProcessedBlock, error)
	RollbackTo(ctx context.Context, number int64) error
}

// EthScanner walks the ethereum chain up to latest minus the confirmation
// depth and submits transfers of custody addresses as updates.
type EthScanner struct {
	cfg           IngestConfig
	node          adapter.EthNode
	blocks        BlockStore
	updater       Updater
	shared        *SharedState
	logger        *zap.Logger
	confirmations uint64

	mu           sync.Mutex
	step         uint64
	successCount int
	failureCount int
}

func NewEthScanner(cfg IngestConfig, confirmations uint64, node adapter.EthNode, blocks BlockStore, updater Updater, shared *SharedState, logger *zap.Logger) *EthScanner {
	cfg.defaults()
	return &EthScanner{
		cfg:           cfg,
		node:          node,
		blocks:        blocks,
		updater:       updater,
		shared:        shared,
		logger:        logger.With(zap.String("component", "eth_scanner")),
		confirmations: confirmations,
		step:          initialStep,
	}
}

func (s *EthScanner) Run(ctx context.Context) {
	for {
		wait := s.cfg.PollInterval
		err := s.CheckReorg(ctx)
		if err == nil {
			err = s.StepOnce(ctx)
		}
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			s.logger.Error("scan failed", zap.Error(err), zap.Duration("backoff", s.cfg.ErrorBackoff))
			wait = s.cfg.ErrorBackoff
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}
	}
}

func (s *EthScanner) rpcCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.cfg.RPCTimeout)
}

// CheckReorg compares the stored block hashes with the chain. Above the
// newest block that still matches, progress is dropped and the recorded
// transactions are cancelled.
func (s *EthScanner) CheckReorg(ctx context.Context) error {
	pbs, err := s.blocks.Recent(ctx, reorgCheckDepth)
	if err != nil || len(pbs) == 0 {
		return err
	}
	rollback := int64(-1)
	for i, pb := range pbs {
		rctx, cancel := s.rpcCtx(ctx)
		hash, err := s.node.BlockHash(rctx, uint64(pb.BlockNumber))
		cancel()
		if err != nil {
			return adapterError(err)
		}
		if hash == pb.BlockHash {
			if i == 0 {
				return nil
			}
			rollback = pb.BlockNumber
			break
		}
	}
	if rollback < 0 {
		rollback = pbs[len(pbs)-1].BlockNumber - 1
	}
	s.logger.Warn("reorg detected", zap.Int64("stored", pbs[0].BlockNumber), zap.Int64("rollback_to", rollback))

	for _, c := range s.cancelsAbove(uint64(max(rollback, 0))) {
		if _, err := s.updater.Send(ctx, c); err != nil {
			return err
		}
	}
	return s.blocks.RollbackTo(ctx, rollback)
}

func (s *EthScanner) cancelsAbove(block uint64) []state.EthTxCancel {
	var out []state.EthTxCancel
	s.shared.Read(func(st *state.State) {
		for _, u := range st.Users {
			for _, info := range u.Currencies {
				for _, tx := range info.Transactions {
					if tx.Eth != nil && tx.Eth.BlockNumber > block {
						out = append(out, state.EthTxCancel{Hash: tx.Eth.Hash, LogIndex: tx.Eth.LogIndex, Contract: tx.Eth.Contract})
					}
				}
			}
		}
	})
	return out
}

// StepOnce scans the next range of safe blocks.
func (s *EthScanner) StepOnce(ctx context.Context) error {
	rctx, cancel := s.rpcCtx(ctx)
	latest, err := s.node.LatestBlock(rctx)
	cancel()
	if err != nil {
		s.adjustStepOnFailure()
		return adapterError(err)
	}
	if latest <= s.confirmations {
		return nil
	}
	safe := latest - s.confirmations

	last, _, err := s.blocks.Last(ctx)
	if err != nil {
		return err
	}
	if last == 0 {
		// fresh start: nothing before the current safe block is ours
		return s.saveProgress(ctx, safe)
	}
	start := uint64(last + 1)
	if start > safe {
		return nil
	}
	s.mu.Lock()
	step := s.step
	s.mu.Unlock()
	end := min(start+step-1, safe)
	s.logger.Debug("scan range", zap.Uint64("from", start), zap.Uint64("to", end), zap.Uint64("safe", safe), zap.Uint64("step", step))

	updates, err := s.collect(ctx, start, end, latest)
	if err != nil {
		s.adjustStepOnFailure()
		return err
	}
	for _, u := range updates {
		if _, err := s.updater.Send(ctx, u); err != nil {
			return err
		}
	}
	if err := s.saveProgress(ctx, end); err != nil {
		s.adjustStepOnFailure()
		return err
	}
	s.adjustStepOnSuccess()
	return nil
}

func (s *EthScanner) saveProgress(ctx context.Context, block uint64) error {
	rctx, cancel := s.rpcCtx(ctx)
	hash, err := s.node.BlockHash(rctx, block)
	cancel()
	if err != nil {
		return adapterError(err)
	}
	return s.blocks.Save(ctx, int64(block), hash)
}

func tokenContracts() []common.Address {
	out := make([]common.Address, 0, len(model.SupportedTokens))
	for _, t := range model.SupportedTokens {
		out = append(out, common.HexToAddress(t.Contract))
	}
	return out
}

func (s *EthScanner) collect(ctx context.Context, start, end, latest uint64) ([]state.EthTxUpdate, error) {
	var transfers []adapter.EthTransfer
	for n := start; n <= end; n++ {
		rctx, cancel := s.rpcCtx(ctx)
		list, err := s.node.BlockTransfers(rctx, n)
		cancel()
		if err != nil {
			return nil, adapterError(err)
		}
		transfers = append(transfers, list...)
	}
	rctx, cancel := s.rpcCtx(ctx)
	tokens, err := s.node.TokenTransfers(rctx, start, end, tokenContracts())
	cancel()
	if err != nil {
		return nil, adapterError(err)
	}
	transfers = append(transfers, tokens...)

	var out []state.EthTxUpdate
	s.shared.Read(func(st *state.State) {
		for _, t := range transfers {
			if upd, ok := s.translate(st, t, latest); ok {
				out = append(out, upd)
			}
		}
	})
	return out, nil
}

// translate keeps deposits to allocated addresses of users holding the
// currency, and the chain side of completed withdrawals.
func (s *EthScanner) translate(st *state.State, t adapter.EthTransfer, latest uint64) (state.EthTxUpdate, bool) {
	cur := model.ETH
	if t.Contract != "" {
		tok, ok := model.FindTokenByContract(t.Contract)
		if !ok {
			return state.EthTxUpdate{}, false
		}
		cur = model.TokenCurrency(tok)
	}
	upd := state.EthTxUpdate{
		Hash:          t.Hash,
		LogIndex:      t.LogIndex,
		BlockNumber:   t.BlockNumber,
		Timestamp:     t.Timestamp,
		From:          t.From,
		To:            t.To,
		Gas:           t.Gas,
		Contract:      t.Contract,
		Confirmations: int64(latest - t.BlockNumber + 1),
	}
	if _, _, r := st.WithdrawalByTxid(cur, t.Hash); r != nil {
		upd.Direction = state.Withdraw
		upd.Account = t.From
	} else if _, info := st.UserByAddress(cur, t.To); info != nil {
		upd.Direction = state.Deposit
		upd.Account = t.To
	} else {
		return state.EthTxUpdate{}, false
	}
	if cur.IsToken() {
		upd.TokenValue = t.Value.String()
		return upd, true
	}
	value, err := adapter.WeiToGwei(t.Value)
	if err != nil {
		s.logger.Error("transfer value", zap.String("hash", t.Hash), zap.Error(err))
		return state.EthTxUpdate{}, false
	}
	price, err := adapter.WeiToGwei(orZero(t.GasPrice))
	if err != nil {
		price = 0
	}
	upd.Value = value
	upd.GasPrice = price
	return upd, true
}

func orZero(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return v
}

func (s *EthScanner) adjustStepOnSuccess() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.successCount++
	s.failureCount = 0
	if s.successCount >= successThreshold {
		next := min(uint64(float64(s.step)*1.5), maxStep)
		if next > s.step {
			s.logger.Debug("increase step", zap.Uint64("from", s.step), zap.Uint64("to", next))
			s.step = next
		}
		s.successCount = 0
	}
}

func (s *EthScanner) adjustStepOnFailure() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failureCount++
	s.successCount = 0
	if s.failureCount >= failureThreshold {
		next := max(uint64(float64(s.step)*0.5), minStep)
		if next < s.step {
			s.logger.Debug("decrease step", zap.Uint64("from", s.step), zap.Uint64("to", next))
			s.step = next
		}
		s.failureCount = 0
	}
}

// Step is the current scan range length.
func (s *EthScanner) Step() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.step
}
