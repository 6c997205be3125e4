package service

import (
	"context"
	"strings"

	"github.com/google/uuid"

	"github.com/hexresearch/hexstody-sub000/model"
	"github.com/hexresearch/hexstody-sub000/state"
)

// HotBalancer reports the amount held by an adapter's hot wallet.
type HotBalancer interface {
	HotBalance(ctx context.Context) (int64, error)
}

// OperatorService implements the operator side operations. Callers have
// already verified the operator signature; the signature data is kept on
// the decision for audit.
type OperatorService struct {
	shared     *SharedState
	updater    Updater
	hot        map[model.CurrencyKind]HotBalancer
	thresholds Thresholds
}

func NewOperatorService(shared *SharedState, updater Updater, btcHot, ethHot HotBalancer, thresholds Thresholds) *OperatorService {
	hot := map[model.CurrencyKind]HotBalancer{}
	if btcHot != nil {
		hot[model.KindBTC] = btcHot
	}
	if ethHot != nil {
		hot[model.KindETH] = ethHot
	}
	return &OperatorService{shared: shared, updater: updater, hot: hot, thresholds: thresholds}
}

func (s *OperatorService) Thresholds() Thresholds { return s.thresholds }

// Withdrawals lists the requests not final yet, oldest first.
func (s *OperatorService) Withdrawals() []*model.WithdrawalRequest {
	var out []*model.WithdrawalRequest
	s.shared.Read(func(st *state.State) {
		for _, r := range st.OutstandingWithdrawals() {
			out = append(out, r.Clone())
		}
	})
	return out
}

// CreateWithdrawal files a request on behalf of a user. An empty id gets a
// fresh one and the configured threshold is always applied.
func (s *OperatorService) CreateWithdrawal(ctx context.Context, info state.WithdrawalRequestInfo) (string, error) {
	if info.ID == "" {
		info.ID = uuid.NewString()
	}
	var net model.Network
	s.shared.Read(func(st *state.State) { net = st.Network })
	addr, err := model.NewCurrencyAddress(net, info.Address.Currency, info.Address.Address)
	if err != nil {
		return "", invalid("%v", err)
	}
	info.Address = addr
	info.ConfirmationsRequired = s.thresholds.Withdraw
	_, err = s.updater.Send(ctx, info)
	return info.ID, err
}

// ConfirmationData names the request an operator decides on.
type ConfirmationData struct {
	ID   string `json:"id"`
	User string `json:"user"`
}

func (d ConfirmationData) validate() error {
	if strings.TrimSpace(d.ID) == "" || strings.TrimSpace(d.User) == "" {
		return invalid("id and user are required")
	}
	return nil
}

// DecideWithdrawal records a confirmation or rejection of a request.
func (s *OperatorService) DecideWithdrawal(ctx context.Context, d ConfirmationData, kind state.DecisionKind, sig model.SignatureData) (Result, error) {
	if err := d.validate(); err != nil {
		return Result{}, err
	}
	return s.updater.Send(ctx, state.WithdrawalDecision{RequestID: d.ID, User: d.User, Kind: kind, Signature: sig})
}

func (s *OperatorService) HotBalance(ctx context.Context, ticker string) (int64, error) {
	cur, ok := model.FindCurrency(ticker)
	if !ok || cur.IsToken() {
		return 0, &state.FoldError{Kind: state.UnknownCurrency, Currency: ticker}
	}
	hb := s.hot[cur.Kind]
	if hb == nil {
		return 0, &Error{Kind: NotFound, Msg: "no hot wallet for " + cur.Ticker()}
	}
	bal, err := hb.HotBalance(ctx)
	if err != nil {
		return 0, adapterError(err)
	}
	return bal, nil
}

// GenInvite issues an invite recorded under the operator's key.
func (s *OperatorService) GenInvite(ctx context.Context, invitor, label string) (model.InviteRecord, error) {
	rec := model.InviteRecord{Invite: uuid.NewString(), Invitor: invitor, Label: label}
	if _, err := s.updater.Send(ctx, state.GenInvite{InviteRecord: rec}); err != nil {
		return model.InviteRecord{}, err
	}
	return rec, nil
}

func (s *OperatorService) Invites(invitor string) []model.InviteRecord {
	var out []model.InviteRecord
	s.shared.Read(func(st *state.State) { out = st.InvitesBy(invitor) })
	return out
}

func (s *OperatorService) LimitChanges() []*model.LimitChangeRequest {
	var out []*model.LimitChangeRequest
	s.shared.Read(func(st *state.State) {
		for _, r := range st.OutstandingLimitChanges() {
			out = append(out, r.Clone())
		}
	})
	return out
}

// CurrencyDecision names a limit change or exchange order, both are kept
// per currency.
type CurrencyDecision struct {
	ID       string `json:"id"`
	User     string `json:"user"`
	Currency string `json:"currency"`
}

func (d CurrencyDecision) resolve() (model.Currency, error) {
	if strings.TrimSpace(d.ID) == "" || strings.TrimSpace(d.User) == "" {
		return model.Currency{}, invalid("id and user are required")
	}
	cur, ok := model.FindCurrency(d.Currency)
	if !ok {
		return model.Currency{}, &state.FoldError{Kind: state.UnknownCurrency, Currency: d.Currency}
	}
	return cur, nil
}

func (s *OperatorService) DecideLimit(ctx context.Context, d CurrencyDecision, kind state.DecisionKind, sig model.SignatureData) error {
	cur, err := d.resolve()
	if err != nil {
		return err
	}
	_, err = s.updater.Send(ctx, state.LimitChangeDecision{ID: d.ID, User: d.User, Currency: cur, Kind: kind, Signature: sig})
	return err
}

func (s *OperatorService) Exchanges() []*model.ExchangeOrder {
	var out []*model.ExchangeOrder
	s.shared.Read(func(st *state.State) {
		for _, o := range st.OutstandingExchanges() {
			out = append(out, o.Clone())
		}
	})
	return out
}

func (s *OperatorService) DecideExchange(ctx context.Context, d CurrencyDecision, kind state.DecisionKind, sig model.SignatureData) error {
	cur, err := d.resolve()
	if err != nil {
		return err
	}
	_, err = s.updater.Send(ctx, state.ExchangeDecision{ID: d.ID, User: d.User, Currency: cur, Kind: kind, Signature: sig})
	return err
}

// SetExchangeAddress records the exchange's deposit address of a currency.
func (s *OperatorService) SetExchangeAddress(ctx context.Context, ticker, address string) error {
	cur, ok := model.FindCurrency(ticker)
	if !ok {
		return &state.FoldError{Kind: state.UnknownCurrency, Currency: ticker}
	}
	var net model.Network
	s.shared.Read(func(st *state.State) { net = st.Network })
	addr, err := model.NewCurrencyAddress(net, cur, address)
	if err != nil {
		return invalid("%v", err)
	}
	_, err = s.updater.Send(ctx, state.ExchangeAddress{Address: addr})
	return err
}
