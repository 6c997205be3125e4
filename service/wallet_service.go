package service

import (
	"context"
	"errors"
	"math"
	"math/big"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"github.com/hexresearch/hexstody-sub000/adapter"
	"github.com/hexresearch/hexstody-sub000/model"
	"github.com/hexresearch/hexstody-sub000/state"
)

// Thresholds are the operator signatures required per operation.
type Thresholds struct {
	Withdraw    int
	ChangeLimit int
	Exchange    int
}

// TokenBalances reads ERC-20 balances from the chain.
type TokenBalances interface {
	TokenBalance(ctx context.Context, contract, holder common.Address) (*big.Int, error)
}

type FeeEstimator interface {
	GetFees(ctx context.Context) (*adapter.Fees, error)
}

// GasQuoter prices a plain ETH transfer in gwei.
type GasQuoter interface {
	TransferFee(ctx context.Context) (int64, error)
}

// P2WPKH spend with one input and two outputs
const btcWithdrawVBytes = 141

// WalletService implements the user side operations on top of the shared
// state and the update worker.
type WalletService struct {
	shared     *SharedState
	updater    Updater
	addresses  AddressSource
	tokens     TokenBalances
	fees       FeeEstimator
	gas        GasQuoter
	thresholds Thresholds

	// serializes address allocation so indexes are not handed out twice
	allocMu sync.Mutex
}

// NewWalletService wires the service. When tokens also quotes gas, ETH
// withdrawals reserve the transfer fee.
func NewWalletService(shared *SharedState, updater Updater, addresses AddressSource, tokens TokenBalances, fees FeeEstimator, thresholds Thresholds) *WalletService {
	gas, _ := tokens.(GasQuoter)
	return &WalletService{
		shared:     shared,
		updater:    updater,
		addresses:  addresses,
		tokens:     tokens,
		fees:       fees,
		gas:        gas,
		thresholds: thresholds,
	}
}

func (s *WalletService) network() model.Network {
	var n model.Network
	s.shared.Read(func(st *state.State) { n = st.Network })
	return n
}

// User returns a copy of the user's state.
func (s *WalletService) User(user string) (*model.UserInfo, error) {
	var u *model.UserInfo
	s.shared.Read(func(st *state.State) { u = st.Users[user].Clone() })
	if u == nil {
		return nil, &state.FoldError{Kind: state.UserNotFound, User: user}
	}
	return u, nil
}

// Signup creates the user. auth carries the already hashed password.
func (s *WalletService) Signup(ctx context.Context, user, invite string, auth model.AuthMaterial) error {
	_, err := s.updater.Send(ctx, state.SignupInfo{Username: user, Invite: invite, Auth: auth})
	return err
}

func (s *WalletService) currency(u *model.UserInfo, ticker string) (model.Currency, error) {
	cur, ok := model.FindCurrency(ticker)
	if !ok {
		return model.Currency{}, &state.FoldError{Kind: state.UnknownCurrency, Currency: ticker}
	}
	if u.Currency(cur) == nil {
		return model.Currency{}, &state.FoldError{Kind: state.UserMissingCurrency, User: u.UserID, Currency: cur.Ticker()}
	}
	return cur, nil
}

// CurrencyBalance is one row of the balance view. Token is the on-chain
// ERC-20 balance of the user's addresses and is only set for tokens.
type CurrencyBalance struct {
	Currency model.Currency
	state.Balances
	Token *big.Int
}

// Balances lists the balances of every enabled currency.
func (s *WalletService) Balances(ctx context.Context, user string) ([]CurrencyBalance, error) {
	u, err := s.User(user)
	if err != nil {
		return nil, err
	}
	keys := make([]string, 0, len(u.Currencies))
	for k := range u.Currencies {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]CurrencyBalance, 0, len(keys))
	for _, k := range keys {
		cur := u.Currencies[k].Currency
		row := CurrencyBalance{Currency: cur, Balances: state.UserBalances(u, cur)}
		if cur.IsToken() {
			tb, err := s.tokenBalance(ctx, u, cur)
			if err != nil {
				return nil, err
			}
			row.Token = tb
		}
		out = append(out, row)
	}
	return out, nil
}

func (s *WalletService) tokenBalance(ctx context.Context, u *model.UserInfo, cur model.Currency) (*big.Int, error) {
	sum := new(big.Int)
	eth := u.Currency(model.ETH)
	if s.tokens == nil || eth == nil {
		return sum, nil
	}
	contract := common.HexToAddress(cur.Token.Contract)
	for _, a := range eth.DepositInfo {
		v, err := s.tokens.TokenBalance(ctx, contract, common.HexToAddress(a.Address))
		if err != nil {
			return nil, adapterError(err)
		}
		sum.Add(sum, v)
	}
	return sum, nil
}

// DepositAddress returns the newest address of the currency, allocating
// one when there is none or fresh is set. Tokens are received on the
// user's ethereum addresses.
func (s *WalletService) DepositAddress(ctx context.Context, user, ticker string, fresh bool) (model.CurrencyAddress, error) {
	u, err := s.User(user)
	if err != nil {
		return model.CurrencyAddress{}, err
	}
	cur, err := s.currency(u, ticker)
	if err != nil {
		return model.CurrencyAddress{}, err
	}
	target := cur
	if cur.IsToken() {
		target = model.ETH
	}
	if info := u.Currency(target); info != nil && len(info.DepositInfo) > 0 && !fresh {
		last := info.DepositInfo[len(info.DepositInfo)-1]
		return model.CurrencyAddress{Currency: cur, Address: last.Address}, nil
	}
	addr, err := s.allocate(ctx, user, target)
	if err != nil {
		return model.CurrencyAddress{}, err
	}
	return model.CurrencyAddress{Currency: cur, Address: addr.Address}, nil
}

func (s *WalletService) allocate(ctx context.Context, user string, cur model.Currency) (model.CurrencyAddress, error) {
	if s.addresses == nil {
		return model.CurrencyAddress{}, &Error{Kind: NoAddressSource, Msg: cur.Ticker()}
	}
	s.allocMu.Lock()
	defer s.allocMu.Unlock()

	var index int
	var net model.Network
	s.shared.Read(func(st *state.State) {
		index = st.AllocatedCount(cur)
		net = st.Network
	})
	raw, err := s.addresses.NewAddress(ctx, cur, index)
	if err != nil {
		return model.CurrencyAddress{}, err
	}
	addr, err := model.NewCurrencyAddress(net, cur, raw)
	if err != nil {
		return model.CurrencyAddress{}, &Error{Kind: AdapterFailure, Err: err}
	}
	if _, err := s.updater.Send(ctx, state.DepositAllocation{User: user, Address: addr}); err != nil {
		return model.CurrencyAddress{}, err
	}
	return addr, nil
}

type HistoryKind string

const (
	HistoryDeposit    HistoryKind = "deposit"
	HistoryWithdrawal HistoryKind = "withdrawal"
	HistoryOutgoing   HistoryKind = "outgoing"
)

// HistoryItem is a transaction or a withdrawal request of the user.
type HistoryItem struct {
	Kind          HistoryKind
	Currency      model.Currency
	Time          time.Time
	Amount        int64
	TokenValue    string
	Txid          string
	Confirmations int64
	Conflicted    bool
	Request       *model.WithdrawalRequest
}

// History lists the user's activity, newest first. An empty ticker means
// every currency.
func (s *WalletService) History(user, ticker string, limit int) ([]HistoryItem, error) {
	u, err := s.User(user)
	if err != nil {
		return nil, err
	}
	var only *model.Currency
	if ticker != "" {
		cur, err := s.currency(u, ticker)
		if err != nil {
			return nil, err
		}
		only = &cur
	}
	var out []HistoryItem
	for _, info := range u.Currencies {
		if only != nil && !info.Currency.Equal(*only) {
			continue
		}
		for _, tx := range info.Transactions {
			kind := HistoryDeposit
			if tx.IsOutgoing() || (tx.Eth != nil && strings.EqualFold(tx.Eth.From, tx.Eth.Account)) {
				kind = HistoryOutgoing
			}
			item := HistoryItem{
				Kind:          kind,
				Currency:      info.Currency,
				Time:          tx.Timestamp(),
				Amount:        tx.Amount(),
				Txid:          tx.Txid(),
				Confirmations: tx.Confirmations(),
				Conflicted:    tx.IsConflicted(),
			}
			if tx.Eth != nil {
				item.TokenValue = tx.Eth.TokenValue
			}
			out = append(out, item)
		}
		for _, r := range info.WithdrawalRequests {
			out = append(out, HistoryItem{
				Kind:     HistoryWithdrawal,
				Currency: info.Currency,
				Time:     r.CreatedAt,
				Amount:   -r.Amount,
				Request:  r,
			})
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].Time.Equal(out[j].Time) {
			return out[i].Time.After(out[j].Time)
		}
		return out[i].Txid < out[j].Txid
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// EstimateFee is the fee a new withdrawal reserves. Token transfers pay
// their gas in ETH and reserve nothing.
func (s *WalletService) EstimateFee(ctx context.Context, cur model.Currency) (int64, error) {
	switch {
	case cur.Kind == model.KindBTC && s.fees != nil:
		f, err := s.fees.GetFees(ctx)
		if err != nil {
			return 0, adapterError(err)
		}
		return f.FeeRate * btcWithdrawVBytes, nil
	case cur.Kind == model.KindETH && s.gas != nil:
		fee, err := s.gas.TransferFee(ctx)
		if err != nil {
			return 0, adapterError(err)
		}
		return fee, nil
	}
	return 0, nil
}

func clampInt64(v *big.Int) int64 {
	switch {
	case v.Sign() < 0:
		return 0
	case !v.IsInt64():
		return math.MaxInt64
	}
	return v.Int64()
}

// Withdraw creates a withdrawal request. Under the limit it is confirmed
// at once; above it waits for operators.
func (s *WalletService) Withdraw(ctx context.Context, user, ticker, address string, amount int64) (*model.WithdrawalRequest, error) {
	u, err := s.User(user)
	if err != nil {
		return nil, err
	}
	cur, err := s.currency(u, ticker)
	if err != nil {
		return nil, err
	}
	if amount <= 0 {
		return nil, invalid("amount must be positive")
	}
	addr, err := model.NewCurrencyAddress(s.network(), cur, address)
	if err != nil {
		return nil, invalid("%v", err)
	}
	fee, err := s.EstimateFee(ctx, cur)
	if err != nil {
		return nil, err
	}
	info := state.WithdrawalRequestInfo{
		ID:                    uuid.NewString(),
		User:                  user,
		Address:               addr,
		Amount:                amount,
		Fee:                   fee,
		ConfirmationsRequired: s.thresholds.Withdraw,
	}
	if cur.IsToken() {
		have, err := s.tokenBalance(ctx, u, cur)
		if err != nil {
			return nil, err
		}
		// the fold takes open and completed requests off the projection
		projected := clampInt64(have)
		info.TokenBalance = &projected
	}
	id := info.ID
	_, err = s.updater.Send(ctx, info)
	if err != nil {
		return nil, err
	}
	var req *model.WithdrawalRequest
	s.shared.Read(func(st *state.State) {
		if u := st.Users[user]; u != nil {
			_, r := u.FindWithdrawal(id)
			req = r.Clone()
		}
	})
	if req == nil {
		return nil, &Error{Kind: NotFound, Msg: id}
	}
	return req, nil
}

// LimitView is the limit state of one currency.
type LimitView struct {
	Currency model.Currency
	Limit    model.Limit
	Spent    int64
	Pending  *model.LimitChangeRequest
}

func (s *WalletService) Limits(user string) ([]LimitView, error) {
	u, err := s.User(user)
	if err != nil {
		return nil, err
	}
	var out []LimitView
	for k, info := range u.Currencies {
		out = append(out, LimitView{
			Currency: info.Currency,
			Limit:    info.LimitInfo.Limit,
			Spent:    info.LimitInfo.Spent,
			Pending:  u.LimitChangeRequests[k],
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Currency.Key() < out[j].Currency.Key() })
	return out, nil
}

// RequestLimitChange asks operators for a new limit. It replaces a change
// that is still waiting.
func (s *WalletService) RequestLimitChange(ctx context.Context, user, ticker string, limit model.Limit) (string, error) {
	u, err := s.User(user)
	if err != nil {
		return "", err
	}
	cur, err := s.currency(u, ticker)
	if err != nil {
		return "", err
	}
	if limit.Amount < 0 {
		return "", invalid("limit must not be negative")
	}
	if _, err := model.ParseLimitSpan(string(limit.Span)); err != nil {
		return "", invalid("%v", err)
	}
	id := uuid.NewString()
	_, err = s.updater.Send(ctx, state.LimitChangeUpd{
		ID:                    id,
		User:                  user,
		Currency:              cur,
		Limit:                 limit,
		ConfirmationsRequired: s.thresholds.ChangeLimit,
	})
	return id, err
}

func (s *WalletService) CancelLimitChange(ctx context.Context, user, ticker string) error {
	u, err := s.User(user)
	if err != nil {
		return err
	}
	cur, err := s.currency(u, ticker)
	if err != nil {
		return err
	}
	req := u.LimitChangeRequests[cur.Key()]
	if req == nil || !req.IsOutstanding() {
		return &state.FoldError{Kind: state.LimitChangeNotFound, User: user, Currency: cur.Ticker()}
	}
	_, err = s.updater.Send(ctx, state.CancelLimitChange{ID: req.ID, User: user, Currency: cur})
	return err
}

func (s *WalletService) UpdateToken(ctx context.Context, user, ticker string, action state.TokenAction) error {
	cur, ok := model.FindCurrency(ticker)
	if !ok || !cur.IsToken() {
		return &state.FoldError{Kind: state.UnknownCurrency, Currency: ticker}
	}
	_, err := s.updater.Send(ctx, state.TokenUpdate{User: user, Token: *cur.Token, Action: action})
	return err
}

func (s *WalletService) SetLanguage(ctx context.Context, user, lang string) error {
	lang = strings.ToLower(strings.TrimSpace(lang))
	if len(lang) < 2 || len(lang) > 8 {
		return invalid("bad language %q", lang)
	}
	_, err := s.updater.Send(ctx, state.SetLanguage{User: user, Language: lang})
	return err
}

func (s *WalletService) UpdateConfig(ctx context.Context, upd state.ConfigUpdate) error {
	_, err := s.updater.Send(ctx, upd)
	return err
}

// SetPublicKey stores the user's key, nil removes it. The key is the
// base64 DER of a P-256 public key.
func (s *WalletService) SetPublicKey(ctx context.Context, user string, key *string) error {
	_, err := s.updater.Send(ctx, state.SetPublicKey{User: user, PublicKey: key})
	return err
}

// Exchange requests a conversion between two enabled currencies.
func (s *WalletService) Exchange(ctx context.Context, user, from, to string, amountFrom, amountTo int64) (string, error) {
	u, err := s.User(user)
	if err != nil {
		return "", err
	}
	cf, err := s.currency(u, from)
	if err != nil {
		return "", err
	}
	ct, err := s.currency(u, to)
	if err != nil {
		return "", err
	}
	if cf.Equal(ct) {
		return "", invalid("exchange needs two different currencies")
	}
	id := uuid.NewString()
	_, err = s.updater.Send(ctx, state.ExchangeRequest{
		ID:                    id,
		User:                  user,
		From:                  cf,
		To:                    ct,
		AmountFrom:            amountFrom,
		AmountTo:              amountTo,
		ConfirmationsRequired: s.thresholds.Exchange,
	})
	return id, err
}

// IsFoldError reports whether err is a rejection by the fold.
func IsFoldError(err error) bool {
	var fe *state.FoldError
	return errors.As(err, &fe)
}
