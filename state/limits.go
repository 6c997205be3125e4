package state

import (
	"time"

	"github.com/hexresearch/hexstody-sub000/model"
)

// WindowSpent sums what confirmed and completed withdrawals took out of the
// currency during the span ending at now, operator approved ones included.
// Pending and rejected requests do not count.
func WindowSpent(info *model.PerCurrencyInfo, now time.Time) int64 {
	from := now.Add(-info.LimitInfo.Limit.Span.Duration())
	var sum int64
	for _, r := range info.WithdrawalRequests {
		if r.Status.Kind != model.WithdrawalConfirmed && r.Status.Kind != model.WithdrawalCompleted {
			continue
		}
		if !r.CreatedAt.After(from) || r.CreatedAt.After(now) {
			continue
		}
		sum += r.Total()
	}
	return sum
}

// refreshSpent recomputes the cached spend, clamped to the limit.
func refreshSpent(info *model.PerCurrencyInfo, now time.Time) {
	spent := WindowSpent(info, now)
	if spent > info.LimitInfo.Limit.Amount {
		spent = info.LimitInfo.Limit.Amount
	}
	if spent < 0 {
		spent = 0
	}
	info.LimitInfo.Spent = spent
}

// Admit is the limit guard: a withdrawal of amount plus fee that fits into
// the remainder of the window is under limit.
func Admit(info *model.PerCurrencyInfo, amount, fee int64, now time.Time) model.WithdrawalRequestType {
	spent := WindowSpent(info, now)
	if spent > info.LimitInfo.Limit.Amount {
		spent = info.LimitInfo.Limit.Amount
	}
	if spent+amount+fee <= info.LimitInfo.Limit.Amount {
		return model.UnderLimit
	}
	return model.OverLimit
}

func (s *State) applyLimitChangeRequest(created time.Time, upd LimitChangeUpd) error {
	u, ok := s.Users[upd.User]
	if !ok {
		return errUserNotFound(upd.User)
	}
	info := u.Currency(upd.Currency)
	if info == nil {
		return errMissingCurrency(upd.User, upd.Currency.Ticker())
	}
	if upd.Limit.Amount < 0 || upd.Limit.Amount > model.MaxLimitAmount {
		return &FoldError{Kind: LimitOverflow}
	}
	if _, err := model.ParseLimitSpan(string(upd.Limit.Span)); err != nil {
		return &FoldError{Kind: LimitOverflow}
	}
	// supersedes whatever request for the currency was there
	u.LimitChangeRequests[upd.Currency.Key()] = &model.LimitChangeRequest{
		ID:                    upd.ID,
		User:                  upd.User,
		Currency:              upd.Currency,
		Limit:                 upd.Limit,
		CreatedAt:             created,
		Status:                model.LimitChangeStatus{Kind: model.LimitChangeInProgress},
		ConfirmationsRequired: atLeastOne(upd.ConfirmationsRequired),
		Confirmations:         []model.SignatureData{},
		Rejections:            []model.SignatureData{},
	}
	return nil
}

func (s *State) findLimitChange(user string, cur model.Currency, id string) (*model.UserInfo, *model.LimitChangeRequest, error) {
	u, ok := s.Users[user]
	if !ok {
		return nil, nil, errUserNotFound(user)
	}
	req, ok := u.LimitChangeRequests[cur.Key()]
	if !ok || req.ID != id {
		return nil, nil, &FoldError{Kind: LimitChangeNotFound, User: user, ID: id}
	}
	return u, req, nil
}

func (s *State) applyLimitChangeDecision(created time.Time, d LimitChangeDecision) error {
	u, req, err := s.findLimitChange(d.User, d.Currency, d.ID)
	if err != nil {
		return err
	}
	switch req.Status.Kind {
	case model.LimitChangeCompleted:
		return &FoldError{Kind: LimitAlreadyConfirmed, ID: d.ID}
	case model.LimitChangeRejected:
		return &FoldError{Kind: LimitAlreadyRejected, ID: d.ID}
	}
	if req.SignedBy(d.Signature.PublicKey) {
		return &FoldError{Kind: LimitAlreadySigned, ID: d.ID, Key: d.Signature.PublicKey}
	}
	info := u.Currency(req.Currency)
	if info == nil {
		return errMissingCurrency(d.User, req.Currency.Ticker())
	}
	if d.Kind == Confirm {
		req.Confirmations = append(req.Confirmations, d.Signature)
	} else {
		req.Rejections = append(req.Rejections, d.Signature)
	}
	net := len(req.Confirmations) - len(req.Rejections)
	switch {
	case net >= req.ConfirmationsRequired:
		req.Status = model.LimitChangeStatus{Kind: model.LimitChangeCompleted}
		info.LimitInfo.Limit = req.Limit
		refreshSpent(info, created)
	case -net >= req.ConfirmationsRequired:
		req.Status = model.LimitChangeStatus{Kind: model.LimitChangeRejected}
	default:
		req.Status = model.LimitChangeStatus{
			Kind:          model.LimitChangeInProgress,
			Confirmations: len(req.Confirmations),
			Rejections:    len(req.Rejections),
		}
	}
	return nil
}

func (s *State) applyCancelLimitChange(c CancelLimitChange) error {
	u, req, err := s.findLimitChange(c.User, c.Currency, c.ID)
	if err != nil {
		return err
	}
	if !req.IsOutstanding() {
		return &FoldError{Kind: LimitChangeNotFound, User: c.User, ID: c.ID}
	}
	delete(u.LimitChangeRequests, c.Currency.Key())
	return nil
}

func atLeastOne(n int) int {
	if n < 1 {
		return 1
	}
	return n
}
