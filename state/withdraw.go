package state

import (
	"math"
	"time"

	"github.com/hexresearch/hexstody-sub000/model"
)

func (s *State) applyCreateWithdrawal(created time.Time, info WithdrawalRequestInfo) (*Derived, error) {
	u, ok := s.Users[info.User]
	if !ok {
		return nil, errUserNotFound(info.User)
	}
	cur := info.Address.Currency
	pci := u.Currency(cur)
	if pci == nil {
		return nil, errMissingCurrency(info.User, cur.Ticker())
	}
	if _, exists := pci.WithdrawalRequests[info.ID]; exists {
		return nil, &FoldError{Kind: WithdrawalRequestAlreadyExists, User: info.User, ID: info.ID}
	}
	if info.Amount <= 0 || info.Fee < 0 {
		return nil, &FoldError{Kind: InsufficientFunds, User: info.User, Currency: cur.Ticker()}
	}
	available := UserBalances(u, cur).Available
	if cur.IsToken() {
		available = math.MaxInt64
		if info.TokenBalance != nil {
			available = TokenAvailable(pci, *info.TokenBalance)
		}
	}
	if info.Amount > available-info.Fee {
		return nil, &FoldError{Kind: InsufficientFunds, User: info.User, Currency: cur.Ticker()}
	}

	req := &model.WithdrawalRequest{
		ID:                    info.ID,
		User:                  info.User,
		Address:               info.Address,
		CreatedAt:             created,
		Amount:                info.Amount,
		Fee:                   info.Fee,
		ConfirmationsRequired: atLeastOne(info.ConfirmationsRequired),
		Confirmations:         []model.SignatureData{},
		Rejections:            []model.SignatureData{},
		RequestType:           Admit(pci, info.Amount, info.Fee, created),
	}
	var derived *Derived
	if req.RequestType == model.UnderLimit {
		req.Status = model.WithdrawalStatus{Kind: model.WithdrawalConfirmed}
		derived = &Derived{Kind: WithdrawalUnderlimit, Request: req.Clone()}
	} else {
		req.Status = model.InProgress(0)
	}
	pci.WithdrawalRequests[req.ID] = req
	refreshSpent(pci, created)
	return derived, nil
}

func (s *State) findWithdrawal(user, id string) (*model.PerCurrencyInfo, *model.WithdrawalRequest, error) {
	u, ok := s.Users[user]
	if !ok {
		return nil, nil, errUserNotFound(user)
	}
	pci, req := u.FindWithdrawal(id)
	if req == nil {
		return nil, nil, &FoldError{Kind: WithdrawalRequestNotFound, User: user, ID: id}
	}
	return pci, req, nil
}

func (s *State) applyWithdrawalDecision(created time.Time, d WithdrawalDecision) (*Derived, error) {
	pci, req, err := s.findWithdrawal(d.User, d.RequestID)
	if err != nil {
		return nil, err
	}
	switch req.Status.Kind {
	case model.WithdrawalConfirmed, model.WithdrawalCompleted:
		return nil, &FoldError{Kind: WithdrawalRequestAlreadyConfirmed, ID: d.RequestID}
	case model.WithdrawalOpRejected, model.WithdrawalNodeRejected:
		return nil, &FoldError{Kind: WithdrawalRequestAlreadyRejected, ID: d.RequestID}
	}
	key := d.Signature.PublicKey
	confirmed, rejected := req.SignedBy(key)
	if confirmed {
		return nil, &FoldError{Kind: WithdrawalRequestAlreadyConfirmedByThisKey, ID: d.RequestID, Key: key}
	}
	if rejected {
		return nil, &FoldError{Kind: WithdrawalRequestAlreadyRejectedByThisKey, ID: d.RequestID, Key: key}
	}

	if d.Kind == Confirm {
		req.Confirmations = append(req.Confirmations, d.Signature)
	} else {
		req.Rejections = append(req.Rejections, d.Signature)
	}
	net := len(req.Confirmations) - len(req.Rejections)
	switch {
	case net >= req.ConfirmationsRequired:
		req.Status = model.WithdrawalStatus{Kind: model.WithdrawalConfirmed}
		refreshSpent(pci, created)
		return &Derived{Kind: WithdrawConfirmed, Request: req.Clone()}, nil
	case -net >= req.ConfirmationsRequired:
		req.Status = model.WithdrawalStatus{Kind: model.WithdrawalOpRejected}
	default:
		req.Status = model.InProgress(net)
	}
	refreshSpent(pci, created)
	return nil, nil
}

func (s *State) applyWithdrawalNodeUpdate(created time.Time, upd WithdrawalNodeUpdate) error {
	pci, req, err := s.findWithdrawal(upd.User, upd.RequestID)
	if err != nil {
		return err
	}
	switch req.Status.Kind {
	case model.WithdrawalInProgress:
		return &FoldError{Kind: WithdrawalRequestNotConfirmed, ID: upd.RequestID}
	case model.WithdrawalCompleted:
		return &FoldError{Kind: WithdrawalRequestAlreadyConfirmed, ID: upd.RequestID}
	case model.WithdrawalOpRejected, model.WithdrawalNodeRejected:
		return &FoldError{Kind: WithdrawalRequestAlreadyRejected, ID: upd.RequestID}
	}
	switch {
	case upd.Completed != nil:
		done := *upd.Completed
		req.Status = model.WithdrawalStatus{Kind: model.WithdrawalCompleted, Completed: &done}
	case upd.Rejected != nil:
		req.Status = model.WithdrawalStatus{Kind: model.WithdrawalNodeRejected, Reason: *upd.Rejected}
	default:
		req.Status = model.WithdrawalStatus{Kind: model.WithdrawalNodeRejected, Reason: "empty node update"}
	}
	refreshSpent(pci, created)
	return nil
}
