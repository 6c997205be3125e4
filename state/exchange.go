package state

import (
	"time"

	"github.com/hexresearch/hexstody-sub000/model"
)

func (s *State) applyExchangeRequest(created time.Time, req ExchangeRequest) error {
	u, ok := s.Users[req.User]
	if !ok {
		return errUserNotFound(req.User)
	}
	from := u.Currency(req.From)
	if from == nil {
		return errMissingCurrency(req.User, req.From.Ticker())
	}
	if u.Currency(req.To) == nil {
		return errMissingCurrency(req.User, req.To.Ticker())
	}
	if _, dup := from.ExchangeRequests[req.ID]; dup {
		return &FoldError{Kind: ExchangeAlreadyExists, User: req.User, ID: req.ID}
	}
	if req.AmountFrom <= 0 || req.AmountTo <= 0 {
		return &FoldError{Kind: InsufficientFunds, User: req.User, Currency: req.From.Ticker()}
	}
	if !req.From.IsToken() && req.AmountFrom > UserBalances(u, req.From).Available {
		return &FoldError{Kind: InsufficientFunds, User: req.User, Currency: req.From.Ticker()}
	}
	from.ExchangeRequests[req.ID] = &model.ExchangeOrder{
		ID:                    req.ID,
		User:                  req.User,
		From:                  req.From,
		To:                    req.To,
		AmountFrom:            req.AmountFrom,
		AmountTo:              req.AmountTo,
		CreatedAt:             created,
		Status:                model.ExchangeStatus{Kind: model.ExchangeInProgress},
		ConfirmationsRequired: atLeastOne(req.ConfirmationsRequired),
		Confirmations:         []model.SignatureData{},
		Rejections:            []model.SignatureData{},
	}
	return nil
}

func (s *State) applyExchangeDecision(d ExchangeDecision) error {
	u, ok := s.Users[d.User]
	if !ok {
		return errUserNotFound(d.User)
	}
	pci := u.Currency(d.Currency)
	if pci == nil {
		return &FoldError{Kind: UserMissingExchange, User: d.User, Currency: d.Currency.Ticker()}
	}
	order, ok := pci.ExchangeRequests[d.ID]
	if !ok {
		return &FoldError{Kind: UserMissingExchange, User: d.User, Currency: d.Currency.Ticker()}
	}
	switch order.Status.Kind {
	case model.ExchangeCompleted:
		return &FoldError{Kind: ExchangeAlreadyConfirmed, ID: d.ID}
	case model.ExchangeRejected:
		return &FoldError{Kind: ExchangeAlreadyRejected, ID: d.ID}
	}
	if order.SignedBy(d.Signature.PublicKey) {
		return &FoldError{Kind: ExchangeAlreadySigned, ID: d.ID, Key: d.Signature.PublicKey}
	}
	if d.Kind == Confirm {
		order.Confirmations = append(order.Confirmations, d.Signature)
	} else {
		order.Rejections = append(order.Rejections, d.Signature)
	}
	net := len(order.Confirmations) - len(order.Rejections)
	switch {
	case net >= order.ConfirmationsRequired:
		order.Status = model.ExchangeStatus{Kind: model.ExchangeCompleted}
		s.Exchange.Balances[order.From.Key()] += order.AmountFrom
		s.Exchange.Balances[order.To.Key()] -= order.AmountTo
	case -net >= order.ConfirmationsRequired:
		order.Status = model.ExchangeStatus{Kind: model.ExchangeRejected}
	default:
		order.Status = model.ExchangeStatus{
			Kind:          model.ExchangeInProgress,
			Confirmations: len(order.Confirmations),
			Rejections:    len(order.Rejections),
		}
	}
	return nil
}

func (s *State) applyExchangeAddress(a ExchangeAddress) {
	s.Exchange.Addresses[a.Address.Currency.Key()] = a.Address
}
