package state

import (
	"time"

	"github.com/hexresearch/hexstody-sub000/model"
)

func (s *State) applySignup(created time.Time, info SignupInfo) error {
	if _, ok := s.Users[info.Username]; ok {
		return &FoldError{Kind: UserAlreadyExists, User: info.Username}
	}
	if _, ok := s.Invites[info.Invite]; !ok {
		return &FoldError{Kind: InviteNotFound}
	}
	if _, used := s.RedeemedInvites[info.Invite]; used {
		return &FoldError{Kind: InviteNotFound}
	}
	s.Users[info.Username] = model.NewUserInfo(info.Username, info.Auth, info.Invite, created)
	s.RedeemedInvites[info.Invite] = info.Username
	return nil
}

func (s *State) applyGenInvite(inv GenInvite) error {
	if _, ok := s.Invites[inv.Invite]; ok {
		return &FoldError{Kind: InviteAlreadyExist}
	}
	rec := inv.InviteRecord
	s.Invites[inv.Invite] = &rec
	return nil
}

func (s *State) applyTokenUpdate(upd TokenUpdate) error {
	u, ok := s.Users[upd.User]
	if !ok {
		return errUserNotFound(upd.User)
	}
	if !model.IsSupportedToken(upd.Token) {
		return &FoldError{Kind: UnknownCurrency, Currency: upd.Token.Ticker}
	}
	cur := model.TokenCurrency(upd.Token)
	pci := u.Currency(cur)
	switch upd.Action {
	case TokenEnable:
		if pci != nil {
			return &FoldError{Kind: TokenAlreadyEnabled, Currency: upd.Token.Ticker}
		}
		u.Currencies[cur.Key()] = model.NewPerCurrencyInfo(cur)
	case TokenDisable:
		if pci == nil {
			return &FoldError{Kind: TokenAlreadyDisabled, Currency: upd.Token.Ticker}
		}
		if hasOpenObligations(pci) {
			return &FoldError{Kind: TokenNonZeroBalance, Currency: upd.Token.Ticker}
		}
		delete(u.Currencies, cur.Key())
		delete(u.LimitChangeRequests, cur.Key())
	default:
		return &FoldError{Kind: UnknownCurrency, Currency: upd.Token.Ticker}
	}
	return nil
}

func (s *State) applySetLanguage(upd SetLanguage) error {
	u, ok := s.Users[upd.User]
	if !ok {
		return errUserNotFound(upd.User)
	}
	u.Language = upd.Language
	return nil
}

func (s *State) applyConfigUpdate(upd ConfigUpdate) error {
	u, ok := s.Users[upd.User]
	if !ok {
		return errUserNotFound(upd.User)
	}
	u.Config.Email = overwrite(u.Config.Email, upd.Email)
	u.Config.Phone = overwrite(u.Config.Phone, upd.Phone)
	u.Config.Tg = overwrite(u.Config.Tg, upd.Tg)
	return nil
}

func (s *State) applySetPublicKey(upd SetPublicKey) error {
	u, ok := s.Users[upd.User]
	if !ok {
		return errUserNotFound(upd.User)
	}
	if upd.PublicKey == nil {
		u.PublicKey = nil
		return nil
	}
	key := *upd.PublicKey
	u.PublicKey = &key
	return nil
}

func overwrite(old, upd *string) *string {
	if upd == nil {
		return old
	}
	if *upd == "" {
		return nil
	}
	v := *upd
	return &v
}
