package model

import (
	"time"
)

type AuthKind string

const (
	AuthPassword  AuthKind = "password"
	AuthLightning AuthKind = "lightning"
	AuthPublicKey AuthKind = "public_key"
)

// AuthMaterial is a password hash, a lightning-pubkey-only marker or a
// public key used for challenge-response.
type AuthMaterial struct {
	Kind         AuthKind `json:"kind"`
	PasswordHash string   `json:"password_hash,omitempty"`
	PublicKey    string   `json:"public_key,omitempty"`
}

// UserConfig is optional contact info.
type UserConfig struct {
	Email *string `json:"email,omitempty"`
	Phone *string `json:"phone,omitempty"`
	Tg    *string `json:"tg,omitempty"`
}

func (c UserConfig) clone() UserConfig {
	return UserConfig{Email: cloneStr(c.Email), Phone: cloneStr(c.Phone), Tg: cloneStr(c.Tg)}
}

const DefaultLanguage = "en"

// 用户信息
type UserInfo struct {
	UserID    string       `json:"user_id"`
	Auth      AuthMaterial `json:"auth"`
	CreatedAt time.Time    `json:"created_at"`
	// keyed by Currency.Key()
	Currencies map[string]*PerCurrencyInfo `json:"currencies"`
	// limit change requests keyed by Currency.Key(), at most one per currency
	LimitChangeRequests map[string]*LimitChangeRequest `json:"limit_change_requests"`
	Language            string                         `json:"language"`
	Config              UserConfig                     `json:"config"`
	PublicKey           *string                        `json:"public_key,omitempty"`
	Invite              string                         `json:"invite"`
}

func NewUserInfo(id string, auth AuthMaterial, invite string, created time.Time) *UserInfo {
	u := &UserInfo{
		UserID:              id,
		Auth:                auth,
		CreatedAt:           created,
		Currencies:          map[string]*PerCurrencyInfo{},
		LimitChangeRequests: map[string]*LimitChangeRequest{},
		Language:            DefaultLanguage,
		Invite:              invite,
	}
	for _, c := range NativeCurrencies {
		u.Currencies[c.Key()] = NewPerCurrencyInfo(c)
	}
	return u
}

func (u *UserInfo) Clone() *UserInfo {
	if u == nil {
		return nil
	}
	out := *u
	out.Config = u.Config.clone()
	out.PublicKey = cloneStr(u.PublicKey)
	if u.Currencies != nil {
		out.Currencies = make(map[string]*PerCurrencyInfo, len(u.Currencies))
		for k, v := range u.Currencies {
			out.Currencies[k] = v.Clone()
		}
	}
	if u.LimitChangeRequests != nil {
		out.LimitChangeRequests = make(map[string]*LimitChangeRequest, len(u.LimitChangeRequests))
		for k, v := range u.LimitChangeRequests {
			out.LimitChangeRequests[k] = v.Clone()
		}
	}
	return &out
}

// Currency returns the per-currency state or nil when the user has not
// enabled the currency.
func (u *UserInfo) Currency(c Currency) *PerCurrencyInfo {
	info, ok := u.Currencies[c.Key()]
	if !ok || !info.Currency.Equal(c) {
		return nil
	}
	return info
}

// FindWithdrawal searches every currency of the user for the request.
func (u *UserInfo) FindWithdrawal(id string) (*PerCurrencyInfo, *WithdrawalRequest) {
	for _, info := range u.Currencies {
		if r, ok := info.WithdrawalRequests[id]; ok {
			return info, r
		}
	}
	return nil, nil
}

// FindExchange searches every currency of the user for the order.
func (u *UserInfo) FindExchange(id string) (*PerCurrencyInfo, *ExchangeOrder) {
	for _, info := range u.Currencies {
		if o, ok := info.ExchangeRequests[id]; ok {
			return info, o
		}
	}
	return nil, nil
}

// 邀请码
type InviteRecord struct {
	Invite  string `json:"invite"`
	Invitor string `json:"invitor"`
	Label   string `json:"label"`
}

func cloneStr(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}
