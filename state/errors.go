package state

import (
	"fmt"
	"net/http"
)

type FoldErrorKind int

const (
	UserAlreadyExists FoldErrorKind = iota + 1
	UserNotFound
	UserMissingCurrency
	DepositAddressAlreadyAllocated
	WithdrawalRequestNotFound
	WithdrawalRequestAlreadyConfirmedByThisKey
	WithdrawalRequestAlreadyRejectedByThisKey
	WithdrawalRequestAlreadyConfirmed
	WithdrawalRequestAlreadyRejected
	TokenAlreadyEnabled
	TokenAlreadyDisabled
	TokenNonZeroBalance
	InviteAlreadyExist
	InviteNotFound
	LimitChangeNotFound
	LimitAlreadySigned
	LimitAlreadyConfirmed
	LimitAlreadyRejected
	LimitOverflow
	InsufficientFunds
	UserMissingExchange
	ExchangeAlreadySigned
	ExchangeAlreadyConfirmed
	ExchangeAlreadyRejected
	UnknownCurrency
	InvoiceNotFound
	WithdrawalRequestAlreadyExists
	WithdrawalRequestNotConfirmed
	ExchangeAlreadyExists
)

var foldSubtypes = map[FoldErrorKind]string{
	UserAlreadyExists:                          "user_already_exists",
	UserNotFound:                               "user_not_found",
	UserMissingCurrency:                        "user_missing_currency",
	DepositAddressAlreadyAllocated:             "deposit_address_already_allocated",
	WithdrawalRequestNotFound:                  "withdrawal_request_not_found",
	WithdrawalRequestAlreadyConfirmedByThisKey: "withdrawal_request_already_confirmed_by_this_key",
	WithdrawalRequestAlreadyRejectedByThisKey:  "withdrawal_request_already_rejected_by_this_key",
	WithdrawalRequestAlreadyConfirmed:          "withdrawal_request_already_confirmed",
	WithdrawalRequestAlreadyRejected:           "withdrawal_request_already_rejected",
	TokenAlreadyEnabled:                        "token_already_enabled",
	TokenAlreadyDisabled:                       "token_already_disabled",
	TokenNonZeroBalance:                        "token_non_zero_balance",
	InviteAlreadyExist:                         "invite_already_exist",
	InviteNotFound:                             "invite_not_found",
	LimitChangeNotFound:                        "limit_change_not_found",
	LimitAlreadySigned:                         "limit_already_signed",
	LimitAlreadyConfirmed:                      "limit_already_confirmed",
	LimitAlreadyRejected:                       "limit_already_rejected",
	LimitOverflow:                              "limit_overflow",
	InsufficientFunds:                          "insufficient_funds",
	UserMissingExchange:                        "user_missing_exchange",
	ExchangeAlreadySigned:                      "exchange_already_signed",
	ExchangeAlreadyConfirmed:                   "exchange_already_confirmed",
	ExchangeAlreadyRejected:                    "exchange_already_rejected",
	UnknownCurrency:                            "unknown_currency",
	InvoiceNotFound:                            "invoice_not_found",
	WithdrawalRequestAlreadyExists:             "withdrawal_request_already_exists",
	WithdrawalRequestNotConfirmed:              "withdrawal_request_not_confirmed",
	ExchangeAlreadyExists:                      "exchange_already_exists",
}

func (k FoldErrorKind) String() string {
	if s, ok := foldSubtypes[k]; ok {
		return s
	}
	return fmt.Sprintf("fold_error_%d", int(k))
}

// FoldError is a rejection of an update by the fold. Only the fields that
// make sense for the kind are set.
type FoldError struct {
	Kind     FoldErrorKind
	User     string
	ID       string
	Key      string
	Currency string
	Address  string
}

func (e *FoldError) Error() string {
	switch e.Kind {
	case UserAlreadyExists:
		return fmt.Sprintf("user %s already exists", e.User)
	case UserNotFound:
		return fmt.Sprintf("user %s not found", e.User)
	case UserMissingCurrency:
		return fmt.Sprintf("user %s has no currency %s", e.User, e.Currency)
	case DepositAddressAlreadyAllocated:
		return fmt.Sprintf("deposit address %s is already allocated to %s", e.Address, e.User)
	case WithdrawalRequestNotFound:
		return fmt.Sprintf("withdrawal request %s of user %s not found", e.ID, e.User)
	case WithdrawalRequestAlreadyConfirmedByThisKey:
		return fmt.Sprintf("withdrawal request %s is already confirmed by key %s", e.ID, e.Key)
	case WithdrawalRequestAlreadyRejectedByThisKey:
		return fmt.Sprintf("withdrawal request %s is already rejected by key %s", e.ID, e.Key)
	case WithdrawalRequestAlreadyConfirmed:
		return fmt.Sprintf("withdrawal request %s is already confirmed", e.ID)
	case WithdrawalRequestAlreadyRejected:
		return fmt.Sprintf("withdrawal request %s is already rejected", e.ID)
	case TokenAlreadyEnabled:
		return fmt.Sprintf("token %s is already enabled", e.Currency)
	case TokenAlreadyDisabled:
		return fmt.Sprintf("token %s is already disabled", e.Currency)
	case TokenNonZeroBalance:
		return fmt.Sprintf("token %s has non-zero balance", e.Currency)
	case InviteAlreadyExist:
		return "invite already exists"
	case InviteNotFound:
		return "invite not found"
	case LimitChangeNotFound:
		return "limit change request not found"
	case LimitAlreadySigned:
		return "limit change request is already signed by this key"
	case LimitAlreadyConfirmed:
		return "limit change request is already confirmed"
	case LimitAlreadyRejected:
		return "limit change request is already rejected"
	case LimitOverflow:
		return "limit amount is out of range"
	case InsufficientFunds:
		return fmt.Sprintf("user %s has insufficient %s funds", e.User, e.Currency)
	case UserMissingExchange:
		return fmt.Sprintf("user %s has no exchange request for %s", e.User, e.Currency)
	case ExchangeAlreadySigned:
		return "exchange request is already signed by this key"
	case ExchangeAlreadyConfirmed:
		return "exchange request is already confirmed"
	case ExchangeAlreadyRejected:
		return "exchange request is already rejected"
	case UnknownCurrency:
		return fmt.Sprintf("unknown currency %s", e.Currency)
	case InvoiceNotFound:
		return fmt.Sprintf("invoice %s of user %s not found", e.ID, e.User)
	case WithdrawalRequestAlreadyExists:
		return fmt.Sprintf("withdrawal request %s already exists", e.ID)
	case WithdrawalRequestNotConfirmed:
		return fmt.Sprintf("withdrawal request %s is not confirmed", e.ID)
	case ExchangeAlreadyExists:
		return fmt.Sprintf("exchange request %s already exists", e.ID)
	}
	return e.Kind.String()
}

func (e *FoldError) Subtype() string { return e.Kind.String() }

func (e *FoldError) Code() uint16 { return 1000 + uint16(e.Kind) }

func (e *FoldError) Status() int {
	switch e.Kind {
	case UserNotFound, WithdrawalRequestNotFound, InviteNotFound, LimitChangeNotFound,
		UserMissingExchange, InvoiceNotFound:
		return http.StatusNotFound
	case UserAlreadyExists, DepositAddressAlreadyAllocated,
		WithdrawalRequestAlreadyConfirmedByThisKey, WithdrawalRequestAlreadyRejectedByThisKey,
		WithdrawalRequestAlreadyConfirmed, WithdrawalRequestAlreadyRejected,
		TokenAlreadyEnabled, TokenAlreadyDisabled, InviteAlreadyExist,
		LimitAlreadySigned, LimitAlreadyConfirmed, LimitAlreadyRejected,
		ExchangeAlreadySigned, ExchangeAlreadyConfirmed, ExchangeAlreadyRejected,
		WithdrawalRequestAlreadyExists, ExchangeAlreadyExists:
		return http.StatusConflict
	}
	return http.StatusBadRequest
}

// Is matches on the kind only, so errors.Is(err, &FoldError{Kind: X}) works.
func (e *FoldError) Is(target error) bool {
	t, ok := target.(*FoldError)
	return ok && t.Kind == e.Kind
}

func errUserNotFound(user string) error {
	return &FoldError{Kind: UserNotFound, User: user}
}

func errMissingCurrency(user, currency string) error {
	return &FoldError{Kind: UserMissingCurrency, User: user, Currency: currency}
}
