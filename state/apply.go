package state

import "github.com/hexresearch/hexstody-sub000/model"

type DerivedKind int

const (
	// WithdrawConfirmed: operators reached the threshold on a request.
	WithdrawConfirmed DerivedKind = iota
	// WithdrawalUnderlimit: the request fit the limit and skipped approval.
	WithdrawalUnderlimit
)

// Derived is a follow-up the update worker hands to the withdrawal
// dispatcher once the update generating it is durable.
type Derived struct {
	Kind    DerivedKind
	Request *model.WithdrawalRequest
}

// Apply folds one update into the state. On error the state may be partially
// modified; callers fold into a Clone and discard it on failure.
func (s *State) Apply(upd Update) (*Derived, error) {
	switch b := upd.Body.(type) {
	case SignupInfo:
		return nil, s.applySignup(upd.Created, b)
	case Snapshot:
		return nil, s.applySnapshot(b)
	case *Snapshot:
		return nil, s.applySnapshot(*b)
	case WithdrawalRequestInfo:
		return s.applyCreateWithdrawal(upd.Created, b)
	case WithdrawalDecision:
		return s.applyWithdrawalDecision(upd.Created, b)
	case WithdrawalNodeUpdate:
		return nil, s.applyWithdrawalNodeUpdate(upd.Created, b)
	case DepositAllocation:
		return nil, s.applyDepositAddress(b)
	case BtcBestBlock:
		s.applyBtcBestBlock(b)
	case BtcTxUpdate:
		s.applyBtcTxUpdate(upd.Created, b)
	case BtcTxCancel:
		s.applyBtcTxCancel(upd.Created, b)
	case EthTxUpdate:
		s.applyEthTxUpdate(upd.Created, b)
	case EthTxCancel:
		s.applyEthTxCancel(upd.Created, b)
	case TokenUpdate:
		return nil, s.applyTokenUpdate(b)
	case GenInvite:
		return nil, s.applyGenInvite(b)
	case LimitChangeUpd:
		return nil, s.applyLimitChangeRequest(upd.Created, b)
	case LimitChangeDecision:
		return nil, s.applyLimitChangeDecision(upd.Created, b)
	case CancelLimitChange:
		return nil, s.applyCancelLimitChange(b)
	case SetLanguage:
		return nil, s.applySetLanguage(b)
	case ConfigUpdate:
		return nil, s.applyConfigUpdate(b)
	case SetPublicKey:
		return nil, s.applySetPublicKey(b)
	case ExchangeRequest:
		return nil, s.applyExchangeRequest(upd.Created, b)
	case ExchangeDecision:
		return nil, s.applyExchangeDecision(b)
	case ExchangeAddress:
		s.applyExchangeAddress(b)
	default:
		return nil, &CodecError{Kind: UnknownTag, Tag: tagOf(upd.Body)}
	}
	return nil, nil
}

func (s *State) applySnapshot(snap Snapshot) error {
	if snap.State == nil {
		return &CodecError{Kind: BadBody, Tag: TagSnapshot}
	}
	*s = *snap.State.Clone()
	return nil
}

func tagOf(b Body) string {
	if b == nil {
		return ""
	}
	return b.Tag()
}
