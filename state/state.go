package state

import (
	"sort"

	"github.com/hexresearch/hexstody-sub000/model"
)

// BtcState is the best block the BTC ingestor has seen.
type BtcState struct {
	Height int64  `json:"height"`
	Hash   string `json:"hash"`
}

// ExchangeState is the internal exchange account. Its balances are the
// counterpart of completed user exchanges and may be negative.
type ExchangeState struct {
	Addresses map[string]model.CurrencyAddress `json:"addresses"`
	Balances  map[string]int64                 `json:"balances"`
}

// State is the aggregate obtained by folding the update log.
type State struct {
	Network model.Network              `json:"network"`
	Users   map[string]*model.UserInfo `json:"users"`
	Invites map[string]*model.InviteRecord `json:"invites"`
	// invite -> user that redeemed it
	RedeemedInvites map[string]string `json:"redeemed_invites"`
	BtcState        BtcState          `json:"btc_state"`
	Exchange        ExchangeState     `json:"exchange"`
}

// New returns the empty state of the network, positioned at its genesis
// block.
func New(network model.Network) *State {
	st := &State{
		Network: network,
		BtcState: BtcState{
			Height: 0,
			Hash:   network.Params().GenesisHash.String(),
		},
	}
	st.normalize()
	return st
}

// normalize fills nil maps left by decoding an older snapshot.
func (s *State) normalize() {
	if s.Users == nil {
		s.Users = map[string]*model.UserInfo{}
	}
	if s.Invites == nil {
		s.Invites = map[string]*model.InviteRecord{}
	}
	if s.RedeemedInvites == nil {
		s.RedeemedInvites = map[string]string{}
	}
	if s.Exchange.Addresses == nil {
		s.Exchange.Addresses = map[string]model.CurrencyAddress{}
	}
	if s.Exchange.Balances == nil {
		s.Exchange.Balances = map[string]int64{}
	}
}

// Clone returns a deep copy; the update worker folds into the copy.
func (s *State) Clone() *State {
	out := &State{
		Network:         s.Network,
		Users:           make(map[string]*model.UserInfo, len(s.Users)),
		Invites:         make(map[string]*model.InviteRecord, len(s.Invites)),
		RedeemedInvites: make(map[string]string, len(s.RedeemedInvites)),
		BtcState:        s.BtcState,
		Exchange: ExchangeState{
			Addresses: make(map[string]model.CurrencyAddress, len(s.Exchange.Addresses)),
			Balances:  make(map[string]int64, len(s.Exchange.Balances)),
		},
	}
	for k, u := range s.Users {
		out.Users[k] = u.Clone()
	}
	for k, inv := range s.Invites {
		rec := *inv
		out.Invites[k] = &rec
	}
	for k, v := range s.RedeemedInvites {
		out.RedeemedInvites[k] = v
	}
	for k, v := range s.Exchange.Addresses {
		out.Exchange.Addresses[k] = v
	}
	for k, v := range s.Exchange.Balances {
		out.Exchange.Balances[k] = v
	}
	return out
}

// UserByAddress finds the owner of a deposit address. For ERC-20
// currencies the owner's ETH addresses count as well, tokens are received
// on them.
func (s *State) UserByAddress(cur model.Currency, addr string) (*model.UserInfo, *model.PerCurrencyInfo) {
	for _, u := range s.Users {
		info := u.Currency(cur)
		if info == nil {
			continue
		}
		if info.HasAddress(addr) {
			return u, info
		}
		if cur.IsToken() {
			if eth := u.Currency(model.ETH); eth != nil && eth.HasAddress(addr) {
				return u, info
			}
		}
	}
	return nil, nil
}

// AddressOwner returns the user holding addr on the same chain as cur.
func (s *State) AddressOwner(cur model.Currency, addr string) (string, bool) {
	for _, u := range s.Users {
		for _, info := range u.Currencies {
			if info.Currency.IsEthereum() != cur.IsEthereum() {
				continue
			}
			if info.HasAddress(addr) {
				return u.UserID, true
			}
		}
	}
	return "", false
}

// WithdrawalByTxid finds a completed withdrawal with the given chain txid.
func (s *State) WithdrawalByTxid(cur model.Currency, txid string) (*model.UserInfo, *model.PerCurrencyInfo, *model.WithdrawalRequest) {
	for _, u := range s.Users {
		info := u.Currency(cur)
		if info == nil {
			continue
		}
		for _, r := range info.WithdrawalRequests {
			if r.Status.Completed != nil && sameTxid(r.Status.Completed.Txid, txid) {
				return u, info, r
			}
		}
	}
	return nil, nil, nil
}

// OutstandingWithdrawals lists the requests awaiting operators or the
// chain adapter, oldest first.
func (s *State) OutstandingWithdrawals() []*model.WithdrawalRequest {
	var out []*model.WithdrawalRequest
	for _, u := range s.Users {
		for _, info := range u.Currencies {
			for _, r := range info.WithdrawalRequests {
				if !r.Status.IsFinal() {
					out = append(out, r)
				}
			}
		}
	}
	sortByCreated(out, func(r *model.WithdrawalRequest) (int64, string) { return r.CreatedAt.UnixNano(), r.ID })
	return out
}

// WithdrawalsByStatus lists requests of a status kind across users.
func (s *State) WithdrawalsByStatus(kind model.WithdrawalStatusKind) []*model.WithdrawalRequest {
	var out []*model.WithdrawalRequest
	for _, u := range s.Users {
		for _, info := range u.Currencies {
			for _, r := range info.WithdrawalRequests {
				if r.Status.Kind == kind {
					out = append(out, r)
				}
			}
		}
	}
	sortByCreated(out, func(r *model.WithdrawalRequest) (int64, string) { return r.CreatedAt.UnixNano(), r.ID })
	return out
}

func (s *State) OutstandingLimitChanges() []*model.LimitChangeRequest {
	var out []*model.LimitChangeRequest
	for _, u := range s.Users {
		for _, r := range u.LimitChangeRequests {
			if r.IsOutstanding() {
				out = append(out, r)
			}
		}
	}
	sortByCreated(out, func(r *model.LimitChangeRequest) (int64, string) { return r.CreatedAt.UnixNano(), r.ID })
	return out
}

func (s *State) OutstandingExchanges() []*model.ExchangeOrder {
	var out []*model.ExchangeOrder
	for _, u := range s.Users {
		for _, info := range u.Currencies {
			for _, o := range info.ExchangeRequests {
				if o.Status.Kind == model.ExchangeInProgress {
					out = append(out, o)
				}
			}
		}
	}
	sortByCreated(out, func(o *model.ExchangeOrder) (int64, string) { return o.CreatedAt.UnixNano(), o.ID })
	return out
}

// InvitesBy lists the invites issued by an operator key.
func (s *State) InvitesBy(invitor string) []model.InviteRecord {
	var out []model.InviteRecord
	for _, inv := range s.Invites {
		if inv.Invitor == invitor {
			out = append(out, *inv)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Invite < out[j].Invite })
	return out
}

// AllocatedCount is the number of deposit addresses ever handed out for a
// currency.
func (s *State) AllocatedCount(cur model.Currency) int {
	n := 0
	for _, u := range s.Users {
		if info := u.Currency(cur); info != nil {
			n += len(info.DepositInfo)
		}
	}
	return n
}

// DepositAddresses returns every allocated address of the currency mapped
// to its owner.
func (s *State) DepositAddresses(cur model.Currency) map[string]string {
	out := map[string]string{}
	for _, u := range s.Users {
		if info := u.Currency(cur); info != nil {
			for _, a := range info.DepositInfo {
				out[a.Address] = u.UserID
			}
		}
	}
	return out
}

func sortByCreated[T any](list []T, key func(T) (int64, string)) {
	sort.Slice(list, func(i, j int) bool {
		ti, idi := key(list[i])
		tj, idj := key(list[j])
		if ti != tj {
			return ti < tj
		}
		return idi < idj
	})
}
