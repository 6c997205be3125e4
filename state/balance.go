package state

import (
	"strings"

	"github.com/hexresearch/hexstody-sub000/model"
)

// Balances of one user in one currency, in the currency's base unit.
type Balances struct {
	// every known transaction, unconfirmed and conflicted ones included
	Total int64 `json:"total"`
	// transactions with at least model.FinalizedThreshold confirmations
	Finalized int64 `json:"finalized"`
	// Total minus Finalized
	Pending int64 `json:"pending"`
	// held by withdrawals and exchanges that are not final yet
	Reserved int64 `json:"reserved"`
	// Finalized minus Reserved, what a new withdrawal may spend
	Available int64 `json:"available"`
}

// UserBalances computes the balances of the user's currency. A completed
// withdrawal is subtracted once: through its on-chain outgoing transaction
// when that transaction is counted, through the request otherwise.
func UserBalances(u *model.UserInfo, cur model.Currency) Balances {
	info := u.Currency(cur)
	if info == nil {
		return Balances{}
	}
	total := countedSum(info, func(model.Transaction) bool { return true })
	finalized := countedSum(info, func(tx model.Transaction) bool { return tx.IsFinalized() })
	exch := exchangeNet(u, cur)
	total += exch
	finalized += exch
	reserved := reservedSum(info)
	return Balances{
		Total:     total,
		Finalized: finalized,
		Pending:   total - finalized,
		Reserved:  reserved,
		Available: finalized - reserved,
	}
}

// FinalizedBalance is the finalized balance of the user's currency.
func FinalizedBalance(u *model.UserInfo, cur model.Currency) int64 {
	return UserBalances(u, cur).Finalized
}

func countedSum(info *model.PerCurrencyInfo, counted func(model.Transaction) bool) int64 {
	var sum int64
	seen := map[string]bool{}
	for _, tx := range info.Transactions {
		if !counted(tx) {
			continue
		}
		sum += tx.Amount()
		if tx.IsOutgoing() {
			seen[normTxid(tx.Txid())] = true
		}
	}
	for _, r := range info.WithdrawalRequests {
		if r.Status.Kind != model.WithdrawalCompleted {
			continue
		}
		if seen[normTxid(r.Status.Completed.Txid)] {
			// the outgoing transaction carries the whole network fee
			sum += r.FeeOverrun()
			continue
		}
		sum -= r.Total()
	}
	return sum
}

// TokenAvailable is what a new token withdrawal may spend out of the
// on-chain projection. The deposit addresses keep their balance while
// withdrawals are paid from the hot wallet, so every open or completed
// request is taken off the projection.
func TokenAvailable(info *model.PerCurrencyInfo, projected int64) int64 {
	avail := projected - reservedSum(info)
	for _, r := range info.WithdrawalRequests {
		if r.Status.Kind == model.WithdrawalCompleted {
			avail -= r.Total()
		}
	}
	return avail
}

func reservedSum(info *model.PerCurrencyInfo) int64 {
	var sum int64
	for _, r := range info.WithdrawalRequests {
		switch r.Status.Kind {
		case model.WithdrawalInProgress, model.WithdrawalConfirmed:
			sum += r.Total()
		}
	}
	for _, o := range info.ExchangeRequests {
		if o.Status.Kind == model.ExchangeInProgress {
			sum += o.AmountFrom
		}
	}
	return sum
}

// exchangeNet is the effect of completed exchanges on cur: orders from cur
// debit it, orders into cur (kept under their from currency) credit it.
func exchangeNet(u *model.UserInfo, cur model.Currency) int64 {
	var sum int64
	for _, info := range u.Currencies {
		for _, o := range info.ExchangeRequests {
			if o.Status.Kind != model.ExchangeCompleted {
				continue
			}
			if o.From.Equal(cur) {
				sum -= o.AmountFrom
			}
			if o.To.Equal(cur) {
				sum += o.AmountTo
			}
		}
	}
	return sum
}

// hasOpenObligations reports requests or exchanges that still hold funds
// of the currency.
func hasOpenObligations(info *model.PerCurrencyInfo) bool {
	return reservedSum(info) != 0
}

func normTxid(txid string) string { return strings.ToLower(txid) }
