package state

import (
	"strings"
	"time"

	"github.com/hexresearch/hexstody-sub000/model"
)

func sameTxid(a, b string) bool { return strings.EqualFold(a, b) }

func (s *State) applyDepositAddress(alloc DepositAllocation) error {
	u, ok := s.Users[alloc.User]
	if !ok {
		return errUserNotFound(alloc.User)
	}
	cur := alloc.Address.Currency
	pci := u.Currency(cur)
	if pci == nil {
		return errMissingCurrency(alloc.User, cur.Ticker())
	}
	if pci.HasAddress(alloc.Address.Address) {
		return &FoldError{Kind: DepositAddressAlreadyAllocated, User: alloc.User, Address: alloc.Address.Address}
	}
	// the same ETH address may serve the user's tokens, never another user
	if owner, taken := s.AddressOwner(cur, alloc.Address.Address); taken && owner != alloc.User {
		return &FoldError{Kind: DepositAddressAlreadyAllocated, User: owner, Address: alloc.Address.Address}
	}
	pci.DepositInfo = append(pci.DepositInfo, alloc.Address)
	return nil
}

func (s *State) applyBtcBestBlock(b BtcBestBlock) {
	s.BtcState = BtcState{Height: b.Height, Hash: b.Hash}
}

// btcOwner resolves the user a bitcoin output belongs to: the owner of the
// deposit address, or the user whose completed withdrawal has that txid.
func (s *State) btcOwner(dir Direction, txid, address string) *model.PerCurrencyInfo {
	if dir == Withdraw {
		_, pci, _ := s.WithdrawalByTxid(model.BTC, txid)
		return pci
	}
	_, pci := s.UserByAddress(model.BTC, address)
	return pci
}

// applyBtcTxUpdate replaces the known (txid, vout) in place or appends it.
// Outputs of unknown users are ignored.
func (s *State) applyBtcTxUpdate(created time.Time, upd BtcTxUpdate) {
	pci := s.btcOwner(upd.Direction, upd.Txid, upd.Address)
	if pci == nil {
		return
	}
	amount := upd.Amount
	if amount < 0 {
		amount = -amount
	}
	if upd.Direction == Withdraw {
		amount = -amount
	}
	tx := model.BtcTransaction{
		Txid:          upd.Txid,
		Vout:          upd.Vout,
		Address:       upd.Address,
		Confirmations: upd.Confirmations,
		Amount:        amount,
		Timestamp:     upd.Timestamp,
		Conflicts:     append([]string{}, upd.Conflicts...),
	}
	if upd.Fee != nil {
		fee := *upd.Fee
		tx.Fee = &fee
	}
	if i := pci.FindTransaction(upd.Txid, upd.Vout); i >= 0 {
		pci.Transactions[i] = model.Transaction{Btc: &tx}
	} else {
		pci.Transactions = append(pci.Transactions, model.Transaction{Btc: &tx})
	}
	refreshSpent(pci, created)
}

// applyBtcTxCancel drops a transaction that left the best chain or lost a
// replace-by-fee race.
func (s *State) applyBtcTxCancel(created time.Time, c BtcTxCancel) {
	for _, u := range s.Users {
		pci := u.Currency(model.BTC)
		if pci == nil {
			continue
		}
		if i := pci.FindTransaction(c.Txid, c.Vout); i >= 0 {
			pci.Transactions = append(pci.Transactions[:i], pci.Transactions[i+1:]...)
			refreshSpent(pci, created)
			return
		}
	}
}

func ethCurrency(contract string) (model.Currency, bool) {
	if contract == "" {
		return model.ETH, true
	}
	tok, ok := model.FindTokenByContract(contract)
	if !ok {
		return model.Currency{}, false
	}
	return model.TokenCurrency(tok), true
}

func (s *State) applyEthTxUpdate(created time.Time, upd EthTxUpdate) {
	cur, ok := ethCurrency(upd.Contract)
	if !ok {
		return
	}
	var pci *model.PerCurrencyInfo
	if upd.Direction == Withdraw {
		_, pci, _ = s.WithdrawalByTxid(cur, upd.Hash)
	} else {
		_, pci = s.UserByAddress(cur, upd.Account)
	}
	if pci == nil {
		return
	}
	value := upd.Value
	if value < 0 {
		value = -value
	}
	if upd.Direction == Withdraw {
		value = -value
	}
	tx := model.EthTransaction{
		BlockNumber:   upd.BlockNumber,
		Timestamp:     upd.Timestamp,
		Hash:          upd.Hash,
		LogIndex:      upd.LogIndex,
		From:          upd.From,
		To:            upd.To,
		Value:         value,
		TokenValue:    upd.TokenValue,
		Gas:           upd.Gas,
		GasPrice:      upd.GasPrice,
		Contract:      upd.Contract,
		Confirmations: upd.Confirmations,
		Account:       upd.Account,
	}
	if i := pci.FindTransaction(upd.Hash, upd.LogIndex); i >= 0 {
		pci.Transactions[i] = model.Transaction{Eth: &tx}
	} else {
		pci.Transactions = append(pci.Transactions, model.Transaction{Eth: &tx})
	}
	refreshSpent(pci, created)
}

func (s *State) applyEthTxCancel(created time.Time, c EthTxCancel) {
	cur, ok := ethCurrency(c.Contract)
	if !ok {
		return
	}
	for _, u := range s.Users {
		pci := u.Currency(cur)
		if pci == nil {
			continue
		}
		if i := pci.FindTransaction(c.Hash, c.LogIndex); i >= 0 {
			pci.Transactions = append(pci.Transactions[:i], pci.Transactions[i+1:]...)
			refreshSpent(pci, created)
			return
		}
	}
}
