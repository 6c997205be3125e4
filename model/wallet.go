package model

import (
	"strings"
	"time"
)

// FinalizedThreshold is the number of confirmations after which a chain
// transaction counts towards the finalized balance.
const FinalizedThreshold = 3

// 单个币种的用户钱包
type PerCurrencyInfo struct {
	Currency Currency `json:"currency"`
	// newest last
	DepositInfo []CurrencyAddress `json:"deposit_info"`
	// oldest first
	Transactions       []Transaction                 `json:"transactions"`
	WithdrawalRequests map[string]*WithdrawalRequest `json:"withdrawal_requests"`
	LimitInfo          LimitInfo                     `json:"limit_info"`
	ExchangeRequests   map[string]*ExchangeOrder     `json:"exchange_requests"`
}

func NewPerCurrencyInfo(cur Currency) *PerCurrencyInfo {
	return &PerCurrencyInfo{
		Currency:           cur,
		DepositInfo:        []CurrencyAddress{},
		Transactions:       []Transaction{},
		WithdrawalRequests: map[string]*WithdrawalRequest{},
		LimitInfo:          DefaultLimitInfo(),
		ExchangeRequests:   map[string]*ExchangeOrder{},
	}
}

func (p *PerCurrencyInfo) Clone() *PerCurrencyInfo {
	if p == nil {
		return nil
	}
	out := *p
	if p.DepositInfo != nil {
		out.DepositInfo = append([]CurrencyAddress{}, p.DepositInfo...)
	}
	if p.Transactions != nil {
		out.Transactions = make([]Transaction, len(p.Transactions))
		for i, tx := range p.Transactions {
			out.Transactions[i] = tx.Clone()
		}
	}
	if p.WithdrawalRequests != nil {
		out.WithdrawalRequests = make(map[string]*WithdrawalRequest, len(p.WithdrawalRequests))
		for id, r := range p.WithdrawalRequests {
			out.WithdrawalRequests[id] = r.Clone()
		}
	}
	if p.ExchangeRequests != nil {
		out.ExchangeRequests = make(map[string]*ExchangeOrder, len(p.ExchangeRequests))
		for id, o := range p.ExchangeRequests {
			out.ExchangeRequests[id] = o.Clone()
		}
	}
	return &out
}

// HasAddress reports whether addr is one of the allocated deposit addresses.
func (p *PerCurrencyInfo) HasAddress(addr string) bool {
	for _, a := range p.DepositInfo {
		if a.SameAddress(addr) {
			return true
		}
	}
	return false
}

// FindTransaction returns the index of the transaction with the given key, or -1.
func (p *PerCurrencyInfo) FindTransaction(txid string, index uint32) int {
	for i, tx := range p.Transactions {
		if tx.Matches(txid, index) {
			return i
		}
	}
	return -1
}

// Transaction is a chain transaction seen for a user. Exactly one of Btc
// and Eth is set.
type Transaction struct {
	Btc *BtcTransaction `json:"btc,omitempty"`
	Eth *EthTransaction `json:"eth,omitempty"`
}

// 比特币交易，金额为聪，负数表示转出
type BtcTransaction struct {
	Txid          string    `json:"txid"`
	Vout          uint32    `json:"vout"`
	Address       string    `json:"address"`
	Confirmations int64     `json:"confirmations"`
	Amount        int64     `json:"amount"`
	Timestamp     time.Time `json:"timestamp"`
	Conflicts     []string  `json:"conflicts"`
	Fee           *int64    `json:"fee,omitempty"`
}

// 以太坊交易。原生 ETH 金额以 gwei 计；代币金额以十进制字符串保存原始单位
type EthTransaction struct {
	BlockNumber   uint64    `json:"block_number"`
	Timestamp     time.Time `json:"timestamp"`
	Hash          string    `json:"hash"`
	LogIndex      uint32    `json:"log_index"`
	From          string    `json:"from"`
	To            string    `json:"to"`
	Value         int64     `json:"value"`
	TokenValue    string    `json:"token_value,omitempty"`
	Gas           uint64    `json:"gas"`
	GasPrice      int64     `json:"gas_price"`
	Contract      string    `json:"contract,omitempty"`
	Confirmations int64     `json:"confirmations"`
	Account       string    `json:"account"`
}

func (t Transaction) Clone() Transaction {
	if t.Btc != nil {
		btc := *t.Btc
		if t.Btc.Conflicts != nil {
			btc.Conflicts = append([]string{}, t.Btc.Conflicts...)
		}
		if t.Btc.Fee != nil {
			fee := *t.Btc.Fee
			btc.Fee = &fee
		}
		return Transaction{Btc: &btc}
	}
	if t.Eth != nil {
		eth := *t.Eth
		return Transaction{Eth: &eth}
	}
	return Transaction{}
}

// Matches compares the transaction key: (txid, vout) for bitcoin and
// (hash, log index) for ethereum.
func (t Transaction) Matches(txid string, index uint32) bool {
	switch {
	case t.Btc != nil:
		return t.Btc.Txid == txid && t.Btc.Vout == index
	case t.Eth != nil:
		return strings.EqualFold(t.Eth.Hash, txid) && t.Eth.LogIndex == index
	}
	return false
}

func (t Transaction) Txid() string {
	switch {
	case t.Btc != nil:
		return t.Btc.Txid
	case t.Eth != nil:
		return t.Eth.Hash
	}
	return ""
}

// Amount is the signed balance effect including the fee of outgoing
// transactions.
func (t Transaction) Amount() int64 {
	switch {
	case t.Btc != nil:
		if t.Btc.Amount < 0 && t.Btc.Fee != nil {
			return t.Btc.Amount - abs(*t.Btc.Fee)
		}
		return t.Btc.Amount
	case t.Eth != nil:
		if t.Eth.Contract != "" {
			return 0
		}
		if t.Eth.Value < 0 {
			return t.Eth.Value - int64(t.Eth.Gas)*t.Eth.GasPrice
		}
		return t.Eth.Value
	}
	return 0
}

func (t Transaction) Confirmations() int64 {
	switch {
	case t.Btc != nil:
		return t.Btc.Confirmations
	case t.Eth != nil:
		return t.Eth.Confirmations
	}
	return 0
}

func (t Transaction) Timestamp() time.Time {
	switch {
	case t.Btc != nil:
		return t.Btc.Timestamp
	case t.Eth != nil:
		return t.Eth.Timestamp
	}
	return time.Time{}
}

// IsConflicted marks an unconfirmed transaction competing with another
// spend of the same inputs.
func (t Transaction) IsConflicted() bool {
	return t.Btc != nil && t.Btc.Confirmations == 0 && len(t.Btc.Conflicts) > 0
}

func (t Transaction) IsFinalized() bool {
	return t.Confirmations() >= FinalizedThreshold
}

func (t Transaction) IsOutgoing() bool { return t.Amount() < 0 }

func abs(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
