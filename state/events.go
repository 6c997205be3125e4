package state

import (
	"encoding/json"
	"time"

	"github.com/hexresearch/hexstody-sub000/model"
)

// Update is one entry of the update log.
type Update struct {
	Created time.Time
	Body    Body
}

// Body is one of the update variants below. Tag selects the variant in the
// log and never changes once released.
type Body interface {
	Tag() string
}

const (
	TagSignup                    = "signup"
	TagSnapshot                  = "snapshot"
	TagCreateWithdrawalRequest   = "create_withdrawal_request"
	TagWithdrawalRequestDecision = "withdrawal_request_decision"
	TagWithdrawalNodeUpdate      = "withdrawal_request_node_update"
	TagDepositAddress            = "deposit_address"
	TagBtcBestBlock              = "btc_best_block"
	TagBtcTransactionUpdate      = "btc_tx_update"
	TagBtcTransactionCancel      = "btc_tx_cancel"
	TagEthTransactionUpdate      = "eth_tx_update"
	TagEthTransactionCancel      = "eth_tx_cancel"
	TagUpdateTokens              = "update_tokens"
	TagGenInvite                 = "gen_invite"
	TagLimitsChangeRequest       = "limits_change_request"
	TagLimitChangeDecision       = "limit_change_decision"
	TagCancelLimitChange         = "cancel_limit_change"
	TagSetLanguage               = "set_language"
	TagConfigUpdate              = "config_update"
	TagSetPublicKey              = "set_public_key"
	TagExchangeRequest           = "exchange_request"
	TagExchangeDecision          = "exchange_decision"
	TagExchangeAddress           = "exchange_address"
)

type DecisionKind string

const (
	Confirm DecisionKind = "confirm"
	Reject  DecisionKind = "reject"
)

// Direction of a chain transaction relative to the custody wallet.
type Direction string

const (
	Deposit  Direction = "deposit"
	Withdraw Direction = "withdraw"
)

type SignupInfo struct {
	Username string             `json:"username"`
	Invite   string             `json:"invite"`
	Auth     model.AuthMaterial `json:"auth"`
}

// Snapshot materializes the full state; its JSON body is the state itself.
type Snapshot struct {
	State *State
}

func (s Snapshot) MarshalJSON() ([]byte, error) { return json.Marshal(s.State) }

func (s *Snapshot) UnmarshalJSON(data []byte) error {
	st := &State{}
	if err := json.Unmarshal(data, st); err != nil {
		return err
	}
	st.normalize()
	s.State = st
	return nil
}

type WithdrawalRequestInfo struct {
	ID                    string                `json:"id"`
	User                  string                `json:"user"`
	Address               model.CurrencyAddress `json:"address"`
	Amount                int64                 `json:"amount"`
	Fee                   int64                 `json:"fee"`
	ConfirmationsRequired int                   `json:"confirmations_required"`
	// on-chain token balance of the user's addresses when the request was
	// made; nil for coins and for operator filed requests
	TokenBalance *int64 `json:"token_balance,omitempty"`
}

type WithdrawalDecision struct {
	RequestID string              `json:"request_id"`
	User      string              `json:"user"`
	Kind      DecisionKind        `json:"kind"`
	Signature model.SignatureData `json:"signature"`
}

// WithdrawalNodeUpdate carries the adapter outcome: exactly one of
// Completed and Rejected is set.
type WithdrawalNodeUpdate struct {
	RequestID string               `json:"request_id"`
	User      string               `json:"user"`
	Completed *model.CompletedInfo `json:"completed,omitempty"`
	Rejected  *string              `json:"rejected,omitempty"`
}

type DepositAllocation struct {
	User    string                `json:"user"`
	Address model.CurrencyAddress `json:"address"`
}

type BtcBestBlock struct {
	Height int64  `json:"height"`
	Hash   string `json:"hash"`
}

// BtcTxUpdate is an observation of a wallet output; Amount is unsigned and
// the sign comes from Direction.
type BtcTxUpdate struct {
	Direction     Direction `json:"direction"`
	Txid          string    `json:"txid"`
	Vout          uint32    `json:"vout"`
	Address       string    `json:"address"`
	Amount        int64     `json:"amount"`
	Confirmations int64     `json:"confirmations"`
	Timestamp     time.Time `json:"timestamp"`
	Conflicts     []string  `json:"conflicts"`
	Fee           *int64    `json:"fee,omitempty"`
}

type BtcTxCancel struct {
	Direction Direction `json:"direction"`
	Txid      string    `json:"txid"`
	Vout      uint32    `json:"vout"`
	Address   string    `json:"address"`
	Amount    int64     `json:"amount"`
}

// EthTxUpdate: Account is the custody side address, Value is unsigned gwei.
// Contract is empty for native ETH.
type EthTxUpdate struct {
	Direction     Direction `json:"direction"`
	Hash          string    `json:"hash"`
	LogIndex      uint32    `json:"log_index"`
	BlockNumber   uint64    `json:"block_number"`
	Timestamp     time.Time `json:"timestamp"`
	From          string    `json:"from"`
	To            string    `json:"to"`
	Account       string    `json:"account"`
	Value         int64     `json:"value"`
	TokenValue    string    `json:"token_value,omitempty"`
	Gas           uint64    `json:"gas"`
	GasPrice      int64     `json:"gas_price"`
	Contract      string    `json:"contract,omitempty"`
	Confirmations int64     `json:"confirmations"`
}

type EthTxCancel struct {
	Hash     string `json:"hash"`
	LogIndex uint32 `json:"log_index"`
	Contract string `json:"contract,omitempty"`
}

type TokenAction string

const (
	TokenEnable  TokenAction = "enable"
	TokenDisable TokenAction = "disable"
)

type TokenUpdate struct {
	User   string           `json:"user"`
	Token  model.Erc20Token `json:"token"`
	Action TokenAction      `json:"action"`
}

type GenInvite struct {
	model.InviteRecord
}

type LimitChangeUpd struct {
	ID                    string         `json:"id"`
	User                  string         `json:"user"`
	Currency              model.Currency `json:"currency"`
	Limit                 model.Limit    `json:"limit"`
	ConfirmationsRequired int            `json:"confirmations_required"`
}

type LimitChangeDecision struct {
	ID        string              `json:"id"`
	User      string              `json:"user"`
	Currency  model.Currency      `json:"currency"`
	Kind      DecisionKind        `json:"kind"`
	Signature model.SignatureData `json:"signature"`
}

type CancelLimitChange struct {
	ID       string         `json:"id"`
	User     string         `json:"user"`
	Currency model.Currency `json:"currency"`
}

type SetLanguage struct {
	User     string `json:"user"`
	Language string `json:"language"`
}

// ConfigUpdate overwrites the contact fields that are set; an empty string
// clears the field.
type ConfigUpdate struct {
	User  string  `json:"user"`
	Email *string `json:"email,omitempty"`
	Phone *string `json:"phone,omitempty"`
	Tg    *string `json:"tg,omitempty"`
}

type SetPublicKey struct {
	User      string  `json:"user"`
	PublicKey *string `json:"public_key,omitempty"`
}

type ExchangeRequest struct {
	ID                    string         `json:"id"`
	User                  string         `json:"user"`
	From                  model.Currency `json:"from"`
	To                    model.Currency `json:"to"`
	AmountFrom            int64          `json:"amount_from"`
	AmountTo              int64          `json:"amount_to"`
	ConfirmationsRequired int            `json:"confirmations_required"`
}

type ExchangeDecision struct {
	ID        string              `json:"id"`
	User      string              `json:"user"`
	Currency  model.Currency      `json:"currency"`
	Kind      DecisionKind        `json:"kind"`
	Signature model.SignatureData `json:"signature"`
}

type ExchangeAddress struct {
	Address model.CurrencyAddress `json:"address"`
}

func (SignupInfo) Tag() string            { return TagSignup }
func (Snapshot) Tag() string              { return TagSnapshot }
func (WithdrawalRequestInfo) Tag() string { return TagCreateWithdrawalRequest }
func (WithdrawalDecision) Tag() string    { return TagWithdrawalRequestDecision }
func (WithdrawalNodeUpdate) Tag() string  { return TagWithdrawalNodeUpdate }
func (DepositAllocation) Tag() string     { return TagDepositAddress }
func (BtcBestBlock) Tag() string          { return TagBtcBestBlock }
func (BtcTxUpdate) Tag() string           { return TagBtcTransactionUpdate }
func (BtcTxCancel) Tag() string           { return TagBtcTransactionCancel }
func (EthTxUpdate) Tag() string           { return TagEthTransactionUpdate }
func (EthTxCancel) Tag() string           { return TagEthTransactionCancel }
func (TokenUpdate) Tag() string           { return TagUpdateTokens }
func (GenInvite) Tag() string             { return TagGenInvite }
func (LimitChangeUpd) Tag() string        { return TagLimitsChangeRequest }
func (LimitChangeDecision) Tag() string   { return TagLimitChangeDecision }
func (CancelLimitChange) Tag() string     { return TagCancelLimitChange }
func (SetLanguage) Tag() string           { return TagSetLanguage }
func (ConfigUpdate) Tag() string          { return TagConfigUpdate }
func (SetPublicKey) Tag() string          { return TagSetPublicKey }
func (ExchangeRequest) Tag() string       { return TagExchangeRequest }
func (ExchangeDecision) Tag() string      { return TagExchangeDecision }
func (ExchangeAddress) Tag() string       { return TagExchangeAddress }
