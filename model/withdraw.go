package model

import (
	"time"
)

// SignatureData is an operator signature kept with a decision for audit.
// PublicKey is the base64 DER encoding and identifies the operator.
type SignatureData struct {
	Signature string `json:"signature"`
	Nonce     uint64 `json:"nonce"`
	PublicKey string `json:"public_key"`
}

type WithdrawalRequestType string

const (
	UnderLimit WithdrawalRequestType = "underlimit"
	OverLimit  WithdrawalRequestType = "overlimit"
)

type WithdrawalStatusKind string

const (
	WithdrawalInProgress   WithdrawalStatusKind = "in_progress"
	WithdrawalConfirmed    WithdrawalStatusKind = "confirmed"
	WithdrawalCompleted    WithdrawalStatusKind = "completed"
	WithdrawalOpRejected   WithdrawalStatusKind = "op_rejected"
	WithdrawalNodeRejected WithdrawalStatusKind = "node_rejected"
)

// CompletedInfo is reported by the chain adapter once the withdrawal is
// broadcast.
type CompletedInfo struct {
	ConfirmedAt     time.Time `json:"confirmed_at"`
	Txid            string    `json:"txid"`
	Fee             int64     `json:"fee"`
	InputAddresses  []string  `json:"input_addresses"`
	OutputAddresses []string  `json:"output_addresses"`
}

// WithdrawalStatus: Net is meaningful for in_progress, Completed for
// completed and Reason for node_rejected.
type WithdrawalStatus struct {
	Kind      WithdrawalStatusKind `json:"kind"`
	Net       int                  `json:"net,omitempty"`
	Completed *CompletedInfo       `json:"completed,omitempty"`
	Reason    string               `json:"reason,omitempty"`
}

func InProgress(net int) WithdrawalStatus {
	return WithdrawalStatus{Kind: WithdrawalInProgress, Net: net}
}

// IsFinal reports whether no operator decision may change the status.
func (s WithdrawalStatus) IsFinal() bool {
	switch s.Kind {
	case WithdrawalCompleted, WithdrawalOpRejected, WithdrawalNodeRejected:
		return true
	}
	return false
}

// IsRejected covers both operator and node rejection.
func (s WithdrawalStatus) IsRejected() bool {
	return s.Kind == WithdrawalOpRejected || s.Kind == WithdrawalNodeRejected
}

// 提现请求
type WithdrawalRequest struct {
	ID        string          `json:"id"`
	User      string          `json:"user"`
	Address   CurrencyAddress `json:"address"`
	CreatedAt time.Time       `json:"created_at"`
	Amount    int64           `json:"amount"`
	// estimated fee known at creation
	Fee                   int64                 `json:"fee"`
	Status                WithdrawalStatus      `json:"status"`
	ConfirmationsRequired int                   `json:"confirmations_required"`
	Confirmations         []SignatureData       `json:"confirmations"`
	Rejections            []SignatureData       `json:"rejections"`
	RequestType           WithdrawalRequestType `json:"request_type"`
}

func (r *WithdrawalRequest) Clone() *WithdrawalRequest {
	if r == nil {
		return nil
	}
	out := *r
	out.Confirmations = cloneSignatures(r.Confirmations)
	out.Rejections = cloneSignatures(r.Rejections)
	if r.Status.Completed != nil {
		c := *r.Status.Completed
		c.InputAddresses = cloneStrings(c.InputAddresses)
		c.OutputAddresses = cloneStrings(c.OutputAddresses)
		out.Status.Completed = &c
	}
	return &out
}

// Total is what the request takes from the user, fee included. Once
// completed the user pays the network fee, up to the fee reserved at
// creation.
func (r *WithdrawalRequest) Total() int64 {
	if r.Status.Completed != nil {
		return r.Amount + min(r.Status.Completed.Fee, r.Fee)
	}
	return r.Amount + r.Fee
}

// FeeOverrun is the part of the network fee above the reserved fee. It is
// not charged to the user.
func (r *WithdrawalRequest) FeeOverrun() int64 {
	if r.Status.Completed == nil || r.Status.Completed.Fee <= r.Fee {
		return 0
	}
	return r.Status.Completed.Fee - r.Fee
}

// SignedBy reports whether the key appears in either signature list.
func (r *WithdrawalRequest) SignedBy(publicKey string) (confirmed, rejected bool) {
	return containsKey(r.Confirmations, publicKey), containsKey(r.Rejections, publicKey)
}

func cloneSignatures(in []SignatureData) []SignatureData {
	if in == nil {
		return nil
	}
	return append([]SignatureData{}, in...)
}

func containsKey(list []SignatureData, publicKey string) bool {
	for _, s := range list {
		if s.PublicKey == publicKey {
			return true
		}
	}
	return false
}

func cloneStrings(in []string) []string {
	if in == nil {
		return nil
	}
	return append([]string{}, in...)
}
