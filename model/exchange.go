package model

import (
	"time"
)

type ExchangeStatusKind string

const (
	ExchangeInProgress ExchangeStatusKind = "in_progress"
	ExchangeCompleted  ExchangeStatusKind = "completed"
	ExchangeRejected   ExchangeStatusKind = "rejected"
)

type ExchangeStatus struct {
	Kind          ExchangeStatusKind `json:"kind"`
	Confirmations int                `json:"confirmations,omitempty"`
	Rejections    int                `json:"rejections,omitempty"`
}

// 币种兑换订单，挂在 From 币种下
type ExchangeOrder struct {
	ID                    string          `json:"id"`
	User                  string          `json:"user"`
	From                  Currency        `json:"from"`
	To                    Currency        `json:"to"`
	AmountFrom            int64           `json:"amount_from"`
	AmountTo              int64           `json:"amount_to"`
	CreatedAt             time.Time       `json:"created_at"`
	Status                ExchangeStatus  `json:"status"`
	ConfirmationsRequired int             `json:"confirmations_required"`
	Confirmations         []SignatureData `json:"confirmations"`
	Rejections            []SignatureData `json:"rejections"`
}

func (o *ExchangeOrder) Clone() *ExchangeOrder {
	if o == nil {
		return nil
	}
	out := *o
	out.Confirmations = cloneSignatures(o.Confirmations)
	out.Rejections = cloneSignatures(o.Rejections)
	return &out
}

func (o *ExchangeOrder) SignedBy(publicKey string) bool {
	return containsKey(o.Confirmations, publicKey) || containsKey(o.Rejections, publicKey)
}
