package model

import (
	"fmt"
	"time"
)

// LimitSpan is the sliding window of a spending limit.
type LimitSpan string

const (
	SpanDay   LimitSpan = "day"
	SpanWeek  LimitSpan = "week"
	SpanMonth LimitSpan = "month"
)

func ParseLimitSpan(s string) (LimitSpan, error) {
	switch LimitSpan(s) {
	case SpanDay, SpanWeek, SpanMonth:
		return LimitSpan(s), nil
	}
	return "", fmt.Errorf("unknown limit span %q", s)
}

func (s LimitSpan) Duration() time.Duration {
	switch s {
	case SpanWeek:
		return 7 * 24 * time.Hour
	case SpanMonth:
		return 30 * 24 * time.Hour
	default:
		return 24 * time.Hour
	}
}

// MaxLimitAmount bounds any configured limit, 21M BTC in satoshi.
const MaxLimitAmount int64 = 2_100_000_000_000_000

type Limit struct {
	Amount int64     `json:"amount"`
	Span   LimitSpan `json:"span"`
}

// LimitInfo holds the cap and the spend observed inside the current window.
type LimitInfo struct {
	Limit Limit `json:"limit"`
	Spent int64 `json:"spent"`
}

func DefaultLimitInfo() LimitInfo {
	return LimitInfo{Limit: Limit{Amount: 0, Span: SpanDay}}
}

type LimitChangeStatusKind string

const (
	LimitChangeInProgress LimitChangeStatusKind = "in_progress"
	LimitChangeCompleted  LimitChangeStatusKind = "completed"
	LimitChangeRejected   LimitChangeStatusKind = "rejected"
)

type LimitChangeStatus struct {
	Kind          LimitChangeStatusKind `json:"kind"`
	Confirmations int                   `json:"confirmations,omitempty"`
	Rejections    int                   `json:"rejections,omitempty"`
}

// 用户自己的限额修改请求
type LimitChangeRequest struct {
	ID                    string            `json:"id"`
	User                  string            `json:"user"`
	Currency              Currency          `json:"currency"`
	Limit                 Limit             `json:"limit"`
	CreatedAt             time.Time         `json:"created_at"`
	Status                LimitChangeStatus `json:"status"`
	ConfirmationsRequired int               `json:"confirmations_required"`
	Confirmations         []SignatureData   `json:"confirmations"`
	Rejections            []SignatureData   `json:"rejections"`
}

func (r *LimitChangeRequest) Clone() *LimitChangeRequest {
	if r == nil {
		return nil
	}
	out := *r
	out.Confirmations = cloneSignatures(r.Confirmations)
	out.Rejections = cloneSignatures(r.Rejections)
	return &out
}

func (r *LimitChangeRequest) IsOutstanding() bool {
	return r.Status.Kind == LimitChangeInProgress
}

func (r *LimitChangeRequest) SignedBy(publicKey string) bool {
	return containsKey(r.Confirmations, publicKey) || containsKey(r.Rejections, publicKey)
}
