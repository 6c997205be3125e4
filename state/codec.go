package state

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// CurrentVersion is written with every new record.
const CurrentVersion int16 = 0

type CodecErrorKind int

const (
	UnknownTag CodecErrorKind = iota + 1
	UnexpectedVersion
	BadBody
)

// CodecError means the log holds a record this build cannot read. It is
// fatal on replay.
type CodecError struct {
	Kind    CodecErrorKind
	Tag     string
	Version int16
	Body    string
	Err     error
}

func (e *CodecError) Error() string {
	switch e.Kind {
	case UnknownTag:
		return fmt.Sprintf("unknown update tag %q", e.Tag)
	case UnexpectedVersion:
		return fmt.Sprintf("unexpected version %d of update %q", e.Version, e.Tag)
	}
	return fmt.Sprintf("failed to decode update %q version %d: %v, body: %s", e.Tag, e.Version, e.Err, e.Body)
}

func (e *CodecError) Unwrap() error { return e.Err }

func (e *CodecError) Subtype() string {
	switch e.Kind {
	case UnknownTag:
		return "unknown_tag"
	case UnexpectedVersion:
		return "unexpected_version"
	}
	return "bad_body"
}

func (e *CodecError) Code() uint16 { return 1900 + uint16(e.Kind) }

func (e *CodecError) Status() int { return http.StatusInternalServerError }

func decodeAs[T Body](raw []byte) (Body, error) {
	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, err
	}
	return v, nil
}

var decoders = map[string]func([]byte) (Body, error){
	TagSignup:                    decodeAs[SignupInfo],
	TagSnapshot:                  decodeAs[Snapshot],
	TagCreateWithdrawalRequest:   decodeAs[WithdrawalRequestInfo],
	TagWithdrawalRequestDecision: decodeAs[WithdrawalDecision],
	TagWithdrawalNodeUpdate:      decodeAs[WithdrawalNodeUpdate],
	TagDepositAddress:            decodeAs[DepositAllocation],
	TagBtcBestBlock:              decodeAs[BtcBestBlock],
	TagBtcTransactionUpdate:      decodeAs[BtcTxUpdate],
	TagBtcTransactionCancel:      decodeAs[BtcTxCancel],
	TagEthTransactionUpdate:      decodeAs[EthTxUpdate],
	TagEthTransactionCancel:      decodeAs[EthTxCancel],
	TagUpdateTokens:              decodeAs[TokenUpdate],
	TagGenInvite:                 decodeAs[GenInvite],
	TagLimitsChangeRequest:       decodeAs[LimitChangeUpd],
	TagLimitChangeDecision:       decodeAs[LimitChangeDecision],
	TagCancelLimitChange:         decodeAs[CancelLimitChange],
	TagSetLanguage:               decodeAs[SetLanguage],
	TagConfigUpdate:              decodeAs[ConfigUpdate],
	TagSetPublicKey:              decodeAs[SetPublicKey],
	TagExchangeRequest:           decodeAs[ExchangeRequest],
	TagExchangeDecision:          decodeAs[ExchangeDecision],
	TagExchangeAddress:           decodeAs[ExchangeAddress],
}

// Encode serializes a body for storage.
func Encode(b Body) (tag string, version int16, body []byte, err error) {
	if _, ok := decoders[b.Tag()]; !ok {
		return "", 0, nil, &CodecError{Kind: UnknownTag, Tag: b.Tag()}
	}
	body, err = json.Marshal(b)
	if err != nil {
		return "", 0, nil, fmt.Errorf("encode %s: %w", b.Tag(), err)
	}
	return b.Tag(), CurrentVersion, body, nil
}

// Decode is the inverse of Encode.
func Decode(tag string, version int16, raw []byte) (Body, error) {
	dec, ok := decoders[tag]
	if !ok {
		return nil, &CodecError{Kind: UnknownTag, Tag: tag, Version: version}
	}
	if version != CurrentVersion {
		return nil, &CodecError{Kind: UnexpectedVersion, Tag: tag, Version: version}
	}
	b, err := dec(raw)
	if err != nil {
		return nil, &CodecError{Kind: BadBody, Tag: tag, Version: version, Body: string(raw), Err: err}
	}
	return b, nil
}
