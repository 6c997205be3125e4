package adapter

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

type BtcEventKind string

const (
	BtcEventUpdate BtcEventKind = "update"
	BtcEventCancel BtcEventKind = "cancel"
)

// BtcTx is a wallet output as reported by the BTC adapter. Amount is in
// satoshi and unsigned, the direction gives the sign.
type BtcTx struct {
	Direction     string   `json:"direction"`
	Txid          string   `json:"txid"`
	Vout          uint32   `json:"vout"`
	Address       string   `json:"address"`
	Amount        int64    `json:"amount"`
	Confirmations int64    `json:"confirmations"`
	Timestamp     int64    `json:"timestamp"`
	Conflicts     []string `json:"conflicts"`
	Fee           *int64   `json:"fee,omitempty"`
}

func (t BtcTx) Time() time.Time { return time.Unix(t.Timestamp, 0).UTC() }

type BtcEvent struct {
	Kind BtcEventKind `json:"type"`
	Tx   BtcTx        `json:"tx"`
}

// BtcEvents is one poll result: the adapter's best block and the changes
// since the block the poll was made from.
type BtcEvents struct {
	Height int64      `json:"height"`
	Hash   string     `json:"hash"`
	Events []BtcEvent `json:"events"`
}

type Fees struct {
	FeeRate int64 `json:"fee_rate"`
	Block   int64 `json:"block"`
}

// Withdrawal is handed to an adapter for broadcast.
type Withdrawal struct {
	// adapters drop a second broadcast of the same id
	ID      string `json:"id"`
	User    string `json:"user"`
	Address string `json:"address"`
	Amount  int64  `json:"amount"`
	// contract of an ERC-20 withdrawal, empty otherwise
	Contract string `json:"contract,omitempty"`
}

// Broadcast is the adapter's answer to an accepted withdrawal.
type Broadcast struct {
	Txid            string   `json:"txid"`
	Fee             int64    `json:"fee"`
	InputAddresses  []string `json:"input_addresses"`
	OutputAddresses []string `json:"output_addresses"`
}

// ChainAdapter is what the withdrawal dispatcher needs from either
// chain.
type ChainAdapter interface {
	SendWithdrawal(ctx context.Context, w Withdrawal) (*Broadcast, error)
	DepositAddress(ctx context.Context) (string, error)
}

type BtcClient struct {
	c jsonClient
}

func NewBtcClient(baseURL string, timeout time.Duration) *BtcClient {
	return &BtcClient{c: newJSONClient(baseURL, timeout)}
}

type pollRequest struct {
	Height int64  `json:"height"`
	Hash   string `json:"hash"`
}

// PollEvents asks for the changes since the given block.
func (b *BtcClient) PollEvents(ctx context.Context, height int64, hash string) (*BtcEvents, error) {
	var out BtcEvents
	if err := b.c.do(ctx, http.MethodPost, "/events", pollRequest{Height: height, Hash: hash}, &out); err != nil {
		return nil, err
	}
	if _, err := chainhash.NewHashFromStr(out.Hash); err != nil {
		return nil, fmt.Errorf("adapter best block hash %q: %w", out.Hash, err)
	}
	for i, ev := range out.Events {
		if ev.Kind != BtcEventUpdate && ev.Kind != BtcEventCancel {
			return nil, fmt.Errorf("event %d: unknown type %q", i, ev.Kind)
		}
		if _, err := chainhash.NewHashFromStr(ev.Tx.Txid); err != nil {
			return nil, fmt.Errorf("event %d: txid %q: %w", i, ev.Tx.Txid, err)
		}
	}
	return &out, nil
}

type addressResponse struct {
	Address string `json:"address"`
}

func (b *BtcClient) DepositAddress(ctx context.Context) (string, error) {
	var out addressResponse
	if err := b.c.do(ctx, http.MethodGet, "/deposit/address", nil, &out); err != nil {
		return "", err
	}
	return out.Address, nil
}

func (b *BtcClient) GetFees(ctx context.Context) (*Fees, error) {
	var out Fees
	if err := b.c.do(ctx, http.MethodGet, "/fees", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (b *BtcClient) SendWithdrawal(ctx context.Context, w Withdrawal) (*Broadcast, error) {
	var out Broadcast
	if err := b.c.do(ctx, http.MethodPost, "/withdraw", w, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

type hotBalanceResponse struct {
	Balance int64 `json:"balance"`
}

// HotBalance is the satoshi amount in the adapter's hot wallet.
func (b *BtcClient) HotBalance(ctx context.Context) (int64, error) {
	var out hotBalanceResponse
	if err := b.c.do(ctx, http.MethodGet, "/hotbalance", nil, &out); err != nil {
		return 0, err
	}
	return out.Balance, nil
}
