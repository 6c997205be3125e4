package adapter

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// EthWalletClient talks to the ETH wallet adapter, which holds the hot
// wallet keys and signs outgoing transactions.
type EthWalletClient struct {
	c jsonClient
}

func NewEthWalletClient(baseURL string, timeout time.Duration) *EthWalletClient {
	return &EthWalletClient{c: newJSONClient(baseURL, timeout)}
}

func (e *EthWalletClient) DepositAddress(ctx context.Context) (string, error) {
	var out addressResponse
	if err := e.c.do(ctx, http.MethodGet, "/deposit/address", nil, &out); err != nil {
		return "", err
	}
	if !common.IsHexAddress(out.Address) {
		return "", fmt.Errorf("adapter returned invalid address %q", out.Address)
	}
	return common.HexToAddress(out.Address).Hex(), nil
}

// SendWithdrawal broadcasts w. Amount is gwei for ETH and raw token units
// for ERC-20.
func (e *EthWalletClient) SendWithdrawal(ctx context.Context, w Withdrawal) (*Broadcast, error) {
	if !common.IsHexAddress(w.Address) {
		return nil, &RejectedError{Reason: "invalid address " + w.Address}
	}
	var out Broadcast
	if err := e.c.do(ctx, http.MethodPost, "/withdraw", w, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// HotBalance is the gwei amount in the adapter's hot wallet.
func (e *EthWalletClient) HotBalance(ctx context.Context) (int64, error) {
	var out hotBalanceResponse
	if err := e.c.do(ctx, http.MethodGet, "/hotbalance", nil, &out); err != nil {
		return 0, err
	}
	return out.Balance, nil
}
