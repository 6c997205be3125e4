package adapter

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
)

var weiPerGwei = big.NewInt(1_000_000_000)

// EthTransfer is a native transfer or an ERC-20 Transfer log seen on
// chain. Value is wei for native transfers and raw token units for
// tokens; GasPrice is wei.
type EthTransfer struct {
	Hash        string
	LogIndex    uint32
	BlockNumber uint64
	Timestamp   time.Time
	From        string
	To          string
	Value       *big.Int
	Gas         uint64
	GasPrice    *big.Int
	// token contract, empty for ETH
	Contract string
}

// EthNode is the part of an ethereum node the scanner and the token
// balance projection use.
type EthNode interface {
	LatestBlock(ctx context.Context) (uint64, error)
	BlockHash(ctx context.Context, number uint64) (string, error)
	BlockTransfers(ctx context.Context, number uint64) ([]EthTransfer, error)
	TokenTransfers(ctx context.Context, from, to uint64, contracts []common.Address) ([]EthTransfer, error)
	TokenBalance(ctx context.Context, contract, holder common.Address) (*big.Int, error)
}

// rpc is the subset of *ethclient.Client in use.
type rpc interface {
	ChainID(ctx context.Context) (*big.Int, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
	BlockByNumber(ctx context.Context, number *big.Int) (*types.Block, error)
	FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error)
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
}

// EthClient implements EthNode over JSON-RPC.
type EthClient struct {
	rpc     rpc
	chainID *big.Int
}

func DialEth(ctx context.Context, url string) (*EthClient, error) {
	client, err := ethclient.DialContext(ctx, url)
	if err != nil {
		return nil, err
	}
	return newEthClient(ctx, client)
}

func newEthClient(ctx context.Context, r rpc) (*EthClient, error) {
	id, err := r.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("chain id: %w", err)
	}
	return &EthClient{rpc: r, chainID: id}, nil
}

func (e *EthClient) LatestBlock(ctx context.Context) (uint64, error) {
	h, err := e.rpc.HeaderByNumber(ctx, nil)
	if err != nil {
		return 0, err
	}
	return h.Number.Uint64(), nil
}

func (e *EthClient) BlockHash(ctx context.Context, number uint64) (string, error) {
	h, err := e.rpc.HeaderByNumber(ctx, new(big.Int).SetUint64(number))
	if err != nil {
		return "", err
	}
	return h.Hash().Hex(), nil
}

// BlockTransfers lists the value carrying transactions of a block.
func (e *EthClient) BlockTransfers(ctx context.Context, number uint64) ([]EthTransfer, error) {
	block, err := e.rpc.BlockByNumber(ctx, new(big.Int).SetUint64(number))
	if err != nil {
		return nil, err
	}
	signer := types.LatestSignerForChainID(e.chainID)
	ts := time.Unix(int64(block.Time()), 0).UTC()
	var out []EthTransfer
	for _, tx := range block.Transactions() {
		if tx.To() == nil || tx.Value().Sign() == 0 {
			continue
		}
		from, err := types.Sender(signer, tx)
		if err != nil {
			return nil, fmt.Errorf("sender of %s: %w", tx.Hash().Hex(), err)
		}
		out = append(out, EthTransfer{
			Hash:        tx.Hash().Hex(),
			BlockNumber: number,
			Timestamp:   ts,
			From:        from.Hex(),
			To:          tx.To().Hex(),
			Value:       tx.Value(),
			Gas:         tx.Gas(),
			GasPrice:    tx.GasPrice(),
		})
	}
	return out, nil
}

// TokenTransfers lists the Transfer logs of the contracts in [from, to].
func (e *EthClient) TokenTransfers(ctx context.Context, from, to uint64, contracts []common.Address) ([]EthTransfer, error) {
	if len(contracts) == 0 {
		return nil, nil
	}
	logs, err := e.rpc.FilterLogs(ctx, ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(from),
		ToBlock:   new(big.Int).SetUint64(to),
		Addresses: contracts,
		Topics:    [][]common.Hash{{TransferEventSig}},
	})
	if err != nil {
		return nil, err
	}
	times := map[uint64]time.Time{}
	var out []EthTransfer
	for _, l := range logs {
		if l.Removed {
			continue
		}
		src, dst, value, err := DecodeTransfer(l)
		if err != nil {
			continue
		}
		ts, ok := times[l.BlockNumber]
		if !ok {
			h, err := e.rpc.HeaderByNumber(ctx, new(big.Int).SetUint64(l.BlockNumber))
			if err != nil {
				return nil, err
			}
			ts = time.Unix(int64(h.Time), 0).UTC()
			times[l.BlockNumber] = ts
		}
		out = append(out, EthTransfer{
			Hash:        l.TxHash.Hex(),
			LogIndex:    uint32(l.Index),
			BlockNumber: l.BlockNumber,
			Timestamp:   ts,
			From:        src.Hex(),
			To:          dst.Hex(),
			Value:       value,
			GasPrice:    new(big.Int),
			Contract:    l.Address.Hex(),
		})
	}
	return out, nil
}

// TokenBalance calls balanceOf on the contract at the latest block.
func (e *EthClient) TokenBalance(ctx context.Context, contract, holder common.Address) (*big.Int, error) {
	data, err := packBalanceOf(holder)
	if err != nil {
		return nil, err
	}
	raw, err := e.rpc.CallContract(ctx, ethereum.CallMsg{To: &contract, Data: data}, nil)
	if err != nil {
		return nil, err
	}
	return unpackBalanceOf(raw)
}

// gas of a plain value transfer
const transferGas = 21_000

// TransferFee is the node's gas price for a plain transfer, in gwei and
// rounded up.
func (e *EthClient) TransferFee(ctx context.Context) (int64, error) {
	price, err := e.rpc.SuggestGasPrice(ctx)
	if err != nil {
		return 0, err
	}
	wei := new(big.Int).Mul(price, big.NewInt(transferGas))
	wei.Add(wei, new(big.Int).Sub(weiPerGwei, big.NewInt(1)))
	return WeiToGwei(wei)
}

// WeiToGwei truncates to whole gwei; it fails when the result does not fit
// an int64.
func WeiToGwei(wei *big.Int) (int64, error) {
	if wei == nil {
		return 0, nil
	}
	g := new(big.Int).Quo(wei, weiPerGwei)
	if !g.IsInt64() {
		return 0, fmt.Errorf("%s wei overflows gwei", wei)
	}
	return g.Int64(), nil
}
