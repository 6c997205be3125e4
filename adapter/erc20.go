package adapter

import (
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
)

// Transfer(address,address,uint256)
var TransferEventSig = crypto.Keccak256Hash([]byte("Transfer(address,address,uint256)"))

// Transfer event and balanceOf only
const erc20ABIJSON = `[
{"anonymous":false,"inputs":[{"indexed":true,"internalType":"address","name":"from","type":"address"},{"indexed":true,"internalType":"address","name":"to","type":"address"},{"indexed":false,"internalType":"uint256","name":"value","type":"uint256"}],"name":"Transfer","type":"event"},
{"constant":true,"inputs":[{"name":"owner","type":"address"}],"name":"balanceOf","outputs":[{"name":"","type":"uint256"}],"stateMutability":"view","type":"function"}
]`

var erc20ABI = mustABI(erc20ABIJSON)

func mustABI(def string) abi.ABI {
	a, err := abi.JSON(strings.NewReader(def))
	if err != nil {
		panic(err)
	}
	return a
}

var errNotTransfer = errors.New("not an ERC-20 Transfer log")

// DecodeTransfer reads from, to and value of an ERC-20 Transfer log.
func DecodeTransfer(l types.Log) (from, to common.Address, value *big.Int, err error) {
	if len(l.Topics) == 0 || l.Topics[0] != TransferEventSig {
		return common.Address{}, common.Address{}, nil, errNotTransfer
	}
	// from and to are indexed, value is the data
	if len(l.Topics) < 3 {
		return common.Address{}, common.Address{}, nil, fmt.Errorf("transfer log has %d topics", len(l.Topics))
	}
	from = common.BytesToAddress(l.Topics[1].Bytes()[12:])
	to = common.BytesToAddress(l.Topics[2].Bytes()[12:])
	var out struct{ Value *big.Int }
	if err := erc20ABI.UnpackIntoInterface(&out, "Transfer", l.Data); err != nil {
		return common.Address{}, common.Address{}, nil, fmt.Errorf("abi unpack: %w", err)
	}
	return from, to, out.Value, nil
}

func packBalanceOf(holder common.Address) ([]byte, error) {
	return erc20ABI.Pack("balanceOf", holder)
}

func unpackBalanceOf(raw []byte) (*big.Int, error) {
	vals, err := erc20ABI.Unpack("balanceOf", raw)
	if err != nil {
		return nil, err
	}
	if len(vals) != 1 {
		return nil, fmt.Errorf("balanceOf returned %d values", len(vals))
	}
	v, ok := vals[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("balanceOf returned %T", vals[0])
	}
	return v, nil
}
