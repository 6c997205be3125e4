package service

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/hexresearch/hexstody-sub000/adapter"
	"github.com/hexresearch/hexstody-sub000/model"
)

func TestHDAddressPoolVectors(t *testing.T) {
	pool, err := NewHDAddressPool(testMnemonic, model.Mainnet)
	require.NoError(t, err)
	ctx := context.Background()

	btc, err := pool.NewAddress(ctx, model.BTC, 0)
	require.NoError(t, err)
	require.Equal(t, "bc1qcr8te4kr609gcawutmrza0j4xv80jy8z306fyu", btc)

	eth, err := pool.NewAddress(ctx, model.ETH, 0)
	require.NoError(t, err)
	require.Equal(t, "0x9858EfFD232B4033E47d90003D41EC34EcaEda94", eth)

	tok, err := pool.NewAddress(ctx, model.TokenCurrency(model.SupportedTokens[0]), 0)
	require.NoError(t, err)
	require.Equal(t, eth, tok)
}

func TestHDAddressPoolRegtest(t *testing.T) {
	pool, err := NewHDAddressPool(testMnemonic, model.Regtest)
	require.NoError(t, err)
	ctx := context.Background()

	seen := map[string]bool{}
	for i := 0; i < 5; i++ {
		a, err := pool.NewAddress(ctx, model.BTC, i)
		require.NoError(t, err)
		require.True(t, strings.HasPrefix(a, "bcrt1q"), a)
		_, err = model.NewCurrencyAddress(model.Regtest, model.BTC, a)
		require.NoError(t, err)
		require.False(t, seen[a])
		seen[a] = true
	}
	again, err := pool.NewAddress(ctx, model.BTC, 2)
	require.NoError(t, err)
	require.True(t, seen[again])

	_, err = pool.NewAddress(ctx, model.BTC, -1)
	require.Error(t, err)
}

func TestHDAddressPoolMnemonic(t *testing.T) {
	_, err := NewHDAddressPool("not a mnemonic", model.Regtest)
	require.Error(t, err)

	m, err := NewMnemonic()
	require.NoError(t, err)
	require.Len(t, strings.Fields(m), 24)
	_, err = NewHDAddressPool(m, model.Testnet)
	require.NoError(t, err)
}

func TestAdapterAddressSource(t *testing.T) {
	btc := &fakeChain{addr: "bcrt1qw508d6qejxtdg4y5r3zarvary0c5xw7kygt080"}
	src := AdapterAddressSource{Btc: btc}
	ctx := context.Background()

	a, err := src.NewAddress(ctx, model.BTC, 7)
	require.NoError(t, err)
	require.Equal(t, btc.addr, a)

	_, err = src.NewAddress(ctx, model.ETH, 0)
	requireServiceKind(t, err, NoAddressSource)

	btc.addrErr = &adapter.RejectedError{Reason: "keypool exhausted"}
	_, err = src.NewAddress(ctx, model.BTC, 0)
	requireServiceKind(t, err, AdapterRejected)

	btc.addrErr = errors.New("eof")
	_, err = src.NewAddress(ctx, model.BTC, 0)
	requireServiceKind(t, err, AdapterFailure)
}
