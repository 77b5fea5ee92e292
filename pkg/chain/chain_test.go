package chain_test

import (
	"testing"

	"github.com/cmwaters/mnpay/pkg/chain"
	"github.com/cmwaters/mnpay/tx"
	"github.com/stretchr/testify/require"
)

func TestExtend(t *testing.T) {
	c := chain.New(chain.DefaultParams(), []byte("test"))
	require.EqualValues(t, 0, c.Tip())

	height, hash := c.Extend()
	require.EqualValues(t, 1, height)
	got, ok := c.BlockHash(1)
	require.True(t, ok)
	require.Equal(t, hash, got)

	c.ExtendTo(100)
	require.EqualValues(t, 100, c.Tip())
	_, ok = c.BlockHash(101)
	require.False(t, ok)
	_, ok = c.BlockHash(-1)
	require.False(t, ok)

	genesis, _ := c.BlockHash(0)
	require.NotEqual(t, genesis, hash)

	// chains from the same seed agree
	other := chain.New(chain.DefaultParams(), []byte("test"))
	other.ExtendTo(100)
	for h := int64(0); h <= 100; h++ {
		a, _ := c.BlockHash(h)
		b, _ := other.BlockHash(h)
		require.Equal(t, a, b)
	}
}

func TestSubsidy(t *testing.T) {
	c := chain.New(chain.Params{
		InitialSubsidy:  100 * tx.Coin,
		HalvingInterval: 10,
		MasternodeShare: 75,
	}, nil)

	require.Equal(t, 100*tx.Coin, c.BlockSubsidy(9))
	require.Equal(t, 50*tx.Coin, c.BlockSubsidy(10))
	require.Equal(t, 25*tx.Coin, c.BlockSubsidy(25))
	require.Equal(t, 75*tx.Coin, c.BlockSubsidyShare(0))
	require.Equal(t, tx.Amount(0), c.BlockSubsidy(10*64))
}
