// Package chain provides an in-memory chain index used by devnets and tests.
package chain

import (
	"encoding/binary"
	"sync"

	"github.com/cmwaters/mnpay/tx"
	"github.com/decred/dcrd/chaincfg/chainhash"
)

// Params describe the subsidy schedule of the chain.
type Params struct {
	InitialSubsidy  tx.Amount
	HalvingInterval int64
	// MasternodeShare is the percentage of the subsidy paid to the masternode.
	MasternodeShare int64
}

func DefaultParams() Params {
	return Params{
		InitialSubsidy:  50 * tx.Coin,
		HalvingInterval: 525600,
		MasternodeShare: 75,
	}
}

// MemChain is a linear chain of block hashes starting at a genesis block at
// height 0. Each block hash commits to its parent and its height.
type MemChain struct {
	params Params

	mtx    sync.RWMutex
	hashes []chainhash.Hash
}

func New(params Params, seed []byte) *MemChain {
	return &MemChain{
		params: params,
		hashes: []chainhash.Hash{chainhash.HashH(seed)},
	}
}

// Extend appends a block and returns its height and hash.
func (c *MemChain) Extend() (int64, chainhash.Hash) {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	return c.extend()
}

// ExtendTo appends blocks until the tip reaches height.
func (c *MemChain) ExtendTo(height int64) {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	for int64(len(c.hashes))-1 < height {
		c.extend()
	}
}

func (c *MemChain) extend() (int64, chainhash.Hash) {
	height := int64(len(c.hashes))
	buf := make([]byte, chainhash.HashSize+8)
	copy(buf, c.hashes[height-1][:])
	binary.BigEndian.PutUint64(buf[chainhash.HashSize:], uint64(height))
	hash := chainhash.HashH(buf)
	c.hashes = append(c.hashes, hash)
	return height, hash
}

func (c *MemChain) Tip() int64 {
	c.mtx.RLock()
	defer c.mtx.RUnlock()
	return int64(len(c.hashes)) - 1
}

func (c *MemChain) BlockHash(height int64) (chainhash.Hash, bool) {
	c.mtx.RLock()
	defer c.mtx.RUnlock()
	if height < 0 || height >= int64(len(c.hashes)) {
		return chainhash.Hash{}, false
	}
	return c.hashes[height], true
}

// BlockSubsidy halves the initial subsidy every HalvingInterval blocks.
func (c *MemChain) BlockSubsidy(height int64) tx.Amount {
	if c.params.HalvingInterval <= 0 {
		return c.params.InitialSubsidy
	}
	halvings := height / c.params.HalvingInterval
	if halvings >= 64 {
		return 0
	}
	return c.params.InitialSubsidy >> uint(halvings)
}

func (c *MemChain) BlockSubsidyShare(height int64) tx.Amount {
	return c.BlockSubsidy(height) * tx.Amount(c.params.MasternodeShare) / 100
}
