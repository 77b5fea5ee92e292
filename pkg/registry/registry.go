// Package registry implements a fixed masternode list with deterministic
// ranking and a payment queue.
package registry

import (
	"bytes"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/cmwaters/mnpay/payments"
	"github.com/decred/dcrd/chaincfg/chainhash"
	"github.com/libp2p/go-libp2p/core/peer"
)

var _ payments.Registry = (*Static)(nil)

// BlockHasher resolves the hash of a block in the active chain.
type BlockHasher interface {
	BlockHash(height int64) (chainhash.Hash, bool)
}

type masternode struct {
	info     payments.MasternodeInfo
	lastPaid int64
}

// Static is a masternode list whose membership never changes. Ranks at a
// height are derived from the hash of the block at that height so that every
// node with the same chain computes the same ordering.
type Static struct {
	chain       BlockHasher
	minProtocol uint32

	mtx         sync.RWMutex
	masternodes []*masternode
	byOutpoint  map[payments.Outpoint]*masternode
	askedFor    map[payments.Outpoint][]peer.ID
	onAskFor    func(peer.ID, payments.Outpoint)
}

type Option func(*Static)

// WithMinProtocol excludes masternodes below the version from the payment queue.
func WithMinProtocol(version uint32) Option {
	return func(s *Static) {
		s.minProtocol = version
	}
}

// WithAskForHandler is called whenever a masternode announcement should be
// requested from a peer.
func WithAskForHandler(fn func(peer.ID, payments.Outpoint)) Option {
	return func(s *Static) {
		s.onAskFor = fn
	}
}

func New(chain BlockHasher, infos []payments.MasternodeInfo, opts ...Option) (*Static, error) {
	if len(infos) == 0 {
		return nil, errors.New("registry must have at least one masternode")
	}
	s := &Static{
		chain:      chain,
		byOutpoint: make(map[payments.Outpoint]*masternode, len(infos)),
		askedFor:   make(map[payments.Outpoint][]peer.ID),
	}
	for _, opt := range opts {
		opt(s)
	}
	for idx, info := range infos {
		if len(info.PubKey) == 0 {
			return nil, fmt.Errorf("masternode %d has no public key", idx)
		}
		if len(info.Payee) == 0 {
			return nil, fmt.Errorf("masternode %d has no payee", idx)
		}
		if len(info.Payee) > payments.MaxPayeeSize {
			return nil, fmt.Errorf("masternode %d payee is %d bytes, max %d", idx, len(info.Payee), payments.MaxPayeeSize)
		}
		info.PubKey = append([]byte(nil), info.PubKey...)
		info.Payee = info.Payee.Copy()
		s.masternodes = append(s.masternodes, &masternode{info: info})
	}
	s.sort()
	if err := s.checkUniqueness(); err != nil {
		return nil, err
	}
	for _, mn := range s.masternodes {
		s.byOutpoint[mn.info.Outpoint] = mn
	}
	return s, nil
}

func (s *Static) Masternode(outpoint payments.Outpoint) (payments.MasternodeInfo, bool) {
	s.mtx.RLock()
	defer s.mtx.RUnlock()
	mn, ok := s.byOutpoint[outpoint]
	if !ok {
		return payments.MasternodeInfo{}, false
	}
	return copyInfo(mn.info), true
}

// Masternodes returns every masternode ordered by outpoint.
func (s *Static) Masternodes() []payments.MasternodeInfo {
	s.mtx.RLock()
	defer s.mtx.RUnlock()
	out := make([]payments.MasternodeInfo, len(s.masternodes))
	for i, mn := range s.masternodes {
		out[i] = copyInfo(mn.info)
	}
	return out
}

func (s *Static) Size() int {
	return len(s.masternodes)
}

func (s *Static) Rank(outpoint payments.Outpoint, height int64, minProtocol uint32) (int, bool) {
	ranks, ok := s.Ranks(height, minProtocol)
	if !ok {
		return 0, false
	}
	for _, r := range ranks {
		if r.Info.Outpoint == outpoint {
			return r.Rank, true
		}
	}
	return 0, false
}

// Ranks orders the masternodes running at least minProtocol and started by
// height. The score of a masternode is the hash of the block at height
// concatenated with its outpoint. Higher scores rank first.
func (s *Static) Ranks(height int64, minProtocol uint32) ([]payments.RankedMasternode, bool) {
	blockHash, ok := s.chain.BlockHash(height)
	if !ok {
		return nil, false
	}

	type scored struct {
		score chainhash.Hash
		info  payments.MasternodeInfo
	}
	s.mtx.RLock()
	candidates := make([]scored, 0, len(s.masternodes))
	for _, mn := range s.masternodes {
		if mn.info.ProtocolVersion < minProtocol || mn.info.StartHeight > height {
			continue
		}
		candidates = append(candidates, scored{
			score: Score(blockHash, mn.info.Outpoint),
			info:  copyInfo(mn.info),
		})
	}
	s.mtx.RUnlock()

	sort.Slice(candidates, func(i, j int) bool {
		return bytes.Compare(candidates[i].score[:], candidates[j].score[:]) > 0
	})
	ranks := make([]payments.RankedMasternode, len(candidates))
	for i, c := range candidates {
		ranks[i] = payments.RankedMasternode{Rank: i + 1, Info: c.info}
	}
	return ranks, true
}

// Score is the ranking score of a masternode at the block with the given hash.
func Score(blockHash chainhash.Hash, outpoint payments.Outpoint) chainhash.Hash {
	buf := make([]byte, 0, chainhash.HashSize+36)
	buf = append(buf, blockHash[:]...)
	buf = append(buf, outpoint.Bytes()...)
	return chainhash.HashH(buf)
}

// NextInQueueForPayment returns the started masternode that was paid least
// recently. Ties go to the masternode that started first and then to the
// lowest outpoint.
func (s *Static) NextInQueueForPayment(height int64) (payments.MasternodeInfo, bool) {
	s.mtx.RLock()
	defer s.mtx.RUnlock()
	var next *masternode
	for _, mn := range s.masternodes {
		if mn.info.ProtocolVersion < s.minProtocol || mn.info.StartHeight > height {
			continue
		}
		if next == nil || paidBefore(mn, next) {
			next = mn
		}
	}
	if next == nil {
		return payments.MasternodeInfo{}, false
	}
	return copyInfo(next.info), true
}

func paidBefore(a, b *masternode) bool {
	if a.lastPaid != b.lastPaid {
		return a.lastPaid < b.lastPaid
	}
	if a.info.StartHeight != b.info.StartHeight {
		return a.info.StartHeight < b.info.StartHeight
	}
	return a.info.Outpoint.Compare(b.info.Outpoint) < 0
}

// MarkPaid records that the masternode was paid at height.
func (s *Static) MarkPaid(outpoint payments.Outpoint, height int64) bool {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	mn, ok := s.byOutpoint[outpoint]
	if !ok {
		return false
	}
	if height > mn.lastPaid {
		mn.lastPaid = height
	}
	return true
}

// MarkPaidByPayee records a payment at height for the masternode paid to payee.
func (s *Static) MarkPaidByPayee(payee []byte, height int64) bool {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	for _, mn := range s.masternodes {
		if bytes.Equal(mn.info.Payee, payee) {
			if height > mn.lastPaid {
				mn.lastPaid = height
			}
			return true
		}
	}
	return false
}

func (s *Static) LastPaid(outpoint payments.Outpoint) (int64, bool) {
	s.mtx.RLock()
	defer s.mtx.RUnlock()
	mn, ok := s.byOutpoint[outpoint]
	if !ok {
		return 0, false
	}
	return mn.lastPaid, true
}

// AskFor records that the masternode should be requested from the peer. A
// peer is only asked once per masternode.
func (s *Static) AskFor(from peer.ID, outpoint payments.Outpoint) {
	s.mtx.Lock()
	for _, p := range s.askedFor[outpoint] {
		if p == from {
			s.mtx.Unlock()
			return
		}
	}
	s.askedFor[outpoint] = append(s.askedFor[outpoint], from)
	onAskFor := s.onAskFor
	s.mtx.Unlock()

	if onAskFor != nil {
		onAskFor(from, outpoint)
	}
}

// AskedFor returns the peers the masternode has been requested from.
func (s *Static) AskedFor(outpoint payments.Outpoint) []peer.ID {
	s.mtx.RLock()
	defer s.mtx.RUnlock()
	return append([]peer.ID(nil), s.askedFor[outpoint]...)
}

func (s *Static) sort() {
	sort.Slice(s.masternodes, func(i, j int) bool {
		return s.masternodes[i].info.Outpoint.Compare(s.masternodes[j].info.Outpoint) < 0
	})
}

// checkUniqueness returns an error if two masternodes share an outpoint or
// a public key. Masternodes are sorted so duplicates are adjacent by outpoint.
func (s *Static) checkUniqueness() error {
	keys := make(map[string]int, len(s.masternodes))
	for i, mn := range s.masternodes {
		if i > 0 && s.masternodes[i-1].info.Outpoint == mn.info.Outpoint {
			return fmt.Errorf("masternodes %d and %d have the same outpoint %s", i-1, i, mn.info.Outpoint)
		}
		if j, ok := keys[string(mn.info.PubKey)]; ok {
			return fmt.Errorf("masternodes %d and %d have the same public key", j, i)
		}
		keys[string(mn.info.PubKey)] = i
	}
	return nil
}

func copyInfo(info payments.MasternodeInfo) payments.MasternodeInfo {
	info.PubKey = append([]byte(nil), info.PubKey...)
	info.Payee = info.Payee.Copy()
	return info
}
