package payments

import (
	"fmt"
	"sort"

	"github.com/cmwaters/mnpay/tx"
	"github.com/decred/dcrd/chaincfg/chainhash"
	"github.com/sasha-s/go-deadlock"
)

// Store owns every accepted vote and the per height tallies built from them.
//
// Lock order: tallyMtx is always acquired before voteMtx. lastVoteMtx is never
// held together with either of them. No method performs I/O while holding a lock.
type Store struct {
	params   Parameters
	registry Registry
	chain    Chain

	tallyMtx deadlock.Mutex
	tallies  map[int64]*PayeeTally

	voteMtx deadlock.Mutex
	votes   map[chainhash.Hash]*Vote
	// number of times a masternode ranked to vote failed to do so
	missedVotes map[Outpoint]int

	lastVoteMtx deadlock.Mutex
	lastVotes   map[Outpoint]int64
}

func NewStore(params Parameters, registry Registry, chain Chain) *Store {
	return &Store{
		params:      params,
		registry:    registry,
		chain:       chain,
		tallies:     make(map[int64]*PayeeTally),
		votes:       make(map[chainhash.Hash]*Vote),
		missedVotes: make(map[Outpoint]int),
		lastVotes:   make(map[Outpoint]int64),
	}
}

// StorageLimit is the number of blocks below the tip for which votes are kept.
func (s *Store) StorageLimit() int {
	return s.params.StorageLimit(s.registry.Size())
}

// Ingest stores the vote as verified and counts it towards its payee. It
// returns false if the anchor block for the vote's rank is unknown, if the
// vote has already been stored or if the masternode already has a vote counted
// at that height.
func (s *Store) Ingest(vote *Vote) bool {
	if _, ok := s.chain.BlockHash(vote.Height - s.params.RankLag); !ok {
		return false
	}
	hash := vote.Hash()

	s.tallyMtx.Lock()
	defer s.tallyMtx.Unlock()

	// only the first vote of a masternode at a height counts, whatever order
	// heights arrive in
	tally, ok := s.tallies[vote.Height]
	if ok && tally.HasVoter(vote.Outpoint) {
		return false
	}

	s.voteMtx.Lock()
	if existing, ok := s.votes[hash]; ok && existing.verified {
		s.voteMtx.Unlock()
		return false
	}
	stored := vote.Copy()
	stored.verified = true
	s.votes[hash] = stored
	s.voteMtx.Unlock()

	if !ok {
		tally = NewPayeeTally(vote.Height)
		s.tallies[vote.Height] = tally
	}
	tally.AddVote(stored)
	return true
}

func (s *Store) HasVerifiedVote(hash chainhash.Hash) bool {
	s.voteMtx.Lock()
	defer s.voteMtx.Unlock()
	vote, ok := s.votes[hash]
	return ok && vote.verified
}

// Vote returns a copy of the stored vote.
func (s *Store) Vote(hash chainhash.Hash) (*Vote, bool) {
	s.voteMtx.Lock()
	defer s.voteMtx.Unlock()
	vote, ok := s.votes[hash]
	if !ok {
		return nil, false
	}
	return vote.Copy(), true
}

// RecordLastVote records that the masternode voted at height. It returns
// false if the last vote recorded for the masternode is at the same height.
func (s *Store) RecordLastVote(outpoint Outpoint, height int64) bool {
	s.lastVoteMtx.Lock()
	defer s.lastVoteMtx.Unlock()
	if last, ok := s.lastVotes[outpoint]; ok && last == height {
		return false
	}
	s.lastVotes[outpoint] = height
	return true
}

// HasVoted reports whether a vote from the masternode is counted at height.
func (s *Store) HasVoted(outpoint Outpoint, height int64) bool {
	s.tallyMtx.Lock()
	defer s.tallyMtx.Unlock()
	tally, ok := s.tallies[height]
	return ok && tally.HasVoter(outpoint)
}

func (s *Store) LastVote(outpoint Outpoint) (int64, bool) {
	s.lastVoteMtx.Lock()
	defer s.lastVoteMtx.Unlock()
	height, ok := s.lastVotes[outpoint]
	return height, ok
}

func (s *Store) BestPayee(height int64) (tx.Script, bool) {
	s.tallyMtx.Lock()
	defer s.tallyMtx.Unlock()
	tally, ok := s.tallies[height]
	if !ok {
		return nil, false
	}
	return tally.BestPayee()
}

func (s *Store) HasTally(height int64) bool {
	s.tallyMtx.Lock()
	defer s.tallyMtx.Unlock()
	_, ok := s.tallies[height]
	return ok
}

// Tally returns a copy of the tally at height.
func (s *Store) Tally(height int64) (*PayeeTally, bool) {
	s.tallyMtx.Lock()
	defer s.tallyMtx.Unlock()
	tally, ok := s.tallies[height]
	if !ok {
		return nil, false
	}
	return tally.Copy(), true
}

// IsTransactionValid checks the transaction against the tally at height. A
// height without a tally accepts any transaction.
func (s *Store) IsTransactionValid(transaction *tx.Transaction, height int64, amount tx.Amount) bool {
	s.tallyMtx.Lock()
	defer s.tallyMtx.Unlock()
	tally, ok := s.tallies[height]
	if !ok {
		return true
	}
	return tally.IsTransactionValid(transaction, amount, s.params.SignaturesRequired)
}

func (s *Store) RequiredPaymentsString(height int64) string {
	s.tallyMtx.Lock()
	defer s.tallyMtx.Unlock()
	tally, ok := s.tallies[height]
	if !ok {
		return "Unknown"
	}
	return tally.RequiredPaymentsString()
}

// VotesForHeight returns copies of the verified votes counted at height in
// tally order.
func (s *Store) VotesForHeight(height int64) []*Vote {
	s.tallyMtx.Lock()
	defer s.tallyMtx.Unlock()
	tally, ok := s.tallies[height]
	if !ok {
		return nil
	}
	s.voteMtx.Lock()
	defer s.voteMtx.Unlock()
	var votes []*Vote
	for _, hash := range tally.VoteHashes() {
		if vote, ok := s.votes[hash]; ok && vote.verified {
			votes = append(votes, vote.Copy())
		}
	}
	return votes
}

// VerifiedVoteHashes returns the hashes of verified votes for heights in
// [from, to), in ascending height order.
func (s *Store) VerifiedVoteHashes(from, to int64) []chainhash.Hash {
	s.tallyMtx.Lock()
	defer s.tallyMtx.Unlock()
	s.voteMtx.Lock()
	defer s.voteMtx.Unlock()
	var hashes []chainhash.Hash
	for h := from; h < to; h++ {
		tally, ok := s.tallies[h]
		if !ok {
			continue
		}
		for _, hash := range tally.VoteHashes() {
			if vote, ok := s.votes[hash]; ok && vote.verified {
				hashes = append(hashes, hash)
			}
		}
	}
	return hashes
}

// MissingHeights returns the heights in [from, to] without a tally, highest first.
func (s *Store) MissingHeights(from, to int64) []int64 {
	s.tallyMtx.Lock()
	defer s.tallyMtx.Unlock()
	var heights []int64
	for h := to; h >= from; h-- {
		if _, ok := s.tallies[h]; !ok {
			heights = append(heights, h)
		}
	}
	return heights
}

// LowDataHeights returns the tallied heights, in ascending order, that have
// no payee with SignaturesRequired votes and fewer than AverageVotes in total.
func (s *Store) LowDataHeights() []int64 {
	s.tallyMtx.Lock()
	defer s.tallyMtx.Unlock()
	var heights []int64
	for h, tally := range s.tallies {
		if tally.MaxVotes() >= s.params.SignaturesRequired {
			continue
		}
		if tally.TotalVotes() >= s.params.AverageVotes() {
			continue
		}
		heights = append(heights, h)
	}
	sort.Slice(heights, func(i, j int) bool { return heights[i] < heights[j] })
	return heights
}

// VotersAt maps every masternode with a counted vote at height to the payee
// it voted for.
func (s *Store) VotersAt(height int64) map[Outpoint]tx.Script {
	s.tallyMtx.Lock()
	defer s.tallyMtx.Unlock()
	voters := make(map[Outpoint]tx.Script)
	tally, ok := s.tallies[height]
	if !ok {
		return voters
	}
	s.voteMtx.Lock()
	defer s.voteMtx.Unlock()
	for _, hash := range tally.VoteHashes() {
		if vote, ok := s.votes[hash]; ok {
			voters[vote.Outpoint] = vote.Payee.Copy()
		}
	}
	return voters
}

func (s *Store) RecordMissedVote(outpoint Outpoint) int {
	s.voteMtx.Lock()
	defer s.voteMtx.Unlock()
	s.missedVotes[outpoint]++
	return s.missedVotes[outpoint]
}

func (s *Store) MissedVotes() map[Outpoint]int {
	s.voteMtx.Lock()
	defer s.voteMtx.Unlock()
	out := make(map[Outpoint]int, len(s.missedVotes))
	for k, v := range s.missedVotes {
		out[k] = v
	}
	return out
}

// Prune removes every vote more than StorageLimit blocks below tip along with
// the tally of its height. It returns the number of votes removed.
func (s *Store) Prune(tip int64) int {
	limit := int64(s.StorageLimit())

	s.tallyMtx.Lock()
	s.voteMtx.Lock()
	var (
		staleVotes   []chainhash.Hash
		staleHeights = make(map[int64]struct{})
	)
	for hash, vote := range s.votes {
		if tip-vote.Height > limit {
			staleVotes = append(staleVotes, hash)
			staleHeights[vote.Height] = struct{}{}
		}
	}
	for height := range s.tallies {
		if tip-height > limit {
			staleHeights[height] = struct{}{}
		}
	}
	for _, hash := range staleVotes {
		delete(s.votes, hash)
	}
	for height := range staleHeights {
		delete(s.tallies, height)
	}
	s.voteMtx.Unlock()
	s.tallyMtx.Unlock()

	s.lastVoteMtx.Lock()
	var staleVoters []Outpoint
	for outpoint, height := range s.lastVotes {
		if tip-height > limit {
			staleVoters = append(staleVoters, outpoint)
		}
	}
	for _, outpoint := range staleVoters {
		delete(s.lastVotes, outpoint)
	}
	s.lastVoteMtx.Unlock()

	return len(staleVotes)
}

func (s *Store) VoteCount() int {
	s.voteMtx.Lock()
	defer s.voteMtx.Unlock()
	return len(s.votes)
}

func (s *Store) BlockCount() int {
	s.tallyMtx.Lock()
	defer s.tallyMtx.Unlock()
	return len(s.tallies)
}

// IsEnoughData reports whether the store holds more than a full window of
// heights with, on average, more than AverageVotes votes each.
func (s *Store) IsEnoughData() bool {
	limit := s.StorageLimit()
	return s.BlockCount() > limit && s.VoteCount() > limit*s.params.AverageVotes()
}

func (s *Store) Clear() {
	s.tallyMtx.Lock()
	s.voteMtx.Lock()
	s.tallies = make(map[int64]*PayeeTally)
	s.votes = make(map[chainhash.Hash]*Vote)
	s.voteMtx.Unlock()
	s.tallyMtx.Unlock()
}

func (s *Store) String() string {
	s.tallyMtx.Lock()
	defer s.tallyMtx.Unlock()
	s.voteMtx.Lock()
	defer s.voteMtx.Unlock()
	return fmt.Sprintf("Votes: %d, Blocks: %d", len(s.votes), len(s.tallies))
}
