package payments

import (
	"fmt"
	"strings"

	"github.com/cmwaters/mnpay/tx"
	"github.com/decred/dcrd/chaincfg/chainhash"
)

// PayeeVotes is a candidate payee at a height together with the hashes of the
// votes supporting it.
type PayeeVotes struct {
	Payee tx.Script
	// StartHeight is taken from the first vote naming this payee.
	StartHeight int64
	VoteHashes  []chainhash.Hash
}

func (p PayeeVotes) VoteCount() int {
	return len(p.VoteHashes)
}

// PayeeTally aggregates the votes cast for a single height. Payees are kept in
// the order they were first seen. A vote hash is counted at most once and a
// masternode is counted at most once.
//
// PayeeTally is not safe for concurrent use. The Store guards every tally it
// owns with its tally lock.
type PayeeTally struct {
	height int64
	payees []*PayeeVotes
	// every vote hash counted in this tally
	seen map[chainhash.Hash]struct{}
	// the masternodes whose vote is counted
	voters map[Outpoint]struct{}
}

func NewPayeeTally(height int64) *PayeeTally {
	return &PayeeTally{
		height: height,
		seen:   make(map[chainhash.Hash]struct{}),
		voters: make(map[Outpoint]struct{}),
	}
}

func (t *PayeeTally) Height() int64 {
	return t.height
}

// AddVote counts the vote towards its payee. It returns false if the vote or
// another vote from the same masternode was already counted.
func (t *PayeeTally) AddVote(vote *Vote) bool {
	hash := vote.Hash()
	if _, ok := t.seen[hash]; ok {
		return false
	}
	if t.HasVoter(vote.Outpoint) {
		return false
	}
	t.seen[hash] = struct{}{}
	t.voters[vote.Outpoint] = struct{}{}

	for _, p := range t.payees {
		if p.Payee.Equal(vote.Payee) {
			p.VoteHashes = append(p.VoteHashes, hash)
			return true
		}
	}
	t.payees = append(t.payees, &PayeeVotes{
		Payee:       vote.Payee.Copy(),
		StartHeight: vote.StartHeight,
		VoteHashes:  []chainhash.Hash{hash},
	})
	return true
}

// HasVoter reports whether a vote from the masternode is counted.
func (t *PayeeTally) HasVoter(outpoint Outpoint) bool {
	_, ok := t.voters[outpoint]
	return ok
}

// BestPayee returns the payee with the most votes. On a tie the payee seen
// first wins.
func (t *PayeeTally) BestPayee() (tx.Script, bool) {
	var best *PayeeVotes
	for _, p := range t.payees {
		if best == nil || p.VoteCount() > best.VoteCount() {
			best = p
		}
	}
	if best == nil {
		return nil, false
	}
	return best.Payee.Copy(), true
}

func (t *PayeeTally) HasPayeeWithVotes(payee tx.Script, required int) bool {
	for _, p := range t.payees {
		if p.VoteCount() >= required && p.Payee.Equal(payee) {
			return true
		}
	}
	return false
}

func (t *PayeeTally) MaxVotes() int {
	most := 0
	for _, p := range t.payees {
		if p.VoteCount() > most {
			most = p.VoteCount()
		}
	}
	return most
}

func (t *PayeeTally) TotalVotes() int {
	return len(t.seen)
}

// IsTransactionValid reports whether the transaction pays amount to a payee
// holding at least required votes. Without such a payee there is not enough
// consensus to judge and the transaction is accepted.
func (t *PayeeTally) IsTransactionValid(transaction *tx.Transaction, amount tx.Amount, required int) bool {
	if t.MaxVotes() < required {
		return true
	}
	for _, p := range t.payees {
		if p.VoteCount() >= required && transaction.Pays(p.Payee, amount) {
			return true
		}
	}
	return false
}

// PossiblePayees lists the payees a valid transaction may pay.
func (t *PayeeTally) PossiblePayees(required int) []tx.Script {
	var payees []tx.Script
	for _, p := range t.payees {
		if p.VoteCount() >= required {
			payees = append(payees, p.Payee.Copy())
		}
	}
	return payees
}

// RequiredPaymentsString describes every payee as payee:votes:startHeight.
func (t *PayeeTally) RequiredPaymentsString() string {
	if len(t.payees) == 0 {
		return "Unknown"
	}
	parts := make([]string, len(t.payees))
	for i, p := range t.payees {
		parts[i] = fmt.Sprintf("%s:%d:%d", p.Payee, p.VoteCount(), p.StartHeight)
	}
	return strings.Join(parts, ", ")
}

// Payees returns a copy of the payee entries in first seen order.
func (t *PayeeTally) Payees() []PayeeVotes {
	out := make([]PayeeVotes, len(t.payees))
	for i, p := range t.payees {
		out[i] = PayeeVotes{
			Payee:       p.Payee.Copy(),
			StartHeight: p.StartHeight,
			VoteHashes:  append([]chainhash.Hash(nil), p.VoteHashes...),
		}
	}
	return out
}

// VoteHashes returns every counted vote hash, grouped by payee in first seen order.
func (t *PayeeTally) VoteHashes() []chainhash.Hash {
	hashes := make([]chainhash.Hash, 0, len(t.seen))
	for _, p := range t.payees {
		hashes = append(hashes, p.VoteHashes...)
	}
	return hashes
}

func (t *PayeeTally) Copy() *PayeeTally {
	cp := NewPayeeTally(t.height)
	for _, p := range t.Payees() {
		p := p
		cp.payees = append(cp.payees, &p)
		for _, h := range p.VoteHashes {
			cp.seen[h] = struct{}{}
		}
	}
	for outpoint := range t.voters {
		cp.voters[outpoint] = struct{}{}
	}
	return cp
}
