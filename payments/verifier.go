package payments

import (
	"github.com/cmwaters/mnpay/pkg/sign"
)

// Verifier decides whether a vote is acceptable. It holds no vote state and
// is safe for concurrent use.
type Verifier struct {
	params   Parameters
	registry Registry
	status   SyncStatus
	verify   sign.VerifyFunc
	// voting is true when this node is an active masternode. Voting nodes
	// check the rank of every vote, not only those above the tip.
	voting bool
}

func NewVerifier(params Parameters, registry Registry, status SyncStatus, verify sign.VerifyFunc, voting bool) *Verifier {
	return &Verifier{
		params:   params,
		registry: registry,
		status:   status,
		verify:   verify,
		voting:   voting,
	}
}

// Validate checks the vote against the registry as seen at tip. It returns
// nil or a *RejectError.
func (v *Verifier) Validate(vote *Vote, tip int64) error {
	if err := vote.ValidateForm(); err != nil {
		return reject(0, false, "malformed vote: %v", err)
	}

	info, ok := v.registry.Masternode(vote.Outpoint)
	if !ok {
		return reject(0, v.status.IsMasternodeListSynced(), "unknown masternode %s", vote.Outpoint)
	}

	if info.ProtocolVersion < v.params.MinProtocolVersion {
		return reject(0, false, "masternode protocol is too old: version=%d, min=%d",
			info.ProtocolVersion, v.params.MinProtocolVersion)
	}

	firstBlock := tip - int64(v.params.StorageLimit(v.registry.Size()))
	if vote.Height < firstBlock || vote.Height > tip+v.params.FutureVoteWindow {
		return reject(0, false, "vote out of range: first=%d, height=%d, tip=%d", firstBlock, vote.Height, tip)
	}

	if err := v.checkRank(vote, tip); err != nil {
		return err
	}

	if err := vote.CheckSignature(info.PubKey, v.params.Namespace, v.verify); err != nil {
		penalty := 0
		// only future votes are penalized and only once the list is synced
		if v.status.IsMasternodeListSynced() && vote.Height > tip {
			penalty = MisbehaviorPenalty
		}
		return reject(penalty, true, "bad signature from %s at height %d", vote.Outpoint, vote.Height)
	}
	return nil
}

func (v *Verifier) checkRank(vote *Vote, tip int64) error {
	if !v.voting && vote.Height <= tip {
		return nil
	}

	rank, ok := v.registry.Rank(vote.Outpoint, vote.Height-v.params.RankLag, v.params.MinProtocolVersion)
	if !ok {
		return reject(0, false, "can't calculate rank for masternode %s", vote.Outpoint)
	}

	if rank > v.params.SignaturesTotal {
		if rank > 2*v.params.SignaturesTotal && vote.Height > tip {
			return reject(MisbehaviorPenalty, false, "masternode %s is not in the top %d (%d)",
				vote.Outpoint, 2*v.params.SignaturesTotal, rank)
		}
		return reject(0, false, "masternode %s is not in the top %d (%d)",
			vote.Outpoint, v.params.SignaturesTotal, rank)
	}
	return nil
}
