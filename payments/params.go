package payments

import (
	"errors"
	"fmt"
	"time"
)

const (
	// ProtocolVersion is the version this node advertises in every message it sends.
	ProtocolVersion uint32 = 70209

	// MisbehaviorPenalty is the score applied to a peer for a severe protocol violation
	// such as a forged rank or a bad signature on a future vote.
	MisbehaviorPenalty = 20

	// SyncTopicVotes identifies payment votes in sync status count messages.
	SyncTopicVotes = 3

	// SyncAssetVotes is the sync tracker asset bumped whenever a new vote is accepted.
	SyncAssetVotes = "MASTERNODEPAYMENTVOTE"
)

// Parameters are the protocol constants governing payee voting. Every node in a
// network must agree on all of them except MaintenanceInterval and SyncRequestTTL.
type Parameters struct {
	// SignaturesTotal is the number of top ranked masternodes allowed to vote at each height.
	SignaturesTotal int
	// SignaturesRequired is the number of votes a payee needs before blocks are required to pay it.
	SignaturesRequired int

	// MinProtocolVersion is the lowest protocol version a voter or peer may run.
	MinProtocolVersion uint32

	// Votes are retained for max(registry size * StorageCoefficient, MinBlocksToStore) blocks.
	StorageCoefficient float64
	MinBlocksToStore   int

	// FutureVoteWindow bounds how far above the tip a vote may be.
	FutureVoteWindow int64
	// VoteAhead is how far above the tip this node votes.
	VoteAhead int64
	// RankLag is the distance between a vote's height and the block its rank is computed at.
	RankLag int64
	// ScheduledLookahead is the number of blocks above the tip searched by IsScheduled.
	ScheduledLookahead int64

	// MaxInventoryBatch caps the number of entries in a single inventory or getdata message.
	MaxInventoryBatch int

	// MaintenanceInterval is the period of the pruning and low data request loop.
	MaintenanceInterval time.Duration
	// SyncRequestTTL is how long a fulfilled sync request is remembered per peer.
	SyncRequestTTL time.Duration

	// Namespace separates the signatures of different networks.
	Namespace []byte
}

func DefaultParameters() Parameters {
	return Parameters{
		SignaturesTotal:     10,
		SignaturesRequired:  6,
		MinProtocolVersion:  70208,
		StorageCoefficient:  1.25,
		MinBlocksToStore:    5000,
		FutureVoteWindow:    20,
		VoteAhead:           10,
		RankLag:             101,
		ScheduledLookahead:  8,
		MaxInventoryBatch:   50000,
		MaintenanceInterval: time.Minute,
		SyncRequestTTL:      time.Hour,
		Namespace:           []byte("mainnet"),
	}
}

// StorageLimit returns the number of blocks worth of votes to keep for a
// masternode list of the given size.
func (p Parameters) StorageLimit(registrySize int) int {
	limit := int(float64(registrySize) * p.StorageCoefficient)
	if limit < p.MinBlocksToStore {
		return p.MinBlocksToStore
	}
	return limit
}

// AverageVotes is the vote count below which a height without a clear winner
// is considered under supported.
func (p Parameters) AverageVotes() int {
	return (p.SignaturesTotal + p.SignaturesRequired) / 2
}

func (p Parameters) Validate() error {
	if p.SignaturesTotal <= 0 {
		return errors.New("signatures total must be positive")
	}
	if p.SignaturesRequired <= 0 || p.SignaturesRequired > p.SignaturesTotal {
		return fmt.Errorf("signatures required must be in [1, %d], got %d", p.SignaturesTotal, p.SignaturesRequired)
	}
	if p.StorageCoefficient <= 0 {
		return errors.New("storage coefficient must be positive")
	}
	if p.MinBlocksToStore <= 0 {
		return errors.New("min blocks to store must be positive")
	}
	if p.FutureVoteWindow <= 0 || p.VoteAhead <= 0 || p.VoteAhead > p.FutureVoteWindow {
		return fmt.Errorf("vote ahead (%d) must be positive and within the future vote window (%d)", p.VoteAhead, p.FutureVoteWindow)
	}
	if p.RankLag < 0 {
		return errors.New("rank lag can not be negative")
	}
	if p.MaxInventoryBatch <= 0 {
		return errors.New("max inventory batch must be positive")
	}
	if p.MaintenanceInterval <= 0 {
		return errors.New("maintenance interval must be positive")
	}
	if len(p.Namespace) > MaxNamespaceSize {
		return fmt.Errorf("namespace can not be longer than %d bytes", MaxNamespaceSize)
	}
	return nil
}
