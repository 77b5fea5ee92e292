package payments

import (
	"context"
	"fmt"

	"github.com/libp2p/go-libp2p/core/peer"
)

// Sync advertises to the peer every verified vote for heights in
// [tip, tip+FutureVoteWindow) followed by the number of advertised votes.
// Older heights are requested individually through RequestLowDataPaymentBlocks.
func (e *Engine) Sync(ctx context.Context, to peer.ID) (int, error) {
	if !e.status.IsWinnersListSynced() {
		return 0, nil
	}

	tip := e.Tip()
	hashes := e.store.VerifiedVoteHashes(tip, tip+e.params.FutureVoteWindow)
	inv := make([]Inventory, len(hashes))
	for i, hash := range hashes {
		inv[i] = Inventory{Type: InvVote, Hash: hash}
	}

	if err := e.sendBatched(ctx, to, inv, NewInventoryMessage); err != nil {
		return 0, err
	}
	if err := e.transport.Send(ctx, to, NewSyncStatusCountMessage(SyncTopicVotes, len(inv))); err != nil {
		return len(inv), fmt.Errorf("sending sync status count: %w", err)
	}
	return len(inv), nil
}

// RequestLowDataPaymentBlocks asks the peer for every height within the
// storage window that has no tally, and for every tallied height that has
// neither a clear winner nor an average amount of votes. It returns the
// number of payment blocks requested.
func (e *Engine) RequestLowDataPaymentBlocks(ctx context.Context, to peer.ID) (int, error) {
	if !e.status.IsMasternodeListSynced() {
		return 0, nil
	}

	tip := e.Tip()
	limit := int64(e.store.StorageLimit())
	from := tip - limit + 1
	if from < 0 {
		from = 0
	}

	var inv []Inventory
	for _, height := range e.store.MissingHeights(from, tip) {
		if hash, ok := e.chain.BlockHash(height); ok {
			inv = append(inv, Inventory{Type: InvPaymentBlock, Hash: hash, Height: height})
		}
	}
	for _, height := range e.store.LowDataHeights() {
		if hash, ok := e.chain.BlockHash(height); ok {
			inv = append(inv, Inventory{Type: InvPaymentBlock, Hash: hash, Height: height})
		}
	}
	if len(inv) == 0 {
		return 0, nil
	}

	e.logger.Info().
		Str("peer", to.String()).
		Int("count", len(inv)).
		Msg("asking peer for payment blocks")
	return len(inv), e.sendBatched(ctx, to, inv, NewGetDataMessage)
}

// handleInventory requests every advertised vote not already held.
func (e *Engine) handleInventory(ctx context.Context, from peer.ID, inv []Inventory) error {
	var missing []Inventory
	for _, item := range inv {
		if item.Type == InvVote && !e.store.HasVerifiedVote(item.Hash) {
			missing = append(missing, item)
		}
	}
	if len(missing) == 0 {
		return nil
	}
	return e.sendBatched(ctx, from, missing, NewGetDataMessage)
}

// handleGetData sends the peer each requested vote, and every vote at the
// height of each requested payment block.
func (e *Engine) handleGetData(ctx context.Context, from peer.ID, inv []Inventory) error {
	sent := 0
	for _, item := range inv {
		var votes []*Vote
		switch item.Type {
		case InvVote:
			if vote, ok := e.store.Vote(item.Hash); ok && vote.IsVerified() {
				votes = append(votes, vote)
			}
		case InvPaymentBlock:
			hash, ok := e.chain.BlockHash(item.Height)
			if !ok || hash != item.Hash {
				e.logger.Debug().
					Str("peer", from.String()).
					Int64("height", item.Height).
					Msg("requested payment block not in active chain")
				continue
			}
			votes = e.store.VotesForHeight(item.Height)
		default:
			continue
		}
		for _, vote := range votes {
			if err := e.transport.Send(ctx, from, NewVoteMessage(vote)); err != nil {
				return fmt.Errorf("sending vote to %s: %w", from, err)
			}
			sent++
		}
	}
	e.logger.Debug().Str("peer", from.String()).Int("count", sent).Msg("served getdata")
	return nil
}

func (e *Engine) sendBatched(ctx context.Context, to peer.ID, inv []Inventory, newMsg func([]Inventory) *Message) error {
	for start := 0; start < len(inv); start += e.params.MaxInventoryBatch {
		end := start + e.params.MaxInventoryBatch
		if end > len(inv) {
			end = len(inv)
		}
		if err := e.transport.Send(ctx, to, newMsg(inv[start:end])); err != nil {
			return fmt.Errorf("sending %d inventory entries: %w", end-start, err)
		}
	}
	return nil
}
