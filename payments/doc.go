// Package payments collects, validates and tallies masternode payee votes.
//
// Each masternode ranked within the top SignaturesTotal at a height (anchored
// RankLag blocks in the past) casts one signed vote naming the payout script it
// believes should be paid at that height. Votes are deduplicated on their
// identity hash, tallied per height and pruned once they fall outside a sliding
// window scaled by the size of the masternode list. Blocks are expected to pay
// the tallied winner whenever it has gathered SignaturesRequired votes.
//
// The Engine is the entry point. It consumes peer messages, produces this node's
// own vote when it runs as an active masternode, answers sync requests and
// periodically asks peers for heights it has little or no data on.
package payments
