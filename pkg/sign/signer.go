package sign

import (
	"context"
	"fmt"
)

// Signer is a service that securely manages a masternode's private key
// and signs payment votes for the payments engine.
//
// The signer should ensure that the node never double signs. This usually means
// implementing a high-water mark tracking the height of the last signed vote.
//
// Make sure the verify function corresponds to the signature scheme used by
// the signer
type Signer interface {
	// PubKey returns the serialized public key matching the key registered
	// for the masternode. This must always return the same value.
	PubKey() []byte

	// Sign signs the message hash at the given watermark, the height of the
	// vote. It returns ErrAlreadySigned unless level is above every watermark
	// signed before.
	Sign(ctx context.Context, level Watermark, hash []byte) ([]byte, error)
}

// VerifyFunc dictates how signatures from voters should be verified. This needs
// to match with the key protocol of the signer.
type VerifyFunc func(publicKey, hash, signature []byte) bool

// ErrAlreadySigned carries the watermark of the last vote signed.
type ErrAlreadySigned []uint64

func (e ErrAlreadySigned) Error() string {
	return fmt.Sprintf("already signed msg at mark %d", []uint64(e))
}

// Watermark is the level a signature is made at. Payment votes sign at a
// single element watermark holding the vote height, so a signer refuses a
// second vote for the same or a lower height.
type Watermark []uint64

func (w Watermark) Greater(other Watermark) bool {
	for idx, v := range w {
		if idx >= len(other) {
			return true
		}
		if v > other[idx] {
			return true
		}
		if v < other[idx] {
			return false
		}
	}
	return false
}
