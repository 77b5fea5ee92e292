package payments

import (
	"context"
	"errors"
	"fmt"

	"github.com/cmwaters/mnpay/pkg/sign"
	"github.com/cmwaters/mnpay/tx"
	"github.com/decred/dcrd/chaincfg/chainhash"
)

// Vote is a masternode's signed assertion that Payee should be paid at Height.
//
// A vote is immutable once signed. The only state that changes is whether it
// has been verified, which the Store sets when it accepts the vote.
type Vote struct {
	Outpoint Outpoint `json:"outpoint"`
	Height   int64    `json:"height"`
	// StartHeight is the height at which the voted-for masternode became
	// eligible. It is informational only.
	StartHeight int64     `json:"start_height"`
	Payee       tx.Script `json:"payee"`
	Signature   []byte    `json:"signature"`

	verified bool
}

func NewVote(outpoint Outpoint, height, startHeight int64, payee tx.Script) *Vote {
	return &Vote{
		Outpoint:    outpoint,
		Height:      height,
		StartHeight: startHeight,
		Payee:       payee.Copy(),
	}
}

// Hash is the identity of the vote. It does not cover the signature.
func (v *Vote) Hash() chainhash.Hash {
	return chainhash.HashH(EncodeVoteIdentity(v.Payee, v.Height, v.StartHeight, v.Outpoint))
}

// SignatureHash is the digest the voter signs.
func (v *Vote) SignatureHash(namespace []byte) chainhash.Hash {
	return chainhash.HashH(EncodeVoteToSign(namespace, v.Outpoint, v.Height, v.StartHeight, v.Payee))
}

// Sign signs the vote using the height as the signer's watermark so a
// masternode never signs two votes for the same height.
func (v *Vote) Sign(ctx context.Context, signer sign.Signer, namespace []byte) error {
	hash := v.SignatureHash(namespace)
	sig, err := signer.Sign(ctx, sign.Watermark{uint64(v.Height)}, hash[:])
	if err != nil {
		return fmt.Errorf("signing vote for height %d: %w", v.Height, err)
	}
	v.Signature = sig
	return nil
}

var ErrInvalidSignature = errors.New("invalid vote signature")

func (v *Vote) CheckSignature(pubKey, namespace []byte, verify sign.VerifyFunc) error {
	hash := v.SignatureHash(namespace)
	if !verify(pubKey, hash[:], v.Signature) {
		return ErrInvalidSignature
	}
	return nil
}

func (v *Vote) IsVerified() bool {
	return v.verified
}

func (v *Vote) ValidateForm() error {
	if v.Height <= 0 {
		return fmt.Errorf("vote height must be positive, got %d", v.Height)
	}
	if v.StartHeight < 0 {
		return fmt.Errorf("vote start height can not be negative, got %d", v.StartHeight)
	}
	if len(v.Payee) == 0 {
		return errors.New("vote does not contain a payee")
	}
	if len(v.Payee) > MaxPayeeSize {
		return fmt.Errorf("vote payee exceeds %d bytes", MaxPayeeSize)
	}
	if len(v.Signature) == 0 {
		return errors.New("vote does not contain any signature")
	}
	return nil
}

// Copy returns a deep copy of the vote, including its verified flag.
func (v *Vote) Copy() *Vote {
	cp := *v
	cp.Payee = v.Payee.Copy()
	if v.Signature != nil {
		cp.Signature = make([]byte, len(v.Signature))
		copy(cp.Signature, v.Signature)
	}
	return &cp
}

func (v *Vote) String() string {
	return fmt.Sprintf("%s, %d, %d, %s, %d", v.Outpoint, v.Height, v.StartHeight, v.Payee, len(v.Signature))
}
