package sign

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/decred/dcrd/dcrec/secp256k1/v4/ecdsa"
)

var _ Signer = (*KeySigner)(nil)

// KeySigner signs with a secp256k1 private key held in memory, producing
// 65 byte compact recoverable signatures.
type KeySigner struct {
	privateKey *secp256k1.PrivateKey
	publicKey  []byte

	mtx       sync.Mutex
	watermark Watermark
}

func NewKeySigner(privateKey *secp256k1.PrivateKey) *KeySigner {
	return &KeySigner{
		privateKey: privateKey,
		publicKey:  privateKey.PubKey().SerializeCompressed(),
	}
}

// NewKeySignerFromHex parses a hex encoded 32 byte private key.
func NewKeySignerFromHex(privateKeyHex string) (*KeySigner, error) {
	raw, err := hex.DecodeString(privateKeyHex)
	if err != nil {
		return nil, fmt.Errorf("decoding private key: %w", err)
	}
	if len(raw) != secp256k1.PrivKeyBytesLen {
		return nil, fmt.Errorf("private key must be %d bytes, got %d", secp256k1.PrivKeyBytesLen, len(raw))
	}
	return NewKeySigner(secp256k1.PrivKeyFromBytes(raw)), nil
}

// GenerateKeySigner creates a signer over a freshly generated key.
func GenerateKeySigner() (*KeySigner, error) {
	priv, err := secp256k1.GeneratePrivateKey()
	if err != nil {
		return nil, err
	}
	return NewKeySigner(priv), nil
}

func (s *KeySigner) Sign(_ context.Context, level Watermark, hash []byte) ([]byte, error) {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	if !level.Greater(s.watermark) {
		return nil, ErrAlreadySigned(s.watermark)
	}
	s.watermark = level
	return ecdsa.SignCompact(s.privateKey, hash, true), nil
}

func (s *KeySigner) PubKey() []byte {
	return s.publicKey
}

func (s *KeySigner) PrivateKeyHex() string {
	return hex.EncodeToString(s.privateKey.Serialize())
}

func (s *KeySigner) Watermark() Watermark {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	return s.watermark
}

var errPubKeyMismatch = errors.New("recovered public key does not match")

// VerifyCompact is the VerifyFunc for signatures produced by KeySigner.
func VerifyCompact(publicKey, hash, signature []byte) bool {
	return verifyCompact(publicKey, hash, signature) == nil
}

func verifyCompact(publicKey, hash, signature []byte) error {
	expected, err := secp256k1.ParsePubKey(publicKey)
	if err != nil {
		return err
	}
	recovered, _, err := ecdsa.RecoverCompact(signature, hash)
	if err != nil {
		return err
	}
	if !recovered.IsEqual(expected) {
		return errPubKeyMismatch
	}
	return nil
}
