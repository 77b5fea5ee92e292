package payments

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"strconv"
	"strings"

	"github.com/decred/dcrd/chaincfg/chainhash"
)

// Outpoint references the collateral output of a masternode and serves as its
// unique identifier.
type Outpoint struct {
	Hash  chainhash.Hash
	Index uint32
}

func NewOutpoint(hash chainhash.Hash, index uint32) Outpoint {
	return Outpoint{Hash: hash, Index: index}
}

// ParseOutpoint parses the "hash:index" form produced by MarshalText.
func ParseOutpoint(s string) (Outpoint, error) {
	hashStr, indexStr, ok := strings.Cut(s, ":")
	if !ok {
		return Outpoint{}, fmt.Errorf("outpoint %q is not of the form hash:index", s)
	}
	hash, err := chainhash.NewHashFromStr(hashStr)
	if err != nil {
		return Outpoint{}, fmt.Errorf("outpoint hash: %w", err)
	}
	index, err := strconv.ParseUint(indexStr, 10, 32)
	if err != nil {
		return Outpoint{}, fmt.Errorf("outpoint index: %w", err)
	}
	return Outpoint{Hash: *hash, Index: uint32(index)}, nil
}

// Bytes returns the 36 byte serialization: the raw hash followed by the
// little endian index.
func (o Outpoint) Bytes() []byte {
	buf := make([]byte, chainhash.HashSize+4)
	copy(buf, o.Hash[:])
	binary.LittleEndian.PutUint32(buf[chainhash.HashSize:], o.Index)
	return buf
}

// Compare orders outpoints by hash bytes and then by index.
func (o Outpoint) Compare(other Outpoint) int {
	if c := bytes.Compare(o.Hash[:], other.Hash[:]); c != 0 {
		return c
	}
	switch {
	case o.Index < other.Index:
		return -1
	case o.Index > other.Index:
		return 1
	}
	return 0
}

func (o Outpoint) String() string {
	return fmt.Sprintf("%s-%d", o.Hash, o.Index)
}

func (o Outpoint) MarshalText() ([]byte, error) {
	return []byte(fmt.Sprintf("%s:%d", o.Hash, o.Index)), nil
}

func (o *Outpoint) UnmarshalText(text []byte) error {
	parsed, err := ParseOutpoint(string(text))
	if err != nil {
		return err
	}
	*o = parsed
	return nil
}
