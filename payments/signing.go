package payments

import (
	"bytes"
	"encoding/binary"
	"errors"
	"math"

	"github.com/cmwaters/mnpay/tx"
)

const (
	// SigningVersion prefixes every signed vote. It changes whenever the
	// signed encoding does.
	SigningVersion uint8 = 1

	// MaxNamespaceSize indicates the maximum length in bytes of the namespace.
	// A namespace can be empty thus 0 is accepted.
	MaxNamespaceSize = math.MaxUint8

	// MaxPayeeSize is the largest payee script a vote may carry.
	MaxPayeeSize = 10000
)

var ErrInvalidSignedMsgLength = errors.New("invalid signed message length")

// EncodeVoteIdentity encodes the fields identifying a vote. The digest of this
// encoding is the vote's hash which is used for deduplication and inventory.
//
// The format is:
// uvarint length prefixed payee script
// 8 bytes height
// 8 bytes start height
// 32 bytes outpoint hash
// 4 bytes outpoint index
//
// All integers are little endian.
func EncodeVoteIdentity(payee tx.Script, height, startHeight int64, outpoint Outpoint) []byte {
	buf := make([]byte, 0, binary.MaxVarintLen64+len(payee)+16+36)
	buf = binary.AppendUvarint(buf, uint64(len(payee)))
	buf = append(buf, payee...)
	buf = binary.LittleEndian.AppendUint64(buf, uint64(height))
	buf = binary.LittleEndian.AppendUint64(buf, uint64(startHeight))
	buf = append(buf, outpoint.Bytes()...)
	return buf
}

// EncodeVoteToSign encodes the information a masternode signs over
//
// The format is:
// 1 byte signing version
// up to 255 bytes length prefixed namespace (single byte length)
// 32 bytes outpoint hash
// 4 bytes outpoint index (little endian)
// 8 bytes height (big endian)
// 8 bytes start height (big endian)
// up to 10000 bytes length prefixed payee script (two byte big endian length)
//
// Namespace can be left empty
func EncodeVoteToSign(
	namespace []byte,
	outpoint Outpoint,
	height int64,
	startHeight int64,
	payee tx.Script,
) []byte {
	buf := bytes.NewBuffer(nil)
	buf.WriteByte(SigningVersion)
	if len(namespace) > MaxNamespaceSize {
		panic("namespace can not be longer than 255 bytes")
	}
	buf.WriteByte(byte(len(namespace)))
	buf.Write(namespace)
	buf.Write(outpoint.Bytes())

	heightBytes := make([]byte, 8)
	binary.BigEndian.PutUint64(heightBytes, uint64(height))
	buf.Write(heightBytes)
	binary.BigEndian.PutUint64(heightBytes, uint64(startHeight))
	buf.Write(heightBytes)

	if len(payee) > MaxPayeeSize {
		panic("payee can not be longer than 10000 bytes")
	}
	payeeLen := make([]byte, 2)
	binary.BigEndian.PutUint16(payeeLen, uint16(len(payee)))
	buf.Write(payeeLen)
	buf.Write(payee)
	return buf.Bytes()
}

// DecodeVoteToSign reverses EncodeVoteToSign.
func DecodeVoteToSign(msg []byte) (
	version uint8,
	namespace []byte,
	outpoint Outpoint,
	height int64,
	startHeight int64,
	payee tx.Script,
	err error,
) {
	if len(msg) < 2 {
		return 0, nil, Outpoint{}, 0, 0, nil, ErrInvalidSignedMsgLength
	}
	version = msg[0]
	nsLen := int(msg[1])
	offset := 2
	// namespace + outpoint + two heights + payee length
	if len(msg) < offset+nsLen+36+16+2 {
		return 0, nil, Outpoint{}, 0, 0, nil, ErrInvalidSignedMsgLength
	}
	namespace = msg[offset : offset+nsLen]
	offset += nsLen
	copy(outpoint.Hash[:], msg[offset:offset+32])
	outpoint.Index = binary.LittleEndian.Uint32(msg[offset+32 : offset+36])
	offset += 36
	height = int64(binary.BigEndian.Uint64(msg[offset : offset+8]))
	startHeight = int64(binary.BigEndian.Uint64(msg[offset+8 : offset+16]))
	offset += 16
	payeeLen := int(binary.BigEndian.Uint16(msg[offset : offset+2]))
	offset += 2
	if len(msg) != offset+payeeLen {
		return 0, nil, Outpoint{}, 0, 0, nil, ErrInvalidSignedMsgLength
	}
	payee = tx.Script(msg[offset:])
	return
}
