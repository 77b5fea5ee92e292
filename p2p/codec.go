package p2p

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/cmwaters/mnpay/payments"
	"github.com/golang/snappy"
)

const (
	uncompressedHeader byte = 0
	snappyHeader       byte = 1
)

// maxFrameSize bounds a single encoded message. An inventory message at the
// maximum batch size stays well below it.
const maxFrameSize = 8 << 20

var ErrFrameTooLarge = errors.New("frame too large")

// EncodeMessage encodes a message as a frame:
//
//  1. A header byte indicating the compression format,
//     possibly indicating uncompressed.
//  2. A uvarint with the length of the maybe-compressed data.
//  3. The maybe-compressed JSON encoding of the message.
func EncodeMessage(msg *payments.Message) ([]byte, error) {
	j, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("marshalling %s message: %w", msg.Type, err)
	}

	header, data := uncompressedHeader, j
	if c := snappy.Encode(nil, j); len(c) < len(j) {
		header, data = snappyHeader, c
	}
	if len(data) > maxFrameSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, len(data))
	}

	frame := make([]byte, 0, 1+binary.MaxVarintLen64+len(data))
	frame = append(frame, header)
	frame = binary.AppendUvarint(frame, uint64(len(data)))
	return append(frame, data...), nil
}

// WriteMessage writes a single framed message to w.
func WriteMessage(w io.Writer, msg *payments.Message) error {
	frame, err := EncodeMessage(msg)
	if err != nil {
		return err
	}
	if _, err := w.Write(frame); err != nil {
		return fmt.Errorf("writing frame: %w", err)
	}
	return nil
}

// DecodeMessage decodes a frame produced by EncodeMessage.
func DecodeMessage(frame []byte) (*payments.Message, error) {
	return ReadMessage(bufio.NewReader(bytes.NewReader(frame)))
}

// ReadMessage reads the next framed message from r. It returns io.EOF when
// r is exhausted before a frame starts.
func ReadMessage(r *bufio.Reader) (*payments.Message, error) {
	header, err := r.ReadByte()
	if err != nil {
		return nil, err
	}
	size, err := binary.ReadUvarint(r)
	if err != nil {
		return nil, fmt.Errorf("reading frame size: %w", unexpectedEOF(err))
	}
	if size > maxFrameSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, size)
	}
	data := make([]byte, size)
	if _, err := io.ReadFull(r, data); err != nil {
		return nil, fmt.Errorf("reading frame: %w", unexpectedEOF(err))
	}

	switch header {
	case uncompressedHeader:
	case snappyHeader:
		decodedLen, err := snappy.DecodedLen(data)
		if err != nil {
			return nil, fmt.Errorf("reading decompressed size: %w", err)
		}
		if decodedLen > maxFrameSize {
			return nil, fmt.Errorf("%w: %d bytes decompressed", ErrFrameTooLarge, decodedLen)
		}
		if data, err = snappy.Decode(nil, data); err != nil {
			return nil, fmt.Errorf("decompressing frame: %w", err)
		}
	default:
		return nil, fmt.Errorf("unknown frame header %d", header)
	}

	var msg payments.Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("unmarshalling message: %w", err)
	}
	return &msg, nil
}

func unexpectedEOF(err error) error {
	if errors.Is(err, io.EOF) {
		return io.ErrUnexpectedEOF
	}
	return err
}
