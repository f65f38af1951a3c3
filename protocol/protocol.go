// Package protocol implements the binary frame protocol spoken between
// clients, workers and the broker.
//
// Every multipart message travels as one protocol frame: a fixed 12-byte
// header followed by a codec-encoded body. The receiver reads the header
// first to learn the body length, then reads exactly that many bytes.
//
// Frame format:
//
//	0      3  4  5  6      8          12
//	┌──────┬──┬──┬──┬──────┬──────────┬───────────────┐
//	│magic │v │ct│mt│parts │ bodyLen  │    body ...    │
//	│ mbk  │01│  │  │uint16│  uint32  │ bodyLen bytes  │
//	└──────┴──┴──┴──┴──────┴──────────┴───────────────┘
package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// Magic number bytes: "mbk" (mini broker).
const (
	MagicNumber byte = 0x6d // 'm'
	MagicByte2  byte = 0x62 // 'b'
	MagicByte3  byte = 0x6b // 'k'
	Version     byte = 0x01
	HeaderSize  int  = 12 // 3 (magic) + 1 (version) + 1 (codec) + 1 (msgType) + 2 (parts) + 4 (bodyLen)

	// MaxBodySize bounds a single frame so a corrupt length cannot make the
	// reader allocate gigabytes.
	MaxBodySize uint32 = 16 << 20
)

// MsgType distinguishes data frames from keepalive frames.
type MsgType byte

const (
	MsgTypeMessage   MsgType = 0 // Multipart message
	MsgTypeHeartbeat MsgType = 1 // keepalive, no body
)

// Codec type constants, mirrored from codec package to avoid circular import.
const (
	CodecTypeJSON   byte = 0
	CodecTypeBinary byte = 1
)

var (
	ErrInvalidMagic   = errors.New("protocol: invalid magic number")
	ErrBadVersion     = errors.New("protocol: unsupported version")
	ErrBadCodec       = errors.New("protocol: unsupported codec type")
	ErrBadMsgType     = errors.New("protocol: unsupported message type")
	ErrBodyTooLarge   = errors.New("protocol: body too large")
	ErrPartsOverflows = errors.New("protocol: too many parts")
)

// Header represents the fixed 12-byte frame header.
type Header struct {
	CodecType byte
	MsgType   MsgType
	Parts     uint16 // Number of multipart frames in the body
	BodyLen   uint32
}

// Encode writes a complete frame (header + body) to w in a single Write.
// Callers sharing w between goroutines must serialize calls themselves.
func Encode(w io.Writer, h *Header, body []byte) error {
	if uint64(len(body)) > uint64(MaxBodySize) {
		return ErrBodyTooLarge
	}
	buf := make([]byte, HeaderSize+len(body))

	copy(buf[0:3], []byte{MagicNumber, MagicByte2, MagicByte3})
	buf[3] = Version
	buf[4] = h.CodecType
	buf[5] = byte(h.MsgType)
	binary.BigEndian.PutUint16(buf[6:8], h.Parts)
	binary.BigEndian.PutUint32(buf[8:12], uint32(len(body)))
	copy(buf[HeaderSize:], body)

	_, err := w.Write(buf)
	return err
}

// Decode reads a complete frame (header + body) from r.
func Decode(r io.Reader) (*Header, []byte, error) {
	headerBuf := make([]byte, HeaderSize)
	if _, err := io.ReadFull(r, headerBuf); err != nil {
		return nil, nil, err
	}

	if headerBuf[0] != MagicNumber || headerBuf[1] != MagicByte2 || headerBuf[2] != MagicByte3 {
		return nil, nil, fmt.Errorf("%w: %x", ErrInvalidMagic, headerBuf[0:3])
	}
	if headerBuf[3] != Version {
		return nil, nil, fmt.Errorf("%w: %d", ErrBadVersion, headerBuf[3])
	}
	if headerBuf[4] != CodecTypeJSON && headerBuf[4] != CodecTypeBinary {
		return nil, nil, fmt.Errorf("%w: %d", ErrBadCodec, headerBuf[4])
	}
	msgType := headerBuf[5]
	if msgType != byte(MsgTypeMessage) && msgType != byte(MsgTypeHeartbeat) {
		return nil, nil, fmt.Errorf("%w: %d", ErrBadMsgType, msgType)
	}

	parts := binary.BigEndian.Uint16(headerBuf[6:8])
	bodyLen := binary.BigEndian.Uint32(headerBuf[8:12])
	if bodyLen > MaxBodySize {
		return nil, nil, fmt.Errorf("%w: %d bytes", ErrBodyTooLarge, bodyLen)
	}

	body := make([]byte, bodyLen)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, nil, err
	}

	return &Header{
		CodecType: headerBuf[4],
		MsgType:   MsgType(msgType),
		Parts:     parts,
		BodyLen:   bodyLen,
	}, body, nil
}
