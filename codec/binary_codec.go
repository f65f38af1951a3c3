package codec

import (
	"encoding/binary"

	"mini-broker/message"
)

// BinaryCodec writes each frame as a 4-byte big-endian length followed by
// the frame bytes. Empty frames cost four bytes.
type BinaryCodec struct{}

func (c *BinaryCodec) Encode(m message.Multipart) ([]byte, error) {
	total := 0
	for _, f := range m {
		total += 4 + len(f)
	}
	buf := make([]byte, total)

	offset := 0
	for _, f := range m {
		binary.BigEndian.PutUint32(buf[offset:offset+4], uint32(len(f)))
		offset += 4
		copy(buf[offset:offset+len(f)], f)
		offset += len(f)
	}
	return buf, nil
}

func (c *BinaryCodec) Decode(data []byte) (message.Multipart, error) {
	m := message.Multipart{}
	offset := 0
	for offset < len(data) {
		if len(data)-offset < 4 {
			return nil, ErrTruncated
		}
		n := int(binary.BigEndian.Uint32(data[offset : offset+4]))
		offset += 4
		if n < 0 || len(data)-offset < n {
			return nil, ErrTruncated
		}
		frame := make([]byte, n)
		copy(frame, data[offset:offset+n])
		offset += n
		m = append(m, frame)
	}
	return m, nil
}

func (c *BinaryCodec) Type() CodecType {
	return CodecTypeBinary
}
