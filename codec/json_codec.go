package codec

import (
	"encoding/json"

	"mini-broker/message"
)

// JSONCodec encodes the frames as a JSON array of base64 strings.
// Handy when sniffing traffic, roughly a third larger than binary.
type JSONCodec struct{}

func (c *JSONCodec) Encode(m message.Multipart) ([]byte, error) {
	frames := [][]byte(m)
	if frames == nil {
		frames = [][]byte{}
	}
	return json.Marshal(frames)
}

func (c *JSONCodec) Decode(data []byte) (message.Multipart, error) {
	var frames [][]byte
	if err := json.Unmarshal(data, &frames); err != nil {
		return nil, err
	}
	for i, f := range frames {
		if f == nil {
			frames[i] = []byte{}
		}
	}
	return message.Multipart(frames), nil
}

func (c *JSONCodec) Type() CodecType {
	return CodecTypeJSON
}
