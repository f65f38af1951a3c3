// Package codec serializes multipart messages into a protocol frame body.
package codec

import (
	"errors"

	"mini-broker/message"
)

type CodecType byte

const (
	CodecTypeJSON   CodecType = 0
	CodecTypeBinary CodecType = 1
)

// ErrTruncated is returned when a body ends in the middle of a frame.
var ErrTruncated = errors.New("codec: truncated body")

type Codec interface {
	Encode(m message.Multipart) ([]byte, error)
	Decode(data []byte) (message.Multipart, error)
	Type() CodecType // 0=JSON, 1=Binary
}

func GetCodec(codecType CodecType) Codec {
	if codecType == CodecTypeJSON {
		return &JSONCodec{}
	}

	return &BinaryCodec{}
}

// ParseCodecType maps a configuration name to a codec type.
func ParseCodecType(name string) (CodecType, error) {
	switch name {
	case "", "binary":
		return CodecTypeBinary, nil
	case "json":
		return CodecTypeJSON, nil
	}
	return 0, errors.New("codec: unknown codec " + name)
}
