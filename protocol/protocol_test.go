package protocol

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"testing"
)

func TestEncodeDecode(t *testing.T) {
	header := Header{
		CodecType: CodecTypeBinary,
		MsgType:   MsgTypeMessage,
		Parts:     3,
	}
	body := []byte("hello world")

	var buf bytes.Buffer
	if err := Encode(&buf, &header, body); err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	if buf.Len() != HeaderSize+len(body) {
		t.Fatalf("frame size: got %d, want %d", buf.Len(), HeaderSize+len(body))
	}

	decodedHeader, decodedBody, err := Decode(&buf)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}

	if decodedHeader.CodecType != header.CodecType {
		t.Errorf("CodecType mismatch: got %d, want %d", decodedHeader.CodecType, header.CodecType)
	}
	if decodedHeader.MsgType != header.MsgType {
		t.Errorf("MsgType mismatch: got %d, want %d", decodedHeader.MsgType, header.MsgType)
	}
	if decodedHeader.Parts != header.Parts {
		t.Errorf("Parts mismatch: got %d, want %d", decodedHeader.Parts, header.Parts)
	}
	if decodedHeader.BodyLen != uint32(len(body)) {
		t.Errorf("BodyLen mismatch: got %d, want %d", decodedHeader.BodyLen, len(body))
	}
	if !bytes.Equal(decodedBody, body) {
		t.Errorf("Body mismatch: got %s, want %s", decodedBody, body)
	}
}

func TestHeartbeatHasNoBody(t *testing.T) {
	var buf bytes.Buffer
	if err := Encode(&buf, &Header{MsgType: MsgTypeHeartbeat}, nil); err != nil {
		t.Fatal(err)
	}
	h, body, err := Decode(&buf)
	if err != nil {
		t.Fatal(err)
	}
	if h.MsgType != MsgTypeHeartbeat || len(body) != 0 {
		t.Fatalf("unexpected heartbeat frame %+v body=%q", h, body)
	}
}

func rawHeader(magic [3]byte, version, codec, msgType byte, bodyLen uint32) []byte {
	buf := make([]byte, HeaderSize)
	copy(buf, magic[:])
	buf[3] = version
	buf[4] = codec
	buf[5] = msgType
	binary.BigEndian.PutUint16(buf[6:8], 1)
	binary.BigEndian.PutUint32(buf[8:12], bodyLen)
	return buf
}

func TestDecodeRejectsBadHeaders(t *testing.T) {
	good := [3]byte{MagicNumber, MagicByte2, MagicByte3}
	tests := []struct {
		name string
		raw  []byte
		want error
	}{
		{"magic", rawHeader([3]byte{'m', 'r', 'p'}, Version, CodecTypeBinary, 0, 0), ErrInvalidMagic},
		{"version", rawHeader(good, 9, CodecTypeBinary, 0, 0), ErrBadVersion},
		{"codec", rawHeader(good, Version, 7, 0, 0), ErrBadCodec},
		{"msgType", rawHeader(good, Version, CodecTypeBinary, 5, 0), ErrBadMsgType},
		{"too large", rawHeader(good, Version, CodecTypeBinary, 0, MaxBodySize+1), ErrBodyTooLarge},
	}
	for _, tt := range tests {
		_, _, err := Decode(bytes.NewReader(tt.raw))
		if !errors.Is(err, tt.want) {
			t.Errorf("%s: expect %v, got %v", tt.name, tt.want, err)
		}
	}
}

func TestDecodeShortBody(t *testing.T) {
	var buf bytes.Buffer
	if err := Encode(&buf, &Header{MsgType: MsgTypeMessage, Parts: 1}, []byte("abcdef")); err != nil {
		t.Fatal(err)
	}
	truncated := buf.Bytes()[:buf.Len()-2]
	if _, _, err := Decode(bytes.NewReader(truncated)); !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Fatalf("expect io.ErrUnexpectedEOF, got %v", err)
	}
}

func TestDecodeConsecutiveFrames(t *testing.T) {
	var buf bytes.Buffer
	for _, s := range []string{"first", "second"} {
		if err := Encode(&buf, &Header{MsgType: MsgTypeMessage, Parts: 1}, []byte(s)); err != nil {
			t.Fatal(err)
		}
	}
	for _, want := range []string{"first", "second"} {
		_, body, err := Decode(&buf)
		if err != nil {
			t.Fatal(err)
		}
		if string(body) != want {
			t.Fatalf("expect %q, got %q", want, body)
		}
	}
	if _, _, err := Decode(&buf); err != io.EOF {
		t.Fatalf("expect io.EOF after last frame, got %v", err)
	}
}
