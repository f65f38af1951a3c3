// Package message defines the multipart messages exchanged between clients,
// the broker and workers.
//
// A Multipart is an ordered list of frames. On a ROUTER socket the first
// frame is the identity of the peer the message came from (or goes to); REQ
// sockets add and strip an empty delimiter frame in front of the payload.
//
//	client  → broker:  [client, "", body]
//	broker  → worker:  [worker, "", client, body]
//	worker  → broker:  [worker, "", client, result]   or [worker, "", "READY"]
//	broker  → client:  [client, "", result]
package message

import (
	"bytes"
	"errors"
	"strings"
)

// ReadyPayload is the body a worker sends once to announce it can take work.
var ReadyPayload = []byte("READY")

var (
	ErrNotEnoughFrames = errors.New("message: not enough frames")
	ErrTooManyFrames   = errors.New("message: too many frames")
	ErrFrameNotEmpty   = errors.New("message: delimiter frame not empty")
)

// Multipart is an ordered sequence of frames sent and received atomically.
type Multipart [][]byte

// NewMultipart builds a multipart from the given frames.
func NewMultipart(frames ...[]byte) Multipart {
	m := make(Multipart, 0, len(frames))
	return append(m, frames...)
}

// Len returns the number of frames.
func (m Multipart) Len() int {
	return len(m)
}

// PushBack appends a frame.
func (m *Multipart) PushBack(frame []byte) {
	*m = append(*m, frame)
}

// PushFront prepends a frame.
func (m *Multipart) PushFront(frame []byte) {
	*m = append(Multipart{frame}, *m...)
}

// PopFront removes and returns the first frame.
func (m *Multipart) PopFront() ([]byte, error) {
	if len(*m) == 0 {
		return nil, ErrNotEnoughFrames
	}
	frame := (*m)[0]
	*m = (*m)[1:]
	return frame, nil
}

// Front returns the first frame without removing it.
func (m Multipart) Front() ([]byte, error) {
	if len(m) == 0 {
		return nil, ErrNotEnoughFrames
	}
	return m[0], nil
}

// Clone deep-copies every frame.
func (m Multipart) Clone() Multipart {
	out := make(Multipart, len(m))
	for i, f := range m {
		out[i] = append([]byte(nil), f...)
	}
	return out
}

// Equal reports whether both messages carry the same frames.
func (m Multipart) Equal(other Multipart) bool {
	if len(m) != len(other) {
		return false
	}
	for i := range m {
		if !bytes.Equal(m[i], other[i]) {
			return false
		}
	}
	return true
}

// String renders the frames as a list of quoted byte strings.
func (m Multipart) String() string {
	var b strings.Builder
	b.WriteByte('[')
	for i, f := range m {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(quoteFrame(f))
	}
	b.WriteByte(']')
	return b.String()
}

func quoteFrame(f []byte) string {
	var b strings.Builder
	b.WriteString("b'")
	for _, c := range f {
		switch {
		case c == '\'' || c == '\\':
			b.WriteByte('\\')
			b.WriteByte(c)
		case c >= 0x20 && c < 0x7f:
			b.WriteByte(c)
		default:
			const hex = "0123456789abcdef"
			b.WriteString(`\x`)
			b.WriteByte(hex[c>>4])
			b.WriteByte(hex[c&0x0f])
		}
	}
	b.WriteByte('\'')
	return b.String()
}

// Envelope is a routed three-frame message: address, empty delimiter, body.
type Envelope struct {
	Addr  []byte
	Empty []byte
	Body  []byte
}

// Multipart converts the envelope into its frame representation.
func (e Envelope) Multipart() Multipart {
	return NewMultipart(e.Addr, e.Empty, e.Body)
}

// IsReady reports whether the body is the worker READY announcement.
func (e Envelope) IsReady() bool {
	return bytes.Equal(e.Body, ReadyPayload)
}

// PopEnvelope pops address, delimiter and body from the front of m.
// The remaining frames stay in m.
func PopEnvelope(m *Multipart) (Envelope, error) {
	if m.Len() < 3 {
		return Envelope{}, ErrNotEnoughFrames
	}
	addr, _ := m.PopFront()
	empty, _ := m.PopFront()
	body, _ := m.PopFront()
	if len(empty) != 0 {
		return Envelope{}, ErrFrameNotEmpty
	}
	return Envelope{Addr: addr, Empty: empty, Body: body}, nil
}

// Request is a client call travelling through the middleware chain.
type Request struct {
	Payload []byte
	// AffinityKey pins the call to one broker endpoint when non-empty.
	AffinityKey string
}

// Response is the outcome of a client call: the reply frames or an error.
type Response struct {
	Frames Multipart
	Err    error
}
