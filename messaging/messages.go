// Package messaging implements the framed message codec of the peer
// wire protocol: a 4 byte big endian length prefix, a 1 byte id and
// the payload. A length of zero is a keep-alive with no id byte.
package messaging

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/pkg/errors"
)

// ID discriminates the peer message types
type ID uint8

const (
	MsgChoke         ID = 0
	MsgUnchoke       ID = 1
	MsgInterested    ID = 2
	MsgNotInterested ID = 3
	MsgHave          ID = 4
	MsgBitfield      ID = 5
	MsgRequest       ID = 6
	MsgPiece         ID = 7
	MsgCancel        ID = 8
	MsgExtended      ID = 20

	// MsgKeepAlive is synthetic: it has no id byte on the wire
	MsgKeepAlive ID = 255
)

// UnknownMessageError reports an id byte outside the protocol
type UnknownMessageError struct {
	ID uint8
}

func (e UnknownMessageError) Error() string {
	return fmt.Sprintf("unknown peer message id %d", e.ID)
}

// Message is a single peer wire message
type Message struct {
	ID      ID
	Payload []byte
}

// Read reads and parses one message from the connection.
// Keep-alives are returned as MsgKeepAlive so the caller decides to
// ignore them.
func Read(reader io.Reader) (*Message, error) {
	binLength := make([]byte, 4)
	if _, err := io.ReadFull(reader, binLength); err != nil {
		return nil, errors.Wrap(err, "reading message length")
	}
	msgLen := binary.BigEndian.Uint32(binLength)
	if msgLen == 0 {
		return &Message{ID: MsgKeepAlive}, nil
	}

	msgBuff := make([]byte, msgLen)
	if _, err := io.ReadFull(reader, msgBuff); err != nil {
		return nil, errors.Wrap(err, "reading message body")
	}
	id := ID(msgBuff[0])
	if id > MsgCancel && id != MsgExtended {
		return nil, UnknownMessageError{ID: msgBuff[0]}
	}
	return &Message{
		ID:      id,
		Payload: msgBuff[1:],
	}, nil
}

// Serialize returns the framed bytes of the message.
// A nil message serializes as a keep-alive: a zero length prefix.
func (msg *Message) Serialize() []byte {
	if msg == nil {
		return make([]byte, 4)
	}
	// +1 for the id byte
	payLen := uint32(len(msg.Payload) + 1)
	serialized := make([]byte, 4+payLen)
	binary.BigEndian.PutUint32(serialized, payLen)
	serialized[4] = byte(msg.ID)
	copy(serialized[5:], msg.Payload)
	return serialized
}

// Interested returns an interested message
func Interested() *Message {
	return &Message{ID: MsgInterested}
}

// NotInterested returns a not interested message
func NotInterested() *Message {
	return &Message{ID: MsgNotInterested}
}

// Have returns a have message for a piece
func Have(index int) *Message {
	payload := make([]byte, 4)
	binary.BigEndian.PutUint32(payload, uint32(index))
	return &Message{ID: MsgHave, Payload: payload}
}

// Request returns a request message for a block
func Request(index, begin, length int) *Message {
	payload := make([]byte, 12)
	binary.BigEndian.PutUint32(payload, uint32(index))
	binary.BigEndian.PutUint32(payload[4:], uint32(begin))
	binary.BigEndian.PutUint32(payload[8:], uint32(length))
	return &Message{ID: MsgRequest, Payload: payload}
}

// Extended returns an extension message: the extension id byte
// followed by the extension payload
func Extended(extID uint8, payload []byte) *Message {
	body := make([]byte, 1+len(payload))
	body[0] = extID
	copy(body[1:], payload)
	return &Message{ID: MsgExtended, Payload: body}
}

// ParsePiece splits a piece payload into the piece index, the block
// offset and the block bytes
func ParsePiece(payload []byte) (index, begin int, block []byte, err error) {
	if len(payload) < 8 {
		return 0, 0, nil, errors.Errorf("piece payload of length %d, expected at least 8", len(payload))
	}
	index = int(binary.BigEndian.Uint32(payload[:4]))
	begin = int(binary.BigEndian.Uint32(payload[4:8]))
	return index, begin, payload[8:], nil
}

// ParseHave parses a have payload into a piece index
func ParseHave(payload []byte) (int, error) {
	if len(payload) != 4 {
		return 0, errors.Errorf("have payload of length %d, expected 4", len(payload))
	}
	return int(binary.BigEndian.Uint32(payload)), nil
}
