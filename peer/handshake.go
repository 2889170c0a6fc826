package peer

import (
	"bytes"
	"encoding/binary"
	"io"

	"github.com/pkg/errors"
)

// Protocol is the protocol identifier of the base handshake
const Protocol = "BitTorrent protocol"

// HandshakeSize is the fixed size of a handshake:
// length prefix + protocol + reserved + infohash + peer id
const HandshakeSize = 1 + len(Protocol) + 8 + 20 + 20

// extensionBit is reserved bit 20 counted from the least significant
// end, i.e. 0x10 in reserved byte 5 (BEP 10)
const extensionBit uint64 = 1 << 20

// ErrShortHandshake reports a handshake of fewer than 68 bytes in
// either direction
var ErrShortHandshake = errors.New("short handshake")

// HandshakeResponse is the peer's side of the handshake
type HandshakeResponse struct {
	PeerID   [20]byte
	Reserved uint64
}

// SupportsExtensions reports whether the peer set the BEP 10 bit
func (r HandshakeResponse) SupportsExtensions() bool {
	return r.Reserved&extensionBit != 0
}

// Handshake renders the 68 byte handshake message.
// When extensions is set, the BEP 10 reserved bit is raised so the
// peer knows we speak the extension protocol.
func Handshake(infoHash, peerID [20]byte, extensions bool) []byte {
	buf := make([]byte, HandshakeSize)
	buf[0] = byte(len(Protocol))
	copy(buf[1:], Protocol)

	var reserved uint64
	if extensions {
		reserved = extensionBit
	}
	binary.BigEndian.PutUint64(buf[1+len(Protocol):], reserved)

	copy(buf[1+len(Protocol)+8:], infoHash[:])
	copy(buf[1+len(Protocol)+8+20:], peerID[:])
	return buf
}

// shakeHands performs the handshake exchange over the connection:
// the full 68 bytes are written, then the full 68 bytes are read.
// A peer answering for a different infohash is rejected; the caller
// closes the connection.
func shakeHands(rw io.ReadWriter, infoHash, peerID [20]byte, extensions bool) (*HandshakeResponse, error) {
	out := Handshake(infoHash, peerID, extensions)
	n, err := rw.Write(out)
	if err != nil {
		return nil, errors.Wrap(err, "sending handshake")
	}
	if n != HandshakeSize {
		return nil, errors.Wrapf(ErrShortHandshake, "sent %d bytes", n)
	}

	in := make([]byte, HandshakeSize)
	if _, err := io.ReadFull(rw, in); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, errors.Wrap(ErrShortHandshake, err.Error())
		}
		return nil, errors.Wrap(err, "reading handshake")
	}

	protoEnd := 1 + len(Protocol)
	if !bytes.Equal(in[:protoEnd], out[:protoEnd]) {
		return nil, errors.Errorf("peer speaks %q, not %q", in[1:protoEnd], Protocol)
	}
	if !bytes.Equal(in[protoEnd+8:protoEnd+28], infoHash[:]) {
		return nil, errors.Errorf("peer answered for infohash %x, expected %x", in[protoEnd+8:protoEnd+28], infoHash)
	}

	res := &HandshakeResponse{
		Reserved: binary.BigEndian.Uint64(in[protoEnd : protoEnd+8]),
	}
	copy(res.PeerID[:], in[protoEnd+28:])
	return res, nil
}
