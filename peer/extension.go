package peer

import (
	"crypto/sha1"
	"time"

	"github.com/pkg/errors"

	"github.com/vmoraru/go-leech/bencode"
	"github.com/vmoraru/go-leech/messaging"
	"github.com/vmoraru/go-leech/torrent"
)

// extHandshakeID is the reserved extension id of the extended
// handshake itself (BEP 10)
const extHandshakeID uint8 = 0

// utMetadataLocalID is the id we advertise for ut_metadata messages
// addressed to us
const utMetadataLocalID uint8 = 1

// ut_metadata message types (BEP 9)
const (
	metaRequest int64 = 0
	metaData    int64 = 1
	metaReject  int64 = 2
)

// Extension subprotocol failures
var (
	ErrExtensionNotSupported = errors.New("peer does not support the extension protocol")
	ErrUtMetadataNotOffered  = errors.New("peer does not offer ut_metadata")
	ErrMetadataHashMismatch  = errors.New("metadata does not hash to the infohash")
)

// ExtendedHandshake exchanges BEP 10 handshakes with the peer and
// records the extension ids it offers. Must run after the initial
// bitfield has been consumed; a peer handshake that raced ahead of
// the bitfield is picked up from the session instead of the wire.
func (s *Session) ExtendedHandshake() error {
	if !s.remote.SupportsExtensions() {
		return ErrExtensionNotSupported
	}

	ours := bencode.NewDict(map[string]bencode.Value{
		"m": bencode.NewDict(map[string]bencode.Value{
			"ut_metadata": bencode.NewInteger(int64(utMetadataLocalID)),
		}),
	})
	msg := messaging.Extended(extHandshakeID, bencode.Encode(ours))
	if _, err := s.conn.Write(msg.Serialize()); err != nil {
		return errors.Wrap(err, "sending extended handshake")
	}

	payload, err := s.readExtendedHandshake()
	if err != nil {
		return err
	}

	theirs, _, err := bencode.DecodeFirst(payload)
	if err != nil {
		return errors.Wrap(err, "parsing extended handshake")
	}
	m, ok := theirs.Get("m")
	if !ok || m.Kind() != bencode.Dict {
		return errors.Wrap(ErrProtocolViolation, "extended handshake has no \"m\" dictionary")
	}
	s.extensions = make(map[string]uint8, m.Len())
	for name, id := range m.Dict() {
		s.extensions[name] = uint8(id.Int64())
	}
	if size, ok := theirs.Get("metadata_size"); ok && size.Kind() == bencode.Integer {
		s.metadataSize = int(size.Int64())
	}

	s.log.WithField("extensions", s.extensions).Debug("extended handshake done")
	return nil
}

// readExtendedHandshake returns the peer's extended handshake
// payload, either buffered from the bitfield wait or read next off
// the wire
func (s *Session) readExtendedHandshake() ([]byte, error) {
	if s.pendingExtended != nil {
		payload := s.pendingExtended
		s.pendingExtended = nil
		return payload, nil
	}

	s.conn.SetReadDeadline(time.Now().Add(readTimeout))
	defer s.conn.SetReadDeadline(time.Time{})
	for {
		msg, err := messaging.Read(s.conn)
		if err != nil {
			return nil, errors.Wrap(err, "reading extended handshake")
		}
		switch msg.ID {
		case messaging.MsgExtended:
			if len(msg.Payload) == 0 {
				return nil, errors.Wrap(ErrProtocolViolation, "empty extension message")
			}
			if msg.Payload[0] != extHandshakeID {
				return nil, errors.Wrapf(ErrProtocolViolation, "expected extended handshake, got extension id %d", msg.Payload[0])
			}
			return msg.Payload[1:], nil
		case messaging.MsgBitfield:
			s.sawBitfield = true
		case messaging.MsgKeepAlive, messaging.MsgHave, messaging.MsgChoke, messaging.MsgUnchoke:
			// no-op
		default:
			return nil, errors.Wrapf(ErrProtocolViolation, "unexpected message id %d during extended handshake", msg.ID)
		}
	}
}

// UtMetadataID returns the id the peer assigned to ut_metadata
func (s *Session) UtMetadataID() (uint8, bool) {
	id, ok := s.extensions["ut_metadata"]
	if !ok || id == 0 {
		return 0, false
	}
	return id, true
}

// MetadataSize returns the metadata size the peer advertised in its
// extended handshake, zero when absent
func (s *Session) MetadataSize() int {
	return s.metadataSize
}

// FetchMetadata retrieves the raw info dictionary over ut_metadata:
// one request per 16 KiB metadata piece, assembled in order and
// verified against the infohash
func (s *Session) FetchMetadata() ([]byte, error) {
	id, ok := s.UtMetadataID()
	if !ok {
		return nil, ErrUtMetadataNotOffered
	}

	s.conn.SetReadDeadline(time.Now().Add(readTimeout))
	defer s.conn.SetReadDeadline(time.Time{})

	total := s.metadataSize
	var assembled []byte
	for piece := 0; total == 0 || len(assembled) < total; piece++ {
		req := bencode.NewDict(map[string]bencode.Value{
			"msg_type": bencode.NewInteger(metaRequest),
			"piece":    bencode.NewInteger(int64(piece)),
		})
		msg := messaging.Extended(id, bencode.Encode(req))
		if _, err := s.conn.Write(msg.Serialize()); err != nil {
			return nil, errors.Wrapf(err, "requesting metadata piece %d", piece)
		}

		payload, err := s.readMetadataMessage()
		if err != nil {
			return nil, err
		}
		s.conn.SetReadDeadline(time.Now().Add(readTimeout))

		header, rest, err := bencode.DecodeFirst(payload)
		if err != nil {
			return nil, errors.Wrap(err, "parsing metadata message")
		}
		msgType, ok := header.Get("msg_type")
		if !ok || msgType.Kind() != bencode.Integer {
			return nil, errors.Wrap(ErrProtocolViolation, "metadata message has no msg_type")
		}
		if msgType.Int64() == metaReject {
			return nil, errors.Errorf("peer rejected metadata piece %d", piece)
		}
		if msgType.Int64() != metaData {
			return nil, errors.Wrapf(ErrProtocolViolation, "unexpected metadata msg_type %d", msgType.Int64())
		}
		if index, ok := header.Get("piece"); !ok || index.Int64() != int64(piece) {
			return nil, errors.Wrapf(ErrProtocolViolation, "metadata piece out of order, expected %d", piece)
		}
		if size, ok := header.Get("total_size"); ok && size.Kind() == bencode.Integer && total == 0 {
			total = int(size.Int64())
		}
		if total <= 0 {
			return nil, errors.Wrap(ErrProtocolViolation, "metadata message has no total_size")
		}

		// the piece data is the trailing bytes of the payload
		want := min(torrent.BlockSize, total-len(assembled))
		if len(rest) < want {
			return nil, errors.Wrapf(ErrProtocolViolation, "metadata piece %d has %d bytes, expected %d", piece, len(rest), want)
		}
		assembled = append(assembled, rest[len(rest)-want:]...)
	}

	if sha1.Sum(assembled) != s.infoHash {
		return nil, ErrMetadataHashMismatch
	}
	s.log.WithField("size", total).Debug("metadata assembled")
	return assembled, nil
}

// readMetadataMessage returns the payload of the next ut_metadata
// extension message, skipping unrelated traffic
func (s *Session) readMetadataMessage() ([]byte, error) {
	for {
		msg, err := messaging.Read(s.conn)
		if err != nil {
			return nil, errors.Wrap(err, "reading metadata message")
		}
		switch msg.ID {
		case messaging.MsgExtended:
			if len(msg.Payload) == 0 {
				return nil, errors.Wrap(ErrProtocolViolation, "empty extension message")
			}
			if msg.Payload[0] == extHandshakeID {
				// a late extended handshake; keep the one we have
				continue
			}
			return msg.Payload[1:], nil
		case messaging.MsgBitfield:
			s.sawBitfield = true
		case messaging.MsgKeepAlive, messaging.MsgHave, messaging.MsgChoke, messaging.MsgUnchoke:
			// no-op
		default:
			return nil, errors.Wrapf(ErrProtocolViolation, "unexpected message id %d during metadata fetch", msg.ID)
		}
	}
}
