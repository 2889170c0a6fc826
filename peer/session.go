// Package peer implements the wire protocol side of a download: the
// base handshake, the session driver that turns bitfield, choke and
// piece messages into assembled pieces, and the BEP 10 extension
// subprotocol that retrieves the info dictionary for magnet links.
package peer

import (
	"fmt"
	"net"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/vmoraru/go-leech/messaging"
	"github.com/vmoraru/go-leech/torrent"
)

const (
	dialTimeout = 5 * time.Second
	// readTimeout bounds each wait for a message so a silent peer
	// does not hang the session forever
	readTimeout = 20 * time.Second
)

// Session driver failures
var (
	ErrProtocolViolation = errors.New("protocol violation")
	ErrChokedMidDownload = errors.New("peer choked mid download")
)

// PieceHashError reports a completed piece whose SHA-1 does not match
// the metainfo digest
type PieceHashError struct {
	Index int
}

func (e PieceHashError) Error() string {
	return fmt.Sprintf("piece %d failed its hash check", e.Index)
}

// Session is an exclusive connection to one peer. It owns the TCP
// stream for the duration of the download; nothing else reads or
// writes it.
type Session struct {
	conn     net.Conn
	infoHash [20]byte
	remote   HandshakeResponse

	sawBitfield bool
	// pendingExtended holds a peer extended handshake that arrived
	// before the bitfield
	pendingExtended []byte

	extensions   map[string]uint8
	metadataSize int

	log *log.Entry
}

// Dial connects to a peer and performs the base handshake.
// extensions raises the BEP 10 reserved bit.
func Dial(address string, infoHash, peerID [20]byte, extensions bool) (*Session, error) {
	conn, err := net.DialTimeout("tcp", address, dialTimeout)
	if err != nil {
		return nil, errors.Wrapf(err, "connecting to peer at %s", address)
	}
	s, err := Attach(conn, infoHash, peerID, extensions)
	if err != nil {
		conn.Close()
		return nil, err
	}
	return s, nil
}

// Attach performs the base handshake over an established connection
// and wraps it in a session
func Attach(conn net.Conn, infoHash, peerID [20]byte, extensions bool) (*Session, error) {
	conn.SetDeadline(time.Now().Add(readTimeout))
	defer conn.SetDeadline(time.Time{})

	remote, err := shakeHands(conn, infoHash, peerID, extensions)
	if err != nil {
		return nil, err
	}
	return &Session{
		conn:     conn,
		infoHash: infoHash,
		remote:   *remote,
		log:      log.WithField("peer", conn.RemoteAddr().String()),
	}, nil
}

// Close closes the connection
func (s *Session) Close() error {
	return s.conn.Close()
}

// Remote returns the peer's handshake response
func (s *Session) Remote() HandshakeResponse {
	return s.remote
}

// AwaitBitfield reads messages until the peer's bitfield arrives.
// The bitfield content is not inspected: receiving it is only the cue
// that the peer is ready to be asked for pieces. Everything else in
// this state is ignored, except a peer extended handshake which is
// kept for the extension subprotocol.
func (s *Session) AwaitBitfield() error {
	if s.sawBitfield {
		return nil
	}
	s.conn.SetReadDeadline(time.Now().Add(readTimeout))
	defer s.conn.SetReadDeadline(time.Time{})

	for {
		msg, err := messaging.Read(s.conn)
		if err != nil {
			return errors.Wrap(err, "awaiting bitfield")
		}
		switch msg.ID {
		case messaging.MsgBitfield:
			s.sawBitfield = true
			return nil
		case messaging.MsgExtended:
			if len(msg.Payload) > 0 && msg.Payload[0] == extHandshakeID {
				s.pendingExtended = msg.Payload[1:]
			}
		default:
			// acceptable and ignored before the bitfield
		}
	}
}

// DownloadAll drives the download of every piece of the file
func (s *Session) DownloadAll(fi *torrent.FileInfo) error {
	indices := make([]int, len(fi.Pieces))
	for i := range indices {
		indices[i] = i
	}
	return s.download(fi, indices)
}

// DownloadPiece drives the download of a single piece
func (s *Session) DownloadPiece(fi *torrent.FileInfo, index int) error {
	if index < 0 || index >= len(fi.Pieces) {
		return errors.Errorf("piece index %d out of range [0, %d)", index, len(fi.Pieces))
	}
	return s.download(fi, []int{index})
}

// download runs the session state machine for the selected pieces:
// bitfield, interested, unchoke, then pipelined requests answered by
// piece messages until every selected piece is complete and valid
func (s *Session) download(fi *torrent.FileInfo, indices []int) error {
	if err := s.AwaitBitfield(); err != nil {
		return err
	}
	if _, err := s.conn.Write(messaging.Interested().Serialize()); err != nil {
		return errors.Wrap(err, "sending interested")
	}

	wanted := make(map[int]bool, len(indices))
	for _, i := range indices {
		wanted[i] = true
	}
	verified := make(map[int]bool, len(indices))
	downloading := false

	s.conn.SetReadDeadline(time.Now().Add(readTimeout))
	defer s.conn.SetReadDeadline(time.Time{})

	for len(verified) < len(wanted) {
		msg, err := messaging.Read(s.conn)
		if err != nil {
			return errors.Wrap(err, "reading peer message")
		}
		s.conn.SetReadDeadline(time.Now().Add(readTimeout))

		switch msg.ID {
		case messaging.MsgKeepAlive, messaging.MsgHave:
			// no-op
		case messaging.MsgUnchoke:
			if downloading {
				continue
			}
			if err := s.requestBlocks(fi, indices); err != nil {
				return err
			}
			downloading = true
		case messaging.MsgChoke:
			if downloading {
				return ErrChokedMidDownload
			}
		case messaging.MsgPiece:
			if !downloading {
				return errors.Wrap(ErrProtocolViolation, "piece before unchoke")
			}
			index, begin, block, err := messaging.ParsePiece(msg.Payload)
			if err != nil {
				return errors.Wrap(ErrProtocolViolation, err.Error())
			}
			if !wanted[index] {
				return errors.Wrapf(ErrProtocolViolation, "piece %d was never requested", index)
			}
			piece := fi.Pieces[index]
			if err := piece.UpdateBlock(begin, block); err != nil {
				return errors.Wrap(ErrProtocolViolation, err.Error())
			}
			if piece.IsComplete() && !verified[index] {
				if !piece.IsValid() {
					return PieceHashError{Index: index}
				}
				verified[index] = true
				s.log.WithFields(log.Fields{
					"piece":    index,
					"verified": len(verified),
					"total":    len(wanted),
				}).Info("piece complete")
			}
		default:
			return errors.Wrapf(ErrProtocolViolation, "unexpected message id %d while downloading", msg.ID)
		}
	}
	return nil
}

// requestBlocks sends one request per block of every selected piece,
// in index order. The requests are pipelined: piece messages address
// their own block, so responses may come back in any order.
func (s *Session) requestBlocks(fi *torrent.FileInfo, indices []int) error {
	sent := 0
	for _, index := range indices {
		for _, b := range fi.Pieces[index].Blocks() {
			req := messaging.Request(index, b.Begin, b.Length)
			if _, err := s.conn.Write(req.Serialize()); err != nil {
				return errors.Wrapf(err, "requesting piece %d block %d", index, b.Begin)
			}
			sent++
		}
	}
	s.log.WithFields(log.Fields{"pieces": len(indices), "blocks": sent}).Debug("requests pipelined")
	return nil
}
