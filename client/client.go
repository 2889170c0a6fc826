// Package client wires the pieces together: it resolves peers from
// the tracker, drives one peer session and writes the result out.
// These are the entry points the command line dispatcher consumes.
package client

import (
	"io"
	"os"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/vmoraru/go-leech/peer"
	"github.com/vmoraru/go-leech/torrent"
	"github.com/vmoraru/go-leech/tracker"
)

// Client carries the peer identity used across tracker and peer calls
type Client struct {
	peerID [20]byte
}

// New creates a client with an identity drawn from the given
// randomness source
func New(random io.Reader) (*Client, error) {
	id, err := peer.GenerateID(random)
	if err != nil {
		return nil, err
	}
	return &Client{peerID: id}, nil
}

// PeerID returns the client's peer id
func (c *Client) PeerID() [20]byte {
	return c.peerID
}

// Peers asks the torrent's tracker for the swarm's peers
func (c *Client) Peers(t *torrent.Torrent) ([]tracker.Peer, error) {
	res, err := tracker.Announce(t.Announce, t.InfoHash, c.peerID, t.Length)
	if err != nil {
		return nil, err
	}
	return res.Peers, nil
}

// Handshake connects to a peer and returns its handshake response
func (c *Client) Handshake(t *torrent.Torrent, address string) (peer.HandshakeResponse, error) {
	s, err := peer.Dial(address, t.InfoHash, c.peerID, false)
	if err != nil {
		return peer.HandshakeResponse{}, err
	}
	defer s.Close()
	return s.Remote(), nil
}

// connect resolves the swarm's peers and opens a session with the
// first one
func (c *Client) connect(t *torrent.Torrent, extensions bool) (*peer.Session, error) {
	peers, err := c.Peers(t)
	if err != nil {
		return nil, err
	}
	if len(peers) == 0 {
		return nil, errors.New("tracker returned no peers")
	}
	return peer.Dial(peers[0].String(), t.InfoHash, c.peerID, extensions)
}

// DownloadPiece downloads a single piece and writes it to outPath
func (c *Client) DownloadPiece(t *torrent.Torrent, index int, outPath string) error {
	s, err := c.connect(t, false)
	if err != nil {
		return err
	}
	defer s.Close()

	fi := torrent.NewFileInfo(outPath, t)
	if err := s.DownloadPiece(fi, index); err != nil {
		return err
	}
	if err := os.WriteFile(outPath, fi.Pieces[index].Data(), 0o644); err != nil {
		return errors.Wrap(err, "writing piece")
	}
	log.WithFields(log.Fields{"piece": index, "path": outPath}).Info("piece downloaded")
	return nil
}

// Download downloads the whole file and writes it to outPath
func (c *Client) Download(t *torrent.Torrent, outPath string) error {
	s, err := c.connect(t, false)
	if err != nil {
		return err
	}
	defer s.Close()

	fi := torrent.NewFileInfo(outPath, t)
	if err := s.DownloadAll(fi); err != nil {
		return err
	}
	if err := fi.Save(); err != nil {
		return err
	}
	log.WithFields(log.Fields{"path": outPath, "bytes": t.Length}).Info("download complete")
	return nil
}

// MagnetSession resolves peers from the magnet's trackers and opens
// an extension-capable session: base handshake, bitfield, extended
// handshake. The caller owns the session.
func (c *Client) MagnetSession(m *torrent.Magnet) (*peer.Session, error) {
	if len(m.Trackers) == 0 {
		return nil, errors.New("magnet link has no tracker")
	}
	// the content length is unknown until the metadata arrives
	peers, err := tracker.AnnounceAll(m.Trackers, m.InfoHash, c.peerID, 0)
	if err != nil {
		return nil, err
	}

	s, err := peer.Dial(peers[0].String(), m.InfoHash, c.peerID, true)
	if err != nil {
		return nil, err
	}
	if err := s.AwaitBitfield(); err != nil {
		s.Close()
		return nil, err
	}
	if err := s.ExtendedHandshake(); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

// MagnetTorrent fetches the info dictionary over ut_metadata and
// synthesizes a full torrent from it. The session stays open so the
// caller can continue into the piece download.
func (c *Client) MagnetTorrent(m *torrent.Magnet) (*torrent.Torrent, *peer.Session, error) {
	s, err := c.MagnetSession(m)
	if err != nil {
		return nil, nil, err
	}
	raw, err := s.FetchMetadata()
	if err != nil {
		s.Close()
		return nil, nil, err
	}
	t, err := torrent.ParseInfoDict(raw)
	if err != nil {
		s.Close()
		return nil, nil, err
	}
	t.Announce = m.AnnounceURL()
	return t, s, nil
}

// MagnetInfo fetches and returns the metainfo behind a magnet link
func (c *Client) MagnetInfo(m *torrent.Magnet) (*torrent.Torrent, error) {
	t, s, err := c.MagnetTorrent(m)
	if err != nil {
		return nil, err
	}
	s.Close()
	return t, nil
}

// MagnetDownloadPiece bootstraps the metainfo via ut_metadata, then
// downloads a single piece from the same peer
func (c *Client) MagnetDownloadPiece(m *torrent.Magnet, index int, outPath string) error {
	t, s, err := c.MagnetTorrent(m)
	if err != nil {
		return err
	}
	defer s.Close()

	fi := torrent.NewFileInfo(outPath, t)
	if err := s.DownloadPiece(fi, index); err != nil {
		return err
	}
	return errors.Wrap(os.WriteFile(outPath, fi.Pieces[index].Data(), 0o644), "writing piece")
}

// MagnetDownload bootstraps the metainfo via ut_metadata, then
// downloads the whole file from the same peer
func (c *Client) MagnetDownload(m *torrent.Magnet, outPath string) error {
	t, s, err := c.MagnetTorrent(m)
	if err != nil {
		return err
	}
	defer s.Close()

	if outPath == "" {
		outPath = OutputPath("", t)
	}
	fi := torrent.NewFileInfo(outPath, t)
	if err := s.DownloadAll(fi); err != nil {
		return err
	}
	if err := fi.Save(); err != nil {
		return err
	}
	log.WithFields(log.Fields{"path": outPath, "bytes": t.Length}).Info("download complete")
	return nil
}

// OutputPath resolves the output path for a download: the explicit
// path when given, else the torrent's name
func OutputPath(explicit string, t *torrent.Torrent) string {
	if explicit != "" {
		return explicit
	}
	if t.Name != "" {
		return t.Name
	}
	return t.InfoHashHex()
}
