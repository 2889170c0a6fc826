// Package tracker implements the HTTP announce call: it asks the
// tracker for the swarm's peers and parses the compact peer list of
// the bencoded response.
package tracker

import (
	"encoding/binary"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	bencode "github.com/jackpal/bencode-go"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// Port is the port we report to the tracker (BEP 3 recommends the
// 6881-6889 range)
const Port = 6881

const requestTimeout = 15 * time.Second

// ErrBadTrackerResponse reports a response whose shape does not match
// a compact announce reply
var ErrBadTrackerResponse = errors.New("bad tracker response")

// StatusError reports a non 2xx announce status
type StatusError struct {
	Status string
}

func (e StatusError) Error() string {
	return fmt.Sprintf("tracker returned status %s", e.Status)
}

// Peer is one endpoint from the compact peer list
type Peer struct {
	IP   net.IP
	Port uint16
}

func (p Peer) String() string {
	return net.JoinHostPort(p.IP.String(), strconv.Itoa(int(p.Port)))
}

// Response is a parsed announce reply
type Response struct {
	Interval int
	Peers    []Peer
}

// announceReply is the bencoded shape of the reply
type announceReply struct {
	FailureReason string `bencode:"failure reason"`
	Interval      int    `bencode:"interval"`
	Peers         string `bencode:"peers"`
}

// AnnounceURL builds the announce GET URL.
// The query is assembled by hand: info_hash carries raw bytes that a
// generic query encoder would encode a second time, and the parameter
// order is fixed.
func AnnounceURL(announce string, infoHash, peerID [20]byte, left int) string {
	return fmt.Sprintf(
		"%s?info_hash=%s&peer_id=%s&port=%d&uploaded=0&downloaded=0&left=%d&compact=1",
		announce, percentEncode(infoHash[:]), string(peerID[:]), Port, left)
}

// percentEncode encodes every byte as a lowercase %xx escape
func percentEncode(b []byte) string {
	var sb strings.Builder
	for _, v := range b {
		fmt.Fprintf(&sb, "%%%02x", v)
	}
	return sb.String()
}

// Announce queries a tracker for peers.
// left is the number of bytes still missing, i.e. the full length at
// the start of a session.
func Announce(announce string, infoHash, peerID [20]byte, left int) (*Response, error) {
	client := &http.Client{Timeout: requestTimeout}
	res, err := client.Get(AnnounceURL(announce, infoHash, peerID, left))
	if err != nil {
		return nil, errors.Wrap(err, "announce request")
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode > 299 {
		return nil, StatusError{Status: res.Status}
	}

	reply := announceReply{}
	if err := bencode.Unmarshal(res.Body, &reply); err != nil {
		return nil, errors.Wrap(ErrBadTrackerResponse, err.Error())
	}
	if reply.FailureReason != "" {
		return nil, errors.Wrap(ErrBadTrackerResponse, reply.FailureReason)
	}
	if reply.Peers == "" {
		return nil, errors.Wrap(ErrBadTrackerResponse, "missing peers")
	}

	peers, err := ParseCompactPeers([]byte(reply.Peers))
	if err != nil {
		return nil, err
	}
	return &Response{Interval: reply.Interval, Peers: peers}, nil
}

// ParseCompactPeers parses a compact peer list: 6 bytes per peer,
// 4 big endian IPv4 octets followed by a big endian port
func ParseCompactPeers(data []byte) ([]Peer, error) {
	const peerSize = 6
	if len(data)%peerSize != 0 {
		return nil, errors.Wrapf(ErrBadTrackerResponse, "peer list length %d is not a multiple of %d", len(data), peerSize)
	}
	peers := make([]Peer, len(data)/peerSize)
	for i := range peers {
		offset := i * peerSize
		peers[i] = Peer{
			IP:   net.IP(data[offset : offset+4]),
			Port: binary.BigEndian.Uint16(data[offset+4 : offset+6]),
		}
	}
	return peers, nil
}

// AnnounceAll queries every tracker concurrently and merges the
// deduplicated peers. Individual tracker failures are logged and
// tolerated; only all of them failing is an error.
func AnnounceAll(announces []string, infoHash, peerID [20]byte, left int) ([]Peer, error) {
	var mu sync.Mutex
	seen := make(map[string]bool)
	var peers []Peer

	var g errgroup.Group
	for _, announce := range announces {
		g.Go(func() error {
			res, err := Announce(announce, infoHash, peerID, left)
			if err != nil {
				log.WithField("tracker", announce).WithError(err).Warn("announce failed")
				return nil
			}
			mu.Lock()
			defer mu.Unlock()
			for _, p := range res.Peers {
				if addr := p.String(); !seen[addr] {
					seen[addr] = true
					peers = append(peers, p)
				}
			}
			return nil
		})
	}
	g.Wait()

	if len(peers) == 0 {
		return nil, errors.New("no tracker returned peers")
	}
	return peers, nil
}
