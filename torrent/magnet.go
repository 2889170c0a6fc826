package torrent

import (
	"encoding/hex"
	"fmt"
	"net/url"
	"strings"

	"github.com/pkg/errors"
)

// Magnet parsing failures
var (
	ErrInvalidMagnet = errors.New("invalid magnet link")
	ErrNoInfohash    = errors.New("magnet link has no infohash")
)

// UnknownMagnetKeyError reports an unrecognized magnet query key
type UnknownMagnetKeyError struct {
	Key string
}

func (e UnknownMagnetKeyError) Error() string {
	return fmt.Sprintf("unknown magnet key %q", e.Key)
}

// Magnet is a parsed magnet link.
// See BEP 9: http://bittorrent.org/beps/bep_0009.html
type Magnet struct {
	InfoHash [20]byte // xt: exact topic
	Name     string   // dn: display name
	Trackers []string // tr: tracker announce URLs, in link order
}

// ParseMagnet parses a magnet link.
// Recognized keys are xt (required, urn:btih with a 40 hex digest),
// dn and tr; tr may repeat and every occurrence is kept so the
// announce step can try them all.
func ParseMagnet(link string) (*Magnet, error) {
	query, ok := strings.CutPrefix(link, "magnet:?")
	if !ok {
		return nil, errors.Wrap(ErrInvalidMagnet, "must start with \"magnet:?\"")
	}

	m := &Magnet{}
	seenHash := false
	for _, pair := range strings.Split(query, "&") {
		key, value, found := strings.Cut(pair, "=")
		if !found {
			return nil, errors.Wrapf(ErrInvalidMagnet, "query element %q has no value", pair)
		}
		switch key {
		case "xt":
			encoded, ok := strings.CutPrefix(value, "urn:btih:")
			if !ok {
				return nil, errors.Wrapf(ErrInvalidMagnet, "unsupported xt format %q", value)
			}
			if len(encoded) != 40 {
				return nil, errors.Wrapf(ErrInvalidMagnet, "infohash has length %d, expected 40", len(encoded))
			}
			decoded, err := hex.DecodeString(encoded)
			if err != nil {
				return nil, errors.Wrapf(ErrInvalidMagnet, "infohash is not hex: %q", encoded)
			}
			copy(m.InfoHash[:], decoded)
			seenHash = true
		case "dn":
			m.Name = value
		case "tr":
			decoded, err := url.QueryUnescape(value)
			if err != nil {
				return nil, errors.Wrapf(ErrInvalidMagnet, "undecodable tracker URL %q", value)
			}
			m.Trackers = append(m.Trackers, decoded)
		default:
			return nil, UnknownMagnetKeyError{Key: key}
		}
	}
	if !seenHash {
		return nil, ErrNoInfohash
	}
	return m, nil
}

// AnnounceURL returns the first tracker URL, or empty when the link
// carries none
func (m *Magnet) AnnounceURL() string {
	if len(m.Trackers) == 0 {
		return ""
	}
	return m.Trackers[0]
}

// InfoHashHex returns the infohash as a hex string
func (m *Magnet) InfoHashHex() string {
	return hex.EncodeToString(m.InfoHash[:])
}
