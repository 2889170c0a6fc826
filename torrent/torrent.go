// Package torrent models the metainfo of a swarm: the announce URL,
// the decomposition of the content into pieces and the infohash that
// identifies it.
package torrent

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"os"

	"github.com/pkg/errors"

	"github.com/vmoraru/go-leech/bencode"
)

// InvalidMetainfoError reports a missing or mistyped metainfo field
type InvalidMetainfoError struct {
	Field string
}

func (e InvalidMetainfoError) Error() string {
	return fmt.Sprintf("invalid metainfo: missing or mistyped field %q", e.Field)
}

// Torrent is the flattened metainfo of a single file torrent
type Torrent struct {
	Announce    string
	Name        string
	Length      int
	PieceLength int
	PieceHashes [][20]byte
	InfoHash    [20]byte
}

// Open reads and parses a metainfo file
func Open(path string) (*Torrent, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "reading metainfo file")
	}
	return Parse(data)
}

// Parse parses metainfo bytes.
// The infohash is the SHA-1 of the info dictionary exactly as it
// appears in the source, not of a re-encoding.
func Parse(data []byte) (*Torrent, error) {
	top, err := bencode.Decode(data)
	if err != nil {
		return nil, errors.Wrap(err, "parsing metainfo")
	}
	if top.Kind() != bencode.Dict {
		return nil, InvalidMetainfoError{Field: "metainfo"}
	}

	announce, ok := top.Get("announce")
	if !ok || announce.Kind() != bencode.Bytes {
		return nil, InvalidMetainfoError{Field: "announce"}
	}

	info, ok := top.Get("info")
	if !ok || info.Kind() != bencode.Dict {
		return nil, InvalidMetainfoError{Field: "info"}
	}

	t, err := fromInfoValue(info)
	if err != nil {
		return nil, err
	}
	t.Announce = string(announce.Bytes())
	return t, nil
}

// ParseInfoDict builds a Torrent from a raw bencoded info dictionary,
// the shape retrieved over ut_metadata. The result has no announce
// URL; the caller provides it from the magnet link.
func ParseInfoDict(raw []byte) (*Torrent, error) {
	info, err := bencode.Decode(raw)
	if err != nil {
		return nil, errors.Wrap(err, "parsing info dictionary")
	}
	if info.Kind() != bencode.Dict {
		return nil, InvalidMetainfoError{Field: "info"}
	}
	return fromInfoValue(info)
}

// fromInfoValue extracts the fields of an info dictionary and hashes
// its raw span
func fromInfoValue(info bencode.Value) (*Torrent, error) {
	length, ok := info.Get("length")
	if !ok || length.Kind() != bencode.Integer || length.Int64() < 0 {
		return nil, InvalidMetainfoError{Field: "length"}
	}

	pieceLength, ok := info.Get("piece length")
	if !ok || pieceLength.Kind() != bencode.Integer || pieceLength.Int64() <= 0 {
		return nil, InvalidMetainfoError{Field: "piece length"}
	}

	pieces, ok := info.Get("pieces")
	if !ok || pieces.Kind() != bencode.Bytes {
		return nil, InvalidMetainfoError{Field: "pieces"}
	}
	hashes, err := splitPieceHashes(pieces.Bytes())
	if err != nil {
		return nil, err
	}

	t := &Torrent{
		Length:      int(length.Int64()),
		PieceLength: int(pieceLength.Int64()),
		PieceHashes: hashes,
		InfoHash:    sha1.Sum(info.Raw()),
	}
	if name, ok := info.Get("name"); ok && name.Kind() == bencode.Bytes {
		t.Name = string(name.Bytes())
	}
	if len(hashes) != t.NumPieces() {
		return nil, InvalidMetainfoError{Field: "pieces"}
	}
	return t, nil
}

// splitPieceHashes splits the concatenated piece hashes into 20 byte digests
func splitPieceHashes(pieces []byte) ([][20]byte, error) {
	if len(pieces)%20 != 0 {
		return nil, InvalidMetainfoError{Field: "pieces"}
	}
	hashes := make([][20]byte, len(pieces)/20)
	for i := range hashes {
		copy(hashes[i][:], pieces[i*20:(i+1)*20])
	}
	return hashes, nil
}

// NumPieces returns the number of pieces the content decomposes into
func (t *Torrent) NumPieces() int {
	if t.Length == 0 {
		return 0
	}
	return (t.Length + t.PieceLength - 1) / t.PieceLength
}

// PieceSize returns the size of piece index.
// Every piece is PieceLength bytes except possibly the last one.
func (t *Torrent) PieceSize(index int) int {
	if index == t.NumPieces()-1 {
		if last := t.Length % t.PieceLength; last != 0 {
			return last
		}
	}
	return t.PieceLength
}

// InfoHashHex returns the infohash as a hex string
func (t *Torrent) InfoHashHex() string {
	return hex.EncodeToString(t.InfoHash[:])
}
