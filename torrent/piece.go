package torrent

import (
	"crypto/sha1"

	"github.com/pkg/errors"
	"github.com/willf/bitset"
)

// BlockSize is the transfer unit of the peer wire protocol.
// Every block of a piece is this size except possibly the trailing one.
const BlockSize = 16384

// Block addresses a range of a piece to be requested from a peer
type Block struct {
	Begin  int
	Length int
}

// Piece holds the download state of one piece: its expected hash, its
// data buffer and a completion bit per block
type Piece struct {
	hash      [20]byte
	data      []byte
	completed *bitset.BitSet
}

// NewPiece allocates a piece of the given size
func NewPiece(size int, hash [20]byte) *Piece {
	numBlocks := (size + BlockSize - 1) / BlockSize
	return &Piece{
		hash:      hash,
		data:      make([]byte, size),
		completed: bitset.New(uint(numBlocks)),
	}
}

// Size returns the piece size in bytes
func (p *Piece) Size() int { return len(p.data) }

// NumBlocks returns the number of blocks the piece decomposes into
func (p *Piece) NumBlocks() int { return int(p.completed.Len()) }

// Blocks enumerates the block ranges of the piece in offset order
func (p *Piece) Blocks() []Block {
	blocks := make([]Block, 0, p.NumBlocks())
	for begin := 0; begin < len(p.data); begin += BlockSize {
		length := min(BlockSize, len(p.data)-begin)
		blocks = append(blocks, Block{Begin: begin, Length: length})
	}
	return blocks
}

// UpdateBlock copies a received block into the data buffer and marks
// it complete. The begin offset must be block aligned and the data
// must fit within the piece.
func (p *Piece) UpdateBlock(begin int, data []byte) error {
	if begin < 0 || begin%BlockSize != 0 {
		return errors.Errorf("block offset %d is not a multiple of %d", begin, BlockSize)
	}
	if begin+len(data) > len(p.data) {
		return errors.Errorf("block [%d, %d) exceeds piece of size %d", begin, begin+len(data), len(p.data))
	}
	copy(p.data[begin:], data)
	p.completed.Set(uint(begin / BlockSize))
	return nil
}

// IsComplete reports whether every block has been received
func (p *Piece) IsComplete() bool {
	return p.completed.All()
}

// IsValid reports whether the data hashes to the expected digest
func (p *Piece) IsValid() bool {
	return sha1.Sum(p.data) == p.hash
}

// Data returns the piece buffer
func (p *Piece) Data() []byte { return p.data }
