package torrent

import (
	"bytes"
	"crypto/sha1"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewPiece(t *testing.T) {
	// an exact multiple of the block size has no short trailing block
	p := NewPiece(2*BlockSize, [20]byte{})
	assert.Equal(t, 2*BlockSize, p.Size())
	assert.Equal(t, 2, p.NumBlocks())

	p = NewPiece(2*BlockSize+BlockSize/2, [20]byte{})
	assert.Equal(t, 3, p.NumBlocks())
}

func TestBlocks(t *testing.T) {
	p := NewPiece(2*BlockSize+BlockSize/2, [20]byte{})
	assert.Equal(t, []Block{
		{Begin: 0, Length: BlockSize},
		{Begin: BlockSize, Length: BlockSize},
		{Begin: 2 * BlockSize, Length: BlockSize / 2},
	}, p.Blocks())
}

func TestUpdateBlock(t *testing.T) {
	p := NewPiece(2*BlockSize+BlockSize/2, [20]byte{})
	require.NoError(t, p.UpdateBlock(BlockSize, bytes.Repeat([]byte{1}, BlockSize)))

	assert.False(t, p.IsComplete())
	expected := make([]byte, p.Size())
	for i := BlockSize; i < 2*BlockSize; i++ {
		expected[i] = 1
	}
	assert.Equal(t, expected, p.Data())
}

func TestUpdateBlockBounds(t *testing.T) {
	p := NewPiece(BlockSize, [20]byte{})
	assert.Error(t, p.UpdateBlock(7, make([]byte, 10)))
	assert.Error(t, p.UpdateBlock(0, make([]byte, BlockSize+1)))
	assert.Error(t, p.UpdateBlock(-BlockSize, nil))
}

func TestCompletionAndValidity(t *testing.T) {
	// a piece of 2 full blocks plus a half block
	size := 2*BlockSize + 8192
	content := bytes.Repeat([]byte{1}, size)
	p := NewPiece(size, sha1.Sum(content))

	assert.False(t, p.IsComplete())
	assert.False(t, p.IsValid())

	require.NoError(t, p.UpdateBlock(0, bytes.Repeat([]byte{1}, BlockSize)))
	require.NoError(t, p.UpdateBlock(BlockSize, bytes.Repeat([]byte{1}, BlockSize)))
	assert.False(t, p.IsComplete())

	require.NoError(t, p.UpdateBlock(2*BlockSize, bytes.Repeat([]byte{1}, 8192)))
	assert.True(t, p.IsComplete())
	assert.True(t, p.IsValid())
}

func TestFileInfo(t *testing.T) {
	tor := &Torrent{
		Length:      2*BlockSize + 100,
		PieceLength: BlockSize,
		PieceHashes: make([][20]byte, 3),
	}
	content := bytes.Repeat([]byte{7}, tor.Length)
	for i := range tor.PieceHashes {
		begin := i * tor.PieceLength
		tor.PieceHashes[i] = sha1.Sum(content[begin : begin+tor.PieceSize(i)])
	}

	fi := NewFileInfo("out.bin", tor)
	require.Len(t, fi.Pieces, 3)
	assert.Equal(t, BlockSize, fi.Pieces[0].Size())
	assert.Equal(t, 100, fi.Pieces[2].Size())
	assert.False(t, fi.IsComplete())
	assert.Error(t, fi.Save())

	for i, p := range fi.Pieces {
		begin := i * tor.PieceLength
		for _, b := range p.Blocks() {
			require.NoError(t, p.UpdateBlock(b.Begin, content[begin+b.Begin:begin+b.Begin+b.Length]))
		}
	}
	assert.True(t, fi.IsComplete())
	assert.True(t, fi.IsValid())
	assert.Equal(t, content, fi.Bytes())
}
