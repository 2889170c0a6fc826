package torrent

import (
	"os"

	"github.com/pkg/errors"
)

// FileInfo is the assembly buffer for a download: one piece per piece
// hash of the torrent, written to OutputPath once complete and valid
type FileInfo struct {
	OutputPath string
	Pieces     []*Piece
}

// NewFileInfo allocates the piece buffers for a torrent
func NewFileInfo(outputPath string, t *Torrent) *FileInfo {
	pieces := make([]*Piece, t.NumPieces())
	for i, hash := range t.PieceHashes {
		pieces[i] = NewPiece(t.PieceSize(i), hash)
	}
	return &FileInfo{
		OutputPath: outputPath,
		Pieces:     pieces,
	}
}

// IsComplete reports whether every block of every piece was received
func (fi *FileInfo) IsComplete() bool {
	for _, p := range fi.Pieces {
		if !p.IsComplete() {
			return false
		}
	}
	return true
}

// IsValid reports whether every piece hashes to its expected digest
func (fi *FileInfo) IsValid() bool {
	for _, p := range fi.Pieces {
		if !p.IsValid() {
			return false
		}
	}
	return true
}

// Bytes concatenates the piece buffers
func (fi *FileInfo) Bytes() []byte {
	size := 0
	for _, p := range fi.Pieces {
		size += p.Size()
	}
	data := make([]byte, 0, size)
	for _, p := range fi.Pieces {
		data = append(data, p.Data()...)
	}
	return data
}

// Save writes the assembled content to OutputPath.
// The file is only ever opened after completeness and validity hold,
// so a partial download can never reach the disk.
func (fi *FileInfo) Save() error {
	if !fi.IsComplete() {
		return errors.New("not all pieces are complete")
	}
	if !fi.IsValid() {
		return errors.New("not all pieces are valid")
	}
	return errors.Wrap(os.WriteFile(fi.OutputPath, fi.Bytes(), 0o644), "writing output file")
}
