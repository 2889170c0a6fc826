package peer

import (
	"io"

	"github.com/pkg/errors"
)

const idAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

// GenerateID draws a 20 byte ASCII alphanumeric peer id from the
// given randomness source
func GenerateID(random io.Reader) ([20]byte, error) {
	var id [20]byte
	if _, err := io.ReadFull(random, id[:]); err != nil {
		return id, errors.Wrap(err, "generating peer id")
	}
	for i, b := range id {
		id[i] = idAlphabet[int(b)%len(idAlphabet)]
	}
	return id, nil
}
