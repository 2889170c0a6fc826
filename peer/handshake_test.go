package peer

import (
	"bytes"
	"io"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHandshake(t *testing.T) {
	infoHash := [20]byte{'m', 'e', 't', 'a', 'd', 'a', 't', 'a', ' ', 'f', 'o', 'r', ' ', 't', 'o', 'r', 'r', 'e', 'n', 't'}
	id := [20]byte{'a', 'b', 'c', 'd', 'e', 'f', 'g', 'h', 'i', 'j', '0', '1', '2', '3', '4', '5', '6', '7', '8', '9'}

	handshake := Handshake(infoHash, id, false)
	expected := append(
		append(
			[]byte{'\x13',
				'B', 'i', 't', 'T', 'o', 'r', 'r', 'e', 'n', 't', ' ', 'p', 'r', 'o', 't', 'o', 'c', 'o', 'l',
				'\x00', '\x00', '\x00', '\x00', '\x00', '\x00', '\x00', '\x00'},
			infoHash[:]...),
		id[:]...)
	require.Len(t, handshake, HandshakeSize)
	assert.Equal(t, expected, handshake)
}

func TestHandshakeExtensionBit(t *testing.T) {
	handshake := Handshake([20]byte{}, [20]byte{}, true)
	// reserved byte 5 carries 0x10 (bit 20 from the LSB end)
	assert.Equal(t, byte(0x10), handshake[1+len(Protocol)+5])

	var res HandshakeResponse
	assert.False(t, res.SupportsExtensions())
	res.Reserved = 1 << 20
	assert.True(t, res.SupportsExtensions())
}

// fakeConn reads the scripted peer bytes and records what we send
type fakeConn struct {
	io.Reader
	sent bytes.Buffer
}

func (c *fakeConn) Write(p []byte) (int, error) { return c.sent.Write(p) }

func TestShakeHands(t *testing.T) {
	infoHash := [20]byte{1, 2, 3}
	ourID := [20]byte{'a'}
	theirID := [20]byte{'z', 'z'}

	conn := &fakeConn{Reader: bytes.NewReader(Handshake(infoHash, theirID, true))}
	res, err := shakeHands(conn, infoHash, ourID, false)
	require.NoError(t, err)
	assert.Equal(t, theirID, res.PeerID)
	assert.True(t, res.SupportsExtensions())
	assert.Equal(t, Handshake(infoHash, ourID, false), conn.sent.Bytes())
}

func TestShakeHandsShortRead(t *testing.T) {
	conn := &fakeConn{Reader: bytes.NewReader(Handshake([20]byte{1}, [20]byte{2}, false)[:40])}
	_, err := shakeHands(conn, [20]byte{1}, [20]byte{2}, false)
	assert.ErrorIs(t, err, ErrShortHandshake)
}

func TestShakeHandsInfohashMismatch(t *testing.T) {
	conn := &fakeConn{Reader: bytes.NewReader(Handshake([20]byte{0xbe, 0xef}, [20]byte{2}, false))}
	_, err := shakeHands(conn, [20]byte{1}, [20]byte{2}, false)
	assert.Error(t, err)
}

func TestGenerateID(t *testing.T) {
	id, err := GenerateID(rand.New(rand.NewSource(1)))
	require.NoError(t, err)
	for _, b := range id {
		isAlnum := (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z') || (b >= '0' && b <= '9')
		assert.True(t, isAlnum, "byte %q is not alphanumeric", b)
	}

	other, err := GenerateID(rand.New(rand.NewSource(2)))
	require.NoError(t, err)
	assert.NotEqual(t, id, other)
}
