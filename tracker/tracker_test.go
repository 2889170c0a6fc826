package tracker

import (
	"net"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	testInfoHash = [20]byte{0xab, 0xcd, 0x12, 0x34, 0x00, 0x01, 0x02, 0x03, 0x04, 0x05,
		0x06, 0x07, 0x08, 0x09, 0x0a, 0x0b, 0x0c, 0x0d, 0x0e, 0xff}
	testPeerID = [20]byte{'0', '0', '1', '1', '2', '2', '3', '3', '4', '4',
		'5', '5', '6', '6', '7', '7', '8', '8', '9', '9'}
)

func TestAnnounceURL(t *testing.T) {
	url := AnnounceURL("http://tracker/announce", testInfoHash, testPeerID, 1337)
	expected := "http://tracker/announce" +
		"?info_hash=%ab%cd%12%34%00%01%02%03%04%05%06%07%08%09%0a%0b%0c%0d%0e%ff" +
		"&peer_id=00112233445566778899" +
		"&port=6881&uploaded=0&downloaded=0&left=1337&compact=1"
	assert.Equal(t, expected, url)
}

func TestParseCompactPeers(t *testing.T) {
	peers, err := ParseCompactPeers([]byte{0x0a, 0x0a, 0x00, 0x01, 0x00, 0x16})
	require.NoError(t, err)
	require.Len(t, peers, 1)
	assert.Equal(t, "10.10.0.1:22", peers[0].String())
}

func TestParseCompactPeersInvalidLength(t *testing.T) {
	_, err := ParseCompactPeers(make([]byte, 7))
	assert.ErrorIs(t, err, ErrBadTrackerResponse)
}

func TestAnnounce(t *testing.T) {
	peerBytes := []byte{
		161, 35, 46, 221, 0xc8, 0xd6, // 161.35.46.221:51414
		10, 10, 0, 1, 0x00, 0x16, // 10.10.0.1:22
	}
	body := append([]byte("d8:intervali900e5:peers12:"), peerBytes...)
	body = append(body, 'e')

	var gotQuery string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.RawQuery
		w.Write(body)
	}))
	defer server.Close()

	res, err := Announce(server.URL+"/announce", testInfoHash, testPeerID, 1337)
	require.NoError(t, err)

	assert.Equal(t, 900, res.Interval)
	require.Len(t, res.Peers, 2)
	assert.Equal(t, "161.35.46.221:51414", res.Peers[0].String())
	assert.Equal(t, net.IP{10, 10, 0, 1}, res.Peers[1].IP.To4())
	assert.Equal(t, uint16(22), res.Peers[1].Port)

	assert.Equal(t,
		"info_hash=%ab%cd%12%34%00%01%02%03%04%05%06%07%08%09%0a%0b%0c%0d%0e%ff"+
			"&peer_id=00112233445566778899&port=6881&uploaded=0&downloaded=0&left=1337&compact=1",
		gotQuery)
}

func TestAnnounceFailureReason(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("d14:failure reason11:not allowede"))
	}))
	defer server.Close()

	_, err := Announce(server.URL, testInfoHash, testPeerID, 0)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrBadTrackerResponse)
	assert.Contains(t, err.Error(), "not allowed")
}

func TestAnnounceBadStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusGone)
	}))
	defer server.Close()

	_, err := Announce(server.URL, testInfoHash, testPeerID, 0)
	var status StatusError
	require.ErrorAs(t, err, &status)
	assert.Contains(t, status.Status, "410")
}

func TestAnnounceAll(t *testing.T) {
	peerBytes := []byte{10, 10, 0, 1, 0x00, 0x16}
	body := append([]byte("d8:intervali900e5:peers6:"), peerBytes...)
	body = append(body, 'e')

	good := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(body)
	}))
	defer good.Close()
	bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusServiceUnavailable)
	}))
	defer bad.Close()

	// the same peer from two trackers is reported once
	peers, err := AnnounceAll([]string{bad.URL, good.URL, good.URL}, testInfoHash, testPeerID, 42)
	require.NoError(t, err)
	require.Len(t, peers, 1)
	assert.Equal(t, "10.10.0.1:22", peers[0].String())
}

func TestAnnounceAllNothing(t *testing.T) {
	bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusServiceUnavailable)
	}))
	defer bad.Close()

	_, err := AnnounceAll([]string{bad.URL}, testInfoHash, testPeerID, 42)
	assert.Error(t, err)
}
