package main

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strconv"

	log "github.com/sirupsen/logrus"

	"github.com/vmoraru/go-leech/bencode"
	"github.com/vmoraru/go-leech/client"
	"github.com/vmoraru/go-leech/torrent"
)

func usage() {
	fmt.Fprintf(os.Stderr, `%s <command> [arguments]

    decode <bencoded-value>
    info <torrent-file>
    peers <torrent-file>
    handshake <torrent-file> <ip:port>
    download_piece [-o output-path] <torrent-file> <piece-index>
    download [-o output-path] <torrent-file>
    magnet_parse <magnet-link>
    magnet_handshake <magnet-link>
    magnet_info <magnet-link>
    magnet_download_piece [-o output-path] <magnet-link> <piece-index>
    magnet_download [-o output-path] <magnet-link>
`, os.Args[0])
}

func main() {
	log.SetOutput(os.Stderr)

	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	if err := run(os.Args[1], os.Args[2:]); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(command string, args []string) error {
	switch command {
	case "decode":
		return runDecode(args)
	case "info":
		return runInfo(args)
	case "peers":
		return runPeers(args)
	case "handshake":
		return runHandshake(args)
	case "download_piece":
		return runDownloadPiece(args)
	case "download":
		return runDownload(args)
	case "magnet_parse":
		return runMagnetParse(args)
	case "magnet_handshake":
		return runMagnetHandshake(args)
	case "magnet_info":
		return runMagnetInfo(args)
	case "magnet_download_piece":
		return runMagnetDownloadPiece(args)
	case "magnet_download":
		return runMagnetDownload(args)
	default:
		usage()
		return fmt.Errorf("unknown command %q", command)
	}
}

// outFlag parses an optional -o flag and returns the remaining args
func outFlag(command string, args []string) (string, []string, error) {
	fs := flag.NewFlagSet(command, flag.ContinueOnError)
	out := fs.String("o", "", "output path")
	if err := fs.Parse(args); err != nil {
		return "", nil, err
	}
	return *out, fs.Args(), nil
}

func runDecode(args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: decode <bencoded-value>")
	}
	val, err := bencode.Decode([]byte(args[0]))
	if err != nil {
		return err
	}
	out, err := json.Marshal(val)
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}

func printInfo(t *torrent.Torrent) {
	fmt.Printf("Tracker URL: %s\n", t.Announce)
	fmt.Printf("Length: %d\n", t.Length)
	fmt.Printf("Info Hash: %s\n", t.InfoHashHex())
	fmt.Printf("Piece Length: %d\n", t.PieceLength)
	fmt.Println("Piece Hashes:")
	for _, hash := range t.PieceHashes {
		fmt.Println(hex.EncodeToString(hash[:]))
	}
}

func runInfo(args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: info <torrent-file>")
	}
	t, err := torrent.Open(args[0])
	if err != nil {
		return err
	}
	printInfo(t)
	return nil
}

func runPeers(args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: peers <torrent-file>")
	}
	t, err := torrent.Open(args[0])
	if err != nil {
		return err
	}
	c, err := client.New(rand.Reader)
	if err != nil {
		return err
	}
	peers, err := c.Peers(t)
	if err != nil {
		return err
	}
	for _, p := range peers {
		fmt.Println(p)
	}
	return nil
}

func runHandshake(args []string) error {
	if len(args) != 2 {
		return fmt.Errorf("usage: handshake <torrent-file> <ip:port>")
	}
	t, err := torrent.Open(args[0])
	if err != nil {
		return err
	}
	c, err := client.New(rand.Reader)
	if err != nil {
		return err
	}
	res, err := c.Handshake(t, args[1])
	if err != nil {
		return err
	}
	fmt.Printf("Peer ID: %s\n", hex.EncodeToString(res.PeerID[:]))
	return nil
}

func runDownloadPiece(args []string) error {
	out, rest, err := outFlag("download_piece", args)
	if err != nil {
		return err
	}
	if len(rest) != 2 {
		return fmt.Errorf("usage: download_piece [-o output-path] <torrent-file> <piece-index>")
	}
	index, err := strconv.Atoi(rest[1])
	if err != nil {
		return fmt.Errorf("piece index %q is not a number", rest[1])
	}
	t, err := torrent.Open(rest[0])
	if err != nil {
		return err
	}
	if out == "" {
		out = fmt.Sprintf("%s.piece%d", client.OutputPath("", t), index)
	}
	c, err := client.New(rand.Reader)
	if err != nil {
		return err
	}
	return c.DownloadPiece(t, index, out)
}

func runDownload(args []string) error {
	out, rest, err := outFlag("download", args)
	if err != nil {
		return err
	}
	if len(rest) != 1 {
		return fmt.Errorf("usage: download [-o output-path] <torrent-file>")
	}
	t, err := torrent.Open(rest[0])
	if err != nil {
		return err
	}
	c, err := client.New(rand.Reader)
	if err != nil {
		return err
	}
	return c.Download(t, client.OutputPath(out, t))
}

func runMagnetParse(args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: magnet_parse <magnet-link>")
	}
	m, err := torrent.ParseMagnet(args[0])
	if err != nil {
		return err
	}
	fmt.Printf("Tracker URL: %s\n", m.AnnounceURL())
	fmt.Printf("Info Hash: %s\n", m.InfoHashHex())
	return nil
}

func runMagnetHandshake(args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: magnet_handshake <magnet-link>")
	}
	m, err := torrent.ParseMagnet(args[0])
	if err != nil {
		return err
	}
	c, err := client.New(rand.Reader)
	if err != nil {
		return err
	}
	s, err := c.MagnetSession(m)
	if err != nil {
		return err
	}
	defer s.Close()

	remote := s.Remote()
	fmt.Printf("Peer ID: %s\n", hex.EncodeToString(remote.PeerID[:]))
	if id, ok := s.UtMetadataID(); ok {
		fmt.Printf("Peer Metadata Extension ID: %d\n", id)
	}
	return nil
}

func runMagnetInfo(args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: magnet_info <magnet-link>")
	}
	m, err := torrent.ParseMagnet(args[0])
	if err != nil {
		return err
	}
	c, err := client.New(rand.Reader)
	if err != nil {
		return err
	}
	t, err := c.MagnetInfo(m)
	if err != nil {
		return err
	}
	printInfo(t)
	return nil
}

func runMagnetDownloadPiece(args []string) error {
	out, rest, err := outFlag("magnet_download_piece", args)
	if err != nil {
		return err
	}
	if len(rest) != 2 {
		return fmt.Errorf("usage: magnet_download_piece [-o output-path] <magnet-link> <piece-index>")
	}
	index, err := strconv.Atoi(rest[1])
	if err != nil {
		return fmt.Errorf("piece index %q is not a number", rest[1])
	}
	m, err := torrent.ParseMagnet(rest[0])
	if err != nil {
		return err
	}
	if out == "" {
		out = fmt.Sprintf("%s.piece%d", m.InfoHashHex(), index)
	}
	c, err := client.New(rand.Reader)
	if err != nil {
		return err
	}
	return c.MagnetDownloadPiece(m, index, out)
}

func runMagnetDownload(args []string) error {
	out, rest, err := outFlag("magnet_download", args)
	if err != nil {
		return err
	}
	if len(rest) != 1 {
		return fmt.Errorf("usage: magnet_download [-o output-path] <magnet-link>")
	}
	m, err := torrent.ParseMagnet(rest[0])
	if err != nil {
		return err
	}
	c, err := client.New(rand.Reader)
	if err != nil {
		return err
	}
	return c.MagnetDownload(m, out)
}
