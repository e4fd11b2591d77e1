package fetch

import (
	"context"
	"io"
	"net"
	"testing"
	"time"
)

// socks5Stub accepts one connection and speaks just enough SOCKS5 to
// record the CONNECT request before granting it.
func socks5Stub(t *testing.T) (net.Addr, <-chan []byte) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { ln.Close() })

	requests := make(chan []byte, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()

		greeting := make([]byte, 3)
		if _, err := io.ReadFull(conn, greeting); err != nil {
			return
		}
		conn.Write([]byte{0x05, 0x00}) // no auth required

		header := make([]byte, 4)
		if _, err := io.ReadFull(conn, header); err != nil {
			return
		}
		req := append([]byte{}, header...)
		if header[3] == 0x03 { // domain name: length byte, name, two port bytes
			l := make([]byte, 1)
			if _, err := io.ReadFull(conn, l); err != nil {
				return
			}
			rest := make([]byte, int(l[0])+2)
			if _, err := io.ReadFull(conn, rest); err != nil {
				return
			}
			req = append(req, l[0])
			req = append(req, rest...)
		}
		requests <- req
		conn.Write([]byte{0x05, 0x00, 0x00, 0x01, 0, 0, 0, 0, 0, 0})

		// Swallow the ClientHello, then hang up so the caller fails fast.
		conn.SetReadDeadline(time.Now().Add(500 * time.Millisecond))
		buf := make([]byte, 4096)
		conn.Read(buf)
	}()
	return ln.Addr(), requests
}

func TestDialSpoofedNegotiatesSocks5(t *testing.T) {
	addr, requests := socks5Stub(t)

	spec, err := helloSpecFor(FingerprintChrome)
	if err != nil {
		t.Fatalf("hello preset: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	// The TLS handshake cannot complete against the stub; only the SOCKS5
	// negotiation preceding it is under test.
	conn, err := dialSpoofed(ctx, "tcp", "example.com:443", "socks5://"+addr.String(), &spec)
	if conn != nil {
		conn.Close()
	}
	_ = err

	select {
	case req := <-requests:
		if len(req) < 4 || req[0] != 0x05 || req[1] != 0x01 {
			t.Fatalf("proxy saw %v, want a SOCKS5 CONNECT", req)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("proxy never received a SOCKS5 CONNECT request")
	}
}

func TestHelloSpecForUnknownPreset(t *testing.T) {
	if _, err := helloSpecFor("netscape4"); err == nil {
		t.Fatal("unknown preset should be rejected")
	}
}
