package client

import (
	"bufio"
	"net"
	"strings"
	"testing"
)

func TestBufConnDrainsHandshakeReaderFirst(t *testing.T) {
	t.Parallel()

	local, remote := net.Pipe()
	defer local.Close()
	defer remote.Close()

	br := bufio.NewReader(strings.NewReader("ack"))
	if _, err := br.Peek(3); err != nil {
		t.Fatalf("Peek: %v", err)
	}
	conn := &bufConn{Conn: local, r: br}

	buf := make([]byte, 16)
	n, err := conn.Read(buf)
	if err != nil {
		t.Fatalf("Read buffered: %v", err)
	}
	if got := string(buf[:n]); got != "ack" {
		t.Errorf("first Read = %q, want %q", got, "ack")
	}

	go func() { _, _ = remote.Write([]byte("tail")) }()
	n, err = conn.Read(buf)
	if err != nil {
		t.Fatalf("Read socket: %v", err)
	}
	if got := string(buf[:n]); got != "tail" {
		t.Errorf("second Read = %q, want %q", got, "tail")
	}
	if conn.r != nil {
		t.Error("handshake reader not released after it was drained")
	}
}
