package client_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/xraph/herald/auth"
	"github.com/xraph/herald/client"
	"github.com/xraph/herald/gateway"
	"github.com/xraph/herald/stream"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// setupGateway serves a gateway without an event bus and returns its
// WebSocket URL and a valid token for user u1.
func setupGateway(t *testing.T) (string, string) {
	t.Helper()

	v, err := auth.NewVerifier("test-secret", "")
	if err != nil {
		t.Fatalf("NewVerifier: %v", err)
	}
	srv := gateway.NewServer(stream.NewBroker(testLogger()), nil, gateway.NewJWTAuthenticator(v),
		gateway.WithLogger(testLogger()),
	)
	hs := httptest.NewServer(srv)
	t.Cleanup(func() {
		_ = srv.Stop(context.Background())
		hs.Close()
	})

	token, err := v.Issue("u1", "", "", time.Hour)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	return "ws" + strings.TrimPrefix(hs.URL, "http"), token
}

func TestClient_DialAndClose(t *testing.T) {
	t.Parallel()
	url, token := setupGateway(t)

	c, err := client.Dial(context.Background(), url, client.WithToken(token), client.WithLogger(testLogger()))
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	if c.UserID() != "u1" {
		t.Errorf("UserID = %q, want %q", c.UserID(), "u1")
	}

	if err := c.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := c.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if err := c.Ping(); !errors.Is(err, client.ErrClosed) {
		t.Errorf("Ping after Close = %v, want %v", err, client.ErrClosed)
	}

	select {
	case _, ok := <-c.Events():
		if ok {
			t.Error("unexpected event after Close")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("events channel not closed after Close")
	}
}

// The gateway writes the connected frame immediately after the upgrade,
// so it usually lands in the same read as the handshake response.
func TestClient_DialReceivesAckSentWithHandshake(t *testing.T) {
	t.Parallel()
	url, token := setupGateway(t)

	for i := range 10 {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		c, err := client.Dial(ctx, url, client.WithToken(token), client.WithLogger(testLogger()))
		cancel()
		if err != nil {
			t.Fatalf("Dial #%d: %v", i, err)
		}
		if c.UserID() != "u1" {
			t.Errorf("Dial #%d UserID = %q, want %q", i, c.UserID(), "u1")
		}
		_ = c.Close()
	}
}

func TestClient_DialUnreachable(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	if _, err := client.Dial(ctx, "ws://127.0.0.1:1/ws", client.WithLogger(testLogger())); err == nil {
		t.Fatal("Dial to closed port succeeded")
	}
}

func TestClient_PingPong(t *testing.T) {
	t.Parallel()
	url, token := setupGateway(t)

	for _, format := range []string{gateway.CodecNameJSON, gateway.CodecNameMsgpack} {
		c, err := client.Dial(context.Background(), url,
			client.WithToken(token),
			client.WithFormat(format),
			client.WithLogger(testLogger()),
		)
		if err != nil {
			t.Fatalf("Dial(%s): %v", format, err)
		}

		if err := c.Ping(); err != nil {
			t.Fatalf("Ping(%s): %v", format, err)
		}
		select {
		case evt := <-c.Events():
			if evt.Name != stream.EventPong {
				t.Errorf("%s: event = %q, want %q", format, evt.Name, stream.EventPong)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("%s: no pong", format)
		}
		_ = c.Close()
	}
}
