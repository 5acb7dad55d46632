package main

import (
	"context"
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/pterm/pterm"

	"github.com/tphan267/arqut-relay/pkg/logger"
	"github.com/tphan267/arqut-relay/pkg/relay"
)

func TestRunRejectsUnknownRole(t *testing.T) {
	pterm.DisableOutput()
	defer pterm.EnableOutput()

	if code := run(context.Background(), cliOptions{role: "bogus"}); code != 1 {
		t.Errorf("Expected exit code 1 for an unknown role, got %d", code)
	}
}

func TestRunClosesRelayConnectionOnInterrupt(t *testing.T) {
	pterm.DisableOutput()
	defer pterm.EnableOutput()

	srv := relay.NewServer(relay.Options{}, logger.New(io.Discard, "TEST", logger.DebugLevel))
	ts := httptest.NewServer(srv)
	defer func() {
		srv.Close()
		ts.Close()
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		deadline := time.Now().Add(5 * time.Second)
		for srv.ConnectionCount() < 1 && time.Now().Before(deadline) {
			time.Sleep(10 * time.Millisecond)
		}
		cancel()
	}()

	code := run(ctx, cliOptions{relayURL: ts.URL, role: "answerer", label: "test123", logLevel: "error"})
	if code != 0 {
		t.Errorf("Expected exit code 0 after an interrupt, got %d", code)
	}

	timeout := time.After(2 * time.Second)
	for {
		select {
		case ev := <-srv.Events():
			if ev.Kind != relay.EventClose {
				continue
			}
			if ev.Reason != "closed by peer (1000)" {
				t.Errorf("Expected a normal close from the peer, got %q", ev.Reason)
			}
			return
		case <-timeout:
			t.Fatal("Timed out waiting for the relay to see the peer close")
		}
	}
}
