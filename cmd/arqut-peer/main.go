package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/pterm/pterm"

	"github.com/tphan267/arqut-relay/pkg/logger"
	"github.com/tphan267/arqut-relay/pkg/peer"
	"github.com/tphan267/arqut-relay/pkg/signaling"
	"github.com/tphan267/arqut-relay/pkg/utils"
)

var version = "dev"

// cliOptions holds the parsed command line
type cliOptions struct {
	relayURL string
	role     string
	label    string
	count    int
	interval time.Duration
	stun     string
	turnURL  string
	turnUser string
	turnPass string
	loopback bool
	logLevel string
}

func main() {
	var o cliOptions
	flag.StringVar(&o.relayURL, "relay", utils.Env("RELAY_URL", "ws://localhost:8443/"), "Signaling relay URL")
	flag.StringVar(&o.role, "role", "", "Peer role: 'offerer' or 'answerer' (interactive when empty)")
	flag.StringVar(&o.label, "label", "test123", "Data channel label")
	flag.IntVar(&o.count, "count", 60, "Number of counter messages to send")
	flag.DurationVar(&o.interval, "interval", time.Second, "Delay between counter messages")
	flag.StringVar(&o.stun, "stun", "", "Comma-separated STUN URLs (default Google STUN)")
	flag.StringVar(&o.turnURL, "turn", utils.Env("TURN_URL", ""), "TURN URL")
	flag.StringVar(&o.turnUser, "turn-user", utils.Env("TURN_USERNAME", ""), "TURN username")
	flag.StringVar(&o.turnPass, "turn-pass", utils.Env("TURN_PASSWORD", ""), "TURN password")
	flag.BoolVar(&o.loopback, "loopback", false, "Gather loopback candidates (both peers on one host)")
	flag.StringVar(&o.logLevel, "loglevel", "warn", "Set the log level")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	code := run(ctx, o)
	cancel()
	os.Exit(code)
}

// run returns the process exit code. Every return path closes the peer and
// the signaling client, so the relay sees a normal close.
func run(ctx context.Context, o cliOptions) int {
	pterm.Info.Println(fmt.Sprintf("Arqut peer v%s", version))
	pterm.Println()

	role, err := pickRole(o.role)
	if err != nil {
		pterm.Error.Println(err.Error())
		return 1
	}

	appLogger := logger.NewDefault("PEER")
	appLogger.SetLevel(logger.ParseLevel(o.logLevel))

	opts := peer.Options{
		Role:            role,
		Label:           o.label,
		IncludeLoopback: o.loopback,
	}
	if o.stun != "" {
		opts.STUNURLs = strings.Split(o.stun, ",")
	}
	if o.turnURL != "" {
		opts.Turn = &peer.TurnCredentials{
			Username: o.turnUser,
			Password: o.turnPass,
			URLs:     []string{o.turnURL},
		}
	}

	client := signaling.NewClient(o.relayURL, appLogger.WithPrefix("Signaling"))
	if err := client.Connect(ctx); err != nil {
		pterm.Warning.Println(fmt.Sprintf("relay not reachable yet (%v), retrying in background", err))
	}
	defer client.Close()

	p, err := peer.New(client, opts, appLogger.WithPrefix("Peer"))
	if err != nil {
		pterm.Error.Println(err.Error())
		return 1
	}
	defer p.Close()

	go p.Run(ctx, client.Signals())

	pterm.Info.Println(fmt.Sprintf("session %s, role %s", client.SessionID(), role))

	if role == peer.RoleOfferer {
		waitConnected(ctx, client)
		if err := p.Start(); err != nil {
			pterm.Error.Println(fmt.Sprintf("failed to start negotiation: %v", err))
			return 1
		}
	}

	spinner, _ := pterm.DefaultSpinner.Start("waiting for the data channel to open...")
	select {
	case <-p.Opened():
		spinner.Success("data channel open")
	case <-p.Done():
		spinner.Fail("peer connection closed before the data channel opened")
		return 1
	case <-ctx.Done():
		spinner.Warning("interrupted")
		return 0
	}

	go printMessages(ctx, p)
	sendCounter(ctx, p, o.count, o.interval)

	pterm.Success.Println("done")
	return 0
}

func pickRole(flagValue string) (peer.Role, error) {
	switch flagValue {
	case "offerer":
		return peer.RoleOfferer, nil
	case "answerer":
		return peer.RoleAnswerer, nil
	case "":
		choice, _ := pterm.DefaultInteractiveSelect.
			WithOptions([]string{"Answerer - wait for an offer", "Offerer - start the call"}).
			WithDefaultText("Select your role").
			Show()
		pterm.Println()
		if strings.HasPrefix(choice, "Offerer") {
			return peer.RoleOfferer, nil
		}
		return peer.RoleAnswerer, nil
	default:
		return 0, fmt.Errorf("invalid -role %q: must be 'offerer' or 'answerer'", flagValue)
	}
}

// waitConnected blocks until the signaling client is up, so the offer is
// not lost while the relay is still unreachable.
func waitConnected(ctx context.Context, client *signaling.Client) {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	for !client.IsConnected() {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func printMessages(ctx context.Context, p *peer.Peer) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-p.Done():
			return
		case msg := <-p.Messages():
			pterm.Info.Println(fmt.Sprintf("received: %s", msg))
		}
	}
}

func sendCounter(ctx context.Context, p *peer.Peer, count int, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for i := 1; i <= count; i++ {
		select {
		case <-ctx.Done():
			return
		case <-p.Done():
			pterm.Warning.Println("peer connection closed")
			return
		case <-ticker.C:
		}
		if err := p.SendText(fmt.Sprintf("%d", i)); err != nil {
			pterm.Warning.Println(fmt.Sprintf("send failed: %v", err))
			return
		}
	}
}
