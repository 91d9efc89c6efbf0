// Package loopback provides an in-process Channel implementation with no
// external transport. It exists to exercise the channel-facing edges of the
// ingestion/routing/delivery pipeline (inbound publish, allowlist/pairing
// gating, outbound delivery) without depending on any third-party bot
// protocol — useful for local smoke-testing a gateway build and for tests
// that need a real Channel rather than an interface stub.
package loopback

import (
	"context"
	"fmt"
	"sync"

	"github.com/danielsimonjr/ironclaw/internal/bus"
	"github.com/danielsimonjr/ironclaw/internal/channels"
	"github.com/danielsimonjr/ironclaw/internal/store"
)

// Config controls the loopback channel's gating behavior.
type Config struct {
	Name      string   // channel name registered with the manager (default "loopback")
	AllowFrom []string // optional allowlist; empty means open
}

// Channel is a Channel implementation backed by an in-memory log of
// delivered outbound messages instead of a network transport.
type Channel struct {
	*channels.BaseChannel

	pairing store.PairingStore

	mu        sync.Mutex
	delivered []Delivered
}

// Delivered records one outbound message accepted by Send.
type Delivered struct {
	ChatID  string
	Content string
}

var _ channels.Channel = (*Channel)(nil)

// New builds a loopback channel registered under cfg.Name (default
// "loopback"). pairing may be nil, in which case unknown direct senders are
// gated by allowlist alone.
func New(cfg Config, msgBus *bus.MessageBus, pairing store.PairingStore) *Channel {
	name := cfg.Name
	if name == "" {
		name = "loopback"
	}
	return &Channel{
		BaseChannel: channels.NewBaseChannel(name, msgBus, cfg.AllowFrom),
		pairing:     pairing,
	}
}

// Receive injects an inbound message as if it had arrived over a real
// transport: it runs the same allowlist gate every channel applies, and on
// a DM from a sender that isn't paired yet (when a PairingStore is
// configured) requests pairing instead of publishing the message.
func (c *Channel) Receive(senderID, chatID, content, peerKind string) {
	if peerKind == "" {
		peerKind = "direct"
	}
	if c.pairing != nil && peerKind == "direct" && !c.pairing.IsPaired(senderID, c.Name()) {
		_, _ = c.pairing.RequestPairing(senderID, c.Name(), chatID, "loopback")
		return
	}
	c.HandleMessage(senderID, chatID, content, nil, nil, peerKind)
}

// Start is a no-op: there is no external connection to establish.
func (c *Channel) Start(ctx context.Context) error {
	c.SetRunning(true)
	return nil
}

// Stop is a no-op: there is no external connection to tear down.
func (c *Channel) Stop(ctx context.Context) error {
	c.SetRunning(false)
	return nil
}

// Send records msg as delivered. Returns an error if the channel isn't
// running, mirroring a real transport's behavior once disconnected.
func (c *Channel) Send(ctx context.Context, msg bus.OutboundMessage) error {
	if !c.IsRunning() {
		return fmt.Errorf("loopback channel %q is not running", c.Name())
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.delivered = append(c.delivered, Delivered{ChatID: msg.ChatID, Content: msg.Content})
	return nil
}

// Delivered returns a snapshot of every outbound message accepted so far.
func (c *Channel) Delivered() []Delivered {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Delivered, len(c.delivered))
	copy(out, c.delivered)
	return out
}
