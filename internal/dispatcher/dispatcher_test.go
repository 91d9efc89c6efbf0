package dispatcher

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/danielsimonjr/ironclaw/internal/blockstream"
	"github.com/danielsimonjr/ironclaw/internal/commandqueue"
	"github.com/danielsimonjr/ironclaw/internal/retry"
	"github.com/danielsimonjr/ironclaw/internal/router"
	"github.com/danielsimonjr/ironclaw/internal/sessionregistry"
)

func newTestDispatcher() *Dispatcher {
	sess := sessionregistry.New(sessionregistry.DefaultConfig(), nil)
	assistant := router.AgentIdentity{Name: "assistant", Enabled: true}
	routes := router.New(assistant)
	queue := commandqueue.New(commandqueue.DefaultConfig())
	retries := retry.NewManager(retry.DefaultRetryConfig())
	return New(DefaultConfig(), sess, routes, queue, retries, nil)
}

func TestHandleInboundEnqueuesCommand(t *testing.T) {
	d := newTestDispatcher()
	cmd, err := d.HandleInbound(context.Background(), IncomingMessage{
		Channel: "telegram",
		UserID:  "u1",
		Content: "hello there",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cmd.SessionID == "" {
		t.Fatal("expected a resolved session id")
	}
	if cmd.Metadata["agent"] != "assistant" {
		t.Fatalf("expected routed agent in metadata, got %+v", cmd.Metadata)
	}
}

func TestHandleInboundClassifiesSystemLane(t *testing.T) {
	d := newTestDispatcher()
	cmd, err := d.HandleInbound(context.Background(), IncomingMessage{
		Channel: "telegram",
		UserID:  "u1",
		Content: "/help",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cmd.Lane != commandqueue.LaneSystem {
		t.Fatalf("expected system lane, got %v", cmd.Lane)
	}
	if cmd.Metadata["parsed_kind"] != "command" {
		t.Fatalf("expected parsed_kind=command, got %+v", cmd.Metadata)
	}
}

func TestHandleInboundRejectsWhenQueueFull(t *testing.T) {
	sess := sessionregistry.New(sessionregistry.DefaultConfig(), nil)
	assistant := router.AgentIdentity{Name: "assistant", Enabled: true}
	routes := router.New(assistant)
	queue := commandqueue.New(commandqueue.Config{MaxQueueSize: 1, MaxAge: time.Minute})
	retries := retry.NewManager(retry.DefaultRetryConfig())
	d := New(DefaultConfig(), sess, routes, queue, retries, nil)

	ctx := context.Background()
	if _, err := d.HandleInbound(ctx, IncomingMessage{Channel: "c", UserID: "u1", Content: "one"}); err != nil {
		t.Fatalf("unexpected error on first message: %v", err)
	}
	if _, err := d.HandleInbound(ctx, IncomingMessage{Channel: "c", UserID: "u1", Content: "two"}); err == nil {
		t.Fatal("expected queue-full error on second message")
	}
}

type sequentialExecutor struct {
	response string
}

func (e *sequentialExecutor) Execute(ctx context.Context, sessionID string, cmd commandqueue.QueuedCommand) (string, error) {
	return e.response, nil
}

type recordingOutbound struct {
	mu     sync.Mutex
	blocks []blockstream.TextBlock
	fail   bool
}

func (o *recordingOutbound) Send(ctx context.Context, channel string, block blockstream.TextBlock) error {
	if o.fail {
		return errors.New("send failed")
	}
	o.mu.Lock()
	o.blocks = append(o.blocks, block)
	o.mu.Unlock()
	return nil
}

func TestDispatchOutboundSingleBlock(t *testing.T) {
	d := newTestDispatcher()
	out := &recordingOutbound{}
	if err := d.DispatchOutbound(context.Background(), "c", "short reply", out); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(out.blocks) != 1 || !out.blocks[0].IsLast {
		t.Fatalf("expected exactly one final block, got %+v", out.blocks)
	}
}

func TestDispatchOutboundStopsOnFailure(t *testing.T) {
	d := newTestDispatcher()
	cfg := DefaultConfig()
	cfg.Stream.MinSplitThreshold = 1
	cfg.Stream.MaxBlockChars = 5
	d.cfg = cfg
	d.retries.SetChannelConfig("c", retry.RetryConfig{MaxRetries: 0, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond, Enabled: true})

	out := &recordingOutbound{fail: true}
	err := d.DispatchOutbound(context.Background(), "c", "this response is long enough to split into several blocks", out)
	if err == nil {
		t.Fatal("expected delivery failure error")
	}
	if len(out.blocks) != 0 {
		t.Fatalf("expected no blocks recorded on immediate failure, got %d", len(out.blocks))
	}
}

func TestRunSessionConsumerProcessesEnqueuedCommand(t *testing.T) {
	d := newTestDispatcher()
	cmd, err := d.HandleInbound(context.Background(), IncomingMessage{
		Channel: "telegram",
		UserID:  "u1",
		Content: "hello",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	exec := &sequentialExecutor{response: "hi back"}
	out := &recordingOutbound{}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		d.RunSessionConsumer(ctx, cmd.SessionID, exec, out)
		close(done)
	}()

	deadline := time.After(time.Second)
	for {
		out.mu.Lock()
		n := len(out.blocks)
		out.mu.Unlock()
		if n > 0 {
			break
		}
		select {
		case <-deadline:
			cancel()
			t.Fatal("timed out waiting for consumer to deliver a block")
		case <-time.After(time.Millisecond):
		}
	}

	cancel()
	<-done
}
