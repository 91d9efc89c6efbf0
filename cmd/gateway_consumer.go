package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/danielsimonjr/ironclaw/internal/blockstream"
	"github.com/danielsimonjr/ironclaw/internal/bus"
	"github.com/danielsimonjr/ironclaw/internal/channels"
	"github.com/danielsimonjr/ironclaw/internal/commandqueue"
	"github.com/danielsimonjr/ironclaw/internal/config"
	"github.com/danielsimonjr/ironclaw/internal/dispatcher"
	"github.com/danielsimonjr/ironclaw/internal/scheduler"
)

// runInboundConsumer drains the bus's inbound queue, debouncing rapid
// bursts from the same sender and dropping exact repeats seen within the
// dedupe window, then hands each surviving message to the dispatcher and
// makes sure a consumer goroutine is running for its session.
func runInboundConsumer(ctx context.Context, msgBus *bus.MessageBus, disp *dispatcher.Dispatcher, sched *scheduler.Scheduler, chanManager *channels.Manager, cfg *config.Config) {
	dedupe := bus.NewDedupeCache(2*time.Minute, 4096)
	runner := &sessionRunner{
		disp:    disp,
		sched:   sched,
		chans:   chanManager,
		chatIDs: &chatIDTable{ids: make(map[string]string)},
		running: make(map[string]struct{}),
	}

	debounceWindow := time.Duration(cfg.Gateway.InboundDebounceMs) * time.Millisecond
	if cfg.Gateway.InboundDebounceMs == 0 {
		debounceWindow = time.Second
	}

	handle := func(msg bus.InboundMessage) {
		key := fmt.Sprintf("%s|%s|%s|%s", msg.Channel, msg.ChatID, msg.SenderID, msg.Content)
		if dedupe.IsDuplicate(key) {
			return
		}

		cmd, err := disp.HandleInbound(ctx, dispatcher.IncomingMessage{
			Channel:  msg.Channel,
			UserID:   msg.SenderID,
			Content:  msg.Content,
			ThreadID: msg.SessionKey,
			Metadata: msg.Metadata,
		})
		if err != nil {
			slog.Warn("inbound message rejected", "channel", msg.Channel, "error", err)
			return
		}

		runner.chatIDs.set(cmd.SessionID, msg.ChatID)
		runner.ensureRunning(ctx, cmd.SessionID)
	}

	if cfg.Gateway.InboundDebounceMs < 0 {
		for {
			msg, ok := msgBus.ConsumeInbound(ctx)
			if !ok {
				return
			}
			handle(msg)
		}
	}

	debouncer := bus.NewInboundDebouncer(debounceWindow, handle)
	defer debouncer.Stop()

	for {
		msg, ok := msgBus.ConsumeInbound(ctx)
		if !ok {
			return
		}
		debouncer.Push(msg)
	}
}

// chatIDTable maps a session ID to the channel-native chat ID an Outbound
// adapter should deliver replies to, since Outbound.Send only carries the
// channel name and rendered block.
type chatIDTable struct {
	mu  sync.RWMutex
	ids map[string]string
}

func (t *chatIDTable) set(sessionID, chatID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.ids[sessionID] = chatID
}

func (t *chatIDTable) get(sessionID string) string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.ids[sessionID]
}

// sessionRunner lazily starts exactly one RunSessionConsumer goroutine per
// session ID, the first time a command for that session is enqueued.
type sessionRunner struct {
	disp    *dispatcher.Dispatcher
	sched   *scheduler.Scheduler
	chans   *channels.Manager
	chatIDs *chatIDTable

	mu      sync.Mutex
	running map[string]struct{}
}

func (r *sessionRunner) ensureRunning(ctx context.Context, sessionID string) {
	r.mu.Lock()
	if _, ok := r.running[sessionID]; ok {
		r.mu.Unlock()
		return
	}
	r.running[sessionID] = struct{}{}
	r.mu.Unlock()

	exec := &scheduledExecutor{sched: r.sched}
	out := &channelOutbound{chans: r.chans, chatIDs: r.chatIDs, sessionID: sessionID}
	go r.disp.RunSessionConsumer(ctx, sessionID, exec, out)
}

// scheduledExecutor runs a queued command's response generation on the
// scheduler's main lane, one run at a time per session. The run body is a
// placeholder acknowledgement: generating an actual agent response is the
// (out of scope) job executor's job, which the dispatcher core never
// inspects.
type scheduledExecutor struct {
	sched *scheduler.Scheduler
}

func (e *scheduledExecutor) Execute(ctx context.Context, sessionID string, cmd commandqueue.QueuedCommand) (string, error) {
	outcome := <-e.sched.Schedule(ctx, scheduler.LaneMain, scheduler.RunRequest{
		SessionKey: sessionID,
		RunID:      cmd.ID.String(),
		Run: func(ctx context.Context) (string, error) {
			return fmt.Sprintf("received: %s", cmd.Content), nil
		},
	})
	return outcome.Content, outcome.Err
}

// channelOutbound delivers one rendered block to the chat a session's most
// recent inbound message came from.
type channelOutbound struct {
	chans     *channels.Manager
	chatIDs   *chatIDTable
	sessionID string
}

func (o *channelOutbound) Send(ctx context.Context, channel string, block blockstream.TextBlock) error {
	chatID := o.chatIDs.get(o.sessionID)
	return o.chans.SendToChannel(ctx, channel, chatID, block.Content)
}
