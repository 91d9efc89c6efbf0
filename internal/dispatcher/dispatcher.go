// Package dispatcher wires the inline parser, lane classifier, command
// queue, agent router, block streamer and delivery retry manager into the
// single inbound/outbound path a transport adapter drives.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"github.com/danielsimonjr/ironclaw/internal/blockstream"
	"github.com/danielsimonjr/ironclaw/internal/commandqueue"
	"github.com/danielsimonjr/ironclaw/internal/inline"
	"github.com/danielsimonjr/ironclaw/internal/retry"
	"github.com/danielsimonjr/ironclaw/internal/router"
	"github.com/danielsimonjr/ironclaw/internal/sessionregistry"
)

// IncomingMessage is what a transport adapter hands the dispatcher for every
// raw message received from a channel.
type IncomingMessage struct {
	Channel  string
	UserID   string
	Content  string
	ThreadID string
	Metadata map[string]string
}

// Executor runs a queued command to completion and returns the agent's
// final response text. It is the boundary to the (out of scope) job
// executor; the dispatcher core never inspects what happens inside it.
type Executor interface {
	Execute(ctx context.Context, sessionID string, cmd commandqueue.QueuedCommand) (string, error)
}

// Outbound delivers one rendered block to a channel. Implementations are
// the per-channel transport send operations C6 retries.
type Outbound interface {
	Send(ctx context.Context, channel string, block blockstream.TextBlock) error
}

// ErrDeliveryFailed is returned by DispatchOutbound when a block exhausts
// its retries; subsequent blocks of the same response are not attempted.
var ErrDeliveryFailed = errors.New("dispatcher: block delivery failed after retries")

// Config bundles the sub-component configuration the dispatcher applies on
// every message; each field defaults independently via its own package.
type Config struct {
	Parse  inline.Config
	Stream blockstream.Config
	Queue  commandqueue.Config
}

// DefaultConfig returns the sub-component defaults used when not overridden.
func DefaultConfig() Config {
	return Config{
		Parse:  inline.DefaultConfig(),
		Stream: blockstream.DefaultConfig(),
		Queue:  commandqueue.DefaultConfig(),
	}
}

// Dispatcher is the Core Dispatcher: the only component that touches the
// inline parser, lane classifier, command queue, agent router, block
// streamer and retry manager together.
type Dispatcher struct {
	cfg     Config
	sess    *sessionregistry.Registry
	routes  *router.AgentRouter
	queue   *commandqueue.CommandQueue
	retries *retry.Manager

	limiter *rate.Limiter // A7: ingress shaping; nil disables limiting
	tracer  trace.Tracer  // A6
	log     *slog.Logger
}

// New creates a dispatcher over the given already-constructed components.
// limiter may be nil to disable ingress rate limiting.
func New(cfg Config, sess *sessionregistry.Registry, routes *router.AgentRouter, queue *commandqueue.CommandQueue, retries *retry.Manager, limiter *rate.Limiter) *Dispatcher {
	return &Dispatcher{
		cfg:     cfg,
		sess:    sess,
		routes:  routes,
		queue:   queue,
		retries: retries,
		limiter: limiter,
		tracer:  otel.Tracer("ironclaw/dispatcher"),
		log:     slog.With("component", "dispatcher"),
	}
}

// HandleInbound runs the full inbound path: rate gate, session resolution
// (C8), routing (C4), lane classification (C2), inline parsing (C1), and
// enqueue (C3). It returns the enqueued command, or an error if the queue
// rejected it (QueueFullError) or the ingress rate limiter's context was
// cancelled while waiting for a token.
func (d *Dispatcher) HandleInbound(ctx context.Context, msg IncomingMessage) (commandqueue.QueuedCommand, error) {
	ctx, span := d.tracer.Start(ctx, "dispatcher.inbound",
		trace.WithAttributes(attribute.String("channel", msg.Channel)))
	defer span.End()

	if d.limiter != nil {
		if err := d.limiter.Wait(ctx); err != nil {
			return commandqueue.QueuedCommand{}, fmt.Errorf("dispatcher: ingress rate limit: %w", err)
		}
	}

	handle, threadID := d.sess.ResolveThread(msg.UserID, msg.Channel, msg.ThreadID)

	decision := d.routes.Route(router.Message{Channel: msg.Channel, Content: msg.Content})
	lane := inline.ClassifyLane(msg.Content)
	parsed := inline.Parse(msg.Content, d.cfg.Parse)

	metadata := make(map[string]any, len(msg.Metadata)+3)
	for k, v := range msg.Metadata {
		metadata[k] = v
	}
	metadata["thread_id"] = threadID
	metadata["agent"] = decision.AgentName
	metadata["parsed_kind"] = parsed.Kind.String()

	cmd := &commandqueue.QueuedCommand{
		ID:         uuid.New(),
		SessionID:  handle.ID(),
		Lane:       lane,
		Content:    msg.Content,
		Channel:    msg.Channel,
		UserID:     msg.UserID,
		EnqueuedAt: time.Now(),
		Metadata:   metadata,
	}

	if err := d.queue.Enqueue(cmd); err != nil {
		d.log.Warn("enqueue rejected", "session", cmd.SessionID, "error", err)
		return commandqueue.QueuedCommand{}, err
	}
	return *cmd, nil
}

// RunSessionConsumer drains one session's queue until ctx is cancelled,
// coalescing bursts of user input and handing each resulting command to
// exec, then running its response through the outbound path. It is meant
// to run as its own goroutine, one per active session (or pulled from a
// worker pool keyed by session ID).
func (d *Dispatcher) RunSessionConsumer(ctx context.Context, sessionID string, exec Executor, out Outbound) {
	for {
		if ctx.Err() != nil {
			return
		}

		// Higher-priority lanes are taken one command at a time; only a
		// user-input head is coalesced with the rest of its lane.
		var cmd *commandqueue.QueuedCommand
		if next := d.queue.Peek(sessionID); next != nil && next.Lane != commandqueue.LaneUserInput {
			cmd = d.queue.Dequeue(sessionID)
		} else {
			cmd = d.queue.Coalesce(sessionID)
		}
		if cmd == nil {
			d.queue.WaitForCommand(ctx)
			continue
		}

		ctx, span := d.tracer.Start(ctx, "dispatcher.consume",
			trace.WithAttributes(attribute.String("session_id", sessionID)))

		response, err := exec.Execute(ctx, sessionID, *cmd)
		if err != nil {
			d.log.Error("executor failed", "session", sessionID, "error", err)
			span.End()
			continue
		}

		if err := d.DispatchOutbound(ctx, cmd.Channel, response, out); err != nil {
			d.log.Error("outbound delivery failed", "session", sessionID, "channel", cmd.Channel, "error", err)
		}
		span.End()
	}
}

// DispatchOutbound runs the outbound path for one response: optionally
// splits it into blocks (C5), then delivers each block in order through
// the retry manager (C6). It stops at the first block whose delivery fails
// after retries; no partial-ordering recovery is attempted for blocks
// after that point.
func (d *Dispatcher) DispatchOutbound(ctx context.Context, channel, response string, out Outbound) error {
	var blocks []blockstream.TextBlock
	if blockstream.ShouldStream(response, d.cfg.Stream) {
		blocks = blockstream.SplitIntoBlocks(response, d.cfg.Stream)
	} else {
		blocks = []blockstream.TextBlock{{Content: response, Index: 0, Total: 1, IsLast: true}}
	}

	for i, block := range blocks {
		if delay := blockstream.BlockDelay(d.cfg.Stream, i); delay > 0 {
			timer := time.NewTimer(delay)
			select {
			case <-timer.C:
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			}
		}

		block := block
		outcome := d.retries.DeliverWithRetry(ctx, channel, func(ctx context.Context) error {
			return out.Send(ctx, channel, block)
		})
		if outcome.Kind == retry.Failed {
			return fmt.Errorf("%w: block %d/%d on channel %s: %v", ErrDeliveryFailed, block.Index+1, block.Total, channel, outcome.LastError)
		}
	}
	return nil
}
