package bus

import (
	"fmt"
	"sync"
	"time"
)

// InboundDebouncer merges rapid-fire inbound messages from the same sender
// into one flushed message, so a burst of quick taps produces a single
// agent run instead of one per message. Messages are keyed by
// (channel, chat_id, sender_id); each key has its own independent window
// that restarts on every new message and flushes once the window elapses
// without a further message.
type InboundDebouncer struct {
	window time.Duration
	flush  func(InboundMessage)

	mu      sync.Mutex
	pending map[string]*pendingGroup
	closed  bool
}

type pendingGroup struct {
	msgs  []InboundMessage
	timer *time.Timer
}

// NewInboundDebouncer creates a debouncer that flushes each sender's
// coalesced message window seconds after their last message, calling flush
// exactly once per window.
func NewInboundDebouncer(window time.Duration, flush func(InboundMessage)) *InboundDebouncer {
	return &InboundDebouncer{
		window:  window,
		flush:   flush,
		pending: make(map[string]*pendingGroup),
	}
}

func debounceKey(msg InboundMessage) string {
	return fmt.Sprintf("%s|%s|%s", msg.Channel, msg.ChatID, msg.SenderID)
}

// Push adds msg to its sender's pending window, restarting the window's
// timer. If the debouncer has been stopped, Push flushes msg immediately.
func (d *InboundDebouncer) Push(msg InboundMessage) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		d.flush(msg)
		return
	}

	key := debounceKey(msg)
	group, ok := d.pending[key]
	if !ok {
		group = &pendingGroup{}
		d.pending[key] = group
	}
	group.msgs = append(group.msgs, msg)

	if group.timer != nil {
		group.timer.Stop()
	}
	group.timer = time.AfterFunc(d.window, func() { d.flushKey(key) })
}

func (d *InboundDebouncer) flushKey(key string) {
	d.mu.Lock()
	group, ok := d.pending[key]
	if !ok {
		d.mu.Unlock()
		return
	}
	delete(d.pending, key)
	d.mu.Unlock()

	merged := mergeInbound(group.msgs)
	d.flush(merged)
}

// mergeInbound combines a burst of messages from one sender into one,
// joining their content with newlines and keeping the last message's
// metadata (most likely to reflect the burst's final intent).
func mergeInbound(msgs []InboundMessage) InboundMessage {
	if len(msgs) == 1 {
		return msgs[0]
	}
	merged := msgs[len(msgs)-1]
	content := msgs[0].Content
	for _, m := range msgs[1:] {
		content += "\n" + m.Content
	}
	merged.Content = content
	return merged
}

// Stop flushes any windows still pending and causes subsequent Push calls
// to flush immediately rather than buffer.
func (d *InboundDebouncer) Stop() {
	d.mu.Lock()
	d.closed = true
	groups := d.pending
	d.pending = make(map[string]*pendingGroup)
	d.mu.Unlock()

	for _, group := range groups {
		if group.timer != nil {
			group.timer.Stop()
		}
		d.flush(mergeInbound(group.msgs))
	}
}
