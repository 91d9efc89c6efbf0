// Package router selects an agent identity for an inbound message via a
// cascade of strategies: explicit @mention, channel mapping, intent
// keyword match, and a default fallback.
package router

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Strategy names the cascade stage that produced a RoutingDecision.
type Strategy string

const (
	ExplicitMention Strategy = "explicit_mention"
	ChannelMapping  Strategy = "channel_mapping"
	IntentMatch     Strategy = "intent_match"
	Default         Strategy = "default"
)

// AgentIdentity describes one registered agent persona.
type AgentIdentity struct {
	Name            string
	Description     string
	SystemPrompt    string
	AllowedTools    []string // empty means all tools allowed
	WorkspacePrefix string
	Enabled         bool
	Priority        int
}

// IsToolAllowed reports whether tool is usable by this identity.
func (a AgentIdentity) IsToolAllowed(tool string) bool {
	if len(a.AllowedTools) == 0 {
		return true
	}
	for _, t := range a.AllowedTools {
		if t == tool {
			return true
		}
	}
	return false
}

// RoutingDecision is the outcome of Route.
type RoutingDecision struct {
	AgentName  string
	Confidence float64
	Reason     string
	Strategy   Strategy
}

// Message is the minimal shape Route needs from an inbound message.
type Message struct {
	Channel string
	Content string
}

// ErrDefaultAgentRequired describes a router without a default agent. New
// always registers its defaultAgent argument, so no function in this package
// returns it.
var ErrDefaultAgentRequired = fmt.Errorf("router: a default agent is required")

// ErrCannotRemoveDefault is returned by RemoveAgent for the default agent.
var ErrCannotRemoveDefault = fmt.Errorf("router: cannot remove the default agent")

// ErrUnknownAgent is returned when referencing an unregistered agent name.
var ErrUnknownAgent = fmt.Errorf("router: unknown agent")

// AgentRouter holds registered identities and channel mappings and resolves
// routing decisions for inbound messages.
type AgentRouter struct {
	mu              sync.RWMutex
	agents          map[string]AgentIdentity
	channelMappings map[string]string
	defaultAgent    string
}

// New creates a router whose default agent is defaultAgent. defaultAgent is
// registered automatically if not already present in agents.
func New(defaultAgent AgentIdentity, others ...AgentIdentity) *AgentRouter {
	r := &AgentRouter{
		agents:          make(map[string]AgentIdentity),
		channelMappings: make(map[string]string),
		defaultAgent:    defaultAgent.Name,
	}
	r.agents[defaultAgent.Name] = defaultAgent
	for _, a := range others {
		r.agents[a.Name] = a
	}
	return r
}

// RegisterAgent adds or replaces an agent identity.
func (r *AgentRouter) RegisterAgent(a AgentIdentity) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.agents[a.Name] = a
}

// RemoveAgent removes an agent identity. The default agent cannot be removed.
func (r *AgentRouter) RemoveAgent(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if name == r.defaultAgent {
		return ErrCannotRemoveDefault
	}
	delete(r.agents, name)
	for ch, agent := range r.channelMappings {
		if agent == name {
			delete(r.channelMappings, ch)
		}
	}
	return nil
}

// SetChannelMapping routes all messages on channel to agent by default,
// subject to being overridden by an explicit mention.
func (r *AgentRouter) SetChannelMapping(channel, agent string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.channelMappings[channel] = agent
}

// RemoveChannelMapping clears any mapping for channel.
func (r *AgentRouter) RemoveChannelMapping(channel string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.channelMappings, channel)
}

// SetDefaultAgent changes the default agent. The named agent must already be
// registered.
func (r *AgentRouter) SetDefaultAgent(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.agents[name]; !ok {
		return ErrUnknownAgent
	}
	r.defaultAgent = name
	return nil
}

// Agent returns a copy of the registered identity, if any.
func (r *AgentRouter) Agent(name string) (AgentIdentity, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.agents[name]
	return a, ok
}

func (r *AgentRouter) enabledAgentsLocked() []AgentIdentity {
	out := make([]AgentIdentity, 0, len(r.agents))
	for _, a := range r.agents {
		if a.Enabled {
			out = append(out, a)
		}
	}
	return out
}

// Route resolves the agent that should handle msg, trying each strategy in
// cascade order and returning on the first match.
func (r *AgentRouter) Route(msg Message) RoutingDecision {
	r.mu.RLock()
	defer r.mu.RUnlock()

	enabled := r.enabledAgentsLocked()

	if d, ok := r.routeExplicitMention(enabled, msg); ok {
		return d
	}
	if d, ok := r.routeChannelMapping(msg); ok {
		return d
	}
	if d, ok := r.routeIntentMatch(enabled, msg); ok {
		return d
	}
	return RoutingDecision{
		AgentName:  r.defaultAgent,
		Confidence: 0.5,
		Reason:     "no stronger match; falling back to default agent",
		Strategy:   Default,
	}
}

func (r *AgentRouter) routeExplicitMention(enabled []AgentIdentity, msg Message) (RoutingDecision, bool) {
	sorted := append([]AgentIdentity(nil), enabled...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Priority > sorted[j].Priority })

	content := strings.ToLower(msg.Content)
	for _, a := range sorted {
		if strings.Contains(content, "@"+strings.ToLower(a.Name)) {
			return RoutingDecision{
				AgentName:  a.Name,
				Confidence: 1.0,
				Reason:     fmt.Sprintf("explicit mention of @%s", a.Name),
				Strategy:   ExplicitMention,
			}, true
		}
	}
	return RoutingDecision{}, false
}

func (r *AgentRouter) routeChannelMapping(msg Message) (RoutingDecision, bool) {
	name, ok := r.channelMappings[msg.Channel]
	if !ok {
		return RoutingDecision{}, false
	}
	a, ok := r.agents[name]
	if !ok || !a.Enabled {
		return RoutingDecision{}, false
	}
	return RoutingDecision{
		AgentName:  a.Name,
		Confidence: 0.9,
		Reason:     fmt.Sprintf("channel mapping for %s", msg.Channel),
		Strategy:   ChannelMapping,
	}, true
}

func (r *AgentRouter) routeIntentMatch(enabled []AgentIdentity, msg Message) (RoutingDecision, bool) {
	contentWords := strings.Fields(strings.ToLower(msg.Content))
	contentSet := make(map[string]bool, len(contentWords))
	for _, w := range contentWords {
		contentSet[w] = true
	}

	var best AgentIdentity
	bestScore := -1.0
	bestRaw := 0.0
	found := false

	for _, a := range enabled {
		descWords := significantWords(a.Description)
		if len(descWords) == 0 {
			continue
		}
		matches := 0
		for _, w := range descWords {
			if contentSet[w] {
				matches++
			}
		}
		raw := float64(matches) / float64(len(descWords))
		score := raw + float64(a.Priority)*0.001

		if score > bestScore {
			bestScore = score
			bestRaw = raw
			best = a
			found = true
		}
	}

	if !found || bestRaw < 0.1 {
		return RoutingDecision{}, false
	}

	confidence := bestRaw
	if confidence > 1.0 {
		confidence = 1.0
	}
	return RoutingDecision{
		AgentName:  best.Name,
		Confidence: confidence,
		Reason:     fmt.Sprintf("intent match on description keywords for %s", best.Name),
		Strategy:   IntentMatch,
	}, true
}

// significantWords splits desc into lowercase words longer than 3 chars.
func significantWords(desc string) []string {
	words := strings.Fields(strings.ToLower(desc))
	out := make([]string, 0, len(words))
	for _, w := range words {
		if len(w) > 3 {
			out = append(out, w)
		}
	}
	return out
}
