package router

import "testing"

func assistant() AgentIdentity {
	return AgentIdentity{Name: "assistant", Description: "general helpful assistant", Enabled: true}
}

func TestExplicitMentionOverridesChannelMapping(t *testing.T) {
	r := New(assistant())
	r.RegisterAgent(AgentIdentity{Name: "coder", Description: "writes code and reviews pull requests", Enabled: true})
	r.RegisterAgent(AgentIdentity{Name: "researcher", Description: "looks things up and summarizes findings", Enabled: true})
	r.SetChannelMapping("telegram", "coder")

	d := r.Route(Message{Channel: "telegram", Content: "@researcher look into X"})
	if d.AgentName != "researcher" || d.Strategy != ExplicitMention || d.Confidence != 1.0 {
		t.Fatalf("unexpected decision: %+v", d)
	}
}

func TestChannelMapping(t *testing.T) {
	r := New(assistant())
	r.RegisterAgent(AgentIdentity{Name: "coder", Enabled: true})
	r.SetChannelMapping("telegram", "coder")

	d := r.Route(Message{Channel: "telegram", Content: "hello"})
	if d.AgentName != "coder" || d.Strategy != ChannelMapping || d.Confidence != 0.9 {
		t.Fatalf("unexpected decision: %+v", d)
	}
}

func TestChannelMappingSkipsDisabledAgent(t *testing.T) {
	r := New(assistant())
	r.RegisterAgent(AgentIdentity{Name: "coder", Enabled: false})
	r.SetChannelMapping("telegram", "coder")

	d := r.Route(Message{Channel: "telegram", Content: "hello"})
	if d.Strategy != Default {
		t.Fatalf("expected fallback to default for disabled mapped agent, got %+v", d)
	}
}

func TestIntentMatch(t *testing.T) {
	r := New(assistant())
	r.RegisterAgent(AgentIdentity{Name: "coder", Description: "writes code and reviews pull requests", Enabled: true})

	d := r.Route(Message{Channel: "web", Content: "can you review my pull requests please"})
	if d.AgentName != "coder" || d.Strategy != IntentMatch {
		t.Fatalf("expected intent match to coder, got %+v", d)
	}
}

func TestIntentMatchRequiresMinimumScore(t *testing.T) {
	r := New(assistant())
	r.RegisterAgent(AgentIdentity{Name: "coder", Description: "writes code and reviews pull requests and handles deployments", Enabled: true})

	d := r.Route(Message{Channel: "web", Content: "completely unrelated greeting"})
	if d.Strategy != Default {
		t.Fatalf("expected fallback to default below score threshold, got %+v", d)
	}
}

func TestIntentMatchPriorityTieBreak(t *testing.T) {
	r := New(assistant())
	r.RegisterAgent(AgentIdentity{Name: "low", Description: "handles code reviews", Enabled: true, Priority: 0})
	r.RegisterAgent(AgentIdentity{Name: "high", Description: "handles code reviews", Enabled: true, Priority: 10})

	d := r.Route(Message{Channel: "web", Content: "please handle code reviews"})
	if d.AgentName != "high" {
		t.Fatalf("expected higher priority agent to win tie, got %+v", d)
	}
}

// TestIntentMatchWinnerGatedByItsOwnRawScore verifies that the 0.1 floor is
// applied to the winning candidate's raw score only, after tie-break
// selection — not used to filter candidates out of the running while
// scanning. A high-priority agent whose raw score alone is below the floor
// must still win the cascade on its tie-break-adjusted score and then fall
// through to the default agent, rather than being skipped in favor of a
// weaker low-priority candidate.
func TestIntentMatchWinnerGatedByItsOwnRawScore(t *testing.T) {
	r := New(assistant())
	// "alpha" matches only 1 of its 20 significant description words (raw =
	// 0.05, below the 0.1 floor) but carries a large enough priority bonus
	// that its tie-break-adjusted score still beats "beta"'s.
	r.RegisterAgent(AgentIdentity{
		Name:        "alpha",
		Description: "apple bravo charlie delta foxtrot hotel india juliet kilogram lima mike november oscar papa quebec romeo sierra tango uniform victor",
		Enabled:     true,
		Priority:    2000,
	})
	// "beta" matches its entire (single-word) description, with no priority
	// bonus, scoring lower than alpha's adjusted score.
	r.RegisterAgent(AgentIdentity{
		Name:        "beta",
		Description: "apple",
		Enabled:     true,
		Priority:    0,
	})

	d := r.Route(Message{Channel: "web", Content: "apple"})
	if d.Strategy != Default {
		t.Fatalf("expected fallback to default once the cascade's winner fails the raw-score floor, got %+v", d)
	}
}

func TestDisabledAgentInvisibleToAllStrategies(t *testing.T) {
	r := New(assistant())
	r.RegisterAgent(AgentIdentity{Name: "coder", Description: "writes code reviews", Enabled: false})
	r.SetChannelMapping("web", "coder")

	d := r.Route(Message{Channel: "web", Content: "@coder please help with code reviews"})
	if d.AgentName != "assistant" || d.Strategy != Default {
		t.Fatalf("expected default fallback since coder is disabled, got %+v", d)
	}
}

func TestDefaultFallback(t *testing.T) {
	r := New(assistant())
	d := r.Route(Message{Channel: "web", Content: "hi"})
	if d.AgentName != "assistant" || d.Strategy != Default || d.Confidence != 0.5 {
		t.Fatalf("unexpected default decision: %+v", d)
	}
}

func TestCannotRemoveDefaultAgent(t *testing.T) {
	r := New(assistant())
	if err := r.RemoveAgent("assistant"); err != ErrCannotRemoveDefault {
		t.Fatalf("expected ErrCannotRemoveDefault, got %v", err)
	}
	if _, ok := r.Agent("assistant"); !ok {
		t.Fatal("expected default agent to remain registered")
	}
}

func TestIsToolAllowed(t *testing.T) {
	restricted := AgentIdentity{Name: "x", AllowedTools: []string{"search"}}
	if restricted.IsToolAllowed("exec") {
		t.Fatal("expected exec disallowed")
	}
	if !restricted.IsToolAllowed("search") {
		t.Fatal("expected search allowed")
	}

	open := AgentIdentity{Name: "y"}
	if !open.IsToolAllowed("anything") {
		t.Fatal("expected empty allow-list to permit all tools")
	}
}

func TestRouteWithZeroEnabledNonDefaultAgentsStillHasDefault(t *testing.T) {
	r := New(assistant())
	r.RegisterAgent(AgentIdentity{Name: "coder", Enabled: false})

	d := r.Route(Message{Channel: "web", Content: "@coder hi"})
	if d.AgentName != "assistant" {
		t.Fatalf("expected default agent when no other agents enabled, got %+v", d)
	}
}
