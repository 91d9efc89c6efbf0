package store

import (
	"crypto/rand"
	"encoding/hex"
	"sync"
	"time"
)

var (
	_ PairingStore = (*MemoryPairingStore)(nil)
	_ AgentStore   = (*MemoryAgentStore)(nil)
	_ TeamStore    = (*MemoryTeamStore)(nil)
)

// pairingEntry tracks one sender's pairing state for a single channel.
type pairingEntry struct {
	paired  bool
	code    string
	chatID  string
	flow    string
	created time.Time
}

// MemoryPairingStore is a process-local PairingStore. Pairing state does not
// survive a restart; channels that need durable pairing across restarts
// should back this interface with a real table instead.
type MemoryPairingStore struct {
	mu      sync.Mutex
	entries map[string]*pairingEntry // key: channel + ":" + senderID
}

// NewMemoryPairingStore creates an empty pairing store.
func NewMemoryPairingStore() *MemoryPairingStore {
	return &MemoryPairingStore{entries: make(map[string]*pairingEntry)}
}

func pairingKey(senderID, channel string) string { return channel + ":" + senderID }

// IsPaired reports whether senderID has completed pairing on channel.
func (m *MemoryPairingStore) IsPaired(senderID, channel string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[pairingKey(senderID, channel)]
	return ok && e.paired
}

// RequestPairing starts (or re-issues) a pairing code for senderID on
// channel, returning the code the sender must confirm out of band.
func (m *MemoryPairingStore) RequestPairing(senderID, channel, chatID, flow string) (string, error) {
	code, err := randomPairingCode()
	if err != nil {
		return "", err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[pairingKey(senderID, channel)] = &pairingEntry{
		code:    code,
		chatID:  chatID,
		flow:    flow,
		created: time.Now(),
	}
	return code, nil
}

// Confirm marks senderID as paired on channel, typically called once an
// owner approves the code out of band (e.g. via the gateway's owner_ids).
func (m *MemoryPairingStore) Confirm(senderID, channel string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.entries[pairingKey(senderID, channel)]; ok {
		e.paired = true
	}
}

func randomPairingCode() (string, error) {
	buf := make([]byte, 4)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

// MemoryAgentStore resolves agents from a fixed name->info map, built once
// at startup from config.
type MemoryAgentStore struct {
	byName map[string]AgentInfo
}

// NewMemoryAgentStore builds an AgentStore from the given name->info map.
func NewMemoryAgentStore(agents map[string]AgentInfo) *MemoryAgentStore {
	return &MemoryAgentStore{byName: agents}
}

// GetByName looks up an agent by its configured name.
func (m *MemoryAgentStore) GetByName(name string) (AgentInfo, bool) {
	info, ok := m.byName[name]
	return info, ok
}

// MemoryTeamStore resolves team membership from a fixed map, built once at
// startup from config.
type MemoryTeamStore struct {
	members map[string][]string
}

// NewMemoryTeamStore builds a TeamStore from the given team->members map.
func NewMemoryTeamStore(members map[string][]string) *MemoryTeamStore {
	return &MemoryTeamStore{members: members}
}

// MembersOf returns the member IDs of teamID.
func (m *MemoryTeamStore) MembersOf(teamID string) ([]string, bool) {
	members, ok := m.members[teamID]
	return members, ok
}
