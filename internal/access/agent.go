package access

import "sync"

// Agent is a named persona: its own access level, personality, and the set
// of directory roots its filesystem tools are confined to.
type Agent struct {
	ID          string
	Role        string
	Personality string

	AccessLevel Level

	// DirectoryScopes is a list of absolute path roots. An empty list means
	// unrestricted within the level's other limits.
	DirectoryScopes []string

	// EnabledCapabilities maps a tool category to whether it is allowed for
	// this agent. A category absent from the map, or mapped to true, is
	// allowed; only an explicit false disables it.
	EnabledCapabilities map[Category]bool

	// VIP marks an agent that receives the VIP bypass once it reaches Full.
	VIP bool
}

// CategoryEnabled reports whether category is enabled for this agent.
func (a *Agent) CategoryEnabled(c Category) bool {
	if a.EnabledCapabilities == nil {
		return true
	}
	enabled, present := a.EnabledCapabilities[c]
	return !present || enabled
}

// Store holds the live set of configured agents, replaced wholesale under
// lock whenever settings are hot-applied (see package config). Readers
// observe either the old or the new snapshot, never a torn state, because
// the whole map is swapped in one assignment.
type Store struct {
	mu       sync.RWMutex
	agents   map[string]*Agent
	globalLv Level
}

// NewStore returns a Store with no agents configured and a global ceiling of
// Full (i.e. no additional clamping).
func NewStore() *Store {
	return &Store{agents: make(map[string]*Agent), globalLv: Full}
}

// Replace atomically swaps the entire agent set and the global level
// ceiling. Called by the settings hot-apply path after validation succeeds.
func (s *Store) Replace(agents map[string]*Agent, globalLevel Level) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.agents = agents
	s.globalLv = globalLevel
}

// Get returns the agent by ID, or nil if not configured.
func (s *Store) Get(id string) *Agent {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.agents[id]
}

// Put inserts or replaces a single agent (used by PUT /v1/agents/:id).
func (s *Store) Put(a *Agent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.agents[a.ID] = a
}

// Delete removes an agent by ID. Returns false if it did not exist.
func (s *Store) Delete(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.agents[id]; !ok {
		return false
	}
	delete(s.agents, id)
	return true
}

// List returns all configured agents, order unspecified.
func (s *Store) List() []*Agent {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Agent, 0, len(s.agents))
	for _, a := range s.agents {
		out = append(out, a)
	}
	return out
}

// GlobalLevel returns the current server-wide ceiling.
func (s *Store) GlobalLevel() Level {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.globalLv
}

// EffectiveLevel returns min(globalLevel, agent.AccessLevel). Returns Off if
// the agent is not configured.
func (s *Store) EffectiveLevel(id string) Level {
	a := s.Get(id)
	if a == nil {
		return Off
	}
	return Min(s.GlobalLevel(), a.AccessLevel)
}
