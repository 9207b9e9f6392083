package mcp

import "sync"

// SessionRegistry tracks which MCP session each agent is connected on and
// which executions each agent is watching. trigger_workflow and
// resume_execution fill it when called with an agent_id.
type SessionRegistry struct {
	mu       sync.RWMutex
	sessions map[string]string // agentID → sessionID
	watches  map[string]string // executionID → agentID
}

// NewSessionRegistry creates an empty registry.
func NewSessionRegistry() *SessionRegistry {
	return &SessionRegistry{
		sessions: make(map[string]string),
		watches:  make(map[string]string),
	}
}

// Register binds an agent to a session. A reconnecting agent moves to its
// new session and keeps its watches.
func (r *SessionRegistry) Register(agentID, sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[agentID] = sessionID
}

// SessionFor returns the agent's live session, if any.
func (r *SessionRegistry) SessionFor(agentID string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sid, ok := r.sessions[agentID]
	return sid, ok
}

// Remove forgets every agent bound to sessionID. Their watches stay so a
// reconnect under the same agent_id resumes delivery.
func (r *SessionRegistry) Remove(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for aid, sid := range r.sessions {
		if sid == sessionID {
			delete(r.sessions, aid)
		}
	}
}

// Watch routes events of executionID to agentID, replacing any earlier
// watcher.
func (r *SessionRegistry) Watch(executionID, agentID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.watches[executionID] = agentID
}

// Watcher returns the agent watching executionID. With release set the
// watch is dropped in the same step, for terminal events.
func (r *SessionRegistry) Watcher(executionID string, release bool) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	aid, ok := r.watches[executionID]
	if ok && release {
		delete(r.watches, executionID)
	}
	return aid, ok
}

// Watching returns the number of watched executions.
func (r *SessionRegistry) Watching() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.watches)
}
