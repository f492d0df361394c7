// Package session owns short-lived per-user conversational state: a
// bounded chat history and the guided-flow state machine.
//
// State is in-memory and process scoped: a restart drops every session.
// That is a deliberate simplification, not a guarantee.
package session

import (
	"sync"
)

const (
	defaultMaxTurns   = 10
	defaultSizeBudget = 4000
)

// Role classifies a conversation turn.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Turn is one entry of a user's conversation history.
type Turn struct {
	Role    Role
	Content string
}

type state struct {
	history []Turn
	flow    Flow
}

// Manager exclusively owns ConversationSession state, keyed by user id.
//
// The manager's own mutex only protects the session map; serializing all
// handling for a single user is the orchestrator's job.
type Manager struct {
	mu       sync.Mutex
	sessions map[int64]*state

	maxTurns     int
	sizeBudget   int
	systemPrompt string
}

// ManagerOption configures the Manager.
type ManagerOption func(*Manager)

// WithMaxTurns bounds the number of retained history turns.
func WithMaxTurns(n int) ManagerOption {
	return func(m *Manager) {
		if n > 0 {
			m.maxTurns = n
		}
	}
}

// WithSizeBudget bounds the approximate serialized size of the history.
func WithSizeBudget(n int) ManagerOption {
	return func(m *Manager) {
		if n > 0 {
			m.sizeBudget = n
		}
	}
}

// WithSystemPrompt seeds every new session with a system turn.
// System turns are never trimmed.
func WithSystemPrompt(prompt string) ManagerOption {
	return func(m *Manager) {
		m.systemPrompt = prompt
	}
}

// NewManager constructs a Manager with the default history bounds.
func NewManager(opts ...ManagerOption) *Manager {
	m := &Manager{
		sessions:   make(map[int64]*state),
		maxTurns:   defaultMaxTurns,
		sizeBudget: defaultSizeBudget,
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(m)
	}
	return m
}

func (m *Manager) stateLocked(userID int64) *state {
	st := m.sessions[userID]
	if st == nil {
		st = &state{}
		if m.systemPrompt != "" {
			st.history = append(st.history, Turn{Role: RoleSystem, Content: m.systemPrompt})
		}
		m.sessions[userID] = st
	}
	return st
}

// AppendUserTurn appends a user turn to the history.
func (m *Manager) AppendUserTurn(userID int64, text string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	st := m.stateLocked(userID)
	st.history = append(st.history, Turn{Role: RoleUser, Content: text})
}

// AppendAssistantTurn appends an assistant turn and trims the history to
// the retention bounds.
func (m *Manager) AppendAssistantTurn(userID int64, text string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	st := m.stateLocked(userID)
	st.history = append(st.history, Turn{Role: RoleAssistant, Content: text})
	st.history = m.trim(st.history)
}

// History returns a copy of the user's current trimmed history in
// chronological order.
func (m *Manager) History(userID int64) []Turn {
	m.mu.Lock()
	defer m.mu.Unlock()

	st := m.sessions[userID]
	if st == nil || len(st.history) == 0 {
		return nil
	}
	return append([]Turn(nil), st.history...)
}

// BeginFlow resets the user's guided-flow state to the first step of kind.
func (m *Manager) BeginFlow(userID int64, kind FlowKind) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.stateLocked(userID).flow.begin(kind)
}

// AdvanceFlow applies one input to the user's guided flow.
func (m *Manager) AdvanceFlow(userID int64, input string) FlowResult {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.stateLocked(userID).flow.advance(input)
}

// ResetFlow returns the user's flow to idle. It is called after the final
// step's action ran no matter whether that action succeeded, so a
// downstream failure cannot leave the user stuck mid-flow.
func (m *Manager) ResetFlow(userID int64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if st := m.sessions[userID]; st != nil {
		st.flow.reset()
	}
}

// ActiveFlow returns the user's current flow kind and step.
func (m *Manager) ActiveFlow(userID int64) (FlowKind, Step) {
	m.mu.Lock()
	defer m.mu.Unlock()

	st := m.sessions[userID]
	if st == nil {
		return FlowNone, StepIdle
	}
	return st.flow.Kind, st.flow.Step
}

// trim enforces the turn-count bound, then the size budget. Oldest
// non-system turns go first and the last remaining turn is never removed
// even if it alone exceeds the budget.
func (m *Manager) trim(history []Turn) []Turn {
	for len(history) > m.maxTurns {
		trimmed, ok := dropOldest(history)
		if !ok {
			break
		}
		history = trimmed
	}
	for serializedSize(history) > m.sizeBudget && len(history) > 1 {
		trimmed, ok := dropOldest(history)
		if !ok {
			break
		}
		history = trimmed
	}
	return history
}

func dropOldest(history []Turn) ([]Turn, bool) {
	for i, t := range history {
		if t.Role == RoleSystem {
			continue
		}
		return append(history[:i:i], history[i+1:]...), true
	}
	return history, false
}

func serializedSize(history []Turn) int {
	n := 0
	for _, t := range history {
		n += len(t.Role) + len(t.Content)
	}
	return n
}
