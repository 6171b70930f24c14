package session

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/isdmx/codearena/environment"
)

// NumSides is the number of models compared in one conversation.
const NumSides = 2

// Conversation holds one Side per compared model
type Conversation struct {
	ID    string
	Sides [NumSides]*Side
}

// Side returns the side at index.
func (c *Conversation) Side(index int) (*Side, error) {
	if index < 0 || index >= NumSides {
		return nil, fmt.Errorf("side index %d out of range [0, %d)", index, NumSides)
	}
	return c.Sides[index], nil
}

// States returns a snapshot of every side.
func (c *Conversation) States() []State {
	states := make([]State, 0, NumSides)
	for _, side := range c.Sides {
		states = append(states, side.State())
	}
	return states
}

// Manager keeps the conversations of a running server in memory
type Manager struct {
	logger    *zap.Logger
	runner    Runner
	extractor Extractor

	mu            sync.Mutex
	conversations map[string]*Conversation
}

// NewManager creates an empty Manager
func NewManager(logger *zap.Logger, runner Runner, extractor Extractor) *Manager {
	return &Manager{
		logger:        logger,
		runner:        runner,
		extractor:     extractor,
		conversations: make(map[string]*Conversation),
	}
}

// NewConversation starts a conversation with a fresh id.
func (m *Manager) NewConversation() *Conversation {
	return m.Conversation(uuid.NewString())
}

// Conversation returns the conversation with id, materializing it on first
// use.
func (m *Manager) Conversation(id string) *Conversation {
	m.mu.Lock()
	defer m.mu.Unlock()

	if conv, ok := m.conversations[id]; ok {
		return conv
	}

	conv := &Conversation{ID: id}
	for i := range conv.Sides {
		conv.Sides[i] = NewSide(m.logger.With(zap.String("conversation", id), zap.Int("side", i)), m.runner, m.extractor)
	}
	m.conversations[id] = conv
	m.logger.Debug("conversation created", zap.String("conversation", id))
	return conv
}

// Side returns side index of conversation id.
func (m *Manager) Side(id string, index int) (*Side, error) {
	return m.Conversation(id).Side(index)
}

// ConfigureAll applies Configure to every side of conversation id. Locked
// sides keep their configuration.
func (m *Manager) ConfigureAll(id string, enabled bool, env environment.Tag) ([]State, error) {
	conv := m.Conversation(id)
	states := make([]State, 0, NumSides)
	for _, side := range conv.Sides {
		state, err := side.Configure(enabled, env)
		if err != nil {
			return nil, err
		}
		states = append(states, state)
	}
	return states, nil
}

// Reset unlocks every side of conversation id for a new chat.
func (m *Manager) Reset(id string) []State {
	conv := m.Conversation(id)
	states := make([]State, 0, NumSides)
	for _, side := range conv.Sides {
		states = append(states, side.Reset())
	}
	return states
}

// End forgets conversation id. It reports whether the conversation existed.
func (m *Manager) End(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	_, ok := m.conversations[id]
	delete(m.conversations, id)
	return ok
}

// Len returns the number of live conversations.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.conversations)
}
