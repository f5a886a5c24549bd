package session

import (
	"slices"
	"sync"

	"github.com/google/uuid"
	"github.com/tailored-agentic-units/warden/core/protocol"
)

type memorySession struct {
	id        string
	requester string
	window    int
	model     string
	round     int
	messages  []protocol.Message
	mu        sync.RWMutex
}

// NewMemorySession creates a Session backed by an in-memory slice holding at
// most window messages (0 keeps everything). The session is assigned a unique
// UUIDv7 identifier.
func NewMemorySession(requester string, window int) Session {
	return newMemorySession(uuid.Must(uuid.NewV7()).String(), requester, window)
}

func newMemorySession(id, requester string, window int) *memorySession {
	return &memorySession{id: id, requester: requester, window: window}
}

func (s *memorySession) ID() string {
	return s.id
}

func (s *memorySession) Requester() string {
	return s.requester
}

func (s *memorySession) AddMessage(msg protocol.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = append(s.messages, msg)
	s.trim()
}

func (s *memorySession) trim() {
	if s.window > 0 && len(s.messages) > s.window {
		s.messages = slices.Clone(s.messages[len(s.messages)-s.window:])
	}
	for len(s.messages) > 0 && s.messages[0].Role == protocol.RoleTool {
		s.messages = s.messages[1:]
	}
}

func (s *memorySession) Messages() []protocol.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()

	copied := make([]protocol.Message, len(s.messages))
	for i, msg := range s.messages {
		copied[i] = msg
		copied[i].ToolCalls = slices.Clone(msg.ToolCalls)
	}
	return copied
}

func (s *memorySession) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = nil
}

func (s *memorySession) Model() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.model
}

func (s *memorySession) SetModel(model string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.model = model
}

func (s *memorySession) Round() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.round
}

func (s *memorySession) NextRound() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.round++
	return s.round
}

func (s *memorySession) ResetRounds() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.round = 0
}
