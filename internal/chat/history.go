package chat

import (
	"sync"

	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
)

// History encapsulates conversation history with thread-safe access.
// It keeps at most max messages, trimming oldest first while keeping
// the window aligned on a user message so the model API always sees a
// conversation that starts with a user turn.
//
// The zero value is NOT useful - use NewHistory() to create instances.
type History struct {
	mu       sync.RWMutex
	messages []types.Message
	max      int
}

// NewHistory creates a History bounded to max messages. A max of zero
// or less means unbounded.
func NewHistory(max int) *History {
	return &History{
		messages: make([]types.Message, 0),
		max:      max,
	}
}

// Add appends a message, trimming the oldest turns if the window is
// exceeded.
func (h *History) Add(msg types.Message) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.messages = append(h.messages, msg)
	if h.max <= 0 {
		return
	}
	for len(h.messages) > h.max {
		h.messages = h.messages[1:]
	}
	// Converse requires the first message to be a user turn.
	for len(h.messages) > 0 && h.messages[0].Role != types.ConversationRoleUser {
		h.messages = h.messages[1:]
	}
}

// Messages returns a copy of all messages for thread-safe access.
func (h *History) Messages() []types.Message {
	h.mu.RLock()
	defer h.mu.RUnlock()
	result := make([]types.Message, len(h.messages))
	copy(result, h.messages)
	return result
}

// Len returns the number of stored messages.
func (h *History) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.messages)
}

// Clear removes all messages.
func (h *History) Clear() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.messages = h.messages[:0]
}
