package agent

import (
	"strings"
	"sync"
)

// DefaultSessionCapacity bounds how many messages a session retains before
// the oldest are dropped.
const DefaultSessionCapacity = 100

// summaryPrefix leads the system message inserted by ReplaceWithSummary and
// CompactWithSummary.
const summaryPrefix = "Previous conversation summary: "

// Session is the bounded, ordered conversation state for one logical chat.
//
// The pinned system prompt is kept outside the message sequence: it is
// prepended on API egress by ForAPI, is never counted against the capacity,
// and is never dropped by trimming. All mutations go through the executor
// during a turn; the mutex makes snapshot reads from RPC handlers safe.
type Session struct {
	mu       sync.RWMutex
	system   string
	messages []Message
	capacity int
}

// NewSession creates a session with the given capacity. Non-positive
// capacities fall back to DefaultSessionCapacity.
func NewSession(capacity int) *Session {
	if capacity <= 0 {
		capacity = DefaultSessionCapacity
	}
	return &Session{capacity: capacity}
}

// SetSystemPrompt pins the system prompt. An empty string unpins it.
func (s *Session) SetSystemPrompt(prompt string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.system = prompt
}

// SystemPrompt returns the pinned system prompt, if any.
func (s *Session) SystemPrompt() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.system
}

// AddUser appends a user message.
func (s *Session) AddUser(content string) {
	s.AddMessage(UserMessage(content))
}

// AddAssistant appends an assistant message.
func (s *Session) AddAssistant(content string) {
	s.AddMessage(AssistantMessage(content))
}

// AddMessage appends a message, dropping the oldest entries when the
// capacity would be exceeded.
func (s *Session) AddMessage(msg Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = append(s.messages, msg)
	if over := len(s.messages) - s.capacity; over > 0 {
		s.messages = append(s.messages[:0], s.messages[over:]...)
	}
}

// Clear drops all messages. The pinned system prompt survives.
func (s *Session) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = nil
}

// ReplaceWithSummary discards the whole conversation and inserts a single
// system message carrying the summary.
func (s *Session) ReplaceWithSummary(summary string) {
	s.CompactWithSummary(summary, 0)
}

// CompactWithSummary replaces everything except the keepRecent most recent
// messages with one summary system message. keepRecent <= 0 keeps nothing.
func (s *Session) CompactWithSummary(summary string, keepRecent int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var recent []Message
	if keepRecent > 0 && keepRecent < len(s.messages) {
		recent = append(recent, s.messages[len(s.messages)-keepRecent:]...)
	} else if keepRecent >= len(s.messages) {
		recent = append(recent, s.messages...)
	}

	s.messages = append([]Message{SystemMessage(summaryPrefix + summary)}, recent...)
	if over := len(s.messages) - s.capacity; over > 0 {
		s.messages = append(s.messages[:0], s.messages[over:]...)
	}
}

// MessageCount reports the number of stored messages, excluding the pinned
// system prompt.
func (s *Session) MessageCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.messages)
}

// CharCount reports the total content length of the stored messages, used
// by the history manager's summarization trigger.
func (s *Session) CharCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	total := 0
	for _, m := range s.messages {
		total += len(m.Content)
	}
	return total
}

// Messages returns a copy of the stored message sequence.
func (s *Session) Messages() []Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Message, len(s.messages))
	copy(out, s.messages)
	return out
}

// ForAPI returns the egress sequence: the pinned system message (when set)
// followed by the stored messages.
func (s *Session) ForAPI() []Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Message, 0, len(s.messages)+1)
	if s.system != "" {
		out = append(out, SystemMessage(s.system))
	}
	out = append(out, s.messages...)
	return out
}

// Transcript renders the stored messages as "role: content" lines. Used to
// build summarization prompts.
func (s *Session) Transcript(from, to int) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if from < 0 {
		from = 0
	}
	if to > len(s.messages) {
		to = len(s.messages)
	}
	var b strings.Builder
	for _, m := range s.messages[from:to] {
		b.WriteString(m.Role)
		b.WriteString(": ")
		b.WriteString(m.Content)
		b.WriteString("\n")
	}
	return b.String()
}
