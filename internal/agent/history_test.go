package agent

import (
	"fmt"
	"strings"
	"testing"
)

func TestShouldSummarizeThresholds(t *testing.T) {
	manager := NewHistoryManager(&scriptedBackend{}, &HistoryConfig{
		MaxMessages: 4,
		MaxChars:    100,
		KeepRecent:  2,
	})

	session := NewSession(0)
	for i := 0; i < 3; i++ {
		session.AddUser("short")
	}
	if manager.ShouldSummarize(session) {
		t.Error("session under both thresholds reported eligible")
	}

	session.AddUser(strings.Repeat("x", 200))
	if !manager.ShouldSummarize(session) {
		t.Error("session over the char threshold not reported eligible")
	}

	crowded := NewSession(0)
	for i := 0; i < 5; i++ {
		crowded.AddUser("m")
	}
	if !manager.ShouldSummarize(crowded) {
		t.Error("session over the message threshold not reported eligible")
	}
}

func TestSummarizeCompactsSession(t *testing.T) {
	backend := &scriptedBackend{script: []CompletionResponse{{Content: "compact summary"}}}
	manager := NewHistoryManager(backend, &HistoryConfig{
		MaxMessages: 4,
		MaxChars:    1000,
		KeepRecent:  2,
	})

	session := NewSession(0)
	session.SetSystemPrompt("be helpful")
	for i := 1; i <= 6; i++ {
		session.AddUser(fmt.Sprintf("message %d", i))
	}

	if err := manager.Summarize(t.Context(), session); err != nil {
		t.Fatalf("Summarize: %v", err)
	}

	msgs := session.Messages()
	if len(msgs) != 3 {
		t.Fatalf("session has %d messages, want 3", len(msgs))
	}
	if msgs[0].Role != RoleSystem || msgs[0].Content != "Previous conversation summary: compact summary" {
		t.Errorf("messages[0] = %+v", msgs[0])
	}
	if msgs[1].Content != "message 5" || msgs[2].Content != "message 6" {
		t.Errorf("recent messages not kept verbatim: %+v", msgs[1:])
	}
	if session.SystemPrompt() != "be helpful" {
		t.Errorf("pinned system prompt changed: %q", session.SystemPrompt())
	}

	reqs := backend.requests()
	if len(reqs) != 1 {
		t.Fatalf("provider called %d times, want 1", len(reqs))
	}
	transcript := reqs[0].messages[1].Content
	if !strings.Contains(transcript, "message 1") || !strings.Contains(transcript, "message 4") {
		t.Errorf("transcript missing old messages: %q", transcript)
	}
	if strings.Contains(transcript, "message 5") {
		t.Errorf("transcript includes a kept message: %q", transcript)
	}
}

func TestSummarizeShortSessionIsNoop(t *testing.T) {
	backend := &scriptedBackend{}
	manager := NewHistoryManager(backend, &HistoryConfig{
		MaxMessages: 4,
		MaxChars:    100,
		KeepRecent:  10,
	})

	session := NewSession(0)
	session.AddUser("one")
	session.AddAssistant("two")

	if err := manager.Summarize(t.Context(), session); err != nil {
		t.Fatalf("Summarize: %v", err)
	}
	if len(backend.requests()) != 0 {
		t.Error("short session still reached the provider")
	}
	if session.MessageCount() != 2 {
		t.Errorf("message count = %d, want 2", session.MessageCount())
	}
}
