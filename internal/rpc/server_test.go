package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"
)

// serveLines runs the server over the given input lines and returns
// the decoded output messages in wire order.
func serveLines(t *testing.T, server *Server, out *bytes.Buffer) []map[string]any {
	t.Helper()
	if err := server.Serve(context.Background()); err != nil {
		t.Fatalf("Serve: %v", err)
	}
	var msgs []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(out.String()), "\n") {
		if line == "" {
			continue
		}
		var msg map[string]any
		if err := json.Unmarshal([]byte(line), &msg); err != nil {
			t.Fatalf("output line is not JSON: %q: %v", line, err)
		}
		msgs = append(msgs, msg)
	}
	return msgs
}

func newTestServer(input string) (*Server, *bytes.Buffer) {
	out := &bytes.Buffer{}
	return NewServer(strings.NewReader(input), out), out
}

func TestServeRespondsToPing(t *testing.T) {
	server, out := newTestServer(`{"jsonrpc":"2.0","id":1,"method":"ping"}` + "\n")
	msgs := serveLines(t, server, out)
	if len(msgs) != 1 {
		t.Fatalf("expected 1 response, got %d", len(msgs))
	}
	if msgs[0]["result"] != "pong" {
		t.Errorf("result = %v", msgs[0]["result"])
	}
	if msgs[0]["id"] != float64(1) {
		t.Errorf("id = %v", msgs[0]["id"])
	}
}

func TestServeParseError(t *testing.T) {
	server, out := newTestServer("{not json}\n")
	msgs := serveLines(t, server, out)
	if len(msgs) != 1 {
		t.Fatalf("expected 1 response, got %d", len(msgs))
	}
	errObj, ok := msgs[0]["error"].(map[string]any)
	if !ok {
		t.Fatalf("expected error response, got %v", msgs[0])
	}
	if errObj["code"] != float64(ErrCodeParseError) {
		t.Errorf("code = %v, want %d", errObj["code"], ErrCodeParseError)
	}
}

func TestServeMethodNotFound(t *testing.T) {
	server, out := newTestServer(`{"jsonrpc":"2.0","id":7,"method":"no_such_method"}` + "\n")
	msgs := serveLines(t, server, out)
	errObj, ok := msgs[0]["error"].(map[string]any)
	if !ok {
		t.Fatalf("expected error response, got %v", msgs[0])
	}
	if errObj["code"] != float64(ErrCodeMethodNotFound) {
		t.Errorf("code = %v, want %d", errObj["code"], ErrCodeMethodNotFound)
	}
}

func TestServeHandlerError(t *testing.T) {
	server, out := newTestServer(`{"jsonrpc":"2.0","id":2,"method":"boom"}` + "\n")
	server.Register("boom", func(context.Context, json.RawMessage) (any, error) {
		return nil, context.DeadlineExceeded
	})
	msgs := serveLines(t, server, out)
	errObj, ok := msgs[0]["error"].(map[string]any)
	if !ok {
		t.Fatalf("expected error response, got %v", msgs[0])
	}
	if errObj["code"] != float64(ErrCodeInternalError) {
		t.Errorf("code = %v, want %d", errObj["code"], ErrCodeInternalError)
	}
}

func TestSubscribeFilterAndOrdering(t *testing.T) {
	input := strings.Join([]string{
		`{"jsonrpc":"2.0","id":1,"method":"subscribe","params":{"event_type":"processing"}}`,
		`{"jsonrpc":"2.0","id":2,"method":"work"}`,
	}, "\n") + "\n"
	server, out := newTestServer(input)
	server.Register("work", func(context.Context, json.RawMessage) (any, error) {
		server.Publish("processing", map[string]string{"message": "step 1"})
		server.Publish("ignored_event", map[string]string{"message": "dropped"})
		return "done", nil
	})

	msgs := serveLines(t, server, out)
	if len(msgs) != 3 {
		t.Fatalf("expected 3 wire messages, got %d: %v", len(msgs), msgs)
	}

	// subscribe response, then the notification, then the work response.
	if _, ok := msgs[0]["result"]; !ok {
		t.Errorf("first message should be the subscribe response: %v", msgs[0])
	}
	if msgs[1]["method"] != "processing" {
		t.Errorf("notification should precede the response: %v", msgs[1])
	}
	if msgs[2]["result"] != "done" {
		t.Errorf("last message should be the work response: %v", msgs[2])
	}

	// The unsubscribed event never hit the wire.
	for _, m := range msgs {
		if m["method"] == "ignored_event" {
			t.Error("unsubscribed event was serialized")
		}
	}
}

func TestUnsubscribe(t *testing.T) {
	server, _ := newTestServer("")
	id := server.Subscribe("task_updated")
	if !server.Unsubscribe("task_updated", id) {
		t.Error("unsubscribe should report true for a live subscription")
	}
	if server.Unsubscribe("task_updated", id) {
		t.Error("double unsubscribe should report false")
	}
	if server.Unsubscribe("never_subscribed", 99) {
		t.Error("unknown event type should report false")
	}
}

func TestPublishWithoutSubscribersDrops(t *testing.T) {
	server, out := newTestServer("")
	server.Publish("task_started", map[string]string{"id": "t1"})
	if out.Len() != 0 {
		t.Errorf("expected no output, got %q", out.String())
	}
}

func TestNotificationRequestGetsNoResponse(t *testing.T) {
	server, out := newTestServer(`{"jsonrpc":"2.0","method":"ping"}` + "\n")
	msgs := serveLines(t, server, out)
	if len(msgs) != 0 {
		t.Errorf("client notifications must not be answered, got %v", msgs)
	}
}

func TestSetDefault(t *testing.T) {
	// The global is process-wide; this test claims it first.
	server, _ := newTestServer("")
	first := SetDefault(server)
	other, _ := newTestServer("")
	second := SetDefault(other)
	if first {
		if second {
			t.Error("second SetDefault should be rejected")
		}
		if Default() != server {
			t.Error("Default should return the first server")
		}
	} else if Default() == nil {
		t.Error("Default should not be nil after SetDefault")
	}
}

func TestPublishConcurrentKeepsLinesWhole(t *testing.T) {
	server, out := newTestServer("")
	server.Subscribe("burst")

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for j := 0; j < 25; j++ {
				server.Publish("burst", map[string]int{"worker": n, "seq": j})
			}
		}(i)
	}
	wg.Wait()

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	if len(lines) != 500 {
		t.Fatalf("got %d lines, want 500", len(lines))
	}
	for _, line := range lines {
		var n Notification
		if err := json.Unmarshal([]byte(line), &n); err != nil {
			t.Fatalf("interleaved write produced bad line %q: %v", line, err)
		}
		if n.Method != "burst" {
			t.Errorf("method = %q", n.Method)
		}
	}
}
