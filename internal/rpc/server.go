package rpc

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sync"
)

// Handler processes one method call. The returned value is marshaled
// into the response result; a returned error becomes an RPC error. A
// handler returning a *Error keeps its code on the wire.
type Handler func(ctx context.Context, params json.RawMessage) (any, error)

// Server reads requests line-by-line from its input and dispatches
// them sequentially. Notifications posted through Publish while a
// request is being handled hit the wire before that request's
// response.
type Server struct {
	in     io.Reader
	logger *slog.Logger

	writeMu sync.Mutex
	out     io.Writer

	handlerMu sync.RWMutex
	handlers  map[string]Handler

	subMu  sync.Mutex
	subs   map[string]map[int64]struct{}
	nextID int64
}

// NewServer creates a server over the given streams. Callers register
// handlers before Serve.
func NewServer(in io.Reader, out io.Writer) *Server {
	s := &Server{
		in:       in,
		out:      out,
		logger:   slog.Default().With("component", "rpc"),
		handlers: make(map[string]Handler),
		subs:     make(map[string]map[int64]struct{}),
	}
	s.Register("subscribe", s.handleSubscribe)
	s.Register("unsubscribe", s.handleUnsubscribe)
	s.Register("ping", func(context.Context, json.RawMessage) (any, error) {
		return "pong", nil
	})
	return s
}

// SetLogger overrides the default logger.
func (s *Server) SetLogger(logger *slog.Logger) {
	if logger != nil {
		s.logger = logger.With("component", "rpc")
	}
}

// Register installs a handler for the method. Later registrations for
// the same name replace earlier ones.
func (s *Server) Register(method string, handler Handler) {
	s.handlerMu.Lock()
	defer s.handlerMu.Unlock()
	s.handlers[method] = handler
}

// Serve reads lines until EOF or context cancellation. Each line is
// one request; malformed lines answer with a parse error. Serve
// returns nil on EOF.
func (s *Server) Serve(ctx context.Context) error {
	scanner := bufio.NewScanner(s.in)
	scanner.Buffer(make([]byte, 1024*1024), 1024*1024) // 1MB buffer

	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		s.handleLine(ctx, line)
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read request: %w", err)
	}
	return nil
}

// handleLine parses and dispatches one request line.
func (s *Server) handleLine(ctx context.Context, line []byte) {
	var req Request
	if err := json.Unmarshal(line, &req); err != nil {
		s.logger.Warn("malformed request line", "error", err)
		s.respondError(nil, &Error{Code: ErrCodeParseError, Message: "parse error: " + err.Error()})
		return
	}
	if req.Method == "" {
		s.respondError(req.ID, &Error{Code: ErrCodeInvalidRequest, Message: "missing method"})
		return
	}

	s.handlerMu.RLock()
	handler, ok := s.handlers[req.Method]
	s.handlerMu.RUnlock()
	if !ok {
		s.respondError(req.ID, &Error{Code: ErrCodeMethodNotFound, Message: fmt.Sprintf("method not found: %s", req.Method)})
		return
	}

	result, err := handler(ctx, req.Params)

	// Requests without an id are notifications from the client; they
	// get no response either way.
	if req.ID == nil {
		if err != nil {
			s.logger.Warn("notification handler failed", "method", req.Method, "error", err)
		}
		return
	}

	if err != nil {
		if rpcErr, ok := err.(*Error); ok {
			s.respondError(req.ID, rpcErr)
		} else {
			s.respondError(req.ID, &Error{Code: ErrCodeInternalError, Message: err.Error()})
		}
		return
	}

	payload, err := json.Marshal(result)
	if err != nil {
		s.respondError(req.ID, &Error{Code: ErrCodeInternalError, Message: "marshal result: " + err.Error()})
		return
	}
	s.writeLine(Response{JSONRPC: "2.0", ID: req.ID, Result: payload})
}

func (s *Server) respondError(id any, rpcErr *Error) {
	s.writeLine(Response{JSONRPC: "2.0", ID: id, Error: rpcErr})
}

// writeLine serializes one message onto the wire. The mutex keeps
// responses and notifications from interleaving mid-line.
func (s *Server) writeLine(msg any) {
	data, err := json.Marshal(msg)
	if err != nil {
		s.logger.Error("marshal message", "error", err)
		return
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if _, err := s.out.Write(append(data, '\n')); err != nil {
		s.logger.Error("write message", "error", err)
	}
}

// Publish emits a notification when the method has at least one
// subscriber; otherwise the event is dropped.
func (s *Server) Publish(method string, params any) {
	s.subMu.Lock()
	_, wanted := s.subs[method]
	s.subMu.Unlock()
	if !wanted {
		return
	}

	payload, err := json.Marshal(params)
	if err != nil {
		s.logger.Error("marshal notification params", "method", method, "error", err)
		return
	}
	s.writeLine(Notification{JSONRPC: "2.0", Method: method, Params: payload})
}

// Subscribe registers interest in an event type and returns the
// subscription id.
func (s *Server) Subscribe(eventType string) int64 {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	s.nextID++
	id := s.nextID
	if s.subs[eventType] == nil {
		s.subs[eventType] = make(map[int64]struct{})
	}
	s.subs[eventType][id] = struct{}{}
	return id
}

// Unsubscribe removes a subscription. It reports whether the
// subscription existed.
func (s *Server) Unsubscribe(eventType string, id int64) bool {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	set, ok := s.subs[eventType]
	if !ok {
		return false
	}
	if _, ok := set[id]; !ok {
		return false
	}
	delete(set, id)
	if len(set) == 0 {
		delete(s.subs, eventType)
	}
	return true
}

type subscribeParams struct {
	EventType string `json:"event_type"`
}

type unsubscribeParams struct {
	EventType string `json:"event_type"`
	ID        int64  `json:"id"`
}

func (s *Server) handleSubscribe(_ context.Context, params json.RawMessage) (any, error) {
	var p subscribeParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, &Error{Code: ErrCodeInvalidParams, Message: "invalid params: " + err.Error()}
	}
	if p.EventType == "" {
		return nil, &Error{Code: ErrCodeInvalidParams, Message: "event_type is required"}
	}
	return s.Subscribe(p.EventType), nil
}

func (s *Server) handleUnsubscribe(_ context.Context, params json.RawMessage) (any, error) {
	var p unsubscribeParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, &Error{Code: ErrCodeInvalidParams, Message: "invalid params: " + err.Error()}
	}
	return s.Unsubscribe(p.EventType, p.ID), nil
}
