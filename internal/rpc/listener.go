package rpc

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"sync"
)

// Listener serves the line protocol over TCP, building one Server per
// connection. The attach callback registers methods on each new
// server, so connected clients share the same engine state while
// holding independent subscription sets.
type Listener struct {
	attach func(*Server)
	logger *slog.Logger
}

// NewListener creates a listener. attach is called once per accepted
// connection with that connection's server.
func NewListener(attach func(*Server)) *Listener {
	return &Listener{
		attach: attach,
		logger: slog.Default().With("component", "rpc"),
	}
}

// SetLogger overrides the default logger.
func (l *Listener) SetLogger(logger *slog.Logger) {
	if logger != nil {
		l.logger = logger.With("component", "rpc")
	}
}

// Serve accepts connections until the context is cancelled. It returns
// nil on cancellation and the accept error otherwise.
func (l *Listener) Serve(ctx context.Context, ln net.Listener) error {
	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}
		l.logger.Info("client connected", "remote", conn.RemoteAddr().String())

		wg.Add(1)
		go func() {
			defer wg.Done()
			defer conn.Close()

			server := NewServer(conn, conn)
			server.SetLogger(l.logger)
			l.attach(server)
			if err := server.Serve(ctx); err != nil && ctx.Err() == nil {
				l.logger.Warn("connection closed with error",
					"remote", conn.RemoteAddr().String(), "error", err)
			}
		}()
	}
}
