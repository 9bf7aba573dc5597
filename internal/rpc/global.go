package rpc

import "sync/atomic"

// defaultServer is the process-wide server reference. Leaf components
// that cannot receive the server through their constructors fall back
// to it for progress publishing. It is set exactly once at startup.
var defaultServer atomic.Pointer[Server]

// SetDefault installs the process-wide server. It reports false if a
// server was already installed; the original keeps serving.
func SetDefault(s *Server) bool {
	return defaultServer.CompareAndSwap(nil, s)
}

// Default returns the process-wide server, or nil before SetDefault.
// Safe for concurrent readers.
func Default() *Server {
	return defaultServer.Load()
}
