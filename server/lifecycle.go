package server

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/teranos/tren/errors"
	"github.com/teranos/tren/logger"
)

// ListenAndServe serves the API on port until Shutdown is called
func (s *Server) ListenAndServe(port int) error {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return errors.Wrapf(err, "failed to listen on port %d", port)
	}
	return s.Serve(ln)
}

// Serve serves the API on ln until Shutdown is called
func (s *Server) Serve(ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	s.mu.Lock()
	if s.getState() != ServerStateRunning {
		s.mu.Unlock()
		ln.Close()
		return nil
	}
	s.httpServer = srv
	s.mu.Unlock()

	s.logger.Infow("HTTP server listening", logger.FieldAddress, ln.Addr().String())
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Wrap(err, "http server failed")
	}
	return nil
}

// Shutdown stops accepting requests, closes websocket clients and waits
// for the broadcaster to exit
func (s *Server) Shutdown(ctx context.Context) error {
	var shutdownErr error
	s.shutdownOnce.Do(func() {
		s.logger.Infow("Initiating server shutdown")
		s.setState(ServerStateDraining)

		s.mu.RLock()
		httpServer := s.httpServer
		s.mu.RUnlock()
		if httpServer != nil {
			if err := httpServer.Shutdown(ctx); err != nil {
				shutdownErr = errors.Wrap(err, "http server shutdown")
			}
		}

		s.queue.Unsubscribe(s.updates)

		s.mu.Lock()
		clients := make([]*Client, 0, len(s.clients))
		for c := range s.clients {
			clients = append(clients, c)
		}
		s.mu.Unlock()

		// writePump sends a close frame on cancel; closing the
		// connection unblocks readPump
		s.cancel()
		for _, c := range clients {
			c.conn.Close()
		}

		done := make(chan struct{})
		go func() {
			s.wg.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-time.After(ShutdownTimeout):
			s.logger.Warnw("Goroutine shutdown timed out", "timeout", ShutdownTimeout)
		}

		s.setState(ServerStateStopped)
		s.logger.Infow("Server shutdown complete", "broadcast_drops", s.broadcastDrops.Load())
	})
	return shutdownErr
}
