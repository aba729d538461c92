package server

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/teranos/tren/job"
	"github.com/teranos/tren/logger"
	"github.com/teranos/tren/version"
)

// WebSocket timeouts following the gorilla chat example
const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 54 * time.Second // must be less than pongWait
	maxMessageSize = 512              // clients only send control frames
)

// Client is one /ws/jobs connection. With a job filter it only receives
// updates for that job.
type Client struct {
	server    *Server
	conn      *websocket.Conn
	send      chan []byte
	jobID     string
	closeOnce sync.Once
}

// HandleJobsWebSocket upgrades to a websocket streaming job updates.
//
//	GET /ws/jobs?job=<id>
func (s *Server) HandleJobsWebSocket(w http.ResponseWriter, r *http.Request) {
	jobID := r.URL.Query().Get("job")
	var current *job.Job
	if jobID != "" {
		j, err := s.queue.GetJob(r.Context(), jobID)
		if err != nil {
			s.writeServiceError(w, r, err)
			return
		}
		current = j
	}

	if s.ClientCount() >= MaxClients {
		writeError(w, http.StatusServiceUnavailable, "too many websocket clients")
		return
	}

	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 4096,
		CheckOrigin:     s.checkOrigin,
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the HTTP error
		s.logger.Debugw("WebSocket upgrade failed", "error", err)
		return
	}

	c := &Client{
		server: s,
		conn:   conn,
		send:   make(chan []byte, clientSendBuffer),
		jobID:  jobID,
	}
	c.enqueue(JobMessage{Type: "hello", Version: versionString()})
	if current != nil {
		c.enqueue(JobMessage{Type: "job_update", Job: current})
	}

	if !s.register(c) {
		conn.Close()
		return
	}

	s.wg.Add(2)
	go func() {
		defer s.wg.Done()
		c.writePump()
	}()
	go func() {
		defer s.wg.Done()
		c.readPump()
	}()
}

func (s *Server) register(c *Client) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.getState() != ServerStateRunning {
		return false
	}
	s.clients[c] = struct{}{}
	s.logger.Debugw("WebSocket client connected", logger.FieldJobID, c.jobID, "total_clients", len(s.clients))
	return true
}

// unregister removes c and closes its send channel. The broadcaster only
// sends under the read lock, so the channel is never written after close.
func (s *Server) unregister(c *Client) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.clients[c]; !ok {
		return
	}
	delete(s.clients, c)
	c.closeOnce.Do(func() { close(c.send) })
	s.logger.Debugw("WebSocket client disconnected", "total_clients", len(s.clients))
}

// broadcastUpdates forwards every queue update to interested clients
func (s *Server) broadcastUpdates() {
	for {
		select {
		case <-s.ctx.Done():
			return
		case j, ok := <-s.updates:
			if !ok {
				return
			}
			s.broadcast(j)
		}
	}
}

func (s *Server) broadcast(j *job.Job) {
	data, err := json.Marshal(JobMessage{Type: "job_update", Job: j})
	if err != nil {
		s.logger.Warnw("Failed to encode job update", logger.FieldJobID, j.ID, "error", err)
		return
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	for c := range s.clients {
		if c.jobID != "" && c.jobID != j.ID {
			continue
		}
		select {
		case c.send <- data:
		default:
			s.broadcastDrops.Add(1)
			s.logger.Debugw("Client send buffer full, dropping update", logger.FieldJobID, j.ID)
		}
	}
}

// enqueue is used before the client is registered, while nothing else
// writes to send
func (c *Client) enqueue(msg JobMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	select {
	case c.send <- data:
	default:
	}
}

// readPump discards client frames and keeps the read deadline moving
func (c *Client) readPump() {
	defer func() {
		c.server.unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseGoingAway,
				websocket.CloseNormalClosure,
				websocket.CloseAbnormalClosure,
				websocket.CloseNoStatusReceived,
			) {
				c.server.logger.Warnw("WebSocket read error", "error", err)
			}
			return
		}
	}
}

// writePump sends queued updates and pings
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case <-c.server.ctx.Done():
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"))
			return
		case data, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				c.server.logger.Debugw("WebSocket write error", "error", err)
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func versionString() string {
	return version.Get().Short()
}
