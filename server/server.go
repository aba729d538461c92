// Package server is tren's HTTP API: job submission and inspection, model
// registration, and a websocket stream of job updates.
package server

import (
	"context"
	"net/http"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/teranos/tren/ai/tracker"
	"github.com/teranos/tren/auth"
	"github.com/teranos/tren/job"
	"github.com/teranos/tren/pulse/async"
	"github.com/teranos/tren/storage"
	"github.com/teranos/tren/translate"
)

// Deps are the services the API exposes
type Deps struct {
	Queue          *async.Queue
	Models         *job.ModelStore
	Blobs          *storage.Local
	Pool           *async.WorkerPool          // nil on submit-only nodes
	Usage          *tracker.UsageTracker      // nil disables usage in job details
	Auth           *auth.TokenManager         // nil or disabled leaves the API open
	Chunkers       *translate.ChunkerRegistry // nil skips the submit-time type warning
	AllowedOrigins []string
}

// Server serves the API and fans queue updates out to websocket clients
type Server struct {
	queue          *async.Queue
	models         *job.ModelStore
	blobs          *storage.Local
	pool           *async.WorkerPool
	usage          *tracker.UsageTracker
	allowedOrigins []string
	chunkers       *translate.ChunkerRegistry
	auth           *auth.Middleware
	logger         *zap.SugaredLogger

	mu      sync.RWMutex
	clients map[*Client]struct{}
	updates chan *job.Job // queue subscription

	httpServer *http.Server

	ctx            context.Context
	cancel         context.CancelFunc
	wg             sync.WaitGroup
	broadcastDrops atomic.Int64
	state          atomic.Int32
	shutdownOnce   sync.Once
}

// New creates a Server and starts its broadcaster. Call Shutdown to stop it.
func New(deps Deps, logger *zap.SugaredLogger) *Server {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	ctx, cancel := context.WithCancel(context.Background())

	s := &Server{
		queue:          deps.Queue,
		models:         deps.Models,
		blobs:          deps.Blobs,
		pool:           deps.Pool,
		usage:          deps.Usage,
		allowedOrigins: deps.AllowedOrigins,
		chunkers:       deps.Chunkers,
		auth:           auth.NewMiddleware(deps.Auth, logger.Named("auth")),
		logger:         logger.Named("server"),
		clients:        make(map[*Client]struct{}),
		updates:        deps.Queue.Subscribe(),
		ctx:            ctx,
		cancel:         cancel,
	}
	s.state.Store(int32(ServerStateRunning))

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.broadcastUpdates()
	}()

	return s
}

func (s *Server) getState() ServerState {
	return ServerState(s.state.Load())
}

func (s *Server) setState(st ServerState) {
	s.state.Store(int32(st))
	s.logger.Infow("Server state changed", "new_state", st.String())
}

// ClientCount returns the number of connected websocket clients
func (s *Server) ClientCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.clients)
}

// BroadcastDrops returns how many updates were dropped for slow clients
func (s *Server) BroadcastDrops() int64 {
	return s.broadcastDrops.Load()
}
