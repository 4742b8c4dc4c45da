// Package server exposes the local HTTP surface the UI shell talks to:
// event and venue reads against the cache, write-through mutations that
// land in the sync queue, sync controls and a WebSocket push channel.
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/matchlog/matchlog-go/internal/cache"
	"github.com/matchlog/matchlog-go/internal/queue"
	"github.com/matchlog/matchlog-go/internal/sync/scheduler"
)

// Server carries the handler dependencies and the embedded http.Server.
type Server struct {
	cache   *cache.Cache
	queue   *queue.Manager
	sched   *scheduler.Scheduler
	metrics *Metrics
	hub     *Hub
	log     *zap.Logger

	httpServer *http.Server
	watchDone  chan struct{}
}

// New wires a Server. The scheduler is optional in tests; handlers that
// need it report an error when it is absent.
func New(addr string, c *cache.Cache, q *queue.Manager, s *scheduler.Scheduler, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	srv := &Server{
		cache:     c,
		queue:     q,
		sched:     s,
		metrics:   NewMetrics(),
		hub:       NewHub(log),
		log:       log,
		watchDone: make(chan struct{}),
	}
	srv.httpServer = &http.Server{
		Addr:              addr,
		Handler:           srv.Routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return srv
}

// Routes builds the chi router.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", s.handleHealth)

		r.Route("/events", func(r chi.Router) {
			r.Get("/", s.handleListEvents)
			r.Post("/", s.handleCreateEvent)
			r.Get("/{id}", s.handleGetEvent)
			r.Put("/{id}", s.handleUpdateEvent)
			r.Delete("/{id}", s.handleDeleteEvent)
		})

		r.Route("/venues", func(r chi.Router) {
			r.Get("/", s.handleSearchVenues)
			r.Get("/{id}", s.handleGetVenue)
		})

		r.Route("/sync", func(r chi.Router) {
			r.Get("/status", s.handleSyncStatus)
			r.Post("/run", s.handleSyncRun)
			r.Delete("/queue", s.handleSyncQueueClear)
		})
	})

	r.Get("/ws", s.hub.handleWebSocket)
	r.Method(http.MethodGet, "/metrics", s.metrics.Handler())

	return r
}

// Start begins serving and consuming scheduler results. Blocks until the
// listener fails or Shutdown is called.
func (s *Server) Start() error {
	go s.watchRuns()
	s.log.Info("http server listening", zap.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown drains the listener and disconnects push clients.
func (s *Server) Shutdown(ctx context.Context) error {
	close(s.watchDone)
	s.hub.Close()
	return s.httpServer.Shutdown(ctx)
}

// watchRuns forwards drain outcomes to metrics and connected clients.
func (s *Server) watchRuns() {
	if s.sched == nil {
		return
	}
	for {
		select {
		case <-s.watchDone:
			return
		case run, ok := <-s.sched.Results():
			if !ok {
				return
			}
			s.metrics.ObserveRun(run.Result.Success, run.Result.Failed, run.Duration.Seconds())
			s.refreshPending()

			if run.Err != nil {
				s.hub.Broadcast(EventSyncFailed, map[string]interface{}{
					"error":   run.Err.Error(),
					"success": run.Result.Success,
					"failed":  run.Result.Failed,
				})
				continue
			}
			s.hub.Broadcast(EventSyncCompleted, map[string]interface{}{
				"success": run.Result.Success,
				"failed":  run.Result.Failed,
			})
		}
	}
}

// refreshPending republishes the queue depth to the gauge and the socket.
func (s *Server) refreshPending() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	n, err := s.queue.Count(ctx)
	if err != nil {
		s.log.Error("failed to count pending mutations", zap.Error(err))
		return
	}
	s.metrics.SetPending(n)
	s.hub.Broadcast(EventQueueChanged, map[string]interface{}{"pending": n})
}
