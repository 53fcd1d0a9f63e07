package status

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/chrissnell/snowrunner/pkg/responseformat"
	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

// Server exposes a Tracker at /status and a liveness probe at /healthz.
type Server struct {
	ctx       context.Context
	wg        *sync.WaitGroup
	Server    http.Server
	tracker   *Tracker
	formatter *responseformat.Formatter
	logger    *zap.SugaredLogger
}

// NewServer builds a status server listening on addr. It stops when ctx
// is cancelled.
func NewServer(ctx context.Context, wg *sync.WaitGroup, addr string, tracker *Tracker, logger *zap.SugaredLogger) *Server {
	if addr == "" {
		logger.Infof("status.listen_addr not provided; defaulting to 127.0.0.1:8090")
		addr = "127.0.0.1:8090"
	}
	s := &Server{
		ctx:       ctx,
		wg:        wg,
		tracker:   tracker,
		formatter: responseformat.NewFormatter(),
		logger:    logger,
	}
	s.Server.Addr = addr
	s.Server.Handler = s.Router()
	s.Server.ReadHeaderTimeout = 5 * time.Second
	return s
}

// Router returns the HTTP routes.
func (s *Server) Router() *mux.Router {
	router := mux.NewRouter()
	router.HandleFunc("/status", s.getStatus).Methods(http.MethodGet)
	router.HandleFunc("/healthz", s.getHealth).Methods(http.MethodGet)
	return router
}

// Start serves in the background until the context is cancelled.
func (s *Server) Start() {
	s.logger.Infof("starting status server on %s", s.Server.Addr)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.Server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			s.logger.Errorf("status server error: %v", err)
		}
	}()

	go func() {
		<-s.ctx.Done()
		s.logger.Infof("shutting down the status server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.Server.Shutdown(shutdownCtx)
	}()
}

func (s *Server) getStatus(w http.ResponseWriter, req *http.Request) {
	if err := s.formatter.WriteResponse(w, req, http.StatusOK, s.tracker.Snapshot()); err != nil {
		s.logger.Errorf("writing status response: %v", err)
	}
}

func (s *Server) getHealth(w http.ResponseWriter, req *http.Request) {
	p := s.tracker.Snapshot()
	if p.State == StateFailed {
		s.formatter.WriteError(w, req, http.StatusServiceUnavailable, p.Error)
		return
	}
	s.formatter.WriteResponse(w, req, http.StatusOK, map[string]string{"state": p.State})
}
