package observer

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/battysh/batty/internal/common/logger"
)

// Server exposes the dashboard's websocket and status endpoints over
// HTTP. It never blocks a supervision loop: once started it only reads
// from the Hub and the execution log.
type Server struct {
	hub     *Hub
	handler *Handler
	addr    string
	httpSrv *http.Server
	logger  *logger.Logger
}

// NewServer builds a Server bound to addr. Call Start to begin serving.
func NewServer(addr string, log *logger.Logger) *Server {
	if log == nil {
		log = logger.Default()
	}
	hub := NewHub(log)
	return &Server{
		hub:     hub,
		handler: NewHandler(hub, log),
		addr:    addr,
		logger:  log.WithFields(zap.String("component", "observer_server")),
	}
}

// Hub returns the server's broadcast hub, so callers can register a
// Tailer or a BridgeObserver against it.
func (s *Server) Hub() *Hub { return s.hub }

func (s *Server) router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/ws", s.handler.HandleConnection)
	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "clients": s.hub.ClientCount()})
	})

	return router
}

// Start runs the hub loop and the HTTP server in background goroutines
// and returns immediately. Call Shutdown to stop both.
func (s *Server) Start(ctx context.Context) {
	go s.hub.Run(ctx)

	s.httpSrv = &http.Server{
		Addr:    s.addr,
		Handler: s.router(),
	}

	go func() {
		s.logger.Info("observer dashboard listening", zap.String("addr", s.addr))
		if err := s.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("observer server stopped unexpectedly", zap.Error(err))
		}
	}()
}

// Shutdown gracefully stops the HTTP server with a bounded timeout.
func (s *Server) Shutdown() error {
	if s.httpSrv == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.httpSrv.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shut down observer server: %w", err)
	}
	return nil
}
