package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/snapbooth/photobooth-agent/internal/artifacts"
	"github.com/snapbooth/photobooth-agent/internal/booth"
	"github.com/snapbooth/photobooth-agent/internal/cloud"
	"github.com/snapbooth/photobooth-agent/internal/compose"
	"github.com/snapbooth/photobooth-agent/internal/history"
	"github.com/snapbooth/photobooth-agent/internal/logging"
	"github.com/snapbooth/photobooth-agent/internal/media"
	"github.com/snapbooth/photobooth-agent/internal/signal"
)

type Server struct {
	httpServer *http.Server
	preview    *previewer
	logger     *slog.Logger
}

type ServerConfig struct {
	Host            string
	Port            int
	Machine         *booth.Machine
	Strip           *compose.StripCompositor
	Artifacts       *artifacts.Server
	History         history.Repository
	Cloud           cloud.Client
	Hub             *signal.Hub
	Doctor          *media.Doctor
	AllowedOrigins  []string
	HistoryLimit    int
	PreviewDebounce time.Duration
	Logger          *slog.Logger
	StartTime       time.Time
	DeviceID        string
	BoothID         string
	Version         string
}

func NewServer(cfg ServerConfig) *Server {
	cfg.Logger = logging.WithComponent(logging.OrDiscard(cfg.Logger), "api")
	host := cfg.Host
	if host == "" {
		host = "127.0.0.1"
	}
	preview := newPreviewer(cfg.Strip, cfg.PreviewDebounce, cfg.Logger)
	if cfg.Machine != nil {
		cfg.Machine.OnChange(preview.observe)
	}
	router := newRouter(cfg, preview)

	return &Server{
		httpServer: &http.Server{
			Addr:              fmt.Sprintf("%s:%d", host, cfg.Port),
			Handler:           router,
			ReadHeaderTimeout: 10 * time.Second,
			ReadTimeout:       60 * time.Second,
			WriteTimeout:      0,
			IdleTimeout:       60 * time.Second,
		},
		preview: preview,
		logger:  cfg.Logger,
	}
}

func (s *Server) Start() error {
	s.logger.Info("starting HTTP server", "addr", s.httpServer.Addr)
	err := s.httpServer.ListenAndServe()
	if err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")
	s.preview.stop()
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) Addr() string {
	return s.httpServer.Addr
}

func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}
