package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/AlexTLDR/evite-checkin/internal/config"
	"github.com/AlexTLDR/evite-checkin/internal/database"
	"github.com/AlexTLDR/evite-checkin/internal/qrcode"
	"github.com/AlexTLDR/evite-checkin/internal/redemption"
	"github.com/AlexTLDR/evite-checkin/internal/rsvp"
	"github.com/AlexTLDR/evite-checkin/internal/server/handlers"
)

type Server struct {
	config   *config.Config
	db       *database.DB
	codes    *qrcode.Engine
	workflow *rsvp.Workflow
	gateway  *redemption.Gateway
	log      logrus.FieldLogger
	router   *http.ServeMux
}

// GetDB implements handlers.Server interface
func (s *Server) GetDB() *database.DB {
	return s.db
}

// GetConfig implements handlers.Server interface
func (s *Server) GetConfig() *config.Config {
	return s.config
}

func (s *Server) GetCodes() *qrcode.Engine {
	return s.codes
}

func (s *Server) GetWorkflow() *rsvp.Workflow {
	return s.workflow
}

func (s *Server) GetGateway() *redemption.Gateway {
	return s.gateway
}

func (s *Server) GetLogger() logrus.FieldLogger {
	return s.log
}

func New(cfg *config.Config, db *database.DB, codes *qrcode.Engine, workflow *rsvp.Workflow, gateway *redemption.Gateway, log logrus.FieldLogger) *Server {
	s := &Server{
		config:   cfg,
		db:       db,
		codes:    codes,
		workflow: workflow,
		gateway:  gateway,
		log:      log.WithField("component", "http"),
		router:   http.NewServeMux(),
	}

	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.HandleFunc("GET /healthz", handlers.HandleHealth(s))

	// Door
	s.router.HandleFunc("POST /api/events/{eventID}/checkin", handlers.HandleCheckIn(s))

	// Guest-facing
	s.router.HandleFunc("POST /api/events/{eventID}/rsvp", handlers.HandleRSVPSubmit(s))
	s.router.HandleFunc("POST /api/events/{eventID}/guests/{guestID}/opened", handlers.HandleMarkOpened(s))

	// Administration
	s.router.HandleFunc("POST /api/guests", handlers.HandleCreateGuest(s))
	s.router.HandleFunc("POST /api/events", handlers.HandleCreateEvent(s))
	s.router.HandleFunc("POST /api/events/{eventID}/members", handlers.HandleAddMembers(s))
	s.router.HandleFunc("POST /api/events/{eventID}/dispatch", handlers.HandleDispatch(s))
	s.router.HandleFunc("GET /api/events/{eventID}/guests/{guestID}/codes", handlers.HandleCodeHistory(s))
	s.router.HandleFunc("POST /api/events/{eventID}/guests/{guestID}/codes/reset", handlers.HandleResetCodes(s))
}

// Handler returns the router wrapped in the request middleware.
func (s *Server) Handler() http.Handler {
	return s.requestID(s.accessLog(s.router))
}

// Start serves on addr until ctx is cancelled, then drains in-flight requests.
func (s *Server) Start(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.WithField("addr", addr).Info("server listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.log.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
