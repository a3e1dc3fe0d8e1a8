package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/AlexTLDR/evite-checkin/internal/config"
	"github.com/AlexTLDR/evite-checkin/internal/database"
	"github.com/AlexTLDR/evite-checkin/internal/qrcode"
	"github.com/AlexTLDR/evite-checkin/internal/redemption"
	"github.com/AlexTLDR/evite-checkin/internal/rsvp"
)

// Server interface defines the methods needed by handlers
type Server interface {
	GetDB() *database.DB
	GetConfig() *config.Config
	GetCodes() *qrcode.Engine
	GetWorkflow() *rsvp.Workflow
	GetGateway() *redemption.Gateway
	GetLogger() logrus.FieldLogger
}

// HandleHealth reports whether the store answers.
func HandleHealth(s Server) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		if err := s.GetDB().PingContext(ctx); err != nil {
			s.GetLogger().WithError(err).Warn("health check failed")
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}
