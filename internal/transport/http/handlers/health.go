package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/baechuer/urlmeta/internal/transport/http/response"
)

// ReadyChecker exposes the publisher's readiness flag.
type ReadyChecker interface {
	Ready() bool
}

// Pinger verifies the store connection.
type Pinger interface {
	Ping(ctx context.Context) error
}

type HealthHandler struct {
	pub         ReadyChecker
	store       Pinger
	pingTimeout time.Duration
	lg          zerolog.Logger
}

func NewHealthHandler(pub ReadyChecker, store Pinger, pingTimeout time.Duration, lg zerolog.Logger) *HealthHandler {
	return &HealthHandler{
		pub:         pub,
		store:       store,
		pingTimeout: pingTimeout,
		lg:          lg.With().Str("component", "health").Logger(),
	}
}

// Live always reports ok; it only proves the process is serving.
func (h *HealthHandler) Live(w http.ResponseWriter, _ *http.Request) {
	response.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Ready reports 200 only when the publisher is READY and the store answers a
// ping within the configured timeout.
func (h *HealthHandler) Ready(w http.ResponseWriter, r *http.Request) {
	if h.pub == nil || h.store == nil {
		h.lg.Warn().Str("reason", "components_not_initialized").Msg("readiness_failed")
		response.Text(w, http.StatusServiceUnavailable, "Not ready")
		return
	}
	if !h.pub.Ready() {
		h.lg.Warn().Str("reason", "publisher_not_ready").Msg("readiness_failed")
		response.Text(w, http.StatusServiceUnavailable, "Publisher not ready")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.pingTimeout)
	defer cancel()
	if err := h.store.Ping(ctx); err != nil {
		h.lg.Warn().Err(err).Str("reason", "db_not_ready").Msg("readiness_failed")
		response.Text(w, http.StatusServiceUnavailable, "Database not ready")
		return
	}

	response.Text(w, http.StatusOK, "OK")
}
