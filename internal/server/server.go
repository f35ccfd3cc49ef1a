// Package server exposes the vault lifecycle over HTTP and serves the gRPC
// health endpoint.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/alfredjeanlab/splitvault/internal/lifecycle"
	"github.com/alfredjeanlab/splitvault/internal/model"
	"github.com/alfredjeanlab/splitvault/internal/swap"
	"github.com/alfredjeanlab/splitvault/internal/sweeper"
)

// Sweeper runs one expiry pass on demand.
type Sweeper interface {
	SweepOnce(ctx context.Context, now time.Time) sweeper.Report
}

// Server implements the HTTP API on top of a lifecycle service.
type Server struct {
	lifecycle *lifecycle.Service
	sweeper   Sweeper
	hub       *sseHub
	now       func() time.Time
}

// New returns a Server. broadcaster must be the publisher the lifecycle
// service was built with for the event stream to carry lifecycle events;
// nil gives the server a private, silent stream. sw may be nil, in which case
// POST /v1/sweep is refused.
func New(lc *lifecycle.Service, sw Sweeper, broadcaster *Broadcaster) *Server {
	if broadcaster == nil {
		broadcaster = NewBroadcaster(nil)
	}
	return &Server{
		lifecycle: lc,
		sweeper:   sw,
		hub:       broadcaster.hub,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// inputError indicates malformed request input.
// Transport layers map this to 400 / InvalidArgument.
type inputError string

func (e inputError) Error() string { return string(e) }

// statusFor maps a lifecycle error onto an HTTP status.
func statusFor(err error) int {
	var (
		ie inputError
		ve *model.ValidationError
		te *model.TransitionError
		ue *model.UnauthorizedHolderError
		pe *swap.ProviderError
	)
	switch {
	case errors.As(err, &ie), errors.As(err, &ve):
		return http.StatusBadRequest
	case errors.As(err, &ue):
		return http.StatusForbidden
	case errors.Is(err, model.ErrNotFound), errors.Is(err, swap.ErrShiftNotFound):
		return http.StatusNotFound
	case errors.As(err, &te),
		errors.Is(err, model.ErrExpiryRace),
		errors.Is(err, lifecycle.ErrNoRefundDestination):
		return http.StatusConflict
	case errors.As(err, &pe):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// writeServiceError writes err with the status statusFor picks. Internal
// errors are logged and answered with a generic message.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	code := statusFor(err)
	if code == http.StatusInternalServerError {
		slog.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		writeError(w, code, "internal error")
		return
	}
	writeError(w, code, err.Error())
}
