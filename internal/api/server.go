// Package api is a thin HTTP front end over the process controller.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"time"

	"codeberg.org/dltlab/dltcal/internal/device"
	"codeberg.org/dltlab/dltcal/internal/errors"
	"codeberg.org/dltlab/dltcal/internal/events"
	"codeberg.org/dltlab/dltcal/internal/logger"
	"codeberg.org/dltlab/dltcal/internal/process"
	"codeberg.org/dltlab/dltcal/internal/stability"
	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
)

const (
	shutdownTimeout   = 5 * time.Second
	keepAliveInterval = 15 * time.Second
)

// Controller is the subset of *process.Controller the API drives.
type Controller interface {
	Start(ctx context.Context) error
	Stop()
	Status() process.Status
}

// Window reports the stability detector's sample windows.
type Window interface {
	Stats() stability.Stats
}

type Server struct {
	ctrl     Controller
	hub      *events.Hub
	readings process.LatestSource
	window   Window
	metrics  *Metrics
	log      logger.Logger

	// runCtx outlives requests; runs started over HTTP are bound to it.
	runCtx context.Context
}

// NewServer builds a server. window may be nil, in which case /status and
// /metrics carry no stability figures.
func NewServer(runCtx context.Context, ctrl Controller, hub *events.Hub, readings process.LatestSource, window Window, log logger.Logger) *Server {
	if log == nil {
		log = logger.New("api")
	}
	return &Server{
		ctrl:     ctrl,
		hub:      hub,
		readings: readings,
		window:   window,
		metrics:  NewMetrics(ctrl, readings, window),
		log:      log,
		runCtx:   runCtx,
	}
}

// Router builds the route table.
func (s *Server) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/status", s.metrics.Instrument("/status", s.handleStatus))
	r.Post("/start", s.metrics.Instrument("/start", s.handleStart))
	r.Post("/stop", s.metrics.Instrument("/stop", s.handleStop))
	r.Get("/events", s.handleEvents)
	r.Method(http.MethodGet, "/metrics", s.metrics.Handler())
	return r
}

// ListenAndServe serves on addr until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errc := make(chan error, 1)
	go func() { errc <- srv.ListenAndServe() }()
	s.log.Info().Str("addr", addr).Msg("HTTP API listening")

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return errors.Wrap(errors.ErrShutdownFailed, err)
	}
	return nil
}

type statusResponse struct {
	Process   process.Status  `json:"process"`
	Reading   *device.Reading `json:"reading,omitempty"`
	Stability *windowStatus   `json:"stability,omitempty"`
}

// windowStatus mirrors stability.Stats. Figures of an empty window are
// omitted since JSON has no NaN.
type windowStatus struct {
	Samples       int      `json:"samples"`
	Capacity      int      `json:"capacity"`
	PrimaryMean   *float64 `json:"primary_mean,omitempty"`
	PrimaryStd    *float64 `json:"primary_std,omitempty"`
	SecondaryMean *float64 `json:"secondary_mean,omitempty"`
	SecondaryStd  *float64 `json:"secondary_std,omitempty"`
}

func newWindowStatus(st stability.Stats) *windowStatus {
	return &windowStatus{
		Samples:       st.Samples,
		Capacity:      st.Capacity,
		PrimaryMean:   finite(st.PrimaryMean),
		PrimaryStd:    finite(st.PrimaryStd),
		SecondaryMean: finite(st.SecondaryMean),
		SecondaryStd:  finite(st.SecondaryStd),
	}
}

func finite(v float64) *float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return &v
}

type errorResponse struct {
	Code  string `json:"code"`
	Error string `json:"error"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	resp := statusResponse{Process: s.ctrl.Status()}
	if rd, ok := s.readings.Latest(); ok {
		resp.Reading = &rd
	}
	if s.window != nil {
		resp.Stability = newWindowStatus(s.window.Stats())
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	if err := s.ctrl.Start(s.runCtx); err != nil {
		s.log.Warn().Err(err).Msg("Start rejected")
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, s.ctrl.Status())
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	s.ctrl.Stop()
	writeJSON(w, http.StatusOK, s.ctrl.Status())
}

// handleEvents streams hub events as server-sent events until the client
// goes away.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	ch := s.hub.Subscribe()
	defer s.hub.Unsubscribe(ch)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	keepAlive := time.NewTicker(keepAliveInterval)
	defer keepAlive.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-keepAlive.C:
			fmt.Fprint(w, ": keep-alive\n\n")
			flusher.Flush()
		case ev, ok := <-ch:
			if !ok {
				return
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Name, ev.Data)
			flusher.Flush()
		}
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.HasCode(err, process.ErrIllegalState):
		status = http.StatusConflict
	case errors.HasCode(err, process.ErrPrecondition):
		status = http.StatusPreconditionFailed
	case errors.HasCode(err, process.ErrCommand):
		status = http.StatusBadGateway
	}
	writeJSON(w, status, errorResponse{Code: string(errors.Code(err)), Error: err.Error()})
}
