package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/unicro/uniscout/internal/audit"
	"github.com/unicro/uniscout/internal/auth"
	"github.com/unicro/uniscout/internal/radio"
	"github.com/unicro/uniscout/internal/registry"
)

const apiV1 = "/api/v1"

// Handler builds the router.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	r.Use(s.correlate)
	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.correlate(http.HandlerFunc(notFound)).ServeHTTP(w, r)
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.correlate(http.HandlerFunc(methodNotAllowed)).ServeHTTP(w, r)
	})

	r.HandleFunc(apiV1+"/health", s.handleHealth).Methods(http.MethodGet)

	v1 := r.PathPrefix(apiV1).Subrouter()
	v1.Use(s.authMiddleware.Authenticate)

	read := s.authMiddleware.RequireScope(auth.ScopeRead)
	control := s.authMiddleware.RequireScope(auth.ScopeControl)
	telemetry := s.authMiddleware.RequireScope(auth.ScopeTelemetry)

	v1.HandleFunc("/capabilities", read(s.handleCapabilities)).Methods(http.MethodGet)
	v1.HandleFunc("/scan", read(s.handleStatus)).Methods(http.MethodGet)
	v1.HandleFunc("/scan", control(s.limited(s.handleStart))).Methods(http.MethodPost)
	v1.HandleFunc("/scan/stop", control(s.limited(s.handleStop))).Methods(http.MethodPost)
	v1.HandleFunc("/scan/cancel", control(s.limited(s.handleCancel))).Methods(http.MethodPost)
	v1.HandleFunc("/devices", read(s.handleDevices)).Methods(http.MethodGet)
	v1.HandleFunc("/telemetry", telemetry(s.handleTelemetry)).Methods(http.MethodGet)

	return r
}

// correlate assigns each request a correlation id, echoing the caller's.
func (s *Server) correlate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(auth.CorrelationHeader)
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(auth.CorrelationHeader, id)
		next.ServeHTTP(w, r.WithContext(audit.WithCorrelationID(r.Context(), id)))
	})
}

// limited applies the control rate limit.
func (s *Server) limited(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !s.limiter.Allow() {
			w.Header().Set("Retry-After", "1")
			WriteError(w, http.StatusTooManyRequests, "RATE_LIMITED", "Too many control requests", nil)
			return
		}
		next(w, r)
	}
}

func notFound(w http.ResponseWriter, r *http.Request) {
	WriteError(w, http.StatusNotFound, "NOT_FOUND", "Resource not found", nil)
}

func methodNotAllowed(w http.ResponseWriter, r *http.Request) {
	WriteError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED",
		fmt.Sprintf("Method %s is not allowed on %s", r.Method, r.URL.Path), nil)
}

// handleHealth handles GET /health
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	subsystems := map[string]bool{
		"scan":      s.scanner != nil,
		"telemetry": s.telemetryHub != nil,
	}

	health := map[string]interface{}{
		"status":     "ok",
		"uptimeSec":  time.Since(s.startTime).Seconds(),
		"version":    Version,
		"subsystems": subsystems,
	}

	if !subsystems["scan"] || !subsystems["telemetry"] {
		health["status"] = "degraded"
		WriteError(w, http.StatusServiceUnavailable, "SERVICE_DEGRADED",
			"One or more subsystems are unavailable", health)
		return
	}
	health["scanState"] = s.scanner.Status().State
	WriteSuccess(w, health)
}

// handleCapabilities handles GET /capabilities
func (s *Server) handleCapabilities(w http.ResponseWriter, r *http.Request) {
	WriteSuccess(w, map[string]interface{}{
		"technologies": radio.AllTechnologies(),
		"scopes":       []string{radio.ScopeAll, "BT", "BLE", "UWB", "NFC", "WIFI"},
		"telemetry":    []string{"sse"},
		"commands":     []string{"http-json"},
		"version":      Version,
	})
}

// handleStatus handles GET /scan
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	WriteSuccess(w, s.scanner.Status())
}

type startRequest struct {
	Scope radio.Scope `json:"scope"`
}

// handleStart handles POST /scan. An empty body scans every technology.
func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	req, err := decodeStart(r.Body)
	if err != nil {
		WriteAPIError(w, err)
		return
	}

	run, err := s.scanner.Start(r.Context(), req.Scope)
	if err != nil {
		s.logger.Warn("scan start rejected", "scope", req.Scope.String(), "error", err,
			"correlationId", audit.CorrelationID(r.Context()))
		WriteAPIError(w, err)
		return
	}
	WriteSuccess(w, run)
}

func decodeStart(body io.Reader) (startRequest, error) {
	req := startRequest{Scope: radio.FullScope()}
	if body == nil {
		return req, nil
	}

	dec := json.NewDecoder(body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		if errors.Is(err, io.EOF) {
			return startRequest{Scope: radio.FullScope()}, nil
		}
		return req, fmt.Errorf("%w: %v", ErrBadRequest, err)
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return req, fmt.Errorf("%w: trailing data after JSON object", ErrBadRequest)
	}
	if req.Scope.IsZero() {
		return req, fmt.Errorf("%w: scope must name at least one technology", ErrBadRequest)
	}
	return req, nil
}

// handleStop handles POST /scan/stop
func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	s.halt(w, r, s.scanner.Stop)
}

// handleCancel handles POST /scan/cancel
func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	s.halt(w, r, s.scanner.Cancel)
}

func (s *Server) halt(w http.ResponseWriter, r *http.Request, fn func(context.Context) error) {
	ctx, cancel := context.WithTimeout(r.Context(), s.stopTimeout)
	defer cancel()

	if err := fn(ctx); err != nil {
		WriteAPIError(w, err)
		return
	}
	WriteSuccess(w, s.scanner.Status())
}

// handleDevices handles GET /devices with optional tracker and technology filters.
func (s *Server) handleDevices(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	var trackerOnly *bool
	if v := query.Get("tracker"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			WriteError(w, http.StatusBadRequest, "BAD_REQUEST", "tracker must be true or false", nil)
			return
		}
		trackerOnly = &b
	}

	var tech radio.Technology
	if v := query.Get("technology"); v != "" {
		t, err := radio.ParseTechnology(v)
		if err != nil {
			WriteError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error(), nil)
			return
		}
		tech = t
	}

	devices := make([]registry.Device, 0)
	for _, d := range s.scanner.Snapshot() {
		if trackerOnly != nil && d.TrackerSuspect != *trackerOnly {
			continue
		}
		if tech != "" && d.Technology() != tech {
			continue
		}
		devices = append(devices, d)
	}

	WriteSuccess(w, map[string]interface{}{
		"devices": devices,
		"count":   len(devices),
	})
}

// handleTelemetry handles GET /telemetry (SSE)
func (s *Server) handleTelemetry(w http.ResponseWriter, r *http.Request) {
	if s.telemetryHub == nil {
		WriteError(w, http.StatusServiceUnavailable, "UNAVAILABLE",
			"Telemetry service not available", nil)
		return
	}

	if err := s.telemetryHub.Subscribe(r.Context(), w, r); err != nil {
		s.logger.Warn("telemetry subscribe failed", "error", err)
		WriteError(w, http.StatusServiceUnavailable, "UNAVAILABLE",
			"Failed to subscribe to telemetry stream", nil)
	}
}
