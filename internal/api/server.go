// Package api exposes the live view and the send path over HTTP for serve
// mode.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/cloudevents/sdk-go/v2/event"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/hubtap/hubtap/internal/eventhub"
	"github.com/hubtap/hubtap/internal/observability"
	"github.com/hubtap/hubtap/internal/view"
)

const contentTypeCloudEvents = "application/cloudevents+json"

// maxSendBody bounds a single POST /v1/send request.
const maxSendBody = 1 << 20

// Sender is the producer side of the send endpoint.
type Sender interface {
	Send(ctx context.Context, records []eventhub.EventRecord) error
}

// Config holds server configuration.
type Config struct {
	ListenAddr string
	ViewName   string
}

// Server serves view queries and record submission.
type Server struct {
	cfg      Config
	views    *view.Registry
	querier  *view.Querier
	sender   Sender
	health   *observability.HealthServer
	metrics  *observability.Metrics
	registry *prometheus.Registry
	logger   *slog.Logger
	handler  http.Handler
	server   *http.Server

	// ListenAddr is the bound address, set once Start has a listener.
	ListenAddr string
	ready      chan struct{}
}

// NewServer creates a server over the given view registry. sender may be nil,
// in which case POST /v1/send answers 503.
func NewServer(cfg Config, views *view.Registry, querier *view.Querier, sender Sender, health *observability.HealthServer, metrics *observability.Metrics, registry *prometheus.Registry, logger *slog.Logger) (*Server, error) {
	if cfg.ListenAddr == "" {
		return nil, errors.New("listen address is required")
	}
	if views == nil || querier == nil {
		return nil, errors.New("view registry and querier are required")
	}
	if cfg.ViewName == "" {
		cfg.ViewName = view.DefaultName
	}
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		cfg:      cfg,
		views:    views,
		querier:  querier,
		sender:   sender,
		health:   health,
		metrics:  metrics,
		registry: registry,
		logger:   logger,
		ready:    make(chan struct{}),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/view", s.handleRows)
	mux.HandleFunc("GET /v1/view/count", s.handleCount)
	mux.HandleFunc("GET /v1/view/histogram", s.handleHistogram)
	mux.HandleFunc("POST /v1/send", s.handleSend)
	if s.health != nil {
		s.health.Register(mux)
	}
	if s.registry != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))
	}

	s.handler = otelhttp.NewHandler(mux, "hubtap.api")
	return s, nil
}

// Start serves until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	lis, err := net.Listen("tcp", s.cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.cfg.ListenAddr, err)
	}
	s.ListenAddr = lis.Addr().String()

	s.server = &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("api server starting", "addr", s.ListenAddr)
		close(s.ready)
		if err := s.server.Serve(lis); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			s.logger.Error("api server shutdown error", "error", err)
		}
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

// Handler exposes the routed handler, mostly for tests.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Close stops the server immediately.
func (s *Server) Close() error {
	if s.server != nil {
		return s.server.Close()
	}
	return nil
}

func (s *Server) currentView(w http.ResponseWriter, r *http.Request) (*view.View, bool) {
	name := r.URL.Query().Get("view")
	if name == "" {
		name = s.cfg.ViewName
	}
	v, ok := s.views.Get(name)
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Sprintf("view %q not found", name))
		return nil, false
	}
	return v, true
}

func (s *Server) handleRows(w http.ResponseWriter, r *http.Request) {
	v, ok := s.currentView(w, r)
	if !ok {
		return
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid limit %q", raw))
			return
		}
		limit = n
	}

	filter := r.URL.Query().Get("filter")
	rows, err := s.querier.Select(r.Context(), v, filter, limit)
	if err != nil {
		s.countQuery(v.Name(), "select", "error")
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.countQuery(v.Name(), "select", "ok")

	writeJSON(w, http.StatusOK, map[string]any{
		"view": v.Name(),
		"rows": rows,
	})
}

func (s *Server) handleCount(w http.ResponseWriter, r *http.Request) {
	v, ok := s.currentView(w, r)
	if !ok {
		return
	}
	s.countQuery(v.Name(), "count", "ok")
	writeJSON(w, http.StatusOK, map[string]any{
		"view":  v.Name(),
		"count": v.Count(),
	})
}

func (s *Server) handleHistogram(w http.ResponseWriter, r *http.Request) {
	v, ok := s.currentView(w, r)
	if !ok {
		return
	}

	bucket := time.Second
	if raw := r.URL.Query().Get("bucket"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid bucket %q", raw))
			return
		}
		bucket = d
	}

	buckets, err := v.Histogram(bucket)
	if err != nil {
		s.countQuery(v.Name(), "histogram", "error")
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.countQuery(v.Name(), "histogram", "ok")

	writeJSON(w, http.StatusOK, map[string]any{
		"view":    v.Name(),
		"bucket":  bucket.String(),
		"buckets": buckets,
	})
}

func (s *Server) handleSend(w http.ResponseWriter, r *http.Request) {
	if s.sender == nil {
		writeError(w, http.StatusServiceUnavailable, "send is not configured")
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxSendBody))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read body")
		return
	}

	var records []eventhub.EventRecord
	if r.Header.Get("Content-Type") == contentTypeCloudEvents {
		rec, err := recordFromCloudEvent(body)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		records = []eventhub.EventRecord{rec}
	} else {
		if err := json.Unmarshal(body, &records); err != nil {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("parse records: %v", err))
			return
		}
	}

	if len(records) == 0 {
		writeError(w, http.StatusBadRequest, "no records in request")
		return
	}

	if err := eventhub.ValidateBatch(records); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := s.sender.Send(r.Context(), records); err != nil {
		s.logger.Error("send failed", "error", err)
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]any{"accepted": len(records)})
}

// recordFromCloudEvent maps a structured-mode CloudEvent to a record. The
// partitionkey extension pins the partition key.
func recordFromCloudEvent(body []byte) (eventhub.EventRecord, error) {
	var ce event.Event
	if err := json.Unmarshal(body, &ce); err != nil {
		return eventhub.EventRecord{}, fmt.Errorf("parse cloudevent: %w", err)
	}
	if err := ce.Validate(); err != nil {
		return eventhub.EventRecord{}, fmt.Errorf("invalid cloudevent: %w", err)
	}

	rec := eventhub.EventRecord{Body: string(ce.Data())}
	if ext, ok := ce.Extensions()["partitionkey"]; ok {
		rec.PartitionKey = fmt.Sprint(ext)
	}
	return rec, nil
}

func (s *Server) countQuery(viewName, kind, status string) {
	if s.metrics != nil {
		s.metrics.Queries.WithLabelValues(viewName, kind, status).Inc()
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
