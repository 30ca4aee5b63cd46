package httpx

import (
	"bufio"
	"context"
	"errors"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"log/slog"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Rtaaweer/mapa/internal/domain"
	"github.com/Rtaaweer/mapa/internal/service/gateway"
	"github.com/Rtaaweer/mapa/internal/service/track"
	"github.com/Rtaaweer/mapa/internal/ws"
)

// Router wires HTTP endpoints to services.
type Router struct {
	mux          *http.ServeMux
	logger       *slog.Logger
	track        *track.Service
	gateway      *gateway.Service
	registry     *ws.Registry
	upgrader     websocket.Upgrader
	limiter      RateLimiter
	dbHealth     func(context.Context) error
	historyLimit int
	sseHeartbeat time.Duration

	metricsOnce    sync.Once
	requestTotal   *prometheus.CounterVec
	requestLatency *prometheus.HistogramVec
	rateLimitHits  *prometheus.CounterVec
}

const (
	rateWindowDefault  = time.Minute
	rateWindowRealtime = 30 * time.Second
	rateLimitRead      = 120
	rateLimitWebsocket = 30
	healthCheckTimeout = 2 * time.Second

	defaultHistoryLimit = 50
	defaultSSEHeartbeat = 25 * time.Second
)

// NewRouter assembles routes with dependencies.
func NewRouter(logger *slog.Logger, trackSvc *track.Service, gatewaySvc *gateway.Service, registry *ws.Registry, limiter RateLimiter, historyLimit int, sseHeartbeat time.Duration, dbHealth func(context.Context) error) *Router {
	if historyLimit <= 0 {
		historyLimit = defaultHistoryLimit
	}
	if sseHeartbeat <= 0 {
		sseHeartbeat = defaultSSEHeartbeat
	}
	r := &Router{
		mux:      http.NewServeMux(),
		logger:   logger,
		track:    trackSvc,
		gateway:  gatewaySvc,
		registry: registry,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		limiter:      limiter,
		dbHealth:     dbHealth,
		historyLimit: historyLimit,
		sseHeartbeat: sseHeartbeat,
	}
	if r.limiter == nil {
		r.limiter = NewMemoryRateLimiter()
	}
	r.initMetrics()
	r.register()
	return r
}

// ServeHTTP delegates to underlying mux.
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.mux.ServeHTTP(w, req)
}

// Close releases background resources.
func (r *Router) Close() {
	if r.limiter != nil {
		r.limiter.Close()
	}
}

func (r *Router) register() {
	r.mux.HandleFunc("/healthz", r.audit(r.handleHealthz))
	r.mux.Handle("/metrics", promhttp.Handler())
	r.mux.HandleFunc("/agents", r.audit(r.withRateLimit(rateLimitRead, rateWindowDefault, r.handleAgents)))
	r.mux.HandleFunc("/locations/latest", r.audit(r.withRateLimit(rateLimitRead, rateWindowDefault, r.handleLatestLocations)))
	r.mux.HandleFunc("/locations/", r.audit(r.withRateLimit(rateLimitRead, rateWindowDefault, r.handleLocationHistory)))
	r.mux.HandleFunc("/events", r.audit(r.withRateLimit(rateLimitWebsocket, rateWindowRealtime, r.handleFleetSSE)))
	r.mux.HandleFunc("/ws", r.audit(r.withRateLimit(rateLimitWebsocket, rateWindowRealtime, r.handleWS)))
}

func (r *Router) handleAgents(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	agents, err := r.track.FieldAgents(req.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	payload := make([]map[string]any, 0, len(agents))
	for _, agent := range agents {
		payload = append(payload, marshalAgent(agent))
	}
	writeJSON(w, http.StatusOK, payload)
}

func (r *Router) handleLatestLocations(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	reports, err := r.track.LatestPositions(req.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	payload := make([]map[string]any, 0, len(reports))
	for _, report := range reports {
		payload = append(payload, marshalReport(report))
	}
	writeJSON(w, http.StatusOK, payload)
}

func (r *Router) handleLocationHistory(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	trimmed := strings.TrimPrefix(req.URL.Path, "/locations/")
	agentID, err := strconv.ParseInt(trimmed, 10, 64)
	if err != nil || agentID <= 0 {
		r.notFound(w)
		return
	}
	limit, _ := strconv.Atoi(req.URL.Query().Get("limit"))
	if limit <= 0 || limit > r.historyLimit {
		limit = r.historyLimit
	}
	reports, err := r.track.PositionHistory(req.Context(), agentID, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	payload := make([]map[string]any, 0, len(reports))
	for _, report := range reports {
		payload = append(payload, marshalReport(report))
	}
	writeJSON(w, http.StatusOK, payload)
}

func (r *Router) handleWS(w http.ResponseWriter, req *http.Request) {
	conn, err := r.upgrader.Upgrade(w, req, nil)
	if err != nil {
		r.logger.Error("websocket upgrade failed", "error", err)
		return
	}
	r.gateway.HandleConn(req.Context(), conn)
}

// handleFleetSSE streams fleet events over Server-Sent Events for read-only
// observers. The client is a plain fleet-group member; disconnect removes it
// like any other connection.
func (r *Router) handleFleetSSE(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	client := ws.NewSSEClient(w, flusher, r.logger)
	r.registry.JoinFleet(client)
	defer func() {
		r.registry.Leave(client)
		client.Close()
	}()

	ticker := time.NewTicker(r.sseHeartbeat)
	defer ticker.Stop()
	for {
		select {
		case <-req.Context().Done():
			return
		case <-ticker.C:
			if err := client.Heartbeat(); err != nil {
				return
			}
		}
	}
}

func (r *Router) handleHealthz(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	components := make(map[string]any)
	status := "ok"
	if r.dbHealth != nil {
		ctx, cancel := context.WithTimeout(req.Context(), healthCheckTimeout)
		defer cancel()
		if err := r.dbHealth(ctx); err != nil {
			status = "degraded"
			components["database"] = map[string]any{
				"status": "down",
				"error":  err.Error(),
			}
		} else {
			components["database"] = map[string]any{"status": "up"}
		}
	}
	if r.registry != nil {
		counts := r.registry.MemberCounts()
		components["registry"] = map[string]any{
			"fleet_observers": counts.Fleet,
			"agent_groups":    counts.AgentGroups,
		}
	}
	payload := map[string]any{
		"status":     status,
		"components": components,
		"timestamp":  time.Now().UTC().Format(time.RFC3339Nano),
	}
	code := http.StatusOK
	if status != "ok" {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, payload)
}

func marshalAgent(agent domain.Agent) map[string]any {
	payload := map[string]any{
		"id":           agent.ID,
		"display_name": agent.DisplayName,
		"role":         agent.Role,
		"presence":     agent.Presence,
		"last_seen_at": nil,
	}
	if agent.LastSeenAt != nil {
		payload["last_seen_at"] = agent.LastSeenAt.UTC().Format(time.RFC3339Nano)
	}
	return payload
}

func marshalReport(report domain.PositionReport) map[string]any {
	return map[string]any{
		"agent_id":    report.AgentID,
		"latitude":    report.Latitude,
		"longitude":   report.Longitude,
		"accuracy":    report.Accuracy,
		"speed":       report.Speed,
		"presence":    report.Presence,
		"captured_at": report.CapturedAt.UTC().Format(time.RFC3339Nano),
		"received_at": report.ReceivedAt.UTC().Format(time.RFC3339Nano),
	}
}

func (r *Router) audit(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		recorder := &statusRecorder{ResponseWriter: w}
		start := time.Now()
		next(recorder, req)

		status := recorder.status
		if status == 0 {
			status = http.StatusOK
		}
		duration := time.Since(start)
		r.observeRequest(req.Method, req.URL.Path, status, duration)
		fields := []any{
			"method", req.Method,
			"path", req.URL.Path,
			"status", status,
			"bytes", recorder.bytes,
			"duration_ms", duration.Milliseconds(),
		}
		if ip := clientIP(req); ip != "" {
			fields = append(fields, "ip", ip)
		}
		if reqID := strings.TrimSpace(req.Header.Get("X-Request-ID")); reqID != "" {
			fields = append(fields, "request_id", reqID)
		}

		switch {
		case status >= http.StatusInternalServerError:
			r.logger.Error("http_request", fields...)
		case status >= http.StatusBadRequest:
			r.logger.Warn("http_request", fields...)
		default:
			r.logger.Info("http_request", fields...)
		}
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
	bytes  int
}

func (sr *statusRecorder) WriteHeader(code int) {
	sr.status = code
	sr.ResponseWriter.WriteHeader(code)
}

func (sr *statusRecorder) Write(b []byte) (int, error) {
	if sr.status == 0 {
		sr.status = http.StatusOK
	}
	n, err := sr.ResponseWriter.Write(b)
	sr.bytes += n
	return n, err
}

func (sr *statusRecorder) Flush() {
	if f, ok := sr.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (sr *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := sr.ResponseWriter.(http.Hijacker); ok {
		return h.Hijack()
	}
	return nil, nil, errors.New("hijacker not supported")
}

func clientIP(req *http.Request) string {
	if forwarded := strings.TrimSpace(req.Header.Get("X-Forwarded-For")); forwarded != "" {
		parts := strings.Split(forwarded, ",")
		if len(parts) > 0 {
			ip := strings.TrimSpace(parts[0])
			if ip != "" {
				return ip
			}
		}
	}
	host, _, err := net.SplitHostPort(strings.TrimSpace(req.RemoteAddr))
	if err != nil {
		return strings.TrimSpace(req.RemoteAddr)
	}
	return host
}

func (r *Router) methodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}

func (r *Router) notFound(w http.ResponseWriter) {
	writeError(w, http.StatusNotFound, "not found")
}
