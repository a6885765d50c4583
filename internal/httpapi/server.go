// Package httpapi implements the gateway's OpenAI-compatible HTTP surface:
// pairing, chat completions (streaming and non-streaming), agent and
// settings administration, and the audit log query endpoint.
//
// The dispatch order on every request is fixed: authenticate the bearer
// token, rate-limit the caller's IP, then evaluate the access-control
// ladder for the route, logging the outcome to the audit ring regardless
// of whether the request was ultimately allowed.
package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/torbobase/torbo-base/common/trace"
	"github.com/torbobase/torbo-base/common/version"
	"github.com/torbobase/torbo-base/internal/access"
	"github.com/torbobase/torbo-base/internal/audit"
	"github.com/torbobase/torbo-base/internal/config"
	"github.com/torbobase/torbo-base/internal/llm"
	"github.com/torbobase/torbo-base/internal/pairing"
	"github.com/torbobase/torbo-base/internal/ratelimit"
	"github.com/torbobase/torbo-base/internal/supervisor"
	"github.com/torbobase/torbo-base/internal/toolloop"
	"github.com/torbobase/torbo-base/internal/tools"
)

// maxBodyBytes bounds the size of any request body accepted by the
// dispatcher (413 beyond this).
const maxBodyBytes = 32 << 20 // 32 MiB

// maxConcurrentProviderCalls bounds how many chat-completion requests may be
// in flight against a provider at once; additional callers queue for up to
// providerQueueTimeout before receiving 503.
const maxConcurrentProviderCalls = 5

const providerQueueTimeout = 5 * time.Second

// touchDebounce is the minimum interval between two Touch calls for the same
// device, so a chatty client doesn't force a keychain rewrite on every
// request.
const touchDebounce = 30 * time.Second

// Server is the HTTP dispatcher. It holds concrete references to the wired
// subsystems directly: this package is the core request path of the
// gateway rather than a thin control-plane proxy, so there is no
// abstraction boundary worth paying for here.
type Server struct {
	addr string

	pairingMgr  *pairing.Manager
	pairingReg  *pairing.Registry
	secretStore *pairing.SecretStore
	agents      *access.Store
	evaluator   *access.Evaluator
	cfgLoader   *config.Loader
	rateLimit   ratelimit.Limiter
	auditLog    *audit.Ring
	loop        *toolloop.Loop
	registry    *tools.Registry
	provider    llm.Provider
	supv        *supervisor.Supervisor

	providerSem chan struct{}

	touchMu   sync.Mutex
	lastTouch map[string]time.Time

	server *http.Server
	mux    *http.ServeMux
}

// Deps bundles every subsystem the dispatcher needs, wired by internal/app.
type Deps struct {
	Addr        string
	PairingMgr  *pairing.Manager
	PairingReg  *pairing.Registry
	SecretStore *pairing.SecretStore
	Agents      *access.Store
	Evaluator   *access.Evaluator
	CfgLoader   *config.Loader
	RateLimit   ratelimit.Limiter
	AuditLog    *audit.Ring
	Loop        *toolloop.Loop
	Registry    *tools.Registry
	Provider    llm.Provider
	// Supervisor is optional; when nil the dashboard reports the local
	// daemon as unhealthy rather than probing it.
	Supervisor *supervisor.Supervisor
}

// New returns a Server wired to deps and registers its routes.
func New(deps Deps) *Server {
	s := &Server{
		addr:        deps.Addr,
		pairingMgr:  deps.PairingMgr,
		pairingReg:  deps.PairingReg,
		secretStore: deps.SecretStore,
		agents:      deps.Agents,
		evaluator:   deps.Evaluator,
		cfgLoader:   deps.CfgLoader,
		rateLimit:   deps.RateLimit,
		auditLog:    deps.AuditLog,
		loop:        deps.Loop,
		registry:    deps.Registry,
		provider:    deps.Provider,
		supv:        deps.Supervisor,
		providerSem: make(chan struct{}, maxConcurrentProviderCalls),
		lastTouch:   make(map[string]time.Time),
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.wrap(route{level: access.Off, public: true}, s.handleHealth))

	mux.HandleFunc("GET /pair/info", s.wrap(route{level: access.Off, public: true}, s.handlePairInfo))
	mux.HandleFunc("POST /pair", s.wrap(route{level: access.Off, public: true}, s.handlePair))
	mux.HandleFunc("POST /pair/auto", s.wrap(route{level: access.Off, public: true}, s.handlePairAuto))
	mux.HandleFunc("POST /pair/auth", s.wrap(route{level: access.Off, public: true}, s.handlePairAuth))

	mux.HandleFunc("POST /v1/pairing/code", s.wrap(route{level: access.Chat}, s.handleRequestCode))

	mux.HandleFunc("POST /v1/chat/completions", s.wrap(route{level: access.Chat}, s.handleChatCompletions))

	mux.HandleFunc("GET /v1/dashboard/status", s.wrap(route{level: access.Chat}, s.handleDashboardStatus))

	mux.HandleFunc("GET /v1/agents", s.wrap(route{level: access.Chat}, s.handleListAgents))
	mux.HandleFunc("PUT /v1/agents/{id}", s.wrap(route{level: access.Chat}, s.handlePutAgent))
	mux.HandleFunc("DELETE /v1/agents/{id}", s.wrap(route{level: access.Chat}, s.handleDeleteAgent))

	mux.HandleFunc("GET /v1/config/settings", s.wrap(route{level: access.Chat}, s.handleGetSettings))
	mux.HandleFunc("PUT /v1/config/settings", s.wrap(route{level: access.Chat}, s.handlePutSettings))
	mux.HandleFunc("GET /v1/config/apikeys", s.wrap(route{level: access.Chat}, s.handleGetAPIKeys))
	mux.HandleFunc("PUT /v1/config/apikeys", s.wrap(route{level: access.Chat}, s.handlePutAPIKeys))

	mux.HandleFunc("GET /v1/audit/log", s.wrap(route{level: access.Chat}, s.handleAuditLog))

	s.mux = mux
}

// ServeHTTP lets Server be driven directly by httptest without binding a
// real listener, and satisfies http.Handler for embedding behind another
// mux if ever needed.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// Start begins listening. It returns once the listener is bound.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("httpapi: listen %s: %w", s.addr, err)
	}
	s.server = &http.Server{
		Handler:      s.mux,
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 0, // streaming responses must not be cut off
		IdleTimeout:  120 * time.Second,
	}
	slog.Info("httpapi: listening", "addr", ln.Addr().String())
	go func() {
		if err := s.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			slog.Error("httpapi: server error", "err", err)
		}
	}()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
	}()
	return nil
}

// Stop gracefully shuts the server down.
func (s *Server) Stop() {
	if s.server == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = s.server.Shutdown(ctx)
}

// route describes one endpoint's authorization requirements.
type route struct {
	level  access.Level
	public bool
}

type ctxKey int

const (
	ctxAgentID ctxKey = iota
	ctxDeviceID
	ctxProviderOverride
)

func agentIDFrom(ctx context.Context) string {
	if v, ok := ctx.Value(ctxAgentID).(string); ok && v != "" {
		return v
	}
	return config.DefaultPrimaryAgentID
}

func deviceIDFrom(ctx context.Context) string {
	v, _ := ctx.Value(ctxDeviceID).(string)
	return v
}

// providerOverrideFrom returns the provider pinned by the x-torbo-provider
// request header, or "" if none was set or recognized.
func providerOverrideFrom(ctx context.Context) string {
	v, _ := ctx.Value(ctxProviderOverride).(string)
	return v
}

// wrap composes the fixed auth -> rate-limit -> ACL order around handler,
// auditing the outcome of every request whether or not it was allowed.
func (s *Server) wrap(r route, handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		req.Body = http.MaxBytesReader(w, req.Body, maxBodyBytes)

		traceID := trace.GenerateID()
		ctx := trace.WithTraceID(req.Context(), traceID)
		w.Header().Set("X-Trace-Id", traceID)

		clientIP := clientIPOf(req)

		entry := audit.Entry{
			Timestamp:     time.Now().UTC(),
			TraceID:       traceID,
			ClientIP:      clientIP,
			Method:        req.Method,
			Path:          req.URL.Path,
			RequiredLevel: r.level,
		}

		var deviceID string
		agentID := req.Header.Get("x-torbo-agent-id")
		if agentID == "" {
			agentID = config.DefaultPrimaryAgentID
		}

		// The multiplexer's default selection is model-prefix routing
		// ("openai:gpt-4o"); this header lets a caller override that choice
		// per-request without changing the model name, e.g. to force a
		// retry against a specific provider after a failover.
		providerOverride := req.Header.Get("x-torbo-provider")
		if providerOverride != "" && !llm.IsKnownProvider(providerOverride) {
			entry.Granted = false
			s.auditLog.Append(entry)
			writeError(w, http.StatusBadRequest, "unrecognized x-torbo-provider value")
			return
		}

		if !r.public {
			token := bearerToken(req)
			device, ok := s.pairingReg.Device(token)
			if !ok {
				entry.Granted = false
				entry.DeviceID = deviceID
				s.auditLog.Append(entry)
				writeError(w, http.StatusUnauthorized, "invalid or expired token")
				return
			}
			deviceID = device.ID
			s.debouncedTouch(deviceID)
		}

		if ok, retryAfter := s.rateLimit.Allow(clientIP); !ok {
			entry.Granted = false
			entry.DeviceID = deviceID
			s.auditLog.Append(entry)
			w.Header().Set("Retry-After", fmt.Sprintf("%.0f", retryAfter.Seconds()))
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}

		if !r.public && !s.evaluator.RouteAllowed(agentID, r.level) {
			entry.Granted = false
			entry.DeviceID = deviceID
			s.auditLog.Append(entry)
			writeError(w, http.StatusForbidden, "access level insufficient for this operation")
			return
		}

		entry.Granted = true
		entry.DeviceID = deviceID
		s.auditLog.Append(entry)

		ctx = context.WithValue(ctx, ctxAgentID, agentID)
		ctx = context.WithValue(ctx, ctxDeviceID, deviceID)
		ctx = context.WithValue(ctx, ctxProviderOverride, providerOverride)
		handler(w, req.WithContext(ctx))
	}
}

func (s *Server) debouncedTouch(deviceID string) {
	s.touchMu.Lock()
	last, seen := s.lastTouch[deviceID]
	due := !seen || time.Since(last) > touchDebounce
	if due {
		s.lastTouch[deviceID] = time.Now()
	}
	s.touchMu.Unlock()
	if due {
		s.pairingReg.Touch(deviceID)
	}
}

func bearerToken(req *http.Request) string {
	h := req.Header.Get("Authorization")
	const prefix = "Bearer "
	if strings.HasPrefix(h, prefix) {
		return strings.TrimPrefix(h, prefix)
	}
	return ""
}

func clientIPOf(req *http.Request) string {
	host, _, err := net.SplitHostPort(req.RemoteAddr)
	if err != nil {
		return req.RemoteAddr
	}
	return host
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"version": version.Version,
		"commit":  version.GitCommit,
	})
}

// --- response helpers ---

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
