package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/jonathan/stance-tracker/internal/abuse"
	"github.com/jonathan/stance-tracker/internal/config"
	"github.com/jonathan/stance-tracker/internal/credibility"
	"github.com/jonathan/stance-tracker/internal/db"
	"github.com/jonathan/stance-tracker/internal/dedup"
	"github.com/jonathan/stance-tracker/internal/ingest"
	"github.com/jonathan/stance-tracker/internal/server/ratelimit"
)

// Store is the statement storage the server needs.
type Store interface {
	ingest.CandidateSource
	ingest.RecordSink
	dedup.FingerprintLookup
	GetStatement(ctx context.Context, id uuid.UUID) (*db.Statement, error)
	ListGroup(ctx context.Context, groupID uuid.UUID) ([]db.Statement, error)
	ListSubjectStatements(ctx context.Context, subjectID int64, limit int) ([]db.Statement, error)
}

// Server represents the HTTP server
type Server struct {
	httpServer  *http.Server
	store       Store
	gate        abuse.Gate
	resolver    *dedup.Resolver
	service     *ingest.Service
	rateLimiter *ratelimit.Limiter
	trustProxy  bool
	closers     []func()
}

// Deps are the collaborators of a Server.
type Deps struct {
	Store       Store
	Gate        abuse.Gate
	Resolver    *dedup.Resolver
	Credibility credibility.Table
	RateLimiter *ratelimit.Limiter // nil disables request throttling
	TrustProxy  bool
}

// New connects to the database (and Redis when the abuse backend needs it)
// and creates a server configured from cfg and the environment.
func New(ctx context.Context, cfg config.Config) (*Server, error) {
	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("database URL is required")
	}

	database, err := db.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	dedupCfg, err := dedup.ConfigFromEnv()
	if err != nil {
		database.Close()
		return nil, fmt.Errorf("failed to load dedup config: %w", err)
	}
	dedupCfg = cfg.ApplyDedup(dedupCfg)
	if err := dedupCfg.Validate(); err != nil {
		database.Close()
		return nil, fmt.Errorf("invalid dedup config: %w", err)
	}

	abuseCfg := cfg.ApplyAbuse(abuse.LoadConfig())
	gate, closeGate, err := NewGate(abuseCfg, cfg.RedisURL)
	if err != nil {
		database.Close()
		return nil, err
	}

	s := NewWithDeps(cfg.Port, Deps{
		Store:       database,
		Gate:        gate,
		Resolver:    dedup.NewResolver(dedupCfg, database),
		Credibility: cfg.CredibilityTable(),
		RateLimiter: ratelimit.NewLimiter(ratelimit.LoadConfig()),
		TrustProxy:  cfg.TrustProxy,
	})
	s.closers = append(s.closers, closeGate, database.Close)

	log.Printf("Dedup: %s", dedupCfg)
	log.Printf("Abuse limits: backend=%s origin=%d identity=%d window=%s",
		abuseCfg.Backend, abuseCfg.OriginLimit, abuseCfg.IdentityLimit, abuseCfg.Window)
	return s, nil
}

// NewGate builds the abuse gate for the configured backend. The returned
// func releases it.
func NewGate(cfg *abuse.Config, redisURL string) (abuse.Gate, func(), error) {
	if err := cfg.Validate(); err != nil {
		return nil, nil, fmt.Errorf("invalid abuse config: %w", err)
	}
	switch cfg.Backend {
	case abuse.BackendRedis:
		limiter, err := abuse.NewRedisLimiter(redisURL, cfg)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create redis abuse limiter: %w", err)
		}
		return limiter, func() { _ = limiter.Close() }, nil
	case abuse.BackendMemory, "":
		limiter := abuse.NewLimiter(cfg)
		return limiter, limiter.Stop, nil
	default:
		return nil, nil, fmt.Errorf("unknown abuse backend %q", cfg.Backend)
	}
}

// NewWithDeps creates a server from explicit collaborators.
func NewWithDeps(port int, deps Deps) *Server {
	s := &Server{
		store:       deps.Store,
		gate:        deps.Gate,
		resolver:    deps.Resolver,
		rateLimiter: deps.RateLimiter,
		trustProxy:  deps.TrustProxy,
	}
	writer := ingest.NewRecordWriter(deps.Store, deps.Credibility)
	s.service = ingest.NewService(deps.Gate, deps.Resolver, deps.Store, writer)

	// Create HTTP server
	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      s.Handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

// Handler returns the routed handler with middleware applied.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)

	// Statements
	mux.HandleFunc("POST /statements", s.handleSubmitStatement)
	mux.HandleFunc("GET /statements/{id}", s.handleGetStatement)
	mux.HandleFunc("GET /groups/{group}", s.handleGetGroup)
	mux.HandleFunc("GET /subjects/{id}/statements", s.handleListSubjectStatements)

	// Admin
	mux.HandleFunc("POST /admin/preview", s.handlePreview)
	mux.HandleFunc("DELETE /admin/abuse/origins/{key}", s.handleClearOrigin)
	mux.HandleFunc("DELETE /admin/abuse/identities/{key}", s.handleClearIdentity)

	var handler http.Handler = mux
	handler = s.withCORS(handler)
	handler = s.withLogging(handler)
	if s.rateLimiter != nil {
		handler = s.withRateLimit(handler)
	}
	return handler
}

// Start serves until ctx is cancelled, then shuts down gracefully and
// releases the server's resources.
func (s *Server) Start(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Printf("Server starting on %s", s.httpServer.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		log.Println("Shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown failed: %w", err)
		}
		return nil
	})

	err := g.Wait()
	s.Close()
	log.Println("Server stopped")
	return err
}

// Close stops background work and closes connections.
func (s *Server) Close() {
	if s.rateLimiter != nil {
		s.rateLimiter.Stop()
	}
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
	s.closers = nil
}

// withCORS adds CORS headers
func (s *Server) withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// withRateLimit adds rate limiting middleware
func (s *Server) withRateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		clientID := s.clientIP(r)

		allowed, info := s.rateLimiter.Allow(clientID, r.URL.Path, r.Method)
		s.setRateLimitHeaders(w, info.Limit, info.Remaining, info.ResetTime)
		if !allowed {
			s.rateLimitResponse(w, "rate_limit_exceeded", info.Limit, info.ResetTime, info.RetryAfter)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// withLogging adds request logging
func (s *Server) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		log.Printf("[%s] %s %s", r.Method, r.URL.Path, r.RemoteAddr)
		next.ServeHTTP(w, r)
		log.Printf("[%s] %s completed in %v", r.Method, r.URL.Path, time.Since(start))
	})
}

// handleHealth returns server health status
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.jsonResponse(w, http.StatusOK, map[string]string{"status": "ok"})
}

// jsonResponse writes a JSON response
func (s *Server) jsonResponse(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Printf("Error encoding JSON response: %v", err)
	}
}

// errorResponse writes an error JSON response
func (s *Server) errorResponse(w http.ResponseWriter, status int, message string) {
	s.jsonResponse(w, status, map[string]string{"error": message})
}

// clientIP returns the address used as the origin axis key. Forwarding
// headers are only honoured when the server sits behind a trusted proxy.
func (s *Server) clientIP(r *http.Request) string {
	if s.trustProxy {
		if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
			first, _, _ := strings.Cut(fwd, ",")
			if ip := strings.TrimSpace(first); ip != "" {
				return ip
			}
		}
		if realIP := strings.TrimSpace(r.Header.Get("X-Real-IP")); realIP != "" {
			return realIP
		}
	}

	// Get IP from RemoteAddr (format: "IP:port")
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		// If parsing fails, use the whole RemoteAddr
		return r.RemoteAddr
	}
	return ip
}

// setRateLimitHeaders sets standard rate limit headers on the response.
func (s *Server) setRateLimitHeaders(w http.ResponseWriter, limit, remaining int, reset time.Time) {
	if limit > 0 {
		w.Header().Set("X-RateLimit-Limit", fmt.Sprintf("%d", limit))
		w.Header().Set("X-RateLimit-Remaining", fmt.Sprintf("%d", remaining))
		w.Header().Set("X-RateLimit-Reset", fmt.Sprintf("%d", reset.Unix()))
	}
}

// rateLimitResponse writes a 429 Too Many Requests response with rate limit information.
func (s *Server) rateLimitResponse(w http.ResponseWriter, code string, limit int, reset time.Time, retryAfter time.Duration) {
	response := map[string]interface{}{
		"error":    code,
		"message":  "Rate limit exceeded. Please try again later.",
		"limit":    limit,
		"reset_at": reset.Format(time.RFC3339),
	}

	if retryAfter > 0 {
		// Round up so clients never retry before the window reopens.
		seconds := int((retryAfter + time.Second - 1) / time.Second)
		response["retry_after"] = seconds
		w.Header().Set("Retry-After", fmt.Sprintf("%d", seconds))
	}

	log.Printf("[rate-limit] %s: Limit=%d Reset=%s", code, limit, reset.Format(time.RFC3339))

	s.jsonResponse(w, http.StatusTooManyRequests, response)
}
