// Package httpserver exposes the fulfillment API over HTTP/JSON and the rider position channel over WebSocket.
package httpserver

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/gorilla/websocket"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/and161185/alurea-fulfillment/internal/inventory"
	"github.com/and161185/alurea-fulfillment/internal/model"
	"github.com/and161185/alurea-fulfillment/internal/repository"
	"github.com/and161185/alurea-fulfillment/internal/service"
	"github.com/and161185/alurea-fulfillment/internal/tracking"
)

// AuthAPI is the subset of *service.AuthService used by handlers.
type AuthAPI interface {
	Register(ctx context.Context, name, email, password string) (*model.User, error)
	VerifyEmail(ctx context.Context, email, code, ip string) error
	Login(ctx context.Context, email, password, ip string) error
	VerifyLogin(ctx context.Context, email, code, ip string) (*model.Session, error)
	SetRole(ctx context.Context, actor, email string, role model.Role) error
	UpdateProfile(ctx context.Context, email, name, password string) error
	ParseToken(token string) (*service.Claims, error)
}

// OrderAPI is the subset of *service.OrderService used by handlers.
type OrderAPI interface {
	Create(ctx context.Context, in service.CreateOrderInput) (*model.Order, error)
	Get(ctx context.Context, id uuid.UUID) (*model.Order, error)
	List(ctx context.Context, f repository.OrderFilter) ([]*model.Order, error)
	Advance(ctx context.Context, id uuid.UUID, target model.OrderStatus, proofRef string) (*model.Order, error)
	Deliver(ctx context.Context, id uuid.UUID, proof io.Reader) (*model.Order, error)
	Delete(ctx context.Context, actor string, id uuid.UUID) error
}

// Tracker is the rider position source. Implemented by *tracking.Broadcaster.
type Tracker interface {
	Current() model.Location
	Update(lat, lon float64) model.Location
	Subscribe(ctx context.Context) *tracking.Subscription
	Unsubscribe(s *tracking.Subscription)
}

// HTTPObserver records per-route request metrics.
type HTTPObserver interface {
	ObserveHTTP(route, method string, status int, d time.Duration)
}

type nopObserver struct{}

func (nopObserver) ObserveHTTP(string, string, int, time.Duration) {}

// HealthCheck reports whether one dependency is reachable.
type HealthCheck func(ctx context.Context) error

// ProofsPath is the public prefix of stored delivery proofs.
const ProofsPath = "/uploads/proofs/"

const defaultMaxUpload = 8 << 20

// Server wires services into HTTP handlers.
type Server struct {
	auth    AuthAPI
	orders  OrderAPI
	ledger  inventory.Ledger
	tracker Tracker
	log     *zap.Logger

	obs       HTTPObserver
	metrics   http.Handler
	proofs    http.Handler
	checks    map[string]HealthCheck
	maxUpload int64
	origins   []string
	cors      *cors.Cors
	upgrader  websocket.Upgrader
}

// Option customizes Server.
type Option func(*Server)

// WithMetrics records request metrics into obs and serves h at /metrics.
func WithMetrics(obs HTTPObserver, h http.Handler) Option {
	return func(s *Server) {
		if obs != nil {
			s.obs = obs
		}
		s.metrics = h
	}
}

// WithProofs serves stored proofs under ProofsPath. h reads the {name} path value.
func WithProofs(h http.Handler) Option {
	return func(s *Server) { s.proofs = h }
}

// WithHealthCheck adds a dependency probe to /health.
func WithHealthCheck(name string, c HealthCheck) Option {
	return func(s *Server) { s.checks[name] = c }
}

// WithMaxUpload limits the size of a proof upload request body.
func WithMaxUpload(n int64) Option {
	return func(s *Server) {
		if n > 0 {
			s.maxUpload = n
		}
	}
}

// WithAllowedOrigins lets browsers on these origins call the API and open the socket. "*" allows any.
func WithAllowedOrigins(origins ...string) Option {
	return func(s *Server) { s.origins = append(s.origins, origins...) }
}

// New constructs the HTTP API.
func New(auth AuthAPI, orders OrderAPI, ledger inventory.Ledger, tracker Tracker, log *zap.Logger, opts ...Option) *Server {
	s := &Server{
		auth:      auth,
		orders:    orders,
		ledger:    ledger,
		tracker:   tracker,
		log:       log,
		obs:       nopObserver{},
		checks:    map[string]HealthCheck{},
		maxUpload: defaultMaxUpload,
	}
	for _, o := range opts {
		o(s)
	}
	// an empty list would make cors allow every origin
	if len(s.origins) > 0 {
		s.cors = cors.New(cors.Options{
			AllowedOrigins: s.origins,
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete},
			AllowedHeaders: []string{"Authorization", "Content-Type", headerRequestID},
			ExposedHeaders: []string{headerRequestID},
			MaxAge:         600,
		})
	}
	s.upgrader = websocket.Upgrader{ReadBufferSize: 1024, WriteBufferSize: 1024, CheckOrigin: s.checkOrigin}
	return s
}

// Handler returns the routed API.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	s.handle(mux, "POST /api/auth/register", s.handleRegister)
	s.handle(mux, "POST /api/auth/verify-email", s.handleVerifyEmail)
	s.handle(mux, "POST /api/auth/login", s.handleLogin)
	s.handle(mux, "POST /api/auth/verify-otp", s.handleVerifyOTP)
	s.handle(mux, "PUT /api/users/me", s.handleUpdateProfile, anyRole...)
	s.handle(mux, "PUT /api/users/{email}/role", s.handleSetRole, model.RoleAdmin)

	s.handle(mux, "POST /api/orders", s.handleCreateOrder, anyRole...)
	s.handle(mux, "GET /api/orders", s.handleListOrders, model.RoleRider, model.RoleAdmin)
	s.handle(mux, "GET /api/orders/{id}", s.handleGetOrder, anyRole...)
	s.handle(mux, "DELETE /api/orders/{id}", s.handleDeleteOrder, model.RoleAdmin)
	s.handle(mux, "PATCH /api/orders/{id}/deliver", s.handleStartDelivery, model.RoleRider, model.RoleAdmin)
	s.handle(mux, "POST /api/orders/{id}/deliver-proof", s.handleDeliverProof, model.RoleRider, model.RoleAdmin)

	s.handle(mux, "GET /api/inventory/{itemId}", s.handleGetStock)
	s.handle(mux, "PUT /api/inventory/{itemId}", s.handleSetStock, model.RoleAdmin)

	s.handle(mux, "GET /api/rider/location", s.handleGetLocation)
	s.handle(mux, "PUT /api/rider/location", s.handlePutLocation, model.RoleRider, model.RoleAdmin)
	// the socket outlives WriteTimeout-bound handlers, so it skips access metrics
	mux.HandleFunc("GET /ws/location", s.handleLocationSocket)

	if s.proofs != nil {
		s.handle(mux, "GET "+ProofsPath+"{name}", s.proofs.ServeHTTP)
	}
	if s.metrics != nil {
		mux.Handle("GET /metrics", s.metrics)
	}
	mux.HandleFunc("GET /health", s.handleHealth)

	return s.withRequestLogger(s.withCORS(mux))
}

var anyRole = []model.Role{model.RoleClient, model.RoleRider, model.RoleAdmin}

// handle registers h under pattern.
// Wrap: Trace → Recover → Metrics → Access Log → Auth → Handler
func (s *Server) handle(mux *http.ServeMux, pattern string, h http.HandlerFunc, roles ...model.Role) {
	var next http.Handler = h
	if len(roles) > 0 {
		next = s.requireRole(roles, next)
	}
	next = s.withTrace(pattern, s.withRecover(s.withHTTPMetrics(pattern, s.withAccessLog(pattern, next))))
	mux.Handle(pattern, next)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	failed := map[string]string{}
	for name, check := range s.checks {
		if err := check(ctx); err != nil {
			failed[name] = err.Error()
		}
	}
	if len(failed) > 0 {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "degraded", "failed": failed})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
