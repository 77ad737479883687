package handler

import (
	"net/http"

	"docvault-server/internal/domain"
	"docvault-server/internal/logger"
	"docvault-server/internal/metrics"
	"docvault-server/internal/middleware"
	"docvault-server/internal/service"
	"docvault-server/internal/websocket"
	"docvault-server/pkg/response"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	StageAuthenticate     = "authenticate"
	StageConcurrencyGuard = "concurrency-guard"
)

type CORSOptions struct {
	AllowedOrigins string
	AllowedMethods string
	AllowedHeaders string
}

type RouterDeps struct {
	Types     *domain.TypeRegistry
	Documents *service.DocumentService
	Auth      *service.AuthService
	// WebSocket is optional; /ws is only served when set.
	WebSocket            *websocket.Manager
	WebSocketReadBuffer  int
	WebSocketWriteBuffer int
	JWTSecret            string
	CORS                 CORSOptions
	Metrics              *metrics.Metrics
	// Gatherer backs /metrics at MetricsPath; nil disables the endpoint.
	Gatherer    prometheus.Gatherer
	MetricsPath string
	Log         *logger.Logger
}

// NewRouter builds the route table. Every document route runs the ordered
// stages authenticate → concurrency-guard → handler, composed once here.
func NewRouter(deps RouterDeps) *mux.Router {
	r := mux.NewRouter()

	r.Use(middleware.LoggerMiddleware(deps.Log, deps.Metrics))
	r.Use(middleware.CORSMiddleware(
		deps.CORS.AllowedOrigins,
		deps.CORS.AllowedMethods,
		deps.CORS.AllowedHeaders,
	))

	api := r.PathPrefix("/api/v1").Subrouter()

	authHandler := NewAuthHandler(deps.Auth, deps.Log)
	api.HandleFunc("/auth/register", authHandler.Register).Methods("POST", "OPTIONS")
	api.HandleFunc("/auth/login", authHandler.Login).Methods("POST", "OPTIONS")
	api.HandleFunc("/auth/refresh", authHandler.Refresh).Methods("POST", "OPTIONS")

	authenticated := middleware.NewChain(middleware.Stage{
		Name: StageAuthenticate,
		Wrap: middleware.AuthMiddleware(deps.JWTSecret),
	})

	docs := NewDocumentHandler(deps.Documents, deps.Log)
	for _, typ := range deps.Types.All() {
		registerDocumentRoutes(api, docs, typ, authenticated, deps)
	}

	if deps.WebSocket != nil {
		wsHandler := NewWebSocketHandler(deps.WebSocket, deps.JWTSecret, deps.WebSocketReadBuffer, deps.WebSocketWriteBuffer, deps.Log)
		r.HandleFunc("/ws", wsHandler.HandleConnection)
	}

	if deps.Gatherer != nil {
		path := deps.MetricsPath
		if path == "" {
			path = "/metrics"
		}
		r.Handle(path, promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{})).Methods("GET")
	}

	r.HandleFunc("/health", healthHandler).Methods("GET")
	r.HandleFunc("/", rootHandler(deps.Types)).Methods("GET")

	return r
}

func registerDocumentRoutes(api *mux.Router, docs *DocumentHandler, typ domain.DocumentType, authenticated middleware.Chain, deps RouterDeps) {
	guarded := func(policy middleware.GuardPolicy) middleware.Chain {
		policy.DocumentType = typ.Name
		return authenticated.Append(middleware.Stage{
			Name: StageConcurrencyGuard,
			Wrap: middleware.ConcurrencyGuard(docs.Resolver(typ), policy, deps.Log, deps.Metrics),
		})
	}
	creating := guarded(middleware.GuardPolicy{AllowMissing: true})
	mutating := guarded(middleware.GuardPolicy{RequirePrecondition: typ.RequirePrecondition})

	collection := "/" + typ.Name
	item := collection + "/{id}"

	api.Handle(collection, authenticated.Then(docs.List(typ))).Methods("GET", "OPTIONS")
	api.Handle(collection, creating.Then(docs.Create(typ))).Methods("POST", "OPTIONS")

	api.Handle(item, authenticated.Then(docs.Get(typ))).Methods("GET", "OPTIONS")
	api.Handle(item, mutating.Then(docs.Update(typ, domain.ChangeReplace))).Methods("PUT", "OPTIONS")
	api.Handle(item, mutating.Then(docs.Update(typ, domain.ChangeMerge))).Methods("PATCH", "OPTIONS")
	api.Handle(item, mutating.Then(docs.Delete(typ))).Methods("DELETE", "OPTIONS")

	api.Handle(item+"/history", authenticated.Then(docs.History(typ))).Methods("GET", "OPTIONS")
	api.Handle(item+"/history/{version}", authenticated.Then(docs.HistoryVersion(typ))).Methods("GET", "OPTIONS")
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	response.Success(w, map[string]string{
		"status":  "healthy",
		"service": "docvault-server",
	})
}

func rootHandler(types *domain.TypeRegistry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		response.Success(w, map[string]interface{}{
			"message": "Docvault Server API",
			"version": "1.0.0",
			"types":   types.All(),
		})
	}
}
