package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/phosphorco/agenthub/internal/api/middleware"
)

// RouterConfig holds all dependencies required to build the API router.
// Handler fields that are nil receive a default "not implemented"
// handler, allowing the router to be constructed incrementally in tests.
type RouterConfig struct {
	// AuthToken is the workspace bearer token.
	AuthToken string

	// RateRPS and RateBurst configure the per-token rate limiter.
	RateRPS   float64
	RateBurst int

	// OnRateLimited is invoked once per rejected request (metrics hook).
	OnRateLimited func()

	// Handlers -----------------------------------------------------------------

	// HealthHandler serves GET /api/v1/health (no auth).
	HealthHandler http.Handler

	// MetricsHandler serves GET /metrics (no auth).
	MetricsHandler http.Handler

	// Channel routes
	CreateChannelHandler http.Handler // POST /api/v1/channels
	ListChannelsHandler  http.Handler // GET  /api/v1/channels
	CreateTopicHandler   http.Handler // POST /api/v1/channels/{channel_id}/topics
	ListTopicsHandler    http.Handler // GET  /api/v1/channels/{channel_id}/topics

	// Topic routes
	RenameTopicHandler     http.Handler // PATCH /api/v1/topics/{topic_id}
	AddAttachmentHandler   http.Handler // POST  /api/v1/topics/{topic_id}/attachments
	ListAttachmentsHandler http.Handler // GET   /api/v1/topics/{topic_id}/attachments

	// Message routes
	SendMessageHandler    http.Handler // POST   /api/v1/topics/{topic_id}/messages
	ListMessagesHandler   http.Handler // GET    /api/v1/topics/{topic_id}/messages
	GetMessageHandler     http.Handler // GET    /api/v1/messages/{message_id}
	EditMessageHandler    http.Handler // PATCH  /api/v1/messages/{message_id}
	DeleteMessageHandler  http.Handler // DELETE /api/v1/messages/{message_id}
	RetopicMessageHandler http.Handler // POST   /api/v1/messages/{message_id}/retopic
	EnrichMessageHandler  http.Handler // POST   /api/v1/messages/{message_id}/enrich

	// Event log
	EventsHandler http.Handler // GET /api/v1/events

	// Search
	SearchHandler http.Handler // GET /api/v1/search

	// WebSocket handler. Registered outside the auth middleware: auth
	// failures are reported on the socket with a 4401 close code after
	// the upgrade.
	WSHandler http.Handler // GET /api/v1/ws
}

// NewRouter builds a fully-configured *mux.Router with the middleware
// chain applied.
func NewRouter(cfg RouterConfig) *mux.Router {
	r := mux.NewRouter()

	// ---- Global middleware (applied to every route) -----------------------
	// Order matters: outermost runs first.
	r.Use(middleware.RecoveryMiddleware)
	r.Use(middleware.LoggingMiddleware)
	r.Use(middleware.BodyLimitMiddleware)

	if cfg.RateRPS > 0 {
		rl := middleware.NewRateLimitMiddleware(cfg.RateRPS, cfg.RateBurst)
		rl.OnLimited = cfg.OnRateLimited
		r.Use(rl.Limit)
	}

	// ---- Unauthenticated routes ------------------------------------------
	r.Handle("/metrics", handlerOrStub(cfg.MetricsHandler)).Methods(http.MethodGet)

	v1 := r.PathPrefix("/api/v1").Subrouter()
	v1.Handle("/health", handlerOrStub(cfg.HealthHandler)).Methods(http.MethodGet)
	v1.Handle("/ws", handlerOrStub(cfg.WSHandler)).Methods(http.MethodGet)

	// ---- Authenticated routes --------------------------------------------
	auth := v1.NewRoute().Subrouter()
	authMW := middleware.NewAuthMiddleware(cfg.AuthToken)
	auth.Use(authMW.Authenticate)

	// Channels
	auth.Handle("/channels", handlerOrStub(cfg.CreateChannelHandler)).Methods(http.MethodPost)
	auth.Handle("/channels", handlerOrStub(cfg.ListChannelsHandler)).Methods(http.MethodGet)
	auth.Handle("/channels/{channel_id}/topics", handlerOrStub(cfg.CreateTopicHandler)).Methods(http.MethodPost)
	auth.Handle("/channels/{channel_id}/topics", handlerOrStub(cfg.ListTopicsHandler)).Methods(http.MethodGet)

	// Topics
	auth.Handle("/topics/{topic_id}", handlerOrStub(cfg.RenameTopicHandler)).Methods(http.MethodPatch)
	auth.Handle("/topics/{topic_id}/attachments", handlerOrStub(cfg.AddAttachmentHandler)).Methods(http.MethodPost)
	auth.Handle("/topics/{topic_id}/attachments", handlerOrStub(cfg.ListAttachmentsHandler)).Methods(http.MethodGet)

	// Messages
	auth.Handle("/topics/{topic_id}/messages", handlerOrStub(cfg.SendMessageHandler)).Methods(http.MethodPost)
	auth.Handle("/topics/{topic_id}/messages", handlerOrStub(cfg.ListMessagesHandler)).Methods(http.MethodGet)
	auth.Handle("/messages/{message_id}", handlerOrStub(cfg.GetMessageHandler)).Methods(http.MethodGet)
	auth.Handle("/messages/{message_id}", handlerOrStub(cfg.EditMessageHandler)).Methods(http.MethodPatch)
	auth.Handle("/messages/{message_id}", handlerOrStub(cfg.DeleteMessageHandler)).Methods(http.MethodDelete)
	auth.Handle("/messages/{message_id}/retopic", handlerOrStub(cfg.RetopicMessageHandler)).Methods(http.MethodPost)
	auth.Handle("/messages/{message_id}/enrich", handlerOrStub(cfg.EnrichMessageHandler)).Methods(http.MethodPost)

	// Event log replay
	auth.Handle("/events", handlerOrStub(cfg.EventsHandler)).Methods(http.MethodGet)

	// Search
	auth.Handle("/search", handlerOrStub(cfg.SearchHandler)).Methods(http.MethodGet)

	return r
}

// handlerOrStub returns the provided handler if non-nil, otherwise a stub
// that responds with 501 Not Implemented.
func handlerOrStub(h http.Handler) http.Handler {
	if h != nil {
		return h
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		Error(w, http.StatusNotImplemented, "not_implemented", "this endpoint is not yet implemented")
	})
}
