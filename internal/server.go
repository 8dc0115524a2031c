package internal

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"roomchat/internal/chat"
	"roomchat/internal/relay"
	"roomchat/internal/storage"
)

// ServerOptions carries the collaborators and limits of the HTTP surface.
type ServerOptions struct {
	Store  *storage.Store
	Chat   *chat.Service
	Hub    *relay.Hub
	Tokens *TokenManager

	UploadDir   string
	MaxFileSize int64
	CORSOrigins []string
	// AuthRequests per AuthWindow are allowed per client IP on /api/auth.
	AuthRequests int
	AuthWindow   time.Duration
	// LivePath is where websocket clients connect.
	LivePath string
}

// Server holds the HTTP handlers for the chat API and the live endpoint.
type Server struct {
	store    *storage.Store
	chat     *chat.Service
	hub      *relay.Hub
	tokens   *TokenManager
	validate *validator.Validate

	uploadDir    string
	maxFileSize  int64
	corsOrigins  []string
	authRequests int
	authWindow   time.Duration
	livePath     string
	now          func() time.Time
}

func NewServer(opts ServerOptions) (*Server, error) {
	if opts.Store == nil || opts.Chat == nil || opts.Hub == nil || opts.Tokens == nil {
		return nil, errors.New("server requires store, chat service, hub and token manager")
	}
	if opts.MaxFileSize <= 0 {
		opts.MaxFileSize = 10 * 1024 * 1024
	}
	if opts.AuthRequests <= 0 {
		opts.AuthRequests = 20
	}
	if opts.AuthWindow <= 0 {
		opts.AuthWindow = time.Minute
	}
	if opts.LivePath == "" {
		opts.LivePath = "/live"
	}
	if len(opts.CORSOrigins) == 0 {
		opts.CORSOrigins = []string{"*"}
	}
	return &Server{
		store:        opts.Store,
		chat:         opts.Chat,
		hub:          opts.Hub,
		tokens:       opts.Tokens,
		validate:     validator.New(validator.WithRequiredStructEnabled()),
		uploadDir:    opts.UploadDir,
		maxFileSize:  opts.MaxFileSize,
		corsOrigins:  opts.CORSOrigins,
		authRequests: opts.AuthRequests,
		authWindow:   opts.AuthWindow,
		livePath:     opts.LivePath,
		now:          func() time.Time { return time.Now().UTC() },
	}, nil
}

// Handler builds the router with the full middleware chain.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(requestIDWithLogging)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.corsOrigins,
		AllowedMethods: []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders: []string{"X-Request-ID"},
		MaxAge:         300,
	}))
	r.Use(prometheusMetrics)
	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, errors.New("route not found"))
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, errors.New(http.StatusText(http.StatusMethodNotAllowed)))
	})

	r.Get("/healthz", s.HandleHealth)
	r.Handle("/metrics", promhttp.Handler())
	r.Get(s.livePath, s.ServeLive)

	r.Route("/api/auth", func(r chi.Router) {
		r.Use(httprate.LimitByIP(s.authRequests, s.authWindow))
		r.Post("/signup", s.HandleSignup)
		r.Post("/login", s.HandleLogin)
		r.Post("/logout", s.HandleLogout)
	})

	r.Route("/api/chat", func(r chi.Router) {
		r.Get("/rooms", s.HandleListRooms)
		r.Group(func(r chi.Router) {
			r.Use(s.requireAuth)
			r.Get("/rooms/my", s.HandleMyRooms)
			r.Post("/rooms", s.HandleCreateRoom)
			r.Route("/rooms/{roomID}", func(r chi.Router) {
				r.Get("/", s.HandleGetRoom)
				r.Put("/", s.HandleUpdateRoom)
				r.Delete("/", s.HandleRetireRoom)
				r.Post("/join", s.HandleJoinRoom)
				r.Post("/leave", s.HandleLeaveRoom)
				r.Put("/members/{userID}/role", s.HandleSetRole)
				r.Get("/messages", s.HandleListMessages)
				r.Post("/messages", s.HandleAppendMessage)
				r.Patch("/messages/{messageID}", s.HandleEditMessage)
				r.Post("/messages/{messageID}/reactions", s.HandleReact)
				r.Post("/files", s.HandleFileUpload)
			})
			r.Get("/files/{fileID}", s.HandleFileDownload)
		})
	})
	return r
}

type healthResponse struct {
	Status      string      `json:"status"`
	Version     string      `json:"version"`
	Database    string      `json:"database"`
	UnifiedSend bool        `json:"unifiedSend"`
	Relay       relay.Stats `json:"relay"`
}

func (s *Server) HandleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	resp := healthResponse{Status: "ok", Version: Version, Database: "ok", UnifiedSend: s.hub.Unified(), Relay: s.hub.Stats()}
	status := http.StatusOK
	if err := s.store.Ping(ctx); err != nil {
		resp.Status = "degraded"
		resp.Database = "unreachable"
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, resp)
}
