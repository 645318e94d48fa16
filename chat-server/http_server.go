package main

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"

	"github.com/gosuda/socket-chat/chat-server/chat"
)

// HTTPServer wires the health check and the websocket endpoint to the router.
type HTTPServer struct {
	router   *chat.Router
	cfg      Config
	log      zerolog.Logger
	upgrader websocket.Upgrader
	newID    func() string
}

func NewHTTPServer(router *chat.Router, cfg Config, log zerolog.Logger) *HTTPServer {
	s := &HTTPServer{
		router: router,
		cfg:    cfg,
		log:    log,
		newID:  uuid.NewString,
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:   1024,
		WriteBufferSize:  1024,
		HandshakeTimeout: 10 * time.Second,
		CheckOrigin: func(r *http.Request) bool {
			return s.cfg.ClientURL.Allows(r.Header.Get("Origin"))
		},
	}
	return s
}

func (s *HTTPServer) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(hlog.NewHandler(s.log))
	r.Use(hlog.RemoteAddrHandler("remote"))
	r.Use(hlog.RequestIDHandler("req_id", "X-Request-Id"))
	r.Use(hlog.AccessHandler(func(r *http.Request, status, size int, d time.Duration) {
		hlog.FromRequest(r).Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", status).
			Int("size", size).
			Dur("duration", d).
			Msg("http")
	}))
	r.Get("/health", s.handleHealth)
	r.Get("/ws", s.handleWebSocket)
	return r
}

func (s *HTTPServer) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func (s *HTTPServer) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		hlog.FromRequest(r).Warn().Err(err).Str("origin", r.Header.Get("Origin")).Msg("[chat] upgrade websocket")
		return
	}

	client := NewClient(s.newID(), conn, s.router, s.cfg, s.log)
	s.router.Connect(client)

	go client.writeLoop()
	client.readLoop()
}
