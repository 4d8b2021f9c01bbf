package http

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/go-chi/httplog/v2"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/codeclash/proctor/signaling"
)

// HttpServer is the signaling relay's HTTP surface: the two websocket
// endpoints, room readouts, health and metrics.
type HttpServer struct {
	hub    *signaling.Hub
	router *chi.Mux
}

func NewHttpServer(
	hub *signaling.Hub,
	jwtKey []byte,
	allowedOrigins []string,
) *HttpServer {
	router := chi.NewRouter()

	logger := httplog.NewLogger("proctor-relay", httplog.Options{
		LogLevel:         slog.LevelDebug,
		Concise:          true,
		RequestHeaders:   true,
		MessageFieldName: "message",
		Tags: map[string]string{
			"env": "dev",
		},
	})

	router.Use(httplog.RequestLogger(logger, []string{"/healthz", "/metrics"}))

	router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
		MaxAge:           3000,
	}))

	router.Use(getJwtAuthMiddleware(jwtKey))

	server := &HttpServer{
		hub:    hub,
		router: router,
	}

	server.routes()

	return server
}

func (httpserver *HttpServer) Start(address string) error {
	return http.ListenAndServe(address, httpserver.router)
}

func (httpserver *HttpServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	httpserver.router.ServeHTTP(w, r)
}

func (httpserver *HttpServer) routes() {
	r := httpserver.router
	r.Get("/ws/contests/{contestId}/participant", httpserver.serveParticipantSocket)
	r.Get("/ws/contests/{contestId}/proctor", httpserver.serveProctorSocket)
	r.Get("/contests/{contestId}/participants", httpserver.listParticipants)
	r.Get("/healthz", httpserver.healthz)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())
}

func (httpserver *HttpServer) healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}
