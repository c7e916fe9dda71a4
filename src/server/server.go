package server

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	logger "github.com/sirupsen/logrus"
)

// Handlers are the endpoints mounted by NewRouter. Nil handlers are not mounted.
type Handlers struct {
	Webhook           http.HandlerFunc
	Executions        http.HandlerFunc
	AccountSummary    http.HandlerFunc
	Positions         http.HandlerFunc
	CurrentPreference http.HandlerFunc
	PreferenceOptions http.HandlerFunc
	UpdatePreference  http.HandlerFunc
	PreferenceHistory http.HandlerFunc
	ExecutionStream   http.HandlerFunc
}

func mount(r chi.Router, method, pattern string, h http.HandlerFunc) {
	if h != nil {
		r.Method(method, pattern, h)
	}
}

// requestLogger logs one line per request once it is served.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		logger.WithFields(map[string]interface{}{
			"method":      r.Method,
			"path":        r.URL.Path,
			"status":      ww.Status(),
			"duration_ms": time.Since(start).Milliseconds(),
			"request_id":  middleware.GetReqID(r.Context()),
		}).Info("request served")
	})
}

func NewRouter(h Handlers) chi.Router {
	r := chi.NewRouter()

	// === Global Middleware ===
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)

	// Public routes
	r.Get("/healthcheck", func(w http.ResponseWriter, r *http.Request) {
		if _, err := w.Write([]byte("OK")); err != nil {
			logger.WithError(err).Error("healthcheck write failed")
		}
	})

	mount(r, http.MethodPost, "/webhook", h.Webhook)
	mount(r, http.MethodGet, "/executions", h.Executions)
	mount(r, http.MethodGet, "/account/summary", h.AccountSummary)
	mount(r, http.MethodGet, "/positions", h.Positions)
	mount(r, http.MethodGet, "/ws/executions", h.ExecutionStream)

	r.Route("/preferences", func(r chi.Router) {
		mount(r, http.MethodGet, "/current", h.CurrentPreference)
		mount(r, http.MethodGet, "/options", h.PreferenceOptions)
		mount(r, http.MethodGet, "/history", h.PreferenceHistory)
		mount(r, http.MethodPost, "/{field}", h.UpdatePreference)
	})

	return r
}

// StartServer serves handler until SIGINT or SIGTERM, then drains in-flight
// requests for up to shutdownTimeout.
func StartServer(port string, handler http.Handler, shutdownTimeout time.Duration) {
	addr := ":" + port
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Infof("Listening on %s", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Fatal("Server crashed")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	logger.Info("Shutting down gracefully...")
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.WithError(err).Error("Shutdown error")
	}
}
