// Package api is the HTTP surface of the coordination server: the
// websocket upgrade endpoint, the image upload side channel, and the
// token-gated role administration endpoint.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"

	"github.com/gorilla/handlers"
	"github.com/pcarver/beacon/internal/config"
	"github.com/pcarver/beacon/internal/server"
)

type App struct {
	log *log.Logger
	cs  *server.ChatServer
	mux *http.Server
	cfg *config.Config
}

func NewApp(mux *http.ServeMux, logger *log.Logger, cs *server.ChatServer, cfg *config.Config) *App {
	a := &App{
		log: logger,
		cs:  cs,
		cfg: cfg,
	}

	mux.HandleFunc("GET /ws", a.serveWs)
	mux.HandleFunc("POST /upload", a.upload)
	mux.HandleFunc("POST /role", a.assignRole)
	mux.Handle("GET /uploads/", http.StripPrefix("/uploads/", http.FileServer(http.Dir(cfg.UploadDir))))

	h := handlers.CORS(
		handlers.MaxAge(3600),
		handlers.AllowedOrigins(cfg.AllowedOrigins),
		handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodOptions}),
		handlers.AllowedHeaders([]string{"Origin", "Content-Type", "Accept", "Authorization"}),
	)(mux)

	h = a.errorHandler(h)

	a.mux = &http.Server{
		Addr:    cfg.ServerAddr,
		Handler: h,
	}
	return a
}

func (a *App) Start() error {
	a.log.Printf("starting server on %s\n", a.mux.Addr)
	return a.mux.ListenAndServe()
}

func (a *App) Shutdown(ctx context.Context) error {
	a.log.Println("shutting down HTTP server...")
	if err := a.mux.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	return nil
}

func (a *App) errorHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				var panicError error
				switch e := err.(type) {
				case error:
					panicError = e
				default:
					panicError = fmt.Errorf("%v", e)
				}
				a.log.Printf("panic: %v", panicError)
				errResp := NewInternalServerError(panicError)
				w.Header().Set("Connection", "close")
				a.writeJson(w, errResp.StatusCode, errResp)
				return
			}
		}()

		next.ServeHTTP(w, r)
	})
}

func (a *App) writeJson(w http.ResponseWriter, statusCode int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		a.log.Printf("write json: %v", err)
	}
}
