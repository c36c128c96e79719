package main

import (
	"log"
	"net/http"
	"time"

	"github.com/joho/godotenv"

	"tourplan/internal/api"
	"tourplan/internal/config"
)

func main() {
	// Local development keeps secrets in .env; missing file is fine.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	srv, err := api.NewServer(cfg)
	if err != nil {
		log.Fatalf("failed to init server: %v", err)
	}

	worker := srv.NewWebhookWorker()
	worker.Start()
	defer close(worker.Stop)

	httpSrv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           logMiddleware(srv.Handler()),
		ReadHeaderTimeout: 5 * time.Second,
	}

	log.Printf("API listening on %s", cfg.Addr)
	if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("server error: %v", err)
	}
}

func logMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		dur := time.Since(start)
		log.Printf("%s %s %s %v", r.RemoteAddr, r.Method, r.URL.Path, dur)
	})
}
