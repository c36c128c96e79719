package api

import (
	"context"
	"log"
	"net/http"
	"strings"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"tourplan/internal/config"
	"tourplan/internal/engine"
	"tourplan/internal/geo"
	"tourplan/internal/jobs"
	"tourplan/internal/metrics"
	"tourplan/internal/store"
	"tourplan/internal/webhooks"
)

type Server struct {
	Cfg    config.Config
	Store  store.Store
	Broker EventBroker
	Pub    *webhooks.Publisher
	Runner *jobs.Runner
}

// NewServer wires the whole service from config: Postgres when
// DATABASE_URL is set (in-memory otherwise), Redis-backed event fan-out
// when REDIS_URL is set, live distance lookups when MAPS_API_KEY is set.
func NewServer(cfg config.Config) (*Server, error) {
	var st store.Store
	if strings.TrimSpace(cfg.DatabaseURL) == "" {
		st = store.NewMemory()
	} else {
		pg, err := store.NewPostgres(cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		if err := pg.MigrateDir(context.Background(), cfg.MigrationsDir); err != nil {
			return nil, err
		}
		st = pg
	}

	var broker EventBroker
	if cfg.RedisURL != "" {
		rb, err := NewRedisBroker(cfg.RedisURL)
		if err != nil {
			log.Printf("redis broker unavailable, using in-memory: %v", err)
			broker = NewBroker()
		} else {
			broker = rb
		}
	} else {
		broker = NewBroker()
	}

	var provider geo.MatrixProvider
	if cfg.MapsAPIKey != "" {
		provider = geo.NewLiveMatrix(cfg.MapsAPIKey, cfg.MapsBaseURL, cfg.SpeedKPH)
	} else {
		provider = geo.NewHaversine(cfg.SpeedKPH)
	}

	eng := engine.New(provider, engine.Config{
		Depot:            cfg.DepotLocation(),
		SolveBudget:      cfg.SolveBudget(),
		LargeSolveBudget: cfg.LargeSolveBudget(),
	})

	pub := webhooks.NewPublisher(st)
	runner := jobs.NewRunner(st, eng)
	runner.Notifier = brokerNotifier{broker: broker}
	runner.Emitter = pub

	metrics.RegisterDefault()
	return &Server{Cfg: cfg, Store: st, Broker: broker, Pub: pub, Runner: runner}, nil
}

// NewWebhookWorker creates the background worker for webhook deliveries.
func (s *Server) NewWebhookWorker() *webhooks.Worker {
	return webhooks.NewWorker(s.Store)
}

// Routes returns the service mux.
func (s *Server) Routes() *http.ServeMux {
	mux := http.NewServeMux()

	// Fleet and guest registry
	mux.HandleFunc("/v1/guests", s.GuestsHandler)
	mux.HandleFunc("/v1/guests/", s.GuestByIDHandler)
	mux.HandleFunc("/v1/vehicles", s.VehiclesHandler)
	mux.HandleFunc("/v1/vehicles/", s.VehicleByIDHandler)

	// Tours
	mux.HandleFunc("/v1/tours", s.ToursHandler)
	mux.HandleFunc("/v1/tours/", s.TourByIDHandler) // includes /result

	// Optimization jobs
	mux.HandleFunc("/v1/optimize/route", s.OptimizeHandler)
	mux.HandleFunc("/v1/optimize/status/", s.OptimizeStatusHandler)
	mux.HandleFunc("/v1/optimize/result/", s.OptimizeResultHandler)
	mux.HandleFunc("/v1/jobs/", s.JobByIDHandler) // /events/stream and /ws

	// Webhook subscriptions and delivery queue
	mux.HandleFunc("/v1/subscriptions", s.SubscriptionsHandler)
	mux.HandleFunc("/v1/subscriptions/", s.SubscriptionByIDHandler)
	mux.HandleFunc("/v1/admin/webhook-deliveries", s.WebhookDeliveriesHandler)
	mux.HandleFunc("/v1/admin/webhook-deliveries/", s.WebhookDeliveryRetryHandler)

	// Ops
	mux.HandleFunc("/healthz", s.HealthHandler)
	mux.HandleFunc("/readyz", s.ReadyHandler)
	mux.HandleFunc("/v1/debug/config", s.DebugConfigHandler)
	mux.Handle("/metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}))

	return mux
}

// Handler wraps the mux with rate limiting and request metrics.
func (s *Server) Handler() http.Handler {
	return rateLimitMiddleware(metricsMiddleware(s.Routes()), s.Cfg.RateRPS, s.Cfg.RateBurst)
}
