// Package store is the persistence layer behind the API. Two backends
// implement the same interface: an in-memory store for development and
// tests, and Postgres for production, selected by DATABASE_URL.
package store

import (
	"context"
	"errors"
	"time"

	"tourplan/internal/model"
)

// ErrNotFound is returned by lookups for unknown identifiers.
var ErrNotFound = errors.New("not found")

// WebhookDelivery is one pending outbound webhook attempt.
type WebhookDelivery struct {
	ID             string
	SubscriptionID string
	EventType      string
	URL            string
	Secret         string
	Payload        []byte
	Attempts       int
}

// Store is the persistence interface used by the API server and the
// background job runner.
type Store interface {
	// Guests
	CreateGuest(ctx context.Context, g model.Guest) (model.Guest, error)
	GetGuest(ctx context.Context, id string) (model.Guest, error)
	GetGuests(ctx context.Context, ids []string) ([]model.Guest, error)
	ListGuests(ctx context.Context, cursor string, limit int) ([]model.Guest, string, error)
	UpdateGuest(ctx context.Context, g model.Guest) (model.Guest, error)
	DeleteGuest(ctx context.Context, id string) error

	// Vehicles
	CreateVehicle(ctx context.Context, v model.Vehicle) (model.Vehicle, error)
	GetVehicle(ctx context.Context, id string) (model.Vehicle, error)
	GetVehicles(ctx context.Context, ids []string) ([]model.Vehicle, error)
	ListVehicles(ctx context.Context, cursor string, limit int) ([]model.Vehicle, string, error)
	UpdateVehicle(ctx context.Context, v model.Vehicle) (model.Vehicle, error)
	DeleteVehicle(ctx context.Context, id string) error

	// Tours
	CreateTour(ctx context.Context, t model.Tour) (model.Tour, error)
	GetTour(ctx context.Context, id string) (model.Tour, error)
	ListTours(ctx context.Context, cursor string, limit int) ([]model.Tour, string, error)
	UpdateTourStatus(ctx context.Context, id string, status model.TourStatus) (model.Tour, error)

	// Optimization results, keyed by tour id. Saving overwrites.
	SaveResult(ctx context.Context, tourID string, res model.OptimizationResult) error
	GetResult(ctx context.Context, tourID string) (model.OptimizationResult, error)

	// Subscriptions
	CreateSubscription(ctx context.Context, req model.SubscriptionRequest) (model.Subscription, error)
	GetSubscriptionsForEvent(ctx context.Context, eventType string) ([]model.Subscription, error)
	ListSubscriptions(ctx context.Context, cursor string, limit int) ([]model.Subscription, string, error)
	DeleteSubscription(ctx context.Context, id string) error

	// Webhook delivery queue. A delivery is pending until it either
	// succeeds (delivered) or exhausts its attempts (dead).
	EnqueueWebhook(ctx context.Context, subscriptionID, eventType, url, secret string, payload []byte) (string, error)
	FetchDueWebhookDeliveries(ctx context.Context, limit int) ([]WebhookDelivery, error)
	MarkWebhookDelivery(ctx context.Context, id string, success bool, nextAttemptAt *time.Time, lastError string, responseCode int, latencyMs int) error
	FailWebhookDelivery(ctx context.Context, id string, lastError string, responseCode int, latencyMs int) error
	ListWebhookDeliveries(ctx context.Context, status, cursor string, limit int) ([]map[string]any, string, error)
	RetryWebhookDelivery(ctx context.Context, id string) error

	// Ping reports backend health for readiness probes.
	Ping(ctx context.Context) error
}
