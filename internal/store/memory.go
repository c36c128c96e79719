package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"tourplan/internal/model"
)

// Memory is the in-memory store used when no DATABASE_URL is set.
type Memory struct {
	mu       sync.Mutex
	guests   map[string]model.Guest
	guestIDs []string // insertion order, for stable listing
	vehicles map[string]model.Vehicle
	vehIDs   []string
	tours    map[string]model.Tour
	tourIDs  []string
	results  map[string]model.OptimizationResult // tour id -> result
	subs     map[string]model.Subscription
	subIDs   []string

	deliveries map[string]*memDelivery
	delivIDs   []string
}

// memDelivery augments WebhookDelivery with scheduling state. Status is
// pending, delivered, or dead.
type memDelivery struct {
	WebhookDelivery
	Status        string
	NextAttemptAt time.Time
	LastError     string
	ResponseCode  int
	LatencyMs     int
}

func NewMemory() *Memory {
	return &Memory{
		guests:     map[string]model.Guest{},
		vehicles:   map[string]model.Vehicle{},
		tours:      map[string]model.Tour{},
		results:    map[string]model.OptimizationResult{},
		subs:       map[string]model.Subscription{},
		deliveries: map[string]*memDelivery{},
	}
}

func cursorStart(ids []string, cursor string) int {
	if cursor == "" {
		return 0
	}
	for i, id := range ids {
		if id == cursor {
			return i + 1
		}
	}
	return 0
}

func clampLimit(limit int) int {
	if limit <= 0 || limit > 500 {
		return 100
	}
	return limit
}

// Guests

func (m *Memory) CreateGuest(ctx context.Context, g model.Guest) (model.Guest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if g.ID == "" {
		g.ID = uuid.New().String()
	}
	m.guests[g.ID] = g
	m.guestIDs = append(m.guestIDs, g.ID)
	return g, nil
}

func (m *Memory) GetGuest(ctx context.Context, id string) (model.Guest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	g, ok := m.guests[id]
	if !ok {
		return model.Guest{}, ErrNotFound
	}
	return g, nil
}

func (m *Memory) GetGuests(ctx context.Context, ids []string) ([]model.Guest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]model.Guest, 0, len(ids))
	for _, id := range ids {
		g, ok := m.guests[id]
		if !ok {
			return nil, ErrNotFound
		}
		out = append(out, g)
	}
	return out, nil
}

func (m *Memory) ListGuests(ctx context.Context, cursor string, limit int) ([]model.Guest, string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	limit = clampLimit(limit)
	out := []model.Guest{}
	var next string
	for i := cursorStart(m.guestIDs, cursor); i < len(m.guestIDs) && len(out) < limit; i++ {
		out = append(out, m.guests[m.guestIDs[i]])
		next = m.guestIDs[i]
	}
	if len(out) < limit {
		next = ""
	}
	return out, next, nil
}

func (m *Memory) UpdateGuest(ctx context.Context, g model.Guest) (model.Guest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.guests[g.ID]; !ok {
		return model.Guest{}, ErrNotFound
	}
	m.guests[g.ID] = g
	return g, nil
}

func (m *Memory) DeleteGuest(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.guests[id]; !ok {
		return ErrNotFound
	}
	delete(m.guests, id)
	m.guestIDs = removeID(m.guestIDs, id)
	return nil
}

// Vehicles

func (m *Memory) CreateVehicle(ctx context.Context, v model.Vehicle) (model.Vehicle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if v.ID == "" {
		v.ID = uuid.New().String()
	}
	m.vehicles[v.ID] = v
	m.vehIDs = append(m.vehIDs, v.ID)
	return v, nil
}

func (m *Memory) GetVehicle(ctx context.Context, id string) (model.Vehicle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.vehicles[id]
	if !ok {
		return model.Vehicle{}, ErrNotFound
	}
	return v, nil
}

func (m *Memory) GetVehicles(ctx context.Context, ids []string) ([]model.Vehicle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]model.Vehicle, 0, len(ids))
	for _, id := range ids {
		v, ok := m.vehicles[id]
		if !ok {
			return nil, ErrNotFound
		}
		out = append(out, v)
	}
	return out, nil
}

func (m *Memory) ListVehicles(ctx context.Context, cursor string, limit int) ([]model.Vehicle, string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	limit = clampLimit(limit)
	out := []model.Vehicle{}
	var next string
	for i := cursorStart(m.vehIDs, cursor); i < len(m.vehIDs) && len(out) < limit; i++ {
		out = append(out, m.vehicles[m.vehIDs[i]])
		next = m.vehIDs[i]
	}
	if len(out) < limit {
		next = ""
	}
	return out, next, nil
}

func (m *Memory) UpdateVehicle(ctx context.Context, v model.Vehicle) (model.Vehicle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.vehicles[v.ID]; !ok {
		return model.Vehicle{}, ErrNotFound
	}
	m.vehicles[v.ID] = v
	return v, nil
}

func (m *Memory) DeleteVehicle(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.vehicles[id]; !ok {
		return ErrNotFound
	}
	delete(m.vehicles, id)
	m.vehIDs = removeID(m.vehIDs, id)
	return nil
}

// Tours

func (m *Memory) CreateTour(ctx context.Context, t model.Tour) (model.Tour, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t.ID == "" {
		t.ID = "tour_" + time.Now().Format("20060102150405")
	}
	if t.Status == "" {
		t.Status = model.TourPlanned
	}
	m.tours[t.ID] = t
	m.tourIDs = append(m.tourIDs, t.ID)
	return t, nil
}

func (m *Memory) GetTour(ctx context.Context, id string) (model.Tour, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tours[id]
	if !ok {
		return model.Tour{}, ErrNotFound
	}
	return t, nil
}

func (m *Memory) ListTours(ctx context.Context, cursor string, limit int) ([]model.Tour, string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	limit = clampLimit(limit)
	out := []model.Tour{}
	var next string
	for i := cursorStart(m.tourIDs, cursor); i < len(m.tourIDs) && len(out) < limit; i++ {
		out = append(out, m.tours[m.tourIDs[i]])
		next = m.tourIDs[i]
	}
	if len(out) < limit {
		next = ""
	}
	return out, next, nil
}

func (m *Memory) UpdateTourStatus(ctx context.Context, id string, status model.TourStatus) (model.Tour, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tours[id]
	if !ok {
		return model.Tour{}, ErrNotFound
	}
	t.Status = status
	m.tours[id] = t
	return t, nil
}

// Results

func (m *Memory) SaveResult(ctx context.Context, tourID string, res model.OptimizationResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.results[tourID] = res
	return nil
}

func (m *Memory) GetResult(ctx context.Context, tourID string) (model.OptimizationResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	res, ok := m.results[tourID]
	if !ok {
		return model.OptimizationResult{}, ErrNotFound
	}
	return res, nil
}

// Subscriptions

func (m *Memory) CreateSubscription(ctx context.Context, req model.SubscriptionRequest) (model.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sub := model.Subscription{
		ID:     uuid.New().String(),
		URL:    req.URL,
		Events: append([]string(nil), req.Events...),
		Secret: req.Secret,
	}
	m.subs[sub.ID] = sub
	m.subIDs = append(m.subIDs, sub.ID)
	return sub, nil
}

func (m *Memory) GetSubscriptionsForEvent(ctx context.Context, eventType string) ([]model.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.Subscription
	for _, id := range m.subIDs {
		sub := m.subs[id]
		for _, ev := range sub.Events {
			if ev == eventType || ev == "*" {
				out = append(out, sub)
				break
			}
		}
	}
	return out, nil
}

func (m *Memory) ListSubscriptions(ctx context.Context, cursor string, limit int) ([]model.Subscription, string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	limit = clampLimit(limit)
	out := []model.Subscription{}
	var next string
	for i := cursorStart(m.subIDs, cursor); i < len(m.subIDs) && len(out) < limit; i++ {
		out = append(out, m.subs[m.subIDs[i]])
		next = m.subIDs[i]
	}
	if len(out) < limit {
		next = ""
	}
	return out, next, nil
}

func (m *Memory) DeleteSubscription(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.subs[id]; !ok {
		return ErrNotFound
	}
	delete(m.subs, id)
	m.subIDs = removeID(m.subIDs, id)
	return nil
}

// Webhook deliveries

func (m *Memory) EnqueueWebhook(ctx context.Context, subscriptionID, eventType, url, secret string, payload []byte) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := uuid.New().String()
	m.deliveries[id] = &memDelivery{
		WebhookDelivery: WebhookDelivery{
			ID:             id,
			SubscriptionID: subscriptionID,
			EventType:      eventType,
			URL:            url,
			Secret:         secret,
			Payload:        append([]byte(nil), payload...),
		},
		Status:        "pending",
		NextAttemptAt: time.Now(),
	}
	m.delivIDs = append(m.delivIDs, id)
	return id, nil
}

func (m *Memory) FetchDueWebhookDeliveries(ctx context.Context, limit int) ([]WebhookDelivery, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	limit = clampLimit(limit)
	now := time.Now()
	var due []WebhookDelivery
	for _, id := range m.delivIDs {
		d := m.deliveries[id]
		if d.Status != "pending" || d.NextAttemptAt.After(now) {
			continue
		}
		due = append(due, d.WebhookDelivery)
		if len(due) >= limit {
			break
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].ID < due[j].ID })
	return due, nil
}

func (m *Memory) MarkWebhookDelivery(ctx context.Context, id string, success bool, nextAttemptAt *time.Time, lastError string, responseCode int, latencyMs int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.deliveries[id]
	if !ok {
		return ErrNotFound
	}
	d.Attempts++
	d.LastError = lastError
	d.ResponseCode = responseCode
	d.LatencyMs = latencyMs
	if success {
		d.Status = "delivered"
	} else if nextAttemptAt != nil {
		d.NextAttemptAt = *nextAttemptAt
	}
	return nil
}

func (m *Memory) FailWebhookDelivery(ctx context.Context, id string, lastError string, responseCode int, latencyMs int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.deliveries[id]
	if !ok {
		return ErrNotFound
	}
	d.Status = "dead"
	d.LastError = lastError
	d.ResponseCode = responseCode
	d.LatencyMs = latencyMs
	return nil
}

func (m *Memory) ListWebhookDeliveries(ctx context.Context, status, cursor string, limit int) ([]map[string]any, string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	limit = clampLimit(limit)
	out := []map[string]any{}
	var next string
	for i := cursorStart(m.delivIDs, cursor); i < len(m.delivIDs) && len(out) < limit; i++ {
		d := m.deliveries[m.delivIDs[i]]
		if status != "" && d.Status != status {
			continue
		}
		item := map[string]any{
			"id":        d.ID,
			"eventType": d.EventType,
			"status":    d.Status,
			"attempts":  d.Attempts,
			"url":       d.URL,
		}
		if d.Status == "pending" {
			item["nextAttemptAt"] = d.NextAttemptAt
		}
		if d.LastError != "" {
			item["lastError"] = d.LastError
		}
		out = append(out, item)
		next = d.ID
	}
	if len(out) < limit {
		next = ""
	}
	return out, next, nil
}

func (m *Memory) RetryWebhookDelivery(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.deliveries[id]
	if !ok {
		return ErrNotFound
	}
	d.Status = "pending"
	d.NextAttemptAt = time.Now()
	return nil
}

func (m *Memory) Ping(ctx context.Context) error { return nil }

func removeID(ids []string, id string) []string {
	for i, v := range ids {
		if v == id {
			return append(ids[:i], ids[i+1:]...)
		}
	}
	return ids
}
