package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"

	"tourplan/internal/model"
)

// Postgres persists entities as JSONB documents keyed by id. Connection
// and driver setup go through database/sql with the pgx driver.
type Postgres struct {
	db *sql.DB
}

func NewPostgres(dsn string) (*Postgres, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		return nil, err
	}
	return &Postgres{db: db}, nil
}

// MigrateDir applies every .sql file in dir in lexical order. Files are
// expected to be idempotent (CREATE TABLE IF NOT EXISTS).
func (p *Postgres) MigrateDir(ctx context.Context, dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() && filepath.Ext(e.Name()) == ".sql" {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	for _, name := range names {
		sqlBytes, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return err
		}
		if _, err := p.db.ExecContext(ctx, string(sqlBytes)); err != nil {
			return fmt.Errorf("migrate %s: %w", name, err)
		}
	}
	return nil
}

func toJSON(v any) []byte {
	b, _ := json.Marshal(v)
	return b
}

func getDoc[T any](ctx context.Context, db *sql.DB, table, id string) (T, error) {
	var out T
	var doc []byte
	err := db.QueryRowContext(ctx, `SELECT doc FROM `+table+` WHERE id=$1`, id).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return out, ErrNotFound
	}
	if err != nil {
		return out, err
	}
	return out, json.Unmarshal(doc, &out)
}

func listDocs[T any](ctx context.Context, db *sql.DB, table, cursor string, limit int) ([]T, string, error) {
	limit = clampLimit(limit)
	var rows *sql.Rows
	var err error
	if cursor != "" {
		rows, err = db.QueryContext(ctx,
			`SELECT id, doc FROM `+table+` WHERE id > $1 ORDER BY id LIMIT $2`, cursor, limit)
	} else {
		rows, err = db.QueryContext(ctx,
			`SELECT id, doc FROM `+table+` ORDER BY id LIMIT $1`, limit)
	}
	if err != nil {
		return nil, "", err
	}
	defer rows.Close()

	out := []T{}
	var next string
	for rows.Next() {
		var id string
		var doc []byte
		if err := rows.Scan(&id, &doc); err != nil {
			return nil, "", err
		}
		var item T
		if err := json.Unmarshal(doc, &item); err != nil {
			return nil, "", err
		}
		out = append(out, item)
		next = id
	}
	if len(out) < limit {
		next = ""
	}
	return out, next, rows.Err()
}

// Guests

func (p *Postgres) CreateGuest(ctx context.Context, g model.Guest) (model.Guest, error) {
	if g.ID == "" {
		g.ID = uuid.New().String()
	}
	_, err := p.db.ExecContext(ctx,
		`INSERT INTO guests (id, doc) VALUES ($1, $2)`, g.ID, toJSON(g))
	return g, err
}

func (p *Postgres) GetGuest(ctx context.Context, id string) (model.Guest, error) {
	return getDoc[model.Guest](ctx, p.db, "guests", id)
}

func (p *Postgres) GetGuests(ctx context.Context, ids []string) ([]model.Guest, error) {
	out := make([]model.Guest, 0, len(ids))
	for _, id := range ids {
		g, err := p.GetGuest(ctx, id)
		if err != nil {
			return nil, err
		}
		out = append(out, g)
	}
	return out, nil
}

func (p *Postgres) ListGuests(ctx context.Context, cursor string, limit int) ([]model.Guest, string, error) {
	return listDocs[model.Guest](ctx, p.db, "guests", cursor, limit)
}

func (p *Postgres) UpdateGuest(ctx context.Context, g model.Guest) (model.Guest, error) {
	res, err := p.db.ExecContext(ctx,
		`UPDATE guests SET doc=$2 WHERE id=$1`, g.ID, toJSON(g))
	if err != nil {
		return model.Guest{}, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return model.Guest{}, ErrNotFound
	}
	return g, nil
}

func (p *Postgres) DeleteGuest(ctx context.Context, id string) error {
	return p.deleteByID(ctx, "guests", id)
}

// Vehicles

func (p *Postgres) CreateVehicle(ctx context.Context, v model.Vehicle) (model.Vehicle, error) {
	if v.ID == "" {
		v.ID = uuid.New().String()
	}
	_, err := p.db.ExecContext(ctx,
		`INSERT INTO vehicles (id, doc) VALUES ($1, $2)`, v.ID, toJSON(v))
	return v, err
}

func (p *Postgres) GetVehicle(ctx context.Context, id string) (model.Vehicle, error) {
	return getDoc[model.Vehicle](ctx, p.db, "vehicles", id)
}

func (p *Postgres) GetVehicles(ctx context.Context, ids []string) ([]model.Vehicle, error) {
	out := make([]model.Vehicle, 0, len(ids))
	for _, id := range ids {
		v, err := p.GetVehicle(ctx, id)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

func (p *Postgres) ListVehicles(ctx context.Context, cursor string, limit int) ([]model.Vehicle, string, error) {
	return listDocs[model.Vehicle](ctx, p.db, "vehicles", cursor, limit)
}

func (p *Postgres) UpdateVehicle(ctx context.Context, v model.Vehicle) (model.Vehicle, error) {
	res, err := p.db.ExecContext(ctx,
		`UPDATE vehicles SET doc=$2 WHERE id=$1`, v.ID, toJSON(v))
	if err != nil {
		return model.Vehicle{}, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return model.Vehicle{}, ErrNotFound
	}
	return v, nil
}

func (p *Postgres) DeleteVehicle(ctx context.Context, id string) error {
	return p.deleteByID(ctx, "vehicles", id)
}

// Tours

func (p *Postgres) CreateTour(ctx context.Context, t model.Tour) (model.Tour, error) {
	if t.ID == "" {
		t.ID = "tour_" + time.Now().Format("20060102150405")
	}
	if t.Status == "" {
		t.Status = model.TourPlanned
	}
	_, err := p.db.ExecContext(ctx,
		`INSERT INTO tours (id, status, doc) VALUES ($1, $2, $3)`, t.ID, string(t.Status), toJSON(t))
	return t, err
}

func (p *Postgres) GetTour(ctx context.Context, id string) (model.Tour, error) {
	return getDoc[model.Tour](ctx, p.db, "tours", id)
}

func (p *Postgres) ListTours(ctx context.Context, cursor string, limit int) ([]model.Tour, string, error) {
	return listDocs[model.Tour](ctx, p.db, "tours", cursor, limit)
}

func (p *Postgres) UpdateTourStatus(ctx context.Context, id string, status model.TourStatus) (model.Tour, error) {
	t, err := p.GetTour(ctx, id)
	if err != nil {
		return model.Tour{}, err
	}
	t.Status = status
	_, err = p.db.ExecContext(ctx,
		`UPDATE tours SET status=$2, doc=$3 WHERE id=$1`, id, string(status), toJSON(t))
	return t, err
}

// Results

func (p *Postgres) SaveResult(ctx context.Context, tourID string, res model.OptimizationResult) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO optimization_results (tour_id, doc, updated_at) VALUES ($1, $2, now())
		ON CONFLICT (tour_id) DO UPDATE SET doc=EXCLUDED.doc, updated_at=now()`,
		tourID, toJSON(res))
	return err
}

func (p *Postgres) GetResult(ctx context.Context, tourID string) (model.OptimizationResult, error) {
	var doc []byte
	err := p.db.QueryRowContext(ctx,
		`SELECT doc FROM optimization_results WHERE tour_id=$1`, tourID).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return model.OptimizationResult{}, ErrNotFound
	}
	if err != nil {
		return model.OptimizationResult{}, err
	}
	var res model.OptimizationResult
	return res, json.Unmarshal(doc, &res)
}

// Subscriptions

func (p *Postgres) CreateSubscription(ctx context.Context, req model.SubscriptionRequest) (model.Subscription, error) {
	sub := model.Subscription{
		ID:     uuid.New().String(),
		URL:    req.URL,
		Events: append([]string(nil), req.Events...),
		Secret: req.Secret,
	}
	_, err := p.db.ExecContext(ctx,
		`INSERT INTO subscriptions (id, url, events, secret) VALUES ($1, $2, $3, $4)`,
		sub.ID, sub.URL, toJSON(sub.Events), sub.Secret)
	return sub, err
}

func (p *Postgres) GetSubscriptionsForEvent(ctx context.Context, eventType string) ([]model.Subscription, error) {
	rows, err := p.db.QueryContext(ctx,
		`SELECT id, url, events, secret FROM subscriptions WHERE events ? $1 OR events ? '*'`, eventType)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanSubscriptions(rows)
}

func (p *Postgres) ListSubscriptions(ctx context.Context, cursor string, limit int) ([]model.Subscription, string, error) {
	limit = clampLimit(limit)
	var rows *sql.Rows
	var err error
	if cursor != "" {
		rows, err = p.db.QueryContext(ctx,
			`SELECT id, url, events, secret FROM subscriptions WHERE id > $1 ORDER BY id LIMIT $2`, cursor, limit)
	} else {
		rows, err = p.db.QueryContext(ctx,
			`SELECT id, url, events, secret FROM subscriptions ORDER BY id LIMIT $1`, limit)
	}
	if err != nil {
		return nil, "", err
	}
	defer rows.Close()
	subs, err := scanSubscriptions(rows)
	if err != nil {
		return nil, "", err
	}
	var next string
	if len(subs) == limit {
		next = subs[len(subs)-1].ID
	}
	return subs, next, nil
}

func scanSubscriptions(rows *sql.Rows) ([]model.Subscription, error) {
	out := []model.Subscription{}
	for rows.Next() {
		var sub model.Subscription
		var events []byte
		if err := rows.Scan(&sub.ID, &sub.URL, &events, &sub.Secret); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(events, &sub.Events); err != nil {
			return nil, err
		}
		out = append(out, sub)
	}
	return out, rows.Err()
}

func (p *Postgres) DeleteSubscription(ctx context.Context, id string) error {
	return p.deleteByID(ctx, "subscriptions", id)
}

// Webhook deliveries

func (p *Postgres) EnqueueWebhook(ctx context.Context, subscriptionID, eventType, url, secret string, payload []byte) (string, error) {
	id := uuid.New().String()
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO webhook_deliveries (id, subscription_id, event_type, url, secret, payload, attempts, status, next_attempt_at)
		VALUES ($1, $2, $3, $4, $5, $6, 0, 'pending', now())`,
		id, subscriptionID, eventType, url, secret, payload)
	return id, err
}

func (p *Postgres) FetchDueWebhookDeliveries(ctx context.Context, limit int) ([]WebhookDelivery, error) {
	limit = clampLimit(limit)
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, subscription_id, event_type, url, secret, payload, attempts
		FROM webhook_deliveries
		WHERE status='pending' AND next_attempt_at <= now()
		ORDER BY next_attempt_at LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []WebhookDelivery
	for rows.Next() {
		var d WebhookDelivery
		if err := rows.Scan(&d.ID, &d.SubscriptionID, &d.EventType, &d.URL, &d.Secret, &d.Payload, &d.Attempts); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (p *Postgres) MarkWebhookDelivery(ctx context.Context, id string, success bool, nextAttemptAt *time.Time, lastError string, responseCode int, latencyMs int) error {
	if success {
		_, err := p.db.ExecContext(ctx, `
			UPDATE webhook_deliveries
			SET status='delivered', attempts=attempts+1, last_error='', response_code=$2, latency_ms=$3, delivered_at=now()
			WHERE id=$1`, id, responseCode, latencyMs)
		return err
	}
	_, err := p.db.ExecContext(ctx, `
		UPDATE webhook_deliveries
		SET attempts=attempts+1, last_error=$2, response_code=$3, latency_ms=$4, next_attempt_at=COALESCE($5, next_attempt_at)
		WHERE id=$1`, id, lastError, responseCode, latencyMs, nextAttemptAt)
	return err
}

func (p *Postgres) FailWebhookDelivery(ctx context.Context, id string, lastError string, responseCode int, latencyMs int) error {
	_, err := p.db.ExecContext(ctx, `
		UPDATE webhook_deliveries
		SET status='dead', last_error=$2, response_code=$3, latency_ms=$4
		WHERE id=$1`, id, lastError, responseCode, latencyMs)
	return err
}

func (p *Postgres) ListWebhookDeliveries(ctx context.Context, status, cursor string, limit int) ([]map[string]any, string, error) {
	limit = clampLimit(limit)
	q := `SELECT id, event_type, status, attempts, next_attempt_at, last_error, url FROM webhook_deliveries`
	args := []any{}
	where := []string{}
	if status != "" {
		args = append(args, status)
		where = append(where, fmt.Sprintf("status=$%d", len(args)))
	}
	if cursor != "" {
		args = append(args, cursor)
		where = append(where, fmt.Sprintf("id > $%d", len(args)))
	}
	for i, cond := range where {
		if i == 0 {
			q += " WHERE " + cond
		} else {
			q += " AND " + cond
		}
	}
	args = append(args, limit)
	q += fmt.Sprintf(" ORDER BY id LIMIT $%d", len(args))

	rows, err := p.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, "", err
	}
	defer rows.Close()

	out := []map[string]any{}
	var next string
	for rows.Next() {
		var id, typ, st, url string
		var attempts int
		var nextAt sql.NullTime
		var lastErr sql.NullString
		if err := rows.Scan(&id, &typ, &st, &attempts, &nextAt, &lastErr, &url); err != nil {
			return nil, "", err
		}
		item := map[string]any{"id": id, "eventType": typ, "status": st, "attempts": attempts, "url": url}
		if nextAt.Valid && st == "pending" {
			item["nextAttemptAt"] = nextAt.Time
		}
		if lastErr.Valid && lastErr.String != "" {
			item["lastError"] = lastErr.String
		}
		out = append(out, item)
		next = id
	}
	if len(out) < limit {
		next = ""
	}
	return out, next, rows.Err()
}

func (p *Postgres) RetryWebhookDelivery(ctx context.Context, id string) error {
	res, err := p.db.ExecContext(ctx,
		`UPDATE webhook_deliveries SET status='pending', next_attempt_at=now() WHERE id=$1`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *Postgres) Ping(ctx context.Context) error {
	return p.db.PingContext(ctx)
}

func (p *Postgres) deleteByID(ctx context.Context, table, id string) error {
	res, err := p.db.ExecContext(ctx, `DELETE FROM `+table+` WHERE id=$1`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
