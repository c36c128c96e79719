package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tourplan/internal/model"
)

func TestMemoryGuestCRUD(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	g, err := m.CreateGuest(ctx, model.Guest{Name: "Tanaka", NumAdults: 2})
	require.NoError(t, err)
	require.NotEmpty(t, g.ID)

	got, err := m.GetGuest(ctx, g.ID)
	require.NoError(t, err)
	assert.Equal(t, "Tanaka", got.Name)

	g.NumChildren = 1
	_, err = m.UpdateGuest(ctx, g)
	require.NoError(t, err)
	got, _ = m.GetGuest(ctx, g.ID)
	assert.Equal(t, 1, got.NumChildren)

	require.NoError(t, m.DeleteGuest(ctx, g.ID))
	_, err = m.GetGuest(ctx, g.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, m.DeleteGuest(ctx, g.ID), ErrNotFound)
}

func TestMemoryGetGuestsMissingID(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	g, _ := m.CreateGuest(ctx, model.Guest{Name: "a"})

	_, err := m.GetGuests(ctx, []string{g.ID, "nope"})
	assert.ErrorIs(t, err, ErrNotFound)

	got, err := m.GetGuests(ctx, []string{g.ID})
	require.NoError(t, err)
	require.Len(t, got, 1)
}

func TestMemoryListCursor(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	for i := 0; i < 5; i++ {
		_, err := m.CreateVehicle(ctx, model.Vehicle{Name: "v", CapacityAdults: 4})
		require.NoError(t, err)
	}

	page1, next, err := m.ListVehicles(ctx, "", 2)
	require.NoError(t, err)
	require.Len(t, page1, 2)
	require.NotEmpty(t, next)

	page2, next2, err := m.ListVehicles(ctx, next, 2)
	require.NoError(t, err)
	require.Len(t, page2, 2)
	assert.NotEqual(t, page1[0].ID, page2[0].ID)

	page3, next3, err := m.ListVehicles(ctx, next2, 2)
	require.NoError(t, err)
	require.Len(t, page3, 1)
	assert.Empty(t, next3)
}

func TestMemoryTourStatusAndResult(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	tour, err := m.CreateTour(ctx, model.Tour{TourDate: "2026-08-01", ActivityType: "diving"})
	require.NoError(t, err)
	assert.Equal(t, model.TourPlanned, tour.Status)

	updated, err := m.UpdateTourStatus(ctx, tour.ID, model.TourOptimized)
	require.NoError(t, err)
	assert.Equal(t, model.TourOptimized, updated.Status)

	res := model.OptimizationResult{TourID: tour.ID, Status: model.ResultSuccess}
	require.NoError(t, m.SaveResult(ctx, tour.ID, res))
	got, err := m.GetResult(ctx, tour.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ResultSuccess, got.Status)

	_, err = m.GetResult(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemorySubscriptionsForEvent(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	_, err := m.CreateSubscription(ctx, model.SubscriptionRequest{
		URL: "https://example.com/a", Events: []string{"optimization.completed"},
	})
	require.NoError(t, err)
	_, err = m.CreateSubscription(ctx, model.SubscriptionRequest{
		URL: "https://example.com/b", Events: []string{"*"},
	})
	require.NoError(t, err)
	_, err = m.CreateSubscription(ctx, model.SubscriptionRequest{
		URL: "https://example.com/c", Events: []string{"optimization.failed"},
	})
	require.NoError(t, err)

	subs, err := m.GetSubscriptionsForEvent(ctx, "optimization.completed")
	require.NoError(t, err)
	require.Len(t, subs, 2)
}

func TestMemoryWebhookQueue(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	id, err := m.EnqueueWebhook(ctx, "sub1", "optimization.completed", "https://example.com/hook", "s3cret", []byte(`{}`))
	require.NoError(t, err)

	due, err := m.FetchDueWebhookDeliveries(ctx, 10)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, id, due[0].ID)

	// Failed attempt schedules a retry in the future; nothing is due.
	later := time.Now().Add(time.Hour)
	require.NoError(t, m.MarkWebhookDelivery(ctx, id, false, &later, "boom", 500, 12))
	due, _ = m.FetchDueWebhookDeliveries(ctx, 10)
	assert.Empty(t, due)

	// Dead-lettered deliveries never come back.
	require.NoError(t, m.FailWebhookDelivery(ctx, id, "gave up", 500, 9))
	due, _ = m.FetchDueWebhookDeliveries(ctx, 10)
	assert.Empty(t, due)

	// ...unless an operator requeues them.
	require.NoError(t, m.RetryWebhookDelivery(ctx, id))
	due, _ = m.FetchDueWebhookDeliveries(ctx, 10)
	assert.Len(t, due, 1)

	assert.ErrorIs(t, m.RetryWebhookDelivery(ctx, "missing"), ErrNotFound)
}

func TestMemoryListWebhookDeliveries(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	id1, _ := m.EnqueueWebhook(ctx, "sub1", "optimization.completed", "https://example.com/a", "", []byte(`{}`))
	id2, _ := m.EnqueueWebhook(ctx, "sub1", "optimization.failed", "https://example.com/b", "", []byte(`{}`))
	require.NoError(t, m.FailWebhookDelivery(ctx, id2, "gave up", 500, 3))

	all, _, err := m.ListWebhookDeliveries(ctx, "", "", 10)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, id1, all[0]["id"])
	assert.Equal(t, "pending", all[0]["status"])

	dead, _, err := m.ListWebhookDeliveries(ctx, "dead", "", 10)
	require.NoError(t, err)
	require.Len(t, dead, 1)
	assert.Equal(t, id2, dead[0]["id"])
	assert.Equal(t, "gave up", dead[0]["lastError"])
}
