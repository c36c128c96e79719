package api

import (
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/require"

	"tourplan/internal/model"
)

func TestRedisBrokerRoundTrip(t *testing.T) {
	mr := miniredis.RunT(t)

	b, err := NewRedisBroker("redis://" + mr.Addr())
	require.NoError(t, err)

	ch := b.Subscribe("job1")

	evt := JobEvent{
		Type: "job.status",
		Status: model.OptimizationJobStatus{
			JobID:              "job1",
			Status:             model.JobProcessing,
			ProgressPercentage: 50,
			CurrentStep:        "optimizing routes",
		},
	}
	b.Publish("job1", evt)

	select {
	case got := <-ch:
		require.Equal(t, "job.status", got.Type)
		require.Equal(t, model.JobProcessing, got.Status.Status)
		require.Equal(t, 50, got.Status.ProgressPercentage)
	case <-time.After(2 * time.Second):
		t.Fatal("no event received")
	}
}

func TestRedisBrokerUnsubscribeClosesChannel(t *testing.T) {
	mr := miniredis.RunT(t)

	b, err := NewRedisBroker("redis://" + mr.Addr())
	require.NoError(t, err)

	ch := b.Subscribe("job1")
	b.Unsubscribe("job1", ch)

	require.Eventually(t, func() bool {
		select {
		case _, open := <-ch:
			return !open
		default:
			return false
		}
	}, 2*time.Second, 10*time.Millisecond, "event channel must close after unsubscribe")
}

func TestRedisBrokerInvalidURL(t *testing.T) {
	_, err := NewRedisBroker("not a url")
	require.Error(t, err)
}
