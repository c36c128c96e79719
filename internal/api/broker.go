package api

import (
	"sync"

	"tourplan/internal/model"
)

// JobEvent is one job status update pushed to streaming listeners.
type JobEvent struct {
	Type   string                      `json:"type"`
	Status model.OptimizationJobStatus `json:"status"`
}

// EventBroker fans job status updates out to SSE and WebSocket clients.
type EventBroker interface {
	Subscribe(jobID string) chan JobEvent
	Unsubscribe(jobID string, ch chan JobEvent)
	Publish(jobID string, evt JobEvent)
}

// Broker is the in-memory EventBroker used when no REDIS_URL is set.
type Broker struct {
	mu   sync.Mutex
	subs map[string]map[chan JobEvent]struct{} // jobId -> set of channels
}

func NewBroker() *Broker {
	return &Broker{subs: map[string]map[chan JobEvent]struct{}{}}
}

func (b *Broker) Subscribe(jobID string) chan JobEvent {
	ch := make(chan JobEvent, 8)
	b.mu.Lock()
	if b.subs[jobID] == nil {
		b.subs[jobID] = map[chan JobEvent]struct{}{}
	}
	b.subs[jobID][ch] = struct{}{}
	b.mu.Unlock()
	return ch
}

func (b *Broker) Unsubscribe(jobID string, ch chan JobEvent) {
	b.mu.Lock()
	if m := b.subs[jobID]; m != nil {
		delete(m, ch)
		if len(m) == 0 {
			delete(b.subs, jobID)
		}
	}
	b.mu.Unlock()
	close(ch)
}

func (b *Broker) Publish(jobID string, evt JobEvent) {
	b.mu.Lock()
	for ch := range b.subs[jobID] {
		select {
		case ch <- evt:
		default: // slow listener, drop rather than block the job
		}
	}
	b.mu.Unlock()
}

// brokerNotifier adapts an EventBroker to the job runner's Notifier.
type brokerNotifier struct {
	broker EventBroker
}

func (n brokerNotifier) Publish(jobID string, status model.OptimizationJobStatus) {
	n.broker.Publish(jobID, JobEvent{Type: "job.status", Status: status})
}
