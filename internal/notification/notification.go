// Package notification delivers lifecycle events (media_buy.created,
// creative.approved, campaign.completed, ...) to tenant-configured endpoints.
// Delivery is fire-and-forget: a failed or slow endpoint never rolls back or
// delays the operation that raised the event.
package notification

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Endpoint is one delivery target owned by a tenant.
type Endpoint struct {
	ID       uuid.UUID `json:"id"`
	TenantID uuid.UUID `json:"tenant_id"`
	Name     string    `json:"name"`
	Kind     string    `json:"kind"` // "webhook" or "slack".
	URL      string    `json:"url"`
	Secret   string    `json:"-"` // Shared secret sent as X-Signature-Token.
	// Events filters delivery. Empty subscribes to everything.
	Events  []string `json:"events,omitempty"`
	Enabled bool     `json:"enabled"`
}

// subscribed reports whether the endpoint wants this event.
func (e *Endpoint) subscribed(event string) bool {
	if len(e.Events) == 0 {
		return true
	}
	for _, ev := range e.Events {
		if ev == event {
			return true
		}
	}
	return false
}

// EndpointStore is the persistence contract for notification endpoints.
type EndpointStore interface {
	Create(ctx context.Context, e *Endpoint) error
	Delete(ctx context.Context, tenantID, id uuid.UUID) error
	ListByTenant(ctx context.Context, tenantID uuid.UUID) ([]*Endpoint, error)
}

// Message is the event payload handed to senders.
type Message struct {
	Event     string         `json:"event"`
	TenantID  uuid.UUID      `json:"tenant_id"`
	Payload   map[string]any `json:"payload"`
	Timestamp time.Time      `json:"timestamp"`
}

// Sender delivers a message to one kind of endpoint.
type Sender interface {
	Kind() string
	Send(ctx context.Context, endpoint *Endpoint, msg *Message) error
}

// Dispatcher fans events out to every subscribed endpoint of the tenant.
type Dispatcher struct {
	store   EndpointStore
	logger  *slog.Logger
	timeout time.Duration
	metrics *Metrics

	mu      sync.RWMutex
	senders map[string]Sender

	wg sync.WaitGroup
}

// NewDispatcher creates a dispatcher. store may be nil (events are then
// logged and dropped).
func NewDispatcher(store EndpointStore, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		store:   store,
		logger:  logger,
		timeout: 10 * time.Second,
		senders: map[string]Sender{},
	}
}

// SetMetrics wires delivery counters. Optional; nil disables collection.
func (d *Dispatcher) SetMetrics(m *Metrics) { d.metrics = m }

// RegisterSender adds a delivery backend. Call at startup only.
func (d *Dispatcher) RegisterSender(s Sender) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.senders[s.Kind()] = s
}

// Publish delivers the event to all subscribed endpoints asynchronously.
// Implements the notifier contract used by the workflow and orchestrator.
func (d *Dispatcher) Publish(ctx context.Context, tenantID uuid.UUID, event string, payload map[string]any) {
	if d.store == nil {
		d.logger.DebugContext(ctx, "event with no endpoint store", "event", event, "tenant_id", tenantID)
		return
	}
	endpoints, err := d.store.ListByTenant(ctx, tenantID)
	if err != nil {
		d.logger.ErrorContext(ctx, "listing notification endpoints", "error", err, "tenant_id", tenantID)
		return
	}
	msg := &Message{
		Event:     event,
		TenantID:  tenantID,
		Payload:   payload,
		Timestamp: time.Now().UTC(),
	}
	for _, ep := range endpoints {
		if !ep.Enabled || !ep.subscribed(event) {
			continue
		}
		d.mu.RLock()
		sender, ok := d.senders[ep.Kind]
		d.mu.RUnlock()
		if !ok {
			d.logger.WarnContext(ctx, "no sender for endpoint kind", "kind", ep.Kind, "endpoint", ep.Name)
			continue
		}
		d.wg.Add(1)
		go func(ep *Endpoint) {
			defer d.wg.Done()
			// Detached context: the triggering request may already be done.
			sendCtx, cancel := context.WithTimeout(context.Background(), d.timeout)
			defer cancel()
			if err := sender.Send(sendCtx, ep, msg); err != nil {
				d.metrics.delivered(ep.Kind, "error")
				d.logger.Warn("notification delivery failed",
					"endpoint", ep.Name, "kind", ep.Kind, "event", event, "error", err)
				return
			}
			d.metrics.delivered(ep.Kind, "success")
			d.logger.Debug("notification delivered", "endpoint", ep.Name, "event", event)
		}(ep)
	}
}

// Flush waits for in-flight deliveries, for shutdown and tests.
func (d *Dispatcher) Flush() { d.wg.Wait() }
