package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/cashplace/escrow/internal/config"
	"github.com/cashplace/escrow/internal/events"
)

const (
	notificationQueueSize = 256
	webhookTimeout        = 5 * time.Second
)

// Deliverer sends one event to an external endpoint.
type Deliverer interface {
	Deliver(ctx context.Context, event events.Event) error
}

// NotificationService handles emitting notifications for domain events.
// Handlers only enqueue; Run delivers, so a slow webhook never holds a
// ticket lock.
type NotificationService struct {
	dispatcher events.Dispatcher
	logger     *zap.Logger
	deliverer  Deliverer
	queue      chan events.Event
}

// NewNotificationService creates the service. Without a webhook URL events
// are only logged.
func NewNotificationService(dispatcher events.Dispatcher, logger *zap.Logger, cfg config.NotificationConfig) *NotificationService {
	var deliverer Deliverer
	if url := strings.TrimSpace(cfg.WebhookURL); url != "" {
		deliverer = &WebhookDeliverer{URL: url, Timeout: webhookTimeout}
	}
	return NewNotificationServiceWithDeliverer(dispatcher, logger, deliverer)
}

// NewNotificationServiceWithDeliverer creates the service with a custom sink.
func NewNotificationServiceWithDeliverer(dispatcher events.Dispatcher, logger *zap.Logger, deliverer Deliverer) *NotificationService {
	return &NotificationService{
		dispatcher: dispatcher,
		logger:     logger.Named("notifications"),
		deliverer:  deliverer,
		queue:      make(chan events.Event, notificationQueueSize),
	}
}

// RegisterHandlers subscribes to events.
func (n *NotificationService) RegisterHandlers() {
	if n.dispatcher == nil {
		return
	}
	n.dispatcher.Subscribe(events.EventTicketCreated, n.handleTicketCreated)
	n.dispatcher.Subscribe(events.EventTicketStatusChanged, n.handleTicketStatusChanged)
	n.dispatcher.Subscribe(events.EventTicketDeleted, n.handleTicketDeleted)
}

func (n *NotificationService) handleTicketCreated(ctx context.Context, event events.Event) error {
	n.logger.Info("TicketCreated", zap.String("ticket_id", event.TicketID), zap.Any("payload", event.Payload))
	return n.enqueue(event)
}

func (n *NotificationService) handleTicketStatusChanged(ctx context.Context, event events.Event) error {
	n.logger.Info("TicketStatusChanged", zap.String("ticket_id", event.TicketID), zap.Any("payload", event.Payload))
	return n.enqueue(event)
}

func (n *NotificationService) handleTicketDeleted(ctx context.Context, event events.Event) error {
	n.logger.Warn("TicketDeleted", zap.String("ticket_id", event.TicketID), zap.Any("payload", event.Payload))
	return n.enqueue(event)
}

func (n *NotificationService) enqueue(event events.Event) error {
	if n.deliverer == nil {
		return nil
	}
	select {
	case n.queue <- event:
		return nil
	default:
		return fmt.Errorf("notification queue full, dropping %s for %s", event.Type, event.TicketID)
	}
}

// Run delivers queued events until ctx is done, then drains what is left.
func (n *NotificationService) Run(ctx context.Context) {
	for {
		select {
		case event := <-n.queue:
			n.deliver(ctx, event)
		case <-ctx.Done():
			n.drain()
			return
		}
	}
}

func (n *NotificationService) drain() {
	ctx, cancel := context.WithTimeout(context.Background(), webhookTimeout)
	defer cancel()
	for {
		select {
		case event := <-n.queue:
			n.deliver(ctx, event)
		default:
			return
		}
	}
}

func (n *NotificationService) deliver(ctx context.Context, event events.Event) {
	if err := n.deliverer.Deliver(ctx, event); err != nil {
		n.logger.Warn("notification delivery failed",
			zap.String("ticket_id", event.TicketID),
			zap.String("event_type", string(event.Type)),
			zap.Error(err))
		return
	}
	n.logger.Debug("notification delivered",
		zap.String("ticket_id", event.TicketID),
		zap.String("event_type", string(event.Type)))
}

// WebhookDeliverer POSTs events as JSON using fiber's HTTP client.
type WebhookDeliverer struct {
	URL     string
	Timeout time.Duration
}

// Deliver posts event and treats any non-2xx answer as a failure.
func (w *WebhookDeliverer) Deliver(ctx context.Context, event events.Event) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	timeout := w.Timeout
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining < timeout || timeout == 0 {
			timeout = remaining
		}
	}

	agent := fiber.Post(w.URL)
	agent.Set("X-Event-Type", string(event.Type))
	agent.ContentType(fiber.MIMEApplicationJSON)
	agent.Body(body)
	if timeout > 0 {
		agent.Timeout(timeout)
	}
	status, resp, errs := agent.Bytes()
	if len(errs) > 0 {
		return errs[0]
	}
	if status < fiber.StatusOK || status >= fiber.StatusMultipleChoices {
		return fmt.Errorf("webhook status %d: %s", status, strings.TrimSpace(string(resp)))
	}
	return nil
}
