package service

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"

	"github.com/spec-kit/task-service/internal/config"
	"github.com/spec-kit/task-service/internal/events"
)

// ChannelPublisher relays serialized events to an external pub/sub channel.
type ChannelPublisher interface {
	Publish(ctx context.Context, channel string, payload []byte) error
}

// NotificationService relays domain events as notifications. Instead of a
// module-level listener array, interested consumers subscribe to the
// configured channel.
type NotificationService struct {
	dispatcher events.Dispatcher
	publisher  ChannelPublisher
	logger     *zap.Logger
	cfg        config.NotificationConfig
}

// NewNotificationService creates the service.
func NewNotificationService(dispatcher events.Dispatcher, publisher ChannelPublisher, logger *zap.Logger, cfg config.NotificationConfig) *NotificationService {
	return &NotificationService{
		dispatcher: dispatcher,
		publisher:  publisher,
		logger:     logger,
		cfg:        cfg,
	}
}

// RegisterHandlers subscribes to events.
func (n *NotificationService) RegisterHandlers() {
	if n.dispatcher == nil {
		return
	}
	n.dispatcher.Subscribe(events.EventUserRegistered, n.handleEvent)
	n.dispatcher.Subscribe(events.EventTaskCreated, n.handleEvent)
	n.dispatcher.Subscribe(events.EventTaskUpdated, n.handleEvent)
	n.dispatcher.Subscribe(events.EventTaskDeleted, n.handleEvent)
}

func (n *NotificationService) handleEvent(ctx context.Context, event events.Event) error {
	n.logger.Info("domain event",
		zap.String("type", string(event.Type)),
		zap.String("user_id", event.UserID),
		zap.Any("payload", event.Payload))

	if n.publisher == nil || n.cfg.Channel == "" {
		return nil
	}

	payload, err := json.Marshal(event)
	if err != nil {
		n.logger.Error("marshal event", zap.Error(err))
		return err
	}
	if err := n.publisher.Publish(ctx, n.cfg.Channel, payload); err != nil {
		// notification delivery is best effort; the mutation already succeeded
		n.logger.Warn("publish event", zap.Error(err))
	}
	return nil
}
